package settlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/disgoorg/snowflake/v2"

	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/interfaces"
)

// ItemStack is a quantity of one item moving between parties.
type ItemStack struct {
	ItemID   int64
	Quantity int64
}

func (s ItemStack) Empty() bool {
	return s.ItemID == 0 || s.Quantity <= 0
}

// Service is the shared settlement path used by both the trade
// coordinator and the auction lifecycle. Every grant of currency or
// items to a possibly-offline or possibly-full-inventory party goes
// through here so the mail fallback is applied uniformly.
type Service struct {
	ledger    interfaces.CurrencyLedger
	inventory interfaces.InventoryStore
	mail      interfaces.MailService
}

func New(ledger interfaces.CurrencyLedger, inventory interfaces.InventoryStore, mail interfaces.MailService) *Service {
	if ledger == nil {
		panic("currency ledger cannot be nil")
	}
	if inventory == nil {
		panic("inventory store cannot be nil")
	}
	if mail == nil {
		panic("mail service cannot be nil")
	}
	return &Service{ledger: ledger, inventory: inventory, mail: mail}
}

// SaleCommission computes the sale-time cut taken from the seller's
// proceeds. The rate applies to the final sale price, not the start
// price (the listing-time deposit is separate and non-refundable).
func SaleCommission(salePrice int64, rate float64) int64 {
	c := int64(float64(salePrice) * rate)
	if c < 0 {
		c = 0
	}
	if c > salePrice {
		c = salePrice
	}
	return c
}

// DeliverItem places a stack into the player's inventory, routing
// through mail when the inventory has no room. A dropped item is never
// acceptable: if both paths fail the error is returned for the caller
// to retry.
func (s *Service) DeliverItem(ctx context.Context, playerID snowflake.ID, stack ItemStack, subject, body string) error {
	if stack.Empty() {
		return nil
	}

	ok, err := s.inventory.TryAdd(ctx, playerID, stack.ItemID, stack.Quantity)
	if err == nil && ok {
		return nil
	}
	if err != nil {
		slog.Warn("Direct item delivery failed, falling back to mail",
			slog.String("player_id", playerID.String()),
			slog.Int64("item_id", stack.ItemID),
			slog.String("error", err.Error()))
	}

	if err := s.mail.SendSystemReward(ctx, playerID, subject, body, interfaces.Attachment{
		ItemID:   stack.ItemID,
		Quantity: stack.Quantity,
	}); err != nil {
		return fmt.Errorf("failed to deliver item %d to player %s: %w", stack.ItemID, playerID, err)
	}
	return nil
}

// GrantGold credits the player's ledger, routing through mail when the
// direct credit fails. Used for sale proceeds and mandatory refunds.
func (s *Service) GrantGold(ctx context.Context, playerID snowflake.ID, amount int64, subject, body string) error {
	if amount <= 0 {
		return nil
	}

	err := s.ledger.ChangeGold(ctx, playerID, amount)
	if err == nil {
		return nil
	}
	slog.Warn("Direct gold credit failed, falling back to mail",
		slog.String("player_id", playerID.String()),
		slog.Int64("amount", amount),
		slog.String("error", err.Error()))

	if err := s.mail.SendSystemReward(ctx, playerID, subject, body, interfaces.Attachment{
		Gold: amount,
	}); err != nil {
		return fmt.Errorf("failed to grant %d gold to player %s: %w", amount, playerID, err)
	}
	return nil
}

// CloseSale settles an auction sale: the seller is credited the sale
// price minus the sale commission and the item goes to the buyer,
// directly or by mail. The currency was already collected from the
// buyer when the bid or buyout was taken. Returns the seller proceeds.
func (s *Service) CloseSale(ctx context.Context, sellerID, buyerID snowflake.ID, stack ItemStack, itemName string, salePrice int64, commissionRate float64) (int64, error) {
	commission := SaleCommission(salePrice, commissionRate)
	proceeds := salePrice - commission

	if err := s.GrantGold(ctx, sellerID, proceeds,
		"Auction sold",
		fmt.Sprintf("Your auction for %s sold for %d gold (%d after commission).", itemName, salePrice, proceeds),
	); err != nil {
		return 0, fmt.Errorf("failed to credit seller: %w", err)
	}

	if err := s.DeliverItem(ctx, buyerID, stack,
		"Auction won",
		fmt.Sprintf("You won the auction for %s at %d gold.", itemName, salePrice),
	); err != nil {
		return 0, fmt.Errorf("failed to deliver item to buyer: %w", err)
	}

	slog.Info("Sale settled",
		slog.String("seller_id", sellerID.String()),
		slog.String("buyer_id", buyerID.String()),
		slog.Int64("item_id", stack.ItemID),
		slog.Int64("sale_price", salePrice),
		slog.Int64("commission", commission))

	return proceeds, nil
}

// SwapLeg is one side of a live trade settlement.
type SwapLeg struct {
	PlayerID snowflake.ID
	Items    []ItemStack
	Gold     int64
}

// ExecuteSwap performs the two-way simultaneous exchange of a live
// trade. Both legs' items and gold move in one logical step: the
// collection phase (removals and debits) can fail and is compensated
// symmetrically so no partial swap is ever observable; once collection
// succeeds, the grant phase cannot lose value because every credit and
// delivery falls back to mail.
func (s *Service) ExecuteSwap(ctx context.Context, legA, legB SwapLeg) error {
	var removedA, removedB []ItemStack

	restore := func(playerID snowflake.ID, stacks []ItemStack) {
		for _, st := range stacks {
			if err := s.DeliverItem(ctx, playerID, st, "Trade rolled back", "Your trade could not be completed; the items were returned."); err != nil {
				slog.Error("Failed to restore item during swap rollback",
					slog.String("player_id", playerID.String()),
					slog.Int64("item_id", st.ItemID),
					slog.String("error", err.Error()))
			}
		}
	}

	// Collection phase: take both sides' items and gold.
	for _, st := range legA.Items {
		if st.Empty() {
			continue
		}
		if err := s.inventory.Remove(ctx, legA.PlayerID, st.ItemID, st.Quantity); err != nil {
			restore(legA.PlayerID, removedA)
			return fmt.Errorf("failed to collect items from %s: %w", legA.PlayerID, err)
		}
		removedA = append(removedA, st)
	}
	for _, st := range legB.Items {
		if st.Empty() {
			continue
		}
		if err := s.inventory.Remove(ctx, legB.PlayerID, st.ItemID, st.Quantity); err != nil {
			restore(legB.PlayerID, removedB)
			restore(legA.PlayerID, removedA)
			return fmt.Errorf("failed to collect items from %s: %w", legB.PlayerID, err)
		}
		removedB = append(removedB, st)
	}

	if legA.Gold > 0 {
		if err := s.ledger.ChangeGold(ctx, legA.PlayerID, -legA.Gold); err != nil {
			restore(legB.PlayerID, removedB)
			restore(legA.PlayerID, removedA)
			return fmt.Errorf("failed to collect gold from %s: %w", legA.PlayerID, err)
		}
	}
	if legB.Gold > 0 {
		if err := s.ledger.ChangeGold(ctx, legB.PlayerID, -legB.Gold); err != nil {
			if legA.Gold > 0 {
				if gerr := s.GrantGold(ctx, legA.PlayerID, legA.Gold, "Trade rolled back", "Your trade could not be completed; the gold was returned."); gerr != nil {
					slog.Error("Failed to restore gold during swap rollback",
						slog.String("player_id", legA.PlayerID.String()),
						slog.String("error", gerr.Error()))
				}
			}
			restore(legB.PlayerID, removedB)
			restore(legA.PlayerID, removedA)
			return fmt.Errorf("failed to collect gold from %s: %w", legB.PlayerID, err)
		}
	}

	// Grant phase: cross-deliver. Mail fallback makes these must-not-fail.
	if err := s.GrantGold(ctx, legB.PlayerID, legA.Gold, "Trade completed", "Gold received from your trade."); err != nil {
		return err
	}
	if err := s.GrantGold(ctx, legA.PlayerID, legB.Gold, "Trade completed", "Gold received from your trade."); err != nil {
		return err
	}
	for _, st := range removedA {
		if err := s.DeliverItem(ctx, legB.PlayerID, st, "Trade completed", "Item received from your trade."); err != nil {
			return err
		}
	}
	for _, st := range removedB {
		if err := s.DeliverItem(ctx, legA.PlayerID, st, "Trade completed", "Item received from your trade."); err != nil {
			return err
		}
	}

	slog.Info("Trade swap settled",
		slog.String("player_a", legA.PlayerID.String()),
		slog.String("player_b", legB.PlayerID.String()),
		slog.Int64("gold_a", legA.Gold),
		slog.Int64("gold_b", legB.Gold),
		slog.Int("items_a", len(removedA)),
		slog.Int("items_b", len(removedB)))

	return nil
}
