package auction

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sahilm/fuzzy"

	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/economy/ids"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/economy/settlement"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/interfaces"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/protocol"
)

const (
	// MinBidStep is how much a new bid must exceed the current one.
	MinBidStep = 1
	// MinListingCommission floors the listing-time deposit.
	MinListingCommission = 1

	settledCacheSize = 4096
	pageSize         = 10
)

// ItemCatalog resolves item display metadata for listings.
type ItemCatalog interface {
	ItemName(itemID int64) (string, bool)
}

type Config struct {
	MaxListingsPerSeller int
	ListingCommission    float64 // rate on start price, debited at creation
	SaleCommission       float64 // rate on sale price, deducted at settlement
	Durations            []time.Duration
	SweepInterval        time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxListingsPerSeller <= 0 {
		c.MaxListingsPerSeller = 10
	}
	if c.ListingCommission <= 0 {
		c.ListingCommission = 0.05
	}
	if c.SaleCommission <= 0 {
		c.SaleCommission = 0.05
	}
	if len(c.Durations) == 0 {
		c.Durations = []time.Duration{2 * time.Hour, 8 * time.Hour, 24 * time.Hour}
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 15 * time.Second
	}
}

// Manager owns the listing registry. Like the trade coordinator, every
// mutating operation re-validates under one lock, so a bid and a buyout
// racing on the same listing resolve strictly by processing order.
type Manager struct {
	mu           sync.Mutex
	cfg          Config
	idgen        *ids.Generator
	listings     map[snowflake.ID]*Listing
	sellerCounts map[snowflake.ID]int

	// settled remembers listing ids that already went through
	// settlement so a repeated sweep over the same tick can never
	// settle a listing twice.
	settled *lru.Cache

	ledger    interfaces.CurrencyLedger
	inventory interfaces.InventoryStore
	catalog   ItemCatalog
	settler   *settlement.Service
	notifier  *Notifier
}

func NewManager(cfg Config, ledger interfaces.CurrencyLedger, inventory interfaces.InventoryStore, catalog ItemCatalog, settler *settlement.Service, notifier *Notifier) *Manager {
	if ledger == nil {
		panic("currency ledger cannot be nil")
	}
	if inventory == nil {
		panic("inventory store cannot be nil")
	}
	if settler == nil {
		panic("settlement service cannot be nil")
	}
	if notifier == nil {
		panic("auction notifier cannot be nil")
	}
	cfg.applyDefaults()

	settled, err := lru.New(settledCacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create settled-listing cache: %v", err))
	}

	return &Manager{
		cfg:          cfg,
		idgen:        ids.NewGenerator(),
		listings:     make(map[snowflake.ID]*Listing),
		sellerCounts: make(map[snowflake.ID]int),
		settled:      settled,
		ledger:       ledger,
		inventory:    inventory,
		catalog:      catalog,
		settler:      settler,
		notifier:     notifier,
	}
}

// ListingCommission computes the non-refundable deposit taken when a
// listing is created, sized from the start price.
func ListingCommission(startPrice int64, rate float64) int64 {
	c := int64(float64(startPrice) * rate)
	if c < MinListingCommission {
		c = MinListingCommission
	}
	return c
}

// CreateListing posts an item for auction. The seller pays the listing
// commission up front and the item is held aside for the listing's
// duration.
func (m *Manager) CreateListing(ctx context.Context, seller snowflake.ID, itemID, quantity, startPrice, buyoutPrice int64, duration time.Duration) (*Listing, error) {
	if startPrice <= 0 {
		return nil, protocol.InvalidRequest("start price must be positive")
	}
	if buyoutPrice != 0 && buyoutPrice < startPrice {
		return nil, protocol.InvalidRequest("buyout price cannot be below the start price")
	}
	if quantity <= 0 {
		return nil, protocol.InvalidRequest("quantity must be positive")
	}
	if !m.allowedDuration(duration) {
		return nil, protocol.InvalidRequest("invalid listing duration")
	}

	itemName := fmt.Sprintf("Item #%d", itemID)
	if m.catalog != nil {
		name, ok := m.catalog.ItemName(itemID)
		if !ok {
			return nil, protocol.InvalidRequest("unknown item")
		}
		itemName = name
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sellerCounts[seller] >= m.cfg.MaxListingsPerSeller {
		return nil, protocol.PreconditionFailed("you have too many active listings")
	}

	has, err := m.inventory.Has(ctx, seller, itemID, quantity)
	if err != nil {
		return nil, fmt.Errorf("failed to check inventory: %w", err)
	}
	if !has {
		return nil, protocol.PreconditionFailed("you do not hold that many of this item")
	}

	commission := ListingCommission(startPrice, m.cfg.ListingCommission)
	balance, err := m.ledger.Balance(ctx, seller)
	if err != nil {
		return nil, fmt.Errorf("failed to check balance: %w", err)
	}
	if balance < commission {
		return nil, protocol.PreconditionFailed("insufficient gold for the listing commission (%d required)", commission)
	}

	if err := m.ledger.ChangeGold(ctx, seller, -commission); err != nil {
		return nil, fmt.Errorf("failed to take listing commission: %w", err)
	}

	// Hold the item aside. The commission stays taken even if the
	// listing later expires unsold; it is the cost of listing. But a
	// listing that never existed must not cost anything.
	if err := m.inventory.Remove(ctx, seller, itemID, quantity); err != nil {
		if gerr := m.settler.GrantGold(ctx, seller, commission, "Listing failed", "Your listing could not be created; the commission was returned."); gerr != nil {
			slog.Error("Failed to return commission after listing failure",
				slog.String("seller_id", seller.String()),
				slog.String("error", gerr.Error()))
		}
		return nil, fmt.Errorf("failed to hold item for listing: %w", err)
	}

	l := &Listing{
		ID:          m.idgen.Next(),
		SellerID:    seller,
		ItemID:      itemID,
		ItemName:    itemName,
		Quantity:    quantity,
		StartPrice:  startPrice,
		BuyoutPrice: buyoutPrice,
		EndTime:     time.Now().Add(duration),
		Active:      true,
		CreatedAt:   time.Now(),
	}
	m.listings[l.ID] = l
	m.sellerCounts[seller]++

	m.notifier.ListingCreated(l)

	slog.Info("Listing created",
		slog.String("listing_id", l.ID.String()),
		slog.String("seller_id", seller.String()),
		slog.Int64("item_id", itemID),
		slog.Int64("start_price", startPrice),
		slog.Int64("commission", commission),
		slog.Duration("duration", duration))

	return l, nil
}

// PlaceBid escrows the bid amount by debiting the bidder immediately and
// refunds the previous highest bidder in full.
func (m *Manager) PlaceBid(ctx context.Context, bidder snowflake.ID, listingID snowflake.ID, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := m.activeListing(listingID)
	if err != nil {
		return err
	}
	if l.SellerID == bidder {
		return protocol.NotAuthorized("you cannot bid on your own listing")
	}
	if l.HighestBidderID == bidder {
		return protocol.PreconditionFailed("you are already the highest bidder")
	}

	if min := l.minBid(MinBidStep); amount < min {
		return protocol.PreconditionFailed("bid must be at least %d", min)
	}

	balance, err := m.ledger.Balance(ctx, bidder)
	if err != nil {
		return fmt.Errorf("failed to check balance: %w", err)
	}
	if balance < amount {
		return protocol.PreconditionFailed("insufficient gold (has %d, bid %d)", balance, amount)
	}

	// Escrow-by-debit: take the new bid, then release the previous
	// bidder's escrow. The refund cannot fail outright because it
	// falls back to mail.
	if err := m.ledger.ChangeGold(ctx, bidder, -amount); err != nil {
		return fmt.Errorf("failed to take bid amount: %w", err)
	}

	previousBidder := l.HighestBidderID
	previousBid := l.HighestBid
	if previousBidder != 0 {
		if err := m.settler.GrantGold(ctx, previousBidder, previousBid,
			"Outbid",
			fmt.Sprintf("You were outbid on %s; your bid of %d gold was refunded.", l.ItemName, previousBid),
		); err != nil {
			// Give the new bidder their money back and abort; the
			// previous escrow is still intact.
			if gerr := m.settler.GrantGold(ctx, bidder, amount, "Bid failed", "Your bid could not be placed; the gold was returned."); gerr != nil {
				slog.Error("Failed to return bid after refund failure",
					slog.String("bidder_id", bidder.String()),
					slog.String("error", gerr.Error()))
			}
			return fmt.Errorf("failed to refund previous bidder: %w", err)
		}
	}

	l.HighestBidderID = bidder
	l.HighestBid = amount

	m.notifier.BidPlaced(l, bidder, amount)
	if previousBidder != 0 {
		m.notifier.Outbid(l, previousBidder, previousBid)
	}

	slog.Info("Bid placed",
		slog.String("listing_id", l.ID.String()),
		slog.String("bidder_id", bidder.String()),
		slog.Int64("amount", amount),
		slog.Int64("previous_bid", previousBid))

	return nil
}

// Buyout closes the listing immediately at the buyout price.
func (m *Manager) Buyout(ctx context.Context, buyer snowflake.ID, listingID snowflake.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := m.activeListing(listingID)
	if err != nil {
		return err
	}
	if l.BuyoutPrice == 0 {
		return protocol.PreconditionFailed("this listing has no buyout price")
	}
	if l.SellerID == buyer {
		return protocol.NotAuthorized("you cannot buy out your own listing")
	}

	balance, err := m.ledger.Balance(ctx, buyer)
	if err != nil {
		return fmt.Errorf("failed to check balance: %w", err)
	}
	if balance < l.BuyoutPrice {
		return protocol.PreconditionFailed("insufficient gold (has %d, needs %d)", balance, l.BuyoutPrice)
	}

	if err := m.ledger.ChangeGold(ctx, buyer, -l.BuyoutPrice); err != nil {
		return fmt.Errorf("failed to take buyout amount: %w", err)
	}

	if l.HighestBidderID != 0 {
		if err := m.settler.GrantGold(ctx, l.HighestBidderID, l.HighestBid,
			"Outbid",
			fmt.Sprintf("%s was bought out; your bid of %d gold was refunded.", l.ItemName, l.HighestBid),
		); err != nil {
			if gerr := m.settler.GrantGold(ctx, buyer, l.BuyoutPrice, "Buyout failed", "Your buyout could not be completed; the gold was returned."); gerr != nil {
				slog.Error("Failed to return buyout after refund failure",
					slog.String("buyer_id", buyer.String()),
					slog.String("error", gerr.Error()))
			}
			return fmt.Errorf("failed to refund previous bidder: %w", err)
		}
		m.notifier.Outbid(l, l.HighestBidderID, l.HighestBid)
	}

	m.deactivateLocked(l)
	m.settleLocked(ctx, l, buyer, l.BuyoutPrice)
	return nil
}

// CancelListing withdraws an unbid listing and returns the held item.
func (m *Manager) CancelListing(ctx context.Context, seller snowflake.ID, listingID snowflake.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, err := m.activeListing(listingID)
	if err != nil {
		return err
	}
	if l.SellerID != seller {
		return protocol.NotAuthorized("only the seller can cancel this listing")
	}
	if l.HighestBidderID != 0 {
		return protocol.PreconditionFailed("listings with bids cannot be cancelled")
	}

	m.deactivateLocked(l)
	m.returnItemLocked(ctx, l, "Listing cancelled",
		fmt.Sprintf("Your listing for %s was cancelled; the item was returned.", l.ItemName))
	m.notifier.Expired(l, "listing cancelled")

	slog.Info("Listing cancelled",
		slog.String("listing_id", l.ID.String()),
		slog.String("seller_id", seller.String()))

	return nil
}

// SweepExpired resolves every listing past its end time: sale at the
// highest bid, or return to the seller. Each listing settles exactly
// once; a failure on one listing is logged and does not block the rest.
func (m *Manager) SweepExpired(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, l := range m.listings {
		if !l.Active || !l.expired(now) {
			continue
		}
		if m.settled.Contains(l.ID) {
			continue
		}

		m.deactivateLocked(l)

		if l.HighestBidderID != 0 {
			m.settleLocked(ctx, l, l.HighestBidderID, l.HighestBid)
		} else {
			m.returnItemLocked(ctx, l, "Listing expired",
				fmt.Sprintf("Your listing for %s expired with no bids; the item was returned.", l.ItemName))
			m.notifier.Expired(l, "no bids")
			slog.Info("Listing expired unsold",
				slog.String("listing_id", l.ID.String()),
				slog.String("seller_id", l.SellerID.String()))
		}
	}
}

// Listings returns one page of active listings, optionally filtered by a
// fuzzy item-name query, ordered by soonest-ending first.
func (m *Manager) Listings(query string, page int) ([]protocol.ListingView, int) {
	// Snapshot into view values while holding the lock; listings keep
	// mutating under bids and sweeps after it is released.
	m.mu.Lock()
	now := time.Now()
	views := make([]protocol.ListingView, 0, len(m.listings))
	for _, l := range m.listings {
		if l.Active && !l.expired(now) {
			views = append(views, l.view())
		}
	}
	m.mu.Unlock()

	if query != "" {
		matches := fuzzy.FindFrom(query, viewSource(views))
		filtered := make([]protocol.ListingView, 0, len(matches))
		for _, match := range matches {
			filtered = append(filtered, views[match.Index])
		}
		views = filtered
	}

	sort.Slice(views, func(i, j int) bool {
		if views[i].EndsAt == views[j].EndsAt {
			return views[i].ListingID < views[j].ListingID
		}
		return views[i].EndsAt < views[j].EndsAt
	})

	totalPages := (len(views) + pageSize - 1) / pageSize
	if totalPages == 0 {
		totalPages = 1
	}
	if page < 0 {
		page = 0
	}
	if page >= totalPages {
		page = totalPages - 1
	}

	start := page * pageSize
	end := start + pageSize
	if end > len(views) {
		end = len(views)
	}

	return views[start:end], totalPages
}

// Get returns the wire view of a single listing.
func (m *Manager) Get(listingID snowflake.ID) (protocol.ListingView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[listingID]
	if !ok {
		return protocol.ListingView{}, protocol.NoSuchEntity("listing not found")
	}
	return l.view(), nil
}

func (m *Manager) activeListing(listingID snowflake.ID) (*Listing, error) {
	l, ok := m.listings[listingID]
	if !ok {
		return nil, protocol.NoSuchEntity("listing not found")
	}
	if !l.Active {
		return nil, protocol.StateConflict("listing is no longer active")
	}
	if l.expired(time.Now()) {
		return nil, protocol.StateConflict("listing has expired")
	}
	return l, nil
}

// deactivateLocked retires a listing and records it in the settled
// cache so no sweep can touch it again.
func (m *Manager) deactivateLocked(l *Listing) {
	l.Active = false
	m.settled.Add(l.ID, struct{}{})
	if m.sellerCounts[l.SellerID] > 0 {
		m.sellerCounts[l.SellerID]--
	}
}

// settleLocked runs the shared settlement path for a sold listing. The
// buyer's currency was already collected when the bid or buyout was
// taken.
func (m *Manager) settleLocked(ctx context.Context, l *Listing, buyer snowflake.ID, salePrice int64) {
	proceeds, err := m.settler.CloseSale(ctx, l.SellerID, buyer,
		settlement.ItemStack{ItemID: l.ItemID, Quantity: l.Quantity},
		l.ItemName, salePrice, m.cfg.SaleCommission)
	if err != nil {
		slog.Error("Failed to settle listing",
			slog.String("listing_id", l.ID.String()),
			slog.String("buyer_id", buyer.String()),
			slog.Int64("sale_price", salePrice),
			slog.String("error", err.Error()))
		return
	}

	m.notifier.Won(l, buyer, salePrice)
	m.notifier.Sold(l, salePrice, proceeds)

	slog.Info("Listing sold",
		slog.String("listing_id", l.ID.String()),
		slog.String("seller_id", l.SellerID.String()),
		slog.String("buyer_id", buyer.String()),
		slog.Int64("sale_price", salePrice),
		slog.Int64("proceeds", proceeds))
}

// returnItemLocked sends the held-aside item back to the seller. Mail
// fallback guarantees delivery even with a full inventory.
func (m *Manager) returnItemLocked(ctx context.Context, l *Listing, subject, body string) {
	if err := m.settler.DeliverItem(ctx, l.SellerID,
		settlement.ItemStack{ItemID: l.ItemID, Quantity: l.Quantity},
		subject, body,
	); err != nil {
		slog.Error("Failed to return listing item to seller",
			slog.String("listing_id", l.ID.String()),
			slog.String("seller_id", l.SellerID.String()),
			slog.String("error", err.Error()))
	}
}

func (m *Manager) allowedDuration(d time.Duration) bool {
	for _, allowed := range m.cfg.Durations {
		if d == allowed {
			return true
		}
	}
	return false
}

type viewSource []protocol.ListingView

func (s viewSource) String(i int) string { return s[i].ItemName }
func (s viewSource) Len() int            { return len(s) }
