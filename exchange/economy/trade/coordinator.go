package trade

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/economy/ids"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/economy/settlement"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/interfaces"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/protocol"
)

const (
	DefaultSlotCount = 6
	DefaultTimeout   = 5 * time.Minute
	DefaultMaxRange  = 10.0
	sweepTimeout     = 30 * time.Second
)

type Config struct {
	SlotCount     int
	Timeout       time.Duration
	MaxRange      float64
	SweepInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.SlotCount <= 0 {
		c.SlotCount = DefaultSlotCount
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRange <= 0 {
		c.MaxRange = DefaultMaxRange
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 15 * time.Second
	}
}

// Coordinator owns all live trade sessions. Every mutating operation is
// serialized on one lock: handlers re-validate current state under the
// lock before mutating, so back-to-back requests (cancel vs confirm)
// resolve by processing order and never by stale reads.
type Coordinator struct {
	mu       sync.Mutex
	cfg      Config
	idgen    *ids.Generator
	sessions map[snowflake.ID]*Session
	byPlayer map[snowflake.ID]snowflake.ID // player -> session id

	ledger    interfaces.CurrencyLedger
	inventory interfaces.InventoryStore
	locator   interfaces.PlayerLocator // nil disables the range check
	settler   *settlement.Service
	notifier  *Notifier

	sweepTicker *time.Ticker
	shutdown    chan struct{}
	stopOnce    sync.Once
}

func NewCoordinator(cfg Config, ledger interfaces.CurrencyLedger, inventory interfaces.InventoryStore, locator interfaces.PlayerLocator, settler *settlement.Service, notifier *Notifier) *Coordinator {
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
		panic("trade notifier cannot be nil")
	}
	cfg.applyDefaults()

	return &Coordinator{
		cfg:       cfg,
		idgen:     ids.NewGenerator(),
		sessions:  make(map[snowflake.ID]*Session),
		byPlayer:  make(map[snowflake.ID]snowflake.ID),
		ledger:    ledger,
		inventory: inventory,
		locator:   locator,
		settler:   settler,
		notifier:  notifier,
		shutdown:  make(chan struct{}),
	}
}

// RequestTrade opens a Pending session between requester and target.
// Nothing moves yet; both players are indexed immediately so neither
// can be pulled into a second trade while this one is open.
func (c *Coordinator) RequestTrade(ctx context.Context, requester, target snowflake.ID) (*Session, error) {
	if requester == target {
		return nil, protocol.InvalidRequest("you cannot trade with yourself")
	}

	if c.locator != nil {
		dist, err := c.locator.Distance(requester, target)
		if err != nil {
			return nil, protocol.PreconditionFailed("target player is not nearby")
		}
		if dist > c.cfg.MaxRange {
			return nil, protocol.PreconditionFailed("target player is out of range")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, busy := c.byPlayer[requester]; busy {
		return nil, protocol.PreconditionFailed("you are already trading")
	}
	if _, busy := c.byPlayer[target]; busy {
		return nil, protocol.PreconditionFailed("that player is already trading")
	}

	s := &Session{
		ID:           c.idgen.Next(),
		ParticipantA: requester,
		ParticipantB: target,
		Status:       StatusPending,
		OfferA:       newOffer(c.cfg.SlotCount),
		OfferB:       newOffer(c.cfg.SlotCount),
		StartTime:    time.Now(),
	}
	c.sessions[s.ID] = s
	c.byPlayer[requester] = s.ID
	c.byPlayer[target] = s.ID

	c.notifier.TradeRequested(target, requester, s.ID)

	slog.Info("Trade session created",
		slog.String("session_id", s.ID.String()),
		slog.String("requester", requester.String()),
		slog.String("target", target.String()))

	return s, nil
}

// AcceptTrade transitions the caller's pending session to Active. Only
// the addressed target may accept.
func (c *Coordinator) AcceptTrade(ctx context.Context, actor snowflake.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.sessionOf(actor)
	if err != nil {
		return err
	}
	if s.Status != StatusPending {
		return protocol.StateConflict("trade is no longer awaiting acceptance")
	}
	if actor != s.ParticipantB {
		return protocol.NotAuthorized("only the invited player can accept this trade")
	}

	s.Status = StatusActive
	c.notifier.TradeStarted(s)

	slog.Info("Trade session started",
		slog.String("session_id", s.ID.String()))

	return nil
}

// SetOfferItem mutates one slot of the actor's own offer. Any mutation
// resets both confirmation flags.
func (c *Coordinator) SetOfferItem(ctx context.Context, actor snowflake.ID, slot int, itemID, quantity int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.activeSessionOf(actor)
	if err != nil {
		return err
	}
	if slot < 0 || slot >= c.cfg.SlotCount {
		return protocol.InvalidRequest("invalid offer slot %d", slot)
	}

	offer := s.offerOf(actor)
	if itemID == 0 {
		offer.Slots[slot] = OfferSlot{}
	} else {
		if quantity <= 0 {
			return protocol.InvalidRequest("quantity must be positive")
		}
		has, err := c.inventory.Has(ctx, actor, itemID, quantity)
		if err != nil {
			return fmt.Errorf("failed to check inventory: %w", err)
		}
		if !has {
			return protocol.PreconditionFailed("you do not hold that many of this item")
		}
		offer.Slots[slot] = OfferSlot{ItemID: itemID, Quantity: quantity}
	}

	s.resetConfirmations()
	c.notifier.OfferUpdated(s)
	return nil
}

// SetOfferGold mutates the actor's offered gold amount.
func (c *Coordinator) SetOfferGold(ctx context.Context, actor snowflake.ID, amount int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.activeSessionOf(actor)
	if err != nil {
		return err
	}
	if amount < 0 {
		return protocol.InvalidRequest("gold amount cannot be negative")
	}

	balance, err := c.ledger.Balance(ctx, actor)
	if err != nil {
		return fmt.Errorf("failed to check balance: %w", err)
	}
	if amount > balance {
		return protocol.PreconditionFailed("insufficient gold (has %d, offered %d)", balance, amount)
	}

	s.offerOf(actor).Gold = amount
	s.resetConfirmations()
	c.notifier.OfferUpdated(s)
	return nil
}

// Confirm sets the actor's confirmation flag. When both flags are true
// the session settles immediately; confirmation alone commits nothing.
func (c *Coordinator) Confirm(ctx context.Context, actor snowflake.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.activeSessionOf(actor)
	if err != nil {
		return err
	}

	s.setConfirmed(actor, true)
	if !(s.ConfirmedA && s.ConfirmedB) {
		c.notifier.ConfirmPending(s, s.other(actor))
		return nil
	}

	if err := c.settler.ExecuteSwap(ctx,
		settlement.SwapLeg{PlayerID: s.ParticipantA, Items: offerStacks(s.OfferA), Gold: s.OfferA.Gold},
		settlement.SwapLeg{PlayerID: s.ParticipantB, Items: offerStacks(s.OfferB), Gold: s.OfferB.Gold},
	); err != nil {
		// The swap compensated itself; the session stays active with
		// confirmations cleared so both sides must re-approve.
		s.resetConfirmations()
		c.notifier.OfferUpdated(s)
		slog.Error("Trade settlement failed",
			slog.String("session_id", s.ID.String()),
			slog.String("error", err.Error()))
		return protocol.PreconditionFailed("trade could not be completed: %s", protocol.ReasonOf(err))
	}

	s.Status = StatusCompleted
	c.removeLocked(s)
	c.notifier.TradeCompleted(s)

	slog.Info("Trade session completed",
		slog.String("session_id", s.ID.String()),
		slog.String("participant_a", s.ParticipantA.String()),
		slog.String("participant_b", s.ParticipantB.String()))

	return nil
}

// Cancel ends the session unilaterally. Nothing was escrowed before
// settlement, so cancellation performs no economic mutation.
func (c *Coordinator) Cancel(ctx context.Context, actor snowflake.ID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.sessionOf(actor)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "trade cancelled"
	}
	c.cancelLocked(s, reason)
	return nil
}

// SessionOf returns the actor's current session, for request handlers
// that need to render state.
func (c *Coordinator) SessionOf(actor snowflake.ID) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionOf(actor)
}

// StartSweeper begins the timeout sweep. Sessions older than the
// configured timeout are force-cancelled with no economic effect.
func (c *Coordinator) StartSweeper() {
	c.sweepTicker = time.NewTicker(c.cfg.SweepInterval)
	go func() {
		defer c.sweepTicker.Stop()
		for {
			select {
			case <-c.sweepTicker.C:
				ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
				c.SweepExpired(ctx)
				cancel()
			case <-c.shutdown:
				return
			}
		}
	}()
}

// SweepExpired cancels every session whose start time exceeds the
// timeout. Exported so tests can drive the sweep directly.
func (c *Coordinator) SweepExpired(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for _, s := range c.sessions {
		if now.Sub(s.StartTime) < c.cfg.Timeout {
			continue
		}
		slog.Info("Trade session timed out",
			slog.String("session_id", s.ID.String()),
			slog.Duration("age", now.Sub(s.StartTime)))
		c.cancelLocked(s, "trade timed out")
	}
}

func (c *Coordinator) Shutdown() {
	c.stopOnce.Do(func() {
		close(c.shutdown)
	})
}

func (c *Coordinator) sessionOf(actor snowflake.ID) (*Session, error) {
	id, ok := c.byPlayer[actor]
	if !ok {
		return nil, protocol.NoSuchEntity("you are not in a trade")
	}
	s, ok := c.sessions[id]
	if !ok || !s.isParticipant(actor) {
		// Stale index entry; clean it up rather than handing the actor
		// someone else's session.
		delete(c.byPlayer, actor)
		return nil, protocol.NoSuchEntity("you are not in a trade")
	}
	return s, nil
}

func (c *Coordinator) activeSessionOf(actor snowflake.ID) (*Session, error) {
	s, err := c.sessionOf(actor)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusActive {
		return nil, protocol.StateConflict("trade is not active")
	}
	return s, nil
}

func (c *Coordinator) cancelLocked(s *Session, reason string) {
	s.Status = StatusCancelled
	c.removeLocked(s)
	c.notifier.TradeCancelled(s, reason)
}

func (c *Coordinator) removeLocked(s *Session) {
	delete(c.sessions, s.ID)
	delete(c.byPlayer, s.ParticipantA)
	delete(c.byPlayer, s.ParticipantB)
}

func offerStacks(o Offer) []settlement.ItemStack {
	var stacks []settlement.ItemStack
	for _, sl := range o.Slots {
		if sl.Empty() {
			continue
		}
		stacks = append(stacks, settlement.ItemStack{ItemID: sl.ItemID, Quantity: sl.Quantity})
	}
	return stacks
}
