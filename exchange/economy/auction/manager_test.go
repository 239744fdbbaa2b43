package auction

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/economy/settlement"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/interfaces"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/protocol"
)

type fakeLedger struct {
	balances map[snowflake.ID]int64
}

func (l *fakeLedger) Balance(_ context.Context, playerID snowflake.ID) (int64, error) {
	return l.balances[playerID], nil
}

func (l *fakeLedger) ChangeGold(_ context.Context, playerID snowflake.ID, delta int64) error {
	if l.balances[playerID]+delta < 0 {
		return fmt.Errorf("insufficient gold")
	}
	l.balances[playerID] += delta
	return nil
}

type fakeInventory struct {
	items map[snowflake.ID]map[int64]int64
}

func (inv *fakeInventory) set(playerID snowflake.ID, itemID, quantity int64) {
	if inv.items[playerID] == nil {
		inv.items[playerID] = make(map[int64]int64)
	}
	inv.items[playerID][itemID] = quantity
}

func (inv *fakeInventory) Has(_ context.Context, playerID snowflake.ID, itemID, quantity int64) (bool, error) {
	return inv.items[playerID][itemID] >= quantity, nil
}

func (inv *fakeInventory) TryAdd(_ context.Context, playerID snowflake.ID, itemID, quantity int64) (bool, error) {
	inv.set(playerID, itemID, inv.items[playerID][itemID]+quantity)
	return true, nil
}

func (inv *fakeInventory) Remove(_ context.Context, playerID snowflake.ID, itemID, quantity int64) error {
	if inv.items[playerID][itemID] < quantity {
		return fmt.Errorf("insufficient items")
	}
	inv.items[playerID][itemID] -= quantity
	return nil
}

type fakeMail struct {
	count int
}

func (m *fakeMail) SendSystemReward(_ context.Context, _ snowflake.ID, _, _ string, _ interfaces.Attachment) error {
	m.count++
	return nil
}

type fakeCatalog struct {
	names map[int64]string
}

func (c *fakeCatalog) ItemName(itemID int64) (string, bool) {
	name, ok := c.names[itemID]
	return name, ok
}

type fakePusher struct{}

func (p *fakePusher) Push(_ snowflake.ID, _ protocol.Notification) {}

type testEnv struct {
	mgr    *Manager
	ledger *fakeLedger
	inv    *fakeInventory
	mail   *fakeMail
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	if len(cfg.Durations) == 0 {
		cfg.Durations = []time.Duration{time.Hour}
	}
	ledger := &fakeLedger{balances: make(map[snowflake.ID]int64)}
	inv := &fakeInventory{items: make(map[snowflake.ID]map[int64]int64)}
	mail := &fakeMail{}
	catalog := &fakeCatalog{names: map[int64]string{
		42: "Iron Sword",
		43: "Oak Shield",
		44: "Iron Helmet",
	}}
	settler := settlement.New(ledger, inv, mail)
	mgr := NewManager(cfg, ledger, inv, catalog, settler, NewNotifier(&fakePusher{}))
	return &testEnv{mgr: mgr, ledger: ledger, inv: inv, mail: mail}
}

func mustCreate(t *testing.T, env *testEnv, seller snowflake.ID, itemID, startPrice, buyoutPrice int64) *Listing {
	t.Helper()
	l, err := env.mgr.CreateListing(context.Background(), seller, itemID, 1, startPrice, buyoutPrice, time.Hour)
	if err != nil {
		t.Fatalf("CreateListing() error = %v", err)
	}
	return l
}

func TestCreateListing(t *testing.T) {
	env := newTestEnv(t, Config{ListingCommission: 0.05})
	env.ledger.balances[1] = 1000
	env.inv.set(1, 42, 1)

	l := mustCreate(t, env, 1, 42, 200, 0)

	if l.ItemName != "Iron Sword" {
		t.Errorf("item name = %q, want Iron Sword", l.ItemName)
	}
	// Commission of max(1, 200*0.05) = 10 debited, item held aside.
	if got := env.ledger.balances[1]; got != 990 {
		t.Errorf("seller balance = %d, want 990", got)
	}
	if got := env.inv.items[1][42]; got != 0 {
		t.Errorf("seller item 42 = %d, want 0", got)
	}
}

func TestCreateListing_Validation(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.ledger.balances[1] = 1000
	env.inv.set(1, 42, 1)

	tests := []struct {
		name     string
		itemID   int64
		quantity int64
		start    int64
		buyout   int64
		duration time.Duration
		wantCode string
	}{
		{name: "zero start price", itemID: 42, quantity: 1, start: 0, duration: time.Hour, wantCode: protocol.ErrInvalidRequest},
		{name: "buyout below start", itemID: 42, quantity: 1, start: 100, buyout: 50, duration: time.Hour, wantCode: protocol.ErrInvalidRequest},
		{name: "bad duration", itemID: 42, quantity: 1, start: 100, duration: 3 * time.Hour, wantCode: protocol.ErrInvalidRequest},
		{name: "unknown item", itemID: 999, quantity: 1, start: 100, duration: time.Hour, wantCode: protocol.ErrInvalidRequest},
		{name: "item not held", itemID: 43, quantity: 1, start: 100, duration: time.Hour, wantCode: protocol.ErrPreconditionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.mgr.CreateListing(context.Background(), 1, tt.itemID, tt.quantity, tt.start, tt.buyout, tt.duration)
			if code := protocol.CodeOf(err); code != tt.wantCode {
				t.Errorf("code = %s, want %s", code, tt.wantCode)
			}
		})
	}
}

func TestCreateListing_SellerCap(t *testing.T) {
	env := newTestEnv(t, Config{MaxListingsPerSeller: 2})
	env.ledger.balances[1] = 1000
	env.inv.set(1, 42, 3)

	mustCreate(t, env, 1, 42, 100, 0)
	mustCreate(t, env, 1, 42, 100, 0)

	_, err := env.mgr.CreateListing(context.Background(), 1, 42, 1, 100, 0, time.Hour)
	if code := protocol.CodeOf(err); code != protocol.ErrPreconditionFailed {
		t.Errorf("code = %s, want %s", code, protocol.ErrPreconditionFailed)
	}
}

func TestPlaceBid(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.ledger.balances[1] = 1000
	env.ledger.balances[2] = 500
	env.ledger.balances[3] = 500
	env.inv.set(1, 42, 1)
	l := mustCreate(t, env, 1, 42, 100, 0)

	ctx := context.Background()

	// Below the start price.
	if err := env.mgr.PlaceBid(ctx, 2, l.ID, 50); protocol.CodeOf(err) != protocol.ErrPreconditionFailed {
		t.Errorf("low bid: code = %s, want %s", protocol.CodeOf(err), protocol.ErrPreconditionFailed)
	}
	// Seller cannot bid.
	if err := env.mgr.PlaceBid(ctx, 1, l.ID, 100); protocol.CodeOf(err) != protocol.ErrNotAuthorized {
		t.Errorf("self bid: code = %s, want %s", protocol.CodeOf(err), protocol.ErrNotAuthorized)
	}

	if err := env.mgr.PlaceBid(ctx, 2, l.ID, 100); err != nil {
		t.Fatalf("PlaceBid() error = %v", err)
	}
	if got := env.ledger.balances[2]; got != 400 {
		t.Errorf("bidder balance = %d, want 400 (escrowed)", got)
	}

	// Same bidder cannot raise against themselves.
	if err := env.mgr.PlaceBid(ctx, 2, l.ID, 150); protocol.CodeOf(err) != protocol.ErrPreconditionFailed {
		t.Errorf("re-bid: code = %s, want %s", protocol.CodeOf(err), protocol.ErrPreconditionFailed)
	}
	// A matching bid is not an increase.
	if err := env.mgr.PlaceBid(ctx, 3, l.ID, 100); protocol.CodeOf(err) != protocol.ErrPreconditionFailed {
		t.Errorf("equal bid: code = %s, want %s", protocol.CodeOf(err), protocol.ErrPreconditionFailed)
	}

	if err := env.mgr.PlaceBid(ctx, 3, l.ID, 101); err != nil {
		t.Fatalf("PlaceBid() error = %v", err)
	}
	// The outbid player's escrow comes back in full.
	if got := env.ledger.balances[2]; got != 500 {
		t.Errorf("outbid balance = %d, want 500", got)
	}
	if got := env.ledger.balances[3]; got != 399 {
		t.Errorf("new bidder balance = %d, want 399", got)
	}
	if l.HighestBidderID != 3 || l.HighestBid != 101 {
		t.Errorf("highest = (%s, %d), want (3, 101)", l.HighestBidderID, l.HighestBid)
	}
}

func TestBuyout(t *testing.T) {
	env := newTestEnv(t, Config{ListingCommission: 0.05, SaleCommission: 0.05})
	env.ledger.balances[1] = 1000
	env.ledger.balances[2] = 500
	env.ledger.balances[3] = 1000
	env.inv.set(1, 42, 1)
	l := mustCreate(t, env, 1, 42, 100, 400)

	ctx := context.Background()
	if err := env.mgr.PlaceBid(ctx, 2, l.ID, 100); err != nil {
		t.Fatalf("PlaceBid() error = %v", err)
	}
	if err := env.mgr.Buyout(ctx, 3, l.ID); err != nil {
		t.Fatalf("Buyout() error = %v", err)
	}

	// Previous bidder refunded, buyer paid 400, item delivered.
	if got := env.ledger.balances[2]; got != 500 {
		t.Errorf("bidder balance = %d, want 500", got)
	}
	if got := env.ledger.balances[3]; got != 600 {
		t.Errorf("buyer balance = %d, want 600", got)
	}
	if got := env.inv.items[3][42]; got != 1 {
		t.Errorf("buyer item 42 = %d, want 1", got)
	}
	// Seller paid 5 listing commission on create, then got 400-20.
	if got := env.ledger.balances[1]; got != 1375 {
		t.Errorf("seller balance = %d, want 1375", got)
	}
	if l.Active {
		t.Error("listing still active after buyout")
	}

	// The listing is terminal; further operations conflict.
	if err := env.mgr.PlaceBid(ctx, 2, l.ID, 500); protocol.CodeOf(err) != protocol.ErrStateConflict {
		t.Errorf("bid after buyout: code = %s, want %s", protocol.CodeOf(err), protocol.ErrStateConflict)
	}
}

func TestBuyout_NoBuyoutPrice(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.ledger.balances[1] = 1000
	env.ledger.balances[2] = 1000
	env.inv.set(1, 42, 1)
	l := mustCreate(t, env, 1, 42, 100, 0)

	err := env.mgr.Buyout(context.Background(), 2, l.ID)
	if code := protocol.CodeOf(err); code != protocol.ErrPreconditionFailed {
		t.Errorf("code = %s, want %s", code, protocol.ErrPreconditionFailed)
	}
}

func TestCancelListing(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.ledger.balances[1] = 1000
	env.ledger.balances[2] = 500
	env.inv.set(1, 42, 2)

	ctx := context.Background()

	// Unbid listing cancels and returns the item.
	l1 := mustCreate(t, env, 1, 42, 100, 0)
	if err := env.mgr.CancelListing(ctx, 1, l1.ID); err != nil {
		t.Fatalf("CancelListing() error = %v", err)
	}
	if got := env.inv.items[1][42]; got != 2 {
		t.Errorf("seller item 42 = %d, want 2", got)
	}

	// A listing with a bid cannot be cancelled.
	l2 := mustCreate(t, env, 1, 42, 100, 0)
	if err := env.mgr.PlaceBid(ctx, 2, l2.ID, 100); err != nil {
		t.Fatalf("PlaceBid() error = %v", err)
	}
	if err := env.mgr.CancelListing(ctx, 1, l2.ID); protocol.CodeOf(err) != protocol.ErrPreconditionFailed {
		t.Errorf("cancel with bid: code = %s, want %s", protocol.CodeOf(err), protocol.ErrPreconditionFailed)
	}

	// Only the seller may cancel.
	if err := env.mgr.CancelListing(ctx, 2, l2.ID); protocol.CodeOf(err) != protocol.ErrNotAuthorized {
		t.Errorf("cancel by stranger: code = %s, want %s", protocol.CodeOf(err), protocol.ErrNotAuthorized)
	}
}

func TestSweepExpired_SellsToHighestBidder(t *testing.T) {
	env := newTestEnv(t, Config{ListingCommission: 0.05, SaleCommission: 0.05})
	env.ledger.balances[1] = 1000
	env.ledger.balances[2] = 500
	env.inv.set(1, 42, 1)
	l := mustCreate(t, env, 1, 42, 100, 0)

	ctx := context.Background()
	if err := env.mgr.PlaceBid(ctx, 2, l.ID, 200); err != nil {
		t.Fatalf("PlaceBid() error = %v", err)
	}

	l.EndTime = time.Now().Add(-time.Minute)
	env.mgr.SweepExpired(ctx)

	if got := env.inv.items[2][42]; got != 1 {
		t.Errorf("buyer item 42 = %d, want 1", got)
	}
	// 1000 - 5 listing commission + (200 - 10 sale commission).
	if got := env.ledger.balances[1]; got != 1185 {
		t.Errorf("seller balance = %d, want 1185", got)
	}
	if l.Active {
		t.Error("listing still active after sweep")
	}

	// A second sweep must not settle again.
	sellerBefore := env.ledger.balances[1]
	env.mgr.SweepExpired(ctx)
	if got := env.ledger.balances[1]; got != sellerBefore {
		t.Errorf("seller balance changed on second sweep: %d -> %d", sellerBefore, got)
	}
}

func TestSweepExpired_ReturnsUnsoldItem(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.ledger.balances[1] = 1000
	env.inv.set(1, 42, 1)
	l := mustCreate(t, env, 1, 42, 100, 0)

	l.EndTime = time.Now().Add(-time.Minute)
	env.mgr.SweepExpired(context.Background())

	if got := env.inv.items[1][42]; got != 1 {
		t.Errorf("seller item 42 = %d, want 1 (returned)", got)
	}
	// The listing commission is not refunded on expiry.
	if got := env.ledger.balances[1]; got != 999 {
		t.Errorf("seller balance = %d, want 999", got)
	}
}

func TestCreateListing_BackToBackDistinctIDs(t *testing.T) {
	env := newTestEnv(t, Config{MaxListingsPerSeller: 50})
	env.ledger.balances[1] = 10000
	env.inv.set(1, 42, 20)

	// Listings created within the same millisecond must never share an
	// id; a collision would overwrite the first entry and strand its
	// held-aside item.
	seen := make(map[snowflake.ID]struct{})
	for i := 0; i < 20; i++ {
		l := mustCreate(t, env, 1, 42, 100, 0)
		if _, dup := seen[l.ID]; dup {
			t.Fatalf("duplicate listing id %s on listing %d", l.ID, i)
		}
		seen[l.ID] = struct{}{}
	}

	all, _ := env.mgr.Listings("", 0)
	if len(env.mgr.listings) != 20 {
		t.Errorf("registry holds %d listings, want 20", len(env.mgr.listings))
	}
	if len(all) != 10 {
		t.Errorf("first page = %d listings, want 10", len(all))
	}
}

func TestGet(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.ledger.balances[1] = 1000
	env.inv.set(1, 42, 1)
	l := mustCreate(t, env, 1, 42, 100, 250)

	view, err := env.mgr.Get(l.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if view.ListingID != l.ID || view.ItemName != "Iron Sword" || view.BuyoutPrice != 250 {
		t.Errorf("view = %+v, want listing %s Iron Sword buyout 250", view, l.ID)
	}

	if _, err := env.mgr.Get(999); protocol.CodeOf(err) != protocol.ErrNoSuchEntity {
		t.Errorf("missing listing: code = %s, want %s", protocol.CodeOf(err), protocol.ErrNoSuchEntity)
	}
}

func TestListings_ConcurrentWithBids(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.ledger.balances[1] = 1000
	env.ledger.balances[2] = 100000
	env.ledger.balances[3] = 100000
	env.inv.set(1, 42, 1)
	l := mustCreate(t, env, 1, 42, 100, 0)

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		defer close(done)
		bidders := []snowflake.ID{2, 3}
		for i := 0; i < 200; i++ {
			_ = env.mgr.PlaceBid(ctx, bidders[i%2], l.ID, int64(100+i))
		}
	}()

	for i := 0; i < 200; i++ {
		views, _ := env.mgr.Listings("", 0)
		for _, v := range views {
			if v.ListingID == l.ID && v.HighestBid != 0 && v.HighestBid < 100 {
				t.Fatalf("snapshot saw impossible bid %d", v.HighestBid)
			}
		}
	}
	<-done
}

func TestListings_FilterAndPaging(t *testing.T) {
	env := newTestEnv(t, Config{MaxListingsPerSeller: 50})
	env.ledger.balances[1] = 10000
	env.inv.set(1, 42, 10)
	env.inv.set(1, 43, 10)

	for i := 0; i < 3; i++ {
		mustCreate(t, env, 1, 42, 100, 0)
	}
	mustCreate(t, env, 1, 43, 100, 0)

	all, pages := env.mgr.Listings("", 0)
	if len(all) != 4 || pages != 1 {
		t.Errorf("Listings() = %d items, %d pages, want 4 items 1 page", len(all), pages)
	}

	swords, _ := env.mgr.Listings("sword", 0)
	if len(swords) != 3 {
		t.Errorf("Listings(sword) = %d items, want 3", len(swords))
	}
	for _, v := range swords {
		if v.ItemName != "Iron Sword" {
			t.Errorf("filtered listing name = %q, want Iron Sword", v.ItemName)
		}
	}
}
