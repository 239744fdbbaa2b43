package interfaces

import (
	"context"

	"github.com/disgoorg/snowflake/v2"

	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/protocol"
)

// Attachment is the payload of a system mail: an optional item stack and
// an optional amount of gold. Both may be set.
type Attachment struct {
	ItemID   int64
	Quantity int64
	Gold     int64
}

func (a Attachment) Empty() bool {
	return a.ItemID == 0 && a.Gold == 0
}

// CurrencyLedger is the per-player gold balance collaborator. ChangeGold
// applies a signed delta atomically and fails when a debit would push the
// balance below zero.
type CurrencyLedger interface {
	Balance(ctx context.Context, playerID snowflake.ID) (int64, error)
	ChangeGold(ctx context.Context, playerID snowflake.ID, delta int64) error
}

// InventoryStore is the per-player item holdings collaborator. TryAdd
// returns false (without error) when the player's inventory has no room.
type InventoryStore interface {
	Has(ctx context.Context, playerID snowflake.ID, itemID, quantity int64) (bool, error)
	TryAdd(ctx context.Context, playerID snowflake.ID, itemID, quantity int64) (bool, error)
	Remove(ctx context.Context, playerID snowflake.ID, itemID, quantity int64) error
}

// MailService delivers value to players that cannot receive it directly
// (full inventory, offline). Delivery is guaranteed eventual once the
// call returns nil.
type MailService interface {
	SendSystemReward(ctx context.Context, playerID snowflake.ID, subject, body string, attachment Attachment) error
}

// PlayerLocator reports the distance between two players. Implementations
// are optional; a nil locator disables the live-trade range check.
type PlayerLocator interface {
	Distance(a, b snowflake.ID) (float64, error)
}

// Pusher delivers a notification to a single player if they are
// connected. Pushes to offline players are dropped silently; anything
// that must survive disconnection goes through MailService instead.
type Pusher interface {
	Push(playerID snowflake.ID, msg protocol.Notification)
}
