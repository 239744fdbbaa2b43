package models

import (
	"time"

	"github.com/uptrace/bun"
)

// InventoryItem is one stack of a player's holdings. One row per
// (player, item) pair; the unique index backs the upsert in TryAdd.
type InventoryItem struct {
	bun.BaseModel `bun:"table:player_inventory,alias:pi"`

	ID       int64  `bun:"id,pk,autoincrement"`
	PlayerID string `bun:"player_id,notnull,unique:player_item"`
	ItemID   int64  `bun:"item_id,notnull,unique:player_item"`
	Quantity int64  `bun:"quantity,notnull,default:0"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}
