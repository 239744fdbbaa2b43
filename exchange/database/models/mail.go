package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Mail is one system message in a player's inbox. Attachments stay on
// the row until the player claims them.
type Mail struct {
	bun.BaseModel `bun:"table:mail,alias:m"`

	ID       int64  `bun:"id,pk,autoincrement"`
	PlayerID string `bun:"player_id,notnull"`
	Subject  string `bun:"subject,notnull"`
	Body     string `bun:"body,notnull"`

	ItemID   int64 `bun:"item_id,notnull,default:0"`
	Quantity int64 `bun:"quantity,notnull,default:0"`
	Gold     int64 `bun:"gold,notnull,default:0"`

	Claimed   bool      `bun:"claimed,notnull,default:false"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	ClaimedAt time.Time `bun:"claimed_at,nullzero"`
}
