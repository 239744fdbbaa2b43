package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/uptrace/bun"

	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/database/models"
)

// maxInventorySlots caps the number of distinct item stacks a player can
// hold. Adds beyond the cap report no room rather than failing.
const maxInventorySlots = 100

type InventoryRepository interface {
	Has(ctx context.Context, playerID snowflake.ID, itemID, quantity int64) (bool, error)
	TryAdd(ctx context.Context, playerID snowflake.ID, itemID, quantity int64) (bool, error)
	Remove(ctx context.Context, playerID snowflake.ID, itemID, quantity int64) error
	ListByPlayer(ctx context.Context, playerID snowflake.ID) ([]*models.InventoryItem, error)
}

type inventoryRepository struct {
	db *bun.DB
}

func NewInventoryRepository(db *bun.DB) InventoryRepository {
	return &inventoryRepository{db: db}
}

func (r *inventoryRepository) Has(ctx context.Context, playerID snowflake.ID, itemID, quantity int64) (bool, error) {
	var held int64
	err := r.db.NewSelect().
		Model((*models.InventoryItem)(nil)).
		Column("quantity").
		Where("player_id = ? AND item_id = ?", playerID.String(), itemID).
		Scan(ctx, &held)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return held >= quantity, nil
}

// TryAdd stacks onto an existing row or opens a new slot. Returns false
// without error when the player has no free slot; callers fall back to
// mail in that case.
func (r *inventoryRepository) TryAdd(ctx context.Context, playerID snowflake.ID, itemID, quantity int64) (bool, error) {
	if quantity <= 0 {
		return false, fmt.Errorf("quantity must be positive, got %d", quantity)
	}

	added := false
	err := r.db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*models.InventoryItem)(nil)).
			Where("player_id = ? AND item_id = ?", playerID.String(), itemID).
			For("UPDATE").
			Exists(ctx)
		if err != nil {
			return err
		}

		if !exists {
			slots, err := tx.NewSelect().
				Model((*models.InventoryItem)(nil)).
				Where("player_id = ? AND quantity > 0", playerID.String()).
				Count(ctx)
			if err != nil {
				return err
			}
			if slots >= maxInventorySlots {
				return nil
			}
		}

		now := time.Now()
		_, err = tx.NewInsert().
			Model(&models.InventoryItem{
				PlayerID:  playerID.String(),
				ItemID:    itemID,
				Quantity:  quantity,
				CreatedAt: now,
				UpdatedAt: now,
			}).
			On("CONFLICT (player_id, item_id) DO UPDATE").
			Set("quantity = pi.quantity + EXCLUDED.quantity").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return err
		}
		added = true
		return nil
	})
	return added, err
}

// Remove debits a stack and fails when the player does not hold enough.
func (r *inventoryRepository) Remove(ctx context.Context, playerID snowflake.ID, itemID, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", quantity)
	}

	return r.db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(ctx context.Context, tx bun.Tx) error {
		var item models.InventoryItem
		err := tx.NewSelect().
			Model(&item).
			Where("player_id = ? AND item_id = ?", playerID.String(), itemID).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("player %s does not hold item %d", playerID, itemID)
			}
			return err
		}
		if item.Quantity < quantity {
			return fmt.Errorf("player %s holds %d of item %d, needs %d", playerID, item.Quantity, itemID, quantity)
		}

		if item.Quantity == quantity {
			_, err = tx.NewDelete().
				Model((*models.InventoryItem)(nil)).
				Where("player_id = ? AND item_id = ?", playerID.String(), itemID).
				Exec(ctx)
			return err
		}

		_, err = tx.NewUpdate().
			Model((*models.InventoryItem)(nil)).
			Set("quantity = quantity - ?", quantity).
			Set("updated_at = ?", time.Now()).
			Where("player_id = ? AND item_id = ?", playerID.String(), itemID).
			Exec(ctx)
		return err
	})
}

func (r *inventoryRepository) ListByPlayer(ctx context.Context, playerID snowflake.ID) ([]*models.InventoryItem, error) {
	var items []*models.InventoryItem
	err := r.db.NewSelect().
		Model(&items).
		Where("player_id = ? AND quantity > 0", playerID.String()).
		Order("item_id ASC").
		Scan(ctx)
	return items, err
}
