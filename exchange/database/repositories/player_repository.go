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

// ErrInsufficientGold is returned when a debit would push a balance
// below zero.
var ErrInsufficientGold = errors.New("insufficient gold")

type PlayerRepository interface {
	Create(ctx context.Context, player *models.Player) error
	GetByPlayerID(ctx context.Context, playerID snowflake.ID) (*models.Player, error)
	EnsureExists(ctx context.Context, playerID snowflake.ID, name string) error
	Balance(ctx context.Context, playerID snowflake.ID) (int64, error)
	ChangeGold(ctx context.Context, playerID snowflake.ID, delta int64) error
}

type playerRepository struct {
	db *bun.DB
}

func NewPlayerRepository(db *bun.DB) PlayerRepository {
	return &playerRepository{db: db}
}

func (r *playerRepository) Create(ctx context.Context, player *models.Player) error {
	player.CreatedAt = time.Now()
	player.UpdatedAt = time.Now()
	_, err := r.db.NewInsert().Model(player).Exec(ctx)
	return err
}

func (r *playerRepository) GetByPlayerID(ctx context.Context, playerID snowflake.ID) (*models.Player, error) {
	player := new(models.Player)
	err := r.db.NewSelect().
		Model(player).
		Where("player_id = ?", playerID.String()).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return player, nil
}

// EnsureExists creates the player row on first contact.
func (r *playerRepository) EnsureExists(ctx context.Context, playerID snowflake.ID, name string) error {
	now := time.Now()
	_, err := r.db.NewInsert().
		Model(&models.Player{
			PlayerID:  playerID.String(),
			Name:      name,
			CreatedAt: now,
			UpdatedAt: now,
		}).
		On("CONFLICT (player_id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (r *playerRepository) Balance(ctx context.Context, playerID snowflake.ID) (int64, error) {
	var gold int64
	err := r.db.NewSelect().
		Model((*models.Player)(nil)).
		Column("gold").
		Where("player_id = ?", playerID.String()).
		Scan(ctx, &gold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("player %s not found", playerID)
		}
		return 0, err
	}
	return gold, nil
}

// ChangeGold applies a signed delta inside a serializable transaction.
// The row is locked before the check so two concurrent debits cannot
// both pass against the same balance.
func (r *playerRepository) ChangeGold(ctx context.Context, playerID snowflake.ID, delta int64) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(ctx context.Context, tx bun.Tx) error {
		var player models.Player
		err := tx.NewSelect().
			Model(&player).
			Where("player_id = ?", playerID.String()).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("player %s not found", playerID)
			}
			return err
		}

		if player.Gold+delta < 0 {
			return fmt.Errorf("%w: has %d, needs %d", ErrInsufficientGold, player.Gold, -delta)
		}

		_, err = tx.NewUpdate().
			Model((*models.Player)(nil)).
			Set("gold = gold + ?", delta).
			Set("updated_at = ?", time.Now()).
			Where("player_id = ?", playerID.String()).
			Exec(ctx)
		return err
	})
}
