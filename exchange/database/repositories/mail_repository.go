package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/uptrace/bun"

	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/database/models"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/interfaces"
)

type MailRepository interface {
	SendSystemReward(ctx context.Context, playerID snowflake.ID, subject, body string, attachment interfaces.Attachment) error
	Unclaimed(ctx context.Context, playerID snowflake.ID) ([]*models.Mail, error)
	Claim(ctx context.Context, playerID snowflake.ID, mailID int64) (*models.Mail, error)
}

type mailRepository struct {
	db *bun.DB
}

func NewMailRepository(db *bun.DB) MailRepository {
	return &mailRepository{db: db}
}

// SendSystemReward persists the mail row; once the insert commits the
// attachment is owed to the player regardless of their session state.
func (r *mailRepository) SendSystemReward(ctx context.Context, playerID snowflake.ID, subject, body string, attachment interfaces.Attachment) error {
	mail := &models.Mail{
		PlayerID:  playerID.String(),
		Subject:   subject,
		Body:      body,
		ItemID:    attachment.ItemID,
		Quantity:  attachment.Quantity,
		Gold:      attachment.Gold,
		CreatedAt: time.Now(),
	}

	if _, err := r.db.NewInsert().Model(mail).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert mail: %w", err)
	}

	slog.Info("System mail sent",
		slog.String("type", "db"),
		slog.String("player_id", playerID.String()),
		slog.String("subject", subject),
		slog.Int64("item_id", attachment.ItemID),
		slog.Int64("gold", attachment.Gold))

	return nil
}

func (r *mailRepository) Unclaimed(ctx context.Context, playerID snowflake.ID) ([]*models.Mail, error) {
	var mail []*models.Mail
	err := r.db.NewSelect().
		Model(&mail).
		Where("player_id = ? AND claimed = false", playerID.String()).
		Order("created_at ASC").
		Scan(ctx)
	return mail, err
}

// Claim marks the mail claimed and returns the row so the caller can
// apply the attachment. The lock makes a double claim impossible.
func (r *mailRepository) Claim(ctx context.Context, playerID snowflake.ID, mailID int64) (*models.Mail, error) {
	var mail models.Mail
	err := r.db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model(&mail).
			Where("id = ? AND player_id = ?", mailID, playerID.String()).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("mail %d not found", mailID)
			}
			return err
		}
		if mail.Claimed {
			return fmt.Errorf("mail %d already claimed", mailID)
		}

		_, err = tx.NewUpdate().
			Model((*models.Mail)(nil)).
			Set("claimed = true").
			Set("claimed_at = ?", time.Now()).
			Where("id = ?", mailID).
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &mail, nil
}
