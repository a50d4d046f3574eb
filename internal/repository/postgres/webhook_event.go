package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rental-payments-backend/internal/domain"
	"rental-payments-backend/internal/logger"
	"rental-payments-backend/internal/repository"
)

type webhookEventRepository struct {
	db *sql.DB
}

func NewWebhookEventRepository(db *sql.DB) repository.WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) Claim(ctx context.Context, eventID, eventType string) (bool, error) {
	query := `INSERT INTO processed_webhook_events (event_id, event_type, processed_at)
	          VALUES ($1, $2, $3) ON CONFLICT (event_id) DO NOTHING`
	logger.DatabaseCall("INSERT", "processed_webhook_events", "eventID", eventID)
	res, err := r.db.ExecContext(ctx, query, eventID, eventType, time.Now().UTC())
	if err != nil {
		logger.DatabaseResult("INSERT", 0, err, "eventID", eventID)
		return false, err
	}
	n, err := res.RowsAffected()
	logger.DatabaseResult("INSERT", n, err, "eventID", eventID)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *webhookEventRepository) Release(ctx context.Context, eventID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM processed_webhook_events WHERE event_id = $1`, eventID)
	return err
}

func (r *webhookEventRepository) Get(ctx context.Context, eventID string) (*domain.ProcessedWebhookEvent, error) {
	ev := &domain.ProcessedWebhookEvent{}
	query := `SELECT event_id, event_type, processed_at FROM processed_webhook_events WHERE event_id = $1`
	err := r.db.QueryRowContext(ctx, query, eventID).Scan(&ev.EventID, &ev.EventType, &ev.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("webhook event: %w", domain.ErrNotFoundOrForbidden)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}
