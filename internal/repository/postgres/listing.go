package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rental-payments-backend/internal/domain"
	"rental-payments-backend/internal/repository"
)

type listingRepository struct {
	db *sql.DB
}

func NewListingRepository(db *sql.DB) repository.ListingRepository {
	return &listingRepository{db: db}
}

func (r *listingRepository) GetByID(ctx context.Context, id string) (*domain.Listing, error) {
	l := &domain.Listing{}
	query := `SELECT id, owner_id, title, daily_rate, deposit_cents, late_fee_per_day_cents, requires_verified_access, status, borrow_count, created_at
	          FROM listings WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&l.ID, &l.OwnerID, &l.Title, &l.DailyRate, &l.DepositCents, &l.LateFeePerDayCents, &l.RequiresVerifiedAccess, &l.Status, &l.BorrowCount, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("listing: %w", domain.ErrNotFoundOrForbidden)
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (r *listingRepository) SetStatus(ctx context.Context, id string, status domain.ListingStatus) error {
	query := `UPDATE listings SET status = $1 WHERE id = $2`
	res, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, "listing")
}

func (r *listingRepository) MarkReturned(ctx context.Context, id string) error {
	query := `UPDATE listings SET status = $1, borrow_count = borrow_count + 1 WHERE id = $2`
	res, err := r.db.ExecContext(ctx, query, domain.ListingStatusAvailable, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, "listing")
}

func expectOneRow(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, domain.ErrNotFoundOrForbidden)
	}
	return nil
}
