package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"rental-payments-backend/internal/domain"
	"rental-payments-backend/internal/logger"
	"rental-payments-backend/internal/repository"
)

const rentalColumns = `id, borrower_id, lender_id, listing_id,
	requested_start_date, requested_end_date, rental_days,
	daily_rate_cents, rental_fee_cents, deposit_cents, late_fee_per_day_cents,
	platform_fee_rate, platform_fee_cents, lender_payout_cents,
	damage_claim_cents, damage_notes, damage_evidence_urls, deposit_refunded_cents,
	status, payment_status, payment_intent_ref, transfer_ref,
	late_fee_cents, late_fee_ref, late_fee_status,
	condition_at_pickup, condition_at_return, condition_degraded,
	message, lender_response, decline_reason, return_notes,
	version, created_at, approved_at, paid_at, picked_up_at, returned_at, cancelled_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type rentalRepository struct {
	db *sql.DB
}

func NewRentalRepository(db *sql.DB) repository.RentalRepository {
	return &rentalRepository{db: db}
}

func (r *rentalRepository) Create(ctx context.Context, rt *domain.RentalTransaction) error {
	logger.EnterMethod("rentalRepository.Create", "transactionID", rt.ID, "listingID", rt.ListingID)

	now := time.Now().UTC()
	rt.CreatedAt = now
	rt.UpdatedAt = now
	rt.Version = 1

	query := `INSERT INTO rental_transactions (` + rentalColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
	                  $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36, $37, $38, $39, $40)`
	_, err := r.db.ExecContext(ctx, query,
		rt.ID, rt.BorrowerID, rt.LenderID, rt.ListingID,
		rt.RequestedStartDate, rt.RequestedEndDate, rt.RentalDays,
		rt.DailyRateCents, rt.RentalFeeCents, rt.DepositCents, rt.LateFeePerDayCents,
		rt.PlatformFeeRate, rt.PlatformFeeCents, rt.LenderPayoutCents,
		nullableInt64(rt.DamageClaimCents), rt.DamageNotes, pq.Array(evidence(rt.DamageEvidenceURLs)), rt.DepositRefundedCents,
		rt.Status, rt.PaymentStatus, rt.PaymentIntentRef, rt.TransferRef,
		rt.LateFeeCents, rt.LateFeeRef, rt.LateFeeStatus,
		rt.ConditionAtPickup, rt.ConditionAtReturn, rt.ConditionDegraded,
		rt.Message, rt.LenderResponse, rt.DeclineReason, rt.ReturnNotes,
		rt.Version, rt.CreatedAt, rt.ApprovedAt, rt.PaidAt, rt.PickedUpAt, rt.ReturnedAt, rt.CancelledAt, rt.UpdatedAt,
	)
	if err != nil {
		logger.ExitMethodWithError("rentalRepository.Create", err, "transactionID", rt.ID)
		return err
	}

	logger.ExitMethod("rentalRepository.Create", "transactionID", rt.ID)
	return nil
}

func (r *rentalRepository) GetByID(ctx context.Context, id string) (*domain.RentalTransaction, error) {
	query := `SELECT ` + rentalColumns + ` FROM rental_transactions WHERE id = $1`
	return r.getOne(ctx, "GetByID", query, id)
}

func (r *rentalRepository) GetForLender(ctx context.Context, id, lenderID string) (*domain.RentalTransaction, error) {
	query := `SELECT ` + rentalColumns + ` FROM rental_transactions WHERE id = $1 AND lender_id = $2`
	return r.getOne(ctx, "GetForLender", query, id, lenderID)
}

func (r *rentalRepository) GetForBorrower(ctx context.Context, id, borrowerID string) (*domain.RentalTransaction, error) {
	query := `SELECT ` + rentalColumns + ` FROM rental_transactions WHERE id = $1 AND borrower_id = $2`
	return r.getOne(ctx, "GetForBorrower", query, id, borrowerID)
}

func (r *rentalRepository) GetForParty(ctx context.Context, id, userID string) (*domain.RentalTransaction, error) {
	query := `SELECT ` + rentalColumns + ` FROM rental_transactions WHERE id = $1 AND (borrower_id = $2 OR lender_id = $2)`
	return r.getOne(ctx, "GetForParty", query, id, userID)
}

func (r *rentalRepository) GetByPaymentRef(ctx context.Context, ref string) (*domain.RentalTransaction, error) {
	if ref == "" {
		return nil, domain.ErrNotFoundOrForbidden
	}
	query := `SELECT ` + rentalColumns + ` FROM rental_transactions WHERE payment_intent_ref = $1`
	return r.getOne(ctx, "GetByPaymentRef", query, ref)
}

func (r *rentalRepository) GetByLateFeeRef(ctx context.Context, ref string) (*domain.RentalTransaction, error) {
	if ref == "" {
		return nil, domain.ErrNotFoundOrForbidden
	}
	query := `SELECT ` + rentalColumns + ` FROM rental_transactions WHERE late_fee_ref = $1`
	return r.getOne(ctx, "GetByLateFeeRef", query, ref)
}

func (r *rentalRepository) getOne(ctx context.Context, op, query string, args ...interface{}) (*domain.RentalTransaction, error) {
	rt, err := scanRental(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rental transaction: %w", domain.ErrNotFoundOrForbidden)
	}
	if err != nil {
		logger.Error("Failed to load rental transaction", "operation", op, "error", err)
		return nil, err
	}
	return rt, nil
}

func (r *rentalRepository) Update(ctx context.Context, rt *domain.RentalTransaction) error {
	logger.EnterMethod("rentalRepository.Update", "transactionID", rt.ID, "version", rt.Version, "status", rt.Status, "paymentStatus", rt.PaymentStatus)

	now := time.Now().UTC()
	query := `UPDATE rental_transactions SET
	            damage_claim_cents=$3, damage_notes=$4, damage_evidence_urls=$5, deposit_refunded_cents=$6,
	            status=$7, payment_status=$8, payment_intent_ref=$9, transfer_ref=$10,
	            late_fee_cents=$11, late_fee_ref=$12, late_fee_status=$13,
	            condition_at_pickup=$14, condition_at_return=$15, condition_degraded=$16,
	            lender_response=$17, decline_reason=$18, return_notes=$19,
	            approved_at=$20, paid_at=$21, picked_up_at=$22, returned_at=$23, cancelled_at=$24,
	            updated_at=$25, version = version + 1
	          WHERE id=$1 AND version=$2`
	logger.DatabaseCall("UPDATE", "rental_transactions", "transactionID", rt.ID)
	res, err := r.db.ExecContext(ctx, query,
		rt.ID, rt.Version,
		nullableInt64(rt.DamageClaimCents), rt.DamageNotes, pq.Array(evidence(rt.DamageEvidenceURLs)), rt.DepositRefundedCents,
		rt.Status, rt.PaymentStatus, rt.PaymentIntentRef, rt.TransferRef,
		rt.LateFeeCents, rt.LateFeeRef, rt.LateFeeStatus,
		rt.ConditionAtPickup, rt.ConditionAtReturn, rt.ConditionDegraded,
		rt.LenderResponse, rt.DeclineReason, rt.ReturnNotes,
		rt.ApprovedAt, rt.PaidAt, rt.PickedUpAt, rt.ReturnedAt, rt.CancelledAt,
		now,
	)
	if err != nil {
		logger.DatabaseResult("UPDATE", 0, err, "transactionID", rt.ID)
		logger.ExitMethodWithError("rentalRepository.Update", err, "transactionID", rt.ID)
		return err
	}
	affected, err := res.RowsAffected()
	logger.DatabaseResult("UPDATE", affected, err, "transactionID", rt.ID)
	if err != nil {
		return err
	}
	if affected == 0 {
		err = fmt.Errorf("rental transaction %s at version %d: %w", rt.ID, rt.Version, domain.ErrConcurrentUpdate)
		logger.ExitMethodWithError("rentalRepository.Update", err, "transactionID", rt.ID)
		return err
	}

	rt.Version++
	rt.UpdatedAt = now
	logger.ExitMethod("rentalRepository.Update", "transactionID", rt.ID, "version", rt.Version)
	return nil
}

func (r *rentalRepository) ListStaleRequested(ctx context.Context, createdBefore time.Time, limit int) ([]domain.RentalTransaction, error) {
	query := `SELECT ` + rentalColumns + ` FROM rental_transactions
	          WHERE status = $1 AND created_at < $2
	          ORDER BY created_at LIMIT $3`
	return r.list(ctx, query, domain.RentalStatusRequested, createdBefore, limit)
}

func (r *rentalRepository) ListAwaitingSettlement(ctx context.Context, limit int) ([]domain.RentalTransaction, error) {
	query := `SELECT ` + rentalColumns + ` FROM rental_transactions
	          WHERE status = $1 AND transfer_ref = '' AND payment_status IN ($2, $3)
	          ORDER BY returned_at LIMIT $4`
	return r.list(ctx, query, domain.RentalStatusReturned, domain.PaymentStatusCaptured, domain.PaymentStatusDamageClaimed, limit)
}

func (r *rentalRepository) ListCancelledWithHold(ctx context.Context, limit int) ([]domain.RentalTransaction, error) {
	query := `SELECT ` + rentalColumns + ` FROM rental_transactions
	          WHERE status = $1 AND payment_intent_ref <> '' AND payment_status = $2
	          ORDER BY cancelled_at LIMIT $3`
	return r.list(ctx, query, domain.RentalStatusCancelled, domain.PaymentStatusAuthorized, limit)
}

func (r *rentalRepository) list(ctx context.Context, query string, args ...interface{}) ([]domain.RentalTransaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RentalTransaction
	for rows.Next() {
		rt, err := scanRental(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rt)
	}
	return out, rows.Err()
}

func scanRental(row rowScanner) (*domain.RentalTransaction, error) {
	rt := &domain.RentalTransaction{}
	var claim sql.NullInt64
	err := row.Scan(
		&rt.ID, &rt.BorrowerID, &rt.LenderID, &rt.ListingID,
		&rt.RequestedStartDate, &rt.RequestedEndDate, &rt.RentalDays,
		&rt.DailyRateCents, &rt.RentalFeeCents, &rt.DepositCents, &rt.LateFeePerDayCents,
		&rt.PlatformFeeRate, &rt.PlatformFeeCents, &rt.LenderPayoutCents,
		&claim, &rt.DamageNotes, pq.Array(&rt.DamageEvidenceURLs), &rt.DepositRefundedCents,
		&rt.Status, &rt.PaymentStatus, &rt.PaymentIntentRef, &rt.TransferRef,
		&rt.LateFeeCents, &rt.LateFeeRef, &rt.LateFeeStatus,
		&rt.ConditionAtPickup, &rt.ConditionAtReturn, &rt.ConditionDegraded,
		&rt.Message, &rt.LenderResponse, &rt.DeclineReason, &rt.ReturnNotes,
		&rt.Version, &rt.CreatedAt, &rt.ApprovedAt, &rt.PaidAt, &rt.PickedUpAt, &rt.ReturnedAt, &rt.CancelledAt, &rt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if claim.Valid {
		v := claim.Int64
		rt.DamageClaimCents = &v
	}
	return rt, nil
}

func nullableInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func evidence(urls []string) []string {
	if urls == nil {
		return []string{}
	}
	return urls
}
