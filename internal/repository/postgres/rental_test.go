package postgres_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rental-payments-backend/internal/domain"
	"rental-payments-backend/internal/repository/postgres"
)

var rentalColumnNames = []string{
	"id", "borrower_id", "lender_id", "listing_id",
	"requested_start_date", "requested_end_date", "rental_days",
	"daily_rate_cents", "rental_fee_cents", "deposit_cents", "late_fee_per_day_cents",
	"platform_fee_rate", "platform_fee_cents", "lender_payout_cents",
	"damage_claim_cents", "damage_notes", "damage_evidence_urls", "deposit_refunded_cents",
	"status", "payment_status", "payment_intent_ref", "transfer_ref",
	"late_fee_cents", "late_fee_ref", "late_fee_status",
	"condition_at_pickup", "condition_at_return", "condition_degraded",
	"message", "lender_response", "decline_reason", "return_notes",
	"version", "created_at", "approved_at", "paid_at", "picked_up_at", "returned_at", "cancelled_at", "updated_at",
}

func rentalRow(id string, claim interface{}, status domain.RentalStatus, paymentStatus domain.PaymentStatus) []driver.Value {
	now := time.Now()
	return []driver.Value{
		id, "borrower-1", "lender-1", "listing-1",
		now, now.Add(72 * time.Hour), int64(3),
		int64(2000), int64(6000), int64(10000), int64(500),
		"0.0200", int64(120), int64(5880),
		claim, "", "{https://img/1.jpg}", int64(0),
		string(status), string(paymentStatus), "chrg_1", "",
		int64(0), "", "",
		"good", "", false,
		"hello", "", "", "",
		int64(4), now, now, now, nil, nil, nil, now,
	}
}

func TestRentalRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewRentalRepository(db)
	ctx := context.Background()

	rt := &domain.RentalTransaction{
		ID:                "tx-1",
		BorrowerID:        "borrower-1",
		LenderID:          "lender-1",
		ListingID:         "listing-1",
		RentalDays:        3,
		DailyRateCents:    2000,
		RentalFeeCents:    6000,
		DepositCents:      10000,
		PlatformFeeRate:   decimal.RequireFromString("0.02"),
		PlatformFeeCents:  120,
		LenderPayoutCents: 5880,
		Status:            domain.RentalStatusRequested,
		PaymentStatus:     domain.PaymentStatusPending,
	}

	mock.ExpectExec("INSERT INTO rental_transactions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.Create(ctx, rt)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), rt.Version)
	assert.False(t, rt.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRentalRepository_GetForLender(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewRentalRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		rows := sqlmock.NewRows(rentalColumnNames).
			AddRow(rentalRow("tx-1", int64(2500), domain.RentalStatusReturned, domain.PaymentStatusDamageClaimed)...)
		mock.ExpectQuery("SELECT (.+) FROM rental_transactions WHERE id = \\$1 AND lender_id = \\$2").
			WithArgs("tx-1", "lender-1").
			WillReturnRows(rows)

		rt, err := repo.GetForLender(ctx, "tx-1", "lender-1")
		require.NoError(t, err)
		assert.Equal(t, "tx-1", rt.ID)
		assert.Equal(t, domain.RentalStatusReturned, rt.Status)
		require.NotNil(t, rt.DamageClaimCents)
		assert.Equal(t, int64(2500), *rt.DamageClaimCents)
		assert.Equal(t, []string{"https://img/1.jpg"}, rt.DamageEvidenceURLs)
		assert.True(t, decimal.RequireFromString("0.02").Equal(rt.PlatformFeeRate))
		assert.Nil(t, rt.PickedUpAt)
		assert.Equal(t, int64(4), rt.Version)
	})

	t.Run("Wrong lender is not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM rental_transactions WHERE id = \\$1 AND lender_id = \\$2").
			WithArgs("tx-1", "borrower-1").
			WillReturnRows(sqlmock.NewRows(rentalColumnNames))

		rt, err := repo.GetForLender(ctx, "tx-1", "borrower-1")
		assert.Nil(t, rt)
		assert.True(t, errors.Is(err, domain.ErrNotFoundOrForbidden))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRentalRepository_GetForParty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewRentalRepository(db)

	rows := sqlmock.NewRows(rentalColumnNames).
		AddRow(rentalRow("tx-1", nil, domain.RentalStatusPaid, domain.PaymentStatusAuthorized)...)
	mock.ExpectQuery("SELECT (.+) FROM rental_transactions WHERE id = \\$1 AND \\(borrower_id = \\$2 OR lender_id = \\$2\\)").
		WithArgs("tx-1", "borrower-1").
		WillReturnRows(rows)

	rt, err := repo.GetForParty(context.Background(), "tx-1", "borrower-1")
	require.NoError(t, err)
	assert.Nil(t, rt.DamageClaimCents)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRentalRepository_GetByPaymentRef(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewRentalRepository(db)

	t.Run("Empty ref never queries", func(t *testing.T) {
		_, err := repo.GetByPaymentRef(context.Background(), "")
		assert.True(t, errors.Is(err, domain.ErrNotFoundOrForbidden))
	})

	t.Run("Found", func(t *testing.T) {
		rows := sqlmock.NewRows(rentalColumnNames).
			AddRow(rentalRow("tx-1", nil, domain.RentalStatusApproved, domain.PaymentStatusPending)...)
		mock.ExpectQuery("SELECT (.+) FROM rental_transactions WHERE payment_intent_ref = \\$1").
			WithArgs("chrg_1").
			WillReturnRows(rows)

		rt, err := repo.GetByPaymentRef(context.Background(), "chrg_1")
		require.NoError(t, err)
		assert.Equal(t, "chrg_1", rt.PaymentIntentRef)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRentalRepository_Update(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewRentalRepository(db)
	ctx := context.Background()

	t.Run("Success bumps version", func(t *testing.T) {
		claim := int64(2500)
		rt := &domain.RentalTransaction{
			ID:                 "tx-1",
			Version:            3,
			Status:             domain.RentalStatusReturned,
			PaymentStatus:      domain.PaymentStatusDamageClaimed,
			DamageClaimCents:   &claim,
			DamageEvidenceURLs: []string{"https://img/1.jpg"},
		}
		mock.ExpectExec("UPDATE rental_transactions SET (.+) WHERE id=\\$1 AND version=\\$2").
			WithArgs("tx-1", int64(3),
				int64(2500), "", pq.Array([]string{"https://img/1.jpg"}), int64(0),
				"returned", "damage_claimed", "", "",
				int64(0), "", "",
				"", "", false,
				"", "", "",
				nil, nil, nil, nil, nil,
				sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Update(ctx, rt)
		require.NoError(t, err)
		assert.Equal(t, int64(4), rt.Version)
	})

	t.Run("Stale version", func(t *testing.T) {
		rt := &domain.RentalTransaction{ID: "tx-1", Version: 3}
		mock.ExpectExec("UPDATE rental_transactions SET").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.Update(ctx, rt)
		assert.True(t, errors.Is(err, domain.ErrConcurrentUpdate))
		assert.Equal(t, int64(3), rt.Version)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRentalRepository_ListAwaitingSettlement(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewRentalRepository(db)

	rows := sqlmock.NewRows(rentalColumnNames).
		AddRow(rentalRow("tx-1", nil, domain.RentalStatusReturned, domain.PaymentStatusCaptured)...).
		AddRow(rentalRow("tx-2", int64(1000), domain.RentalStatusReturned, domain.PaymentStatusDamageClaimed)...)
	mock.ExpectQuery("SELECT (.+) FROM rental_transactions\\s+WHERE status = \\$1 AND transfer_ref = ''").
		WithArgs("returned", "captured", "damage_claimed", 50).
		WillReturnRows(rows)

	list, err := repo.ListAwaitingSettlement(context.Background(), 50)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, "tx-2", list[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
