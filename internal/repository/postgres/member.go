package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"rental-payments-backend/internal/domain"
	"rental-payments-backend/internal/repository"
)

type memberRepository struct {
	db *sql.DB
}

func NewMemberRepository(db *sql.DB) repository.MemberRepository {
	return &memberRepository{db: db}
}

func (r *memberRepository) GetByID(ctx context.Context, id string) (*domain.Member, error) {
	m := &domain.Member{}
	query := `SELECT id, email, name, device_token, subscription_active, identity_verified, payout_account_ref, processor_customer_ref, created_at, updated_at
	          FROM members WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&m.ID, &m.Email, &m.Name, &m.DeviceToken, &m.SubscriptionActive, &m.IdentityVerified, &m.PayoutAccountRef, &m.ProcessorCustomerRef, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member: %w", domain.ErrNotFoundOrForbidden)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *memberRepository) SetCustomerRef(ctx context.Context, id, customerRef string) error {
	query := `UPDATE members SET processor_customer_ref = $1, updated_at = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, customerRef, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return expectOneRow(res, "member")
}

func (r *memberRepository) UpdateAccess(ctx context.Context, id string, update repository.AccessUpdate) error {
	var sets []string
	var args []interface{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.SubscriptionActive != nil {
		add("subscription_active", *update.SubscriptionActive)
	}
	if update.IdentityVerified != nil {
		add("identity_verified", *update.IdentityVerified)
	}
	if update.PayoutAccountRef != nil {
		add("payout_account_ref", *update.PayoutAccountRef)
	}
	if len(sets) == 0 {
		return nil
	}
	add("updated_at", time.Now().UTC())
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE members SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return expectOneRow(res, "member")
}
