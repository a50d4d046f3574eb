package gateway

import (
	"context"
	"errors"
	"fmt"

	"rental-payments-backend/internal/domain"
)

// AuthState is the processor-side state of a charge, reduced to what the rental engine acts on
type AuthState string

const (
	AuthStatePending        AuthState = "pending"
	AuthStateRequiresAction AuthState = "requires_action"
	AuthStateAuthorized     AuthState = "authorized"
	AuthStateCaptured       AuthState = "captured"
	AuthStateReversed       AuthState = "reversed"
	AuthStateFailed         AuthState = "failed"
)

// Purpose tags a charge so webhook events can be routed back
type Purpose string

const (
	PurposeRental  Purpose = "rental"
	PurposeLateFee Purpose = "late_fee"
)

// Metadata keys written on every processor object
const (
	MetaTransactionID  = "transaction_id"
	MetaPurpose        = "purpose"
	MetaIdempotencyKey = "idempotency_key"
	MetaUserID         = "user_id"
)

type AuthorizeRequest struct {
	AmountCents   int64
	CustomerRef   string
	TransactionID string
	Purpose       Purpose
	// ManualCapture reserves funds without moving them
	ManualCapture  bool
	IdempotencyKey string
	Description    string
}

type Authorization struct {
	Ref           string
	State         AuthState
	AmountCents   int64
	RefundedCents int64
	AuthorizeURI  string
	FailureReason string
	TransactionID string
}

// RequiresAction reports whether the payer must complete a step on the client
func (a *Authorization) RequiresAction() bool {
	return a.State == AuthStateRequiresAction
}

type RefundResult struct {
	Ref         string
	AmountCents int64
}

type TransferRequest struct {
	AmountCents     int64
	PayeeAccountRef string
	TransactionID   string
	IdempotencyKey  string
}

type TransferResult struct {
	Ref         string
	AmountCents int64
}

// Gateway is the narrow surface the rental engine uses to move money.
// Implementations never retry; callers pass a stable idempotency key per logical operation.
type Gateway interface {
	Name() string
	Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error)
	GetAuthorization(ctx context.Context, ref string) (*Authorization, error)
	Capture(ctx context.Context, ref, idempotencyKey string) (*Authorization, error)
	// Refund returns the remaining captured amount when amountCents is nil
	Refund(ctx context.Context, ref string, amountCents *int64, idempotencyKey string) (*RefundResult, error)
	Release(ctx context.Context, ref, idempotencyKey string) error
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	CreateCustomerIfAbsent(ctx context.Context, userID, email, existingRef string) (string, error)
}

// Limits bounds every outbound amount before any network call
type Limits struct {
	MinCents int64
	MaxCents int64
}

// CheckCharge validates an authorize or transfer amount
func (l Limits) CheckCharge(amountCents int64) error {
	if amountCents < l.MinCents {
		return domain.Validation("amount %d is below the minimum of %d", amountCents, l.MinCents)
	}
	if l.MaxCents > 0 && amountCents > l.MaxCents {
		return domain.Validation("amount %d exceeds the maximum of %d", amountCents, l.MaxCents)
	}
	return nil
}

// CheckRefund validates a partial refund amount. The minimum does not apply
// because deposit remainders can be arbitrarily small.
func (l Limits) CheckRefund(amountCents int64) error {
	if amountCents <= 0 {
		return domain.Validation("refund amount must be positive, got %d", amountCents)
	}
	if l.MaxCents > 0 && amountCents > l.MaxCents {
		return domain.Validation("refund amount %d exceeds the maximum of %d", amountCents, l.MaxCents)
	}
	return nil
}

// IdempotencyKey builds the stable key for one logical operation on a transaction
func IdempotencyKey(transactionID, operation string) string {
	return fmt.Sprintf("%s:%s", transactionID, operation)
}

// IsTimeout reports whether the outcome of a call is unknown
func IsTimeout(err error) bool {
	return errors.Is(err, domain.ErrGatewayTimeout)
}
