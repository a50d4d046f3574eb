package repository

import (
	"context"
	"time"

	"rental-payments-backend/internal/domain"
)

// RentalRepository is the transaction state store. Party-scoped getters filter by
// the role column in the query itself and return domain.ErrNotFoundOrForbidden
// for both a missing row and a caller without that role.
type RentalRepository interface {
	Create(ctx context.Context, rt *domain.RentalTransaction) error
	GetByID(ctx context.Context, id string) (*domain.RentalTransaction, error)
	GetForLender(ctx context.Context, id, lenderID string) (*domain.RentalTransaction, error)
	GetForBorrower(ctx context.Context, id, borrowerID string) (*domain.RentalTransaction, error)
	GetForParty(ctx context.Context, id, userID string) (*domain.RentalTransaction, error)
	GetByPaymentRef(ctx context.Context, ref string) (*domain.RentalTransaction, error)
	GetByLateFeeRef(ctx context.Context, ref string) (*domain.RentalTransaction, error)
	// Update writes rt if its version is unchanged and bumps it; otherwise domain.ErrConcurrentUpdate
	Update(ctx context.Context, rt *domain.RentalTransaction) error
	ListStaleRequested(ctx context.Context, createdBefore time.Time, limit int) ([]domain.RentalTransaction, error)
	ListAwaitingSettlement(ctx context.Context, limit int) ([]domain.RentalTransaction, error)
	ListCancelledWithHold(ctx context.Context, limit int) ([]domain.RentalTransaction, error)
}

type ListingRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Listing, error)
	SetStatus(ctx context.Context, id string, status domain.ListingStatus) error
	// MarkReturned makes the listing available again and counts the completed borrow
	MarkReturned(ctx context.Context, id string) error
}

// AccessUpdate carries the profile flags a webhook may change; nil fields are left alone
type AccessUpdate struct {
	SubscriptionActive *bool
	IdentityVerified   *bool
	PayoutAccountRef   *string
}

type MemberRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Member, error)
	SetCustomerRef(ctx context.Context, id, customerRef string) error
	UpdateAccess(ctx context.Context, id string, update AccessUpdate) error
}

// WebhookEventRepository is the dedup ledger
type WebhookEventRepository interface {
	// Claim atomically records the event and reports false if it was already recorded
	Claim(ctx context.Context, eventID, eventType string) (bool, error)
	// Release removes a claim whose effect failed so the sender's retry is applied
	Release(ctx context.Context, eventID string) error
	Get(ctx context.Context, eventID string) (*domain.ProcessedWebhookEvent, error)
}

// TransactionLocker serializes all work on one rental transaction
type TransactionLocker interface {
	Lock(ctx context.Context, transactionID string) (unlock func(), err error)
}
