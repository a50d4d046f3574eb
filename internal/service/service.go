package service

import (
	"context"
	"time"

	"rental-payments-backend/internal/domain"
)

// RequestInput is what a borrower submits to open a rental
type RequestInput struct {
	BorrowerID string
	ListingID  string
	StartDate  time.Time
	EndDate    time.Time
	Message    string
}

// DamageClaimInput is what a lender submits against the deposit
type DamageClaimInput struct {
	LenderID      string
	TransactionID string
	AmountCents   int64
	Notes         string
	EvidenceURLs  []string
}

// RentalService is the transaction state machine. Every transition runs under the
// per-transaction lock and makes at most one money-moving processor call before persisting.
type RentalService interface {
	Request(ctx context.Context, in RequestInput) (*domain.RentalTransaction, error)
	Approve(ctx context.Context, lenderID, transactionID, response string) (*domain.RentalTransaction, error)
	Decline(ctx context.Context, lenderID, transactionID, reason string) (*domain.RentalTransaction, error)
	ConfirmPayment(ctx context.Context, borrowerID, transactionID string) (*domain.ClientAction, error)
	Pickup(ctx context.Context, lenderID, transactionID string, condition domain.ItemCondition) (*domain.RentalTransaction, error)
	ReturnItem(ctx context.Context, lenderID, transactionID string, condition domain.ItemCondition, notes string) (*domain.RentalTransaction, error)
	DamageClaim(ctx context.Context, in DamageClaimInput) (*domain.RentalTransaction, error)
	LateFee(ctx context.Context, lenderID, transactionID string) (*domain.ClientAction, error)
	GetPaymentStatus(ctx context.Context, userID, transactionID string) (*domain.PaymentStatusView, error)
}

// WebhookOutcome reports what a delivery did, for logging and the HTTP response
type WebhookOutcome struct {
	EventID   string                  `json:"event_id"`
	Type      domain.WebhookEventType `json:"type"`
	Duplicate bool                    `json:"duplicate,omitempty"`
	Ignored   bool                    `json:"ignored,omitempty"`
}

// WebhookService is the reconciler for processor-initiated events
type WebhookService interface {
	HandleDelivery(ctx context.Context, body []byte, signature, timestamp string) (*WebhookOutcome, error)
}

type AccessService interface {
	GetStatus(ctx context.Context, userID string) (*domain.AccessStatus, error)
	// RequireUnlocked returns *domain.AccessError naming the first unmet step
	RequireUnlocked(ctx context.Context, userID string) error
	// RequirePayoutAccount returns *domain.AccessError when the member cannot receive payouts
	RequirePayoutAccount(ctx context.Context, userID string) error
}

// SettlementService runs the background money movements that follow a return
// and the maintenance that keeps holds and requests from lingering
type SettlementService interface {
	ExpireStaleRequests(ctx context.Context) (int, error)
	SettleReturned(ctx context.Context) (int, error)
	ReleaseCancelledHolds(ctx context.Context) (int, error)
}

// Notifier delivers best-effort messages; delivery failures never fail a transition
type Notifier interface {
	Notify(ctx context.Context, n *domain.Notification)
}

// EventPublisher emits rental domain events to the message broker
type EventPublisher interface {
	PublishJSON(ctx context.Context, routingKey string, v any) error
}
