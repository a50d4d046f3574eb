package domain

import "time"

// WebhookEventType is the processor event normalized to what this system acts on
type WebhookEventType string

const (
	EventAuthorizationCapturable WebhookEventType = "authorization.capturable"
	EventPaymentFailed           WebhookEventType = "payment.failed"
	EventPaymentCanceled         WebhookEventType = "payment.canceled"
	EventPaymentSucceeded        WebhookEventType = "payment.succeeded"
	EventSubscriptionPaid        WebhookEventType = "subscription.paid"
	EventSubscriptionCanceled    WebhookEventType = "subscription.canceled"
	EventIdentityVerified        WebhookEventType = "identity.verified"
	EventPayoutAccountVerified   WebhookEventType = "payout_account.verified"
	EventUnhandled               WebhookEventType = "unhandled"
)

// WebhookEvent is ephemeral; only its ID survives in the dedup ledger
type WebhookEvent struct {
	ID           string           `json:"id"`
	Type         WebhookEventType `json:"type"`
	ProcessorKey string           `json:"processor_key"`
	// PaymentRef is the charge handle the event is about, if any.
	PaymentRef string `json:"payment_ref,omitempty"`
	// TransactionID comes from charge metadata and lets timed-out calls be matched later.
	TransactionID string    `json:"transaction_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	AccountRef    string    `json:"account_ref,omitempty"`
	AmountCents   int64     `json:"amount_cents,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// ProcessedWebhookEvent is a dedup ledger row
type ProcessedWebhookEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	ProcessedAt time.Time `json:"processed_at"`
}
