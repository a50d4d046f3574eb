package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RentalStatus tracks fulfillment progress
type RentalStatus string

const (
	RentalStatusRequested RentalStatus = "requested"
	RentalStatusApproved  RentalStatus = "approved"
	RentalStatusPaid      RentalStatus = "paid"
	RentalStatusPickedUp  RentalStatus = "picked_up"
	RentalStatusReturned  RentalStatus = "returned"
	RentalStatusCancelled RentalStatus = "cancelled"
)

// IsTerminal reports whether no further fulfillment transition is possible
func (s RentalStatus) IsTerminal() bool {
	return s == RentalStatusReturned || s == RentalStatusCancelled
}

// PaymentStatus tracks money movement, independently of fulfillment
type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "pending"
	PaymentStatusAuthorized    PaymentStatus = "authorized"
	PaymentStatusCaptured      PaymentStatus = "captured"
	PaymentStatusCompleted     PaymentStatus = "completed"
	PaymentStatusDamageClaimed PaymentStatus = "damage_claimed"
	PaymentStatusFailed        PaymentStatus = "failed"
	PaymentStatusCancelled     PaymentStatus = "cancelled"
)

// LateFeeStatus tracks the separate late fee charge
type LateFeeStatus string

const (
	LateFeeStatusNone    LateFeeStatus = ""
	LateFeeStatusPending LateFeeStatus = "pending"
	LateFeeStatusPaid    LateFeeStatus = "paid"
	LateFeeStatusFailed  LateFeeStatus = "failed"
)

// ItemCondition is ordered from best to worst
type ItemCondition string

const (
	ConditionNew     ItemCondition = "new"
	ConditionLikeNew ItemCondition = "like_new"
	ConditionGood    ItemCondition = "good"
	ConditionWorn    ItemCondition = "worn"
	ConditionDamaged ItemCondition = "damaged"
)

var conditionRank = map[ItemCondition]int{
	ConditionNew:     0,
	ConditionLikeNew: 1,
	ConditionGood:    2,
	ConditionWorn:    3,
	ConditionDamaged: 4,
}

// Valid reports whether c is a known condition
func (c ItemCondition) Valid() bool {
	_, ok := conditionRank[c]
	return ok
}

// Rank returns the ordinal position; higher is worse. Unknown conditions rank -1.
func (c ItemCondition) Rank() int {
	if r, ok := conditionRank[c]; ok {
		return r
	}
	return -1
}

// DegradedFrom reports whether c is worse than before
func (c ItemCondition) DegradedFrom(before ItemCondition) bool {
	return c.Rank() > before.Rank()
}

// RentalTransaction is the durable record of one rental from request to settlement.
// Money fields are integer minor units.
type RentalTransaction struct {
	ID         string `json:"id"`
	BorrowerID string `json:"borrower_id"`
	LenderID   string `json:"lender_id"`
	ListingID  string `json:"listing_id"`

	RequestedStartDate time.Time `json:"requested_start_date"`
	RequestedEndDate   time.Time `json:"requested_end_date"`
	RentalDays         int64     `json:"rental_days"`

	// Snapshot of pricing at request time. Nothing is re-derived from the listing later.
	DailyRateCents     int64           `json:"daily_rate_cents"`
	RentalFeeCents     int64           `json:"rental_fee_cents"`
	DepositCents       int64           `json:"deposit_cents"`
	LateFeePerDayCents int64           `json:"late_fee_per_day_cents"`
	PlatformFeeRate    decimal.Decimal `json:"platform_fee_rate"`
	PlatformFeeCents   int64           `json:"platform_fee_cents"`
	LenderPayoutCents  int64           `json:"lender_payout_cents"`

	DamageClaimCents     *int64   `json:"damage_claim_cents,omitempty"`
	DamageNotes          string   `json:"damage_notes,omitempty"`
	DamageEvidenceURLs   []string `json:"damage_evidence_urls,omitempty"`
	DepositRefundedCents int64    `json:"deposit_refunded_cents"`

	Status        RentalStatus  `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`

	PaymentIntentRef string `json:"payment_intent_ref,omitempty"`
	TransferRef      string `json:"transfer_ref,omitempty"`

	LateFeeCents  int64         `json:"late_fee_cents,omitempty"`
	LateFeeRef    string        `json:"late_fee_ref,omitempty"`
	LateFeeStatus LateFeeStatus `json:"late_fee_status,omitempty"`

	ConditionAtPickup ItemCondition `json:"condition_at_pickup,omitempty"`
	ConditionAtReturn ItemCondition `json:"condition_at_return,omitempty"`
	ConditionDegraded bool          `json:"condition_degraded"`

	Message        string `json:"message,omitempty"`
	LenderResponse string `json:"lender_response,omitempty"`
	DeclineReason  string `json:"decline_reason,omitempty"`
	ReturnNotes    string `json:"return_notes,omitempty"`

	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	PickedUpAt  *time.Time `json:"picked_up_at,omitempty"`
	ReturnedAt  *time.Time `json:"returned_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// HoldAmountCents is the amount reserved on approval
func (rt *RentalTransaction) HoldAmountCents() int64 {
	return rt.RentalFeeCents + rt.DepositCents
}

// ClaimCents returns the recorded damage claim or zero
func (rt *RentalTransaction) ClaimCents() int64 {
	if rt.DamageClaimCents == nil {
		return 0
	}
	return *rt.DamageClaimCents
}

// PaymentStatusView is what a party sees from GET /rentals/{id}/payment-status
type PaymentStatusView struct {
	TransactionID        string        `json:"transaction_id"`
	Status               RentalStatus  `json:"status"`
	PaymentStatus        PaymentStatus `json:"payment_status"`
	HoldAmountCents      int64         `json:"hold_amount_cents"`
	DepositRefundedCents int64         `json:"deposit_refunded_cents"`
	DamageClaimCents     *int64        `json:"damage_claim_cents,omitempty"`
	LateFeeCents         int64         `json:"late_fee_cents,omitempty"`
	LateFeeStatus        LateFeeStatus `json:"late_fee_status,omitempty"`
	PayoutSent           bool          `json:"payout_sent"`
}

// ClientAction carries what the borrower's client needs to finish a payment step
type ClientAction struct {
	TransactionID  string `json:"transaction_id"`
	PaymentRef     string `json:"payment_ref"`
	ProcessorState string `json:"processor_state"`
	RequiresAction bool   `json:"requires_action"`
	AuthorizeURI   string `json:"authorize_uri,omitempty"`
	AmountCents    int64  `json:"amount_cents"`
}
