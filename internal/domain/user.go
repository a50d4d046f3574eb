package domain

import "time"

// Member is a marketplace user as seen by the rental engine
type Member struct {
	ID                   string    `json:"id"`
	Email                string    `json:"email"`
	Name                 string    `json:"name"`
	DeviceToken          string    `json:"-"`
	SubscriptionActive   bool      `json:"subscription_active"`
	IdentityVerified     bool      `json:"identity_verified"`
	PayoutAccountRef     string    `json:"-"`
	ProcessorCustomerRef string    `json:"-"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// AccessStep is the next requirement in the progressive unlock
type AccessStep string

const (
	AccessStepSubscription AccessStep = "subscription"
	AccessStepVerification AccessStep = "verification"
	AccessStepConnect      AccessStep = "connect"
	AccessStepNone         AccessStep = ""
)

// AccessStatus is computed on demand from the member profile
type AccessStatus struct {
	UserID       string     `json:"user_id"`
	Subscribed   bool       `json:"subscribed"`
	Verified     bool       `json:"verified"`
	PayoutLinked bool       `json:"payout_linked"`
	NextStep     AccessStep `json:"next_step"`
}

// Unlocked reports whether every stage is complete
func (a AccessStatus) Unlocked() bool {
	return a.NextStep == AccessStepNone
}
