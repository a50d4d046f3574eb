package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ListingStatus string

const (
	ListingStatusAvailable   ListingStatus = "AVAILABLE"
	ListingStatusUnavailable ListingStatus = "UNAVAILABLE"
)

// Listing is the borrowable item. Listing CRUD lives elsewhere; the rental
// engine only reads pricing and flips availability.
type Listing struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Title   string `json:"title"`
	// DailyRate is stored in major units (e.g. 20.00) and converted to cents once per request.
	DailyRate          decimal.Decimal `json:"daily_rate"`
	DepositCents       int64           `json:"deposit_cents"`
	LateFeePerDayCents int64           `json:"late_fee_per_day_cents"`
	// RequiresVerifiedAccess marks listings that need the full access gate on both sides.
	RequiresVerifiedAccess bool          `json:"requires_verified_access"`
	Status                 ListingStatus `json:"status"`
	BorrowCount            int32         `json:"borrow_count"`
	CreatedAt              time.Time     `json:"created_at"`
}
