package utils

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DateLayout is the wire format for rental dates
	DateLayout = "2006-01-02"
	day        = 24 * time.Hour
)

// FeeBreakdown is the money snapshot computed when a rental is requested
type FeeBreakdown struct {
	RentalDays        int64
	DailyRateCents    int64
	RentalFeeCents    int64
	PlatformFeeCents  int64
	LenderPayoutCents int64
}

// ParseDate parses a yyyy-mm-dd date as midnight UTC
func ParseDate(dateStr string) (time.Time, error) {
	t, err := time.Parse(DateLayout, dateStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date format, expected yyyy-mm-dd: %q", dateStr)
	}
	return t, nil
}

// RentalDays returns the ceiling of the span in whole days, at least 1.
// The end must be strictly after the start.
func RentalDays(start, end time.Time) (int64, error) {
	if !end.After(start) {
		return 0, fmt.Errorf("end date must be after start date")
	}
	span := end.Sub(start)
	days := int64((span + day - 1) / day)
	if days < 1 {
		days = 1
	}
	return days, nil
}

// ToMinorUnits converts a major-unit amount (e.g. 20.005) to cents, rounding half up
func ToMinorUnits(major decimal.Decimal) int64 {
	return major.Shift(2).Round(0).IntPart()
}

// PlatformFee returns round(rentalFee * rate) with halves rounded up so the
// platform never under-collects
func PlatformFee(rentalFeeCents int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(rentalFeeCents).Mul(rate).Round(0).IntPart()
}

// CalculateFees derives every fee from the daily rate and duration.
// LenderPayout + PlatformFee always equals RentalFee.
func CalculateFees(dailyRateCents, rentalDays int64, rate decimal.Decimal) FeeBreakdown {
	rentalFee := dailyRateCents * rentalDays
	platformFee := PlatformFee(rentalFee, rate)
	return FeeBreakdown{
		RentalDays:        rentalDays,
		DailyRateCents:    dailyRateCents,
		RentalFeeCents:    rentalFee,
		PlatformFeeCents:  platformFee,
		LenderPayoutCents: rentalFee - platformFee,
	}
}

// DaysOverdue returns whole calendar days between the end date and today, never negative
func DaysOverdue(today, endDate time.Time) int64 {
	diff := truncateDay(today).Sub(truncateDay(endDate))
	if diff <= 0 {
		return 0
	}
	return int64(diff / day)
}

// LateFee is lateFeePerDay * daysOverdue
func LateFee(lateFeePerDayCents, daysOverdue int64) int64 {
	if daysOverdue <= 0 {
		return 0
	}
	return lateFeePerDayCents * daysOverdue
}

// ClampDamageClaim bounds a requested claim to [0, deposit]
func ClampDamageClaim(requestedCents, depositCents int64) int64 {
	if requestedCents < 0 {
		return 0
	}
	if requestedCents > depositCents {
		return depositCents
	}
	return requestedCents
}

// DepositRefund is what goes back to the borrower after a claim
func DepositRefund(depositCents, claimCents int64) int64 {
	return depositCents - ClampDamageClaim(claimCents, depositCents)
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
