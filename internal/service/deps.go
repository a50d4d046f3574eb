package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"rental-payments-backend/internal/domain"
	"rental-payments-backend/internal/gateway"
	"rental-payments-backend/internal/logger"
	"rental-payments-backend/internal/repository"
)

// RentalPolicy holds the business constants applied to new and settling rentals
type RentalPolicy struct {
	MinDays           int64
	MaxDays           int64
	PlatformFeeRate   decimal.Decimal
	RequestTTL        time.Duration
	DamageClaimWindow time.Duration
}

// Dependencies is shared by the state machine, the webhook reconciler and settlement
type Dependencies struct {
	Rentals       repository.RentalRepository
	Listings      repository.ListingRepository
	Members       repository.MemberRepository
	WebhookEvents repository.WebhookEventRepository
	Locker        repository.TransactionLocker
	Gateway       gateway.Gateway
	Access        AccessService
	Notifier      Notifier
	Publisher     EventPublisher
	Policy        RentalPolicy
	Clock         func() time.Time
}

// RentalEvent is published to the broker after every persisted change
type RentalEvent struct {
	Event      string `json:"event"`
	Version    int    `json:"version"`
	OccurredAt string `json:"occurred_at"`
	Data       struct {
		TransactionID string               `json:"transaction_id"`
		ListingID     string               `json:"listing_id"`
		BorrowerID    string               `json:"borrower_id"`
		LenderID      string               `json:"lender_id"`
		Status        domain.RentalStatus  `json:"status"`
		PaymentStatus domain.PaymentStatus `json:"payment_status"`
		AmountCents   int64                `json:"amount_cents,omitempty"`
	} `json:"data"`
}

func (d *Dependencies) now() time.Time {
	if d.Clock != nil {
		return d.Clock().UTC()
	}
	return time.Now().UTC()
}

func (d *Dependencies) withLock(ctx context.Context, transactionID string, fn func() error) error {
	unlock, err := d.Locker.Lock(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("lock transaction %s: %w", transactionID, err)
	}
	defer unlock()
	return fn()
}

func (d *Dependencies) notify(ctx context.Context, userID string, typ domain.NotificationType, rt *domain.RentalTransaction, title, message string) {
	if d.Notifier == nil {
		return
	}
	d.Notifier.Notify(ctx, &domain.Notification{
		UserID:        userID,
		Type:          typ,
		TransactionID: rt.ID,
		Title:         title,
		Message:       message,
	})
}

func (d *Dependencies) publish(ctx context.Context, event string, rt *domain.RentalTransaction, amountCents int64) {
	if d.Publisher == nil {
		return
	}
	evt := RentalEvent{
		Event:      event,
		Version:    1,
		OccurredAt: d.now().Format(time.RFC3339),
	}
	evt.Data.TransactionID = rt.ID
	evt.Data.ListingID = rt.ListingID
	evt.Data.BorrowerID = rt.BorrowerID
	evt.Data.LenderID = rt.LenderID
	evt.Data.Status = rt.Status
	evt.Data.PaymentStatus = rt.PaymentStatus
	evt.Data.AmountCents = amountCents

	err := d.Publisher.PublishJSON(ctx, event, evt)
	logger.ExternalServiceResult("rabbitmq", event, err, "transactionID", rt.ID)
}

// refundDeposit returns the part of the deposit that is neither claimed nor already
// refunded. It only mutates rt in memory; the caller persists.
func (d *Dependencies) refundDeposit(ctx context.Context, rt *domain.RentalTransaction) error {
	target := rt.DepositCents - rt.ClaimCents()
	owed := target - rt.DepositRefundedCents
	if owed <= 0 {
		return nil
	}
	key := gateway.IdempotencyKey(rt.ID, fmt.Sprintf("refund-deposit-%d", target))
	if _, err := d.Gateway.Refund(ctx, rt.PaymentIntentRef, &owed, key); err != nil {
		return err
	}
	rt.DepositRefundedCents = target
	return nil
}

// payout transfers the lender's share plus any damage claim and persists the result
func (d *Dependencies) payout(ctx context.Context, rt *domain.RentalTransaction) error {
	lender, err := d.Members.GetByID(ctx, rt.LenderID)
	if err != nil {
		return err
	}

	amount := rt.LenderPayoutCents + rt.ClaimCents()
	if amount > 0 {
		if lender.PayoutAccountRef == "" {
			return &domain.AccessError{NextStep: domain.AccessStepConnect}
		}
		res, err := d.Gateway.Transfer(ctx, gateway.TransferRequest{
			AmountCents:     amount,
			PayeeAccountRef: lender.PayoutAccountRef,
			TransactionID:   rt.ID,
			IdempotencyKey:  gateway.IdempotencyKey(rt.ID, "payout"),
		})
		if err != nil {
			return err
		}
		rt.TransferRef = res.Ref
	}

	from := rt.PaymentStatus
	if rt.DamageClaimCents == nil {
		rt.PaymentStatus = domain.PaymentStatusCompleted
	}
	if err := d.Rentals.Update(ctx, rt); err != nil {
		logger.Error("Payout sent but not recorded", "transactionID", rt.ID, "transferRef", rt.TransferRef, "error", err)
		return err
	}
	logger.Transition(rt.ID, "payout", from, rt.PaymentStatus, "amount", amount, "transferRef", rt.TransferRef)

	d.notify(ctx, rt.LenderID, domain.NotificationPayoutSent, rt, "Payout sent",
		fmt.Sprintf("Your payout of %s for this rental is on its way.", formatCents(amount)))
	d.publish(ctx, "rental.payout_sent", rt, amount)
	return nil
}

func formatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
