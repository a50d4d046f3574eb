package service

import (
	"context"
	"errors"

	"rental-payments-backend/internal/domain"
	"rental-payments-backend/internal/gateway"
	"rental-payments-backend/internal/logger"
	"rental-payments-backend/internal/repository"
)

type webhookService struct {
	*Dependencies
	verifier *gateway.SignatureVerifier
}

func NewWebhookService(deps *Dependencies, verifier *gateway.SignatureVerifier) WebhookService {
	return &webhookService{Dependencies: deps, verifier: verifier}
}

// HandleDelivery verifies, deduplicates and applies one processor event. An
// error means the sender should retry; the dedup claim is released so it can.
func (s *webhookService) HandleDelivery(ctx context.Context, body []byte, signature, timestamp string) (*WebhookOutcome, error) {
	logger.EnterMethod("webhookService.HandleDelivery", "bytes", len(body))

	if err := s.verifier.Verify(body, signature, timestamp); err != nil {
		logger.Warn("Rejected webhook delivery", "error", err)
		return nil, err
	}
	ev, err := gateway.ParseEvent(body)
	if err != nil {
		logger.Warn("Malformed webhook payload", "error", err)
		return nil, err
	}

	out := &WebhookOutcome{EventID: ev.ID, Type: ev.Type}
	if ev.Type == domain.EventUnhandled {
		logger.Debug("Ignoring webhook event", "eventID", ev.ID, "key", ev.ProcessorKey)
		out.Ignored = true
		return out, nil
	}

	claimed, err := s.WebhookEvents.Claim(ctx, ev.ID, ev.ProcessorKey)
	if err != nil {
		return nil, err
	}
	if !claimed {
		logger.Info("Duplicate webhook delivery", "eventID", ev.ID, "type", ev.Type)
		out.Duplicate = true
		return out, nil
	}

	ignored, err := s.apply(ctx, ev)
	if err != nil {
		if rerr := s.WebhookEvents.Release(ctx, ev.ID); rerr != nil {
			logger.Error("Failed to release webhook claim", "eventID", ev.ID, "error", rerr)
		}
		logger.ExitMethodWithError("webhookService.HandleDelivery", err, "eventID", ev.ID, "type", ev.Type)
		return nil, err
	}
	out.Ignored = ignored
	logger.ExitMethod("webhookService.HandleDelivery", "eventID", ev.ID, "type", ev.Type, "ignored", ignored)
	return out, nil
}

func (s *webhookService) apply(ctx context.Context, ev *domain.WebhookEvent) (bool, error) {
	switch ev.Type {
	case domain.EventSubscriptionPaid:
		active := true
		return s.updateAccess(ctx, ev, repository.AccessUpdate{SubscriptionActive: &active})
	case domain.EventSubscriptionCanceled:
		active := false
		return s.updateAccess(ctx, ev, repository.AccessUpdate{SubscriptionActive: &active})
	case domain.EventIdentityVerified:
		verified := true
		return s.updateAccess(ctx, ev, repository.AccessUpdate{IdentityVerified: &verified})
	case domain.EventPayoutAccountVerified:
		ref := ev.AccountRef
		return s.updateAccess(ctx, ev, repository.AccessUpdate{PayoutAccountRef: &ref})
	case domain.EventAuthorizationCapturable, domain.EventPaymentFailed,
		domain.EventPaymentCanceled, domain.EventPaymentSucceeded:
		return s.applyCharge(ctx, ev)
	}
	return true, nil
}

func (s *webhookService) updateAccess(ctx context.Context, ev *domain.WebhookEvent, update repository.AccessUpdate) (bool, error) {
	if ev.UserID == "" {
		logger.Warn("Access event without user", "eventID", ev.ID, "type", ev.Type)
		return true, nil
	}
	err := s.Members.UpdateAccess(ctx, ev.UserID, update)
	if errors.Is(err, domain.ErrNotFoundOrForbidden) {
		logger.Warn("Access event for unknown member", "eventID", ev.ID, "userID", ev.UserID)
		return true, nil
	}
	if err != nil {
		return false, err
	}
	logger.Info("Member access updated", "userID", ev.UserID, "type", ev.Type)
	return false, nil
}

// resolveTransaction finds the rental a charge event belongs to: by the main
// hold, then by the late fee charge, then by the transaction ID in metadata
// for holds whose creation timed out before the ref was stored.
func (s *webhookService) resolveTransaction(ctx context.Context, ev *domain.WebhookEvent) (string, error) {
	rt, err := s.Rentals.GetByPaymentRef(ctx, ev.PaymentRef)
	if err == nil {
		return rt.ID, nil
	}
	if !errors.Is(err, domain.ErrNotFoundOrForbidden) {
		return "", err
	}
	rt, err = s.Rentals.GetByLateFeeRef(ctx, ev.PaymentRef)
	if err == nil {
		return rt.ID, nil
	}
	if !errors.Is(err, domain.ErrNotFoundOrForbidden) {
		return "", err
	}
	if ev.TransactionID == "" {
		return "", domain.ErrNotFoundOrForbidden
	}
	rt, err = s.Rentals.GetByID(ctx, ev.TransactionID)
	if err != nil {
		return "", err
	}
	return rt.ID, nil
}

func (s *webhookService) applyCharge(ctx context.Context, ev *domain.WebhookEvent) (bool, error) {
	txID, err := s.resolveTransaction(ctx, ev)
	if errors.Is(err, domain.ErrNotFoundOrForbidden) {
		logger.Warn("Charge event for unknown transaction", "eventID", ev.ID, "paymentRef", ev.PaymentRef)
		return true, nil
	}
	if err != nil {
		return false, err
	}

	ignored := false
	err = s.withLock(ctx, txID, func() error {
		rt, err := s.Rentals.GetByID(ctx, txID)
		if err != nil {
			return err
		}
		switch {
		case rt.LateFeeRef != "" && rt.LateFeeRef == ev.PaymentRef:
			ignored, err = s.applyLateFee(ctx, rt, ev)
		case rt.PaymentIntentRef == ev.PaymentRef:
			ignored, err = s.applyHold(ctx, rt, ev, false)
		case rt.PaymentIntentRef == "" && ev.Type == domain.EventAuthorizationCapturable:
			logger.Info("Adopting hold from metadata", "transactionID", rt.ID, "paymentRef", ev.PaymentRef)
			rt.PaymentIntentRef = ev.PaymentRef
			ignored, err = s.applyHold(ctx, rt, ev, true)
		case ev.Type == domain.EventAuthorizationCapturable:
			err = s.releaseOrphan(ctx, rt, ev)
		default:
			ignored = true
		}
		return err
	})
	return ignored, err
}

// releaseOrphan voids a second hold for a transaction that already has one
func (s *webhookService) releaseOrphan(ctx context.Context, rt *domain.RentalTransaction, ev *domain.WebhookEvent) error {
	logger.Warn("Releasing orphaned hold", "transactionID", rt.ID, "paymentRef", ev.PaymentRef, "current", rt.PaymentIntentRef)
	return s.Gateway.Release(ctx, ev.PaymentRef, gateway.IdempotencyKey(rt.ID, "release-"+ev.PaymentRef))
}

// applyHold moves the rental along for an event on its hold. adopted marks a hold
// first learned from this event.
func (s *webhookService) applyHold(ctx context.Context, rt *domain.RentalTransaction, ev *domain.WebhookEvent, adopted bool) (bool, error) {
	now := s.now()
	fromStatus, fromPayment := rt.Status, rt.PaymentStatus

	switch ev.Type {
	case domain.EventAuthorizationCapturable:
		switch rt.Status {
		case domain.RentalStatusRequested, domain.RentalStatusApproved:
			if rt.Status == domain.RentalStatusRequested {
				rt.ApprovedAt = &now
				if err := s.Listings.SetStatus(ctx, rt.ListingID, domain.ListingStatusUnavailable); err != nil {
					logger.Warn("Failed to mark listing unavailable", "listingID", rt.ListingID, "error", err)
				}
			}
			rt.Status = domain.RentalStatusPaid
			rt.PaymentStatus = domain.PaymentStatusAuthorized
			rt.PaidAt = &now
		case domain.RentalStatusPaid:
			if rt.PaymentStatus == domain.PaymentStatusAuthorized {
				return true, nil
			}
			rt.PaymentStatus = domain.PaymentStatusAuthorized
		case domain.RentalStatusCancelled:
			// A late capturable for a hold that was already voided.
			if rt.PaymentStatus == domain.PaymentStatusCancelled && !adopted {
				return true, nil
			}
			err := s.Gateway.Release(ctx, rt.PaymentIntentRef, gateway.IdempotencyKey(rt.ID, "release"))
			if err != nil {
				logger.Warn("Hold on cancelled rental left for release job", "transactionID", rt.ID, "error", err)
				rt.PaymentStatus = domain.PaymentStatusAuthorized
			} else {
				rt.PaymentStatus = domain.PaymentStatusCancelled
			}
		default:
			return true, nil
		}

	case domain.EventPaymentFailed:
		if rt.PaymentStatus != domain.PaymentStatusPending && rt.PaymentStatus != domain.PaymentStatusAuthorized {
			return true, nil
		}
		rt.PaymentStatus = domain.PaymentStatusFailed

	case domain.EventPaymentCanceled:
		switch rt.Status {
		case domain.RentalStatusRequested, domain.RentalStatusApproved, domain.RentalStatusPaid:
			if rt.Status != domain.RentalStatusRequested {
				if err := s.Listings.SetStatus(ctx, rt.ListingID, domain.ListingStatusAvailable); err != nil {
					logger.Warn("Failed to mark listing available", "listingID", rt.ListingID, "error", err)
				}
			}
			rt.Status = domain.RentalStatusCancelled
			rt.PaymentStatus = domain.PaymentStatusCancelled
			rt.CancelledAt = &now
		case domain.RentalStatusCancelled:
			if rt.PaymentStatus == domain.PaymentStatusCancelled {
				return true, nil
			}
			rt.PaymentStatus = domain.PaymentStatusCancelled
		default:
			return true, nil
		}

	default:
		// Captures are recorded synchronously by pickup.
		return true, nil
	}

	if err := s.Rentals.Update(ctx, rt); err != nil {
		return false, err
	}
	logger.Transition(rt.ID, string(ev.Type), fromStatus, rt.Status, "paymentFrom", fromPayment, "paymentTo", rt.PaymentStatus)

	switch {
	case rt.Status == domain.RentalStatusPaid && fromStatus != domain.RentalStatusPaid:
		s.notify(ctx, rt.LenderID, domain.NotificationRentalPaid, rt, "Rental Paid",
			"The borrower's payment is authorized. Hand over the item at pickup.")
		s.notify(ctx, rt.BorrowerID, domain.NotificationRentalPaid, rt, "Payment Authorized",
			"Your payment is authorized. It will be charged at pickup.")
		s.publish(ctx, "rental.paid", rt, rt.HoldAmountCents())
	case rt.PaymentStatus == domain.PaymentStatusFailed:
		s.notify(ctx, rt.BorrowerID, domain.NotificationPaymentFailed, rt, "Payment Failed",
			"Your payment could not be authorized. Please try another payment method.")
		s.publish(ctx, "rental.payment_failed", rt, 0)
	case rt.Status == domain.RentalStatusCancelled && fromStatus != domain.RentalStatusCancelled:
		s.notify(ctx, rt.BorrowerID, domain.NotificationRentalCancelled, rt, "Rental Cancelled",
			"Your payment authorization was cancelled, so the rental was cancelled.")
		s.notify(ctx, rt.LenderID, domain.NotificationRentalCancelled, rt, "Rental Cancelled",
			"The borrower's payment authorization was cancelled, so the rental was cancelled.")
		s.publish(ctx, "rental.cancelled", rt, 0)
	}
	return false, nil
}

func (s *webhookService) applyLateFee(ctx context.Context, rt *domain.RentalTransaction, ev *domain.WebhookEvent) (bool, error) {
	from := rt.LateFeeStatus
	switch ev.Type {
	case domain.EventPaymentSucceeded:
		rt.LateFeeStatus = domain.LateFeeStatusPaid
	case domain.EventPaymentFailed, domain.EventPaymentCanceled:
		if rt.LateFeeStatus == domain.LateFeeStatusPaid {
			return true, nil
		}
		rt.LateFeeStatus = domain.LateFeeStatusFailed
	default:
		return true, nil
	}
	if rt.LateFeeStatus == from {
		return true, nil
	}

	if err := s.Rentals.Update(ctx, rt); err != nil {
		return false, err
	}
	logger.Transition(rt.ID, "late_fee."+string(ev.Type), from, rt.LateFeeStatus)

	if rt.LateFeeStatus == domain.LateFeeStatusFailed {
		s.notify(ctx, rt.BorrowerID, domain.NotificationPaymentFailed, rt, "Late Fee Payment Failed",
			"Your late fee payment failed. Please update your payment method.")
		s.notify(ctx, rt.LenderID, domain.NotificationPaymentFailed, rt, "Late Fee Payment Failed",
			"The borrower's late fee payment failed. You can charge it again.")
	}
	s.publish(ctx, "rental.late_fee_"+string(rt.LateFeeStatus), rt, rt.LateFeeCents)
	return false, nil
}
