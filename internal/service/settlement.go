package service

import (
	"context"
	"errors"

	"rental-payments-backend/internal/domain"
	"rental-payments-backend/internal/gateway"
	"rental-payments-backend/internal/logger"
)

const settlementBatchSize = 100

type settlementService struct {
	*Dependencies
}

func NewSettlementService(deps *Dependencies) SettlementService {
	return &settlementService{Dependencies: deps}
}

// ExpireStaleRequests cancels requests the lender never answered
func (s *settlementService) ExpireStaleRequests(ctx context.Context) (int, error) {
	logger.EnterMethod("settlementService.ExpireStaleRequests")

	cutoff := s.now().Add(-s.Policy.RequestTTL)
	stale, err := s.Rentals.ListStaleRequested(ctx, cutoff, settlementBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range stale {
		txID := stale[i].ID
		err := s.withLock(ctx, txID, func() error {
			rt, err := s.Rentals.GetByID(ctx, txID)
			if err != nil {
				return err
			}
			if rt.Status != domain.RentalStatusRequested {
				return nil
			}
			if rt.PaymentIntentRef != "" {
				if err := s.Gateway.Release(ctx, rt.PaymentIntentRef, gateway.IdempotencyKey(rt.ID, "release")); err != nil {
					return err
				}
			}

			now := s.now()
			rt.Status = domain.RentalStatusCancelled
			rt.PaymentStatus = domain.PaymentStatusCancelled
			rt.DeclineReason = "request expired"
			rt.CancelledAt = &now
			if err := s.Rentals.Update(ctx, rt); err != nil {
				return err
			}
			logger.Transition(rt.ID, "expire", domain.RentalStatusRequested, rt.Status)

			s.notify(ctx, rt.BorrowerID, domain.NotificationRentalCancelled, rt, "Rental Request Expired",
				"The lender did not respond to your request in time.")
			s.publish(ctx, "rental.expired", rt, 0)
			expired++
			return nil
		})
		if err != nil {
			logger.Error("Failed to expire rental request", "transactionID", txID, "error", err)
		}
	}

	logger.ExitMethod("settlementService.ExpireStaleRequests", "expired", expired, "candidates", len(stale))
	return expired, nil
}

// SettleReturned finishes money movement for returned rentals: deposit remainders
// after the damage claim window, and payouts that failed at return time.
func (s *settlementService) SettleReturned(ctx context.Context) (int, error) {
	logger.EnterMethod("settlementService.SettleReturned")

	pending, err := s.Rentals.ListAwaitingSettlement(ctx, settlementBatchSize)
	if err != nil {
		return 0, err
	}

	settled := 0
	for i := range pending {
		txID := pending[i].ID
		err := s.withLock(ctx, txID, func() error {
			rt, err := s.Rentals.GetByID(ctx, txID)
			if err != nil {
				return err
			}
			if !s.readyToSettle(rt) {
				return nil
			}

			before := rt.DepositRefundedCents
			if err := s.refundDeposit(ctx, rt); err != nil {
				return err
			}
			if rt.DepositRefundedCents != before {
				if err := s.Rentals.Update(ctx, rt); err != nil {
					logger.Error("Deposit refunded but not recorded", "transactionID", rt.ID, "depositRefunded", rt.DepositRefundedCents, "error", err)
					return err
				}
				logger.Info("Deposit remainder refunded", "transactionID", rt.ID, "amount", rt.DepositRefundedCents-before)
			}

			if err := s.payout(ctx, rt); err != nil {
				return err
			}
			settled++
			return nil
		})
		if err != nil {
			if errors.Is(err, domain.ErrAccessRequired) {
				logger.Warn("Lender cannot receive payouts yet", "transactionID", txID)
				continue
			}
			logger.Error("Failed to settle rental", "transactionID", txID, "error", err)
		}
	}

	logger.ExitMethod("settlementService.SettleReturned", "settled", settled, "candidates", len(pending))
	return settled, nil
}

func (s *settlementService) readyToSettle(rt *domain.RentalTransaction) bool {
	if rt.Status != domain.RentalStatusReturned || rt.TransferRef != "" {
		return false
	}
	if rt.PaymentStatus != domain.PaymentStatusCaptured && rt.PaymentStatus != domain.PaymentStatusDamageClaimed {
		return false
	}
	if !rt.ConditionDegraded {
		return true
	}
	if rt.ReturnedAt == nil {
		return false
	}
	return !s.now().Before(rt.ReturnedAt.Add(s.Policy.DamageClaimWindow))
}

// ReleaseCancelledHolds voids holds still reserved on cancelled rentals
func (s *settlementService) ReleaseCancelledHolds(ctx context.Context) (int, error) {
	logger.EnterMethod("settlementService.ReleaseCancelledHolds")

	held, err := s.Rentals.ListCancelledWithHold(ctx, settlementBatchSize)
	if err != nil {
		return 0, err
	}

	released := 0
	for i := range held {
		txID := held[i].ID
		err := s.withLock(ctx, txID, func() error {
			rt, err := s.Rentals.GetByID(ctx, txID)
			if err != nil {
				return err
			}
			if rt.Status != domain.RentalStatusCancelled || rt.PaymentStatus != domain.PaymentStatusAuthorized {
				return nil
			}
			if err := s.Gateway.Release(ctx, rt.PaymentIntentRef, gateway.IdempotencyKey(rt.ID, "release")); err != nil {
				return err
			}
			rt.PaymentStatus = domain.PaymentStatusCancelled
			if err := s.Rentals.Update(ctx, rt); err != nil {
				return err
			}
			logger.Transition(rt.ID, "release_hold", domain.PaymentStatusAuthorized, rt.PaymentStatus)
			released++
			return nil
		})
		if err != nil {
			logger.Error("Failed to release hold", "transactionID", txID, "error", err)
		}
	}

	logger.ExitMethod("settlementService.ReleaseCancelledHolds", "released", released, "candidates", len(held))
	return released, nil
}
