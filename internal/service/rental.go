package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"rental-payments-backend/internal/domain"
	"rental-payments-backend/internal/gateway"
	"rental-payments-backend/internal/logger"
	"rental-payments-backend/internal/utils"
)

const minDamageNotesLength = 10

type rentalService struct {
	*Dependencies
}

func NewRentalService(deps *Dependencies) RentalService {
	return &rentalService{Dependencies: deps}
}

func (s *rentalService) Request(ctx context.Context, in RequestInput) (*domain.RentalTransaction, error) {
	logger.EnterMethod("rentalService.Request", "borrowerID", in.BorrowerID, "listingID", in.ListingID)

	if in.BorrowerID == "" || in.ListingID == "" {
		return nil, domain.Validation("borrower and listing are required")
	}
	days, err := utils.RentalDays(in.StartDate, in.EndDate)
	if err != nil {
		return nil, domain.Validation("%s", err.Error())
	}
	if days < s.Policy.MinDays || days > s.Policy.MaxDays {
		return nil, domain.Validation("rental must last between %d and %d days, got %d", s.Policy.MinDays, s.Policy.MaxDays, days)
	}

	listing, err := s.Listings.GetByID(ctx, in.ListingID)
	if err != nil {
		return nil, err
	}
	if listing.OwnerID == in.BorrowerID {
		return nil, domain.Validation("cannot rent your own listing")
	}
	if listing.Status != domain.ListingStatusAvailable {
		return nil, domain.StatelessPrecondition("listing is not available")
	}
	if listing.RequiresVerifiedAccess {
		if err := s.Access.RequireUnlocked(ctx, in.BorrowerID); err != nil {
			return nil, err
		}
	}

	dailyRateCents := utils.ToMinorUnits(listing.DailyRate)
	if dailyRateCents <= 0 {
		return nil, domain.StatelessPrecondition("listing has no daily rate")
	}
	fees := utils.CalculateFees(dailyRateCents, days, s.Policy.PlatformFeeRate)

	rt := &domain.RentalTransaction{
		ID:                 uuid.NewString(),
		BorrowerID:         in.BorrowerID,
		LenderID:           listing.OwnerID,
		ListingID:          listing.ID,
		RequestedStartDate: in.StartDate,
		RequestedEndDate:   in.EndDate,
		RentalDays:         fees.RentalDays,
		DailyRateCents:     fees.DailyRateCents,
		RentalFeeCents:     fees.RentalFeeCents,
		DepositCents:       listing.DepositCents,
		LateFeePerDayCents: listing.LateFeePerDayCents,
		PlatformFeeRate:    s.Policy.PlatformFeeRate,
		PlatformFeeCents:   fees.PlatformFeeCents,
		LenderPayoutCents:  fees.LenderPayoutCents,
		Status:             domain.RentalStatusRequested,
		PaymentStatus:      domain.PaymentStatusPending,
		Message:            strings.TrimSpace(in.Message),
	}
	if err := s.Rentals.Create(ctx, rt); err != nil {
		logger.ExitMethodWithError("rentalService.Request", err)
		return nil, err
	}
	logger.Transition(rt.ID, "request", "", rt.Status, "rentalFee", rt.RentalFeeCents, "deposit", rt.DepositCents)

	s.notify(ctx, rt.LenderID, domain.NotificationRentalRequested, rt, "New Rental Request",
		fmt.Sprintf("You have a new request to rent %s for %d days", listing.Title, rt.RentalDays))
	s.publish(ctx, "rental.requested", rt, rt.HoldAmountCents())

	logger.ExitMethod("rentalService.Request", "transactionID", rt.ID)
	return rt, nil
}

func (s *rentalService) Approve(ctx context.Context, lenderID, transactionID, response string) (*domain.RentalTransaction, error) {
	logger.EnterMethod("rentalService.Approve", "lenderID", lenderID, "transactionID", transactionID)

	var out *domain.RentalTransaction
	err := s.withLock(ctx, transactionID, func() error {
		rt, err := s.Rentals.GetForLender(ctx, transactionID, lenderID)
		if err != nil {
			return err
		}
		retry := rt.Status == domain.RentalStatusApproved && rt.PaymentStatus == domain.PaymentStatusFailed
		if rt.Status != domain.RentalStatusRequested && !retry {
			return domain.Precondition("rental is not awaiting approval")
		}

		listing, err := s.Listings.GetByID(ctx, rt.ListingID)
		if err != nil {
			return err
		}
		// A retried approval already holds the listing.
		if !retry && listing.Status == domain.ListingStatusUnavailable {
			return domain.StatelessPrecondition("listing is already committed to another rental")
		}
		if listing.RequiresVerifiedAccess {
			err = s.Access.RequireUnlocked(ctx, lenderID)
		} else {
			err = s.Access.RequirePayoutAccount(ctx, lenderID)
		}
		if err != nil {
			return err
		}

		borrower, err := s.Members.GetByID(ctx, rt.BorrowerID)
		if err != nil {
			return err
		}
		customerRef, err := s.Gateway.CreateCustomerIfAbsent(ctx, borrower.ID, borrower.Email, borrower.ProcessorCustomerRef)
		if err != nil {
			return err
		}
		if customerRef != borrower.ProcessorCustomerRef {
			if err := s.Members.SetCustomerRef(ctx, borrower.ID, customerRef); err != nil {
				return err
			}
		}

		auth, err := s.Gateway.Authorize(ctx, gateway.AuthorizeRequest{
			AmountCents:    rt.HoldAmountCents(),
			CustomerRef:    customerRef,
			TransactionID:  rt.ID,
			Purpose:        gateway.PurposeRental,
			ManualCapture:  true,
			IdempotencyKey: authorizeKey(rt, retry),
			Description:    fmt.Sprintf("Rental of %s", listing.Title),
		})
		if err != nil {
			return err
		}

		now := s.now()
		from := rt.Status
		rt.Status = domain.RentalStatusApproved
		rt.PaymentStatus = domain.PaymentStatusPending
		rt.PaymentIntentRef = auth.Ref
		if r := strings.TrimSpace(response); r != "" || !retry {
			rt.LenderResponse = r
		}
		rt.ApprovedAt = &now
		if err := s.Rentals.Update(ctx, rt); err != nil {
			// The hold carries the transaction ID in its metadata, so the capturable webhook can still adopt it.
			logger.Error("Hold placed but approval not recorded", "transactionID", rt.ID, "paymentRef", auth.Ref, "error", err)
			return err
		}
		logger.Transition(rt.ID, "approve", from, rt.Status, "paymentRef", auth.Ref, "hold", rt.HoldAmountCents(), "retry", retry)

		if err := s.Listings.SetStatus(ctx, rt.ListingID, domain.ListingStatusUnavailable); err != nil {
			logger.Warn("Failed to mark listing unavailable", "listingID", rt.ListingID, "error", err)
		}

		s.notify(ctx, rt.BorrowerID, domain.NotificationRentalApproved, rt, "Rental Approved",
			fmt.Sprintf("Your request for %s was approved. Confirm payment of %s to continue.", listing.Title, formatCents(rt.HoldAmountCents())))
		s.publish(ctx, "rental.approved", rt, rt.HoldAmountCents())
		out = rt
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("rentalService.Approve", err, "transactionID", transactionID)
		return nil, err
	}
	logger.ExitMethod("rentalService.Approve", "transactionID", transactionID)
	return out, nil
}

// authorizeKey is stable for one approval attempt. A retry after a failed
// charge is keyed by that charge so the processor places a fresh hold.
func authorizeKey(rt *domain.RentalTransaction, retry bool) string {
	if retry {
		return gateway.IdempotencyKey(rt.ID, "authorize-after-"+rt.PaymentIntentRef)
	}
	return gateway.IdempotencyKey(rt.ID, "authorize")
}

func (s *rentalService) Decline(ctx context.Context, lenderID, transactionID, reason string) (*domain.RentalTransaction, error) {
	logger.EnterMethod("rentalService.Decline", "lenderID", lenderID, "transactionID", transactionID)

	var out *domain.RentalTransaction
	err := s.withLock(ctx, transactionID, func() error {
		rt, err := s.Rentals.GetForLender(ctx, transactionID, lenderID)
		if err != nil {
			return err
		}
		failedHold := rt.Status == domain.RentalStatusApproved && rt.PaymentStatus == domain.PaymentStatusFailed
		if rt.Status != domain.RentalStatusRequested && !failedHold {
			return domain.Precondition("rental is not awaiting approval")
		}
		if rt.PaymentIntentRef != "" && !failedHold {
			if err := s.Gateway.Release(ctx, rt.PaymentIntentRef, gateway.IdempotencyKey(rt.ID, "release")); err != nil {
				return err
			}
		}

		now := s.now()
		from := rt.Status
		rt.Status = domain.RentalStatusCancelled
		rt.PaymentStatus = domain.PaymentStatusCancelled
		rt.DeclineReason = strings.TrimSpace(reason)
		rt.CancelledAt = &now
		if err := s.Rentals.Update(ctx, rt); err != nil {
			return err
		}
		logger.Transition(rt.ID, "decline", from, rt.Status)

		if from == domain.RentalStatusApproved {
			if err := s.Listings.SetStatus(ctx, rt.ListingID, domain.ListingStatusAvailable); err != nil {
				logger.Warn("Failed to mark listing available", "listingID", rt.ListingID, "error", err)
			}
		}

		message := "Your rental request was declined."
		if rt.DeclineReason != "" {
			message = fmt.Sprintf("Your rental request was declined: %s", rt.DeclineReason)
		}
		s.notify(ctx, rt.BorrowerID, domain.NotificationRentalDeclined, rt, "Rental Declined", message)
		s.publish(ctx, "rental.declined", rt, 0)
		out = rt
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("rentalService.Decline", err, "transactionID", transactionID)
		return nil, err
	}
	logger.ExitMethod("rentalService.Decline", "transactionID", transactionID)
	return out, nil
}

// ConfirmPayment reports what the borrower's client must do to finish the
// outstanding authorization. The paid transition itself arrives by webhook.
func (s *rentalService) ConfirmPayment(ctx context.Context, borrowerID, transactionID string) (*domain.ClientAction, error) {
	logger.EnterMethod("rentalService.ConfirmPayment", "borrowerID", borrowerID, "transactionID", transactionID)

	rt, err := s.Rentals.GetForBorrower(ctx, transactionID, borrowerID)
	if err != nil {
		return nil, err
	}

	var ref string
	switch {
	case rt.LateFeeStatus == domain.LateFeeStatusPending && rt.LateFeeRef != "":
		ref = rt.LateFeeRef
	case (rt.Status == domain.RentalStatusApproved || rt.Status == domain.RentalStatusPaid) && rt.PaymentIntentRef != "":
		ref = rt.PaymentIntentRef
	default:
		return nil, domain.Precondition("no payment awaiting confirmation")
	}

	auth, err := s.Gateway.GetAuthorization(ctx, ref)
	if err != nil {
		logger.ExitMethodWithError("rentalService.ConfirmPayment", err, "transactionID", transactionID)
		return nil, err
	}
	logger.ExitMethod("rentalService.ConfirmPayment", "transactionID", transactionID, "state", auth.State)
	return clientAction(rt.ID, auth), nil
}

func (s *rentalService) Pickup(ctx context.Context, lenderID, transactionID string, condition domain.ItemCondition) (*domain.RentalTransaction, error) {
	logger.EnterMethod("rentalService.Pickup", "lenderID", lenderID, "transactionID", transactionID)

	if !condition.Valid() {
		return nil, domain.Validation("unknown item condition %q", condition)
	}

	var out *domain.RentalTransaction
	err := s.withLock(ctx, transactionID, func() error {
		rt, err := s.Rentals.GetForLender(ctx, transactionID, lenderID)
		if err != nil {
			return err
		}
		if rt.Status != domain.RentalStatusPaid || rt.PaymentStatus != domain.PaymentStatusAuthorized {
			return domain.Precondition("payment is not authorized")
		}

		if _, err := s.Gateway.Capture(ctx, rt.PaymentIntentRef, gateway.IdempotencyKey(rt.ID, "capture")); err != nil {
			return err
		}

		now := s.now()
		from := rt.Status
		rt.Status = domain.RentalStatusPickedUp
		rt.PaymentStatus = domain.PaymentStatusCaptured
		rt.ConditionAtPickup = condition
		rt.PickedUpAt = &now
		if err := s.Rentals.Update(ctx, rt); err != nil {
			logger.Error("Payment captured but pickup not recorded", "transactionID", rt.ID, "paymentRef", rt.PaymentIntentRef, "error", err)
			return err
		}
		logger.Transition(rt.ID, "pickup", from, rt.Status, "condition", condition)

		s.notify(ctx, rt.BorrowerID, domain.NotificationRentalPickedUp, rt, "Rental Picked Up",
			fmt.Sprintf("Pickup confirmed. The rental fee of %s was charged.", formatCents(rt.RentalFeeCents)))
		s.publish(ctx, "rental.picked_up", rt, rt.HoldAmountCents())
		out = rt
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("rentalService.Pickup", err, "transactionID", transactionID)
		return nil, err
	}
	logger.ExitMethod("rentalService.Pickup", "transactionID", transactionID)
	return out, nil
}

func (s *rentalService) ReturnItem(ctx context.Context, lenderID, transactionID string, condition domain.ItemCondition, notes string) (*domain.RentalTransaction, error) {
	logger.EnterMethod("rentalService.ReturnItem", "lenderID", lenderID, "transactionID", transactionID)

	if !condition.Valid() {
		return nil, domain.Validation("unknown item condition %q", condition)
	}

	var out *domain.RentalTransaction
	err := s.withLock(ctx, transactionID, func() error {
		rt, err := s.Rentals.GetForLender(ctx, transactionID, lenderID)
		if err != nil {
			return err
		}
		if rt.Status != domain.RentalStatusPickedUp {
			return domain.Precondition("rental is not picked up")
		}

		degraded := condition.DegradedFrom(rt.ConditionAtPickup)
		if !degraded {
			if err := s.refundDeposit(ctx, rt); err != nil {
				return err
			}
		}

		now := s.now()
		from := rt.Status
		rt.Status = domain.RentalStatusReturned
		rt.ConditionAtReturn = condition
		rt.ConditionDegraded = degraded
		rt.ReturnNotes = strings.TrimSpace(notes)
		rt.ReturnedAt = &now
		if err := s.Rentals.Update(ctx, rt); err != nil {
			logger.Error("Return not recorded", "transactionID", rt.ID, "depositRefunded", rt.DepositRefundedCents, "error", err)
			return err
		}
		logger.Transition(rt.ID, "return", from, rt.Status, "condition", condition, "degraded", degraded)

		if err := s.Listings.MarkReturned(ctx, rt.ListingID); err != nil {
			logger.Warn("Failed to mark listing returned", "listingID", rt.ListingID, "error", err)
		}

		if degraded {
			s.notify(ctx, rt.BorrowerID, domain.NotificationRentalReturned, rt, "Rental Returned",
				"The lender reported a change in condition. Your deposit is held pending review.")
		} else {
			s.notify(ctx, rt.BorrowerID, domain.NotificationRentalReturned, rt, "Rental Returned",
				fmt.Sprintf("Return confirmed. Your deposit of %s was refunded.", formatCents(rt.DepositRefundedCents)))
			if err := s.payout(ctx, rt); err != nil {
				logger.Warn("Payout deferred to settlement", "transactionID", rt.ID, "error", err)
			}
		}
		s.publish(ctx, "rental.returned", rt, rt.DepositRefundedCents)
		out = rt
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("rentalService.ReturnItem", err, "transactionID", transactionID)
		return nil, err
	}
	logger.ExitMethod("rentalService.ReturnItem", "transactionID", transactionID)
	return out, nil
}

// DamageClaim records the lender's claim against the deposit. A repeated call
// replaces the earlier claim rather than adding to it. The unclaimed remainder is
// refunded at settlement, so every claim made before then can still be revised.
func (s *rentalService) DamageClaim(ctx context.Context, in DamageClaimInput) (*domain.RentalTransaction, error) {
	logger.EnterMethod("rentalService.DamageClaim", "lenderID", in.LenderID, "transactionID", in.TransactionID)

	notes := strings.TrimSpace(in.Notes)
	if len(notes) < minDamageNotesLength {
		return nil, domain.Validation("damage notes must be at least %d characters", minDamageNotesLength)
	}

	var out *domain.RentalTransaction
	err := s.withLock(ctx, in.TransactionID, func() error {
		rt, err := s.Rentals.GetForLender(ctx, in.TransactionID, in.LenderID)
		if err != nil {
			return err
		}
		if rt.Status != domain.RentalStatusReturned {
			return domain.Precondition("rental is not returned")
		}
		if rt.PaymentStatus != domain.PaymentStatusCaptured && rt.PaymentStatus != domain.PaymentStatusDamageClaimed {
			return domain.Precondition("deposit is no longer held")
		}
		if rt.TransferRef != "" {
			return domain.StatelessPrecondition("rental has already been settled")
		}

		claim := utils.ClampDamageClaim(in.AmountCents, rt.DepositCents)
		target := utils.DepositRefund(rt.DepositCents, claim)
		if target < rt.DepositRefundedCents {
			return domain.StatelessPrecondition(fmt.Sprintf("claim exceeds the deposit still held; %s was already refunded", formatCents(rt.DepositRefundedCents)))
		}

		rt.DamageClaimCents = &claim

		from := rt.PaymentStatus
		rt.PaymentStatus = domain.PaymentStatusDamageClaimed
		rt.DamageNotes = notes
		rt.DamageEvidenceURLs = in.EvidenceURLs
		if err := s.Rentals.Update(ctx, rt); err != nil {
			logger.Error("Damage claim not recorded", "transactionID", rt.ID, "depositRefunded", rt.DepositRefundedCents, "error", err)
			return err
		}
		logger.Transition(rt.ID, "damage_claim", from, rt.PaymentStatus, "claim", claim, "depositRefunded", rt.DepositRefundedCents)

		s.notify(ctx, rt.BorrowerID, domain.NotificationDamageClaimed, rt, "Damage Claim Filed",
			fmt.Sprintf("The lender claimed %s of your deposit: %s. The rest is refunded at settlement.", formatCents(claim), notes))
		s.publish(ctx, "rental.damage_claimed", rt, claim)
		out = rt
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("rentalService.DamageClaim", err, "transactionID", in.TransactionID)
		return nil, err
	}
	logger.ExitMethod("rentalService.DamageClaim", "transactionID", in.TransactionID)
	return out, nil
}

func (s *rentalService) LateFee(ctx context.Context, lenderID, transactionID string) (*domain.ClientAction, error) {
	logger.EnterMethod("rentalService.LateFee", "lenderID", lenderID, "transactionID", transactionID)

	var out *domain.ClientAction
	err := s.withLock(ctx, transactionID, func() error {
		rt, err := s.Rentals.GetForLender(ctx, transactionID, lenderID)
		if err != nil {
			return err
		}
		if rt.Status != domain.RentalStatusPickedUp && rt.Status != domain.RentalStatusReturned {
			return domain.Precondition("rental is not picked up")
		}
		if rt.LateFeeRef != "" && rt.LateFeeStatus != domain.LateFeeStatusFailed {
			return domain.StatelessPrecondition("late fee already charged")
		}

		days := utils.DaysOverdue(s.now(), rt.RequestedEndDate)
		if days == 0 {
			return domain.ErrNotOverdue
		}
		amount := utils.LateFee(rt.LateFeePerDayCents, days)
		if amount <= 0 {
			return domain.StatelessPrecondition("listing has no late fee")
		}

		borrower, err := s.Members.GetByID(ctx, rt.BorrowerID)
		if err != nil {
			return err
		}
		customerRef, err := s.Gateway.CreateCustomerIfAbsent(ctx, borrower.ID, borrower.Email, borrower.ProcessorCustomerRef)
		if err != nil {
			return err
		}

		auth, err := s.Gateway.Authorize(ctx, gateway.AuthorizeRequest{
			AmountCents:    amount,
			CustomerRef:    customerRef,
			TransactionID:  rt.ID,
			Purpose:        gateway.PurposeLateFee,
			ManualCapture:  false,
			IdempotencyKey: gateway.IdempotencyKey(rt.ID, fmt.Sprintf("late-fee-%d", days)),
			Description:    fmt.Sprintf("Late fee for %d days", days),
		})
		if err != nil {
			return err
		}

		from := rt.LateFeeStatus
		rt.LateFeeCents = amount
		rt.LateFeeRef = auth.Ref
		rt.LateFeeStatus = domain.LateFeeStatusPending
		if auth.State == gateway.AuthStateCaptured {
			rt.LateFeeStatus = domain.LateFeeStatusPaid
		}
		if err := s.Rentals.Update(ctx, rt); err != nil {
			logger.Error("Late fee charged but not recorded", "transactionID", rt.ID, "lateFeeRef", auth.Ref, "error", err)
			return err
		}
		logger.Transition(rt.ID, "late_fee", from, rt.LateFeeStatus, "daysOverdue", days, "amount", amount)

		s.notify(ctx, rt.BorrowerID, domain.NotificationLateFeeCharged, rt, "Late Fee Charged",
			fmt.Sprintf("A late fee of %s was charged for %d days overdue.", formatCents(amount), days))
		s.publish(ctx, "rental.late_fee_charged", rt, amount)
		out = clientAction(rt.ID, auth)
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("rentalService.LateFee", err, "transactionID", transactionID)
		return nil, err
	}
	logger.ExitMethod("rentalService.LateFee", "transactionID", transactionID)
	return out, nil
}

func (s *rentalService) GetPaymentStatus(ctx context.Context, userID, transactionID string) (*domain.PaymentStatusView, error) {
	rt, err := s.Rentals.GetForParty(ctx, transactionID, userID)
	if err != nil {
		return nil, err
	}
	return &domain.PaymentStatusView{
		TransactionID:        rt.ID,
		Status:               rt.Status,
		PaymentStatus:        rt.PaymentStatus,
		HoldAmountCents:      rt.HoldAmountCents(),
		DepositRefundedCents: rt.DepositRefundedCents,
		DamageClaimCents:     rt.DamageClaimCents,
		LateFeeCents:         rt.LateFeeCents,
		LateFeeStatus:        rt.LateFeeStatus,
		PayoutSent:           rt.TransferRef != "",
	}, nil
}

func clientAction(transactionID string, auth *gateway.Authorization) *domain.ClientAction {
	return &domain.ClientAction{
		TransactionID:  transactionID,
		PaymentRef:     auth.Ref,
		ProcessorState: string(auth.State),
		RequiresAction: auth.RequiresAction(),
		AuthorizeURI:   auth.AuthorizeURI,
		AmountCents:    auth.AmountCents,
	}
}
