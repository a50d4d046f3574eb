package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rental-payments-backend/internal/domain"
	"rental-payments-backend/internal/gateway"
	"rental-payments-backend/internal/repository"
	"rental-payments-backend/internal/service"
)

func TestSettlementService_ExpireStaleRequests(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	stale := h.requested(t)

	h.now = h.now.Add(73 * time.Hour)
	fresh := h.requested(t)

	n, err := h.settlement.ExpireStaleRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap := h.snapshot(t, stale.ID)
	assert.Equal(t, domain.RentalStatusCancelled, snap.Status)
	assert.Equal(t, domain.PaymentStatusCancelled, snap.PaymentStatus)
	assert.Equal(t, "request expired", snap.DeclineReason)
	assert.Equal(t, domain.RentalStatusRequested, h.snapshot(t, fresh.ID).Status)
	assert.Equal(t, 0, h.gw.TotalCalls())
}

func TestSettlementService_SettleReturned(t *testing.T) {
	ctx := context.Background()

	t.Run("Degraded return waits for the claim window", func(t *testing.T) {
		h := newHarness(t)
		rt := h.pickedUp(t)
		_, err := h.rental.ReturnItem(ctx, lenderID, rt.ID, domain.ConditionWorn, "Scuffed")
		require.NoError(t, err)

		n, err := h.settlement.SettleReturned(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Equal(t, 0, h.gw.Calls("Refund"))

		h.now = h.now.Add(49 * time.Hour)
		n, err = h.settlement.SettleReturned(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		snap := h.snapshot(t, rt.ID)
		assert.Equal(t, int64(10000), snap.DepositRefundedCents)
		assert.Equal(t, domain.PaymentStatusCompleted, snap.PaymentStatus)
		assert.NotEmpty(t, snap.TransferRef)
	})

	t.Run("Claim is paid to the lender", func(t *testing.T) {
		h := newHarness(t)
		rt := h.pickedUp(t)
		_, err := h.rental.ReturnItem(ctx, lenderID, rt.ID, domain.ConditionDamaged, "")
		require.NoError(t, err)
		_, err = h.rental.DamageClaim(ctx, service.DamageClaimInput{
			LenderID: lenderID, TransactionID: rt.ID, AmountCents: 4000, Notes: "Chuck no longer tightens",
		})
		require.NoError(t, err)

		h.now = h.now.Add(49 * time.Hour)
		n, err := h.settlement.SettleReturned(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		snap := h.snapshot(t, rt.ID)
		assert.Equal(t, domain.PaymentStatusDamageClaimed, snap.PaymentStatus)
		assert.Equal(t, int64(6000), snap.DepositRefundedCents)
		assert.NotEmpty(t, snap.TransferRef)
		assert.Equal(t, 1, h.gw.Calls("Refund"))

		payout, ok := h.publisher.amountFor("rental.payout_sent")
		require.True(t, ok)
		assert.Equal(t, int64(9880), payout)

		_, err = h.rental.DamageClaim(ctx, service.DamageClaimInput{
			LenderID: lenderID, TransactionID: rt.ID, AmountCents: 1000, Notes: "Chuck no longer tightens",
		})
		assert.ErrorIs(t, err, domain.ErrPreconditionFailed)
	})

	t.Run("Failed payout is retried", func(t *testing.T) {
		h := newHarness(t)
		rt := h.pickedUp(t)
		h.gw.NextError["Transfer"] = domain.ErrGatewayTimeout
		_, err := h.rental.ReturnItem(ctx, lenderID, rt.ID, domain.ConditionGood, "")
		require.NoError(t, err)

		n, err := h.settlement.SettleReturned(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		snap := h.snapshot(t, rt.ID)
		assert.Equal(t, domain.PaymentStatusCompleted, snap.PaymentStatus)
		assert.Equal(t, 1, h.gw.Calls("Refund"))
		assert.Equal(t, 2, h.gw.Calls("Transfer"))
	})

	t.Run("Lender without payout account is skipped", func(t *testing.T) {
		h := newHarness(t)
		rt := h.pickedUp(t)
		empty := ""
		require.NoError(t, h.members.UpdateAccess(ctx, lenderID, repository.AccessUpdate{PayoutAccountRef: &empty}))
		_, err := h.rental.ReturnItem(ctx, lenderID, rt.ID, domain.ConditionGood, "")
		require.NoError(t, err)

		n, err := h.settlement.SettleReturned(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Equal(t, 0, h.gw.Calls("Transfer"))
		assert.Equal(t, domain.PaymentStatusCaptured, h.snapshot(t, rt.ID).PaymentStatus)
	})
}

func TestSettlementService_ReleaseCancelledHolds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	hold, err := h.gw.Authorize(ctx, gateway.AuthorizeRequest{AmountCents: 16000, TransactionID: "tx-held", ManualCapture: true})
	require.NoError(t, err)
	h.rentals.put(domain.RentalTransaction{
		ID:               "tx-held",
		BorrowerID:       borrowerID,
		LenderID:         lenderID,
		ListingID:        listingID,
		Status:           domain.RentalStatusCancelled,
		PaymentStatus:    domain.PaymentStatusAuthorized,
		PaymentIntentRef: hold.Ref,
	})

	n, err := h.settlement.ReleaseCancelledHolds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, h.gw.Calls("Release"))
	assert.Equal(t, domain.PaymentStatusCancelled, h.snapshot(t, "tx-held").PaymentStatus)

	n, err = h.settlement.ReleaseCancelledHolds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
