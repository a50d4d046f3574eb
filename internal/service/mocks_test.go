package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rental-payments-backend/internal/domain"
	"rental-payments-backend/internal/gateway"
	"rental-payments-backend/internal/repository"
	"rental-payments-backend/internal/service"
)

// memRentals is a versioned in-memory RentalRepository. Reads return copies.
type memRentals struct {
	mu   sync.Mutex
	rows map[string]domain.RentalTransaction
	now  func() time.Time
	// updateErr, when set, fails the next Update
	updateErr error
}

func (r *memRentals) Create(ctx context.Context, rt *domain.RentalTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt.Version = 1
	rt.CreatedAt = r.now()
	rt.UpdatedAt = rt.CreatedAt
	r.rows[rt.ID] = *rt
	return nil
}

func (r *memRentals) find(match func(rt *domain.RentalTransaction) bool) (*domain.RentalTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if match(&row) {
			out := row
			return &out, nil
		}
	}
	return nil, domain.ErrNotFoundOrForbidden
}

func (r *memRentals) GetByID(ctx context.Context, id string) (*domain.RentalTransaction, error) {
	return r.find(func(rt *domain.RentalTransaction) bool { return rt.ID == id })
}

func (r *memRentals) GetForLender(ctx context.Context, id, lenderID string) (*domain.RentalTransaction, error) {
	return r.find(func(rt *domain.RentalTransaction) bool { return rt.ID == id && rt.LenderID == lenderID })
}

func (r *memRentals) GetForBorrower(ctx context.Context, id, borrowerID string) (*domain.RentalTransaction, error) {
	return r.find(func(rt *domain.RentalTransaction) bool { return rt.ID == id && rt.BorrowerID == borrowerID })
}

func (r *memRentals) GetForParty(ctx context.Context, id, userID string) (*domain.RentalTransaction, error) {
	return r.find(func(rt *domain.RentalTransaction) bool {
		return rt.ID == id && (rt.BorrowerID == userID || rt.LenderID == userID)
	})
}

func (r *memRentals) GetByPaymentRef(ctx context.Context, ref string) (*domain.RentalTransaction, error) {
	return r.find(func(rt *domain.RentalTransaction) bool { return ref != "" && rt.PaymentIntentRef == ref })
}

func (r *memRentals) GetByLateFeeRef(ctx context.Context, ref string) (*domain.RentalTransaction, error) {
	return r.find(func(rt *domain.RentalTransaction) bool { return ref != "" && rt.LateFeeRef == ref })
}

func (r *memRentals) Update(ctx context.Context, rt *domain.RentalTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		err := r.updateErr
		r.updateErr = nil
		return err
	}
	stored, ok := r.rows[rt.ID]
	if !ok {
		return domain.ErrNotFoundOrForbidden
	}
	if stored.Version != rt.Version {
		return domain.ErrConcurrentUpdate
	}
	rt.Version++
	rt.UpdatedAt = r.now()
	r.rows[rt.ID] = *rt
	return nil
}

func (r *memRentals) list(match func(rt *domain.RentalTransaction) bool, limit int) []domain.RentalTransaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RentalTransaction
	for _, row := range r.rows {
		if match(&row) && len(out) < limit {
			out = append(out, row)
		}
	}
	return out
}

func (r *memRentals) ListStaleRequested(ctx context.Context, createdBefore time.Time, limit int) ([]domain.RentalTransaction, error) {
	return r.list(func(rt *domain.RentalTransaction) bool {
		return rt.Status == domain.RentalStatusRequested && rt.CreatedAt.Before(createdBefore)
	}, limit), nil
}

func (r *memRentals) ListAwaitingSettlement(ctx context.Context, limit int) ([]domain.RentalTransaction, error) {
	return r.list(func(rt *domain.RentalTransaction) bool {
		return rt.Status == domain.RentalStatusReturned && rt.TransferRef == "" &&
			(rt.PaymentStatus == domain.PaymentStatusCaptured || rt.PaymentStatus == domain.PaymentStatusDamageClaimed)
	}, limit), nil
}

func (r *memRentals) ListCancelledWithHold(ctx context.Context, limit int) ([]domain.RentalTransaction, error) {
	return r.list(func(rt *domain.RentalTransaction) bool {
		return rt.Status == domain.RentalStatusCancelled && rt.PaymentIntentRef != "" &&
			rt.PaymentStatus == domain.PaymentStatusAuthorized
	}, limit), nil
}

func (r *memRentals) put(rt domain.RentalTransaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rt.Version == 0 {
		rt.Version = 1
	}
	r.rows[rt.ID] = rt
}

type memListings struct {
	mu   sync.Mutex
	rows map[string]domain.Listing
}

func (r *memListings) GetByID(ctx context.Context, id string) (*domain.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFoundOrForbidden
	}
	return &l, nil
}

func (r *memListings) SetStatus(ctx context.Context, id string, status domain.ListingStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.rows[id]
	if !ok {
		return domain.ErrNotFoundOrForbidden
	}
	l.Status = status
	r.rows[id] = l
	return nil
}

func (r *memListings) MarkReturned(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.rows[id]
	if !ok {
		return domain.ErrNotFoundOrForbidden
	}
	l.Status = domain.ListingStatusAvailable
	l.BorrowCount++
	r.rows[id] = l
	return nil
}

type memMembers struct {
	mu   sync.Mutex
	rows map[string]domain.Member
}

func (r *memMembers) GetByID(ctx context.Context, id string) (*domain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFoundOrForbidden
	}
	return &m, nil
}

func (r *memMembers) SetCustomerRef(ctx context.Context, id, customerRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return domain.ErrNotFoundOrForbidden
	}
	m.ProcessorCustomerRef = customerRef
	r.rows[id] = m
	return nil
}

func (r *memMembers) UpdateAccess(ctx context.Context, id string, update repository.AccessUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return domain.ErrNotFoundOrForbidden
	}
	if update.SubscriptionActive != nil {
		m.SubscriptionActive = *update.SubscriptionActive
	}
	if update.IdentityVerified != nil {
		m.IdentityVerified = *update.IdentityVerified
	}
	if update.PayoutAccountRef != nil {
		m.PayoutAccountRef = *update.PayoutAccountRef
	}
	r.rows[id] = m
	return nil
}

type memEvents struct {
	mu   sync.Mutex
	rows map[string]domain.ProcessedWebhookEvent
}

func (r *memEvents) Claim(ctx context.Context, eventID, eventType string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[eventID]; ok {
		return false, nil
	}
	r.rows[eventID] = domain.ProcessedWebhookEvent{EventID: eventID, EventType: eventType, ProcessedAt: time.Now()}
	return true, nil
}

func (r *memEvents) Release(ctx context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, eventID)
	return nil
}

func (r *memEvents) Get(ctx context.Context, eventID string) (*domain.ProcessedWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[eventID]
	if !ok {
		return nil, domain.ErrNotFoundOrForbidden
	}
	return &e, nil
}

// MockPublisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishJSON(ctx context.Context, routingKey string, v any) error {
	args := m.Called(ctx, routingKey, v)
	return args.Error(0)
}

// amountFor returns the amount carried by the last event published under routingKey
func (m *MockPublisher) amountFor(routingKey string) (int64, bool) {
	var amount int64
	found := false
	for _, call := range m.Calls {
		if call.Method == "PublishJSON" && call.Arguments.String(1) == routingKey {
			amount = call.Arguments.Get(2).(service.RentalEvent).Data.AmountCents
			found = true
		}
	}
	return amount, found
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, msg *domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, *msg)
}

func (n *recordingNotifier) typesFor(userID string) []domain.NotificationType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.NotificationType
	for _, msg := range n.sent {
		if msg.UserID == userID {
			out = append(out, msg.Type)
		}
	}
	return out
}

const (
	lenderID       = "lender-1"
	borrowerID     = "borrower-1"
	strangerID     = "stranger-1"
	listingID      = "listing-1"
	gatedListingID = "listing-gated"
	webhookSecret  = "whsec_test"
)

type harness struct {
	now        time.Time
	rentals    *memRentals
	listings   *memListings
	members    *memMembers
	events     *memEvents
	gw         *gateway.MockGateway
	notifier   *recordingNotifier
	publisher  *MockPublisher
	verifier   *gateway.SignatureVerifier
	rental     service.RentalService
	webhook    service.WebhookService
	settlement service.SettlementService
	access     service.AccessService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{now: time.Date(2026, 5, 10, 10, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return h.now }

	h.rentals = &memRentals{rows: map[string]domain.RentalTransaction{}, now: clock}
	h.listings = &memListings{rows: map[string]domain.Listing{
		listingID: {
			ID: listingID, OwnerID: lenderID, Title: "Cordless Drill",
			DailyRate: decimal.RequireFromString("20.00"), DepositCents: 10000, LateFeePerDayCents: 500,
			Status: domain.ListingStatusAvailable,
		},
		gatedListingID: {
			ID: gatedListingID, OwnerID: lenderID, Title: "Camera",
			DailyRate: decimal.RequireFromString("50.00"), DepositCents: 50000,
			RequiresVerifiedAccess: true, Status: domain.ListingStatusAvailable,
		},
	}}
	h.members = &memMembers{rows: map[string]domain.Member{
		lenderID: {
			ID: lenderID, Email: "lender@test.com", Name: "Lender",
			SubscriptionActive: true, IdentityVerified: true, PayoutAccountRef: "recp_lender",
		},
		borrowerID: {ID: borrowerID, Email: "borrower@test.com", Name: "Borrower"},
		strangerID: {ID: strangerID, Email: "stranger@test.com", Name: "Stranger"},
	}}
	h.events = &memEvents{rows: map[string]domain.ProcessedWebhookEvent{}}
	h.gw = gateway.NewMockGateway(gateway.Limits{MinCents: 50, MaxCents: 100_000_000})
	h.notifier = &recordingNotifier{}
	h.publisher = new(MockPublisher)
	h.publisher.On("PublishJSON", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	h.verifier = gateway.NewSignatureVerifier(webhookSecret, 5*time.Minute)
	h.access = service.NewAccessService(h.members)

	deps := &service.Dependencies{
		Rentals:       h.rentals,
		Listings:      h.listings,
		Members:       h.members,
		WebhookEvents: h.events,
		Locker:        repository.NewLocalLocker(),
		Gateway:       h.gw,
		Access:        h.access,
		Notifier:      h.notifier,
		Publisher:     h.publisher,
		Policy: service.RentalPolicy{
			MinDays:           1,
			MaxDays:           30,
			PlatformFeeRate:   decimal.RequireFromString("0.02"),
			RequestTTL:        72 * time.Hour,
			DamageClaimWindow: 48 * time.Hour,
		},
		Clock: clock,
	}
	h.rental = service.NewRentalService(deps)
	h.webhook = service.NewWebhookService(deps, h.verifier)
	h.settlement = service.NewSettlementService(deps)
	return h
}

func day(d int) time.Time {
	return time.Date(2026, 5, d, 0, 0, 0, 0, time.UTC)
}

func (h *harness) snapshot(t *testing.T, id string) domain.RentalTransaction {
	t.Helper()
	rt, err := h.rentals.GetByID(context.Background(), id)
	require.NoError(t, err)
	return *rt
}

func (h *harness) requested(t *testing.T) *domain.RentalTransaction {
	t.Helper()
	rt, err := h.rental.Request(context.Background(), service.RequestInput{
		BorrowerID: borrowerID,
		ListingID:  listingID,
		StartDate:  day(12),
		EndDate:    day(15),
		Message:    "Need it for the weekend",
	})
	require.NoError(t, err)
	return rt
}

func (h *harness) approved(t *testing.T) *domain.RentalTransaction {
	t.Helper()
	rt := h.requested(t)
	out, err := h.rental.Approve(context.Background(), lenderID, rt.ID, "Pick up at the front door")
	require.NoError(t, err)
	return out
}

func (h *harness) paid(t *testing.T) *domain.RentalTransaction {
	t.Helper()
	rt := h.approved(t)
	_, err := h.deliverCharge("evnt_paid_"+rt.ID, "charge.complete", rt.PaymentIntentRef, rt.ID, `"status":"pending","authorized":true,"paid":false`)
	require.NoError(t, err)
	snap := h.snapshot(t, rt.ID)
	require.Equal(t, domain.RentalStatusPaid, snap.Status)
	return &snap
}

func (h *harness) pickedUp(t *testing.T) *domain.RentalTransaction {
	t.Helper()
	rt := h.paid(t)
	out, err := h.rental.Pickup(context.Background(), lenderID, rt.ID, domain.ConditionGood)
	require.NoError(t, err)
	return out
}

func (h *harness) deliver(body string) (*service.WebhookOutcome, error) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := h.verifier.Sign([]byte(body), ts)
	return h.webhook.HandleDelivery(context.Background(), []byte(body), sig, ts)
}

// deliverCharge sends a signed charge event; state holds the raw charge status fields
func (h *harness) deliverCharge(eventID, key, chargeRef, transactionID, state string) (*service.WebhookOutcome, error) {
	meta, _ := json.Marshal(map[string]string{gateway.MetaTransactionID: transactionID})
	body := fmt.Sprintf(`{"object":"event","id":%q,"key":%q,"data":{"object":"charge","id":%q,"amount":16000,%s,"metadata":%s}}`,
		eventID, key, chargeRef, state, meta)
	return h.deliver(body)
}
