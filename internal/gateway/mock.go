package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"rental-payments-backend/internal/domain"
	"rental-payments-backend/internal/logger"
)

const processorMock = "mock"

type mockCharge struct {
	auth Authorization
}

// MockGateway is an in-memory processor for local development and tests.
// Mutating calls replay the first result for a repeated idempotency key.
type MockGateway struct {
	mu        sync.Mutex
	limits    Limits
	charges   map[string]*mockCharge
	byKey     map[string]string
	refunds   map[string]*RefundResult
	transfers map[string]*TransferResult
	customers map[string]string
	calls     map[string]int

	// NextError, when set for an operation name, is returned once instead of calling through
	NextError map[string]error
	// RequireAction makes new charges wait for a client step
	RequireAction bool
}

func NewMockGateway(limits Limits) *MockGateway {
	return &MockGateway{
		limits:    limits,
		charges:   make(map[string]*mockCharge),
		byKey:     make(map[string]string),
		refunds:   make(map[string]*RefundResult),
		transfers: make(map[string]*TransferResult),
		customers: make(map[string]string),
		calls:     make(map[string]int),
		NextError: make(map[string]error),
	}
}

func (m *MockGateway) Name() string { return processorMock }

// Calls returns how many times an operation reached the processor
func (m *MockGateway) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// TotalCalls returns the number of processor calls across all operations
func (m *MockGateway) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

// MarkAuthorized simulates the payer completing the client step
func (m *MockGateway) MarkAuthorized(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.charges[ref]; ok && ch.auth.State == AuthStateRequiresAction {
		ch.auth.State = AuthStateAuthorized
		ch.auth.AuthorizeURI = ""
	}
}

func (m *MockGateway) enter(op string) error {
	m.calls[op]++
	if err, ok := m.NextError[op]; ok && err != nil {
		delete(m.NextError, op)
		return err
	}
	return nil
}

func (m *MockGateway) Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error) {
	if err := m.limits.CheckCharge(req.AmountCents); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Authorize"); err != nil {
		return nil, err
	}
	logger.GatewayCall(processorMock, "Authorize", "transactionID", req.TransactionID, "amount", req.AmountCents)

	if ref, ok := m.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		a := m.charges[ref].auth
		return &a, nil
	}

	ch := &mockCharge{
		auth: Authorization{
			Ref:           "chrg_mock_" + uuid.NewString(),
			AmountCents:   req.AmountCents,
			TransactionID: req.TransactionID,
		},
	}
	switch {
	case m.RequireAction:
		ch.auth.State = AuthStateRequiresAction
		ch.auth.AuthorizeURI = "https://pay.example.test/authorize/" + ch.auth.Ref
	case req.ManualCapture:
		ch.auth.State = AuthStateAuthorized
	default:
		ch.auth.State = AuthStateCaptured
	}
	m.charges[ch.auth.Ref] = ch
	if req.IdempotencyKey != "" {
		m.byKey[req.IdempotencyKey] = ch.auth.Ref
	}
	a := ch.auth
	return &a, nil
}

func (m *MockGateway) GetAuthorization(ctx context.Context, ref string) (*Authorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetAuthorization"); err != nil {
		return nil, err
	}
	ch, ok := m.charges[ref]
	if !ok {
		return nil, fmt.Errorf("%w: charge %s not found", domain.ErrGateway, ref)
	}
	a := ch.auth
	return &a, nil
}

func (m *MockGateway) Capture(ctx context.Context, ref, idempotencyKey string) (*Authorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Capture"); err != nil {
		return nil, err
	}
	ch, ok := m.charges[ref]
	if !ok {
		return nil, fmt.Errorf("%w: charge %s not found", domain.ErrGateway, ref)
	}
	switch ch.auth.State {
	case AuthStateCaptured:
	case AuthStateAuthorized:
		ch.auth.State = AuthStateCaptured
	default:
		return nil, fmt.Errorf("%w: charge %s cannot be captured in state %s", domain.ErrGateway, ref, ch.auth.State)
	}
	a := ch.auth
	return &a, nil
}

func (m *MockGateway) Refund(ctx context.Context, ref string, amountCents *int64, idempotencyKey string) (*RefundResult, error) {
	if amountCents != nil {
		if err := m.limits.CheckRefund(*amountCents); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Refund"); err != nil {
		return nil, err
	}
	if prior, ok := m.refunds[idempotencyKey]; ok && idempotencyKey != "" {
		res := *prior
		return &res, nil
	}
	ch, ok := m.charges[ref]
	if !ok {
		return nil, fmt.Errorf("%w: charge %s not found", domain.ErrGateway, ref)
	}
	if ch.auth.State != AuthStateCaptured {
		return nil, fmt.Errorf("%w: charge %s is not captured", domain.ErrGateway, ref)
	}
	remaining := ch.auth.AmountCents - ch.auth.RefundedCents
	amount := remaining
	if amountCents != nil {
		amount = *amountCents
	}
	if amount <= 0 || amount > remaining {
		return nil, fmt.Errorf("%w: refund %d exceeds refundable %d", domain.ErrGateway, amount, remaining)
	}
	ch.auth.RefundedCents += amount
	res := &RefundResult{Ref: "rfnd_mock_" + uuid.NewString(), AmountCents: amount}
	if idempotencyKey != "" {
		m.refunds[idempotencyKey] = res
	}
	out := *res
	return &out, nil
}

func (m *MockGateway) Release(ctx context.Context, ref, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Release"); err != nil {
		return err
	}
	ch, ok := m.charges[ref]
	if !ok {
		return fmt.Errorf("%w: charge %s not found", domain.ErrGateway, ref)
	}
	switch ch.auth.State {
	case AuthStateReversed:
	case AuthStateCaptured:
		return fmt.Errorf("%w: charge %s already captured", domain.ErrGateway, ref)
	default:
		ch.auth.State = AuthStateReversed
	}
	return nil
}

func (m *MockGateway) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if err := m.limits.CheckCharge(req.AmountCents); err != nil {
		return nil, err
	}
	if req.PayeeAccountRef == "" {
		return nil, domain.Validation("payee account reference is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Transfer"); err != nil {
		return nil, err
	}
	if prior, ok := m.transfers[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		res := *prior
		return &res, nil
	}
	res := &TransferResult{Ref: "trsf_mock_" + uuid.NewString(), AmountCents: req.AmountCents}
	if req.IdempotencyKey != "" {
		m.transfers[req.IdempotencyKey] = res
	}
	out := *res
	return &out, nil
}

func (m *MockGateway) CreateCustomerIfAbsent(ctx context.Context, userID, email, existingRef string) (string, error) {
	if existingRef != "" {
		return existingRef, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateCustomer"); err != nil {
		return "", err
	}
	if ref, ok := m.customers[userID]; ok {
		return ref, nil
	}
	ref := "cust_mock_" + uuid.NewString()
	m.customers[userID] = ref
	return ref, nil
}
