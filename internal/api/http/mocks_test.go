package http

import (
	"context"

	"github.com/stretchr/testify/mock"

	"rental-payments-backend/internal/domain"
	"rental-payments-backend/internal/service"
)

type MockRentalService struct {
	mock.Mock
}

func (m *MockRentalService) Request(ctx context.Context, in service.RequestInput) (*domain.RentalTransaction, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RentalTransaction), args.Error(1)
}
func (m *MockRentalService) Approve(ctx context.Context, lenderID, transactionID, response string) (*domain.RentalTransaction, error) {
	args := m.Called(ctx, lenderID, transactionID, response)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RentalTransaction), args.Error(1)
}
func (m *MockRentalService) Decline(ctx context.Context, lenderID, transactionID, reason string) (*domain.RentalTransaction, error) {
	args := m.Called(ctx, lenderID, transactionID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RentalTransaction), args.Error(1)
}
func (m *MockRentalService) ConfirmPayment(ctx context.Context, borrowerID, transactionID string) (*domain.ClientAction, error) {
	args := m.Called(ctx, borrowerID, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ClientAction), args.Error(1)
}
func (m *MockRentalService) Pickup(ctx context.Context, lenderID, transactionID string, condition domain.ItemCondition) (*domain.RentalTransaction, error) {
	args := m.Called(ctx, lenderID, transactionID, condition)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RentalTransaction), args.Error(1)
}
func (m *MockRentalService) ReturnItem(ctx context.Context, lenderID, transactionID string, condition domain.ItemCondition, notes string) (*domain.RentalTransaction, error) {
	args := m.Called(ctx, lenderID, transactionID, condition, notes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RentalTransaction), args.Error(1)
}
func (m *MockRentalService) DamageClaim(ctx context.Context, in service.DamageClaimInput) (*domain.RentalTransaction, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RentalTransaction), args.Error(1)
}
func (m *MockRentalService) LateFee(ctx context.Context, lenderID, transactionID string) (*domain.ClientAction, error) {
	args := m.Called(ctx, lenderID, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ClientAction), args.Error(1)
}
func (m *MockRentalService) GetPaymentStatus(ctx context.Context, userID, transactionID string) (*domain.PaymentStatusView, error) {
	args := m.Called(ctx, userID, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentStatusView), args.Error(1)
}

type MockWebhookService struct {
	mock.Mock
}

func (m *MockWebhookService) HandleDelivery(ctx context.Context, body []byte, signature, timestamp string) (*service.WebhookOutcome, error) {
	args := m.Called(ctx, body, signature, timestamp)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.WebhookOutcome), args.Error(1)
}

type MockAccessService struct {
	mock.Mock
}

func (m *MockAccessService) GetStatus(ctx context.Context, userID string) (*domain.AccessStatus, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AccessStatus), args.Error(1)
}
func (m *MockAccessService) RequireUnlocked(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}
func (m *MockAccessService) RequirePayoutAccount(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}
