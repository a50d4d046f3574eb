package service

import (
	"context"

	"rental-payments-backend/internal/domain"
	"rental-payments-backend/internal/repository"
)

type accessService struct {
	memberRepo repository.MemberRepository
}

func NewAccessService(memberRepo repository.MemberRepository) AccessService {
	return &accessService{memberRepo: memberRepo}
}

// ComputeAccess derives the progressive unlock state from profile flags
func ComputeAccess(m *domain.Member) *domain.AccessStatus {
	status := &domain.AccessStatus{
		UserID:       m.ID,
		Subscribed:   m.SubscriptionActive,
		Verified:     m.IdentityVerified,
		PayoutLinked: m.PayoutAccountRef != "",
	}
	switch {
	case !status.Subscribed:
		status.NextStep = domain.AccessStepSubscription
	case !status.Verified:
		status.NextStep = domain.AccessStepVerification
	case !status.PayoutLinked:
		status.NextStep = domain.AccessStepConnect
	default:
		status.NextStep = domain.AccessStepNone
	}
	return status
}

func (s *accessService) GetStatus(ctx context.Context, userID string) (*domain.AccessStatus, error) {
	m, err := s.memberRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return ComputeAccess(m), nil
}

func (s *accessService) RequireUnlocked(ctx context.Context, userID string) error {
	status, err := s.GetStatus(ctx, userID)
	if err != nil {
		return err
	}
	if !status.Unlocked() {
		return &domain.AccessError{NextStep: status.NextStep}
	}
	return nil
}

func (s *accessService) RequirePayoutAccount(ctx context.Context, userID string) error {
	status, err := s.GetStatus(ctx, userID)
	if err != nil {
		return err
	}
	if !status.PayoutLinked {
		return &domain.AccessError{NextStep: domain.AccessStepConnect}
	}
	return nil
}
