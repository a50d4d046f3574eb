package service

import (
	"context"

	"rental-payments-backend/internal/domain"
	"rental-payments-backend/internal/logger"
	"rental-payments-backend/internal/repository"
)

type notificationService struct {
	memberRepo repository.MemberRepository
	email      EmailSender
	push       PushSender
}

// NewNotificationService fans a notification out to email and push. Either
// channel may be nil when it is not configured.
func NewNotificationService(memberRepo repository.MemberRepository, email EmailSender, push PushSender) Notifier {
	return &notificationService{memberRepo: memberRepo, email: email, push: push}
}

func (s *notificationService) Notify(ctx context.Context, n *domain.Notification) {
	if s.email == nil && s.push == nil {
		return
	}
	member, err := s.memberRepo.GetByID(ctx, n.UserID)
	if err != nil {
		logger.Warn("Notification recipient lookup failed", "userID", n.UserID, "type", n.Type, "error", err)
		return
	}

	if s.email != nil && member.Email != "" {
		err := s.email.Send(ctx, member.Email, member.Name, n.Title, n.Message)
		logger.ExternalServiceResult("sendgrid", string(n.Type), err, "userID", n.UserID, "transactionID", n.TransactionID)
	}

	if s.push != nil && member.DeviceToken != "" {
		data := map[string]string{
			"type":           string(n.Type),
			"transaction_id": n.TransactionID,
		}
		for k, v := range n.Attributes {
			data[k] = v
		}
		err := s.push.Send(ctx, member.DeviceToken, n.Title, n.Message, data)
		logger.ExternalServiceResult("fcm", string(n.Type), err, "userID", n.UserID, "transactionID", n.TransactionID)
	}
}

// noopNotifier is used when no channel is configured and in tests
type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, *domain.Notification) {}
