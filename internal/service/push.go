package service

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// PushSender delivers a mobile push notification to one device
type PushSender interface {
	Send(ctx context.Context, deviceToken, title, body string, data map[string]string) error
}

type firebasePushService struct {
	client *messaging.Client
}

// NewFirebasePushService initializes FCM from a service account credentials file
func NewFirebasePushService(ctx context.Context, credentialsFile string) (PushSender, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging: %w", err)
	}
	return &firebasePushService{client: client}, nil
}

func (s *firebasePushService) Send(ctx context.Context, deviceToken, title, body string, data map[string]string) error {
	_, err := s.client.Send(ctx, &messaging.Message{
		Token: deviceToken,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("failed to send push: %w", err)
	}
	return nil
}
