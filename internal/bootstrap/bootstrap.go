package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rental-payments-backend/internal/config"
	"rental-payments-backend/internal/gateway"
	"rental-payments-backend/internal/logger"
	"rental-payments-backend/internal/mq"
	"rental-payments-backend/internal/repository/postgres"
	"rental-payments-backend/internal/service"
)

// Services is the wired service layer shared by the API server and the cron runner
type Services struct {
	Deps       *service.Dependencies
	Rental     service.RentalService
	Webhook    service.WebhookService
	Access     service.AccessService
	Settlement service.SettlementService

	closers []func() error
}

// Close releases broker connections opened by Build
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Warn("Failed to close dependency", "error", err)
		}
	}
}

// NewGateway selects the payment processor adapter from configuration
func NewGateway(cfg *config.Config) (gateway.Gateway, error) {
	limits := gateway.Limits{MinCents: cfg.Gateway.MinAmountCents, MaxCents: cfg.Gateway.MaxAmountCents}
	switch cfg.Gateway.Type {
	case "omise":
		logger.Info("Using Omise payment gateway", "currency", cfg.Gateway.Currency)
		return gateway.NewOmiseGateway(gateway.OmiseConfig{
			PublicKey: cfg.Gateway.PublicKey,
			SecretKey: cfg.Gateway.SecretKey,
			Currency:  cfg.Gateway.Currency,
			ReturnURI: cfg.Gateway.ReturnURI,
			Timeout:   cfg.GatewayTimeout(),
			Limits:    limits,
		})
	case "mock", "":
		logger.Warn("Using in-memory mock payment gateway")
		return gateway.NewMockGateway(limits), nil
	default:
		return nil, fmt.Errorf("unsupported gateway type: %s", cfg.Gateway.Type)
	}
}

// NewPolicy converts the rental section of the configuration
func NewPolicy(cfg *config.Config) (service.RentalPolicy, error) {
	rate, err := cfg.PlatformFeeRate()
	if err != nil {
		return service.RentalPolicy{}, err
	}
	return service.RentalPolicy{
		MinDays:           int64(cfg.Rental.MinDays),
		MaxDays:           int64(cfg.Rental.MaxDays),
		PlatformFeeRate:   rate,
		RequestTTL:        time.Duration(cfg.Rental.RequestTTLHours) * time.Hour,
		DamageClaimWindow: time.Duration(cfg.Rental.DamageClaimWindowHrs) * time.Hour,
	}, nil
}

// NewNotifier builds the email and push fan-out. Unconfigured channels are skipped.
func NewNotifier(ctx context.Context, cfg *config.Config, store *postgres.Store) service.Notifier {
	var email service.EmailSender
	if cfg.Notifications.SendGridAPIKey != "" {
		email = service.NewSendGridEmailService(cfg.Notifications.SendGridAPIKey, cfg.Notifications.FromEmail, cfg.Notifications.FromName)
		logger.Info("Email notifications enabled", "from", cfg.Notifications.FromEmail)
	}

	var push service.PushSender
	if cfg.Notifications.FirebaseCredentialsFile != "" {
		p, err := service.NewFirebasePushService(ctx, cfg.Notifications.FirebaseCredentialsFile)
		if err != nil {
			logger.Warn("Push notifications disabled", "error", err)
		} else {
			push = p
			logger.Info("Push notifications enabled")
		}
	}

	return service.NewNotificationService(store.MemberRepository, email, push)
}

// Build wires repositories, the processor adapter and the services
func Build(ctx context.Context, cfg *config.Config, db *sql.DB) (*Services, error) {
	store := postgres.NewStore(db)

	gw, err := NewGateway(cfg)
	if err != nil {
		return nil, err
	}
	policy, err := NewPolicy(cfg)
	if err != nil {
		return nil, err
	}

	svcs := &Services{}
	access := service.NewAccessService(store.MemberRepository)
	deps := &service.Dependencies{
		Rentals:       store.RentalRepository,
		Listings:      store.ListingRepository,
		Members:       store.MemberRepository,
		WebhookEvents: store.WebhookEventRepository,
		Locker:        store.Locker,
		Gateway:       gw,
		Access:        access,
		Notifier:      NewNotifier(ctx, cfg, store),
		Policy:        policy,
	}

	if cfg.MQ.URL != "" {
		pub, err := mq.NewPublisher(cfg.MQ.URL, cfg.MQ.Exchange)
		if err != nil {
			// Events are best effort; the engine runs without a broker.
			logger.Warn("RabbitMQ unavailable, domain events disabled", "error", err)
		} else {
			deps.Publisher = pub
			svcs.closers = append(svcs.closers, pub.Close)
			logger.Info("Publishing domain events", "exchange", cfg.MQ.Exchange)
		}
	}

	verifier := gateway.NewSignatureVerifier(cfg.Webhook.Secret, cfg.WebhookTolerance())

	svcs.Deps = deps
	svcs.Access = access
	svcs.Rental = service.NewRentalService(deps)
	svcs.Webhook = service.NewWebhookService(deps, verifier)
	svcs.Settlement = service.NewSettlementService(deps)
	return svcs, nil
}
