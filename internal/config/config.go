package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	JWT           JWTConfig           `yaml:"jwt"`
	Log           LogConfig           `yaml:"log"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Webhook       WebhookConfig       `yaml:"webhook"`
	Rental        RentalConfig        `yaml:"rental"`
	Notifications NotificationsConfig `yaml:"notifications"`
	MQ            MQConfig            `yaml:"mq"`
	Tracing       TracingConfig       `yaml:"tracing"`
	CORS          CORSConfig          `yaml:"cors"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host" envconfig:"SERVER_HOST"`
	Port int    `yaml:"port" envconfig:"SERVER_PORT"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host" envconfig:"DB_HOST"`
	Port     int    `yaml:"port" envconfig:"DB_PORT"`
	User     string `yaml:"user" envconfig:"DB_USER"`
	Password string `yaml:"password" envconfig:"DB_PASSWORD"`
	Database string `yaml:"database" envconfig:"DB_NAME"`
	SSLMode  string `yaml:"ssl_mode" envconfig:"DB_SSL_MODE"`
}

// JWTConfig contains bearer token settings
type JWTConfig struct {
	Secret            string `yaml:"secret" envconfig:"JWT_SECRET"`
	AccessTokenExpiry int    `yaml:"access_token_expiry_minutes" envconfig:"JWT_ACCESS_EXPIRY_MINUTES"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`   // "debug", "info", "warn", "error"
	Format string `yaml:"format" envconfig:"LOG_FORMAT"` // "json" or "text"
}

// GatewayConfig contains payment processor settings
type GatewayConfig struct {
	Type           string `yaml:"type" envconfig:"GATEWAY_TYPE"` // "mock" or "omise"
	PublicKey      string `yaml:"public_key" envconfig:"OMISE_PUBLIC_KEY"`
	SecretKey      string `yaml:"secret_key" envconfig:"OMISE_SECRET_KEY"`
	Currency       string `yaml:"currency" envconfig:"GATEWAY_CURRENCY"`
	MinAmountCents int64  `yaml:"min_amount_cents" envconfig:"GATEWAY_MIN_AMOUNT_CENTS"`
	MaxAmountCents int64  `yaml:"max_amount_cents" envconfig:"GATEWAY_MAX_AMOUNT_CENTS"`
	TimeoutSeconds int    `yaml:"timeout_seconds" envconfig:"GATEWAY_TIMEOUT_SECONDS"`
	ReturnURI      string `yaml:"return_uri" envconfig:"GATEWAY_RETURN_URI"`
}

// WebhookConfig contains processor webhook verification settings
type WebhookConfig struct {
	Secret           string `yaml:"secret" envconfig:"WEBHOOK_SECRET"`
	ToleranceSeconds int    `yaml:"tolerance_seconds" envconfig:"WEBHOOK_TOLERANCE_SECONDS"`
}

// RentalConfig contains rental policy settings
type RentalConfig struct {
	MinDays              int    `yaml:"min_days" envconfig:"RENTAL_MIN_DAYS"`
	MaxDays              int    `yaml:"max_days" envconfig:"RENTAL_MAX_DAYS"`
	PlatformFeeRate      string `yaml:"platform_fee_rate" envconfig:"RENTAL_PLATFORM_FEE_RATE"`
	RequestTTLHours      int    `yaml:"request_ttl_hours" envconfig:"RENTAL_REQUEST_TTL_HOURS"`
	DamageClaimWindowHrs int    `yaml:"damage_claim_window_hours" envconfig:"RENTAL_DAMAGE_CLAIM_WINDOW_HOURS"`
}

// NotificationsConfig contains email and push settings. Empty keys disable the channel.
type NotificationsConfig struct {
	SendGridAPIKey          string `yaml:"sendgrid_api_key" envconfig:"SENDGRID_API_KEY"`
	FromEmail               string `yaml:"from_email" envconfig:"NOTIFY_FROM_EMAIL"`
	FromName                string `yaml:"from_name" envconfig:"NOTIFY_FROM_NAME"`
	FirebaseCredentialsFile string `yaml:"firebase_credentials_file" envconfig:"FIREBASE_CREDENTIALS_FILE"`
}

// MQConfig contains RabbitMQ settings. An empty URL disables publishing.
type MQConfig struct {
	URL      string `yaml:"url" envconfig:"RABBIT_URL"`
	Exchange string `yaml:"exchange" envconfig:"RABBIT_EXCHANGE"`
}

// TracingConfig contains OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" envconfig:"TRACING_ENABLED"`
	Endpoint    string `yaml:"endpoint" envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `yaml:"service_name" envconfig:"OTEL_SERVICE_NAME"`
	Environment string `yaml:"environment" envconfig:"ENV"`
}

// CORSConfig contains allowed browser origins for the API
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"CORS_ALLOWED_ORIGINS"`
}

// SchedulerConfig contains cron schedule settings
type SchedulerConfig struct {
	ExpireStaleRequests   string `yaml:"expire_stale_requests"`
	SettleReturnedRentals string `yaml:"settle_returned_rentals"`
	ReleaseCancelledHolds string `yaml:"release_cancelled_holds"`
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables win over the file; envconfig only touches fields whose variable is set.
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment overrides: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.JWT.AccessTokenExpiry == 0 {
		c.JWT.AccessTokenExpiry = 60
	}

	if c.Gateway.Type == "" {
		c.Gateway.Type = "mock"
	}
	if c.Gateway.Currency == "" {
		c.Gateway.Currency = "usd"
	}
	if c.Gateway.MinAmountCents == 0 {
		c.Gateway.MinAmountCents = 50
	}
	if c.Gateway.MaxAmountCents == 0 {
		c.Gateway.MaxAmountCents = 99999999
	}
	if c.Gateway.TimeoutSeconds == 0 {
		c.Gateway.TimeoutSeconds = 15
	}

	if c.Webhook.ToleranceSeconds == 0 {
		c.Webhook.ToleranceSeconds = 300
	}

	if c.Rental.MinDays == 0 {
		c.Rental.MinDays = 1
	}
	if c.Rental.MaxDays == 0 {
		c.Rental.MaxDays = 30
	}
	if c.Rental.PlatformFeeRate == "" {
		c.Rental.PlatformFeeRate = "0.02"
	}
	if c.Rental.RequestTTLHours == 0 {
		c.Rental.RequestTTLHours = 72
	}
	if c.Rental.DamageClaimWindowHrs == 0 {
		c.Rental.DamageClaimWindowHrs = 72
	}

	if c.MQ.Exchange == "" {
		c.MQ.Exchange = "rental.exchange"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "rental-payments-backend"
	}

	if c.Scheduler.ExpireStaleRequests == "" {
		c.Scheduler.ExpireStaleRequests = "0 0 * * * *" // hourly
	}
	if c.Scheduler.SettleReturnedRentals == "" {
		c.Scheduler.SettleReturnedRentals = "0 */15 * * * *" // every 15 minutes
	}
	if c.Scheduler.ReleaseCancelledHolds == "" {
		c.Scheduler.ReleaseCancelledHolds = "0 30 * * * *" // hourly at :30
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}

	switch c.Gateway.Type {
	case "mock":
	case "omise":
		if c.Gateway.PublicKey == "" || c.Gateway.SecretKey == "" {
			return fmt.Errorf("omise gateway requires public and secret keys")
		}
	default:
		return fmt.Errorf("unsupported gateway type: %s", c.Gateway.Type)
	}
	if c.Gateway.MinAmountCents <= 0 || c.Gateway.MaxAmountCents < c.Gateway.MinAmountCents {
		return fmt.Errorf("invalid gateway amount bounds: min=%d max=%d", c.Gateway.MinAmountCents, c.Gateway.MaxAmountCents)
	}

	if c.Webhook.Secret == "" {
		return fmt.Errorf("webhook secret is required")
	}

	if c.Rental.MinDays < 1 || c.Rental.MaxDays < c.Rental.MinDays {
		return fmt.Errorf("invalid rental duration bounds: min=%d max=%d", c.Rental.MinDays, c.Rental.MaxDays)
	}
	rate, err := c.PlatformFeeRate()
	if err != nil {
		return err
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("platform fee rate must be in [0, 1): %s", rate)
	}

	return nil
}

// PlatformFeeRate parses the configured platform fee rate
func (c *Config) PlatformFeeRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.Rental.PlatformFeeRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid platform fee rate %q: %w", c.Rental.PlatformFeeRate, err)
	}
	return rate, nil
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the HTTP server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GatewayTimeout returns the bound applied to each processor call
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutSeconds) * time.Second
}

// WebhookTolerance returns the accepted signature timestamp skew
func (c *Config) WebhookTolerance() time.Duration {
	return time.Duration(c.Webhook.ToleranceSeconds) * time.Second
}
