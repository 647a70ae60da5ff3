package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentmesh/billing/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment DeploymentConfig `validate:"required"`
	Server     ServerConfig     `validate:"required"`
	Logging    LoggingConfig    `validate:"required"`
	Postgres   PostgresConfig   `validate:"required"`
	PubSub     PubSubConfig     `mapstructure:"pubsub" validate:"required"`
	Billing    BillingConfig    `validate:"required"`
	Paymob     PaymobConfig     `validate:"required"`
	Cache      CacheConfig
	Sentry     SentryConfig
	Pyroscope  PyroscopeConfig
}

type DeploymentConfig struct {
	Mode types.RunMode `validate:"required"`
}

type ServerConfig struct {
	Address string `validate:"required"`
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// PubSubConfig configures the message bus that carries background billing steps
type PubSubConfig struct {
	Backend         types.PubSubBackend `validate:"required,oneof=memory kafka"`
	Brokers         []string
	ConsumerGroup   string        `mapstructure:"consumer_group"`
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

// BillingConfig tunes the billing cycle scheduler and invoice composition
type BillingConfig struct {
	Schedule             string `validate:"required"`
	BatchSize            int    `mapstructure:"batch_size" validate:"min=1"`
	Concurrency          int    `validate:"min=1"`
	InvoiceDueDays       int    `mapstructure:"invoice_due_days" validate:"min=0"`
	InvoiceNumberRetries int    `mapstructure:"invoice_number_retries" validate:"min=1"`
	PaymentLinkSchedule  string `mapstructure:"payment_link_schedule"`
}

// PaymobConfig holds the payment gateway credentials and client tuning
type PaymobConfig struct {
	BaseURL           string `mapstructure:"base_url" validate:"required"`
	APIKey            string `mapstructure:"api_key"`
	IntegrationID     int    `mapstructure:"integration_id"`
	IframeID          int    `mapstructure:"iframe_id"`
	HMACSecret        string `mapstructure:"hmac_secret"`
	Currency          string
	Timeout           time.Duration
	PaymentKeyExpiry  int           `mapstructure:"payment_key_expiry"`
	BreakerFailures   uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown   time.Duration `mapstructure:"breaker_cooldown"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	MaxRetries        int           `mapstructure:"max_retries"`
}

type CacheConfig struct {
	Enabled bool
	PlanTTL time.Duration `mapstructure:"plan_ttl"`
}

type SentryConfig struct {
	Enabled     bool
	DSN         string
	Environment string
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type PyroscopeConfig struct {
	Enabled         bool
	ServerAddress   string `mapstructure:"server_address"`
	ApplicationName string `mapstructure:"application_name"`
	BasicAuthUser   string `mapstructure:"basic_auth_user"`
	BasicAuthPass   string `mapstructure:"basic_auth_password"`
}

func NewConfig() (*Configuration, error) {
	// .env is optional; real deployments inject the environment directly
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/flexbill")

	v.SetEnvPrefix("FLEXBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Error reading config file: %v\n", err)
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	} else {
		fmt.Printf("Using config file: %s\n", v.ConfigFileUsed())
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	defaults := GetDefaultConfig()
	v.SetDefault("deployment.mode", defaults.Deployment.Mode)
	v.SetDefault("server.address", defaults.Server.Address)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("postgres.max_open_conns", defaults.Postgres.MaxOpenConns)
	v.SetDefault("postgres.max_idle_conns", defaults.Postgres.MaxIdleConns)
	v.SetDefault("pubsub.backend", defaults.PubSub.Backend)
	v.SetDefault("pubsub.max_retries", defaults.PubSub.MaxRetries)
	v.SetDefault("pubsub.initial_interval", defaults.PubSub.InitialInterval)
	v.SetDefault("pubsub.max_interval", defaults.PubSub.MaxInterval)
	v.SetDefault("pubsub.multiplier", defaults.PubSub.Multiplier)
	v.SetDefault("pubsub.max_elapsed_time", defaults.PubSub.MaxElapsedTime)
	v.SetDefault("billing.schedule", defaults.Billing.Schedule)
	v.SetDefault("billing.batch_size", defaults.Billing.BatchSize)
	v.SetDefault("billing.concurrency", defaults.Billing.Concurrency)
	v.SetDefault("billing.invoice_due_days", defaults.Billing.InvoiceDueDays)
	v.SetDefault("billing.invoice_number_retries", defaults.Billing.InvoiceNumberRetries)
	v.SetDefault("billing.payment_link_schedule", defaults.Billing.PaymentLinkSchedule)
	v.SetDefault("paymob.base_url", defaults.Paymob.BaseURL)
	v.SetDefault("paymob.currency", defaults.Paymob.Currency)
	v.SetDefault("paymob.timeout", defaults.Paymob.Timeout)
	v.SetDefault("paymob.payment_key_expiry", defaults.Paymob.PaymentKeyExpiry)
	v.SetDefault("paymob.breaker_failures", defaults.Paymob.BreakerFailures)
	v.SetDefault("paymob.breaker_cooldown", defaults.Paymob.BreakerCooldown)
	v.SetDefault("paymob.requests_per_second", defaults.Paymob.RequestsPerSecond)
	v.SetDefault("paymob.max_retries", defaults.Paymob.MaxRetries)
	v.SetDefault("cache.plan_ttl", defaults.Cache.PlanTTL)
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// GetDefaultConfig returns a default configuration for local development
// This is useful for running scripts, tests or other non-web applications
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Server:     ServerConfig{Address: ":8080"},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
		Postgres: PostgresConfig{
			MaxOpenConns: 20,
			MaxIdleConns: 5,
		},
		PubSub: PubSubConfig{
			Backend:         types.PubSubBackendMemory,
			MaxRetries:      5,
			InitialInterval: time.Second,
			MaxInterval:     time.Minute,
			Multiplier:      2,
			MaxElapsedTime:  10 * time.Minute,
		},
		Billing: BillingConfig{
			Schedule:             "@daily",
			BatchSize:            100,
			Concurrency:          8,
			InvoiceDueDays:       7,
			InvoiceNumberRetries: 5,
			PaymentLinkSchedule:  "@every 30m",
		},
		Paymob: PaymobConfig{
			BaseURL:           "https://accept.paymob.com",
			Currency:          "EGP",
			Timeout:           10 * time.Second,
			PaymentKeyExpiry:  3600,
			BreakerFailures:   5,
			BreakerCooldown:   30 * time.Second,
			RequestsPerSecond: 10,
			MaxRetries:        2,
		},
		Cache: CacheConfig{
			Enabled: true,
			PlanTTL: 30 * time.Minute,
		},
	}
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s port=%d sslmode=%s",
		c.User,
		c.Password,
		c.DBName,
		c.Host,
		c.Port,
		c.SSLMode,
	)
}

// GetURL returns the DSN in URL form, as expected by the migration runner
func (c PostgresConfig) GetURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.DBName,
		c.SSLMode,
	)
}

