// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type DatabaseConfig struct {
	Driver            string `yaml:"driver"`
	Filename          string `yaml:"filename"`
	BusyTimeoutMillis int    `yaml:"busy_timeout_ms"`
}

type BookingConfig struct {
	Timezone          string        `yaml:"timezone"`
	SlotStrideMinutes int           `yaml:"slot_stride_minutes"`
	RefundThreshold   time.Duration `yaml:"refund_threshold"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	TxTimeout         time.Duration `yaml:"tx_timeout"`
}

// Location loads the facility timezone.
func (b BookingConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load booking timezone %q: %w", b.Timezone, err)
	}
	return loc, nil
}

func (b BookingConfig) SlotStride() time.Duration {
	return time.Duration(b.SlotStrideMinutes) * time.Minute
}

type PaymentConfig struct {
	Provider      string        `yaml:"provider"`
	Currency      string        `yaml:"currency"`
	SuccessURL    string        `yaml:"success_url"`
	FailureURL    string        `yaml:"failure_url"`
	PendingURL    string        `yaml:"pending_url"`
	PreferenceTTL time.Duration `yaml:"preference_ttl"`
	StripeKey     string        `yaml:"-"` // Loaded from environment
}

type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

type AMQPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type EmailConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	FromAddress     string `yaml:"from_address"`
	FacilityName    string `yaml:"facility_name"`
	AccessKeyID     string `yaml:"-"` // Loaded from environment
	SecretAccessKey string `yaml:"-"` // Loaded from environment
}

type NotificationsConfig struct {
	Log   bool        `yaml:"log"`
	Redis RedisConfig `yaml:"redis"`
	AMQP  AMQPConfig  `yaml:"amqp"`
	Email EmailConfig `yaml:"email"`
}

type SchedulerConfig struct {
	Enabled       bool   `yaml:"enabled"`
	LifecycleCron string `yaml:"lifecycle_cron"`
}

type Config struct {
	App struct {
		Name        string `yaml:"name"`
		Environment string `yaml:"environment"`
		Port        int    `yaml:"port"`
		BaseURL     string `yaml:"base_url"`
	} `yaml:"app"`

	Database      DatabaseConfig      `yaml:"database"`
	Booking       BookingConfig       `yaml:"booking"`
	Payment       PaymentConfig       `yaml:"payment"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
}

// secrets are never read from YAML.
type secrets struct {
	StripeSecretKey    string `envconfig:"STRIPE_SECRET_KEY"`
	RedisURL           string `envconfig:"REDIS_URL"`
	RabbitURL          string `envconfig:"RABBIT_URL"`
	AWSAccessKeyID     string `envconfig:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `envconfig:"AWS_SECRET_ACCESS_KEY"`
}

// Load loads both .env and yaml configuration
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	var env secrets
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("error reading environment: %w", err)
	}
	cfg.applySecrets(env)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML configuration and fills in defaults. It does not read
// the environment or validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applySecrets(env secrets) {
	c.Payment.StripeKey = env.StripeSecretKey
	if env.RedisURL != "" {
		c.Notifications.Redis.URL = env.RedisURL
	}
	if env.RabbitURL != "" {
		c.Notifications.AMQP.URL = env.RabbitURL
	}
	c.Notifications.Email.AccessKeyID = env.AWSAccessKeyID
	c.Notifications.Email.SecretAccessKey = env.AWSSecretAccessKey
}

func (c *Config) applyDefaults() {
	if c.App.Environment == "" {
		c.App.Environment = "development"
	}
	if c.Database.BusyTimeoutMillis == 0 {
		c.Database.BusyTimeoutMillis = 5000
	}
	if c.Booking.Timezone == "" {
		c.Booking.Timezone = "UTC"
	}
	if c.Booking.SlotStrideMinutes == 0 {
		c.Booking.SlotStrideMinutes = 30
	}
	if c.Booking.RefundThreshold == 0 {
		c.Booking.RefundThreshold = 2 * time.Hour
	}
	if c.Booking.CacheTTL == 0 {
		c.Booking.CacheTTL = 30 * time.Second
	}
	if c.Booking.TxTimeout == 0 {
		c.Booking.TxTimeout = 5 * time.Second
	}
	if c.Payment.Provider == "" {
		c.Payment.Provider = "mock"
	}
	if c.Payment.Currency == "" {
		c.Payment.Currency = "usd"
	}
	if c.Payment.PreferenceTTL == 0 {
		c.Payment.PreferenceTTL = 30 * time.Minute
	}
	if c.Notifications.Redis.Channel == "" {
		c.Notifications.Redis.Channel = "booking-events"
	}
	if c.Notifications.AMQP.Exchange == "" {
		c.Notifications.AMQP.Exchange = "booking.events"
	}
	if c.Scheduler.LifecycleCron == "" {
		c.Scheduler.LifecycleCron = "*/5 * * * *"
	}
}

func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}
	if c.App.Port == 0 {
		return fmt.Errorf("app port is required")
	}
	if c.Database.Driver == "" {
		return fmt.Errorf("database driver is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Filename == "" {
			return fmt.Errorf("database filename is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if _, err := c.Booking.Location(); err != nil {
		return err
	}
	if c.Booking.SlotStrideMinutes < 0 {
		return fmt.Errorf("booking slot_stride_minutes cannot be negative")
	}
	if c.Booking.RefundThreshold < 0 {
		return fmt.Errorf("booking refund_threshold cannot be negative")
	}
	if c.Booking.TxTimeout < 0 || c.Booking.CacheTTL < 0 {
		return fmt.Errorf("booking timeouts cannot be negative")
	}

	switch strings.ToLower(c.Payment.Provider) {
	case "mock":
	case "stripe":
		if c.Payment.StripeKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required for the stripe payment provider")
		}
		if c.Payment.SuccessURL == "" {
			return fmt.Errorf("payment success_url is required for the stripe payment provider")
		}
		if c.Payment.PreferenceTTL < 30*time.Minute || c.Payment.PreferenceTTL > 24*time.Hour {
			return fmt.Errorf("payment preference_ttl must be between 30m and 24h for the stripe payment provider")
		}
	default:
		return fmt.Errorf("unsupported payment provider: %s", c.Payment.Provider)
	}

	if c.Notifications.Redis.Enabled && c.Notifications.Redis.URL == "" {
		return fmt.Errorf("redis url is required when redis notifications are enabled")
	}
	if c.Notifications.AMQP.Enabled && c.Notifications.AMQP.URL == "" {
		return fmt.Errorf("amqp url is required when amqp notifications are enabled")
	}
	if c.Notifications.Email.Enabled {
		email := c.Notifications.Email
		if email.Region == "" || email.FromAddress == "" {
			return fmt.Errorf("email region and from_address are required when email notifications are enabled")
		}
		if email.AccessKeyID == "" || email.SecretAccessKey == "" {
			return fmt.Errorf("AWS credentials are required when email notifications are enabled")
		}
	}

	if c.Scheduler.Enabled {
		if _, err := cron.ParseStandard(c.Scheduler.LifecycleCron); err != nil {
			return fmt.Errorf("invalid scheduler lifecycle_cron %q: %w", c.Scheduler.LifecycleCron, err)
		}
	}

	return nil
}
