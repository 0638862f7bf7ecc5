package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment.
type Config struct {
	DatabaseURL   string `env:"DATABASE_URL,required"`
	EncryptionKey string `env:"ENCRYPTION_KEY,required"` // 64 hex characters

	RedisAddr     string `env:"REDIS_ADDR"` // Row cache disabled when empty
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	AMQPURL       string `env:"AMQP_URL"` // Broker integration disabled when empty

	AppURL      string `env:"APP_URL" envDefault:"http://localhost:8081"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8081"`
	GRPCPort    int    `env:"GRPC_PORT" envDefault:"50051"`

	ProviderTimeoutSeconds  int `env:"PROVIDER_TIMEOUT_SECONDS" envDefault:"30"`
	SettingsCacheTTLMinutes int `env:"SETTINGS_CACHE_TTL_MINUTES" envDefault:"5"`
	TokenCacheTTLMinutes    int `env:"TOKEN_CACHE_TTL_MINUTES" envDefault:"60"`
	RowCacheTTLMinutes      int `env:"ROW_CACHE_TTL_MINUTES" envDefault:"60"`
	SweepIntervalMinutes    int `env:"SWEEP_INTERVAL_MINUTES" envDefault:"10"`
	CleanupIntervalMinutes  int `env:"CLEANUP_INTERVAL_MINUTES" envDefault:"5"`

	Timezone       string `env:"TIMEZONE" envDefault:"America/Bogota"`
	CheckoutHour   int    `env:"CHECKOUT_HOUR" envDefault:"11"`
	InvitationHour int    `env:"INVITATION_HOUR" envDefault:"8"`

	WhatsAppTemplateInvitation string `env:"WHATSAPP_TEMPLATE_INVITATION" envDefault:"reservation_checkin_invitation"`
	WhatsAppTemplatePin        string `env:"WHATSAPP_TEMPLATE_PIN" envDefault:"reservation_door_pin"`
	WhatsAppTemplateCheckIn    string `env:"WHATSAPP_TEMPLATE_CHECKIN" envDefault:"reservation_checkin_completed"`

	NotifyAfterPaymentWebhook bool `env:"NOTIFY_AFTER_PAYMENT_WEBHOOK" envDefault:"false"`
}

// Load reads an optional .env file (or the given files) and parses the environment.
// Variables already set take precedence over file values.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			files = []string{".env"}
		}
	}
	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges the env tags cannot express.
func (c *Config) Validate() error {
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil || len(key) != 32 {
		return errors.New("ENCRYPTION_KEY must be 64 hex characters")
	}
	if c.CheckoutHour < 0 || c.CheckoutHour > 23 {
		return fmt.Errorf("CHECKOUT_HOUR out of range: %d", c.CheckoutHour)
	}
	if c.InvitationHour < 0 || c.InvitationHour > 23 {
		return fmt.Errorf("INVITATION_HOUR out of range: %d", c.InvitationHour)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}
	return nil
}

// Location returns the fallback time zone, UTC when TIMEZONE is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}

func (c *Config) SettingsCacheTTL() time.Duration {
	return time.Duration(c.SettingsCacheTTLMinutes) * time.Minute
}

func (c *Config) TokenCacheTTL() time.Duration {
	return time.Duration(c.TokenCacheTTLMinutes) * time.Minute
}

func (c *Config) RowCacheTTL() time.Duration {
	return time.Duration(c.RowCacheTTLMinutes) * time.Minute
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMinutes) * time.Minute
}
