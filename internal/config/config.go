package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port         string   `mapstructure:"PORT"`
	Env          string   `mapstructure:"ENV"`
	DatabaseURL  string   `mapstructure:"DATABASE_URL"`
	DBMaxConns   int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns   int32    `mapstructure:"DB_MIN_CONNS"`
	DBSchema     string   `mapstructure:"DB_SCHEMA"`
	CORSOrigins  []string `mapstructure:"CORS_ORIGINS"`
	AuthSigning  string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer   string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience string   `mapstructure:"AUTH_AUDIENCE"`

	RedisURL       string `mapstructure:"REDIS_URL"`
	RabbitURL      string `mapstructure:"RABBIT_URL"`
	RabbitExchange string `mapstructure:"RABBIT_EXCHANGE"`
	RabbitQueue    string `mapstructure:"RABBIT_QUEUE"`
	OTLPEndpoint   string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	AutoAssignEnabled         bool          `mapstructure:"AUTO_ASSIGN_ENABLED"`
	AutoAssignWindowDays      int           `mapstructure:"AUTO_ASSIGN_WINDOW_DAYS"`
	AutoAssignMaxSlots        int           `mapstructure:"AUTO_ASSIGN_MAX_SLOTS_PER_TEMPLATE"`
	AutoAssignMaxAppointments int           `mapstructure:"AUTO_ASSIGN_MAX_APPOINTMENTS"`
	AutoAssignMaxRetries      int           `mapstructure:"AUTO_ASSIGN_MAX_RETRIES"`
	AutoAssignRetryDelay      time.Duration `mapstructure:"AUTO_ASSIGN_RETRY_DELAY"`
	AutoAssignNote            string        `mapstructure:"AUTO_ASSIGN_NOTE"`
	AutoAssignTimezone        string        `mapstructure:"AUTO_ASSIGN_TIMEZONE"`
	AutoAssignLockTTL         time.Duration `mapstructure:"AUTO_ASSIGN_LOCK_TTL"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
	"CORS_ORIGINS", "AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"REDIS_URL", "RABBIT_URL", "RABBIT_EXCHANGE", "RABBIT_QUEUE",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
	"AUTO_ASSIGN_ENABLED", "AUTO_ASSIGN_WINDOW_DAYS", "AUTO_ASSIGN_MAX_SLOTS_PER_TEMPLATE",
	"AUTO_ASSIGN_MAX_APPOINTMENTS", "AUTO_ASSIGN_MAX_RETRIES", "AUTO_ASSIGN_RETRY_DELAY",
	"AUTO_ASSIGN_NOTE", "AUTO_ASSIGN_TIMEZONE", "AUTO_ASSIGN_LOCK_TTL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RABBIT_EXCHANGE", "quickassign")
	v.SetDefault("RABBIT_QUEUE", "quickassign.attempts")
	v.SetDefault("AUTO_ASSIGN_ENABLED", true)
	v.SetDefault("AUTO_ASSIGN_WINDOW_DAYS", 7)
	v.SetDefault("AUTO_ASSIGN_MAX_SLOTS_PER_TEMPLATE", 100)
	v.SetDefault("AUTO_ASSIGN_MAX_APPOINTMENTS", 1)
	v.SetDefault("AUTO_ASSIGN_MAX_RETRIES", 3)
	v.SetDefault("AUTO_ASSIGN_RETRY_DELAY", "1m")
	v.SetDefault("AUTO_ASSIGN_NOTE", "This appointment was automatically generated using quick auto-assign feature.")
	v.SetDefault("AUTO_ASSIGN_LOCK_TTL", "2m")
	v.SetDefault("AUTO_ASSIGN_TIMEZONE", "UTC")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.AuthSigning == "" {
		log.Println("WARNING: development mode without AUTH_SIGNING_KEY; API requests are not authenticated")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves AUTO_ASSIGN_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.AutoAssignTimezone)
	if err != nil {
		return nil, fmt.Errorf("AUTO_ASSIGN_TIMEZONE %q: %w", c.AutoAssignTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run. The assignment
// window is not checked here; a bad window is recorded on each assignment
// event as a configuration failure.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigning == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.IsProduction() {
		for _, o := range c.CORSOrigins {
			if strings.TrimSpace(o) == "*" {
				return fmt.Errorf("CORS_ORIGINS must not contain \"*\" in production")
			}
		}
	}
	if c.AutoAssignMaxRetries < 0 {
		return fmt.Errorf("AUTO_ASSIGN_MAX_RETRIES must be >= 0, got %d", c.AutoAssignMaxRetries)
	}
	if c.AutoAssignMaxAppointments < 1 {
		return fmt.Errorf("AUTO_ASSIGN_MAX_APPOINTMENTS must be >= 1, got %d", c.AutoAssignMaxAppointments)
	}
	if c.AutoAssignMaxSlots < 1 {
		return fmt.Errorf("AUTO_ASSIGN_MAX_SLOTS_PER_TEMPLATE must be >= 1, got %d", c.AutoAssignMaxSlots)
	}
	if c.AutoAssignLockTTL <= 0 {
		return fmt.Errorf("AUTO_ASSIGN_LOCK_TTL must be positive, got %s", c.AutoAssignLockTTL)
	}
	if c.AutoAssignRetryDelay < 0 {
		return fmt.Errorf("AUTO_ASSIGN_RETRY_DELAY must not be negative, got %s", c.AutoAssignRetryDelay)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
