// Package container provides dependency injection and lifecycle management
// for the booking approval service.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/booking-approval/internal/application/port"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	Database DatabaseConfig
	Lark     LarkConfig
	OpenAI   OpenAIConfig
	Render   RenderConfig
	Booking  BookingConfig
	Storage  StorageConfig
	NATS     NATSConfig
	Server   ServerConfig

	// Stakeholders maps a company to its contacts
	Stakeholders map[string]port.Stakeholders
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres"
	Driver string

	// Path to the SQLite database file
	Path string

	// DSN is the Postgres connection string
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// LarkConfig holds Lark API settings.
type LarkConfig struct {
	AppID     string
	AppSecret string
	BaseURL   string
}

// OpenAIConfig holds intent classifier settings.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string

	// PromptsPath overrides the built-in prompts when set
	PromptsPath string
}

// RenderConfig holds spreadsheet renderer settings.
type RenderConfig struct {
	OutputDir    string
	TemplatePath string
	CompanyName  string
}

// BookingConfig holds workflow tuning.
type BookingConfig struct {
	// VATRate applies to booking orders parsed without a rate
	VATRate float64

	// DebounceWindow is how long a repeated button click is ignored
	DebounceWindow time.Duration

	// SessionTTL is how long edit conversations are remembered
	SessionTTL time.Duration

	// MaxUpdateAttempts bounds retries on version conflicts
	MaxUpdateAttempts int

	// GaugeInterval is how often the active workflow gauge is recounted
	GaugeInterval time.Duration
}

// StorageConfig holds source document archive settings.
type StorageConfig struct {
	// Backend is "local" or "gcs"
	Backend    string
	ArchiveDir string
	GCSBucket  string
	GCSPrefix  string
}

// NATSConfig holds event bus settings. An empty URL disables publishing.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:       "sqlite",
			Path:         "data/booking.db",
			MaxOpenConns: 1,
			MaxIdleConns: 1,
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Render: RenderConfig{
			OutputDir: "generated_booking_orders",
		},
		Booking: BookingConfig{
			VATRate:           0.05,
			DebounceWindow:    3 * time.Second,
			SessionTTL:        15 * time.Minute,
			MaxUpdateAttempts: 5,
			GaugeInterval:     time.Minute,
		},
		Storage: StorageConfig{
			Backend:    "local",
			ArchiveDir: "data/originals",
			GCSPrefix:  "originals",
		},
		NATS: NATSConfig{
			SubjectPrefix: "booking",
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Stakeholders: make(map[string]port.Stakeholders),
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Lark.AppID == "" {
		return fmt.Errorf("lark.app_id is required")
	}
	if c.Lark.AppSecret == "" {
		return fmt.Errorf("lark.app_secret is required")
	}
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Storage.Backend != "local" && c.Storage.Backend != "gcs" {
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}
