package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig                 `mapstructure:"server"`
	Database     DatabaseConfig               `mapstructure:"database"`
	Lark         LarkConfig                   `mapstructure:"lark"`
	OpenAI       OpenAIConfig                 `mapstructure:"openai"`
	Render       RenderConfig                 `mapstructure:"render"`
	Booking      BookingConfig                `mapstructure:"booking"`
	Storage      StorageConfig                `mapstructure:"storage"`
	NATS         NATSConfig                   `mapstructure:"nats"`
	Stakeholders map[string]StakeholderConfig `mapstructure:"stakeholders"`
	Logger       LoggerConfig                 `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	BaseURL   string `mapstructure:"base_url"`
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	PromptsPath string        `mapstructure:"prompts_path"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// RenderConfig holds booking order rendering configuration
type RenderConfig struct {
	OutputDir    string `mapstructure:"output_dir"`
	TemplatePath string `mapstructure:"template_path"`
	CompanyName  string `mapstructure:"company_name"`
}

// BookingConfig holds workflow tuning
type BookingConfig struct {
	VATRate           float64       `mapstructure:"vat_rate"`
	DebounceWindow    time.Duration `mapstructure:"debounce_window"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	MaxUpdateAttempts int           `mapstructure:"max_update_attempts"`
	GaugeInterval     time.Duration `mapstructure:"gauge_interval"`
}

// StorageConfig selects where source documents are archived
type StorageConfig struct {
	Backend    string `mapstructure:"backend"` // local or gcs
	ArchiveDir string `mapstructure:"archive_dir"`
	GCSBucket  string `mapstructure:"gcs_bucket"`
	GCSPrefix  string `mapstructure:"gcs_prefix"`
}

// NATSConfig holds event bus configuration; an empty URL disables publishing
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// StakeholderConfig lists the contacts of one company
type StakeholderConfig struct {
	Coordinator string `mapstructure:"coordinator"`
	HoS         string `mapstructure:"hos"`
	Finance     string `mapstructure:"finance"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads configPath (optional) and the environment. A .env file in the
// working directory is loaded first so local secrets need not be exported.
// Load does not validate; callers that need the messaging stack call Validate.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/booking.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 0)

	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.timeout", 60*time.Second)

	v.SetDefault("render.output_dir", "generated_booking_orders")

	v.SetDefault("booking.vat_rate", 0.05)
	v.SetDefault("booking.debounce_window", 3*time.Second)
	v.SetDefault("booking.session_ttl", 15*time.Minute)
	v.SetDefault("booking.max_update_attempts", 5)
	v.SetDefault("booking.gauge_interval", time.Minute)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.archive_dir", "data/originals")
	v.SetDefault("storage.gcs_prefix", "originals")

	v.SetDefault("nats.subject_prefix", "booking")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds the credentials and endpoints usually injected by the environment
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("lark.app_id", "LARK_APP_ID")
	_ = v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	_ = v.BindEnv("database.dsn", "DATABASE_DSN")
	_ = v.BindEnv("storage.gcs_bucket", "GCS_BUCKET")
	_ = v.BindEnv("nats.url", "NATS_URL")
}

// Validate checks the settings the server cannot start without
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
	if err := c.ValidateDatabase(); err != nil {
		return err
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.ArchiveDir == "" {
			return fmt.Errorf("storage.archive_dir is required")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}

	if c.Booking.VATRate < 0 || c.Booking.VATRate >= 1 {
		return fmt.Errorf("booking.vat_rate must be a fraction in [0, 1)")
	}
	if len(c.Stakeholders) == 0 {
		return fmt.Errorf("at least one company must be configured under stakeholders")
	}
	return nil
}

// ValidateDatabase checks only the database section, for tools that need nothing else
func (c *Config) ValidateDatabase() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	return nil
}
