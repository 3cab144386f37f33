package config

import (
	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	stakeholders := make(map[string]port.Stakeholders, len(c.Stakeholders))
	for company, s := range c.Stakeholders {
		stakeholders[company] = port.Stakeholders{
			Coordinator: s.Coordinator,
			HoS:         s.HoS,
			Finance:     s.Finance,
		}
	}

	return &container.Config{
		Database: container.DatabaseConfig{
			Driver:          c.Database.Driver,
			Path:            c.Database.Path,
			DSN:             c.Database.DSN,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Lark: container.LarkConfig{
			AppID:     c.Lark.AppID,
			AppSecret: c.Lark.AppSecret,
			BaseURL:   c.Lark.BaseURL,
		},
		OpenAI: container.OpenAIConfig{
			APIKey:      c.OpenAI.APIKey,
			BaseURL:     c.OpenAI.BaseURL,
			Model:       c.OpenAI.Model,
			PromptsPath: c.OpenAI.PromptsPath,
		},
		Render: container.RenderConfig{
			OutputDir:    c.Render.OutputDir,
			TemplatePath: c.Render.TemplatePath,
			CompanyName:  c.Render.CompanyName,
		},
		Booking: container.BookingConfig{
			VATRate:           c.Booking.VATRate,
			DebounceWindow:    c.Booking.DebounceWindow,
			SessionTTL:        c.Booking.SessionTTL,
			MaxUpdateAttempts: c.Booking.MaxUpdateAttempts,
			GaugeInterval:     c.Booking.GaugeInterval,
		},
		Storage: container.StorageConfig{
			Backend:    c.Storage.Backend,
			ArchiveDir: c.Storage.ArchiveDir,
			GCSBucket:  c.Storage.GCSBucket,
			GCSPrefix:  c.Storage.GCSPrefix,
		},
		NATS: container.NATSConfig{
			URL:           c.NATS.URL,
			SubjectPrefix: c.NATS.SubjectPrefix,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
		Stakeholders: stakeholders,
	}
}
