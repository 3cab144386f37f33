package container

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/booking-approval/internal/application/port"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "db", "booking.db")
	cfg.Lark.AppID = "cli_test"
	cfg.Lark.AppSecret = "secret"
	cfg.OpenAI.APIKey = "sk-test"
	cfg.Render.OutputDir = filepath.Join(dir, "out")
	cfg.Storage.ArchiveDir = filepath.Join(dir, "originals")
	cfg.Stakeholders = map[string]port.Stakeholders{
		"acme": {Coordinator: "ou_c", HoS: "ou_h", Finance: "chat_id:oc_f"},
	}
	return cfg
}

func TestNewContainer_Validation(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewContainer(testConfig(t), nil)
	assert.Error(t, err)

	cfg := testConfig(t)
	cfg.Lark.AppID = ""
	_, err = NewContainer(cfg, zap.NewNop())
	assert.ErrorContains(t, err, "lark.app_id")

	cfg = testConfig(t)
	cfg.Storage.Backend = "s3"
	_, err = NewContainer(cfg, zap.NewNop())
	assert.ErrorContains(t, err, "storage backend")
}

func TestContainer_StartHealthClose(t *testing.T) {
	c, err := NewContainer(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	assert.False(t, c.Ready())

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.Ready())
	assert.Error(t, c.Start(ctx))

	assert.NotNil(t, c.BookingService())
	assert.NotNil(t, c.Engine())
	assert.NotNil(t, c.Notifier())
	assert.NotNil(t, c.Metrics())
	assert.NotNil(t, c.Dispatcher())
	require.NotNil(t, c.Repositories())

	active, err := c.BookingService().ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	health := c.Health(ctx)
	assert.True(t, health.Overall)
	assert.True(t, health.Components["database"].Healthy)
	assert.Contains(t, health.Components, "workflow_cache")
	assert.NotContains(t, health.Components, "nats")

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close())
	assert.Error(t, c.Start(ctx))
}

func TestProvideDatabase_UnknownDriver(t *testing.T) {
	_, err := ProvideDatabase(context.Background(), &DatabaseConfig{Driver: "mysql"}, zap.NewNop())
	assert.ErrorContains(t, err, "unknown database driver")
}

func TestProvideArchive_UnknownBackend(t *testing.T) {
	_, _, err := ProvideArchive(context.Background(), &StorageConfig{Backend: "ftp"}, zap.NewNop())
	assert.Error(t, err)
}
