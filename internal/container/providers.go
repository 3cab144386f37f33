package container

import (
	"context"
	"fmt"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/garyjia/booking-approval/internal/application/debounce"
	"github.com/garyjia/booking-approval/internal/application/dispatcher"
	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/application/service"
	"github.com/garyjia/booking-approval/internal/application/session"
	"github.com/garyjia/booking-approval/internal/application/workflow"
	"github.com/garyjia/booking-approval/internal/infrastructure/directory"
	infraLark "github.com/garyjia/booking-approval/internal/infrastructure/external/lark"
	"github.com/garyjia/booking-approval/internal/infrastructure/external/openai"
	"github.com/garyjia/booking-approval/internal/infrastructure/messaging"
	"github.com/garyjia/booking-approval/internal/infrastructure/metrics"
	"github.com/garyjia/booking-approval/internal/infrastructure/persistence/postgres"
	"github.com/garyjia/booking-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/booking-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/booking-approval/internal/infrastructure/render"
	"github.com/garyjia/booking-approval/internal/infrastructure/storage"
	"github.com/garyjia/booking-approval/internal/infrastructure/worker"
	"github.com/garyjia/booking-approval/pkg/database"
)

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Workflow port.WorkflowRepository
	Record   port.RecordStore
	History  port.HistoryRepository
}

// DatabaseBundle holds the repositories of the configured backend and
// the hooks to check and release the connection.
type DatabaseBundle struct {
	Repositories *RepositoryBundle
	Ping         func(ctx context.Context) error
	Close        func() error
}

// ProvideDatabase opens the configured database, applies pending
// migrations and builds the repositories on top of it.
func ProvideDatabase(ctx context.Context, cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	switch cfg.Driver {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return &DatabaseBundle{
			Repositories: &RepositoryBundle{
				Workflow: postgres.NewWorkflowRepository(db),
				Record:   postgres.NewRecordRepository(db),
				History:  postgres.NewHistoryRepository(db),
			},
			Ping: db.Ping,
			Close: func() error {
				db.Close()
				return nil
			},
		}, nil

	case "sqlite", "":
		raw, err := database.New(database.Config{
			Path:            cfg.Path,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := database.NewMigrator(raw, logger).Run(); err != nil {
			raw.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		db := sqlite.NewDB(raw.DB, logger)
		return &DatabaseBundle{
			Repositories: &RepositoryBundle{
				Workflow: repository.NewWorkflowRepository(db, logger),
				Record:   repository.NewRecordRepository(db, logger),
				History:  repository.NewHistoryRepository(db, logger),
			},
			Ping:  raw.PingContext,
			Close: raw.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// ProvideNotifier creates the Lark client and the notifier built on it.
func ProvideNotifier(cfg *LarkConfig, logger *zap.Logger) *infraLark.Notifier {
	client := infraLark.NewSDKClient(infraLark.Config{
		AppID:     cfg.AppID,
		AppSecret: cfg.AppSecret,
		BaseURL:   cfg.BaseURL,
	}, logger)
	return infraLark.NewNotifier(client, logger)
}

// ProvideClassifier creates the intent classifier used by edit sessions.
func ProvideClassifier(cfg *OpenAIConfig, logger *zap.Logger) (port.IntentClassifier, error) {
	prompts, err := openai.LoadPrompts(cfg.PromptsPath)
	if err != nil {
		return nil, err
	}
	return openai.NewClassifier(openai.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	}, prompts, logger), nil
}

// ProvideRenderer creates the booking order renderer.
func ProvideRenderer(cfg *RenderConfig, logger *zap.Logger) (port.Renderer, error) {
	return render.NewExcelRenderer(render.Config{
		OutputDir:    cfg.OutputDir,
		TemplatePath: cfg.TemplatePath,
		CompanyName:  cfg.CompanyName,
	}, logger)
}

// ProvideArchive creates the source document archive. The returned close
// function releases the storage client, if any.
func ProvideArchive(ctx context.Context, cfg *StorageConfig, logger *zap.Logger) (port.FileArchive, func() error, error) {
	switch cfg.Backend {
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		return storage.NewGCSArchive(client, cfg.GCSBucket, cfg.GCSPrefix, logger), client.Close, nil
	case "local", "":
		return storage.NewLocalArchive(cfg.ArchiveDir, logger), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) dispatcher.Dispatcher {
	return dispatcher.NewDispatcher(dispatcher.WithLogger(logger))
}

// ProvideSubscribers attaches history, metrics and, when configured, the
// NATS publisher to the dispatcher. The publisher is nil when disabled.
func ProvideSubscribers(d dispatcher.Dispatcher, history port.HistoryRepository, cfg *NATSConfig, logger *zap.Logger) (*metrics.Metrics, *messaging.NATSPublisher, error) {
	service.NewHistoryRecorder(history, logger).Register(d)

	m := metrics.New()
	m.Register(d)

	if cfg.URL == "" {
		logger.Info("NATS URL not configured, workflow events stay in process")
		return m, nil, nil
	}
	pub, err := messaging.NewNATSPublisher(messaging.Config{
		URL:           cfg.URL,
		SubjectPrefix: cfg.SubjectPrefix,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	pub.Register(d)
	return m, pub, nil
}

// WorkflowDeps groups the dependencies of the workflow engine.
type WorkflowDeps struct {
	Repos      *RepositoryBundle
	Notifier   port.Notifier
	Renderer   port.Renderer
	Archive    port.FileArchive
	Directory  port.StakeholderDirectory
	Dispatcher dispatcher.Dispatcher
	Booking    *BookingConfig
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the store and the engine on top of it.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.Engine, *workflow.Store, error) {
	if deps == nil || deps.Repos == nil {
		return nil, nil, fmt.Errorf("repositories are required")
	}

	store := workflow.NewStore(deps.Repos.Workflow, deps.Logger,
		workflow.WithMaxUpdateAttempts(deps.Booking.MaxUpdateAttempts))

	engine := workflow.NewEngine(store, deps.Repos.Record, workflow.Collaborators{
		Notifier:  deps.Notifier,
		Renderer:  deps.Renderer,
		Archive:   deps.Archive,
		Directory: deps.Directory,
	},
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithDefaultTaxRate(deps.Booking.VATRate),
		workflow.WithLogger(deps.Logger),
	)
	return engine, store, nil
}

// ProvideBookingService creates the inbound booking service with its
// debouncer and edit session.
func ProvideBookingService(engine workflow.Engine, classifier port.IntentClassifier, history port.HistoryRepository, cfg *BookingConfig, logger *zap.Logger) service.BookingService {
	sess := session.New(engine, classifier, logger, session.WithTTL(cfg.SessionTTL))
	return service.NewBookingService(engine, sess, debounce.New(cfg.DebounceWindow), history, logger)
}

// ProvideWorkers creates the background workers that run while the container is up.
func ProvideWorkers(repos *RepositoryBundle, m *metrics.Metrics, cfg *BookingConfig, logger *zap.Logger) *worker.Manager {
	mgr := worker.NewManager(logger)
	mgr.Register(worker.NewActiveGauge(repos.Workflow, m, cfg.GaugeInterval, logger))
	return mgr
}

// ProvideDirectory creates the stakeholder directory.
func ProvideDirectory(stakeholders map[string]port.Stakeholders) *directory.Static {
	return directory.NewStatic(stakeholders)
}
