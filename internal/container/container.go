package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/booking-approval/internal/application/dispatcher"
	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/application/service"
	"github.com/garyjia/booking-approval/internal/application/workflow"
	"github.com/garyjia/booking-approval/internal/infrastructure/directory"
	"github.com/garyjia/booking-approval/internal/infrastructure/messaging"
	"github.com/garyjia/booking-approval/internal/infrastructure/metrics"
	"github.com/garyjia/booking-approval/internal/infrastructure/worker"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	db *DatabaseBundle

	// Infrastructure - External
	notifier     port.Notifier
	classifier   port.IntentClassifier
	renderer     port.Renderer
	archive      port.FileArchive
	closeArchive func() error
	directory    *directory.Static

	// Events
	dispatcher dispatcher.Dispatcher
	metrics    *metrics.Metrics
	publisher  *messaging.NATSPublisher

	// Application
	store    *workflow.Store
	engine   workflow.Engine
	bookings service.BookingService
	workers  *worker.Manager

	// Lifecycle
	mu     sync.RWMutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components in dependency order:
// 1. Database and repositories
// 2. External collaborators (Lark, OpenAI, renderer, archive)
// 3. Event dispatcher and its subscribers
// 4. Workflow engine and booking service
// 5. Recovery of workflows interrupted by the last shutdown
// 6. Background workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")

	// Step 1: Initialize database and repositories
	db, err := ProvideDatabase(ctx, &c.config.Database, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.db = db
	c.logger.Info("Database initialized", zap.String("driver", c.config.Database.Driver))

	// Step 2: Initialize external collaborators
	if err := c.initExternal(ctx); err != nil {
		return fmt.Errorf("failed to initialize external clients: %w", err)
	}
	c.logger.Info("External clients initialized")

	// Step 3: Initialize dispatcher and subscribers
	c.dispatcher = ProvideDispatcher(c.logger)
	c.metrics, c.publisher, err = ProvideSubscribers(c.dispatcher, c.db.Repositories.History, &c.config.NATS, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize event subscribers: %w", err)
	}
	c.logger.Info("Dispatcher initialized")

	// Step 4: Initialize workflow engine and services
	c.engine, c.store, err = ProvideWorkflowEngine(&WorkflowDeps{
		Repos:      c.db.Repositories,
		Notifier:   c.notifier,
		Renderer:   c.renderer,
		Archive:    c.archive,
		Directory:  c.directory,
		Dispatcher: c.dispatcher,
		Booking:    &c.config.Booking,
		Logger:     c.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize workflow engine: %w", err)
	}
	c.bookings = ProvideBookingService(c.engine, c.classifier, c.db.Repositories.History, &c.config.Booking, c.logger)
	c.logger.Info("Workflow engine initialized")

	// Step 5: Resume interrupted work
	active, err := c.engine.Recover(ctx)
	if err != nil {
		// recovery problems are reported per workflow; the service still starts
		c.logger.Error("Recovery finished with errors", zap.Error(err))
	}
	c.metrics.SetActive(active)
	c.logger.Info("Recovered active workflows", zap.Int("count", active))

	// Step 6: Start background workers
	c.workers = ProvideWorkers(c.db.Repositories, c.metrics, &c.config.Booking, c.logger)
	if err := c.workers.StartAll(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

func (c *Container) initExternal(ctx context.Context) error {
	c.notifier = ProvideNotifier(&c.config.Lark, c.logger)

	classifier, err := ProvideClassifier(&c.config.OpenAI, c.logger)
	if err != nil {
		return err
	}
	c.classifier = classifier

	renderer, err := ProvideRenderer(&c.config.Render, c.logger)
	if err != nil {
		return err
	}
	c.renderer = renderer

	archive, closeArchive, err := ProvideArchive(ctx, &c.config.Storage, c.logger)
	if err != nil {
		return err
	}
	c.archive, c.closeArchive = archive, closeArchive

	c.directory = ProvideDirectory(c.config.Stakeholders)
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	// Step 0: Stop background workers
	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	// Step 1: Close dispatcher, waiting for async handlers
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
	}

	// Step 2: Flush the event bus
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			c.logger.Error("Failed to drain NATS connection", zap.Error(err))
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}

	// Step 3: Release the storage client
	if c.closeArchive != nil {
		if err := c.closeArchive(); err != nil {
			c.logger.Error("Failed to close archive", zap.Error(err))
			errs = append(errs, fmt.Errorf("close archive: %w", err))
		}
	}

	// Step 4: Close database
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return errors.Join(errs...)
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	if c.db == nil {
		set("database", false, "not initialized")
	} else {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := c.db.Ping(pingCtx)
		cancel()
		if err != nil {
			set("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("database", true, "")
		}
	}

	if c.store != nil {
		set("workflow_cache", true, fmt.Sprintf("cached workflows: %d", c.store.CachedCount()))
	} else {
		set("workflow_cache", false, "not initialized")
	}

	if c.dispatcher != nil {
		set("dispatcher", true, "")
	} else {
		set("dispatcher", false, "not initialized")
	}

	if c.config.NATS.URL != "" {
		set("nats", c.publisher != nil, "")
	}

	return status
}

// Getters for accessing container components

// BookingService returns the inbound booking service.
func (c *Container) BookingService() service.BookingService {
	return c.bookings
}

// Engine returns the workflow engine.
func (c *Container) Engine() workflow.Engine {
	return c.engine
}

// Notifier returns the Lark notifier.
func (c *Container) Notifier() port.Notifier {
	return c.notifier
}

// Metrics returns the Prometheus collectors.
func (c *Container) Metrics() *metrics.Metrics {
	return c.metrics
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	if c.db == nil {
		return nil
	}
	return c.db.Repositories
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}
