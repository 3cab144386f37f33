package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/booking-approval/internal/domain/entity"
)

// ActiveLister returns the workflows that still need processing
type ActiveLister interface {
	ListActive(ctx context.Context) ([]*entity.Workflow, error)
}

// GaugeSetter receives the active workflow count
type GaugeSetter interface {
	SetActive(n int)
}

// ActiveGauge periodically recounts active workflows so the gauge follows
// completions and cancellations between restarts.
type ActiveGauge struct {
	lister   ActiveLister
	gauge    GaugeSetter
	interval time.Duration
	logger   *zap.Logger
}

// NewActiveGauge creates the refresher. A non-positive interval defaults to one minute.
func NewActiveGauge(lister ActiveLister, gauge GaugeSetter, interval time.Duration, logger *zap.Logger) *ActiveGauge {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActiveGauge{lister: lister, gauge: gauge, interval: interval, logger: logger}
}

func (a *ActiveGauge) Name() string { return "active_gauge" }

// Run refreshes immediately and then on every tick until ctx is cancelled
func (a *ActiveGauge) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.refresh(ctx)
		}
	}
}

func (a *ActiveGauge) refresh(ctx context.Context) {
	active, err := a.lister.ListActive(ctx)
	if err != nil {
		// keep the last value rather than reporting zero
		if ctx.Err() == nil {
			a.logger.Warn("Failed to count active workflows", zap.Error(err))
		}
		return
	}
	a.gauge.SetActive(len(active))
}
