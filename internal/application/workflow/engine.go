package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/booking-approval/internal/application/dispatcher"
	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/domain/entity"
	domainwf "github.com/garyjia/booking-approval/internal/domain/workflow"
)

// Engine is the sole authority for booking order state transitions.
//
// Methods that persist state and then run side effects return the persisted
// result together with a side-effect error (ErrRenderFailure or
// ErrNotificationFailure) when only the follow-up work failed. Callers must
// treat a non-nil result as "the action happened".
type Engine interface {
	// Create archives the source document, persists a new workflow at
	// (coordinator, pending) and sends it to the coordinator
	Create(ctx context.Context, req CreateRequest) (*entity.Workflow, error)

	// Transition validates trigger against the persisted state, applies it and runs its side effects
	Transition(ctx context.Context, workflowID, actorID string, trigger domainwf.Trigger, opts ...TransitionOption) (*TransitionResult, error)

	// IsThreadActiveForEdit reports whether free text in threadRef is an edit command
	IsThreadActiveForEdit(wf *entity.Workflow, threadRef string) bool

	// EditData applies field changes while the thread is open for editing
	EditData(ctx context.Context, workflowID, threadRef string, changes map[string]any) (*entity.Workflow, *entity.ChangeSummary, error)

	// StartRevision seeds a new workflow from a finalized record
	StartRevision(ctx context.Context, boRef, requester string) (*entity.Workflow, error)

	// Get returns the current state of a workflow
	Get(ctx context.Context, workflowID string) (*entity.Workflow, error)

	// FindByThread resolves the workflow owning a coordinator thread
	FindByThread(ctx context.Context, threadRef string) (*entity.Workflow, error)

	// ListActive returns all workflows still in flight
	ListActive(ctx context.Context) ([]*entity.Workflow, error)

	// Recover warms the cache at startup and resumes interrupted finalizations
	Recover(ctx context.Context) (int, error)

	// ReplaySideEffects re-runs the side effects of the last applied transition
	ReplaySideEffects(ctx context.Context, workflowID string) error

	// GetRecord returns a finalized record
	GetRecord(ctx context.Context, boRef string) (*entity.FinalizedRecord, error)
}

// CreateRequest carries everything needed to open a workflow
type CreateRequest struct {
	SubmitterID string
	Company     string
	Data        entity.BookingOrderData

	// SourcePath is the temporary upload to archive. Ignored when Original is set.
	SourcePath string
	Filename   string
	Original   *entity.OriginalFile

	RevisionOf       string
	ParentWorkflowID string
}

// TransitionResult describes a persisted transition
type TransitionResult struct {
	Workflow *entity.Workflow
	Previous domainwf.State
	Current  domainwf.State
	Trigger  domainwf.Trigger
}

type transitionOptions struct {
	reason string
}

// TransitionOption configures a single transition
type TransitionOption func(*transitionOptions)

// WithReason attaches a human-supplied reason, used by rejections and cancellations
func WithReason(reason string) TransitionOption {
	return func(o *transitionOptions) {
		o.reason = reason
	}
}

// Collaborators are the outbound contracts the engine calls after a transition
type Collaborators struct {
	Notifier  port.Notifier
	Renderer  port.Renderer
	Archive   port.FileArchive
	Directory port.StakeholderDirectory
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithClock overrides the clock used for decision timestamps and ids
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// WithDefaultTaxRate sets the rate applied to documents parsed without one
func WithDefaultTaxRate(rate float64) EngineOption {
	return func(e *engineImpl) {
		e.defaultTaxRate = rate
	}
}

// WithLogger sets the engine logger
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = logger
	}
}
