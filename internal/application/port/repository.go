package port

import (
	"context"
	"errors"

	"github.com/garyjia/booking-approval/internal/domain/entity"
)

var (
	// ErrNotFound is returned by repositories when no row matches
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by WorkflowRepository.Save when the stored version moved
	ErrConflict = errors.New("version conflict")
)

// WorkflowRepository persists workflow documents keyed by workflow id.
// The document is stored whole; stage, status and thread columns are
// denormalised for querying.
type WorkflowRepository interface {
	// Create inserts a new workflow at version 1
	Create(ctx context.Context, wf *entity.Workflow) error

	// Get returns ErrNotFound for unknown ids
	Get(ctx context.Context, workflowID string) (*entity.Workflow, error)

	// Save writes wf only if the stored version equals expectedVersion,
	// otherwise ErrConflict. wf.Version must already be expectedVersion+1.
	Save(ctx context.Context, wf *entity.Workflow, expectedVersion int64) error

	// ListActive returns all workflows that are not complete, oldest first.
	// A finance-stage workflow whose record is not saved yet is still active.
	ListActive(ctx context.Context) ([]*entity.Workflow, error)

	// GetByThread finds the workflow whose coordinator thread matches the root reference
	GetByThread(ctx context.Context, threadRef string) (*entity.Workflow, error)
}

// RecordStore persists finalized booking orders
type RecordStore interface {
	// Finalize upserts the record keyed by BORef; repeating it is a no-op
	Finalize(ctx context.Context, rec *entity.FinalizedRecord) error

	// Get returns ErrNotFound for unknown references
	Get(ctx context.Context, boRef string) (*entity.FinalizedRecord, error)
}

// HistoryRepository defines persistence operations for WorkflowHistory
type HistoryRepository interface {
	Create(ctx context.Context, h *entity.WorkflowHistory) error
	ListByWorkflow(ctx context.Context, workflowID string) ([]*entity.WorkflowHistory, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
