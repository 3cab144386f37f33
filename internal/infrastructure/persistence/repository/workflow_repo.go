package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/domain/entity"
	"github.com/garyjia/booking-approval/internal/infrastructure/persistence/sqlite"
)

// WorkflowRepository implements port.WorkflowRepository on sqlite.
// The workflow is stored as a JSON document next to a few query columns.
type WorkflowRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *sqlite.DB, logger *zap.Logger) port.WorkflowRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new workflow
func (r *WorkflowRepository) Create(ctx context.Context, wf *entity.Workflow) error {
	doc, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to encode workflow: %w", err)
	}

	query := `
		INSERT INTO workflows (
			workflow_id, company, stage, status, coordinator_thread,
			saved_to_db, version, document, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Executor(ctx).ExecContext(ctx, query,
		wf.WorkflowID,
		wf.Company,
		string(wf.Stage),
		string(wf.Status),
		wf.CoordinatorThread.ThreadTS,
		wf.SavedToDB,
		wf.Version,
		string(doc),
		wf.CreatedAt.UTC(),
		wf.UpdatedAt.UTC(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("workflow %s already exists: %w", wf.WorkflowID, port.ErrConflict)
		}
		r.logger.Error("Failed to create workflow", zap.String("workflow_id", wf.WorkflowID), zap.Error(err))
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

// Get retrieves a workflow by id
func (r *WorkflowRepository) Get(ctx context.Context, workflowID string) (*entity.Workflow, error) {
	query := `SELECT document, version FROM workflows WHERE workflow_id = ?`

	wf, err := scanWorkflow(r.db.Executor(ctx).QueryRowContext(ctx, query, workflowID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("workflow %s: %w", workflowID, port.ErrNotFound)
		}
		r.logger.Error("Failed to get workflow", zap.String("workflow_id", workflowID), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return wf, nil
}

// Save writes wf when the stored version still equals expectedVersion
func (r *WorkflowRepository) Save(ctx context.Context, wf *entity.Workflow, expectedVersion int64) error {
	doc, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to encode workflow: %w", err)
	}

	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		exec := r.db.Executor(ctx)

		result, err := exec.ExecContext(ctx, `
			UPDATE workflows SET
				stage = ?, status = ?, coordinator_thread = ?, saved_to_db = ?,
				version = ?, document = ?, updated_at = ?
			WHERE workflow_id = ? AND version = ?
		`,
			string(wf.Stage),
			string(wf.Status),
			wf.CoordinatorThread.ThreadTS,
			wf.SavedToDB,
			wf.Version,
			string(doc),
			wf.UpdatedAt.UTC(),
			wf.WorkflowID,
			expectedVersion,
		)
		if err != nil {
			r.logger.Error("Failed to save workflow", zap.String("workflow_id", wf.WorkflowID), zap.Error(err))
			return fmt.Errorf("failed to save workflow: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if affected == 1 {
			return nil
		}

		var exists int
		err = exec.QueryRowContext(ctx, `SELECT 1 FROM workflows WHERE workflow_id = ?`, wf.WorkflowID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("workflow %s: %w", wf.WorkflowID, port.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to check workflow: %w", err)
		}
		return fmt.Errorf("workflow %s moved past version %d: %w", wf.WorkflowID, expectedVersion, port.ErrConflict)
	})
}

// ListActive returns every workflow that still needs processing, oldest first
func (r *WorkflowRepository) ListActive(ctx context.Context) ([]*entity.Workflow, error) {
	placeholders := make([]string, len(entity.TerminalStatuses))
	args := make([]interface{}, 0, len(entity.TerminalStatuses)+1)
	for i, s := range entity.TerminalStatuses {
		placeholders[i] = "?"
		args = append(args, string(s))
	}
	args = append(args, string(entity.StageFinance))

	query := fmt.Sprintf(`
		SELECT document, version FROM workflows
		WHERE status NOT IN (%s)
			AND NOT (stage = ? AND saved_to_db = 1)
		ORDER BY created_at ASC, workflow_id ASC
	`, strings.Join(placeholders, ", "))

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list active workflows", zap.Error(err))
		return nil, fmt.Errorf("failed to list active workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*entity.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// GetByThread finds the newest workflow whose coordinator thread root is threadRef
func (r *WorkflowRepository) GetByThread(ctx context.Context, threadRef string) (*entity.Workflow, error) {
	query := `
		SELECT document, version FROM workflows
		WHERE coordinator_thread = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	wf, err := scanWorkflow(r.db.Executor(ctx).QueryRowContext(ctx, query, threadRef))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("thread %s: %w", threadRef, port.ErrNotFound)
		}
		r.logger.Error("Failed to get workflow by thread", zap.String("thread_ref", threadRef), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow by thread: %w", err)
	}
	return wf, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkflow(row scanner) (*entity.Workflow, error) {
	var doc string
	var version int64
	if err := row.Scan(&doc, &version); err != nil {
		return nil, err
	}

	var wf entity.Workflow
	if err := json.Unmarshal([]byte(doc), &wf); err != nil {
		return nil, fmt.Errorf("failed to decode workflow document: %w", err)
	}
	wf.Version = version
	return &wf, nil
}

// Verify interface compliance
var _ port.WorkflowRepository = (*WorkflowRepository)(nil)
