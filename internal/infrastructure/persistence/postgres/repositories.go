package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/domain/entity"
)

const uniqueViolation = "23505"

// WorkflowRepository implements port.WorkflowRepository on postgres
type WorkflowRepository struct {
	db *DB
}

// NewWorkflowRepository creates a postgres workflow repository
func NewWorkflowRepository(db *DB) port.WorkflowRepository {
	return &WorkflowRepository{db: db}
}

func (r *WorkflowRepository) Create(ctx context.Context, wf *entity.Workflow) error {
	doc, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to encode workflow: %w", err)
	}

	_, err = r.db.executor(ctx).Exec(ctx, `
		INSERT INTO workflows (
			workflow_id, company, stage, status, coordinator_thread,
			saved_to_db, version, document, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		wf.WorkflowID, wf.Company, string(wf.Stage), string(wf.Status), wf.CoordinatorThread.ThreadTS,
		wf.SavedToDB, wf.Version, doc, wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("workflow %s already exists: %w", wf.WorkflowID, port.ErrConflict)
		}
		r.db.logger.Error("Failed to create workflow", zap.String("workflow_id", wf.WorkflowID), zap.Error(err))
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

func (r *WorkflowRepository) Get(ctx context.Context, workflowID string) (*entity.Workflow, error) {
	wf, err := scanWorkflow(r.db.executor(ctx).QueryRow(ctx,
		`SELECT document, version FROM workflows WHERE workflow_id = $1`, workflowID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, port.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return wf, nil
}

func (r *WorkflowRepository) Save(ctx context.Context, wf *entity.Workflow, expectedVersion int64) error {
	doc, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to encode workflow: %w", err)
	}

	tag, err := r.db.executor(ctx).Exec(ctx, `
		UPDATE workflows SET
			stage = $1, status = $2, coordinator_thread = $3, saved_to_db = $4,
			version = $5, document = $6, updated_at = $7
		WHERE workflow_id = $8 AND version = $9
	`,
		string(wf.Stage), string(wf.Status), wf.CoordinatorThread.ThreadTS, wf.SavedToDB,
		wf.Version, doc, wf.UpdatedAt, wf.WorkflowID, expectedVersion,
	)
	if err != nil {
		r.db.logger.Error("Failed to save workflow", zap.String("workflow_id", wf.WorkflowID), zap.Error(err))
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.db.executor(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM workflows WHERE workflow_id = $1)`, wf.WorkflowID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check workflow: %w", err)
	}
	if !exists {
		return fmt.Errorf("workflow %s: %w", wf.WorkflowID, port.ErrNotFound)
	}
	return fmt.Errorf("workflow %s moved past version %d: %w", wf.WorkflowID, expectedVersion, port.ErrConflict)
}

func (r *WorkflowRepository) ListActive(ctx context.Context) ([]*entity.Workflow, error) {
	terminal := make([]string, len(entity.TerminalStatuses))
	for i, s := range entity.TerminalStatuses {
		terminal[i] = string(s)
	}

	rows, err := r.db.executor(ctx).Query(ctx, `
		SELECT document, version FROM workflows
		WHERE status <> ALL($1)
			AND NOT (stage = $2 AND saved_to_db)
		ORDER BY created_at ASC, workflow_id ASC
	`, terminal, string(entity.StageFinance))
	if err != nil {
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

func (r *WorkflowRepository) GetByThread(ctx context.Context, threadRef string) (*entity.Workflow, error) {
	wf, err := scanWorkflow(r.db.executor(ctx).QueryRow(ctx, `
		SELECT document, version FROM workflows
		WHERE coordinator_thread = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, threadRef))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", threadRef, port.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow by thread: %w", err)
	}
	return wf, nil
}

func scanWorkflow(row pgx.Row) (*entity.Workflow, error) {
	var doc []byte
	var version int64
	if err := row.Scan(&doc, &version); err != nil {
		return nil, err
	}

	var wf entity.Workflow
	if err := json.Unmarshal(doc, &wf); err != nil {
		return nil, fmt.Errorf("failed to decode workflow document: %w", err)
	}
	wf.Version = version
	return &wf, nil
}

// RecordRepository implements port.RecordStore on postgres
type RecordRepository struct {
	db *DB
}

// NewRecordRepository creates a postgres finalized-record repository
func NewRecordRepository(db *DB) port.RecordStore {
	return &RecordRepository{db: db}
}

func (r *RecordRepository) Finalize(ctx context.Context, rec *entity.FinalizedRecord) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("failed to encode booking order data: %w", err)
	}
	original, err := json.Marshal(rec.Original)
	if err != nil {
		return fmt.Errorf("failed to encode original file: %w", err)
	}

	tag, err := r.db.executor(ctx).Exec(ctx, `
		INSERT INTO booking_orders (
			bo_ref, workflow_id, company, revision_of, approved_by,
			data, original, finalized_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (bo_ref) DO UPDATE SET
			company = EXCLUDED.company,
			revision_of = EXCLUDED.revision_of,
			approved_by = EXCLUDED.approved_by,
			data = EXCLUDED.data,
			original = EXCLUDED.original,
			finalized_at = EXCLUDED.finalized_at
		WHERE booking_orders.workflow_id = EXCLUDED.workflow_id
	`,
		rec.BORef, rec.WorkflowID, rec.Company, rec.RevisionOf, rec.ApprovedBy,
		data, original, rec.FinalizedAt,
	)
	if err != nil {
		r.db.logger.Error("Failed to finalize booking order", zap.String("bo_ref", rec.BORef), zap.Error(err))
		return fmt.Errorf("failed to finalize booking order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("booking order %s belongs to another workflow: %w", rec.BORef, port.ErrConflict)
	}
	return nil
}

func (r *RecordRepository) Get(ctx context.Context, boRef string) (*entity.FinalizedRecord, error) {
	var rec entity.FinalizedRecord
	var data, original []byte

	err := r.db.executor(ctx).QueryRow(ctx, `
		SELECT bo_ref, workflow_id, company, revision_of, approved_by,
			data, original, finalized_at
		FROM booking_orders
		WHERE bo_ref = $1
	`, boRef).Scan(
		&rec.BORef, &rec.WorkflowID, &rec.Company, &rec.RevisionOf, &rec.ApprovedBy,
		&data, &original, &rec.FinalizedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("booking order %s: %w", boRef, port.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking order: %w", err)
	}

	if err := json.Unmarshal(data, &rec.Data); err != nil {
		return nil, fmt.Errorf("failed to decode booking order data: %w", err)
	}
	if err := json.Unmarshal(original, &rec.Original); err != nil {
		return nil, fmt.Errorf("failed to decode original file: %w", err)
	}
	return &rec, nil
}

// HistoryRepository implements port.HistoryRepository on postgres
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository creates a postgres history repository
func NewHistoryRepository(db *DB) port.HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) Create(ctx context.Context, h *entity.WorkflowHistory) error {
	if h.Timestamp.IsZero() {
		h.Timestamp = time.Now()
	}

	err := r.db.executor(ctx).QueryRow(ctx, `
		INSERT INTO workflow_history (
			workflow_id, actor_id, previous_stage, previous_status,
			new_stage, new_status, action_type, action_data, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		h.WorkflowID, h.ActorID, h.PreviousStage, h.PreviousStatus,
		h.NewStage, h.NewStatus, h.ActionType, h.ActionData, h.Timestamp,
	).Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("failed to create history: %w", err)
	}
	return nil
}

func (r *HistoryRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*entity.WorkflowHistory, error) {
	rows, err := r.db.executor(ctx).Query(ctx, `
		SELECT id, workflow_id, actor_id, previous_stage, previous_status,
			new_stage, new_status, action_type, action_data, timestamp
		FROM workflow_history
		WHERE workflow_id = $1
		ORDER BY id ASC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var records []*entity.WorkflowHistory
	for rows.Next() {
		var h entity.WorkflowHistory
		if err := rows.Scan(
			&h.ID, &h.WorkflowID, &h.ActorID, &h.PreviousStage, &h.PreviousStatus,
			&h.NewStage, &h.NewStatus, &h.ActionType, &h.ActionData, &h.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		records = append(records, &h)
	}
	return records, rows.Err()
}

// Verify interface compliance
var (
	_ port.WorkflowRepository = (*WorkflowRepository)(nil)
	_ port.RecordStore        = (*RecordRepository)(nil)
	_ port.HistoryRepository  = (*HistoryRepository)(nil)
)
