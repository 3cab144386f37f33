package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/domain/entity"
	"github.com/garyjia/booking-approval/internal/infrastructure/persistence/sqlite"
)

// RecordRepository implements port.RecordStore on the booking_orders table
type RecordRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewRecordRepository creates a new finalized-record repository
func NewRecordRepository(db *sqlite.DB, logger *zap.Logger) port.RecordStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordRepository{
		db:     db,
		logger: logger,
	}
}

// Finalize upserts the record by BORef. Writing the same workflow's record
// again overwrites it; a BORef owned by another workflow is a conflict.
func (r *RecordRepository) Finalize(ctx context.Context, rec *entity.FinalizedRecord) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("failed to encode booking order data: %w", err)
	}
	original, err := json.Marshal(rec.Original)
	if err != nil {
		return fmt.Errorf("failed to encode original file: %w", err)
	}

	query := `
		INSERT INTO booking_orders (
			bo_ref, workflow_id, company, revision_of, approved_by,
			data, original, finalized_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bo_ref) DO UPDATE SET
			company = excluded.company,
			revision_of = excluded.revision_of,
			approved_by = excluded.approved_by,
			data = excluded.data,
			original = excluded.original,
			finalized_at = excluded.finalized_at
		WHERE booking_orders.workflow_id = excluded.workflow_id
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		rec.BORef,
		rec.WorkflowID,
		rec.Company,
		rec.RevisionOf,
		rec.ApprovedBy,
		string(data),
		string(original),
		rec.FinalizedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to finalize booking order", zap.String("bo_ref", rec.BORef), zap.Error(err))
		return fmt.Errorf("failed to finalize booking order: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("booking order %s belongs to another workflow: %w", rec.BORef, port.ErrConflict)
	}
	return nil
}

// Get retrieves a finalized record by its reference
func (r *RecordRepository) Get(ctx context.Context, boRef string) (*entity.FinalizedRecord, error) {
	query := `
		SELECT bo_ref, workflow_id, company, revision_of, approved_by,
			data, original, finalized_at
		FROM booking_orders
		WHERE bo_ref = ?
	`

	var rec entity.FinalizedRecord
	var data, original string

	err := r.db.Executor(ctx).QueryRowContext(ctx, query, boRef).Scan(
		&rec.BORef,
		&rec.WorkflowID,
		&rec.Company,
		&rec.RevisionOf,
		&rec.ApprovedBy,
		&data,
		&original,
		&rec.FinalizedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("booking order %s: %w", boRef, port.ErrNotFound)
		}
		r.logger.Error("Failed to get booking order", zap.String("bo_ref", boRef), zap.Error(err))
		return nil, fmt.Errorf("failed to get booking order: %w", err)
	}

	if err := json.Unmarshal([]byte(data), &rec.Data); err != nil {
		return nil, fmt.Errorf("failed to decode booking order data: %w", err)
	}
	if err := json.Unmarshal([]byte(original), &rec.Original); err != nil {
		return nil, fmt.Errorf("failed to decode original file: %w", err)
	}
	return &rec, nil
}

// Verify interface compliance
var _ port.RecordStore = (*RecordRepository)(nil)
