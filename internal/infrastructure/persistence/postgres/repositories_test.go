package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/domain/entity"
)

func startPostgres(t *testing.T) *DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := context.Background()
	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("booking"),
		tcpostgres.WithUsername("user"),
		tcpostgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := Open(ctx, connStr, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx))
	return db
}

func TestPostgresRepositories(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	workflows := NewWorkflowRepository(db)
	records := NewRecordRepository(db)
	history := NewHistoryRepository(db)

	t.Run("workflow version compare and swap", func(t *testing.T) {
		wf := &entity.Workflow{
			WorkflowID: "bo-1",
			Company:    "Acme Media",
			Stage:      entity.StageCoordinator,
			Status:     entity.StatusPending,
			Version:    1,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		require.NoError(t, workflows.Create(ctx, wf))
		assert.ErrorIs(t, workflows.Create(ctx, wf), port.ErrConflict)

		next := wf.Clone()
		next.Stage = entity.StageFinance
		next.CoordinatorThread.ThreadTS = "om_root"
		next.Version = 2
		require.NoError(t, workflows.Save(ctx, next, 1))
		assert.ErrorIs(t, workflows.Save(ctx, next, 1), port.ErrConflict)

		got, err := workflows.GetByThread(ctx, "om_root")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)

		active, err := workflows.ListActive(ctx)
		require.NoError(t, err)
		assert.Len(t, active, 1)

		saved := got.Clone()
		saved.SavedToDB = true
		saved.Version = 3
		require.NoError(t, workflows.Save(ctx, saved, 2))

		active, err = workflows.ListActive(ctx)
		require.NoError(t, err)
		assert.Empty(t, active)
	})

	t.Run("record upsert", func(t *testing.T) {
		rec := &entity.FinalizedRecord{
			BORef:       "BO-1001",
			WorkflowID:  "bo-1",
			Company:     "Acme Media",
			Data:        entity.BookingOrderData{Client: "Initech", Gross: 105000},
			FinalizedAt: now,
		}
		require.NoError(t, records.Finalize(ctx, rec))
		require.NoError(t, records.Finalize(ctx, rec))

		got, err := records.Get(ctx, "BO-1001")
		require.NoError(t, err)
		assert.Equal(t, "Initech", got.Data.Client)

		other := *rec
		other.WorkflowID = "bo-2"
		assert.ErrorIs(t, records.Finalize(ctx, &other), port.ErrConflict)
	})

	t.Run("history", func(t *testing.T) {
		require.NoError(t, history.Create(ctx, &entity.WorkflowHistory{WorkflowID: "bo-1", ActionType: "workflow.created", Timestamp: now}))
		require.NoError(t, history.Create(ctx, &entity.WorkflowHistory{WorkflowID: "bo-1", ActionType: "hos_approve", Timestamp: now}))

		rows, err := history.ListByWorkflow(ctx, "bo-1")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "hos_approve", rows[1].ActionType)
	})
}
