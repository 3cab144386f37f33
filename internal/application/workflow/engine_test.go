package workflow

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/booking-approval/internal/application/dispatcher"
	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/domain/entity"
	"github.com/garyjia/booking-approval/internal/domain/event"
	domainwf "github.com/garyjia/booking-approval/internal/domain/workflow"
	"github.com/garyjia/booking-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/booking-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/booking-approval/pkg/database"
)

func TestEngine_CreateArchivesAndNotifiesCoordinator(t *testing.T) {
	f := newFixture(t)

	wf := f.create(t)

	assert.True(t, strings.HasPrefix(wf.WorkflowID, "bo-acme-media-20260302093000-"))
	assert.Equal(t, entity.StageCoordinator, wf.Stage)
	assert.Equal(t, entity.StatusPending, wf.Status)
	assert.Equal(t, 1, f.archive.calls)
	assert.Equal(t, "bo-1001.pdf", wf.Original.Filename)

	// default tax rate applied and derived fields computed
	assert.Equal(t, entity.DefaultTaxRate, wf.Data.TaxRate)
	assert.Equal(t, 5000.0, wf.Data.Tax)
	assert.Equal(t, 105000.0, wf.Data.Gross)

	prompts := f.notifier.sentTo("dm:u-coord")
	require.Len(t, prompts, 1)
	assert.Len(t, prompts[0].Msg.Buttons, 3)
	assert.Equal(t, "coordinator_approve", prompts[0].Msg.Buttons[0].Action)
	assert.Equal(t, prompts[0].Ref, wf.CoordinatorThread.MsgTS)
	assert.Equal(t, "dm:u-coord", wf.CoordinatorThread.Channel)
}

func TestEngine_CreateArchiveFailureAbortsCleanly(t *testing.T) {
	f := newFixture(t)
	f.archive.err = errors.New("bucket unavailable")

	wf, err := f.engine.Create(context.Background(), CreateRequest{
		SubmitterID: "u-sales",
		Company:     "Acme Media",
		SourcePath:  "/tmp/upload/bo.pdf",
	})

	require.Error(t, err)
	assert.Nil(t, wf)
	assert.Empty(t, f.repo.docs)
	assert.Zero(t, f.notifier.sentCount())
}

func TestEngine_CreatePersistenceFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.createErr = errors.New("db down")

	wf, err := f.engine.Create(context.Background(), CreateRequest{SubmitterID: "u-sales", Company: "Acme Media"})

	assert.ErrorIs(t, err, ErrPersistence)
	assert.Nil(t, wf)
	assert.Zero(t, f.notifier.sentCount())
}

func TestEngine_CreateValidatesInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Create(context.Background(), CreateRequest{SubmitterID: "u-sales"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEngine_CreateWithUnknownCompanyStillPersists(t *testing.T) {
	f := newFixture(t)

	wf, err := f.engine.Create(context.Background(), CreateRequest{SubmitterID: "u-sales", Company: "Globex"})

	require.ErrorIs(t, err, ErrNotificationFailure)
	require.NotNil(t, wf)
	assert.True(t, IsSideEffectError(err))
	assert.NotNil(t, f.repo.raw(wf.WorkflowID))
}

func TestEngine_CoordinatorApproveNotifiesHoSOnce(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t)

	res, err := f.engine.Transition(context.Background(), wf.WorkflowID, "u-coord", domainwf.TriggerCoordinatorApprove)
	require.NoError(t, err)

	assert.Equal(t, domainwf.StateCoordinatorPending, res.Previous)
	assert.Equal(t, domainwf.StateHoSPending, res.Current)
	assert.Equal(t, entity.StageHoS, res.Workflow.Stage)
	assert.True(t, res.Workflow.Coordinator.Approved)
	assert.Equal(t, "u-coord", res.Workflow.Coordinator.ApprovedBy)

	hosPrompts := f.notifier.sentTo("dm:u-hos")
	require.Len(t, hosPrompts, 1)
	assert.Equal(t, "hos_approve", hosPrompts[0].Msg.Buttons[0].Action)
	assert.Equal(t, hosPrompts[0].Ref, res.Workflow.HoSThread.MsgTS)

	// the coordinator prompt is replaced so its buttons cannot be reused
	require.Len(t, f.notifier.updates, 1)
	assert.Equal(t, wf.CoordinatorThread.MsgTS, f.notifier.updates[0].Ref)
	// coordinator anchors are retained for audit
	assert.Equal(t, wf.CoordinatorThread.MsgTS, res.Workflow.CoordinatorThread.MsgTS)
}

func TestEngine_RejectEditExecuteCycle(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t)
	ctx := context.Background()

	res, err := f.engine.Transition(ctx, wf.WorkflowID, "u-coord", domainwf.TriggerCoordinatorReject, WithReason("client is wrong"))
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateCoordinatorRejected, res.Current)
	assert.Equal(t, "client is wrong", res.Workflow.Coordinator.RejectionReason)

	thread := res.Workflow.CoordinatorThread.ThreadTS
	require.NotEmpty(t, thread)
	assert.Equal(t, thread, f.notifier.last().Msg.ThreadRef)
	assert.True(t, f.engine.IsThreadActiveForEdit(res.Workflow, thread))

	edited, summary, err := f.engine.EditData(ctx, wf.WorkflowID, thread, map[string]any{"client": "Acme", "net_pre_tax": "200,000"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"client", "net_pre_tax"}, summary.Applied)
	assert.Equal(t, "Acme", edited.Data.Client)
	assert.Equal(t, 210000.0, edited.Data.Gross)
	assert.Equal(t, entity.StageCoordinator, edited.Stage)
	assert.Equal(t, entity.StatusCoordinatorRejected, edited.Status)

	res, err = f.engine.Transition(ctx, wf.WorkflowID, "u-coord", domainwf.TriggerEditComplete)
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateCoordinatorPending, res.Current)
	assert.False(t, f.engine.IsThreadActiveForEdit(res.Workflow, thread))

	// fresh prompt re-posted inside the same thread
	last := f.notifier.last()
	assert.Equal(t, thread, last.Msg.ThreadRef)
	assert.Len(t, last.Msg.Buttons, 3)
	assert.Equal(t, last.Ref, res.Workflow.CoordinatorThread.MsgTS)
	assert.Equal(t, thread, res.Workflow.CoordinatorThread.ThreadTS)
}

func TestEngine_EditDataRequiresActiveThread(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t)
	ctx := context.Background()

	_, _, err := f.engine.EditData(ctx, wf.WorkflowID, wf.CoordinatorThread.MsgTS, map[string]any{"client": "Acme"})
	assert.ErrorIs(t, err, ErrThreadNotActive)

	res, err := f.engine.Transition(ctx, wf.WorkflowID, "u-coord", domainwf.TriggerCoordinatorReject)
	require.NoError(t, err)
	thread := res.Workflow.CoordinatorThread.ThreadTS

	_, _, err = f.engine.EditData(ctx, wf.WorkflowID, "some-other-thread", map[string]any{"client": "Acme"})
	assert.ErrorIs(t, err, ErrThreadNotActive)

	_, _, err = f.engine.EditData(ctx, wf.WorkflowID, thread, map[string]any{"net_pre_tax": "a lot"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	current, err := f.engine.Get(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, "Initech", current.Data.Client)
	assert.True(t, current.Data.IsConsistent())
}

func TestEngine_HoSRejectRevivesCoordinatorThread(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t)
	ctx := context.Background()
	id := wf.WorkflowID

	res, err := f.engine.Transition(ctx, id, "u-coord", domainwf.TriggerCoordinatorReject)
	require.NoError(t, err)
	originalThread := res.Workflow.CoordinatorThread.ThreadTS

	_, err = f.engine.Transition(ctx, id, "u-coord", domainwf.TriggerEditComplete)
	require.NoError(t, err)
	_, err = f.engine.Transition(ctx, id, "u-coord", domainwf.TriggerCoordinatorApprove)
	require.NoError(t, err)

	res, err = f.engine.Transition(ctx, id, "u-hos", domainwf.TriggerHoSReject, WithReason("wrong dates"))
	require.NoError(t, err)

	assert.Equal(t, domainwf.StateCoordinatorRejected, res.Current)
	assert.Equal(t, originalThread, res.Workflow.CoordinatorThread.ThreadTS)
	assert.False(t, res.Workflow.Coordinator.Approved)
	// the previous round's approver stays on the document
	assert.Equal(t, "u-coord", res.Workflow.Coordinator.ApprovedBy)
	assert.NotNil(t, res.Workflow.Coordinator.ApprovedAt)
	assert.Equal(t, "wrong dates", res.Workflow.HoS.RejectionReason)
	assert.True(t, f.engine.IsThreadActiveForEdit(res.Workflow, originalThread))

	last := f.notifier.last()
	assert.Equal(t, "dm:u-coord", last.Destination)
	assert.Equal(t, originalThread, last.Msg.ThreadRef)
	assert.True(t, strings.HasPrefix(last.Msg.Content, "Head of Sales rejected this booking order: wrong dates"))
}

func TestEngine_HoSRejectWithoutPriorThreadStartsOneOnPrompt(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t)
	ctx := context.Background()

	_, err := f.engine.Transition(ctx, wf.WorkflowID, "u-coord", domainwf.TriggerCoordinatorApprove)
	require.NoError(t, err)
	res, err := f.engine.Transition(ctx, wf.WorkflowID, "u-hos", domainwf.TriggerHoSReject, WithReason("wrong dates"))
	require.NoError(t, err)

	// the thread hangs off the coordinator's original approval message
	assert.Equal(t, wf.CoordinatorThread.MsgTS, res.Workflow.CoordinatorThread.ThreadTS)
}

func TestEngine_HoSApproveFinalizesOnce(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t)
	ctx := context.Background()

	_, err := f.engine.Transition(ctx, wf.WorkflowID, "u-coord", domainwf.TriggerCoordinatorApprove)
	require.NoError(t, err)

	res, err := f.engine.Transition(ctx, wf.WorkflowID, "u-hos", domainwf.TriggerHoSApprove)
	require.NoError(t, err)

	assert.Equal(t, domainwf.StateFinancePending, res.Current)
	assert.Equal(t, "BO-1001", res.Workflow.BORef)
	assert.True(t, res.Workflow.SavedToDB)
	assert.True(t, res.Workflow.IsComplete())
	assert.Equal(t, 1, f.records.finalizeCalls)
	assert.Equal(t, 1, f.renderer.stamped)

	rec, err := f.engine.GetRecord(ctx, "BO-1001")
	require.NoError(t, err)
	assert.Equal(t, wf.WorkflowID, rec.WorkflowID)
	assert.Equal(t, "u-hos", rec.ApprovedBy)
	assert.Equal(t, res.Workflow.Data, rec.Data)

	finance := f.notifier.sentTo("dm:u-fin")
	require.Len(t, finance, 1)
	assert.Equal(t, finance[0].Ref, res.Workflow.FinanceThread.MsgTS)

	// replaying side effects never writes the record again
	require.NoError(t, f.engine.ReplaySideEffects(ctx, wf.WorkflowID))
	assert.Equal(t, 1, f.records.finalizeCalls)

	// finance is terminal
	_, err = f.engine.Transition(ctx, wf.WorkflowID, "u-hos", domainwf.TriggerHoSApprove)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestEngine_FinalizeFailureIsRecoverable(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t)
	ctx := context.Background()

	_, err := f.engine.Transition(ctx, wf.WorkflowID, "u-coord", domainwf.TriggerCoordinatorApprove)
	require.NoError(t, err)

	f.records.err = errors.New("records db down")
	res, err := f.engine.Transition(ctx, wf.WorkflowID, "u-hos", domainwf.TriggerHoSApprove)
	require.ErrorIs(t, err, ErrPersistence)
	require.NotNil(t, res, "the approval itself is persisted")
	assert.Equal(t, entity.StageFinance, res.Workflow.Stage)
	assert.False(t, res.Workflow.SavedToDB)

	// startup recovery resumes the finalization
	f.records.err = nil
	n, err := f.engine.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	after, err := f.engine.Get(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.True(t, after.SavedToDB)
	_, err = f.records.Get(ctx, after.BORef)
	assert.NoError(t, err)
}

func TestEngine_IllegalTransitions(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		id      string
		trigger domainwf.Trigger
		wantErr error
	}{
		{"hos action while at coordinator", wf.WorkflowID, domainwf.TriggerHoSApprove, ErrIllegalTransition},
		{"edit complete without rejection", wf.WorkflowID, domainwf.TriggerEditComplete, ErrIllegalTransition},
		{"unknown action", wf.WorkflowID, domainwf.Trigger("finance_approve"), ErrIllegalTransition},
		{"stale workflow id", "bo-gone-20200101000000-deadbeef", domainwf.TriggerCoordinatorApprove, ErrWorkflowNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.notifier.sentCount()
			res, err := f.engine.Transition(ctx, tt.id, "u-x", tt.trigger)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, res)
			assert.Equal(t, before, f.notifier.sentCount())
		})
	}
}

func TestEngine_CancelledIsTerminal(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t)
	ctx := context.Background()

	res, err := f.engine.Transition(ctx, wf.WorkflowID, "u-coord", domainwf.TriggerCoordinatorCancel, WithReason("duplicate"))
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateCoordinatorCancelled, res.Current)

	submitter := f.notifier.sentTo("dm:u-sales")
	require.Len(t, submitter, 1)
	assert.Contains(t, submitter[0].Msg.Content, "duplicate")

	for _, trig := range []domainwf.Trigger{domainwf.TriggerCoordinatorApprove, domainwf.TriggerCoordinatorReject, domainwf.TriggerCoordinatorCancel} {
		_, err := f.engine.Transition(ctx, wf.WorkflowID, "u-coord", trig)
		assert.ErrorIs(t, err, ErrIllegalTransition, trig.String())
	}
}

func TestEngine_HoSApproveGuardedByCoordinatorDecision(t *testing.T) {
	f := newFixture(t)
	wf := seedWorkflow("bo-guard")
	wf.Stage = entity.StageHoS
	f.repo.seed(wf)

	_, err := f.engine.Transition(context.Background(), "bo-guard", "u-hos", domainwf.TriggerHoSApprove)
	require.ErrorIs(t, err, ErrIllegalTransition)
	assert.ErrorIs(t, err, domainwf.ErrGuardFailed)
}

func TestEngine_PersistenceFailureLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t)
	ctx := context.Background()
	before := f.notifier.sentCount()

	f.repo.saveErr = errors.New("db down")
	res, err := f.engine.Transition(ctx, wf.WorkflowID, "u-coord", domainwf.TriggerCoordinatorApprove)
	require.ErrorIs(t, err, ErrPersistence)
	assert.Nil(t, res)
	assert.Equal(t, before, f.notifier.sentCount())

	f.repo.saveErr = nil
	current, err := f.engine.Get(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, entity.StageCoordinator, current.Stage)
	assert.False(t, current.Coordinator.Approved)
}

func TestEngine_RenderFailureKeepsTransitionAndCanReplay(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t)
	ctx := context.Background()

	f.renderer.err = errors.New("template missing")
	res, err := f.engine.Transition(ctx, wf.WorkflowID, "u-coord", domainwf.TriggerCoordinatorApprove)
	require.ErrorIs(t, err, ErrRenderFailure)
	require.NotNil(t, res)
	assert.Equal(t, domainwf.StateHoSPending, res.Current)
	assert.Empty(t, f.notifier.sentTo("dm:u-hos"))

	f.renderer.err = nil
	require.NoError(t, f.engine.ReplaySideEffects(ctx, wf.WorkflowID))
	assert.Len(t, f.notifier.sentTo("dm:u-hos"), 1)
}

func TestEngine_RacingActionsOneWins(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, 2)
	triggers := []domainwf.Trigger{domainwf.TriggerCoordinatorApprove, domainwf.TriggerCoordinatorCancel}

	for i, trig := range triggers {
		wg.Add(1)
		go func(i int, trig domainwf.Trigger) {
			defer wg.Done()
			<-start
			_, errs[i] = f.engine.Transition(ctx, wf.WorkflowID, "u-coord", trig)
		}(i, trig)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrIllegalTransition)
	}
	assert.Equal(t, 1, succeeded)
}

func TestIsThreadActiveForEdit(t *testing.T) {
	open := func() *entity.Workflow {
		return &entity.Workflow{
			Stage:             entity.StageCoordinator,
			Status:            entity.StatusCoordinatorRejected,
			CoordinatorThread: entity.ThreadAnchor{ThreadTS: "t1"},
		}
	}

	tests := []struct {
		name   string
		mutate func(wf *entity.Workflow)
		thread string
		want   bool
	}{
		{"open thread", func(wf *entity.Workflow) {}, "t1", true},
		{"other thread", func(wf *entity.Workflow) {}, "t2", false},
		{"empty ref", func(wf *entity.Workflow) {}, "", false},
		{"pending status", func(wf *entity.Workflow) { wf.Status = entity.StatusPending }, "t1", false},
		{"coordinator approved", func(wf *entity.Workflow) { wf.Coordinator.Approved = true }, "t1", false},
		{"moved to hos", func(wf *entity.Workflow) { wf.Stage = entity.StageHoS }, "t1", false},
		{"hos thread is never editable", func(wf *entity.Workflow) {
			wf.Stage = entity.StageHoS
			wf.HoSThread.ThreadTS = "t3"
		}, "t3", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := open()
			tt.mutate(wf)
			assert.Equal(t, tt.want, IsThreadActiveForEdit(wf, tt.thread))
		})
	}

	assert.False(t, IsThreadActiveForEdit(nil, "t1"))
}

// Approval permanently closes coordinator edit eligibility whatever the other fields are
func TestIsThreadActiveForEdit_ApprovedNeverActive(t *testing.T) {
	stages := []entity.Stage{entity.StageCoordinator, entity.StageHoS, entity.StageFinance}
	statuses := []entity.Status{entity.StatusPending, entity.StatusCoordinatorRejected, entity.StatusApproved, entity.StatusRejected, entity.StatusCancelled}

	for _, stage := range stages {
		for _, status := range statuses {
			wf := &entity.Workflow{
				Stage:             stage,
				Status:            status,
				Coordinator:       entity.Decision{Approved: true},
				CoordinatorThread: entity.ThreadAnchor{ThreadTS: "t1"},
			}
			assert.False(t, IsThreadActiveForEdit(wf, "t1"), "%s:%s", stage, status)
		}
	}
}

func TestEngine_StartRevision(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t)
	ctx := context.Background()

	_, err := f.engine.Transition(ctx, wf.WorkflowID, "u-coord", domainwf.TriggerCoordinatorApprove)
	require.NoError(t, err)
	_, err = f.engine.Transition(ctx, wf.WorkflowID, "u-hos", domainwf.TriggerHoSApprove)
	require.NoError(t, err)

	rec, err := f.engine.GetRecord(ctx, "BO-1001")
	require.NoError(t, err)

	rev, err := f.engine.StartRevision(ctx, "BO-1001", "u-sales-2")
	require.NoError(t, err)

	assert.NotEqual(t, wf.WorkflowID, rev.WorkflowID)
	assert.Equal(t, entity.StageCoordinator, rev.Stage)
	assert.Equal(t, entity.StatusPending, rev.Status)
	assert.Equal(t, rec.Data, rev.Data)
	assert.Equal(t, "BO-1001", rev.RevisionOf)
	assert.Equal(t, wf.WorkflowID, rev.ParentWorkflowID)
	assert.Equal(t, rec.Original, rev.Original)
	assert.Equal(t, 1, f.archive.calls, "the archived original is reused")

	// the old workflow stays in its terminal state
	old, err := f.engine.Get(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, entity.StageFinance, old.Stage)
	assert.True(t, old.SavedToDB)

	// a revision is finalized under its own reference
	assert.True(t, strings.HasPrefix(BORefFor(rev), "BO-1001-R"))

	_, err = f.engine.StartRevision(ctx, "BO-404", "u-sales")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestEngine_EmitsEvents(t *testing.T) {
	f := newFixture(t)
	d := dispatcher.NewDispatcher()
	f.engine.dispatcher = d

	var mu sync.Mutex
	var seen []event.Type
	d.SubscribeNamed(dispatcher.AnyType, "recorder", func(ctx context.Context, evt *event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, evt.Type)
		return nil
	})

	wf := f.create(t)
	_, err := f.engine.Transition(context.Background(), wf.WorkflowID, "u-coord", domainwf.TriggerCoordinatorApprove)
	require.NoError(t, err)
	_, err = f.engine.Transition(context.Background(), wf.WorkflowID, "u-hos", domainwf.TriggerHoSApprove)
	require.NoError(t, err)

	assert.Equal(t, []event.Type{
		event.TypeWorkflowCreated,
		event.TypeWorkflowTransitioned,
		event.TypeWorkflowTransitioned,
		event.TypeWorkflowFinalized,
	}, seen)
}

// Random action sequences only ever visit states of the transition table,
// and finance is only reached from (hos, pending).
func TestEngine_RandomSequencesFollowTable(t *testing.T) {
	all := []domainwf.Trigger{
		domainwf.TriggerCoordinatorApprove, domainwf.TriggerCoordinatorReject, domainwf.TriggerCoordinatorCancel,
		domainwf.TriggerEditComplete, domainwf.TriggerHoSApprove, domainwf.TriggerHoSReject, domainwf.TriggerHoSCancel,
	}
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()

	for run := 0; run < 50; run++ {
		f := newFixture(t)
		wf := f.create(t)

		for step := 0; step < 12; step++ {
			trig := all[rng.Intn(len(all))]
			res, err := f.engine.Transition(ctx, wf.WorkflowID, "u-any", trig)
			if err != nil {
				require.ErrorIs(t, err, ErrIllegalTransition)
				continue
			}
			require.True(t, res.Current.IsValid(), "unreachable state %s", res.Current)
			if res.Current.Stage() == entity.StageFinance {
				require.Equal(t, domainwf.StateHoSPending, res.Previous)
			}
		}
	}
}

func sqliteRecords(t *testing.T) port.RecordStore {
	t.Helper()

	raw, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "records.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	require.NoError(t, database.NewMigrator(raw, nil).Run())

	return repository.NewRecordRepository(sqlite.NewDB(raw.DB, nil), nil)
}

func (f *fixture) approveThroughHoS(t *testing.T, workflowID string) (*TransitionResult, error) {
	t.Helper()
	ctx := context.Background()
	_, err := f.engine.Transition(ctx, workflowID, "u-coord", domainwf.TriggerCoordinatorApprove)
	require.NoError(t, err)
	return f.engine.Transition(ctx, workflowID, "u-hos", domainwf.TriggerHoSApprove)
}

func TestEngine_DuplicateBONumberGetsOwnReference(t *testing.T) {
	f := newFixture(t)
	records := sqliteRecords(t)
	f.engine.records = records
	ctx := context.Background()

	first := f.create(t)
	second := f.create(t)

	res, err := f.approveThroughHoS(t, first.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, "BO-1001", res.Workflow.BORef)

	res, err = f.approveThroughHoS(t, second.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, UniqueBORef("BO-1001", second), res.Workflow.BORef)
	assert.NotEqual(t, "BO-1001", res.Workflow.BORef)
	assert.True(t, res.Workflow.SavedToDB)
	assert.True(t, res.Workflow.IsComplete())

	owner, err := records.Get(ctx, "BO-1001")
	require.NoError(t, err)
	assert.Equal(t, first.WorkflowID, owner.WorkflowID)

	rec, err := records.Get(ctx, res.Workflow.BORef)
	require.NoError(t, err)
	assert.Equal(t, second.WorkflowID, rec.WorkflowID)

	active, err := f.engine.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	n, err := f.engine.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEngine_RecoverRebindsTakenReference(t *testing.T) {
	f := newFixture(t)
	records := sqliteRecords(t)
	f.engine.records = records
	ctx := context.Background()

	require.NoError(t, records.Finalize(ctx, &entity.FinalizedRecord{
		BORef:       "BO-1001",
		WorkflowID:  "bo-acme-media-20260301080000-0a0b0c0d",
		Company:     "Acme Media",
		FinalizedAt: testNow,
	}))

	// approved under a reference another workflow's record already holds
	approvedAt := testNow
	stuck := seedWorkflow("bo-acme-media-20260302093000-9f8e7d6c")
	stuck.Stage = entity.StageFinance
	stuck.Status = entity.StatusPending
	stuck.BORef = "BO-1001"
	stuck.Coordinator = entity.Decision{Approved: true, ApprovedBy: "u-coord", ApprovedAt: &approvedAt}
	stuck.HoS = entity.Decision{Approved: true, ApprovedBy: "u-hos", ApprovedAt: &approvedAt}
	stuck.LastTrigger = domainwf.TriggerHoSApprove.String()
	f.repo.seed(stuck)

	n, err := f.engine.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	after, err := f.engine.Get(ctx, stuck.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, "BO-1001-9F8E7D6C", after.BORef)
	assert.True(t, after.SavedToDB)

	rec, err := records.Get(ctx, after.BORef)
	require.NoError(t, err)
	assert.Equal(t, stuck.WorkflowID, rec.WorkflowID)
	assert.Len(t, f.notifier.sentTo("dm:u-fin"), 1)
}

func TestEngine_RevisionsOfOneRecordGetDistinctReferences(t *testing.T) {
	f := newFixture(t)
	f.engine.records = sqliteRecords(t)
	ctx := context.Background()

	wf := f.create(t)
	_, err := f.approveThroughHoS(t, wf.WorkflowID)
	require.NoError(t, err)

	// both started within the same second
	a, err := f.engine.StartRevision(ctx, "BO-1001", "u-sales")
	require.NoError(t, err)
	b, err := f.engine.StartRevision(ctx, "BO-1001", "u-sales")
	require.NoError(t, err)
	assert.NotEqual(t, BORefFor(a), BORefFor(b))

	resA, err := f.approveThroughHoS(t, a.WorkflowID)
	require.NoError(t, err)
	resB, err := f.approveThroughHoS(t, b.WorkflowID)
	require.NoError(t, err)
	assert.True(t, resA.Workflow.SavedToDB)
	assert.True(t, resB.Workflow.SavedToDB)
	assert.NotEqual(t, resA.Workflow.BORef, resB.Workflow.BORef)
}

func TestEngine_FinalizeConflictRebindsReference(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t)
	ctx := context.Background()

	_, err := f.engine.Transition(ctx, wf.WorkflowID, "u-coord", domainwf.TriggerCoordinatorApprove)
	require.NoError(t, err)

	// another workflow claims the reference between resolution and the write
	f.engine.records = &claimingRecords{memRecords: f.records, claim: "BO-1001"}

	res, err := f.engine.Transition(ctx, wf.WorkflowID, "u-hos", domainwf.TriggerHoSApprove)
	require.NoError(t, err)
	assert.Equal(t, UniqueBORef("BO-1001", wf), res.Workflow.BORef)
	assert.True(t, res.Workflow.SavedToDB)
}

func TestUniqueBORef(t *testing.T) {
	wf := &entity.Workflow{WorkflowID: "bo-acme-media-20260302093000-1a2b3c4d"}

	assert.Equal(t, "BO-1001-1A2B3C4D", UniqueBORef("BO-1001", wf))
	assert.Equal(t, "BO-1001-1A2B3C4D", UniqueBORef("BO-1001-1A2B3C4D", wf))

	wf.RevisionOf = "BO-1001"
	assert.Equal(t, "BO-1001-R1A2B3C4D", BORefFor(wf))
}
