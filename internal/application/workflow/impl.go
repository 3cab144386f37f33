package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/booking-approval/internal/application/dispatcher"
	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/domain/entity"
	"github.com/garyjia/booking-approval/internal/domain/event"
	domainwf "github.com/garyjia/booking-approval/internal/domain/workflow"
)

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	store   *Store
	records port.RecordStore
	machine domainwf.StateMachine

	notifier  port.Notifier
	renderer  port.Renderer
	archive   port.FileArchive
	directory port.StakeholderDirectory

	dispatcher     dispatcher.Dispatcher
	logger         *zap.Logger
	now            func() time.Time
	defaultTaxRate float64
}

var _ Engine = (*engineImpl)(nil)

// NewEngine creates a new workflow engine
func NewEngine(store *Store, records port.RecordStore, c Collaborators, opts ...EngineOption) Engine {
	e := &engineImpl{
		store:          store,
		records:        records,
		machine:        BuildBookingStateMachine(),
		notifier:       c.Notifier,
		renderer:       c.Renderer,
		archive:        c.Archive,
		directory:      c.Directory,
		logger:         zap.NewNop(),
		now:            func() time.Time { return time.Now().UTC() },
		defaultTaxRate: entity.DefaultTaxRate,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *engineImpl) Create(ctx context.Context, req CreateRequest) (*entity.Workflow, error) {
	if strings.TrimSpace(req.Company) == "" {
		return nil, fmt.Errorf("%w: company is required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.SubmitterID) == "" {
		return nil, fmt.Errorf("%w: submitter is required", ErrInvalidInput)
	}

	now := e.now()
	workflowID := NewWorkflowID(req.Company, now)

	// The source file is archived before the record exists so a copy
	// failure leaves nothing behind.
	var original entity.OriginalFile
	switch {
	case req.Original != nil:
		original = *req.Original
	case req.SourcePath != "":
		archived, err := e.archive.Archive(ctx, req.SourcePath, workflowID)
		if err != nil {
			return nil, fmt.Errorf("failed to archive original file: %w", err)
		}
		original = archived
		if req.Filename != "" {
			original.Filename = req.Filename
		}
	}

	data := req.Data.Clone()
	if data.TaxRate == 0 {
		data.TaxRate = e.defaultTaxRate
	}
	data.Recompute()

	wf := &entity.Workflow{
		WorkflowID:       workflowID,
		Company:          req.Company,
		SubmitterID:      req.SubmitterID,
		Data:             data,
		Stage:            entity.StageCoordinator,
		Status:           entity.StatusPending,
		Original:         original,
		RevisionOf:       req.RevisionOf,
		ParentWorkflowID: req.ParentWorkflowID,
		CreatedAt:        now,
	}

	if _, err := e.store.Create(ctx, wf); err != nil {
		return nil, err
	}

	e.logger.Info("Workflow created",
		zap.String("workflow_id", wf.WorkflowID),
		zap.String("company", wf.Company),
		zap.String("submitter_id", wf.SubmitterID),
		zap.String("revision_of", wf.RevisionOf))

	e.emit(ctx, event.NewEvent(event.TypeWorkflowCreated, wf.WorkflowID, map[string]interface{}{
		event.KeyActorID: wf.SubmitterID,
		event.KeyCompany: wf.Company,
	}))

	updated, err := e.sendForCoordinatorApproval(ctx, wf, false)
	if updated != nil {
		wf = updated
	}
	if err != nil {
		e.reportSideEffect(ctx, wf, "created", err)
		return wf, err
	}
	return wf, nil
}

func (e *engineImpl) Transition(ctx context.Context, workflowID, actorID string, trigger domainwf.Trigger, opts ...TransitionOption) (*TransitionResult, error) {
	o := transitionOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	if !trigger.IsValid() {
		return nil, fmt.Errorf("%w: unknown action %q", ErrIllegalTransition, trigger)
	}

	var previous, next domainwf.State
	wf, err := e.store.Update(ctx, workflowID, func(wf *entity.Workflow) error {
		previous = domainwf.StateOf(wf.Stage, wf.Status)

		target, err := e.machine.Next(ctx, wf, trigger)
		if err != nil {
			return fmt.Errorf("%w: %s from %s: %w", ErrIllegalTransition, trigger, previous, err)
		}
		next = target

		if trigger == domainwf.TriggerHoSApprove {
			ref, err := e.resolveBORef(ctx, wf)
			if err != nil {
				return err
			}
			wf.BORef = ref
		}

		e.apply(wf, trigger, target, actorID, o.reason)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrIllegalTransition) {
			e.logger.Info("Transition rejected",
				zap.String("workflow_id", workflowID),
				zap.String("actor_id", actorID),
				zap.String("trigger", trigger.String()),
				zap.Error(err))
		}
		return nil, err
	}

	e.logger.Info("Workflow transitioned",
		zap.String("workflow_id", workflowID),
		zap.String("actor_id", actorID),
		zap.String("trigger", trigger.String()),
		zap.String("from", previous.String()),
		zap.String("to", next.String()))

	e.emit(ctx, event.NewEvent(event.TypeWorkflowTransitioned, workflowID, map[string]interface{}{
		event.KeyActorID:        actorID,
		event.KeyTrigger:        trigger.String(),
		event.KeyPreviousStage:  previous.Stage().String(),
		event.KeyPreviousStatus: previous.Status().String(),
		event.KeyNewStage:       next.Stage().String(),
		event.KeyNewStatus:      next.Status().String(),
		event.KeyReason:         o.reason,
		event.KeyCompany:        wf.Company,
	}))

	result := &TransitionResult{
		Workflow: wf,
		Previous: previous,
		Current:  next,
		Trigger:  trigger,
	}

	updated, err := e.runSideEffects(ctx, wf, trigger)
	if updated != nil {
		result.Workflow = updated
	}
	if err != nil {
		e.reportSideEffect(ctx, result.Workflow, trigger.String(), err)
		return result, err
	}
	return result, nil
}

// apply records the decision carried by trigger and moves wf to target
func (e *engineImpl) apply(wf *entity.Workflow, trigger domainwf.Trigger, target domainwf.State, actorID, reason string) {
	now := e.now()

	switch trigger {
	case domainwf.TriggerCoordinatorApprove:
		wf.Coordinator.Approved = true
		wf.Coordinator.ApprovedBy = actorID
		wf.Coordinator.ApprovedAt = &now

	case domainwf.TriggerCoordinatorReject:
		wf.Coordinator.RejectedBy = actorID
		wf.Coordinator.RejectedAt = &now
		wf.Coordinator.RejectionReason = reason
		wf.CoordinatorThread = openThread(wf.CoordinatorThread)

	case domainwf.TriggerHoSApprove:
		wf.HoS.Approved = true
		wf.HoS.ApprovedBy = actorID
		wf.HoS.ApprovedAt = &now
		wf.SavedToDB = false

	case domainwf.TriggerHoSReject:
		wf.HoS.RejectedBy = actorID
		wf.HoS.RejectedAt = &now
		wf.HoS.RejectionReason = reason
		// The coordinator decision is reopened; the original thread is revived.
		// ApprovedBy and ApprovedAt keep the previous round for audit.
		wf.Coordinator.Approved = false
		wf.CoordinatorThread = openThread(wf.CoordinatorThread)
	}

	wf.Stage = target.Stage()
	wf.Status = target.Status()
	wf.LastTrigger = trigger.String()
	wf.LastActor = actorID
	wf.LastReason = reason
}

// resolveBORef picks the reference the record will be finalized under. A
// plain reference already owned by another workflow's record is qualified
// with this workflow's id so finalization cannot collide.
func (e *engineImpl) resolveBORef(ctx context.Context, wf *entity.Workflow) (string, error) {
	ref := BORefFor(wf)
	rec, err := e.records.Get(ctx, ref)
	switch {
	case errors.Is(err, port.ErrNotFound):
		return ref, nil
	case err != nil:
		return "", fmt.Errorf("%w: failed to check record %s: %w", ErrPersistence, ref, err)
	case rec.WorkflowID == wf.WorkflowID:
		return ref, nil
	}

	unique := UniqueBORef(ref, wf)
	e.logger.Warn("Booking order reference already taken, qualifying it",
		zap.String("workflow_id", wf.WorkflowID),
		zap.String("bo_ref", ref),
		zap.String("owner_workflow_id", rec.WorkflowID),
		zap.String("assigned_bo_ref", unique))
	return unique, nil
}

// openThread anchors the edit thread on the approval message unless a thread already exists
func openThread(anchor entity.ThreadAnchor) entity.ThreadAnchor {
	if anchor.ThreadTS == "" {
		anchor.ThreadTS = anchor.MsgTS
	}
	return anchor
}

func (e *engineImpl) IsThreadActiveForEdit(wf *entity.Workflow, threadRef string) bool {
	return IsThreadActiveForEdit(wf, threadRef)
}

// IsThreadActiveForEdit holds when threadRef is a stage's thread, that stage
// is rejected and open, its decision is not approved, and the workflow is
// still at that stage.
func IsThreadActiveForEdit(wf *entity.Workflow, threadRef string) bool {
	if wf == nil || threadRef == "" {
		return false
	}

	for _, stage := range []entity.Stage{entity.StageCoordinator, entity.StageHoS} {
		if wf.ThreadFor(stage).ThreadTS != threadRef {
			continue
		}
		decision, _ := wf.DecisionFor(stage)
		return wf.Status == entity.RejectedStatusFor(stage) &&
			!decision.Approved &&
			wf.Stage == stage
	}
	return false
}

func (e *engineImpl) EditData(ctx context.Context, workflowID, threadRef string, changes map[string]any) (*entity.Workflow, *entity.ChangeSummary, error) {
	var summary *entity.ChangeSummary
	wf, err := e.store.Update(ctx, workflowID, func(wf *entity.Workflow) error {
		// re-checked against the freshest state; the workflow may have moved on
		if !IsThreadActiveForEdit(wf, threadRef) {
			return fmt.Errorf("%w: workflow %s is at %s:%s", ErrThreadNotActive, wf.WorkflowID, wf.Stage, wf.Status)
		}
		s, err := wf.Data.ApplyChanges(changes)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		summary = s
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	e.logger.Info("Workflow data edited",
		zap.String("workflow_id", workflowID),
		zap.Strings("applied", summary.Applied),
		zap.Strings("ignored", summary.Ignored))

	return wf, summary, nil
}

func (e *engineImpl) StartRevision(ctx context.Context, boRef, requester string) (*entity.Workflow, error) {
	rec, err := e.records.Get(ctx, boRef)
	if err != nil {
		if errors.Is(err, port.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, boRef)
		}
		return nil, fmt.Errorf("%w: failed to load record %s: %w", ErrPersistence, boRef, err)
	}

	original := rec.Original
	wf, err := e.Create(ctx, CreateRequest{
		SubmitterID:      requester,
		Company:          rec.Company,
		Data:             rec.Data.Clone(),
		Original:         &original,
		RevisionOf:       rec.BORef,
		ParentWorkflowID: rec.WorkflowID,
	})
	if wf != nil {
		e.emit(ctx, event.NewEvent(event.TypeRevisionStarted, wf.WorkflowID, map[string]interface{}{
			event.KeyActorID: requester,
			event.KeyBORef:   rec.BORef,
			event.KeyCompany: rec.Company,
		}))
	}
	return wf, err
}

func (e *engineImpl) Get(ctx context.Context, workflowID string) (*entity.Workflow, error) {
	return e.store.Get(ctx, workflowID)
}

func (e *engineImpl) FindByThread(ctx context.Context, threadRef string) (*entity.Workflow, error) {
	return e.store.FindByThread(ctx, threadRef)
}

func (e *engineImpl) ListActive(ctx context.Context) ([]*entity.Workflow, error) {
	return e.store.ListActive(ctx)
}

func (e *engineImpl) GetRecord(ctx context.Context, boRef string) (*entity.FinalizedRecord, error) {
	rec, err := e.records.Get(ctx, boRef)
	if err != nil {
		if errors.Is(err, port.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, boRef)
		}
		return nil, fmt.Errorf("%w: failed to load record %s: %w", ErrPersistence, boRef, err)
	}
	return rec, nil
}

func (e *engineImpl) Recover(ctx context.Context) (int, error) {
	active, err := e.store.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	var errs []error
	for _, wf := range active {
		if wf.Stage != entity.StageFinance || wf.SavedToDB {
			continue
		}
		e.logger.Warn("Resuming interrupted finalization",
			zap.String("workflow_id", wf.WorkflowID),
			zap.String("bo_ref", wf.BORef))
		if _, err := e.finalize(ctx, wf); err != nil {
			errs = append(errs, err)
		}
	}

	e.logger.Info("Workflow recovery complete", zap.Int("active", len(active)))
	return len(active), errors.Join(errs...)
}

func (e *engineImpl) ReplaySideEffects(ctx context.Context, workflowID string) error {
	wf, err := e.store.Get(ctx, workflowID)
	if err != nil {
		return err
	}

	if wf.LastTrigger == "" {
		_, err = e.sendForCoordinatorApproval(ctx, wf, false)
		return err
	}

	_, err = e.runSideEffects(ctx, wf, domainwf.Trigger(wf.LastTrigger))
	return err
}

// emit publishes an event; subscriber failures never undo a persisted change
func (e *engineImpl) emit(ctx context.Context, evt *event.Event) {
	if e.dispatcher == nil {
		return
	}
	if err := e.dispatcher.Dispatch(ctx, evt); err != nil {
		e.logger.Error("Event subscribers failed",
			zap.String("event_type", evt.Type.String()),
			zap.String("workflow_id", evt.WorkflowID),
			zap.Error(err))
	}
}

func (e *engineImpl) reportSideEffect(ctx context.Context, wf *entity.Workflow, step string, err error) {
	e.logger.Error("Side effect failed after persisted change",
		zap.String("workflow_id", wf.WorkflowID),
		zap.String("step", step),
		zap.Error(err))

	e.emit(ctx, event.NewEvent(event.TypeSideEffectFailed, wf.WorkflowID, map[string]interface{}{
		event.KeyTrigger: step,
		event.KeyError:   err.Error(),
	}))
}
