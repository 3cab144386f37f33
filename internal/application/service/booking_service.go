package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/booking-approval/internal/application/debounce"
	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/application/session"
	"github.com/garyjia/booking-approval/internal/application/workflow"
	"github.com/garyjia/booking-approval/internal/domain/entity"
	domainwf "github.com/garyjia/booking-approval/internal/domain/workflow"
)

// BookingService is the inbound surface used by the chat adapter, the admin API and the CLI
type BookingService interface {
	CreateWorkflow(ctx context.Context, req workflow.CreateRequest) (*entity.Workflow, error)
	HandleAction(ctx context.Context, workflowID, actorID, action, reason string) (*ActionOutcome, error)
	HandleThreadMessage(ctx context.Context, threadRef, actorID, text string) (*session.Reply, error)
	StartRevision(ctx context.Context, boRef, requester string) (*entity.Workflow, error)
	ReplaySideEffects(ctx context.Context, workflowID string) error

	GetWorkflow(ctx context.Context, workflowID string) (*entity.Workflow, error)
	ListActive(ctx context.Context) ([]*entity.Workflow, error)
	History(ctx context.Context, workflowID string) ([]*entity.WorkflowHistory, error)
	GetRecord(ctx context.Context, boRef string) (*entity.FinalizedRecord, error)
}

// ActionOutcome is the human-facing result of a button action
type ActionOutcome struct {
	// Duplicate is set when the action was discarded by the debouncer
	Duplicate bool
	Message   string
	Result    *workflow.TransitionResult
}

type bookingServiceImpl struct {
	engine    workflow.Engine
	session   *session.Session
	debouncer *debounce.Debouncer
	history   port.HistoryRepository
	logger    *zap.Logger
	now       func() time.Time
}

// NewBookingService creates the booking service
func NewBookingService(
	engine workflow.Engine,
	sess *session.Session,
	debouncer *debounce.Debouncer,
	history port.HistoryRepository,
	logger *zap.Logger,
) BookingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &bookingServiceImpl{
		engine:    engine,
		session:   sess,
		debouncer: debouncer,
		history:   history,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *bookingServiceImpl) CreateWorkflow(ctx context.Context, req workflow.CreateRequest) (*entity.Workflow, error) {
	wf, err := s.engine.Create(ctx, req)
	if err != nil {
		s.logger.Error("Failed to create workflow",
			zap.String("company", req.Company),
			zap.String("submitter_id", req.SubmitterID),
			zap.Error(err))
	}
	return wf, err
}

// HandleAction runs a debounced transition and translates its outcome.
// The error is returned alongside the message so callers can log it.
func (s *bookingServiceImpl) HandleAction(ctx context.Context, workflowID, actorID, action, reason string) (*ActionOutcome, error) {
	key := workflowID + ":" + action
	if !s.debouncer.ShouldProcess(actorID, key, s.now()) {
		s.logger.Debug("Duplicate action discarded",
			zap.String("workflow_id", workflowID),
			zap.String("actor_id", actorID),
			zap.String("action", action))
		return &ActionOutcome{Duplicate: true}, nil
	}

	trigger := domainwf.Trigger(action)
	res, err := s.engine.Transition(ctx, workflowID, actorID, trigger, workflow.WithReason(reason))
	outcome := &ActionOutcome{Result: res}

	switch {
	case err == nil:
		outcome.Message = successMessage(trigger, res.Workflow)

	case res != nil:
		outcome.Message = fmt.Sprintf("%s, but %s. An admin can retry it.", successMessage(trigger, res.Workflow), sideEffectProblem(err))

	case errors.Is(err, workflow.ErrWorkflowNotFound):
		outcome.Message = "This booking order no longer exists. The button you used is out of date."

	case errors.Is(err, workflow.ErrIllegalTransition):
		outcome.Message = "This action is out of date."
		if current, getErr := s.engine.Get(ctx, workflowID); getErr == nil {
			outcome.Message = fmt.Sprintf("This action is out of date: the booking order is now %s.", describeState(current))
		}

	default:
		// nothing happened, so an immediate retry must not be swallowed
		s.debouncer.Forget(actorID, key)
		outcome.Message = "Something went wrong while saving your action. Nothing was changed, please try again."
	}

	if err != nil {
		s.logger.Warn("Action not fully applied",
			zap.String("workflow_id", workflowID),
			zap.String("actor_id", actorID),
			zap.String("action", action),
			zap.Bool("persisted", res != nil),
			zap.Error(err))
	}
	return outcome, err
}

// HandleThreadMessage routes free text to the edit session. A nil reply
// means the thread belongs to no workflow and the message is ordinary chat.
func (s *bookingServiceImpl) HandleThreadMessage(ctx context.Context, threadRef, actorID, text string) (*session.Reply, error) {
	wf, err := s.engine.FindByThread(ctx, threadRef)
	if err != nil {
		if errors.Is(err, workflow.ErrWorkflowNotFound) {
			return nil, nil
		}
		return nil, err
	}

	reply, err := s.session.HandleMessage(ctx, wf.WorkflowID, actorID, threadRef, text)
	if err != nil {
		s.logger.Warn("Thread message not applied",
			zap.String("workflow_id", wf.WorkflowID),
			zap.String("actor_id", actorID),
			zap.Error(err))
	}
	return reply, err
}

func (s *bookingServiceImpl) StartRevision(ctx context.Context, boRef, requester string) (*entity.Workflow, error) {
	wf, err := s.engine.StartRevision(ctx, boRef, requester)
	if err != nil {
		s.logger.Error("Failed to start revision",
			zap.String("bo_ref", boRef),
			zap.String("requester", requester),
			zap.Error(err))
	}
	return wf, err
}

func (s *bookingServiceImpl) ReplaySideEffects(ctx context.Context, workflowID string) error {
	return s.engine.ReplaySideEffects(ctx, workflowID)
}

func (s *bookingServiceImpl) GetWorkflow(ctx context.Context, workflowID string) (*entity.Workflow, error) {
	return s.engine.Get(ctx, workflowID)
}

func (s *bookingServiceImpl) ListActive(ctx context.Context) ([]*entity.Workflow, error) {
	return s.engine.ListActive(ctx)
}

func (s *bookingServiceImpl) History(ctx context.Context, workflowID string) ([]*entity.WorkflowHistory, error) {
	if _, err := s.engine.Get(ctx, workflowID); err != nil {
		return nil, err
	}
	h, err := s.history.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return h, nil
}

func (s *bookingServiceImpl) GetRecord(ctx context.Context, boRef string) (*entity.FinalizedRecord, error) {
	return s.engine.GetRecord(ctx, boRef)
}

func successMessage(trigger domainwf.Trigger, wf *entity.Workflow) string {
	switch trigger {
	case domainwf.TriggerCoordinatorApprove:
		return "Approved. Sent to " + entity.StageHoS.DisplayName()
	case domainwf.TriggerCoordinatorReject:
		return "Rejected. Reply in the thread with your changes"
	case domainwf.TriggerCoordinatorCancel, domainwf.TriggerHoSCancel:
		return "Cancelled"
	case domainwf.TriggerEditComplete:
		return "Resubmitted for approval"
	case domainwf.TriggerHoSApprove:
		return fmt.Sprintf("Approved and saved as %s", wf.BORef)
	case domainwf.TriggerHoSReject:
		return "Rejected. Sent back to the " + entity.StageCoordinator.DisplayName()
	default:
		return "Done"
	}
}

func sideEffectProblem(err error) string {
	switch {
	case errors.Is(err, workflow.ErrRenderFailure):
		return "regenerating the document failed"
	case errors.Is(err, workflow.ErrNotificationFailure):
		return "notifying the next person failed"
	case errors.Is(err, workflow.ErrPersistence):
		return "saving the final record failed"
	default:
		return "a follow-up step failed"
	}
}

func describeState(wf *entity.Workflow) string {
	switch {
	case wf.Status == entity.StatusCancelled:
		return "cancelled"
	case wf.Stage == entity.StageFinance:
		return "approved and with " + entity.StageFinance.DisplayName()
	case wf.Status == entity.StatusCoordinatorRejected:
		return "open for edits by the " + entity.StageCoordinator.DisplayName()
	default:
		return "waiting for the " + wf.Stage.DisplayName()
	}
}
