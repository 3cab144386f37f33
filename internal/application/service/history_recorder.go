package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/booking-approval/internal/application/dispatcher"
	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/domain/entity"
	"github.com/garyjia/booking-approval/internal/domain/event"
)

// HistoryRecorder writes the audit trail from workflow events
type HistoryRecorder struct {
	repo   port.HistoryRepository
	logger *zap.Logger
}

// NewHistoryRecorder creates a history recorder
func NewHistoryRecorder(repo port.HistoryRepository, logger *zap.Logger) *HistoryRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryRecorder{repo: repo, logger: logger}
}

// Register subscribes the recorder to the event types it records
func (r *HistoryRecorder) Register(d dispatcher.Dispatcher) {
	for _, t := range []event.Type{
		event.TypeWorkflowCreated,
		event.TypeWorkflowTransitioned,
		event.TypeWorkflowFinalized,
		event.TypeRevisionStarted,
		event.TypeSideEffectFailed,
	} {
		d.SubscribeNamed(t, "history", r.Handle)
	}
}

// Handle converts one event into a history row
func (r *HistoryRecorder) Handle(ctx context.Context, evt *event.Event) error {
	h := &entity.WorkflowHistory{
		WorkflowID:     evt.WorkflowID,
		ActorID:        evt.GetPayloadString(event.KeyActorID),
		PreviousStage:  evt.GetPayloadString(event.KeyPreviousStage),
		PreviousStatus: evt.GetPayloadString(event.KeyPreviousStatus),
		NewStage:       evt.GetPayloadString(event.KeyNewStage),
		NewStatus:      evt.GetPayloadString(event.KeyNewStatus),
		ActionType:     evt.Type.String(),
		Timestamp:      evt.Timestamp,
	}

	if trigger := evt.GetPayloadString(event.KeyTrigger); trigger != "" && evt.Type == event.TypeWorkflowTransitioned {
		h.ActionType = trigger
	}

	data := make(map[string]interface{})
	for _, k := range []string{event.KeyReason, event.KeyBORef, event.KeyError, event.KeyCompany} {
		if v := evt.GetPayloadString(k); v != "" {
			data[k] = v
		}
	}
	if len(data) > 0 {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to encode history data: %w", err)
		}
		h.ActionData = string(raw)
	}

	if err := r.repo.Create(ctx, h); err != nil {
		r.logger.Error("Failed to write history",
			zap.String("workflow_id", evt.WorkflowID),
			zap.String("event_type", evt.Type.String()),
			zap.Error(err))
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}
