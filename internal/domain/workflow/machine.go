package workflow

import (
	"context"

	"github.com/garyjia/booking-approval/internal/domain/entity"
)

// StateMachine validates transitions for workflows. It holds no per-workflow
// state: the current state is always read from the workflow passed in.
type StateMachine interface {
	// CanFire returns true if the trigger is configured for the state
	CanFire(state State, trigger Trigger) bool

	// Next evaluates the trigger against the workflow's current state and
	// returns the target state without mutating the workflow
	Next(ctx context.Context, wf *entity.Workflow, trigger Trigger) (State, error)

	// PermittedTriggers returns all triggers configured for the state
	PermittedTriggers(state State) []Trigger
}
