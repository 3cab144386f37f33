package workflow

import (
	"strings"

	"github.com/garyjia/booking-approval/internal/domain/entity"
)

// State is the composite (stage, status) position of a workflow
type State string

// StateOf builds the composite state for a stage and status
func StateOf(stage entity.Stage, status entity.Status) State {
	return State(string(stage) + ":" + string(status))
}

const (
	StateCoordinatorPending   State = "coordinator:pending"
	StateCoordinatorRejected  State = "coordinator:coordinator_rejected"
	StateCoordinatorCancelled State = "coordinator:cancelled"
	StateHoSPending           State = "hos:pending"
	StateHoSCancelled         State = "hos:cancelled"
	StateFinancePending       State = "finance:pending"
)

var validStates = map[State]bool{
	StateCoordinatorPending:   true,
	StateCoordinatorRejected:  true,
	StateCoordinatorCancelled: true,
	StateHoSPending:           true,
	StateHoSCancelled:         true,
	StateFinancePending:       true,
}

var terminalStates = map[State]bool{
	StateCoordinatorCancelled: true,
	StateHoSCancelled:         true,
	StateFinancePending:       true,
}

// Stage returns the stage part of the state
func (s State) Stage() entity.Stage {
	stage, _, _ := strings.Cut(string(s), ":")
	return entity.Stage(stage)
}

// Status returns the status part of the state
func (s State) Status() entity.Status {
	_, status, _ := strings.Cut(string(s), ":")
	return entity.Status(status)
}

// IsTerminal returns true if no trigger can leave the state
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is reachable by the booking workflow
func (s State) IsValid() bool {
	return validStates[s]
}
