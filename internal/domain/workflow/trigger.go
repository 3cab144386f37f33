package workflow

import "github.com/garyjia/booking-approval/internal/domain/entity"

// Trigger represents a human action that can cause a state transition
type Trigger string

const (
	TriggerCoordinatorApprove Trigger = "coordinator_approve"
	TriggerCoordinatorReject  Trigger = "coordinator_reject"
	TriggerCoordinatorCancel  Trigger = "coordinator_cancel"
	TriggerEditComplete       Trigger = "edit_complete"
	TriggerHoSApprove         Trigger = "hos_approve"
	TriggerHoSReject          Trigger = "hos_reject"
	TriggerHoSCancel          Trigger = "hos_cancel"
)

var triggerStages = map[Trigger]entity.Stage{
	TriggerCoordinatorApprove: entity.StageCoordinator,
	TriggerCoordinatorReject:  entity.StageCoordinator,
	TriggerCoordinatorCancel:  entity.StageCoordinator,
	TriggerEditComplete:       entity.StageCoordinator,
	TriggerHoSApprove:         entity.StageHoS,
	TriggerHoSReject:          entity.StageHoS,
	TriggerHoSCancel:          entity.StageHoS,
}

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}

// IsValid returns true if the trigger is a known action
func (t Trigger) IsValid() bool {
	_, ok := triggerStages[t]
	return ok
}

// Stage returns the stage whose stakeholder performs the trigger
func (t Trigger) Stage() entity.Stage {
	return triggerStages[t]
}
