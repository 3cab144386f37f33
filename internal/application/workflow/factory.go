package workflow

import (
	"context"

	"github.com/garyjia/booking-approval/internal/domain/entity"
	domainwf "github.com/garyjia/booking-approval/internal/domain/workflow"
)

// BuildBookingStateMachine creates the state machine for booking order approval
func BuildBookingStateMachine() domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	// awaiting the coordinator's first decision
	builder.Configure(domainwf.StateCoordinatorPending).
		Permit(domainwf.TriggerCoordinatorApprove, domainwf.StateHoSPending).
		Permit(domainwf.TriggerCoordinatorReject, domainwf.StateCoordinatorRejected).
		Permit(domainwf.TriggerCoordinatorCancel, domainwf.StateCoordinatorCancelled)

	// thread open for edits
	builder.Configure(domainwf.StateCoordinatorRejected).
		Permit(domainwf.TriggerEditComplete, domainwf.StateCoordinatorPending).
		Permit(domainwf.TriggerCoordinatorCancel, domainwf.StateCoordinatorCancelled)

	builder.Configure(domainwf.StateHoSPending).
		PermitIf(domainwf.TriggerHoSApprove, domainwf.StateFinancePending, coordinatorApproved).
		Permit(domainwf.TriggerHoSReject, domainwf.StateCoordinatorRejected).
		Permit(domainwf.TriggerHoSCancel, domainwf.StateHoSCancelled)

	// cancelled states and finance are terminal

	return builder.Build()
}

func coordinatorApproved(_ context.Context, wf *entity.Workflow) bool {
	return wf.Coordinator.Approved
}
