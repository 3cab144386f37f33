package entity

// Stage identifies which stakeholder role currently holds decision authority
type Stage string

const (
	StageCoordinator Stage = "coordinator"
	StageHoS         Stage = "hos"
	StageFinance     Stage = "finance"
)

// String returns the string representation of the stage
func (s Stage) String() string {
	return string(s)
}

// IsValid returns true if the stage is one of the known stages
func (s Stage) IsValid() bool {
	switch s {
	case StageCoordinator, StageHoS, StageFinance:
		return true
	default:
		return false
	}
}

// DisplayName returns the human-facing role name for the stage
func (s Stage) DisplayName() string {
	switch s {
	case StageCoordinator:
		return "Sales Coordinator"
	case StageHoS:
		return "Head of Sales"
	case StageFinance:
		return "Finance"
	default:
		return string(s)
	}
}

// Status is the fine-grained sub-state within a stage
type Status string

const (
	StatusPending             Status = "pending"
	StatusCoordinatorRejected Status = "coordinator_rejected"
	StatusApproved            Status = "approved"
	StatusRejected            Status = "rejected"
	StatusCancelled           Status = "cancelled"
)

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is one of the known statuses
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusCoordinatorRejected, StatusApproved, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for statuses that end the workflow
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// RejectedStatusFor returns the "open for edits" status belonging to a stage.
// Only the coordinator stage can be reopened for editing.
func RejectedStatusFor(stage Stage) Status {
	return Status(string(stage) + "_rejected")
}

// TerminalStatuses lists every status excluded from active recovery
var TerminalStatuses = []Status{StatusApproved, StatusRejected, StatusCancelled}
