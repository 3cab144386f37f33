package event

// Type identifies the type of domain event
type Type string

const (
	TypeWorkflowCreated      Type = "workflow.created"
	TypeWorkflowTransitioned Type = "workflow.transitioned"
	TypeWorkflowFinalized    Type = "workflow.finalized"
	TypeRevisionStarted      Type = "workflow.revision_started"
	TypeSideEffectFailed     Type = "workflow.side_effect_failed"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeWorkflowCreated,
		TypeWorkflowTransitioned,
		TypeWorkflowFinalized,
		TypeRevisionStarted,
		TypeSideEffectFailed:
		return true
	default:
		return false
	}
}
