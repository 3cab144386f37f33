package entity

import "time"

// WorkflowHistory represents the audit trail of a workflow
type WorkflowHistory struct {
	ID             int64     `json:"id"`
	WorkflowID     string    `json:"workflow_id"`
	ActorID        string    `json:"actor_id"`
	PreviousStage  string    `json:"previous_stage"`
	PreviousStatus string    `json:"previous_status"`
	NewStage       string    `json:"new_stage"`
	NewStatus      string    `json:"new_status"`
	ActionType     string    `json:"action_type"`
	ActionData     string    `json:"action_data"`
	Timestamp      time.Time `json:"timestamp"`
}

// FinalizedRecord is the permanent business record written on HoS approval.
// It outlives the workflow and is the seed for revisions.
type FinalizedRecord struct {
	BORef       string           `json:"bo_ref"`
	WorkflowID  string           `json:"workflow_id"`
	Company     string           `json:"company"`
	Data        BookingOrderData `json:"data"`
	Original    OriginalFile     `json:"original"`
	RevisionOf  string           `json:"revision_of,omitempty"`
	ApprovedBy  string           `json:"approved_by,omitempty"`
	FinalizedAt time.Time        `json:"finalized_at"`
}
