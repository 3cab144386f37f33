package entity

import "time"

// Decision records a stakeholder's decision for one stage
type Decision struct {
	Approved        bool       `json:"approved"`
	ApprovedBy      string     `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectedBy      string     `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}

// ThreadAnchor holds opaque references into the messaging collaborator
type ThreadAnchor struct {
	ThreadTS string `json:"thread_ts,omitempty"`
	Channel  string `json:"thread_channel,omitempty"`
	MsgTS    string `json:"msg_ts,omitempty"`
}

// IsZero returns true when no anchor has been recorded
func (a ThreadAnchor) IsZero() bool {
	return a.ThreadTS == "" && a.Channel == "" && a.MsgTS == ""
}

// OriginalFile references the permanently archived source document
type OriginalFile struct {
	Path     string `json:"original_file_path,omitempty"`
	Filename string `json:"original_filename,omitempty"`
	Size     int64  `json:"original_file_size,omitempty"`
	FileID   string `json:"original_file_id,omitempty"`
}

// Workflow is one booking order's journey from submission to finalization
type Workflow struct {
	WorkflowID  string           `json:"workflow_id"`
	Company     string           `json:"company"`
	SubmitterID string           `json:"submitter_id"`
	Data        BookingOrderData `json:"data"`
	Stage       Stage            `json:"stage"`
	Status      Status           `json:"status"`

	Coordinator Decision `json:"coordinator"`
	HoS         Decision `json:"hos"`

	CoordinatorThread ThreadAnchor `json:"coordinator_thread"`
	HoSThread         ThreadAnchor `json:"hos_thread"`
	FinanceThread     ThreadAnchor `json:"finance_thread"`

	Original OriginalFile `json:"original"`

	BORef     string `json:"bo_ref,omitempty"`
	SavedToDB bool   `json:"saved_to_db"`

	// Revision lineage
	RevisionOf       string `json:"revision_of,omitempty"`
	ParentWorkflowID string `json:"parent_workflow_id,omitempty"`

	// Last applied transition, kept so side effects can be replayed
	LastTrigger string `json:"last_trigger,omitempty"`
	LastActor   string `json:"last_actor,omitempty"`
	LastReason  string `json:"last_reason,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsComplete returns true when the workflow needs no further processing.
// Reaching finance with a saved business record is the success condition.
func (w *Workflow) IsComplete() bool {
	if w.Status.IsTerminal() {
		return true
	}
	return w.Stage == StageFinance && w.SavedToDB
}

// ThreadFor returns the communication anchor of a stage
func (w *Workflow) ThreadFor(stage Stage) ThreadAnchor {
	switch stage {
	case StageCoordinator:
		return w.CoordinatorThread
	case StageHoS:
		return w.HoSThread
	case StageFinance:
		return w.FinanceThread
	default:
		return ThreadAnchor{}
	}
}

// SetThread replaces the communication anchor of a stage
func (w *Workflow) SetThread(stage Stage, anchor ThreadAnchor) {
	switch stage {
	case StageCoordinator:
		w.CoordinatorThread = anchor
	case StageHoS:
		w.HoSThread = anchor
	case StageFinance:
		w.FinanceThread = anchor
	}
}

// DecisionFor returns the decision record of a stage; finance has none
func (w *Workflow) DecisionFor(stage Stage) (Decision, bool) {
	switch stage {
	case StageCoordinator:
		return w.Coordinator, true
	case StageHoS:
		return w.HoS, true
	default:
		return Decision{}, false
	}
}

// Clone returns a deep copy so cached state is never shared with callers
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	out := *w
	out.Data = w.Data.Clone()
	out.Coordinator = w.Coordinator.clone()
	out.HoS = w.HoS.clone()
	return &out
}

func (d Decision) clone() Decision {
	out := d
	if d.ApprovedAt != nil {
		t := *d.ApprovedAt
		out.ApprovedAt = &t
	}
	if d.RejectedAt != nil {
		t := *d.RejectedAt
		out.RejectedAt = &t
	}
	return out
}
