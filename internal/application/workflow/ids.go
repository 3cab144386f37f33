package workflow

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/booking-approval/internal/domain/entity"
)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// NewWorkflowID embeds the company and the UTC creation time so ids sort naturally
func NewWorkflowID(company string, now time.Time) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(company), "-"), "-")
	if slug == "" {
		slug = "unknown"
	}
	return fmt.Sprintf("bo-%s-%s-%s", slug, now.UTC().Format("20060102150405"), uuid.NewString()[:8])
}

// BORefFor returns the preferred permanent reference for a workflow's
// finalized record. Revisions get a reference derived from the record they
// revise and the revision's own id so the original is never overwritten.
func BORefFor(wf *entity.Workflow) string {
	if wf.RevisionOf != "" {
		return fmt.Sprintf("%s-R%s", wf.RevisionOf, workflowSuffix(wf.WorkflowID))
	}
	if ref := strings.TrimSpace(wf.Data.BONumber); ref != "" {
		return ref
	}
	return strings.ToUpper(strings.TrimPrefix(wf.WorkflowID, "bo-"))
}

// UniqueBORef qualifies ref with the workflow's id suffix. Used when ref is
// already owned by another workflow's record.
func UniqueBORef(ref string, wf *entity.Workflow) string {
	suffix := workflowSuffix(wf.WorkflowID)
	if strings.HasSuffix(ref, "-"+suffix) {
		return ref
	}
	return ref + "-" + suffix
}

// workflowSuffix is the random tail of a workflow id
func workflowSuffix(workflowID string) string {
	return strings.ToUpper(workflowID[strings.LastIndex(workflowID, "-")+1:])
}
