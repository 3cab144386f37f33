package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garyjia/booking-approval/internal/application/service"
	"github.com/garyjia/booking-approval/internal/application/session"
	"github.com/garyjia/booking-approval/internal/application/workflow"
	"github.com/garyjia/booking-approval/internal/domain/entity"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	bookings service.BookingService
	health   HealthReporter
	logger   *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(bookings service.BookingService, health HealthReporter, logger *zap.Logger) *Handlers {
	return &Handlers{
		bookings: bookings,
		health:   health,
		logger:   logger,
	}
}

// Response represents a standard JSON response. Warning is set when the
// state change was saved but a follow-up step such as a notification failed.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Warning string      `json:"warning,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Components interface{} `json:"components,omitempty"`
}

// CreateWorkflowRequest is the body of POST /api/workflows
type CreateWorkflowRequest struct {
	SubmitterID      string                  `json:"submitter_id" binding:"required"`
	Company          string                  `json:"company" binding:"required"`
	Data             entity.BookingOrderData `json:"data"`
	SourcePath       string                  `json:"source_path"`
	Filename         string                  `json:"filename"`
	RevisionOf       string                  `json:"revision_of"`
	ParentWorkflowID string                  `json:"parent_workflow_id"`
}

// ActionRequest is the body of POST /api/workflows/:id/actions
type ActionRequest struct {
	ActorID string `json:"actor_id" binding:"required"`
	Action  string `json:"action" binding:"required"`
	Reason  string `json:"reason"`
}

// MessageRequest is the body of POST /api/threads/:thread_ref/messages
type MessageRequest struct {
	ActorID string `json:"actor_id" binding:"required"`
	Text    string `json:"text" binding:"required"`
}

// RevisionRequest is the body of POST /api/records/:bo_ref/revisions
type RevisionRequest struct {
	Requester string `json:"requester" binding:"required"`
}

// ActionResponse describes the outcome of a button action
type ActionResponse struct {
	Duplicate     bool             `json:"duplicate"`
	Message       string           `json:"message,omitempty"`
	PreviousState string           `json:"previous_state,omitempty"`
	CurrentState  string           `json:"current_state,omitempty"`
	Workflow      *entity.Workflow `json:"workflow,omitempty"`
}

// ReplyResponse is the edit session's answer to a thread message
type ReplyResponse struct {
	Text         string           `json:"text"`
	Intent       string           `json:"intent,omitempty"`
	Mutated      bool             `json:"mutated"`
	Transitioned bool             `json:"transitioned"`
	Workflow     *entity.Workflow `json:"workflow,omitempty"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if h.health == nil {
		c.JSON(http.StatusOK, Response{Success: true, Data: response})
		return
	}

	status := h.health.Health(c.Request.Context())
	response.Components = status.Components
	if !status.Overall {
		response.Status = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Data: response})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: response})
}

// CreateWorkflow handles POST /api/workflows
func (h *Handlers) CreateWorkflow(c *gin.Context) {
	var req CreateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	wf, err := h.bookings.CreateWorkflow(c.Request.Context(), workflow.CreateRequest{
		SubmitterID:      req.SubmitterID,
		Company:          req.Company,
		Data:             req.Data,
		SourcePath:       req.SourcePath,
		Filename:         req.Filename,
		RevisionOf:       req.RevisionOf,
		ParentWorkflowID: req.ParentWorkflowID,
	})
	if wf == nil {
		h.fail(c, "Failed to create workflow", err)
		return
	}
	h.created(c, wf, err)
}

// ListWorkflows handles GET /api/workflows
func (h *Handlers) ListWorkflows(c *gin.Context) {
	active, err := h.bookings.ListActive(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to list workflows", err)
		return
	}
	if active == nil {
		active = []*entity.Workflow{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: active})
}

// GetWorkflow handles GET /api/workflows/:id
func (h *Handlers) GetWorkflow(c *gin.Context) {
	wf, err := h.bookings.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get workflow", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: wf})
}

// ApplyAction handles POST /api/workflows/:id/actions
func (h *Handlers) ApplyAction(c *gin.Context) {
	var req ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	outcome, err := h.bookings.HandleAction(c.Request.Context(), c.Param("id"), req.ActorID, req.Action, req.Reason)
	if outcome == nil {
		h.fail(c, "Failed to apply action", err)
		return
	}

	resp := ActionResponse{Duplicate: outcome.Duplicate, Message: outcome.Message}
	if res := outcome.Result; res != nil {
		resp.PreviousState = string(res.Previous)
		resp.CurrentState = string(res.Current)
		resp.Workflow = res.Workflow
	}

	switch {
	case err == nil:
		c.JSON(http.StatusOK, Response{Success: true, Data: resp})
	case outcome.Result != nil:
		c.JSON(http.StatusOK, Response{Success: true, Data: resp, Warning: err.Error()})
	default:
		h.logger.Warn("Action rejected", zap.String("workflow_id", c.Param("id")), zap.Error(err))
		c.JSON(statusFor(err), Response{Success: false, Data: resp, Error: err.Error()})
	}
}

// PostMessage handles POST /api/threads/:thread_ref/messages
func (h *Handlers) PostMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	reply, err := h.bookings.HandleThreadMessage(c.Request.Context(), c.Param("thread_ref"), req.ActorID, req.Text)
	if reply == nil {
		if err == nil {
			c.JSON(http.StatusNotFound, Response{Success: false, Error: "thread belongs to no workflow"})
			return
		}
		h.fail(c, "Failed to handle thread message", err)
		return
	}

	resp := toReplyResponse(reply)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, Response{Success: true, Data: resp})
	case workflow.IsSideEffectError(err):
		c.JSON(http.StatusOK, Response{Success: true, Data: resp, Warning: err.Error()})
	default:
		c.JSON(statusFor(err), Response{Success: false, Data: resp, Error: err.Error()})
	}
}

// GetHistory handles GET /api/workflows/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	entries, err := h.bookings.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to get history", err)
		return
	}
	if entries == nil {
		entries = []*entity.WorkflowHistory{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: entries})
}

// ReplaySideEffects handles POST /api/workflows/:id/replay
func (h *Handlers) ReplaySideEffects(c *gin.Context) {
	id := c.Param("id")
	if err := h.bookings.ReplaySideEffects(c.Request.Context(), id); err != nil {
		h.fail(c, "Failed to replay side effects", err)
		return
	}
	h.logger.Info("Side effects replayed", zap.String("workflow_id", id))
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"workflow_id": id}})
}

// GetRecord handles GET /api/records/:bo_ref
func (h *Handlers) GetRecord(c *gin.Context) {
	rec, err := h.bookings.GetRecord(c.Request.Context(), c.Param("bo_ref"))
	if err != nil {
		h.fail(c, "Failed to get record", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: rec})
}

// StartRevision handles POST /api/records/:bo_ref/revisions
func (h *Handlers) StartRevision(c *gin.Context) {
	var req RevisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	wf, err := h.bookings.StartRevision(c.Request.Context(), c.Param("bo_ref"), req.Requester)
	if wf == nil {
		h.fail(c, "Failed to start revision", err)
		return
	}
	h.created(c, wf, err)
}

// created answers a creation whose workflow was persisted, possibly with a
// failed follow-up step
func (h *Handlers) created(c *gin.Context, wf *entity.Workflow, err error) {
	resp := Response{Success: true, Data: wf}
	if err != nil {
		resp.Warning = err.Error()
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handlers) badRequest(c *gin.Context, msg string, err error) {
	h.logger.Debug("Invalid request", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg + ": " + err.Error()})
}

func (h *Handlers) fail(c *gin.Context, msg string, err error) {
	if err == nil {
		err = errors.New("no result")
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

// statusFor maps workflow errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrWorkflowNotFound), errors.Is(err, workflow.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrIllegalTransition),
		errors.Is(err, workflow.ErrVersionConflict),
		errors.Is(err, workflow.ErrThreadNotActive):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrExtractionFailure), workflow.IsSideEffectError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func toReplyResponse(r *session.Reply) ReplyResponse {
	return ReplyResponse{
		Text:         r.Text,
		Intent:       string(r.Intent),
		Mutated:      r.Mutated,
		Transitioned: r.Transitioned,
		Workflow:     r.Workflow,
	}
}
