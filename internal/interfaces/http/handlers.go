package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/civic-workflow/internal/application/history"
	"github.com/garyjia/civic-workflow/internal/application/port"
	"github.com/garyjia/civic-workflow/internal/application/workflow"
	"github.com/garyjia/civic-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/civic-workflow/internal/domain/workflow"
	"github.com/garyjia/civic-workflow/pkg/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// InboxService is the recipient-facing view of persisted notifications
type InboxService interface {
	List(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]*entity.Notification, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
	MarkRead(ctx context.Context, id, recipientID string) error
}

// HistoryExporter renders and stores the transition audit trail
type HistoryExporter interface {
	ExportXLSX(ctx context.Context, filter port.HistoryFilter) ([]byte, error)
	SaveXLSX(ctx context.Context, filter port.HistoryFilter) (string, error)
	ListExports(ctx context.Context) ([]string, error)
	ReadExport(ctx context.Context, path string) ([]byte, error)
}

// HealthFunc reports overall health and component details
type HealthFunc func(ctx context.Context) (healthy bool, details interface{})

// Dependencies are the application components served over HTTP.
// Engine, Inbox and Roles are required.
type Dependencies struct {
	Engine   workflow.Engine
	Inbox    InboxService
	Roles    port.RoleSource
	History  port.HistoryRepository
	Exporter HistoryExporter
	Health   HealthFunc
	Metrics  http.Handler
}

func (d Dependencies) validate() error {
	switch {
	case d.Engine == nil:
		return fmt.Errorf("workflow engine is required")
	case d.Inbox == nil:
		return fmt.Errorf("inbox is required")
	case d.Roles == nil:
		return fmt.Errorf("role source is required")
	}
	return nil
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Dependencies
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, logger Logger) *Handlers {
	return &Handlers{deps: deps, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Components interface{} `json:"components,omitempty"`
}

// RecordResponse is a record's current workflow state
type RecordResponse struct {
	Kind       string `json:"kind"`
	ID         string `json:"id"`
	State      string `json:"state"`
	Version    int64  `json:"version"`
	OwnerID    string `json:"owner_id,omitempty"`
	AssigneeID string `json:"assignee_id,omitempty"`
	UpdatedAt  string `json:"updated_at"`
}

// TransitionRequest is the body of a transition request
type TransitionRequest struct {
	TargetState string `json:"target_state" binding:"required"`
}

// TransitionResponse reports a committed transition. NotificationError is set
// when the state changed but notification delivery could not be recorded.
type TransitionResponse struct {
	Kind              string `json:"kind"`
	ID                string `json:"id"`
	State             string `json:"state"`
	NotificationError string `json:"notification_error,omitempty"`
}

// AvailableTransitionsResponse lists the targets the caller may request
type AvailableTransitionsResponse struct {
	Kind         string   `json:"kind"`
	ID           string   `json:"id"`
	CurrentState string   `json:"current_state"`
	Targets      []string `json:"targets"`
}

// ListNotificationsRequest represents query parameters for listing notifications
type ListNotificationsRequest struct {
	Unread bool `form:"unread"`
	Limit  int  `form:"limit"`
	Offset int  `form:"offset"`
}

// HistoryQuery represents query parameters for history listing and export
type HistoryQuery struct {
	Kind     string `form:"kind"`
	EntityID string `form:"entity_id"`
	ActorID  string `form:"actor_id"`
	Limit    int    `form:"limit"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	healthy, details := true, interface{}(nil)
	if h.deps.Health != nil {
		healthy, details = h.deps.Health(c.Request.Context())
	}

	response := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: details,
	}
	status := http.StatusOK
	if !healthy {
		response.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, Response{
		Success: healthy,
		Data:    response,
	})
}

// GetRecord handles GET /api/v1/records/:kind/:id
func (h *Handlers) GetRecord(c *gin.Context) {
	kind, id, ok := h.recordRef(c)
	if !ok {
		return
	}

	record, err := h.deps.Engine.CurrentState(c.Request.Context(), kind, id)
	if err != nil {
		h.writeError(c, "Failed to read record", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    toRecordResponse(record),
	})
}

// ListTransitions handles GET /api/v1/records/:kind/:id/transitions
func (h *Handlers) ListTransitions(c *gin.Context) {
	kind, id, ok := h.recordRef(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	record, err := h.deps.Engine.CurrentState(ctx, kind, id)
	if err != nil {
		h.writeError(c, "Failed to read record", err)
		return
	}

	targets, err := h.deps.Engine.AvailableTransitions(ctx, kind, id, principalFrom(c))
	if err != nil {
		h.writeError(c, "Failed to list transitions", err)
		return
	}

	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.String()
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: AvailableTransitionsResponse{
			Kind:         kind.String(),
			ID:           id,
			CurrentState: record.State.String(),
			Targets:      names,
		},
	})
}

// RequestTransition handles POST /api/v1/records/:kind/:id/transitions
func (h *Handlers) RequestTransition(c *gin.Context) {
	kind, id, ok := h.recordRef(c)
	if !ok {
		return
	}

	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid transition request", "kind", kind, "entity_id", id, "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "target_state is required",
		})
		return
	}

	principal := principalFrom(c)
	state, err := h.deps.Engine.RequestTransition(c.Request.Context(), kind, id, principal, domainwf.State(req.TargetState))
	if err != nil && !domainwf.IsCommitted(err) {
		h.writeError(c, "Transition rejected", err)
		return
	}

	resp := TransitionResponse{
		Kind:  kind.String(),
		ID:    id,
		State: state.String(),
	}
	if err != nil {
		h.logger.Error("Transition committed without notification", "kind", kind, "entity_id", id, "error", err)
		resp.NotificationError = err.Error()
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    resp,
	})
}

// GetRecordHistory handles GET /api/v1/records/:kind/:id/history
func (h *Handlers) GetRecordHistory(c *gin.Context) {
	kind, id, ok := h.recordRef(c)
	if !ok {
		return
	}
	if h.deps.History == nil {
		c.JSON(http.StatusNotImplemented, Response{Success: false, Error: "history is not available"})
		return
	}

	entries, err := h.deps.History.List(c.Request.Context(), port.HistoryFilter{Kind: kind, EntityID: id})
	if err != nil {
		h.writeError(c, "Failed to list history", err)
		return
	}
	if entries == nil {
		entries = []*entity.TransitionHistory{}
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    entries,
	})
}

// ListNotifications handles GET /api/v1/notifications
func (h *Handlers) ListNotifications(c *gin.Context) {
	var req ListNotificationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", "error", err)
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid query parameters",
		})
		return
	}

	principal := principalFrom(c)
	items, err := h.deps.Inbox.List(c.Request.Context(), principal.ID, req.Unread, req.Limit, req.Offset)
	if err != nil {
		h.writeError(c, "Failed to list notifications", err)
		return
	}
	if items == nil {
		items = []*entity.Notification{}
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    items,
	})
}

// UnreadCount handles GET /api/v1/notifications/unread-count
func (h *Handlers) UnreadCount(c *gin.Context) {
	count, err := h.deps.Inbox.UnreadCount(c.Request.Context(), principalFrom(c).ID)
	if err != nil {
		h.writeError(c, "Failed to count notifications", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    gin.H{"unread": count},
	})
}

// MarkNotificationRead handles POST /api/v1/notifications/:id/read
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	id := c.Param("id")
	if err := utils.ValidateIdentifier("notification", id); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	if err := h.deps.Inbox.MarkRead(c.Request.Context(), id, principalFrom(c).ID); err != nil {
		h.writeError(c, "Failed to mark notification read", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    gin.H{"id": id, "read": true},
	})
}

// ExportHistory handles GET /api/v1/history/export
func (h *Handlers) ExportHistory(c *gin.Context) {
	filter, ok := h.historyFilter(c)
	if !ok {
		return
	}

	content, err := h.deps.Exporter.ExportXLSX(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, "Failed to export history", err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="history.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, content)
}

// SaveHistoryExport handles POST /api/v1/history/exports
func (h *Handlers) SaveHistoryExport(c *gin.Context) {
	filter, ok := h.historyFilter(c)
	if !ok {
		return
	}

	path, err := h.deps.Exporter.SaveXLSX(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, "Failed to save history export", err)
		return
	}

	h.logger.Info("History export saved", "path", path, "principal_id", principalFrom(c).ID)
	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    gin.H{"path": path},
	})
}

// ListHistoryExports handles GET /api/v1/history/exports
func (h *Handlers) ListHistoryExports(c *gin.Context) {
	if !h.requireExporter(c) {
		return
	}

	paths, err := h.deps.Exporter.ListExports(c.Request.Context())
	if err != nil {
		h.writeError(c, "Failed to list history exports", err)
		return
	}
	if paths == nil {
		paths = []string{}
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    paths,
	})
}

// DownloadHistoryExport handles GET /api/v1/history/exports/:name
func (h *Handlers) DownloadHistoryExport(c *gin.Context) {
	if !h.requireExporter(c) {
		return
	}

	name := c.Param("name")
	if err := utils.ValidateIdentifier("export", name); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	content, err := h.deps.Exporter.ReadExport(c.Request.Context(), "exports/"+name)
	if err != nil {
		h.writeError(c, "Failed to read history export", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, xlsxContentType, content)
}

// recordRef parses and validates the :kind and :id path parameters
func (h *Handlers) recordRef(c *gin.Context) (domainwf.EntityKind, string, bool) {
	kind, err := domainwf.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: err.Error()})
		return "", "", false
	}

	id := c.Param("id")
	if err := utils.ValidateIdentifier("entity", id); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return "", "", false
	}

	return kind, id, true
}

func (h *Handlers) historyFilter(c *gin.Context) (port.HistoryFilter, bool) {
	if !h.requireExporter(c) {
		return port.HistoryFilter{}, false
	}

	var q HistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid query parameters"})
		return port.HistoryFilter{}, false
	}

	filter := port.HistoryFilter{
		EntityID: q.EntityID,
		ActorID:  q.ActorID,
		Limit:    q.Limit,
	}
	if q.Kind != "" {
		kind, err := domainwf.ParseKind(q.Kind)
		if err != nil {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
			return port.HistoryFilter{}, false
		}
		filter.Kind = kind
	}
	return filter, true
}

func (h *Handlers) requireExporter(c *gin.Context) bool {
	if h.deps.Exporter == nil {
		c.JSON(http.StatusNotImplemented, Response{Success: false, Error: "history export is not available"})
		return false
	}
	return true
}

// writeError maps application errors onto HTTP status codes
func (h *Handlers) writeError(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "path", c.Request.URL.Path, "error", err)
		c.JSON(status, Response{Success: false, Error: "internal error"})
		return
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domainwf.ErrNotFound),
		errors.Is(err, domainwf.ErrUnknownKind),
		errors.Is(err, port.ErrNotificationNotFound),
		errors.Is(err, history.ErrExportNotFound):
		return http.StatusNotFound
	case errors.Is(err, domainwf.ErrIllegalTransition),
		errors.Is(err, domainwf.ErrInvalidState):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domainwf.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domainwf.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func toRecordResponse(r *entity.Record) RecordResponse {
	return RecordResponse{
		Kind:       r.Kind.String(),
		ID:         r.ID,
		State:      r.State.String(),
		Version:    r.Version,
		OwnerID:    r.OwnerID,
		AssigneeID: r.AssigneeID,
		UpdatedAt:  r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
