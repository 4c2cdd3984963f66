package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	merrors "murmur/internal/errors"
	"murmur/internal/logging"
	"murmur/internal/pipeline"
	"murmur/internal/server/app"
)

// APIHandler handles the REST endpoints of the media pipeline.
type APIHandler struct {
	service *app.MediaService
	logger  logging.Logger
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(service *app.MediaService, logger logging.Logger) *APIHandler {
	return &APIHandler{
		service: service,
		logger:  logging.OrNop(logger),
	}
}

type grantRequest struct {
	FileName    string `json:"file_name" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

// HandleIssueGrant handles POST /api/v1/uploads - issues a direct-upload credential.
func (h *APIHandler) HandleIssueGrant(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, merrors.Wrapf(merrors.KindInvalidInput, "http.grant", err, "invalid request body"))
		return
	}

	grant, err := h.service.IssueGrant(c.Request.Context(), req.FileName, req.ContentType)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, grant)
}

type submitRequest struct {
	ObjectKey       string  `json:"object_key" binding:"required"`
	DurationSeconds float64 `json:"duration_seconds"`
	SizeBytes       int64   `json:"size_bytes"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// HandleSubmitRecording handles POST /api/v1/recordings - the upload
// completion notification. Returns the task id immediately; processing runs
// in the background.
func (h *APIHandler) HandleSubmitRecording(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, merrors.Wrapf(merrors.KindInvalidInput, "http.submit", err, "invalid request body"))
		return
	}

	task, err := h.service.SubmitRecording(c.Request.Context(), req.ObjectKey, pipeline.SubmissionHint{
		DurationSeconds: req.DurationSeconds,
		SizeBytes:       req.SizeBytes,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, submitResponse{TaskID: task.ID, Status: string(task.Status)})
}

type taskResponse struct {
	TaskID   string                `json:"task_id"`
	Status   string                `json:"status"`
	Progress int                   `json:"progress"`
	Stage    string                `json:"stage"`
	Result   *pipeline.Result      `json:"result,omitempty"`
	Error    *pipeline.ErrorDetail `json:"error,omitempty"`
}

// HandlePollTask handles GET /api/v1/tasks/:id - the progress poll. Read
// only; an unknown id is a 404 payload, never a server error.
func (h *APIHandler) HandlePollTask(c *gin.Context) {
	task, err := h.service.Poll(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, taskResponse{
		TaskID:   task.ID,
		Status:   string(task.Status),
		Progress: task.Progress,
		Stage:    task.StageLabel,
		Result:   task.Result,
		Error:    task.Error,
	})
}

// HandleHealth handles GET /health.
func (h *APIHandler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type errorResponse struct {
	Error string       `json:"error"`
	Kind  merrors.Kind `json:"kind"`
}

func (h *APIHandler) writeError(c *gin.Context, err error) {
	kind := merrors.KindOf(err)
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("HTTP %d - %v", status, err)
	} else {
		h.logger.Warn("HTTP %d - %v", status, err)
	}
	c.JSON(status, errorResponse{Error: merrors.Detail(err), Kind: kind})
}

func statusForKind(kind merrors.Kind) int {
	switch kind {
	case merrors.KindInvalidInput:
		return http.StatusBadRequest
	case merrors.KindTaskNotFound, merrors.KindSourceNotFound:
		return http.StatusNotFound
	case merrors.KindRejected:
		return http.StatusForbidden
	case merrors.KindTaskTerminal:
		return http.StatusConflict
	case merrors.KindTimeout:
		return http.StatusGatewayTimeout
	case merrors.KindProvider, merrors.KindStorage, merrors.KindNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
