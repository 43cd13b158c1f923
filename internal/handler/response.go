package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"stockadvisor/internal/workflow"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Accepted(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusAccepted, apiResponse{
		Code:    0,
		Message: "accepted",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// WorkflowError writes err with the status its sentinel maps to. The failed
// run id, when known, is returned in meta.
func WorkflowError(c *gin.Context, err error) {
	var meta map[string]any
	if runID := workflow.RunIDFromError(err); runID != "" {
		meta = map[string]any{"run_id": runID}
	}
	Error(c, statusForError(err), err.Error(), meta)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, workflow.ErrStrategyNotFound), errors.Is(err, workflow.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrStrategyInactive), errors.Is(err, workflow.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrAllAgentsFailed):
		return http.StatusBadGateway
	case errors.Is(err, workflow.ErrNoRecommendations), errors.Is(err, workflow.ErrInvalidOutput):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
