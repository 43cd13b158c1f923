package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"stockadvisor/internal/models"
	"stockadvisor/internal/workflow"
)

const defaultStreamInterval = time.Second

// @Summary Stream workflow run status over a websocket
// @Description Sends the run whenever its status or update time changes and closes once it is terminal.
// @Tags workflow
// @Param id path string true "run id"
// @Router /api/v1/runs/{id}/stream [get]
func (h *WorkflowHandler) streamRun(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	runID := strings.TrimSpace(c.Param("id"))
	run, err := h.Repo.GetWorkflowRunByID(c.Request.Context(), runID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if run == nil {
		Error(c, http.StatusNotFound, workflow.ErrRunNotFound.Error(), nil)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close(websocket.StatusInternalError, "stream aborted") }()

	ctx := conn.CloseRead(c.Request.Context())
	if err := h.pushUntilTerminal(ctx, conn, run); err != nil {
		if !errors.Is(err, context.Canceled) && h.Logger != nil {
			h.Logger.Debug("run stream stopped", zap.String("run_id", runID), zap.Error(err))
		}
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "run "+run.Status)
}

func (h *WorkflowHandler) pushUntilTerminal(ctx context.Context, conn *websocket.Conn, run *models.WorkflowRun) error {
	interval := h.StreamInterval
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastStatus string
	var lastUpdated time.Time
	for {
		if run.Status != lastStatus || !run.UpdatedAt.Equal(lastUpdated) {
			if err := wsjson.Write(ctx, conn, runSummary(*run)); err != nil {
				return err
			}
			lastStatus, lastUpdated = run.Status, run.UpdatedAt
		}
		if models.IsTerminalRunStatus(run.Status) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		next, err := h.Repo.GetWorkflowRunByID(ctx, run.ID)
		if err != nil {
			return err
		}
		if next == nil {
			return workflow.ErrRunNotFound
		}
		run = next
	}
}
