package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stockadvisor/internal/budget"
	"stockadvisor/internal/models"
	"stockadvisor/internal/repository"
	"stockadvisor/internal/scheduler"
	"stockadvisor/internal/workflow"
)

// Runner is the slice of the workflow pipeline the HTTP layer drives.
type Runner interface {
	Trigger(ctx context.Context, strategyID string, executionID *string) (*models.WorkflowRun, error)
	PrepareData(ctx context.Context, strategyID string, executionID *string) (*workflow.PreparedData, error)
	CreatePredictionsFromOutput(ctx context.Context, in workflow.ExternalOutput) (*workflow.ExternalResult, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Schedules is the registry view of the scheduler service.
type Schedules interface {
	Entries() []scheduler.Entry
	RunNow(key string) error
}

type WorkflowHandler struct {
	Repo      repository.Repository
	Runner    Runner
	Reaper    Sweeper
	Schedules Schedules
	Logger    *zap.Logger

	// StreamInterval is how often the run stream polls for changes.
	StreamInterval time.Duration
}

func (h *WorkflowHandler) Register(r *gin.Engine) {
	api := r.Group("/api/v1")
	api.POST("/strategies/:id/runs", h.triggerRun)
	api.GET("/strategies/:id/runs", h.listRuns)
	api.GET("/strategies/:id/budget", h.getBudget)
	api.GET("/strategies/:id/predictions", h.listPredictions)
	api.GET("/runs/:id", h.getRun)
	api.GET("/runs/:id/stream", h.streamRun)
	api.POST("/runs/reap", h.reap)
	api.POST("/workflow/prepare-data", h.prepareData)
	api.POST("/workflow/predictions", h.createPredictions)
	api.GET("/schedules", h.listSchedules)
	api.POST("/schedules/:key/run", h.runSchedule)
}

type triggerRequest struct {
	ExecutionID *string `json:"execution_id"`
}

// @Summary Trigger a workflow run
// @Description Prepares the run synchronously and finishes it in the background.
// @Tags workflow
// @Accept json
// @Produce json
// @Param id path string true "strategy id"
// @Success 202 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Router /api/v1/strategies/{id}/runs [post]
func (h *WorkflowHandler) triggerRun(c *gin.Context) {
	if h.Runner == nil {
		Error(c, http.StatusInternalServerError, "pipeline unavailable", nil)
		return
	}
	var req triggerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			Error(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
	}
	run, err := h.Runner.Trigger(c.Request.Context(), strings.TrimSpace(c.Param("id")), req.ExecutionID)
	if err != nil {
		WorkflowError(c, err)
		return
	}
	Accepted(c, runSummary(*run), nil)
}

// @Summary List workflow runs for a strategy
// @Tags workflow
// @Produce json
// @Param id path string true "strategy id"
// @Param status query string false "pending|running|completed|failed"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Success 200 {object} map[string]any
// @Router /api/v1/strategies/{id}/runs [get]
func (h *WorkflowHandler) listRuns(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	strategyID := strings.TrimSpace(c.Param("id"))
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListWorkflowRuns(c.Request.Context(), repository.ListWorkflowRunsParams{
		StrategyID: &strategyID,
		Status:     strQueryPtr(c, "status"),
		Limit:      limit,
		Offset:     offset,
		OrderBy:    "created_at",
		Asc:        boolPtr(false),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	out := make([]runView, 0, len(items))
	for _, run := range items {
		out = append(out, runSummary(run))
	}
	Ok(c, out, paginationMeta(limit, offset, len(items)))
}

// @Summary Current budget snapshot for a strategy
// @Tags workflow
// @Produce json
// @Param id path string true "strategy id"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/v1/strategies/{id}/budget [get]
func (h *WorkflowHandler) getBudget(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	ctx := c.Request.Context()
	strategy, err := h.Repo.GetStrategyByID(ctx, strings.TrimSpace(c.Param("id")))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if strategy == nil {
		Error(c, http.StatusNotFound, workflow.ErrStrategyNotFound.Error(), nil)
		return
	}
	spend, err := h.Repo.CommittedSpend(ctx, strategy.ID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, budget.FromSpend(*strategy, spend.Total, spend.Entered), nil)
}

// @Summary List predictions for a strategy
// @Tags workflow
// @Produce json
// @Param id path string true "strategy id"
// @Param status query string false "active|completed|cancelled"
// @Param action query string false "pending|entered|skipped"
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Success 200 {object} map[string]any
// @Router /api/v1/strategies/{id}/predictions [get]
func (h *WorkflowHandler) listPredictions(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListPredictions(c.Request.Context(), repository.ListPredictionsParams{
		StrategyID: strings.TrimSpace(c.Param("id")),
		Status:     strQueryPtr(c, "status"),
		Action:     strQueryPtr(c, "action"),
		Limit:      limit,
		Offset:     offset,
		OrderBy:    "created_at",
		Asc:        boolPtr(false),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, toPredictionViews(items), paginationMeta(limit, offset, len(items)))
}

// @Summary Get a workflow run
// @Tags workflow
// @Produce json
// @Param id path string true "run id"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/v1/runs/{id} [get]
func (h *WorkflowHandler) getRun(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	run, err := h.Repo.GetWorkflowRunByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if run == nil {
		Error(c, http.StatusNotFound, workflow.ErrRunNotFound.Error(), nil)
		return
	}
	Ok(c, toRunView(*run), nil)
}

// @Summary Fail stale running runs now
// @Tags workflow
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/v1/runs/reap [post]
func (h *WorkflowHandler) reap(c *gin.Context) {
	if h.Reaper == nil {
		Error(c, http.StatusInternalServerError, "reaper unavailable", nil)
		return
	}
	n, err := h.Reaper.Sweep(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), map[string]any{"reaped": n})
		return
	}
	Ok(c, gin.H{"reaped": n}, nil)
}

type prepareDataRequest struct {
	StrategyID  string  `json:"strategy_id" binding:"required"`
	ExecutionID *string `json:"execution_id"`
}

// @Summary Prepare strategy data for an external workflow engine
// @Tags workflow
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Router /api/v1/workflow/prepare-data [post]
func (h *WorkflowHandler) prepareData(c *gin.Context) {
	if h.Runner == nil {
		Error(c, http.StatusInternalServerError, "pipeline unavailable", nil)
		return
	}
	var req prepareDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	data, err := h.Runner.PrepareData(c.Request.Context(), strings.TrimSpace(req.StrategyID), req.ExecutionID)
	if err != nil {
		WorkflowError(c, err)
		return
	}
	Ok(c, data, nil)
}

type createPredictionsRequest struct {
	StrategyID     string          `json:"strategy_id" binding:"required"`
	ExecutionID    *string         `json:"execution_id"`
	JSONOutput     json.RawMessage `json:"json_output" binding:"required"`
	MarkdownOutput string          `json:"markdown_output"`
}

// @Summary Materialize predictions from external workflow output
// @Description json_output may be the report object or the raw model text as a string.
// @Tags workflow
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Failure 422 {object} map[string]any
// @Router /api/v1/workflow/predictions [post]
func (h *WorkflowHandler) createPredictions(c *gin.Context) {
	if h.Runner == nil {
		Error(c, http.StatusInternalServerError, "pipeline unavailable", nil)
		return
	}
	var req createPredictionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	res, err := h.Runner.CreatePredictionsFromOutput(c.Request.Context(), workflow.ExternalOutput{
		StrategyID:     req.StrategyID,
		ExecutionID:    req.ExecutionID,
		JSONOutput:     unwrapOutput(req.JSONOutput),
		MarkdownOutput: req.MarkdownOutput,
	})
	if err != nil {
		WorkflowError(c, err)
		return
	}
	Ok(c, gin.H{
		"run_id":              res.RunID,
		"created_predictions": toPredictionViews(res.CreatedPredictions),
		"skipped":             res.Skipped,
		"replayed":            res.Replayed,
	}, nil)
}

// unwrapOutput returns the text inside a JSON string, or raw unchanged.
func unwrapOutput(raw json.RawMessage) []byte {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []byte(text)
	}
	return raw
}

// @Summary List registered schedules
// @Tags scheduler
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/v1/schedules [get]
func (h *WorkflowHandler) listSchedules(c *gin.Context) {
	if h.Schedules == nil {
		Ok(c, []scheduler.Entry{}, nil)
		return
	}
	Ok(c, h.Schedules.Entries(), nil)
}

// @Summary Run a registered schedule now
// @Description Invokes the job synchronously with the scheduler's context.
// @Tags scheduler
// @Produce json
// @Param key path string true "schedule key"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/v1/schedules/{key}/run [post]
func (h *WorkflowHandler) runSchedule(c *gin.Context) {
	if h.Schedules == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	key := strings.TrimSpace(c.Param("key"))
	if err := h.Schedules.RunNow(key); err != nil {
		if errors.Is(err, scheduler.ErrUnknownKey) {
			Error(c, http.StatusNotFound, err.Error(), nil)
			return
		}
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	if h.Logger != nil {
		h.Logger.Info("schedule run on demand", zap.String("key", key))
	}
	Ok(c, gin.H{"key": key}, nil)
}
