package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"stockadvisor/internal/advisor"
	"stockadvisor/internal/budget"
	"stockadvisor/internal/logger"
	"stockadvisor/internal/models"
	"stockadvisor/internal/ranking"
	"stockadvisor/internal/report"
	"stockadvisor/internal/repository"
)

// Advisor produces agent recommendations for a prepared request.
type Advisor interface {
	Run(ctx context.Context, req advisor.Request) (advisor.Outcome, error)
}

type Pipeline struct {
	Repo         repository.Repository
	Preparer     *Preparer
	Advisor      Advisor
	Materializer *Materializer
	Tracker      *Tracker
	Logger       *zap.Logger

	MaxRecommendations int
	Now                func() time.Time

	wg sync.WaitGroup
}

// Result is what a completed run produced.
type Result struct {
	RunID       string                 `json:"run_id"`
	StrategyID  string                 `json:"strategy_id"`
	Status      string                 `json:"status"`
	Agents      []advisor.AgentSummary `json:"agents"`
	Report      report.Structured      `json:"report"`
	Markdown    string                 `json:"markdown"`
	Predictions MaterializeResult      `json:"predictions"`
}

// Run executes the whole pipeline for one strategy in the caller's task.
func (p *Pipeline) Run(ctx context.Context, strategyID string, executionID *string) (*Result, error) {
	if p == nil || p.Preparer == nil {
		return nil, fmt.Errorf("workflow pipeline not configured")
	}
	prepared, err := p.Preparer.Prepare(ctx, strategyID, executionID)
	if err != nil {
		return nil, err
	}
	return p.Execute(ctx, prepared)
}

// Trigger prepares synchronously, so precondition failures reach the caller,
// then finishes the run in the background. Wait blocks until background runs
// are done.
func (p *Pipeline) Trigger(ctx context.Context, strategyID string, executionID *string) (*models.WorkflowRun, error) {
	if p == nil || p.Preparer == nil {
		return nil, fmt.Errorf("workflow pipeline not configured")
	}
	prepared, err := p.Preparer.Prepare(ctx, strategyID, executionID)
	if err != nil {
		return nil, err
	}
	bg := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if _, err := p.Execute(bg, prepared); err != nil && p.Logger != nil {
			p.Logger.Warn("triggered workflow run failed",
				zap.String("run_id", prepared.Run.ID),
				zap.String("strategy_id", prepared.Strategy.ID),
				zap.Error(err),
			)
		}
	}()
	run := *prepared.Run
	return &run, nil
}

func (p *Pipeline) Wait() {
	if p != nil {
		p.wg.Wait()
	}
}

// Execute runs orchestrator, merge, formatting and materialization for a
// prepared run. Any fatal error fails the run and is returned unchanged.
func (p *Pipeline) Execute(ctx context.Context, prepared *Prepared) (*Result, error) {
	if prepared == nil || prepared.Run == nil {
		return nil, fmt.Errorf("workflow pipeline: nothing prepared")
	}
	runID := prepared.Run.ID
	log := p.logger().With(zap.String("run_id", runID), zap.String("strategy_id", prepared.Strategy.ID))

	fail := func(cause error, extra map[string]any) (*Result, error) {
		_ = p.Tracker.Fail(ctx, runID, cause, extra)
		return nil, &RunError{RunID: runID, Err: cause}
	}

	if p.Advisor == nil {
		return fail(errors.New("workflow pipeline: no advisor configured"), nil)
	}
	outcome, err := p.Advisor.Run(ctx, prepared.Request)
	summary := outcome.Summary()
	analysis := mustJSON(map[string]any{"agents": summary, "succeeded": outcome.Succeeded()})
	if err != nil {
		return fail(err, map[string]any{"ai_analysis": analysis})
	}
	log.Info("agents finished", zap.Int("succeeded", outcome.Succeeded()), zap.Int("total", len(outcome.Results)))
	if err := p.Tracker.Checkpoint(ctx, runID, map[string]any{"ai_analysis": analysis}); err != nil {
		return fail(err, nil)
	}

	merged := ranking.Merge(outcome.Successful(), p.maxRecommendations())
	if merged.Empty() {
		return fail(ErrNoRecommendations, nil)
	}

	structured, markdown := report.Render(report.Input{
		Strategy:     prepared.Request.Strategy,
		Budget:       prepared.Request.Budget,
		Merged:       merged,
		Sources:      prepared.Request.Sources,
		AnalysisDate: p.now().Format("2006-01-02"),
		HorizonDays:  p.Materializer.HorizonDays(prepared.Strategy.TimeHorizon),
	})
	jsonOutput, err := json.Marshal(structured)
	if err != nil {
		return fail(fmt.Errorf("encode report: %w", err), nil)
	}
	outputs := map[string]any{
		"json_output":     datatypes.JSON(jsonOutput),
		"markdown_output": markdown,
	}

	created, err := p.Materializer.Materialize(ctx, MaterializeInput{
		RunID:      runID,
		Strategy:   prepared.Strategy,
		Budget:     prepared.Request.Budget,
		Candidates: merged.Recommendations,
	})
	if err != nil {
		return fail(err, outputs)
	}
	if err := p.Tracker.Complete(ctx, runID, outputs); err != nil {
		return fail(err, outputs)
	}
	log.Info("workflow run completed",
		zap.Int("recommendations", len(merged.Recommendations)),
		zap.Int("predictions", len(created.Created)),
		zap.Int("skipped", len(created.Skipped)),
	)

	return &Result{
		RunID:       runID,
		StrategyID:  prepared.Strategy.ID,
		Status:      models.RunStatusCompleted,
		Agents:      summary,
		Report:      structured,
		Markdown:    markdown,
		Predictions: created,
	}, nil
}

// PreparedData is the prepareData boundary for the external workflow engine.
type PreparedData struct {
	RunID             string                   `json:"run_id"`
	Strategy          advisor.StrategySnapshot `json:"strategy"`
	Budget            budget.Snapshot          `json:"budget"`
	ActivePredictions []advisor.Position       `json:"active_predictions"`
	Sources           any                      `json:"sources"`
}

// PrepareData runs only the preparation step and leaves the run running for a
// later CreatePredictionsFromOutput call.
func (p *Pipeline) PrepareData(ctx context.Context, strategyID string, executionID *string) (*PreparedData, error) {
	if p == nil || p.Preparer == nil {
		return nil, fmt.Errorf("workflow pipeline not configured")
	}
	prepared, err := p.Preparer.Prepare(ctx, strategyID, executionID)
	if err != nil {
		return nil, err
	}
	return &PreparedData{
		RunID:             prepared.Run.ID,
		Strategy:          prepared.Request.Strategy,
		Budget:            prepared.Request.Budget,
		ActivePredictions: prepared.Request.ActivePredictions,
		Sources:           prepared.Request.Sources,
	}, nil
}

type ExternalOutput struct {
	StrategyID     string
	ExecutionID    *string
	JSONOutput     []byte
	MarkdownOutput string
}

type ExternalResult struct {
	RunID              string              `json:"run_id"`
	CreatedPredictions []models.Prediction `json:"created_predictions"`
	Skipped            []SkippedCandidate  `json:"skipped"`
	// Replayed is set when the execution had already completed and the
	// earlier predictions are returned instead of writing new ones.
	Replayed bool `json:"replayed"`
}

// CreatePredictionsFromOutput materializes recommendations produced by an
// external engine. It reuses the open run for the execution id or opens one.
// A retry for an execution whose run already completed returns that run's
// predictions without writing.
func (p *Pipeline) CreatePredictionsFromOutput(ctx context.Context, in ExternalOutput) (*ExternalResult, error) {
	if p == nil || p.Repo == nil || p.Tracker == nil {
		return nil, fmt.Errorf("workflow pipeline not configured")
	}
	strategyID := strings.TrimSpace(in.StrategyID)
	strategy, err := p.Repo.GetStrategyByID(ctx, strategyID)
	if err != nil {
		return nil, fmt.Errorf("load strategy: %w", err)
	}
	if strategy == nil {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotFound, strategyID)
	}

	if executionID := normalizeExecutionID(in.ExecutionID); executionID != nil {
		replayed, err := p.replayCompleted(ctx, strategy.ID, *executionID)
		if err != nil || replayed != nil {
			return replayed, err
		}
	}

	run, _, err := p.Tracker.Open(ctx, strategy.ID, in.ExecutionID)
	if err != nil {
		return nil, err
	}
	fail := func(cause error) (*ExternalResult, error) {
		_ = p.Tracker.Fail(ctx, run.ID, cause, nil)
		return nil, &RunError{RunID: run.ID, Err: cause}
	}
	if err := p.Tracker.Start(ctx, run.ID, nil); err != nil {
		return fail(err)
	}

	parsed, err := advisor.ParseResponse(string(in.JSONOutput), "external")
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInvalidOutput, err))
	}
	merged := ranking.Merge([]advisor.AgentResult{{
		Agent:           "external",
		Recommendations: parsed.Recommendations,
		Metadata:        parsed.Metadata,
	}}, p.maxRecommendations())
	if merged.Empty() {
		return fail(ErrNoRecommendations)
	}

	var snap budget.Snapshot
	if p.Preparer != nil {
		req, err := p.Preparer.BuildRequest(ctx, *strategy)
		if err != nil {
			return fail(err)
		}
		snap = req.Budget
	}

	created, err := p.Materializer.Materialize(ctx, MaterializeInput{
		RunID:      run.ID,
		Strategy:   *strategy,
		Budget:     snap,
		Candidates: merged.Recommendations,
	})
	outputs := map[string]any{
		"json_output":     datatypes.JSON(normalizedJSON(in.JSONOutput)),
		"markdown_output": in.MarkdownOutput,
	}
	if err != nil {
		return fail(err)
	}
	if err := p.Tracker.Complete(ctx, run.ID, outputs); err != nil {
		return fail(err)
	}
	return &ExternalResult{
		RunID:              run.ID,
		CreatedPredictions: nonNilPredictions(created.Created),
		Skipped:            created.Skipped,
	}, nil
}

// replayCompleted returns the result of the newest completed run for the
// execution when no run for it is still open, and nil otherwise.
func (p *Pipeline) replayCompleted(ctx context.Context, strategyID, executionID string) (*ExternalResult, error) {
	open, err := p.Repo.FindOpenWorkflowRun(ctx, strategyID, &executionID)
	if err != nil {
		return nil, fmt.Errorf("find open run: %w", err)
	}
	if open != nil {
		return nil, nil
	}
	status := models.RunStatusCompleted
	runs, err := p.Repo.ListWorkflowRuns(ctx, repository.ListWorkflowRunsParams{
		StrategyID:  &strategyID,
		ExecutionID: &executionID,
		Status:      &status,
		Limit:       1,
		OrderBy:     "created_at",
	})
	if err != nil {
		return nil, fmt.Errorf("find completed run: %w", err)
	}
	if len(runs) == 0 {
		return nil, nil
	}
	runID := runs[0].ID
	preds, err := p.Repo.ListPredictions(ctx, repository.ListPredictionsParams{
		StrategyID:    strategyID,
		WorkflowRunID: &runID,
		OrderBy:       "overall_score",
	})
	if err != nil {
		return nil, fmt.Errorf("load run predictions: %w", err)
	}
	p.logger().Info("external output replayed",
		zap.String("run_id", runID),
		zap.String("strategy_id", strategyID),
		zap.String("execution_id", executionID),
		zap.Int("predictions", len(preds)),
	)
	return &ExternalResult{
		RunID:              runID,
		CreatedPredictions: nonNilPredictions(preds),
		Skipped:            []SkippedCandidate{},
		Replayed:           true,
	}, nil
}

func (p *Pipeline) maxRecommendations() int {
	if p.MaxRecommendations > 0 {
		return p.MaxRecommendations
	}
	return ranking.DefaultLimit
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Pipeline) logger() *zap.Logger {
	return logger.OrNop(p.Logger)
}

func mustJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON(`{}`)
	}
	return datatypes.JSON(b)
}

func normalizedJSON(raw []byte) []byte {
	if json.Valid(raw) {
		return raw
	}
	b, _ := json.Marshal(string(raw))
	return b
}

func nonNilPredictions(in []models.Prediction) []models.Prediction {
	if in == nil {
		return []models.Prediction{}
	}
	return in
}
