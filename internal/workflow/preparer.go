package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"stockadvisor/internal/advisor"
	"stockadvisor/internal/budget"
	"stockadvisor/internal/models"
	"stockadvisor/internal/repository"
	"stockadvisor/internal/sources"
)

// activePredictionLimit caps the position list shown to agents. Spend is
// aggregated separately and is not subject to it.
const activePredictionLimit = 500

// SourceFetcher supplies the per-run source bundle.
type SourceFetcher interface {
	Fetch(ctx context.Context, flags map[string]bool) sources.Bundle
}

// Prepared is the output of the preparation step.
type Prepared struct {
	Run      *models.WorkflowRun
	Strategy models.Strategy
	Request  advisor.Request
}

type Preparer struct {
	Repo    repository.Repository
	Tracker *Tracker
	Sources SourceFetcher
	Logger  *zap.Logger

	// DefaultSources are the configured source flags a strategy can override.
	DefaultSources map[string]bool
}

// Prepare loads the strategy, opens (or reuses) its run, snapshots the budget
// and source data and moves the run to running with that snapshot as input.
// A missing strategy is reported without writing anything.
func (p *Preparer) Prepare(ctx context.Context, strategyID string, executionID *string) (*Prepared, error) {
	if p == nil || p.Repo == nil || p.Tracker == nil {
		return nil, fmt.Errorf("workflow preparer not configured")
	}
	strategyID = strings.TrimSpace(strategyID)
	strategy, err := p.Repo.GetStrategyByID(ctx, strategyID)
	if err != nil {
		return nil, fmt.Errorf("load strategy: %w", err)
	}
	if strategy == nil {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotFound, strategyID)
	}

	run, reused, err := p.Tracker.Open(ctx, strategy.ID, executionID)
	if err != nil {
		return nil, err
	}
	if p.Logger != nil {
		p.Logger.Info("workflow run opened",
			zap.String("run_id", run.ID),
			zap.String("strategy_id", strategy.ID),
			zap.Bool("reused", reused),
		)
	}

	fail := func(cause error) (*Prepared, error) {
		_ = p.Tracker.Fail(ctx, run.ID, cause, nil)
		return nil, &RunError{RunID: run.ID, Err: cause}
	}

	if !strings.EqualFold(strategy.Status, models.StrategyStatusActive) {
		return fail(fmt.Errorf("%w: status=%s", ErrStrategyInactive, strategy.Status))
	}

	req, err := p.BuildRequest(ctx, *strategy)
	if err != nil {
		return fail(err)
	}
	input, err := json.Marshal(req)
	if err != nil {
		return fail(fmt.Errorf("encode run input: %w", err))
	}
	if err := p.Tracker.Start(ctx, run.ID, input); err != nil {
		return fail(err)
	}
	run.Status = models.RunStatusRunning
	run.InputData = input

	return &Prepared{Run: run, Strategy: *strategy, Request: req}, nil
}

// BuildRequest assembles the agent request for a strategy without touching
// any run.
func (p *Preparer) BuildRequest(ctx context.Context, strategy models.Strategy) (advisor.Request, error) {
	active, err := p.Repo.ListPredictions(ctx, repository.ListPredictionsParams{
		StrategyID: strategy.ID,
		Status:     strPtr(models.PredictionStatusActive),
		Limit:      activePredictionLimit,
	})
	if err != nil {
		return advisor.Request{}, fmt.Errorf("load active predictions: %w", err)
	}
	spend, err := p.Repo.CommittedSpend(ctx, strategy.ID)
	if err != nil {
		return advisor.Request{}, fmt.Errorf("load committed spend: %w", err)
	}

	flags := sources.ResolveFlags(p.DefaultSources, strategy.Sources)
	var bundle sources.Bundle
	if p.Sources != nil {
		bundle = p.Sources.Fetch(ctx, flags)
	} else {
		bundle = sources.Placeholder(flags)
	}

	return advisor.Request{
		Strategy:          Snapshot(strategy),
		Budget:            budget.FromSpend(strategy, spend.Total, spend.Entered),
		Sources:           bundle,
		ActivePredictions: positions(active),
	}, nil
}

// Snapshot is the immutable strategy view handed to agents and reports.
func Snapshot(s models.Strategy) advisor.StrategySnapshot {
	return advisor.StrategySnapshot{
		ID:                 s.ID,
		Name:               s.Name,
		TimeHorizon:        strings.ToLower(strings.TrimSpace(s.TimeHorizon)),
		TargetReturnPct:    s.TargetReturnPct,
		RiskLevel:          s.RiskLevel,
		PerStockAllocation: s.PerStockAllocation,
		CustomInstructions: s.CustomInstructions,
	}
}

func positions(items []models.Prediction) []advisor.Position {
	out := make([]advisor.Position, 0, len(items))
	for _, it := range items {
		out = append(out, advisor.Position{
			Symbol:          it.Symbol,
			Action:          it.Action,
			EntryPrice:      it.EntryPrice,
			TargetPrice:     it.TargetPrice,
			StopLossPrice:   it.StopLossPrice,
			AllocatedAmount: it.AllocatedAmount,
			EvaluationDate:  it.EvaluationDate.UTC(),
		})
	}
	return out
}

func strPtr(s string) *string { return &s }
