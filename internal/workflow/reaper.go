package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stockadvisor/internal/models"
	"stockadvisor/internal/repository"
)

const (
	DefaultReapInterval = 5 * time.Minute
	DefaultStaleAfter   = 30 * time.Minute

	reapBatch = 200
)

// Reaper force-fails runs stuck in running past the staleness threshold.
type Reaper struct {
	Repo   repository.WorkflowRunRepository
	Logger *zap.Logger
	Events EventSink

	StaleAfter time.Duration
	Now        func() time.Time
}

// Sweep fails every running run whose last update is older than StaleAfter and
// returns how many it failed. The staleness check is repeated in the update, so
// a run that moved on or checkpointed concurrently is left alone.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	if r == nil || r.Repo == nil {
		return 0, nil
	}
	staleAfter := r.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	now := r.now()
	cutoff := now.Add(-staleAfter)
	status := models.RunStatusRunning
	asc := true

	reaped := 0
	for {
		stale, err := r.Repo.ListWorkflowRuns(ctx, repository.ListWorkflowRunsParams{
			Status:        &status,
			UpdatedBefore: &cutoff,
			Limit:         reapBatch,
			OrderBy:       "updated_at",
			Asc:           &asc,
		})
		if err != nil {
			return reaped, fmt.Errorf("list stale runs: %w", err)
		}
		changed := 0
		for _, run := range stale {
			msg := fmt.Sprintf("workflow run timed out: no progress since %s (threshold %s)", run.UpdatedAt.UTC().Format(time.RFC3339), staleAfter)
			ok, err := r.Repo.ExpireWorkflowRun(ctx, run.ID, cutoff, map[string]any{
				"error_message": msg,
				"updated_at":    now,
			})
			if err != nil {
				return reaped, fmt.Errorf("fail stale run %s: %w", run.ID, err)
			}
			if !ok {
				continue
			}
			changed++
			if r.Logger != nil {
				r.Logger.Warn("stale workflow run reaped",
					zap.String("run_id", run.ID),
					zap.String("strategy_id", run.StrategyID),
					zap.Time("last_update", run.UpdatedAt),
				)
			}
			if r.Events != nil {
				r.Events.Emit(ctx, "workflow_run_reaped", map[string]any{"run_id": run.ID, "strategy_id": run.StrategyID})
			}
		}
		reaped += changed
		if len(stale) < reapBatch || changed == 0 {
			return reaped, nil
		}
	}
}

// Job adapts Sweep to a scheduler callback.
func (r *Reaper) Job(ctx context.Context) {
	n, err := r.Sweep(ctx)
	if r == nil || r.Logger == nil {
		return
	}
	if err != nil {
		r.Logger.Warn("stale run sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		r.Logger.Info("stale run sweep finished", zap.Int("reaped", n))
	}
}

func (r *Reaper) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}
