package workflow

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"stockadvisor/internal/budget"
	"stockadvisor/internal/models"
	"stockadvisor/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
type stubRepo struct {
	mu          sync.Mutex
	strategies  map[string]models.Strategy
	predictions []models.Prediction
	runs        map[string]*models.WorkflowRun
	runOrder    []string

	// transitionErr, when set, fails every status transition.
	transitionErr error
	insertPredErr error
}

func newStubRepo(strategies ...models.Strategy) *stubRepo {
	r := &stubRepo{strategies: map[string]models.Strategy{}, runs: map[string]*models.WorkflowRun{}}
	for _, s := range strategies {
		r.strategies[s.ID] = s
	}
	return r
}

var _ repository.Repository = (*stubRepo)(nil)

func (s *stubRepo) GetStrategyByID(ctx context.Context, id string) (*models.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.strategies[id]
	if !ok {
		return nil, nil
	}
	return &it, nil
}

func (s *stubRepo) InsertPrediction(ctx context.Context, item *models.Prediction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertPredErr != nil {
		return false, s.insertPredErr
	}
	if item.WorkflowRunID != nil {
		for _, p := range s.predictions {
			if p.WorkflowRunID != nil && *p.WorkflowRunID == *item.WorkflowRunID && p.Symbol == item.Symbol {
				return false, nil
			}
		}
	}
	s.predictions = append(s.predictions, *item)
	return true, nil
}

func (s *stubRepo) ListPredictions(ctx context.Context, params repository.ListPredictionsParams) ([]models.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Prediction
	for _, p := range s.predictions {
		if params.StrategyID != "" && p.StrategyID != params.StrategyID {
			continue
		}
		if params.WorkflowRunID != nil && (p.WorkflowRunID == nil || *p.WorkflowRunID != *params.WorkflowRunID) {
			continue
		}
		if params.Status != nil && !strings.EqualFold(p.Status, *params.Status) {
			continue
		}
		if params.Action != nil && !strings.EqualFold(p.Action, *params.Action) {
			continue
		}
		out = append(out, p)
	}
	// Newest rows win the window, as with created_at desc in the store.
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[len(out)-params.Limit:]
	}
	return out, nil
}

func (s *stubRepo) CommittedSpend(ctx context.Context, strategyID string) (repository.Spend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	spend := repository.Spend{Total: decimal.Zero}
	for _, p := range s.predictions {
		if p.StrategyID != strategyID || !budget.IsCommitted(p) {
			continue
		}
		spend.Total = spend.Total.Add(p.AllocatedAmount)
		spend.Entered++
	}
	return spend, nil
}

func (s *stubRepo) InsertWorkflowRun(ctx context.Context, item *models.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[item.ID]; ok {
		return errors.New("duplicate run id")
	}
	cp := *item
	s.runs[item.ID] = &cp
	s.runOrder = append(s.runOrder, item.ID)
	return nil
}

func (s *stubRepo) GetWorkflowRunByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (s *stubRepo) FindOpenWorkflowRun(ctx context.Context, strategyID string, executionID *string) (*models.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		run := s.runs[s.runOrder[i]]
		if run.StrategyID != strategyID || models.IsTerminalRunStatus(run.Status) {
			continue
		}
		if executionID != nil && (run.ExecutionID == nil || *run.ExecutionID != *executionID) {
			continue
		}
		cp := *run
		return &cp, nil
	}
	return nil, nil
}

func (s *stubRepo) TransitionWorkflowRun(ctx context.Context, id string, from []string, to string, updates map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transitionErr != nil {
		return false, s.transitionErr
	}
	run, ok := s.runs[id]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, f := range from {
		if run.Status == f {
			allowed = true
		}
	}
	if !allowed {
		return false, nil
	}
	applyRunUpdates(run, updates)
	run.Status = to
	return true, nil
}

func (s *stubRepo) ExpireWorkflowRun(ctx context.Context, id string, cutoff time.Time, updates map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transitionErr != nil {
		return false, s.transitionErr
	}
	run, ok := s.runs[id]
	if !ok || run.Status != models.RunStatusRunning || !run.UpdatedAt.Before(cutoff) {
		return false, nil
	}
	applyRunUpdates(run, updates)
	run.Status = models.RunStatusFailed
	return true, nil
}

func (s *stubRepo) ListWorkflowRuns(ctx context.Context, params repository.ListWorkflowRunsParams) ([]models.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WorkflowRun
	for _, id := range s.runOrder {
		run := s.runs[id]
		if params.StrategyID != nil && run.StrategyID != *params.StrategyID {
			continue
		}
		if params.ExecutionID != nil && (run.ExecutionID == nil || *run.ExecutionID != *params.ExecutionID) {
			continue
		}
		if params.Status != nil && run.Status != *params.Status {
			continue
		}
		if params.UpdatedBefore != nil && !run.UpdatedAt.Before(*params.UpdatedBefore) {
			continue
		}
		out = append(out, *run)
	}
	switch params.OrderBy {
	case "updated_at":
		sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	case "created_at":
		if params.Asc == nil || !*params.Asc {
			for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func (s *stubRepo) run(id string) models.WorkflowRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[id]; ok {
		return *r
	}
	return models.WorkflowRun{}
}

func (s *stubRepo) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

func (s *stubRepo) predictionsFor(runID string) []models.Prediction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Prediction
	for _, p := range s.predictions {
		if p.WorkflowRunID != nil && *p.WorkflowRunID == runID {
			out = append(out, p)
		}
	}
	return out
}

func applyRunUpdates(run *models.WorkflowRun, updates map[string]any) {
	for k, v := range updates {
		switch k {
		case "input_data":
			run.InputData = toJSON(v)
		case "ai_analysis":
			run.AIAnalysis = toJSON(v)
		case "json_output":
			run.JSONOutput = toJSON(v)
		case "markdown_output":
			run.MarkdownOutput, _ = v.(string)
		case "error_message":
			run.ErrorMessage, _ = v.(string)
		case "status":
			run.Status, _ = v.(string)
		case "updated_at":
			if t, ok := v.(time.Time); ok {
				run.UpdatedAt = t
			}
		}
	}
}

func toJSON(v any) datatypes.JSON {
	switch x := v.(type) {
	case datatypes.JSON:
		return x
	case []byte:
		return datatypes.JSON(x)
	case string:
		return datatypes.JSON(x)
	}
	return nil
}
