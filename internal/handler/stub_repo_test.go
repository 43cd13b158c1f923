package handler

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

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

	lastPredParams repository.ListPredictionsParams
	lastRunParams  repository.ListWorkflowRunsParams
}

func newStubRepo() *stubRepo {
	return &stubRepo{strategies: map[string]models.Strategy{}, runs: map[string]*models.WorkflowRun{}}
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
	s.predictions = append(s.predictions, *item)
	return true, nil
}

func (s *stubRepo) ListPredictions(ctx context.Context, params repository.ListPredictionsParams) ([]models.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPredParams = params
	var out []models.Prediction
	for _, p := range s.predictions {
		if params.StrategyID != "" && p.StrategyID != params.StrategyID {
			continue
		}
		if params.Status != nil && p.Status != *params.Status {
			continue
		}
		if params.Action != nil && p.Action != *params.Action {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *stubRepo) CommittedSpend(ctx context.Context, strategyID string) (repository.Spend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	spend := repository.Spend{Total: decimal.Zero}
	for _, p := range s.predictions {
		if p.StrategyID == strategyID && budget.IsCommitted(p) {
			spend.Total = spend.Total.Add(p.AllocatedAmount)
			spend.Entered++
		}
	}
	return spend, nil
}

func (s *stubRepo) InsertWorkflowRun(ctx context.Context, item *models.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	return nil, nil
}

func (s *stubRepo) TransitionWorkflowRun(ctx context.Context, id string, from []string, to string, updates map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if run.Status == f {
			run.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (s *stubRepo) ExpireWorkflowRun(ctx context.Context, id string, cutoff time.Time, updates map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.Status != models.RunStatusRunning || !run.UpdatedAt.Before(cutoff) {
		return false, nil
	}
	run.Status = models.RunStatusFailed
	return true, nil
}

func (s *stubRepo) ListWorkflowRuns(ctx context.Context, params repository.ListWorkflowRunsParams) ([]models.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRunParams = params
	var out []models.WorkflowRun
	for _, id := range s.runOrder {
		run := s.runs[id]
		if params.StrategyID != nil && run.StrategyID != *params.StrategyID {
			continue
		}
		if params.Status != nil && run.Status != *params.Status {
			continue
		}
		out = append(out, *run)
	}
	return out, nil
}

func (s *stubRepo) setStatus(id, status string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		run.Status = status
		run.UpdatedAt = at
	}
}
