package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"stockadvisor/internal/models"
)

// StrategyRepository reads strategy rows. The schema is owned by the wider
// application; this service only reads it.
type StrategyRepository interface {
	GetStrategyByID(ctx context.Context, id string) (*models.Strategy, error)
}

type PredictionRepository interface {
	// InsertPrediction reports false when the natural key already exists.
	InsertPrediction(ctx context.Context, item *models.Prediction) (bool, error)
	ListPredictions(ctx context.Context, params ListPredictionsParams) ([]models.Prediction, error)
	// CommittedSpend aggregates allocated_amount over every active entered
	// prediction of the strategy. It is not paged.
	CommittedSpend(ctx context.Context, strategyID string) (Spend, error)
}

// Spend is the aggregate behind a budget snapshot.
type Spend struct {
	Total   decimal.Decimal
	Entered int
}

type WorkflowRunRepository interface {
	InsertWorkflowRun(ctx context.Context, item *models.WorkflowRun) error
	GetWorkflowRunByID(ctx context.Context, id string) (*models.WorkflowRun, error)
	// FindOpenWorkflowRun returns the newest pending or running run for the
	// strategy. A nil executionID matches any execution id.
	FindOpenWorkflowRun(ctx context.Context, strategyID string, executionID *string) (*models.WorkflowRun, error)
	// TransitionWorkflowRun moves a run to status `to` only while its current
	// status is one of `from`. It reports whether a row changed.
	TransitionWorkflowRun(ctx context.Context, id string, from []string, to string, updates map[string]any) (bool, error)
	// ExpireWorkflowRun fails a running run only while its updated_at is still
	// before cutoff. It reports whether a row changed.
	ExpireWorkflowRun(ctx context.Context, id string, cutoff time.Time, updates map[string]any) (bool, error)
	ListWorkflowRuns(ctx context.Context, params ListWorkflowRunsParams) ([]models.WorkflowRun, error)
}

// Repository is the unified store used by the workflow pipeline and handlers.
type Repository interface {
	StrategyRepository
	PredictionRepository
	WorkflowRunRepository
}

type ListPredictionsParams struct {
	StrategyID    string
	WorkflowRunID *string
	Status        *string
	Action        *string
	Limit         int
	Offset        int
	OrderBy       string
	Asc           *bool
}

type ListWorkflowRunsParams struct {
	StrategyID    *string
	ExecutionID   *string
	Status        *string
	UpdatedBefore *time.Time
	Limit         int
	Offset        int
	OrderBy       string
	Asc           *bool
}
