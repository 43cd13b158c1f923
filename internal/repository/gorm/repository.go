package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stockadvisor/internal/models"
	"stockadvisor/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

var _ repository.Repository = (*Store)(nil)

// --- strategies -------------------------------------------------------------

func (s *Store) GetStrategyByID(ctx context.Context, id string) (*models.Strategy, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	var item models.Strategy
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// --- predictions ------------------------------------------------------------

func (s *Store) InsertPrediction(ctx context.Context, item *models.Prediction) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "workflow_run_id"}, {Name: "symbol"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) ListPredictions(ctx context.Context, params repository.ListPredictionsParams) ([]models.Prediction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Prediction{})
	if id := strings.TrimSpace(params.StrategyID); id != "" {
		query = query.Where("strategy_id = ?", id)
	}
	if params.WorkflowRunID != nil && strings.TrimSpace(*params.WorkflowRunID) != "" {
		query = query.Where("workflow_run_id = ?", strings.TrimSpace(*params.WorkflowRunID))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("LOWER(status) = ?", strings.ToLower(strings.TrimSpace(*params.Status)))
	}
	if params.Action != nil && strings.TrimSpace(*params.Action) != "" {
		query = query.Where("LOWER(action) = ?", strings.ToLower(strings.TrimSpace(*params.Action)))
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at", predictionOrderColumns)
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Prediction
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CommittedSpend(ctx context.Context, strategyID string) (repository.Spend, error) {
	var out repository.Spend
	if s == nil || s.db == nil {
		return out, nil
	}
	var row struct {
		Total   decimal.Decimal
		Entered int64
	}
	err := s.db.WithContext(ctx).
		Model(&models.Prediction{}).
		Select("COALESCE(SUM(allocated_amount), 0) AS total, COUNT(*) AS entered").
		Where("strategy_id = ?", strings.TrimSpace(strategyID)).
		Where("LOWER(status) = ?", models.PredictionStatusActive).
		Where("LOWER(action) = ?", models.PredictionActionEntered).
		Scan(&row).Error
	if err != nil {
		return out, err
	}
	out.Total = row.Total
	out.Entered = int(row.Entered)
	return out, nil
}

// --- workflow runs ----------------------------------------------------------

func (s *Store) InsertWorkflowRun(ctx context.Context, item *models.WorkflowRun) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetWorkflowRunByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	var item models.WorkflowRun
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) FindOpenWorkflowRun(ctx context.Context, strategyID string, executionID *string) (*models.WorkflowRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	strategyID = strings.TrimSpace(strategyID)
	if strategyID == "" {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.WorkflowRun{}).
		Where("strategy_id = ?", strategyID).
		Where("status IN ?", []string{models.RunStatusPending, models.RunStatusRunning})
	if executionID != nil {
		query = query.Where("execution_id = ?", *executionID)
	}
	var item models.WorkflowRun
	err := query.Order("created_at desc").First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) TransitionWorkflowRun(ctx context.Context, id string, from []string, to string, updates map[string]any) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	id = strings.TrimSpace(id)
	if id == "" || len(from) == 0 {
		return false, nil
	}
	values := map[string]any{}
	for k, v := range updates {
		values[k] = v
	}
	values["status"] = to
	res := s.db.WithContext(ctx).
		Model(&models.WorkflowRun{}).
		Where("id = ?", id).
		Where("status IN ?", from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) ExpireWorkflowRun(ctx context.Context, id string, cutoff time.Time, updates map[string]any) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}
	values := map[string]any{}
	for k, v := range updates {
		values[k] = v
	}
	values["status"] = models.RunStatusFailed
	res := s.db.WithContext(ctx).
		Model(&models.WorkflowRun{}).
		Where("id = ?", id).
		Where("status = ?", models.RunStatusRunning).
		Where("updated_at < ?", cutoff).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) ListWorkflowRuns(ctx context.Context, params repository.ListWorkflowRunsParams) ([]models.WorkflowRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.WorkflowRun{})
	if params.StrategyID != nil && strings.TrimSpace(*params.StrategyID) != "" {
		query = query.Where("strategy_id = ?", strings.TrimSpace(*params.StrategyID))
	}
	if params.ExecutionID != nil && strings.TrimSpace(*params.ExecutionID) != "" {
		query = query.Where("execution_id = ?", strings.TrimSpace(*params.ExecutionID))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.UpdatedBefore != nil && !params.UpdatedBefore.IsZero() {
		query = query.Where("updated_at < ?", *params.UpdatedBefore)
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at", runOrderColumns)
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.WorkflowRun
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers ----------------------------------------------------------------

var (
	predictionOrderColumns = map[string]bool{"created_at": true, "overall_score": true, "evaluation_date": true, "symbol": true}
	runOrderColumns        = map[string]bool{"created_at": true, "updated_at": true, "status": true}
)

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string, allowed map[string]bool) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" || !allowed[column] {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
