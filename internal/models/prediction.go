package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PredictionStatusActive    = "active"
	PredictionStatusCompleted = "completed"
	PredictionStatusCancelled = "cancelled"

	PredictionActionPending = "pending"
	PredictionActionEntered = "entered"
	PredictionActionSkipped = "skipped"

	PredictionSourceAI     = "AI"
	PredictionSourceManual = "manual"

	PrivacyPrivate = "private"
	PrivacyPublic  = "public"
)

// Prediction is a persisted recommendation. (workflow_run_id, symbol) is the
// natural key that keeps a replayed materialization from inserting twice.
type Prediction struct {
	ID            string  `gorm:"type:varchar(36);primaryKey"`
	StrategyID    string  `gorm:"type:varchar(36);not null;index:idx_predictions_strategy_state,priority:1"`
	WorkflowRunID *string `gorm:"type:varchar(36);uniqueIndex:idx_predictions_run_symbol,priority:1"`
	Symbol        string  `gorm:"type:varchar(16);not null;uniqueIndex:idx_predictions_run_symbol,priority:2"`

	EntryPrice    decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	TargetPrice   decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	StopLossPrice decimal.Decimal `gorm:"type:numeric(20,6);not null"`

	AllocatedAmount      decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0"`
	TargetReturnPct      decimal.Decimal `gorm:"type:numeric(12,4);not null;default:0"`
	StopLossPct          decimal.Decimal `gorm:"type:numeric(12,4);not null;default:0"`
	StopLossDollarImpact decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0"`

	OverallScore       float64 `gorm:"not null;default:0"`
	ConfidencePct      float64 `gorm:"not null;default:0"`
	SuccessProbability float64 `gorm:"not null;default:0"`
	RiskLevel          string  `gorm:"type:varchar(20)"`
	Reasoning          string  `gorm:"type:text"`

	EvaluationDate time.Time `gorm:"type:timestamptz;not null;index"`

	Status  string `gorm:"type:varchar(20);not null;default:'active';index:idx_predictions_strategy_state,priority:2"`
	Action  string `gorm:"type:varchar(20);not null;default:'pending';index:idx_predictions_strategy_state,priority:3"`
	Source  string `gorm:"type:varchar(20);not null;default:'AI'"`
	Privacy string `gorm:"type:varchar(20);not null;default:'private'"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Prediction) TableName() string {
	return "predictions"
}
