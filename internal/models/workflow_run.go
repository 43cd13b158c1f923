package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// WorkflowRun is one pipeline execution for a strategy. The partial unique
// index allows a single open (pending or running) run per execution id.
type WorkflowRun struct {
	ID          string  `gorm:"type:varchar(36);primaryKey"`
	StrategyID  string  `gorm:"type:varchar(36);not null;index;uniqueIndex:idx_workflow_runs_open_execution,priority:1,where:status <> 'completed' AND status <> 'failed'"`
	ExecutionID *string `gorm:"type:varchar(128);index;uniqueIndex:idx_workflow_runs_open_execution,priority:2"`
	Status      string  `gorm:"type:varchar(20);not null;default:'pending';index"`

	InputData      datatypes.JSON `gorm:"type:jsonb"`
	AIAnalysis     datatypes.JSON `gorm:"type:jsonb"`
	JSONOutput     datatypes.JSON `gorm:"type:jsonb"`
	MarkdownOutput string         `gorm:"type:text"`
	ErrorMessage   string         `gorm:"type:text"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime;index"`
}

func (WorkflowRun) TableName() string {
	return "workflow_runs"
}

func IsTerminalRunStatus(status string) bool {
	return status == RunStatusCompleted || status == RunStatusFailed
}
