package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	StrategyStatusActive   = "active"
	StrategyStatusPaused   = "paused"
	StrategyStatusArchived = "archived"
)

// Strategy is the user-owned trading configuration a workflow run reads from.
// Ownership and privacy live in the surrounding system; only the fields the
// pipeline consumes are mapped here.
type Strategy struct {
	ID     string `gorm:"type:varchar(36);primaryKey"`
	UserID string `gorm:"type:varchar(36);index"`
	Name   string `gorm:"type:varchar(120);not null"`
	Status string `gorm:"type:varchar(20);not null;default:'active';index"`

	TimeHorizon        string          `gorm:"type:varchar(20);not null;default:'medium'"`
	TargetReturnPct    decimal.Decimal `gorm:"type:numeric(10,4);not null;default:0"`
	RiskLevel          string          `gorm:"type:varchar(20);not null;default:'medium'"`
	MonthlyBudget      decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0"`
	PerStockAllocation decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0"`
	CustomInstructions string          `gorm:"type:text"`

	// Sources holds per-source enable flags, e.g. {"news":true,"reddit":false}.
	Sources datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Strategy) TableName() string {
	return "strategies"
}

const (
	TimeHorizonShort  = "short"
	TimeHorizonMedium = "medium"
	TimeHorizonLong   = "long"

	DefaultHorizonDays = 30
)

var horizonDays = map[string]int{
	TimeHorizonShort:  7,
	TimeHorizonMedium: 30,
	TimeHorizonLong:   90,
}

// HorizonDays maps a time horizon code to its trading window. Unknown codes
// fall back to DefaultHorizonDays.
func HorizonDays(code string) int {
	if d, ok := LookupHorizonDays(code); ok {
		return d
	}
	return DefaultHorizonDays
}

func LookupHorizonDays(code string) (int, bool) {
	d, ok := horizonDays[strings.ToLower(strings.TrimSpace(code))]
	return d, ok
}
