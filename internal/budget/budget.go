package budget

import (
	"strings"

	"github.com/shopspring/decimal"

	"stockadvisor/internal/models"
)

var hundred = decimal.NewFromInt(100)

// Snapshot is the budget context handed to the agents and to the materializer.
type Snapshot struct {
	MonthlyBudget      decimal.Decimal `json:"monthly_budget"`
	CurrentSpend       decimal.Decimal `json:"current_spend"`
	RemainingBudget    decimal.Decimal `json:"remaining_budget"`
	PerStockAllocation decimal.Decimal `json:"per_stock_allocation"`
	AvailableSlots     int64           `json:"available_slots"`
	UtilizationPct     decimal.Decimal `json:"utilization_pct"`
	HasBudget          bool            `json:"has_budget"`
	EnteredPositions   int             `json:"entered_positions"`
}

// Compute derives the snapshot from the strategy and its prediction set. Spend
// is summed from active entered predictions on every call.
func Compute(strategy models.Strategy, predictions []models.Prediction) Snapshot {
	spend := decimal.Zero
	entered := 0
	for _, p := range predictions {
		if p.StrategyID != "" && strategy.ID != "" && p.StrategyID != strategy.ID {
			continue
		}
		if !IsCommitted(p) {
			continue
		}
		spend = spend.Add(p.AllocatedAmount)
		entered++
	}
	return FromSpend(strategy, spend, entered)
}

// FromSpend derives the snapshot from an already aggregated spend. hasBudget
// requires room for at least one full allocation when the allocation is set.
func FromSpend(strategy models.Strategy, spend decimal.Decimal, entered int) Snapshot {
	monthly := strategy.MonthlyBudget
	alloc := strategy.PerStockAllocation
	remaining := monthly.Sub(spend)

	var slots int64
	if alloc.IsPositive() && remaining.IsPositive() {
		slots = remaining.Div(alloc).Floor().IntPart()
	}

	utilization := decimal.Zero
	if monthly.IsPositive() {
		utilization = spend.Div(monthly).Mul(hundred).Round(2)
	}

	return Snapshot{
		MonthlyBudget:      monthly,
		CurrentSpend:       spend,
		RemainingBudget:    remaining,
		PerStockAllocation: alloc,
		AvailableSlots:     slots,
		UtilizationPct:     utilization,
		HasBudget:          remaining.IsPositive() && (!alloc.IsPositive() || remaining.GreaterThanOrEqual(alloc)),
		EnteredPositions:   entered,
	}
}

// IsCommitted reports whether a prediction counts toward spend.
func IsCommitted(p models.Prediction) bool {
	return strings.EqualFold(p.Status, models.PredictionStatusActive) &&
		strings.EqualFold(p.Action, models.PredictionActionEntered)
}
