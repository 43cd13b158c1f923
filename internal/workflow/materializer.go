package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stockadvisor/internal/advisor"
	"stockadvisor/internal/budget"
	"stockadvisor/internal/models"
	"stockadvisor/internal/repository"
)

// DefaultMaterializeTop is how many ranked candidates become predictions.
const DefaultMaterializeTop = 3

var hundred = decimal.NewFromInt(100)

type MaterializeInput struct {
	RunID      string
	Strategy   models.Strategy
	Budget     budget.Snapshot
	Candidates []advisor.Recommendation
}

type SkippedCandidate struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

type MaterializeResult struct {
	Created []models.Prediction `json:"created"`
	Skipped []SkippedCandidate  `json:"skipped"`
	// Existing counts candidates already persisted for the same run.
	Existing int `json:"existing"`
}

// Derived holds the financial fields computed for one candidate.
type Derived struct {
	TargetReturnPct      decimal.Decimal
	StopLossPct          decimal.Decimal
	StopLossDollarImpact decimal.Decimal
}

type Materializer struct {
	Repo   repository.PredictionRepository
	Logger *zap.Logger

	Top int
	// EnforceBudget caps persisted predictions at the budget's available slots
	// and persists none when the budget is exhausted.
	EnforceBudget      bool
	DefaultHorizonDays int

	Now   func() time.Time
	NewID func() string
}

// Materialize persists the top-ranked valid candidates as pending predictions.
// Invalid candidates are skipped and logged; only write errors are returned.
func (m *Materializer) Materialize(ctx context.Context, in MaterializeInput) (MaterializeResult, error) {
	var res MaterializeResult
	if m == nil || m.Repo == nil {
		return res, fmt.Errorf("workflow materializer not configured")
	}

	top := m.Top
	if top <= 0 {
		top = DefaultMaterializeTop
	}
	ranked := make([]advisor.Recommendation, len(in.Candidates))
	copy(ranked, in.Candidates)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].OverallScore > ranked[j].OverallScore })
	if len(ranked) > top {
		ranked = ranked[:top]
	}

	limit := len(ranked)
	if m.EnforceBudget {
		switch {
		case !in.Budget.HasBudget:
			limit = 0
		case in.Budget.AvailableSlots < int64(limit):
			limit = int(in.Budget.AvailableSlots)
		}
	}

	now := m.now()
	evaluation := now.AddDate(0, 0, m.HorizonDays(in.Strategy.TimeHorizon))
	alloc := in.Strategy.PerStockAllocation
	persisted := 0

	for _, c := range ranked {
		symbol := strings.ToUpper(strings.TrimSpace(c.Symbol))
		if reason := invalidReason(symbol, c); reason != "" {
			m.skip(&res, in.RunID, symbol, reason)
			continue
		}
		if persisted >= limit {
			m.skip(&res, in.RunID, symbol, "budget exhausted")
			continue
		}

		d := DeriveFields(c.EntryPrice, c.TargetPrice, c.StopLossPrice, alloc)
		p := models.Prediction{
			ID:                   m.newID(),
			StrategyID:           in.Strategy.ID,
			WorkflowRunID:        runRef(in.RunID),
			Symbol:               symbol,
			EntryPrice:           c.EntryPrice,
			TargetPrice:          c.TargetPrice,
			StopLossPrice:        c.StopLossPrice,
			AllocatedAmount:      alloc,
			TargetReturnPct:      d.TargetReturnPct,
			StopLossPct:          d.StopLossPct,
			StopLossDollarImpact: d.StopLossDollarImpact,
			OverallScore:         c.OverallScore,
			ConfidencePct:        c.ConfidencePct,
			SuccessProbability:   c.SuccessProbability,
			RiskLevel:            c.RiskLevel,
			Reasoning:            c.Reasoning,
			EvaluationDate:       evaluation,
			Status:               models.PredictionStatusActive,
			Action:               models.PredictionActionPending,
			Source:               models.PredictionSourceAI,
			Privacy:              models.PrivacyPrivate,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		inserted, err := m.Repo.InsertPrediction(ctx, &p)
		if err != nil {
			return res, fmt.Errorf("insert prediction %s: %w", symbol, err)
		}
		persisted++
		if !inserted {
			res.Existing++
			if m.Logger != nil {
				m.Logger.Info("prediction already materialized", zap.String("run_id", in.RunID), zap.String("symbol", symbol))
			}
			continue
		}
		res.Created = append(res.Created, p)
	}
	return res, nil
}

// DeriveFields computes return, stop-loss and dollar-at-risk figures. entry
// must be positive.
func DeriveFields(entry, target, stop, allocated decimal.Decimal) Derived {
	if !entry.IsPositive() {
		return Derived{}
	}
	return Derived{
		TargetReturnPct:      target.Sub(entry).Div(entry).Mul(hundred).Round(4),
		StopLossPct:          entry.Sub(stop).Div(entry).Mul(hundred).Round(4),
		StopLossDollarImpact: entry.Sub(stop).Mul(allocated).Div(entry).Round(4),
	}
}

func invalidReason(symbol string, c advisor.Recommendation) string {
	switch {
	case symbol == "":
		return "missing symbol"
	case !c.EntryPrice.IsPositive():
		return "entry_price missing or non-positive"
	case !c.TargetPrice.IsPositive():
		return "target_price missing or non-positive"
	case !c.StopLossPrice.IsPositive():
		return "stop_loss_price missing or non-positive"
	}
	return ""
}

func (m *Materializer) skip(res *MaterializeResult, runID, symbol, reason string) {
	res.Skipped = append(res.Skipped, SkippedCandidate{Symbol: symbol, Reason: reason})
	if m.Logger != nil {
		m.Logger.Warn("prediction candidate skipped",
			zap.String("run_id", runID),
			zap.String("symbol", symbol),
			zap.String("reason", reason),
		)
	}
}

// HorizonDays resolves the evaluation window for a horizon code, using
// DefaultHorizonDays for unknown codes.
func (m *Materializer) HorizonDays(code string) int {
	if d, ok := models.LookupHorizonDays(code); ok {
		return d
	}
	if m != nil && m.DefaultHorizonDays > 0 {
		return m.DefaultHorizonDays
	}
	return models.DefaultHorizonDays
}

func (m *Materializer) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *Materializer) newID() string {
	if m.NewID != nil {
		return m.NewID()
	}
	return uuid.NewString()
}

func runRef(runID string) *string {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil
	}
	return &runID
}
