package advisor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stockadvisor/internal/budget"
	"stockadvisor/internal/sources"
)

// StrategySnapshot is the immutable view of a strategy taken at run start.
type StrategySnapshot struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	TimeHorizon        string          `json:"time_horizon"`
	TargetReturnPct    decimal.Decimal `json:"target_return_pct"`
	RiskLevel          string          `json:"risk_level"`
	PerStockAllocation decimal.Decimal `json:"per_stock_allocation"`
	CustomInstructions string          `json:"custom_instructions,omitempty"`
}

// Position is an active prediction as shown to the agents.
type Position struct {
	Symbol          string          `json:"symbol"`
	Action          string          `json:"action"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	TargetPrice     decimal.Decimal `json:"target_price"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price"`
	AllocatedAmount decimal.Decimal `json:"allocated_amount"`
	EvaluationDate  time.Time       `json:"evaluation_date"`
}

// Request is the prepared context every agent receives.
type Request struct {
	Strategy          StrategySnapshot `json:"strategy"`
	Budget            budget.Snapshot  `json:"budget"`
	Sources           sources.Bundle   `json:"sources"`
	ActivePredictions []Position       `json:"active_predictions"`
}

const systemInstruction = `You are a disciplined equity research analyst.
You receive a trading strategy, its budget, market and sentiment source data,
and the positions already open for the strategy. Recommend stocks that fit the
strategy's horizon, risk level and target return. Do not recommend symbols
that already have an open position. Respond with a single JSON object and
nothing else.`

const outputSchema = `{
  "top_stocks": [
    {
      "symbol": "TICKER",
      "entry_price": 0.0,
      "target_price": 0.0,
      "stop_loss_price": 0.0,
      "reasoning": "why this stock fits the strategy",
      "source_tracing": ["source names the reasoning relies on"],
      "technical_analysis": {"trend": "", "support": 0.0, "resistance": 0.0, "sources": []},
      "sentiment_score": 0.0,
      "overall_score": 0.0,
      "confidence_level": 0.0,
      "confidence_pct": 0,
      "risk_level": "low|medium|high",
      "risk_score": 0.0,
      "success_probability": 0.0,
      "hit_probability_pct": 0,
      "analysis": "",
      "risk_assessment": ""
    }
  ],
  "metadata": {"sources_used": [], "analysis_date": "YYYY-MM-DD", "stocks_considered": 0}
}`

// BuildPrompt renders the fixed system instruction and the user instruction.
// Identical requests always produce identical text.
func BuildPrompt(req Request) (string, string, error) {
	var b strings.Builder
	sections := []struct {
		title string
		value any
	}{
		{"STRATEGY", req.Strategy},
		{"BUDGET", req.Budget},
		{"SOURCES", req.Sources},
		{"ACTIVE PREDICTIONS", nonNilPositions(req.ActivePredictions)},
	}
	for _, s := range sections {
		raw, err := json.MarshalIndent(s.value, "", "  ")
		if err != nil {
			return "", "", fmt.Errorf("serialize %s: %w", strings.ToLower(s.title), err)
		}
		b.WriteString("## ")
		b.WriteString(s.title)
		b.WriteString("\n")
		b.Write(raw)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "## OUTPUT\nReturn exactly %d objects in top_stocks, ordered by overall_score descending (0-10 scale), using this schema:\n", ExpectedRecommendations)
	b.WriteString(outputSchema)
	b.WriteString("\n")
	return systemInstruction, b.String(), nil
}

func nonNilPositions(in []Position) []Position {
	if in == nil {
		return []Position{}
	}
	return in
}
