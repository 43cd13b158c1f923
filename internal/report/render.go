package report

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"stockadvisor/internal/advisor"
	"stockadvisor/internal/budget"
	"stockadvisor/internal/models"
	"stockadvisor/internal/ranking"
	"stockadvisor/internal/sources"
)

var hundred = decimal.NewFromInt(100)

type Input struct {
	Strategy advisor.StrategySnapshot
	Budget   budget.Snapshot
	Merged   ranking.Result
	Sources  sources.Bundle
	// AnalysisDate is rendered as given; Render never reads the clock.
	AnalysisDate string
	// HorizonDays is the window predictions are written with. Zero falls back
	// to the strategy's horizon code.
	HorizonDays int
}

// Structured is the machine-readable report. Its top_stocks key matches the
// agent response schema so the report can be fed back to the materializer.
type Structured struct {
	Strategy  advisor.StrategySnapshot `json:"strategy"`
	Budget    budget.Snapshot          `json:"budget"`
	TopStocks []advisor.Recommendation `json:"top_stocks"`
	Metadata  Metadata                 `json:"metadata"`
}

type Metadata struct {
	SourcesUsed      []string `json:"sources_used"`
	EnabledSources   []string `json:"enabled_sources"`
	AnalysisDate     string   `json:"analysis_date,omitempty"`
	StocksConsidered int      `json:"stocks_considered"`
	Considered       []string `json:"considered"`
	Agents           []string `json:"agents"`
	Duplicates       int      `json:"duplicates"`
	HorizonDays      int      `json:"horizon_days"`
}

// Render is a pure function: identical input yields identical output.
func Render(in Input) (Structured, string) {
	top := make([]advisor.Recommendation, len(in.Merged.Recommendations))
	copy(top, in.Merged.Recommendations)

	structured := Structured{
		Strategy:  in.Strategy,
		Budget:    in.Budget,
		TopStocks: top,
		Metadata: Metadata{
			SourcesUsed:      nonNil(in.Merged.SourcesUsed),
			EnabledSources:   nonNil(in.Sources.EnabledNames()),
			AnalysisDate:     in.AnalysisDate,
			StocksConsidered: len(in.Merged.Considered),
			Considered:       nonNil(in.Merged.Considered),
			Agents:           nonNil(in.Merged.Agents),
			Duplicates:       in.Merged.Duplicates,
			HorizonDays:      horizonDays(in),
		},
	}
	return structured, markdown(structured)
}

func horizonDays(in Input) int {
	if in.HorizonDays > 0 {
		return in.HorizonDays
	}
	return models.HorizonDays(in.Strategy.TimeHorizon)
}

func markdown(s Structured) string {
	var b strings.Builder
	name := s.Strategy.Name
	if name == "" {
		name = s.Strategy.ID
	}
	fmt.Fprintf(&b, "# Stock recommendations: %s\n\n", name)
	if s.Metadata.AnalysisDate != "" {
		fmt.Fprintf(&b, "_Analysis date: %s_\n\n", s.Metadata.AnalysisDate)
	}

	if len(s.TopStocks) > 0 {
		pick := s.TopStocks[0]
		move := expectedMovePct(pick)
		b.WriteString("## Top pick\n\n")
		fmt.Fprintf(&b, "**%s %s** (score %s/10)\n\n", actionFor(pick), pick.Symbol, score(pick.OverallScore))
		if pick.Reasoning != "" {
			fmt.Fprintf(&b, "%s\n\n", pick.Reasoning)
		}
		fmt.Fprintf(&b, "- Risk: %s\n", orDash(pick.RiskLevel))
		fmt.Fprintf(&b, "- Expected move: %s%%\n", move.StringFixed(2))
		fmt.Fprintf(&b, "- Horizon: %s (%d days)\n\n", orDash(s.Strategy.TimeHorizon), s.Metadata.HorizonDays)
	}

	b.WriteString("## Budget\n\n")
	fmt.Fprintf(&b, "- Monthly budget: $%s\n", s.Budget.MonthlyBudget.StringFixed(2))
	fmt.Fprintf(&b, "- Current spend: $%s (%s%%)\n", s.Budget.CurrentSpend.StringFixed(2), s.Budget.UtilizationPct.StringFixed(2))
	fmt.Fprintf(&b, "- Remaining: $%s\n", s.Budget.RemainingBudget.StringFixed(2))
	fmt.Fprintf(&b, "- Per-stock allocation: $%s\n", s.Budget.PerStockAllocation.StringFixed(2))
	fmt.Fprintf(&b, "- Available slots: %d\n\n", s.Budget.AvailableSlots)

	b.WriteString("## Ranked recommendations\n\n")
	for i, r := range s.TopStocks {
		fmt.Fprintf(&b, "### %d. %s (score %s)\n\n", i+1, r.Symbol, score(r.OverallScore))
		fmt.Fprintf(&b, "| Entry | Target | Stop loss | Confidence | Success probability | Risk |\n")
		fmt.Fprintf(&b, "|---|---|---|---|---|---|\n")
		fmt.Fprintf(&b, "| $%s | $%s | $%s | %s%% | %s%% | %s |\n\n",
			r.EntryPrice.StringFixed(2),
			r.TargetPrice.StringFixed(2),
			r.StopLossPrice.StringFixed(2),
			pct(r.ConfidencePct),
			pct(r.HitProbabilityPct),
			orDash(r.RiskLevel),
		)
		if r.Reasoning != "" {
			fmt.Fprintf(&b, "%s\n\n", r.Reasoning)
		}
		if r.RiskAssessment != "" {
			fmt.Fprintf(&b, "_Risk assessment:_ %s\n\n", r.RiskAssessment)
		}
	}

	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "Sources: %s\n", joinOrNone(s.Metadata.SourcesUsed))
	fmt.Fprintf(&b, "Enabled inputs: %s\n", joinOrNone(s.Metadata.EnabledSources))
	fmt.Fprintf(&b, "Agents: %s\n", joinOrNone(s.Metadata.Agents))
	fmt.Fprintf(&b, "Symbols considered: %d\n", s.Metadata.StocksConsidered)
	return b.String()
}

func expectedMovePct(r advisor.Recommendation) decimal.Decimal {
	if !r.EntryPrice.IsPositive() {
		return decimal.Zero
	}
	return r.TargetPrice.Sub(r.EntryPrice).Div(r.EntryPrice).Mul(hundred)
}

func actionFor(r advisor.Recommendation) string {
	if r.EntryPrice.IsPositive() && r.TargetPrice.LessThan(r.EntryPrice) {
		return "SELL"
	}
	return "BUY"
}

func score(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(1)
}

func pct(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(0)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
