package handler

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"stockadvisor/internal/models"
)

func intQuery(c *gin.Context, key string, def int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

func strQueryPtr(c *gin.Context, key string) *string {
	if val := strings.TrimSpace(c.Query(key)); val != "" {
		return &val
	}
	return nil
}

// paginationMeta reports a next page whenever the current page came back full.
func paginationMeta(limit, offset, count int) map[string]any {
	if limit <= 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	return map[string]any{
		"limit":    limit,
		"offset":   offset,
		"count":    count,
		"has_next": limit > 0 && count >= limit,
	}
}

func boolPtr(v bool) *bool { return &v }

type runView struct {
	ID             string          `json:"id"`
	StrategyID     string          `json:"strategy_id"`
	ExecutionID    *string         `json:"execution_id,omitempty"`
	Status         string          `json:"status"`
	InputData      json.RawMessage `json:"input_data,omitempty"`
	AIAnalysis     json.RawMessage `json:"ai_analysis,omitempty"`
	JSONOutput     json.RawMessage `json:"json_output,omitempty"`
	MarkdownOutput string          `json:"markdown_output,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func toRunView(run models.WorkflowRun) runView {
	return runView{
		ID:             run.ID,
		StrategyID:     run.StrategyID,
		ExecutionID:    run.ExecutionID,
		Status:         run.Status,
		InputData:      rawOrNil(run.InputData),
		AIAnalysis:     rawOrNil(run.AIAnalysis),
		JSONOutput:     rawOrNil(run.JSONOutput),
		MarkdownOutput: run.MarkdownOutput,
		ErrorMessage:   run.ErrorMessage,
		CreatedAt:      run.CreatedAt,
		UpdatedAt:      run.UpdatedAt,
	}
}

// runSummary drops the large payload columns for list responses.
func runSummary(run models.WorkflowRun) runView {
	return runView{
		ID:           run.ID,
		StrategyID:   run.StrategyID,
		ExecutionID:  run.ExecutionID,
		Status:       run.Status,
		ErrorMessage: run.ErrorMessage,
		CreatedAt:    run.CreatedAt,
		UpdatedAt:    run.UpdatedAt,
	}
}

func rawOrNil(b []byte) json.RawMessage {
	if len(b) == 0 || !json.Valid(b) {
		return nil
	}
	return json.RawMessage(b)
}

type predictionView struct {
	ID                   string          `json:"id"`
	StrategyID           string          `json:"strategy_id"`
	WorkflowRunID        *string         `json:"workflow_run_id,omitempty"`
	Symbol               string          `json:"symbol"`
	EntryPrice           decimal.Decimal `json:"entry_price"`
	TargetPrice          decimal.Decimal `json:"target_price"`
	StopLossPrice        decimal.Decimal `json:"stop_loss_price"`
	AllocatedAmount      decimal.Decimal `json:"allocated_amount"`
	TargetReturnPct      decimal.Decimal `json:"target_return_pct"`
	StopLossPct          decimal.Decimal `json:"stop_loss_pct"`
	StopLossDollarImpact decimal.Decimal `json:"stop_loss_dollar_impact"`
	OverallScore         float64         `json:"overall_score"`
	ConfidencePct        float64         `json:"confidence_pct"`
	SuccessProbability   float64         `json:"success_probability"`
	RiskLevel            string          `json:"risk_level,omitempty"`
	Reasoning            string          `json:"reasoning,omitempty"`
	EvaluationDate       time.Time       `json:"evaluation_date"`
	Status               string          `json:"status"`
	Action               string          `json:"action"`
	Source               string          `json:"source"`
	Privacy              string          `json:"privacy"`
	CreatedAt            time.Time       `json:"created_at"`
}

func toPredictionViews(items []models.Prediction) []predictionView {
	out := make([]predictionView, 0, len(items))
	for _, p := range items {
		out = append(out, predictionView{
			ID:                   p.ID,
			StrategyID:           p.StrategyID,
			WorkflowRunID:        p.WorkflowRunID,
			Symbol:               p.Symbol,
			EntryPrice:           p.EntryPrice,
			TargetPrice:          p.TargetPrice,
			StopLossPrice:        p.StopLossPrice,
			AllocatedAmount:      p.AllocatedAmount,
			TargetReturnPct:      p.TargetReturnPct,
			StopLossPct:          p.StopLossPct,
			StopLossDollarImpact: p.StopLossDollarImpact,
			OverallScore:         p.OverallScore,
			ConfidencePct:        p.ConfidencePct,
			SuccessProbability:   p.SuccessProbability,
			RiskLevel:            p.RiskLevel,
			Reasoning:            p.Reasoning,
			EvaluationDate:       p.EvaluationDate,
			Status:               p.Status,
			Action:               p.Action,
			Source:               p.Source,
			Privacy:              p.Privacy,
			CreatedAt:            p.CreatedAt,
		})
	}
	return out
}
