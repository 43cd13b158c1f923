package advisor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/shopspring/decimal"
)

// ExpectedRecommendations is the list length the agents are asked for.
const ExpectedRecommendations = 10

var (
	ErrMissingTopStocks       = errors.New("response is missing top_stocks array")
	ErrNoValidRecommendations = errors.New("response has no valid recommendations")
	ErrEmptyResponse          = errors.New("empty agent response")
)

var symbolPattern = regexp.MustCompile(`^[A-Z][A-Z0-9.\-]{0,9}$`)

// Recommendation is the validated form of one top_stocks entry. Price fields
// may be zero when the agent omitted them; the materializer filters those.
type Recommendation struct {
	Symbol             string          `json:"symbol"`
	EntryPrice         decimal.Decimal `json:"entry_price"`
	TargetPrice        decimal.Decimal `json:"target_price"`
	StopLossPrice      decimal.Decimal `json:"stop_loss_price"`
	Reasoning          string          `json:"reasoning"`
	SourceTracing      []string        `json:"source_tracing"`
	TechnicalAnalysis  json.RawMessage `json:"technical_analysis,omitempty"`
	SentimentScore     float64         `json:"sentiment_score"`
	OverallScore       float64         `json:"overall_score"`
	ConfidenceLevel    float64         `json:"confidence_level"`
	ConfidencePct      float64         `json:"confidence_pct"`
	RiskLevel          string          `json:"risk_level"`
	RiskScore          float64         `json:"risk_score"`
	SuccessProbability float64         `json:"success_probability"`
	HitProbabilityPct  float64         `json:"hit_probability_pct"`
	Analysis           string          `json:"analysis,omitempty"`
	RiskAssessment     string          `json:"risk_assessment,omitempty"`

	// Agent names the agent that produced the entry.
	Agent string `json:"agent"`
}

// TechnicalSources returns source names referenced inside technical_analysis.
func (r Recommendation) TechnicalSources() []string {
	if len(r.TechnicalAnalysis) == 0 {
		return nil
	}
	var ta struct {
		Sources []string `json:"sources"`
	}
	if err := json.Unmarshal(r.TechnicalAnalysis, &ta); err != nil {
		return nil
	}
	return ta.Sources
}

type Metadata struct {
	SourcesUsed      []string `json:"sources_used"`
	AnalysisDate     string   `json:"analysis_date,omitempty"`
	StocksConsidered int      `json:"stocks_considered"`
}

// Rejection records a quarantined top_stocks entry.
type Rejection struct {
	Index  int    `json:"index"`
	Symbol string `json:"symbol,omitempty"`
	Reason string `json:"reason"`
}

type Response struct {
	Recommendations []Recommendation `json:"top_stocks"`
	Metadata        Metadata         `json:"metadata"`
	Quarantined     []Rejection      `json:"quarantined,omitempty"`
	// Declared is the raw length of top_stocks before validation.
	Declared int `json:"declared"`
}

type wireResponse struct {
	TopStocks json.RawMessage `json:"top_stocks"`
	Metadata  json.RawMessage `json:"metadata"`
}

type wireMetadata struct {
	SourcesUsed      []string `json:"sources_used"`
	AnalysisDate     string   `json:"analysis_date"`
	StocksConsidered *number  `json:"stocks_considered"`
}

type wireRecommendation struct {
	Symbol             string           `json:"symbol"`
	EntryPrice         *decimal.Decimal `json:"entry_price"`
	TargetPrice        *decimal.Decimal `json:"target_price"`
	StopLossPrice      *decimal.Decimal `json:"stop_loss_price"`
	Reasoning          string           `json:"reasoning"`
	SourceTracing      []string         `json:"source_tracing"`
	TechnicalAnalysis  json.RawMessage  `json:"technical_analysis"`
	SentimentScore     *number          `json:"sentiment_score"`
	OverallScore       *number          `json:"overall_score"`
	ConfidenceLevel    *number          `json:"confidence_level"`
	ConfidencePct      *number          `json:"confidence_pct"`
	RiskLevel          string           `json:"risk_level"`
	RiskScore          *number          `json:"risk_score"`
	SuccessProbability *number          `json:"success_probability"`
	HitProbabilityPct  *number          `json:"hit_probability_pct"`
	Analysis           string           `json:"analysis"`
	RiskAssessment     string           `json:"risk_assessment"`
}

// number accepts JSON numbers and numeric strings.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", string(b))
	}
	*n = number(v)
	return nil
}

// ParseResponse turns raw agent text into a validated Response. Entries that
// fail validation are quarantined rather than failing the call.
func ParseResponse(text, agent string) (Response, error) {
	body := extractJSONObject(text)
	if body == "" {
		return Response{}, ErrEmptyResponse
	}
	if !json.Valid([]byte(body)) {
		repaired, err := jsonrepair.JSONRepair(body)
		if err != nil {
			return Response{}, fmt.Errorf("repair agent json: %w", err)
		}
		body = repaired
	}

	var wire wireResponse
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return Response{}, fmt.Errorf("decode agent json: %w", err)
	}
	trimmed := bytes.TrimSpace(wire.TopStocks)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return Response{}, ErrMissingTopStocks
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return Response{}, ErrMissingTopStocks
	}

	out := Response{Declared: len(entries), Metadata: decodeMetadata(wire.Metadata)}
	for i, raw := range entries {
		rec, err := validateEntry(raw)
		if err != nil {
			out.Quarantined = append(out.Quarantined, Rejection{Index: i, Symbol: rec.Symbol, Reason: err.Error()})
			continue
		}
		rec.Agent = agent
		out.Recommendations = append(out.Recommendations, rec)
	}
	if len(out.Recommendations) == 0 {
		return out, ErrNoValidRecommendations
	}
	return out, nil
}

func decodeMetadata(raw json.RawMessage) Metadata {
	var m wireMetadata
	if len(raw) == 0 || json.Unmarshal(raw, &m) != nil {
		return Metadata{}
	}
	out := Metadata{SourcesUsed: cleanList(m.SourcesUsed), AnalysisDate: strings.TrimSpace(m.AnalysisDate)}
	if m.StocksConsidered != nil {
		out.StocksConsidered = int(*m.StocksConsidered)
	}
	return out
}

func validateEntry(raw json.RawMessage) (Recommendation, error) {
	var w wireRecommendation
	if err := json.Unmarshal(raw, &w); err != nil {
		return Recommendation{}, fmt.Errorf("malformed entry: %v", err)
	}
	rec := Recommendation{
		Symbol:         strings.ToUpper(strings.TrimSpace(w.Symbol)),
		Reasoning:      strings.TrimSpace(w.Reasoning),
		SourceTracing:  cleanList(w.SourceTracing),
		RiskLevel:      strings.ToLower(strings.TrimSpace(w.RiskLevel)),
		Analysis:       strings.TrimSpace(w.Analysis),
		RiskAssessment: strings.TrimSpace(w.RiskAssessment),
	}
	if rec.Symbol == "" {
		return rec, errors.New("missing symbol")
	}
	if !symbolPattern.MatchString(rec.Symbol) {
		return rec, fmt.Errorf("invalid symbol %q", rec.Symbol)
	}
	if w.OverallScore == nil {
		return rec, errors.New("missing overall_score")
	}
	rec.OverallScore = float64(*w.OverallScore)
	if !finite(rec.OverallScore) || rec.OverallScore < 0 {
		return rec, fmt.Errorf("invalid overall_score %v", rec.OverallScore)
	}

	rec.EntryPrice = decOrZero(w.EntryPrice)
	rec.TargetPrice = decOrZero(w.TargetPrice)
	rec.StopLossPrice = decOrZero(w.StopLossPrice)
	rec.SentimentScore = numOrZero(w.SentimentScore)
	rec.RiskScore = numOrZero(w.RiskScore)

	var err error
	if rec.ConfidenceLevel, rec.ConfidencePct, err = unitAndPct("confidence", w.ConfidenceLevel, w.ConfidencePct); err != nil {
		return rec, err
	}
	if rec.SuccessProbability, rec.HitProbabilityPct, err = unitAndPct("success_probability", w.SuccessProbability, w.HitProbabilityPct); err != nil {
		return rec, err
	}

	if ta := bytes.TrimSpace(w.TechnicalAnalysis); len(ta) > 0 && !bytes.Equal(ta, []byte("null")) {
		if ta[0] != '{' {
			return rec, errors.New("technical_analysis is not an object")
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, ta); err != nil {
			return rec, fmt.Errorf("technical_analysis: %v", err)
		}
		rec.TechnicalAnalysis = compact.Bytes()
	}
	return rec, nil
}

// unitAndPct fills the 0-1 and 0-100 forms of a probability from whichever
// the agent supplied. The unit form wins when both are present.
func unitAndPct(field string, unit, pct *number) (float64, float64, error) {
	switch {
	case unit != nil:
		u := float64(*unit)
		if u > 1 && u <= 100 {
			u /= 100
		}
		if !finite(u) || u < 0 || u > 1 {
			return 0, 0, fmt.Errorf("%s out of range", field)
		}
		p := u * 100
		if pct != nil && finite(float64(*pct)) && float64(*pct) >= 0 && float64(*pct) <= 100 {
			p = float64(*pct)
		}
		return u, p, nil
	case pct != nil:
		p := float64(*pct)
		if !finite(p) || p < 0 || p > 100 {
			return 0, 0, fmt.Errorf("%s out of range", field)
		}
		return p / 100, p, nil
	default:
		return 0, 0, nil
	}
}

// extractJSONObject strips code fences and surrounding prose.
func extractJSONObject(text string) string {
	s := strings.TrimSpace(text)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

func cleanList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// SortedUnion merges string lists into a sorted, de-duplicated slice.
func SortedUnion(lists ...[]string) []string {
	seen := map[string]struct{}{}
	for _, l := range lists {
		for _, v := range l {
			if v = strings.TrimSpace(v); v != "" {
				seen[v] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func decOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func numOrZero(n *number) float64 {
	if n == nil || !finite(float64(*n)) {
		return 0
	}
	return float64(*n)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
