package advisor

import (
	"errors"
	"strings"
	"testing"
)

func TestParseResponse_ValidatesAndQuarantines(t *testing.T) {
	text := "```json\n" + `{
  "top_stocks": [
    {"symbol": "aapl", "entry_price": 150, "target_price": "165", "stop_loss_price": 142.5, "overall_score": 8.2,
     "confidence_level": 0.8, "success_probability": 0.7, "source_tracing": ["news", "news", "technical"],
     "technical_analysis": {"trend": "up", "sources": ["rsi"]}},
    {"symbol": "", "overall_score": 9},
    {"symbol": "MSFT", "confidence_pct": 75},
    {"symbol": "NVDA", "overall_score": "7.5", "hit_probability_pct": 64},
    {"symbol": "BAD SYMBOL", "overall_score": 5}
  ],
  "metadata": {"sources_used": ["news"], "analysis_date": "2026-10-18", "stocks_considered": 40}
}` + "\n```"

	resp, err := ParseResponse(text, "analyst-precise")
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.Declared != 5 {
		t.Fatalf("declared=%d want=5", resp.Declared)
	}
	if len(resp.Recommendations) != 2 {
		t.Fatalf("accepted=%d want=2", len(resp.Recommendations))
	}
	if len(resp.Quarantined) != 3 {
		t.Fatalf("quarantined=%d want=3", len(resp.Quarantined))
	}
	aapl := resp.Recommendations[0]
	if aapl.Symbol != "AAPL" || aapl.Agent != "analyst-precise" {
		t.Fatalf("aapl=%+v", aapl)
	}
	if aapl.TargetPrice.String() != "165" {
		t.Fatalf("target=%s want=165", aapl.TargetPrice)
	}
	if aapl.ConfidencePct != 80 {
		t.Fatalf("confidence_pct=%v want=80", aapl.ConfidencePct)
	}
	if len(aapl.SourceTracing) != 2 {
		t.Fatalf("source_tracing=%v want de-duplicated", aapl.SourceTracing)
	}
	if got := aapl.TechnicalSources(); len(got) != 1 || got[0] != "rsi" {
		t.Fatalf("technical sources=%v", got)
	}
	nvda := resp.Recommendations[1]
	if nvda.OverallScore != 7.5 || nvda.SuccessProbability != 0.64 {
		t.Fatalf("nvda=%+v", nvda)
	}
	if !nvda.EntryPrice.IsZero() {
		t.Fatalf("missing entry should decode as zero")
	}
	if resp.Metadata.StocksConsidered != 40 {
		t.Fatalf("stocks_considered=%d want=40", resp.Metadata.StocksConsidered)
	}
}

func TestParseResponse_MissingTopStocksIsFailure(t *testing.T) {
	cases := []string{
		`{"metadata": {}}`,
		`{"top_stocks": {"symbol": "AAPL"}}`,
		`{"top_stocks": "none"}`,
	}
	for _, c := range cases {
		if _, err := ParseResponse(c, "a"); !errors.Is(err, ErrMissingTopStocks) {
			t.Fatalf("input=%s err=%v want=%v", c, err, ErrMissingTopStocks)
		}
	}
}

func TestParseResponse_AllEntriesInvalid(t *testing.T) {
	_, err := ParseResponse(`{"top_stocks": [{"symbol": "AAPL"}]}`, "a")
	if !errors.Is(err, ErrNoValidRecommendations) {
		t.Fatalf("err=%v want=%v", err, ErrNoValidRecommendations)
	}
}

func TestParseResponse_RepairsTrailingComma(t *testing.T) {
	text := `Here you go: {"top_stocks": [{"symbol": "TSLA", "overall_score": 6.1,},],}`
	resp, err := ParseResponse(text, "a")
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(resp.Recommendations) != 1 || resp.Recommendations[0].Symbol != "TSLA" {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestParseResponse_Empty(t *testing.T) {
	if _, err := ParseResponse("  no json here ", "a"); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err=%v want=%v", err, ErrEmptyResponse)
	}
}

func TestBuildPrompt_Deterministic(t *testing.T) {
	req := Request{Strategy: StrategySnapshot{ID: "s1", Name: "Growth", TimeHorizon: "medium"}}
	req.Sources.Enabled = map[string]bool{"reddit": true, "news": true, "twitter": false}
	sys1, user1, err := BuildPrompt(req)
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}
	sys2, user2, _ := BuildPrompt(req)
	if sys1 != sys2 || user1 != user2 {
		t.Fatalf("prompt is not deterministic")
	}
	if !strings.Contains(user1, "## ACTIVE PREDICTIONS\n[]") {
		t.Fatalf("active predictions section missing:\n%s", user1)
	}
	if strings.Index(user1, `"news"`) > strings.Index(user1, `"reddit"`) {
		t.Fatalf("source flags should serialize in key order")
	}
}
