package advisor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

type fakeProvider struct {
	text  string
	err   error
	delay time.Duration
	calls int32
	seen  chan Call
}

func (f *fakeProvider) Complete(ctx context.Context, call Call) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.seen != nil {
		f.seen <- call
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func okText(symbol string, score float64) string {
	return fmt.Sprintf(`{"top_stocks":[{"symbol":%q,"entry_price":100,"target_price":110,"stop_loss_price":95,"overall_score":%v}],"metadata":{"sources_used":["news"]}}`, symbol, score)
}

func agentsFor(providers ...*fakeProvider) []Agent {
	temps := []float64{0.2, 0.5, 0.8, 1.0}
	out := make([]Agent, 0, len(providers))
	for i, p := range providers {
		out = append(out, Agent{
			Name:        fmt.Sprintf("agent-%d", i),
			Model:       fmt.Sprintf("model-%d", i),
			Temperature: temps[i%len(temps)],
			Timeout:     time.Second,
			Provider:    p,
		})
	}
	return out
}

func TestNewOrchestrator_RequiresThreeAgents(t *testing.T) {
	if _, err := NewOrchestrator(agentsFor(&fakeProvider{}, &fakeProvider{}), nil); !errors.Is(err, ErrAgentCount) {
		t.Fatalf("err=%v want=%v", err, ErrAgentCount)
	}
}

func TestOrchestrator_SuccessCounts(t *testing.T) {
	failing := func() *fakeProvider { return &fakeProvider{err: errors.New("boom")} }
	ok := func(sym string) *fakeProvider { return &fakeProvider{text: okText(sym, 7)} }

	cases := []struct {
		name      string
		providers []*fakeProvider
		succeeded int
		wantErr   error
	}{
		{"none", []*fakeProvider{failing(), failing(), failing()}, 0, ErrAllAgentsFailed},
		{"one", []*fakeProvider{failing(), ok("AAPL"), failing()}, 1, nil},
		{"two", []*fakeProvider{ok("AAPL"), failing(), ok("MSFT")}, 2, nil},
		{"three", []*fakeProvider{ok("AAPL"), ok("MSFT"), ok("NVDA")}, 3, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o, err := NewOrchestrator(agentsFor(tc.providers...), nil)
			if err != nil {
				t.Fatalf("NewOrchestrator: %v", err)
			}
			out, err := o.Run(context.Background(), Request{})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err=%v want=%v", err, tc.wantErr)
			}
			if got := out.Succeeded(); got != tc.succeeded {
				t.Fatalf("succeeded=%d want=%d", got, tc.succeeded)
			}
			if len(out.Results) != 3 {
				t.Fatalf("results=%d want=3", len(out.Results))
			}
			for i, p := range tc.providers {
				if atomic.LoadInt32(&p.calls) != 1 {
					t.Fatalf("provider %d calls=%d want=1", i, p.calls)
				}
			}
		})
	}
}

func TestOrchestrator_MissingTopStocksCountsAsFailure(t *testing.T) {
	providers := []*fakeProvider{
		{text: `{"metadata":{}}`},
		{text: `{"top_stocks":[{"symbol":"AAPL"}]}`},
		{text: okText("NVDA", 8.5)},
	}
	o, _ := NewOrchestrator(agentsFor(providers...), nil)
	out, err := o.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Succeeded() != 1 {
		t.Fatalf("succeeded=%d want=1", out.Succeeded())
	}
	if !errors.Is(out.Results[0].Err, ErrMissingTopStocks) {
		t.Fatalf("result[0].Err=%v", out.Results[0].Err)
	}
	if !errors.Is(out.Results[1].Err, ErrNoValidRecommendations) {
		t.Fatalf("result[1].Err=%v", out.Results[1].Err)
	}
	succ := out.Successful()
	if len(succ) != 1 || succ[0].Agent != "agent-2" || succ[0].Recommendations[0].Agent != "agent-2" {
		t.Fatalf("successful=%+v", succ)
	}
}

func TestOrchestrator_WaitsForSlowSiblings(t *testing.T) {
	providers := []*fakeProvider{
		{err: errors.New("fast failure")},
		{text: okText("AAPL", 9), delay: 50 * time.Millisecond},
		{text: okText("MSFT", 8), delay: 80 * time.Millisecond},
	}
	o, _ := NewOrchestrator(agentsFor(providers...), nil)
	out, err := o.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Succeeded() != 2 {
		t.Fatalf("succeeded=%d want=2", out.Succeeded())
	}
}

func TestOrchestrator_CallerCancelDoesNotReachCalls(t *testing.T) {
	providers := []*fakeProvider{
		{text: okText("AAPL", 9), delay: 30 * time.Millisecond},
		{text: okText("MSFT", 8), delay: 30 * time.Millisecond},
		{text: okText("NVDA", 7), delay: 30 * time.Millisecond},
	}
	o, _ := NewOrchestrator(agentsFor(providers...), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := o.Run(ctx, Request{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Succeeded() != 3 {
		t.Fatalf("succeeded=%d want=3", out.Succeeded())
	}
}

func TestOrchestrator_PerCallTimeout(t *testing.T) {
	providers := []*fakeProvider{
		{text: okText("AAPL", 9), delay: time.Second},
		{text: okText("MSFT", 8)},
		{text: okText("NVDA", 7)},
	}
	agents := agentsFor(providers...)
	agents[0].Timeout = 20 * time.Millisecond
	o, _ := NewOrchestrator(agents, nil)
	out, err := o.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !errors.Is(out.Results[0].Err, context.DeadlineExceeded) {
		t.Fatalf("result[0].Err=%v want deadline exceeded", out.Results[0].Err)
	}
	if out.Succeeded() != 2 {
		t.Fatalf("succeeded=%d want=2", out.Succeeded())
	}
}

func TestOrchestrator_PassesModelAndTemperature(t *testing.T) {
	seen := make(chan Call, 3)
	providers := []*fakeProvider{
		{text: okText("AAPL", 9), seen: seen},
		{text: okText("MSFT", 8), seen: seen},
		{text: okText("NVDA", 7), seen: seen},
	}
	o, _ := NewOrchestrator(agentsFor(providers...), nil)
	if _, err := o.Run(context.Background(), Request{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	close(seen)
	models := map[string]float64{}
	var user string
	for c := range seen {
		models[c.Model] = c.Temperature
		if user == "" {
			user = c.User
		} else if user != c.User {
			t.Fatalf("agents received different user instructions")
		}
		if c.System == "" {
			t.Fatalf("system instruction missing")
		}
	}
	if len(models) != 3 || models["model-2"] != 0.8 {
		t.Fatalf("models=%v", models)
	}
}
