package advisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FanOut is the number of agents consulted per run.
const FanOut = 3

const defaultAgentTimeout = 2 * time.Minute

var (
	ErrAllAgentsFailed = errors.New("all agents failed")
	ErrAgentCount      = fmt.Errorf("orchestrator requires exactly %d agents", FanOut)
)

// AgentResult is the tagged outcome of one agent call.
type AgentResult struct {
	Agent           string
	Model           string
	Temperature     float64
	Recommendations []Recommendation
	Metadata        Metadata
	Quarantined     []Rejection
	Declared        int
	Duration        time.Duration
	Err             error
}

func (r AgentResult) OK() bool { return r.Err == nil }

// AgentSummary is the persisted form of an AgentResult.
type AgentSummary struct {
	Agent            string      `json:"agent"`
	Model            string      `json:"model"`
	Temperature      float64     `json:"temperature"`
	Status           string      `json:"status"`
	Error            string      `json:"error,omitempty"`
	Declared         int         `json:"declared"`
	Accepted         int         `json:"accepted"`
	Quarantined      []Rejection `json:"quarantined,omitempty"`
	DurationMS       int64       `json:"duration_ms"`
	SourcesUsed      []string    `json:"sources_used,omitempty"`
	StocksConsidered int         `json:"stocks_considered,omitempty"`
}

// Outcome holds every agent's result in configured agent order.
type Outcome struct {
	Results []AgentResult
}

func (o Outcome) Succeeded() int {
	n := 0
	for _, r := range o.Results {
		if r.OK() {
			n++
		}
	}
	return n
}

// Successful returns successful results in agent order.
func (o Outcome) Successful() []AgentResult {
	out := make([]AgentResult, 0, len(o.Results))
	for _, r := range o.Results {
		if r.OK() {
			out = append(out, r)
		}
	}
	return out
}

func (o Outcome) Summary() []AgentSummary {
	out := make([]AgentSummary, 0, len(o.Results))
	for _, r := range o.Results {
		s := AgentSummary{
			Agent:            r.Agent,
			Model:            r.Model,
			Temperature:      r.Temperature,
			Status:           "succeeded",
			Declared:         r.Declared,
			Accepted:         len(r.Recommendations),
			Quarantined:      r.Quarantined,
			DurationMS:       r.Duration.Milliseconds(),
			SourcesUsed:      r.Metadata.SourcesUsed,
			StocksConsidered: r.Metadata.StocksConsidered,
		}
		if r.Err != nil {
			s.Status = "failed"
			s.Error = r.Err.Error()
		}
		out = append(out, s)
	}
	return out
}

type Orchestrator struct {
	Agents []Agent
	Logger *zap.Logger
}

func NewOrchestrator(agents []Agent, logger *zap.Logger) (*Orchestrator, error) {
	if len(agents) != FanOut {
		return nil, ErrAgentCount
	}
	for _, a := range agents {
		if a.Provider == nil {
			return nil, fmt.Errorf("agent %s has no provider", a.Name)
		}
	}
	return &Orchestrator{Agents: agents, Logger: logger}, nil
}

// Run calls every agent concurrently and waits for all of them. A failed call
// never cancels its siblings, and the caller's cancellation does not reach an
// in-flight call; each call is bounded only by its own timeout.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Outcome, error) {
	if o == nil || len(o.Agents) == 0 {
		return Outcome{}, ErrAgentCount
	}
	system, user, err := BuildPrompt(req)
	if err != nil {
		return Outcome{}, err
	}

	detached := context.WithoutCancel(ctx)
	results := make([]AgentResult, len(o.Agents))
	var g errgroup.Group
	for i := range o.Agents {
		agent := o.Agents[i]
		g.Go(func() error {
			results[i] = o.call(detached, agent, system, user)
			return nil
		})
	}
	_ = g.Wait()

	outcome := Outcome{Results: results}
	for _, r := range results {
		if r.Err != nil {
			o.logWarn("agent call failed", zap.String("agent", r.Agent), zap.String("model", r.Model), zap.Duration("duration", r.Duration), zap.Error(r.Err))
			continue
		}
		if r.Declared != ExpectedRecommendations {
			o.logWarn("agent returned unexpected recommendation count", zap.String("agent", r.Agent), zap.Int("declared", r.Declared), zap.Int("expected", ExpectedRecommendations))
		}
		if len(r.Quarantined) > 0 {
			o.logWarn("agent entries quarantined", zap.String("agent", r.Agent), zap.Int("quarantined", len(r.Quarantined)))
		}
	}
	if outcome.Succeeded() == 0 {
		return outcome, ErrAllAgentsFailed
	}
	return outcome, nil
}

func (o *Orchestrator) call(ctx context.Context, agent Agent, system, user string) (res AgentResult) {
	res = AgentResult{Agent: agent.Name, Model: agent.Model, Temperature: agent.Temperature}
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("agent %s panicked: %v", agent.Name, p)
		}
		res.Duration = time.Since(start)
	}()

	timeout := agent.Timeout
	if timeout <= 0 {
		timeout = defaultAgentTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := agent.Provider.Complete(callCtx, Call{
		Model:       agent.Model,
		Temperature: agent.Temperature,
		MaxTokens:   agent.MaxTokens,
		System:      system,
		User:        user,
	})
	if err != nil {
		res.Err = err
		return res
	}
	parsed, err := ParseResponse(text, agent.Name)
	res.Declared = parsed.Declared
	res.Quarantined = parsed.Quarantined
	res.Metadata = parsed.Metadata
	if err != nil {
		res.Err = err
		return res
	}
	res.Recommendations = parsed.Recommendations
	return res
}

func (o *Orchestrator) logWarn(msg string, fields ...zap.Field) {
	if o.Logger != nil {
		o.Logger.Warn(msg, fields...)
	}
}
