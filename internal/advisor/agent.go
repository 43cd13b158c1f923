package advisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stockadvisor/internal/config"
)

// Call is one outbound completion request.
type Call struct {
	Model       string
	Temperature float64
	MaxTokens   int64
	System      string
	User        string
}

// Provider sends a completion request to a model vendor and returns raw text.
type Provider interface {
	Complete(ctx context.Context, call Call) (string, error)
}

// Agent binds a provider to a fixed model and temperature.
type Agent struct {
	Name        string
	Model       string
	Temperature float64
	MaxTokens   int64
	Timeout     time.Duration
	Provider    Provider
}

// BuildAgents constructs agents from config, sharing one client per vendor.
func BuildAgents(agents []config.AgentConfig, openaiCfg, anthropicCfg config.ProviderConfig) ([]Agent, error) {
	var (
		oa *OpenAIProvider
		an *AnthropicProvider
	)
	out := make([]Agent, 0, len(agents))
	for _, ac := range agents {
		agent := Agent{
			Name:        strings.TrimSpace(ac.Name),
			Model:       strings.TrimSpace(ac.Model),
			Temperature: ac.Temperature,
			MaxTokens:   ac.MaxTokens,
			Timeout:     ac.Timeout,
		}
		if agent.Name == "" {
			agent.Name = agent.Model
		}
		switch strings.ToLower(strings.TrimSpace(ac.Provider)) {
		case "openai":
			if oa == nil {
				oa = NewOpenAIProvider(openaiCfg)
			}
			agent.Provider = oa
		case "anthropic":
			if an == nil {
				an = NewAnthropicProvider(anthropicCfg)
			}
			agent.Provider = an
		default:
			return nil, fmt.Errorf("agent %s: unknown provider %q", agent.Name, ac.Provider)
		}
		out = append(out, agent)
	}
	return out, nil
}
