package audit

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"stockadvisor/internal/config"
)

const emitTimeout = 2 * time.Second

// Sink forwards workflow run events to the audit log. Failures are logged at
// debug level and otherwise ignored.
type Sink struct {
	Client *Client
	Agent  string
	Logger *zap.Logger
}

// NewSink returns nil when the audit log is not configured.
func NewSink(cfg config.AuditConfig, logger *zap.Logger) *Sink {
	if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}
	agent := strings.TrimSpace(cfg.Agent)
	if agent == "" {
		agent = "stockadvisor"
	}
	return &Sink{
		Client: &Client{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey},
		Agent:  agent,
		Logger: logger,
	}
}

func (s *Sink) Emit(ctx context.Context, event string, fields map[string]any) {
	if s == nil || s.Client == nil {
		return
	}
	level := "info"
	if strings.HasSuffix(event, "_failed") || strings.HasSuffix(event, "_reaped") {
		level = "warn"
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
	defer cancel()
	err := s.Client.CreateLog(writeCtx, Record{
		Agent:    s.Agent,
		Action:   event,
		Level:    level,
		Details:  fields,
		Metadata: map[string]any{},
	})
	if err != nil && s.Logger != nil {
		s.Logger.Debug("audit emit failed", zap.String("event", event), zap.Error(err))
	}
}
