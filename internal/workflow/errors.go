package workflow

import (
	"errors"

	"stockadvisor/internal/advisor"
)

var (
	ErrStrategyNotFound  = errors.New("strategy not found")
	ErrStrategyInactive  = errors.New("strategy is not active")
	ErrAllAgentsFailed   = advisor.ErrAllAgentsFailed
	ErrNoRecommendations = errors.New("no recommendations")
	ErrInvalidTransition = errors.New("invalid workflow run transition")
	ErrRunNotFound       = errors.New("workflow run not found")
	ErrInvalidOutput     = errors.New("invalid workflow output")
)

// RunError ties a fatal pipeline error to the run it failed.
type RunError struct {
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *RunError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RunIDFromError returns the run id carried by err, if any.
func RunIDFromError(err error) string {
	var re *RunError
	if errors.As(err, &re) {
		return re.RunID
	}
	return ""
}
