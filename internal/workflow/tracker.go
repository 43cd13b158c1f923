package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"stockadvisor/internal/models"
	"stockadvisor/internal/repository"
)

const defaultFailureWriteTimeout = 5 * time.Second

// EventSink receives run lifecycle events. Delivery is best-effort.
type EventSink interface {
	Emit(ctx context.Context, event string, fields map[string]any)
}

// Tracker owns WorkflowRun status transitions. Every transition is a guarded
// single-row update, so a run can only move forward:
// pending -> running -> completed|failed, or pending -> failed.
type Tracker struct {
	Repo   repository.WorkflowRunRepository
	Logger *zap.Logger
	Events EventSink

	FailureWriteTimeout time.Duration
	Now                 func() time.Time
}

// Open returns the open run for (strategyID, executionID), inserting a pending
// run when none exists. The boolean reports whether an existing run was reused.
func (t *Tracker) Open(ctx context.Context, strategyID string, executionID *string) (*models.WorkflowRun, bool, error) {
	if t == nil || t.Repo == nil {
		return nil, false, fmt.Errorf("workflow tracker not configured")
	}
	executionID = normalizeExecutionID(executionID)
	existing, err := t.Repo.FindOpenWorkflowRun(ctx, strategyID, executionID)
	if err != nil {
		return nil, false, fmt.Errorf("find open run: %w", err)
	}
	if existing != nil {
		return existing, true, nil
	}

	now := t.now()
	run := &models.WorkflowRun{
		ID:          uuid.NewString(),
		StrategyID:  strategyID,
		ExecutionID: executionID,
		Status:      models.RunStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.Repo.InsertWorkflowRun(ctx, run); err != nil {
		// A concurrent caller may have opened the same execution first.
		if executionID != nil {
			if again, ferr := t.Repo.FindOpenWorkflowRun(ctx, strategyID, executionID); ferr == nil && again != nil {
				return again, true, nil
			}
		}
		return nil, false, fmt.Errorf("insert run: %w", err)
	}
	return run, false, nil
}

// Start moves a pending run to running, or refreshes a run that is already
// running, recording the prepared input when given.
func (t *Tracker) Start(ctx context.Context, runID string, input []byte) error {
	updates := map[string]any{}
	if len(input) > 0 {
		updates["input_data"] = datatypes.JSON(input)
	}
	return t.transition(ctx, runID, []string{models.RunStatusPending, models.RunStatusRunning}, models.RunStatusRunning, updates)
}

// Checkpoint records intermediate fields on a running run and bumps its
// last-update time.
func (t *Tracker) Checkpoint(ctx context.Context, runID string, fields map[string]any) error {
	return t.transition(ctx, runID, []string{models.RunStatusRunning}, models.RunStatusRunning, fields)
}

func (t *Tracker) Complete(ctx context.Context, runID string, fields map[string]any) error {
	if err := t.transition(ctx, runID, []string{models.RunStatusRunning}, models.RunStatusCompleted, fields); err != nil {
		return err
	}
	t.emit(ctx, "workflow_run_completed", map[string]any{"run_id": runID})
	return nil
}

// Fail records cause on a non-terminal run. It runs on a context detached from
// the caller's cancellation with its own timeout, and its own error is only
// logged and returned for inspection; callers keep reporting cause.
func (t *Tracker) Fail(ctx context.Context, runID string, cause error, extra map[string]any) error {
	if t == nil || t.Repo == nil || strings.TrimSpace(runID) == "" || cause == nil {
		return nil
	}
	timeout := t.FailureWriteTimeout
	if timeout <= 0 {
		timeout = defaultFailureWriteTimeout
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	fields := map[string]any{}
	for k, v := range extra {
		fields[k] = v
	}
	fields["error_message"] = cause.Error()
	err := t.transition(writeCtx, runID, []string{models.RunStatusPending, models.RunStatusRunning}, models.RunStatusFailed, fields)
	if err != nil {
		if t.Logger != nil {
			t.Logger.Warn("record run failure failed",
				zap.String("run_id", runID),
				zap.NamedError("cause", cause),
				zap.Error(err),
			)
		}
		return err
	}
	if t.Logger != nil {
		t.Logger.Warn("workflow run failed", zap.String("run_id", runID), zap.Error(cause))
	}
	t.emit(writeCtx, "workflow_run_failed", map[string]any{"run_id": runID, "error": cause.Error()})
	return nil
}

func (t *Tracker) transition(ctx context.Context, runID string, from []string, to string, fields map[string]any) error {
	if t == nil || t.Repo == nil {
		return fmt.Errorf("workflow tracker not configured")
	}
	updates := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["updated_at"] = t.now()
	ok, err := t.Repo.TransitionWorkflowRun(ctx, runID, from, to, updates)
	if err != nil {
		return fmt.Errorf("run %s -> %s: %w", runID, to, err)
	}
	if ok {
		return nil
	}
	current, gerr := t.Repo.GetWorkflowRunByID(ctx, runID)
	if gerr != nil {
		return fmt.Errorf("run %s -> %s: %w", runID, to, gerr)
	}
	if current == nil {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return fmt.Errorf("%w: %s is %s, cannot move to %s", ErrInvalidTransition, runID, current.Status, to)
}

func (t *Tracker) emit(ctx context.Context, event string, fields map[string]any) {
	if t.Events != nil {
		t.Events.Emit(ctx, event, fields)
	}
}

func (t *Tracker) now() time.Time {
	if t != nil && t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

func normalizeExecutionID(id *string) *string {
	if id == nil {
		return nil
	}
	v := strings.TrimSpace(*id)
	if v == "" {
		return nil
	}
	return &v
}
