// Package action runs assistant action plans against the device automation
// service one step at a time.
package action

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/screenpilot/internal/domain"
	"github.com/ashureev/screenpilot/internal/state"
)

// DefaultSettleDelay is the pause between two automation steps.
const DefaultSettleDelay = 300 * time.Millisecond

// Automation performs a single action on the device.
type Automation interface {
	ExecuteAction(ctx context.Context, a domain.Action) domain.ActionResult
}

// Outcome pairs an executed action with its result.
type Outcome struct {
	Action domain.Action
	Result domain.ActionResult
}

// Executor executes action plans sequentially.
type Executor struct {
	automation  Automation
	ui          *state.Cell[domain.UIState]
	settleDelay time.Duration
	logger      *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithSettleDelay overrides DefaultSettleDelay.
func WithSettleDelay(d time.Duration) Option {
	return func(e *Executor) { e.settleDelay = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an executor that reports the current step on ui.
func NewExecutor(automation Automation, ui *state.Cell[domain.UIState], opts ...Option) *Executor {
	e := &Executor{
		automation:  automation,
		ui:          ui,
		settleDelay: DefaultSettleDelay,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs every non-conversational action of plan in order. A failed or
// unconfirmed step does not stop the plan. Only ctx cancellation ends it
// early; the outcomes gathered so far are returned together with ctx.Err().
func (e *Executor) Execute(ctx context.Context, plan []domain.Action) ([]Outcome, error) {
	defer e.setCurrentAction("")

	steps := make([]domain.Action, 0, len(plan))
	for _, a := range plan {
		if a == nil || domain.IsConversational(a) {
			continue
		}
		steps = append(steps, a)
	}
	if len(steps) == 0 {
		return nil, nil
	}

	outcomes := make([]Outcome, 0, len(steps))
	for i, a := range steps {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		e.setCurrentAction(a.Describe())
		result := e.run(ctx, a)
		outcomes = append(outcomes, Outcome{Action: a, Result: result})

		switch r := result.(type) {
		case domain.Success:
			e.logger.Info("action executed", "step", i+1, "of", len(steps), "kind", a.Kind(), "result", r.Description)
		case domain.Failure:
			e.logger.Warn("action failed, continuing", "step", i+1, "of", len(steps), "kind", a.Kind(), "reason", r.Reason)
		case domain.NeedsConfirmation:
			e.logger.Warn("action needs confirmation, continuing", "step", i+1, "of", len(steps), "kind", a.Kind(), "reason", r.Reason)
		}

		if err := sleep(ctx, e.settleDelay); err != nil {
			return outcomes, err
		}
	}
	return outcomes, nil
}

// run converts a missing result or a panicking collaborator into a Failure.
func (e *Executor) run(ctx context.Context, a domain.Action) (result domain.ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("automation panicked", "kind", a.Kind(), "panic", r)
			result = domain.Failure{Reason: "automation service error"}
		}
	}()
	result = e.automation.ExecuteAction(ctx, a)
	if result == nil {
		result = domain.Failure{Reason: "no result from automation service"}
	}
	return result
}

func (e *Executor) setCurrentAction(s string) {
	if e.ui == nil {
		return
	}
	e.ui.Update(func(u domain.UIState) domain.UIState {
		u.CurrentAction = s
		return u
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
