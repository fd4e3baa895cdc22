package keyadd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goliatone/go-paygrants/core"
)

var ErrStepOutOfOrder = errors.New("keyadd: step cannot start")

// ProgressListener receives a copy of the whole step feed after every change.
type ProgressListener func(steps []core.ProgressStep)

// Tracker holds the progress feed of one key-add run. At most one step is
// active at a time.
type Tracker struct {
	mu        sync.Mutex
	steps     []core.ProgressStep
	listeners []ProgressListener
}

func NewTracker(defs []StepDefinition, listeners ...ProgressListener) *Tracker {
	steps := make([]core.ProgressStep, 0, len(defs))
	for _, def := range defs {
		steps = append(steps, core.ProgressStep{
			Name:        def.Name,
			Status:      core.StepStatusPending,
			MaxDuration: def.MaxDuration,
		})
	}
	tracker := &Tracker{steps: steps}
	for _, listener := range listeners {
		if listener != nil {
			tracker.listeners = append(tracker.listeners, listener)
		}
	}
	return tracker
}

func (t *Tracker) Steps() []core.ProgressStep {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]core.ProgressStep(nil), t.steps...)
}

// Run executes fn as the named step under the step's deadline.
func (t *Tracker) Run(ctx context.Context, surface core.SurfaceID, name string, fn func(context.Context) error) error {
	step, err := t.start(name)
	if err != nil {
		return err
	}

	stepCtx := ctx
	cancel := func() {}
	if step.MaxDuration > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, step.MaxDuration)
	}
	runErr := fn(stepCtx)
	overran := runErr != nil && ctx.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded)
	cancel()

	if runErr == nil {
		t.finish(name, core.StepStatusSuccess, "")
		return nil
	}
	if overran {
		runErr = &core.TimeoutError{Operation: "key_add: " + name, SurfaceID: surface, After: step.MaxDuration}
	}
	t.finish(name, core.StepStatusError, runErr.Error())
	return runErr
}

// SkipRemaining marks every step that never ran as skipped.
func (t *Tracker) SkipRemaining() {
	t.mu.Lock()
	changed := false
	for i := range t.steps {
		if t.steps[i].Status == core.StepStatusPending || t.steps[i].Status == core.StepStatusActive {
			t.steps[i].Status = core.StepStatusSkipped
			changed = true
		}
	}
	snapshot, listeners := t.snapshotLocked()
	t.mu.Unlock()
	if changed {
		notify(listeners, snapshot)
	}
}

func (t *Tracker) start(name string) (core.ProgressStep, error) {
	t.mu.Lock()
	index := -1
	for i, step := range t.steps {
		if step.Status == core.StepStatusActive {
			t.mu.Unlock()
			return core.ProgressStep{}, fmt.Errorf("%w: %q is still active", ErrStepOutOfOrder, step.Name)
		}
		if step.Name == name {
			index = i
		}
	}
	if index < 0 {
		t.mu.Unlock()
		return core.ProgressStep{}, fmt.Errorf("%w: unknown step %q", ErrStepOutOfOrder, name)
	}
	if t.steps[index].Status != core.StepStatusPending {
		status := t.steps[index].Status
		t.mu.Unlock()
		return core.ProgressStep{}, fmt.Errorf("%w: %q is %s", ErrStepOutOfOrder, name, status)
	}
	t.steps[index].Status = core.StepStatusActive
	step := t.steps[index]
	snapshot, listeners := t.snapshotLocked()
	t.mu.Unlock()
	notify(listeners, snapshot)
	return step, nil
}

func (t *Tracker) finish(name string, status core.StepStatus, message string) {
	t.mu.Lock()
	for i := range t.steps {
		if t.steps[i].Name == name && t.steps[i].Status == core.StepStatusActive {
			t.steps[i].Status = status
			t.steps[i].Error = message
			break
		}
	}
	snapshot, listeners := t.snapshotLocked()
	t.mu.Unlock()
	notify(listeners, snapshot)
}

func (t *Tracker) snapshotLocked() ([]core.ProgressStep, []ProgressListener) {
	return append([]core.ProgressStep(nil), t.steps...), append([]ProgressListener(nil), t.listeners...)
}

func notify(listeners []ProgressListener, steps []core.ProgressStep) {
	for _, listener := range listeners {
		listener(append([]core.ProgressStep(nil), steps...))
	}
}
