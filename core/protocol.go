package core

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// StepConfig configures one simulated step.
type StepConfig struct {
	// Rounds is the number of relaxation rounds per step. A change
	// propagates at most one counterpart hop per round, so with a single
	// round cyclic exchanges lag one step behind.
	Rounds int
	// Duration is the simulated length of the step.
	Duration time.Duration
	// Parallelism bounds concurrent Iterate calls within a round; values
	// below 2 iterate sequentially.
	Parallelism int
}

func (c StepConfig) Validate() error {
	if c.Rounds < 1 {
		return fmt.Errorf("%w: rounds must be at least 1, got %d", ErrInvalidScenario, c.Rounds)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("%w: step duration must be positive, got %s", ErrInvalidScenario, c.Duration)
	}
	return nil
}

// Initialize resets every element to its initial state at t.
func Initialize(elements []Element, t time.Time) error {
	for _, e := range elements {
		if err := e.Initialize(t); err != nil {
			return err
		}
	}
	return nil
}

// Iterate has every element compute tentative flows. Elements only read
// latched values, so they may run concurrently; the call returns once all
// have finished.
func Iterate(elements []Element, dt time.Duration, parallelism int) error {
	if parallelism < 2 {
		for _, e := range elements {
			if err := e.Iterate(dt); err != nil {
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(parallelism)
	for _, e := range elements {
		g.Go(func() error {
			return e.Iterate(dt)
		})
	}
	return g.Wait()
}

// Latch publishes every element's tentative flows. Call only after Iterate
// has returned for all elements of the round.
func Latch(elements []Element) {
	for _, e := range elements {
		e.Latch()
	}
}

// Commit ticks every element in order. It stops at the first error: a
// failed commit aborts the run.
func Commit(elements []Element, dt time.Duration) error {
	for _, e := range elements {
		if err := e.Tick(dt); err != nil {
			return err
		}
	}
	return nil
}

// Advance tocks every element, promoting staged fields.
func Advance(elements []Element, dt time.Duration) error {
	var errs []error
	for _, e := range elements {
		if err := e.Tock(dt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunStep performs one full step over a local element set: cfg.Rounds
// relaxation rounds, each followed by a latch, then commit and advance.
func RunStep(elements []Element, cfg StepConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	for round := 0; round < cfg.Rounds; round++ {
		if err := Iterate(elements, cfg.Duration, cfg.Parallelism); err != nil {
			return fmt.Errorf("relaxation round %d: %w", round+1, err)
		}
		Latch(elements)
	}
	if err := Commit(elements, cfg.Duration); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if err := Advance(elements, cfg.Duration); err != nil {
		return fmt.Errorf("advance: %w", err)
	}
	return nil
}
