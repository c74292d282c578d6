package timectrl

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SimClock is read access to simulation time, so observers can depend on
// a clock rather than the concrete controller.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
	// StepDuration returns the simulated length of one step.
	StepDuration() time.Duration
}

// Mode describes how the TimeController paces simulation steps.
type Mode int

const (
	// RealTime waits for one wall-clock step duration between steps.
	RealTime Mode = iota
	// Accelerated runs steps back to back.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts the String form of a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "realtime", "real-time", "RealTime":
		return RealTime, nil
	case "accelerated", "Accelerated", "":
		return Accelerated, nil
	default:
		return 0, fmt.Errorf("unknown time mode %q", s)
	}
}

// Listener is called once per committed step with the new simulation time
// and the step duration. It must not mutate simulation state.
type Listener func(now time.Time, dt time.Duration)

// TimeController tracks simulation time, paces steps and notifies
// registered listeners after every advance.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Step      time.Duration
	Mode      Mode

	currentTime time.Time
	steps       int

	listeners []Listener
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, step time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Step:        step,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// StepDuration implements SimClock.
func (tc *TimeController) StepDuration() time.Duration {
	return tc.Step
}

// Steps returns how many steps have been advanced since the last Reset.
func (tc *TimeController) Steps() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.steps
}

// SetTime overrides the current simulation time without notifying.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.currentTime = t
}

// Reset rewinds the clock to start.
func (tc *TimeController) Reset(start time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.StartTime = start
	tc.currentTime = start
	tc.steps = 0
}

// AddListener registers a callback invoked after every Advance. Register
// listeners before the run starts.
func (tc *TimeController) AddListener(fn Listener) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Advance moves time forward by one step and notifies listeners
// synchronously, outside the lock.
func (tc *TimeController) Advance() time.Time {
	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(tc.Step)
	tc.steps++
	now := tc.currentTime
	listeners := append([]Listener(nil), tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(now, tc.Step)
	}
	return now
}

// Run calls step up to steps times (forever when steps <= 0), advancing the
// clock after each success. It stops at the first error or when ctx is done;
// a step in progress is never interrupted.
func (tc *TimeController) Run(ctx context.Context, steps int, step func(ctx context.Context) error) error {
	var ticker *time.Ticker
	if tc.Mode == RealTime && tc.Step > 0 {
		ticker = time.NewTicker(tc.Step)
		defer ticker.Stop()
	}

	for i := 0; steps <= 0 || i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ticker != nil && i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		if err := step(ctx); err != nil {
			return err
		}
		tc.Advance()
	}
	return nil
}
