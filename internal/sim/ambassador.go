package sim

import (
	"context"
	"time"

	"github.com/signalsfoundry/infrastructure-simulator/core"
)

// Ambassador advances the simulation for the elements it owns. It may run
// everything in process or coordinate with remote federates; the Simulator
// only relies on Advance having applied every owned element's commit and
// advance exactly once when it returns.
type Ambassador interface {
	// Connect joins the named federation under the given federate identity.
	Connect(ctx context.Context, federation, federate string) error
	// Initialize resets the owned elements to the scenario's start time and
	// fixes the rounds per step and the step duration.
	Initialize(ctx context.Context, scenario *core.Scenario, rounds int, step time.Duration) error
	// Advance performs one full step: relaxation rounds, commit and advance.
	Advance(ctx context.Context) error
	// Disconnect leaves the federation.
	Disconnect(ctx context.Context, federation string) error
}

// TimeAdvancedEvent is delivered to observers once per committed step.
type TimeAdvancedEvent struct {
	Step     int
	Time     time.Time
	Duration time.Duration
}

// Observer receives time-advanced events synchronously. It must not mutate
// simulation state.
type Observer func(TimeAdvancedEvent)

// MetricsRecorder receives per-step measurements.
type MetricsRecorder interface {
	ObserveStep(took time.Duration, now time.Time)
	IncViolation(kind string)
	SetScenarioCounts(elements, locations int)
}
