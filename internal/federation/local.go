package federation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/infrastructure-simulator/core"
	"github.com/signalsfoundry/infrastructure-simulator/internal/logging"
)

// Local is the same-process ambassador: it owns every element of the
// scenario and runs the relaxation, commit and advance passes directly.
type Local struct {
	mu   sync.Mutex
	opts options

	federation string
	federate   string
	connected  bool

	scenario *core.Scenario
	cfg      core.StepConfig
}

// NewLocal creates an unconnected Local ambassador.
func NewLocal(opts ...Option) *Local {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &Local{opts: o}
}

// Connect joins federation. Reconnecting to the same federation is a no-op.
func (l *Local) Connect(ctx context.Context, federation, federate string) error {
	if federation == "" || federate == "" {
		return fmt.Errorf("federation and federate names are required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connected && l.federation != federation {
		return fmt.Errorf("%w: connected to %q, not %q", ErrFederationMismatch, l.federation, federation)
	}
	l.federation, l.federate, l.connected = federation, federate, true
	l.opts.log.Debug(ctx, "local federate connected",
		logging.String("federation", federation),
		logging.String("federate", federate),
	)
	return nil
}

// Initialize resets every element of scenario to its start time.
func (l *Local) Initialize(ctx context.Context, scenario *core.Scenario, rounds int, step time.Duration) error {
	if scenario == nil {
		return fmt.Errorf("%w: nil scenario", core.ErrInvalidScenario)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return ErrNotConnected
	}
	cfg, err := stepConfig(rounds, step, l.opts.parallelism)
	if err != nil {
		return err
	}
	if err := core.Initialize(scenario.Elements(), scenario.StartTime()); err != nil {
		return err
	}
	l.scenario, l.cfg = scenario, cfg
	return nil
}

// Advance runs one full step over every element.
func (l *Local) Advance(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return ErrNotConnected
	}
	if l.scenario == nil {
		return fmt.Errorf("%w: advance before initialize", core.ErrInvalidScenario)
	}
	return runStep(ctx, l.opts, l.scenario.Elements(), l.cfg, nil)
}

// Disconnect leaves federation.
func (l *Local) Disconnect(ctx context.Context, federation string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return ErrNotConnected
	}
	if federation != l.federation {
		return fmt.Errorf("%w: connected to %q, not %q", ErrFederationMismatch, l.federation, federation)
	}
	l.connected = false
	l.opts.log.Debug(ctx, "local federate disconnected", logging.String("federation", federation))
	return nil
}
