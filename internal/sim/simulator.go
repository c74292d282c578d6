package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/infrastructure-simulator/core"
	"github.com/signalsfoundry/infrastructure-simulator/internal/logging"
	"github.com/signalsfoundry/infrastructure-simulator/internal/observability"
	"github.com/signalsfoundry/infrastructure-simulator/model"
	"github.com/signalsfoundry/infrastructure-simulator/timectrl"
)

var (
	// ErrConservationViolation is returned by Step and Run in strict mode.
	ErrConservationViolation = errors.New("conservation violation")
	// ErrNotInitialized indicates Step or Run before Initialize.
	ErrNotInitialized = errors.New("simulator not initialized")
	// ErrRunAborted is returned by Step and Run after a step has failed.
	// The elements committed that step but the clock did not, so the run
	// can only be replayed from Initialize.
	ErrRunAborted = errors.New("run aborted")
)

// Config controls a simulation run.
type Config struct {
	// Rounds of relaxation per step; see core.StepConfig.
	Rounds int
	// Step is the simulated duration of one step.
	Step time.Duration
	// Verify runs the conservation checks after every step.
	Verify bool
	// Strict turns the first conservation violation into an error.
	Strict bool
	// Tolerances for Verify. Zero values fall back to model.Epsilon.
	Tolerances Tolerances
	// Mode paces Run.
	Mode timectrl.Mode
}

func (c Config) validate() error {
	if c.Rounds < 1 {
		return fmt.Errorf("%w: rounds must be at least 1, got %d", core.ErrInvalidScenario, c.Rounds)
	}
	if c.Step <= 0 {
		return fmt.Errorf("%w: step must be positive, got %s", core.ErrInvalidScenario, c.Step)
	}
	return nil
}

// Simulator drives an Ambassador one step at a time, announces every
// committed step and checks conservation.
type Simulator struct {
	mu sync.Mutex

	scenario *core.Scenario
	amb      Ambassador
	cfg      Config
	clock    *timectrl.TimeController

	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer

	initialized bool
	violations  []Violation
	// aborted is the failure that ended the run; cleared by Initialize.
	aborted error
}

// Option customises Simulator construction.
type Option func(*Simulator)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Simulator) {
		s.metrics = m
	}
}

// WithObserver registers fn for time-advanced events. Observers are fixed
// at construction.
func WithObserver(fn Observer) Option {
	return func(s *Simulator) {
		if fn == nil {
			return
		}
		s.clock.AddListener(func(now time.Time, dt time.Duration) {
			fn(TimeAdvancedEvent{Step: s.clock.Steps(), Time: now, Duration: dt})
		})
	}
}

// WithTracer overrides the tracer used for step spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Simulator) {
		if t != nil {
			s.tracer = t
		}
	}
}

// New constructs a Simulator for scenario, driven through amb.
func New(scenario *core.Scenario, amb Ambassador, cfg Config, opts ...Option) (*Simulator, error) {
	if scenario == nil {
		return nil, fmt.Errorf("%w: nil scenario", core.ErrInvalidScenario)
	}
	if amb == nil {
		return nil, errors.New("ambassador is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Tolerances.Absolute <= 0 {
		cfg.Tolerances.Absolute = model.Epsilon
	}
	if cfg.Tolerances.Relative <= 0 {
		cfg.Tolerances.Relative = model.Epsilon
	}

	s := &Simulator{
		scenario: scenario,
		amb:      amb,
		cfg:      cfg,
		clock:    timectrl.NewTimeController(scenario.StartTime(), cfg.Step, cfg.Mode),
		log:      logging.Noop(),
		tracer:   observability.Tracer(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.log = s.log.With(logging.String("scenario", scenario.Name()))
	return s, nil
}

// Clock exposes simulation time read-only.
func (s *Simulator) Clock() timectrl.SimClock { return s.clock }

// Connect joins the ambassador to a federation.
func (s *Simulator) Connect(ctx context.Context, federation, federate string) error {
	if err := s.amb.Connect(ctx, federation, federate); err != nil {
		return fmt.Errorf("connect %q as %q: %w", federation, federate, err)
	}
	s.log.Debug(ctx, "connected to federation",
		logging.String("federation", federation),
		logging.String("federate", federate),
	)
	return nil
}

// Disconnect leaves the federation.
func (s *Simulator) Disconnect(ctx context.Context, federation string) error {
	return s.amb.Disconnect(ctx, federation)
}

// Initialize resets the scenario to its start time. It may be called again
// to replay the run from the start.
func (s *Simulator) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.amb.Initialize(ctx, s.scenario, s.cfg.Rounds, s.cfg.Step); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	s.clock.Reset(s.scenario.StartTime())
	s.violations = nil
	s.initialized = true
	s.aborted = nil

	leaves, locations := len(s.scenario.Leaves()), len(s.scenario.Locations())
	if s.metrics != nil {
		s.metrics.SetScenarioCounts(leaves, locations)
	}
	s.log.Info(ctx, "scenario initialized",
		logging.Time("start", s.scenario.StartTime()),
		logging.Int("elements", leaves),
		logging.Int("locations", locations),
		logging.Int("rounds", s.cfg.Rounds),
		logging.Duration("step", s.cfg.Step),
	)
	return nil
}

// Step advances the simulation by one step and notifies observers.
func (s *Simulator) Step(ctx context.Context) error {
	if err := s.step(ctx); err != nil {
		return err
	}
	s.clock.Advance()
	return nil
}

// Run advances up to steps steps, paced by the configured mode. It returns
// at the first fatal error, strict-mode violation or context cancellation.
func (s *Simulator) Run(ctx context.Context, steps int) error {
	return s.clock.Run(ctx, steps, s.step)
}

// step is one committed step without the clock advance.
func (s *Simulator) step(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	if s.aborted != nil {
		return fmt.Errorf("%w: %w", ErrRunAborted, s.aborted)
	}

	index := s.clock.Steps() + 1
	now := s.clock.Now().Add(s.cfg.Step)
	ctx, span := s.tracer.Start(ctx, "sim.step", trace.WithAttributes(
		attribute.Int("sim.step", index),
		attribute.String("sim.time", now.Format(time.RFC3339)),
	))
	defer span.End()

	began := time.Now()
	advanceCtx, advanceSpan := s.tracer.Start(ctx, "sim.advance")
	err := s.amb.Advance(advanceCtx)
	if err != nil {
		advanceSpan.RecordError(err)
		advanceSpan.SetStatus(codes.Error, err.Error())
	}
	advanceSpan.End()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.log.Error(ctx, "step failed", logging.Int("step", index), logging.Err(err))
		s.aborted = fmt.Errorf("step %d: %w", index, err)
		return s.aborted
	}

	var found []Violation
	if s.cfg.Verify {
		found = s.verify(ctx, index, now)
	}
	if s.metrics != nil {
		s.metrics.ObserveStep(time.Since(began), now)
	}
	s.log.Debug(ctx, "step committed",
		logging.Int("step", index),
		logging.Time("time", now),
		logging.Int("violations", len(found)),
	)

	if s.cfg.Strict && len(found) > 0 {
		s.aborted = fmt.Errorf("%w: %s", ErrConservationViolation, found[0])
		span.SetStatus(codes.Error, s.aborted.Error())
		return s.aborted
	}
	return nil
}

func (s *Simulator) verify(ctx context.Context, index int, now time.Time) []Violation {
	_, span := s.tracer.Start(ctx, "sim.verify")
	defer span.End()

	found := Verify(s.scenario, s.cfg.Step, s.cfg.Tolerances)
	span.SetAttributes(attribute.Int("sim.violations", len(found)))
	for i := range found {
		v := &found[i]
		v.Step = index
		v.Time = now

		fields := []logging.Field{
			logging.String("kind", string(v.Kind)),
			logging.Int("step", index),
			logging.String("residual", v.Residual.String()),
			logging.Float64("magnitude", v.Magnitude),
			logging.Float64("relative_error", v.RelativeError),
		}
		if v.Kind == NetFlowViolation {
			fields = append(fields, logging.String("location", v.Location.String()))
		} else {
			fields = append(fields, logging.String("a", v.A), logging.String("b", v.B))
		}
		s.log.Warn(ctx, "conservation violation", fields...)
		if s.metrics != nil {
			s.metrics.IncViolation(string(v.Kind))
		}
	}
	s.violations = append(s.violations, found...)
	return found
}

// Violations returns every violation recorded since Initialize.
func (s *Simulator) Violations() []Violation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Violation(nil), s.violations...)
}

// Summary describes the state of a run.
type Summary struct {
	Steps       int
	Time        time.Time
	Violations  int
	Inventories map[string]model.Resource
}

// Summary reports the committed step count, current time and every leaf's
// inventory.
func (s *Simulator) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv := make(map[string]model.Resource)
	for _, l := range s.scenario.Leaves() {
		inv[l.Name()] = l.Contents()
	}
	return Summary{
		Steps:       s.clock.Steps(),
		Time:        s.clock.Now(),
		Violations:  len(s.violations),
		Inventories: inv,
	}
}
