package sim

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/signalsfoundry/infrastructure-simulator/core"
	"github.com/signalsfoundry/infrastructure-simulator/internal/federation"
	"github.com/signalsfoundry/infrastructure-simulator/internal/logging"
	"github.com/signalsfoundry/infrastructure-simulator/kb"
	"github.com/signalsfoundry/infrastructure-simulator/model"
	"github.com/signalsfoundry/infrastructure-simulator/timectrl"
)

const cyclicYAML = `
name: cyclic
start_time: 2025-01-01T00:00:00Z
elements:
  - name: power-plant
    location: x->y
    states:
      - name: generating
        kind: producing
        rate: {electricity: 10}
        consumption:
          electricity: {oil: 0.5}
    suppliers:
      oil: refinery
  - name: refinery
    location: REFINERY_LOCATION
    states:
      - name: refining
        kind: producing
        rate: {oil: 5}
        consumption:
          oil: {electricity: 0.2}
    suppliers:
      electricity: power-plant
`

const outageYAML = `
name: outage
start_time: 2025-01-01T00:00:00Z
elements:
  - name: generator
    location: x
    states:
      - name: offline
        kind: "null"
  - name: factory
    location: x
    states:
      - name: running
        base_consumption: {electricity: 2}
    suppliers:
      electricity: generator
`

var start = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func loadScenario(t *testing.T, doc string) *core.Scenario {
	t.Helper()
	loaded, err := kb.LoadScenario(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	return loaded.Scenario
}

func cyclic(t *testing.T, refineryLoc string) *core.Scenario {
	t.Helper()
	return loadScenario(t, strings.Replace(cyclicYAML, "REFINERY_LOCATION", refineryLoc, 1))
}

func newSimulator(t *testing.T, s *core.Scenario, cfg Config, opts ...Option) *Simulator {
	t.Helper()
	if cfg.Step == 0 {
		cfg.Step = time.Second
	}
	cfg.Mode = timectrl.Accelerated
	cfg.Verify = true
	simulator, err := New(s, federation.NewLocal(), cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := simulator.Connect(ctx, "infrastructure", "local"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := simulator.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return simulator
}

type recordedMetrics struct {
	mu         sync.Mutex
	steps      int
	lastTime   time.Time
	violations map[string]int
	elements   int
	locations  int
}

func (m *recordedMetrics) ObserveStep(_ time.Duration, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps++
	m.lastTime = now
}

func (m *recordedMetrics) IncViolation(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.violations == nil {
		m.violations = make(map[string]int)
	}
	m.violations[kind]++
}

func (m *recordedMetrics) SetScenarioCounts(elements, locations int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.elements, m.locations = elements, locations
}

func TestSimulatorConservesCyclicPair(t *testing.T) {
	simulator := newSimulator(t, cyclic(t, "y->x"), Config{Rounds: 2})
	if err := simulator.Run(context.Background(), 5); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v := simulator.Violations(); len(v) != 0 {
		t.Fatalf("unexpected violations: %v", v)
	}

	summary := simulator.Summary()
	if summary.Steps != 5 || !summary.Time.Equal(start.Add(5*time.Second)) {
		t.Fatalf("summary = %d steps at %v", summary.Steps, summary.Time)
	}
	if got := summary.Inventories["power-plant"]; !got.Equal(model.Of(model.Electricity, 45)) {
		t.Fatalf("power-plant inventory = %v, want 45 electricity", got)
	}
	if got := summary.Inventories["refinery"]; !got.IsZero() {
		t.Fatalf("refinery inventory = %v, want empty", got)
	}
}

func TestSimulatorSingleRoundLagsOneStep(t *testing.T) {
	simulator := newSimulator(t, cyclic(t, "y->x"), Config{Rounds: 1})
	if err := simulator.Run(context.Background(), 3); err != nil {
		t.Fatalf("Run: %v", err)
	}

	violations := simulator.Violations()
	if len(violations) != 1 {
		t.Fatalf("violations = %v, want exactly one on the first step", violations)
	}
	v := violations[0]
	if v.Kind != ExchangeViolation || v.Step != 1 || v.A != "power-plant" || v.B != "refinery" {
		t.Fatalf("violation = %+v", v)
	}
	if !v.Time.Equal(start.Add(time.Second)) {
		t.Fatalf("violation time = %v", v.Time)
	}
	if v.Magnitude != 5 {
		t.Fatalf("magnitude = %v, want 5 (unsent oil)", v.Magnitude)
	}
}

func TestSimulatorNullSupplierWarnsAndCounts(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWithWriter(logging.Config{Level: "info", Format: "json"}, &buf)
	metrics := &recordedMetrics{}
	simulator := newSimulator(t, loadScenario(t, outageYAML), Config{Rounds: 2},
		WithLogger(log), WithMetricsRecorder(metrics))

	if err := simulator.Run(context.Background(), 3); err != nil {
		t.Fatalf("Run: %v", err)
	}

	violations := simulator.Violations()
	if len(violations) != 3 {
		t.Fatalf("violations = %d, want one per step", len(violations))
	}
	for i, v := range violations {
		if v.Kind != ExchangeViolation || v.Step != i+1 {
			t.Fatalf("violation %d = %+v", i, v)
		}
		if got := v.Residual.Quantity(model.Electricity); got != -2 {
			t.Fatalf("residual electricity = %v, want -2", got)
		}
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.steps != 3 || metrics.violations["exchange"] != 3 {
		t.Fatalf("metrics = %d steps, %v violations", metrics.steps, metrics.violations)
	}
	if metrics.elements != 2 || metrics.locations != 1 {
		t.Fatalf("scenario counts = %d elements, %d locations", metrics.elements, metrics.locations)
	}
	if !metrics.lastTime.Equal(start.Add(3 * time.Second)) {
		t.Fatalf("last observed time = %v", metrics.lastTime)
	}

	out := buf.String()
	if got := strings.Count(out, `"msg":"conservation violation"`); got != 3 {
		t.Fatalf("logged %d violations, want 3:\n%s", got, out)
	}
	if !strings.Contains(out, `"level":"WARN"`) || !strings.Contains(out, `"relative_error"`) {
		t.Fatalf("violation log missing level or relative error:\n%s", out)
	}
}

func TestSimulatorStrictModeStops(t *testing.T) {
	var events []TimeAdvancedEvent
	simulator := newSimulator(t, loadScenario(t, outageYAML), Config{Rounds: 2, Strict: true},
		WithObserver(func(e TimeAdvancedEvent) { events = append(events, e) }))

	err := simulator.Run(context.Background(), 3)
	if !errors.Is(err, ErrConservationViolation) {
		t.Fatalf("Run = %v, want ErrConservationViolation", err)
	}
	if steps := simulator.Summary().Steps; steps != 0 {
		t.Fatalf("clock advanced %d steps after a failed step", steps)
	}
	if len(events) != 0 {
		t.Fatalf("observers fired for a failed step: %v", events)
	}
}

func TestSimulatorRefusesStepsAfterFailure(t *testing.T) {
	ctx := context.Background()
	simulator := newSimulator(t, loadScenario(t, outageYAML), Config{Rounds: 2, Strict: true})

	if err := simulator.Step(ctx); !errors.Is(err, ErrConservationViolation) {
		t.Fatalf("Step = %v, want ErrConservationViolation", err)
	}
	err := simulator.Step(ctx)
	if !errors.Is(err, ErrRunAborted) || !errors.Is(err, ErrConservationViolation) {
		t.Fatalf("second Step = %v, want ErrRunAborted wrapping the violation", err)
	}
	if err := simulator.Run(ctx, 2); !errors.Is(err, ErrRunAborted) {
		t.Fatalf("Run after failure = %v, want ErrRunAborted", err)
	}
	if got := simulator.Clock().Now(); !got.Equal(start) {
		t.Fatalf("clock moved to %v after a failed run", got)
	}

	if err := simulator.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	err = simulator.Step(ctx)
	if !errors.Is(err, ErrConservationViolation) || errors.Is(err, ErrRunAborted) {
		t.Fatalf("Step after Initialize = %v, want a fresh violation", err)
	}
}

func TestSimulatorObserversFireOncePerStep(t *testing.T) {
	var events []TimeAdvancedEvent
	var fromClock []time.Time
	var simulator *Simulator
	simulator = newSimulator(t, cyclic(t, "y->x"), Config{Rounds: 2, Step: 30 * time.Minute},
		WithObserver(func(e TimeAdvancedEvent) { events = append(events, e) }),
		WithObserver(func(TimeAdvancedEvent) { fromClock = append(fromClock, simulator.Clock().Now()) }),
	)

	ctx := context.Background()
	if err := simulator.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if err := simulator.Run(ctx, 2); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(events) != 3 || len(fromClock) != 3 {
		t.Fatalf("events = %v, clock reads = %v", events, fromClock)
	}
	for i, e := range events {
		want := start.Add(time.Duration(i+1) * 30 * time.Minute)
		if e.Step != i+1 || !e.Time.Equal(want) || e.Duration != 30*time.Minute {
			t.Fatalf("event %d = %+v, want step %d at %v", i, e, i+1, want)
		}
		if !fromClock[i].Equal(want) {
			t.Fatalf("clock during event %d = %v, want %v", i, fromClock[i], want)
		}
	}
}

func TestSimulatorLocationMismatchAbortsRun(t *testing.T) {
	simulator := newSimulator(t, cyclic(t, "z->x"), Config{Rounds: 2})
	err := simulator.Run(context.Background(), 3)
	if !errors.Is(err, core.ErrLocationMismatch) {
		t.Fatalf("Run = %v, want location mismatch", err)
	}
	var mismatch *core.LocationMismatchError
	if !errors.As(err, &mismatch) || mismatch.Element != "power-plant" || mismatch.Counterpart != "refinery" {
		t.Fatalf("mismatch detail = %+v", mismatch)
	}
	if steps := simulator.Summary().Steps; steps != 0 {
		t.Fatalf("steps = %d after fatal step", steps)
	}
}

func TestSimulatorReplayAfterInitialize(t *testing.T) {
	ctx := context.Background()
	simulator := newSimulator(t, cyclic(t, "y->x"), Config{Rounds: 1})
	if err := simulator.Run(ctx, 4); err != nil {
		t.Fatalf("Run: %v", err)
	}
	first := simulator.Summary()

	if err := simulator.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := simulator.Summary(); got.Steps != 0 || got.Violations != 0 || !got.Time.Equal(start) {
		t.Fatalf("after Initialize: %+v", got)
	}
	if err := simulator.Run(ctx, 4); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	second := simulator.Summary()
	if first.Violations != second.Violations {
		t.Fatalf("violations %d then %d", first.Violations, second.Violations)
	}
	for name, inv := range first.Inventories {
		if !second.Inventories[name].Equal(inv) {
			t.Fatalf("%s: %v then %v", name, inv, second.Inventories[name])
		}
	}
}

func TestSimulatorEmitsStepSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()
	tracer := tp.Tracer("test")

	s := cyclic(t, "y->x")
	simulator, err := New(s, federation.NewLocal(federation.WithTracer(tracer)),
		Config{Rounds: 2, Step: time.Second, Verify: true}, WithTracer(tracer))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := simulator.Connect(ctx, "infrastructure", "local"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := simulator.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := simulator.Step(ctx); err != nil {
		t.Fatalf("Step: %v", err)
	}

	parents := make(map[string]string)
	byID := make(map[string]string)
	for _, span := range recorder.Ended() {
		byID[span.SpanContext().SpanID().String()] = span.Name()
	}
	for _, span := range recorder.Ended() {
		parents[span.Name()] = byID[span.Parent().SpanID().String()]
	}
	want := map[string]string{
		"sim.step":    "",
		"sim.advance": "sim.step",
		"sim.relax":   "sim.advance",
		"sim.commit":  "sim.advance",
		"sim.verify":  "sim.step",
	}
	for name, parent := range want {
		got, ok := parents[name]
		if !ok {
			t.Fatalf("span %q not recorded; got %v", name, parents)
		}
		if got != parent {
			t.Fatalf("span %q parent = %q, want %q", name, got, parent)
		}
	}
}

func TestSimulatorRequiresInitialize(t *testing.T) {
	s := cyclic(t, "y->x")
	simulator, err := New(s, federation.NewLocal(), Config{Rounds: 2, Step: time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := simulator.Step(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Step = %v, want ErrNotInitialized", err)
	}
	if err := simulator.Initialize(context.Background()); !errors.Is(err, federation.ErrNotConnected) {
		t.Fatalf("Initialize before Connect = %v, want ErrNotConnected", err)
	}
}

func TestNewValidation(t *testing.T) {
	s := cyclic(t, "y->x")
	tests := []struct {
		name     string
		scenario *core.Scenario
		amb      Ambassador
		cfg      Config
	}{
		{"nil scenario", nil, federation.NewLocal(), Config{Rounds: 1, Step: time.Second}},
		{"nil ambassador", s, nil, Config{Rounds: 1, Step: time.Second}},
		{"zero rounds", s, federation.NewLocal(), Config{Step: time.Second}},
		{"zero step", s, federation.NewLocal(), Config{Rounds: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.scenario, tt.amb, tt.cfg); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestSimulatorOverBus(t *testing.T) {
	s := cyclic(t, "y->x")
	parts, err := federation.Partition(s, 2)
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	bus, err := federation.NewBus("infrastructure", len(parts))
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}

	ctx := context.Background()
	sims := make([]*Simulator, len(parts))
	for i, owned := range parts {
		cfg := Config{Rounds: 2, Step: time.Second, Verify: i == 0, Mode: timectrl.Accelerated}
		simulator, err := New(s, bus.Federate(owned), cfg)
		if err != nil {
			t.Fatalf("New %d: %v", i, err)
		}
		if err := simulator.Connect(ctx, bus.Name(), federation.FederateName(bus.Name(), i)); err != nil {
			t.Fatalf("Connect %d: %v", i, err)
		}
		sims[i] = simulator
	}

	errs := make(chan error, len(sims))
	for _, simulator := range sims {
		go func() {
			if err := simulator.Initialize(ctx); err != nil {
				errs <- err
				return
			}
			errs <- simulator.Run(ctx, 4)
		}()
	}
	for range sims {
		if err := <-errs; err != nil {
			t.Fatalf("federate: %v", err)
		}
	}

	if v := sims[0].Violations(); len(v) != 0 {
		t.Fatalf("violations: %v", v)
	}
	if got := sims[0].Summary().Inventories["power-plant"]; !got.Equal(model.Of(model.Electricity, 36)) {
		t.Fatalf("power-plant inventory = %v, want 36 electricity", got)
	}
}
