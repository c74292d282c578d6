// Package federation provides ambassadors that advance a scenario one step
// at a time: Local runs every element in process, and Bus splits the
// top-level elements across federates that meet at round and step barriers.
package federation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/infrastructure-simulator/core"
	"github.com/signalsfoundry/infrastructure-simulator/internal/logging"
	"github.com/signalsfoundry/infrastructure-simulator/internal/observability"
)

var (
	// ErrNotConnected is returned by Initialize or Advance before Connect.
	ErrNotConnected = errors.New("ambassador not connected")
	// ErrFederationMismatch is returned when a call names a federation
	// other than the one joined.
	ErrFederationMismatch = errors.New("federation name mismatch")
	// ErrConfigMismatch is returned when federates of one bus initialize
	// with different scenarios, rounds or step durations.
	ErrConfigMismatch = errors.New("federate configuration mismatch")
	// ErrBusClosed is returned once a bus has been aborted or a federate
	// has left it.
	ErrBusClosed = errors.New("federation bus closed")
)

// Option customises an ambassador.
type Option func(*options)

type options struct {
	parallelism int
	tracer      trace.Tracer
	log         logging.Logger
}

func defaultOptions() options {
	return options{
		parallelism: 1,
		tracer:      observability.Tracer(),
		log:         logging.Noop(),
	}
}

// WithParallelism bounds concurrent Iterate calls within a round.
func WithParallelism(n int) Option {
	return func(o *options) {
		o.parallelism = n
	}
}

// WithTracer overrides the tracer used for relaxation and commit spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// syncFunc is called at every rendezvous point of a step. Local uses nil.
type syncFunc func(ctx context.Context) error

// runStep performs one step over elements: cfg.Rounds relaxation rounds,
// then commit and advance. sync, when set, is called before the first
// round, after every Iterate and after every Latch.
func runStep(ctx context.Context, o options, elements []core.Element, cfg core.StepConfig, sync syncFunc) error {
	if sync == nil {
		sync = func(context.Context) error { return nil }
	}
	if err := sync(ctx); err != nil {
		return err
	}

	relaxCtx, relax := o.tracer.Start(ctx, "sim.relax", trace.WithAttributes(
		attribute.Int("sim.rounds", cfg.Rounds),
		attribute.Int("sim.elements", len(elements)),
	))
	for round := 1; round <= cfg.Rounds; round++ {
		if err := core.Iterate(elements, cfg.Duration, cfg.Parallelism); err != nil {
			err = fmt.Errorf("relaxation round %d: %w", round, err)
			endWithError(relax, err)
			return err
		}
		if err := sync(relaxCtx); err != nil {
			endWithError(relax, err)
			return err
		}
		core.Latch(elements)
		if err := sync(relaxCtx); err != nil {
			endWithError(relax, err)
			return err
		}
	}
	relax.End()

	_, commit := o.tracer.Start(ctx, "sim.commit")
	defer commit.End()
	if err := core.Commit(elements, cfg.Duration); err != nil {
		err = fmt.Errorf("commit: %w", err)
		commit.RecordError(err)
		commit.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := core.Advance(elements, cfg.Duration); err != nil {
		err = fmt.Errorf("advance: %w", err)
		commit.RecordError(err)
		commit.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func endWithError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}

func stepConfig(rounds int, step time.Duration, parallelism int) (core.StepConfig, error) {
	cfg := core.StepConfig{Rounds: rounds, Duration: step, Parallelism: parallelism}
	if err := cfg.Validate(); err != nil {
		return core.StepConfig{}, err
	}
	return cfg, nil
}
