package federation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/signalsfoundry/infrastructure-simulator/core"
	"github.com/signalsfoundry/infrastructure-simulator/internal/logging"
)

// Bus is an in-process federation of a fixed number of federates, each
// owning a disjoint set of top-level elements of one scenario. Federates
// run concurrently and rendezvous before every step, after every Iterate
// and after every Latch, so no element latches while another still reads
// the previous round's flows.
type Bus struct {
	name string
	size int

	mu        sync.Mutex
	members   map[string]*Federate
	claims    map[string]string // element name -> federate identity
	scenario  *core.Scenario
	rounds    int
	step      time.Duration
	barrier   *barrier
	closedErr error
}

// NewBus creates a federation named name for size federates.
func NewBus(name string, size int) (*Bus, error) {
	if name == "" {
		return nil, errors.New("federation name is required")
	}
	if size < 1 {
		return nil, fmt.Errorf("federation %q needs at least one federate, got %d", name, size)
	}
	return &Bus{
		name:    name,
		size:    size,
		members: make(map[string]*Federate),
		claims:  make(map[string]string),
		barrier: newBarrier(size),
	}, nil
}

// Name returns the federation name.
func (b *Bus) Name() string { return b.name }

// Federate creates an ambassador owning the named top-level elements.
func (b *Bus) Federate(owned []string, opts ...Option) *Federate {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &Federate{bus: b, owned: slices.Clone(owned), opts: o}
}

// Abort closes the bus with cause; every pending and future rendezvous
// fails.
func (b *Bus) Abort(cause error) {
	err := ErrBusClosed
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrBusClosed, cause)
	}
	b.mu.Lock()
	if b.closedErr == nil {
		b.closedErr = err
	}
	b.mu.Unlock()
	b.barrier.abort(err)
}

// rendezvous waits for every federate. A cancelled ctx closes the bus.
func (b *Bus) rendezvous(ctx context.Context) error {
	err := b.barrier.wait(ctx)
	if err != nil && !errors.Is(err, ErrBusClosed) {
		b.Abort(err)
	}
	return err
}

func (b *Bus) join(identity string, f *Federate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closedErr != nil {
		return b.closedErr
	}
	if prev, ok := b.members[identity]; ok && prev != f {
		return fmt.Errorf("federate %q already joined %q", identity, b.name)
	}
	if _, ok := b.members[identity]; !ok && len(b.members) == b.size {
		return fmt.Errorf("federation %q is full (%d federates)", b.name, b.size)
	}
	b.members[identity] = f
	return nil
}

// claim records the scenario configuration, or checks it against the one
// recorded by the first federate, and registers identity's elements.
func (b *Bus) claim(identity string, scenario *core.Scenario, rounds int, step time.Duration, owned []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closedErr != nil {
		return b.closedErr
	}

	if b.scenario == nil {
		b.scenario, b.rounds, b.step = scenario, rounds, step
	} else {
		switch {
		case b.scenario != scenario:
			return fmt.Errorf("%w: scenario %q, federation runs %q", ErrConfigMismatch, scenario.Name(), b.scenario.Name())
		case b.rounds != rounds:
			return fmt.Errorf("%w: %d rounds, federation runs %d", ErrConfigMismatch, rounds, b.rounds)
		case b.step != step:
			return fmt.Errorf("%w: step %s, federation runs %s", ErrConfigMismatch, step, b.step)
		}
	}

	top := make(map[string]bool)
	for _, e := range scenario.Elements() {
		top[e.Name()] = true
	}
	for _, name := range owned {
		if !top[name] {
			return fmt.Errorf("%w: %q is not a top-level element of %q", core.ErrInvalidScenario, name, scenario.Name())
		}
		if other, ok := b.claims[name]; ok && other != identity {
			return fmt.Errorf("%w: %q is owned by both %q and %q", core.ErrInvalidScenario, name, other, identity)
		}
	}
	for name, who := range b.claims {
		if who == identity {
			delete(b.claims, name)
		}
	}
	for _, name := range owned {
		b.claims[name] = identity
	}
	return nil
}

// unclaimed lists top-level elements no federate owns.
func (b *Bus) unclaimed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var missing []string
	for _, e := range b.scenario.Elements() {
		if _, ok := b.claims[e.Name()]; !ok {
			missing = append(missing, e.Name())
		}
	}
	return missing
}

// Federate is one member of a Bus. It implements the ambassador contract
// for the elements it owns.
type Federate struct {
	bus   *Bus
	owned []string
	opts  options

	mu          sync.Mutex
	identity    string
	connected   bool
	initialized bool
	elements    []core.Element
	cfg         core.StepConfig
}

// Owned returns the names of the elements this federate advances.
func (f *Federate) Owned() []string { return slices.Clone(f.owned) }

func (f *Federate) Connect(ctx context.Context, federation, federate string) error {
	if federation != f.bus.name {
		return fmt.Errorf("%w: bus is %q, not %q", ErrFederationMismatch, f.bus.name, federation)
	}
	if federate == "" {
		return errors.New("federate identity is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected && f.identity != federate {
		return fmt.Errorf("already connected as %q", f.identity)
	}
	if err := f.bus.join(federate, f); err != nil {
		return err
	}
	f.identity, f.connected = federate, true
	f.opts.log.Debug(ctx, "federate joined bus",
		logging.String("federation", federation),
		logging.String("federate", federate),
		logging.String("owned", strings.Join(f.owned, ",")),
	)
	return nil
}

// Initialize claims the owned elements, waits for every federate and
// resets the owned elements to the scenario's start time. It fails when
// the federates' claims do not cover the whole scenario.
func (f *Federate) Initialize(ctx context.Context, scenario *core.Scenario, rounds int, step time.Duration) error {
	if scenario == nil {
		return fmt.Errorf("%w: nil scenario", core.ErrInvalidScenario)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	cfg, err := stepConfig(rounds, step, f.opts.parallelism)
	if err != nil {
		return err
	}
	if err := f.bus.claim(f.identity, scenario, rounds, step, f.owned); err != nil {
		f.bus.Abort(err)
		return err
	}
	if err := f.bus.rendezvous(ctx); err != nil {
		return err
	}
	if missing := f.bus.unclaimed(); len(missing) > 0 {
		err := fmt.Errorf("%w: no federate owns %s", core.ErrInvalidScenario, strings.Join(missing, ", "))
		f.bus.Abort(err)
		return err
	}

	elements := make([]core.Element, 0, len(f.owned))
	for _, name := range f.owned {
		elements = append(elements, scenario.Element(name))
	}
	if err := core.Initialize(elements, scenario.StartTime()); err != nil {
		f.bus.Abort(err)
		return err
	}
	f.elements, f.cfg, f.initialized = elements, cfg, true
	return nil
}

// Advance runs one step over the owned elements in lockstep with the other
// federates. A failure here aborts the whole bus.
func (f *Federate) Advance(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	if !f.initialized {
		return fmt.Errorf("%w: advance before initialize", core.ErrInvalidScenario)
	}
	err := runStep(ctx, f.opts, f.elements, f.cfg, func(ctx context.Context) error {
		return f.bus.rendezvous(ctx)
	})
	if err != nil && !errors.Is(err, ErrBusClosed) {
		f.opts.log.Error(ctx, "federate step failed",
			logging.String("federate", f.identity),
			logging.Err(err),
		)
		f.bus.Abort(fmt.Errorf("federate %q: %w", f.identity, err))
	}
	return err
}

// Disconnect leaves the bus. Federates still stepping afterwards fail with
// ErrBusClosed.
func (f *Federate) Disconnect(ctx context.Context, federation string) error {
	if federation != f.bus.name {
		return fmt.Errorf("%w: bus is %q, not %q", ErrFederationMismatch, f.bus.name, federation)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	f.connected = false
	f.bus.Abort(nil)
	f.opts.log.Debug(ctx, "federate left bus", logging.String("federate", f.identity))
	return nil
}
