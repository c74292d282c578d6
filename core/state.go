package core

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/infrastructure-simulator/model"
)

// StateKind tags the behavior variant of a State.
type StateKind int

const (
	// KindNull is inert: every flow is zero.
	KindNull StateKind = iota
	// KindDefault stores, transports, transforms and exchanges.
	KindDefault
	// KindOperating is Default plus a timed automatic transition.
	KindOperating
	// KindProducing is Operating plus a staged production rate.
	KindProducing
)

func (k StateKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindDefault:
		return "default"
	case KindOperating:
		return "operating"
	case KindProducing:
		return "producing"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Capability is a bit set of the behaviors a kind overrides.
type Capability uint8

const (
	CapTransform Capability = 1 << iota
	CapStore
	CapTransport
	CapExchange
	CapTransition
	CapProduction
)

const capDefault = CapTransform | CapStore | CapTransport | CapExchange

var kindCapabilities = map[StateKind]Capability{
	KindNull:      0,
	KindDefault:   capDefault,
	KindOperating: capDefault | CapTransition,
	KindProducing: capDefault | CapTransition | CapProduction,
}

// State is a named behavior an element can be in. It is a flat tagged
// variant: the kind selects which capability behaviors apply, and the
// fields below are only meaningful for kinds that use them.
//
// Operating and Producing states carry per-element counters and rates, so
// an instance must not be declared by more than one element. Null and
// Default states hold no mutable fields and may be shared.
type State struct {
	name string
	kind StateKind

	// Default family: fixed rates per second.
	baseConsumption model.Resource
	inputRate       model.Resource
	outputRate      model.Resource

	// Operating.
	timeInState       time.Duration
	nextState         *State
	elapsed           time.Duration
	nextElapsed       time.Duration
	transitionPending bool

	// Producing.
	initialRate  model.Resource
	rate         model.Resource
	nextRate     model.Resource
	consumption  model.ResourceMatrix
	followDemand bool
	rateStaged   bool
}

// StateOption customises a Default-family state.
type StateOption func(*State)

// WithBaseConsumption sets a fixed consumption rate per second.
func WithBaseConsumption(rate model.Resource) StateOption {
	return func(s *State) {
		s.baseConsumption = rate
	}
}

// WithTransport sets fixed input and output rates per second across the
// element's Location boundary.
func WithTransport(input, output model.Resource) StateOption {
	return func(s *State) {
		s.inputRate = input
		s.outputRate = output
	}
}

// WithDemandFollowing makes a Producing state stage, at every commit, a
// production rate equal to what its customers and its own consumption drew
// of its products during that step. Products are the commodities of the
// initial rate plus every commodity a customer draws from the element.
// A rate staged with SetProductionRate wins for that step.
func WithDemandFollowing() StateOption {
	return func(s *State) {
		s.followDemand = true
	}
}

// NewNullState returns an inert placeholder state.
func NewNullState(name string) *State {
	return &State{name: name, kind: KindNull}
}

// NewDefaultState returns a state that stores, transports, transforms and
// exchanges according to its options and the element's wiring.
func NewDefaultState(name string, opts ...StateOption) *State {
	return newState(name, KindDefault, opts)
}

// NewOperatingState returns a Default state that transitions to next once
// it has been current for timeInState. A zero timeInState or nil next
// disables the transition.
func NewOperatingState(name string, timeInState time.Duration, next *State, opts ...StateOption) *State {
	s := newState(name, KindOperating, opts)
	s.timeInState = timeInState
	s.nextState = next
	return s
}

// NewProducingState returns an Operating state that produces at rate
// (per second) and consumes baseConsumption + consumption × produced.
func NewProducingState(name string, timeInState time.Duration, next *State, rate model.Resource, consumption model.ResourceMatrix, opts ...StateOption) *State {
	s := newState(name, KindProducing, opts)
	s.timeInState = timeInState
	s.nextState = next
	s.initialRate = rate
	s.rate = rate
	s.nextRate = rate
	s.consumption = consumption
	return s
}

func newState(name string, kind StateKind, opts []StateOption) *State {
	s := &State{name: name, kind: kind}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *State) Name() string    { return s.name }
func (s *State) Kind() StateKind { return s.kind }

// Has reports whether the state's kind implements every capability in c.
func (s *State) Has(c Capability) bool {
	return kindCapabilities[s.kind]&c == c
}

func (s *State) String() string {
	return s.name + "(" + s.kind.String() + ")"
}

// NextState returns the target of the timed transition, if any.
func (s *State) NextState() *State { return s.nextState }

// SetNextState rewires the timed transition target. Meant for scenario
// construction, where states may reference each other cyclically.
func (s *State) SetNextState(next *State) error {
	if !s.Has(CapTransition) {
		return fmt.Errorf("%w: %s has no timed transition", ErrUnsupported, s)
	}
	s.nextState = next
	return nil
}

// TimeInState returns how long the state stays current before transitioning.
func (s *State) TimeInState() time.Duration { return s.timeInState }

// Elapsed returns the committed time spent in this state.
func (s *State) Elapsed() time.Duration { return s.elapsed }

// ProductionRate returns the committed production rate per second.
func (s *State) ProductionRate() model.Resource { return s.rate }

// SetProductionRate stages a new production rate. The committed rate, and
// therefore Produced, only changes at the next Tock. It overrides the rate a
// demand-following state would otherwise stage in that commit.
func (s *State) SetProductionRate(rate model.Resource) error {
	if !s.Has(CapProduction) {
		return fmt.Errorf("%w: %s has no production rate", ErrUnsupported, s)
	}
	s.nextRate = rate
	s.rateStaged = true
	return nil
}

// products lists what e produces in this state: the initial rate's support
// and whatever its customers are wired to draw from it.
func (s *State) products(e Element) []model.CommodityType {
	out := s.initialRate.Support()
	for _, other := range e.Counterparts() {
		for _, c := range model.Commodities() {
			if other.Supplier(c) == e {
				out = append(out, c)
			}
		}
	}
	return out
}

// enter resets per-activation counters; called when an element makes this
// state current.
func (s *State) enter() {
	s.elapsed = 0
	s.nextElapsed = 0
	s.transitionPending = false
}

// reset restores the state as constructed, for replaying a scenario.
func (s *State) reset() {
	s.enter()
	s.rate = s.initialRate
	s.nextRate = s.initialRate
	s.rateStaged = false
}

// Tick is the commit pass for one element in this state: it validates
// exchanges against every counterpart, then applies transform, transport and
// store with the element's latched flows, and stages time-based fields.
func (s *State) Tick(e Element, dt time.Duration) error {
	if s.kind == KindNull {
		return nil
	}

	f := e.Flows().Scaled(dt)
	for _, other := range e.Counterparts() {
		if err := s.Exchange(e, other, f.SentTo(other.Name()), f.ReceivedFrom(other.Name())); err != nil {
			return err
		}
	}
	if err := s.Transform(e, f.Consumed, f.Produced); err != nil {
		return err
	}
	if err := s.Transport(e, f.Input, f.Output); err != nil {
		return err
	}
	if err := s.Store(e, f.Stored, f.Retrieved); err != nil {
		return err
	}

	if s.Has(CapTransition) {
		s.nextElapsed = s.elapsed + dt
		s.transitionPending = s.timeInState > 0 && s.nextState != nil && s.nextElapsed >= s.timeInState
	}
	if s.Has(CapProduction) && s.followDemand && !s.rateStaged {
		drawn := f.TotalSent().Add(f.Consumed).Only(s.products(e)...)
		s.nextRate = drawn.SafeDivide(dt.Seconds())
	}
	return nil
}

// Tock promotes staged fields and fires a pending timed transition.
func (s *State) Tock(e Element) error {
	if s.Has(CapProduction) {
		s.rate = s.nextRate
		s.rateStaged = false
	}
	if !s.Has(CapTransition) {
		return nil
	}
	s.elapsed = s.nextElapsed
	if !s.transitionPending {
		return nil
	}
	s.transitionPending = false
	return s.Transition(e, s.nextState)
}

// Transition makes next the element's current state.
func (s *State) Transition(e Element, next *State) error {
	if next == nil {
		return fmt.Errorf("%w: nil transition target from %s", ErrUndeclaredState, s)
	}
	return e.SetState(next)
}
