package core

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/infrastructure-simulator/model"
)

// Element is an entity that owns an inventory and a current state, and
// takes part in the per-step relaxation protocol:
//
//	Iterate  compute tentative flows from latched values only
//	Latch    publish the tentative flows to every other element
//	Tick     commit latched flows (the only inventory mutation)
//	Tock     promote staged fields and advance the element's clock
//
// Leaf is the unit of flow; Aggregate is pure composition over children.
type Element interface {
	Name() string
	Location() model.Location
	Contents() model.Resource
	AddContents(r model.Resource) error
	RemoveContents(r model.Resource) error

	State() *State
	States() []*State
	SetState(s *State) error

	Parent() Element
	Children() []Element

	// Supplier returns the element wired to supply commodity c, or nil.
	Supplier(c model.CommodityType) Element
	// Counterparts lists suppliers and customers in wiring order.
	Counterparts() []Element

	// Flows returns the latched flows.
	Flows() Flows
	NetFlow(loc model.Location, dt time.Duration) model.Resource
	NetExchange(other Element, dt time.Duration) model.Resource

	Time() time.Time
	Initialize(t time.Time) error
	Iterate(dt time.Duration) error
	Latch()
	Tick(dt time.Duration) error
	Tock(dt time.Duration) error
}

// Leaf is a non-composite element.
type Leaf struct {
	name     string
	location model.Location

	states          []*State
	initial         *State
	initialContents model.Resource

	state    *State
	contents model.Resource
	now      time.Time

	parent       Element
	suppliers    [model.NumCommodities]Element
	counterparts []Element

	current Flows
	next    Flows
}

// LeafOption customises Leaf construction.
type LeafOption func(*Leaf)

// WithStates declares additional states the element may enter.
func WithStates(states ...*State) LeafOption {
	return func(l *Leaf) {
		for _, s := range states {
			l.declare(s)
		}
	}
}

// WithContents sets the inventory the element starts every run with.
func WithContents(r model.Resource) LeafOption {
	return func(l *Leaf) {
		l.initialContents = r
		l.contents = r
	}
}

// NewLeaf constructs an element starting in initial. A nil initial state
// is replaced by an inert null state.
func NewLeaf(name string, loc model.Location, initial *State, opts ...LeafOption) *Leaf {
	if initial == nil {
		initial = NewNullState("null")
	}
	l := &Leaf{
		name:     name,
		location: loc,
		initial:  initial,
		state:    initial,
		current:  newFlows(0),
		next:     newFlows(0),
	}
	l.declare(initial)
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

func (l *Leaf) declare(s *State) {
	if s == nil || l.declares(s) {
		return
	}
	l.states = append(l.states, s)
}

func (l *Leaf) declares(s *State) bool {
	for _, d := range l.states {
		if d == s {
			return true
		}
	}
	return false
}

func (l *Leaf) Name() string             { return l.name }
func (l *Leaf) Location() model.Location { return l.location }
func (l *Leaf) Contents() model.Resource { return l.contents }
func (l *Leaf) State() *State            { return l.state }
func (l *Leaf) Parent() Element          { return l.parent }
func (l *Leaf) Children() []Element      { return nil }
func (l *Leaf) Flows() Flows             { return l.current }
func (l *Leaf) Time() time.Time          { return l.now }
func (l *Leaf) InitialState() *State     { return l.initial }
func (l *Leaf) String() string           { return l.name + "@" + l.location.String() }

func (l *Leaf) States() []*State {
	return append([]*State(nil), l.states...)
}

// StateByName returns the declared state with the given name, or nil.
func (l *Leaf) StateByName(name string) *State {
	for _, s := range l.states {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func (l *Leaf) AddContents(r model.Resource) error {
	l.contents = l.contents.Add(r)
	return nil
}

// RemoveContents fails rather than let any component of the inventory go
// meaningfully negative; floating-point residue is truncated.
func (l *Leaf) RemoveContents(r model.Resource) error {
	remaining := l.contents.Subtract(r)
	if !remaining.TruncateNegative().IsZero() {
		return fmt.Errorf("%w: %q holds %s, asked for %s", ErrInsufficientContents, l.name, l.contents, r)
	}
	l.contents = remaining.TruncatePositive()
	return nil
}

func (l *Leaf) SetState(s *State) error {
	if !l.declares(s) {
		return fmt.Errorf("%w: %q has no state %v", ErrUndeclaredState, l.name, s)
	}
	if s != l.state {
		l.state = s
		s.enter()
	}
	return nil
}

func (l *Leaf) Supplier(c model.CommodityType) Element {
	if !c.Valid() {
		return nil
	}
	return l.suppliers[c]
}

func (l *Leaf) Counterparts() []Element {
	return append([]Element(nil), l.counterparts...)
}

func (l *Leaf) addCounterpart(e Element) {
	for _, c := range l.counterparts {
		if c == e {
			return
		}
	}
	l.counterparts = append(l.counterparts, e)
}

// NetFlow is the signed quantity l contributes at loc over dt: its own
// imbalance at its Location, minus what it draws in at its origin node,
// plus what it delivers at its destination node.
func (l *Leaf) NetFlow(loc model.Location, dt time.Duration) model.Resource {
	f := l.current.Scaled(dt)
	var net model.Resource
	if loc == l.location {
		net = net.Add(f.Imbalance())
	}
	if loc == l.location.OriginNode() {
		net = net.Subtract(f.Input)
	}
	if loc == l.location.DestinationNode() {
		net = net.Add(f.Output)
	}
	return net
}

// NetExchange is what l sent to other minus what it received from other.
// An aggregate counterpart is expanded to its leaves.
func (l *Leaf) NetExchange(other Element, dt time.Duration) model.Resource {
	if agg, ok := other.(*Aggregate); ok {
		var net model.Resource
		for _, leaf := range agg.Leaves() {
			net = net.Add(l.NetExchange(leaf, dt))
		}
		return net
	}
	f := l.current.Scaled(dt)
	return f.SentTo(other.Name()).Subtract(f.ReceivedFrom(other.Name()))
}

// Initialize resets the element to its initial state and inventory so a
// scenario can be replayed from the start.
func (l *Leaf) Initialize(t time.Time) error {
	l.now = t
	l.contents = l.initialContents
	l.current = newFlows(0)
	l.next = newFlows(0)
	l.state = l.initial
	for _, s := range l.states {
		s.reset()
	}
	return nil
}

func (l *Leaf) Iterate(dt time.Duration) error {
	s := l.state
	f := newFlows(dt)
	f.Produced = s.Produced(l, dt)
	f.Consumed = s.Consumed(l, dt)
	f.Input = s.Input(l, dt)
	f.Output = s.Output(l, dt)
	for _, other := range l.counterparts {
		if sent := s.SentTo(l, other, dt); !sent.IsZero() {
			f.Sent[other.Name()] = sent
		}
		if received := s.ReceivedFrom(l, other, dt); !received.IsZero() {
			f.Received[other.Name()] = received
		}
	}
	f.Stored = s.Stored(l, dt)
	f.Retrieved = s.Retrieved(l, dt)
	l.next = f
	return nil
}

func (l *Leaf) Latch() {
	l.current = l.next
}

func (l *Leaf) Tick(dt time.Duration) error {
	if err := l.state.Tick(l, dt); err != nil {
		return fmt.Errorf("tick %q: %w", l.name, err)
	}
	return nil
}

func (l *Leaf) Tock(dt time.Duration) error {
	if err := l.state.Tock(l); err != nil {
		return fmt.Errorf("tock %q: %w", l.name, err)
	}
	l.now = l.now.Add(dt)
	return nil
}

// Connect wires supplier as consumer's source of commodity c. Both must be
// leaves; wiring happens once, at scenario build time.
func Connect(consumer Element, c model.CommodityType, supplier Element) error {
	cl, ok := consumer.(*Leaf)
	if !ok {
		return fmt.Errorf("%w: consumer %q is not a leaf element", ErrIllegalOperation, consumer.Name())
	}
	sl, ok := supplier.(*Leaf)
	if !ok {
		return fmt.Errorf("%w: supplier %q is not a leaf element", ErrIllegalOperation, supplier.Name())
	}
	if cl == sl {
		return fmt.Errorf("%w: %q cannot supply itself", ErrInvalidScenario, cl.name)
	}
	if !c.Valid() {
		return fmt.Errorf("%w: commodity %v", ErrInvalidScenario, c)
	}
	if prev := cl.suppliers[c]; prev != nil && prev != supplier {
		return fmt.Errorf("%w: %q already supplied with %v by %q", ErrInvalidScenario, cl.name, c, prev.Name())
	}
	cl.suppliers[c] = sl
	cl.addCounterpart(sl)
	sl.addCounterpart(cl)
	return nil
}
