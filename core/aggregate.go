package core

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/infrastructure-simulator/model"
)

// Aggregate is a composite element. Its inventory and flows are derived
// from its children, it forwards every lifecycle call to them, and it
// refuses direct inventory mutation or state reassignment.
type Aggregate struct {
	name     string
	location model.Location
	children []Element
	parent   Element
	null     *State
	now      time.Time
}

// NewAggregate composes children under name. A child may only belong to
// one aggregate.
func NewAggregate(name string, loc model.Location, children ...Element) (*Aggregate, error) {
	a := &Aggregate{
		name:     name,
		location: loc,
		null:     NewNullState("aggregate"),
	}
	for _, child := range children {
		if child == nil {
			continue
		}
		if p := child.Parent(); p != nil {
			return nil, fmt.Errorf("%w: %q already belongs to %q", ErrInvalidScenario, child.Name(), p.Name())
		}
		switch c := child.(type) {
		case *Leaf:
			c.parent = a
		case *Aggregate:
			c.parent = a
		}
		a.children = append(a.children, child)
	}
	return a, nil
}

func (a *Aggregate) Name() string             { return a.name }
func (a *Aggregate) Location() model.Location { return a.location }
func (a *Aggregate) Parent() Element          { return a.parent }
func (a *Aggregate) State() *State            { return a.null }
func (a *Aggregate) States() []*State         { return []*State{a.null} }
func (a *Aggregate) Time() time.Time          { return a.now }
func (a *Aggregate) String() string           { return a.name + "@" + a.location.String() }

func (a *Aggregate) Children() []Element {
	return append([]Element(nil), a.children...)
}

// Leaves returns every leaf below a, depth first.
func (a *Aggregate) Leaves() []*Leaf {
	return Leaves(a.children)
}

// Contents is the sum of the children's inventories.
func (a *Aggregate) Contents() model.Resource {
	var total model.Resource
	for _, c := range a.children {
		total = total.Add(c.Contents())
	}
	return total
}

func (a *Aggregate) AddContents(model.Resource) error {
	return fmt.Errorf("%w: cannot add contents to aggregate %q", ErrIllegalOperation, a.name)
}

func (a *Aggregate) RemoveContents(model.Resource) error {
	return fmt.Errorf("%w: cannot remove contents from aggregate %q", ErrIllegalOperation, a.name)
}

func (a *Aggregate) SetState(*State) error {
	return fmt.Errorf("%w: cannot set state of aggregate %q", ErrIllegalOperation, a.name)
}

// Supplier is always nil; only leaves are wired.
func (a *Aggregate) Supplier(model.CommodityType) Element { return nil }

// Counterparts is always empty; only leaves are wired.
func (a *Aggregate) Counterparts() []Element { return nil }

// Flows merges the children's latched flows.
func (a *Aggregate) Flows() Flows {
	out := newFlows(0)
	for _, c := range a.children {
		out = out.merge(c.Flows())
	}
	return out
}

func (a *Aggregate) NetFlow(loc model.Location, dt time.Duration) model.Resource {
	var net model.Resource
	for _, c := range a.children {
		net = net.Add(c.NetFlow(loc, dt))
	}
	return net
}

func (a *Aggregate) NetExchange(other Element, dt time.Duration) model.Resource {
	var net model.Resource
	for _, c := range a.children {
		net = net.Add(c.NetExchange(other, dt))
	}
	return net
}

func (a *Aggregate) Initialize(t time.Time) error {
	a.now = t
	for _, c := range a.children {
		if err := c.Initialize(t); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregate) Iterate(dt time.Duration) error {
	for _, c := range a.children {
		if err := c.Iterate(dt); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregate) Latch() {
	for _, c := range a.children {
		c.Latch()
	}
}

func (a *Aggregate) Tick(dt time.Duration) error {
	for _, c := range a.children {
		if err := c.Tick(dt); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregate) Tock(dt time.Duration) error {
	for _, c := range a.children {
		if err := c.Tock(dt); err != nil {
			return err
		}
	}
	a.now = a.now.Add(dt)
	return nil
}

// Leaves flattens elements to their leaves, depth first, preserving order.
func Leaves(elements []Element) []*Leaf {
	var out []*Leaf
	for _, e := range elements {
		switch v := e.(type) {
		case *Leaf:
			out = append(out, v)
		case *Aggregate:
			out = append(out, v.Leaves()...)
		}
	}
	return out
}
