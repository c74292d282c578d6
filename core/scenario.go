package core

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/infrastructure-simulator/model"
)

// Scenario is a fixed topology: Locations, top-level elements and a start
// time. It does not change once constructed.
type Scenario struct {
	name      string
	start     time.Time
	locations []model.Location
	elements  []Element
	byName    map[string]Element
}

// NewScenario validates element names and derives the full Location set:
// the declared locations, then every element Location and its endpoint
// nodes in element order.
func NewScenario(name string, start time.Time, locations []model.Location, elements []Element) (*Scenario, error) {
	s := &Scenario{
		name:     name,
		start:    start,
		elements: append([]Element(nil), elements...),
		byName:   make(map[string]Element),
	}

	seen := make(map[model.Location]bool)
	addLocation := func(l model.Location) {
		if !seen[l] {
			seen[l] = true
			s.locations = append(s.locations, l)
		}
	}
	for _, l := range locations {
		addLocation(l)
	}

	var visit func(e Element) error
	visit = func(e Element) error {
		if e == nil {
			return fmt.Errorf("%w: nil element", ErrInvalidScenario)
		}
		if e.Name() == "" {
			return fmt.Errorf("%w: element with empty name", ErrInvalidScenario)
		}
		if _, dup := s.byName[e.Name()]; dup {
			return fmt.Errorf("%w: duplicate element name %q", ErrInvalidScenario, e.Name())
		}
		s.byName[e.Name()] = e
		loc := e.Location()
		addLocation(loc)
		addLocation(loc.OriginNode())
		addLocation(loc.DestinationNode())
		for _, c := range e.Children() {
			if err := visit(c); err != nil {
				return err
			}
		}
		return nil
	}
	for _, e := range s.elements {
		if err := visit(e); err != nil {
			return nil, err
		}
	}

	for _, leaf := range Leaves(s.elements) {
		for _, c := range leaf.Counterparts() {
			if s.byName[c.Name()] != c {
				return nil, fmt.Errorf("%w: %q is wired to %q, which is not part of the scenario", ErrInvalidScenario, leaf.Name(), c.Name())
			}
		}
	}
	return s, nil
}

func (s *Scenario) Name() string         { return s.name }
func (s *Scenario) StartTime() time.Time { return s.start }

// Locations returns every Location checked for conservation.
func (s *Scenario) Locations() []model.Location {
	return append([]model.Location(nil), s.locations...)
}

// Elements returns the top-level elements.
func (s *Scenario) Elements() []Element {
	return append([]Element(nil), s.elements...)
}

// Leaves returns every leaf element, depth first.
func (s *Scenario) Leaves() []*Leaf {
	return Leaves(s.elements)
}

// Element looks up any element, top-level or nested, by name.
func (s *Scenario) Element(name string) Element {
	return s.byName[name]
}
