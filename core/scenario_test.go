package core

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/signalsfoundry/infrastructure-simulator/model"
)

func TestNewScenarioDerivesLocations(t *testing.T) {
	p := newCyclicPair(t, true)
	declared := []model.Location{model.Nodal("z")}
	s, err := NewScenario("grid", testStart, declared, p.elements())
	if err != nil {
		t.Fatalf("NewScenario: %v", err)
	}

	want := []model.Location{
		model.Nodal("z"),
		model.NewLocation("x", "y"),
		model.Nodal("x"),
		model.Nodal("y"),
		model.NewLocation("y", "x"),
	}
	if diff := cmp.Diff(want, s.Locations()); diff != "" {
		t.Fatalf("locations mismatch (-want +got):\n%s", diff)
	}
	if s.Element("refinery") != p.refinery {
		t.Fatalf("Element lookup failed")
	}
	if s.Element("missing") != nil {
		t.Fatalf("expected nil for unknown element")
	}
	if !s.StartTime().Equal(testStart) || s.Name() != "grid" {
		t.Fatalf("unexpected scenario header %q %v", s.Name(), s.StartTime())
	}
}

func TestNewScenarioValidation(t *testing.T) {
	a := NewLeaf("a", model.Nodal("x"), nil)
	dup := NewLeaf("a", model.Nodal("y"), nil)
	if _, err := NewScenario("dup", testStart, nil, []Element{a, dup}); !errors.Is(err, ErrInvalidScenario) {
		t.Fatalf("duplicate names: expected ErrInvalidScenario, got %v", err)
	}

	unnamed := NewLeaf("", model.Nodal("x"), nil)
	if _, err := NewScenario("unnamed", testStart, nil, []Element{unnamed}); !errors.Is(err, ErrInvalidScenario) {
		t.Fatalf("empty name: expected ErrInvalidScenario, got %v", err)
	}

	consumer := NewLeaf("consumer", model.Nodal("x"), nil)
	outside := NewLeaf("outside", model.Nodal("x"), nil)
	mustConnect(t, consumer, model.Water, outside)
	if _, err := NewScenario("dangling", testStart, nil, []Element{consumer}); !errors.Is(err, ErrInvalidScenario) {
		t.Fatalf("dangling counterpart: expected ErrInvalidScenario, got %v", err)
	}
}

func TestStateCapabilities(t *testing.T) {
	cases := []struct {
		state *State
		has   Capability
		lacks Capability
	}{
		{NewNullState("n"), 0, CapTransform | CapStore | CapExchange},
		{NewDefaultState("d"), CapTransform | CapStore | CapTransport | CapExchange, CapTransition},
		{NewOperatingState("o", 0, nil), CapTransition, CapProduction},
		{NewProducingState("p", 0, nil, model.Resource{}, model.ResourceMatrix{}), CapTransition | CapProduction, 0},
	}
	for _, tc := range cases {
		if !tc.state.Has(tc.has) {
			t.Fatalf("%s should have %b", tc.state, tc.has)
		}
		if tc.lacks != 0 && tc.state.Has(tc.lacks) {
			t.Fatalf("%s should lack %b", tc.state, tc.lacks)
		}
	}
}

func TestProducingConsumesPerUnitProduced(t *testing.T) {
	s := NewProducingState("smelting", 0, nil,
		model.Of(model.Electricity, 2),
		model.NewResourceMatrix(map[model.CommodityType]model.Resource{
			model.Electricity: model.Of(model.Water, 3),
		}),
		WithBaseConsumption(model.Of(model.People, 1)),
	)
	e := NewLeaf("smelter", model.Nodal("x"), s)

	got := s.Consumed(e, 2*time.Second)
	want := model.Of(model.Water, 12).Add(model.Of(model.People, 2))
	if !got.Equal(want) {
		t.Fatalf("Consumed = %v, want %v", got, want)
	}

	null := NewNullState("off")
	if !null.Consumed(e, time.Second).IsZero() || !null.Stored(e, time.Second).IsZero() {
		t.Fatalf("null state must report zero flows")
	}
}
