package kb

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/infrastructure-simulator/core"
	"github.com/signalsfoundry/infrastructure-simulator/model"
)

const cyclicYAML = `
name: two-node
start_time: 2025-01-01T00:00:00Z
locations: [x, y]
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
    location: y->x
    initial_state: refining
    states:
      - name: standby
        kind: "null"
      - name: refining
        kind: producing
        rate: {oil: 5}
        consumption:
          oil: {electricity: 0.2}
        time_in_state: 10s
        next_state: standby
    suppliers:
      power: power-plant
  - name: town
    location: y
    contents: {water: 4}
    states:
      - name: living
        base_consumption: {electricity: 3}
    suppliers:
      electricity: power-plant
aggregates:
  - name: energy-park
    location: x->y
    children: [power-plant, refinery]
`

func TestLoadScenario(t *testing.T) {
	loaded, err := LoadScenario(strings.NewReader(cyclicYAML))
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	s := loaded.Scenario
	if s.Name() != "two-node" {
		t.Fatalf("name = %q", s.Name())
	}
	if want := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC); !s.StartTime().Equal(want) {
		t.Fatalf("start = %v, want %v", s.StartTime(), want)
	}

	top := s.Elements()
	if len(top) != 2 || top[0].Name() != "town" || top[1].Name() != "energy-park" {
		names := make([]string, 0, len(top))
		for _, e := range top {
			names = append(names, e.Name())
		}
		t.Fatalf("top-level = %v, want [town energy-park]", names)
	}
	if len(s.Leaves()) != 3 {
		t.Fatalf("leaves = %d, want 3", len(s.Leaves()))
	}

	refinery, ok := s.Element("refinery").(*core.Leaf)
	if !ok {
		t.Fatalf("refinery is %T", s.Element("refinery"))
	}
	if refinery.State().Name() != "refining" {
		t.Fatalf("initial state = %v", refinery.State())
	}
	if next := refinery.State().NextState(); next == nil || next.Name() != "standby" {
		t.Fatalf("next state = %v", next)
	}
	if got := refinery.State().TimeInState(); got != 10*time.Second {
		t.Fatalf("time_in_state = %v", got)
	}
	if sup := refinery.Supplier(model.Electricity); sup == nil || sup.Name() != "power-plant" {
		t.Fatalf("refinery electricity supplier = %v", sup)
	}
	if got := s.Element("town").Contents(); !got.Equal(model.Of(model.Water, 4)) {
		t.Fatalf("town contents = %v", got)
	}
	if loaded.KB.Get("energy-park") == nil {
		t.Fatalf("aggregate not registered in KB")
	}
}

func TestLoadedScenarioRuns(t *testing.T) {
	loaded, err := LoadScenario(strings.NewReader(cyclicYAML))
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	s := loaded.Scenario
	elems := s.Elements()
	if err := core.Initialize(elems, s.StartTime()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	cfg := core.StepConfig{Rounds: 2, Duration: time.Second}
	for range 3 {
		if err := core.RunStep(elems, cfg); err != nil {
			t.Fatalf("RunStep: %v", err)
		}
	}
	// 10 produced, 1 to the refinery, 3 to the town.
	if got := s.Element("power-plant").Contents(); !got.Equal(model.Of(model.Electricity, 18)) {
		t.Fatalf("plant contents = %v, want 18 electricity", got)
	}
}

func TestLoadScenarioErrors(t *testing.T) {
	cases := map[string]struct {
		yaml string
		want error
	}{
		"unknown supplier": {
			yaml: `
name: s
elements:
  - name: a
    location: x
    suppliers: {oil: ghost}
`,
			want: ErrElementNotFound,
		},
		"duplicate element": {
			yaml: `
name: s
elements:
  - {name: a, location: x}
  - {name: a, location: y}
`,
			want: ErrElementExists,
		},
		"negative contents": {
			yaml: `
name: s
elements:
  - name: a
    location: x
    contents: {water: -1}
`,
			want: ErrInvalidScenario,
		},
		"unknown next state": {
			yaml: `
name: s
elements:
  - name: a
    location: x
    states:
      - {name: warm, kind: operating, time_in_state: 1s, next_state: hot}
`,
			want: ErrInvalidScenario,
		},
		"bad kind": {
			yaml: `
name: s
elements:
  - name: a
    location: x
    states:
      - {name: warm, kind: exploding}
`,
			want: ErrInvalidScenario,
		},
		"bad location": {
			yaml: `
name: s
elements:
  - {name: a, location: "x->"}
`,
			want: ErrInvalidScenario,
		},
		"missing name": {
			yaml: `
elements:
  - {name: a, location: x}
`,
			want: ErrInvalidScenario,
		},
		"unknown aggregate child": {
			yaml: `
name: s
elements:
  - {name: a, location: x}
aggregates:
  - {name: g, location: x, children: [a, b]}
`,
			want: ErrElementNotFound,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadScenario(strings.NewReader(tc.yaml))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadScenarioRejectsUnknownFields(t *testing.T) {
	_, err := LoadScenario(strings.NewReader("name: s\nelemnts: []\n"))
	if err == nil {
		t.Fatalf("expected decode error for unknown field")
	}
}

func TestSampleScenariosRun(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "configs", "*.yaml"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(paths) == 0 {
		t.Fatalf("no sample scenarios found")
	}
	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			loaded, err := LoadScenarioFile(path)
			if err != nil {
				t.Fatalf("LoadScenarioFile: %v", err)
			}
			s := loaded.Scenario
			elems := s.Elements()
			if err := core.Initialize(elems, s.StartTime()); err != nil {
				t.Fatalf("Initialize: %v", err)
			}
			cfg := core.StepConfig{Rounds: 2, Duration: 15 * time.Minute}
			for step := 0; step < 96; step++ {
				if err := core.RunStep(elems, cfg); err != nil {
					t.Fatalf("step %d: %v", step+1, err)
				}
			}
		})
	}
}
