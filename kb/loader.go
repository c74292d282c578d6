package kb

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/infrastructure-simulator/core"
	"github.com/signalsfoundry/infrastructure-simulator/model"
)

// ScenarioFile is the YAML shape of a scenario.
type ScenarioFile struct {
	Name       string          `yaml:"name"`
	StartTime  string          `yaml:"start_time"`
	Locations  []string        `yaml:"locations,omitempty"`
	Elements   []ElementSpec   `yaml:"elements"`
	Aggregates []AggregateSpec `yaml:"aggregates,omitempty"`
}

type ElementSpec struct {
	Name         string            `yaml:"name"`
	Location     string            `yaml:"location"`
	Contents     ResourceSpec      `yaml:"contents,omitempty"`
	InitialState string            `yaml:"initial_state,omitempty"`
	States       []StateSpec       `yaml:"states,omitempty"`
	Suppliers    map[string]string `yaml:"suppliers,omitempty"`
}

type StateSpec struct {
	Name            string                  `yaml:"name"`
	Kind            string                  `yaml:"kind"`
	BaseConsumption ResourceSpec            `yaml:"base_consumption,omitempty"`
	Input           ResourceSpec            `yaml:"input,omitempty"`
	Output          ResourceSpec            `yaml:"output,omitempty"`
	TimeInState     time.Duration           `yaml:"time_in_state,omitempty"`
	NextState       string                  `yaml:"next_state,omitempty"`
	Rate            ResourceSpec            `yaml:"rate,omitempty"`
	Consumption     map[string]ResourceSpec `yaml:"consumption,omitempty"`
	FollowDemand    bool                    `yaml:"follow_demand,omitempty"`
}

type AggregateSpec struct {
	Name     string   `yaml:"name"`
	Location string   `yaml:"location"`
	Children []string `yaml:"children"`
}

// ResourceSpec maps commodity names to quantities.
type ResourceSpec map[string]float64

func (r ResourceSpec) resource() (model.Resource, error) {
	q := make(map[model.CommodityType]float64, len(r))
	for name, v := range r {
		c, err := model.ParseCommodity(name)
		if err != nil {
			return model.Resource{}, err
		}
		q[c] += v
	}
	return model.NewResource(q), nil
}

// Loaded is the result of LoadScenario.
type Loaded struct {
	Scenario *core.Scenario
	KB       *KnowledgeBase
}

// LoadScenarioFile reads and builds the scenario at path.
func LoadScenarioFile(path string) (*Loaded, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadScenario(f)
}

// LoadScenario decodes a YAML scenario, registers its elements in a fresh
// KB, wires suppliers by name and freezes the result.
func LoadScenario(r io.Reader) (*Loaded, error) {
	var file ScenarioFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("scenario: decode failed: %w", err)
	}
	return Build(file)
}

// Build constructs the scenario described by file.
func Build(file ScenarioFile) (*Loaded, error) {
	if strings.TrimSpace(file.Name) == "" {
		return nil, fmt.Errorf("%w: scenario name is required", ErrInvalidScenario)
	}
	start := time.Unix(0, 0).UTC()
	if file.StartTime != "" {
		t, err := time.Parse(time.RFC3339, file.StartTime)
		if err != nil {
			return nil, fmt.Errorf("%w: start_time: %v", ErrInvalidScenario, err)
		}
		start = t
	}

	locations := make([]model.Location, 0, len(file.Locations))
	for _, s := range file.Locations {
		l, err := model.ParseLocation(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
		}
		locations = append(locations, l)
	}

	kb := NewKnowledgeBase()
	leaves := make(map[string]core.Element, len(file.Elements))
	for _, spec := range file.Elements {
		leaf, err := buildLeaf(spec)
		if err != nil {
			return nil, err
		}
		leaves[spec.Name] = leaf
	}

	// Aggregates are declared after the elements they group and may nest
	// earlier aggregates.
	grouped := make(map[string]bool)
	aggs := make(map[string]core.Element)
	var aggOrder []string
	for _, spec := range file.Aggregates {
		loc, err := model.ParseLocation(spec.Location)
		if err != nil {
			return nil, fmt.Errorf("%w: aggregate %q: %v", ErrInvalidScenario, spec.Name, err)
		}
		if _, dup := aggs[spec.Name]; dup {
			return nil, fmt.Errorf("%w: aggregate %q", ErrElementExists, spec.Name)
		}
		children := make([]core.Element, 0, len(spec.Children))
		for _, name := range spec.Children {
			child, ok := leaves[name]
			if !ok {
				child, ok = aggs[name]
			}
			if !ok {
				return nil, fmt.Errorf("%w: child %q of aggregate %q", ErrElementNotFound, name, spec.Name)
			}
			children = append(children, child)
			grouped[name] = true
		}
		agg, err := core.NewAggregate(spec.Name, loc, children...)
		if err != nil {
			return nil, err
		}
		aggs[spec.Name] = agg
		aggOrder = append(aggOrder, spec.Name)
	}

	// Register top-level roots; AddElement walks their children.
	for _, spec := range file.Elements {
		if grouped[spec.Name] {
			continue
		}
		if err := kb.AddElement(leaves[spec.Name]); err != nil {
			return nil, err
		}
	}
	for _, name := range aggOrder {
		if grouped[name] {
			continue
		}
		if err := kb.AddElement(aggs[name]); err != nil {
			return nil, err
		}
	}

	// Wire in commodity order so counterpart order, and with it every
	// floating-point sum, is the same on every load.
	for _, spec := range file.Elements {
		wiring := make(map[model.CommodityType]string, len(spec.Suppliers))
		for cname, supplier := range spec.Suppliers {
			c, err := model.ParseCommodity(cname)
			if err != nil {
				return nil, fmt.Errorf("%w: %q suppliers: %v", ErrInvalidScenario, spec.Name, err)
			}
			if prev, dup := wiring[c]; dup && prev != supplier {
				return nil, fmt.Errorf("%w: %q lists two %v suppliers", ErrInvalidScenario, spec.Name, c)
			}
			wiring[c] = supplier
		}
		for _, c := range model.Commodities() {
			supplier, ok := wiring[c]
			if !ok {
				continue
			}
			if err := kb.Connect(spec.Name, c, supplier); err != nil {
				return nil, err
			}
		}
	}

	scenario, err := kb.Scenario(file.Name, start, locations)
	if err != nil {
		return nil, err
	}
	return &Loaded{Scenario: scenario, KB: kb}, nil
}

func buildLeaf(spec ElementSpec) (*core.Leaf, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, fmt.Errorf("%w: element with empty name", ErrInvalidScenario)
	}
	loc, err := model.ParseLocation(spec.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: element %q: %v", ErrInvalidScenario, spec.Name, err)
	}
	contents, err := spec.Contents.resource()
	if err != nil {
		return nil, fmt.Errorf("%w: element %q contents: %v", ErrInvalidScenario, spec.Name, err)
	}
	if !contents.TruncateNegative().IsZero() {
		return nil, fmt.Errorf("%w: element %q has negative contents %s", ErrInvalidScenario, spec.Name, contents)
	}

	states := make([]*core.State, 0, len(spec.States))
	byName := make(map[string]*core.State, len(spec.States))
	for _, ss := range spec.States {
		if _, dup := byName[ss.Name]; dup || ss.Name == "" {
			return nil, fmt.Errorf("%w: element %q: state name %q must be unique and non-empty", ErrInvalidScenario, spec.Name, ss.Name)
		}
		s, err := buildState(ss)
		if err != nil {
			return nil, fmt.Errorf("%w: element %q state %q: %v", ErrInvalidScenario, spec.Name, ss.Name, err)
		}
		states = append(states, s)
		byName[ss.Name] = s
	}

	// Next states may reference any state of the element, so resolve them
	// once all exist.
	for _, ss := range spec.States {
		if ss.NextState == "" {
			continue
		}
		next, ok := byName[ss.NextState]
		if !ok {
			return nil, fmt.Errorf("%w: element %q state %q: unknown next_state %q", ErrInvalidScenario, spec.Name, ss.Name, ss.NextState)
		}
		if err := byName[ss.Name].SetNextState(next); err != nil {
			return nil, fmt.Errorf("%w: element %q state %q: %v", ErrInvalidScenario, spec.Name, ss.Name, err)
		}
	}

	var initial *core.State
	switch {
	case spec.InitialState != "":
		initial = byName[spec.InitialState]
		if initial == nil {
			return nil, fmt.Errorf("%w: element %q: unknown initial_state %q", ErrInvalidScenario, spec.Name, spec.InitialState)
		}
	case len(states) > 0:
		initial = states[0]
	}
	return core.NewLeaf(spec.Name, loc, initial, core.WithStates(states...), core.WithContents(contents)), nil
}

func buildState(ss StateSpec) (*core.State, error) {
	base, err := ss.BaseConsumption.resource()
	if err != nil {
		return nil, err
	}
	input, err := ss.Input.resource()
	if err != nil {
		return nil, err
	}
	output, err := ss.Output.resource()
	if err != nil {
		return nil, err
	}
	if ss.TimeInState < 0 {
		return nil, fmt.Errorf("negative time_in_state %s", ss.TimeInState)
	}
	opts := []core.StateOption{core.WithBaseConsumption(base), core.WithTransport(input, output)}

	kind := strings.ToLower(strings.TrimSpace(ss.Kind))
	switch kind {
	case "null", "idle":
		return core.NewNullState(ss.Name), nil
	case "", "default":
		return core.NewDefaultState(ss.Name, opts...), nil
	case "operating":
		return core.NewOperatingState(ss.Name, ss.TimeInState, nil, opts...), nil
	case "producing":
		rate, err := ss.Rate.resource()
		if err != nil {
			return nil, err
		}
		if !rate.TruncateNegative().IsZero() {
			return nil, fmt.Errorf("negative rate %s", rate)
		}
		rows := make(map[model.CommodityType]model.Resource, len(ss.Consumption))
		for product, row := range ss.Consumption {
			c, err := model.ParseCommodity(product)
			if err != nil {
				return nil, err
			}
			r, err := row.resource()
			if err != nil {
				return nil, err
			}
			rows[c] = r
		}
		if ss.FollowDemand {
			opts = append(opts, core.WithDemandFollowing())
		}
		return core.NewProducingState(ss.Name, ss.TimeInState, nil, rate, model.NewResourceMatrix(rows), opts...), nil
	default:
		return nil, fmt.Errorf("unknown state kind %q", ss.Kind)
	}
}
