package kb

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/infrastructure-simulator/core"
	"github.com/signalsfoundry/infrastructure-simulator/model"
)

var (
	ErrElementExists   = errors.New("element already exists")
	ErrElementNotFound = errors.New("element not found")
	// ErrInvalidScenario is core's sentinel, so callers can match either.
	ErrInvalidScenario = core.ErrInvalidScenario
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventElementAdded EventType = iota
	EventSupplierConnected
)

// Event is emitted to subscribers when the topology changes.
type Event struct {
	Type      EventType
	Element   string
	Supplier  string
	Commodity model.CommodityType
}

// KnowledgeBase is the build-time, thread-safe registry of scenario
// elements and their supplier wiring. Once Scenario has been called the
// topology is frozen into a core.Scenario and the KB is no longer needed.
type KnowledgeBase struct {
	mu sync.RWMutex

	elements map[string]core.Element
	order    []string

	subs []func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		elements: make(map[string]core.Element),
	}
}

// AddElement registers e and, for an aggregate, every element below it.
// Names must be unique across the whole tree.
func (kb *KnowledgeBase) AddElement(e core.Element) error {
	if e == nil || e.Name() == "" {
		return fmt.Errorf("%w: element must have a name", ErrInvalidScenario)
	}

	kb.mu.Lock()
	var names []string
	var visit func(core.Element) error
	visit = func(el core.Element) error {
		if _, exists := kb.elements[el.Name()]; exists {
			return fmt.Errorf("%w: %q", ErrElementExists, el.Name())
		}
		for _, n := range names {
			if n == el.Name() {
				return fmt.Errorf("%w: %q appears twice", ErrElementExists, n)
			}
		}
		names = append(names, el.Name())
		for _, c := range el.Children() {
			if err := visit(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(e); err != nil {
		kb.mu.Unlock()
		return err
	}

	var register func(core.Element)
	register = func(el core.Element) {
		kb.elements[el.Name()] = el
		kb.order = append(kb.order, el.Name())
		for _, c := range el.Children() {
			register(c)
		}
	}
	register(e)
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	for _, n := range names {
		notify(subs, Event{Type: EventElementAdded, Element: n})
	}
	return nil
}

// Get returns the element with the given name, or nil if not found.
func (kb *KnowledgeBase) Get(name string) core.Element {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.elements[name]
}

// Lookup is Get with an error for unknown names.
func (kb *KnowledgeBase) Lookup(name string) (core.Element, error) {
	if e := kb.Get(name); e != nil {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrElementNotFound, name)
}

// List returns every registered element in registration order.
func (kb *KnowledgeBase) List() []core.Element {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]core.Element, 0, len(kb.order))
	for _, name := range kb.order {
		res = append(res, kb.elements[name])
	}
	return res
}

// TopLevel returns the registered elements without a parent, in
// registration order.
func (kb *KnowledgeBase) TopLevel() []core.Element {
	var res []core.Element
	for _, e := range kb.List() {
		if e.Parent() == nil {
			res = append(res, e)
		}
	}
	return res
}

// Connect wires the named supplier as the named consumer's source of c.
func (kb *KnowledgeBase) Connect(consumer string, c model.CommodityType, supplier string) error {
	kb.mu.Lock()
	ce, ok := kb.elements[consumer]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: consumer %q", ErrElementNotFound, consumer)
	}
	se, ok := kb.elements[supplier]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: supplier %q of %v for %q", ErrElementNotFound, supplier, c, consumer)
	}
	if err := core.Connect(ce, c, se); err != nil {
		kb.mu.Unlock()
		return err
	}
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	notify(subs, Event{Type: EventSupplierConnected, Element: consumer, Supplier: supplier, Commodity: c})
	return nil
}

// Scenario freezes the registered top-level elements into a core.Scenario.
func (kb *KnowledgeBase) Scenario(name string, start time.Time, locations []model.Location) (*core.Scenario, error) {
	top := kb.TopLevel()
	if len(top) == 0 {
		return nil, fmt.Errorf("%w: scenario %q has no elements", ErrInvalidScenario, name)
	}
	return core.NewScenario(name, start, locations, top)
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.subs = append(kb.subs, fn)
	idx := len(kb.subs) - 1

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		if idx < 0 || idx >= len(kb.subs) {
			return
		}
		kb.subs[idx] = nil
		idx = -1
	}
}

// notify runs outside the lock so callbacks may query the KB.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		if sub != nil {
			sub(ev)
		}
	}
}
