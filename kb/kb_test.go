package kb

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/infrastructure-simulator/core"
	"github.com/signalsfoundry/infrastructure-simulator/model"
)

func leaf(name, loc string) *core.Leaf {
	l, err := model.ParseLocation(loc)
	if err != nil {
		panic(err)
	}
	return core.NewLeaf(name, l, core.NewDefaultState("on"))
}

func TestAddAndGetElement(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddElement(leaf("plant", "x")); err != nil {
		t.Fatalf("AddElement error: %v", err)
	}
	got := store.Get("plant")
	if got == nil || got.Name() != "plant" {
		t.Fatalf("Get returned %v, want plant", got)
	}
	if _, err := store.Lookup("missing"); !errors.Is(err, ErrElementNotFound) {
		t.Fatalf("Lookup(missing): expected ErrElementNotFound, got %v", err)
	}
}

func TestAddElementDuplicate(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddElement(leaf("plant", "x")); err != nil {
		t.Fatalf("first AddElement error: %v", err)
	}
	if err := store.AddElement(leaf("plant", "y")); !errors.Is(err, ErrElementExists) {
		t.Fatalf("expected ErrElementExists, got %v", err)
	}

	// A clash anywhere inside an aggregate rejects the whole tree.
	agg, err := core.NewAggregate("park", model.Nodal("x"), leaf("turbine", "x"), leaf("plant", "x"))
	if err != nil {
		t.Fatalf("NewAggregate: %v", err)
	}
	if err := store.AddElement(agg); !errors.Is(err, ErrElementExists) {
		t.Fatalf("expected ErrElementExists for nested clash, got %v", err)
	}
	if store.Get("turbine") != nil || store.Get("park") != nil {
		t.Fatalf("rejected tree must not be partially registered")
	}
}

func TestAggregateRegistersChildren(t *testing.T) {
	store := NewKnowledgeBase()
	a, b := leaf("a", "x"), leaf("b", "x")
	agg, err := core.NewAggregate("group", model.Nodal("x"), a, b)
	if err != nil {
		t.Fatalf("NewAggregate: %v", err)
	}
	if err := store.AddElement(agg); err != nil {
		t.Fatalf("AddElement: %v", err)
	}
	if got := len(store.List()); got != 3 {
		t.Fatalf("List len=%d, want 3", got)
	}
	top := store.TopLevel()
	if len(top) != 1 || top[0] != agg {
		t.Fatalf("TopLevel = %v, want [group]", top)
	}
}

func TestConnectByName(t *testing.T) {
	store := NewKnowledgeBase()
	for _, e := range []core.Element{leaf("plant", "x"), leaf("town", "x")} {
		if err := store.AddElement(e); err != nil {
			t.Fatalf("AddElement: %v", err)
		}
	}

	if err := store.Connect("town", model.Electricity, "nowhere"); !errors.Is(err, ErrElementNotFound) {
		t.Fatalf("expected ErrElementNotFound, got %v", err)
	}
	if err := store.Connect("town", model.Electricity, "plant"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if sup := store.Get("town").Supplier(model.Electricity); sup == nil || sup.Name() != "plant" {
		t.Fatalf("supplier = %v, want plant", sup)
	}
	if err := store.Connect("town", model.Electricity, "town"); !errors.Is(err, ErrInvalidScenario) {
		t.Fatalf("self supply: expected ErrInvalidScenario, got %v", err)
	}

	s, err := store.Scenario("grid", time.Unix(0, 0), nil)
	if err != nil {
		t.Fatalf("Scenario: %v", err)
	}
	if got := len(s.Elements()); got != 2 {
		t.Fatalf("scenario elements=%d, want 2", got)
	}
}

func TestEmptyScenarioRejected(t *testing.T) {
	if _, err := NewKnowledgeBase().Scenario("empty", time.Unix(0, 0), nil); !errors.Is(err, ErrInvalidScenario) {
		t.Fatalf("expected ErrInvalidScenario, got %v", err)
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	store := NewKnowledgeBase()

	var mu sync.Mutex
	var events []Event
	unsubscribe := store.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	if err := store.AddElement(leaf("plant", "x")); err != nil {
		t.Fatalf("AddElement: %v", err)
	}
	if err := store.AddElement(leaf("town", "x")); err != nil {
		t.Fatalf("AddElement: %v", err)
	}
	if err := store.Connect("town", model.Water, "plant"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	mu.Lock()
	if len(events) != 3 {
		mu.Unlock()
		t.Fatalf("got %d events, want 3", len(events))
	}
	last := events[2]
	mu.Unlock()
	if last.Type != EventSupplierConnected || last.Element != "town" || last.Supplier != "plant" || last.Commodity != model.Water {
		t.Fatalf("unexpected connect event %+v", last)
	}

	unsubscribe()
	if err := store.AddElement(leaf("depot", "x")); err != nil {
		t.Fatalf("AddElement: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 3 {
		t.Fatalf("received event after unsubscribe")
	}
}

func TestConcurrentAdds(t *testing.T) {
	store := NewKnowledgeBase()
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.AddElement(leaf(fmt.Sprintf("e-%d", i), "x")); err != nil {
				t.Errorf("AddElement: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := len(store.List()); got != 16 {
		t.Fatalf("List len=%d, want 16", got)
	}
}
