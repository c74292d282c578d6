package core

import (
	"sort"
	"time"

	"github.com/signalsfoundry/infrastructure-simulator/model"
)

// Flows is one element's quantities for a step of length Duration, as
// computed in a relaxation round. Elements keep two of these: the tentative
// set being computed and the latched set every other element reads.
type Flows struct {
	Duration time.Duration

	Produced  model.Resource
	Consumed  model.Resource
	Stored    model.Resource
	Retrieved model.Resource
	Input     model.Resource
	Output    model.Resource

	// Sent and Received are keyed by counterpart element name.
	Sent     map[string]model.Resource
	Received map[string]model.Resource
}

func newFlows(dt time.Duration) Flows {
	return Flows{
		Duration: dt,
		Sent:     make(map[string]model.Resource),
		Received: make(map[string]model.Resource),
	}
}

// SentTo returns the quantity sent to the named counterpart.
func (f Flows) SentTo(name string) model.Resource { return f.Sent[name] }

// ReceivedFrom returns the quantity received from the named counterpart.
func (f Flows) ReceivedFrom(name string) model.Resource { return f.Received[name] }

// TotalSent sums Sent in name order so the result is reproducible.
func (f Flows) TotalSent() model.Resource { return sumSorted(f.Sent) }

// TotalReceived sums Received in name order.
func (f Flows) TotalReceived() model.Resource { return sumSorted(f.Received) }

// Imbalance is what the element cannot account for: zero when every unit
// produced, taken in or received was consumed, passed on or stored.
func (f Flows) Imbalance() model.Resource {
	return f.Produced.
		Add(f.Input).
		Add(f.Retrieved).
		Add(f.TotalReceived()).
		Subtract(f.Consumed).
		Subtract(f.Output).
		Subtract(f.Stored).
		Subtract(f.TotalSent())
}

// Scaled returns the flows rescaled linearly to dt. Flows with no duration
// are all zero and returned unchanged.
func (f Flows) Scaled(dt time.Duration) Flows {
	if f.Duration == 0 || f.Duration == dt {
		return f
	}
	k := float64(dt) / float64(f.Duration)
	out := Flows{
		Duration:  dt,
		Produced:  f.Produced.Multiply(k),
		Consumed:  f.Consumed.Multiply(k),
		Stored:    f.Stored.Multiply(k),
		Retrieved: f.Retrieved.Multiply(k),
		Input:     f.Input.Multiply(k),
		Output:    f.Output.Multiply(k),
		Sent:      make(map[string]model.Resource, len(f.Sent)),
		Received:  make(map[string]model.Resource, len(f.Received)),
	}
	for name, r := range f.Sent {
		out.Sent[name] = r.Multiply(k)
	}
	for name, r := range f.Received {
		out.Received[name] = r.Multiply(k)
	}
	return out
}

// merge adds o into f. Exchanges with the same counterpart are summed.
func (f Flows) merge(o Flows) Flows {
	if f.Duration == 0 {
		f.Duration = o.Duration
	}
	o = o.Scaled(f.Duration)
	out := Flows{
		Duration:  f.Duration,
		Produced:  f.Produced.Add(o.Produced),
		Consumed:  f.Consumed.Add(o.Consumed),
		Stored:    f.Stored.Add(o.Stored),
		Retrieved: f.Retrieved.Add(o.Retrieved),
		Input:     f.Input.Add(o.Input),
		Output:    f.Output.Add(o.Output),
		Sent:      make(map[string]model.Resource),
		Received:  make(map[string]model.Resource),
	}
	for _, m := range []map[string]model.Resource{f.Sent, o.Sent} {
		for name, r := range m {
			out.Sent[name] = out.Sent[name].Add(r)
		}
	}
	for _, m := range []map[string]model.Resource{f.Received, o.Received} {
		for name, r := range m {
			out.Received[name] = out.Received[name].Add(r)
		}
	}
	return out
}

func sumSorted(m map[string]model.Resource) model.Resource {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	var total model.Resource
	for _, name := range names {
		total = total.Add(m[name])
	}
	return total
}
