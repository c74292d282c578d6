package core

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/infrastructure-simulator/model"
)

// Capability behaviors shared by every kind. Each method returns zero when
// the state's kind does not override that capability.

func (s *State) Produced(e Element, dt time.Duration) model.Resource {
	if !s.Has(CapProduction) {
		return model.Resource{}
	}
	return s.rate.Multiply(dt.Seconds())
}

func (s *State) Consumed(e Element, dt time.Duration) model.Resource {
	if !s.Has(CapTransform) {
		return model.Resource{}
	}
	consumed := s.baseConsumption.Multiply(dt.Seconds())
	if s.Has(CapProduction) {
		consumed = consumed.Add(s.consumption.Multiply(s.Produced(e, dt)))
	}
	return consumed
}

// Transform is accounting only; it rejects negative quantities, which can
// only come from a misconfigured consumption matrix or rate.
func (s *State) Transform(e Element, consumed, produced model.Resource) error {
	if !s.Has(CapTransform) {
		return nil
	}
	if err := requireNonNegative(e, "consumed", consumed); err != nil {
		return err
	}
	return requireNonNegative(e, "produced", produced)
}

func (s *State) Input(e Element, dt time.Duration) model.Resource {
	if !s.Has(CapTransport) {
		return model.Resource{}
	}
	return s.inputRate.Multiply(dt.Seconds())
}

func (s *State) Output(e Element, dt time.Duration) model.Resource {
	if !s.Has(CapTransport) {
		return model.Resource{}
	}
	return s.outputRate.Multiply(dt.Seconds())
}

func (s *State) Transport(e Element, input, output model.Resource) error {
	if !s.Has(CapTransport) {
		return nil
	}
	if err := requireNonNegative(e, "input", input); err != nil {
		return err
	}
	return requireNonNegative(e, "output", output)
}

// SentTo returns what other asked of e in the last latched round.
func (s *State) SentTo(e, other Element, dt time.Duration) model.Resource {
	if !s.Has(CapExchange) || other == nil {
		return model.Resource{}
	}
	return other.Flows().Scaled(dt).ReceivedFrom(e.Name())
}

// ReceivedFrom returns the part of e's need that other is wired to supply.
func (s *State) ReceivedFrom(e, other Element, dt time.Duration) model.Resource {
	if !s.Has(CapExchange) || other == nil {
		return model.Resource{}
	}
	var supplied []model.CommodityType
	for _, c := range model.Commodities() {
		if sup := e.Supplier(c); sup != nil && sup.Name() == other.Name() {
			supplied = append(supplied, c)
		}
	}
	if len(supplied) == 0 {
		return model.Resource{}
	}
	return s.need(e, dt).Only(supplied...)
}

// Exchange validates that nonzero flows only cross abutting Locations:
// sending requires e's destination to be other's origin, receiving requires
// e's origin to be other's destination.
func (s *State) Exchange(e, other Element, sent, received model.Resource) error {
	if !s.Has(CapExchange) {
		return nil
	}
	if !sent.IsZero() && e.Location().Destination != other.Location().Origin {
		return &LocationMismatchError{
			Element:             e.Name(),
			ElementLocation:     e.Location(),
			Counterpart:         other.Name(),
			CounterpartLocation: other.Location(),
			Direction:           "sent",
			Quantity:            sent,
		}
	}
	if !received.IsZero() && e.Location().Origin != other.Location().Destination {
		return &LocationMismatchError{
			Element:             e.Name(),
			ElementLocation:     e.Location(),
			Counterpart:         other.Name(),
			CounterpartLocation: other.Location(),
			Direction:           "received",
			Quantity:            received,
		}
	}
	return nil
}

func (s *State) Stored(e Element, dt time.Duration) model.Resource {
	if !s.Has(CapStore) {
		return model.Resource{}
	}
	return s.balance(e, dt).TruncatePositive()
}

// Retrieved covers a deficit from inventory, never beyond what is held.
func (s *State) Retrieved(e Element, dt time.Duration) model.Resource {
	if !s.Has(CapStore) {
		return model.Resource{}
	}
	deficit := s.balance(e, dt).Negate().TruncatePositive()
	return deficit.Min(e.Contents().TruncatePositive())
}

func (s *State) Store(e Element, stored, retrieved model.Resource) error {
	if !s.Has(CapStore) {
		return nil
	}
	if err := e.AddContents(stored); err != nil {
		return err
	}
	return e.RemoveContents(retrieved)
}

// need is what e must obtain from suppliers this step: everything it uses or
// passes on that it does not make or take in itself.
func (s *State) need(e Element, dt time.Duration) model.Resource {
	latchedSent := e.Flows().Scaled(dt).TotalSent()
	return s.Consumed(e, dt).
		Add(s.Output(e, dt)).
		Add(latchedSent).
		Subtract(s.Produced(e, dt)).
		Subtract(s.Input(e, dt)).
		TruncatePositive()
}

// balance is the surplus (positive) or deficit (negative) left after every
// non-storage flow of the current round.
func (s *State) balance(e Element, dt time.Duration) model.Resource {
	b := s.Produced(e, dt).
		Add(s.Input(e, dt)).
		Subtract(s.Consumed(e, dt)).
		Subtract(s.Output(e, dt))
	for _, other := range e.Counterparts() {
		b = b.Add(s.ReceivedFrom(e, other, dt)).Subtract(s.SentTo(e, other, dt))
	}
	return b
}

func requireNonNegative(e Element, what string, r model.Resource) error {
	if r.TruncateNegative().IsZero() {
		return nil
	}
	return fmt.Errorf("%w: %q %s %s", ErrNegativeFlow, e.Name(), what, r)
}
