package core

import (
	"time"

	"github.com/signalsfoundry/infrastructure-simulator/model"
)

// The capability contracts below are narrow: query functions are pure over
// the element's committed state and may be called any number of times during
// relaxation; the mutating entry point is only called once per step, at
// commit.

// ResourceTransformer produces and consumes resources.
type ResourceTransformer interface {
	Produced(e Element, dt time.Duration) model.Resource
	Consumed(e Element, dt time.Duration) model.Resource
	Transform(e Element, consumed, produced model.Resource) error
}

// ResourceStorer moves resources into and out of an element's inventory.
type ResourceStorer interface {
	Stored(e Element, dt time.Duration) model.Resource
	Retrieved(e Element, dt time.Duration) model.Resource
	Store(e Element, stored, retrieved model.Resource) error
}

// ResourceTransporter moves resources across an element's Location
// boundary. Transport is accounting only and never touches inventory.
type ResourceTransporter interface {
	Input(e Element, dt time.Duration) model.Resource
	Output(e Element, dt time.Duration) model.Resource
	Transport(e Element, input, output model.Resource) error
}

// ResourceExchanger sends resources to, and receives them from, named
// counterpart elements.
type ResourceExchanger interface {
	SentTo(e, other Element, dt time.Duration) model.Resource
	ReceivedFrom(e, other Element, dt time.Duration) model.Resource
	Exchange(e, other Element, sent, received model.Resource) error
}

// StateTransitioner moves an element into another declared state.
type StateTransitioner interface {
	Transition(e Element, next *State) error
}

var (
	_ ResourceTransformer = (*State)(nil)
	_ ResourceStorer      = (*State)(nil)
	_ ResourceTransporter = (*State)(nil)
	_ ResourceExchanger   = (*State)(nil)
	_ StateTransitioner   = (*State)(nil)
)
