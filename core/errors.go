package core

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/infrastructure-simulator/model"
)

var (
	// ErrLocationMismatch marks an exchange between elements whose
	// Locations do not abut on the required side.
	ErrLocationMismatch = errors.New("location-incompatible exchange")
	// ErrIllegalOperation marks a direct mutation attempted on an aggregate.
	ErrIllegalOperation = errors.New("illegal operation")
	// ErrUndeclaredState marks a transition to a state the element never declared.
	ErrUndeclaredState = errors.New("state not declared by element")
	// ErrUnsupported marks a call a state's kind has no capability for.
	ErrUnsupported = errors.New("operation not supported by state")
	// ErrNegativeFlow marks a transform or transport with a negative quantity.
	ErrNegativeFlow = errors.New("negative flow")
	// ErrInsufficientContents marks a retrieval larger than the inventory.
	ErrInsufficientContents = errors.New("insufficient contents")
	// ErrInvalidScenario marks a structurally invalid scenario or wiring.
	ErrInvalidScenario = errors.New("invalid scenario")
)

// LocationMismatchError describes an exchange whose counterpart does not
// sit on the correct side of the element's Location.
type LocationMismatchError struct {
	Element             string
	ElementLocation     model.Location
	Counterpart         string
	CounterpartLocation model.Location
	// Direction is "sent" or "received", from Element's point of view.
	Direction string
	Quantity  model.Resource
}

func (e *LocationMismatchError) Error() string {
	prep := "to"
	if e.Direction == "received" {
		prep = "from"
	}
	return fmt.Sprintf("%s: %q at %s %s %s %q at %s",
		ErrLocationMismatch, e.Element, e.ElementLocation, e.Direction, prep, e.Counterpart, e.CounterpartLocation)
}

func (e *LocationMismatchError) Unwrap() error { return ErrLocationMismatch }
