package model

import (
	"errors"
	"fmt"
	"strings"
)

// Location is an origin/destination pair of opaque node identifiers. An
// element sitting at a single node has a nodal Location (origin ==
// destination); an element spanning a link has distinct endpoints.
//
// Location is comparable; equality is structural on the pair.
type Location struct {
	Origin      string
	Destination string
}

// Nodal returns the point Location for node.
func Nodal(node string) Location {
	return Location{Origin: node, Destination: node}
}

// NewLocation returns the Location spanning origin to destination.
func NewLocation(origin, destination string) Location {
	return Location{Origin: origin, Destination: destination}
}

func (l Location) IsNodal() bool {
	return l.Origin == l.Destination
}

// OriginNode returns the nodal Location of the origin endpoint.
func (l Location) OriginNode() Location {
	return Nodal(l.Origin)
}

// DestinationNode returns the nodal Location of the destination endpoint.
func (l Location) DestinationNode() Location {
	return Nodal(l.Destination)
}

func (l Location) String() string {
	if l.IsNodal() {
		return l.Origin
	}
	return l.Origin + "->" + l.Destination
}

// ErrInvalidLocation is returned by ParseLocation for malformed input.
var ErrInvalidLocation = errors.New("invalid location")

// ParseLocation accepts the String form: "node" or "origin->destination".
func ParseLocation(s string) (Location, error) {
	origin, dest, link := strings.Cut(strings.TrimSpace(s), "->")
	origin = strings.TrimSpace(origin)
	dest = strings.TrimSpace(dest)
	if origin == "" || (link && dest == "") {
		return Location{}, fmt.Errorf("%w: %q", ErrInvalidLocation, s)
	}
	if !link {
		return Nodal(origin), nil
	}
	return NewLocation(origin, dest), nil
}
