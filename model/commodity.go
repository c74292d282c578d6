package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownCommodity is returned when a commodity name cannot be parsed.
var ErrUnknownCommodity = errors.New("unknown commodity")

// CommodityType identifies one fungible resource kind tracked by the simulation.
// The set is closed: Resource vectors carry exactly one component per type.
type CommodityType int

const (
	Electricity CommodityType = iota
	Oil
	Water
	People

	numCommodityTypes
)

// NumCommodities is the dimension of every Resource vector.
const NumCommodities = int(numCommodityTypes)

var commodityNames = [NumCommodities]string{
	Electricity: "electricity",
	Oil:         "oil",
	Water:       "water",
	People:      "people",
}

// Commodities returns every commodity type in index order.
func Commodities() []CommodityType {
	out := make([]CommodityType, NumCommodities)
	for i := range out {
		out[i] = CommodityType(i)
	}
	return out
}

// Valid reports whether c is one of the declared commodity types.
func (c CommodityType) Valid() bool {
	return c >= 0 && c < numCommodityTypes
}

func (c CommodityType) String() string {
	if !c.Valid() {
		return fmt.Sprintf("commodity(%d)", int(c))
	}
	return commodityNames[c]
}

// ParseCommodity maps a case-insensitive name (with a few common aliases)
// to its CommodityType.
func ParseCommodity(s string) (CommodityType, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "power", "elec":
		return Electricity, nil
	case "petroleum":
		return Oil, nil
	case "population":
		return People, nil
	}
	for i, name := range commodityNames {
		if v == name {
			return CommodityType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCommodity, s)
}
