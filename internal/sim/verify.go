package sim

import (
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/infrastructure-simulator/core"
	"github.com/signalsfoundry/infrastructure-simulator/model"
)

// ViolationKind names the conservation check that failed.
type ViolationKind string

const (
	// NetFlowViolation: resources appeared or vanished at a Location.
	NetFlowViolation ViolationKind = "net_flow"
	// ExchangeViolation: two elements disagree on what passed between them.
	ExchangeViolation ViolationKind = "exchange"
)

// Violation is one failed conservation check.
type Violation struct {
	Kind     ViolationKind
	Step     int
	Time     time.Time
	Location model.Location // NetFlowViolation only
	A, B     string         // ExchangeViolation only

	Residual      model.Resource
	Magnitude     float64
	RelativeError float64
}

func (v Violation) String() string {
	switch v.Kind {
	case NetFlowViolation:
		return fmt.Sprintf("step %d: net flow %s at %s (relative error %.3g)", v.Step, v.Residual, v.Location, v.RelativeError)
	default:
		return fmt.Sprintf("step %d: exchange %s<->%s off by %s (relative error %.3g)", v.Step, v.A, v.B, v.Residual, v.RelativeError)
	}
}

// Tolerances bounds the conservation checks. A residual passes when its
// largest component is within max(Absolute, Relative × gross flow).
type Tolerances struct {
	Absolute float64
	Relative float64
}

func (t Tolerances) exceeded(magnitude, gross float64) bool {
	return magnitude > math.Max(t.Absolute, t.Relative*gross)
}

func relativeError(magnitude, gross float64) float64 {
	if gross < model.Epsilon {
		return math.Inf(1)
	}
	return magnitude / gross
}

// Verify runs both conservation checks over the latched flows of every
// element in scenario, for a step of length dt. Violations are returned in
// Location order, then leaf order.
func Verify(scenario *core.Scenario, dt time.Duration, tol Tolerances) []Violation {
	var out []Violation
	out = append(out, verifyNetFlow(scenario, dt, tol)...)
	out = append(out, verifyExchanges(scenario, dt, tol)...)
	return out
}

func verifyNetFlow(scenario *core.Scenario, dt time.Duration, tol Tolerances) []Violation {
	var out []Violation
	elements := scenario.Elements()
	for _, loc := range scenario.Locations() {
		var net model.Resource
		gross := 0.0
		for _, e := range elements {
			contribution := e.NetFlow(loc, dt)
			net = net.Add(contribution)
			gross = math.Max(gross, contribution.MaxAbs())
		}
		mag := net.MaxAbs()
		if !tol.exceeded(mag, gross) {
			continue
		}
		out = append(out, Violation{
			Kind:          NetFlowViolation,
			Location:      loc,
			Residual:      net,
			Magnitude:     mag,
			RelativeError: relativeError(mag, gross),
		})
	}
	return out
}

// verifyExchanges checks every wired pair once; unwired pairs never
// exchange anything.
func verifyExchanges(scenario *core.Scenario, dt time.Duration, tol Tolerances) []Violation {
	leaves := scenario.Leaves()
	index := make(map[string]int, len(leaves))
	for i, l := range leaves {
		index[l.Name()] = i
	}

	var out []Violation
	for i, a := range leaves {
		for _, b := range a.Counterparts() {
			if j, ok := index[b.Name()]; !ok || j <= i {
				continue
			}
			ab := a.NetExchange(b, dt)
			ba := b.NetExchange(a, dt)
			residual := ab.Add(ba)
			mag := residual.MaxAbs()
			gross := math.Max(ab.MaxAbs(), ba.MaxAbs())
			if !tol.exceeded(mag, gross) {
				continue
			}
			out = append(out, Violation{
				Kind:          ExchangeViolation,
				A:             a.Name(),
				B:             b.Name(),
				Residual:      residual,
				Magnitude:     mag,
				RelativeError: relativeError(mag, gross),
			})
		}
	}
	return out
}
