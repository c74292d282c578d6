package federation

import (
	"fmt"

	"github.com/signalsfoundry/infrastructure-simulator/core"
)

// Partition splits the scenario's top-level elements round-robin into n
// ownership sets, one per federate. Aggregates stay whole. Sets may be
// empty when n exceeds the number of top-level elements.
func Partition(scenario *core.Scenario, n int) ([][]string, error) {
	if scenario == nil {
		return nil, fmt.Errorf("%w: nil scenario", core.ErrInvalidScenario)
	}
	if n < 1 {
		return nil, fmt.Errorf("partition into %d federates", n)
	}
	parts := make([][]string, n)
	for i, e := range scenario.Elements() {
		parts[i%n] = append(parts[i%n], e.Name())
	}
	return parts, nil
}

// FederateName is the identity of the i-th federate of federation.
func FederateName(federation string, i int) string {
	return fmt.Sprintf("%s-%d", federation, i)
}
