package valuation

import (
	"fmt"
	"strings"
)

// CostBasisMethod selects how closing trades are matched against the open
// position.
type CostBasisMethod int

const (
	// AverageCost closes against the running average cost of the position.
	AverageCost CostBasisMethod = iota
	// FIFO closes the oldest open lots first.
	FIFO
)

func (m CostBasisMethod) String() string {
	switch m {
	case AverageCost:
		return "average"
	case FIFO:
		return "fifo"
	default:
		return "unknown"
	}
}

// ParseCostBasisMethod parses a string into a CostBasisMethod.
func ParseCostBasisMethod(s string) (CostBasisMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "average", "":
		return AverageCost, nil
	case "fifo":
		return FIFO, nil
	default:
		return 0, fmt.Errorf("unknown cost basis method: %q", s)
	}
}
