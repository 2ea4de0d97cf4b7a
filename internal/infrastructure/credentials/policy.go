package credentials

import "fmt"

// ConservationPolicy decides whether a request for new credentials is
// covered by the presented balance plus the value added by the coordinator.
type ConservationPolicy interface {
	Check(presented, delta, requested int64) error
	String() string
}

type boundedConservation struct {
	maxSlack int64
}

// ExactConservation requires the requested total to equal the balance.
func ExactConservation() ConservationPolicy {
	return boundedConservation{0}
}

// BoundedConservation lets a request leave up to maxSlack of the balance
// unclaimed. The unclaimed part is forfeited to mining fees.
func BoundedConservation(maxSlack int64) ConservationPolicy {
	return boundedConservation{maxSlack}
}

func (p boundedConservation) Check(presented, delta, requested int64) error {
	balance := presented + delta
	if requested > balance {
		return fmt.Errorf("requested %d exceeds balance %d", requested, balance)
	}
	if balance-requested > p.maxSlack {
		return fmt.Errorf(
			"requested %d leaves %d unclaimed, max allowed %d",
			requested, balance-requested, p.maxSlack,
		)
	}
	return nil
}

func (p boundedConservation) String() string {
	if p.maxSlack == 0 {
		return "exact"
	}
	return fmt.Sprintf("bounded(%d)", p.maxSlack)
}

func NewConservationPolicy(name string, maxSlack int64) (ConservationPolicy, error) {
	switch name {
	case "exact", "":
		return ExactConservation(), nil
	case "bounded":
		if maxSlack < 0 {
			return nil, fmt.Errorf("max slack must not be negative")
		}
		return BoundedConservation(maxSlack), nil
	default:
		return nil, fmt.Errorf("unknown conservation policy %s", name)
	}
}
