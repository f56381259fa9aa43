package evaluator

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
)

// Outcome classifies what a price sample means for one subscription.
type Outcome int

const (
	// OutcomeBaseline: first sample, only recorded.
	OutcomeBaseline Outcome = iota
	// OutcomeHold: no armed threshold was crossed.
	OutcomeHold
	// OutcomeFire: one side crossed and must be rebased and notified.
	OutcomeFire
)

// Decision is the result of applying the crossing rule to one sample.
type Decision struct {
	Outcome   Outcome
	Side      domain.Side
	ReturnPct decimal.Decimal
}

// Decide applies the crossing rule. Upper is checked before lower, so a
// degenerate configuration where both match fires upper only.
func Decide(sub domain.Subscription, price decimal.Decimal) Decision {
	if sub.LastPrice == nil {
		return Decision{Outcome: OutcomeBaseline}
	}
	ret := sub.ReturnPct(price)
	switch {
	case sub.UpperArmed && price.GreaterThanOrEqual(sub.UpperThreshold):
		return Decision{Outcome: OutcomeFire, Side: domain.SideUpper, ReturnPct: ret}
	case sub.LowerArmed && price.LessThanOrEqual(sub.LowerThreshold):
		return Decision{Outcome: OutcomeFire, Side: domain.SideLower, ReturnPct: ret}
	default:
		return Decision{Outcome: OutcomeHold, ReturnPct: ret}
	}
}
