package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Side identifies one of the two thresholds of a subscription.
type Side string

const (
	SideUpper Side = "upper"
	SideLower Side = "lower"
)

// Direction returns the human-facing direction of a crossing on this side.
func (s Side) Direction() string {
	if s == SideUpper {
		return "up"
	}
	return "down"
}

// Band is a pair of signed percentage offsets from a base price. UpperPct is
// positive and LowerPct is negative, e.g. +10 / -5.
type Band struct {
	UpperPct decimal.Decimal `json:"upper_pct"`
	LowerPct decimal.Decimal `json:"lower_pct"`
}

// Validate reports whether the band brackets its base price.
func (b Band) Validate() error {
	if !b.UpperPct.IsPositive() {
		return NewConfigError("upper band", "must be greater than 0%")
	}
	if !b.LowerPct.IsNegative() {
		return NewConfigError("lower band", "must be less than 0%")
	}
	if b.LowerPct.LessThanOrEqual(hundred.Neg()) {
		return NewConfigError("lower band", "must be greater than -100%")
	}
	return nil
}

// Threshold returns base * (1 + pct/100) for the given side.
func (b Band) Threshold(side Side, base decimal.Decimal) decimal.Decimal {
	pct := b.LowerPct
	if side == SideUpper {
		pct = b.UpperPct
	}
	return base.Mul(decimal.NewFromInt(1).Add(pct.Div(hundred)))
}

// WithTarget derives the active band for a subscription. A positive target
// replaces the upper offset, a negative one replaces the lower offset.
func (b Band) WithTarget(target *decimal.Decimal) (Band, error) {
	if target == nil {
		return b, nil
	}
	switch {
	case target.IsZero():
		return Band{}, NewConfigError("target return", "must not be 0%")
	case target.IsPositive():
		b.UpperPct = *target
	default:
		if target.LessThanOrEqual(hundred.Neg()) {
			return Band{}, NewConfigError("target return", "must be greater than -100%")
		}
		b.LowerPct = *target
	}
	return b, nil
}

// Subscription is a tracked (owner, symbol) pair. ReferencePrice never changes
// for a given instance; an edit replaces the whole value.
type Subscription struct {
	OwnerID         string           `json:"owner_id"`
	Symbol          string           `json:"symbol"`
	ReferencePrice  decimal.Decimal  `json:"reference_price"`
	TargetReturnPct *decimal.Decimal `json:"target_return_pct,omitempty"`
	Band            Band             `json:"band"`
	UpperThreshold  decimal.Decimal  `json:"upper_threshold"`
	LowerThreshold  decimal.Decimal  `json:"lower_threshold"`
	LastPrice       *decimal.Decimal `json:"last_price,omitempty"`
	UpperArmed      bool             `json:"upper_armed"`
	LowerArmed      bool             `json:"lower_armed"`
	Version         uint64           `json:"version"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Threshold returns the current threshold for side.
func (s Subscription) Threshold(side Side) decimal.Decimal {
	if side == SideUpper {
		return s.UpperThreshold
	}
	return s.LowerThreshold
}

// Armed reports whether side may fire.
func (s Subscription) Armed(side Side) bool {
	if side == SideUpper {
		return s.UpperArmed
	}
	return s.LowerArmed
}

// ReturnPct is (price - reference) / reference * 100.
func (s Subscription) ReturnPct(price decimal.Decimal) decimal.Decimal {
	return price.Sub(s.ReferencePrice).Div(s.ReferencePrice).Mul(hundred)
}

// Clone returns a deep copy so callers never share pointer fields with the
// store.
func (s Subscription) Clone() Subscription {
	out := s
	if s.TargetReturnPct != nil {
		t := *s.TargetReturnPct
		out.TargetReturnPct = &t
	}
	if s.LastPrice != nil {
		p := *s.LastPrice
		out.LastPrice = &p
	}
	return out
}

// NormalizeSymbol trims and upper-cases a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
