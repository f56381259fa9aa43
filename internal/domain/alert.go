package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Alert is a single threshold crossing emitted by the evaluator.
type Alert struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	Price          decimal.Decimal `json:"price"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	ReturnPct      decimal.Decimal `json:"return_pct"`
	Threshold      decimal.Decimal `json:"threshold"`
	NextThreshold  decimal.Decimal `json:"next_threshold"`
	Delivered      bool            `json:"delivered"`
	FiredAt        time.Time       `json:"fired_at"`
}

// Message renders the notification text sent to the owner.
func (a Alert) Message() string {
	marker := "📉"
	verb := "fell below"
	if a.Side == SideUpper {
		marker = "🚀"
		verb = "broke above"
	}
	return fmt.Sprintf("%s %s %s %s\nprice %s (%s%% vs reference %s)\nnext alert at %s",
		marker, a.Symbol, verb, a.Threshold.StringFixedBank(2),
		a.Price.StringFixedBank(2),
		signed(a.ReturnPct.Round(2)),
		a.ReferencePrice.StringFixedBank(2),
		a.NextThreshold.StringFixedBank(2),
	)
}

func signed(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + d.StringFixed(2)
	}
	return d.StringFixed(2)
}
