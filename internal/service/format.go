package service

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
)

// FormatPortfolio renders subscriptions one per line:
//
//	BTC  ref 100.00  ▲ 110.00  ▼ 95.00  last 101.00 (+1.00%)
func FormatPortfolio(subs []domain.Subscription) string {
	if len(subs) == 0 {
		return "no tracked symbols"
	}
	var b strings.Builder
	for i, sub := range subs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s  ref %s  ▲ %s  ▼ %s",
			sub.Symbol,
			sub.ReferencePrice.StringFixedBank(2),
			sub.UpperThreshold.StringFixedBank(2),
			sub.LowerThreshold.StringFixedBank(2),
		)
		if sub.LastPrice != nil {
			ret := sub.ReturnPct(*sub.LastPrice).Round(2)
			sign := ""
			if ret.IsPositive() {
				sign = "+"
			}
			fmt.Fprintf(&b, "  last %s (%s%s%%)", sub.LastPrice.StringFixedBank(2), sign, ret.StringFixed(2))
		}
	}
	return b.String()
}
