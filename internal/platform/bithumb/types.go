package bithumb

import "encoding/json"

// statusOK is the Bithumb public API success code.
const statusOK = "0000"

// TickerResponse is the envelope returned by GET /public/ticker/{ORDER}_{PAYMENT}.
type TickerResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// Ticker is the 24h summary for a single pair. Prices are decimal strings.
type Ticker struct {
	OpeningPrice     string `json:"opening_price"`
	ClosingPrice     string `json:"closing_price"`
	MinPrice         string `json:"min_price"`
	MaxPrice         string `json:"max_price"`
	UnitsTraded      string `json:"units_traded"`
	AccTradeValue    string `json:"acc_trade_value"`
	PrevClosingPrice string `json:"prev_closing_price"`
	FluctateRate24H  string `json:"fluctate_rate_24H"`
	Date             string `json:"date"`
}
