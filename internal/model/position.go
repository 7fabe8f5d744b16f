package model

// Position is one normalized row of the broker positions book.
type Position struct {
	Token    string `json:"token"`
	Exchange string `json:"exchange"`
	Symbol   string `json:"trading_symbol"`
	Product  string `json:"product_type"` // INTRADAY, DELIVERY, CARRYFORWARD
	Qty      int64  `json:"qty"`          // positive = long, negative = short
	AvgPrice Paise  `json:"avg_price"`
	PnL      Paise  `json:"pnl"`
	HasPnL   bool   `json:"-"` // false when the row carried no recognizable pnl field
}

// Key returns "exchange:symbol".
func (p *Position) Key() string {
	return p.Exchange + ":" + p.Symbol
}

// Flat reports whether the position carries no open quantity.
func (p *Position) Flat() bool {
	return p.Qty == 0
}
