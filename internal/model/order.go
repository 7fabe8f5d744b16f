package model

// Side is the order transaction type.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Order statuses as reported in the order book, lowercased.
const (
	StatusOpen       = "open"
	StatusTriggerPnd = "trigger pending"
	StatusComplete   = "complete"
	StatusCancelled  = "cancelled"
	StatusRejected   = "rejected"
)

// OrderBookEntry is one normalized row of the broker order book.
type OrderBookEntry struct {
	OrderID   string `json:"order_id"`
	Symbol    string `json:"trading_symbol"`
	Token     string `json:"token"`
	Exchange  string `json:"exchange"`
	Side      Side   `json:"transaction_type"`
	Variety   string `json:"variety"`    // NORMAL, STOPLOSS
	OrderType string `json:"order_type"` // MARKET, LIMIT, STOPLOSS_LIMIT
	Product   string `json:"product_type"`
	Qty       int64  `json:"qty"`
	Price     Paise  `json:"price"`
	Trigger   Paise  `json:"trigger_price"`
	Status    string `json:"status"`
}

// Working reports whether the order can still execute.
func (o *OrderBookEntry) Working() bool {
	switch o.Status {
	case StatusComplete, StatusCancelled, StatusRejected:
		return false
	}
	return true
}

// StopOrder is the protective stop-limit order attached to a watched position.
type StopOrder struct {
	ID      string `json:"order_id"`
	Limit   Paise  `json:"price"`
	Trigger Paise  `json:"trigger_price"`
	Status  string `json:"status"`
}
