// Package orders shapes SmartAPI order payloads. Builders are pure: no I/O,
// no retries, no clock.
package orders

import (
	"fmt"
	"strconv"
	"strings"

	"optguard/internal/model"
)

// SmartAPI enumerations.
const (
	VarietyNormal   = "NORMAL"
	VarietyStopLoss = "STOPLOSS"

	TypeMarket        = "MARKET"
	TypeLimit         = "LIMIT"
	TypeStopLossLimit = "STOPLOSS_LIMIT"

	ProductIntraday     = "INTRADAY"
	ProductDelivery     = "DELIVERY"
	ProductCarryForward = "CARRYFORWARD"

	DurationDay = "DAY"
)

// ValidationError reports a malformed intent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order: %s %s", e.Field, e.Reason)
}

// Intent is what a strategy or supervisor wants to trade.
type Intent struct {
	Symbol   string
	Token    string
	Exchange string
	Side     model.Side
	Qty      int64
	Product  string      // defaults to INTRADAY
	Price    model.Paise // limit price, stop orders only
	Trigger  model.Paise // trigger price, stop orders only
	Tag      string      // optional client tag
}

// Order is a normalized payload ready for submission.
type Order struct {
	OrderID  string // set for modifications
	Variety  string
	Type     string
	Symbol   string
	Token    string
	Exchange string
	Side     model.Side
	Product  string
	Duration string
	Qty      int64
	Price    model.Paise
	Trigger  model.Paise
	Tag      string
}

// IsStop reports whether o is a stop-loss variety order.
func (o Order) IsStop() bool { return o.Variety == VarietyStopLoss }

// Params renders the SmartAPI request body.
func (o Order) Params() map[string]any {
	p := map[string]any{
		"variety":         o.Variety,
		"tradingsymbol":   o.Symbol,
		"symboltoken":     o.Token,
		"transactiontype": string(o.Side),
		"exchange":        o.Exchange,
		"ordertype":       o.Type,
		"producttype":     o.Product,
		"duration":        o.Duration,
		"quantity":        strconv.FormatInt(o.Qty, 10),
	}
	if o.OrderID != "" {
		p["orderid"] = o.OrderID
	}
	if o.Type == TypeMarket {
		p["price"] = "0"
	} else {
		p["price"] = o.Price.String()
	}
	if o.Type == TypeStopLossLimit {
		p["triggerprice"] = o.Trigger.String()
	}
	if o.Tag != "" {
		p["ordertag"] = o.Tag
	}
	return p
}

func validate(in Intent) error {
	if in.Qty <= 0 {
		return &ValidationError{Field: "quantity", Reason: fmt.Sprintf("must be > 0, got %d", in.Qty)}
	}
	if strings.TrimSpace(in.Symbol) == "" {
		return &ValidationError{Field: "tradingsymbol", Reason: "is empty"}
	}
	if strings.TrimSpace(in.Token) == "" {
		return &ValidationError{Field: "symboltoken", Reason: "is empty"}
	}
	if strings.TrimSpace(in.Exchange) == "" {
		return &ValidationError{Field: "exchange", Reason: "is empty"}
	}
	if in.Side != model.Buy && in.Side != model.Sell {
		return &ValidationError{Field: "transactiontype", Reason: fmt.Sprintf("unknown side %q", in.Side)}
	}
	return nil
}

func base(in Intent, variety, typ string) Order {
	product := in.Product
	if product == "" {
		product = ProductIntraday
	}
	return Order{
		Variety:  variety,
		Type:     typ,
		Symbol:   strings.ToUpper(strings.TrimSpace(in.Symbol)),
		Token:    strings.TrimSpace(in.Token),
		Exchange: strings.ToUpper(strings.TrimSpace(in.Exchange)),
		Side:     in.Side,
		Product:  product,
		Duration: DurationDay,
		Qty:      in.Qty,
		Tag:      in.Tag,
	}
}

// MarketEntry builds an opening market order.
func MarketEntry(in Intent) (Order, error) {
	if err := validate(in); err != nil {
		return Order{}, err
	}
	return base(in, VarietyNormal, TypeMarket), nil
}

// MarketExit builds a closing market order. The side in the intent is the
// side of the order, i.e. SELL to close a long.
func MarketExit(in Intent) (Order, error) {
	return MarketEntry(in)
}

// StopLimit builds a stop-loss-limit order. For a sell stop the trigger must
// sit above the limit; for a buy stop below it.
func StopLimit(in Intent) (Order, error) {
	if err := validate(in); err != nil {
		return Order{}, err
	}
	if in.Trigger <= 0 || in.Price <= 0 {
		return Order{}, &ValidationError{Field: "triggerprice", Reason: "price and trigger must be > 0"}
	}
	if in.Side == model.Sell && in.Trigger <= in.Price {
		return Order{}, &ValidationError{Field: "triggerprice", Reason: fmt.Sprintf("sell trigger %s must be above limit %s", in.Trigger, in.Price)}
	}
	if in.Side == model.Buy && in.Trigger >= in.Price {
		return Order{}, &ValidationError{Field: "triggerprice", Reason: fmt.Sprintf("buy trigger %s must be below limit %s", in.Trigger, in.Price)}
	}
	o := base(in, VarietyStopLoss, TypeStopLossLimit)
	o.Price = in.Price
	o.Trigger = in.Trigger
	return o, nil
}

// ModifyStop builds the modification of an existing stop order.
func ModifyStop(orderID string, in Intent) (Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return Order{}, &ValidationError{Field: "orderid", Reason: "is empty"}
	}
	o, err := StopLimit(in)
	if err != nil {
		return Order{}, err
	}
	o.OrderID = orderID
	return o, nil
}

// StopPair returns the (limit, trigger) pair for a sell stop at trigger: the
// trigger rounded to tick and the limit one gap below it, floored at one tick.
func StopPair(trigger, gap, tick model.Paise) (limit, trig model.Paise) {
	trig = trigger.RoundToTick(tick)
	if trig < tick {
		trig = tick
	}
	limit = (trig - gap).RoundToTick(tick)
	if limit >= trig {
		limit = trig - tick
	}
	if limit <= 0 {
		limit = tick
		if trig <= limit {
			trig = limit + tick
		}
	}
	return limit, trig
}
