package broker

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"optguard/internal/model"
)

// Field aliases seen across SmartAPI library versions and account types.
var (
	netQtyKeys = []string{"netqty", "netQty", "net_quantity", "netquantity", "netQuantity"}
	pnlKeys    = []string{"pnl", "netpnl", "NetPnL", "unrealized", "unrealised", "unrealizedPnL"}
	avgKeys    = []string{"avgnetprice", "netprice", "netPrice", "buyavgprice"}
	productKey = []string{"producttype", "product", "productType"}
	statusKeys = []string{"status", "orderstatus", "orderStatus"}
)

// rows accepts the "data" member of a response in any of the shapes the API
// returns: a list of objects, a single object, or null.
func rows(data any) []map[string]any {
	switch v := data.(type) {
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, it := range v {
			if m, ok := it.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case []map[string]any:
		return v
	case map[string]any:
		if inner, ok := v["data"]; ok {
			return rows(inner)
		}
		return []map[string]any{v}
	}
	return nil
}

func num(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(t, ",", ""))
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

func firstNum(row map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := row[k]; ok {
			if f, ok := num(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func str(row map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := row[k]; ok && v != nil {
			s := strings.TrimSpace(fmt.Sprint(v))
			if s != "" {
				return s
			}
		}
	}
	return ""
}

func toPosition(row map[string]any) (model.Position, bool) {
	qty, ok := firstNum(row, netQtyKeys...)
	if !ok {
		return model.Position{}, false
	}
	p := model.Position{
		Token:    str(row, "symboltoken", "token"),
		Exchange: strings.ToUpper(str(row, "exchange")),
		Symbol:   str(row, "tradingsymbol", "symbolname"),
		Product:  strings.ToUpper(str(row, productKey...)),
		Qty:      int64(qty),
	}
	if avg, ok := firstNum(row, avgKeys...); ok {
		p.AvgPrice = model.FromRupees(avg)
	}
	if pnl, ok := firstNum(row, pnlKeys...); ok {
		p.PnL = model.FromRupees(pnl)
		p.HasPnL = true
	}
	return p, true
}

func toOrder(row map[string]any) model.OrderBookEntry {
	o := model.OrderBookEntry{
		OrderID:   str(row, "orderid", "orderId"),
		Symbol:    str(row, "tradingsymbol"),
		Token:     str(row, "symboltoken"),
		Exchange:  strings.ToUpper(str(row, "exchange")),
		Side:      model.Side(strings.ToUpper(str(row, "transactiontype"))),
		Variety:   strings.ToUpper(str(row, "variety")),
		OrderType: strings.ToUpper(str(row, "ordertype")),
		Product:   strings.ToUpper(str(row, productKey...)),
		Status:    strings.ToLower(str(row, statusKeys...)),
	}
	if q, ok := firstNum(row, "quantity", "qty"); ok {
		o.Qty = int64(q)
	}
	if p, ok := firstNum(row, "price"); ok {
		o.Price = model.FromRupees(p)
	}
	if t, ok := firstNum(row, "triggerprice", "triggerPrice"); ok {
		o.Trigger = model.FromRupees(t)
	}
	return o
}

// candleTimeLayouts lists the timestamp forms returned by getCandleData.
var candleTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04"}

func toCandle(v any) (model.Candle, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) < 5 {
		return model.Candle{}, false
	}
	var c model.Candle
	ts, _ := arr[0].(string)
	for _, layout := range candleTimeLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			c.TS = t
			break
		}
	}
	var ohlc [4]float64
	for i := 0; i < 4; i++ {
		f, ok := num(arr[i+1])
		if !ok {
			return model.Candle{}, false
		}
		ohlc[i] = f
	}
	c.Open = model.FromRupees(ohlc[0])
	c.High = model.FromRupees(ohlc[1])
	c.Low = model.FromRupees(ohlc[2])
	c.Close = model.FromRupees(ohlc[3])
	if len(arr) > 5 {
		if vol, ok := num(arr[5]); ok {
			c.Volume = int64(vol)
		}
	}
	return c, true
}
