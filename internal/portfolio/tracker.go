package portfolio

import (
	"sync"
	"time"

	"optguard/internal/model"
)

// Trade is one simulated fill.
type Trade struct {
	Exchange  string      `json:"exchange"`
	Symbol    string      `json:"trading_symbol"`
	Token     string      `json:"token"`
	Side      model.Side  `json:"side"`
	Qty       int64       `json:"qty"`
	Price     model.Paise `json:"price"`
	Timestamp time.Time   `json:"timestamp"`
}

func (t Trade) key() string { return t.Exchange + ":" + t.Symbol }

// Tracker keeps paper positions with weighted-average cost basis and
// realized PnL. Longs only: sells reduce, never open a short.
type Tracker struct {
	mu       sync.RWMutex
	trades   []Trade
	realized model.Paise
	book     map[string]*model.Position
	marks    map[string]model.Paise
}

func NewTracker() *Tracker {
	return &Tracker{
		book:  make(map[string]*model.Position),
		marks: make(map[string]model.Paise),
	}
}

// Record applies a fill and returns the PnL it realized.
func (t *Tracker) Record(tr Trade) model.Paise {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.trades = append(t.trades, tr)
	p, ok := t.book[tr.key()]
	if !ok {
		p = &model.Position{Exchange: tr.Exchange, Symbol: tr.Symbol, Token: tr.Token, Product: "INTRADAY"}
		t.book[tr.key()] = p
	}
	t.marks[tr.key()] = tr.Price

	var realized model.Paise
	if tr.Side == model.Buy {
		cost := int64(p.AvgPrice)*p.Qty + int64(tr.Price)*tr.Qty
		p.Qty += tr.Qty
		if p.Qty > 0 {
			p.AvgPrice = model.Paise(cost / p.Qty)
		}
	} else {
		qty := tr.Qty
		if qty > p.Qty {
			qty = p.Qty
		}
		realized = (tr.Price - p.AvgPrice) * model.Paise(qty)
		p.Qty -= qty
		if p.Qty <= 0 {
			p.Qty = 0
			p.AvgPrice = 0
		}
		t.realized += realized
	}
	return realized
}

// Mark updates the last price used for unrealized PnL.
func (t *Tracker) Mark(exchange, symbol string, price model.Paise) {
	t.mu.Lock()
	t.marks[exchange+":"+symbol] = price
	t.mu.Unlock()
}

func (t *Tracker) Realized() model.Paise {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.realized
}

// Positions returns a snapshot of the book. Each row's PnL is unrealized at
// the last mark; realized PnL is folded into one row so that the rows sum to
// the day total.
func (t *Tracker) Positions() []model.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]model.Position, 0, len(t.book))
	for k, p := range t.book {
		row := *p
		row.PnL = (t.marks[k] - p.AvgPrice) * model.Paise(p.Qty)
		row.HasPnL = true
		out = append(out, row)
	}
	if len(out) > 0 {
		out[0].PnL += t.realized
	}
	return out
}

func (t *Tracker) Trades() []Trade {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cp := make([]Trade, len(t.trades))
	copy(cp, t.trades)
	return cp
}
