package broker

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"optguard/internal/model"
	"optguard/internal/orders"
	"optguard/internal/portfolio"
)

// Quoter supplies prices for simulated fills.
type Quoter interface {
	LTP(ctx context.Context, exchange, symbol, token string) (model.Paise, error)
}

// Paper simulates execution without broker calls. Market orders fill
// immediately at the quote adjusted by slippage; stop orders rest in the
// book until cancelled.
type Paper struct {
	mu      sync.Mutex
	quotes  Quoter
	tracker *portfolio.Tracker
	book    map[string]*model.OrderBookEntry
	order   []string

	slippageBps int64 // basis points, e.g. 5 = 0.05%
	now         func() time.Time
}

func NewPaper(quotes Quoter, tracker *portfolio.Tracker, slippageBps int64) *Paper {
	if tracker == nil {
		tracker = portfolio.NewTracker()
	}
	return &Paper{
		quotes:      quotes,
		tracker:     tracker,
		book:        make(map[string]*model.OrderBookEntry),
		slippageBps: slippageBps,
		now:         time.Now,
	}
}

func (p *Paper) Tracker() *portfolio.Tracker { return p.tracker }

func (p *Paper) LTP(ctx context.Context, exchange, symbol, token string) (model.Paise, error) {
	if p.quotes == nil {
		return 0, fmt.Errorf("paper ltp %s: %w", symbol, model.ErrDataUnavailable)
	}
	return p.quotes.LTP(ctx, exchange, symbol, token)
}

func (p *Paper) OrderBook(context.Context) ([]model.OrderBookEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.OrderBookEntry, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, *p.book[id])
	}
	return out, nil
}

func (p *Paper) Positions(context.Context) ([]model.Position, error) {
	return p.tracker.Positions(), nil
}

func (p *Paper) Candles(context.Context, CandleQuery) ([]model.Candle, error) {
	return nil, fmt.Errorf("paper candles: %w", model.ErrDataUnavailable)
}

func (p *Paper) Place(ctx context.Context, o orders.Order) (string, error) {
	id := "PAPER-" + strings.ToUpper(uuid.NewString()[:8])
	entry := &model.OrderBookEntry{
		OrderID:   id,
		Symbol:    o.Symbol,
		Token:     o.Token,
		Exchange:  o.Exchange,
		Side:      o.Side,
		Variety:   o.Variety,
		OrderType: o.Type,
		Product:   o.Product,
		Qty:       o.Qty,
		Price:     o.Price,
		Trigger:   o.Trigger,
		Status:    model.StatusTriggerPnd,
	}
	if o.Type == orders.TypeMarket {
		px, err := p.LTP(ctx, o.Exchange, o.Symbol, o.Token)
		if err != nil {
			return "", err
		}
		fill, slip := p.slip(px, o.Side)
		entry.Price = fill
		entry.Status = model.StatusComplete
		p.tracker.Record(portfolio.Trade{
			Exchange: o.Exchange, Symbol: o.Symbol, Token: o.Token,
			Side: o.Side, Qty: o.Qty, Price: fill, Timestamp: p.now(),
		})
		log.Printf("[paper] %s %s:%s qty=%d price=%s (slip=%s) order=%s",
			o.Side, o.Exchange, o.Symbol, o.Qty, fill, slip, id)
	}

	p.mu.Lock()
	p.book[id] = entry
	p.order = append(p.order, id)
	p.mu.Unlock()
	return id, nil
}

func (p *Paper) slip(px model.Paise, side model.Side) (fill, slip model.Paise) {
	if px <= 0 || p.slippageBps <= 0 {
		return px, 0
	}
	slip = px * model.Paise(p.slippageBps) / 10000
	if side == model.Buy {
		return px + slip, slip // buy higher
	}
	return px - slip, slip // sell lower
}

func (p *Paper) Modify(_ context.Context, o orders.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.book[o.OrderID]
	if !ok || !e.Working() {
		return fmt.Errorf("paper modify %s: order not open", o.OrderID)
	}
	if !o.IsStop() || e.Variety != orders.VarietyStopLoss {
		return fmt.Errorf("paper modify %s: only stop orders can be modified", o.OrderID)
	}
	e.Price, e.Trigger, e.Qty = o.Price, o.Trigger, o.Qty
	return nil
}

func (p *Paper) Cancel(_ context.Context, orderID, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.book[orderID]
	if !ok || !e.Working() {
		return fmt.Errorf("paper cancel %s: order not open", orderID)
	}
	e.Status = model.StatusCancelled
	return nil
}
