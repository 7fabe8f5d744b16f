package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"optguard/internal/broker"
	"optguard/internal/model"
	"optguard/internal/orders"
	"optguard/pkg/smartconnect"
)

// login opens a SmartAPI session and returns the broker adapter with a
// relogin hook for expired sessions.
func (a *app) login(ctx context.Context) (*broker.SmartAPI, error) {
	if err := a.cfg.ValidateBroker(); err != nil {
		return nil, err
	}
	sc := smartconnect.NewSmartConnect(smartconnect.Config{
		APIKey:  a.cfg.AngelAPIKey,
		RootURL: a.cfg.SmartAPIRoot,
	})
	cr := smartconnect.Credentials{
		ClientCode: a.cfg.AngelClientCode,
		Password:   a.cfg.AngelPassword,
		TOTPSecret: a.cfg.AngelTOTPSecret,
	}
	if err := smartconnect.Login(ctx, sc, cr, time.Now()); err != nil {
		return nil, fmt.Errorf("smartapi login: %w", err)
	}
	a.log.Info("smartapi session opened", "client", a.cfg.AngelClientCode)

	b := broker.NewSmartAPI(sc, a.retryExecutor(), a.log)
	b.Relogin = func(ctx context.Context) error {
		return smartconnect.Login(ctx, sc, cr, time.Now())
	}
	return b, nil
}

// lazyBroker logs in on first use, so guards that skip never touch the
// broker.
type lazyBroker struct {
	a    *app
	once sync.Once
	b    broker.Broker
	err  error
}

func (a *app) lazyBroker() *lazyBroker { return &lazyBroker{a: a} }

func (l *lazyBroker) get(ctx context.Context) (broker.Broker, error) {
	l.once.Do(func() {
		var b *broker.SmartAPI
		b, l.err = l.a.login(ctx)
		if l.err == nil {
			l.b = b
		}
	})
	return l.b, l.err
}

func (l *lazyBroker) LTP(ctx context.Context, exchange, symbol, token string) (model.Paise, error) {
	b, err := l.get(ctx)
	if err != nil {
		return 0, err
	}
	return b.LTP(ctx, exchange, symbol, token)
}

func (l *lazyBroker) OrderBook(ctx context.Context) ([]model.OrderBookEntry, error) {
	b, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return b.OrderBook(ctx)
}

func (l *lazyBroker) Positions(ctx context.Context) ([]model.Position, error) {
	b, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return b.Positions(ctx)
}

func (l *lazyBroker) Candles(ctx context.Context, q broker.CandleQuery) ([]model.Candle, error) {
	b, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return b.Candles(ctx, q)
}

func (l *lazyBroker) Place(ctx context.Context, o orders.Order) (string, error) {
	b, err := l.get(ctx)
	if err != nil {
		return "", err
	}
	return b.Place(ctx, o)
}

func (l *lazyBroker) Modify(ctx context.Context, o orders.Order) error {
	b, err := l.get(ctx)
	if err != nil {
		return err
	}
	return b.Modify(ctx, o)
}

func (l *lazyBroker) Cancel(ctx context.Context, orderID, variety string) error {
	b, err := l.get(ctx)
	if err != nil {
		return err
	}
	return b.Cancel(ctx, orderID, variety)
}
