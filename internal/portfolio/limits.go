package portfolio

import (
	"fmt"

	"optguard/internal/model"
)

// Limits are pre-trade checks on new entries. Zero disables a check.
type Limits struct {
	MaxQty           int64 `yaml:"max_qty"`            // per order
	MaxOpenPositions int   `yaml:"max_open_positions"` // distinct open instruments
}

// CheckEntry reports why an entry of qty in symbol would break l, or nil.
func (l Limits) CheckEntry(open []model.Position, exchange, symbol string, qty int64) error {
	if l.MaxQty > 0 && qty > l.MaxQty {
		return fmt.Errorf("quantity %d exceeds limit %d", qty, l.MaxQty)
	}
	if l.MaxOpenPositions <= 0 {
		return nil
	}
	n := 0
	for _, p := range open {
		if p.Flat() {
			continue
		}
		if p.Exchange == exchange && p.Symbol == symbol {
			return nil
		}
		n++
	}
	if n >= l.MaxOpenPositions {
		return fmt.Errorf("max open positions reached (%d)", n)
	}
	return nil
}
