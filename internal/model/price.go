package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Paise is a price or money amount in paise (1/100 rupee).
// Integer paise avoid floating-point drift when comparing triggers.
type Paise int64

// FromRupees converts a rupee amount to paise, rounding to the nearest paisa.
func FromRupees(r float64) Paise {
	return Paise(math.Round(r * 100))
}

// ParseRupees parses a decimal rupee string such as "123.45".
func ParseRupees(s string) (Paise, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty price")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", s, err)
	}
	return FromRupees(f), nil
}

// Rupees returns the amount as a float rupee value.
func (p Paise) Rupees() float64 {
	return float64(p) / 100
}

// String renders the amount with two decimals, e.g. "99.95".
func (p Paise) String() string {
	sign := ""
	v := int64(p)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// RoundToTick rounds p to the nearest multiple of tick. A non-positive tick
// leaves p unchanged.
func (p Paise) RoundToTick(tick Paise) Paise {
	if tick <= 0 {
		return p
	}
	q := int64(p) / int64(tick)
	r := int64(p) % int64(tick)
	if r < 0 {
		r += int64(tick)
		q--
	}
	if 2*r >= int64(tick) {
		q++
	}
	return Paise(q * int64(tick))
}

// Abs returns |p|.
func (p Paise) Abs() Paise {
	if p < 0 {
		return -p
	}
	return p
}
