package markethours

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// NSE trading holidays, keyed by IST date. Dates marked tentative in the
// exchange circular are included as published.
var (
	holidayMu sync.RWMutex
	holidays  = map[string]string{
		"2026-01-26": "Republic Day",
		"2026-02-17": "Mahashivratri",
		"2026-03-14": "Holi",
		"2026-03-31": "Id-ul-Fitr",
		"2026-04-02": "Ram Navami",
		"2026-04-06": "Mahavir Jayanti",
		"2026-04-10": "Good Friday",
		"2026-04-14": "Ambedkar Jayanti",
		"2026-05-01": "Maharashtra Day",
		"2026-06-07": "Bakri Id",
		"2026-07-06": "Muharram",
		"2026-08-15": "Independence Day",
		"2026-08-16": "Janmashtami",
		"2026-09-05": "Milad-un-Nabi",
		"2026-10-02": "Gandhi Jayanti",
		"2026-10-20": "Dussehra",
		"2026-10-21": "Dussehra",
		"2026-11-05": "Diwali Laxmi Pujan",
		"2026-11-06": "Diwali Balipratipada",
		"2026-11-07": "Bhai Dooj",
		"2026-11-19": "Guru Nanak Jayanti",
		"2026-12-25": "Christmas",
	}
)

// AddHolidays registers extra closed dates given as YYYY-MM-DD, e.g. from
// MARKET_HOLIDAYS for years the built-in table does not cover.
func AddHolidays(dates ...string) error {
	holidayMu.Lock()
	defer holidayMu.Unlock()
	for _, d := range dates {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, err := time.ParseInLocation(time.DateOnly, d, IST); err != nil {
			return fmt.Errorf("invalid holiday %q: want YYYY-MM-DD", d)
		}
		if _, ok := holidays[d]; !ok {
			holidays[d] = "configured"
		}
	}
	return nil
}

// HolidayName returns the name of the NSE holiday on t's IST date.
func HolidayName(t time.Time) (string, bool) {
	holidayMu.RLock()
	defer holidayMu.RUnlock()
	name, ok := holidays[Day(t)]
	return name, ok
}

// IsHoliday reports whether t's IST date is an NSE holiday.
func IsHoliday(t time.Time) bool {
	_, ok := HolidayName(t)
	return ok
}
