package markethours

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Market hours in IST
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30
)

// Clock is a wall-clock time of day in IST, as minutes after midnight.
type Clock int

// ParseClock parses "HH:MM" (or "HH:MM:SS", seconds ignored).
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid clock %q: want HH:MM", s)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock %q: want HH:MM", s)
	}
	return Clock(h*60 + m), nil
}

// MustClock is ParseClock for constants.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60) }

// On returns the instant at c on t's IST calendar day.
func (c Clock) On(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), int(c)/60, int(c)%60, 0, 0, IST)
}

// Reached reports whether t's IST wall clock is at or past c.
func (c Clock) Reached(t time.Time) bool {
	return !t.In(IST).Before(c.On(t))
}

// Of returns t's IST wall clock.
func Of(t time.Time) Clock {
	ist := t.In(IST)
	return Clock(ist.Hour()*60 + ist.Minute())
}

var (
	Open  = Clock(OpenHour*60 + OpenMinute)
	Close = Clock(CloseHour*60 + CloseMinute)
)

// Day returns t's IST calendar date as YYYY-MM-DD.
func Day(t time.Time) string { return t.In(IST).Format(time.DateOnly) }

// IsMarketOpen reports whether t falls in the NSE cash session on a
// trading day.
func IsMarketOpen(t time.Time) bool {
	if !IsTradingDay(t) {
		return false
	}
	hm := Of(t)
	return hm >= Open && hm < Close
}

// IsTradingDay reports whether t is a weekday that is not a holiday.
func IsTradingDay(t time.Time) bool {
	switch t.In(IST).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !IsHoliday(t)
}

// LastSession returns the [from, to] window of the most recent lookback
// minutes of trading, clamped to the session of the latest trading day at
// or before t.
func LastSession(t time.Time, lookback time.Duration) (from, to time.Time) {
	ist := t.In(IST)
	day := ist
	for i := 0; i < 10 && !IsTradingDay(day); i++ {
		day = day.AddDate(0, 0, -1)
	}
	open, cls := Open.On(day), Close.On(day)

	to = ist
	if !day.Equal(ist) || to.After(cls) {
		to = cls
	}
	if to.Before(open) {
		// before today's open: use the previous trading day
		prev := day.AddDate(0, 0, -1)
		for i := 0; i < 10 && !IsTradingDay(prev); i++ {
			prev = prev.AddDate(0, 0, -1)
		}
		open, to = Open.On(prev), Close.On(prev)
	}
	from = to.Add(-lookback)
	if from.Before(open) {
		from = open
	}
	return from, to
}

// Window is a configurable trading window: ISO weekdays (1=Mon to 7=Sun)
// and an inclusive [Start, End] clock range.
type Window struct {
	Days  map[time.Weekday]bool
	Start Clock
	End   Clock
}

var digits = regexp.MustCompile(`\d+`)

// ParseWindow parses MARKET_DAYS ("1,2,3,4,5") and MARKET_HOURS
// ("09:15-15:30").
func ParseWindow(days, hours string) (Window, error) {
	w := Window{Days: map[time.Weekday]bool{}}
	for _, d := range digits.FindAllString(days, -1) {
		n, _ := strconv.Atoi(d)
		if n < 1 || n > 7 {
			return Window{}, fmt.Errorf("invalid weekday %d in %q", n, days)
		}
		w.Days[time.Weekday(n%7)] = true
	}
	if len(w.Days) == 0 {
		return Window{}, fmt.Errorf("no weekdays in %q", days)
	}
	rng := strings.Split(hours, "-")
	if len(rng) != 2 {
		return Window{}, fmt.Errorf("invalid hours %q: want HH:MM-HH:MM", hours)
	}
	var err error
	if w.Start, err = ParseClock(rng[0]); err != nil {
		return Window{}, err
	}
	if w.End, err = ParseClock(rng[1]); err != nil {
		return Window{}, err
	}
	if w.End < w.Start {
		return Window{}, fmt.Errorf("invalid hours %q: end before start", hours)
	}
	return w, nil
}

// Contains reports whether t is inside the window and not an NSE holiday.
func (w Window) Contains(t time.Time) (bool, string) {
	ist := t.In(IST)
	if !w.Days[ist.Weekday()] {
		return false, "weekday=" + ist.Weekday().String()
	}
	if name, ok := HolidayName(ist); ok {
		return false, "holiday " + name
	}
	c := Of(ist)
	if c < w.Start || c > w.End {
		return false, "outside market hours"
	}
	return true, "market ok"
}
