package markethours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, IST)
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("15:18")
	require.NoError(t, err)
	require.Equal(t, "15:18", c.String())
	require.True(t, c.Reached(at(2026, 10, 16, 15, 18)))
	require.False(t, c.Reached(at(2026, 10, 16, 15, 17)))

	for _, bad := range []string{"", "15", "25:00", "10:61", "aa:bb"} {
		_, err := ParseClock(bad)
		require.Error(t, err, bad)
	}
}

func TestReachedUsesIST(t *testing.T) {
	c := MustClock("15:18")
	// 09:48 UTC == 15:18 IST
	require.True(t, c.Reached(time.Date(2026, 10, 16, 9, 48, 0, 0, time.UTC)))
}

func TestIsMarketOpen(t *testing.T) {
	require.True(t, IsMarketOpen(at(2026, 10, 16, 9, 15))) // Friday
	require.False(t, IsMarketOpen(at(2026, 10, 16, 15, 30)))
	require.False(t, IsMarketOpen(at(2026, 10, 17, 10, 0))) // Saturday
	require.False(t, IsMarketOpen(at(2026, 10, 20, 10, 0))) // Dussehra
}

func TestLastSession(t *testing.T) {
	from, to := LastSession(at(2026, 10, 16, 11, 0), 180*time.Minute)
	require.Equal(t, at(2026, 10, 16, 9, 15), from)
	require.Equal(t, at(2026, 10, 16, 11, 0), to)

	// weekend: previous Friday's last three hours
	from, to = LastSession(at(2026, 10, 18, 12, 0), 180*time.Minute)
	require.Equal(t, at(2026, 10, 16, 12, 30), from)
	require.Equal(t, at(2026, 10, 16, 15, 30), to)

	// before open on Monday: Friday's close
	_, to = LastSession(at(2026, 10, 19, 8, 0), 60*time.Minute)
	require.Equal(t, at(2026, 10, 16, 15, 30), to)
}

func TestWindow(t *testing.T) {
	w, err := ParseWindow("1,2,3,4,5", "09:15-15:30")
	require.NoError(t, err)

	ok, _ := w.Contains(at(2026, 10, 16, 15, 30))
	require.True(t, ok)
	ok, reason := w.Contains(at(2026, 10, 17, 10, 0))
	require.False(t, ok)
	require.Contains(t, reason, "Saturday")
	ok, reason = w.Contains(at(2026, 10, 16, 9, 0))
	require.False(t, ok)
	require.Equal(t, "outside market hours", reason)

	_, err = ParseWindow("0", "09:15-15:30")
	require.Error(t, err)
	_, err = ParseWindow("1-5", "15:30-09:15")
	require.Error(t, err)
}

func TestDay(t *testing.T) {
	require.Equal(t, "2026-10-17", Day(time.Date(2026, 10, 16, 20, 0, 0, 0, time.UTC)))
}

func TestHolidays(t *testing.T) {
	name, ok := HolidayName(at(2026, 10, 20, 10, 0))
	require.True(t, ok)
	require.Equal(t, "Dussehra", name)
	require.False(t, IsTradingDay(at(2026, 10, 20, 10, 0)))

	w, err := ParseWindow("1,2,3,4,5", "09:15-15:30")
	require.NoError(t, err)
	ok, reason := w.Contains(at(2026, 10, 20, 10, 0))
	require.False(t, ok)
	require.Equal(t, "holiday Dussehra", reason)

	require.False(t, IsHoliday(at(2027, 1, 26, 10, 0)))
	require.NoError(t, AddHolidays("2027-01-26", " "))
	require.True(t, IsHoliday(at(2027, 1, 26, 10, 0)))
	require.Error(t, AddHolidays("26/01/2027"))
}
