package clock

import (
	"sync"
	"time"
)

// HolidayFunc returns the exchange holidays for a year, already shifted to
// their observed dates.
type HolidayFunc func(year int) []time.Time

// Calendar answers business-day questions against a holiday table. The US
// equity table ships as the default; other markets plug in a HolidayFunc.
type Calendar struct {
	mu       sync.Mutex
	holidays map[int]map[time.Time]bool
	source   HolidayFunc
	sessions SessionTable
}

// NewCalendar returns a calendar for US equity markets.
func NewCalendar() *Calendar {
	return NewCalendarWith(USMarketHolidays, USEquitySessions())
}

// NewCalendarWith returns a calendar over a custom holiday source and
// session table.
func NewCalendarWith(source HolidayFunc, sessions SessionTable) *Calendar {
	return &Calendar{
		holidays: make(map[int]map[time.Time]bool),
		source:   source,
		sessions: sessions,
	}
}

func (c *Calendar) holidaySet(year int) map[time.Time]bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if set, ok := c.holidays[year]; ok {
		return set
	}
	set := make(map[time.Time]bool)
	for _, d := range c.source(year) {
		set[Midnight(d)] = true
	}
	c.holidays[year] = set
	return set
}

// IsBusinessDay reports whether d is a weekday and not a holiday.
func (c *Calendar) IsBusinessDay(d time.Time) bool {
	day := Midnight(d)
	switch day.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.holidaySet(day.Year())[day]
}

// NextBusinessDay returns the first business day strictly after d.
func (c *Calendar) NextBusinessDay(d time.Time) time.Time {
	day := Midnight(d).AddDate(0, 0, 1)
	for !c.IsBusinessDay(day) {
		day = day.AddDate(0, 0, 1)
	}
	return day
}

// AddBusinessDays advances n business days from d, each strictly after the
// previous. n = 0 returns d normalized to midnight. Settlement dates are
// AddBusinessDays(tradeDate, 1).
func (c *Calendar) AddBusinessDays(d time.Time, n int) time.Time {
	day := Midnight(d)
	for i := 0; i < n; i++ {
		day = c.NextBusinessDay(day)
	}
	return day
}

// LastNBusinessDays returns the n most recent business days ending at from
// (inclusive when from is itself a business day), newest first.
func (c *Calendar) LastNBusinessDays(from time.Time, n int) []time.Time {
	days := make([]time.Time, 0, n)
	day := Midnight(from)
	for len(days) < n {
		if c.IsBusinessDay(day) {
			days = append(days, day)
		}
		day = day.AddDate(0, 0, -1)
	}
	return days
}

// USMarketHolidays returns NYSE/Nasdaq full-day holidays for a year,
// shifted to observed dates (Saturday observed Friday, Sunday observed
// Monday).
func USMarketHolidays(year int) []time.Time {
	observed := func(d time.Time) time.Time {
		switch d.Weekday() {
		case time.Saturday:
			return d.AddDate(0, 0, -1)
		case time.Sunday:
			return d.AddDate(0, 0, 1)
		}
		return d
	}
	fixed := func(month time.Month, day int) time.Time {
		return observed(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
	}

	return []time.Time{
		fixed(time.January, 1),                       // New Year's Day
		nthWeekday(year, time.January, time.Monday, 3),  // MLK Day
		nthWeekday(year, time.February, time.Monday, 3), // Presidents Day
		goodFriday(year),
		lastWeekday(year, time.May, time.Monday), // Memorial Day
		fixed(time.June, 19),                     // Juneteenth
		fixed(time.July, 4),                      // Independence Day
		nthWeekday(year, time.September, time.Monday, 1),  // Labor Day
		nthWeekday(year, time.November, time.Thursday, 4), // Thanksgiving
		fixed(time.December, 25),                 // Christmas
	}
}

func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(weekday) - int(d.Weekday()) + 7) % 7
	return d.AddDate(0, 0, offset+(n-1)*7)
}

func lastWeekday(year int, month time.Month, weekday time.Weekday) time.Time {
	d := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	offset := (int(d.Weekday()) - int(weekday) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

// goodFriday computes the Friday before Easter Sunday using the anonymous
// Gregorian computus.
func goodFriday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	easter := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return easter.AddDate(0, 0, -2)
}
