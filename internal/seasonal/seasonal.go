// Package seasonal maps calendar dates to recurring market events and the
// signal adjustment multiplier they imply. Everything here is a pure
// function of the date; strategies multiply signal strength and confidence
// by the clamped result.
package seasonal

import (
	"sort"
	"time"

	"github.com/quantfleet/engine/internal/clock"
)

const (
	// MinMultiplier and MaxMultiplier bound the aggregate adjustment.
	MinMultiplier = 0.4
	MaxMultiplier = 2.0
)

// Event is one recurring seasonal market event. Start and End are
// month/day anchors applied to the query year.
type Event struct {
	Name            string   `json:"name"`
	StartMonth      int      `json:"start_month"`
	StartDay        int      `json:"start_day"`
	EndMonth        int      `json:"end_month"`
	EndDay          int      `json:"end_day"`
	Impact          float64  `json:"impact"` // 0.4..2.0
	SectorsAffected []string `json:"sectors_affected,omitempty"`
	Description     string   `json:"description,omitempty"`
	Multiplier      float64  `json:"adjustment_multiplier"`
}

// ActiveOn reports whether the event covers d. Windows wrapping the year
// boundary (e.g. the Santa Claus rally) are handled.
func (e Event) ActiveOn(d time.Time) bool {
	d = clock.Midnight(d)
	start := time.Date(d.Year(), time.Month(e.StartMonth), e.StartDay, 0, 0, 0, 0, time.UTC)
	end := time.Date(d.Year(), time.Month(e.EndMonth), e.EndDay, 0, 0, 0, 0, time.UTC)

	if !end.Before(start) {
		return !d.Before(start) && !d.After(end)
	}
	// Wraps the year boundary.
	return !d.Before(start) || !d.After(end)
}

func (e Event) affects(sector string) bool {
	if sector == "" || len(e.SectorsAffected) == 0 {
		return true
	}
	for _, s := range e.SectorsAffected {
		if s == sector {
			return true
		}
	}
	return false
}

// Calendar answers seasonal queries against a fixed event table.
type Calendar struct {
	events []Event
}

// NewCalendar returns a calendar over the shipped US-equity event table.
func NewCalendar() *Calendar {
	return NewCalendarWith(USEquityEvents())
}

// NewCalendarWith builds a calendar over a custom event table.
func NewCalendarWith(events []Event) *Calendar {
	return &Calendar{events: events}
}

// USEquityEvents is the shipped seasonal table for US equities.
func USEquityEvents() []Event {
	return []Event{
		{
			Name: "january_effect", StartMonth: 1, StartDay: 2, EndMonth: 1, EndDay: 31,
			Impact: 1.15, Multiplier: 1.1,
			SectorsAffected: []string{"small_cap"},
			Description:     "Small-cap outperformance in early January",
		},
		{
			Name: "earnings_q1", StartMonth: 1, StartDay: 15, EndMonth: 2, EndDay: 15,
			Impact: 1.3, Multiplier: 1.2,
			Description: "Q4 earnings season volatility",
		},
		{
			Name: "earnings_q2", StartMonth: 4, StartDay: 10, EndMonth: 5, EndDay: 10,
			Impact: 1.3, Multiplier: 1.2,
			Description: "Q1 earnings season volatility",
		},
		{
			Name: "sell_in_may", StartMonth: 5, StartDay: 1, EndMonth: 10, EndDay: 31,
			Impact: 0.85, Multiplier: 0.9,
			Description: "Historically weak May-October stretch",
		},
		{
			Name: "earnings_q3", StartMonth: 7, StartDay: 10, EndMonth: 8, EndDay: 10,
			Impact: 1.3, Multiplier: 1.2,
			Description: "Q2 earnings season volatility",
		},
		{
			Name: "september_weakness", StartMonth: 9, StartDay: 1, EndMonth: 9, EndDay: 30,
			Impact: 0.7, Multiplier: 0.8,
			Description: "Historically the weakest month for US equities",
		},
		{
			Name: "earnings_q4", StartMonth: 10, StartDay: 10, EndMonth: 11, EndDay: 10,
			Impact: 1.3, Multiplier: 1.2,
			Description: "Q3 earnings season volatility",
		},
		{
			Name: "holiday_retail", StartMonth: 11, StartDay: 20, EndMonth: 12, EndDay: 24,
			Impact: 1.25, Multiplier: 1.15,
			SectorsAffected: []string{"retail", "consumer_discretionary"},
			Description:     "Holiday shopping lift for retail names",
		},
		{
			Name: "santa_claus_rally", StartMonth: 12, StartDay: 22, EndMonth: 1, EndDay: 5,
			Impact: 1.2, Multiplier: 1.1,
			Description: "Year-end drift into the first trading days of January",
		},
	}
}

// ActiveEvents returns the events covering d, in table order.
func (c *Calendar) ActiveEvents(d time.Time) []Event {
	var out []Event
	for _, e := range c.events {
		if e.ActiveOn(d) {
			out = append(out, e)
		}
	}
	return out
}

// UpcomingEvents returns events starting within horizonDays after d,
// soonest first. Events already active on d are excluded.
func (c *Calendar) UpcomingEvents(d time.Time, horizonDays int) []Event {
	d = clock.Midnight(d)
	type upcoming struct {
		event Event
		in    int
	}

	var found []upcoming
	for _, e := range c.events {
		if e.ActiveOn(d) {
			continue
		}
		start := time.Date(d.Year(), time.Month(e.StartMonth), e.StartDay, 0, 0, 0, 0, time.UTC)
		if start.Before(d) {
			start = start.AddDate(1, 0, 0)
		}
		days := int(start.Sub(d).Hours() / 24)
		if days <= horizonDays {
			found = append(found, upcoming{event: e, in: days})
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].in < found[j].in })
	out := make([]Event, len(found))
	for i, u := range found {
		out[i] = u.event
	}
	return out
}

// Adjustment returns the aggregate multiplier for a sector on d, with the
// names of the contributing events. Multipliers compound and the product is
// clamped to [MinMultiplier, MaxMultiplier]. No active events yields 1.0.
func (c *Calendar) Adjustment(sector string, d time.Time) (float64, []string) {
	multiplier := 1.0
	var names []string

	for _, e := range c.events {
		if !e.ActiveOn(d) || !e.affects(sector) {
			continue
		}
		multiplier *= e.Multiplier
		names = append(names, e.Name)
	}

	if multiplier < MinMultiplier {
		multiplier = MinMultiplier
	}
	if multiplier > MaxMultiplier {
		multiplier = MaxMultiplier
	}
	return multiplier, names
}

// Context is the aggregate seasonal view handed to strategies each cycle.
type Context struct {
	Date       time.Time `json:"date"`
	Multiplier float64   `json:"multiplier"`
	Active     []Event   `json:"active,omitempty"`
	EventNames []string  `json:"event_names,omitempty"`
}

// Context builds the sector-agnostic aggregate view for d.
func (c *Calendar) Context(d time.Time) Context {
	multiplier, names := c.Adjustment("", d)
	return Context{
		Date:       clock.Midnight(d),
		Multiplier: multiplier,
		Active:     c.ActiveEvents(d),
		EventNames: names,
	}
}

// ClampMultiplier bounds an aggregate multiplier to a strategy's own
// [reduceMax, boostMax] window, typically [0.7, 1.3].
func ClampMultiplier(m, reduceMax, boostMax float64) float64 {
	if m < reduceMax {
		return reduceMax
	}
	if m > boostMax {
		return boostMax
	}
	return m
}
