package seasonal

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestActiveEvents(t *testing.T) {
	c := NewCalendar()

	cases := []struct {
		day  time.Time
		want string
	}{
		{date(2026, time.January, 10), "january_effect"},
		{date(2026, time.September, 15), "september_weakness"},
		{date(2026, time.December, 23), "santa_claus_rally"},
		{date(2026, time.January, 3), "santa_claus_rally"}, // wrapped window
	}

	for _, tc := range cases {
		events := c.ActiveEvents(tc.day)
		found := false
		for _, e := range events {
			if e.Name == tc.want {
				found = true
			}
		}
		if !found {
			t.Errorf("%s: expected %s among active events %v", tc.day.Format("2006-01-02"), tc.want, events)
		}
	}
}

func TestAdjustmentCompoundsAndClamps(t *testing.T) {
	c := NewCalendarWith([]Event{
		{Name: "a", StartMonth: 3, StartDay: 1, EndMonth: 3, EndDay: 31, Multiplier: 0.5},
		{Name: "b", StartMonth: 3, StartDay: 1, EndMonth: 3, EndDay: 31, Multiplier: 0.5},
	})

	m, names := c.Adjustment("", date(2026, time.March, 15))
	if m != MinMultiplier {
		t.Errorf("expected clamp to %v, got %v", MinMultiplier, m)
	}
	if len(names) != 2 {
		t.Errorf("expected both events, got %v", names)
	}
}

func TestAdjustmentSectorFilter(t *testing.T) {
	c := NewCalendar()

	// holiday_retail affects retail only; energy should not see it.
	retail, _ := c.Adjustment("retail", date(2026, time.November, 25))
	energy, _ := c.Adjustment("energy", date(2026, time.November, 25))
	if retail <= energy {
		t.Errorf("retail multiplier %v should exceed energy %v in holiday season", retail, energy)
	}
}

func TestAdjustmentQuietDate(t *testing.T) {
	c := NewCalendarWith([]Event{
		{Name: "only_march", StartMonth: 3, StartDay: 1, EndMonth: 3, EndDay: 31, Multiplier: 1.5},
	})
	m, names := c.Adjustment("", date(2026, time.June, 15))
	if m != 1.0 || names != nil {
		t.Errorf("quiet date should be neutral, got %v %v", m, names)
	}
}

func TestUpcomingEvents(t *testing.T) {
	c := NewCalendar()

	events := c.UpcomingEvents(date(2026, time.August, 25), 10)
	if len(events) == 0 {
		t.Fatal("expected september_weakness within 10 days of Aug 25")
	}
	if events[0].Name != "september_weakness" {
		t.Errorf("expected september_weakness first, got %s", events[0].Name)
	}
}

func TestContext(t *testing.T) {
	c := NewCalendar()
	ctx := c.Context(date(2026, time.September, 10))
	if ctx.Multiplier >= 1.0 {
		t.Errorf("september context should reduce, got %v", ctx.Multiplier)
	}
	if len(ctx.Active) == 0 {
		t.Error("expected active events in context")
	}
}

func TestClampMultiplier(t *testing.T) {
	if got := ClampMultiplier(2.0, 0.7, 1.3); got != 1.3 {
		t.Errorf("boost clamp: got %v", got)
	}
	if got := ClampMultiplier(0.4, 0.7, 1.3); got != 0.7 {
		t.Errorf("reduce clamp: got %v", got)
	}
	if got := ClampMultiplier(1.1, 0.7, 1.3); got != 1.1 {
		t.Errorf("in-window value changed: got %v", got)
	}
}
