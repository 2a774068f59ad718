package clock

import "time"

// Session is the market session state at a point in time.
type Session string

const (
	SessionPreMarket  Session = "pre_market"
	SessionOpen       Session = "open"
	SessionAfterHours Session = "after_hours"
	SessionClosed     Session = "closed"
)

// SessionTable maps intraday UTC minutes to sessions. Windows are
// half-open [start, end).
type SessionTable struct {
	PreMarketStart  int // minutes from UTC midnight
	MarketOpen      int
	MarketClose     int
	AfterHoursClose int
}

// USEquitySessions returns the fixed UTC windows for US equities:
// pre-market 08:00, open 13:30, close 20:00, after-hours until 24:00.
func USEquitySessions() SessionTable {
	return SessionTable{
		PreMarketStart:  8 * 60,
		MarketOpen:      13*60 + 30,
		MarketClose:     20 * 60,
		AfterHoursClose: 24 * 60,
	}
}

// Session returns the market session at t. Non-business days are Closed
// throughout.
func (c *Calendar) Session(t time.Time) Session {
	if !c.IsBusinessDay(t) {
		return SessionClosed
	}

	u := t.UTC()
	minutes := u.Hour()*60 + u.Minute()

	switch {
	case minutes >= c.sessions.MarketOpen && minutes < c.sessions.MarketClose:
		return SessionOpen
	case minutes >= c.sessions.PreMarketStart && minutes < c.sessions.MarketOpen:
		return SessionPreMarket
	case minutes >= c.sessions.MarketClose && minutes < c.sessions.AfterHoursClose:
		return SessionAfterHours
	}
	return SessionClosed
}

// IsMarketOpen reports whether t falls inside regular trading hours.
func (c *Calendar) IsMarketOpen(t time.Time) bool {
	return c.Session(t) == SessionOpen
}
