// Package risk provides the portfolio-level risk gate: position caps, VIX
// gating, daily and weekly loss limits, and the kill switch. One Manager
// guards the whole process.
package risk

import (
	"sync"
	"time"

	"github.com/quantfleet/engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DecisionStatus is the outcome of a risk check.
type DecisionStatus string

const (
	StatusApproved DecisionStatus = "approved"
	StatusReduced  DecisionStatus = "reduced"
	StatusRejected DecisionStatus = "rejected"
)

// Decision is the result of one CheckOrder call. Quantity carries the
// approved size, which may be smaller than requested.
type Decision struct {
	Status   DecisionStatus  `json:"status"`
	Quantity decimal.Decimal `json:"quantity"`
	Reason   string          `json:"reason,omitempty"`
}

// Config holds the portfolio risk caps.
type Config struct {
	MaxPositionSize     decimal.Decimal `json:"maxPositionSize"`
	MaxPortfolioPct     decimal.Decimal `json:"maxPortfolioPct"` // 0..100
	DailyLossLimitPct   decimal.Decimal `json:"dailyLossLimitPct"`
	WeeklyLossLimitPct  decimal.Decimal `json:"weeklyLossLimitPct"`
	MaxDrawdownPct      decimal.Decimal `json:"maxDrawdownPct"`
	VIXPauseThreshold   decimal.Decimal `json:"vixPauseThreshold"`
	VIXExtremeThreshold decimal.Decimal `json:"vixExtremeThreshold"`
}

// DefaultConfig returns conservative portfolio caps.
func DefaultConfig() Config {
	return Config{
		MaxPositionSize:     decimal.NewFromInt(10000),
		MaxPortfolioPct:     decimal.NewFromInt(10),
		DailyLossLimitPct:   decimal.NewFromInt(3),
		WeeklyLossLimitPct:  decimal.NewFromInt(8),
		MaxDrawdownPct:      decimal.NewFromInt(10),
		VIXPauseThreshold:   decimal.NewFromInt(35),
		VIXExtremeThreshold: decimal.NewFromInt(50),
	}
}

// Manager is the process-wide risk gate. Checks read a consistent state
// snapshot under the mutex; they never perform I/O.
type Manager struct {
	logger *zap.Logger

	mu     sync.Mutex
	config Config

	portfolioValue decimal.Decimal
	dailyPnL       decimal.Decimal
	weeklyPnL      decimal.Decimal
	drawdown       decimal.Decimal
	vix            decimal.Decimal

	paused     bool
	pauseCause string
	killed     bool
	killCause  string
	killedAt   time.Time
}

// NewManager creates a risk manager with the given caps.
func NewManager(logger *zap.Logger, config Config) *Manager {
	return &Manager{
		logger: logger.Named("risk"),
		config: config,
	}
}

var two = decimal.NewFromInt(2)
var hundred = decimal.NewFromInt(100)

// CheckOrder gates a prospective order. The returned Decision carries the
// approved quantity; a Reduced decision means the caller must shrink the
// order to it.
func (m *Manager) CheckOrder(symbol string, qty, price decimal.Decimal, side types.OrderSide) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.killed {
		return Decision{Status: StatusRejected, Reason: "kill switch"}
	}
	if m.paused {
		return Decision{Status: StatusRejected, Reason: "trading paused: " + m.pauseCause}
	}
	if m.vix.GreaterThanOrEqual(m.config.VIXExtremeThreshold) && m.vix.IsPositive() {
		return Decision{Status: StatusRejected, Reason: "VIX extreme"}
	}

	status := StatusApproved
	reason := ""

	if m.vix.GreaterThanOrEqual(m.config.VIXPauseThreshold) && m.vix.IsPositive() {
		qty = qty.Div(two).Floor()
		status = StatusReduced
		reason = "quantity halved: elevated VIX"
	}

	if price.IsPositive() {
		cap := m.config.MaxPositionSize
		if m.portfolioValue.IsPositive() {
			pctCap := m.config.MaxPortfolioPct.Div(hundred).Mul(m.portfolioValue)
			if pctCap.LessThan(cap) {
				cap = pctCap
			}
		}
		if qty.Mul(price).GreaterThan(cap) {
			qty = cap.Div(price).Floor()
			status = StatusReduced
			reason = "quantity capped by position size limit"
		}
	}

	if !qty.IsPositive() {
		return Decision{Status: StatusRejected, Reason: "risk caps leave no tradable quantity"}
	}

	if status == StatusReduced {
		m.logger.Info("order size reduced",
			zap.String("symbol", symbol),
			zap.String("side", string(side)),
			zap.String("quantity", qty.String()),
			zap.String("reason", reason))
	}
	return Decision{Status: status, Quantity: qty, Reason: reason}
}

// UpdatePnL feeds realized performance into the loss limits. Crossing the
// daily or weekly limit pauses trading; crossing the drawdown limit trips
// the kill switch, which only ResetKillSwitch clears.
func (m *Manager) UpdatePnL(daily, weekly, drawdownPct decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dailyPnL = daily
	m.weeklyPnL = weekly
	m.drawdown = drawdownPct

	if m.portfolioValue.IsPositive() {
		dailyLimit := m.config.DailyLossLimitPct.Div(hundred).Mul(m.portfolioValue)
		if daily.Abs().GreaterThanOrEqual(dailyLimit) && daily.IsNegative() && !m.paused {
			m.paused = true
			m.pauseCause = "daily loss limit"
			m.logger.Warn("trading paused", zap.String("cause", m.pauseCause),
				zap.String("daily_pnl", daily.StringFixed(2)))
		}
		weeklyLimit := m.config.WeeklyLossLimitPct.Div(hundred).Mul(m.portfolioValue)
		if weekly.Abs().GreaterThanOrEqual(weeklyLimit) && weekly.IsNegative() && !m.paused {
			m.paused = true
			m.pauseCause = "weekly loss limit"
			m.logger.Warn("trading paused", zap.String("cause", m.pauseCause),
				zap.String("weekly_pnl", weekly.StringFixed(2)))
		}
	}

	if drawdownPct.GreaterThanOrEqual(m.config.MaxDrawdownPct) && !m.killed {
		m.killed = true
		m.killCause = "max drawdown exceeded"
		m.killedAt = time.Now().UTC()
		m.logger.Error("kill switch tripped",
			zap.String("drawdown_pct", drawdownPct.StringFixed(2)),
			zap.String("limit_pct", m.config.MaxDrawdownPct.StringFixed(2)))
	}
}

// UpdateVIX sets the current volatility index reading.
func (m *Manager) UpdateVIX(v decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vix = v
}

// UpdatePortfolioValue sets the current portfolio valuation.
func (m *Manager) UpdatePortfolioValue(v decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolioValue = v
}

// PauseTrading pauses the gate manually.
func (m *Manager) PauseTrading(cause string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
	m.pauseCause = cause
	m.logger.Warn("trading paused", zap.String("cause", cause))
}

// ResumeTrading clears a pause. It returns false while the kill switch is
// set: killed is sticky and out of ResumeTrading's reach.
func (m *Manager) ResumeTrading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.killed {
		m.logger.Warn("resume refused: kill switch is set")
		return false
	}
	m.paused = false
	m.pauseCause = ""
	m.logger.Info("trading resumed")
	return true
}

// ResetKillSwitch clears the kill switch. Deliberately a separate call from
// ResumeTrading so the reset is always explicit.
func (m *Manager) ResetKillSwitch() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.killed {
		return
	}
	m.killed = false
	m.killCause = ""
	m.logger.Warn("kill switch reset")
}

// Killed reports whether the kill switch is set.
func (m *Manager) Killed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killed
}

// ResetDaily zeroes the daily PnL tracking at session rollover.
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnL = decimal.Zero
}

// Status is a snapshot of the risk state.
type Status struct {
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	DailyPnL       decimal.Decimal `json:"daily_pnl"`
	WeeklyPnL      decimal.Decimal `json:"weekly_pnl"`
	DrawdownPct    decimal.Decimal `json:"drawdown_pct"`
	VIX            decimal.Decimal `json:"vix"`
	Paused         bool            `json:"paused"`
	PauseCause     string          `json:"pause_cause,omitempty"`
	Killed         bool            `json:"killed"`
	KillCause      string          `json:"kill_cause,omitempty"`
	KilledAt       *time.Time      `json:"killed_at,omitempty"`
}

// Status returns a copy of the current risk state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		PortfolioValue: m.portfolioValue,
		DailyPnL:       m.dailyPnL,
		WeeklyPnL:      m.weeklyPnL,
		DrawdownPct:    m.drawdown,
		VIX:            m.vix,
		Paused:         m.paused,
		PauseCause:     m.pauseCause,
		Killed:         m.killed,
		KillCause:      m.killCause,
	}
	if !m.killedAt.IsZero() {
		at := m.killedAt
		st.KilledAt = &at
	}
	return st
}
