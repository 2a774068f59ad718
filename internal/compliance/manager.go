// Package compliance enforces account-level trading rules: pattern day
// trading, good-faith and freeriding limits, day-trading buying power, and
// wash sales. One Manager guards one (broker, account) pair.
package compliance

import (
	"fmt"
	"sync"
	"time"

	"github.com/quantfleet/engine/internal/clock"
	"github.com/quantfleet/engine/internal/errs"
	"github.com/quantfleet/engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// FINRA 4210: a margin account under this equity is limited to three
	// day trades per five business days.
	pdtEquityThreshold = 25_000
	pdtMaxDayTrades    = 3
	pdtWindowDays      = 5

	dayTradeRetentionDays = 7
	historyRetentionDays  = 60
	washSaleWindowDays    = 30
)

// IntradayPosition tracks shares opened today for day-trade matching.
type IntradayPosition struct {
	Quantity decimal.Decimal `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avg_price"`
	OpenTime time.Time       `json:"open_time"`
}

// Manager holds the compliance state for a single (broker, account) pair.
// All methods are safe for concurrent use; the account is serialized by one
// mutex so check and record interleave deterministically.
type Manager struct {
	logger      *zap.Logger
	broker      string
	accountID   string
	accountType types.AccountType
	clock       clock.Clock
	calendar    *clock.Calendar

	mu sync.Mutex

	account   *types.AccountSnapshot
	dayTrades []types.DayTrade
	intraday  map[string]*IntradayPosition
	unsettled []types.UnsettledPosition
	history   map[string][]types.TradeHistoryEntry

	violations      []types.ComplianceViolation
	restrictedUntil time.Time
	restrictionType string
	tradingStopped  bool
	stopReason      string
}

// NewManager creates a compliance manager for one account.
func NewManager(logger *zap.Logger, broker, accountID string, accountType types.AccountType, clk clock.Clock, cal *clock.Calendar) *Manager {
	return &Manager{
		logger:      logger.Named("compliance").With(zap.String("broker", broker), zap.String("account", accountID)),
		broker:      broker,
		accountID:   accountID,
		accountType: accountType,
		clock:       clk,
		calendar:    cal,
		intraday:    make(map[string]*IntradayPosition),
		history:     make(map[string][]types.TradeHistoryEntry),
	}
}

// Broker returns the owning broker name.
func (m *Manager) Broker() string { return m.broker }

// AccountID returns the guarded account.
func (m *Manager) AccountID() string { return m.accountID }

// AccountType returns the account classification.
func (m *Manager) AccountType() types.AccountType { return m.accountType }

// UpdateAccount replaces the account snapshot used by the checks.
func (m *Manager) UpdateAccount(snap types.AccountSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account = &snap
}

// CheckOrder runs the pre-trade rule sequence for a prospective order.
// Blocks and stops are results, not errors; the error return fires only on
// invalid manager state such as a missing account snapshot.
func (m *Manager) CheckOrder(symbol string, side types.OrderSide, qty, estPrice decimal.Decimal, isClosing bool) (*types.CheckResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := &types.CheckResult{Allowed: true, Action: types.ActionAllow}

	if m.accountType == types.AccountPaper {
		return result, nil
	}
	if m.account == nil {
		return nil, errs.New(errs.KindInternal, "compliance", "check_order",
			"no account snapshot for "+m.accountID)
	}

	today := clock.Midnight(m.clock.Now())

	if m.tradingStopped {
		m.addViolation(result, types.ComplianceViolation{
			Kind:        types.ViolationTradingStop,
			Severity:    types.SeverityCritical,
			Action:      types.ActionBlock,
			Title:       "Trading stopped for the day",
			Description: m.stopReason,
			Timestamp:   m.clock.Now(),
		})
		return m.finalize(result), nil
	}

	if !m.restrictedUntil.IsZero() && today.Before(m.restrictedUntil) {
		m.addViolation(result, types.ComplianceViolation{
			Kind:     types.ViolationRestricted,
			Severity: types.SeverityCritical,
			Action:   types.ActionBlock,
			Title:    "Account restricted",
			Description: fmt.Sprintf("account is under a %s restriction until %s",
				m.restrictionType, m.restrictedUntil.Format("2006-01-02")),
			Timestamp: m.clock.Now(),
		})
		return m.finalize(result), nil
	}

	if blocked := m.checkPDT(result, symbol, side, isClosing, today); blocked {
		return m.finalize(result), nil
	}

	orderValue := qty.Mul(estPrice)

	m.checkGoodFaith(result, symbol, side, qty)
	m.checkFreeriding(result, side, orderValue)
	if blocked := m.checkDTBP(result, side, orderValue, today); blocked {
		return m.finalize(result), nil
	}
	m.checkWashSale(result, symbol, side)

	return m.finalize(result), nil
}

// checkPDT applies the pattern-day-trader rule. Returns true when the order
// is blocked outright.
func (m *Manager) checkPDT(result *types.CheckResult, symbol string, side types.OrderSide, isClosing bool, today time.Time) bool {
	if m.accountType != types.AccountMargin {
		return false
	}
	if m.account.Equity.GreaterThanOrEqual(decimal.NewFromInt(pdtEquityThreshold)) {
		return false
	}

	wouldBeDayTrade := false
	switch side {
	case types.OrderSideSell:
		if pos, ok := m.intraday[symbol]; ok && clock.SameDay(pos.OpenTime, today) {
			wouldBeDayTrade = true
		}
	case types.OrderSideBuy:
		wouldBeDayTrade = isClosing
	}
	if !wouldBeDayTrade {
		return false
	}

	// The prospective order counts toward the window: three recorded day
	// trades make this the fourth.
	count := m.dayTradesInWindow(today) + 1
	switch {
	case count > pdtMaxDayTrades:
		m.addViolation(result, types.ComplianceViolation{
			Kind:     types.ViolationPDT,
			Severity: types.SeverityCritical,
			Action:   types.ActionBlock,
			Title:    "Pattern Day Trader rule violation",
			Description: fmt.Sprintf("this order would be day trade %d in %d business days with equity under $%d",
				count, pdtWindowDays, pdtEquityThreshold),
			Regulation: "FINRA 4210",
			Details:    map[string]any{"day_trades": count - 1},
			Timestamp:  m.clock.Now(),
		})
		return true
	case count == pdtMaxDayTrades:
		m.addViolation(result, types.ComplianceViolation{
			Kind:        types.ViolationPDT,
			Severity:    types.SeverityWarning,
			Action:      types.ActionConfirm,
			Title:       "Final day trade available",
			Description: fmt.Sprintf("this would be day trade %d of %d in the rolling window; the next one flags the account", count, pdtMaxDayTrades),
			Regulation:  "FINRA 4210",
			Timestamp:   m.clock.Now(),
		})
	case count >= pdtMaxDayTrades-1:
		m.addViolation(result, types.ComplianceViolation{
			Kind:     types.ViolationPDT,
			Severity: types.SeverityWarning,
			Action:   types.ActionWarn,
			Title:    "Approaching day trade limit",
			Description: fmt.Sprintf("this would be day trade %d, leaving %d in the rolling %d-day window",
				count, pdtMaxDayTrades-count, pdtWindowDays),
			Regulation: "FINRA 4210",
			Timestamp:  m.clock.Now(),
		})
	}
	return false
}

// checkGoodFaith flags sells of shares bought with still-unsettled funds.
func (m *Manager) checkGoodFaith(result *types.CheckResult, symbol string, side types.OrderSide, qty decimal.Decimal) {
	if m.accountType != types.AccountCash || side != types.OrderSideSell {
		return
	}

	unsettledQty := decimal.Zero
	for _, u := range m.unsettled {
		if u.Symbol == symbol {
			unsettledQty = unsettledQty.Add(u.Quantity)
		}
	}
	if unsettledQty.GreaterThanOrEqual(qty) && qty.IsPositive() {
		m.addViolation(result, types.ComplianceViolation{
			Kind:     types.ViolationGoodFaith,
			Severity: types.SeverityWarning,
			Action:   types.ActionConfirm,
			Title:    "Potential good faith violation",
			Description: fmt.Sprintf("selling %s %s bought with unsettled funds (%s shares unsettled)",
				qty, symbol, unsettledQty),
			Regulation: "Regulation T",
			Timestamp:  m.clock.Now(),
		})
	}
}

// checkFreeriding flags buys that can only be paid for with unsettled sale
// proceeds.
func (m *Manager) checkFreeriding(result *types.CheckResult, side types.OrderSide, orderValue decimal.Decimal) {
	if m.accountType != types.AccountCash || side != types.OrderSideBuy {
		return
	}
	if orderValue.GreaterThan(m.account.SettledBuyingPower) &&
		orderValue.LessThanOrEqual(m.account.BuyingPower) {
		m.addViolation(result, types.ComplianceViolation{
			Kind:     types.ViolationFreeriding,
			Severity: types.SeverityWarning,
			Action:   types.ActionConfirm,
			Title:    "Potential freeriding violation",
			Description: fmt.Sprintf("order value %s exceeds settled buying power %s",
				orderValue.StringFixed(2), m.account.SettledBuyingPower.StringFixed(2)),
			Regulation: "Regulation T",
			Timestamp:  m.clock.Now(),
		})
	}
}

// checkDTBP enforces day-trading buying power for flagged PDT margin
// accounts. Returns true when the order is blocked.
func (m *Manager) checkDTBP(result *types.CheckResult, side types.OrderSide, orderValue decimal.Decimal, today time.Time) bool {
	if m.accountType != types.AccountMargin || !m.account.PatternDayTrader || side != types.OrderSideBuy {
		return false
	}

	used := decimal.Zero
	for _, dt := range m.dayTrades {
		if clock.SameDay(dt.TradeDate, today) {
			used = used.Add(dt.BuyPrice.Mul(dt.Quantity))
		}
	}
	remaining := m.account.DayTradingBuyingPower.Sub(used)
	if orderValue.GreaterThan(remaining) {
		m.addViolation(result, types.ComplianceViolation{
			Kind:     types.ViolationDTBP,
			Severity: types.SeverityCritical,
			Action:   types.ActionBlock,
			Title:    "Day trading buying power exceeded",
			Description: fmt.Sprintf("order value %s exceeds remaining DTBP %s (%s used today)",
				orderValue.StringFixed(2), remaining.StringFixed(2), used.StringFixed(2)),
			Regulation: "FINRA 4210",
			Timestamp:  m.clock.Now(),
		})
		return true
	}
	return false
}

// checkWashSale warns on repurchases within the 30-day window of a sell.
func (m *Manager) checkWashSale(result *types.CheckResult, symbol string, side types.OrderSide) {
	if side != types.OrderSideBuy {
		return
	}

	cutoff := m.clock.Now().AddDate(0, 0, -washSaleWindowDays)
	for _, entry := range m.history[symbol] {
		if entry.Side == types.OrderSideSell && entry.Timestamp.After(cutoff) {
			m.addViolation(result, types.ComplianceViolation{
				Kind:     types.ViolationWashSale,
				Severity: types.SeverityWarning,
				Action:   types.ActionWarn,
				Title:    "Possible wash sale",
				Description: fmt.Sprintf("%s was sold on %s, within the %d-day wash sale window",
					symbol, entry.Timestamp.Format("2006-01-02"), washSaleWindowDays),
				Regulation: "IRC Section 1091",
				Timestamp:  m.clock.Now(),
			})
			return
		}
	}
}

// dayTradesInWindow counts day trades whose trade date falls in the last
// pdtWindowDays business days, inclusive of today.
func (m *Manager) dayTradesInWindow(today time.Time) int {
	window := m.calendar.LastNBusinessDays(today, pdtWindowDays)
	inWindow := make(map[time.Time]bool, len(window))
	for _, d := range window {
		inWindow[d] = true
	}

	count := 0
	for _, dt := range m.dayTrades {
		if inWindow[clock.Midnight(dt.TradeDate)] {
			count++
		}
	}
	return count
}

// addViolation records a violation on the result and in the account log.
func (m *Manager) addViolation(result *types.CheckResult, v types.ComplianceViolation) {
	result.Violations = append(result.Violations, v)
	if v.Action == types.ActionWarn {
		result.Warnings = append(result.Warnings, v.Description)
	}
	m.violations = append(m.violations, v)
}

// finalize derives the aggregate action from the collected violations.
func (m *Manager) finalize(result *types.CheckResult) *types.CheckResult {
	for _, v := range result.Violations {
		if v.Action.Stronger(result.Action) {
			result.Action = v.Action
		}
	}
	result.Allowed = result.Action != types.ActionBlock && result.Action != types.ActionStopDay
	result.RequiresConfirmation = result.Action == types.ActionConfirm
	if result.Action == types.ActionStopDay {
		result.StopTrading = true
		m.tradingStopped = true
		for _, v := range result.Violations {
			if v.Action == types.ActionStopDay {
				m.stopReason = v.Description
				break
			}
		}
	}

	if len(result.Violations) > 0 {
		m.logger.Warn("compliance violations on pre-trade check",
			zap.Int("violations", len(result.Violations)),
			zap.String("action", string(result.Action)))
	}
	return result
}

// Violations returns the most recent limit violations, newest last.
func (m *Manager) Violations(limit int) []types.ComplianceViolation {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.violations) {
		limit = len(m.violations)
	}
	out := make([]types.ComplianceViolation, limit)
	copy(out, m.violations[len(m.violations)-limit:])
	return out
}

// Status is a point-in-time view of the account's compliance state.
type Status struct {
	Broker            string                      `json:"broker"`
	AccountID         string                      `json:"account_id"`
	AccountType       types.AccountType           `json:"account_type"`
	Account           *types.AccountSnapshot      `json:"account,omitempty"`
	DayTradesInWindow int                         `json:"day_trades_in_window"`
	DayTradesTotal    int                         `json:"day_trades_total"`
	UnsettledCount    int                         `json:"unsettled_count"`
	TradingStopped    bool                        `json:"trading_stopped"`
	StopReason        string                      `json:"stop_reason,omitempty"`
	RestrictedUntil   *time.Time                  `json:"restricted_until,omitempty"`
	RecentViolations  []types.ComplianceViolation `json:"recent_violations,omitempty"`
}

// Status returns a copy of the current compliance state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		Broker:         m.broker,
		AccountID:      m.accountID,
		AccountType:    m.accountType,
		DayTradesTotal: len(m.dayTrades),
		UnsettledCount: len(m.unsettled),
		TradingStopped: m.tradingStopped,
		StopReason:     m.stopReason,
	}
	if m.account != nil {
		acct := *m.account
		st.Account = &acct
	}
	if !m.restrictedUntil.IsZero() {
		until := m.restrictedUntil
		st.RestrictedUntil = &until
	}
	st.DayTradesInWindow = m.dayTradesInWindow(clock.Midnight(m.clock.Now()))

	limit := 10
	if limit > len(m.violations) {
		limit = len(m.violations)
	}
	st.RecentViolations = make([]types.ComplianceViolation, limit)
	copy(st.RecentViolations, m.violations[len(m.violations)-limit:])
	return st
}
