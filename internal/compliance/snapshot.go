package compliance

import (
	"fmt"
	"time"

	"github.com/quantfleet/engine/internal/errs"
	"github.com/quantfleet/engine/pkg/types"
)

// snapshotVersion is bumped whenever the snapshot layout changes. Restore
// accepts this version and older; newer snapshots are rejected.
const snapshotVersion = 1

// Snapshot is the JSON-serializable image of a manager's full rule state.
type Snapshot struct {
	Version     int               `json:"version"`
	Broker      string            `json:"broker"`
	AccountID   string            `json:"account_id"`
	AccountType types.AccountType `json:"account_type"`
	TakenAt     time.Time         `json:"taken_at"`

	Account         *types.AccountSnapshot               `json:"account,omitempty"`
	DayTrades       []types.DayTrade                     `json:"day_trades,omitempty"`
	Intraday        map[string]IntradayPosition          `json:"intraday,omitempty"`
	Unsettled       []types.UnsettledPosition            `json:"unsettled,omitempty"`
	History         map[string][]types.TradeHistoryEntry `json:"history,omitempty"`
	Violations      []types.ComplianceViolation          `json:"violations,omitempty"`
	RestrictedUntil time.Time                            `json:"restricted_until,omitempty"`
	RestrictionType string                               `json:"restriction_type,omitempty"`
	TradingStopped  bool                                 `json:"trading_stopped"`
	StopReason      string                               `json:"stop_reason,omitempty"`
}

// Snapshot captures the full rule state for persistence.
func (m *Manager) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := &Snapshot{
		Version:         snapshotVersion,
		Broker:          m.broker,
		AccountID:       m.accountID,
		AccountType:     m.accountType,
		TakenAt:         m.clock.Now(),
		RestrictedUntil: m.restrictedUntil,
		RestrictionType: m.restrictionType,
		TradingStopped:  m.tradingStopped,
		StopReason:      m.stopReason,
	}

	if m.account != nil {
		acct := *m.account
		snap.Account = &acct
	}

	snap.DayTrades = append([]types.DayTrade(nil), m.dayTrades...)
	snap.Unsettled = append([]types.UnsettledPosition(nil), m.unsettled...)
	snap.Violations = append([]types.ComplianceViolation(nil), m.violations...)

	snap.Intraday = make(map[string]IntradayPosition, len(m.intraday))
	for symbol, pos := range m.intraday {
		snap.Intraday[symbol] = *pos
	}

	snap.History = make(map[string][]types.TradeHistoryEntry, len(m.history))
	for symbol, entries := range m.history {
		snap.History[symbol] = append([]types.TradeHistoryEntry(nil), entries...)
	}

	return snap
}

// Restore rebuilds the rule state from a snapshot taken by the same or an
// older code version.
func (m *Manager) Restore(snap *Snapshot) error {
	if snap == nil {
		return errs.New(errs.KindClient, "compliance", "restore", "nil snapshot")
	}
	if snap.Version > snapshotVersion {
		return errs.New(errs.KindClient, "compliance", "restore",
			fmt.Sprintf("snapshot version %d is newer than supported %d", snap.Version, snapshotVersion))
	}
	if snap.AccountID != m.accountID || snap.Broker != m.broker {
		return errs.New(errs.KindClient, "compliance", "restore",
			fmt.Sprintf("snapshot is for %s/%s, manager guards %s/%s",
				snap.Broker, snap.AccountID, m.broker, m.accountID))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.accountType = snap.AccountType
	m.restrictedUntil = snap.RestrictedUntil
	m.restrictionType = snap.RestrictionType
	m.tradingStopped = snap.TradingStopped
	m.stopReason = snap.StopReason

	m.account = nil
	if snap.Account != nil {
		acct := *snap.Account
		m.account = &acct
	}

	m.dayTrades = append([]types.DayTrade(nil), snap.DayTrades...)
	m.unsettled = append([]types.UnsettledPosition(nil), snap.Unsettled...)
	m.violations = append([]types.ComplianceViolation(nil), snap.Violations...)

	m.intraday = make(map[string]*IntradayPosition, len(snap.Intraday))
	for symbol, pos := range snap.Intraday {
		p := pos
		m.intraday[symbol] = &p
	}

	m.history = make(map[string][]types.TradeHistoryEntry, len(snap.History))
	for symbol, entries := range snap.History {
		m.history[symbol] = append([]types.TradeHistoryEntry(nil), entries...)
	}

	return nil
}
