// Package fees computes per-trade commissions and regulatory fees from a
// broker fee schedule and aggregates them over periods for P&L attribution.
// Nothing here sits on the order critical path.
package fees

import (
	"sync"
	"time"

	"github.com/quantfleet/engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FeeType labels one component of a trade's cost.
type FeeType string

const (
	FeePerTrade   FeeType = "per_trade"
	FeePerShare   FeeType = "per_share"
	FeeNotional   FeeType = "pct_of_notional"
	FeeRegulatory FeeType = "regulatory"
	FeeMinimumTop FeeType = "minimum_topup"
)

// Schedule is one broker's fee structure.
type Schedule struct {
	Broker        string          `json:"broker"`
	PerTrade      decimal.Decimal `json:"per_trade"`
	PerShare      decimal.Decimal `json:"per_share"`
	PctOfNotional decimal.Decimal `json:"pct_of_notional"` // 0..100
	MinFee        decimal.Decimal `json:"min_fee"`
	// Regulatory covers SEC Section 31 and FINRA TAF, charged on sells.
	SECFeePct      decimal.Decimal `json:"sec_fee_pct"` // of notional, sells
	TAFPerShare    decimal.Decimal `json:"taf_per_share"`
	TAFMaxPerTrade decimal.Decimal `json:"taf_max_per_trade"`
}

// DefaultSchedule returns a zero-commission schedule with 2024 SEC/TAF
// regulatory rates, matching mainstream US retail brokers.
func DefaultSchedule(broker string) Schedule {
	return Schedule{
		Broker:         broker,
		SECFeePct:      decimal.NewFromFloat(0.0000278).Mul(decimal.NewFromInt(100)),
		TAFPerShare:    decimal.NewFromFloat(0.000166),
		TAFMaxPerTrade: decimal.NewFromFloat(8.30),
	}
}

// Line is one component of a fee breakdown.
type Line struct {
	Type   FeeType         `json:"type"`
	Amount decimal.Decimal `json:"amount"`
}

// Breakdown is the full fee computation for one trade.
type Breakdown struct {
	Broker string          `json:"broker"`
	Lines  []Line          `json:"lines,omitempty"`
	Total  decimal.Decimal `json:"total"`
}

// Compute calculates the fees a schedule charges for one trade.
func (s Schedule) Compute(trade types.Trade) Breakdown {
	b := Breakdown{Broker: s.Broker}
	notional := trade.Quantity.Mul(trade.Price)

	add := func(t FeeType, amount decimal.Decimal) {
		if amount.IsPositive() {
			b.Lines = append(b.Lines, Line{Type: t, Amount: amount})
			b.Total = b.Total.Add(amount)
		}
	}

	add(FeePerTrade, s.PerTrade)
	add(FeePerShare, s.PerShare.Mul(trade.Quantity))
	add(FeeNotional, s.PctOfNotional.Div(decimal.NewFromInt(100)).Mul(notional))

	if trade.Side == types.OrderSideSell {
		reg := s.SECFeePct.Div(decimal.NewFromInt(100)).Mul(notional)
		taf := s.TAFPerShare.Mul(trade.Quantity)
		if s.TAFMaxPerTrade.IsPositive() && taf.GreaterThan(s.TAFMaxPerTrade) {
			taf = s.TAFMaxPerTrade
		}
		add(FeeRegulatory, reg.Add(taf).RoundUp(2))
	}

	if s.MinFee.IsPositive() && b.Total.LessThan(s.MinFee) {
		add(FeeMinimumTop, s.MinFee.Sub(b.Total))
	}
	return b
}

// Entry is one recorded fee event.
type Entry struct {
	BotID     string          `json:"bot_id,omitempty"`
	Broker    string          `json:"broker"`
	Symbol    string          `json:"symbol"`
	Side      types.OrderSide `json:"side"`
	Lines     []Line          `json:"lines,omitempty"`
	Total     decimal.Decimal `json:"total"`
	Timestamp time.Time       `json:"timestamp"`
}

// Tracker records computed fees and aggregates them over periods.
type Tracker struct {
	logger *zap.Logger

	mu        sync.Mutex
	schedules map[string]Schedule
	entries   []Entry
}

// NewTracker creates a fee tracker with no schedules registered.
func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{
		logger:    logger.Named("fees"),
		schedules: make(map[string]Schedule),
	}
}

// SetSchedule registers or replaces the schedule for a broker.
func (t *Tracker) SetSchedule(s Schedule) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.schedules[s.Broker] = s
}

// Record computes and books the fees for a trade. Brokers without a
// registered schedule fall back to the default retail schedule.
func (t *Tracker) Record(botID string, trade types.Trade) Breakdown {
	t.mu.Lock()
	schedule, ok := t.schedules[trade.Broker]
	t.mu.Unlock()
	if !ok {
		schedule = DefaultSchedule(trade.Broker)
	}

	b := schedule.Compute(trade)

	t.mu.Lock()
	t.entries = append(t.entries, Entry{
		BotID:     botID,
		Broker:    trade.Broker,
		Symbol:    trade.Symbol,
		Side:      trade.Side,
		Lines:     b.Lines,
		Total:     b.Total,
		Timestamp: trade.ExecutedAt,
	})
	t.mu.Unlock()

	return b
}

// GroupBy selects the aggregation dimension for a report.
type GroupBy string

const (
	ByBroker  GroupBy = "broker"
	ByBot     GroupBy = "bot"
	ByFeeType GroupBy = "fee_type"
)

// Report aggregates fees over a period.
type Report struct {
	From    time.Time                  `json:"from"`
	To      time.Time                  `json:"to"`
	GroupBy GroupBy                    `json:"group_by"`
	Groups  map[string]decimal.Decimal `json:"groups"`
	Total   decimal.Decimal            `json:"total"`
	Trades  int                        `json:"trades"`
}

// Aggregate sums recorded fees in [from, to) grouped by the requested
// dimension.
func (t *Tracker) Aggregate(from, to time.Time, by GroupBy) Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	report := Report{
		From:    from,
		To:      to,
		GroupBy: by,
		Groups:  make(map[string]decimal.Decimal),
	}

	for _, e := range t.entries {
		if e.Timestamp.Before(from) || !e.Timestamp.Before(to) {
			continue
		}
		report.Trades++
		report.Total = report.Total.Add(e.Total)

		switch by {
		case ByBroker:
			report.Groups[e.Broker] = report.Groups[e.Broker].Add(e.Total)
		case ByBot:
			key := e.BotID
			if key == "" {
				key = "unattributed"
			}
			report.Groups[key] = report.Groups[key].Add(e.Total)
		case ByFeeType:
			for _, line := range e.Lines {
				report.Groups[string(line.Type)] = report.Groups[string(line.Type)].Add(line.Amount)
			}
		}
	}
	return report
}

// Entries returns a copy of the recorded fee events, oldest first.
func (t *Tracker) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...)
}
