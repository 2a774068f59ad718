// Package optimizer adjusts bot parameters from realized performance. One
// Optimizer tracks one bot; the Manager owns the fleet and the evaluation
// ticker. Every write is clamped to the closed parameter table and gated by
// a per-mode cooldown and daily limit.
package optimizer

import (
	"fmt"
	"sync"
	"time"

	"github.com/quantfleet/engine/internal/clock"
	"github.com/quantfleet/engine/pkg/types"
	"github.com/quantfleet/engine/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	tradeRingSize   = 500
	pnlRingSize     = 1000
	metricsRingSize = 1000

	// maxWritesPerCycle caps ordinary adjustments; a revert-to-best may
	// touch one more.
	maxWritesPerCycle  = 2
	maxRevertWrites    = 3
	tradingPeriodsYear = 252
)

// pushRing appends v, discarding the oldest entries beyond max.
func pushRing[T any](s []T, v T, max int) []T {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}

// Optimizer holds the adjustment state for one bot.
type Optimizer struct {
	logger *zap.Logger
	clock  clock.Clock
	botID  string
	mode   Mode
	config ModeConfig

	mu             sync.Mutex
	baseline       map[string]float64
	best           map[string]float64
	bestPerf       *types.PerformanceMetrics
	trades         []types.TradeResult
	pnlHistory     []decimal.Decimal
	metricsHistory []types.PerformanceMetrics
	adjustments    []types.ParameterAdjustment

	lastAdjustment   time.Time
	adjustmentsToday int
	lastResetDate    time.Time
}

// newOptimizer captures the bot's current parameters as the baseline.
func newOptimizer(logger *zap.Logger, clk clock.Clock, botID string, mode Mode, baseline map[string]float64) *Optimizer {
	base := copyParams(baseline)
	return &Optimizer{
		logger:        logger.With(zap.String("bot_id", botID)),
		clock:         clk,
		botID:         botID,
		mode:          mode,
		config:        ConfigForMode(mode),
		baseline:      base,
		best:          copyParams(base),
		lastResetDate: clock.Midnight(clk.Now()),
	}
}

func copyParams(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// RecordTrade feeds one closed trade into the rings.
func (o *Optimizer) RecordTrade(tr types.TradeResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.trades = pushRing(o.trades, tr, tradeRingSize)
	o.pnlHistory = pushRing(o.pnlHistory, tr.PnL, pnlRingSize)
}

// Metrics computes performance over the analysis window, falling back to
// the full ring when the window holds too few trades.
func (o *Optimizer) Metrics() types.PerformanceMetrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.metricsLocked()
}

func (o *Optimizer) metricsLocked() types.PerformanceMetrics {
	now := o.clock.Now()
	cutoff := now.Add(-time.Duration(o.config.AnalysisWindowHours) * time.Hour)

	window := make([]types.TradeResult, 0, len(o.trades))
	for _, tr := range o.trades {
		if tr.Timestamp.After(cutoff) {
			window = append(window, tr)
		}
	}
	if len(window) < o.config.MinTrades {
		window = o.trades
	}

	m := types.PerformanceMetrics{ComputedAt: now, Trend: types.TrendNeutral}
	if len(window) == 0 {
		return m
	}

	pnls := make([]decimal.Decimal, len(window))
	cumulative := make([]decimal.Decimal, len(window))
	running := decimal.Zero
	var sumWin, sumLoss decimal.Decimal
	for i, tr := range window {
		pnls[i] = tr.PnL
		running = running.Add(tr.PnL)
		cumulative[i] = running
		switch {
		case tr.PnL.IsPositive():
			m.WinningTrades++
			sumWin = sumWin.Add(tr.PnL)
		case tr.PnL.IsNegative():
			m.LosingTrades++
			sumLoss = sumLoss.Add(tr.PnL)
		}
	}

	m.TotalTrades = len(window)
	m.TotalPnL = running
	m.WinRate = utils.WinRate(pnls)
	m.ProfitFactor = utils.ProfitFactor(pnls)
	m.MaxDrawdown = utils.MaxDrawdown(cumulative)
	m.SharpeRatio = utils.SharpeRatio(o.pnlHistory, tradingPeriodsYear)
	if m.WinningTrades > 0 {
		m.AvgWin = sumWin.Div(decimal.NewFromInt(int64(m.WinningTrades)))
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = sumLoss.Div(decimal.NewFromInt(int64(m.LosingTrades)))
	}
	m.Trend = o.trendLocked(m)
	return m
}

// trendLocked classifies the direction of total PnL over the last three
// metric snapshots plus the current one.
func (o *Optimizer) trendLocked(current types.PerformanceMetrics) types.Trend {
	h := o.metricsHistory
	if len(h) < 2 {
		return types.TrendNeutral
	}
	recent := make([]types.PerformanceMetrics, 0, 3)
	recent = append(recent, h[maxInt(0, len(h)-2):]...)
	recent = append(recent, current)

	improving, declining := true, true
	for i := 1; i < len(recent); i++ {
		if !recent[i].TotalPnL.GreaterThan(recent[i-1].TotalPnL) {
			improving = false
		}
		if !recent[i].TotalPnL.LessThan(recent[i-1].TotalPnL) {
			declining = false
		}
	}
	switch {
	case improving:
		return types.TrendImproving
	case declining:
		return types.TrendDeclining
	default:
		return types.TrendNeutral
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Evaluate runs one adjustment cycle against the bot's current parameters.
// It returns the parameter writes to apply (empty when gated or nothing to
// do) and the adjustment records behind them.
func (o *Optimizer) Evaluate(params map[string]float64) (map[string]float64, []types.ParameterAdjustment) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.clock.Now()
	today := clock.Midnight(now)
	if !today.Equal(o.lastResetDate) {
		o.adjustmentsToday = 0
		o.lastResetDate = today
	}

	if o.adjustmentsToday >= o.config.MaxAdjustmentsPerDay {
		return nil, nil
	}
	if !o.lastAdjustment.IsZero() &&
		now.Sub(o.lastAdjustment) < time.Duration(o.config.CooldownMinutes)*time.Minute {
		return nil, nil
	}
	if len(o.trades) < o.config.MinTrades {
		return nil, nil
	}

	metrics := o.metricsLocked()
	o.metricsHistory = pushRing(o.metricsHistory, metrics, metricsRingSize)

	working := copyParams(params)
	writes := make(map[string]float64)
	var adjs []types.ParameterAdjustment

	adjust := func(name string, factor float64, reason string) {
		if len(writes) >= maxWritesPerCycle {
			return
		}
		o.applyFactor(working, writes, &adjs, name, factor, reason, &metrics)
	}

	if metrics.WinRate < o.config.MinWinRate {
		adjust("min_confidence", o.config.MaxAdjustmentPct/100,
			fmt.Sprintf("win rate %.2f below floor %.2f", metrics.WinRate, o.config.MinWinRate))
		adjust("signal_strength_threshold", 0.10,
			fmt.Sprintf("win rate %.2f below floor %.2f", metrics.WinRate, o.config.MinWinRate))
	}

	if o.drawdownPct(metrics) > o.config.MaxDrawdownPct {
		adjust("position_size_pct", -o.config.MaxAdjustmentPct/100,
			fmt.Sprintf("drawdown %.1f%% above limit %.1f%%", o.drawdownPct(metrics), o.config.MaxDrawdownPct))
		adjust("stop_loss_pct", -0.15,
			"tightening stops after excess drawdown")
	}

	// A pure-loss window reads as a zero profit factor and still counts as
	// below the floor; the min-trades gate above guarantees trades exist.
	if metrics.ProfitFactor < o.config.MinProfitFactor {
		adjust("take_profit_pct", 0.15,
			fmt.Sprintf("profit factor %.2f below floor %.2f", metrics.ProfitFactor, o.config.MinProfitFactor))
	}

	if metrics.Trend == types.TrendDeclining && o.config.RevertOnWorse && o.bestPerf != nil &&
		metrics.TotalPnL.LessThan(o.bestPerf.TotalPnL.Mul(decimal.NewFromFloat(0.9))) {
		o.revertToBest(working, writes, &adjs, &metrics)
	}

	if metrics.Trend == types.TrendImproving && metrics.WinRate > o.config.TargetWinRate {
		adjust("position_size_pct", 0.05,
			fmt.Sprintf("improving trend with win rate %.2f", metrics.WinRate))
	}

	if len(writes) > 0 {
		o.lastAdjustment = now
		o.adjustmentsToday++
		o.adjustments = append(o.adjustments, adjs...)
	}

	if o.bestPerf == nil || metrics.TotalPnL.GreaterThan(o.bestPerf.TotalPnL) {
		perf := metrics
		o.bestPerf = &perf
		o.best = copyParams(working)
	}

	return writes, adjs
}

// applyFactor writes name*(1+factor) clamped to the parameter table. No-op
// writes (already at the bound) are dropped silently.
func (o *Optimizer) applyFactor(working, writes map[string]float64, adjs *[]types.ParameterAdjustment,
	name string, factor float64, reason string, perf *types.PerformanceMetrics) {

	spec, ok := paramTable[name]
	if !ok {
		return
	}
	old, ok := working[name]
	if !ok {
		return
	}

	next := utils.Clamp(old*(1+factor), spec.Min, spec.Max)
	if next == old {
		return
	}

	kind := types.AdjustmentIncrease
	if next < old {
		kind = types.AdjustmentDecrease
	}

	working[name] = next
	writes[name] = next
	*adjs = append(*adjs, types.ParameterAdjustment{
		ParameterName:     name,
		OldValue:          old,
		NewValue:          next,
		AdjustmentType:    kind,
		Reason:            reason,
		Timestamp:         o.clock.Now(),
		PerformanceBefore: perf,
	})
	o.logger.Info("parameter adjusted",
		zap.String("parameter", name),
		zap.Float64("old", old),
		zap.Float64("new", next),
		zap.String("reason", reason))
}

// revertToBest resets up to maxRevertWrites parameters that drifted from
// the best-known set.
func (o *Optimizer) revertToBest(working, writes map[string]float64, adjs *[]types.ParameterAdjustment,
	perf *types.PerformanceMetrics) {

	reverted := 0
	for name := range paramTable {
		if reverted >= maxRevertWrites {
			break
		}
		bestVal, ok := o.best[name]
		if !ok {
			continue
		}
		cur, ok := working[name]
		if !ok || cur == bestVal {
			continue
		}

		working[name] = bestVal
		writes[name] = bestVal
		*adjs = append(*adjs, types.ParameterAdjustment{
			ParameterName:     name,
			OldValue:          cur,
			NewValue:          bestVal,
			AdjustmentType:    types.AdjustmentReset,
			Reason:            "reverting to best-known parameters on declining trend",
			PerformanceBefore: perf,
			Timestamp:         o.clock.Now(),
		})
		reverted++
	}
	if reverted > 0 {
		o.logger.Info("parameters reverted to best", zap.Int("count", reverted))
	}
}

// drawdownPct expresses max drawdown relative to the cumulative PnL peak.
func (o *Optimizer) drawdownPct(m types.PerformanceMetrics) float64 {
	if !m.MaxDrawdown.IsPositive() {
		return 0
	}
	peak := m.TotalPnL.Add(m.MaxDrawdown)
	if !peak.IsPositive() {
		// Underwater from the start; report the raw magnitude as percent.
		dd, _ := m.MaxDrawdown.Float64()
		return dd
	}
	pct, _ := m.MaxDrawdown.Div(peak).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// Reset returns every adjustable parameter to the baseline and clears the
// adjustment history, counters, and best tracking.
func (o *Optimizer) Reset() map[string]float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.adjustments = nil
	o.adjustmentsToday = 0
	o.lastAdjustment = time.Time{}
	o.best = copyParams(o.baseline)
	o.bestPerf = nil
	o.metricsHistory = nil

	o.logger.Info("optimizer reset to baseline")
	return copyParams(o.baseline)
}

// Status is the observable optimizer state for one bot.
type Status struct {
	BotID            string                      `json:"bot_id"`
	Mode             Mode                        `json:"mode"`
	Config           ModeConfig                  `json:"config"`
	TradesRecorded   int                         `json:"trades_recorded"`
	AdjustmentsToday int                         `json:"adjustments_today"`
	TotalAdjustments int                         `json:"total_adjustments"`
	LastAdjustment   *time.Time                  `json:"last_adjustment,omitempty"`
	Metrics          types.PerformanceMetrics    `json:"metrics"`
	BestPerformance  *types.PerformanceMetrics   `json:"best_performance,omitempty"`
	Recent           []types.ParameterAdjustment `json:"recent_adjustments,omitempty"`
}

// Status returns a copy of the current state.
func (o *Optimizer) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{
		BotID:            o.botID,
		Mode:             o.mode,
		Config:           o.config,
		TradesRecorded:   len(o.trades),
		AdjustmentsToday: o.adjustmentsToday,
		TotalAdjustments: len(o.adjustments),
		Metrics:          o.metricsLocked(),
	}
	if !o.lastAdjustment.IsZero() {
		at := o.lastAdjustment
		st.LastAdjustment = &at
	}
	if o.bestPerf != nil {
		perf := *o.bestPerf
		st.BestPerformance = &perf
	}

	limit := 10
	if limit > len(o.adjustments) {
		limit = len(o.adjustments)
	}
	st.Recent = make([]types.ParameterAdjustment, limit)
	copy(st.Recent, o.adjustments[len(o.adjustments)-limit:])
	return st
}
