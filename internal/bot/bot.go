// Package bot implements a single trading bot instance: a cooperative worker
// loop that turns market data into strategy signals, votes, sizes the winner,
// and hands orders to the pipeline. Bots never touch each other's state.
package bot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantfleet/engine/internal/clock"
	"github.com/quantfleet/engine/internal/marketdata"
	"github.com/quantfleet/engine/internal/orders"
	"github.com/quantfleet/engine/internal/seasonal"
	"github.com/quantfleet/engine/internal/signals"
	"github.com/quantfleet/engine/internal/sizing"
	"github.com/quantfleet/engine/internal/strategy"
	"github.com/quantfleet/engine/internal/telemetry"
	"github.com/quantfleet/engine/internal/workers"
	"github.com/quantfleet/engine/pkg/types"
	"github.com/quantfleet/engine/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	barFetchLimit    = 50
	barFetchTimeout  = 10 * time.Second
	pausedPollSleep  = time.Second
	errorBackoff     = 5 * time.Second
	maxCycleFailures = 3
	stopTimeout      = 10 * time.Second
)

// AccountFunc supplies the current portfolio value and open position count
// for sizing. Wired by the engine; a nil func sizes everything to zero.
type AccountFunc func() (portfolio decimal.Decimal, openPositions int)

// Deps are the collaborators a bot needs. All fields except Account are
// required.
type Deps struct {
	Clock      clock.Clock
	Data       *marketdata.Registry
	Pipeline   *orders.Pipeline
	Pool       *workers.Pool
	Sink       *telemetry.Sink
	Seasonal   *seasonal.Calendar
	Strategies *strategy.Registry
	Account    AccountFunc
}

// Bot is one trading bot. State transitions go through the atomic state
// value; config and stats have their own locks so a slow cycle never blocks
// a status read.
type Bot struct {
	logger *zap.Logger
	id     string
	deps   Deps

	state  atomic.Value // types.BotState
	paused atomic.Bool

	configMu sync.RWMutex
	config   types.BotConfig

	statsMu   sync.Mutex
	stats     types.BotStats
	startedAt time.Time

	stratMu    sync.Mutex
	strategies []strategy.Strategy

	aggregator *signals.Aggregator
	sizer      *sizing.Sizer

	runMu   sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// New constructs a bot in the Created state. An empty id gets a generated
// one. Strategy names without a registered factory are skipped with a
// warning; at least one must resolve.
func New(logger *zap.Logger, id string, cfg types.BotConfig, deps Deps) (*Bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if id == "" {
		id = utils.GenerateBotID()
	}

	b := &Bot{
		logger:     logger.Named("bot").With(zap.String("bot_id", id)),
		id:         id,
		deps:       deps,
		config:     cfg.Clone(),
		aggregator: signals.NewAggregator(logger),
		sizer:      sizing.NewSizer(logger),
	}
	b.state.Store(types.BotStateCreated)

	built := b.buildStrategies(cfg)
	if len(built) == 0 {
		return nil, fmt.Errorf("bot %s: no usable strategies in %v", id, cfg.Strategies)
	}
	b.strategies = built

	return b, nil
}

func (b *Bot) buildStrategies(cfg types.BotConfig) []strategy.Strategy {
	out := make([]strategy.Strategy, 0, len(cfg.Strategies))
	for _, name := range cfg.Strategies {
		st, ok := b.deps.Strategies.New(name)
		if !ok {
			b.logger.Warn("unknown strategy skipped", zap.String("strategy", name))
			continue
		}
		if len(cfg.Parameters) > 0 {
			st.SetParams(cfg.Parameters)
		}
		out = append(out, st)
	}
	return out
}

// ID returns the bot identifier.
func (b *Bot) ID() string { return b.id }

// Name returns the configured bot name.
func (b *Bot) Name() string {
	b.configMu.RLock()
	defer b.configMu.RUnlock()
	return b.config.Name
}

// State returns the current lifecycle state.
func (b *Bot) State() types.BotState {
	return b.state.Load().(types.BotState)
}

func (b *Bot) setState(next types.BotState, reason string) {
	prev := b.State()
	if prev == next {
		return
	}
	b.state.Store(next)
	b.deps.Sink.Publish(telemetry.NewBotStateEvent(b.id, prev, next, reason, b.deps.Clock.Now()))
	b.logger.Info("bot state changed",
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
		zap.String("reason", reason))
}

// Start spawns the worker loop on the shared pool. Returns true when the bot
// is running afterwards, including when it already was.
func (b *Bot) Start() bool {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	switch b.State() {
	case types.BotStateRunning, types.BotStateStarting:
		return true
	case types.BotStateCreated, types.BotStateStopped, types.BotStateError:
	default:
		return false
	}

	b.setState(types.BotStateStarting, "start requested")

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	b.cancel = cancel
	b.stopped = stopped
	b.paused.Store(false)

	err := b.deps.Pool.SubmitFunc(func(poolCtx context.Context) error {
		// The pool context covers engine shutdown; the bot context covers
		// Stop. Either ends the loop.
		go func() {
			select {
			case <-poolCtx.Done():
				cancel()
			case <-ctx.Done():
			}
		}()
		defer close(stopped)
		return b.run(ctx)
	})
	if err != nil {
		cancel()
		b.setState(types.BotStateError, "pool refused worker: "+err.Error())
		return false
	}

	b.statsMu.Lock()
	b.startedAt = b.deps.Clock.Now()
	b.statsMu.Unlock()

	b.setState(types.BotStateRunning, "worker started")
	return true
}

// Stop cancels the worker and waits for its acknowledgment. A worker that
// fails to acknowledge within the timeout leaves the bot in Error and is
// detached.
func (b *Bot) Stop() bool {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	switch b.State() {
	case types.BotStateCreated, types.BotStateStopped:
		return true
	case types.BotStateRunning, types.BotStatePaused, types.BotStateStarting, types.BotStateError:
	default:
		return false
	}

	if b.cancel == nil {
		b.setState(types.BotStateStopped, "no worker")
		return true
	}

	b.setState(types.BotStateStopping, "stop requested")
	b.cancel()

	select {
	case <-b.stopped:
		b.setState(types.BotStateStopped, "worker acknowledged")
		b.cancel = nil
		return true
	case <-time.After(stopTimeout):
		b.setState(types.BotStateError, "worker did not acknowledge stop")
		b.cancel = nil
		return false
	}
}

// Pause suspends trading between cycles. Only a running bot can pause.
func (b *Bot) Pause() bool {
	if b.State() != types.BotStateRunning {
		return false
	}
	b.paused.Store(true)
	b.setState(types.BotStatePaused, "pause requested")
	return true
}

// Resume clears a pause.
func (b *Bot) Resume() bool {
	if b.State() != types.BotStatePaused {
		return false
	}
	b.paused.Store(false)
	b.setState(types.BotStateRunning, "resume requested")
	return true
}

// UpdateConfig replaces the whole configuration. The new config takes effect
// at the next cycle; strategy instances are rebuilt when the strategy list
// changes.
func (b *Bot) UpdateConfig(cfg types.BotConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	built := b.buildStrategies(cfg)
	if len(built) == 0 {
		return fmt.Errorf("bot %s: no usable strategies in %v", b.id, cfg.Strategies)
	}

	b.configMu.Lock()
	b.config = cfg.Clone()
	b.configMu.Unlock()

	b.stratMu.Lock()
	b.strategies = built
	b.stratMu.Unlock()

	b.logger.Info("bot config updated", zap.Strings("symbols", cfg.Symbols))
	return nil
}

// Config returns a deep copy of the current configuration.
func (b *Bot) Config() types.BotConfig {
	b.configMu.RLock()
	defer b.configMu.RUnlock()
	return b.config.Clone()
}

// Status returns a consistent snapshot of the bot.
func (b *Bot) Status() types.BotSnapshot {
	b.statsMu.Lock()
	stats := b.stats
	startedAt := b.startedAt
	b.statsMu.Unlock()

	return types.BotSnapshot{
		ID:        b.id,
		Name:      b.Name(),
		State:     b.State(),
		Config:    b.Config(),
		Stats:     stats,
		StartedAt: startedAt,
	}
}

// Summary returns the lightweight listing view.
func (b *Bot) Summary() types.BotSummary {
	cfg := b.Config()
	b.statsMu.Lock()
	trades := b.stats.TradesToday
	b.statsMu.Unlock()

	return types.BotSummary{
		ID:          b.id,
		Name:        cfg.Name,
		State:       b.State(),
		Symbols:     cfg.Symbols,
		Strategies:  cfg.Strategies,
		TradesToday: trades,
	}
}

// Params returns the optimizer-adjustable parameter block.
func (b *Bot) Params() map[string]float64 {
	cfg := b.Config()
	out := make(map[string]float64, len(cfg.Parameters))
	for k, v := range cfg.Parameters {
		out[k] = v
	}
	return out
}

// SetParams merges parameter writes into the config and broadcasts them to
// the strategy instances. Takes effect at the next cycle.
func (b *Bot) SetParams(params map[string]float64) {
	if len(params) == 0 {
		return
	}

	b.configMu.Lock()
	if b.config.Parameters == nil {
		b.config.Parameters = make(map[string]float64, len(params))
	}
	for k, v := range params {
		b.config.Parameters[k] = v
	}
	b.configMu.Unlock()

	b.stratMu.Lock()
	for _, st := range b.strategies {
		st.SetParams(params)
	}
	b.stratMu.Unlock()
}

// RecordFill bumps the trade counters when one of this bot's orders fills.
func (b *Bot) RecordFill(trade types.Trade) {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	b.stats.TradesToday++
}

// AddDailyPnL accumulates realized PnL into the daily counter.
func (b *Bot) AddDailyPnL(delta decimal.Decimal) {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	b.stats.DailyPnL = b.stats.DailyPnL.Add(delta)
}

// ResetDaily zeroes the per-day counters at session rollover.
func (b *Bot) ResetDaily() {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	b.stats.TradesToday = 0
	b.stats.DailyPnL = decimal.Zero
}

// run is the worker loop. One cycle every trade_frequency_seconds; cycle
// errors back off and three in a row park the bot in Error.
func (b *Bot) run(ctx context.Context) error {
	b.logger.Info("worker loop started")
	consecutive := 0

	for {
		if ctx.Err() != nil {
			b.logger.Info("worker loop stopped")
			return nil
		}
		if b.paused.Load() {
			if !sleepCtx(ctx, pausedPollSleep) {
				return nil
			}
			continue
		}

		if err := b.runCycle(ctx); err != nil {
			consecutive++
			b.noteError(err)
			if consecutive >= maxCycleFailures {
				b.setState(types.BotStateError, fmt.Sprintf("%d consecutive cycle failures", consecutive))
				return err
			}
			if !sleepCtx(ctx, errorBackoff) {
				return nil
			}
			continue
		}
		consecutive = 0

		freq := time.Duration(b.Config().TradeFrequencySeconds) * time.Second
		if !sleepCtx(ctx, freq) {
			return nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (b *Bot) noteError(err error) {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	b.stats.ErrorsCount++
	b.stats.LastError = err.Error()
	b.logger.Warn("cycle failed", zap.Error(err))
}

// runCycle processes every configured symbol once.
func (b *Bot) runCycle(ctx context.Context) error {
	cfg := b.Config()
	now := b.deps.Clock.Now()
	seasonalCtx := b.deps.Seasonal.Context(now)
	threshold := decimal.NewFromFloat(cfg.Parameters["signal_strength_threshold"])
	minConfidence := decimal.NewFromFloat(cfg.Parameters["min_confidence"])

	var firstErr error
	for _, symbol := range cfg.Symbols {
		if ctx.Err() != nil {
			return nil
		}
		if err := b.processSymbol(ctx, cfg, symbol, seasonalCtx, threshold, minConfidence); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	b.statsMu.Lock()
	b.stats.CyclesCompleted++
	b.stats.LastCycleAt = now
	b.statsMu.Unlock()

	return firstErr
}

func (b *Bot) processSymbol(ctx context.Context, cfg types.BotConfig, symbol string,
	seasonalCtx seasonal.Context, threshold, minConfidence decimal.Decimal) error {

	barsCtx, cancel := context.WithTimeout(ctx, barFetchTimeout)
	bars, err := b.deps.Data.GetBars(barsCtx, symbol, cfg.Timeframe, barFetchLimit, "")
	cancel()
	if err != nil {
		return fmt.Errorf("bars for %s: %w", symbol, err)
	}

	b.stratMu.Lock()
	strategies := append([]strategy.Strategy(nil), b.strategies...)
	b.stratMu.Unlock()

	var sigs []*types.Signal
	for _, st := range strategies {
		sig, err := st.Analyze(ctx, symbol, bars, seasonalCtx)
		if err != nil {
			b.logger.Warn("strategy failed",
				zap.String("strategy", st.Name()),
				zap.String("symbol", symbol),
				zap.Error(err))
			continue
		}
		if sig == nil {
			continue
		}
		sigs = append(sigs, sig)
		b.statsMu.Lock()
		b.stats.SignalsGenerated++
		b.statsMu.Unlock()
		b.deps.Sink.Publish(telemetry.NewSignalEvent(b.id, *sig, b.deps.Clock.Now()))
	}
	if len(sigs) == 0 {
		return nil
	}

	vote := b.aggregator.Combine(symbol, sigs, cfg.StrategyWeights, threshold)
	if vote.Signal == nil || !vote.Signal.Actionable() {
		return nil
	}
	if minConfidence.IsPositive() && vote.Signal.Confidence.LessThan(minConfidence) {
		return nil
	}

	return b.submitOrder(ctx, cfg, symbol, vote.Signal)
}

func (b *Bot) submitOrder(ctx context.Context, cfg types.BotConfig, symbol string, sig *types.Signal) error {
	if b.deps.Account == nil {
		b.logger.Debug("no account view wired, skipping order", zap.String("symbol", symbol))
		return nil
	}
	portfolio, open := b.deps.Account()

	price := sig.EntryPrice
	if !price.IsPositive() && len(cfg.Symbols) > 0 {
		// Fall back to a quote for sizing; the pipeline re-resolves the
		// gate price itself.
		quoteCtx, cancel := context.WithTimeout(ctx, barFetchTimeout)
		quote, err := b.deps.Data.GetQuote(quoteCtx, symbol, "")
		cancel()
		if err != nil {
			return fmt.Errorf("sizing quote for %s: %w", symbol, err)
		}
		price = quote.Last
	}

	qty := b.sizer.Size(sizing.Request{
		Symbol:          symbol,
		Price:           price,
		PortfolioValue:  portfolio,
		PositionSizePct: cfg.Parameters["position_size_pct"],
		MaxPositionSize: cfg.MaxPositionSize,
		MaxPositions:    cfg.MaxPositions,
		OpenPositions:   open,
	})
	if !qty.IsPositive() {
		return nil
	}

	side := types.OrderSideBuy
	if sig.Kind.Direction() < 0 {
		side = types.OrderSideSell
	}

	order, err := b.deps.Pipeline.Submit(ctx, orders.Request{
		BotID:          b.id,
		Symbol:         symbol,
		Side:           side,
		Quantity:       qty,
		Type:           types.OrderTypeMarket,
		Strategy:       sig.StrategyName,
		SignalStrength: sig.Strength,
		Broker:         cfg.Broker,
		AccountID:      cfg.AccountID,
		AutoConfirm:    cfg.AutoConfirm,
	})

	b.statsMu.Lock()
	if order != nil && order.Status == types.OrderStatusRejected {
		b.stats.OrdersRejected++
	} else if order != nil {
		b.stats.OrdersSubmitted++
	}
	b.statsMu.Unlock()

	if err != nil {
		return fmt.Errorf("submit %s %s: %w", side, symbol, err)
	}
	return nil
}
