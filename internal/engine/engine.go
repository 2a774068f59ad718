// Package engine composes the trading stack: registries, gates, pipeline,
// fleet, optimizer, persistence, and notification. Everything is wired by
// explicit dependency injection here; no package keeps process-global
// state.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/quantfleet/engine/internal/bot"
	"github.com/quantfleet/engine/internal/broker"
	"github.com/quantfleet/engine/internal/clock"
	"github.com/quantfleet/engine/internal/compliance"
	"github.com/quantfleet/engine/internal/errs"
	"github.com/quantfleet/engine/internal/fees"
	"github.com/quantfleet/engine/internal/marketdata"
	"github.com/quantfleet/engine/internal/notify"
	"github.com/quantfleet/engine/internal/optimizer"
	"github.com/quantfleet/engine/internal/orders"
	"github.com/quantfleet/engine/internal/reporting"
	"github.com/quantfleet/engine/internal/risk"
	"github.com/quantfleet/engine/internal/seasonal"
	"github.com/quantfleet/engine/internal/store"
	"github.com/quantfleet/engine/internal/strategy"
	"github.com/quantfleet/engine/internal/supervisor"
	"github.com/quantfleet/engine/internal/telemetry"
	"github.com/quantfleet/engine/internal/workers"
	"github.com/quantfleet/engine/pkg/types"
	"github.com/quantfleet/engine/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	accountSyncInterval = time.Minute
	persistInterval     = 5 * time.Minute
	resetCheckInterval  = time.Minute

	// vixSymbol is the volatility index ticker the risk gate watches.
	vixSymbol = "VIX"
)

// Engine owns the full component graph for one trading process.
type Engine struct {
	logger *zap.Logger
	cfg    *types.EngineConfig
	clock  clock.Clock
	cal    *clock.Calendar

	sink       *telemetry.Sink
	metrics    *telemetry.MetricsCollector
	brokers    *broker.Registry
	data       *marketdata.Registry
	compliance *compliance.Registry
	risk       *risk.Manager
	fees       *fees.Tracker
	pipeline   *orders.Pipeline
	pool       *workers.Pool
	strategies *strategy.Registry
	seasonal   *seasonal.Calendar
	supervisor *supervisor.Supervisor
	optimizer  *optimizer.Manager
	store      *store.Store
	notifier   *notify.Notifier
	reporter   *reporting.Reporter

	acctMu         sync.Mutex
	portfolioValue decimal.Decimal
	peakValue      decimal.Decimal
	dailyPnL       decimal.Decimal
	weeklyPnL      decimal.Decimal
	openPositions  int

	runMu   sync.Mutex
	cancel  context.CancelFunc
	bg      sync.WaitGroup
	started bool
}

// New builds a fully wired engine on the system clock.
func New(logger *zap.Logger, cfg *types.EngineConfig) (*Engine, error) {
	return newEngine(logger, cfg, clock.SystemClock{}, clock.NewCalendar())
}

func newEngine(logger *zap.Logger, cfg *types.EngineConfig, clk clock.Clock, cal *clock.Calendar) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		logger:         logger.Named("engine"),
		cfg:            cfg,
		clock:          clk,
		cal:            cal,
		portfolioValue: decimal.Zero,
	}

	e.sink = telemetry.NewSink(logger, telemetry.DefaultSinkConfig())
	e.metrics = telemetry.NewMetricsCollector(logger, e.sink)

	e.data = marketdata.NewRegistry(logger)
	if err := e.data.RegisterFactory("sim", func(l *zap.Logger, block map[string]string) (marketdata.Source, error) {
		return marketdata.NewSim(l, block, clk)
	}); err != nil {
		return nil, err
	}

	e.brokers = broker.NewRegistry(logger)
	if err := e.brokers.RegisterFactory("paper", func(l *zap.Logger, block map[string]string) (broker.Broker, error) {
		return broker.NewPaper(l, block, func(ctx context.Context, symbol string) (*types.Quote, error) {
			return e.data.GetQuote(ctx, symbol, "")
		})
	}); err != nil {
		return nil, err
	}

	e.compliance = compliance.NewRegistry(logger, clk, cal)
	e.risk = risk.NewManager(logger, risk.Config{
		MaxPositionSize:     cfg.MaxPositionSize,
		MaxPortfolioPct:     cfg.MaxPortfolioPct,
		DailyLossLimitPct:   cfg.DailyLossLimitPct,
		WeeklyLossLimitPct:  cfg.WeeklyLossLimitPct,
		MaxDrawdownPct:      cfg.MaxDrawdownPct,
		VIXPauseThreshold:   cfg.VIXPauseThreshold,
		VIXExtremeThreshold: cfg.VIXExtremeThreshold,
	})

	e.fees = fees.NewTracker(logger)
	e.fees.SetSchedule(fees.DefaultSchedule(cfg.DefaultBroker))

	e.pipeline = orders.NewPipeline(logger, orders.Config{MaxOrdersPerDay: cfg.MaxOrdersPerDay},
		clk, cal, e.brokers, e.data, e.compliance, e.risk, e.fees, e.sink)

	e.pool = workers.NewPool(logger, workers.DefaultConfig("engine", cfg.MaxBots))
	e.strategies = strategy.NewRegistry(logger)
	e.seasonal = seasonal.NewCalendar()
	e.reporter = reporting.NewReporter(logger)

	e.supervisor = supervisor.New(logger, cfg.MaxBots, bot.Deps{
		Clock:      clk,
		Data:       e.data,
		Pipeline:   e.pipeline,
		Pool:       e.pool,
		Sink:       e.sink,
		Seasonal:   e.seasonal,
		Strategies: e.strategies,
		Account:    e.accountView,
	})

	e.optimizer = optimizer.NewManager(logger, clk, e.sink, e.supervisor,
		time.Duration(cfg.EvaluationIntervalMinutes)*time.Minute)

	// Terminal fills feed the fleet counters, the loss limits, and the
	// optimizer exactly once.
	e.pipeline.SetFillHook(func(botID string, trade types.Trade) {
		e.supervisor.HandleTrade(botID, trade)
		e.recordRealized(trade)
		e.optimizer.RecordTrade(botID, types.TradeResult{
			Symbol:    trade.Symbol,
			Side:      trade.Side,
			Quantity:  trade.Quantity,
			ExitPrice: trade.Price,
			PnL:       trade.PnL,
			Strategy:  trade.Strategy,
			Timestamp: trade.ExecutedAt,
		})
	})

	st, err := store.Open(logger, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	e.store = st

	notifier, err := notify.NewNotifier(logger, cfg.Telegram, e.sink)
	if err != nil {
		e.logger.Warn("telegram notifier unavailable", zap.Error(err))
		notifier, _ = notify.NewNotifier(logger, types.TelegramConfig{}, e.sink)
	}
	e.notifier = notifier

	e.supervisor.SetPersistHook(e.persistBot)
	return e, nil
}

// accountView is the bot fleet's view of the default account, refreshed by
// the sync loop.
func (e *Engine) accountView() (decimal.Decimal, int) {
	e.acctMu.Lock()
	defer e.acctMu.Unlock()
	return e.portfolioValue, e.openPositions
}

// persistBot saves a bot row on every fleet mutation; a bot missing from
// the fleet was deleted, so its row goes too.
func (e *Engine) persistBot(botID string, cfg types.BotConfig, state types.BotState) {
	if _, err := e.supervisor.Get(botID); err != nil {
		if err := e.store.DeleteBot(botID); err != nil {
			e.logger.Warn("bot row delete failed", zap.String("bot_id", botID), zap.Error(err))
		}
		return
	}
	if err := e.store.SaveBot(botID, cfg, state); err != nil {
		e.logger.Warn("bot row save failed", zap.String("bot_id", botID), zap.Error(err))
	}
}

// Start connects the outbound registries, restores persisted state, and
// launches the background loops.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.started {
		return errs.Wrap(errs.ErrAlreadyRunning, errs.KindConstraint, "engine", "start", "engine")
	}

	if err := e.connectOutbound(ctx); err != nil {
		return err
	}
	e.restore(ctx)

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.pool.Start()
	e.optimizer.Start()
	e.notifier.Start()

	for _, name := range e.brokers.Connected() {
		b, err := e.brokers.Get(name)
		if err != nil {
			continue
		}
		e.bg.Add(1)
		go func(b broker.Broker) {
			defer e.bg.Done()
			e.pipeline.ConsumeFills(runCtx, b)
		}(b)
	}

	e.bg.Add(2)
	go e.accountSyncLoop(runCtx)
	go e.dailyResetLoop(runCtx)

	e.syncAccounts(ctx)

	e.started = true
	e.logger.Info("engine started",
		zap.String("trading_mode", string(e.cfg.TradingMode)),
		zap.String("default_broker", e.cfg.DefaultBroker),
		zap.Int("max_bots", e.cfg.MaxBots))
	return nil
}

// connectOutbound brings up every configured broker and data source. The
// simulator source and paper broker always exist so paper mode needs no
// configuration.
func (e *Engine) connectOutbound(ctx context.Context) error {
	sourceBlocks := e.cfg.DataSourceConfigs
	if _, ok := sourceBlocks["sim"]; !ok {
		if _, err := e.data.Connect(ctx, "sim", nil); err != nil {
			return err
		}
	}
	for name, block := range sourceBlocks {
		if _, err := e.data.Connect(ctx, name, block); err != nil {
			e.logger.Warn("data source unavailable", zap.String("source", name), zap.Error(err))
		}
	}

	brokerBlocks := e.cfg.BrokerConfigs
	if _, ok := brokerBlocks["paper"]; !ok {
		if _, err := e.brokers.Connect(ctx, "paper", nil); err != nil {
			return err
		}
	}
	for name, block := range brokerBlocks {
		if _, err := e.brokers.Connect(ctx, name, block); err != nil {
			e.logger.Warn("broker unavailable", zap.String("broker", name), zap.Error(err))
		}
	}

	if err := e.brokers.SetDefault(e.cfg.DefaultBroker); err != nil {
		e.logger.Warn("default broker not connected, using first available",
			zap.String("broker", e.cfg.DefaultBroker))
	}
	return nil
}

// restore rebuilds the fleet, compliance state, and optimizer state from
// the store. Partial failures degrade to a fresh start for the failing
// piece.
func (e *Engine) restore(ctx context.Context) {
	snaps, err := e.store.LoadComplianceSnapshots()
	if err != nil {
		e.logger.Warn("compliance restore failed", zap.Error(err))
	}
	for _, snap := range snaps {
		mgr := e.compliance.Register(snap.Broker, snap.AccountID, snap.AccountType)
		if err := mgr.Restore(snap); err != nil {
			e.logger.Warn("compliance snapshot rejected",
				zap.String("account_id", snap.AccountID), zap.Error(err))
		}
	}

	bots, err := e.store.LoadBots()
	if err != nil {
		e.logger.Warn("fleet restore failed", zap.Error(err))
		return
	}
	for _, row := range bots {
		if _, err := e.supervisor.CreateBot(row.Config, row.BotID); err != nil {
			e.logger.Warn("bot restore failed", zap.String("bot_id", row.BotID), zap.Error(err))
			continue
		}
		switch row.State {
		case types.BotStateRunning, types.BotStateStarting:
			if _, err := e.supervisor.StartBot(row.BotID); err != nil {
				e.logger.Warn("bot restart failed", zap.String("bot_id", row.BotID), zap.Error(err))
			}
		case types.BotStatePaused:
			if _, err := e.supervisor.StartBot(row.BotID); err == nil {
				e.supervisor.PauseBot(row.BotID)
			}
		}
	}

	optStates, err := e.store.LoadOptimizerStates()
	if err != nil {
		e.logger.Warn("optimizer restore failed", zap.Error(err))
		return
	}
	for botID, snap := range optStates {
		if err := e.optimizer.RestoreSnapshot(snap); err != nil {
			e.logger.Warn("optimizer snapshot rejected", zap.String("bot_id", botID), zap.Error(err))
		}
	}
	if len(bots) > 0 {
		e.logger.Info("state restored",
			zap.Int("bots", len(bots)),
			zap.Int("compliance_accounts", len(snaps)),
			zap.Int("optimizers", len(optStates)))
	}
}

// syncAccounts pulls broker accounts into the compliance and risk gates.
func (e *Engine) syncAccounts(ctx context.Context) {
	total := decimal.Zero
	positions := 0

	for _, name := range e.brokers.Connected() {
		b, err := e.brokers.Get(name)
		if err != nil {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		accounts, err := b.GetAccounts(callCtx)
		cancel()
		if err != nil {
			e.logger.Warn("account refresh failed", zap.String("broker", name), zap.Error(err))
			continue
		}

		for _, acct := range accounts {
			mgr, ok := e.compliance.Get(name, acct.AccountID)
			if !ok {
				mgr = e.compliance.Register(name, acct.AccountID, acct.Type)
			}
			mgr.UpdateAccount(acct)
			total = total.Add(acct.Equity)

			posCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if ps, err := b.GetPositions(posCtx, acct.AccountID); err == nil {
				positions += len(ps)
			}
			cancel()
		}
	}

	e.acctMu.Lock()
	e.portfolioValue = total
	e.openPositions = positions
	if total.GreaterThan(e.peakValue) {
		e.peakValue = total
	}
	daily, weekly, drawdown := e.dailyPnL, e.weeklyPnL, e.drawdownLocked()
	e.acctMu.Unlock()

	e.risk.UpdatePortfolioValue(total)
	e.risk.UpdatePnL(daily, weekly, drawdown)
	e.refreshVIX(ctx)
}

// recordRealized folds a closing fill into the daily and weekly loss-limit
// counters.
func (e *Engine) recordRealized(trade types.Trade) {
	if trade.PnL.IsZero() {
		return
	}
	e.acctMu.Lock()
	e.dailyPnL = e.dailyPnL.Add(trade.PnL)
	e.weeklyPnL = e.weeklyPnL.Add(trade.PnL)
	daily, weekly, drawdown := e.dailyPnL, e.weeklyPnL, e.drawdownLocked()
	e.acctMu.Unlock()

	e.risk.UpdatePnL(daily, weekly, drawdown)
}

// drawdownLocked reports the percent drop from the peak portfolio value.
// Callers hold acctMu.
func (e *Engine) drawdownLocked() decimal.Decimal {
	if !e.peakValue.IsPositive() {
		return decimal.Zero
	}
	dd := utils.PercentChange(e.peakValue, e.portfolioValue).Neg()
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}

// refreshVIX feeds the volatility gate from the data registry. A failed read
// leaves the prior reading in place.
func (e *Engine) refreshVIX(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	quote, err := e.data.GetQuote(callCtx, vixSymbol, "")
	if err != nil {
		e.logger.Debug("vix refresh failed", zap.Error(err))
		return
	}
	if quote.Last.IsPositive() {
		e.risk.UpdateVIX(quote.Last)
	}
}

func (e *Engine) accountSyncLoop(ctx context.Context) {
	defer e.bg.Done()
	sync := time.NewTicker(accountSyncInterval)
	persist := time.NewTicker(persistInterval)
	defer sync.Stop()
	defer persist.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sync.C:
			e.syncAccounts(ctx)
		case <-persist.C:
			e.persistSnapshots()
		}
	}
}

// dailyResetLoop zeroes per-day counters when the calendar date changes.
func (e *Engine) dailyResetLoop(ctx context.Context) {
	defer e.bg.Done()
	ticker := time.NewTicker(resetCheckInterval)
	defer ticker.Stop()

	lastDay := clock.Midnight(e.clock.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			today := clock.Midnight(e.clock.Now())
			if today.Equal(lastDay) {
				continue
			}
			prev := lastDay
			lastDay = today
			e.logger.Info("daily rollover", zap.Time("date", today))
			e.rolloverPnL(prev, today)
			e.risk.ResetDaily()
			e.supervisor.ResetDaily()
			e.compliance.ResetDaily(today)
		}
	}
}

// rolloverPnL zeroes the daily counter every day and the weekly counter when
// the calendar week changes.
func (e *Engine) rolloverPnL(prev, today time.Time) {
	py, pw := prev.ISOWeek()
	cy, cw := today.ISOWeek()

	e.acctMu.Lock()
	e.dailyPnL = decimal.Zero
	if py != cy || pw != cw {
		e.weeklyPnL = decimal.Zero
	}
	e.acctMu.Unlock()
}

// persistSnapshots writes the compliance and optimizer state to the store.
func (e *Engine) persistSnapshots() {
	for _, mgr := range e.compliance.All() {
		if err := e.store.SaveComplianceSnapshot(mgr.Snapshot()); err != nil {
			e.logger.Warn("compliance snapshot save failed",
				zap.String("account_id", mgr.AccountID()), zap.Error(err))
		}
	}
	for botID, snap := range e.optimizer.Snapshots() {
		if err := e.store.SaveOptimizerState(snap); err != nil {
			e.logger.Warn("optimizer snapshot save failed",
				zap.String("bot_id", botID), zap.Error(err))
		}
	}
}

// Stop shuts the engine down in dependency order and persists final state.
func (e *Engine) Stop(ctx context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if !e.started {
		return
	}
	e.started = false

	// Save last-known states before the fleet stops, and detach the hook so
	// the shutdown stop does not overwrite them. A restart resumes bots in
	// the state they were in when the signal arrived.
	e.supervisor.SetPersistHook(nil)
	for _, snap := range e.supervisor.Status().Bots {
		if err := e.store.SaveBot(snap.ID, snap.Config, snap.State); err != nil {
			e.logger.Warn("bot row save failed", zap.String("bot_id", snap.ID), zap.Error(err))
		}
	}

	e.supervisor.StopAll()
	e.optimizer.Stop()
	e.notifier.Stop()

	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.bg.Wait()

	if err := e.pool.Stop(); err != nil {
		e.logger.Warn("worker pool shutdown", zap.Error(err))
	}

	e.persistSnapshots()
	if err := e.store.Close(); err != nil {
		e.logger.Warn("store close failed", zap.Error(err))
	}

	for _, err := range e.brokers.DisconnectAll(ctx) {
		e.logger.Warn("broker disconnect failed", zap.Error(err))
	}
	for _, err := range e.data.DisconnectAll(ctx) {
		e.logger.Warn("data source disconnect failed", zap.Error(err))
	}

	e.metrics.Stop()
	e.sink.Stop()
	e.logger.Info("engine stopped")
}

// Status is the health view of the whole engine.
type Status struct {
	TradingMode    types.TradingMode `json:"trading_mode"`
	Fleet          supervisor.Status `json:"fleet"`
	Risk           risk.Status       `json:"risk"`
	Pool           workers.Stats     `json:"pool"`
	Events         telemetry.Stats   `json:"events"`
	OrdersToday    int               `json:"orders_today"`
	Brokers        []string          `json:"brokers"`
	DataSources    []string          `json:"data_sources"`
	PortfolioValue decimal.Decimal   `json:"portfolio_value"`
}

// Status assembles the health view.
func (e *Engine) Status() Status {
	value, _ := e.accountView()
	return Status{
		TradingMode:    e.cfg.TradingMode,
		Fleet:          e.supervisor.Status(),
		Risk:           e.risk.Status(),
		Pool:           e.pool.Stats(),
		Events:         e.sink.Stats(),
		OrdersToday:    e.pipeline.SubmittedToday(),
		Brokers:        e.brokers.Connected(),
		DataSources:    e.data.Connected(),
		PortfolioValue: value,
	}
}

// Component accessors for the API layer.

func (e *Engine) Supervisor() *supervisor.Supervisor { return e.supervisor }
func (e *Engine) Pipeline() *orders.Pipeline         { return e.pipeline }
func (e *Engine) Optimizer() *optimizer.Manager      { return e.optimizer }
func (e *Engine) Compliance() *compliance.Registry   { return e.compliance }
func (e *Engine) Risk() *risk.Manager                { return e.risk }
func (e *Engine) Fees() *fees.Tracker                { return e.fees }
func (e *Engine) Reporter() *reporting.Reporter      { return e.reporter }
func (e *Engine) Sink() *telemetry.Sink              { return e.sink }
func (e *Engine) Config() *types.EngineConfig        { return e.cfg }
func (e *Engine) Clock() clock.Clock                 { return e.clock }
