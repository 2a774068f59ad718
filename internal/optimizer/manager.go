package optimizer

import (
	"context"
	"sync"
	"time"

	"github.com/quantfleet/engine/internal/clock"
	"github.com/quantfleet/engine/internal/errs"
	"github.com/quantfleet/engine/internal/telemetry"
	"github.com/quantfleet/engine/pkg/types"
	"go.uber.org/zap"
)

// ParamsHandle resolves bot parameter access per call, so a deleted bot
// invalidates its optimizer cleanly. The supervisor satisfies this.
type ParamsHandle interface {
	Params(botID string) (map[string]float64, error)
	SetParams(botID string, params map[string]float64) error
}

// Manager owns the per-bot optimizers and the evaluation ticker.
type Manager struct {
	logger   *zap.Logger
	clock    clock.Clock
	sink     *telemetry.Sink
	handle   ParamsHandle
	interval time.Duration

	mu   sync.Mutex
	opts map[string]*Optimizer

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates an optimizer manager evaluating every interval.
func NewManager(logger *zap.Logger, clk clock.Clock, sink *telemetry.Sink, handle ParamsHandle, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Manager{
		logger:   logger.Named("optimizer"),
		clock:    clk,
		sink:     sink,
		handle:   handle,
		interval: interval,
		opts:     make(map[string]*Optimizer),
	}
}

// Enable starts optimizing a bot, capturing its current parameters as the
// baseline. Re-enabling an already optimized bot switches its mode and
// keeps the recorded history.
func (m *Manager) Enable(botID string, mode Mode) error {
	params, err := m.handle.Params(botID)
	if err != nil {
		return errs.Wrap(err, errs.KindClient, "optimizer", "enable", "bot "+botID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if opt, exists := m.opts[botID]; exists {
		opt.mu.Lock()
		opt.mode = mode
		opt.config = ConfigForMode(mode)
		opt.mu.Unlock()
		m.logger.Info("optimizer mode switched",
			zap.String("bot_id", botID), zap.String("mode", string(mode)))
		return nil
	}

	m.opts[botID] = newOptimizer(m.logger, m.clock, botID, mode, params)
	m.logger.Info("optimizer enabled",
		zap.String("bot_id", botID), zap.String("mode", string(mode)))
	return nil
}

// Disable stops optimizing a bot and discards its state.
func (m *Manager) Disable(botID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.opts[botID]; !exists {
		return errs.Wrap(errs.ErrNotFound, errs.KindClient, "optimizer", "disable", "bot "+botID)
	}
	delete(m.opts, botID)
	m.logger.Info("optimizer disabled", zap.String("bot_id", botID))
	return nil
}

// Status returns the optimizer view for a bot.
func (m *Manager) Status(botID string) (Status, error) {
	opt, ok := m.get(botID)
	if !ok {
		return Status{}, errs.Wrap(errs.ErrNotFound, errs.KindClient, "optimizer", "status", "bot "+botID)
	}
	return opt.Status(), nil
}

// RecordTrade feeds a closed trade into the bot's optimizer. Bots without
// an enabled optimizer are ignored.
func (m *Manager) RecordTrade(botID string, tr types.TradeResult) {
	if opt, ok := m.get(botID); ok {
		opt.RecordTrade(tr)
	}
}

// Reset returns a bot's parameters to the enable-time baseline and applies
// them immediately.
func (m *Manager) Reset(botID string) error {
	opt, ok := m.get(botID)
	if !ok {
		return errs.Wrap(errs.ErrNotFound, errs.KindClient, "optimizer", "reset", "bot "+botID)
	}
	baseline := opt.Reset()
	if err := m.handle.SetParams(botID, baseline); err != nil {
		return errs.Wrap(err, errs.KindClient, "optimizer", "reset", "applying baseline to "+botID)
	}
	return nil
}

func (m *Manager) get(botID string) (*Optimizer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	opt, ok := m.opts[botID]
	return opt, ok
}

func (m *Manager) snapshotOpts() map[string]*Optimizer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*Optimizer, len(m.opts))
	for id, opt := range m.opts {
		out[id] = opt
	}
	return out
}

// EvaluateAll runs one evaluation cycle over every enabled optimizer.
// Optimizers whose bot no longer resolves are dropped.
func (m *Manager) EvaluateAll() {
	for botID, opt := range m.snapshotOpts() {
		params, err := m.handle.Params(botID)
		if err != nil {
			m.logger.Info("dropping optimizer for missing bot", zap.String("bot_id", botID))
			m.mu.Lock()
			delete(m.opts, botID)
			m.mu.Unlock()
			continue
		}

		writes, adjs := opt.Evaluate(params)
		if len(writes) == 0 {
			continue
		}
		if err := m.handle.SetParams(botID, writes); err != nil {
			m.logger.Warn("parameter write failed",
				zap.String("bot_id", botID), zap.Error(err))
			continue
		}
		for _, adj := range adjs {
			m.sink.Publish(telemetry.NewAdjustmentEvent(botID, adj, m.clock.Now()))
		}
	}
}

// Start launches the evaluation ticker. Idempotent.
func (m *Manager) Start() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.EvaluateAll()
			}
		}
	}()

	m.logger.Info("optimizer manager started", zap.Duration("interval", m.interval))
}

// Stop halts the evaluation ticker.
func (m *Manager) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.logger.Info("optimizer manager stopped")
}

// Enabled lists the bot ids currently under optimization.
func (m *Manager) Enabled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.opts))
	for id := range m.opts {
		out = append(out, id)
	}
	return out
}
