// Package supervisor owns the bot fleet: creation against the fleet cap,
// lookup, fan-out lifecycle operations, and aggregate status. All map
// mutations are serialized by the supervisor mutex; reads work on snapshots.
package supervisor

import (
	"sort"
	"sync"

	"github.com/quantfleet/engine/internal/bot"
	"github.com/quantfleet/engine/internal/errs"
	"github.com/quantfleet/engine/internal/telemetry"
	"github.com/quantfleet/engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PersistHook observes fleet mutations so the store can save bot configs and
// last-known states. Best-effort; errors stay inside the hook.
type PersistHook func(botID string, cfg types.BotConfig, state types.BotState)

// Supervisor manages up to maxBots bot instances.
type Supervisor struct {
	logger  *zap.Logger
	deps    bot.Deps
	sink    *telemetry.Sink
	maxBots int

	mu   sync.Mutex
	bots map[string]*bot.Bot

	hookMu  sync.RWMutex
	persist PersistHook
}

// New creates an empty supervisor. maxBots values below one fall back to the
// default cap of 25.
func New(logger *zap.Logger, maxBots int, deps bot.Deps) *Supervisor {
	if maxBots <= 0 {
		maxBots = 25
	}
	return &Supervisor{
		logger:  logger.Named("supervisor"),
		deps:    deps,
		sink:    deps.Sink,
		maxBots: maxBots,
		bots:    make(map[string]*bot.Bot),
	}
}

// SetPersistHook installs the mutation observer.
func (s *Supervisor) SetPersistHook(hook PersistHook) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.persist = hook
}

func (s *Supervisor) notifyPersist(b *bot.Bot) {
	s.hookMu.RLock()
	hook := s.persist
	s.hookMu.RUnlock()
	if hook != nil {
		hook(b.ID(), b.Config(), b.State())
	}
}

// CreateBot constructs and registers a bot. An empty id gets a generated
// one; a duplicate id or a full fleet is a constraint error.
func (s *Supervisor) CreateBot(cfg types.BotConfig, id string) (*bot.Bot, error) {
	s.mu.Lock()
	if len(s.bots) >= s.maxBots {
		s.mu.Unlock()
		return nil, errs.Wrap(errs.ErrMaxBotsReached, errs.KindConstraint, "supervisor", "create_bot",
			"fleet is at capacity").WithDetail("max_bots", s.maxBots)
	}
	if id != "" {
		if _, exists := s.bots[id]; exists {
			s.mu.Unlock()
			return nil, errs.Wrap(errs.ErrDuplicateID, errs.KindConstraint, "supervisor", "create_bot", id)
		}
	}
	s.mu.Unlock()

	b, err := bot.New(s.logger, id, cfg, s.deps)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindClient, "supervisor", "create_bot", "invalid bot config")
	}

	s.mu.Lock()
	if len(s.bots) >= s.maxBots {
		s.mu.Unlock()
		return nil, errs.Wrap(errs.ErrMaxBotsReached, errs.KindConstraint, "supervisor", "create_bot",
			"fleet is at capacity").WithDetail("max_bots", s.maxBots)
	}
	if _, exists := s.bots[b.ID()]; exists {
		s.mu.Unlock()
		return nil, errs.Wrap(errs.ErrDuplicateID, errs.KindConstraint, "supervisor", "create_bot", b.ID())
	}
	s.bots[b.ID()] = b
	s.mu.Unlock()

	s.sink.Publish(telemetry.NewBotStateEvent(b.ID(), "", types.BotStateCreated, "bot created", s.deps.Clock.Now()))
	s.logger.Info("bot created",
		zap.String("bot_id", b.ID()),
		zap.String("name", cfg.Name),
		zap.Strings("symbols", cfg.Symbols))
	s.notifyPersist(b)
	return b, nil
}

// Get returns a bot by id.
func (s *Supervisor) Get(id string) (*bot.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[id]
	if !ok {
		return nil, errs.Wrap(errs.ErrNotFound, errs.KindClient, "supervisor", "get", "bot "+id)
	}
	return b, nil
}

// DeleteBot stops a bot if needed and removes it from the fleet.
func (s *Supervisor) DeleteBot(id string) error {
	b, err := s.Get(id)
	if err != nil {
		return err
	}

	b.Stop()

	s.mu.Lock()
	delete(s.bots, id)
	s.mu.Unlock()

	s.logger.Info("bot deleted", zap.String("bot_id", id))
	s.notifyPersist(b)
	return nil
}

// snapshot copies the bot map so fan-out operations run without the lock.
func (s *Supervisor) snapshot() map[string]*bot.Bot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*bot.Bot, len(s.bots))
	for id, b := range s.bots {
		out[id] = b
	}
	return out
}

// StartBot starts one bot.
func (s *Supervisor) StartBot(id string) (bool, error) {
	b, err := s.Get(id)
	if err != nil {
		return false, err
	}
	ok := b.Start()
	s.notifyPersist(b)
	return ok, nil
}

// StopBot stops one bot.
func (s *Supervisor) StopBot(id string) (bool, error) {
	b, err := s.Get(id)
	if err != nil {
		return false, err
	}
	ok := b.Stop()
	s.notifyPersist(b)
	return ok, nil
}

// PauseBot pauses one bot.
func (s *Supervisor) PauseBot(id string) (bool, error) {
	b, err := s.Get(id)
	if err != nil {
		return false, err
	}
	ok := b.Pause()
	s.notifyPersist(b)
	return ok, nil
}

// ResumeBot resumes one bot.
func (s *Supervisor) ResumeBot(id string) (bool, error) {
	b, err := s.Get(id)
	if err != nil {
		return false, err
	}
	ok := b.Resume()
	s.notifyPersist(b)
	return ok, nil
}

// StartAll starts every bot, reporting per-bot success. One failure never
// stops the fan-out.
func (s *Supervisor) StartAll() map[string]bool {
	return s.fanOut(func(b *bot.Bot) bool { return b.Start() })
}

// StopAll stops every bot.
func (s *Supervisor) StopAll() map[string]bool {
	return s.fanOut(func(b *bot.Bot) bool { return b.Stop() })
}

// PauseAll pauses every running bot.
func (s *Supervisor) PauseAll() map[string]bool {
	return s.fanOut(func(b *bot.Bot) bool { return b.Pause() })
}

// ResumeAll resumes every paused bot.
func (s *Supervisor) ResumeAll() map[string]bool {
	return s.fanOut(func(b *bot.Bot) bool { return b.Resume() })
}

func (s *Supervisor) fanOut(op func(*bot.Bot) bool) map[string]bool {
	bots := s.snapshot()
	results := make(map[string]bool, len(bots))
	for id, b := range bots {
		results[id] = op(b)
		s.notifyPersist(b)
	}
	return results
}

// UpdateBotConfig replaces one bot's configuration and returns its fresh
// snapshot.
func (s *Supervisor) UpdateBotConfig(id string, cfg types.BotConfig) (*types.BotSnapshot, error) {
	b, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if err := b.UpdateConfig(cfg); err != nil {
		return nil, errs.Wrap(err, errs.KindClient, "supervisor", "update_config", "invalid bot config")
	}
	s.notifyPersist(b)
	snap := b.Status()
	return &snap, nil
}

// Params returns a bot's optimizer parameter block. Handles are resolved per
// call so a deleted bot invalidates them cleanly.
func (s *Supervisor) Params(id string) (map[string]float64, error) {
	b, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return b.Params(), nil
}

// SetParams writes a bot's optimizer parameters.
func (s *Supervisor) SetParams(id string, params map[string]float64) error {
	b, err := s.Get(id)
	if err != nil {
		return err
	}
	b.SetParams(params)
	s.notifyPersist(b)
	return nil
}

// HandleTrade routes a filled trade back to its bot's counters. Unknown bot
// ids (deleted bots, manual orders) are ignored.
func (s *Supervisor) HandleTrade(botID string, trade types.Trade) {
	if botID == "" {
		return
	}
	b, err := s.Get(botID)
	if err != nil {
		return
	}
	b.RecordFill(trade)
	if !trade.PnL.IsZero() {
		b.AddDailyPnL(trade.PnL)
	}
}

// ResetDaily zeroes every bot's per-day counters.
func (s *Supervisor) ResetDaily() {
	for _, b := range s.snapshot() {
		b.ResetDaily()
	}
}

// Status aggregates the fleet. Totals and per-bot snapshots come from one
// map snapshot, so the view is consistent with itself.
type Status struct {
	BotCount         int                 `json:"bot_count"`
	MaxBots          int                 `json:"max_bots"`
	Running          int                 `json:"running"`
	Paused           int                 `json:"paused"`
	Stopped          int                 `json:"stopped"`
	Errored          int                 `json:"errored"`
	TotalDailyPnL    decimal.Decimal     `json:"total_daily_pnl"`
	TotalTradesToday int64               `json:"total_trades_today"`
	TotalErrors      int64               `json:"total_errors"`
	Bots             []types.BotSnapshot `json:"bots"`
}

// Status returns the aggregate fleet view.
func (s *Supervisor) Status() Status {
	bots := s.snapshot()

	st := Status{
		BotCount:      len(bots),
		MaxBots:       s.maxBots,
		TotalDailyPnL: decimal.Zero,
	}
	for _, b := range bots {
		snap := b.Status()
		st.Bots = append(st.Bots, snap)

		switch snap.State {
		case types.BotStateRunning, types.BotStateStarting:
			st.Running++
		case types.BotStatePaused:
			st.Paused++
		case types.BotStateError:
			st.Errored++
		default:
			st.Stopped++
		}
		st.TotalDailyPnL = st.TotalDailyPnL.Add(snap.Stats.DailyPnL)
		st.TotalTradesToday += snap.Stats.TradesToday
		st.TotalErrors += snap.Stats.ErrorsCount
	}
	sort.Slice(st.Bots, func(i, j int) bool { return st.Bots[i].ID < st.Bots[j].ID })
	return st
}

// Summaries returns the lightweight fleet listing, sorted by id.
func (s *Supervisor) Summaries() []types.BotSummary {
	bots := s.snapshot()
	out := make([]types.BotSummary, 0, len(bots))
	for _, b := range bots {
		out = append(out, b.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the current fleet size.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bots)
}
