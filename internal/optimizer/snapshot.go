package optimizer

import (
	"fmt"
	"time"

	"github.com/quantfleet/engine/internal/errs"
	"github.com/quantfleet/engine/pkg/types"
)

// snapshotVersion is bumped whenever the snapshot layout changes. Restore
// accepts this version and older; newer snapshots are rejected.
const snapshotVersion = 1

// Snapshot is the JSON-serializable image of one optimizer's durable state.
// The trade and pnl rings are deliberately excluded: they refill from live
// trading and restoring stale ones would skew the first post-restart window.
type Snapshot struct {
	Version int       `json:"version"`
	BotID   string    `json:"bot_id"`
	Mode    Mode      `json:"mode"`
	TakenAt time.Time `json:"taken_at"`

	Baseline        map[string]float64          `json:"baseline"`
	Best            map[string]float64          `json:"best,omitempty"`
	BestPerformance *types.PerformanceMetrics   `json:"best_performance,omitempty"`
	Adjustments     []types.ParameterAdjustment `json:"adjustments,omitempty"`

	LastAdjustment   time.Time `json:"last_adjustment,omitempty"`
	AdjustmentsToday int       `json:"adjustments_today"`
	LastResetDate    time.Time `json:"last_reset_date"`
}

// Snapshot captures the durable optimizer state for persistence.
func (o *Optimizer) Snapshot() *Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := &Snapshot{
		Version:          snapshotVersion,
		BotID:            o.botID,
		Mode:             o.mode,
		TakenAt:          o.clock.Now(),
		Baseline:         copyParams(o.baseline),
		Best:             copyParams(o.best),
		LastAdjustment:   o.lastAdjustment,
		AdjustmentsToday: o.adjustmentsToday,
		LastResetDate:    o.lastResetDate,
	}
	if o.bestPerf != nil {
		perf := *o.bestPerf
		snap.BestPerformance = &perf
	}
	snap.Adjustments = append([]types.ParameterAdjustment(nil), o.adjustments...)
	return snap
}

// Restore rebuilds the optimizer state from a snapshot taken by the same or
// an older code version.
func (o *Optimizer) Restore(snap *Snapshot) error {
	if snap == nil {
		return errs.New(errs.KindClient, "optimizer", "restore", "nil snapshot")
	}
	if snap.Version > snapshotVersion {
		return errs.New(errs.KindClient, "optimizer", "restore",
			fmt.Sprintf("snapshot version %d is newer than supported %d", snap.Version, snapshotVersion))
	}
	if snap.BotID != o.botID {
		return errs.New(errs.KindClient, "optimizer", "restore",
			fmt.Sprintf("snapshot is for bot %s, optimizer tracks %s", snap.BotID, o.botID))
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.mode = snap.Mode
	o.config = ConfigForMode(snap.Mode)
	o.baseline = copyParams(snap.Baseline)
	o.best = copyParams(snap.Best)
	if len(o.best) == 0 {
		o.best = copyParams(o.baseline)
	}
	o.bestPerf = nil
	if snap.BestPerformance != nil {
		perf := *snap.BestPerformance
		o.bestPerf = &perf
	}
	o.adjustments = append([]types.ParameterAdjustment(nil), snap.Adjustments...)
	o.lastAdjustment = snap.LastAdjustment
	o.adjustmentsToday = snap.AdjustmentsToday
	o.lastResetDate = snap.LastResetDate
	return nil
}

// Snapshots captures every enabled optimizer, keyed by bot id.
func (m *Manager) Snapshots() map[string]*Snapshot {
	out := make(map[string]*Snapshot)
	for botID, opt := range m.snapshotOpts() {
		out[botID] = opt.Snapshot()
	}
	return out
}

// RestoreSnapshot re-enables a bot's optimizer from a persisted snapshot.
// The bot must still resolve through the params handle.
func (m *Manager) RestoreSnapshot(snap *Snapshot) error {
	if snap == nil {
		return errs.New(errs.KindClient, "optimizer", "restore", "nil snapshot")
	}
	if _, err := m.handle.Params(snap.BotID); err != nil {
		return errs.Wrap(err, errs.KindClient, "optimizer", "restore", "bot "+snap.BotID)
	}

	opt := newOptimizer(m.logger, m.clock, snap.BotID, snap.Mode, snap.Baseline)
	if err := opt.Restore(snap); err != nil {
		return err
	}

	m.mu.Lock()
	m.opts[snap.BotID] = opt
	m.mu.Unlock()
	return nil
}
