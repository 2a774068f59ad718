package compliance

import (
	"sync"
	"time"

	"github.com/quantfleet/engine/internal/clock"
	"github.com/quantfleet/engine/pkg/types"
	"go.uber.org/zap"
)

// Registry owns one Manager per (broker, account) pair. Managers are
// registered when a broker connects and live for the process.
type Registry struct {
	logger   *zap.Logger
	clock    clock.Clock
	calendar *clock.Calendar

	mu       sync.RWMutex
	managers map[string]*Manager
}

// NewRegistry creates an empty compliance registry.
func NewRegistry(logger *zap.Logger, clk clock.Clock, cal *clock.Calendar) *Registry {
	return &Registry{
		logger:   logger,
		clock:    clk,
		calendar: cal,
		managers: make(map[string]*Manager),
	}
}

func managerKey(broker, accountID string) string {
	return broker + "/" + accountID
}

// Register returns the manager for the account, creating it on first use.
func (r *Registry) Register(broker, accountID string, accountType types.AccountType) *Manager {
	key := managerKey(broker, accountID)

	r.mu.RLock()
	mgr, ok := r.managers[key]
	r.mu.RUnlock()
	if ok {
		return mgr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if mgr, ok := r.managers[key]; ok {
		return mgr
	}
	mgr = NewManager(r.logger, broker, accountID, accountType, r.clock, r.calendar)
	r.managers[key] = mgr
	r.logger.Info("compliance manager registered",
		zap.String("broker", broker),
		zap.String("account", accountID),
		zap.String("type", string(accountType)))
	return mgr
}

// Get looks up the manager for an account.
func (r *Registry) Get(broker, accountID string) (*Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mgr, ok := r.managers[managerKey(broker, accountID)]
	return mgr, ok
}

// All returns every registered manager.
func (r *Registry) All() []*Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Manager, 0, len(r.managers))
	for _, mgr := range r.managers {
		out = append(out, mgr)
	}
	return out
}

// ResetDaily runs the daily reset on every account.
func (r *Registry) ResetDaily(today time.Time) {
	for _, mgr := range r.All() {
		mgr.ResetDaily(today)
	}
}
