// Package strategy defines the strategy interface the engine consumes and
// the registry of strategy factories. Signal-generation math lives behind
// the interface; the engine only sees the Signal values it produces.
package strategy

import (
	"context"
	"sort"
	"sync"

	"github.com/quantfleet/engine/internal/seasonal"
	"github.com/quantfleet/engine/pkg/types"
	"go.uber.org/zap"
)

// Strategy is an opaque signal producer. Analyze may return (nil, nil) when
// the bars carry no verdict.
type Strategy interface {
	Name() string

	// Analyze inspects the bar window for one symbol and produces at most
	// one signal. The seasonal context is advisory; strategies apply the
	// multiplier clamped to their own bounds.
	Analyze(ctx context.Context, symbol string, bars []types.OHLCV, seasonalCtx seasonal.Context) (*types.Signal, error)

	// Params exposes the strategy's tunable parameters to the optimizer.
	Params() map[string]float64

	// SetParams replaces tunable parameters. Unknown keys are ignored.
	SetParams(params map[string]float64)
}

// Factory constructs a fresh strategy instance. Each bot gets its own
// instances so parameter adjustments never cross bots.
type Factory func(logger *zap.Logger) Strategy

// Registry maps strategy names to factories. Unknown names in a bot config
// are skipped with a warning at cycle time, not an error.
type Registry struct {
	logger *zap.Logger

	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in reference strategy
// registered.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		logger:    logger.Named("strategy"),
		factories: make(map[string]Factory),
	}
	r.Register("trend", func(l *zap.Logger) Strategy { return NewTrend(l) })
	return r
}

// Register adds a factory under name, replacing any previous registration.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// New constructs a strategy instance by name.
func (r *Registry) New(name string) (Strategy, bool) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return factory(r.logger), true
}

// List returns the registered strategy names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
