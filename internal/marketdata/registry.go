package marketdata

import (
	"context"
	"sync"

	"github.com/quantfleet/engine/internal/errs"
	"github.com/quantfleet/engine/pkg/types"
	"go.uber.org/zap"
)

// Registry holds connected data sources in priority order and resolves
// quotes and bars with per-call failover. A source that fails a call keeps
// its place in the priority list; failover is never sticky.
type Registry struct {
	logger *zap.Logger

	mu        sync.RWMutex
	factories map[string]Factory
	handles   map[string]Source
	priority  []string
}

// NewRegistry creates an empty data source registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:    logger.Named("marketdata"),
		factories: make(map[string]Factory),
		handles:   make(map[string]Source),
	}
}

// RegisterFactory registers a source constructor under name.
func (r *Registry) RegisterFactory(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return errs.New(errs.KindConstraint, "marketdata", "register", "source factory already registered: "+name)
	}
	r.factories[name] = factory
	return nil
}

// Connect constructs and connects the named source, appending it to the
// priority list on success.
func (r *Registry) Connect(ctx context.Context, name string, cfg map[string]string) (Source, error) {
	r.mu.RLock()
	factory, known := r.factories[name]
	_, connected := r.handles[name]
	r.mu.RUnlock()

	if !known {
		return nil, errs.Wrap(errs.ErrNotFound, errs.KindClient, "marketdata", "connect", "unknown data source "+name)
	}
	if connected {
		return nil, errs.Wrap(errs.ErrAlreadyConnected, errs.KindConstraint, "marketdata", "connect", "data source "+name+" already connected")
	}

	src, err := factory(r.logger, cfg)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindClient, "marketdata", "connect", "constructing source "+name)
	}
	if err := src.Connect(ctx); err != nil {
		return nil, errs.Wrap(err, errs.KindExternal, "marketdata", "connect", "connection to "+name+" failed")
	}

	r.mu.Lock()
	if _, raced := r.handles[name]; raced {
		r.mu.Unlock()
		src.Disconnect(ctx)
		return nil, errs.Wrap(errs.ErrAlreadyConnected, errs.KindConstraint, "marketdata", "connect", "data source "+name+" already connected")
	}
	r.handles[name] = src
	r.priority = append(r.priority, name)
	r.mu.Unlock()

	r.logger.Info("data source connected", zap.String("source", name))
	return src, nil
}

// Get returns the connected source by name.
func (r *Registry) Get(name string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.handles[name]
	if !ok {
		return nil, errs.Wrap(errs.ErrNotConnected, errs.KindClient, "marketdata", "get", "data source "+name+" not connected")
	}
	return src, nil
}

// Connected returns the current priority order.
func (r *Registry) Connected() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.priority))
	copy(out, r.priority)
	return out
}

// GetQuote resolves a quote for symbol. When preferred is non-empty that
// source is tried first; remaining sources are tried in priority order.
// The first success wins.
func (r *Registry) GetQuote(ctx context.Context, symbol, preferred string) (*types.Quote, error) {
	sources := r.candidates(preferred)
	if len(sources) == 0 {
		return nil, errs.Wrap(errs.ErrNotFound, errs.KindExternal, "marketdata", "get_quote", "no data sources connected")
	}

	var lastErr error
	for _, src := range sources {
		quote, err := src.GetQuote(ctx, symbol)
		if err == nil {
			if quote.Source == "" {
				quote.Source = src.Name()
			}
			return quote, nil
		}
		lastErr = err
		r.logger.Warn("quote fetch failed, trying next source",
			zap.String("source", src.Name()),
			zap.String("symbol", symbol),
			zap.Error(err))
	}
	return nil, errs.Wrap(lastErr, errs.KindExternal, "marketdata", "get_quote", "all sources failed for "+symbol)
}

// GetBars resolves bars for symbol with the same failover walk as GetQuote.
func (r *Registry) GetBars(ctx context.Context, symbol string, timeframe types.Timeframe, limit int, preferred string) ([]types.OHLCV, error) {
	sources := r.candidates(preferred)
	if len(sources) == 0 {
		return nil, errs.Wrap(errs.ErrNotFound, errs.KindExternal, "marketdata", "get_bars", "no data sources connected")
	}

	var lastErr error
	for _, src := range sources {
		bars, err := src.GetBars(ctx, symbol, timeframe, limit)
		if err == nil {
			return bars, nil
		}
		lastErr = err
		r.logger.Warn("bar fetch failed, trying next source",
			zap.String("source", src.Name()),
			zap.String("symbol", symbol),
			zap.Error(err))
	}
	return nil, errs.Wrap(lastErr, errs.KindExternal, "marketdata", "get_bars", "all sources failed for "+symbol)
}

// candidates returns the walk order for one call: preferred first when set
// and connected, then the priority list minus the preferred entry.
func (r *Registry) candidates(preferred string) []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Source, 0, len(r.priority))
	if preferred != "" {
		if src, ok := r.handles[preferred]; ok {
			out = append(out, src)
		}
	}
	for _, name := range r.priority {
		if name == preferred {
			continue
		}
		out = append(out, r.handles[name])
	}
	return out
}

// DisconnectAll disconnects every source in reverse priority order,
// collecting failures.
func (r *Registry) DisconnectAll(ctx context.Context) []error {
	r.mu.Lock()
	names := make([]string, len(r.priority))
	copy(names, r.priority)
	handles := make(map[string]Source, len(r.handles))
	for k, v := range r.handles {
		handles[k] = v
	}
	r.handles = make(map[string]Source)
	r.priority = nil
	r.mu.Unlock()

	var failures []error
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		if err := handles[name].Disconnect(ctx); err != nil {
			failures = append(failures, errs.Wrap(err, errs.KindExternal, "marketdata", "disconnect", "disconnecting "+name))
			continue
		}
		r.logger.Info("data source disconnected", zap.String("source", name))
	}
	return failures
}
