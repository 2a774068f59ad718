// Package marketdata provides quote and bar retrieval behind a registry of
// named data sources with per-call failover.
package marketdata

import (
	"context"

	"github.com/quantfleet/engine/pkg/types"
	"go.uber.org/zap"
)

// Source is the capability set every data source adapter implements.
type Source interface {
	// Name returns the registered source name.
	Name() string

	// Connect establishes the upstream session.
	Connect(ctx context.Context) error

	// Disconnect tears the session down.
	Disconnect(ctx context.Context) error

	// HealthCheck reports whether the source is usable right now.
	HealthCheck(ctx context.Context) error

	// GetQuote returns the current level-1 quote for symbol.
	GetQuote(ctx context.Context, symbol string) (*types.Quote, error)

	// GetBars returns up to limit bars oldest-first with monotone,
	// non-overlapping timestamps.
	GetBars(ctx context.Context, symbol string, timeframe types.Timeframe, limit int) ([]types.OHLCV, error)
}

// Factory constructs a source from its config block. Credentials are read
// from environment variables inside the factory, never from the config map.
type Factory func(logger *zap.Logger, cfg map[string]string) (Source, error)
