// Package broker defines the broker capability set and the registry of
// connected broker handles. Adapters are enumerated at startup; unknown
// names are rejected at registration, never at use.
package broker

import (
	"context"

	"github.com/quantfleet/engine/pkg/types"
	"go.uber.org/zap"
)

// Broker is the capability set every adapter implements. GetQuote and
// GetBars are optional capabilities: adapters without market data return
// errs.ErrNotSupported and callers must not assume availability.
type Broker interface {
	Name() string

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	GetAccounts(ctx context.Context) ([]types.AccountSnapshot, error)
	GetPositions(ctx context.Context, accountID string) ([]types.Position, error)

	// SubmitOrder acknowledges the order before returning: on success the
	// order carries a broker ID and at least Submitted status. Fills are
	// pushed asynchronously on the Fills channel.
	SubmitOrder(ctx context.Context, order *types.Order) error
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (*types.Order, error)
	GetOpenOrders(ctx context.Context) ([]*types.Order, error)

	GetQuote(ctx context.Context, symbol string) (*types.Quote, error)
	GetBars(ctx context.Context, symbol string, timeframe types.Timeframe, limit int) ([]types.OHLCV, error)

	// Fills exposes the adapter's execution push channel. The channel is
	// owned by the adapter and closed on Disconnect.
	Fills() <-chan types.Fill
}

// Factory constructs an unconnected broker adapter from its opaque config
// block. Secrets are read from the environment inside the factory, never
// from the config map.
type Factory func(logger *zap.Logger, cfg map[string]string) (Broker, error)
