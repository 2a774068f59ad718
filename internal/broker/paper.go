package broker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/quantfleet/engine/internal/errs"
	"github.com/quantfleet/engine/pkg/types"
	"github.com/quantfleet/engine/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// QuoteFunc supplies prices to the paper broker for market-order fills.
type QuoteFunc func(ctx context.Context, symbol string) (*types.Quote, error)

// Paper is the in-process simulated broker. It fills orders against the
// supplied quote function (or the order's limit price), pushes fills on the
// adapter channel, and keeps simple cash/position bookkeeping. It doubles
// as the reference implementation of the Broker contract.
type Paper struct {
	logger  *zap.Logger
	quoteFn QuoteFunc

	accountID   string
	accountType types.AccountType
	fillDelay   time.Duration

	mu        sync.Mutex
	connected bool
	cash      decimal.Decimal
	positions map[string]*types.Position
	orders    map[string]*types.Order

	fills  chan types.Fill
	stopCh chan struct{}
	wg     sync.WaitGroup
}

var pennyTick = decimal.NewFromFloat(0.01)

// NewPaper constructs a paper broker. Recognized config keys: account_id,
// account_type (cash|margin|ira|paper), equity, fill_delay_ms.
func NewPaper(logger *zap.Logger, cfg map[string]string, quoteFn QuoteFunc) (*Paper, error) {
	p := &Paper{
		logger:      logger.Named("paper-broker"),
		quoteFn:     quoteFn,
		accountID:   "paper-1",
		accountType: types.AccountPaper,
		cash:        decimal.NewFromInt(100000),
		positions:   make(map[string]*types.Position),
		orders:      make(map[string]*types.Order),
		fills:       make(chan types.Fill, 1024),
		stopCh:      make(chan struct{}),
	}

	if v, ok := cfg["account_id"]; ok && v != "" {
		p.accountID = v
	}
	if v, ok := cfg["account_type"]; ok && v != "" {
		switch types.AccountType(v) {
		case types.AccountCash, types.AccountMargin, types.AccountIRA, types.AccountPaper:
			p.accountType = types.AccountType(v)
		default:
			return nil, errs.New(errs.KindClient, "paper-broker", "config", "unknown account_type "+v)
		}
	}
	if v, ok := cfg["equity"]; ok && v != "" {
		eq, err := decimal.NewFromString(v)
		if err != nil {
			return nil, errs.Wrap(err, errs.KindClient, "paper-broker", "config", "bad equity")
		}
		p.cash = eq
	}
	if v, ok := cfg["fill_delay_ms"]; ok && v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, errs.Wrap(err, errs.KindClient, "paper-broker", "config", "bad fill_delay_ms")
		}
		p.fillDelay = time.Duration(ms) * time.Millisecond
	}

	return p, nil
}

// Name implements Broker.
func (p *Paper) Name() string { return "paper" }

// Connect implements Broker.
func (p *Paper) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return errs.Wrap(errs.ErrAlreadyConnected, errs.KindConstraint, "paper-broker", "connect", p.accountID)
	}
	p.connected = true
	return nil
}

// Disconnect implements Broker. Pending fills are flushed before the fill
// channel closes.
func (p *Paper) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return nil
	}
	p.connected = false
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()
	close(p.fills)
	return nil
}

// HealthCheck implements Broker.
func (p *Paper) HealthCheck(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return errs.Wrap(errs.ErrNotConnected, errs.KindExternal, "paper-broker", "health", p.accountID)
	}
	return nil
}

// GetAccounts implements Broker.
func (p *Paper) GetAccounts(ctx context.Context) ([]types.AccountSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	equity := p.cash
	for _, pos := range p.positions {
		equity = equity.Add(pos.Quantity.Mul(pos.CurrentPrice))
	}

	buyingPower := equity
	dtbp := decimal.Zero
	if p.accountType == types.AccountMargin {
		buyingPower = equity.Mul(decimal.NewFromInt(2))
		dtbp = equity.Mul(decimal.NewFromInt(4))
	}

	return []types.AccountSnapshot{{
		AccountID:             p.accountID,
		Type:                  p.accountType,
		Equity:                equity,
		BuyingPower:           buyingPower,
		SettledBuyingPower:    p.cash,
		DayTradingBuyingPower: dtbp,
		PatternDayTrader:      false,
		UpdatedAt:             time.Now().UTC(),
	}}, nil
}

// GetPositions implements Broker.
func (p *Paper) GetPositions(ctx context.Context, accountID string) ([]types.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]types.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out, nil
}

// SubmitOrder implements Broker. The order is acknowledged as Submitted
// before return; the fill is pushed asynchronously.
func (p *Paper) SubmitOrder(ctx context.Context, order *types.Order) error {
	if order.Quantity.LessThanOrEqual(decimal.Zero) {
		return errs.New(errs.KindClient, "paper-broker", "submit", "quantity must be positive")
	}

	price := order.LimitPrice
	if !price.IsPositive() {
		if p.quoteFn == nil {
			return errs.New(errs.KindExternal, "paper-broker", "submit", "no price source for market order")
		}
		quote, err := p.quoteFn(ctx, order.Symbol)
		if err != nil {
			return errs.Wrap(err, errs.KindExternal, "paper-broker", "submit", "quote unavailable")
		}
		// Synthetic fills execute at penny precision.
		price = utils.RoundToTickSize(quote.Last, pennyTick)
	}

	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return errs.Wrap(errs.ErrNotConnected, errs.KindExternal, "paper-broker", "submit", order.Symbol)
	}
	if order.ID == "" {
		order.ID = utils.GenerateID("pap")
	}
	order.Status = types.OrderStatusSubmitted
	order.BrokerName = p.Name()
	order.UpdatedAt = time.Now().UTC()

	stored := *order
	p.orders[order.ID] = &stored
	p.mu.Unlock()

	p.wg.Add(1)
	go p.fill(order.ID, price)

	return nil
}

func (p *Paper) fill(orderID string, price decimal.Decimal) {
	defer p.wg.Done()

	if p.fillDelay > 0 {
		select {
		case <-time.After(p.fillDelay):
		case <-p.stopCh:
			return
		}
	}

	p.mu.Lock()
	order, ok := p.orders[orderID]
	if !ok || order.Status.Terminal() {
		p.mu.Unlock()
		return
	}

	now := time.Now().UTC()
	order.Status = types.OrderStatusFilled
	order.FilledQty = order.Quantity
	order.AvgFillPrice = price
	order.UpdatedAt = now
	order.FilledAt = &now

	p.applyFill(order, price)

	fill := types.Fill{
		OrderID:       order.ID,
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Price:         price,
		Quantity:      order.Quantity,
		Timestamp:     now,
	}
	p.mu.Unlock()

	select {
	case p.fills <- fill:
	case <-p.stopCh:
	}
}

// applyFill updates cash and positions. Caller holds the lock.
func (p *Paper) applyFill(order *types.Order, price decimal.Decimal) {
	notional := order.Quantity.Mul(price)
	pos, exists := p.positions[order.Symbol]

	if order.Side == types.OrderSideBuy {
		p.cash = p.cash.Sub(notional)
		if !exists {
			p.positions[order.Symbol] = &types.Position{
				AccountID:    p.accountID,
				Symbol:       order.Symbol,
				Quantity:     order.Quantity,
				AvgCost:      price,
				CurrentPrice: price,
				UpdatedAt:    order.UpdatedAt,
			}
			return
		}
		total := pos.Quantity.Add(order.Quantity)
		pos.AvgCost = pos.AvgCost.Mul(pos.Quantity).Add(notional).Div(total)
		pos.Quantity = total
		pos.CurrentPrice = price
		pos.UpdatedAt = order.UpdatedAt
		return
	}

	p.cash = p.cash.Add(notional)
	if !exists {
		p.positions[order.Symbol] = &types.Position{
			AccountID:    p.accountID,
			Symbol:       order.Symbol,
			Quantity:     order.Quantity.Neg(),
			AvgCost:      price,
			CurrentPrice: price,
			UpdatedAt:    order.UpdatedAt,
		}
		return
	}
	pos.Quantity = pos.Quantity.Sub(order.Quantity)
	pos.CurrentPrice = price
	pos.UpdatedAt = order.UpdatedAt
	if pos.Quantity.IsZero() {
		delete(p.positions, order.Symbol)
	}
}

// CancelOrder implements Broker. Cancelling a terminal order is a no-op.
func (p *Paper) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return errs.Wrap(errs.ErrNotFound, errs.KindClient, "paper-broker", "cancel", orderID)
	}
	if order.Status.Terminal() {
		return nil
	}
	order.Status = types.OrderStatusCancelled
	order.UpdatedAt = time.Now().UTC()
	return nil
}

// GetOrder implements Broker.
func (p *Paper) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return nil, errs.Wrap(errs.ErrNotFound, errs.KindClient, "paper-broker", "get-order", orderID)
	}
	out := *order
	return &out, nil
}

// GetOpenOrders implements Broker.
func (p *Paper) GetOpenOrders(ctx context.Context) ([]*types.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var open []*types.Order
	for _, order := range p.orders {
		if !order.Status.Terminal() {
			out := *order
			open = append(open, &out)
		}
	}
	return open, nil
}

// GetQuote implements Broker by delegating to the configured quote source.
func (p *Paper) GetQuote(ctx context.Context, symbol string) (*types.Quote, error) {
	if p.quoteFn == nil {
		return nil, errs.Wrap(errs.ErrNotSupported, errs.KindClient, "paper-broker", "quote", symbol)
	}
	return p.quoteFn(ctx, symbol)
}

// GetBars implements Broker. The paper broker carries no bar history.
func (p *Paper) GetBars(ctx context.Context, symbol string, timeframe types.Timeframe, limit int) ([]types.OHLCV, error) {
	return nil, errs.Wrap(errs.ErrNotSupported, errs.KindClient, "paper-broker", "bars", symbol)
}

// Fills implements Broker.
func (p *Paper) Fills() <-chan types.Fill {
	return p.fills
}
