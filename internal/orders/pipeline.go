// Package orders implements the synchronous order pipeline: throttle, price
// resolution, compliance gate, risk gate, broker dispatch, and recording.
// Every order the engine places flows through Pipeline.Submit.
package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quantfleet/engine/internal/broker"
	"github.com/quantfleet/engine/internal/clock"
	"github.com/quantfleet/engine/internal/compliance"
	"github.com/quantfleet/engine/internal/errs"
	"github.com/quantfleet/engine/internal/fees"
	"github.com/quantfleet/engine/internal/marketdata"
	"github.com/quantfleet/engine/internal/risk"
	"github.com/quantfleet/engine/internal/telemetry"
	"github.com/quantfleet/engine/pkg/types"
	"github.com/quantfleet/engine/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	brokerCallTimeout = 30 * time.Second
)

// Request describes one prospective order entering the pipeline.
type Request struct {
	BotID          string
	Symbol         string
	Side           types.OrderSide
	Quantity       decimal.Decimal
	Type           types.OrderType
	LimitPrice     decimal.Decimal
	StopPrice      decimal.Decimal
	Strategy       string
	SignalStrength decimal.Decimal
	Broker         string // empty means default
	AccountID      string
	// AutoConfirm resolves a compliance Confirm outcome: true proceeds,
	// false rejects.
	AutoConfirm bool
}

// FillHook receives each terminally filled trade exactly once. Used to feed
// the optimizer without the pipeline importing it.
type FillHook func(botID string, trade types.Trade)

// tracked pairs an order with its own lock so fill callbacks for different
// orders never contend.
type tracked struct {
	mu       sync.Mutex
	order    *types.Order
	recorded bool // terminal fill already fed downstream
}

// Pipeline is the process-wide order path. One instance serves all bots.
type Pipeline struct {
	logger     *zap.Logger
	clock      clock.Clock
	calendar   *clock.Calendar
	brokers    *broker.Registry
	data       *marketdata.Registry
	compliance *compliance.Registry
	risk       *risk.Manager
	fees       *fees.Tracker
	sink       *telemetry.Sink

	maxOrdersPerDay int

	mu             sync.Mutex
	counterDay     time.Time
	submittedToday int
	orders         map[string]*tracked // by order ID
	byClientID     map[string]string   // client order ID -> order ID
	trades         []types.Trade
	ledger         *ledger // cost basis for realized PnL

	hookMu   sync.RWMutex
	fillHook FillHook
}

// Config carries the pipeline limits.
type Config struct {
	MaxOrdersPerDay int
}

// NewPipeline wires the order path. All collaborators are required except
// fees, which may be nil.
func NewPipeline(logger *zap.Logger, cfg Config, clk clock.Clock, cal *clock.Calendar,
	brokers *broker.Registry, data *marketdata.Registry, comp *compliance.Registry,
	riskMgr *risk.Manager, feeTracker *fees.Tracker, sink *telemetry.Sink) *Pipeline {

	return &Pipeline{
		logger:          logger.Named("orders"),
		clock:           clk,
		calendar:        cal,
		brokers:         brokers,
		data:            data,
		compliance:      comp,
		risk:            riskMgr,
		fees:            feeTracker,
		sink:            sink,
		maxOrdersPerDay: cfg.MaxOrdersPerDay,
		orders:          make(map[string]*tracked),
		byClientID:      make(map[string]string),
		ledger:          newLedger(),
	}
}

// SetFillHook installs the terminal-fill callback.
func (p *Pipeline) SetFillHook(hook FillHook) {
	p.hookMu.Lock()
	defer p.hookMu.Unlock()
	p.fillHook = hook
}

// Submit runs the full pre-trade sequence and dispatches to the broker.
// Gate outcomes (throttle, compliance block, risk reject) return a Rejected
// order and a nil error; external failures return the Rejected order along
// with the wrapped error.
func (p *Pipeline) Submit(ctx context.Context, req Request) (*types.Order, error) {
	order := p.newOrder(req)
	req.Symbol = order.Symbol

	if !req.Quantity.IsPositive() {
		return p.reject(order, "quantity must be positive"), nil
	}

	if !p.admitToday() {
		return p.reject(order, "daily order throttle"), nil
	}

	price, err := p.resolvePrice(ctx, req)
	if err != nil {
		wrapped := errs.Wrap(err, errs.KindExternal, "orders", "submit", "quote unavailable for "+req.Symbol)
		return p.reject(order, "quote unavailable"), wrapped
	}

	if rejected := p.complianceGate(order, req, price); rejected {
		return order, nil
	}

	decision := p.risk.CheckOrder(order.Symbol, order.Quantity, price, req.Side)
	switch decision.Status {
	case risk.StatusRejected:
		return p.reject(order, "risk: "+decision.Reason), nil
	case risk.StatusReduced:
		p.logger.Info("risk gate reduced order",
			zap.String("symbol", req.Symbol),
			zap.String("requested", order.Quantity.String()),
			zap.String("approved", decision.Quantity.String()),
			zap.String("reason", decision.Reason))
		order.Quantity = decision.Quantity
	}

	handle, err := p.resolveBroker(req.Broker)
	if err != nil {
		return p.reject(order, "broker unavailable"), err
	}
	order.BrokerName = handle.Name()

	callCtx, cancel := context.WithTimeout(ctx, brokerCallTimeout)
	defer cancel()
	started := p.clock.Now()
	if err := handle.SubmitOrder(callCtx, order); err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			err = errs.Timeout("orders", "submit", p.clock.Now().Sub(started), err)
		} else {
			err = errs.Wrap(err, errs.KindExternal, "orders", "submit", "broker submit failed")
		}
		return p.reject(order, "broker unavailable"), err
	}
	if order.Status == types.OrderStatusPending {
		order.Status = types.OrderStatusSubmitted
	}
	order.UpdatedAt = p.clock.Now()

	p.track(order)
	p.recordSubmission(order, price)
	p.sink.Publish(telemetry.NewOrderEvent(telemetry.KindOrderSubmitted, *order, p.clock.Now()))

	p.logger.Info("order submitted",
		zap.String("order_id", order.ID),
		zap.String("bot_id", order.BotID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.String("quantity", order.Quantity.String()),
		zap.String("broker", order.BrokerName))

	if order.Status == types.OrderStatusFilled {
		p.finishFill(order)
	}
	return order, nil
}

func (p *Pipeline) newOrder(req Request) *types.Order {
	now := p.clock.Now()
	return &types.Order{
		ID:            utils.GenerateOrderID(),
		ClientOrderID: utils.GenerateClientOrderID(),
		BotID:         req.BotID,
		AccountID:     req.AccountID,
		Symbol:        utils.NormalizeSymbol(req.Symbol),
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		Status:        types.OrderStatusPending,
		StrategyName:  req.Strategy,
		BrokerName:    req.Broker,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// admitToday increments the process-wide daily counter, rolling it over when
// the business day changes. Weekend and holiday orders count toward the most
// recent business day.
func (p *Pipeline) admitToday() bool {
	day := clock.Midnight(p.clock.Now())
	if !p.calendar.IsBusinessDay(day) {
		days := p.calendar.LastNBusinessDays(day, 1)
		if len(days) == 1 {
			day = days[0]
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !day.Equal(p.counterDay) {
		p.counterDay = day
		p.submittedToday = 0
	}
	if p.maxOrdersPerDay > 0 && p.submittedToday >= p.maxOrdersPerDay {
		return false
	}
	p.submittedToday++
	return true
}

// resolvePrice returns the price the gates evaluate against: the explicit
// limit or stop price when the request carries one, otherwise a live quote.
// A failed quote is a hard failure; the pipeline never invents a price.
func (p *Pipeline) resolvePrice(ctx context.Context, req Request) (decimal.Decimal, error) {
	if req.LimitPrice.IsPositive() {
		return req.LimitPrice, nil
	}
	if req.StopPrice.IsPositive() {
		return req.StopPrice, nil
	}

	quote, err := p.data.GetQuote(ctx, req.Symbol, "")
	if err != nil {
		return decimal.Zero, err
	}
	if quote.Last.IsPositive() {
		return quote.Last, nil
	}
	mid := quote.Bid.Add(quote.Ask).Div(decimal.NewFromInt(2))
	if mid.IsPositive() {
		return mid, nil
	}
	return decimal.Zero, fmt.Errorf("quote for %s carries no usable price", req.Symbol)
}

// complianceGate runs the account's pre-trade check and resolves the
// aggregate action. Returns true when the order was rejected.
func (p *Pipeline) complianceGate(order *types.Order, req Request, price decimal.Decimal) bool {
	if req.AccountID == "" {
		return false
	}
	mgr, ok := p.compliance.Get(p.brokerName(req.Broker), req.AccountID)
	if !ok {
		p.logger.Debug("no compliance manager for account, gate skipped",
			zap.String("account", req.AccountID))
		return false
	}

	result, err := mgr.CheckOrder(order.Symbol, req.Side, order.Quantity, price, req.Side == types.OrderSideSell)
	if err != nil {
		p.logger.Error("compliance check failed", zap.Error(err))
		p.reject(order, "compliance check failed")
		return true
	}

	for _, v := range result.Violations {
		p.sink.Publish(telemetry.NewViolationEvent(req.AccountID, v, p.clock.Now()))
	}

	if !result.Allowed {
		p.reject(order, "compliance: "+violationTitle(result))
		return true
	}
	if result.RequiresConfirmation && !req.AutoConfirm {
		p.reject(order, "compliance confirmation required: "+violationTitle(result))
		return true
	}
	return false
}

func violationTitle(result *types.CheckResult) string {
	for _, v := range result.Violations {
		if v.Action == result.Action {
			return v.Title
		}
	}
	if len(result.Violations) > 0 {
		return result.Violations[0].Title
	}
	return string(result.Action)
}

func (p *Pipeline) brokerName(requested string) string {
	if requested != "" {
		return requested
	}
	if handle, err := p.brokers.Default(); err == nil {
		return handle.Name()
	}
	return ""
}

func (p *Pipeline) resolveBroker(name string) (broker.Broker, error) {
	if name != "" {
		return p.brokers.Get(name)
	}
	return p.brokers.Default()
}

// reject finalizes an order as Rejected and emits the telemetry event.
func (p *Pipeline) reject(order *types.Order, reason string) *types.Order {
	order.Status = types.OrderStatusRejected
	order.Reason = reason
	order.UpdatedAt = p.clock.Now()
	p.track(order)
	p.sink.Publish(telemetry.NewOrderEvent(telemetry.KindOrderRejected, *order, p.clock.Now()))
	p.logger.Warn("order rejected",
		zap.String("order_id", order.ID),
		zap.String("bot_id", order.BotID),
		zap.String("symbol", order.Symbol),
		zap.String("reason", reason))
	return order
}

func (p *Pipeline) track(order *types.Order) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.orders[order.ID]; exists {
		return
	}
	p.orders[order.ID] = &tracked{order: order}
	if order.ClientOrderID != "" {
		p.byClientID[order.ClientOrderID] = order.ID
	}
}

// recordSubmission books the trade and updates compliance state. Filled
// orders record at the fill price; open orders at the gated price.
func (p *Pipeline) recordSubmission(order *types.Order, price decimal.Decimal) {
	recordPrice := price
	if order.Status == types.OrderStatusFilled && order.AvgFillPrice.IsPositive() {
		recordPrice = order.AvgFillPrice
	}

	trade := types.Trade{
		ID:         utils.GenerateTradeID(),
		OrderID:    order.ID,
		BotID:      order.BotID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   order.Quantity,
		Price:      recordPrice,
		Commission: order.Commission,
		Strategy:   order.StrategyName,
		Broker:     order.BrokerName,
		ExecutedAt: p.clock.Now(),
	}
	p.mu.Lock()
	p.trades = append(p.trades, trade)
	p.mu.Unlock()

	if order.AccountID != "" {
		if mgr, ok := p.compliance.Get(order.BrokerName, order.AccountID); ok {
			for _, v := range mgr.RecordTrade(order.Symbol, order.Side, order.Quantity, recordPrice, trade.ExecutedAt) {
				p.sink.Publish(telemetry.NewViolationEvent(order.AccountID, v, p.clock.Now()))
			}
		}
	}
}

// Cancel cancels an open order at the broker. Already-terminal orders are a
// no-op success so double cancels stay idempotent.
func (p *Pipeline) Cancel(ctx context.Context, orderID string) (bool, error) {
	t, err := p.lookup(orderID)
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	if t.order.Status.Terminal() {
		t.mu.Unlock()
		return true, nil
	}
	brokerName := t.order.BrokerName
	brokerOrderID := t.order.ID
	t.mu.Unlock()

	handle, err := p.resolveBroker(brokerName)
	if err != nil {
		return false, err
	}
	callCtx, cancel := context.WithTimeout(ctx, brokerCallTimeout)
	defer cancel()
	if err := handle.CancelOrder(callCtx, brokerOrderID); err != nil {
		return false, errs.Wrap(err, errs.KindExternal, "orders", "cancel", "broker cancel failed")
	}

	t.mu.Lock()
	if !t.order.Status.Terminal() {
		t.order.Status = types.OrderStatusCancelled
		t.order.UpdatedAt = p.clock.Now()
	}
	t.mu.Unlock()

	p.logger.Info("order cancelled", zap.String("order_id", orderID))
	return true, nil
}

// Get returns a copy of the tracked order.
func (p *Pipeline) Get(orderID string) (*types.Order, error) {
	t, err := p.lookup(orderID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	copied := *t.order
	return &copied, nil
}

// Filter narrows OpenOrders; zero values match everything.
type Filter struct {
	BotID  string
	Symbol string
}

// OpenOrders returns copies of every non-terminal order matching the filter.
func (p *Pipeline) OpenOrders(filter Filter) []*types.Order {
	p.mu.Lock()
	ids := make([]*tracked, 0, len(p.orders))
	for _, t := range p.orders {
		ids = append(ids, t)
	}
	p.mu.Unlock()

	var out []*types.Order
	for _, t := range ids {
		t.mu.Lock()
		o := *t.order
		t.mu.Unlock()
		if o.Status.Terminal() {
			continue
		}
		if filter.BotID != "" && o.BotID != filter.BotID {
			continue
		}
		if filter.Symbol != "" && o.Symbol != filter.Symbol {
			continue
		}
		out = append(out, &o)
	}
	return out
}

// Trades returns a copy of the trade log, oldest first.
func (p *Pipeline) Trades() []types.Trade {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Trade(nil), p.trades...)
}

// SubmittedToday returns the throttle counter for the current business day.
func (p *Pipeline) SubmittedToday() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submittedToday
}

func (p *Pipeline) lookup(orderID string) (*tracked, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.orders[orderID]
	if !ok {
		if id, found := p.byClientID[orderID]; found {
			if t, ok = p.orders[id]; ok {
				return t, nil
			}
		}
		return nil, errs.Wrap(errs.ErrNotFound, errs.KindClient, "orders", "lookup", "order "+orderID)
	}
	return t, nil
}

// HandleFill applies a broker execution to its order. Transitions that would
// move the status backwards are dropped and logged; a terminal fill feeds
// the downstream consumers exactly once.
func (p *Pipeline) HandleFill(fill types.Fill) {
	key := fill.OrderID
	if key == "" {
		key = fill.ClientOrderID
	}
	t, err := p.lookup(key)
	if err != nil {
		p.logger.Warn("fill for unknown order dropped",
			zap.String("order_id", fill.OrderID),
			zap.String("client_order_id", fill.ClientOrderID))
		return
	}

	t.mu.Lock()
	order := t.order

	prevFilled := order.FilledQty
	newFilled := prevFilled.Add(fill.Quantity)
	if newFilled.GreaterThan(order.Quantity) {
		newFilled = order.Quantity
	}

	next := types.OrderStatusPartiallyFilled
	if newFilled.GreaterThanOrEqual(order.Quantity) {
		next = types.OrderStatusFilled
	}
	if !order.Status.CanTransition(next) {
		t.mu.Unlock()
		err := errs.New(errs.KindInternal, "orders", "handle_fill",
			fmt.Sprintf("dropped non-monotone transition %s -> %s for order %s", order.Status, next, order.ID))
		p.logger.Error("fill dropped", zap.Error(err))
		return
	}

	// Volume-weighted average across partial fills.
	if newFilled.IsPositive() {
		applied := newFilled.Sub(prevFilled)
		order.AvgFillPrice = order.AvgFillPrice.Mul(prevFilled).
			Add(fill.Price.Mul(applied)).
			Div(newFilled)
	}
	order.FilledQty = newFilled
	order.Commission = order.Commission.Add(fill.Commission)
	order.Status = next
	order.UpdatedAt = p.clock.Now()

	terminal := next == types.OrderStatusFilled && !t.recorded
	if terminal {
		t.recorded = true
		at := fill.Timestamp
		order.FilledAt = &at
	}
	snapshot := *order
	t.mu.Unlock()

	if terminal {
		p.finishTracked(snapshot)
	}
}

// finishFill handles orders the broker reported filled synchronously at
// submit time.
func (p *Pipeline) finishFill(order *types.Order) {
	t, err := p.lookup(order.ID)
	if err != nil {
		return
	}
	t.mu.Lock()
	if t.recorded {
		t.mu.Unlock()
		return
	}
	t.recorded = true
	if t.order.FilledAt == nil {
		at := p.clock.Now()
		t.order.FilledAt = &at
	}
	snapshot := *t.order
	t.mu.Unlock()

	p.finishTracked(snapshot)
}

// finishTracked feeds a terminally filled order to fees, the optimizer hook,
// and telemetry.
func (p *Pipeline) finishTracked(order types.Order) {
	trade := types.Trade{
		ID:         utils.GenerateTradeID(),
		OrderID:    order.ID,
		BotID:      order.BotID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   order.FilledQty,
		Price:      order.AvgFillPrice,
		Commission: order.Commission,
		PnL:        p.realize(order),
		Strategy:   order.StrategyName,
		Broker:     order.BrokerName,
		ExecutedAt: p.clock.Now(),
	}
	if order.FilledAt != nil {
		trade.ExecutedAt = *order.FilledAt
	}

	if p.fees != nil {
		p.fees.Record(order.BotID, trade)
	}

	p.hookMu.RLock()
	hook := p.fillHook
	p.hookMu.RUnlock()
	if hook != nil {
		hook(order.BotID, trade)
	}

	p.sink.Publish(telemetry.NewOrderEvent(telemetry.KindOrderFilled, order, p.clock.Now()))
	p.logger.Info("order filled",
		zap.String("order_id", order.ID),
		zap.String("symbol", order.Symbol),
		zap.String("filled_qty", order.FilledQty.String()),
		zap.String("avg_price", order.AvgFillPrice.String()))
}

// realize books the fill into the cost ledger and returns the realized PnL.
// The submission-time trade log entry is backfilled with the fill price and
// the realized amount.
func (p *Pipeline) realize(order types.Order) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()

	pnl := p.ledger.apply(positionKey(order), order.Side, order.FilledQty, order.AvgFillPrice)
	for i := len(p.trades) - 1; i >= 0; i-- {
		if p.trades[i].OrderID == order.ID {
			p.trades[i].Price = order.AvgFillPrice
			p.trades[i].PnL = pnl
			break
		}
	}
	return pnl
}

func positionKey(order types.Order) string {
	return order.BrokerName + "/" + order.AccountID + "/" + order.Symbol
}

// ConsumeFills drains a broker's execution channel into HandleFill until the
// channel closes or ctx is cancelled. Run one per connected broker.
func (p *Pipeline) ConsumeFills(ctx context.Context, b broker.Broker) {
	for {
		select {
		case <-ctx.Done():
			return
		case fill, ok := <-b.Fills():
			if !ok {
				return
			}
			p.HandleFill(fill)
		}
	}
}
