// Package types provides shared type definitions for the trading engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentType represents the asset class a bot trades.
type InstrumentType string

const (
	InstrumentStock     InstrumentType = "stock"
	InstrumentOptions   InstrumentType = "options"
	InstrumentFutures   InstrumentType = "futures"
	InstrumentCrypto    InstrumentType = "crypto"
	InstrumentCommodity InstrumentType = "commodity"
)

// AccountType represents the regulatory account category.
type AccountType string

const (
	AccountCash   AccountType = "cash"
	AccountMargin AccountType = "margin"
	AccountIRA    AccountType = "ira"
	AccountPaper  AccountType = "paper"
)

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType represents the type of order
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// OrderStatus represents the status of an order
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// statusRank orders statuses along the lifecycle so that regressions
// (e.g. filled back to submitted) can be detected and dropped.
var statusRank = map[OrderStatus]int{
	OrderStatusPending:         0,
	OrderStatusSubmitted:       1,
	OrderStatusPartiallyFilled: 2,
	OrderStatusFilled:          3,
	OrderStatusCancelled:       3,
	OrderStatusRejected:        3,
	OrderStatusExpired:         3,
}

// CanTransition reports whether moving from s to next preserves the
// monotone order lifecycle.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s.Terminal() {
		return false
	}
	return statusRank[next] >= statusRank[s]
}

// Timeframe represents bar aggregation intervals.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe1d  Timeframe = "1d"
)

// Duration returns the bar interval. Unknown timeframes default to one minute.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// OHLCV represents a single bar.
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Quote represents a level-1 market quote.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	BidSize   decimal.Decimal `json:"bidSize"`
	AskSize   decimal.Decimal `json:"askSize"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
}

// SignalKind represents the directional verdict of a strategy.
type SignalKind string

const (
	SignalStrongBuy  SignalKind = "strong_buy"
	SignalBuy        SignalKind = "buy"
	SignalHold       SignalKind = "hold"
	SignalSell       SignalKind = "sell"
	SignalStrongSell SignalKind = "strong_sell"
)

// Direction returns +1 for bullish kinds, -1 for bearish, 0 for hold.
func (k SignalKind) Direction() int {
	switch k {
	case SignalStrongBuy, SignalBuy:
		return 1
	case SignalSell, SignalStrongSell:
		return -1
	}
	return 0
}

// Signal represents a trading signal produced by a strategy. Signals live
// inside one bot cycle and are never persisted.
type Signal struct {
	Symbol       string          `json:"symbol"`
	Kind         SignalKind      `json:"kind"`
	StrategyName string          `json:"strategyName"`
	Strength     decimal.Decimal `json:"strength"`   // 0..1
	Confidence   decimal.Decimal `json:"confidence"` // 0..1
	EntryPrice   decimal.Decimal `json:"entryPrice,omitempty"`
	StopLoss     decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit   decimal.Decimal `json:"takeProfit,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	GeneratedAt  time.Time       `json:"generatedAt"`
}

// Actionable reports whether the signal can drive an order.
func (s *Signal) Actionable() bool {
	if s == nil || s.Kind == SignalHold {
		return false
	}
	return s.Strength.Mul(s.Confidence).IsPositive()
}

// Order represents a trading order.
type Order struct {
	ID            string          `json:"id"`
	ClientOrderID string          `json:"clientOrderId,omitempty"`
	BotID         string          `json:"botId,omitempty"`
	AccountID     string          `json:"accountId,omitempty"`
	Symbol        string          `json:"symbol"`
	Side          OrderSide       `json:"side"`
	Type          OrderType       `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	LimitPrice    decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice     decimal.Decimal `json:"stopPrice,omitempty"`
	Status        OrderStatus     `json:"status"`
	FilledQty     decimal.Decimal `json:"filledQty"`
	AvgFillPrice  decimal.Decimal `json:"avgFillPrice"`
	Commission    decimal.Decimal `json:"commission"`
	StrategyName  string          `json:"strategyName,omitempty"`
	BrokerName    string          `json:"brokerName,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	FilledAt      *time.Time      `json:"filledAt,omitempty"`
}

// Fill represents an execution pushed by a broker adapter.
type Fill struct {
	OrderID       string          `json:"orderId"`
	ClientOrderID string          `json:"clientOrderId,omitempty"`
	Symbol        string          `json:"symbol"`
	Side          OrderSide       `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	Commission    decimal.Decimal `json:"commission"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Position represents a broker-held position. Positions are materialized on
// read; the engine never owns them.
type Position struct {
	AccountID        string          `json:"accountId"`
	Symbol           string          `json:"symbol"`
	Quantity         decimal.Decimal `json:"quantity"` // signed
	AvgCost          decimal.Decimal `json:"avgCost"`
	CurrentPrice     decimal.Decimal `json:"currentPrice"`
	MarketValue      decimal.Decimal `json:"marketValue"`
	UnrealizedPnL    decimal.Decimal `json:"unrealizedPnl"`
	UnrealizedPnLPct decimal.Decimal `json:"unrealizedPnlPct"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Trade represents an executed trade recorded by the pipeline.
type Trade struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"orderId"`
	BotID      string          `json:"botId,omitempty"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	PnL        decimal.Decimal `json:"pnl"`
	Strategy   string          `json:"strategy,omitempty"`
	Broker     string          `json:"broker,omitempty"`
	ExecutedAt time.Time       `json:"executedAt"`
}

// AccountSnapshot represents the broker view of an account used by the
// compliance and risk gates.
type AccountSnapshot struct {
	AccountID             string          `json:"accountId"`
	Type                  AccountType     `json:"type"`
	Equity                decimal.Decimal `json:"equity"`
	BuyingPower           decimal.Decimal `json:"buyingPower"`
	SettledBuyingPower    decimal.Decimal `json:"settledBuyingPower"`
	DayTradingBuyingPower decimal.Decimal `json:"dayTradingBuyingPower"`
	PatternDayTrader      bool            `json:"patternDayTrader"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// BotState is the lifecycle state of a bot instance.
type BotState string

const (
	BotStateCreated  BotState = "created"
	BotStateStarting BotState = "starting"
	BotStateRunning  BotState = "running"
	BotStatePaused   BotState = "paused"
	BotStateStopping BotState = "stopping"
	BotStateStopped  BotState = "stopped"
	BotStateError    BotState = "error"
)

// BotStats are the per-bot runtime counters. A copy is returned in every
// status snapshot; the bot owns the mutable instance.
type BotStats struct {
	CyclesCompleted  int64           `json:"cyclesCompleted"`
	SignalsGenerated int64           `json:"signalsGenerated"`
	OrdersSubmitted  int64           `json:"ordersSubmitted"`
	OrdersRejected   int64           `json:"ordersRejected"`
	TradesToday      int64           `json:"tradesToday"`
	DailyPnL         decimal.Decimal `json:"dailyPnl"`
	ErrorsCount      int64           `json:"errorsCount"`
	LastError        string          `json:"lastError,omitempty"`
	LastCycleAt      time.Time       `json:"lastCycleAt"`
}

// BotSnapshot is a consistent point-in-time view of one bot.
type BotSnapshot struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	State     BotState  `json:"state"`
	Config    BotConfig `json:"config"`
	Stats     BotStats  `json:"stats"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// BotSummary is the lightweight listing view of a bot.
type BotSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	State       BotState `json:"state"`
	Symbols     []string `json:"symbols"`
	Strategies  []string `json:"strategies"`
	TradesToday int64    `json:"tradesToday"`
}

// Trend classifies recent performance direction.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendNeutral   Trend = "neutral"
)

// PerformanceMetrics summarizes a bot's realized performance over a window.
type PerformanceMetrics struct {
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	WinRate       float64         `json:"win_rate"`
	ProfitFactor  float64         `json:"profit_factor"`
	AvgWin        decimal.Decimal `json:"avg_win"`
	AvgLoss       decimal.Decimal `json:"avg_loss"`
	MaxDrawdown   decimal.Decimal `json:"max_drawdown"`
	SharpeRatio   float64         `json:"sharpe_ratio"`
	Trend         Trend           `json:"trend"`
	ComputedAt    time.Time       `json:"computed_at"`
}

// AdjustmentType classifies an optimizer parameter change.
type AdjustmentType string

const (
	AdjustmentIncrease AdjustmentType = "increase"
	AdjustmentDecrease AdjustmentType = "decrease"
	AdjustmentReset    AdjustmentType = "reset"
	AdjustmentNoChange AdjustmentType = "no_change"
)

// ParameterAdjustment records one optimizer write to a bot parameter.
type ParameterAdjustment struct {
	ParameterName     string              `json:"parameter_name"`
	OldValue          float64             `json:"old_value"`
	NewValue          float64             `json:"new_value"`
	AdjustmentType    AdjustmentType      `json:"adjustment_type"`
	Reason            string              `json:"reason"`
	Timestamp         time.Time           `json:"timestamp"`
	PerformanceBefore *PerformanceMetrics `json:"performance_before,omitempty"`
	PerformanceAfter  *PerformanceMetrics `json:"performance_after,omitempty"`
}

// TradeResult is the optimizer's view of one closed trade.
type TradeResult struct {
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	PnL        decimal.Decimal `json:"pnl"`
	Strategy   string          `json:"strategy,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// DayTrade records a same-day round trip for PDT accounting. Dates are
// normalized to midnight UTC.
type DayTrade struct {
	Symbol    string          `json:"symbol"`
	TradeDate time.Time       `json:"trade_date"`
	BuyTime   time.Time       `json:"buy_time"`
	SellTime  time.Time       `json:"sell_time"`
	Quantity  decimal.Decimal `json:"quantity"`
	BuyPrice  decimal.Decimal `json:"buy_price"`
	SellPrice decimal.Decimal `json:"sell_price"`
}

// PnL returns the realized profit of the round trip.
func (d DayTrade) PnL() decimal.Decimal {
	return d.SellPrice.Sub(d.BuyPrice).Mul(d.Quantity)
}

// UnsettledPosition tracks cash-account purchases awaiting settlement.
type UnsettledPosition struct {
	Symbol         string          `json:"symbol"`
	Quantity       decimal.Decimal `json:"quantity"`
	PurchaseDate   time.Time       `json:"purchase_date"`
	SettlementDate time.Time       `json:"settlement_date"`
	CostBasis      decimal.Decimal `json:"cost_basis"`
}

// TradeHistoryEntry is the per-symbol record used for wash-sale detection.
type TradeHistoryEntry struct {
	Side      OrderSide       `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// ViolationSeverity grades a compliance violation.
type ViolationSeverity string

const (
	SeverityInfo     ViolationSeverity = "info"
	SeverityWarning  ViolationSeverity = "warning"
	SeverityCritical ViolationSeverity = "critical"
)

// ComplianceAction is the gate outcome attached to a violation.
type ComplianceAction string

const (
	ActionAllow   ComplianceAction = "allow"
	ActionWarn    ComplianceAction = "warn"
	ActionConfirm ComplianceAction = "confirm"
	ActionBlock   ComplianceAction = "block"
	ActionStopDay ComplianceAction = "stop_day"
)

var actionRank = map[ComplianceAction]int{
	ActionAllow:   0,
	ActionWarn:    1,
	ActionConfirm: 2,
	ActionBlock:   3,
	ActionStopDay: 4,
}

// Stronger reports whether a dominates b in the aggregation order.
func (a ComplianceAction) Stronger(b ComplianceAction) bool {
	return actionRank[a] > actionRank[b]
}

// ViolationKind names the rule a violation came from.
type ViolationKind string

const (
	ViolationPDT          ViolationKind = "pdt"
	ViolationGoodFaith    ViolationKind = "good_faith"
	ViolationFreeriding   ViolationKind = "freeriding"
	ViolationDTBP         ViolationKind = "dtbp"
	ViolationWashSale     ViolationKind = "wash_sale"
	ViolationRestricted   ViolationKind = "restricted"
	ViolationTradingStop  ViolationKind = "trading_stopped"
	ViolationInvalidState ViolationKind = "invalid_state"
)

// ComplianceViolation describes one triggered rule.
type ComplianceViolation struct {
	Kind        ViolationKind     `json:"kind"`
	Severity    ViolationSeverity `json:"severity"`
	Action      ComplianceAction  `json:"action"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Regulation  string            `json:"regulation,omitempty"`
	Details     map[string]any    `json:"details,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// CheckResult is the outcome of a pre-trade compliance check.
type CheckResult struct {
	Allowed              bool                  `json:"allowed"`
	Action               ComplianceAction      `json:"action"`
	Violations           []ComplianceViolation `json:"violations,omitempty"`
	Warnings             []string              `json:"warnings,omitempty"`
	RequiresConfirmation bool                  `json:"requiresConfirmation"`
	StopTrading          bool                  `json:"stopTrading"`
}
