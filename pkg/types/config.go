// Package types provides configuration types for the trading engine.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradingMode selects live or paper execution.
type TradingMode string

const (
	ModePaper TradingMode = "paper"
	ModeLive  TradingMode = "live"
)

// BotConfig describes one bot's behavior. Mutations go through the bot's
// UpdateConfig surface and are whole-field replacements.
type BotConfig struct {
	Name                  string             `json:"name"`
	InstrumentType        InstrumentType     `json:"instrumentType"`
	Symbols               []string           `json:"symbols"`
	Strategies            []string           `json:"strategies"`
	StrategyWeights       map[string]float64 `json:"strategyWeights,omitempty"`
	MaxPositionSize       decimal.Decimal    `json:"maxPositionSize"`
	MaxPositions          int                `json:"maxPositions"`
	MaxDailyLossPct       decimal.Decimal    `json:"maxDailyLossPct"`
	TradeFrequencySeconds int                `json:"tradeFrequencySeconds"`
	Timeframe             Timeframe          `json:"timeframe"`
	Broker                string             `json:"broker,omitempty"`
	AccountID             string             `json:"accountId,omitempty"`
	// AutoConfirm controls the Confirm compliance outcome: false rejects
	// the order, true proceeds as if confirmed.
	AutoConfirm bool `json:"autoConfirm"`
	// Parameters is the optimizer-adjustable block (stop_loss_pct,
	// min_confidence, signal_strength_threshold, ...).
	Parameters map[string]float64 `json:"parameters,omitempty"`
}

// Validate checks the fields a bot cannot run without.
func (c *BotConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("bot config: name is required")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("bot config: at least one symbol is required")
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("bot config: at least one strategy is required")
	}
	if c.TradeFrequencySeconds <= 0 {
		return fmt.Errorf("bot config: trade_frequency_seconds must be positive")
	}
	for name, w := range c.StrategyWeights {
		if w < 0 || w > 1 {
			return fmt.Errorf("bot config: weight for %s out of [0,1]", name)
		}
	}
	return nil
}

// Clone returns a deep copy so config reads never alias bot-owned state.
func (c *BotConfig) Clone() BotConfig {
	out := *c
	out.Symbols = append([]string(nil), c.Symbols...)
	out.Strategies = append([]string(nil), c.Strategies...)
	if c.StrategyWeights != nil {
		out.StrategyWeights = make(map[string]float64, len(c.StrategyWeights))
		for k, v := range c.StrategyWeights {
			out.StrategyWeights[k] = v
		}
	}
	if c.Parameters != nil {
		out.Parameters = make(map[string]float64, len(c.Parameters))
		for k, v := range c.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}

// DefaultBotConfig returns a runnable stock-bot baseline.
func DefaultBotConfig(name string) BotConfig {
	return BotConfig{
		Name:                  name,
		InstrumentType:        InstrumentStock,
		Timeframe:             Timeframe5m,
		TradeFrequencySeconds: 60,
		MaxPositionSize:       decimal.NewFromInt(10000),
		MaxPositions:          5,
		MaxDailyLossPct:       decimal.NewFromFloat(2.0),
		AutoConfirm:           false,
		Parameters: map[string]float64{
			"position_size_pct":         5,
			"stop_loss_pct":             2,
			"take_profit_pct":           4,
			"min_confidence":            0.5,
			"signal_strength_threshold": 0.3,
		},
	}
}

// ServerConfig configures the HTTP/WebSocket control surface.
type ServerConfig struct {
	Host          string        `json:"host" mapstructure:"host"`
	Port          int           `json:"port" mapstructure:"port"`
	WebSocketPath string        `json:"websocketPath" mapstructure:"websocket_path"`
	ReadTimeout   time.Duration `json:"readTimeout" mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `json:"writeTimeout" mapstructure:"write_timeout"`
	EnableMetrics bool          `json:"enableMetrics" mapstructure:"enable_metrics"`
}

// TelegramConfig configures the optional critical-event notifier. The bot
// token is read from the TELEGRAM_BOT_TOKEN environment variable, never
// from this document.
type TelegramConfig struct {
	Enabled bool  `json:"enabled" mapstructure:"enabled"`
	ChatID  int64 `json:"chatId" mapstructure:"chat_id"`
}

// EngineConfig is the single configuration document recognized by the
// engine. Broker and data-source blocks are opaque to the core; secrets
// come from environment variables and are never logged.
type EngineConfig struct {
	TradingMode               TradingMode                  `json:"tradingMode" mapstructure:"trading_mode"`
	DefaultBroker             string                       `json:"defaultBroker" mapstructure:"default_broker"`
	MaxPositionSize           decimal.Decimal              `json:"maxPositionSize" mapstructure:"max_position_size"`
	MaxPortfolioPct           decimal.Decimal              `json:"maxPortfolioPct" mapstructure:"max_portfolio_pct"`
	DailyLossLimitPct         decimal.Decimal              `json:"dailyLossLimitPct" mapstructure:"daily_loss_limit_pct"`
	WeeklyLossLimitPct        decimal.Decimal              `json:"weeklyLossLimitPct" mapstructure:"weekly_loss_limit_pct"`
	MaxDrawdownPct            decimal.Decimal              `json:"maxDrawdownPct" mapstructure:"max_drawdown_pct"`
	VIXPauseThreshold         decimal.Decimal              `json:"vixPauseThreshold" mapstructure:"vix_pause_threshold"`
	VIXExtremeThreshold       decimal.Decimal              `json:"vixExtremeThreshold" mapstructure:"vix_extreme_threshold"`
	MaxOpenPositions          int                          `json:"maxOpenPositions" mapstructure:"max_open_positions"`
	MaxOrdersPerDay           int                          `json:"maxOrdersPerDay" mapstructure:"max_orders_per_day"`
	EvaluationIntervalMinutes int                          `json:"evaluationIntervalMinutes" mapstructure:"evaluation_interval_minutes"`
	MCPEnabled                bool                         `json:"mcpEnabled" mapstructure:"mcp_enabled"`
	MaxBots                   int                          `json:"maxBots" mapstructure:"max_bots"`
	DatabaseURL               string                       `json:"databaseUrl" mapstructure:"database_url"`
	Server                    ServerConfig                 `json:"server" mapstructure:"server"`
	Telegram                  TelegramConfig               `json:"telegram" mapstructure:"telegram"`
	BrokerConfigs             map[string]map[string]string `json:"brokerConfigs" mapstructure:"broker_configs"`
	DataSourceConfigs         map[string]map[string]string `json:"dataSourceConfigs" mapstructure:"data_source_configs"`
}

// DefaultEngineConfig returns conservative paper-mode defaults.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		TradingMode:               ModePaper,
		DefaultBroker:             "paper",
		MaxPositionSize:           decimal.NewFromInt(10000),
		MaxPortfolioPct:           decimal.NewFromInt(10),
		DailyLossLimitPct:         decimal.NewFromInt(3),
		WeeklyLossLimitPct:        decimal.NewFromInt(8),
		MaxDrawdownPct:            decimal.NewFromInt(10),
		VIXPauseThreshold:         decimal.NewFromInt(35),
		VIXExtremeThreshold:       decimal.NewFromInt(50),
		MaxOpenPositions:          20,
		MaxOrdersPerDay:           200,
		EvaluationIntervalMinutes: 30,
		MCPEnabled:                false,
		MaxBots:                   25,
		DatabaseURL:               "engine.db",
		Server: ServerConfig{
			Host:          "127.0.0.1",
			Port:          8090,
			WebSocketPath: "/ws",
			ReadTimeout:   15 * time.Second,
			WriteTimeout:  15 * time.Second,
			EnableMetrics: true,
		},
	}
}

// Validate rejects configurations the engine cannot start with.
func (c *EngineConfig) Validate() error {
	if c.TradingMode != ModePaper && c.TradingMode != ModeLive {
		return fmt.Errorf("config: trading_mode must be paper or live, got %q", c.TradingMode)
	}
	if c.DefaultBroker == "" {
		return fmt.Errorf("config: default_broker is required")
	}
	if c.MaxBots <= 0 {
		return fmt.Errorf("config: max_bots must be positive")
	}
	if c.MaxOrdersPerDay <= 0 {
		return fmt.Errorf("config: max_orders_per_day must be positive")
	}
	if c.EvaluationIntervalMinutes <= 0 {
		return fmt.Errorf("config: evaluation_interval_minutes must be positive")
	}
	if c.MaxPortfolioPct.IsNegative() || c.MaxPortfolioPct.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("config: max_portfolio_pct out of [0,100]")
	}
	if c.VIXExtremeThreshold.LessThan(c.VIXPauseThreshold) {
		return fmt.Errorf("config: vix_extreme_threshold below vix_pause_threshold")
	}
	return nil
}
