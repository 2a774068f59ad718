// Package config loads the engine configuration document. Values come from
// a YAML file (default: engine.yaml) layered under ENGINE_* environment
// overrides; a missing file means defaults. Broker and data-source secrets
// never live in the document, only in the environment.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/quantfleet/engine/internal/errs"
	"github.com/quantfleet/engine/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Load reads the configuration from path. An empty path searches for
// engine.yaml in the working directory and ./configs, falling back to
// defaults when nothing is found; an explicit path must exist.
func Load(path string) (*types.EngineConfig, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errs.Wrap(err, errs.KindClient, "config", "load", path)
		}
	} else {
		v.SetConfigName("engine")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errs.Wrap(err, errs.KindClient, "config", "load", "reading engine.yaml")
			}
		}
	}

	cfg := types.DefaultEngineConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, errs.Wrap(err, errs.KindClient, "config", "load", "decoding configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errs.Wrap(err, errs.KindClient, "config", "load", "invalid configuration")
	}
	return cfg, nil
}

// applyDefaults registers every key with viper so environment overrides
// surface during Unmarshal even without a config file.
func applyDefaults(v *viper.Viper) {
	def := types.DefaultEngineConfig()

	v.SetDefault("trading_mode", string(def.TradingMode))
	v.SetDefault("default_broker", def.DefaultBroker)
	v.SetDefault("max_position_size", def.MaxPositionSize.String())
	v.SetDefault("max_portfolio_pct", def.MaxPortfolioPct.String())
	v.SetDefault("daily_loss_limit_pct", def.DailyLossLimitPct.String())
	v.SetDefault("weekly_loss_limit_pct", def.WeeklyLossLimitPct.String())
	v.SetDefault("max_drawdown_pct", def.MaxDrawdownPct.String())
	v.SetDefault("vix_pause_threshold", def.VIXPauseThreshold.String())
	v.SetDefault("vix_extreme_threshold", def.VIXExtremeThreshold.String())
	v.SetDefault("max_open_positions", def.MaxOpenPositions)
	v.SetDefault("max_orders_per_day", def.MaxOrdersPerDay)
	v.SetDefault("evaluation_interval_minutes", def.EvaluationIntervalMinutes)
	v.SetDefault("mcp_enabled", def.MCPEnabled)
	v.SetDefault("max_bots", def.MaxBots)
	v.SetDefault("database_url", def.DatabaseURL)

	v.SetDefault("server.host", def.Server.Host)
	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("server.websocket_path", def.Server.WebSocketPath)
	v.SetDefault("server.read_timeout", def.Server.ReadTimeout.String())
	v.SetDefault("server.write_timeout", def.Server.WriteTimeout.String())
	v.SetDefault("server.enable_metrics", def.Server.EnableMetrics)

	v.SetDefault("telegram.enabled", def.Telegram.Enabled)
	v.SetDefault("telegram.chat_id", def.Telegram.ChatID)
}

// decodeHooks recreates viper's default hooks plus decimal decoding, since
// supplying any hook replaces the defaults.
func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		toDecimalHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

func toDecimalHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != decimalType || from == decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("config: %q is not a decimal: %w", v, err)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	default:
		return data, nil
	}
}

// Redacted renders the configuration for logs with the opaque broker and
// data-source blocks reduced to their key names.
func Redacted(cfg *types.EngineConfig) map[string]interface{} {
	brokers := make([]string, 0, len(cfg.BrokerConfigs))
	for name := range cfg.BrokerConfigs {
		brokers = append(brokers, name)
	}
	sources := make([]string, 0, len(cfg.DataSourceConfigs))
	for name := range cfg.DataSourceConfigs {
		sources = append(sources, name)
	}
	return map[string]interface{}{
		"trading_mode":                cfg.TradingMode,
		"default_broker":              cfg.DefaultBroker,
		"max_bots":                    cfg.MaxBots,
		"max_orders_per_day":          cfg.MaxOrdersPerDay,
		"evaluation_interval_minutes": cfg.EvaluationIntervalMinutes,
		"server_addr":                 fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"telegram_enabled":            cfg.Telegram.Enabled,
		"brokers":                     brokers,
		"data_sources":                sources,
	}
}

// EvaluationInterval converts the configured minutes to a duration.
func EvaluationInterval(cfg *types.EngineConfig) time.Duration {
	return time.Duration(cfg.EvaluationIntervalMinutes) * time.Minute
}
