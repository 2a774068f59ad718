package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantfleet/engine/pkg/types"
	"github.com/shopspring/decimal"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	wd := t.TempDir()
	old, _ := os.Getwd()
	if err := os.Chdir(wd); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(old) })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TradingMode != types.ModePaper {
		t.Errorf("trading mode = %s, want paper", cfg.TradingMode)
	}
	if cfg.MaxBots != 25 || cfg.Server.Port != 8090 {
		t.Errorf("defaults not applied: max_bots=%d port=%d", cfg.MaxBots, cfg.Server.Port)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
trading_mode: paper
default_broker: paper
max_bots: 8
max_orders_per_day: 50
max_position_size: "2500.50"
server:
  host: 0.0.0.0
  port: 9000
  read_timeout: 30s
telegram:
  enabled: true
  chat_id: 12345
broker_configs:
  alpaca:
    base_url: https://paper-api.example.com
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxBots != 8 {
		t.Errorf("max_bots = %d, want 8", cfg.MaxBots)
	}
	if cfg.MaxOrdersPerDay != 50 {
		t.Errorf("max_orders_per_day = %d, want 50", cfg.MaxOrdersPerDay)
	}
	if !cfg.MaxPositionSize.Equal(decimal.NewFromFloat(2500.50)) {
		t.Errorf("max_position_size = %s, want 2500.50", cfg.MaxPositionSize)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9000 {
		t.Errorf("server = %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("read_timeout = %s, want 30s", cfg.Server.ReadTimeout)
	}
	if !cfg.Telegram.Enabled || cfg.Telegram.ChatID != 12345 {
		t.Errorf("telegram = %+v", cfg.Telegram)
	}
	if cfg.BrokerConfigs["alpaca"]["base_url"] == "" {
		t.Error("broker config block lost")
	}
	// Untouched keys keep their defaults.
	if cfg.EvaluationIntervalMinutes != 30 {
		t.Errorf("evaluation_interval_minutes = %d, want default 30", cfg.EvaluationIntervalMinutes)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "max_bots: 8\n")
	t.Setenv("ENGINE_MAX_BOTS", "3")
	t.Setenv("ENGINE_SERVER_PORT", "9999")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxBots != 3 {
		t.Errorf("max_bots = %d, want env override 3", cfg.MaxBots)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("server port = %d, want env override 9999", cfg.Server.Port)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad mode":     "trading_mode: turbo\n",
		"zero bots":    "max_bots: 0\n",
		"zero orders":  "max_orders_per_day: 0\n",
		"vix inverted": "vix_pause_threshold: 60\nvix_extreme_threshold: 50\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing explicit file accepted")
	}
}

func TestRedactedOmitsSecrets(t *testing.T) {
	cfg := types.DefaultEngineConfig()
	cfg.BrokerConfigs = map[string]map[string]string{
		"alpaca": {"api_key_env": "ALPACA_KEY"},
	}
	out := Redacted(cfg)
	brokers, ok := out["brokers"].([]string)
	if !ok || len(brokers) != 1 || brokers[0] != "alpaca" {
		t.Errorf("brokers = %v", out["brokers"])
	}
	for k := range out {
		if k == "broker_configs" {
			t.Error("raw broker configs leaked into log view")
		}
	}
}
