package optimizer

// Direction states what the optimizer is allowed to do with a parameter.
type Direction string

const (
	MinimizeLoss   Direction = "minimize_loss"
	MaximizeProfit Direction = "maximize_profit"
	Optimize       Direction = "optimize"
)

// ParamSpec bounds one adjustable parameter. Writes outside [Min, Max] are
// clamped, never rejected.
type ParamSpec struct {
	Min       float64
	Max       float64
	Direction Direction
}

// paramTable is the closed set of parameters the optimizer may touch.
// Anything not listed here is off limits regardless of what a strategy
// exposes.
var paramTable = map[string]ParamSpec{
	"stop_loss_pct":             {Min: 0.5, Max: 10, Direction: MinimizeLoss},
	"take_profit_pct":           {Min: 1, Max: 20, Direction: MaximizeProfit},
	"position_size_pct":         {Min: 1, Max: 25, Direction: Optimize},
	"max_positions":             {Min: 1, Max: 20, Direction: Optimize},
	"rsi_oversold":              {Min: 20, Max: 40, Direction: Optimize},
	"rsi_overbought":            {Min: 60, Max: 80, Direction: Optimize},
	"ma_fast_period":            {Min: 5, Max: 50, Direction: Optimize},
	"ma_slow_period":            {Min: 20, Max: 200, Direction: Optimize},
	"momentum_threshold":        {Min: 0.5, Max: 5, Direction: Optimize},
	"volume_threshold":          {Min: 0.5, Max: 5, Direction: Optimize},
	"min_confidence":            {Min: 0.1, Max: 0.95, Direction: Optimize},
	"signal_strength_threshold": {Min: 0.1, Max: 0.9, Direction: Optimize},
}

// Spec looks up the bounds for a parameter name.
func Spec(name string) (ParamSpec, bool) {
	spec, ok := paramTable[name]
	return spec, ok
}

// Mode selects how aggressively the optimizer adjusts.
type Mode string

const (
	ModeConservative Mode = "conservative"
	ModeModerate     Mode = "moderate"
	ModeAggressive   Mode = "aggressive"
)

// ModeConfig is the tuning envelope for one mode.
type ModeConfig struct {
	MaxAdjustmentPct     float64 `json:"max_adjustment_pct"`
	MinTrades            int     `json:"min_trades"`
	CooldownMinutes      int     `json:"cooldown_minutes"`
	MaxAdjustmentsPerDay int     `json:"max_adjustments_per_day"`

	MinWinRate          float64 `json:"min_win_rate"`
	TargetWinRate       float64 `json:"target_win_rate"`
	MinProfitFactor     float64 `json:"min_profit_factor"`
	MaxDrawdownPct      float64 `json:"max_drawdown_pct"`
	AnalysisWindowHours int     `json:"analysis_window_hours"`
	RevertOnWorse       bool    `json:"revert_on_worse"`
}

// ConfigForMode returns the preset for a mode. Unknown modes fall back to
// moderate.
func ConfigForMode(mode Mode) ModeConfig {
	cfg := ModeConfig{
		MinWinRate:          0.40,
		TargetWinRate:       0.55,
		MinProfitFactor:     1.2,
		MaxDrawdownPct:      10,
		AnalysisWindowHours: 24,
		RevertOnWorse:       true,
	}

	switch mode {
	case ModeConservative:
		cfg.MaxAdjustmentPct = 10
		cfg.MinTrades = 20
		cfg.CooldownMinutes = 60
		cfg.MaxAdjustmentsPerDay = 3
	case ModeAggressive:
		cfg.MaxAdjustmentPct = 35
		cfg.MinTrades = 5
		cfg.CooldownMinutes = 15
		cfg.MaxAdjustmentsPerDay = 10
	default:
		cfg.MaxAdjustmentPct = 20
		cfg.MinTrades = 10
		cfg.CooldownMinutes = 30
		cfg.MaxAdjustmentsPerDay = 5
	}
	return cfg
}
