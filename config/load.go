package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"market-maker-twap/gateway"
	"market-maker-twap/infrastructure/logger"
	"market-maker-twap/internal/engine"
	"market-maker-twap/internal/risk"
	"market-maker-twap/internal/strategy"
	"market-maker-twap/internal/twap"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env        string                    `yaml:"env"`
	Log        logger.Config             `yaml:"log"`
	Model      strategy.ModelParams      `yaml:"model"`
	Volatility strategy.VolatilityConfig `yaml:"volatility"`
	Risk       risk.Limits               `yaml:"risk"`
	Breaker    risk.CircuitBreakerConfig `yaml:"circuit_breaker"`
	TWAP       twap.Config               `yaml:"twap"`
	Engine     engine.Config             `yaml:"engine"`
	Paper      gateway.PaperConfig       `yaml:"paper"`
	Market     MarketConfig              `yaml:"market"`
	Alert      AlertConfig               `yaml:"alert"`
	Metrics    MetricsConfig             `yaml:"metrics"`
	Journal    JournalConfig             `yaml:"journal"`
	HotReload  HotReloadConfig           `yaml:"hot_reload"`
}

// MarketConfig 行情来源。StaticMid > 0 时使用固定报价（纸面交易/演练）。
type MarketConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	OutlierTolerance float64       `yaml:"outlier_tolerance"` // 偏离中位数的比例，0.02 = 2%
	HistorySize      int           `yaml:"history_size"`
	StaticMid        float64       `yaml:"static_mid"`
	StaticSpread     float64       `yaml:"static_spread"`
	StaticVolume     float64       `yaml:"static_volume"`
	Feeds            []FeedConfig  `yaml:"feeds"`
}

// FeedConfig WebSocket ticker 源
type FeedConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

type AlertConfig struct {
	MinLevel         string        `yaml:"min_level"`
	ThrottleInterval time.Duration `yaml:"throttle_interval"`
	Console          bool          `yaml:"console"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

type JournalConfig struct {
	Path string `yaml:"path"` // 为空表示不落盘
}

type HotReloadConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Cooldown time.Duration `yaml:"cooldown"`
}

// Default 返回可直接运行的纸面交易配置
func Default() AppConfig {
	return AppConfig{
		Env:        "paper",
		Log:        logger.DefaultConfig(),
		Model:      strategy.DefaultModelParams(),
		Volatility: strategy.DefaultVolatilityConfig(),
		Risk:       risk.DefaultLimits(),
		Breaker: risk.CircuitBreakerConfig{
			Threshold:      5,
			Timeout:        30 * time.Second,
			HalfOpenMaxTry: 3,
		},
		TWAP:   twap.DefaultConfig(),
		Engine: engine.DefaultConfig(),
		Paper:  gateway.DefaultPaperConfig(),
		Market: MarketConfig{
			PollInterval:     time.Second,
			OutlierTolerance: 0.02,
			HistorySize:      500,
			StaticMid:        3400,
			StaticSpread:     0.0004,
			StaticVolume:     5e8,
		},
		Alert: AlertConfig{
			MinLevel:         "info",
			ThrottleInterval: time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Addr:      ":9090",
			Namespace: "mm",
		},
		HotReload: HotReloadConfig{
			Enabled:  true,
			Cooldown: 5 * time.Second,
		},
	}
}

// Load reads YAML config from path on top of Default() and validates it.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then applies MM_* env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	ApplyEnv(&cfg)
	return cfg, Validate(cfg)
}

// ApplyEnv 环境变量覆盖
func ApplyEnv(cfg *AppConfig) {
	if v := os.Getenv("MM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MM_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv("MM_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
}
