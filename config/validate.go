package config

import (
	"fmt"

	"go.uber.org/zap/zapcore"

	"market-maker-twap/infrastructure/alert"
)

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }

// Validate 逐段校验，返回第一个错误
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return ErrInvalid("env is required")
	}
	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if err := cfg.Model.Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if err := cfg.Volatility.Validate(); err != nil {
		return fmt.Errorf("volatility: %w", err)
	}
	if err := cfg.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if cfg.Breaker.Threshold < 0 || cfg.Breaker.Timeout < 0 || cfg.Breaker.HalfOpenMaxTry < 0 {
		return ErrInvalid("circuit_breaker values must be >= 0")
	}
	if err := cfg.TWAP.Validate(); err != nil {
		return fmt.Errorf("twap: %w", err)
	}
	if err := cfg.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := ValidateParams(cfg); err != nil {
		return err
	}
	if _, err := alert.ParseLevel(cfg.Alert.MinLevel); err != nil {
		return fmt.Errorf("alert.min_level: %w", err)
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return ErrInvalid("metrics.addr is required when metrics are enabled")
	}
	return nil
}

// ValidateParams 跨段的数值约束
func ValidateParams(cfg AppConfig) error {
	if cfg.Paper.SlippageBps < 0 || cfg.Paper.FeeBps < 0 {
		return ErrInvalid("paper.slippage_bps/fee_bps must be >= 0")
	}
	if cfg.Paper.InitialBase < 0 || cfg.Paper.InitialQuote < 0 {
		return ErrInvalid("paper initial balances must be >= 0")
	}
	if cfg.Market.PollInterval <= 0 {
		return ErrInvalid("market.poll_interval must be > 0")
	}
	if cfg.Market.OutlierTolerance < 0 {
		return ErrInvalid("market.outlier_tolerance must be >= 0")
	}
	if cfg.Market.StaticMid <= 0 && len(cfg.Market.Feeds) == 0 {
		return ErrInvalid("market.static_mid or market.feeds is required")
	}
	for i, f := range cfg.Market.Feeds {
		if f.URL == "" {
			return ErrInvalid(fmt.Sprintf("market.feeds[%d].url is required", i))
		}
	}
	// 单个切片上限不应超过单笔订单上限
	if m := cfg.TWAP.Constraints.MaxSize; m > 0 && m > cfg.Risk.MaxOrderSize {
		return ErrInvalid("twap.constraints.max_size must be <= risk.max_order_size")
	}
	if cfg.Engine.BaseOrderSize > cfg.Risk.MaxOrderSize {
		return ErrInvalid("engine.base_order_size must be <= risk.max_order_size")
	}
	return nil
}
