// Package gateway 提供订单执行后端。PaperBackend 在本地模拟成交并维护余额。
package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"market-maker-twap/internal/twap"
	"market-maker-twap/inventory"
	"market-maker-twap/order"
)

// PaperConfig 模拟成交参数
type PaperConfig struct {
	SlippageBps  float64 `yaml:"slippage_bps"` // 相对目标价的不利滑点
	FeeBps       float64 `yaml:"fee_bps"`      // 按成交额收取
	AllowShort   bool    `yaml:"allow_short"`
	RateLimit    float64 `yaml:"rate_limit"` // 次/秒，0 表示不限
	Burst        int     `yaml:"burst"`
	InitialBase  float64 `yaml:"initial_base"`
	InitialQuote float64 `yaml:"initial_quote"`
}

// DefaultPaperConfig 返回默认配置
func DefaultPaperConfig() PaperConfig {
	return PaperConfig{
		SlippageBps:  2,
		FeeBps:       10,
		InitialBase:  1,
		InitialQuote: 10000,
	}
}

var bps = decimal.NewFromInt(10000)

// PaperBackend 实现 twap.Backend 与 inventory.BalanceProvider
type PaperBackend struct {
	cfg     PaperConfig
	limiter RateLimiter
	mid     func() float64 // 目标价为 0 时的参考价

	mu      sync.Mutex
	base    decimal.Decimal
	quote   decimal.Decimal
	seq     int64
	failErr error
}

// NewPaperBackend 创建模拟后端；mid 可为 nil
func NewPaperBackend(cfg PaperConfig, mid func() float64) *PaperBackend {
	p := &PaperBackend{
		cfg:   cfg,
		mid:   mid,
		base:  decimal.NewFromFloat(cfg.InitialBase),
		quote: decimal.NewFromFloat(cfg.InitialQuote),
	}
	if cfg.RateLimit > 0 {
		p.limiter = NewTokenBucketLimiter(cfg.RateLimit, cfg.Burst)
	}
	return p
}

// FailNext 下一次调用返回 err（演练用）
func (p *PaperBackend) FailNext(err error) {
	p.mu.Lock()
	p.failErr = err
	p.mu.Unlock()
}

// ExecutePart 按目标价加滑点成交，扣手续费
func (p *PaperBackend) ExecutePart(ctx context.Context, dir order.Direction, size, targetPrice float64) (twap.Fill, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return twap.Fill{}, &twap.ExecutionError{Reason: "rate limited", Err: err}
		}
	}
	if err := ctx.Err(); err != nil {
		return twap.Fill{}, &twap.ExecutionError{Reason: "context done", Err: err}
	}
	if !dir.Valid() || size <= 0 {
		return twap.Fill{}, &twap.ExecutionError{Reason: fmt.Sprintf("bad request %s %f", dir, size)}
	}

	price := targetPrice
	if price <= 0 && p.mid != nil {
		price = p.mid()
	}
	if price <= 0 {
		return twap.Fill{}, &twap.ExecutionError{Reason: "no reference price"}
	}

	qty := decimal.NewFromFloat(size)
	slip := decimal.NewFromFloat(p.cfg.SlippageBps).Div(bps)
	px := decimal.NewFromFloat(price)
	if dir == order.Buy {
		px = px.Mul(decimal.NewFromInt(1).Add(slip))
	} else {
		px = px.Mul(decimal.NewFromInt(1).Sub(slip))
	}
	notional := px.Mul(qty)
	fee := notional.Mul(decimal.NewFromFloat(p.cfg.FeeBps)).Div(bps)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.failErr; err != nil {
		p.failErr = nil
		return twap.Fill{}, &twap.ExecutionError{Reason: "injected failure", Err: err}
	}

	switch dir {
	case order.Buy:
		if p.quote.LessThan(notional.Add(fee)) {
			return twap.Fill{}, &twap.ExecutionError{Reason: fmt.Sprintf("insufficient quote balance %s < %s", p.quote, notional.Add(fee))}
		}
		p.base = p.base.Add(qty)
		p.quote = p.quote.Sub(notional).Sub(fee)
	case order.Sell:
		if !p.cfg.AllowShort && p.base.LessThan(qty) {
			return twap.Fill{}, &twap.ExecutionError{Reason: fmt.Sprintf("insufficient base balance %s < %s", p.base, qty)}
		}
		if p.quote.Add(notional).LessThan(fee) {
			return twap.Fill{}, &twap.ExecutionError{Reason: "insufficient quote balance for fee"}
		}
		p.base = p.base.Sub(qty)
		p.quote = p.quote.Add(notional).Sub(fee)
	}
	p.seq++

	execPrice, _ := px.Float64()
	fees, _ := fee.Float64()
	return twap.Fill{
		ExecutedPrice: execPrice,
		ExecutedSize:  size,
		Fees:          fees,
		Reference:     fmt.Sprintf("paper-%d", p.seq),
	}, nil
}

// Balances 当前模拟余额
func (p *PaperBackend) Balances(ctx context.Context) (inventory.State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	base, _ := p.base.Float64()
	quote, _ := p.quote.Float64()
	return inventory.State{Base: base, Quote: quote}, nil
}

// Fills 已成交切片数
func (p *PaperBackend) Fills() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}
