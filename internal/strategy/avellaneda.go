package strategy

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidParameter 模型参数非法（构造期致命错误）
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrInvalidTimeRange 要求 0 <= t <= T
	ErrInvalidTimeRange = errors.New("invalid time range")
)

const (
	// 库存调整上限为波动率的 10%
	inventoryAdjustmentScale = 0.1
	// 报价不偏离 mid 超过 5%
	maxQuoteDeviation = 0.05
)

// ModelParams Avellaneda-Stoikov 模型参数
type ModelParams struct {
	RiskAversion     float64 `yaml:"risk_aversion"`     // γ
	Liquidity        float64 `yaml:"liquidity"`         // k，订单簿流动性
	ArrivalIntensity float64 `yaml:"arrival_intensity"` // A，订单到达强度
	Horizon          float64 `yaml:"horizon"`           // T
	TargetInventory  float64 `yaml:"target_inventory"`  // q_target
}

// DefaultModelParams 返回默认参数
func DefaultModelParams() ModelParams {
	return ModelParams{
		RiskAversion:     0.1,
		Liquidity:        1.5,
		ArrivalIntensity: 140,
		Horizon:          1.0,
	}
}

// Validate 参数检查
func (p ModelParams) Validate() error {
	if !(p.RiskAversion > 0) {
		return fmt.Errorf("%w: riskAversion must be > 0, got %v", ErrInvalidParameter, p.RiskAversion)
	}
	if !(p.Liquidity > 0) {
		return fmt.Errorf("%w: liquidity k must be > 0, got %v", ErrInvalidParameter, p.Liquidity)
	}
	if !(p.ArrivalIntensity > 0) {
		return fmt.Errorf("%w: arrivalIntensity A must be > 0, got %v", ErrInvalidParameter, p.ArrivalIntensity)
	}
	if !(p.Horizon > 0) {
		return fmt.Errorf("%w: horizon T must be > 0, got %v", ErrInvalidParameter, p.Horizon)
	}
	return nil
}

// Quote 一次报价结果，生成后不再修改
type Quote struct {
	Mid                 float64
	Inventory           float64
	Volatility          float64
	ReservationPrice    float64
	OptimalSpread       float64
	BidPrice            float64
	AskPrice            float64
	BidIntensity        float64
	AskIntensity        float64
	InventoryAdjustment float64
	GeneratedAt         time.Time
}

// Spread 实际报价价差
func (q Quote) Spread() float64 {
	return q.AskPrice - q.BidPrice
}

// SkewFactor 库存调整相对上限的比例，范围 [-1, 1]
func (q Quote) SkewFactor() float64 {
	limit := q.Volatility * inventoryAdjustmentScale
	if limit == 0 {
		return 0
	}
	return clamp(q.InventoryAdjustment/limit, -1, 1)
}

// ComputeQuote 纯函数形式的 Avellaneda-Stoikov 报价计算。
//
//	r = S - γσ²(T-t)q/2
//	δ = γσ²(T-t) + (2/γ)ln(1+γ/k)
//	adj = tanh(2(q-q*))·σ·0.1
//	bid = r - δ/2 - adj, ask = r + δ/2 + adj
func ComputeQuote(p ModelParams, sigma, mid, q, t, horizon float64) (Quote, error) {
	if err := p.Validate(); err != nil {
		return Quote{}, err
	}
	if !(mid > 0) || math.IsInf(mid, 0) {
		return Quote{}, fmt.Errorf("%w: mid price must be > 0, got %v", ErrInvalidParameter, mid)
	}
	if sigma < 0 || math.IsNaN(sigma) {
		return Quote{}, fmt.Errorf("%w: volatility must be >= 0, got %v", ErrInvalidParameter, sigma)
	}
	if math.IsNaN(q) {
		return Quote{}, fmt.Errorf("%w: inventory is NaN", ErrInvalidParameter)
	}
	if !(t >= 0) || !(t <= horizon) {
		return Quote{}, fmt.Errorf("%w: t=%v T=%v", ErrInvalidTimeRange, t, horizon)
	}

	gamma := p.RiskAversion
	variance := sigma * sigma
	tau := horizon - t

	reservation := mid - (gamma*variance*tau*q)/2
	spread := gamma*variance*tau + (2/gamma)*math.Log(1+gamma/p.Liquidity)
	adj := math.Tanh(2*(q-p.TargetInventory)) * (sigma * inventoryAdjustmentScale)

	bid := reservation - spread/2 - adj
	ask := reservation + spread/2 + adj

	// 安全边界：不偏离 mid 超过 5%
	if lo := mid * (1 - maxQuoteDeviation); bid < lo {
		bid = lo
	}
	if hi := mid * (1 + maxQuoteDeviation); ask > hi {
		ask = hi
	}
	// bid <= r <= ask 始终成立
	if bid > reservation {
		bid = reservation
	}
	if ask < reservation {
		ask = reservation
	}

	return Quote{
		Mid:                 mid,
		Inventory:           q,
		Volatility:          sigma,
		ReservationPrice:    reservation,
		OptimalSpread:       spread,
		BidPrice:            bid,
		AskPrice:            ask,
		BidIntensity:        p.ArrivalIntensity * math.Exp(-p.Liquidity*(mid-bid)),
		AskIntensity:        p.ArrivalIntensity * math.Exp(-p.Liquidity*(ask-mid)),
		InventoryAdjustment: adj,
	}, nil
}

// PricingModel 绑定参数与波动率估计器的报价引擎
type PricingModel struct {
	params ModelParams
	vol    *VolatilityEstimator
	now    func() time.Time
}

// NewPricingModel 构造时校验参数，非法参数拒绝启动
func NewPricingModel(params ModelParams, vol *VolatilityEstimator) (*PricingModel, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if vol == nil {
		var err error
		if vol, err = NewVolatilityEstimator(DefaultVolatilityConfig()); err != nil {
			return nil, err
		}
	}
	return &PricingModel{params: params, vol: vol, now: time.Now}, nil
}

// SetClock 替换时间源（测试用）
func (m *PricingModel) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

func (m *PricingModel) Params() ModelParams { return m.params }
func (m *PricingModel) Volatility() *VolatilityEstimator { return m.vol }

// Observe 把新的 mid 价送入波动率估计器
func (m *PricingModel) Observe(mid float64, ts time.Time) (float64, error) {
	return m.vol.Update(mid, ts)
}

// ComputeQuote 使用当前波动率估计计算报价
func (m *PricingModel) ComputeQuote(mid, q, t, horizon float64) (Quote, error) {
	quote, err := ComputeQuote(m.params, m.vol.Current(), mid, q, t, horizon)
	if err != nil {
		return Quote{}, err
	}
	quote.GeneratedAt = m.now()
	return quote, nil
}
