package strategy

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// PriceSample 价格样本
type PriceSample struct {
	Price     float64
	Timestamp time.Time
}

// VolatilityConfig 波动率估计器配置
type VolatilityConfig struct {
	Decay          float64       `yaml:"decay"`           // EWMA衰减系数 λ（RiskMetrics 0.94）
	SampleInterval time.Duration `yaml:"sample_interval"` // 采样间隔，用于年化
	Blend          float64       `yaml:"blend"`           // 新估计的权重（0.1 = 10%新 / 90%旧）
	Seed           float64       `yaml:"seed"`            // 初始年化波动率
	Min            float64       `yaml:"min"`             // 年化波动率下限
	Max            float64       `yaml:"max"`             // 年化波动率上限
	MinSamples     int           `yaml:"min_samples"`     // 少于该样本数时返回种子值
	SampleSize     int           `yaml:"sample_size"`     // 保留的样本数量
}

// DefaultVolatilityConfig 返回默认配置
func DefaultVolatilityConfig() VolatilityConfig {
	return VolatilityConfig{
		Decay:          0.94,
		SampleInterval: 5 * time.Second,
		Blend:          0.1,
		Seed:           0.2,
		Min:            0.01,
		Max:            1.0,
		MinSamples:     2,
		SampleSize:     500,
	}
}

// Validate 检查配置
func (c VolatilityConfig) Validate() error {
	if c.Decay <= 0 || c.Decay >= 1 {
		return fmt.Errorf("%w: decay must be in (0,1), got %f", ErrInvalidParameter, c.Decay)
	}
	if c.SampleInterval <= 0 {
		return fmt.Errorf("%w: sample interval must be > 0", ErrInvalidParameter)
	}
	if c.Blend <= 0 || c.Blend > 1 {
		return fmt.Errorf("%w: blend must be in (0,1], got %f", ErrInvalidParameter, c.Blend)
	}
	if c.Min < 0 || c.Max <= c.Min {
		return fmt.Errorf("%w: volatility band [%f,%f]", ErrInvalidParameter, c.Min, c.Max)
	}
	if c.Seed < 0 {
		return fmt.Errorf("%w: seed volatility must be >= 0", ErrInvalidParameter)
	}
	return nil
}

// PeriodsPerYear 按采样间隔计算年化周期数
func (c VolatilityConfig) PeriodsPerYear() float64 {
	return 365 * 24 * time.Hour.Seconds() / c.SampleInterval.Seconds()
}

// VolatilityEstimator 基于对数收益率的EWMA波动率估计器
type VolatilityEstimator struct {
	mu       sync.RWMutex
	cfg      VolatilityConfig
	samples  []PriceSample // 环形缓冲区
	next     int
	count    int
	observed int
	last     float64
	lastTs   time.Time
	variance float64 // 单周期方差
	sigma    float64 // 平滑后的年化波动率
}

// NewVolatilityEstimator 创建波动率估计器
func NewVolatilityEstimator(cfg VolatilityConfig) (*VolatilityEstimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 500
	}
	if cfg.MinSamples < 2 {
		cfg.MinSamples = 2
	}
	seed := clamp(cfg.Seed, cfg.Min, cfg.Max)
	return &VolatilityEstimator{
		cfg:      cfg,
		samples:  make([]PriceSample, cfg.SampleSize),
		sigma:    seed,
		variance: seed * seed / cfg.PeriodsPerYear(),
	}, nil
}

// Update 加入新的价格观测并返回当前年化波动率
func (v *VolatilityEstimator) Update(price float64, ts time.Time) (float64, error) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, fmt.Errorf("%w: price must be positive, got %f", ErrInvalidParameter, price)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.observed > 0 && ts.Before(v.lastTs) {
		return 0, fmt.Errorf("%w: observation at %s is before last sample %s",
			ErrInvalidParameter, ts.Format(time.RFC3339Nano), v.lastTs.Format(time.RFC3339Nano))
	}

	v.samples[v.next] = PriceSample{Price: price, Timestamp: ts}
	v.next = (v.next + 1) % len(v.samples)
	if v.count < len(v.samples) {
		v.count++
	}
	v.observed++

	if v.last > 0 {
		r := math.Log(price / v.last)
		v.variance = v.cfg.Decay*v.variance + (1-v.cfg.Decay)*r*r
	}
	v.last = price
	v.lastTs = ts

	// 样本不足时保持种子值
	if v.observed < v.cfg.MinSamples {
		return v.sigma, nil
	}

	annualized := math.Sqrt(v.variance * v.cfg.PeriodsPerYear())
	blended := v.cfg.Blend*annualized + (1-v.cfg.Blend)*v.sigma
	v.sigma = clamp(blended, v.cfg.Min, v.cfg.Max)
	return v.sigma, nil
}

// Current 返回当前年化波动率
func (v *VolatilityEstimator) Current() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.sigma
}

// GetVariance 获取当前单周期方差
func (v *VolatilityEstimator) GetVariance() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.variance
}

// GetSampleCount 获取保留的样本数量
func (v *VolatilityEstimator) GetSampleCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.count
}

// Samples 按时间顺序返回样本副本
func (v *VolatilityEstimator) Samples() []PriceSample {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]PriceSample, 0, v.count)
	start := (v.next - v.count + len(v.samples)) % len(v.samples)
	for i := 0; i < v.count; i++ {
		out = append(out, v.samples[(start+i)%len(v.samples)])
	}
	return out
}

// Reset 恢复到种子状态
func (v *VolatilityEstimator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	seed := clamp(v.cfg.Seed, v.cfg.Min, v.cfg.Max)
	v.sigma = seed
	v.variance = seed * seed / v.cfg.PeriodsPerYear()
	v.count, v.next, v.observed, v.last = 0, 0, 0, 0
	v.lastTs = time.Time{}
}

// GetStatistics 获取统计信息
func (v *VolatilityEstimator) GetStatistics() map[string]interface{} {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return map[string]interface{}{
		"annualized_volatility": v.sigma,
		"variance":              v.variance,
		"sample_count":          v.count,
		"observed":              v.observed,
		"decay":                 v.cfg.Decay,
	}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
