package risk

import (
	"sync"
	"time"
)

// PnLMetrics PnL指标数据
type PnLMetrics struct {
	RealizedPnL    float64 // 累计已实现盈亏
	DailyPnL       float64 // 当日盈亏
	PortfolioValue float64 // 最近一次组合价值
	PeakValue      float64 // 组合价值峰值（单调不减）
	Drawdown       float64 // 当前回撤 (peak-current)/peak
	MaxDrawdown    float64 // 历史最大回撤
	LastResetDate  string  // YYYY-MM-DD
}

// PnLTracker 跟踪日内盈亏、组合峰值与回撤
type PnLTracker struct {
	mu sync.RWMutex

	realized    float64
	daily       float64
	value       float64
	peak        float64
	maxDrawdown float64
	resetDate   string
}

// NewPnLTracker 创建PnL跟踪器
func NewPnLTracker(initialValue float64, now time.Time) *PnLTracker {
	return &PnLTracker{
		value:     initialValue,
		peak:      initialValue,
		resetDate: dateKey(now),
	}
}

// Record 记录一笔已实现盈亏与最新组合价值
func (p *PnLTracker) Record(pnl, portfolioValue float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.realized += pnl
	p.daily += pnl
	if portfolioValue > 0 {
		p.value = portfolioValue
	}
	if p.value > p.peak {
		p.peak = p.value
	}
	if dd := p.drawdown(); dd > p.maxDrawdown {
		p.maxDrawdown = dd
	}
}

func (p *PnLTracker) drawdown() float64 {
	if p.peak <= 0 {
		return 0
	}
	return (p.peak - p.value) / p.peak
}

// Drawdown 当前回撤
func (p *PnLTracker) Drawdown() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.drawdown()
}

// DailyPnL 当日盈亏
func (p *PnLTracker) DailyPnL() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.daily
}

// ResetIfNewDay 日期变化时清零日内盈亏，返回是否发生了重置
func (p *PnLTracker) ResetIfNewDay(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := dateKey(now)
	if key == p.resetDate {
		return false
	}
	p.daily = 0
	p.resetDate = key
	return true
}

// GetMetrics 获取当前PnL指标
func (p *PnLTracker) GetMetrics() PnLMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PnLMetrics{
		RealizedPnL:    p.realized,
		DailyPnL:       p.daily,
		PortfolioValue: p.value,
		PeakValue:      p.peak,
		Drawdown:       p.drawdown(),
		MaxDrawdown:    p.maxDrawdown,
		LastResetDate:  p.resetDate,
	}
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
