// Package posttrade 成交后的 markout 分析：切片成交后 mid 往哪边走。
package posttrade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"market-maker-twap/internal/events"
	"market-maker-twap/internal/twap"
	"market-maker-twap/market"
	"market-maker-twap/order"
)

// FillRecord 一笔切片成交及其之后的 mid 观测
type FillRecord struct {
	OrderID   string
	PartIndex int
	Direction order.Direction
	FillPrice float64
	Size      float64
	FillTime  time.Time
	// MidAfter[i] 为 FillTime+Horizons[i] 之后第一笔行情的 mid，0 表示尚未观测
	MidAfter []float64
}

// Markout 方向调整后的相对收益：买入后涨、卖出后跌为正
func (r FillRecord) Markout(i int) (float64, bool) {
	if i >= len(r.MidAfter) || r.MidAfter[i] == 0 || r.FillPrice == 0 {
		return 0, false
	}
	return r.Direction.Sign() * (r.MidAfter[i] - r.FillPrice) / r.FillPrice, true
}

func (r FillRecord) complete() bool {
	for _, m := range r.MidAfter {
		if m == 0 {
			return false
		}
	}
	return true
}

// Stats contains statistics computed by the analyzer
type Stats struct {
	TotalFills    int
	AnalyzedFills int
	// AdverseSelectionRate 第一个观测点 markout < 0 的比例
	AdverseSelectionRate float64
	// AvgMarkout[i] 对应 Horizons[i]
	AvgMarkout []float64
}

// Analyzer 按切片记录成交，随行情推进补齐各观测点的 mid
type Analyzer struct {
	horizons []time.Duration
	maxAge   time.Duration

	mu    sync.RWMutex
	fills map[string]*FillRecord
	dirs  map[string]order.Direction // 运行中订单的方向
}

// NewAnalyzer horizons 为空时默认 1s/5s；maxAge 之前的成交在 Run 中清理
func NewAnalyzer(maxAge time.Duration, horizons ...time.Duration) *Analyzer {
	if len(horizons) == 0 {
		horizons = []time.Duration{time.Second, 5 * time.Second}
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &Analyzer{
		horizons: append([]time.Duration(nil), horizons...),
		maxAge:   maxAge,
		fills:    make(map[string]*FillRecord),
		dirs:     make(map[string]order.Direction),
	}
}

// Horizons 观测点
func (a *Analyzer) Horizons() []time.Duration {
	return append([]time.Duration(nil), a.horizons...)
}

func key(orderID string, idx int) string {
	return fmt.Sprintf("%s/%d", orderID, idx)
}

// Handle 事件总线处理函数。OrderStarted 提供方向，PartExecuted 记录成交。
func (a *Analyzer) Handle(e events.Event) {
	switch e.Type {
	case events.OrderStarted:
		if plan, ok := e.Data.(twap.Plan); ok {
			a.mu.Lock()
			a.dirs[e.OrderID] = plan.Intent.Direction
			a.mu.Unlock()
		}
	case events.OrderCompleted, events.OrderFailed, events.OrderCancelled:
		a.mu.Lock()
		delete(a.dirs, e.OrderID)
		a.mu.Unlock()
	case events.PartExecuted:
		part, ok := e.Data.(twap.PartSpec)
		if !ok || part.ExecutedPrice <= 0 {
			return
		}
		a.mu.RLock()
		dir, known := a.dirs[e.OrderID]
		a.mu.RUnlock()
		if !known {
			return
		}
		fillTime := part.ExecutedAt
		if fillTime.IsZero() {
			fillTime = e.Time
		}
		a.OnFill(FillRecord{
			OrderID:   e.OrderID,
			PartIndex: part.Index,
			Direction: dir,
			FillPrice: part.ExecutedPrice,
			Size:      part.ExecutedSize,
			FillTime:  fillTime,
		})
	}
}

// OnFill records a filled slice
func (a *Analyzer) OnFill(r FillRecord) {
	r.MidAfter = make([]float64, len(a.horizons))
	a.mu.Lock()
	a.fills[key(r.OrderID, r.PartIndex)] = &r
	a.mu.Unlock()
}

// Observe 用一笔行情补齐已到期的观测点
func (a *Analyzer) Observe(s market.Snapshot) {
	if s.Mid <= 0 {
		return
	}
	at := s.Time()
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.fills {
		for i, h := range a.horizons {
			if r.MidAfter[i] == 0 && !at.Before(r.FillTime.Add(h)) {
				r.MidAfter[i] = s.Mid
			}
		}
	}
}

// Run 消费行情并定期清理旧记录，直到 ctx 结束
func (a *Analyzer) Run(ctx context.Context, updates <-chan market.Snapshot) error {
	ticker := time.NewTicker(a.maxAge / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-updates:
			if !ok {
				return nil
			}
			a.Observe(s)
		case now := <-ticker.C:
			a.CleanOldRecords(now, a.maxAge)
		}
	}
}

// Record 按切片查询
func (a *Analyzer) Record(orderID string, idx int) (FillRecord, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.fills[key(orderID, idx)]
	if !ok {
		return FillRecord{}, false
	}
	out := *r
	out.MidAfter = append([]float64(nil), r.MidAfter...)
	return out, true
}

// Stats computes and returns statistics over fills with every horizon observed
func (a *Analyzer) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := Stats{
		TotalFills: len(a.fills),
		AvgMarkout: make([]float64, len(a.horizons)),
	}

	var adverse int
	for _, r := range a.fills {
		if !r.complete() {
			continue
		}
		stats.AnalyzedFills++
		for i := range a.horizons {
			m, _ := r.Markout(i)
			stats.AvgMarkout[i] += m
			if i == 0 && m < 0 {
				adverse++
			}
		}
	}

	if stats.AnalyzedFills > 0 {
		n := float64(stats.AnalyzedFills)
		stats.AdverseSelectionRate = float64(adverse) / n
		for i := range stats.AvgMarkout {
			stats.AvgMarkout[i] /= n
		}
	}
	return stats
}

// CleanOldRecords removes fills older than maxAge
func (a *Analyzer) CleanOldRecords(now time.Time, maxAge time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for id, record := range a.fills {
		if now.Sub(record.FillTime) > maxAge {
			delete(a.fills, id)
		}
	}
}
