package market

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Source 行情提供者。无报价时返回 ErrNoData。
type Source interface {
	Name() string
	Current(ctx context.Context) (Snapshot, error)
}

// DefaultOutlierTolerance 偏离中位数超过 2% 的报价被丢弃。
const DefaultOutlierTolerance = 0.02

// Aggregator 并发查询多个提供者，剔除离群值后取算术平均。
type Aggregator struct {
	sources   []Source
	tolerance float64
}

func NewAggregator(tolerance float64, sources ...Source) *Aggregator {
	if tolerance <= 0 {
		tolerance = DefaultOutlierTolerance
	}
	return &Aggregator{sources: sources, tolerance: tolerance}
}

func (a *Aggregator) Name() string {
	return fmt.Sprintf("aggregate(%d)", len(a.sources))
}

// Current 聚合所有可用提供者的报价。
func (a *Aggregator) Current(ctx context.Context) (Snapshot, error) {
	results := make([]Snapshot, len(a.sources))
	ok := make([]bool, len(a.sources))

	var wg sync.WaitGroup
	for i, src := range a.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			s, err := src.Current(ctx)
			if err != nil || s.Validate() != nil {
				return
			}
			results[i] = s
			ok[i] = true
		}(i, src)
	}
	wg.Wait()

	valid := make([]Snapshot, 0, len(results))
	for i, s := range results {
		if ok[i] {
			valid = append(valid, s)
		}
	}
	return Aggregate(valid, a.tolerance)
}

// Aggregate 以中位数为基准剔除离群报价，返回幸存者的均值快照。
func Aggregate(quotes []Snapshot, tolerance float64) (Snapshot, error) {
	if len(quotes) == 0 {
		return Snapshot{}, ErrNoData
	}
	median := medianMid(quotes)

	var (
		out   Snapshot
		n     float64
		names []string
	)
	for _, q := range quotes {
		if math.Abs(q.Mid-median)/median > tolerance {
			continue
		}
		out.Mid += q.Mid
		out.Volatility += q.Volatility
		out.PriceChange24h += q.PriceChange24h
		out.BidAskSpread += q.BidAskSpread
		if q.Volume24h > out.Volume24h {
			out.Volume24h = q.Volume24h
		}
		if q.Timestamp > out.Timestamp {
			out.Timestamp = q.Timestamp
		}
		names = append(names, q.Source)
		n++
	}
	if n == 0 {
		return Snapshot{}, ErrNoData
	}
	out.Mid /= n
	out.Volatility /= n
	out.PriceChange24h /= n
	out.BidAskSpread /= n
	out.Source = fmt.Sprintf("aggregate%v", names)
	return out, nil
}

func medianMid(quotes []Snapshot) float64 {
	mids := make([]float64, len(quotes))
	for i, q := range quotes {
		mids[i] = q.Mid
	}
	sort.Float64s(mids)
	m := len(mids) / 2
	if len(mids)%2 == 1 {
		return mids[m]
	}
	return (mids[m-1] + mids[m]) / 2
}

// StaticSource 返回固定快照，供测试与 CLI 使用。
type StaticSource struct {
	mu   sync.RWMutex
	name string
	snap Snapshot
	err  error
	now  func() time.Time
}

func NewStaticSource(name string, snap Snapshot) *StaticSource {
	return &StaticSource{name: name, snap: snap}
}

func (s *StaticSource) Name() string { return s.name }

// Stamped 每次读取都用 now 重写时间戳，固定报价也不会过期（纸面交易）。
func (s *StaticSource) Stamped(now func() time.Time) *StaticSource {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

func (s *StaticSource) Set(snap Snapshot, err error) {
	s.mu.Lock()
	s.snap, s.err = snap, err
	s.mu.Unlock()
}

func (s *StaticSource) Current(ctx context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return Snapshot{}, s.err
	}
	if s.snap.Mid <= 0 {
		return Snapshot{}, ErrNoData
	}
	snap := s.snap
	if s.now != nil {
		snap.Timestamp = s.now().UnixMilli()
	}
	if snap.Source == "" {
		snap.Source = s.name
	}
	return snap, nil
}
