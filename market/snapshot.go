package market

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoData 数据源当前无可用报价。
	ErrNoData = errors.New("market data unavailable")
	// ErrOutOfOrder 快照时间戳倒退。
	ErrOutOfOrder = errors.New("market snapshot out of order")
)

// Snapshot represents an immutable market observation.
// BidAskSpread and PriceChange24h are fractions of mid (0.01 == 1%).
type Snapshot struct {
	Mid            float64
	Timestamp      int64 // unix ms
	Volatility     float64
	Volume24h      float64
	PriceChange24h float64
	BidAskSpread   float64
	Source         string
}

// Time 返回快照时间。
func (s Snapshot) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// Age 返回快照相对 now 的年龄。
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Time())
}

// Validate 检查快照字段。
func (s Snapshot) Validate() error {
	if s.Mid <= 0 {
		return fmt.Errorf("mid price must be > 0, got %f", s.Mid)
	}
	if s.Timestamp <= 0 {
		return fmt.Errorf("timestamp must be > 0, got %d", s.Timestamp)
	}
	if s.Volatility < 0 {
		return fmt.Errorf("volatility must be >= 0, got %f", s.Volatility)
	}
	if s.BidAskSpread < 0 {
		return fmt.Errorf("bid/ask spread must be >= 0, got %f", s.BidAskSpread)
	}
	return nil
}
