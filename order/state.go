package order

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidOrder 调用方提交的订单意图不合法（不改变任何状态）。
var ErrInvalidOrder = errors.New("invalid order")

// Direction 订单方向。
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Sign 返回对基础资产仓位的符号：买入 +1，卖出 -1。
func (d Direction) Sign() float64 {
	if d == Sell {
		return -1
	}
	return 1
}

// Opposite 返回反方向。
func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

func (d Direction) Valid() bool {
	return d == Buy || d == Sell
}

// Intent 订单意图：交给 TWAP 调度器的不可变输入。
type Intent struct {
	ID          string
	Direction   Direction
	TotalSize   float64
	TargetPrice float64
	Duration    time.Duration
	MaxParts    int
	Source      string // "auto" / "manual"
	CreatedAt   time.Time
}

// NewIntent 生成带唯一 ID 的订单意图。
func NewIntent(dir Direction, size, target float64, duration time.Duration, parts int) Intent {
	return Intent{
		ID:          uuid.New().String(),
		Direction:   dir,
		TotalSize:   size,
		TargetPrice: target,
		Duration:    duration,
		MaxParts:    parts,
		CreatedAt:   time.Now(),
	}
}

// Validate 校验意图字段。
func (in Intent) Validate() error {
	if in.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidOrder)
	}
	if !in.Direction.Valid() {
		return fmt.Errorf("%w: direction %q", ErrInvalidOrder, in.Direction)
	}
	// NaN 与任何数比较都为 false，需要显式排除
	if !(in.TotalSize > 0) || math.IsInf(in.TotalSize, 0) {
		return fmt.Errorf("%w: totalSize must be finite and > 0, got %f", ErrInvalidOrder, in.TotalSize)
	}
	if !(in.TargetPrice >= 0) || math.IsInf(in.TargetPrice, 0) {
		return fmt.Errorf("%w: targetPrice must be >= 0, got %f", ErrInvalidOrder, in.TargetPrice)
	}
	if in.Duration <= 0 {
		return fmt.Errorf("%w: duration must be > 0, got %v", ErrInvalidOrder, in.Duration)
	}
	if in.MaxParts < 1 {
		return fmt.Errorf("%w: maxParts must be >= 1, got %d", ErrInvalidOrder, in.MaxParts)
	}
	return nil
}

// Rejection 订单被拒绝的记录（风控拒单或计划生成失败）。
type Rejection struct {
	Intent    Intent
	Violation string // 风控约束名；非风控拒绝为空
	Reason    string
}
