// Package twap 把订单意图切分为定时切片并逐片执行。
package twap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"market-maker-twap/internal/risk"
	"market-maker-twap/order"
)

var (
	// ErrCircuitOpen 后端熔断中，切片快速失败
	ErrCircuitOpen = risk.ErrCircuitOpen
	// ErrUnknownOrder 订单不存在
	ErrUnknownOrder = errors.New("unknown twap order")
	// ErrSchedulerClosed 调度器已停止，不再接收新订单
	ErrSchedulerClosed = errors.New("scheduler closed")
	// ErrOrderFinished 订单已进入终态
	ErrOrderFinished = errors.New("twap order already finished")
)

// Fill 后端返回的切片成交结果
type Fill struct {
	ExecutedPrice float64
	ExecutedSize  float64
	Fees          float64
	Reference     string
}

// Backend 订单执行后端。核心不自动重试失败的切片。
type Backend interface {
	ExecutePart(ctx context.Context, dir order.Direction, size, targetPrice float64) (Fill, error)
}

// ExecutionError 切片执行失败
type ExecutionError struct {
	Reason    string
	PartIndex int
	Err       error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("part %d execution failed: %s: %v", e.PartIndex, e.Reason, e.Err)
	}
	return fmt.Sprintf("part %d execution failed: %s", e.PartIndex, e.Reason)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// PartSpec 单个切片
type PartSpec struct {
	Index         int
	Size          float64
	ScheduledTime time.Time
	TargetPrice   float64
	Status        order.PartStatus

	ExecutedPrice float64
	ExecutedSize  float64
	Fees          float64
	ExecutedAt    time.Time
	Reference     string
	Error         string
}

// Plan 一个 TWAP 订单的执行计划与状态
type Plan struct {
	Intent      order.Intent
	Status      order.Status
	Parts       []PartSpec
	Skew        float64
	StartTime   time.Time
	EndTime     time.Time
	CompletedAt time.Time
	Reason      string
}

// Clone 深拷贝，调用方拿到的计划与调度器内部状态互不影响
func (p Plan) Clone() Plan {
	out := p
	out.Parts = append([]PartSpec(nil), p.Parts...)
	return out
}

// TotalSize 所有切片数量之和
func (p Plan) TotalSize() float64 {
	sizes := make([]float64, len(p.Parts))
	for i, part := range p.Parts {
		sizes[i] = part.Size
	}
	return p.Intent.TotalSize - order.Remainder(p.Intent.TotalSize, sizes)
}

// Stats 订单结束时的汇总统计
type Stats struct {
	OrderID       string
	Direction     order.Direction
	Status        order.Status
	ExecutedSize  float64
	AvgPrice      float64 // Σ(price·size)/Σsize
	TotalFees     float64
	PartsExecuted int
	PartsFailed   int
	PartsSkipped  int
	Elapsed       time.Duration
}

// Stats 根据切片计算汇总
func (p Plan) Stats() Stats {
	st := Stats{OrderID: p.Intent.ID, Direction: p.Intent.Direction, Status: p.Status}
	var notional float64
	for _, part := range p.Parts {
		switch part.Status {
		case order.PartExecuted:
			st.PartsExecuted++
			st.ExecutedSize += part.ExecutedSize
			notional += part.ExecutedPrice * part.ExecutedSize
			st.TotalFees += part.Fees
		case order.PartFailed:
			st.PartsFailed++
		case order.PartSkipped:
			st.PartsSkipped++
		}
	}
	if st.ExecutedSize > 0 {
		st.AvgPrice = notional / st.ExecutedSize
	}
	if !p.CompletedAt.IsZero() {
		st.Elapsed = p.CompletedAt.Sub(p.StartTime)
	}
	return st
}
