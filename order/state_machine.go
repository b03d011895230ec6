package order

import (
	"fmt"
)

// Status TWAP 订单整体状态。
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// PartStatus 单个切片状态。
type PartStatus string

const (
	PartPending  PartStatus = "pending"
	PartExecuted PartStatus = "executed"
	PartFailed   PartStatus = "failed"
	PartSkipped  PartStatus = "skipped"
)

// IsFinal 切片是否已进入终态。
func (s PartStatus) IsFinal() bool {
	return s == PartExecuted || s == PartFailed || s == PartSkipped
}

// IsFinal 订单是否已进入终态。
func (s Status) IsFinal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

type statusTransition struct {
	From Status
	To   Status
}

// orderTransitions 订单合法状态转换；终态不能再转换。
var orderTransitions = map[statusTransition]bool{
	{StatusPending, StatusActive}:    true,
	{StatusPending, StatusFailed}:    true,
	{StatusPending, StatusCancelled}: true,

	{StatusActive, StatusCompleted}: true,
	{StatusActive, StatusFailed}:    true,
	{StatusActive, StatusCancelled}: true,
}

// ValidateTransition 验证订单状态转换是否合法。
func ValidateTransition(from, to Status) error {
	if orderTransitions[statusTransition{from, to}] {
		return nil
	}
	return fmt.Errorf("illegal order transition: %s -> %s", from, to)
}

// ValidatePartTransition 切片只允许 pending -> {executed|failed|skipped}，且只发生一次。
func ValidatePartTransition(from, to PartStatus) error {
	if from != PartPending {
		return fmt.Errorf("illegal part transition: %s -> %s (part already final)", from, to)
	}
	if !to.IsFinal() {
		return fmt.Errorf("illegal part transition: %s -> %s", from, to)
	}
	return nil
}

// AllowedTransitions 返回当前状态所有合法的目标状态
func AllowedTransitions(current Status) []Status {
	allowed := make([]Status, 0, 3)
	for _, to := range []Status{StatusActive, StatusCompleted, StatusFailed, StatusCancelled} {
		if orderTransitions[statusTransition{current, to}] {
			allowed = append(allowed, to)
		}
	}
	return allowed
}

// Describe 获取状态描述
func Describe(status Status) string {
	descriptions := map[Status]string{
		StatusPending:   "订单待调度",
		StatusActive:    "订单执行中",
		StatusCompleted: "订单已完成",
		StatusFailed:    "订单失败",
		StatusCancelled: "订单已撤销",
	}
	if desc, ok := descriptions[status]; ok {
		return desc
	}
	return "未知状态"
}
