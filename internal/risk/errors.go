package risk

import (
	"errors"
	"fmt"
)

var (
	// ErrRiskRejected 订单被风控拒绝（预期内、非致命）
	ErrRiskRejected = errors.New("risk rejected")
	// ErrEmergencyStop 紧急停止中，需人工重置
	ErrEmergencyStop = errors.New("emergency stop active")
	// ErrTradingPaused 交易暂停中，需人工恢复
	ErrTradingPaused = errors.New("trading paused")
	// ErrStaleData 行情过期，下个周期重试
	ErrStaleData = errors.New("stale market data")
	// ErrMarketCondition 市场状况不满足交易条件
	ErrMarketCondition = errors.New("market condition")
	// ErrCircuitOpen 执行后端熔断中
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Violation 被违反的风控约束
type Violation string

const (
	ViolationEmergencyStop Violation = "emergency_stop"
	ViolationTradingPaused Violation = "trading_paused"
	ViolationOrderSize     Violation = "order_size"
	ViolationPositionSize  Violation = "position_size"
	ViolationDailyLoss     Violation = "daily_loss"
	ViolationSpread        Violation = "spread"
	ViolationStaleData     Violation = "stale_data"
	ViolationFlashCrash    Violation = "flash_crash"
	ViolationSlippage      Violation = "slippage"
)

// RejectError 指明第一个被违反的约束
type RejectError struct {
	Violation Violation
	Detail    string
}

func reject(v Violation, format string, args ...any) *RejectError {
	return &RejectError{Violation: v, Detail: fmt.Sprintf(format, args...)}
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("risk rejected [%s]: %s", e.Violation, e.Detail)
}

// Unwrap 同时匹配 ErrRiskRejected 与类别错误
func (e *RejectError) Unwrap() []error {
	errs := []error{ErrRiskRejected}
	switch e.Violation {
	case ViolationEmergencyStop:
		errs = append(errs, ErrEmergencyStop)
	case ViolationTradingPaused:
		errs = append(errs, ErrTradingPaused)
	case ViolationStaleData:
		errs = append(errs, ErrStaleData)
	case ViolationSpread, ViolationFlashCrash:
		errs = append(errs, ErrMarketCondition)
	}
	return errs
}

// ViolationOf 提取违规类型；非风控错误返回空串
func ViolationOf(err error) Violation {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Violation
	}
	return ""
}
