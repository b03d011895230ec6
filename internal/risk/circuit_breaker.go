package risk

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState 熔断器状态
type BreakerState int

const (
	// BreakerClosed 关闭状态 - 正常执行
	BreakerClosed BreakerState = iota
	// BreakerOpen 打开状态 - 快速失败
	BreakerOpen
	// BreakerHalfOpen 半开状态 - 试探恢复
	BreakerHalfOpen
)

// String 返回状态名称
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig 熔断器配置
type CircuitBreakerConfig struct {
	Threshold      int           `yaml:"threshold"`         // 连续失败次数阈值
	Timeout        time.Duration `yaml:"timeout"`           // 打开状态持续时间
	HalfOpenMaxTry int           `yaml:"half_open_max_try"` // 半开状态需要的连续成功次数
}

// CircuitBreaker 执行后端熔断器：连续失败达到阈值后拒绝调用，超时后半开试探
type CircuitBreaker struct {
	threshold      int
	timeout        time.Duration
	halfOpenMaxTry int
	clock          Clock

	state           BreakerState
	failureCount    int64
	successCount    int64
	consecutiveFail int64
	halfOpenSuccess int
	lastFailTime    time.Time
	openTime        time.Time

	onStateChange func(from, to BreakerState)

	mu sync.Mutex
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(config CircuitBreakerConfig, clock Clock) *CircuitBreaker {
	if config.Threshold <= 0 {
		config.Threshold = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HalfOpenMaxTry <= 0 {
		config.HalfOpenMaxTry = 3
	}
	if clock == nil {
		clock = SystemClock
	}
	return &CircuitBreaker{
		threshold:      config.Threshold,
		timeout:        config.Timeout,
		halfOpenMaxTry: config.HalfOpenMaxTry,
		clock:          clock,
		state:          BreakerClosed,
	}
}

// OnStateChange 注册状态变化回调（在持锁外同步调用）
func (cb *CircuitBreaker) OnStateChange(fn func(from, to BreakerState)) {
	cb.mu.Lock()
	cb.onStateChange = fn
	cb.mu.Unlock()
}

// Call 执行操作，通过熔断器
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn()
	if err != nil {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	return err
}

// Allow 调用前检查；打开状态返回包装 ErrCircuitOpen 的错误
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	from := cb.state
	var err error
	if cb.state == BreakerOpen {
		elapsed := cb.clock.Now().Sub(cb.openTime)
		if elapsed >= cb.timeout {
			cb.state = BreakerHalfOpen
			cb.halfOpenSuccess = 0
		} else {
			err = fmt.Errorf("%w: retry in %v", ErrCircuitOpen, cb.timeout-elapsed)
		}
	}
	to, notify := cb.state, cb.onStateChange
	cb.mu.Unlock()

	if from != to && notify != nil {
		notify(from, to)
	}
	return err
}

// RecordSuccess 记录成功
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	from := cb.state
	cb.successCount++
	cb.consecutiveFail = 0
	if cb.state == BreakerHalfOpen {
		cb.halfOpenSuccess++
		if cb.halfOpenSuccess >= cb.halfOpenMaxTry {
			cb.state = BreakerClosed
		}
	}
	to, notify := cb.state, cb.onStateChange
	cb.mu.Unlock()

	if from != to && notify != nil {
		notify(from, to)
	}
}

// RecordFailure 记录失败
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	from := cb.state
	cb.failureCount++
	cb.consecutiveFail++
	cb.lastFailTime = cb.clock.Now()

	switch cb.state {
	case BreakerClosed:
		if cb.consecutiveFail >= int64(cb.threshold) {
			cb.trip()
		}
	case BreakerHalfOpen:
		// 半开状态下失败，立即重新打开
		cb.trip()
	}
	to, notify := cb.state, cb.onStateChange
	cb.mu.Unlock()

	if from != to && notify != nil {
		notify(from, to)
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = BreakerOpen
	cb.openTime = cb.clock.Now()
	cb.halfOpenSuccess = 0
}

// GetState 获取当前状态
func (cb *CircuitBreaker) GetState() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// IsOpen 判断是否处于打开状态
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.GetState() == BreakerOpen
}

// GetMetrics 获取熔断器指标
func (cb *CircuitBreaker) GetMetrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerMetrics{
		State:            cb.state,
		FailureCount:     cb.failureCount,
		SuccessCount:     cb.successCount,
		ConsecutiveFails: cb.consecutiveFail,
		LastFailTime:     cb.lastFailTime,
		OpenTime:         cb.openTime,
	}
}

// CircuitBreakerMetrics 熔断器指标
type CircuitBreakerMetrics struct {
	State            BreakerState
	FailureCount     int64
	SuccessCount     int64
	ConsecutiveFails int64
	LastFailTime     time.Time
	OpenTime         time.Time
}

// Reset 重置熔断器（谨慎使用）
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.consecutiveFail = 0
	cb.halfOpenSuccess = 0
	cb.lastFailTime = time.Time{}
	cb.openTime = time.Time{}
}

// ForceOpen 强制打开熔断器
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trip()
}
