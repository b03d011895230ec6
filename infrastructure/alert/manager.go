// Package alert 把风控告警和执行异常分发到各个通道，按级别过滤并限流。
package alert

import (
	"fmt"
	"sync"
	"time"
)

// Level 告警级别
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel 解析配置里的级别名称
func ParseLevel(s string) (Level, error) {
	switch s {
	case "", "INFO", "info":
		return LevelInfo, nil
	case "WARNING", "warning", "warn":
		return LevelWarning, nil
	case "ERROR", "error":
		return LevelError, nil
	case "CRITICAL", "critical":
		return LevelCritical, nil
	}
	return LevelInfo, fmt.Errorf("unknown alert level %q", s)
}

// Alert 告警信息
type Alert struct {
	Level     Level
	Message   string
	Timestamp time.Time
	Fields    map[string]interface{}
}

// Channel 告警通道接口
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Throttler 相同 key 在 interval 内只放行一次
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	now      func() time.Time
	mu       sync.Mutex
}

// NewThrottler 创建限流器
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
		now:      time.Now,
	}
}

// Allow 检查是否允许发送
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	last, ok := t.lastSent[key]
	if !ok || now.Sub(last) >= t.interval {
		t.lastSent[key] = now
		return true
	}
	return false
}

// Reset 清除单个 key
func (t *Throttler) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSent, key)
}

// Clear 清空所有限流记录
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// Manager 告警管理器
type Manager struct {
	channels []Channel
	throttle *Throttler
	minLevel Level
	dropped  int64
	mu       sync.RWMutex
}

// NewManager 创建告警管理器
func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
	}
}

// SetMinLevel 低于该级别的告警直接丢弃
func (m *Manager) SetMinLevel(l Level) {
	m.mu.Lock()
	m.minLevel = l
	m.mu.Unlock()
}

// SendAlert 发送到所有通道。CRITICAL 不限流；全部通道失败时返回最后一个错误。
func (m *Manager) SendAlert(a Alert) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}

	m.mu.RLock()
	min := m.minLevel
	m.mu.RUnlock()
	if a.Level < min {
		return nil
	}

	if a.Level < LevelCritical && !m.throttle.Allow(a.Level.String()+":"+a.Message) {
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	ok := 0
	for _, ch := range m.channels {
		if err := ch.Send(a); err != nil {
			lastErr = fmt.Errorf("channel %s failed: %w", ch.Name(), err)
			continue
		}
		ok++
	}
	if ok == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// SendInfo 发送 INFO 告警
func (m *Manager) SendInfo(message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Level: LevelInfo, Message: message, Fields: fields})
}

// SendWarning 发送 WARNING 告警
func (m *Manager) SendWarning(message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Level: LevelWarning, Message: message, Fields: fields})
}

// SendError 发送 ERROR 告警
func (m *Manager) SendError(message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Level: LevelError, Message: message, Fields: fields})
}

// SendCritical 发送 CRITICAL 告警
func (m *Manager) SendCritical(message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Level: LevelCritical, Message: message, Fields: fields})
}

// AddChannel 添加告警通道
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// RemoveChannel 按名称移除通道
func (m *Manager) RemoveChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.channels[:0:0]
	for _, ch := range m.channels {
		if ch.Name() != name {
			kept = append(kept, ch)
		}
	}
	m.channels = kept
}

// GetChannels 通道名称列表
func (m *Manager) GetChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Dropped 被限流丢弃的告警数
func (m *Manager) Dropped() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dropped
}

// ResetThrottle 重置限流器
func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
}
