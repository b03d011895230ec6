package alert

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"market-maker-twap/infrastructure/logger"
)

// LogChannel 把告警写入结构化日志
type LogChannel struct {
	log  *logger.Logger
	name string
}

// NewLogChannel 创建日志通道；log 为 nil 时使用空日志
func NewLogChannel(name string, log *logger.Logger) *LogChannel {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogChannel{log: log.Named("alert"), name: name}
}

// Send 按级别映射到日志级别
func (c *LogChannel) Send(a Alert) error {
	fields := make([]zap.Field, 0, len(a.Fields)+2)
	fields = append(fields, zap.String("level", a.Level.String()), zap.Time("alert_time", a.Timestamp))
	for _, k := range sortedKeys(a.Fields) {
		fields = append(fields, zap.Any(k, a.Fields[k]))
	}
	switch a.Level {
	case LevelInfo:
		c.log.Info(a.Message, fields...)
	case LevelWarning:
		c.log.Warn(a.Message, fields...)
	default:
		c.log.Error(a.Message, fields...)
	}
	return nil
}

// Name 通道名称
func (c *LogChannel) Name() string { return c.name }

// ConsoleChannel 彩色文本输出
type ConsoleChannel struct {
	name string
	out  io.Writer
	mu   sync.Mutex
}

// NewConsoleChannel 创建控制台通道；out 为 nil 时写 stdout
func NewConsoleChannel(name string, out io.Writer) *ConsoleChannel {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleChannel{name: name, out: out}
}

var levelColors = map[Level]string{
	LevelInfo:     "\033[32m",
	LevelWarning:  "\033[33m",
	LevelError:    "\033[31m",
	LevelCritical: "\033[35m",
}

// Send 写出一行
func (c *ConsoleChannel) Send(a Alert) error {
	const reset = "\033[0m"
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%s]%s %s - %s", levelColors[a.Level], a.Level, reset,
		a.Timestamp.Format("2006-01-02 15:04:05"), a.Message)
	if len(a.Fields) > 0 {
		b.WriteString(" |")
		for _, k := range sortedKeys(a.Fields) {
			fmt.Fprintf(&b, " %s=%v", k, a.Fields[k])
		}
	}
	b.WriteByte('\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.out, b.String())
	return err
}

// Name 通道名称
func (c *ConsoleChannel) Name() string { return c.name }

// MockChannel 记录收到的告警（测试用）
type MockChannel struct {
	name      string
	mu        sync.Mutex
	alerts    []Alert
	shouldErr bool
}

func NewMockChannel(name string) *MockChannel {
	return &MockChannel{name: name}
}

func (c *MockChannel) Send(a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shouldErr {
		return errors.New("mock error")
	}
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *MockChannel) Name() string { return c.name }

// GetAlerts 返回副本
func (c *MockChannel) GetAlerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Alert(nil), c.alerts...)
}

func (c *MockChannel) SetShouldError(v bool) {
	c.mu.Lock()
	c.shouldErr = v
	c.mu.Unlock()
}

func (c *MockChannel) Clear() {
	c.mu.Lock()
	c.alerts = nil
	c.mu.Unlock()
}

func (c *MockChannel) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
