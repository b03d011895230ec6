package container

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"market-maker-twap/infrastructure/logger"
)

// Lifecycle 生命周期接口
type Lifecycle interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health() error
}

// LifecycleManager 生命周期管理器。opMu 串行化启停，mu 只保护组件列表，
// 停止期间 /healthz 仍可读取健康状态。
type LifecycleManager struct {
	components []Lifecycle
	started    int
	logger     *logger.Logger
	opMu       sync.Mutex
	mu         sync.Mutex
}

// NewLifecycleManager 创建新的生命周期管理器
func NewLifecycleManager(log *logger.Logger) *LifecycleManager {
	if log == nil {
		log = logger.NewNop()
	}
	return &LifecycleManager{
		components: make([]Lifecycle, 0),
		logger:     log.Named("lifecycle"),
	}
}

// Register 注册组件，启动顺序即注册顺序
func (m *LifecycleManager) Register(component Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component)
}

// Names 已注册组件名
func (m *LifecycleManager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.components))
	for i, c := range m.components {
		names[i] = c.Name()
	}
	return names
}

// StartAll 按顺序启动所有组件
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	pending := append([]Lifecycle(nil), m.components[m.started:]...)
	m.mu.Unlock()

	for _, component := range pending {
		if err := component.Start(ctx); err != nil {
			// 启动失败，回滚已启动的组件
			if stopErr := m.stopStarted(ctx); stopErr != nil {
				m.logger.Warn("rollback incomplete", zap.Error(stopErr))
			}
			return fmt.Errorf("start %s failed: %w", component.Name(), err)
		}
		m.mu.Lock()
		m.started++
		m.mu.Unlock()
		m.logger.Debug("component started", zap.String("component", component.Name()))
	}
	return nil
}

// StopAll 逆序停止已启动的组件，汇总所有错误
func (m *LifecycleManager) StopAll(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.stopStarted(ctx)
}

// stopStarted 调用方持有 opMu
func (m *LifecycleManager) stopStarted(ctx context.Context) error {
	m.mu.Lock()
	started := append([]Lifecycle(nil), m.components[:m.started]...)
	m.started = 0
	m.mu.Unlock()

	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		c := started[i]
		if err := c.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
			continue
		}
		m.logger.Debug("component stopped", zap.String("component", c.Name()))
	}
	return errors.Join(errs...)
}

// CheckHealth 检查所有组件健康状态
func (m *LifecycleManager) CheckHealth() error {
	m.mu.Lock()
	components := append([]Lifecycle(nil), m.components...)
	m.mu.Unlock()

	for _, component := range components {
		if err := component.Health(); err != nil {
			return fmt.Errorf("component %s unhealthy: %w", component.Name(), err)
		}
	}
	return nil
}

// funcComponent 用函数拼出的组件，未提供的阶段视为成功
type funcComponent struct {
	name   string
	start  func(ctx context.Context) error
	stop   func(ctx context.Context) error
	health func() error
}

func (f *funcComponent) Name() string { return f.name }

func (f *funcComponent) Start(ctx context.Context) error {
	if f.start == nil {
		return nil
	}
	return f.start(ctx)
}

func (f *funcComponent) Stop(ctx context.Context) error {
	if f.stop == nil {
		return nil
	}
	return f.stop(ctx)
}

func (f *funcComponent) Health() error {
	if f.health == nil {
		return nil
	}
	return f.health()
}

// backgroundComponent 把阻塞的 Run(ctx) 放到后台 goroutine
type backgroundComponent struct {
	name   string
	run    func(ctx context.Context) error
	logger *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	exitErr error
}

func newBackground(name string, run func(ctx context.Context) error, log *logger.Logger) *backgroundComponent {
	return &backgroundComponent{name: name, run: run, logger: log}
}

func (b *backgroundComponent) Name() string { return b.name }

func (b *backgroundComponent) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done != nil {
		return fmt.Errorf("%s already started", b.name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	done := b.done

	go func() {
		defer close(done)
		err := b.run(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error("background component exited", zap.String("component", b.name), zap.Error(err))
		}
		b.mu.Lock()
		b.exitErr = err
		b.mu.Unlock()
	}()
	return nil
}

func (b *backgroundComponent) Stop(ctx context.Context) error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.mu.Unlock()
	if done == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("%s did not exit: %w", b.name, ctx.Err())
	}

	b.mu.Lock()
	b.cancel, b.done, b.exitErr = nil, nil, nil
	b.mu.Unlock()
	return nil
}

// Health 运行中返回 nil；提前退出时返回退出原因
func (b *backgroundComponent) Health() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done == nil {
		return fmt.Errorf("%s not started", b.name)
	}
	select {
	case <-b.done:
		if b.exitErr != nil {
			return fmt.Errorf("%s exited: %w", b.name, b.exitErr)
		}
		return fmt.Errorf("%s exited", b.name)
	default:
		return nil
	}
}
