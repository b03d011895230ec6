package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	appconfig "market-maker-twap/config"
	"market-maker-twap/infrastructure/alert"
	"market-maker-twap/infrastructure/logger"
	"market-maker-twap/internal/engine"
	"market-maker-twap/internal/risk"
	"market-maker-twap/internal/twap"
)

// HotReloadConfig 热更新配置
type HotReloadConfig struct {
	Enabled      bool          // 是否启用热更新
	CooldownTime time.Duration // 冷却时间，避免编辑器连续写入触发多次
	PollInterval time.Duration // fsnotify 不可用时的轮询间隔
}

// DefaultHotReloadConfig 默认热更新配置
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:      true,
		CooldownTime: 5 * time.Second,
		PollInterval: 2 * time.Second,
	}
}

// Applier 把新配置中可热更新的部分应用到运行中的组件
type Applier interface {
	Apply(cfg appconfig.AppConfig) error
}

// ApplierFunc 函数适配器
type ApplierFunc func(cfg appconfig.AppConfig) error

func (f ApplierFunc) Apply(cfg appconfig.AppConfig) error { return f(cfg) }

type namedApplier struct {
	name    string
	applier Applier
}

// HotReloader 配置热更新器。模型参数只在启动时生效，变更时只记录告警。
type HotReloader struct {
	config     HotReloadConfig
	configPath string
	watcher    *fsnotify.Watcher
	appliers   []namedApplier
	load       func(path string) (appconfig.AppConfig, error)
	current    appconfig.AppConfig
	lastReload time.Time
	reloads    int
	logger     *logger.Logger
	mu         sync.RWMutex
	stopChan   chan struct{}
	doneChan   chan struct{}
	started    bool
}

// NewHotReloader 创建热更新器；initial 为启动时生效的配置
func NewHotReloader(configPath string, initial appconfig.AppConfig, cfg HotReloadConfig, log *logger.Logger) (*HotReloader, error) {
	if configPath == "" {
		return nil, errors.New("config path is required for hot reload")
	}
	if log == nil {
		log = logger.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &HotReloader{
		config:     cfg,
		configPath: filepath.Clean(configPath),
		watcher:    watcher,
		load:       appconfig.LoadWithEnvOverrides,
		current:    initial,
		logger:     log.Named("hot_reload"),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// Register 注册应用器，按注册顺序执行
func (h *HotReloader) Register(name string, a Applier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appliers = append(h.appliers, namedApplier{name: name, applier: a})
}

// Name 生命周期组件名
func (h *HotReloader) Name() string { return "hot_reload" }

// Start 启动热更新监听。监听所在目录，这样编辑器以 rename 方式保存也能收到事件。
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.config.Enabled {
		return nil
	}

	h.mu.Lock()
	h.started = true
	h.mu.Unlock()

	if err := h.watcher.Add(filepath.Dir(h.configPath)); err != nil {
		h.logger.Warn("fsnotify unavailable, falling back to polling",
			zap.String("path", h.configPath), zap.Error(err))
		go h.poll(ctx)
		return nil
	}

	go h.watch(ctx)
	return nil
}

// Stop 停止热更新
func (h *HotReloader) Stop(ctx context.Context) error {
	h.mu.RLock()
	started := h.started
	h.mu.RUnlock()

	if started {
		select {
		case <-h.stopChan:
		default:
			close(h.stopChan)
		}

		select {
		case <-h.doneChan:
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
	}
	return h.watcher.Close()
}

// watch 监听文件变化
func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != h.configPath {
				continue
			}
			// 只处理写入和创建事件
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				h.handleConfigChange()
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			// 记录错误但继续监听
			h.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// poll 轮询退路，复用 config.Watcher
func (h *HotReloader) poll(ctx context.Context) {
	defer close(h.doneChan)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-h.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	w := appconfig.Watcher{
		Path:     h.configPath,
		Interval: h.config.PollInterval,
		OnError: func(err error) {
			h.logger.Error("failed to reload config", zap.Error(err))
		},
	}
	_ = w.Start(ctx, func(cfg appconfig.AppConfig) {
		if err := h.apply(cfg); err != nil {
			h.logger.Error("failed to apply config", zap.Error(err))
		}
	})
}

// handleConfigChange 冷却期内的变更被忽略
func (h *HotReloader) handleConfigChange() {
	h.mu.RLock()
	last := h.lastReload
	h.mu.RUnlock()
	if !last.IsZero() && time.Since(last) < h.config.CooldownTime {
		h.logger.Debug("config change ignored during cooldown")
		return
	}
	if err := h.Reload(); err != nil {
		h.logger.Error("failed to reload config", zap.Error(err))
	}
}

// Reload 读取并校验文件，成功后依次执行应用器。校验失败时保留旧配置。
func (h *HotReloader) Reload() error {
	cfg, err := h.load(h.configPath)
	if err != nil {
		return fmt.Errorf("load %s: %w", h.configPath, err)
	}
	return h.apply(cfg)
}

func (h *HotReloader) apply(cfg appconfig.AppConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cfg.Model != h.current.Model {
		h.logger.Warn("model parameters changed; restart required to take effect")
	}

	var errs []error
	for _, a := range h.appliers {
		if err := a.applier.Apply(cfg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	model := h.current.Model
	h.current = cfg
	h.current.Model = model
	h.lastReload = time.Now()
	h.reloads++
	h.logger.Info("config reloaded", zap.String("path", h.configPath), zap.Int("appliers", len(h.appliers)))
	return nil
}

// Current 当前生效的配置
func (h *HotReloader) Current() appconfig.AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// GetLastReloadTime 获取最后重载时间
func (h *HotReloader) GetLastReloadTime() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastReload
}

// Reloads 成功重载次数
func (h *HotReloader) Reloads() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.reloads
}

// EngineApplier 决策阈值
func EngineApplier(o *engine.Orchestrator) Applier {
	return ApplierFunc(func(cfg appconfig.AppConfig) error {
		return o.UpdateConfig(cfg.Engine)
	})
}

// RiskApplier 风控限额
func RiskApplier(m *risk.Manager) Applier {
	return ApplierFunc(func(cfg appconfig.AppConfig) error {
		return m.SetLimits(cfg.Risk)
	})
}

// TWAPApplier 切片数量约束
func TWAPApplier(s *twap.Scheduler) Applier {
	return ApplierFunc(func(cfg appconfig.AppConfig) error {
		s.SetConstraints(cfg.TWAP.Constraints)
		return nil
	})
}

// AlertApplier 告警最低级别
func AlertApplier(m *alert.Manager) Applier {
	return ApplierFunc(func(cfg appconfig.AppConfig) error {
		level, err := alert.ParseLevel(cfg.Alert.MinLevel)
		if err != nil {
			return err
		}
		m.SetMinLevel(level)
		return nil
	})
}
