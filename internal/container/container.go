package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"market-maker-twap/config"
	"market-maker-twap/gateway"
	"market-maker-twap/infrastructure/alert"
	"market-maker-twap/infrastructure/logger"
	"market-maker-twap/infrastructure/monitor"
	hotreload "market-maker-twap/internal/config"
	"market-maker-twap/internal/engine"
	"market-maker-twap/internal/events"
	"market-maker-twap/internal/journal"
	"market-maker-twap/internal/risk"
	"market-maker-twap/internal/strategy"
	"market-maker-twap/internal/twap"
	"market-maker-twap/inventory"
	"market-maker-twap/market"
	"market-maker-twap/posttrade"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg        config.AppConfig
	configPath string

	// 基础设施
	logger  *logger.Logger
	bus     *events.Bus
	monitor *monitor.Monitor
	journal *journal.Journal
	alerts  *alert.Manager

	// 执行后端
	paper *gateway.PaperBackend

	// 核心服务
	model     *strategy.PricingModel
	risk      *risk.Manager
	scheduler *twap.Scheduler
	inventory *inventory.Store
	market    *market.Service
	feeds     []*market.WSSource
	engine    *engine.Orchestrator
	reloader  *hotreload.HotReloader
	markouts  *posttrade.Analyzer
	markoutCh <-chan market.Snapshot

	// HTTP服务器
	metricsServer *monitor.Server

	// 生命周期管理
	lifecycle *LifecycleManager
	unsub     []func()
}

// New 从配置文件创建Container；环境变量覆盖文件中的值
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewWithConfig(cfg, configPath), nil
}

// NewWithConfig 使用已加载的配置；configPath 为空时不启用热更新
func NewWithConfig(cfg config.AppConfig, configPath string) *Container {
	return &Container{cfg: cfg, configPath: configPath}
}

// Build 构建所有组件
func (c *Container) Build(ctx context.Context) error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildCoreServices(ctx); err != nil {
		c.closeJournal()
		return fmt.Errorf("build core services failed: %w", err)
	}
	if err := c.buildHotReload(); err != nil {
		c.closeJournal()
		return fmt.Errorf("build hot reload failed: %w", err)
	}

	c.registerLifecycleComponents()
	c.logger.Info("container built", zap.Strings("components", c.lifecycle.Names()))
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}
	c.lifecycle = NewLifecycleManager(c.logger)

	c.bus = events.NewBus()
	c.bus.OnPanic = func(e events.Event, r any) {
		c.logger.Error("event handler panic", zap.String("event", string(e.Type)), zap.Any("panic", r))
	}

	monCfg := monitor.DefaultConfig()
	if c.cfg.Metrics.Namespace != "" {
		monCfg.Namespace = c.cfg.Metrics.Namespace
	}
	c.monitor = monitor.New(monCfg)
	c.unsub = append(c.unsub,
		c.bus.Subscribe(c.monitor.Observe),
		c.bus.Subscribe(eventLogger(c.logger.Named("events"))),
	)

	if path := c.cfg.Journal.Path; path != "" {
		c.journal, err = journal.Open(path, c.logger)
		if err != nil {
			return fmt.Errorf("open journal failed: %w", err)
		}
		c.unsub = append(c.unsub, c.bus.Subscribe(c.journal.Handle))
	}

	channels := []alert.Channel{alert.NewLogChannel("log", c.logger)}
	if c.cfg.Alert.Console {
		channels = append(channels, alert.NewConsoleChannel("console", os.Stderr))
	}
	c.alerts = alert.NewManager(channels, c.cfg.Alert.ThrottleInterval)
	level, err := alert.ParseLevel(c.cfg.Alert.MinLevel)
	if err != nil {
		return err
	}
	c.alerts.SetMinLevel(level)

	c.logger.Info("infrastructure built", zap.String("env", c.cfg.Env))
	return nil
}

func (c *Container) buildCoreServices(ctx context.Context) error {
	vol, err := strategy.NewVolatilityEstimator(c.cfg.Volatility)
	if err != nil {
		return err
	}
	c.model, err = strategy.NewPricingModel(c.cfg.Model, vol)
	if err != nil {
		return err
	}

	history := market.NewHistory(c.cfg.Market.HistorySize)
	c.market = market.NewService(c.buildSource(), history, nil, c.cfg.Market.PollInterval, c.logger.Named("market"))
	c.market.OnError(func(err error) {
		c.logger.Debug("market poll failed", zap.Error(err))
	})

	c.paper = gateway.NewPaperBackend(c.cfg.Paper, func() float64 {
		if s, ok := history.Latest(); ok {
			return s.Mid
		}
		return 0
	})

	breaker := risk.NewCircuitBreaker(c.cfg.Breaker, risk.SystemClock)
	breaker.OnStateChange(func(from, to risk.BreakerState) {
		c.logger.Warn("backend circuit breaker", zap.Stringer("from", from), zap.Stringer("to", to))
	})
	c.scheduler, err = twap.NewScheduler(c.cfg.TWAP, c.monitor.InstrumentBackend(c.paper), breaker, risk.SystemClock, c.bus, c.logger)
	if err != nil {
		return err
	}

	c.inventory = inventory.NewStore(inventory.State{})
	balances := &inventory.Sync{Provider: c.paper, Store: c.inventory}
	inv, err := balances.Refresh(ctx)
	if err != nil {
		return err
	}
	c.monitor.UpdateInventory(inv)

	// 没有静态价时初始组合价值为 0，峰值由第一次成交建立
	c.risk, err = risk.NewManager(c.cfg.Risk, inv.Value(c.cfg.Market.StaticMid), risk.SystemClock)
	if err != nil {
		return err
	}

	c.engine, err = engine.New(c.cfg.Engine, engine.Components{
		Model:     c.model,
		Risk:      c.risk,
		Scheduler: c.scheduler,
		Inventory: c.inventory,
		Balances:  balances,
		Market:    c.market,
		Bus:       c.bus,
		Alerts:    c.alerts,
		Logger:    c.logger,
		Clock:     risk.SystemClock,
	})
	if err != nil {
		return err
	}

	c.markouts = posttrade.NewAnalyzer(time.Hour)
	c.markoutCh = c.market.Publisher().Subscribe()
	c.unsub = append(c.unsub, c.bus.Subscribe(c.markouts.Handle,
		events.OrderStarted, events.PartExecuted, events.OrderCompleted, events.OrderFailed, events.OrderCancelled))

	// 成交后刷新库存与风控指标
	c.unsub = append(c.unsub, c.bus.Subscribe(func(events.Event) {
		c.monitor.UpdateInventory(c.inventory.Load())
		c.monitor.UpdateRisk(c.risk.Snapshot())
		if snap, ok := c.market.History().Latest(); ok {
			_, pnl := c.inventory.Valuation(snap.Mid)
			c.monitor.UpdateUnrealized(pnl)
		}
	}, events.PartExecuted))

	c.logger.Info("core services built",
		zap.Float64("base", inv.Base),
		zap.Float64("quote", inv.Quote),
		zap.Int("feeds", len(c.feeds)))
	return nil
}

// buildSource 静态价与 WebSocket 行情源一起进入聚合器
func (c *Container) buildSource() market.Source {
	mc := c.cfg.Market
	var sources []market.Source
	if mc.StaticMid > 0 {
		static := market.NewStaticSource("static", market.Snapshot{
			Mid:          mc.StaticMid,
			BidAskSpread: mc.StaticSpread,
			Volume24h:    mc.StaticVolume,
		})
		sources = append(sources, static.Stamped(time.Now))
	}
	for _, f := range mc.Feeds {
		ws := market.NewWSSource(f.Name, f.URL, c.logger.Named("feed"))
		c.feeds = append(c.feeds, ws)
		sources = append(sources, ws)
	}
	return market.NewAggregator(mc.OutlierTolerance, sources...)
}

func (c *Container) buildHotReload() error {
	if c.configPath == "" || !c.cfg.HotReload.Enabled {
		return nil
	}
	hrCfg := hotreload.DefaultHotReloadConfig()
	hrCfg.CooldownTime = c.cfg.HotReload.Cooldown

	var err error
	c.reloader, err = hotreload.NewHotReloader(c.configPath, c.cfg, hrCfg, c.logger)
	if err != nil {
		return err
	}
	c.reloader.Register("risk", hotreload.RiskApplier(c.risk))
	c.reloader.Register("twap", hotreload.TWAPApplier(c.scheduler))
	c.reloader.Register("engine", hotreload.EngineApplier(c.engine))
	c.reloader.Register("alert", hotreload.AlertApplier(c.alerts))
	return nil
}

func (c *Container) registerLifecycleComponents() {
	if c.cfg.Metrics.Enabled {
		c.metricsServer = monitor.NewServer(c.cfg.Metrics.Addr, c.monitor, c.HealthCheck, c.logger)
		srv := c.metricsServer
		c.lifecycle.Register(&funcComponent{
			name:  srv.Name(),
			start: srv.Start,
			stop:  srv.Stop,
		})
	}

	for _, f := range c.feeds {
		c.lifecycle.Register(newBackground("feed:"+f.Name(), f.Run, c.logger))
	}
	c.lifecycle.Register(newBackground("market", c.market.Run, c.logger))
	c.lifecycle.Register(newBackground("posttrade", func(ctx context.Context) error {
		return c.markouts.Run(ctx, c.markoutCh)
	}, c.logger))

	c.lifecycle.Register(&funcComponent{
		name:   "engine",
		start:  c.engine.Start,
		stop:   c.engine.Stop,
		health: c.engineHealth,
	})

	if c.reloader != nil {
		c.lifecycle.Register(&funcComponent{
			name:  c.reloader.Name(),
			start: c.reloader.Start,
			stop:  c.reloader.Stop,
		})
	}
}

func (c *Container) engineHealth() error {
	switch st := c.engine.GetState(); st {
	case engine.StateRunning, engine.StatePaused:
	default:
		return fmt.Errorf("engine %s", st)
	}
	if c.risk.State() == risk.StateEmergencyStopped {
		return errors.New("risk emergency stop")
	}
	return nil
}

// Start 按注册顺序启动所有组件
func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started")
	return nil
}

// Stop 逆序停止组件，最后关闭日志库
func (c *Container) Stop(ctx context.Context) error {
	c.logger.Info("stopping container...")

	err := c.lifecycle.StopAll(ctx)
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	for _, u := range c.unsub {
		u()
	}
	c.unsub = nil
	if jerr := c.closeJournal(); jerr != nil {
		err = errors.Join(err, jerr)
	}

	stats := c.engine.GetStatistics()
	mk := c.markouts.Stats()
	c.logger.Info("container stopped",
		zap.Int64("orders", stats.TotalOrders),
		zap.Int64("fills", stats.TotalFills),
		zap.Int64("rejections", stats.TotalRejections),
		zap.Int("markout_fills", mk.AnalyzedFills),
		zap.Float64("adverse_selection", mk.AdverseSelectionRate))
	_ = c.logger.Sync()
	return err
}

func (c *Container) closeJournal() error {
	if c.journal == nil {
		return nil
	}
	j := c.journal
	c.journal = nil
	return j.Close()
}

// HealthCheck 任一组件不健康即返回错误
func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

func (c *Container) Config() config.AppConfig            { return c.cfg }
func (c *Container) Logger() *logger.Logger              { return c.logger }
func (c *Container) Bus() *events.Bus                    { return c.bus }
func (c *Container) Engine() *engine.Orchestrator        { return c.engine }
func (c *Container) Risk() *risk.Manager                 { return c.risk }
func (c *Container) Scheduler() *twap.Scheduler          { return c.scheduler }
func (c *Container) Market() *market.Service             { return c.market }
func (c *Container) Journal() *journal.Journal           { return c.journal }
func (c *Container) Monitor() *monitor.Monitor           { return c.monitor }
func (c *Container) MetricsServer() *monitor.Server      { return c.metricsServer }
func (c *Container) HotReloader() *hotreload.HotReloader { return c.reloader }
func (c *Container) Markouts() *posttrade.Analyzer       { return c.markouts }

// eventLogger 总线上的每个事件都记一条日志；失败类事件用 warn
func eventLogger(log *logger.Logger) events.Handler {
	return func(e events.Event) {
		level := zapcore.InfoLevel
		switch e.Type {
		case events.QuoteUpdated:
			level = zapcore.DebugLevel
		case events.PartFailed, events.OrderFailed, events.OrderRejected, events.RiskAlert:
			level = zapcore.WarnLevel
		case events.EmergencyStop:
			level = zapcore.ErrorLevel
		}
		if ce := log.Check(level, string(e.Type)); ce != nil {
			ce.Write(
				zap.String("order_id", e.OrderID),
				zap.String("message", e.Message),
				zap.Time("time", e.Time),
			)
		}
	}
}
