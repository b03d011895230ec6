package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"market-maker-twap/infrastructure/alert"
	"market-maker-twap/infrastructure/logger"
	"market-maker-twap/internal/events"
	"market-maker-twap/internal/risk"
	"market-maker-twap/internal/strategy"
	"market-maker-twap/internal/twap"
	"market-maker-twap/inventory"
	"market-maker-twap/market"
	"market-maker-twap/order"
)

// EngineState 引擎状态
type EngineState int

const (
	// StateIdle 空闲状态
	StateIdle EngineState = iota
	// StateRunning 运行状态
	StateRunning
	// StatePaused 暂停状态：继续报价，不生成新订单
	StatePaused
	// StateStopped 停止状态
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config 编排器配置。阈值均可热更新。
type Config struct {
	QuoteInterval          time.Duration `yaml:"quote_interval"`
	PriceMoveThreshold     float64       `yaml:"price_move_threshold"`     // 保留价变动，0.005 = 0.5%
	SpreadChangeThreshold  float64       `yaml:"spread_change_threshold"`  // 价差相对变化，0.10 = 10%
	MaxOrderInterval       time.Duration `yaml:"max_order_interval"`       // 距上次下单超过该时间即触发
	MeanReversionThreshold float64       `yaml:"mean_reversion_threshold"` // mid 偏离保留价，0.002 = 0.2%
	TargetBaseRatio        float64       `yaml:"target_base_ratio"`
	RebalanceBand          float64       `yaml:"rebalance_band"`
	RejectCooldown         time.Duration `yaml:"reject_cooldown"`
	BaseOrderSize          float64       `yaml:"base_order_size"`
	OrderDuration          time.Duration `yaml:"order_duration"`
	OrderParts             int           `yaml:"order_parts"`
	Horizon                time.Duration `yaml:"horizon"` // 滚动交易时段长度，映射到模型 T
	ContinueOnPartFailure  bool          `yaml:"continue_on_part_failure"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		QuoteInterval:          5 * time.Second,
		PriceMoveThreshold:     0.005,
		SpreadChangeThreshold:  0.10,
		MaxOrderInterval:       5 * time.Minute,
		MeanReversionThreshold: 0.002,
		TargetBaseRatio:        0.5,
		RebalanceBand:          0.10,
		RejectCooldown:         60 * time.Second,
		BaseOrderSize:          0.1,
		OrderDuration:          5 * time.Minute,
		OrderParts:             10,
		Horizon:                24 * time.Hour,
		ContinueOnPartFailure:  true,
	}
}

// Validate 检查配置
func (c Config) Validate() error {
	switch {
	case c.QuoteInterval < 0:
		return errors.New("quote_interval must be >= 0")
	case c.PriceMoveThreshold < 0 || c.SpreadChangeThreshold < 0 || c.MeanReversionThreshold < 0:
		return errors.New("thresholds must be >= 0")
	case c.TargetBaseRatio <= 0 || c.TargetBaseRatio >= 1:
		return fmt.Errorf("target_base_ratio must be in (0,1), got %f", c.TargetBaseRatio)
	case c.RebalanceBand < 0 || c.RebalanceBand >= 0.5:
		return fmt.Errorf("rebalance_band must be in [0,0.5), got %f", c.RebalanceBand)
	case c.BaseOrderSize <= 0:
		return errors.New("base_order_size must be > 0")
	case c.OrderDuration <= 0:
		return errors.New("order_duration must be > 0")
	case c.OrderParts < 1:
		return errors.New("order_parts must be >= 1")
	case c.Horizon <= 0:
		return errors.New("horizon must be > 0")
	}
	return nil
}

// Components 编排器依赖组件
type Components struct {
	Model     *strategy.PricingModel
	Risk      *risk.Manager
	Scheduler *twap.Scheduler
	Inventory *inventory.Store
	Balances  *inventory.Sync // 可选：每次成交后刷新余额
	Market    *market.Service // 可选：Start 后订阅行情
	Bus       *events.Bus     // 可选
	Alerts    *alert.Manager  // 可选
	Logger    *logger.Logger
	Clock     risk.Clock
}

// Statistics 引擎统计信息
type Statistics struct {
	StartTime       time.Time
	TotalUpdates    int64
	TotalQuotes     int64
	TotalOrders     int64
	TotalRejections int64
	TotalFills      int64
	TotalErrors     int64
	LastQuoteTime   time.Time
	LastOrderTime   time.Time
}

// Orchestrator 行情 → 报价 → 决策 → 风控 → TWAP 执行 → 库存/风控回写
type Orchestrator struct {
	model     *strategy.PricingModel
	risk      *risk.Manager
	scheduler *twap.Scheduler
	inventory *inventory.Store
	balances  *inventory.Sync
	market    *market.Service
	bus       *events.Bus
	alerts    *alert.Manager
	logger    *logger.Logger
	clock     risk.Clock

	// txMu 串行化成交回写（库存 + 风控）与下单校验，校验时看不到只更新了一半的状态
	txMu sync.Mutex

	mu            sync.RWMutex
	config        Config
	state         EngineState
	sessionStart  time.Time
	lastSnap      market.Snapshot
	hasSnap       bool
	lastQuote     strategy.Quote
	hasQuote      bool
	orderRef      strategy.Quote // 上次下单时的报价
	lastOrderAt   time.Time
	cooldownUntil time.Time
	stats         Statistics

	stopChan chan struct{}
	doneChan chan struct{}
}

// New 创建编排器并注册调度器与风控回调
func New(cfg Config, c Components) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := validateComponents(c); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}
	if c.Clock == nil {
		c.Clock = risk.SystemClock
	}
	if c.Bus == nil {
		c.Bus = events.NewBus()
	}

	o := &Orchestrator{
		model:        c.Model,
		risk:         c.Risk,
		scheduler:    c.Scheduler,
		inventory:    c.Inventory,
		balances:     c.Balances,
		market:       c.Market,
		bus:          c.Bus,
		alerts:       c.Alerts,
		logger:       c.Logger.Named("engine"),
		clock:        c.Clock,
		config:       cfg,
		state:        StateIdle,
		sessionStart: c.Clock.Now(),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}

	o.scheduler.SetHooks(twap.Hooks{
		OnPartExecuted: o.onPartExecuted,
		OnPartFailed:   o.onPartFailed,
		OnOrderDone:    o.onOrderDone,
	})
	o.setupRiskCallbacks()
	return o, nil
}

// Start 启动主循环；配置了行情服务时订阅其广播
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateIdle && o.state != StateStopped {
		o.mu.Unlock()
		return fmt.Errorf("engine already started (state: %s)", o.state)
	}
	if o.state == StateStopped {
		o.stopChan = make(chan struct{})
		o.doneChan = make(chan struct{})
	}
	o.state = StateRunning
	o.stats.StartTime = o.clock.Now()
	cfg := o.config
	o.mu.Unlock()

	var updates <-chan market.Snapshot
	if o.market != nil {
		updates = o.market.Publisher().Subscribe()
	}

	o.logger.Info("Orchestrator starting",
		zap.Duration("quote_interval", cfg.QuoteInterval),
		zap.Duration("order_duration", cfg.OrderDuration),
		zap.Int("order_parts", cfg.OrderParts))

	go o.run(ctx, updates)
	return nil
}

// Stop 停止主循环并等待 TWAP 调度器排空在途订单
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateRunning && o.state != StatePaused {
		o.mu.Unlock()
		return fmt.Errorf("engine not running (state: %s)", o.state)
	}
	o.mu.Unlock()

	o.logger.Info("Orchestrator stopping...")
	select {
	case <-o.stopChan:
	default:
		close(o.stopChan)
	}
	<-o.doneChan

	err := o.scheduler.Shutdown(ctx)
	if err != nil {
		o.logger.Error("TWAP drain incomplete", zap.Error(err))
	}

	o.mu.Lock()
	o.state = StateStopped
	o.mu.Unlock()
	o.logger.Info("Orchestrator stopped")
	return err
}

// Pause 暂停新订单决策；已运行的订单不受影响
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateRunning {
		return fmt.Errorf("engine not running (state: %s)", o.state)
	}
	o.state = StatePaused
	o.logger.Info("Orchestrator paused")
	return nil
}

// Resume 恢复
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StatePaused {
		return fmt.Errorf("engine not paused (state: %s)", o.state)
	}
	o.state = StateRunning
	o.logger.Info("Orchestrator resumed")
	return nil
}

func (o *Orchestrator) run(ctx context.Context, updates <-chan market.Snapshot) {
	defer close(o.doneChan)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Context done, stopping orchestrator loop")
			return
		case <-o.stopChan:
			return
		case snap := <-updates:
			if _, err := o.OnMarketUpdate(ctx, snap); err != nil {
				o.logger.Debug("market update not actioned", zap.Error(err))
			}
		}
	}
}

// UpdateConfig 热更新决策阈值
func (o *Orchestrator) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	o.mu.Lock()
	o.config = cfg
	o.mu.Unlock()
	o.logger.Info("Orchestrator config updated",
		zap.Float64("price_move_threshold", cfg.PriceMoveThreshold),
		zap.Float64("spread_change_threshold", cfg.SpreadChangeThreshold),
		zap.Duration("reject_cooldown", cfg.RejectCooldown))
	return nil
}

// Config 返回当前配置
func (o *Orchestrator) Config() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.config
}

// OnMarketUpdate 处理一条行情：更新波动率，按间隔重算报价，并评估是否下单。
// 返回本次生成的新报价（没有重算时为 nil）。
func (o *Orchestrator) OnMarketUpdate(ctx context.Context, snap market.Snapshot) (*strategy.Quote, error) {
	if err := snap.Validate(); err != nil {
		o.recordError()
		return nil, err
	}
	if _, err := o.model.Observe(snap.Mid, snap.Time()); err != nil {
		o.recordError()
		return nil, fmt.Errorf("volatility update: %w", err)
	}

	now := o.clock.Now()
	o.mu.Lock()
	o.lastSnap, o.hasSnap = snap, true
	o.stats.TotalUpdates++
	due := !o.hasQuote || now.Sub(o.lastQuote.GeneratedAt) >= o.config.QuoteInterval
	o.mu.Unlock()
	if !due {
		return nil, nil
	}

	quote, err := o.generateQuote(snap.Mid, now)
	if err != nil {
		o.recordError()
		return nil, err
	}

	if dir, size, ok := o.evaluate(quote, now); ok {
		intent := order.NewIntent(dir, size, targetPrice(quote, dir), o.Config().OrderDuration, o.Config().OrderParts)
		intent.Source = "auto"
		intent.CreatedAt = now
		if _, err := o.submit(ctx, intent, snap, quote, true); err != nil {
			o.logger.Info("auto order not placed", zap.String("direction", string(dir)), zap.Error(err))
		}
	}
	return &quote, nil
}

// generateQuote 以滚动时段计算 t，T 取模型参数
func (o *Orchestrator) generateQuote(mid float64, now time.Time) (strategy.Quote, error) {
	o.mu.RLock()
	horizon := o.config.Horizon
	start := o.sessionStart
	o.mu.RUnlock()

	T := o.model.Params().Horizon
	elapsed := now.Sub(start) % horizon
	if elapsed < 0 {
		elapsed = 0
	}
	t := T * float64(elapsed) / float64(horizon)

	inv := o.inventory.Load()
	quote, err := o.model.ComputeQuote(mid, inv.Base, t, T)
	if err != nil {
		return strategy.Quote{}, err
	}
	quote.GeneratedAt = now

	o.mu.Lock()
	o.lastQuote, o.hasQuote = quote, true
	o.stats.TotalQuotes++
	o.stats.LastQuoteTime = now
	o.mu.Unlock()

	o.logger.LogQuote(map[string]interface{}{
		"mid":         quote.Mid,
		"bid":         quote.BidPrice,
		"ask":         quote.AskPrice,
		"reservation": quote.ReservationPrice,
		"volatility":  quote.Volatility,
		"inventory":   quote.Inventory,
	})
	o.bus.Publish(events.Event{Type: events.QuoteUpdated, Time: now, Data: quote})
	return quote, nil
}

// evaluate 阈值触发 + 方向选择；没有方向时本周期不下单
func (o *Orchestrator) evaluate(quote strategy.Quote, now time.Time) (order.Direction, float64, bool) {
	o.mu.RLock()
	cfg := o.config
	state := o.state
	cooldown := o.cooldownUntil
	ref, lastOrder := o.orderRef, o.lastOrderAt
	o.mu.RUnlock()

	if state == StatePaused || now.Before(cooldown) || !o.risk.IsTradingAllowed() {
		return "", 0, false
	}
	if !shouldTrade(cfg, ref, lastOrder, quote, now) {
		return "", 0, false
	}

	inv := o.inventory.Load()
	size := o.risk.RecommendPositionSize(cfg.BaseOrderSize, quote.Volatility, inv)
	dir, need, ok := chooseDirection(cfg, quote, inv, size)
	if !ok {
		return "", 0, false
	}
	if need > 0 && need < size {
		size = math.Max(need, o.risk.Limits().MinOrderSize)
	}
	return dir, size, true
}

// shouldTrade 任一触发即可：保留价变动、价差变化、距上次下单时间
func shouldTrade(cfg Config, ref strategy.Quote, lastOrder time.Time, q strategy.Quote, now time.Time) bool {
	if lastOrder.IsZero() || now.Sub(lastOrder) > cfg.MaxOrderInterval {
		return true
	}
	if ref.ReservationPrice > 0 &&
		math.Abs(q.ReservationPrice-ref.ReservationPrice)/ref.ReservationPrice > cfg.PriceMoveThreshold {
		return true
	}
	if refSpread := ref.Spread(); refSpread > 0 &&
		math.Abs(q.Spread()-refSpread)/refSpread > cfg.SpreadChangeThreshold {
		return true
	}
	return false
}

// chooseDirection 先均值回归，后按价值比例再平衡。need 为再平衡所需数量（均值回归时为 0）。
func chooseDirection(cfg Config, q strategy.Quote, inv inventory.State, size float64) (dir order.Direction, need float64, ok bool) {
	mid := q.Mid
	canSell := inv.Base >= size
	canBuy := inv.Quote >= size*mid

	// 1. mid 相对保留价偏离
	if q.ReservationPrice > 0 {
		dev := (mid - q.ReservationPrice) / q.ReservationPrice
		switch {
		case dev > cfg.MeanReversionThreshold && canSell:
			return order.Sell, 0, true
		case dev < -cfg.MeanReversionThreshold && canBuy:
			return order.Buy, 0, true
		}
	}

	// 2. 向目标价值比例再平衡，带死区
	total := inv.Value(mid)
	if total <= 0 || mid <= 0 {
		return "", 0, false
	}
	ratio := inv.BaseRatio(mid)
	need = math.Abs(ratio-cfg.TargetBaseRatio) * total / mid
	switch {
	case ratio > cfg.TargetBaseRatio+cfg.RebalanceBand && canSell:
		return order.Sell, need, true
	case ratio < cfg.TargetBaseRatio-cfg.RebalanceBand && canBuy:
		return order.Buy, need, true
	}
	return "", 0, false
}

func targetPrice(q strategy.Quote, dir order.Direction) float64 {
	if dir == order.Buy {
		return q.BidPrice
	}
	return q.AskPrice
}

// SubmitManualOrder 人工下单：与自动订单走同样的风控校验，拒绝时不触发冷却
func (o *Orchestrator) SubmitManualOrder(ctx context.Context, intent order.Intent) (twap.Plan, error) {
	o.mu.RLock()
	snap, ok := o.lastSnap, o.hasSnap
	quote := o.lastQuote
	o.mu.RUnlock()
	if !ok {
		return twap.Plan{}, fmt.Errorf("no market data for manual order: %w", market.ErrNoData)
	}
	if intent.ID == "" {
		fresh := order.NewIntent(intent.Direction, intent.TotalSize, intent.TargetPrice, intent.Duration, intent.MaxParts)
		intent.ID = fresh.ID
	}
	if intent.Source == "" {
		intent.Source = "manual"
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = o.clock.Now()
	}
	return o.submit(ctx, intent, snap, quote, false)
}

// CancelOrder 撤销 TWAP 订单
func (o *Orchestrator) CancelOrder(id string) error {
	if err := o.scheduler.Cancel(id); err != nil {
		return err
	}
	o.logger.Info("Order cancel requested", zap.String("order_id", id))
	return nil
}

// submit 风控校验后交给调度器。auto=true 时拒绝会进入冷却期。
func (o *Orchestrator) submit(ctx context.Context, intent order.Intent, snap market.Snapshot, quote strategy.Quote, auto bool) (twap.Plan, error) {
	now := o.clock.Now()

	o.txMu.Lock()
	err := o.risk.ValidateOrder(intent, o.inventory.Load(), snap)
	var plan twap.Plan
	if err == nil {
		plan, err = o.scheduler.Submit(ctx, intent, quote.SkewFactor())
	}
	o.txMu.Unlock()
	if err != nil {
		o.mu.Lock()
		o.stats.TotalRejections++
		if auto {
			o.cooldownUntil = now.Add(o.config.RejectCooldown)
		}
		o.mu.Unlock()

		o.logger.LogRisk("order_rejected", map[string]interface{}{
			"order_id":  intent.ID,
			"direction": string(intent.Direction),
			"size":      intent.TotalSize,
			"violation": string(risk.ViolationOf(err)),
			"reason":    err.Error(),
		})
		o.bus.Publish(events.Event{Type: events.OrderRejected, Time: now, OrderID: intent.ID, Message: err.Error(),
			Data: order.Rejection{Intent: intent, Violation: string(risk.ViolationOf(err)), Reason: err.Error()}})
		return twap.Plan{}, err
	}

	o.mu.Lock()
	o.stats.TotalOrders++
	o.stats.LastOrderTime = now
	if auto {
		o.orderRef = quote
		o.lastOrderAt = now
	}
	o.mu.Unlock()

	o.logger.LogOrder("submitted", intent.ID, map[string]interface{}{
		"direction": string(intent.Direction),
		"size":      intent.TotalSize,
		"target":    intent.TargetPrice,
		"parts":     len(plan.Parts),
		"source":    intent.Source,
	})
	return plan, nil
}

// onPartExecuted 在订单 goroutine 中同步执行，返回后才会调度下一片
func (o *Orchestrator) onPartExecuted(ctx context.Context, plan twap.Plan, part twap.PartSpec) {
	dir := plan.Intent.Direction
	delta := dir.Sign() * part.ExecutedSize

	o.txMu.Lock()
	defer o.txMu.Unlock()
	inv := o.inventory.Fill(delta, part.ExecutedPrice, part.Fees)

	if o.balances != nil {
		if st, err := o.balances.Refresh(ctx); err != nil {
			o.logger.Warn("balance refresh failed, keeping local inventory", zap.Error(err))
		} else {
			inv = st
		}
	}

	o.mu.Lock()
	mid := o.lastSnap.Mid
	o.stats.TotalFills++
	o.mu.Unlock()
	if mid <= 0 {
		mid = part.ExecutedPrice
	}
	target := part.TargetPrice
	if target <= 0 {
		target = mid
	}

	o.risk.UpdateRiskMetrics(risk.ExecutionReport{
		OrderID:        plan.Intent.ID,
		Direction:      dir,
		Size:           part.ExecutedSize,
		Price:          part.ExecutedPrice,
		Fees:           part.Fees,
		RealizedPnL:    dir.Sign()*(target-part.ExecutedPrice)*part.ExecutedSize - part.Fees,
		Position:       inv.Base,
		PortfolioValue: inv.Value(mid),
		Time:           o.clock.Now(),
	})

	o.logger.LogTrade("part_filled", map[string]interface{}{
		"order_id": plan.Intent.ID,
		"part":     part.Index,
		"side":     string(dir),
		"price":    part.ExecutedPrice,
		"size":     part.ExecutedSize,
		"fees":     part.Fees,
		"base":     inv.Base,
	})
}

// onPartFailed 风控不允许或熔断打开时中止剩余切片
func (o *Orchestrator) onPartFailed(plan twap.Plan, part twap.PartSpec, err error) bool {
	o.recordError()
	cont := o.Config().ContinueOnPartFailure &&
		o.risk.IsTradingAllowed() &&
		!o.scheduler.Breaker().IsOpen() &&
		!errors.Is(err, twap.ErrCircuitOpen)

	o.logger.LogError(err, map[string]interface{}{
		"order_id": plan.Intent.ID,
		"part":     part.Index,
		"continue": cont,
	})
	if !cont {
		o.sendAlert(alert.LevelError, fmt.Sprintf("TWAP 订单 %s 中止: %v", plan.Intent.ID, err), map[string]interface{}{
			"part": part.Index,
		})
	}
	return cont
}

func (o *Orchestrator) onOrderDone(plan twap.Plan, stats twap.Stats) {
	if plan.Status == order.StatusFailed {
		o.recordError()
	}
	o.logger.Info("Order finished",
		zap.String("order_id", stats.OrderID),
		zap.String("status", string(stats.Status)),
		zap.Float64("executed", stats.ExecutedSize),
		zap.Float64("avg_price", stats.AvgPrice))
}

// setupRiskCallbacks 风控告警转发到事件总线与告警通道
func (o *Orchestrator) setupRiskCallbacks() {
	o.risk.OnStateChange(func(old, new risk.State, reason string) {
		o.logger.Warn("Risk state changed",
			zap.String("old", old.String()),
			zap.String("new", new.String()),
			zap.String("reason", reason))
		if new == risk.StateEmergencyStopped {
			// 在途订单不强制撤销，只拒绝新订单
			o.bus.Publish(events.Event{Type: events.EmergencyStop, Time: o.clock.Now(), Message: reason, Data: o.risk.Snapshot()})
		}
	})

	o.risk.OnAlert(func(a risk.Alert) {
		o.bus.Publish(events.Event{Type: events.RiskAlert, Time: a.Time, Message: a.Message, Data: a})

		level := alert.LevelWarning
		switch a.Type {
		case "emergency_stop":
			level = alert.LevelCritical
		case "daily_reset", "trading_resumed", "emergency_reset":
			level = alert.LevelInfo
		}
		o.sendAlert(level, fmt.Sprintf("[%s] %s", a.Type, a.Message), map[string]interface{}{
			"state":     a.Snapshot.State.String(),
			"daily_pnl": a.Snapshot.DailyPnL,
			"drawdown":  a.Snapshot.Drawdown,
			"position":  a.Snapshot.CurrentPosition,
		})
	})
}

func (o *Orchestrator) sendAlert(level alert.Level, msg string, fields map[string]interface{}) {
	if o.alerts == nil {
		return
	}
	if err := o.alerts.SendAlert(alert.Alert{Level: level, Message: msg, Timestamp: o.clock.Now(), Fields: fields}); err != nil {
		o.logger.Error("Failed to send alert", zap.Error(err))
	}
}

func (o *Orchestrator) recordError() {
	o.mu.Lock()
	o.stats.TotalErrors++
	o.mu.Unlock()
}

// GetState 获取引擎状态
func (o *Orchestrator) GetState() EngineState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// GetStatistics 获取统计信息
func (o *Orchestrator) GetStatistics() Statistics {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stats
}

// LastQuote 最近一次报价
func (o *Orchestrator) LastQuote() (strategy.Quote, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastQuote, o.hasQuote
}

// GetRiskSnapshot 风控快照
func (o *Orchestrator) GetRiskSnapshot() risk.Snapshot {
	return o.risk.Snapshot()
}

// GetInventory 当前库存
func (o *Orchestrator) GetInventory() inventory.State {
	return o.inventory.Load()
}

// Plan 查询订单计划
func (o *Orchestrator) Plan(id string) (twap.Plan, error) {
	return o.scheduler.Plan(id)
}

func validateComponents(c Components) error {
	if c.Model == nil {
		return errors.New("pricing model is required")
	}
	if c.Risk == nil {
		return errors.New("risk manager is required")
	}
	if c.Scheduler == nil {
		return errors.New("scheduler is required")
	}
	if c.Inventory == nil {
		return errors.New("inventory is required")
	}
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}
