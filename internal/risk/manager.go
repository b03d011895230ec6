package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"market-maker-twap/inventory"
	"market-maker-twap/market"
	"market-maker-twap/order"
)

// State 风控状态
type State int

const (
	// StateNormal 正常交易
	StateNormal State = iota
	// StatePaused 仓位超限暂停，需人工恢复
	StatePaused
	// StateEmergencyStopped 日亏损或回撤超限，需人工重置
	StateEmergencyStopped
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StatePaused:
		return "PAUSED"
	case StateEmergencyStopped:
		return "EMERGENCY_STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Limits 风控限制
type Limits struct {
	MaxOrderSize        float64       `yaml:"max_order_size"`
	MinOrderSize        float64       `yaml:"min_order_size"`
	MaxPositionSize     float64       `yaml:"max_position_size"`     // 基础资产绝对仓位上限
	MaxDailyLoss        float64       `yaml:"max_daily_loss"`        // 计价资产
	MaxDrawdown         float64       `yaml:"max_drawdown"`          // 比例，0.1 = 10%
	MaxSpread           float64       `yaml:"max_spread"`            // 比例
	MaxSlippage         float64       `yaml:"max_slippage"`          // 比例，[0,1)
	StaleAfter          time.Duration `yaml:"stale_after"`           // 行情过期阈值
	FlashCrashThreshold float64       `yaml:"flash_crash_threshold"` // 24h 跌幅，如 -0.20
}

// DefaultLimits 返回默认风控限制
func DefaultLimits() Limits {
	return Limits{
		MaxOrderSize:        1.0,
		MinOrderSize:        0.001,
		MaxPositionSize:     5.0,
		MaxDailyLoss:        500,
		MaxDrawdown:         0.1,
		MaxSpread:           0.01,
		MaxSlippage:         0.005,
		StaleAfter:          30 * time.Second,
		FlashCrashThreshold: -0.20,
	}
}

// Validate 检查限制配置
func (l Limits) Validate() error {
	switch {
	case l.MaxOrderSize <= 0:
		return fmt.Errorf("maxOrderSize must be > 0")
	case l.MinOrderSize < 0 || l.MinOrderSize > l.MaxOrderSize:
		return fmt.Errorf("minOrderSize must be in [0, maxOrderSize]")
	case l.MaxPositionSize <= 0:
		return fmt.Errorf("maxPositionSize must be > 0")
	case l.MaxDailyLoss <= 0:
		return fmt.Errorf("maxDailyLoss must be > 0")
	case l.MaxDrawdown <= 0 || l.MaxDrawdown >= 1:
		return fmt.Errorf("maxDrawdown must be in (0,1)")
	case l.MaxSpread <= 0:
		return fmt.Errorf("maxSpread must be > 0")
	case l.MaxSlippage < 0 || l.MaxSlippage >= 1:
		return fmt.Errorf("maxSlippage must be in [0,1)")
	case l.StaleAfter <= 0:
		return fmt.Errorf("staleAfter must be > 0")
	case l.FlashCrashThreshold >= 0:
		return fmt.Errorf("flashCrashThreshold must be < 0")
	}
	return nil
}

// ExecutionReport 一次切片成交结果，用于更新风控指标
type ExecutionReport struct {
	OrderID        string
	Direction      order.Direction
	Size           float64
	Price          float64
	Fees           float64
	RealizedPnL    float64 // 相对目标价的滑点盈亏减手续费
	Position       float64 // 成交后的基础资产仓位
	PortfolioValue float64 // 成交后的组合价值
	Time           time.Time
}

// Snapshot 风控状态快照（值类型）
type Snapshot struct {
	State                State
	Reason               string
	DailyPnL             float64
	RealizedPnL          float64
	CurrentPosition      float64
	PortfolioValue       float64
	PeakPortfolioValue   float64
	Drawdown             float64
	EmergencyStop        bool
	TradingPaused        bool
	LastResetDate        string
	DailyLossUtilization float64
	PositionUtilization  float64
}

// Alert 风控告警
type Alert struct {
	Type     string
	Message  string
	Snapshot Snapshot
	Time     time.Time
}

// Manager 风控管理器：下单前校验、成交后更新指标、维护状态机
type Manager struct {
	mu       sync.RWMutex
	limits   Limits
	clock    Clock
	state    State
	reason   string
	position float64
	pnl      *PnLTracker

	onStateChange func(old, new State, reason string)
	onAlert       func(Alert)
}

// NewManager 创建风控管理器
func NewManager(limits Limits, initialPortfolioValue float64, clock Clock) (*Manager, error) {
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk limits: %w", err)
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Manager{
		limits: limits,
		clock:  clock,
		state:  StateNormal,
		pnl:    NewPnLTracker(initialPortfolioValue, clock.Now()),
	}, nil
}

// OnStateChange 注册状态变化回调
func (m *Manager) OnStateChange(fn func(old, new State, reason string)) {
	m.mu.Lock()
	m.onStateChange = fn
	m.mu.Unlock()
}

// OnAlert 注册告警回调
func (m *Manager) OnAlert(fn func(Alert)) {
	m.mu.Lock()
	m.onAlert = fn
	m.mu.Unlock()
}

// Limits 返回当前限制
func (m *Manager) Limits() Limits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limits
}

// SetLimits 热更新限制
func (m *Manager) SetLimits(l Limits) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("invalid risk limits: %w", err)
	}
	m.mu.Lock()
	m.limits = l
	m.mu.Unlock()
	return nil
}

// IsTradingAllowed 仅 Normal 状态允许新订单
func (m *Manager) IsTradingAllowed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateNormal
}

// State 当前状态
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// ExpectedSlippage 预估滑点比例：半个相对价差 + 订单名义/24h成交额
func ExpectedSlippage(notional float64, snap market.Snapshot) float64 {
	slip := snap.BidAskSpread / 2
	if snap.Volume24h > 0 {
		slip += notional / snap.Volume24h
	}
	return slip
}

// ValidateOrder 按顺序检查，遇到第一个违规即返回 *RejectError；失败不改变状态
func (m *Manager) ValidateOrder(intent order.Intent, inv inventory.State, snap market.Snapshot) error {
	if err := intent.Validate(); err != nil {
		return err
	}

	now := m.clock.Now()
	if m.pnl.ResetIfNewDay(now) {
		m.emitAlert("daily_reset", "daily PnL reset for new trading day", now)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	l := m.limits

	// 1. 交易状态
	switch m.state {
	case StateEmergencyStopped:
		return reject(ViolationEmergencyStop, "emergency stop active: %s", m.reason)
	case StatePaused:
		return reject(ViolationTradingPaused, "trading paused: %s", m.reason)
	}

	// 2. 单笔规模
	if intent.TotalSize > l.MaxOrderSize {
		return reject(ViolationOrderSize, "order size %.8f exceeds max %.8f", intent.TotalSize, l.MaxOrderSize)
	}

	// 3. 成交后仓位
	resulting := inv.Base + intent.Direction.Sign()*intent.TotalSize
	if math.Abs(resulting) > l.MaxPositionSize {
		return reject(ViolationPositionSize, "resulting position %.8f exceeds max %.8f", resulting, l.MaxPositionSize)
	}

	// 4. 预估日内盈亏
	price := intent.TargetPrice
	if price <= 0 {
		price = snap.Mid
	}
	notional := intent.TotalSize * price
	slippage := ExpectedSlippage(notional, snap)
	projected := m.pnl.DailyPnL() - notional*slippage
	if projected < -l.MaxDailyLoss {
		return reject(ViolationDailyLoss, "projected daily PnL %.4f below -%.4f", projected, l.MaxDailyLoss)
	}

	// 5. 价差
	if snap.BidAskSpread > l.MaxSpread {
		return reject(ViolationSpread, "bid/ask spread %.6f exceeds max %.6f", snap.BidAskSpread, l.MaxSpread)
	}

	// 6. 行情新鲜度
	if err := snap.Validate(); err != nil {
		return reject(ViolationStaleData, "unusable market snapshot: %v", err)
	}
	if age := snap.Age(now); age >= l.StaleAfter {
		return reject(ViolationStaleData, "market data age %v exceeds %v", age, l.StaleAfter)
	}

	// 7. 闪崩
	if snap.PriceChange24h < l.FlashCrashThreshold {
		return reject(ViolationFlashCrash, "24h price change %.4f below %.4f", snap.PriceChange24h, l.FlashCrashThreshold)
	}

	// 8. 滑点
	if slippage > l.MaxSlippage {
		return reject(ViolationSlippage, "expected slippage %.6f exceeds max %.6f", slippage, l.MaxSlippage)
	}
	return nil
}

// UpdateRiskMetrics 成交后更新盈亏、仓位、峰值与回撤，并按阈值切换状态
func (m *Manager) UpdateRiskMetrics(rep ExecutionReport) {
	now := rep.Time
	if now.IsZero() {
		now = m.clock.Now()
	}
	m.pnl.Record(rep.RealizedPnL, rep.PortfolioValue)
	metrics := m.pnl.GetMetrics()

	m.mu.Lock()
	m.position = rep.Position
	l := m.limits
	old := m.state

	switch {
	case metrics.DailyPnL < -l.MaxDailyLoss:
		m.transition(StateEmergencyStopped, fmt.Sprintf("daily loss %.4f exceeds limit %.4f", -metrics.DailyPnL, l.MaxDailyLoss))
	case metrics.Drawdown > l.MaxDrawdown:
		m.transition(StateEmergencyStopped, fmt.Sprintf("drawdown %.4f exceeds limit %.4f", metrics.Drawdown, l.MaxDrawdown))
	case math.Abs(rep.Position) > l.MaxPositionSize && m.state == StateNormal:
		m.transition(StatePaused, fmt.Sprintf("position %.8f exceeds limit %.8f", rep.Position, l.MaxPositionSize))
	}
	changed := old != m.state
	reason := m.reason
	newState := m.state
	notify := m.onStateChange
	m.mu.Unlock()

	if changed {
		if notify != nil {
			notify(old, newState, reason)
		}
		alertType := "trading_paused"
		if newState == StateEmergencyStopped {
			alertType = "emergency_stop"
		}
		m.emitAlert(alertType, reason, now)
	}
}

// transition 需持有写锁；紧急停止优先级高于暂停，不会被降级
func (m *Manager) transition(to State, reason string) {
	if m.state == StateEmergencyStopped || m.state == to {
		return
	}
	m.state = to
	m.reason = reason
}

// RecommendPositionSize 按日亏损、仓位利用率和波动率逐项缩减，并截到 [min, max]
func (m *Manager) RecommendPositionSize(baseSize, volatility float64, inv inventory.State) float64 {
	m.mu.RLock()
	l := m.limits
	m.mu.RUnlock()

	size := baseSize
	daily := m.pnl.DailyPnL()
	if daily < 0 && -daily/l.MaxDailyLoss > 0.6 {
		size *= 0.5
	}
	if math.Abs(inv.Base)/l.MaxPositionSize > 0.6 {
		size *= 0.7
	}
	if volatility > 0.05 {
		size *= math.Max(0, 1-volatility)
	}
	if size < l.MinOrderSize {
		size = l.MinOrderSize
	}
	if size > l.MaxOrderSize {
		size = l.MaxOrderSize
	}
	return size
}

// Pause 人工暂停交易
func (m *Manager) Pause(reason string) {
	m.setState(StatePaused, reason, "trading_paused")
}

// TriggerEmergencyStop 人工触发紧急停止
func (m *Manager) TriggerEmergencyStop(reason string) {
	m.setState(StateEmergencyStopped, reason, "emergency_stop")
}

// ResumeTrading 从暂停恢复；紧急停止需调用 ResetEmergencyStop
func (m *Manager) ResumeTrading() error {
	m.mu.RLock()
	st := m.state
	m.mu.RUnlock()
	if st == StateEmergencyStopped {
		return fmt.Errorf("%w: use ResetEmergencyStop", ErrEmergencyStop)
	}
	m.setState(StateNormal, "manual resume", "trading_resumed")
	return nil
}

// ResetEmergencyStop 人工重置到 Normal
func (m *Manager) ResetEmergencyStop() {
	m.setState(StateNormal, "manual reset", "emergency_reset")
}

func (m *Manager) setState(to State, reason, alertType string) {
	m.mu.Lock()
	old := m.state
	if old == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	m.reason = reason
	if to == StateNormal {
		m.reason = ""
	}
	notify := m.onStateChange
	m.mu.Unlock()

	if notify != nil {
		notify(old, to, reason)
	}
	m.emitAlert(alertType, reason, m.clock.Now())
}

// Snapshot 返回当前风控快照
func (m *Manager) Snapshot() Snapshot {
	metrics := m.pnl.GetMetrics()
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Snapshot{
		State:              m.state,
		Reason:             m.reason,
		DailyPnL:           metrics.DailyPnL,
		RealizedPnL:        metrics.RealizedPnL,
		CurrentPosition:    m.position,
		PortfolioValue:     metrics.PortfolioValue,
		PeakPortfolioValue: metrics.PeakValue,
		Drawdown:           metrics.Drawdown,
		EmergencyStop:      m.state == StateEmergencyStopped,
		TradingPaused:      m.state == StatePaused,
		LastResetDate:      metrics.LastResetDate,
	}
	if metrics.DailyPnL < 0 {
		s.DailyLossUtilization = -metrics.DailyPnL / m.limits.MaxDailyLoss
	}
	s.PositionUtilization = math.Abs(m.position) / m.limits.MaxPositionSize
	return s
}

func (m *Manager) emitAlert(alertType, message string, now time.Time) {
	m.mu.RLock()
	fn := m.onAlert
	m.mu.RUnlock()
	if fn == nil {
		return
	}
	fn(Alert{Type: alertType, Message: message, Snapshot: m.Snapshot(), Time: now})
}
