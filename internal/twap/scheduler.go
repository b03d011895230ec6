package twap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"market-maker-twap/infrastructure/logger"
	"market-maker-twap/internal/events"
	"market-maker-twap/internal/risk"
	"market-maker-twap/order"
)

// Hooks 由编排器提供的回调，在订单自己的 goroutine 中同步执行。
type Hooks struct {
	// OnPartExecuted 返回前必须完成库存与风控更新，之后才会调度下一片
	OnPartExecuted func(ctx context.Context, plan Plan, part PartSpec)
	// OnPartFailed 决定是否继续剩余切片；nil 表示中止
	OnPartFailed func(plan Plan, part PartSpec, err error) bool
	// OnOrderDone 订单进入终态
	OnOrderDone func(plan Plan, stats Stats)
}

type entry struct {
	mu     sync.Mutex
	plan   Plan
	cancel chan struct{}
	once   sync.Once
	done   chan struct{}
}

func (e *entry) snapshot() Plan {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plan.Clone()
}

func (e *entry) requestCancel() {
	e.once.Do(func() { close(e.cancel) })
}

func (e *entry) cancelled() bool {
	select {
	case <-e.cancel:
		return true
	default:
		return false
	}
}

// Scheduler TWAP 执行调度器：每个订单一个 goroutine，切片在订单内顺序执行
type Scheduler struct {
	cfg     Config
	backend Backend
	breaker *risk.CircuitBreaker
	clock   risk.Clock
	bus     *events.Bus
	log     *logger.Logger
	rng     Uniform

	mu     sync.RWMutex
	hooks  Hooks
	orders map[string]*entry
	seq    []string // 提交顺序，用于清理已完成订单
	closed bool
	wg     sync.WaitGroup

	maxFinished int
}

// NewScheduler 创建调度器
func NewScheduler(cfg Config, backend Backend, breaker *risk.CircuitBreaker, clock risk.Clock, bus *events.Bus, log *logger.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid twap config: %w", err)
	}
	if backend == nil {
		return nil, errors.New("twap backend is required")
	}
	if clock == nil {
		clock = risk.SystemClock
	}
	if breaker == nil {
		breaker = risk.NewCircuitBreaker(risk.CircuitBreakerConfig{}, clock)
	}
	if bus == nil {
		bus = events.NewBus()
	}
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	return &Scheduler{
		cfg:         cfg,
		backend:     backend,
		breaker:     breaker,
		clock:       clock,
		bus:         bus,
		log:         log.Named("twap"),
		rng:         newLockedRand(cfg.Seed),
		orders:      make(map[string]*entry),
		maxFinished: 256,
	}, nil
}

// SetHooks 设置回调（启动订单前调用）
func (s *Scheduler) SetHooks(h Hooks) {
	s.mu.Lock()
	s.hooks = h
	s.mu.Unlock()
}

// SetConstraints 热更新切片上下限
func (s *Scheduler) SetConstraints(c order.SizeConstraints) {
	s.mu.Lock()
	s.cfg.Constraints = c
	s.mu.Unlock()
}

// Breaker 返回后端熔断器
func (s *Scheduler) Breaker() *risk.CircuitBreaker { return s.breaker }

// Preview 只生成计划不执行
func (s *Scheduler) Preview(intent order.Intent, skew float64) (Plan, error) {
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()
	return BuildPlan(intent, skew, s.clock.Now(), cfg, s.rng)
}

// Submit 生成计划并启动执行，返回计划副本
func (s *Scheduler) Submit(ctx context.Context, intent order.Intent, skew float64) (Plan, error) {
	if err := ctx.Err(); err != nil {
		return Plan{}, err
	}
	plan, err := s.Preview(intent, skew)
	if err != nil {
		return Plan{}, err
	}

	e := &entry{plan: plan, cancel: make(chan struct{}), done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Plan{}, ErrSchedulerClosed
	}
	if _, dup := s.orders[intent.ID]; dup {
		s.mu.Unlock()
		return Plan{}, fmt.Errorf("%w: duplicate order id %s", order.ErrInvalidOrder, intent.ID)
	}
	s.orders[intent.ID] = e
	s.seq = append(s.seq, intent.ID)
	hooks := s.hooks
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.run(e, hooks)
	}()
	return plan.Clone(), nil
}

// Cancel 协作式撤单：在下一个调度点生效，已执行的切片保留
func (s *Scheduler) Cancel(id string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	final := e.plan.Status.IsFinal()
	e.mu.Unlock()
	if final {
		return fmt.Errorf("%w: %s", ErrOrderFinished, id)
	}
	e.requestCancel()
	return nil
}

// Plan 返回订单计划副本
func (s *Scheduler) Plan(id string) (Plan, error) {
	e, err := s.lookup(id)
	if err != nil {
		return Plan{}, err
	}
	return e.snapshot(), nil
}

// Done 返回订单结束通知
func (s *Scheduler) Done(id string) (<-chan struct{}, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.done, nil
}

// Active 返回未结束订单的 ID
func (s *Scheduler) Active() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0)
	for _, id := range s.seq {
		e := s.orders[id]
		e.mu.Lock()
		if !e.plan.Status.IsFinal() {
			ids = append(ids, id)
		}
		e.mu.Unlock()
	}
	return ids
}

func (s *Scheduler) lookup(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	}
	return e, nil
}

// Shutdown 停止接收新订单，撤销全部订单并等待在途切片结束；超过 DrainTimeout 放弃等待
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	entries := make([]*entry, 0, len(s.orders))
	for _, e := range s.orders {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.requestCancel()
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	timer := time.NewTimer(s.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-drained:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	active := s.Active()
	s.log.Warn("twap drain timeout, abandoning in-flight orders", zap.Strings("orders", active))
	return fmt.Errorf("drain timeout: %d orders abandoned", len(active))
}

// run 单个订单的执行循环
func (s *Scheduler) run(e *entry, hooks Hooks) {
	defer close(e.done)
	ctx := context.Background()

	s.setStatus(e, order.StatusActive, "")
	plan := e.snapshot()
	s.log.Info("twap order started",
		zap.String("order_id", plan.Intent.ID),
		zap.String("direction", string(plan.Intent.Direction)),
		zap.Float64("total_size", plan.Intent.TotalSize),
		zap.Int("parts", len(plan.Parts)))
	s.bus.Publish(events.Event{Type: events.OrderStarted, Time: s.clock.Now(), OrderID: plan.Intent.ID, Data: plan})

	var earliest time.Time
	for i := range plan.Parts {
		part := plan.Parts[i]

		at := part.ScheduledTime
		if earliest.After(at) {
			at = earliest
		}
		if !s.waitUntil(e, at) {
			s.finish(e, order.StatusCancelled, "cancelled", hooks)
			return
		}
		// 计划内的切片在结束时间附近晚醒时仍执行；超出宽限才视为时间用尽
		if part.ScheduledTime.After(plan.EndTime) || s.clock.Now().After(plan.EndTime.Add(s.cfg.EndGrace)) {
			s.finish(e, order.StatusCompleted, "end time elapsed", hooks)
			return
		}

		fill, err := s.execute(ctx, plan.Intent, part)
		if err != nil {
			updated := s.markPart(e, i, order.PartFailed, Fill{}, err)
			s.log.Warn("twap part failed",
				zap.String("order_id", plan.Intent.ID), zap.Int("part", i), zap.Error(err))
			s.bus.Publish(events.Event{Type: events.PartFailed, Time: s.clock.Now(), OrderID: plan.Intent.ID,
				Message: err.Error(), Data: updated.Parts[i]})

			if hooks.OnPartFailed == nil || !hooks.OnPartFailed(updated, updated.Parts[i], err) {
				s.finish(e, order.StatusFailed, err.Error(), hooks)
				return
			}
			continue
		}

		updated := s.markPart(e, i, order.PartExecuted, fill, nil)
		if hooks.OnPartExecuted != nil {
			hooks.OnPartExecuted(ctx, updated, updated.Parts[i])
		}
		s.bus.Publish(events.Event{Type: events.PartExecuted, Time: s.clock.Now(), OrderID: plan.Intent.ID, Data: updated.Parts[i]})
		earliest = s.clock.Now().Add(s.cfg.InterPartDelay)
	}
	s.finish(e, order.StatusCompleted, "", hooks)
}

// waitUntil 等待到指定时间；被撤销时返回 false
func (s *Scheduler) waitUntil(e *entry, at time.Time) bool {
	for {
		if e.cancelled() {
			return false
		}
		d := at.Sub(s.clock.Now())
		if d <= 0 {
			return true
		}
		select {
		case <-e.cancel:
			return false
		case <-s.clock.After(d):
			// 时钟可能提前唤醒，回到循环重新检查
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, intent order.Intent, part PartSpec) (Fill, error) {
	if err := s.breaker.Allow(); err != nil {
		return Fill{}, &ExecutionError{Reason: "circuit open", PartIndex: part.Index, Err: err}
	}
	fill, err := s.backend.ExecutePart(ctx, intent.Direction, part.Size, part.TargetPrice)
	if err == nil && (fill.ExecutedSize <= 0 || fill.ExecutedPrice <= 0) {
		err = fmt.Errorf("backend returned empty fill %+v", fill)
	}
	if err != nil {
		s.breaker.RecordFailure()
		var ee *ExecutionError
		if errors.As(err, &ee) {
			ee.PartIndex = part.Index
			return Fill{}, ee
		}
		return Fill{}, &ExecutionError{Reason: "backend error", PartIndex: part.Index, Err: err}
	}
	s.breaker.RecordSuccess()
	return fill, nil
}

func (s *Scheduler) markPart(e *entry, i int, status order.PartStatus, fill Fill, err error) Plan {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := &e.plan.Parts[i]
	if verr := order.ValidatePartTransition(p.Status, status); verr != nil {
		s.log.Error("part transition rejected", zap.Error(verr))
		return e.plan.Clone()
	}
	p.Status = status
	if status == order.PartExecuted {
		p.ExecutedPrice = fill.ExecutedPrice
		p.ExecutedSize = fill.ExecutedSize
		p.Fees = fill.Fees
		p.Reference = fill.Reference
		p.ExecutedAt = s.clock.Now()
	}
	if err != nil {
		p.Error = err.Error()
	}
	return e.plan.Clone()
}

func (s *Scheduler) setStatus(e *entry, to order.Status, reason string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := order.ValidateTransition(e.plan.Status, to); err != nil {
		return false
	}
	e.plan.Status = to
	if reason != "" {
		e.plan.Reason = reason
	}
	return true
}

// finish 剩余 pending 切片标记为 skipped，写入终态并发出事件
func (s *Scheduler) finish(e *entry, status order.Status, reason string, hooks Hooks) {
	e.mu.Lock()
	for i := range e.plan.Parts {
		if e.plan.Parts[i].Status == order.PartPending {
			e.plan.Parts[i].Status = order.PartSkipped
		}
	}
	e.plan.CompletedAt = s.clock.Now()
	e.mu.Unlock()
	s.setStatus(e, status, reason)

	plan := e.snapshot()
	stats := plan.Stats()

	evType := events.OrderCompleted
	switch status {
	case order.StatusFailed:
		evType = events.OrderFailed
	case order.StatusCancelled:
		evType = events.OrderCancelled
	}
	s.log.Info("twap order finished",
		zap.String("order_id", plan.Intent.ID),
		zap.String("status", string(status)),
		zap.Float64("executed", stats.ExecutedSize),
		zap.Float64("avg_price", stats.AvgPrice),
		zap.Float64("fees", stats.TotalFees),
		zap.Duration("elapsed", stats.Elapsed))
	s.bus.Publish(events.Event{Type: evType, Time: plan.CompletedAt, OrderID: plan.Intent.ID, Message: reason, Data: stats})
	if hooks.OnOrderDone != nil {
		hooks.OnOrderDone(plan, stats)
	}
	s.prune()
}

// prune 只保留最近 maxFinished 个已结束订单
func (s *Scheduler) prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	finished := 0
	for i := len(s.seq) - 1; i >= 0; i-- {
		id := s.seq[i]
		e := s.orders[id]
		e.mu.Lock()
		final := e.plan.Status.IsFinal()
		e.mu.Unlock()
		if !final {
			continue
		}
		finished++
		if finished > s.maxFinished {
			delete(s.orders, id)
			s.seq = append(s.seq[:i], s.seq[i+1:]...)
		}
	}
}
