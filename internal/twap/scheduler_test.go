package twap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-maker-twap/internal/events"
	"market-maker-twap/internal/risk"
	"market-maker-twap/order"
)

// stubBackend 按调用序号注入失败、阻塞或回调
type stubBackend struct {
	mu     sync.Mutex
	calls  int
	price  float64
	fail   map[int]error
	block  map[int]chan struct{}
	enter  chan int
	onCall func(n int)
}

func newStubBackend(price float64) *stubBackend {
	return &stubBackend{
		price: price,
		fail:  map[int]error{},
		block: map[int]chan struct{}{},
		enter: make(chan int, 64),
	}
}

func (b *stubBackend) ExecutePart(ctx context.Context, dir order.Direction, size, target float64) (Fill, error) {
	b.mu.Lock()
	n := b.calls
	b.calls++
	err := b.fail[n]
	wait := b.block[n]
	hook := b.onCall
	b.mu.Unlock()

	b.enter <- n
	if wait != nil {
		<-wait
	}
	if hook != nil {
		hook(n)
	}
	if err != nil {
		return Fill{}, err
	}
	return Fill{ExecutedPrice: b.price + float64(n), ExecutedSize: size, Fees: size * 0.001}, nil
}

func (b *stubBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func newTestScheduler(t *testing.T, backend Backend) (*Scheduler, *risk.SimClock, *events.Bus) {
	t.Helper()
	clock := risk.NewSimClock(planStart)
	bus := events.NewBus()
	s, err := NewScheduler(DefaultConfig(), backend, nil, clock, bus, nil)
	require.NoError(t, err)
	return s, clock, bus
}

func waitDone(t *testing.T, s *Scheduler, id string) Plan {
	t.Helper()
	done, err := s.Done(id)
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("order %s did not finish", id)
	}
	plan, err := s.Plan(id)
	require.NoError(t, err)
	return plan
}

func countParts(p Plan, st order.PartStatus) int {
	n := 0
	for _, part := range p.Parts {
		if part.Status == st {
			n++
		}
	}
	return n
}

func TestSchedulerCompletesOrder(t *testing.T) {
	backend := newStubBackend(100)
	s, _, bus := newTestScheduler(t, backend)

	var seen []events.Type
	var mu sync.Mutex
	bus.Subscribe(func(e events.Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	})

	var executed []int
	var stats Stats
	s.SetHooks(Hooks{
		OnPartExecuted: func(_ context.Context, _ Plan, part PartSpec) {
			// 回调返回前下一片不会开始
			assert.Equal(t, part.Index+1, backend.Calls())
			executed = append(executed, part.Index)
		},
		OnOrderDone: func(_ Plan, st Stats) { stats = st },
	})

	in := order.NewIntent(order.Buy, 1.0, 100, 300*time.Second, 10)
	_, err := s.Submit(context.Background(), in, 0)
	require.NoError(t, err)

	plan := waitDone(t, s, in.ID)
	assert.Equal(t, order.StatusCompleted, plan.Status)
	assert.Equal(t, 10, countParts(plan, order.PartExecuted))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, executed)

	assert.InDelta(t, 1.0, stats.ExecutedSize, 1e-9)
	assert.InDelta(t, 104.5, stats.AvgPrice, 1e-9)
	assert.InDelta(t, 0.001, stats.TotalFees, 1e-9)
	assert.Equal(t, 270*time.Second, stats.Elapsed)

	for i := 1; i < len(plan.Parts); i++ {
		assert.False(t, plan.Parts[i].ExecutedAt.Before(plan.Parts[i-1].ExecutedAt))
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, events.OrderStarted, seen[0])
	assert.Equal(t, events.OrderCompleted, seen[len(seen)-1])
	assert.Empty(t, s.Active())
}

func TestSchedulerAbortsOnFailureByDefault(t *testing.T) {
	backend := newStubBackend(100)
	backend.fail[2] = errors.New("rejected by venue")
	s, _, _ := newTestScheduler(t, backend)

	in := order.NewIntent(order.Sell, 1.0, 100, 300*time.Second, 10)
	_, err := s.Submit(context.Background(), in, 0)
	require.NoError(t, err)

	plan := waitDone(t, s, in.ID)
	assert.Equal(t, order.StatusFailed, plan.Status)
	assert.Equal(t, 2, countParts(plan, order.PartExecuted))
	assert.Equal(t, order.PartFailed, plan.Parts[2].Status)
	assert.Contains(t, plan.Parts[2].Error, "rejected by venue")
	assert.Equal(t, 7, countParts(plan, order.PartSkipped))
	assert.Equal(t, 3, backend.Calls())
}

func TestSchedulerContinuesWhenHookAllows(t *testing.T) {
	backend := newStubBackend(100)
	backend.fail[4] = errors.New("timeout")
	s, _, _ := newTestScheduler(t, backend)

	var failErr error
	s.SetHooks(Hooks{OnPartFailed: func(_ Plan, _ PartSpec, err error) bool {
		failErr = err
		return true
	}})

	in := order.NewIntent(order.Buy, 1.0, 100, 300*time.Second, 10)
	_, err := s.Submit(context.Background(), in, 0)
	require.NoError(t, err)

	plan := waitDone(t, s, in.ID)
	assert.Equal(t, order.StatusCompleted, plan.Status)
	assert.Equal(t, 9, countParts(plan, order.PartExecuted))
	assert.Equal(t, 1, countParts(plan, order.PartFailed))

	var ee *ExecutionError
	require.True(t, errors.As(failErr, &ee))
	assert.Equal(t, 4, ee.PartIndex)
}

func TestSchedulerCancelKeepsExecutedParts(t *testing.T) {
	backend := newStubBackend(100)
	release := make(chan struct{})
	backend.block[1] = release
	s, _, _ := newTestScheduler(t, backend)

	in := order.NewIntent(order.Buy, 1.0, 100, 300*time.Second, 10)
	_, err := s.Submit(context.Background(), in, 0)
	require.NoError(t, err)

	<-backend.enter
	<-backend.enter
	require.NoError(t, s.Cancel(in.ID))
	close(release)

	plan := waitDone(t, s, in.ID)
	assert.Equal(t, order.StatusCancelled, plan.Status)
	assert.Equal(t, 2, countParts(plan, order.PartExecuted))
	assert.Equal(t, 8, countParts(plan, order.PartSkipped))

	err = s.Cancel(in.ID)
	assert.True(t, errors.Is(err, ErrOrderFinished))
	assert.True(t, errors.Is(s.Cancel("missing"), ErrUnknownOrder))
}

func TestSchedulerSkipsPartsAfterEndTime(t *testing.T) {
	backend := newStubBackend(100)
	s, clock, _ := newTestScheduler(t, backend)
	backend.onCall = func(n int) {
		if n == 2 {
			clock.Advance(10 * time.Minute)
		}
	}

	in := order.NewIntent(order.Buy, 1.0, 100, 300*time.Second, 10)
	_, err := s.Submit(context.Background(), in, 0)
	require.NoError(t, err)

	plan := waitDone(t, s, in.ID)
	assert.Equal(t, order.StatusCompleted, plan.Status)
	assert.Equal(t, "end time elapsed", plan.Reason)
	assert.Equal(t, 3, countParts(plan, order.PartExecuted))
	assert.Equal(t, 7, countParts(plan, order.PartSkipped))
}

func TestSchedulerRunsLatePartWithinGrace(t *testing.T) {
	backend := newStubBackend(100)
	s, clock, _ := newTestScheduler(t, backend)
	backend.onCall = func(n int) {
		// 第 9 片之后时钟越过结束时间 2s，仍在宽限内
		if n == 8 {
			clock.Advance(62 * time.Second)
		}
	}

	in := order.NewIntent(order.Buy, 1.0, 100, 300*time.Second, 10)
	_, err := s.Submit(context.Background(), in, 0)
	require.NoError(t, err)

	plan := waitDone(t, s, in.ID)
	assert.Equal(t, order.StatusCompleted, plan.Status)
	assert.Equal(t, 10, countParts(plan, order.PartExecuted))
	assert.Zero(t, countParts(plan, order.PartSkipped))
	assert.True(t, plan.Parts[9].ExecutedAt.After(plan.EndTime))
}

func TestSchedulerPoissonExecutesEveryPart(t *testing.T) {
	for seed := uint64(1); seed <= 50; seed++ {
		cfg := DefaultConfig()
		cfg.Poisson = true
		cfg.Seed = seed
		clock := risk.NewSimClock(planStart)
		s, err := NewScheduler(cfg, newStubBackend(100), nil, clock, events.NewBus(), nil)
		require.NoError(t, err)

		in := order.NewIntent(order.Buy, 1.0, 100, 5*time.Minute, 10)
		_, err = s.Submit(context.Background(), in, 0)
		require.NoError(t, err)

		plan := waitDone(t, s, in.ID)
		assert.Equal(t, order.StatusCompleted, plan.Status, "seed %d", seed)
		assert.Equal(t, 10, countParts(plan, order.PartExecuted), "seed %d", seed)
		assert.InDelta(t, 1.0, plan.Stats().ExecutedSize, 1e-9, "seed %d", seed)
	}
}

func TestSchedulerCircuitOpenFailsFast(t *testing.T) {
	backend := newStubBackend(100)
	s, _, _ := newTestScheduler(t, backend)
	s.Breaker().ForceOpen()

	var failErr error
	s.SetHooks(Hooks{OnPartFailed: func(_ Plan, _ PartSpec, err error) bool {
		failErr = err
		return false
	}})

	in := order.NewIntent(order.Buy, 1.0, 100, 300*time.Second, 10)
	_, err := s.Submit(context.Background(), in, 0)
	require.NoError(t, err)

	plan := waitDone(t, s, in.ID)
	assert.Equal(t, order.StatusFailed, plan.Status)
	assert.Equal(t, 0, backend.Calls())
	assert.True(t, errors.Is(failErr, ErrCircuitOpen))
}

func TestSchedulerRejectsInvalidAndDuplicate(t *testing.T) {
	s, _, _ := newTestScheduler(t, newStubBackend(100))

	_, err := s.Submit(context.Background(), order.NewIntent(order.Buy, 50, 100, time.Minute, 2), 0)
	assert.True(t, errors.Is(err, order.ErrInvalidOrder))

	in := order.NewIntent(order.Buy, 0.5, 100, time.Minute, 5)
	_, err = s.Submit(context.Background(), in, 0)
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), in, 0)
	assert.True(t, errors.Is(err, order.ErrInvalidOrder))
	waitDone(t, s, in.ID)
}

func TestSchedulerShutdownCancelsAndDrains(t *testing.T) {
	backend := newStubBackend(100)
	release := make(chan struct{})
	backend.block[0] = release
	s, _, _ := newTestScheduler(t, backend)

	in := order.NewIntent(order.Buy, 1.0, 100, 300*time.Second, 10)
	_, err := s.Submit(context.Background(), in, 0)
	require.NoError(t, err)
	<-backend.enter

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	require.NoError(t, s.Shutdown(context.Background()))

	plan, err := s.Plan(in.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, plan.Status)
	assert.Equal(t, 1, countParts(plan, order.PartExecuted))

	_, err = s.Submit(context.Background(), order.NewIntent(order.Buy, 0.5, 100, time.Minute, 5), 0)
	assert.True(t, errors.Is(err, ErrSchedulerClosed))
}

func TestSchedulerShutdownAbandonsAfterTimeout(t *testing.T) {
	backend := newStubBackend(100)
	release := make(chan struct{})
	backend.block[0] = release
	t.Cleanup(func() { close(release) })

	cfg := DefaultConfig()
	cfg.DrainTimeout = 20 * time.Millisecond
	s, err := NewScheduler(cfg, backend, nil, risk.NewSimClock(planStart), nil, nil)
	require.NoError(t, err)

	in := order.NewIntent(order.Buy, 1.0, 100, 300*time.Second, 10)
	_, err = s.Submit(context.Background(), in, 0)
	require.NoError(t, err)
	<-backend.enter

	err = s.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 orders abandoned")
}
