package twap

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-maker-twap/order"
)

var planStart = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func sumSizes(p Plan) float64 {
	var s float64
	for _, part := range p.Parts {
		s += part.Size
	}
	return s
}

func TestBuildPlanUniformTenParts(t *testing.T) {
	in := order.NewIntent(order.Buy, 1.0, 3400, 300*time.Second, 10)
	plan, err := BuildPlan(in, 0, planStart, DefaultConfig(), nil)
	require.NoError(t, err)

	require.Len(t, plan.Parts, 10)
	assert.Equal(t, order.StatusPending, plan.Status)
	assert.Equal(t, planStart.Add(5*time.Minute), plan.EndTime)
	for i, part := range plan.Parts {
		assert.Equal(t, i, part.Index)
		assert.InDelta(t, 0.1, part.Size, 1e-12)
		assert.Equal(t, planStart.Add(time.Duration(i)*30*time.Second), part.ScheduledTime)
		assert.Equal(t, order.PartPending, part.Status)
		assert.Equal(t, 3400.0, part.TargetPrice)
	}
	assert.InDelta(t, 1.0, sumSizes(plan), 1e-12)
	assert.InDelta(t, 1.0, plan.TotalSize(), 1e-12)
}

func TestBuildPlanSkewTiltsButPreservesTotal(t *testing.T) {
	cfg := DefaultConfig()
	in := order.NewIntent(order.Buy, 1.0, 100, 10*time.Minute, 5)

	long, err := BuildPlan(in, 1, planStart, cfg, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.18, long.Parts[0].Size, 1e-12, "buying while long starts small")
	assert.InDelta(t, 0.22, long.Parts[4].Size, 1e-12)
	assert.InDelta(t, 1.0, sumSizes(long), 1e-12)

	in.Direction = order.Sell
	sell, err := BuildPlan(in, 1, planStart, cfg, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.22, sell.Parts[0].Size, 1e-12, "selling while long starts big")
	assert.InDelta(t, 1.0, sumSizes(sell), 1e-12)

	for _, p := range append(long.Parts, sell.Parts...) {
		assert.GreaterOrEqual(t, p.Size, 0.2*0.9-1e-12)
		assert.LessOrEqual(t, p.Size, 0.2*1.1+1e-12)
	}
}

func TestBuildPlanLotRoundingSumsWithinOneLot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Constraints = order.SizeConstraints{LotSize: 0.001, MinSize: 0.001, MaxSize: 1}
	in := order.NewIntent(order.Sell, 0.7777, 100, time.Hour, 7)

	plan, err := BuildPlan(in, -0.6, planStart, cfg, nil)
	require.NoError(t, err)
	require.Len(t, plan.Parts, 7)
	for _, p := range plan.Parts[:6] {
		assert.NoError(t, cfg.Constraints.Validate(p.Size), "size %v", p.Size)
	}
	assert.InDelta(t, 0.7777, sumSizes(plan), 0.001)
}

func TestBuildPlanReducesPartsBelowMinSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Constraints = order.SizeConstraints{MinSize: 0.1, MaxSize: 1}
	in := order.NewIntent(order.Buy, 0.35, 100, time.Minute, 10)

	plan, err := BuildPlan(in, 0, planStart, cfg, nil)
	require.NoError(t, err)
	assert.Len(t, plan.Parts, 3)
	assert.LessOrEqual(t, len(plan.Parts), in.MaxParts)
	assert.InDelta(t, 0.35, sumSizes(plan), 1e-12)
}

func TestBuildPlanRejects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Constraints = order.SizeConstraints{MinSize: 0.1, MaxSize: 0.5}

	_, err := BuildPlan(order.NewIntent(order.Buy, 3, 100, time.Minute, 2), 0, planStart, cfg, nil)
	assert.True(t, errors.Is(err, order.ErrInvalidOrder))

	_, err = BuildPlan(order.NewIntent(order.Buy, 0.05, 100, time.Minute, 2), 0, planStart, cfg, nil)
	assert.True(t, errors.Is(err, order.ErrInvalidOrder))

	_, err = BuildPlan(order.NewIntent(order.Buy, 1, 100, 0, 2), 0, planStart, cfg, nil)
	assert.True(t, errors.Is(err, order.ErrInvalidOrder))

	// 非有限数量在进入 decimal 运算前被拒绝
	require.NotPanics(t, func() {
		_, err = BuildPlan(order.NewIntent(order.Buy, math.NaN(), 100, time.Minute, 2), 0, planStart, cfg, nil)
	})
	assert.True(t, errors.Is(err, order.ErrInvalidOrder))
}

// constRand 固定返回同一个均匀数
type constRand float64

func (c constRand) Float64() float64 { return float64(c) }

func TestBuildPlanPoissonSpacing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Poisson = true
	in := order.NewIntent(order.Buy, 1, 100, 10*time.Minute, 20)
	nominal := 30 * time.Second

	// U=1 时到达间隔为 0，被下限抬到 50% 名义间隔，总和在窗口内不压缩
	plan, err := BuildPlan(in, 0, planStart, cfg, constRand(0))
	require.NoError(t, err)
	assert.Equal(t, planStart, plan.Parts[0].ScheduledTime)
	for i := 1; i < len(plan.Parts); i++ {
		gap := plan.Parts[i].ScheduledTime.Sub(plan.Parts[i-1].ScheduledTime)
		assert.Equal(t, nominal/2, gap, "part %d", i)
	}

	// 间隔极长时整体压缩，最后一片落在 end-interval
	plan, err = BuildPlan(in, 0, planStart, cfg, constRand(0.999999))
	require.NoError(t, err)
	last := plan.Parts[len(plan.Parts)-1].ScheduledTime
	assert.WithinDuration(t, plan.EndTime.Add(-nominal), last, time.Millisecond)
	for i := 1; i < len(plan.Parts); i++ {
		gap := plan.Parts[i].ScheduledTime.Sub(plan.Parts[i-1].ScheduledTime)
		assert.InDelta(t, float64(nominal), float64(gap), float64(time.Millisecond), "part %d", i)
	}
}

func TestBuildPlanPoissonStaysInsideWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Poisson = true
	in := order.NewIntent(order.Buy, 1, 100, 5*time.Minute, 10)
	interval := 30 * time.Second

	for seed := uint64(1); seed <= 50; seed++ {
		plan, err := BuildPlan(in, 0, planStart, cfg, rand.New(rand.NewPCG(seed, 7)))
		require.NoError(t, err)
		for i := 1; i < len(plan.Parts); i++ {
			prev, cur := plan.Parts[i-1].ScheduledTime, plan.Parts[i].ScheduledTime
			assert.True(t, cur.After(prev), "seed %d part %d", seed, i)
			assert.False(t, cur.After(plan.EndTime.Add(-interval)), "seed %d part %d", seed, i)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	bad := DefaultConfig()
	bad.SkewScale = 1
	assert.Error(t, bad.Validate())
	bad = DefaultConfig()
	bad.Constraints.MinSize = 2
	assert.Error(t, bad.Validate())
	bad = DefaultConfig()
	bad.MinSpacingRatio = 1.5
	assert.Error(t, bad.Validate())
	bad = DefaultConfig()
	bad.EndGrace = -time.Second
	assert.Error(t, bad.Validate())
}

func TestPlanStats(t *testing.T) {
	p := Plan{
		Intent:      order.Intent{ID: "x", Direction: order.Buy},
		Status:      order.StatusCompleted,
		StartTime:   planStart,
		CompletedAt: planStart.Add(time.Minute),
		Parts: []PartSpec{
			{Status: order.PartExecuted, ExecutedPrice: 100, ExecutedSize: 1, Fees: 0.1},
			{Status: order.PartExecuted, ExecutedPrice: 103, ExecutedSize: 2, Fees: 0.2},
			{Status: order.PartFailed},
			{Status: order.PartSkipped},
		},
	}
	st := p.Stats()
	assert.InDelta(t, 102, st.AvgPrice, 1e-12)
	assert.InDelta(t, 0.3, st.TotalFees, 1e-12)
	assert.Equal(t, 3.0, st.ExecutedSize)
	assert.Equal(t, 2, st.PartsExecuted)
	assert.Equal(t, 1, st.PartsFailed)
	assert.Equal(t, 1, st.PartsSkipped)
	assert.Equal(t, time.Minute, st.Elapsed)

	c := p.Clone()
	c.Parts[0].Status = order.PartFailed
	assert.Equal(t, order.PartExecuted, p.Parts[0].Status)
}
