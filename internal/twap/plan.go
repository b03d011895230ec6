package twap

import (
	"fmt"
	"math"
	"time"

	"market-maker-twap/order"
)

// Config 调度器配置
type Config struct {
	Constraints      order.SizeConstraints `yaml:"constraints"`
	Poisson          bool                  `yaml:"poisson"`           // 泊松到达间隔，否则均匀间隔
	ArrivalIntensity float64               `yaml:"arrival_intensity"` // 次/秒；0 表示 maxParts/duration
	MinSpacingRatio  float64               `yaml:"min_spacing_ratio"` // 泊松间隔下限 = ratio × 名义间隔
	InterPartDelay   time.Duration         `yaml:"inter_part_delay"`  // 成功后到下一片的最短间隔
	EndGrace         time.Duration         `yaml:"end_grace"`         // 结束时间之后仍允许执行已到期切片的宽限
	SkewScale        float64               `yaml:"skew_scale"`        // 库存倾斜幅度，0.1 = ±10%
	DrainTimeout     time.Duration         `yaml:"drain_timeout"`
	Seed             uint64                `yaml:"seed"` // 0 表示随机种子
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Constraints:     order.SizeConstraints{MinSize: 0.001, MaxSize: 1},
		MinSpacingRatio: 0.5,
		InterPartDelay:  time.Second,
		EndGrace:        5 * time.Second,
		SkewScale:       0.1,
		DrainTimeout:    30 * time.Second,
	}
}

// Validate 检查配置
func (c Config) Validate() error {
	if c.Constraints.MinSize < 0 || (c.Constraints.MaxSize > 0 && c.Constraints.MinSize > c.Constraints.MaxSize) {
		return fmt.Errorf("invalid size constraints [%f, %f]", c.Constraints.MinSize, c.Constraints.MaxSize)
	}
	if c.MinSpacingRatio < 0 || c.MinSpacingRatio > 1 {
		return fmt.Errorf("minSpacingRatio must be in [0,1], got %f", c.MinSpacingRatio)
	}
	if c.SkewScale < 0 || c.SkewScale >= 1 {
		return fmt.Errorf("skewScale must be in [0,1), got %f", c.SkewScale)
	}
	if c.EndGrace < 0 {
		return fmt.Errorf("endGrace must be >= 0")
	}
	if c.ArrivalIntensity < 0 {
		return fmt.Errorf("arrivalIntensity must be >= 0")
	}
	return nil
}

// BuildPlan 生成执行计划。skew 为最近报价的库存倾斜因子 [-1,1]（正值表示库存高于目标）。
// 买入且库存偏多时后置加量，卖出时前置加量；倾斜后重新归一化，Σsize = totalSize。
func BuildPlan(intent order.Intent, skew float64, now time.Time, cfg Config, rng Uniform) (Plan, error) {
	if err := intent.Validate(); err != nil {
		return Plan{}, err
	}
	c := cfg.Constraints

	if c.MinSize > 0 && intent.TotalSize < c.MinSize {
		return Plan{}, fmt.Errorf("%w: total size %.8f below min slice %.8f", order.ErrInvalidOrder, intent.TotalSize, c.MinSize)
	}

	parts := intent.MaxParts
	base := intent.TotalSize / float64(parts)
	if c.MinSize > 0 && base < c.MinSize {
		// 切片过小时减少切片数
		parts = int(math.Floor(intent.TotalSize / c.MinSize))
		if parts < 1 {
			parts = 1
		}
		base = intent.TotalSize / float64(parts)
	}
	if c.MaxSize > 0 && base > c.MaxSize {
		return Plan{}, fmt.Errorf("%w: slice size %.8f exceeds max %.8f with %d parts",
			order.ErrInvalidOrder, base, c.MaxSize, intent.MaxParts)
	}

	sizes := skewedSizes(intent.TotalSize, parts, base, tilt(skew, intent.Direction, cfg.SkewScale), c)
	times := scheduleTimes(now, intent.Duration, parts, cfg, rng)
	end := now.Add(intent.Duration)

	plan := Plan{
		Intent:    intent,
		Status:    order.StatusPending,
		Parts:     make([]PartSpec, parts),
		Skew:      skew,
		StartTime: now,
		EndTime:   end,
	}
	for i := range plan.Parts {
		plan.Parts[i] = PartSpec{
			Index:         i,
			Size:          sizes[i],
			ScheduledTime: times[i],
			TargetPrice:   intent.TargetPrice,
			Status:        order.PartPending,
		}
	}
	return plan, nil
}

// tilt 返回线性倾斜斜率：正值前置加量
func tilt(skew float64, dir order.Direction, scale float64) float64 {
	skew = math.Max(-1, math.Min(1, skew))
	return -scale * skew * dir.Sign()
}

func skewedSizes(total float64, n int, base, s float64, c order.SizeConstraints) []float64 {
	// 收窄斜率保证倾斜后仍在 [min,max] 内
	limit := math.Abs(s)
	if c.MaxSize > 0 {
		limit = math.Min(limit, c.MaxSize/base-1)
	}
	if c.MinSize > 0 {
		limit = math.Min(limit, 1-c.MinSize/base)
	}
	s = math.Copysign(math.Max(0, limit), s)

	sizes := make([]float64, n)
	if n == 1 {
		sizes[0] = total
		return sizes
	}
	// 权重 1 + s(1 - 2i/(n-1)) 对称，Σw = n
	for i := 0; i < n-1; i++ {
		w := 1 + s*(1-2*float64(i)/float64(n-1))
		sizes[i] = c.RoundDown(total * w / float64(n))
	}
	// 最后一片吸收取整余量
	sizes[n-1] = order.Remainder(total, sizes[:n-1])
	return sizes
}

func scheduleTimes(now time.Time, duration time.Duration, n int, cfg Config, rng Uniform) []time.Time {
	times := make([]time.Time, n)
	interval := duration / time.Duration(n)
	if !cfg.Poisson || rng == nil {
		for i := range times {
			times[i] = now.Add(time.Duration(i) * interval)
		}
		return times
	}

	lambda := cfg.ArrivalIntensity
	if lambda <= 0 {
		lambda = float64(n) / duration.Seconds()
	}
	minSpacing := time.Duration(cfg.MinSpacingRatio * float64(interval))
	offsets := make([]time.Duration, n)
	for i := 1; i < n; i++ {
		offsets[i] = offsets[i-1] + PoissonDelay(1-rng.Float64(), lambda, minSpacing)
	}
	// 最后一片不晚于 end-interval，给成交和片间延迟留出余量
	fitOffsets(offsets, duration-interval)
	for i := range times {
		times[i] = now.Add(offsets[i])
	}
	return times
}

// fitOffsets 累计间隔超出 limit 时整体等比压缩，保持各间隔的相对比例
func fitOffsets(offsets []time.Duration, limit time.Duration) {
	if len(offsets) == 0 {
		return
	}
	last := offsets[len(offsets)-1]
	if last <= limit || last <= 0 {
		return
	}
	scale := float64(max(limit, 0)) / float64(last)
	for i := range offsets {
		offsets[i] = time.Duration(float64(offsets[i]) * scale)
	}
}
