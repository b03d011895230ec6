package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SizeConstraints 描述切片数量的步长与上下限。
type SizeConstraints struct {
	LotSize float64 `yaml:"lot_size"` // 最小数量步长，0 表示不取整
	MinSize float64 `yaml:"min_size"`
	MaxSize float64 `yaml:"max_size"`
}

// Validate 检查数量是否满足步长与上下限。
func (c SizeConstraints) Validate(qty float64) error {
	if c.LotSize > 0 && !c.isMultiple(qty) {
		return fmt.Errorf("%w: qty %.8f not aligned to lotSize %.8f", ErrInvalidOrder, qty, c.LotSize)
	}
	if c.MinSize > 0 && qty < c.MinSize {
		return fmt.Errorf("%w: qty %.8f < minSize %.8f", ErrInvalidOrder, qty, c.MinSize)
	}
	if c.MaxSize > 0 && qty > c.MaxSize {
		return fmt.Errorf("%w: qty %.8f > maxSize %.8f", ErrInvalidOrder, qty, c.MaxSize)
	}
	return nil
}

// Clamp 把数量截到 [MinSize, MaxSize]。
func (c SizeConstraints) Clamp(qty float64) float64 {
	if c.MinSize > 0 && qty < c.MinSize {
		qty = c.MinSize
	}
	if c.MaxSize > 0 && qty > c.MaxSize {
		qty = c.MaxSize
	}
	return qty
}

// RoundDown 把数量向下取整到 LotSize 的整数倍。
func (c SizeConstraints) RoundDown(qty float64) float64 {
	if c.LotSize <= 0 {
		return qty
	}
	lot := decimal.NewFromFloat(c.LotSize)
	q := decimal.NewFromFloat(qty)
	v, _ := q.Div(lot).Floor().Mul(lot).Float64()
	return v
}

// Remainder 返回 total - sum(parts)，按十进制计算以避免浮点累计误差。
func Remainder(total float64, parts []float64) float64 {
	rest := decimal.NewFromFloat(total)
	for _, p := range parts {
		rest = rest.Sub(decimal.NewFromFloat(p))
	}
	v, _ := rest.Float64()
	return v
}

func (c SizeConstraints) isMultiple(qty float64) bool {
	lot := decimal.NewFromFloat(c.LotSize)
	if lot.IsZero() {
		return true
	}
	return decimal.NewFromFloat(qty).Mod(lot).IsZero()
}
