package inventory

import (
	"sync/atomic"
)

// State 持仓快照：基础资产可为负（空头），计价资产非负。创建后不可修改。
type State struct {
	Base    float64
	Quote   float64
	AvgCost float64 // 基础资产加权平均成本
}

// Value 以 mid 计价的组合总价值。
func (s State) Value(mid float64) float64 {
	return s.Base*mid + s.Quote
}

// BaseRatio 基础资产价值占组合价值的比例；组合价值非正时返回 0.5。
func (s State) BaseRatio(mid float64) float64 {
	total := s.Value(mid)
	if total <= 0 {
		return 0.5
	}
	return s.Base * mid / total
}

// Apply 根据一次成交生成新快照。delta 为基础资产变动（买正卖负），fees 以计价资产扣除。
func (s State) Apply(delta, price, fees float64) State {
	next := s
	next.Base += delta
	next.Quote -= delta*price + fees

	// 简化：加权平均成本，仅在同向加仓时更新
	switch {
	case next.Base == 0:
		next.AvgCost = 0
	case s.Base == 0 || (s.Base > 0) != (next.Base > 0):
		next.AvgCost = price
	case (delta > 0) == (s.Base > 0):
		next.AvgCost = (s.AvgCost*s.Base + price*delta) / next.Base
	}
	return next
}

// Store 通过原子指针替换持有最新快照，读者永远看到完整的状态。
type Store struct {
	ptr atomic.Pointer[State]
}

func NewStore(initial State) *Store {
	s := &Store{}
	s.ptr.Store(&initial)
	return s
}

// Load 返回当前快照副本。
func (s *Store) Load() State {
	return *s.ptr.Load()
}

// Replace 整体替换快照。
func (s *Store) Replace(next State) {
	s.ptr.Store(&next)
}

// Update 以 CAS 循环应用纯函数，返回新快照。
func (s *Store) Update(fn func(State) State) State {
	for {
		old := s.ptr.Load()
		next := fn(*old)
		if s.ptr.CompareAndSwap(old, &next) {
			return next
		}
	}
}

// Fill 记录成交。
func (s *Store) Fill(delta, price, fees float64) State {
	return s.Update(func(st State) State { return st.Apply(delta, price, fees) })
}
