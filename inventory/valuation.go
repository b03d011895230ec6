package inventory

// Unrealized 基于当前 mid 价计算未实现盈亏。
func (s State) Unrealized(mid float64) float64 {
	if s.Base == 0 {
		return 0
	}
	return (mid - s.AvgCost) * s.Base
}

// Valuation 返回净仓位与未实现盈亏。
func (s *Store) Valuation(mid float64) (net float64, pnl float64) {
	st := s.Load()
	return st.Base, st.Unrealized(mid)
}
