package inventory

import (
	"context"
	"fmt"
)

// BalanceProvider 外部余额来源，每次成交后轮询。
type BalanceProvider interface {
	Balances(ctx context.Context) (State, error)
}

// Sync 从 BalanceProvider 拉取余额并替换 Store 中的快照。
type Sync struct {
	Provider BalanceProvider
	Store    *Store
}

// Refresh 拉取一次余额；保留本地平均成本（外部余额不含成本信息）。
func (s *Sync) Refresh(ctx context.Context) (State, error) {
	if s.Provider == nil || s.Store == nil {
		return State{}, fmt.Errorf("inventory sync not configured")
	}
	bal, err := s.Provider.Balances(ctx)
	if err != nil {
		return State{}, fmt.Errorf("fetch balances: %w", err)
	}
	if bal.Quote < 0 {
		return State{}, fmt.Errorf("provider returned negative quote balance %f", bal.Quote)
	}
	return s.Store.Update(func(cur State) State {
		if bal.AvgCost == 0 && bal.Base != 0 {
			bal.AvgCost = cur.AvgCost
		}
		return bal
	}), nil
}
