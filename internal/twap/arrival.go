package twap

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// PoissonDelay 泊松过程的到达间隔 -ln(U)/λ（λ 单位：次/秒），不低于 minSpacing
func PoissonDelay(u, lambda float64, minSpacing time.Duration) time.Duration {
	if lambda <= 0 {
		return minSpacing
	}
	// U 取 (0,1]，避免 ln(0)
	if u <= 0 {
		u = math.SmallestNonzeroFloat64
	}
	if u > 1 {
		u = 1
	}
	d := time.Duration(-math.Log(u) / lambda * float64(time.Second))
	if d < minSpacing {
		return minSpacing
	}
	return d
}

// Uniform 返回 [0,1) 均匀随机数
type Uniform interface {
	Float64() float64
}

// lockedRand 并发安全的随机源
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newLockedRand(seed uint64) *lockedRand {
	if seed == 0 {
		return &lockedRand{r: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
	}
	return &lockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}
