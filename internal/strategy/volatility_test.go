package strategy

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestNewVolatilityEstimatorValidatesConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*VolatilityConfig)
	}{
		{"decay zero", func(c *VolatilityConfig) { c.Decay = 0 }},
		{"decay one", func(c *VolatilityConfig) { c.Decay = 1 }},
		{"no interval", func(c *VolatilityConfig) { c.SampleInterval = 0 }},
		{"no blend", func(c *VolatilityConfig) { c.Blend = 0 }},
		{"inverted band", func(c *VolatilityConfig) { c.Min, c.Max = 1, 0.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultVolatilityConfig()
			tt.mutate(&cfg)
			if _, err := NewVolatilityEstimator(cfg); !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("expected ErrInvalidParameter, got %v", err)
			}
		})
	}
}

func TestVolatilityReturnsSeedUntilTwoSamples(t *testing.T) {
	v, err := NewVolatilityEstimator(DefaultVolatilityConfig())
	if err != nil {
		t.Fatal(err)
	}
	if got := v.Current(); got != 0.2 {
		t.Fatalf("expected seed 0.2, got %v", got)
	}
	got, err := v.Update(100, time.Unix(0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if got != 0.2 {
		t.Errorf("single sample should keep seed, got %v", got)
	}
	got, _ = v.Update(101, time.Unix(5, 0))
	if got == 0.2 {
		t.Errorf("expected estimate to move after second sample")
	}
}

func TestVolatilityEWMAFormula(t *testing.T) {
	cfg := DefaultVolatilityConfig()
	v, _ := NewVolatilityEstimator(cfg)

	ppy := cfg.PeriodsPerYear()
	if ppy != 365*24*60*60/5 {
		t.Fatalf("unexpected periods per year %v", ppy)
	}
	seedVar := 0.2 * 0.2 / ppy

	v.Update(100, time.Unix(0, 0))
	got, _ := v.Update(101, time.Unix(5, 0))

	r := math.Log(101.0 / 100.0)
	wantVar := 0.94*seedVar + 0.06*r*r
	if math.Abs(v.GetVariance()-wantVar) > 1e-15 {
		t.Errorf("variance: want %v got %v", wantVar, v.GetVariance())
	}
	want := clamp(0.1*math.Sqrt(wantVar*ppy)+0.9*0.2, 0.01, 1.0)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("sigma: want %v got %v", want, got)
	}
}

func TestVolatilityConstantSeriesConverges(t *testing.T) {
	v, _ := NewVolatilityEstimator(DefaultVolatilityConfig())
	prev := v.Current()
	for i := 0; i < 2000; i++ {
		got, err := v.Update(3400, time.Unix(int64(i*5), 0))
		if err != nil {
			t.Fatal(err)
		}
		if math.IsNaN(got) || math.IsInf(got, 0) {
			t.Fatalf("diverged at %d: %v", i, got)
		}
		if got > prev+1e-15 {
			t.Fatalf("constant series should not increase sigma: %v -> %v", prev, got)
		}
		prev = got
	}
	if prev != 0.01 {
		t.Errorf("expected convergence to lower clamp 0.01, got %v", prev)
	}
}

func TestVolatilityClampsHigh(t *testing.T) {
	v, _ := NewVolatilityEstimator(DefaultVolatilityConfig())
	price := 100.0
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			price *= 1.5
		} else {
			price /= 1.5
		}
		v.Update(price, time.Unix(int64(i), 0))
	}
	if got := v.Current(); got != 1.0 {
		t.Errorf("expected upper clamp 1.0, got %v", got)
	}
}

func TestVolatilityRejectsBadPriceAndResets(t *testing.T) {
	v, _ := NewVolatilityEstimator(DefaultVolatilityConfig())
	if _, err := v.Update(0, time.Now()); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
	v.Update(100, time.Unix(0, 0))
	v.Update(120, time.Unix(5, 0))
	if v.GetSampleCount() != 2 || len(v.Samples()) != 2 {
		t.Fatalf("expected 2 samples")
	}
	// 时间倒退的观测被拒绝且不计入样本；同一时间戳可以接受
	before := v.Current()
	if _, err := v.Update(110, time.Unix(3, 0)); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter for out-of-order sample, got %v", err)
	}
	if v.GetSampleCount() != 2 || v.Current() != before {
		t.Errorf("out-of-order sample must not change state")
	}
	if _, err := v.Update(121, time.Unix(5, 0)); err != nil {
		t.Errorf("equal timestamp should be accepted: %v", err)
	}
	v.Reset()
	if v.Current() != 0.2 || v.GetSampleCount() != 0 {
		t.Errorf("reset should restore seed")
	}
	if _, err := v.Update(100, time.Unix(1, 0)); err != nil {
		t.Errorf("reset should clear the last timestamp: %v", err)
	}
	v.Reset()
	if v.GetStatistics()["sample_count"] != 0 {
		t.Errorf("unexpected statistics %+v", v.GetStatistics())
	}
}
