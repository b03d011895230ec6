package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "market-maker-twap/config"
	"market-maker-twap/infrastructure/alert"
	"market-maker-twap/internal/risk"
)

const baseYAML = `
env: dev
risk:
  max_order_size: 1
  min_order_size: 0.001
  max_position_size: 5
  max_daily_loss: 500
  max_drawdown: 0.1
  max_spread: 0.01
  max_slippage: 0.005
  stale_after: 30s
  flash_crash_threshold: -0.2
alert:
  min_level: info
`

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func newTestReloader(t *testing.T, cfg HotReloadConfig) (*HotReloader, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, baseYAML)
	initial, err := appconfig.Load(path)
	require.NoError(t, err)

	r, err := NewHotReloader(path, initial, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { r.Stop(context.Background()) })
	return r, path
}

func TestNewHotReloaderRequiresPath(t *testing.T) {
	_, err := NewHotReloader("", appconfig.Default(), DefaultHotReloadConfig(), nil)
	assert.Error(t, err)
}

func TestReloadAppliesRiskLimitsAndAlertLevel(t *testing.T) {
	r, path := newTestReloader(t, DefaultHotReloadConfig())

	rm, err := risk.NewManager(risk.DefaultLimits(), 10000, nil)
	require.NoError(t, err)
	mock := alert.NewMockChannel("m")
	am := alert.NewManager([]alert.Channel{mock}, 0)
	r.Register("risk", RiskApplier(rm))
	r.Register("alert", AlertApplier(am))

	require.NoError(t, os.WriteFile(path, []byte(`
env: dev
risk:
  max_order_size: 0.25
  min_order_size: 0.001
  max_position_size: 5
  max_daily_loss: 100
  max_drawdown: 0.1
  max_spread: 0.01
  max_slippage: 0.005
  stale_after: 30s
  flash_crash_threshold: -0.2
twap:
  constraints:
    min_size: 0.001
    max_size: 0.25
alert:
  min_level: error
`), 0o644))

	require.NoError(t, r.Reload())
	assert.Equal(t, 0.25, rm.Limits().MaxOrderSize)
	assert.Equal(t, 100.0, rm.Limits().MaxDailyLoss)
	assert.Equal(t, 1, r.Reloads())
	assert.False(t, r.GetLastReloadTime().IsZero())

	// 低于 error 的告警被丢弃
	require.NoError(t, am.SendWarning("ignored", nil))
	assert.Zero(t, mock.Count())
	assert.Equal(t, "error", r.Current().Alert.MinLevel)
}

func TestReloadKeepsOldConfigOnInvalidFile(t *testing.T) {
	r, path := newTestReloader(t, DefaultHotReloadConfig())
	var calls atomic.Int32
	r.Register("count", ApplierFunc(func(appconfig.AppConfig) error {
		calls.Add(1)
		return nil
	}))

	writeConfig(t, path, "env: dev\nrisk:\n  max_drawdown: 2\n")
	assert.Error(t, r.Reload())
	assert.Zero(t, calls.Load())
	assert.Equal(t, 0.1, r.Current().Risk.MaxDrawdown)
	assert.Zero(t, r.Reloads())
}

func TestReloadJoinsApplierErrors(t *testing.T) {
	r, _ := newTestReloader(t, DefaultHotReloadConfig())
	boom := errors.New("boom")
	r.Register("a", ApplierFunc(func(appconfig.AppConfig) error { return boom }))
	r.Register("b", ApplierFunc(func(appconfig.AppConfig) error { return nil }))

	err := r.Reload()
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "a: boom")
}

func TestModelParamsAreNotHotReloaded(t *testing.T) {
	r, path := newTestReloader(t, DefaultHotReloadConfig())
	before := r.Current().Model

	writeConfig(t, path, baseYAML+"model:\n  risk_aversion: 0.5\n  liquidity: 1.5\n  arrival_intensity: 140\n  horizon: 1\n")
	require.NoError(t, r.Reload())
	assert.Equal(t, before, r.Current().Model)
}

func TestWatchTriggersReloadOnWrite(t *testing.T) {
	r, path := newTestReloader(t, HotReloadConfig{Enabled: true})
	applied := make(chan appconfig.AppConfig, 4)
	r.Register("capture", ApplierFunc(func(cfg appconfig.AppConfig) error {
		select {
		case applied <- cfg:
		default:
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))

	// 同目录的其他文件不触发
	writeConfig(t, filepath.Join(filepath.Dir(path), "other.yaml"), "x: 1")
	writeConfig(t, path, baseYAML+"engine:\n  order_parts: 4\n")

	// 一次写入可能产生多个事件，等到看到新值为止
	deadline := time.After(3 * time.Second)
	for seen := false; !seen; {
		select {
		case cfg := <-applied:
			seen = cfg.Engine.OrderParts == 4
		case <-deadline:
			t.Fatal("expected reload after write")
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	assert.NoError(t, r.Stop(stopCtx))
}

func TestDisabledReloaderIsNoop(t *testing.T) {
	r, _ := newTestReloader(t, HotReloadConfig{Enabled: false})
	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, "hot_reload", r.Name())
}
