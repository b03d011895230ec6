package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"market-maker-twap/infrastructure/logger"
	"market-maker-twap/internal/container"
)

func (a *app) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the quoting and execution engine",
		Long: `Run polls market data, quotes continuously and executes rebalancing
orders as TWAP slices. SIGINT/SIGTERM stop it gracefully; SIGHUP reloads
the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context())
		},
	}
	cmd.Flags().String("metrics-addr", "", "serve /metrics and /healthz here (env MM_METRICS_ADDR)")
	cmd.Flags().Duration("shutdown-timeout", 45*time.Second, "max time to drain running orders on shutdown")
	return cmd
}

func (a *app) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, path, err := a.loadConfig()
	if err != nil {
		return err
	}
	if addr := a.v.GetString("metrics-addr"); addr != "" {
		cfg.Metrics.Addr = addr
		cfg.Metrics.Enabled = true
	}

	c := container.NewWithConfig(cfg, path)
	if err := c.Build(ctx); err != nil {
		return err
	}
	log := c.Logger()

	// 组件使用不随信号取消的 ctx，关闭顺序由 Stop 控制
	if err := c.Start(ctx); err != nil {
		_ = c.Stop(context.Background())
		return err
	}
	notify(log, daemon.SdNotifyReady)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	var watchdog <-chan time.Time
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		watchdog = t.C
	}

	log.Info("mmengine running", zap.String("version", version), zap.String("config", path))

loop:
	for {
		select {
		case <-sigCtx.Done():
			break loop
		case <-hup:
			r := c.HotReloader()
			if r == nil {
				log.Warn("SIGHUP ignored: hot reload disabled")
				continue
			}
			if err := r.Reload(); err != nil {
				log.Error("reload failed", zap.Error(err))
			}
		case <-watchdog:
			// 不健康时停止喂狗，由 systemd 重启
			if err := c.HealthCheck(); err != nil {
				log.Warn("health check failed", zap.Error(err))
				continue
			}
			notify(log, daemon.SdNotifyWatchdog)
		}
	}

	log.Info("shutting down")
	notify(log, daemon.SdNotifyStopping)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.v.GetDuration("shutdown-timeout"))
	defer cancel()
	if err := c.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// notify 不在 systemd 下运行时 SdNotify 返回 false，忽略即可
func notify(log *logger.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Warn("sd_notify failed", zap.String("state", state), zap.Error(err))
	}
}
