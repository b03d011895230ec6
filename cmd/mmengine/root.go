package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"market-maker-twap/config"
)

// app 子命令共享的 viper 实例；flag 未显式指定时读取 MM_ 前缀的环境变量
type app struct {
	v   *viper.Viper
	out io.Writer
	now func() time.Time
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out, now: time.Now}
	a.v.SetEnvPrefix("MM")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "mmengine",
		Short: "Avellaneda-Stoikov quoting with TWAP execution",
		Long: `mmengine quotes around a reservation price, decides when inventory
needs rebalancing and executes the resulting orders as TWAP slices
against a paper backend.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.v.BindPFlags(cmd.Flags())
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringP("config", "c", "", "YAML config file (env MM_CONFIG)")
	root.PersistentFlags().String("log-level", "", "override log.level (env MM_LOG_LEVEL)")

	root.AddCommand(a.runCmd())
	root.AddCommand(a.quoteCmd())
	root.AddCommand(a.planCmd())
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mmengine version %s\n", version)
		},
	}
}

// loadConfig 有 --config 时读文件（含环境变量覆盖），否则使用默认配置
func (a *app) loadConfig() (config.AppConfig, string, error) {
	path := a.v.GetString("config")
	cfg := config.Default()
	if path != "" {
		var err error
		cfg, err = config.LoadWithEnvOverrides(path)
		if err != nil {
			return cfg, path, err
		}
	} else {
		config.ApplyEnv(&cfg)
	}
	if lvl := a.v.GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if err := config.Validate(cfg); err != nil {
		return cfg, path, err
	}
	return cfg, path, nil
}
