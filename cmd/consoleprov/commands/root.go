// Package commands 定义 consoleprov 的 cobra 命令与参数绑定。
package commands

import (
	"github.com/spf13/cobra"

	"github.com/consoleprov/consoleprov/internal/config"
	"github.com/consoleprov/consoleprov/pkg/logger"
)

// globalFlags 所有子命令共享的参数
type globalFlags struct {
	configPath string
	logLevel   string
}

// Root consoleprov 根命令
func Root() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "consoleprov",
		Short:         "Install and configure network appliances over their serial console",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to config file (default: configs/config.yaml if present)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	cmd.AddCommand(Install(g))
	cmd.AddCommand(Configure(g))
	cmd.AddCommand(Provision(g))
	cmd.AddCommand(Dialogue(g))
	return cmd
}

// load 读取配置并初始化日志
func (g *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if err := logger.Init(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}
