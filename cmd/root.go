// Package cmd 提供 testsched CLI 的命令实现
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"yqhp/test-scheduler/internal/config"
	"yqhp/test-scheduler/pkg/logger"
)

const (
	// Version 是当前版本号
	Version = "0.1.0"
	// Banner 是启动时显示的 ASCII 艺术
	Banner = `
   _            _            _              _
  | |_ ___  ___| |_ ___  ___| |__   ___  __| |
  | __/ _ \/ __| __/ __|/ __| '_ \ / _ \/ _' |
  | ||  __/\__ \ |_\__ \ (__| | | |  __/ (_| |
   \__\___||___/\__|___/\___|_| |_|\___|\__,_|  %s
`
)

var (
	// 全局配置
	cfgFile   string
	debug     bool
	quiet     bool
	overrides map[string]string

	// cfg 是 PersistentPreRunE 加载后的配置
	cfg *config.Config
)

// rootCmd 是根命令
var rootCmd = &cobra.Command{
	Use:   "testsched",
	Short: "测试选择与按 scope 分布式调度",
	Long: `testsched 根据 playbook 从收集到的测试项中选择要执行的测试，
并按 scope 把测试分发给多个 Worker，同一 scope 的测试只在一个 Worker 上按顺序执行。`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
}

// Execute 执行根命令
func Execute() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	// 全局 flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "启用调试日志")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "静默模式")
	rootCmd.PersistentFlags().StringToStringVar(&overrides, "set", nil, "覆盖配置项，如 --set scheduler.max_inflight_scopes=4")

	// 禁用默认的 completion 命令
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// 自定义版本模板
	rootCmd.SetVersionTemplate(fmt.Sprintf(Banner, Version) + "\n")
}

// loadConfig 加载配置并初始化全局日志
func loadConfig() error {
	loader := config.NewLoader()
	if cfgFile != "" {
		loader = loader.WithConfigPath(cfgFile)
	}
	if len(overrides) > 0 {
		loader = loader.WithCmdArgs(overrides)
	}

	loaded, err := loader.Load()
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	switch {
	case debug:
		loaded.Logging.Level = "debug"
	case quiet:
		loaded.Logging.Level = "error"
	}

	if err := config.ValidateConfig(loaded); err != nil {
		return err
	}

	cfg = loaded
	logger.Replace(logger.New(cfg.Logging.LoggerConfig()))
	return nil
}

// GetRootCmd 返回根命令（用于测试）
func GetRootCmd() *cobra.Command {
	return rootCmd
}
