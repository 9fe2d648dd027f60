package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"yqhp/test-scheduler/internal/collection"
	"yqhp/test-scheduler/internal/scope"
	"yqhp/test-scheduler/pkg/logger"
)

var (
	// scope 命令的 flags
	scopeStrategy string
	scopeItems    string
)

// scopeCmd 是 scope 子命令
var scopeCmd = &cobra.Command{
	Use:   "scope [nodeid...]",
	Short: "显示测试节点 ID 的 scope",
	Long: `按调度策略计算每个节点 ID 的 scope。

调度策略：
  - param: 方括号中的参数以 / 连接，没有参数时按类或模块分组
  - scope: 按类分组，普通函数按模块分组
  - file:  按模块分组`,
	Example: `  testsched scope "suite/test_net.py::TestNet::test_ping[A]"
  testsched scope --strategy file --items items.json`,
	RunE: runScope,
}

func init() {
	rootCmd.AddCommand(scopeCmd)

	scopeCmd.Flags().StringVar(&scopeStrategy, "strategy", "", "调度策略（param/scope/file）")
	scopeCmd.Flags().StringVar(&scopeItems, "items", "", "测试项列表文件")
}

func runScope(cmd *cobra.Command, args []string) error {
	strategy := cfg.Scheduler.ScopeStrategy
	if cmd.Flags().Changed("strategy") {
		strategy = scopeStrategy
	}
	extractor, err := scope.ByName(strategy, logger.L())
	if err != nil {
		return err
	}

	ids := args
	if scopeItems != "" {
		items, err := collection.LoadFile(scopeItems)
		if err != nil {
			return fmt.Errorf("加载测试项失败: %w", err)
		}
		for _, item := range items {
			ids = append(ids, item.ID)
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("需要至少一个节点 ID 或 --items")
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for _, id := range ids {
		fmt.Fprintf(w, "%s\t%s\n", id, extractor.ScopeOf(id))
	}
	return w.Flush()
}
