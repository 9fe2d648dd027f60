package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"yqhp/test-scheduler/internal/collection"
	"yqhp/test-scheduler/internal/metadata"
	"yqhp/test-scheduler/internal/playbook"
	"yqhp/test-scheduler/internal/selection"
	"yqhp/test-scheduler/pkg/logger"
	"yqhp/test-scheduler/pkg/types"
)

var (
	// select 命令的 flags
	selectItems    string
	selectPlaybook string
	selectFormat   string
	selectOutput   string
	selectExplain  bool
)

// selectCmd 是 select 子命令
var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "根据 playbook 选择测试项",
	Long: `读取收集器输出的测试项列表，校验测试元数据，按 playbook 中的条件选择测试，
并按收集顺序输出最终的测试列表。

没有任何条件选中测试时，所有测试各执行一次。被排除的测试总是不会执行。`,
	Example: `  # 使用 YAML playbook 选择测试
  testsched select --items items.json --playbook playbook.yaml

  # 从标准输入读取测试项，输出 JSON
  pytest --collect-only ... | testsched select --items - --format json

  # 使用 HCL playbook 并打印选择明细
  testsched select --items items.yaml --playbook playbook.hcl --explain`,
	RunE: runSelect,
}

func init() {
	rootCmd.AddCommand(selectCmd)

	selectCmd.Flags().StringVar(&selectItems, "items", "", "测试项列表文件（json/yaml/txt，- 表示标准输入）")
	selectCmd.Flags().StringVar(&selectPlaybook, "playbook", "", "playbook 文件（yaml/hcl）")
	selectCmd.Flags().StringVar(&selectFormat, "format", "", "输出格式（text/json/yaml）")
	selectCmd.Flags().StringVarP(&selectOutput, "output", "o", "", "输出文件，默认标准输出")
	selectCmd.Flags().BoolVar(&selectExplain, "explain", false, "在标准错误输出选择明细")
}

func runSelect(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("items") {
		cfg.Selection.Items = selectItems
	}
	if cmd.Flags().Changed("playbook") {
		cfg.Selection.Playbook = selectPlaybook
	}
	if cmd.Flags().Changed("format") {
		cfg.Selection.OutputFormat = selectFormat
	}

	result, err := selectItemsFromConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if selectOutput != "" {
		f, err := os.Create(selectOutput)
		if err != nil {
			return fmt.Errorf("创建输出文件失败: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := collection.WriteSelection(out, result.Selected, collection.Format(cfg.Selection.OutputFormat)); err != nil {
		return err
	}

	if selectExplain {
		explain(cmd.ErrOrStderr(), result)
	}
	return nil
}

// selectItemsFromConfig 执行 加载测试项 → 校验元数据 → 加载 playbook → 选择
func selectItemsFromConfig() (*selection.Result, error) {
	if cfg.Selection.Items == "" {
		return nil, fmt.Errorf("需要指定测试项列表 (--items 或 selection.items)")
	}

	items, err := collection.LoadFile(cfg.Selection.Items)
	if err != nil {
		return nil, fmt.Errorf("加载测试项失败: %w", err)
	}

	validated, err := metadata.ValidateItems(items)
	if err != nil {
		return nil, err
	}

	pb, err := playbook.Load(cfg.Selection.Playbook)
	if err != nil {
		return nil, err
	}

	return selection.NewEngine(logger.L()).SelectPlaybook(validated, pb), nil
}

func explain(w io.Writer, result *selection.Result) {
	fmt.Fprintf(w, "selected: %d\n", len(result.Selected))
	fmt.Fprintf(w, "included: %d\n", len(result.Included))
	fmt.Fprintf(w, "excluded: %d\n", len(result.Excluded))
	fmt.Fprintf(w, "fallback: %v\n", result.Fallback)
	for _, id := range types.ItemIDs(result.Excluded) {
		fmt.Fprintf(w, "  - %s\n", id)
	}
}
