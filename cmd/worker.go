package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"yqhp/test-scheduler/api/rest/client"
	"yqhp/test-scheduler/internal/worker"
	"yqhp/test-scheduler/pkg/logger"
	"yqhp/test-scheduler/pkg/types"
)

var (
	// worker start 命令的 flags
	workerID          string
	workerName        string
	workerCoordinator string
	workerSlots       int
	workerCommand     string
	workerDir         string
	workerLabels      string
)

// workerCmd 是 worker 子命令
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "管理 Worker",
	Long:  `Worker 从协调器拉取 scope，按顺序执行 scope 内的测试项。`,
}

// workerStartCmd 是 worker start 子命令
var workerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "启动 Worker",
	Long: `启动 Worker，注册到协调器并循环拉取 scope。

每个测试项通过命令模板启动一个进程执行，模板支持占位符：
  - {nodeid}: 测试节点 ID，模板中没有时追加到最后
  - {name}:   测试显示名
  - {module}: 测试所在模块

协调器要求停止时，Worker 在当前测试项结束后退出。`,
	Example: `  # 使用默认配置启动
  testsched worker start

  # 指定协调器地址和并发 scope 数
  testsched worker start --coordinator http://10.0.0.1:8787 --slots 4

  # 自定义执行命令
  testsched worker start --command "python -m pytest -x {nodeid}"

  # 添加标签
  testsched worker start --labels region=cn-east,env=lab`,
	RunE: runWorkerStart,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.AddCommand(workerStartCmd)

	workerStartCmd.Flags().StringVar(&workerID, "id", "", "Worker ID（不指定则自动生成）")
	workerStartCmd.Flags().StringVar(&workerName, "name", "", "Worker 名称")
	workerStartCmd.Flags().StringVar(&workerCoordinator, "coordinator", "", "协调器地址")
	workerStartCmd.Flags().IntVar(&workerSlots, "slots", 0, "同时持有的 scope 数")
	workerStartCmd.Flags().StringVar(&workerCommand, "command", "", "测试项执行命令模板")
	workerStartCmd.Flags().StringVar(&workerDir, "dir", "", "命令工作目录")
	workerStartCmd.Flags().StringVar(&workerLabels, "labels", "", "标签，key=value 格式，逗号分隔")
}

func runWorkerStart(cmd *cobra.Command, args []string) error {
	// 应用命令行参数覆盖
	if cmd.Flags().Changed("id") {
		cfg.Worker.ID = workerID
	}
	if cmd.Flags().Changed("name") {
		cfg.Worker.Name = workerName
	}
	if cmd.Flags().Changed("coordinator") {
		cfg.Worker.CoordinatorURL = workerCoordinator
	}
	if cmd.Flags().Changed("slots") {
		cfg.Worker.Slots = workerSlots
	}
	if cmd.Flags().Changed("command") {
		cfg.Worker.Command = strings.Fields(workerCommand)
	}
	if cfg.Worker.Labels == nil {
		cfg.Worker.Labels = make(map[string]string)
	}
	for k, v := range parseLabels(workerLabels) {
		cfg.Worker.Labels[k] = v
	}

	// 生成 Worker ID
	id := cfg.Worker.ID
	if id == "" {
		id = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}

	log := logger.L()

	runner, err := worker.NewCommandRunner(cfg.Worker.Command, log)
	if err != nil {
		return err
	}
	runner.Dir = workerDir
	if !quiet {
		runner.Output = cmd.OutOrStdout()
	}

	c := client.NewClient(&client.Config{
		CoordinatorURL: cfg.Worker.CoordinatorURL,
		WorkerID:       id,
		Name:           cfg.Worker.Name,
		Labels:         cfg.Worker.Labels,
		RequestTimeout: cfg.Worker.RequestTimeout,
	})

	agent := worker.NewAgent(&worker.Config{
		Slots:             cfg.Worker.Slots,
		PollWait:          cfg.Worker.PollWait,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
	}, c, runner, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 处理关闭信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(cmd.ErrOrStderr(), "\n正在关闭 Worker...")
			cancel()
		case <-ctx.Done():
		}
	}()

	out := cmd.OutOrStdout()
	if !quiet {
		fmt.Fprintf(out, Banner, Version)
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  ID: %s\n", id)
		fmt.Fprintf(out, "  协调器: %s\n", cfg.Worker.CoordinatorURL)
		fmt.Fprintf(out, "  scope 槽位: %d\n", cfg.Worker.Slots)
		fmt.Fprintf(out, "  命令: %s\n", strings.Join(cfg.Worker.Command, " "))
		if len(cfg.Worker.Labels) > 0 {
			fmt.Fprintf(out, "  标签: %v\n", cfg.Worker.Labels)
		}
		fmt.Fprintln(out)
	}

	health, err := c.Health(ctx)
	if err != nil {
		return fmt.Errorf("协调器不可达 %s: %w", cfg.Worker.CoordinatorURL, err)
	}
	if health.Phase == types.PhaseDone {
		if !quiet {
			fmt.Fprintln(out, "协调器已完成调度，没有需要执行的测试。")
		}
		return nil
	}

	summary, err := agent.Run(ctx)
	if err != nil {
		return fmt.Errorf("运行 Worker 失败: %w", err)
	}

	if !quiet {
		fmt.Fprintf(out, "完成 scope: %d  测试项: %d  失败: %d\n", summary.Scopes, summary.Items, summary.Failed)
		if summary.Stopped {
			fmt.Fprintln(out, "协调器要求停止，剩余测试未执行。")
		}
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d 个测试项失败", summary.Failed)
	}
	return nil
}

// parseLabels 解析 key=value,key=value 格式的标签
func parseLabels(s string) map[string]string {
	result := make(map[string]string)
	if s == "" {
		return result
	}
	for _, pair := range strings.Split(s, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) == 2 && parts[0] != "" {
			result[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return result
}
