package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/duke-git/lancet/v2/maputil"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"yqhp/test-scheduler/api/rest"
	"yqhp/test-scheduler/api/rest/client"
	"yqhp/test-scheduler/internal/coordinator"
	"yqhp/test-scheduler/internal/scope"
	"yqhp/test-scheduler/pkg/logger"
	"yqhp/test-scheduler/pkg/types"
)

var (
	// coordinator start 命令的 flags
	coordinatorAddress  string
	coordinatorItems    string
	coordinatorPlaybook string
	coordinatorStrategy string
	coordinatorSlots    int
	coordinatorLinger   time.Duration
	coordinatorDrain    time.Duration
	coordinatorLogHTTP  bool

	// coordinator status 命令的 flags
	coordinatorURL          string
	coordinatorWorkerState  []string
	coordinatorWorkerLabels string
)

// coordinatorCmd 是 coordinator 子命令
var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "管理协调器",
	Long:  `协调器负责测试选择、scope 分组和向 Worker 分发 scope。`,
}

// coordinatorStartCmd 是 coordinator start 子命令
var coordinatorStartCmd = &cobra.Command{
	Use:   "start",
	Short: "启动协调器",
	Long: `选择测试并启动协调器，等待 Worker 注册并拉取 scope。

协调器负责：
  - 校验测试元数据并按 playbook 选择测试
  - 按 scope 分组，最大的 scope 优先分发
  - 把 scope 分配给负载最小的 Worker
  - 检测失联的 Worker

所有 scope 完成后协调器退出；有 scope 因 Worker 失败而丢失时返回错误。
收到 SIGINT/SIGTERM 时不再分配新的 scope，并在 --drain 时间内等待 Worker
执行完当前测试项后断开；再次发送信号立即退出。`,
	Example: `  # 使用默认配置启动
  testsched coordinator start --items items.json --playbook playbook.yaml

  # 指定监听地址和调度策略
  testsched coordinator start --items items.json --address :9000 --strategy file`,
	RunE: runCoordinatorStart,
}

// coordinatorStatusCmd 是 coordinator status 子命令
var coordinatorStatusCmd = &cobra.Command{
	Use:     "status",
	Short:   "查看协调器调度状态",
	Example: `  testsched coordinator status --url http://localhost:8787

  # 只看失联的 Worker
  testsched coordinator status --state stalled --labels pool=azure`,
	RunE:    runCoordinatorStatus,
}

func init() {
	rootCmd.AddCommand(coordinatorCmd)
	coordinatorCmd.AddCommand(coordinatorStartCmd)
	coordinatorCmd.AddCommand(coordinatorStatusCmd)

	// coordinator start flags
	coordinatorStartCmd.Flags().StringVar(&coordinatorAddress, "address", "", "HTTP 服务地址")
	coordinatorStartCmd.Flags().StringVar(&coordinatorItems, "items", "", "测试项列表文件")
	coordinatorStartCmd.Flags().StringVar(&coordinatorPlaybook, "playbook", "", "playbook 文件")
	coordinatorStartCmd.Flags().StringVar(&coordinatorStrategy, "strategy", "", "调度策略（param/scope/file）")
	coordinatorStartCmd.Flags().IntVar(&coordinatorSlots, "slots", 0, "每个 Worker 默认同时持有的 scope 数")
	coordinatorStartCmd.Flags().DurationVar(&coordinatorLinger, "linger", 2*time.Second, "全部完成后保持服务的时间，让 Worker 收到结束通知")
	coordinatorStartCmd.Flags().DurationVar(&coordinatorDrain, "drain", 30*time.Second, "取消后等待 Worker 断开的最长时间，至少两个心跳间隔")
	coordinatorStartCmd.Flags().BoolVar(&coordinatorLogHTTP, "log-requests", false, "记录每个 HTTP 请求")

	// coordinator status flags
	coordinatorStatusCmd.Flags().StringVar(&coordinatorURL, "url", "", "协调器地址")
	coordinatorStatusCmd.Flags().StringSliceVar(&coordinatorWorkerState, "state", nil, "只显示指定状态的 Worker（online/stalled）")
	coordinatorStatusCmd.Flags().StringVar(&coordinatorWorkerLabels, "labels", "", "只显示带有这些标签的 Worker，key=value 格式，逗号分隔")
}

func runCoordinatorStart(cmd *cobra.Command, args []string) error {
	// 应用命令行参数覆盖
	if cmd.Flags().Changed("address") {
		cfg.Coordinator.Address = coordinatorAddress
	}
	if cmd.Flags().Changed("items") {
		cfg.Selection.Items = coordinatorItems
	}
	if cmd.Flags().Changed("playbook") {
		cfg.Selection.Playbook = coordinatorPlaybook
	}
	if cmd.Flags().Changed("strategy") {
		cfg.Scheduler.ScopeStrategy = coordinatorStrategy
	}
	if cmd.Flags().Changed("slots") {
		cfg.Scheduler.MaxInflightScopes = coordinatorSlots
	}

	log := logger.L()

	result, err := selectItemsFromConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(result.Selected) == 0 {
		if !quiet {
			fmt.Fprintln(out, "没有需要执行的测试。")
		}
		return nil
	}

	extractor, err := scope.ByName(cfg.Scheduler.ScopeStrategy, log)
	if err != nil {
		return err
	}

	scheduler := coordinator.NewScopeScheduler(&coordinator.Config{
		DefaultSlots:     cfg.Scheduler.MaxInflightScopes,
		LivenessTimeout:  cfg.Scheduler.LivenessTimeout,
		LivenessInterval: cfg.Scheduler.LivenessInterval,
		EventBuffer:      cfg.Scheduler.EventBuffer,
	}, extractor, coordinator.NewInMemoryWorkerRegistry(), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	abort, forceExit := context.WithCancel(context.Background())
	defer forceExit()

	// 处理关闭信号：第一次取消调度，第二次放弃等待 Worker
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			log.Warn("received shutdown signal, cancelling run")
			cancel()
		case <-abort.Done():
			return
		}
		select {
		case <-sigCh:
			log.Warn("received second shutdown signal, exiting")
			forceExit()
		case <-abort.Done():
		}
	}()

	if err := scheduler.Collect(ctx, result.Selected); err != nil {
		return err
	}

	server := rest.NewServer(scheduler, &rest.Config{
		Address:           cfg.Coordinator.Address,
		ReadTimeout:       cfg.Coordinator.ReadTimeout,
		WriteTimeout:      cfg.Coordinator.WriteTimeout,
		MaxAssignmentWait: cfg.Coordinator.MaxAssignmentWait,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		EnableRequestLog:  coordinatorLogHTTP,
	}, log)

	// 打印启动信息
	if !quiet {
		fmt.Fprintf(out, Banner, Version)
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  HTTP 地址: %s\n", cfg.Coordinator.Address)
		fmt.Fprintf(out, "  调度策略: %s\n", cfg.Scheduler.ScopeStrategy)
		fmt.Fprintf(out, "  测试数: %d\n", len(result.Selected))
		fmt.Fprintf(out, "  scope 数: %d\n", len(scheduler.Snapshot().Pending))
		fmt.Fprintln(out)
	}

	drain := max(coordinatorDrain, 2*cfg.Worker.HeartbeatInterval)
	schedErr := serve(ctx, abort, scheduler, server, coordinatorLinger, drain, log)

	snap := scheduler.Snapshot()
	if !quiet {
		printSnapshot(out, snap)
	}

	if errors.Is(schedErr, context.Canceled) {
		return fmt.Errorf("调度已取消: %w", coordinator.ErrCancelled)
	}
	if schedErr != nil {
		return schedErr
	}
	if len(snap.Failed) > 0 {
		return fmt.Errorf("%d 个 scope 因 Worker 失败未完成", len(snap.Failed))
	}
	return nil
}

// serve runs the scheduler behind the HTTP server until the run ends.
//
// A finished run keeps serving for linger so polling workers learn there is
// no more work. A cancelled run keeps serving until every worker has
// disconnected, for at most drain or until abort ends, so workers still get
// the stop request on their next heartbeat.
func serve(ctx, abort context.Context, scheduler *coordinator.ScopeScheduler, server *rest.Server, linger, drain time.Duration, log *zap.Logger) error {
	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartWithContext(serverCtx)
	}()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	runErr := make(chan error, 1)
	go func() {
		runErr <- scheduler.Run(runCtx)
	}()

	var schedErr error
	select {
	case schedErr = <-runErr:
	case err := <-serverErr:
		cancelRun()
		<-runErr
		return fmt.Errorf("协调器 HTTP 服务异常退出: %w", err)
	}

	if schedErr == nil {
		if linger > 0 {
			// 让仍在拉取任务的 Worker 收到结束通知
			select {
			case <-time.After(linger):
			case <-ctx.Done():
			case <-abort.Done():
			}
		}
	} else {
		awaitWorkers(abort, scheduler, drain, log)
	}

	stopServer()
	if err := <-serverErr; err != nil {
		log.Warn("server shutdown", zap.Error(err))
	}
	return schedErr
}

// awaitWorkers blocks until no worker is connected, drain has passed or
// abort ends.
func awaitWorkers(abort context.Context, scheduler *coordinator.ScopeScheduler, drain time.Duration, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(abort, drain)
	defer cancel()

	events, err := scheduler.Watch(ctx)
	if err != nil {
		log.Warn("watch scheduler events", zap.Error(err))
		return
	}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		workers := scheduler.Snapshot().Workers
		if len(workers) == 0 {
			return
		}
		select {
		case <-ctx.Done():
			ids := make([]string, 0, len(workers))
			for _, w := range workers {
				ids = append(ids, w.ID)
			}
			log.Warn("workers still connected after drain period",
				zap.Duration("drain", drain),
				zap.Strings("workers", ids))
			return
		case <-events:
		case <-ticker.C:
		}
	}
}

func runCoordinatorStatus(cmd *cobra.Command, args []string) error {
	url := cfg.Worker.CoordinatorURL
	if cmd.Flags().Changed("url") {
		url = coordinatorURL
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	c := client.NewClient(&client.Config{CoordinatorURL: url, RequestTimeout: cfg.Worker.RequestTimeout})
	snap, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("获取协调器状态失败: %w", err)
	}

	filter := &coordinator.WorkerFilter{Labels: parseLabels(coordinatorWorkerLabels)}
	for _, state := range coordinatorWorkerState {
		filter.States = append(filter.States, types.WorkerState(state))
	}
	if len(filter.States) > 0 || len(filter.Labels) > 0 {
		workers, err := c.Workers(ctx, filter)
		if err != nil {
			return fmt.Errorf("获取 Worker 列表失败: %w", err)
		}
		snap.Workers = workers.Workers
	}

	printSnapshot(cmd.OutOrStdout(), snap)
	return nil
}

// printSnapshot 打印调度快照
func printSnapshot(w io.Writer, snap *types.SchedulerSnapshot) {
	fmt.Fprintf(w, "阶段: %s\n", snap.Phase)
	fmt.Fprintf(w, "待分配: %d  执行中: %d  已完成: %d  失败: %d\n",
		len(snap.Pending), len(snap.Assigned), len(snap.Completed), len(snap.Failed))

	if len(snap.Workers) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "WORKER\tNAME\tSTATE\tSLOTS\tLOAD\tSCOPES\tREGISTERED\tLABELS")
		for _, ws := range snap.Workers {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
				ws.ID, ws.Name, ws.State, ws.Slots, ws.Load, len(ws.Outstanding),
				ws.RegisteredAt.Format(time.TimeOnly), formatLabels(ws.Labels))
		}
		tw.Flush()
	}

	if len(snap.Failed) > 0 {
		failed := maputil.Keys(snap.Failed)
		sort.Strings(failed)
		fmt.Fprintln(w, "失败的 scope:")
		for _, key := range failed {
			fmt.Fprintf(w, "  - %s (worker %s)\n", key, snap.Failed[key])
		}
	}
}

// formatLabels 按 key 排序输出 key=value 列表
func formatLabels(labels map[string]string) string {
	keys := maputil.Keys(labels)
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+labels[k])
	}
	return strings.Join(pairs, ",")
}
