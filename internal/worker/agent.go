package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"yqhp/test-scheduler/internal/coordinator"
	"yqhp/test-scheduler/pkg/logger"
	"yqhp/test-scheduler/pkg/types"
)

// ErrStopped 表示协调器要求 Worker 停止。
var ErrStopped = errors.New("worker stopped by coordinator")

// Coordinator 是 Worker 访问协调器的接口，由 api/rest/client.Client 实现。
type Coordinator interface {
	Register(ctx context.Context, slots int) (*types.WorkerRegisterResponse, error)
	NextAssignment(ctx context.Context, wait time.Duration) (*types.Assignment, error)
	ReportCompletion(ctx context.Context, scope string) error
	Heartbeat(ctx context.Context) (bool, error)
	Disconnect(ctx context.Context) error
}

// Config 保存 Worker 代理的配置。
type Config struct {
	// Slots 是同时持有的 scope 数量。
	Slots int

	// PollWait 是每次拉取任务的最长等待时间。
	PollWait time.Duration

	// HeartbeatInterval 是心跳发送间隔，注册响应中的值优先。
	HeartbeatInterval time.Duration
}

// DefaultConfig 返回默认的 Worker 配置。
func DefaultConfig() *Config {
	return &Config{
		Slots:             2,
		PollWait:          30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
	}
}

// Summary 汇总 Worker 的执行情况。
type Summary struct {
	WorkerID string
	Scopes   int
	Items    int
	Failed   int
	Stopped  bool
}

// Agent 拉取 scope 并逐项执行。
type Agent struct {
	config      *Config
	coordinator Coordinator
	runner      Runner
	log         *zap.Logger

	workerID string
	stop     atomic.Bool

	mu      sync.Mutex
	results []*Result
	scopes  int
}

// NewAgent 创建一个新的 Worker 代理。
func NewAgent(config *Config, coord Coordinator, runner Runner, log *zap.Logger) *Agent {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.L()
	}
	return &Agent{
		config:      config,
		coordinator: coord,
		runner:      runner,
		log:         log.Named("worker"),
	}
}

// Run 注册并执行分配的 scope，直到没有更多任务、协调器要求停止或 ctx 结束。
func (a *Agent) Run(ctx context.Context) (*Summary, error) {
	reg, err := a.coordinator.Register(ctx, a.config.Slots)
	if err != nil {
		return nil, err
	}
	a.workerID = reg.WorkerID
	a.log = a.log.With(zap.String("worker", reg.WorkerID))
	a.log.Info("registered with coordinator", zap.Int("slots", reg.Slots))

	interval := a.config.HeartbeatInterval
	if reg.HeartbeatIntervalMS > 0 {
		interval = time.Duration(reg.HeartbeatIntervalMS) * time.Millisecond
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.heartbeatLoop(hbCtx, interval)
	}()

	runErr := a.loop(ctx)

	hbCancel()
	wg.Wait()

	// 退出时总是断开，未完成的 scope 由协调器记为失败
	disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.coordinator.Disconnect(disconnectCtx); err != nil {
		a.log.Warn("disconnect failed", zap.Error(err))
	}

	summary := a.Summary()
	if errors.Is(runErr, ErrStopped) {
		summary.Stopped = true
		runErr = nil
	}

	a.log.Info("worker finished",
		zap.Int("scopes", summary.Scopes),
		zap.Int("items", summary.Items),
		zap.Int("failed", summary.Failed),
		zap.Bool("stopped", summary.Stopped))
	return summary, runErr
}

func (a *Agent) loop(ctx context.Context) error {
	for {
		if a.stop.Load() {
			return ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		assignment, err := a.coordinator.NextAssignment(ctx, a.config.PollWait)
		switch {
		case errors.Is(err, coordinator.ErrNoMoreWork):
			a.log.Info("no more work")
			return nil
		case errors.Is(err, coordinator.ErrCancelled):
			return ErrStopped
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to fetch assignment: %w", err)
		case assignment == nil:
			continue
		}

		if err := a.runScope(ctx, assignment); err != nil {
			return err
		}
	}
}

// runScope 按顺序执行 scope 内的测试项，全部执行后上报完成。
func (a *Agent) runScope(ctx context.Context, assignment *types.Assignment) error {
	a.log.Info("scope started",
		zap.String("scope", assignment.Scope),
		zap.Int("items", len(assignment.Items)))

	for i, item := range assignment.Items {
		// 只在测试项之间检查停止请求
		if i > 0 && a.stop.Load() {
			a.log.Warn("stopping inside scope",
				zap.String("scope", assignment.Scope),
				zap.Int("remaining", len(assignment.Items)-i))
			return ErrStopped
		}

		result, err := a.runner.Run(ctx, item)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.log.Error("item could not run", zap.String("item", item.ID), zap.Error(err))
			result = &Result{ItemID: item.ID, ExitCode: -1, Output: err.Error()}
		}
		result.Scope = assignment.Scope
		a.record(result)
	}

	if err := a.coordinator.ReportCompletion(ctx, assignment.Scope); err != nil {
		return fmt.Errorf("failed to report completion of %s: %w", assignment.Scope, err)
	}

	a.mu.Lock()
	a.scopes++
	a.mu.Unlock()

	a.log.Info("scope completed", zap.String("scope", assignment.Scope))
	return nil
}

// heartbeatLoop 定时发送心跳，收到停止信号后标记停止。
func (a *Agent) heartbeatLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stop, err := a.coordinator.Heartbeat(ctx)
			if err != nil {
				if ctx.Err() == nil {
					a.log.Warn("heartbeat failed", zap.Error(err))
				}
				continue
			}
			if stop && !a.stop.Swap(true) {
				a.log.Warn("coordinator requested stop")
			}
		}
	}
}

func (a *Agent) record(result *Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, result)
}

// Results 返回已执行测试项的结果，按执行顺序排列。
func (a *Agent) Results() []*Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Result(nil), a.results...)
}

// Summary 返回当前执行汇总。
func (a *Agent) Summary() *Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := &Summary{WorkerID: a.workerID, Scopes: a.scopes, Items: len(a.results)}
	for _, r := range a.results {
		if !r.Passed {
			s.Failed++
		}
	}
	return s
}
