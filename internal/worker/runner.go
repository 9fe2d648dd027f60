package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"yqhp/test-scheduler/pkg/types"
)

// Placeholders expanded in command templates.
const (
	PlaceholderNodeID = "{nodeid}"
	PlaceholderName   = "{name}"
	PlaceholderModule = "{module}"
)

// Result 是单个测试项的执行结果。
type Result struct {
	ItemID   string        `json:"item_id"`
	Scope    string        `json:"scope"`
	Passed   bool          `json:"passed"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Output   string        `json:"output,omitempty"`
}

// Runner 执行单个测试项。返回错误表示测试项无法启动，测试失败通过 Result.Passed 表示。
type Runner interface {
	Run(ctx context.Context, item *types.Item) (*Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, item *types.Item) (*Result, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, item *types.Item) (*Result, error) {
	return f(ctx, item)
}

// CommandRunner 通过外部命令执行测试项，每个测试项启动一次进程。
type CommandRunner struct {
	// Command 是命令模板，支持 {nodeid}、{name}、{module} 占位符。
	// 模板中没有 {nodeid} 时，节点 ID 作为最后一个参数追加。
	Command []string

	// Dir 是进程工作目录。
	Dir string

	// Env 追加到进程环境变量。
	Env []string

	// Output 接收进程的标准输出和标准错误，可为空。
	Output io.Writer

	log *zap.Logger
}

// NewCommandRunner 创建命令执行器。
func NewCommandRunner(command []string, log *zap.Logger) (*CommandRunner, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, errors.New("command is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CommandRunner{Command: command, log: log.Named("runner")}, nil
}

// Args expands the command template for an item.
func (r *CommandRunner) Args(item *types.Item) []string {
	replacer := strings.NewReplacer(
		PlaceholderNodeID, item.ID,
		PlaceholderName, item.DisplayName(),
		PlaceholderModule, item.Module,
	)

	args := make([]string, 0, len(r.Command)+1)
	hasNodeID := false
	for _, arg := range r.Command {
		if strings.Contains(arg, PlaceholderNodeID) {
			hasNodeID = true
		}
		args = append(args, replacer.Replace(arg))
	}
	if !hasNodeID {
		args = append(args, item.ID)
	}
	return args
}

// Run implements Runner.
func (r *CommandRunner) Run(ctx context.Context, item *types.Item) (*Result, error) {
	args := r.Args(item)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}

	var buf bytes.Buffer
	var out io.Writer = &buf
	if r.Output != nil {
		out = io.MultiWriter(&buf, r.Output)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		ItemID:   item.ID,
		Duration: time.Since(start),
		Output:   buf.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.Passed = true
	case errors.As(err, &exitErr) && ctx.Err() == nil:
		result.ExitCode = exitErr.ExitCode()
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		return nil, fmt.Errorf("failed to run %s: %w", item.ID, err)
	}

	r.log.Debug("item finished",
		zap.String("item", item.ID),
		zap.Bool("passed", result.Passed),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", result.Duration))
	return result, nil
}
