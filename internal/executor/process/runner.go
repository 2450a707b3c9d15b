/**
 * 进程执行原语
 * @date: 2026.10.17
 * @description: 不经 shell 直接启动子进程，分别采集 stdout/stderr。
 *   所有调用都带期限；取消或超时时结束整个进程树。
 */
package process

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strconv"
	"time"

	"neotask/internal/config"
	orcModel "neotask/internal/model/orchestrator"

	psprocess "github.com/shirou/gopsutil/v3/process"
)

// Spec 启动参数
type Spec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string // 追加到当前进程环境变量之后
}

// Output 进程输出
type Output struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	Truncated  bool   `json:"truncated,omitempty"`
}

// Runner 进程执行器的底层原语，也供仓库克隆使用
type Runner struct {
	defaultTimeout time.Duration
	maxOutput      int
}

// NewRunner 创建进程执行原语
func NewRunner(cfg config.ProcessExecutorConfig) *Runner {
	maxOutput := cfg.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = 1 << 20
	}
	return &Runner{defaultTimeout: cfg.DefaultTimeout, maxOutput: maxOutput}
}

// Run 执行命令；退出码非 0 时返回携带退出码与 stderr 的 ExecutionError
func (r *Runner) Run(ctx context.Context, spec Spec) (*Output, error) {
	const op = "process.run"

	if spec.Command == "" {
		return nil, orcModel.ConfigError(op, "empty command")
	}

	// 调用方没有给期限时使用默认超时
	if _, ok := ctx.Deadline(); !ok && r.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.defaultTimeout)
		defer cancel()
	}

	stdout := &limitedBuffer{limit: r.maxOutput}
	stderr := &limitedBuffer{limit: r.maxOutput}

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(cmd.Environ(), spec.Env...)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Cancel = func() error {
		return killTree(cmd.Process.Pid)
	}
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	runErr := cmd.Run()

	out := &Output{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
		Truncated:  stdout.truncated || stderr.truncated,
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	if runErr == nil {
		return out, nil
	}

	// 超时/取消优先于退出码
	if ctxErr := ctx.Err(); ctxErr != nil {
		te := orcModel.WrapError(orcModel.KindExecution, op, ctxErr)
		te.Stderr = out.Stderr
		return out, te
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return out, &orcModel.TaskError{
			Kind:     orcModel.KindExecution,
			Op:       op,
			Message:  "command " + spec.Command + " exited with code " + strconv.Itoa(exitErr.ExitCode()),
			ExitCode: exitErr.ExitCode(),
			Stderr:   out.Stderr,
			Err:      runErr,
		}
	}

	return out, orcModel.ExecError(op, runErr)
}

// killTree 先结束子孙进程再结束自身
func killTree(pid int) error {
	p, err := psprocess.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	if children, err := p.Children(); err == nil {
		for _, child := range children {
			_ = killTree(int(child.Pid))
		}
	}
	return p.Kill()
}

// limitedBuffer 只保留前 limit 字节，超出部分丢弃但不报错
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	remain := b.limit - b.buf.Len()
	if remain <= 0 {
		b.truncated = len(p) > 0 || b.truncated
		return len(p), nil
	}
	if len(p) > remain {
		b.buf.Write(p[:remain])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
