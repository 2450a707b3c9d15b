package process

import (
	"context"
	"strings"
	"time"

	"neotask/internal/executor/base"
	orcModel "neotask/internal/model/orchestrator"
	"neotask/internal/service/orchestrator/access"
)

// Executor 进程执行器，仅支持 execute 操作
// 配置: command (必填)，args (可选，缺省时按空白拆分 command)，cwd，timeout_seconds
type Executor struct {
	runner *Runner
}

// NewExecutor 创建进程执行器
func NewExecutor(runner *Runner) *Executor {
	return &Executor{runner: runner}
}

// Name 执行器名称
func (e *Executor) Name() string { return "process" }

// Types 处理的任务类型
func (e *Executor) Types() []orcModel.TaskType {
	return []orcModel.TaskType{orcModel.TaskTypeProcess}
}

// AccessRequest 以完整命令行作为校验目标
func (e *Executor) AccessRequest(cfg *base.TaskConfig) (access.Request, error) {
	name, args, err := commandOf(cfg)
	if err != nil {
		return access.Request{}, err
	}
	return access.Request{
		TaskType: orcModel.TaskTypeProcess,
		Action:   "execute",
		Target:   strings.Join(append([]string{name}, args...), " "),
	}, nil
}

// Execute 启动子进程
func (e *Executor) Execute(ctx context.Context, cfg *base.TaskConfig, _ []orcModel.Grant) (*base.Result, error) {
	if cfg.Action != "" && cfg.Action != "execute" {
		return nil, orcModel.ConfigError("process."+cfg.Action, "unsupported process action %q", cfg.Action)
	}

	name, args, err := commandOf(cfg)
	if err != nil {
		return nil, err
	}

	if secs := cfg.Int("timeout_seconds", 0); secs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
		defer cancel()
	}

	out, err := e.runner.Run(ctx, Spec{Command: name, Args: args, Dir: cfg.String("cwd")})
	if err != nil {
		return nil, err
	}
	return base.NewResult(out), nil
}

// commandOf 解析命令与参数；不经 shell，因此不支持管道与重定向
func commandOf(cfg *base.TaskConfig) (string, []string, error) {
	command := strings.TrimSpace(cfg.String("command"))
	if command == "" {
		return "", nil, orcModel.ConfigError("process.execute", "missing required config field %q", "command")
	}
	args := cfg.Strings("args")
	if args != nil {
		return command, args, nil
	}
	fields := strings.Fields(command)
	return fields[0], fields[1:], nil
}
