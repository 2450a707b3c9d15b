/**
 * 代码仓库执行器
 * @date: 2026.10.17
 * @description: clone 通过进程原语运行 git clone 到临时工作目录；
 *   create_pr 通过托管平台 API 创建拉取请求，凭据取自匹配的仓库授权。
 */
package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"neotask/internal/config"
	"neotask/internal/executor/base"
	"neotask/internal/executor/process"
	orcModel "neotask/internal/model/orchestrator"
	"neotask/internal/service/orchestrator/access"

	"github.com/google/go-github/v66/github"
	"github.com/google/uuid"
)

// 授权凭据中的令牌字段
const (
	CredentialGitHubToken = "github_token"
	credentialToken       = "token"
)

// Executor 代码仓库执行器
// 配置: action (clone/create_pr), repo_url; create_pr 另需 title, head，可选 body, base (默认 main)
type Executor struct {
	cfg        config.RepositoryExecutorConfig
	scratchDir string
	runner     *process.Runner
	httpClient *http.Client
}

// NewExecutor 创建代码仓库执行器
func NewExecutor(cfg config.ExecutorConfig, runner *process.Runner) *Executor {
	scratch := cfg.ScratchDir
	if scratch == "" {
		scratch = filepath.Join(os.TempDir(), "agent-workspace")
	}
	if cfg.Repository.GitBinary == "" {
		cfg.Repository.GitBinary = "git"
	}
	return &Executor{
		cfg:        cfg.Repository,
		scratchDir: scratch,
		runner:     runner,
		httpClient: &http.Client{Timeout: cfg.Repository.Timeout},
	}
}

// Name 执行器名称
func (e *Executor) Name() string { return "repository" }

// Types 处理的任务类型
func (e *Executor) Types() []orcModel.TaskType {
	return []orcModel.TaskType{orcModel.TaskTypeRepository}
}

// AccessRequest 目标为仓库地址
func (e *Executor) AccessRequest(cfg *base.TaskConfig) (access.Request, error) {
	op := "repository." + cfg.Action
	switch cfg.Action {
	case access.RepoActionClone, access.RepoActionCreatePR:
	default:
		return access.Request{}, orcModel.ConfigError(op, "unsupported repository action %q", cfg.Action)
	}
	repoURL, err := cfg.RequireString(op, "repo_url")
	if err != nil {
		return access.Request{}, err
	}
	return access.Request{TaskType: orcModel.TaskTypeRepository, Action: cfg.Action, Target: repoURL}, nil
}

// Execute 执行仓库操作
func (e *Executor) Execute(ctx context.Context, cfg *base.TaskConfig, grants []orcModel.Grant) (*base.Result, error) {
	req, err := e.AccessRequest(cfg)
	if err != nil {
		return nil, err
	}
	token := tokenFor(grants, req.Target)

	if cfg.Action == access.RepoActionClone {
		return e.clone(ctx, req.Target, token)
	}
	return e.createPullRequest(ctx, cfg, req.Target, token)
}

// clone 克隆到 <scratch>/<uuid>
func (e *Executor) clone(ctx context.Context, repoURL, token string) (*base.Result, error) {
	const op = "repository.clone"

	if err := os.MkdirAll(e.scratchDir, 0755); err != nil {
		return nil, orcModel.ExecError(op, err)
	}
	dest := filepath.Join(e.scratchDir, uuid.NewString())

	out, err := e.runner.Run(ctx, process.Spec{
		Command: e.cfg.GitBinary,
		Args:    []string{"clone", "--", authenticatedURL(repoURL, token), dest},
		Env:     []string{"GIT_TERMINAL_PROMPT=0"},
	})
	if err != nil {
		// 错误输出中不能带出令牌
		var te *orcModel.TaskError
		if errors.As(err, &te) && token != "" {
			te.Stderr = strings.ReplaceAll(te.Stderr, token, "***")
			te.Message = strings.ReplaceAll(te.Message, token, "***")
		}
		return nil, err
	}

	return base.NewResult(map[string]interface{}{
		"repo_url":    repoURL,
		"path":        dest,
		"duration_ms": out.DurationMs,
	}), nil
}

// createPullRequest 调用托管平台 API 创建拉取请求
func (e *Executor) createPullRequest(ctx context.Context, cfg *base.TaskConfig, repoURL, token string) (*base.Result, error) {
	const op = "repository.create_pr"

	title, err := cfg.RequireString(op, "title")
	if err != nil {
		return nil, err
	}
	head, err := cfg.RequireString(op, "head")
	if err != nil {
		return nil, err
	}
	baseBranch := cfg.String("base")
	if baseBranch == "" {
		baseBranch = "main"
	}
	if token == "" {
		return nil, orcModel.ConfigError(op, "repository grant for %s has no %s credential", repoURL, CredentialGitHubToken)
	}

	owner, repo, err := ownerAndRepo(repoURL)
	if err != nil {
		return nil, orcModel.ConfigError(op, "%v", err)
	}

	client, err := e.newClient(token)
	if err != nil {
		return nil, orcModel.ConfigError(op, "invalid api_base_url: %v", err)
	}

	pr, _, err := client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(title),
		Body:  github.String(cfg.String("body")),
		Head:  github.String(head),
		Base:  github.String(baseBranch),
	})
	if err != nil {
		return nil, orcModel.ExecError(op, err)
	}

	return base.NewResult(map[string]interface{}{
		"number":   pr.GetNumber(),
		"url":      pr.GetHTMLURL(),
		"state":    pr.GetState(),
		"owner":    owner,
		"repo":     repo,
		"head":     head,
		"base":     baseBranch,
		"title":    pr.GetTitle(),
		"repo_url": repoURL,
	}), nil
}

func (e *Executor) newClient(token string) (*github.Client, error) {
	client := github.NewClient(e.httpClient).WithAuthToken(token)
	if e.cfg.APIBaseURL == "" {
		return client, nil
	}
	baseURL := e.cfg.APIBaseURL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	client.BaseURL = u
	return client, nil
}

// tokenFor 在覆盖该仓库的授权中查找令牌
func tokenFor(grants []orcModel.Grant, repoURL string) string {
	for _, g := range orcModel.GrantsOfType(grants, orcModel.ResourceRepository) {
		for _, rule := range g.Config.Repositories {
			if rule.URL != repoURL {
				continue
			}
			if t := g.Credential(CredentialGitHubToken); t != "" {
				return t
			}
			if t := g.Credential(credentialToken); t != "" {
				return t
			}
		}
	}
	return ""
}

// ownerAndRepo 取仓库地址路径的最后两段
func ownerAndRepo(repoURL string) (string, string, error) {
	path := repoURL
	if u, err := url.Parse(repoURL); err == nil && u.Host != "" {
		path = u.Path
	} else if i := strings.Index(repoURL, ":"); i >= 0 {
		// git@github.com:owner/repo.git
		path = repoURL[i+1:]
	}
	parts := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	if len(parts) < 2 {
		return "", "", fmt.Errorf("repository url %q must end with owner/repo", repoURL)
	}
	owner := parts[len(parts)-2]
	repo := strings.TrimSuffix(parts[len(parts)-1], ".git")
	return owner, repo, nil
}

// authenticatedURL 仅对 https 地址注入令牌
func authenticatedURL(repoURL, token string) string {
	if token == "" {
		return repoURL
	}
	u, err := url.Parse(repoURL)
	if err != nil || u.Scheme != "https" {
		return repoURL
	}
	u.User = url.UserPassword("x-access-token", token)
	return u.String()
}
