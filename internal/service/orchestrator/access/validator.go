/**
 * 资源访问校验
 * @date: 2026.10.17
 * @description: 判断代理的资源授权是否覆盖任务请求的 (资源类型, 操作, 目标)
 *   filesystem: 规范化并消解符号链接后的路径位于某个允许路径之下，且该路径的权限列表包含操作
 *   repository: 仓库地址精确匹配，且该仓库的权限列表包含操作
 *   process:    命令行以某个允许的命令前缀开头
 *   web 与认知类任务不需要授权
 */
package access

import (
	"os"
	"path/filepath"
	"strings"
	"unicode"

	orcModel "neotask/internal/model/orchestrator"
)

// Request 一次访问请求
type Request struct {
	TaskType orcModel.TaskType
	Action   string // read/write/delete, clone/create_pr, execute
	Target   string // 路径、仓库地址或完整命令行
}

// 仓库操作对应的权限
const (
	RepoActionClone    = "clone"
	RepoActionCreatePR = "create_pr"
)

// Allowed 校验请求是否被授权覆盖
func Allowed(grants []orcModel.Grant, req Request) bool {
	if req.TaskType == orcModel.TaskTypeWeb || req.TaskType.IsCognitive() {
		return true
	}

	switch req.TaskType {
	case orcModel.TaskTypeFilesystem:
		return FilesystemAllowed(grants, req.Target, req.Action)
	case orcModel.TaskTypeRepository:
		return RepositoryAllowed(grants, req.Target, req.Action)
	case orcModel.TaskTypeProcess:
		return ProcessAllowed(grants, req.Target)
	}
	return false
}

// Check 校验失败时返回 ResourceAccessDenied 错误
func Check(grants []orcModel.Grant, req Request) error {
	if Allowed(grants, req) {
		return nil
	}
	return orcModel.AccessDenied(string(req.TaskType)+"."+req.Action, "no grant allows %s on %q", req.Action, req.Target)
}

// FilesystemAllowed 路径先规范化 (消解 ..)，再按目录边界做前缀判断
func FilesystemAllowed(grants []orcModel.Grant, target, action string) bool {
	_, ok := ResolveFilesystemPath(grants, target, action)
	return ok
}

// ResolveFilesystemPath 返回第一个覆盖该请求的授权下规范化后的绝对路径
// 相对路径基于授权的 base_path 解析，已存在部分的符号链接会被消解，执行器应操作这里返回的路径
func ResolveFilesystemPath(grants []orcModel.Grant, target, action string) (string, bool) {
	if target == "" {
		return "", false
	}
	for _, g := range orcModel.GrantsOfType(grants, orcModel.ResourceFilesystem) {
		if !grantPermits(g.Permission, action) {
			continue
		}
		resolved, ok := realPath(resolvePath(g.Config.BasePath, target))
		if !ok {
			continue
		}
		for _, rule := range g.Config.AllowedPaths {
			if rule.Path == "" || !containsAction(rule.Permissions, action) {
				continue
			}
			dir, ok := realPath(resolvePath(g.Config.BasePath, rule.Path))
			if ok && withinDir(dir, resolved) {
				return resolved, true
			}
		}
	}
	return "", false
}

// RepositoryAllowed 仓库地址精确匹配
func RepositoryAllowed(grants []orcModel.Grant, repoURL, action string) bool {
	perm := repositoryPermission(action)
	for _, g := range orcModel.GrantsOfType(grants, orcModel.ResourceRepository) {
		if !grantPermits(g.Permission, perm) {
			continue
		}
		for _, rule := range g.Config.Repositories {
			if rule.URL == repoURL && containsAction(rule.Permissions, perm) {
				return true
			}
		}
	}
	return false
}

// ProcessAllowed 命令行前缀匹配
func ProcessAllowed(grants []orcModel.Grant, commandLine string) bool {
	commandLine = NormalizeCommandLine(commandLine)
	if commandLine == "" {
		return false
	}
	for _, g := range orcModel.GrantsOfType(grants, orcModel.ResourceProcess) {
		for _, rule := range g.Config.AllowedCommands {
			prefix := commandPrefix(rule.Command)
			if prefix != "" && strings.HasPrefix(commandLine, prefix) {
				return true
			}
		}
	}
	return false
}

// NormalizeCommandLine 折叠多余空白，保证前缀判断与实际执行的 argv 一致
func NormalizeCommandLine(commandLine string) string {
	return strings.Join(strings.Fields(commandLine), " ")
}

// commandPrefix 按命令行同样的方式折叠空白，规则末尾有空白时保留一个空格 ("git " 不匹配 "gitk")
func commandPrefix(command string) string {
	prefix := NormalizeCommandLine(command)
	if prefix != "" && strings.TrimRightFunc(command, unicode.IsSpace) != command {
		prefix += " "
	}
	return prefix
}

// realPath 对最长的已存在前缀消解符号链接，不存在的部分原样拼接
// 无法消解的符号链接 (悬空或循环) 返回 false
func realPath(p string) (string, bool) {
	cur, rest := p, ""
	for {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			if rest == "" {
				return resolved, true
			}
			return filepath.Join(resolved, rest), true
		}
		if fi, err := os.Lstat(cur); err == nil && fi.Mode()&os.ModeSymlink != 0 {
			return "", false
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, true
		}
		if rest == "" {
			rest = filepath.Base(cur)
		} else {
			rest = filepath.Join(filepath.Base(cur), rest)
		}
		cur = parent
	}
}

// resolvePath 相对路径基于 basePath 解析，结果总是 Clean 过的
func resolvePath(basePath, p string) string {
	if !filepath.IsAbs(p) && basePath != "" {
		p = filepath.Join(basePath, p)
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// withinDir target 等于 dir 或位于 dir 之下 (/data 不匹配 /database)
func withinDir(dir, target string) bool {
	if dir == target {
		return true
	}
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// containsAction 删除操作可由 write 权限覆盖
func containsAction(perms []string, action string) bool {
	for _, p := range perms {
		if p == action {
			return true
		}
		if action == "delete" && p == "write" {
			return true
		}
	}
	return false
}

// repositoryPermission 仓库操作映射为读写权限
func repositoryPermission(action string) string {
	switch action {
	case RepoActionClone, "read":
		return "read"
	default:
		return "write"
	}
}

// grantPermits 只读授权不允许写类操作
func grantPermits(level orcModel.Permission, action string) bool {
	if level != orcModel.PermissionRead {
		return true
	}
	return action == "read" || action == "execute"
}
