// 构建时通过 -ldflags 注入:
//   go build -ldflags "-X neotask/internal/pkg/version.GitCommit=$(git rev-parse --short HEAD) \
//     -X neotask/internal/pkg/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/master

package version

import "runtime"

var (
	Version    = "1.0.0" // 版本号 -- 发布时候更新版本号
	APIVersion = "v1"
	BuildTime  string
	GitCommit  string
)

func GetVersion() string {
	return Version
}

// GoVersion 编译使用的 Go 版本
func GoVersion() string {
	return runtime.Version()
}
