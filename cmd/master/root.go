/**
 * Cobra Root Command 定义
 * @date: 2026.10.17
 */

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	envName    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "neotask",
	Short: "neotask 本地任务编排服务",
	Long: `neotask 把任务分发给具备能力的执行代理，并按周期规则运行定时任务。

示例:
  1.初始化数据库并写入初始数据
	neotask migrate --seed configs/seed.yaml
  2.启动服务
	neotask server --config configs --env development
`,
	SilenceUsage: true,
}

func Execute() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n[FATAL] neotask crashed unexpectedly: %v\n", r)
			os.Exit(1)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "配置目录或配置文件路径 (默认: ./configs)")
	rootCmd.PersistentFlags().StringVar(&envName, "env", "", "运行环境 (development, test, production)")
}
