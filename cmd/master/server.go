/**
 * Server 子命令
 * @date: 2026.10.17
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"neotask/internal/app/master"
	"neotask/internal/config"
	"neotask/internal/pkg/logger"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动编排服务",
	Long: `启动即时分发循环、周期调度循环与 HTTP 控制接口，收到 SIGINT/SIGTERM 后优雅停机。

配置目录下的 config.yaml 变化时会重新加载日志配置。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer() error {
	cfg, err := config.LoadConfig(configPath, envName)
	if err != nil {
		return err
	}
	if _, err := logger.InitLogger(&cfg.Log); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}

	// 只有目录形式的配置路径支持热加载
	if watchDir(configPath) {
		watcher, err := config.NewConfigWatcher(configPath, envName)
		if err != nil {
			logger.LogWarn("config watcher disabled", "cmd.server", "WATCH", map[string]interface{}{"error": err.Error()})
		} else {
			watcher.AddCallback(logger.ReloadCallback)
			if err := watcher.Start(); err != nil {
				logger.LogWarn("config watcher disabled", "cmd.server", "WATCH", map[string]interface{}{"error": err.Error()})
			} else {
				defer watcher.Stop()
			}
		}
	}

	app, err := master.NewApp(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.LogError(err, "cmd.server", "CLOSE", nil)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.LogSystemEvent("cmd.server", "startup", "neotask starting", logrus.InfoLevel, map[string]interface{}{
		"env":    cfg.App.Environment,
		"driver": cfg.Database.Driver,
	})
	if err := app.Run(ctx); err != nil {
		return err
	}
	logger.LogSystemEvent("cmd.server", "shutdown", "neotask stopped", logrus.InfoLevel, nil)
	return nil
}

func watchDir(path string) bool {
	if path == "" {
		path = "configs"
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
