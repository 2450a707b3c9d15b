/**
 * Migrate 子命令
 * @date: 2026.10.17
 */

package main

import (
	"context"
	"fmt"

	"neotask/internal/app/master"
	"neotask/internal/config"
	"neotask/internal/pkg/database"
	"neotask/internal/pkg/logger"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	dropTables bool
	seedFile   string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "迁移表结构并写入初始数据",
	Long: `按模型定义迁移全部表，可选先删除旧表，可选从 YAML 文件写入资源、代理、授权与初始任务。

示例:
  neotask migrate
  neotask migrate --drop --seed configs/seed.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().BoolVar(&dropTables, "drop", false, "迁移前删除已有表")
	migrateCmd.Flags().StringVar(&seedFile, "seed", "", "初始数据文件路径")
}

func runMigrate(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadConfig(configPath, envName)
	if err != nil {
		return err
	}
	if _, err := logger.InitLogger(&cfg.Log); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close(db)

	if err := master.Migrate(db, dropTables); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"driver": cfg.Database.Driver,
		"drop":   dropTables,
	}).Info("database migrated")

	if seedFile == "" {
		return nil
	}
	seed, err := master.LoadSeedFile(seedFile)
	if err != nil {
		return err
	}
	summary, err := master.Seed(ctx, db, seed, cfg.Scheduler.Location())
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"file":      seedFile,
		"resources": summary.Resources,
		"agents":    summary.Agents,
		"grants":    summary.Grants,
		"tasks":     summary.Tasks,
	}).Info("seed data loaded")
	return nil
}
