/**
 * 应用装配
 * @date: 2026.10.17
 * @description: 连接存储与 Redis，注册执行器，装配编排服务、周期调度、取消总线与控制接口，
 *   Run 在同一个 errgroup 中运行全部组件，任一组件出错或 ctx 结束时整体停机。
 */
package master

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"neotask/internal/config"
	"neotask/internal/executor/cognitive"
	"neotask/internal/executor/filesystem"
	"neotask/internal/executor/manager"
	"neotask/internal/executor/process"
	"neotask/internal/executor/repository"
	"neotask/internal/executor/web"
	taskHandler "neotask/internal/handler/task"
	"neotask/internal/pkg/database"
	"neotask/internal/pkg/llm"
	"neotask/internal/pkg/logger"
	"neotask/internal/pkg/metrics"
	orcRepo "neotask/internal/repo/mysql/orchestrator"
	redisRepo "neotask/internal/repo/redis"
	"neotask/internal/service/orchestrator"
	"neotask/internal/service/orchestrator/core/scheduler"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// shutdownTimeout HTTP 服务优雅关闭的最长时间
const shutdownTimeout = 5 * time.Second

// App 应用程序
type App struct {
	config       *config.Config
	db           *gorm.DB
	redisClient  *redis.Client
	cancelBus    *redisRepo.CancelBus
	taskRepo     orcRepo.TaskRepository
	executors    *manager.ExecutorManager
	orchestrator *orchestrator.Orchestrator
	scheduler    scheduler.SchedulerService
	router       *Router
}

// NewApp 装配应用
func NewApp(cfg *config.Config) (*App, error) {
	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		return nil, err
	}
	app := &App{config: cfg, db: db}

	if cfg.Database.Redis.Enabled {
		client, err := database.NewRedisConnection(&cfg.Database.Redis)
		if err != nil {
			_ = database.Close(db)
			return nil, err
		}
		app.redisClient = client
		app.cancelBus = redisRepo.NewCancelBus(client, cfg.Database.Redis.CancelTopic)
	}

	var m *metrics.Metrics
	if cfg.Monitor.Metrics.Enabled {
		m = metrics.Default()
	}

	agentRepo := orcRepo.NewAgentRepository(db)
	resourceRepo := orcRepo.NewResourceRepository(db)
	app.taskRepo = orcRepo.NewTaskRepository(db)

	runner := process.NewRunner(cfg.Executor.Process)
	fetcher := web.NewFetcher(cfg.Executor.Web)
	app.executors = manager.NewExecutorManager(resourceRepo)
	app.executors.MustRegister(
		filesystem.NewExecutor(),
		process.NewExecutor(runner),
		repository.NewExecutor(cfg.Executor, runner),
		web.NewExecutor(fetcher),
		cognitive.NewExecutor(llm.NewOllamaClient(cfg.LLM), fetcher),
	)

	app.orchestrator = orchestrator.NewOrchestrator(cfg.Orchestrator, agentRepo, app.taskRepo, resourceRepo, app.executors, m)
	app.scheduler = scheduler.NewSchedulerService(cfg.Scheduler, app.taskRepo, app.executors, m)
	app.orchestrator.AddCanceler(app.scheduler)

	var publisher taskHandler.CancelPublisher
	if app.cancelBus != nil {
		publisher = app.cancelBus
	}
	app.router = NewRouter(cfg,
		taskHandler.NewTaskHandler(app.taskRepo, app.orchestrator, publisher, cfg.Scheduler.Location()),
		taskHandler.NewAgentHandler(app.orchestrator, agentRepo, resourceRepo, app.taskRepo),
		nil,
		app.readiness,
	)
	app.router.SetupRoutes()
	return app, nil
}

// GetRouter 获取路由管理器
func (a *App) GetRouter() *Router {
	return a.router
}

// GetConfig 获取配置
func (a *App) GetConfig() *config.Config {
	return a.config
}

// Run 运行全部组件直到 ctx 结束
func (a *App) Run(ctx context.Context) error {
	recovered, err := a.taskRepo.RecoverInterrupted(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to recover interrupted tasks: %w", err)
	}
	if recovered > 0 {
		logger.LogSystemEvent("app", "recover", "interrupted tasks recovered", logrus.WarnLevel, map[string]interface{}{
			"count": recovered,
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.config.Orchestrator.Enabled {
		if err := a.orchestrator.Start(gctx); err != nil {
			return fmt.Errorf("failed to start orchestrator: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			a.orchestrator.Stop()
			return nil
		})
	}

	if a.config.Scheduler.Enabled {
		a.scheduler.Start(gctx)
		g.Go(func() error {
			<-gctx.Done()
			a.scheduler.Stop()
			return nil
		})
	}

	if a.cancelBus != nil {
		// 订阅失败只影响跨进程取消，进程内取消仍然有效
		g.Go(func() error {
			err := a.cancelBus.Subscribe(gctx, func(msg redisRepo.CancelMessage) {
				if a.orchestrator.Cancel(msg.TaskID) {
					logger.LogInfo("task canceled by remote request", "app.cancelBus", "REDIS", map[string]interface{}{
						"task_id": msg.TaskID,
						"reason":  msg.Reason,
					})
				}
			})
			if err != nil {
				logger.LogError(err, "app.cancelBus", "REDIS", map[string]interface{}{"topic": a.cancelBus.Topic()})
			}
			return nil
		})
	}

	server := &http.Server{
		Addr:           a.config.Server.GetAddress(),
		Handler:        a.router.GetEngine(),
		ReadTimeout:    a.config.Server.ReadTimeout,
		WriteTimeout:   a.config.Server.WriteTimeout,
		IdleTimeout:    a.config.Server.IdleTimeout,
		MaxHeaderBytes: a.config.Server.MaxHeaderBytes,
	}
	g.Go(func() error {
		logger.LogSystemEvent("http", "startup", "control api listening", logrus.InfoLevel, map[string]interface{}{
			"addr": server.Addr,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close 关闭存储连接
func (a *App) Close() error {
	var errs []error
	if a.redisClient != nil {
		errs = append(errs, a.redisClient.Close())
	}
	errs = append(errs, database.Close(a.db))
	return errors.Join(errs...)
}

// readiness 存储与 Redis 的连通性
func (a *App) readiness(ctx context.Context) error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if a.redisClient != nil {
		if err := a.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}
