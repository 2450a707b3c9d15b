// 任务分发与执行指标
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 编排器与调度器使用的 Prometheus 指标
// nil 接收者上的方法均为空操作，未启用监控时可直接传 nil
type Metrics struct {
	dispatchTotal   *prometheus.CounterVec
	executionsTotal *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	activeTasks     *prometheus.GaugeVec
	schedulerRuns   *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default 注册到全局 Registry 的共享实例
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// MustNewMetrics 在给定 Registerer 上创建并注册指标；重复注册时复用已存在的采集器
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "neotask",
			Name:      "dispatch_total",
			Help:      "Dispatch attempts by result (dispatched, no_capable_agent, saturated, already_claimed, error).",
		}, []string{"result"}),
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "neotask",
			Name:      "task_executions_total",
			Help:      "Finished task executions by task type and outcome.",
		}, []string{"type", "outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "neotask",
			Name:      "task_duration_seconds",
			Help:      "Task execution duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		activeTasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "neotask",
			Name:      "agent_active_tasks",
			Help:      "Tasks currently running on each agent.",
		}, []string{"agent"}),
		schedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "neotask",
			Name:      "scheduler_runs_total",
			Help:      "Recurring task runs by outcome.",
		}, []string{"outcome"}),
	}

	m.dispatchTotal = register(reg, m.dispatchTotal)
	m.executionsTotal = register(reg, m.executionsTotal)
	m.taskDuration = register(reg, m.taskDuration)
	m.activeTasks = register(reg, m.activeTasks)
	m.schedulerRuns = register(reg, m.schedulerRuns)
	return m
}

// register 注册采集器，已注册时返回已有实例
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// IncDispatch 记录一次分发尝试
func (m *Metrics) IncDispatch(result string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(result).Inc()
}

// ObserveExecution 记录一次执行结果与耗时
func (m *Metrics) ObserveExecution(taskType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.executionsTotal.WithLabelValues(taskType, outcome).Inc()
	m.taskDuration.WithLabelValues(taskType).Observe(d.Seconds())
}

// SetActiveTasks 设置代理当前执行中的任务数
func (m *Metrics) SetActiveTasks(agentID string, n int) {
	if m == nil {
		return
	}
	m.activeTasks.WithLabelValues(agentID).Set(float64(n))
}

// DeleteAgent 代理注销后移除其指标序列
func (m *Metrics) DeleteAgent(agentID string) {
	if m == nil {
		return
	}
	m.activeTasks.DeleteLabelValues(agentID)
}

// IncSchedulerRun 记录一次周期任务运行
func (m *Metrics) IncSchedulerRun(outcome string) {
	if m == nil {
		return
	}
	m.schedulerRuns.WithLabelValues(outcome).Inc()
}
