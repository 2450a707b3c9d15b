// 结构化日志辅助函数
package logger

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LogType 日志类型枚举，决定 FileHook 写入的文件
type LogType string

const (
	// AccessLog 访问日志 - 记录HTTP请求
	AccessLog LogType = "access"
	// BusinessLog 业务日志 - 记录任务提交、取消、代理状态变更等操作
	BusinessLog LogType = "business"
	// ErrorLog 错误日志 - 记录系统错误和异常
	ErrorLog LogType = "error"
	// SystemLog 系统日志 - 记录组件启动、停止
	SystemLog LogType = "system"
	// TaskLog 任务日志 - 记录任务分配、执行与结果
	TaskLog LogType = "task"
	// DebugLog 调试日志
	DebugLog LogType = "debug"
)

// FormatTimestamp 格式化时间戳为统一的毫秒精度格式
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampFormat)
}

// mergeFields 合并额外字段
func mergeFields(fields logrus.Fields, extraFields map[string]interface{}) logrus.Fields {
	for k, v := range extraFields {
		fields[k] = v
	}
	return fields
}

// LogAccessRequest 记录HTTP访问日志
func LogAccessRequest(c *gin.Context, startTime time.Time, requestID string) {
	if LoggerInstance == nil {
		return
	}

	LoggerInstance.logger.WithFields(logrus.Fields{
		"type":          AccessLog,
		"method":        c.Request.Method,
		"path":          c.Request.URL.Path,
		"query":         c.Request.URL.RawQuery,
		"status_code":   c.Writer.Status(),
		"response_time": time.Since(startTime).Milliseconds(),
		"client_ip":     c.ClientIP(),
		"user_agent":    c.Request.UserAgent(),
		"request_id":    requestID,
		"response_size": c.Writer.Size(),
	}).Info("HTTP request processed")
}

// LogBusinessOperation 记录业务操作日志
func LogBusinessOperation(operation, clientIP, requestID, result, message string, extraFields map[string]interface{}) {
	if LoggerInstance == nil {
		return
	}

	fields := mergeFields(logrus.Fields{
		"type":       BusinessLog,
		"operation":  operation,
		"client_ip":  clientIP,
		"request_id": requestID,
		"result":     result,
	}, extraFields)

	if result == "success" {
		LoggerInstance.logger.WithFields(fields).Info(message)
	} else {
		LoggerInstance.logger.WithFields(fields).Warn(message)
	}
}

// LogError 记录错误日志
// component 为出错的组件路径 (如 service.orchestrator.tick)，operation 为操作名
func LogError(err error, component, operation string, extraFields map[string]interface{}) {
	if LoggerInstance == nil || err == nil {
		return
	}

	fields := mergeFields(logrus.Fields{
		"type":      ErrorLog,
		"error":     err.Error(),
		"component": component,
		"operation": operation,
	}, extraFields)

	LoggerInstance.logger.WithFields(fields).Error(err.Error())
}

// LogInfo 记录信息日志
func LogInfo(message, component, operation string, extraFields map[string]interface{}) {
	if LoggerInstance == nil || message == "" {
		return
	}

	fields := mergeFields(logrus.Fields{
		"type":      BusinessLog,
		"component": component,
		"operation": operation,
	}, extraFields)

	LoggerInstance.logger.WithFields(fields).Info(message)
}

// LogWarn 记录警告日志
func LogWarn(message, component, operation string, extraFields map[string]interface{}) {
	if LoggerInstance == nil || message == "" {
		return
	}

	fields := mergeFields(logrus.Fields{
		"type":      BusinessLog,
		"component": component,
		"operation": operation,
	}, extraFields)

	LoggerInstance.logger.WithFields(fields).Warn(message)
}

// LogSystemEvent 记录系统事件日志
// 用于记录组件启动、关闭、状态变化等系统级事件
func LogSystemEvent(component, event, message string, level logrus.Level, extraFields map[string]interface{}) {
	if LoggerInstance == nil {
		return
	}

	fields := mergeFields(logrus.Fields{
		"type":      SystemLog,
		"component": component,
		"event":     event,
		"detail":    message,
	}, extraFields)

	LoggerInstance.logger.WithFields(fields).Log(level, fmt.Sprintf("System event: %s - %s", component, event))
}

// LogTaskEvent 记录任务生命周期日志
// event: assigned, started, completed, failed, canceled, rescheduled
func LogTaskEvent(taskID, taskType, agentID, event string, duration time.Duration, extraFields map[string]interface{}) {
	if LoggerInstance == nil {
		return
	}

	fields := mergeFields(logrus.Fields{
		"type":        TaskLog,
		"task_id":     taskID,
		"task_type":   taskType,
		"agent_id":    agentID,
		"event":       event,
		"duration_ms": duration.Milliseconds(),
	}, extraFields)

	entry := LoggerInstance.logger.WithFields(fields)
	msg := fmt.Sprintf("Task %s %s", taskID, event)
	if event == "failed" {
		entry.Warn(msg)
		return
	}
	entry.Info(msg)
}
