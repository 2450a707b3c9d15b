package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"neotask/internal/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileHook 将不同类型的日志写入不同的文件
// 文件名由日志的 type 字段决定，与 file_path 同目录
type FileHook struct {
	logConfig *config.LogConfig
	writers   map[string]io.Writer
	formatter logrus.Formatter
	mutex     sync.Mutex
}

// NewFileHook 创建一个新的FileHook实例
func NewFileHook(logConfig *config.LogConfig) *FileHook {
	hook := &FileHook{
		logConfig: logConfig,
		writers:   make(map[string]io.Writer),
		formatter: newJSONFormatter(),
	}

	if logConfig.FilePath != "" {
		_ = os.MkdirAll(filepath.Dir(logConfig.FilePath), 0o755)
		hook.writers["default"] = hook.newRotator(logConfig.FilePath)
	}

	return hook
}

// Levels 返回此Hook关心的所有日志级别
func (hook *FileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire 在日志触发时执行
func (hook *FileHook) Fire(entry *logrus.Entry) error {
	logType := "default"
	switch t := entry.Data["type"].(type) {
	case LogType:
		logType = string(t)
	case string:
		logType = t
	}

	formatted, err := hook.formatter.Format(entry)
	if err != nil {
		return err
	}

	hook.mutex.Lock()
	defer hook.mutex.Unlock()

	writer := hook.writerFor(logType)
	if writer == nil {
		return nil
	}
	_, err = writer.Write(formatted)
	return err
}

// writerFor 获取指定类型的writer，不存在时创建；调用方需持有锁
func (hook *FileHook) writerFor(logType string) io.Writer {
	if writer, exists := hook.writers[logType]; exists {
		return writer
	}

	switch LogType(logType) {
	case AccessLog, BusinessLog, ErrorLog, SystemLog, TaskLog, DebugLog:
	default:
		return hook.writers["default"]
	}

	filename := filepath.Join(filepath.Dir(hook.logConfig.FilePath), logType+".log")
	writer := hook.newRotator(filename)
	hook.writers[logType] = writer
	return writer
}

func (hook *FileHook) newRotator(filename string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    hook.logConfig.MaxSize,
		MaxBackups: hook.logConfig.MaxBackups,
		MaxAge:     hook.logConfig.MaxAge,
		Compress:   hook.logConfig.Compress,
	}
}
