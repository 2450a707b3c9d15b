/*
ConfigWatcher 配置文件监听器
监听配置目录的写入/创建事件，防抖 500ms 后重新加载配置并依次调用回调。
回调返回错误只记录日志，不会中断后续回调。
*/
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// reloadDebounce 配置变更防抖时长
const reloadDebounce = 500 * time.Millisecond

// ConfigWatcher 配置文件监听器
type ConfigWatcher struct {
	watcher    *fsnotify.Watcher  // 文件系统监听器
	configPath string             // 配置目录
	env        string             // 环境标识
	callbacks  []ReloadCallback   // 重载回调函数列表
	mu         sync.RWMutex       // 读写锁
	ctx        context.Context    // 上下文
	cancel     context.CancelFunc // 取消函数
	done       chan struct{}      // 完成信号
}

// ReloadCallback 配置重载回调函数类型
type ReloadCallback func(oldConfig, newConfig *Config) error

// NewConfigWatcher 创建配置文件监听器
func NewConfigWatcher(configPath, env string) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	return &ConfigWatcher{
		watcher:    watcher,
		configPath: configPath,
		env:        env,
		callbacks:  make([]ReloadCallback, 0),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}, nil
}

// Start 启动配置文件监听
func (cw *ConfigWatcher) Start() error {
	if err := cw.watcher.Add(cw.configPath); err != nil {
		return fmt.Errorf("failed to add config path to watcher: %w", err)
	}

	go cw.watchLoop()

	logrus.WithField("path", cw.configPath).Info("config watcher started")
	return nil
}

// Stop 停止配置文件监听
func (cw *ConfigWatcher) Stop() error {
	cw.cancel()

	select {
	case <-cw.done:
	case <-time.After(5 * time.Second):
		logrus.Warn("config watcher stop timeout")
	}

	return cw.watcher.Close()
}

// AddCallback 添加配置重载回调函数
func (cw *ConfigWatcher) AddCallback(callback ReloadCallback) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// watchLoop 监听循环
func (cw *ConfigWatcher) watchLoop() {
	defer close(cw.done)

	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}

	for {
		select {
		case <-cw.ctx.Done():
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 && isConfigFile(event.Name) {
				logrus.WithField("file", event.Name).Debug("config file changed")
				debounceTimer.Reset(reloadDebounce)
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			logrus.WithError(err).Warn("config watcher error")

		case <-debounceTimer.C:
			if err := cw.reloadConfig(); err != nil {
				logrus.WithError(err).Error("failed to reload config")
			}
		}
	}
}

// isConfigFile 检查是否为配置文件
func isConfigFile(filename string) bool {
	switch filepath.Base(filename) {
	case "config.yaml", "config.yml",
		"config.test.yaml", "config.test.yml",
		"config.prod.yaml", "config.prod.yml":
		return true
	}
	return false
}

// reloadConfig 重载配置
func (cw *ConfigWatcher) reloadConfig() error {
	oldConfig := GlobalConfig

	newConfig, err := LoadConfig(cw.configPath, cw.env)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	cw.mu.RLock()
	callbacks := make([]ReloadCallback, len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.RUnlock()

	for _, callback := range callbacks {
		if err := callback(oldConfig, newConfig); err != nil {
			logrus.WithError(err).Warn("config reload callback error")
		}
	}

	logrus.Info("config reloaded")
	return nil
}
