package config

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/consoleprov/consoleprov/pkg/logger"
)

// Watch 监听配置文件，变更经 debounce 后重新加载并回调，直到 ctx 结束
func Watch(ctx context.Context, path string, debounceInterval time.Duration, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}
	if debounceInterval <= 0 {
		debounceInterval = 300 * time.Millisecond
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		trigger := func() {
			newCfg, err := Load(path)
			if err != nil {
				logger.WithField("error", err).Warn("Config reload failed")
				return
			}
			logger.Info("Config reloaded")
			onChange(newCfg)
		}
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					if debounce != nil {
						debounce.Stop()
					}
					debounce = time.AfterFunc(debounceInterval, trigger)
				}
				// 编辑器以 rename 方式保存时需要重新加入监听
				if ev.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
					_ = watcher.Add(path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithField("error", err).Warn("Config watch error")
			}
		}
	}()
	return nil
}
