package config

import (
	"context"
	"os"
	"time"
)

// Watcher polls the file mtime periodically and invokes the callback on change.
// 文件系统不支持 inotify 时作为热更新的退路。
type Watcher struct {
	Path     string
	Interval time.Duration
	OnError  func(error) // 重新加载失败时回调，保留旧配置
}

// Start begins polling; callback receives latest config on change.
func (w Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	if w.Interval <= 0 {
		w.Interval = 2 * time.Second
	}
	var lastMod time.Time
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			info, err := readFileInfo(w.Path)
			if err != nil {
				continue
			}
			if info.ModTime().After(lastMod) {
				lastMod = info.ModTime()
				cfg, err := LoadWithEnvOverrides(w.Path)
				if err != nil {
					if w.OnError != nil {
						w.OnError(err)
					}
					continue
				}
				if onUpdate != nil {
					onUpdate(cfg)
				}
			}
		}
	}
}

// readFileInfo is extracted for testing/mocking.
var readFileInfo = func(path string) (info interface{ ModTime() time.Time }, err error) {
	return os.Stat(path)
}
