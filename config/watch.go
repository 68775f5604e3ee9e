package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// 连续写事件的合并窗口，编辑器保存往往触发多次 Write。
const watchCooldown = 1 * time.Second

// Watch 监听配置文件变化并把重新加载的结果交给 onChange。
// 客户端对象本身不热更新：调用方收到新配置后自行重建客户端。
// ctx 取消后返回。
func Watch(ctx context.Context, path string, onChange func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// 监听目录而不是文件：多数编辑器用改名替换文件，直接盯文件会丢事件
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	var lastReload time.Time
	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if time.Since(lastReload) < watchCooldown {
				continue
			}
			lastReload = time.Now()
			cfg, err := LoadWithEnvOverrides(path)
			if err != nil {
				continue // 半写状态，等下一次事件
			}
			if onChange != nil {
				onChange(cfg)
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}
