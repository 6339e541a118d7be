package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher 监听黑白名单文件变化并重新加载过滤器
type Watcher struct {
	filter   *Filter
	watcher  *fsnotify.Watcher
	log      *zap.Logger
	debounce time.Duration
	files    []string
}

// NewWatcher 创建文件监听器
func NewWatcher(filter *Filter, log *zap.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	var files []string
	for _, p := range filter.Paths() {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		files = append(files, filepath.Clean(abs))
	}

	return &Watcher{
		filter:   filter,
		watcher:  w,
		log:      log.With(zap.String("module", "policy")),
		debounce: 500 * time.Millisecond,
		files:    files,
	}, nil
}

// Start 监听列表文件所在目录，直到 ctx 结束
//
// 编辑器常以重命名方式保存文件，因此监听目录而不是文件本身。
func (w *Watcher) Start(ctx context.Context) error {
	dirs := make([]string, 0, len(w.files))
	for _, f := range w.files {
		dir := filepath.Dir(f)
		if slices.Contains(dirs, dir) {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			_ = w.watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		dirs = append(dirs, dir)
	}
	w.log.Info("Started watching policy lists", zap.Strings("files", w.files))

	timer := time.NewTimer(w.debounce)
	timer.Stop()

	go func() {
		defer w.watcher.Close()
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if w.shouldReload(event) {
					w.log.Debug("Policy list changed",
						zap.String("file", event.Name),
						zap.String("op", event.Op.String()))
					timer.Reset(w.debounce)
				}

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.log.Error("Watcher error", zap.Error(err))

			case <-timer.C:
				if err := w.filter.Reload(); err != nil {
					w.log.Error("Failed to reload policy lists, keeping previous lists", zap.Error(err))
				}

			case <-ctx.Done():
				w.log.Info("Stopping policy watcher")
				timer.Stop()
				return
			}
		}
	}()
	return nil
}

func (w *Watcher) shouldReload(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return false
	}
	return slices.Contains(w.files, filepath.Clean(event.Name))
}
