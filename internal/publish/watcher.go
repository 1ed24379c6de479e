package publish

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/imdevinc/netinf-node/internal/storage"
)

const (
	debounceDelay = 250 * time.Millisecond

	fileStatPrefix = "file-stat-"
	fileURIPrefix  = "file-uri-"
)

// Watcher publishes files as they appear or change in a directory tree
type Watcher struct {
	rootDir   string
	publisher *Publisher
	store     *storage.Store
	watcher   *fsnotify.Watcher

	mu            sync.Mutex
	pendingEvents map[string]*time.Timer // path -> timer

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWatcher creates a watcher for dir. The directory is created if missing.
func NewWatcher(dir string, publisher *Publisher, store *storage.Store) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("watch directory cannot be empty")
	}
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watch directory: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create watch directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		rootDir:       absPath,
		publisher:     publisher,
		store:         store,
		watcher:       fw,
		pendingEvents: make(map[string]*time.Timer),
	}, nil
}

// Start publishes files changed while the node was offline, then watches
// for new changes until ctx is done or Stop is called
func (w *Watcher) Start(ctx context.Context) error {
	var startErr error
	w.startOnce.Do(func() {
		slog.Info("Starting publish watcher", "rootDir", w.rootDir)

		if err := w.scanOfflineChanges(ctx); err != nil {
			startErr = fmt.Errorf("failed to scan offline changes: %w", err)
			return
		}
		if err := w.watchDirectoryTree(w.rootDir); err != nil {
			startErr = fmt.Errorf("failed to watch directory: %w", err)
			return
		}

		go w.processEvents(ctx)
	})
	return startErr
}

// Stop cancels pending work and closes the watcher
func (w *Watcher) Stop() error {
	var stopErr error
	w.stopOnce.Do(func() {
		w.mu.Lock()
		for _, timer := range w.pendingEvents {
			timer.Stop()
		}
		w.pendingEvents = make(map[string]*time.Timer)
		w.mu.Unlock()

		stopErr = w.watcher.Close()
		slog.Info("Publish watcher stopped")
	})
	return stopErr
}

// PublishedURI returns the ni URI last published for a path relative to the
// watched directory
func (w *Watcher) PublishedURI(relPath string) (string, bool) {
	uri, err := w.store.Get(fileURIPrefix + filepath.ToSlash(relPath))
	if err != nil {
		return "", false
	}
	return uri, true
}

func (w *Watcher) watchDirectoryTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		slog.Debug("Watching directory", "path", path)
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	relPath, err := filepath.Rel(w.rootDir, event.Name)
	if err != nil || strings.HasPrefix(relPath, "..") {
		return
	}
	if strings.HasPrefix(filepath.Base(relPath), ".") {
		return
	}

	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watchDirectoryTree(event.Name); err != nil {
				slog.Error("Failed to watch new directory", "path", event.Name, "error", err)
			}
			return
		}
	}

	w.debounceEvent(ctx, relPath)
}

// debounceEvent adds or resets the timer for a path
func (w *Watcher) debounceEvent(ctx context.Context, relPath string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, exists := w.pendingEvents[relPath]; exists {
		timer.Stop()
	}
	w.pendingEvents[relPath] = time.AfterFunc(debounceDelay, func() {
		w.processChange(ctx, relPath)

		w.mu.Lock()
		delete(w.pendingEvents, relPath)
		w.mu.Unlock()
	})
}

func (w *Watcher) processChange(ctx context.Context, relPath string) {
	if ctx.Err() != nil {
		return
	}
	fullPath := filepath.Join(w.rootDir, relPath)
	key := filepath.ToSlash(relPath)

	info, err := os.Stat(fullPath)
	if os.IsNotExist(err) {
		// Published content stays in the store; only forget the file.
		w.store.Delete(fileStatPrefix + key)
		w.store.Delete(fileURIPrefix + key)
		slog.Debug("File removed", "path", relPath)
		return
	}
	if err != nil {
		slog.Error("Failed to stat file", "path", relPath, "error", err)
		return
	}
	if info.IsDir() {
		return
	}

	w.publishFile(ctx, relPath, fullPath, info)
}

func (w *Watcher) publishFile(ctx context.Context, relPath, fullPath string, info fs.FileInfo) {
	obj, err := w.publisher.Ingest(ctx, fullPath)
	if err != nil {
		slog.Error("Failed to publish file", "path", relPath, "error", err)
		return
	}

	key := filepath.ToSlash(relPath)
	if err := w.store.Set(fileURIPrefix+key, obj.Handle.URI()); err != nil {
		slog.Warn("Failed to record published URI", "path", relPath, "error", err)
	}
	if err := w.store.Set(fileStatPrefix+key, fileStat(info)); err != nil {
		slog.Warn("Failed to update file stat", "path", relPath, "error", err)
	}
}

// scanOfflineChanges publishes files whose stat differs from the last run
func (w *Watcher) scanOfflineChanges(ctx context.Context) error {
	changeCount := 0
	err := filepath.WalkDir(w.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if strings.HasPrefix(d.Name(), ".") && path != w.rootDir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(w.rootDir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			slog.Warn("Failed to get file info", "path", relPath, "error", err)
			return nil
		}

		stored := w.store.GetWithDefault(fileStatPrefix+filepath.ToSlash(relPath), "")
		if stored != fileStat(info) {
			w.publishFile(ctx, relPath, path, info)
			changeCount++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk directory: %w", err)
	}

	slog.Info("Offline scan complete", "published", changeCount)
	return nil
}

func fileStat(info fs.FileInfo) string {
	return fmt.Sprintf("%d-%d", info.ModTime().UnixNano(), info.Size())
}
