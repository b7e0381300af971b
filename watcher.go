package nervusdb

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/nervusdb/nervusdb/internal/paged"
)

// ManifestWatcher watches the index manifest for changes made by another
// process sharing this database (spec §6: external readers should be able
// to pick up a writer's Flush/Compact without polling). It is independent
// of Store's own in-process manifest pointer, so it's mainly useful to a
// read-only handle opened with EnableLock disabled.
type ManifestWatcher struct {
	path      string
	callbacks []func(*paged.Manifest)
	mu        sync.RWMutex
	logger    *zap.Logger
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
}

// WatchForChanges starts a ManifestWatcher on this store's manifest file.
// Callers append callbacks with OnChange before other goroutines can
// observe a reload; the watcher runs until Close is called.
func (s *Store) WatchForChanges() (*ManifestWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	manifestPath := filepath.Join(s.indexDir, manifestFileName)
	if err := fsWatcher.Add(filepath.Dir(manifestPath)); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	w := &ManifestWatcher{
		path:    manifestPath,
		logger:  s.log,
		watcher: fsWatcher,
		stopCh:  make(chan struct{}),
	}
	go w.watchLoop()
	return w, nil
}

// OnChange registers a callback invoked with the freshly reloaded manifest
// every time it changes on disk. Callbacks run on the watcher's goroutine;
// they should not block.
func (w *ManifestWatcher) OnChange(cb func(*paged.Manifest)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

func (w *ManifestWatcher) watchLoop() {
	defer w.watcher.Close()

	var debounce *time.Timer
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("manifest watcher error", zap.Error(err))

		case <-w.stopCh:
			return
		}
	}
}

func (w *ManifestWatcher) reload() {
	m, err := paged.Load(w.path)
	if err != nil {
		w.logger.Warn("manifest reload failed", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.mu.RLock()
	callbacks := append([]func(*paged.Manifest)(nil), w.callbacks...)
	w.mu.RUnlock()
	for _, cb := range callbacks {
		cb(m)
	}
}

// Close stops the watcher goroutine and releases the underlying fsnotify
// handle.
func (w *ManifestWatcher) Close() error {
	close(w.stopCh)
	return nil
}
