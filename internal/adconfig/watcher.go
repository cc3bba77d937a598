package adconfig

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// pollInterval is the fallback cadence when fsnotify cannot watch the
// config directory.
const pollInterval = 10 * time.Second

// Watcher monitors the remote ad config file and pushes reloaded
// configs to a callback.
type Watcher struct {
	path        string
	watcher     *fsnotify.Watcher
	stopChan    chan struct{}
	stopOnce    sync.Once
	lastModTime time.Time

	mu       sync.Mutex
	onReload func(Config)
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		stopChan: make(chan struct{}),
	}
	if stat, err := os.Stat(path); err == nil {
		w.lastModTime = stat.ModTime()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w.watcher = fw
	return w, nil
}

// OnReload sets the callback invoked with each successfully reloaded
// config.
func (w *Watcher) OnReload(cb func(Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = cb
}

// Start begins watching. Watching the directory (not the file) survives
// editors and config pushes that replace the file; if the directory
// cannot be watched, a polling loop takes over.
func (w *Watcher) Start() {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		log.Warn().Err(err).Str("path", dir).
			Msg("Failed to watch ad config directory, falling back to polling")
		go w.pollForChanges()
		return
	}
	go w.watchForChanges()
	log.Info().Str("path", w.path).Msg("Watching remote ad config for changes")
}

// Stop halts the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.watcher.Close()
	})
}

func (w *Watcher) watchForChanges() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce: config pushes often produce several events.
			time.Sleep(100 * time.Millisecond)
			w.reloadIfChanged()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Ad config watcher error")
		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) pollForChanges() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.reloadIfChanged()
		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) reloadIfChanged() {
	stat, err := os.Stat(w.path)
	if err != nil {
		return
	}
	if !stat.ModTime().After(w.lastModTime) {
		return
	}
	w.lastModTime = stat.ModTime()

	cfg, err := Load(w.path)
	if err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("Ignoring malformed ad config update")
		return
	}
	log.Info().Str("path", w.path).Msg("Remote ad config reloaded")

	w.mu.Lock()
	cb := w.onReload
	w.mu.Unlock()
	if cb != nil {
		cb(cfg)
	}
}
