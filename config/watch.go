package config

import (
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// OnReload is called with the freshly loaded configuration after the
// watched file changes. It is not called when the new file fails to load.
type OnReload func(Config)

// Watcher reloads configuration when the underlying file changes.
// Only tunables read through the callback are affected; components that
// captured values at startup keep them.
type Watcher struct {
	path     string
	fsw      *fsnotify.Watcher
	onReload OnReload
	closed   atomic.Bool
	done     chan struct{}
}

// Watch starts watching path and invokes onReload after each change.
func Watch(path string, onReload OnReload) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory: editors replace files on save, which drops
	// a direct file watch.
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		fsw:      fsw,
		onReload: onReload,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := LoadFile(w.path)
			if err != nil {
				// Keep running with the previous config.
				continue
			}
			w.onReload(cfg)
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	err := w.fsw.Close()
	<-w.done
	return err
}
