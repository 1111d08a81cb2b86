package config

import (
	"github.com/fsnotify/fsnotify"

	"github.com/jacoblasky/wsh/internal/wshlog"
)

// Watcher reloads scrollback-limit and quiescence-default settings from the
// config file whenever it changes on disk, without restarting the daemon.
// Only these two fields hot-reload; addr/name/shell/log settings take
// effect at startup only.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	onChange func(Config)
}

// WatchFile starts watching path for writes, invoking onChange with the
// freshly reloaded Config each time. It is a no-op if path is empty.
func WatchFile(path string, onChange func(Config)) (*Watcher, error) {
	if path == "" {
		return nil, nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{path: path, watcher: fw, onChange: onChange}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				wshlog.Warn("config reload failed", "path", w.path, "error", err)
				continue
			}
			w.onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			wshlog.Warn("config watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	if w == nil || w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}
