package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives the freshly loaded config, or the error that prevented loading it.
type ReloadFunc func(cfg *Config, err error)

// Watcher reloads configuration when either config file changes.
type Watcher struct {
	fs       *fsnotify.Watcher
	files    []string
	debounce time.Duration
	reload   func() (*Config, error)
	onChange ReloadFunc
	done     chan struct{}
}

// Watch starts watching globalPath and projectPath. Their directories are
// watched rather than the files, so editors that replace files on save still
// trigger a reload. Bursts of events within debounce collapse into one reload.
func Watch(globalPath, projectPath string, debounce time.Duration, onChange ReloadFunc) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	w := &Watcher{
		fs:       fsw,
		debounce: debounce,
		reload:   func() (*Config, error) { return Load(globalPath, projectPath) },
		onChange: onChange,
		done:     make(chan struct{}),
	}

	var dirs []string
	for _, p := range []string{globalPath, projectPath} {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("resolving %s: %w", p, err)
		}
		w.files = append(w.files, abs)
		dir := filepath.Dir(abs)
		if _, err := os.Stat(dir); err != nil || slices.Contains(dirs, dir) {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		dirs = append(dirs, dir)
	}

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)

	// Debounce timer, stopped until the first relevant event
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !slices.Contains(w.files, filepath.Clean(ev.Name)) {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.onChange(nil, fmt.Errorf("config watcher: %w", err))
		case <-timer.C:
			w.onChange(w.reload())
		}
	}
}

// Close stops watching and waits for the watch loop to exit.
func (w *Watcher) Close() error {
	err := w.fs.Close()
	<-w.done
	return err
}
