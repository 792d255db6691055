package notify

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Handler receives the contents of a consumed file.
type Handler func(path string, data []byte)

// Watcher consumes files with a given suffix from a directory. Each file is
// read, removed and handed to the handler exactly once per process; a file
// already removed by a competing consumer is skipped.
type Watcher struct {
	dir     string
	suffix  string
	handle  Handler
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// NewWatcher creates a watcher for dir. Hidden files (leading dot) are
// ignored so writers can stage content before renaming it into place.
func NewWatcher(dir, suffix string, handle Handler, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:    dir,
		suffix: suffix,
		handle: handle,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Start drains any files already present, then watches for new ones.
// Call Stop to clean up.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw

	w.drainExisting()

	go w.loop()
	w.logger.Info("watching directory", "dir", w.dir, "suffix", w.suffix)
	return nil
}

// Stop shuts down the watcher. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		if w.watcher == nil {
			close(w.done)
			return
		}
		_ = w.watcher.Close()
		<-w.done
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Create|fsnotify.Rename) != 0 && w.matches(evt.Name) {
				w.processFile(evt.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "dir", w.dir, "error", err)
		}
	}
}

func (w *Watcher) matches(path string) bool {
	base := filepath.Base(path)
	return !strings.HasPrefix(base, ".") && strings.HasSuffix(base, w.suffix)
}

func (w *Watcher) drainExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && w.matches(entry.Name()) {
			w.processFile(filepath.Join(w.dir, entry.Name()))
		}
	}
}

func (w *Watcher) processFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // consumed by another process, or a rename away from dir
	}
	if err := os.Remove(path); err != nil {
		return
	}
	if w.handle != nil {
		w.handle(path, data)
	}
}
