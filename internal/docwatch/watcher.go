// Package docwatch watches a local directory for dropped decoder-manifest
// and collection-scheme documents, as an offline alternative to the
// MQTT-delivered decoder-manifest/notify and collection-schemes/notify
// topics. Useful for bench testing and field diagnostics when no broker is
// reachable.
package docwatch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Handler receives the raw bytes of a dropped document.
type Handler func(payload []byte)

// Watcher watches one directory and dispatches files matching known names
// to their handler, debouncing rapid writes to the same file.
type Watcher struct {
	dir      string
	handlers map[string]Handler
	log      zerolog.Logger

	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}

	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer
}

// New constructs a Watcher over dir. handlers maps a file base name (e.g.
// "decoder-manifest.json") to the callback invoked with its contents
// whenever the file is created or rewritten.
func New(log zerolog.Logger, dir string, handlers map[string]Handler) *Watcher {
	return &Watcher{
		dir:            dir,
		handlers:       handlers,
		log:            log.With().Str("component", "docwatch").Logger(),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
		debounceTimers: make(map[string]*time.Timer),
	}
}

// Start creates the directory if missing, begins watching it, and
// processes any documents already present. Returns an error only if the
// directory could not be created, the underlying fsnotify watcher could not
// be created, or the directory could not be added.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return err
	}
	w.watcher = fw

	for name := range w.handlers {
		w.processIfPresent(name)
	}

	go w.loop()
	return nil
}

// Stop closes the underlying watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	close(w.stop)
	if w.watcher != nil {
		w.watcher.Close()
	}
	<-w.done
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.schedule(filepath.Base(event.Name))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("fsnotify error")
		}
	}
}

// schedule debounces repeated Create+Write events on the same path by
// 200ms so the handler sees a fully-written file.
func (w *Watcher) schedule(base string) {
	if _, ok := w.handlers[base]; !ok {
		return
	}
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[base]; ok {
		t.Reset(200 * time.Millisecond)
		return
	}
	w.debounceTimers[base] = time.AfterFunc(200*time.Millisecond, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, base)
		w.debounceMu.Unlock()
		w.processIfPresent(base)
	})
}

func (w *Watcher) processIfPresent(base string) {
	handler, ok := w.handlers[base]
	if !ok {
		return
	}
	path := filepath.Join(w.dir, base)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.log.Warn().Err(err).Str("path", path).Msg("failed to read dropped document")
		}
		return
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return
	}
	handler(data)
}
