package templates

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher live-reloads a Registry when template files change on disk, so
// checklist edits take effect without restarting the daemon. Rapid edits
// (editor save storms) are debounced into a single reload.
type Watcher struct {
	registry *Registry
	watcher  *fsnotify.Watcher
	logger   *log.Logger

	debounce time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewWatcher creates a watcher for the registry's template directory.
// The watcher must be started with Start() before it reloads anything.
func NewWatcher(registry *Registry, logger *log.Logger) (*Watcher, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[templates] ", log.LstdFlags)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		registry: registry,
		watcher:  fsw,
		logger:   logger,
		debounce: 200 * time.Millisecond,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching the template directory.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if err := w.watcher.Add(w.registry.dir); err != nil {
		return fmt.Errorf("failed to watch templates directory %s: %w", w.registry.dir, err)
	}

	w.running = true
	w.wg.Add(1)
	go w.loop()

	return nil
}

// Stop stops watching and blocks until the event loop has exited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

// loop coalesces file events and reloads the registry after a quiet
// period.
func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isTemplateFile(event.Name) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("Watch error: %v", err)

		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	fileErrs, err := w.registry.Reload()
	if err != nil {
		w.logger.Printf("Template reload failed: %v", err)
		return
	}
	for _, fe := range fileErrs {
		w.logger.Printf("Skipping template: %v", fe)
	}
	w.logger.Printf("Templates reloaded: %s", strings.Join(w.registry.Names(), ", "))
}

func isTemplateFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
