// Package inbox watches a drop folder for mailbox lists and exports each
// one as it arrives.
package inbox

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// ProcessedDir receives lists that were exported
	ProcessedDir = "processed"
	// FailedDir receives lists whose export returned an error
	FailedDir = "failed"
)

// Handler exports one mailbox list file
type Handler func(ctx context.Context, path string) error

// Watcher picks up mailbox lists dropped into a directory. Lists are handled
// one at a time in arrival order, then moved aside.
type Watcher struct {
	dir      string
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	queued  map[string]bool
	queue   chan string
}

// NewWatcher creates a watcher for dir
func NewWatcher(dir string) *Watcher {
	return &Watcher{
		dir:      dir,
		debounce: 500 * time.Millisecond, // Debounce rapid writes
		pending:  make(map[string]*time.Timer),
		queued:   make(map[string]bool),
		queue:    make(chan string, 64),
	}
}

// SetDebounce sets how long a file must stay quiet before it is handled
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

// IsMailboxList reports whether the file name looks like a list the
// source package can load
func IsMailboxList(name string) bool {
	if strings.HasPrefix(filepath.Base(name), ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".yaml", ".yml":
		return true
	}
	return false
}

// Run watches until ctx is done. Files already present when Run starts are
// handled first.
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	for _, sub := range []string{ProcessedDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(w.dir, sub), 0755); err != nil {
			return err
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	existing, err := w.scan()
	if err != nil {
		return err
	}
	for _, path := range existing {
		w.enqueue(path)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.work(ctx, handle)
	}()
	defer wg.Wait()

	log.Printf("[inbox] watching %s", w.dir)
	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Printf("[inbox] watch error: %v", err)
		}
	}
}

func (w *Watcher) scan() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && IsMailboxList(e.Name()) {
			paths = append(paths, filepath.Join(w.dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !IsMailboxList(event.Name) || filepath.Dir(event.Name) != filepath.Clean(w.dir) {
		return
	}
	// Only care about writes and creates
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[event.Name]; ok {
		t.Stop()
	}
	path := event.Name
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.enqueue(path)
	})
}

func (w *Watcher) enqueue(path string) {
	w.mu.Lock()
	if w.queued[path] {
		w.mu.Unlock()
		return
	}
	w.queued[path] = true
	w.mu.Unlock()

	select {
	case w.queue <- path:
	default:
		log.Printf("[inbox] queue full, %s is picked up on the next start", filepath.Base(path))
		w.mu.Lock()
		delete(w.queued, path)
		w.mu.Unlock()
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) work(ctx context.Context, handle Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.queue:
			w.process(ctx, path, handle)
		}
	}
}

func (w *Watcher) process(ctx context.Context, path string, handle Handler) {
	defer func() {
		w.mu.Lock()
		delete(w.queued, path)
		w.mu.Unlock()
	}()

	if _, err := os.Stat(path); err != nil {
		return // moved or deleted before we got to it
	}

	log.Printf("[inbox] exporting %s", filepath.Base(path))
	target := ProcessedDir
	if err := handle(ctx, path); err != nil {
		if ctx.Err() != nil {
			// leave the file for the next start
			return
		}
		log.Printf("[inbox] %s failed: %v", filepath.Base(path), err)
		target = FailedDir
	}

	if err := moveAside(path, filepath.Join(w.dir, target)); err != nil {
		log.Printf("[inbox] moving %s: %v", filepath.Base(path), err)
	}
}

// moveAside renames path into dir, adding a timestamp so reruns of the same
// file name do not collide
func moveAside(path, dir string) error {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := fmt.Sprintf("%s-%s%s", strings.TrimSuffix(base, ext), time.Now().Format("20060102-150405"), ext)
	return os.Rename(path, filepath.Join(dir, name))
}
