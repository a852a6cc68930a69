package grid

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gridrun/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher calls a callback when job logs under watched directories change.
// Bursts of events (a job appending many lines) collapse into one call
// per debounce period.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func(ctx context.Context, paths []string)

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewWatcher creates a watcher over dirs. Directories that do not exist
// yet are skipped with a warning.
func NewWatcher(dirs []string, debounce time.Duration, onChange func(ctx context.Context, paths []string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	added := 0
	seen := make(map[string]bool)
	for _, dir := range dirs {
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if _, err := os.Stat(dir); err != nil {
			logging.StatusWarn("not watching %s: %v", dir, err)
			continue
		}
		if err := fw.Add(dir); err != nil {
			logging.StatusWarn("not watching %s: %v", dir, err)
			continue
		}
		added++
	}
	if added == 0 {
		fw.Close()
		return nil, fmt.Errorf("none of %d directories could be watched", len(dirs))
	}
	logging.StatusDebug("watching %d log directories", added)

	return &Watcher{
		watcher:  fw,
		debounce: debounce,
		onChange: onChange,
		pending:  make(map[string]time.Time),
	}, nil
}

// Run processes events until ctx ends, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	tick := w.debounce / 4
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".log") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending[event.Name] = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logging.StatusWarn("watcher error: %v", err)

		case <-ticker.C:
			if paths := w.settled(); len(paths) > 0 {
				w.onChange(ctx, paths)
			}
		}
	}
}

// settled returns and clears the paths quiet for a full debounce period.
func (w *Watcher) settled() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var paths []string
	now := time.Now()
	for path, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			paths = append(paths, path)
			delete(w.pending, path)
		}
	}
	sort.Strings(paths)
	return paths
}
