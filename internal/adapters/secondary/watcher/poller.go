package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/PolycarpusTack/papin-sub003/internal/domain/ports"
)

// ErrStopped is returned by Watch after Stop
var ErrStopped = errors.New("watcher stopped")

// PollingWatcher implements file watching using polling. A change is
// reported when a file appears, disappears or its content digest changes.
type PollingWatcher struct {
	interval time.Duration
	debounce time.Duration
	clock    ports.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	files   map[string]fileState
	events  chan ports.FileChangeEvent
	stopCh  chan struct{}
	wg      sync.WaitGroup
	stopped bool
}

// fileState is the last observed state of a watched path
type fileState struct {
	exists  bool
	size    int64
	modTime time.Time
	digest  [32]byte
}

// Option configures a PollingWatcher
type Option func(*PollingWatcher)

// WithClock sets the clock driving the poll ticker and debounce window
func WithClock(clock ports.Clock) Option {
	return func(w *PollingWatcher) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(w *PollingWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewPollingWatcher creates a new polling-based file watcher. Changes
// arriving within debounce of the previous event are held back and
// reported once the window has passed.
func NewPollingWatcher(interval, debounce time.Duration, opts ...Option) *PollingWatcher {
	w := &PollingWatcher{
		interval: interval,
		debounce: debounce,
		clock:    ports.NewRealClock(),
		logger:   slog.Default(),
		files:    make(map[string]fileState),
		events:   make(chan ports.FileChangeEvent, 10),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(slog.String("component", "watcher"))
	return w
}

// Watch starts watching a file for changes
func (w *PollingWatcher) Watch(ctx context.Context, path string) (<-chan ports.FileChangeEvent, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	initial, err := readState(absPath)
	if err != nil {
		return nil, fmt.Errorf("initial scan: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil, ErrStopped
	}
	w.files[absPath] = initial

	ticker := w.clock.NewTicker(w.interval)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx, absPath, ticker)
	}()

	return w.events, nil
}

// Stop stops the file watcher
func (w *PollingWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	close(w.events)

	return nil
}

// pollLoop polls one path until ctx is done or the watcher stops
func (w *PollingWatcher) pollLoop(ctx context.Context, path string, ticker ports.Ticker) {
	defer ticker.Stop()

	var (
		lastEvent time.Time
		pending   *ports.FileChangeEvent
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C():
			changeType, changed, err := w.checkForChanges(path)
			if err != nil {
				w.logger.Warn("Watch check failed",
					slog.String("path", path),
					slog.String("error", err.Error()))
				continue
			}

			now := w.clock.Now()
			if changed {
				pending = &ports.FileChangeEvent{Path: path, Type: changeType, Timestamp: now}
			}
			if pending == nil || now.Sub(lastEvent) < w.debounce {
				continue
			}

			select {
			case w.events <- *pending:
				lastEvent = now
				pending = nil
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			}
		}
	}
}

// checkForChanges compares the current state of path with the last one seen
func (w *PollingWatcher) checkForChanges(path string) (ports.ChangeType, bool, error) {
	w.mu.Lock()
	previous := w.files[path]
	w.mu.Unlock()

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if !previous.exists {
			return 0, false, nil
		}
		w.store(path, fileState{})
		return ports.Deleted, true, nil
	case err != nil:
		return 0, false, fmt.Errorf("stat file: %w", err)
	}

	// Size and mtime unchanged means the content is unchanged
	if previous.exists && previous.size == info.Size() && previous.modTime.Equal(info.ModTime()) {
		return 0, false, nil
	}

	current, err := readState(path)
	if err != nil {
		return 0, false, err
	}
	w.store(path, current)

	if !previous.exists {
		return ports.Created, true, nil
	}
	return ports.Modified, previous.digest != current.digest, nil
}

func (w *PollingWatcher) store(path string, state fileState) {
	w.mu.Lock()
	w.files[path] = state
	w.mu.Unlock()
}

// readState stats and digests path. A missing file is a valid state.
func readState(path string) (fileState, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fileState{}, nil
	}
	if err != nil {
		return fileState{}, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return fileState{}, fmt.Errorf("%s is a directory", path)
	}

	data, err := os.ReadFile(path) // #nosec G304 - path is a config file chosen by the caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileState{}, nil
		}
		return fileState{}, fmt.Errorf("reading file: %w", err)
	}

	return fileState{
		exists:  true,
		size:    info.Size(),
		modTime: info.ModTime(),
		digest:  blake3.Sum256(data),
	}, nil
}

var _ ports.FileWatcher = (*PollingWatcher)(nil)
