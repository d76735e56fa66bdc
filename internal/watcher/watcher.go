// Package watcher normalizes raw filesystem notifications into the change
// events the sync core consumes.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	DefaultIgnoreTimeout   = time.Second
	defaultCleanupInterval = 15 * time.Second
	eventBufferSize        = 64
	defaultDebounceTimeout = 50 * time.Millisecond
)

// ChangeKind is the normalized local change type.
type ChangeKind int

const (
	Created ChangeKind = iota
	Changed
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "Created"
	case Changed:
		return "Changed"
	case Deleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// Change is one normalized filesystem notification. An OS-level rename
// without a visible counterpart arrives as Deleted for the old path and
// Created for the new one; the stable id re-links the two downstream.
type Change struct {
	Path  string
	Kind  ChangeKind
	IsDir bool
}

// FilterCallback returns true if the raw event should be dropped.
type FilterCallback func(path string) bool

// Watcher wraps a recursive OS watch and emits debounced, normalized
// changes. Writes the sync engine performs itself are suppressed through
// the ignore-once list.
type Watcher struct {
	watchDir        string
	changes         chan Change
	rawEvents       chan notify.EventInfo
	ignore          map[string]time.Time
	ignoreMu        sync.RWMutex
	cleanupInterval time.Duration
	done            chan struct{}
	wg              sync.WaitGroup

	// debouncing
	pendingEvents   map[string]Change
	eventTimers     map[string]*time.Timer
	debounceMu      sync.Mutex
	debounceTimeout time.Duration

	// raw event filtering
	ignoreCallback FilterCallback
	callbackMu     sync.RWMutex

	enabled sync.Mutex
	active  bool
}

func New(watchDir string) *Watcher {
	return &Watcher{
		watchDir:        watchDir,
		ignore:          make(map[string]time.Time),
		cleanupInterval: defaultCleanupInterval,
		done:            make(chan struct{}),
		pendingEvents:   make(map[string]Change),
		eventTimers:     make(map[string]*time.Timer),
		debounceTimeout: defaultDebounceTimeout,
	}
}

// SetDebounceTimeout sets the debounce timeout for events.
func (w *Watcher) SetDebounceTimeout(timeout time.Duration) {
	w.debounceTimeout = timeout
}

// FilterPaths sets a callback to drop raw events before debouncing.
func (w *Watcher) FilterPaths(callback FilterCallback) {
	w.callbackMu.Lock()
	defer w.callbackMu.Unlock()
	w.ignoreCallback = callback
}

// Start begins watching. EnableEvents(true) is implied.
func (w *Watcher) Start(ctx context.Context) error {
	slog.Info("watcher start", "dir", w.watchDir)

	w.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	w.changes = make(chan Change, eventBufferSize)
	w.active = true

	recursivePath := w.watchDir + "/..."
	if err := notify.Watch(recursivePath, w.rawEvents, notify.Create|notify.Write|notify.Remove|notify.Rename); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.filterEvents(ctx)

	w.wg.Add(1)
	go w.cleanupExpiredEntries(ctx)

	return nil
}

// Stop shuts the watch down and closes the change channel.
func (w *Watcher) Stop() {
	slog.Info("watcher stopping")

	close(w.done)
	if w.rawEvents != nil {
		notify.Stop(w.rawEvents)
	}
	w.wg.Wait()

	slog.Info("watcher stopped")
}

// EnableEvents gates event delivery without tearing the OS watch down.
// Disabled during bulk operations the engine performs itself.
func (w *Watcher) EnableEvents(enable bool) {
	w.enabled.Lock()
	defer w.enabled.Unlock()
	w.active = enable
}

func (w *Watcher) eventsEnabled() bool {
	w.enabled.Lock()
	defer w.enabled.Unlock()
	return w.active
}

// Changes returns the normalized change channel.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// IgnoreOnce suppresses the next event for path, for the default timeout.
// Used for writes the engine performs itself.
func (w *Watcher) IgnoreOnce(path string) {
	w.IgnoreOnceWithTimeout(path, DefaultIgnoreTimeout)
}

// IgnoreOnceWithTimeout suppresses the next event for path with a custom
// expiry.
func (w *Watcher) IgnoreOnceWithTimeout(path string, timeout time.Duration) {
	w.ignoreMu.Lock()
	defer w.ignoreMu.Unlock()
	w.ignore[path] = time.Now().Add(timeout)
}

func (w *Watcher) isPathTemporarilyIgnored(path string) bool {
	w.ignoreMu.Lock()
	defer w.ignoreMu.Unlock()

	expiry, exists := w.ignore[path]
	if !exists {
		return false
	}

	delete(w.ignore, path)
	return !time.Now().After(expiry)
}

func normalize(event notify.EventInfo) Change {
	change := Change{Path: event.Path()}

	switch event.Event() {
	case notify.Create:
		change.Kind = Created
	case notify.Write:
		change.Kind = Changed
	case notify.Remove, notify.Rename:
		// A rename pair that stays inside the watch root also produces a
		// Create for the new path.
		change.Kind = Deleted
	default:
		change.Kind = Changed
	}

	if info, err := os.Stat(event.Path()); err == nil {
		change.IsDir = info.IsDir()
	}
	return change
}

// filterEvents drops ignored paths, debounces, and forwards the rest.
func (w *Watcher) filterEvents(ctx context.Context) {
	defer func() {
		// flush pending events before closing
		w.debounceMu.Lock()
		for path, timer := range w.eventTimers {
			timer.Stop()
			if change, exists := w.pendingEvents[path]; exists {
				select {
				case w.changes <- change:
				default:
					slog.Warn("watcher channel full during exit, dropping event", "path", path)
				}
			}
		}
		w.debounceMu.Unlock()

		w.wg.Done()
		close(w.changes)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.rawEvents:
			if !ok {
				return
			}

			if !w.eventsEnabled() {
				continue
			}

			w.callbackMu.RLock()
			callback := w.ignoreCallback
			w.callbackMu.RUnlock()
			if callback != nil && callback(event.Path()) {
				continue
			}

			// inotify fires a burst of WRITE events while a file is being
			// written; debounce collapses the burst at the cost of the
			// debounce latency
			w.debounceEvent(normalize(event))
		}
	}
}

func (w *Watcher) debounceEvent(change Change) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.eventTimers[change.Path]; exists {
		timer.Stop()
		delete(w.eventTimers, change.Path)
	}

	// Created followed by Changed within the debounce window stays Created.
	if prev, exists := w.pendingEvents[change.Path]; exists &&
		prev.Kind == Created && change.Kind == Changed {
		change.Kind = Created
	}
	w.pendingEvents[change.Path] = change

	w.eventTimers[change.Path] = time.AfterFunc(w.debounceTimeout, func() {
		w.flushEvent(change.Path)
	})
}

func (w *Watcher) flushEvent(path string) {
	w.debounceMu.Lock()
	change, exists := w.pendingEvents[path]
	if !exists {
		w.debounceMu.Unlock()
		return
	}
	delete(w.pendingEvents, path)
	delete(w.eventTimers, path)
	w.debounceMu.Unlock()

	if w.isPathTemporarilyIgnored(path) {
		return
	}

	select {
	case w.changes <- change:
		slog.Debug("watcher", "change", change.Kind, "path", path)
	default:
		slog.Warn("watcher dropped", "reason", "channel full", "path", path)
	}
}

func (w *Watcher) cleanupExpiredEntries(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.ignoreMu.Lock()
			now := time.Now()
			for path, expiry := range w.ignore {
				if now.After(expiry) {
					delete(w.ignore, path)
				}
			}
			w.ignoreMu.Unlock()
		}
	}
}
