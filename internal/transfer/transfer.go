// Package transfer moves document content between the local filesystem and
// the remote repository: chunked, resumable, with a rolling digest verified
// at the end of every transfer.
package transfer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/opendms/docsync/internal/remote"
	"github.com/opendms/docsync/internal/store"
)

// PartSuffix marks an in-progress download artifact. A file carrying the
// suffix is never presented as complete.
const PartSuffix = ".docsync-part"

var (
	// ErrContentCorrupted means the finalized digest does not match the
	// hash the remote advertises. The metadata store must not be updated.
	ErrContentCorrupted = errors.New("transfer: content digest mismatch")

	// ErrAlreadyActive means a transfer for the same remote object is
	// already in flight.
	ErrAlreadyActive = errors.New("transfer: already active")
)

// Options tunes the transmission strategies.
type Options struct {
	// ChunkSize > 0 selects chunked transfer; 0 selects single-request.
	ChunkSize int64
	// MaxAttempts bounds retries of one chunk on transient faults.
	MaxAttempts int
	RetryBase   time.Duration
	RetryMax    time.Duration
	Observer    Observer
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBase == 0 {
		o.RetryBase = time.Second
	}
	if o.RetryMax == 0 {
		o.RetryMax = 10 * time.Second
	}
	return o
}

// Job describes one content transmission.
type Job struct {
	Direction store.TransferDirection
	Object    *remote.Object
	// LocalPath is the absolute path of the local file (source for upload,
	// final destination for download).
	LocalPath string
	// Proposed is the mapping to persist once the transfer succeeds. Owned
	// by the caller; the manager hands it back on the result.
	Proposed *store.MappedObject
}

// Result reports a finished transmission back to the queue.
type Result struct {
	Job      *Job
	Token    string
	Checksum string
	Size     int64
	Err      error
}

// Manager runs transmissions off the queue goroutine. Each transfer has its
// own abort scope; cancelling one never affects the others. Completion and
// failure are reported through the report callback so metadata updates
// remain serialized on the queue.
type Manager struct {
	session remote.Session
	store   *store.Store
	opts    Options
	report  func(*Result)

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(session remote.Session, st *store.Store, opts Options, report func(*Result)) *Manager {
	return &Manager{
		session: session,
		store:   st,
		opts:    opts.withDefaults(),
		report:  report,
		active:  make(map[string]context.CancelFunc),
	}
}

// Active reports whether a transfer for the remote object is in flight.
func (m *Manager) Active(remoteID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[remoteID]
	return ok
}

// Begin starts the job in its own goroutine. The result is delivered via
// the report callback, error included.
func (m *Manager) Begin(ctx context.Context, job *Job) error {
	m.mu.Lock()
	if _, ok := m.active[job.Object.ID]; ok {
		m.mu.Unlock()
		return ErrAlreadyActive
	}
	jobCtx, cancel := context.WithCancel(ctx)
	m.active[job.Object.ID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		started := time.Now()
		result := m.run(jobCtx, job)

		// deactivate before reporting: anything queued behind the result
		// must observe the transfer as finished
		cancel()
		m.mu.Lock()
		delete(m.active, job.Object.ID)
		m.mu.Unlock()

		if result.Err != nil {
			slog.Error("transfer failed", "dir", job.Direction, "path", job.LocalPath, "error", result.Err)
		} else {
			slog.Info("transfer done",
				"dir", job.Direction,
				"path", job.LocalPath,
				"size", humanize.Bytes(uint64(result.Size)),
				"took", time.Since(started),
			)
		}
		m.report(result)
	}()
	return nil
}

// Cancel aborts one in-flight transfer. Unrelated transfers keep running.
func (m *Manager) Cancel(remoteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.active[remoteID]; ok {
		cancel()
	}
}

// AbortAll cancels every active transfer and waits for the goroutines to
// drain. Called on suspension and shutdown so no orphaned partial write
// survives the queue.
func (m *Manager) AbortAll() {
	m.mu.Lock()
	for _, cancel := range m.active {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context, job *Job) *Result {
	switch job.Direction {
	case store.TransferUpload:
		return m.upload(ctx, job)
	case store.TransferDownload:
		return m.download(ctx, job)
	default:
		return &Result{Job: job, Err: errors.New("transfer: unknown direction")}
	}
}

func (m *Manager) observe(job *Job, transferred int64, total *int64) {
	if m.opts.Observer != nil {
		m.opts.Observer(job, transferred, total)
	}
}
