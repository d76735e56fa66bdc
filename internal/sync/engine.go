package sync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/opendms/docsync/internal/config"
	"github.com/opendms/docsync/internal/events"
	"github.com/opendms/docsync/internal/remote"
	"github.com/opendms/docsync/internal/store"
	"github.com/opendms/docsync/internal/transfer"
	"github.com/opendms/docsync/internal/utils"
	"github.com/opendms/docsync/internal/watcher"
)

// stateDirName is the data-dir subdirectory holding the metadata store
// and the instance lock. Always excluded from synchronization.
const stateDirName = ".docsync"

// Engine wires the producers, the queue, the handler chain and the
// transfer manager into one running synchronization client.
type Engine struct {
	cfg     *config.Config
	session remote.Session
	store   *store.Store
	queue   *events.Queue
	watch   *watcher.Watcher
	poller  *ChangeLogPoller
	crawler *Crawler
	xfer    *transfer.Manager
	status  *StatusRegistry
	ignore  *IgnoreList
	lock    *flock.Flock

	changesSupported bool
	cancel           context.CancelFunc
	wg               sync.WaitGroup
}

// NewEngine builds a stopped engine. It takes the data-dir instance lock
// and opens the metadata store; a second instance on the same data dir
// fails here.
func NewEngine(cfg *config.Config, session remote.Session) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	stateDir := filepath.Join(cfg.DataDir, stateDirName)
	if err := utils.EnsureDir(stateDir); err != nil {
		return nil, err
	}

	lock := flock.New(filepath.Join(stateDir, "docsync.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another instance is already syncing %s", cfg.DataDir)
	}

	st := store.NewStore(filepath.Join(stateDir, "metadata.db"))
	if err := st.Open(); err != nil {
		lock.Unlock()
		return nil, err
	}

	queue := events.NewQueue()
	status := NewStatusRegistry()
	ignore := NewIgnoreList(cfg.DataDir)
	ignore.Load()

	e := &Engine{
		cfg:     cfg,
		session: session,
		store:   st,
		queue:   queue,
		status:  status,
		ignore:  ignore,
		lock:    lock,
	}

	e.xfer = transfer.NewManager(session, st, transfer.Options{
		ChunkSize: cfg.ChunkSize,
		Observer: func(job *transfer.Job, transferred int64, total *int64) {
			if pct, ok := transfer.Percent(transferred, total); ok {
				status.SetProgress(relFromAbs(cfg.DataDir, job.LocalPath), pct)
			}
		},
	}, e.reportTransfer)

	e.poller = NewChangeLogPoller(session, st, queue, cfg.ChangeLogPageSize)
	e.crawler = NewCrawler(session, st, queue, status, cfg.DataDir, ignore, cfg.ChangeLogPageSize)
	e.crawler.OnFullSync = func() {
		if err := e.poller.CommitBaseline(); err != nil {
			slog.Error("failed to store change log baseline", "error", err)
		}
	}

	e.watch = watcher.New(cfg.DataDir)
	e.watch.FilterPaths(func(path string) bool {
		rel := relFromAbs(cfg.DataDir, path)
		return rel == "" || ignore.ShouldIgnore(rel)
	})

	queue.Register(NewAccumulator(session))
	queue.Register(NewTransformer(st, queue))
	queue.Register(NewLocalFetcher(st, cfg.DataDir))
	queue.Register(NewRemoteFetcher(st, cfg.DataDir))
	queue.Register(NewMechanism(session, st, queue, e.xfer, status, e.watch, cfg.DataDir))
	queue.Register(NewApplier(st, status, cfg.DataDir))
	queue.Register(e.crawler)

	return e, nil
}

// Status exposes the per-path sync state for the CLI.
func (e *Engine) Status() *StatusRegistry { return e.status }

func (e *Engine) reportTransfer(res *transfer.Result) {
	e.queue.AddEvent(&TransferResult{Result: res})
}

// prepare connects to the repository and anchors the mapping store at
// the configured remote root.
func (e *Engine) prepare(ctx context.Context) error {
	info, err := e.session.RepositoryInfo(ctx)
	if err != nil {
		return fmt.Errorf("connect repository: %w", err)
	}
	e.changesSupported = info.Capabilities.Changes

	rootID := e.cfg.RemoteFolderID
	if rootID == "" {
		rootID = info.RootFolderID
	}
	if err := e.store.EnsureRoot(rootID); err != nil {
		return err
	}
	slog.Info("repository connected",
		"repository", info.Name,
		"root", rootID,
		"changeLog", e.changesSupported)
	return nil
}

// Start anchors the store at the remote root, starts the queue, the
// filesystem watch and the poll loop, then returns.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.prepare(ctx); err != nil {
		return err
	}

	ctx, e.cancel = context.WithCancel(ctx)
	e.queue.Start(ctx)

	if err := e.watch.Start(ctx); err != nil {
		slog.Warn("filesystem watch unavailable, relying on crawls", "error", err)
	} else {
		producer := &localProducer{
			queue:   e.queue,
			store:   e.store,
			ignore:  e.ignore,
			dataDir: e.cfg.DataDir,
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			producer.run(ctx, e.watch.Changes())
		}()
	}

	e.wg.Add(1)
	go e.pollLoop(ctx)
	return nil
}

func (e *Engine) pollLoop(ctx context.Context) {
	defer e.wg.Done()

	e.pollOnce(ctx)
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollOnce(ctx)
		}
	}
}

func (e *Engine) pollOnce(ctx context.Context) {
	if !e.changesSupported {
		// no change log on this server; full crawls coalesce on the queue
		e.queue.AddEvent(&events.FullSyncRequest{Reason: "change log unsupported"})
		return
	}
	if err := e.poller.Poll(ctx); err != nil {
		slog.Warn("change log poll failed, falling back to crawl", "error", err)
		e.queue.AddEvent(&events.FullSyncRequest{Reason: "change log poll failed"})
	}
}

// SyncNow runs one synchronous cycle. Solvers hand content to transfer
// goroutines whose results come back as queue events, so a single drain
// is not enough: keep draining until nothing is queued and every
// scheduled transfer has reported back and been applied. Used by
// one-shot CLI runs; the background loops need not be started.
func (e *Engine) SyncNow(ctx context.Context) error {
	if err := e.prepare(ctx); err != nil {
		return err
	}
	e.pollOnce(ctx)

	for {
		e.queue.Drain(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.queue.Len() == 0 && e.status.SyncingCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// Stop shuts everything down in dependency order: producers first, then
// in-flight transfers, then the queue and the store.
func (e *Engine) Stop() {
	slog.Info("engine stopping")

	// gate event delivery first: aborting transfers unlinks part files,
	// and that churn must not feed the queue during teardown
	e.watch.EnableEvents(false)
	e.xfer.AbortAll()
	e.watch.Stop()
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.queue.Stop()

	if err := e.store.Close(); err != nil {
		slog.Error("metadata store close failed", "error", err)
	}
	if err := e.lock.Unlock(); err != nil {
		slog.Error("instance lock release failed", "error", err)
	}
	slog.Info("engine stopped")
}
