package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opendms/docsync/internal/events"
	"github.com/opendms/docsync/internal/remote"
	"github.com/opendms/docsync/internal/store"
)

// ChangeLogPoller is the incremental remote change producer. It pages the
// repository change log from the last persisted token and emits one
// ContentChangeEvent per entry. Any transport failure surfaces to the
// caller so the crawler fallback can run instead.
type ChangeLogPoller struct {
	session  remote.Session
	store    *store.Store
	queue    *events.Queue
	pageSize int

	// baseline is the server token captured when a first-sync crawl is
	// requested; persisted only once that crawl completes so entries
	// produced during the crawl are not missed.
	baselineMu sync.Mutex
	baseline   string
}

func NewChangeLogPoller(session remote.Session, st *store.Store, queue *events.Queue, pageSize int) *ChangeLogPoller {
	if pageSize <= 1 {
		panic("change log page size must be > 1")
	}
	return &ChangeLogPoller{
		session:  session,
		store:    st,
		queue:    queue,
		pageSize: pageSize,
	}
}

// Poll runs one polling cycle.
func (p *ChangeLogPoller) Poll(ctx context.Context) error {
	info, err := p.session.RepositoryInfo(ctx)
	if err != nil {
		return fmt.Errorf("poll repository info: %w", err)
	}
	serverToken := info.LatestChangeToken

	clientToken, err := p.store.ChangeLogToken()
	if err != nil {
		return err
	}

	if clientToken == "" {
		// never synced: a full crawl establishes the baseline; the server
		// token captured now covers everything the crawl will see
		p.baselineMu.Lock()
		p.baseline = serverToken
		p.baselineMu.Unlock()
		p.queue.AddEvent(&events.FullSyncRequest{Reason: "no change-log token stored"})
		return nil
	}

	if clientToken == serverToken {
		return nil
	}

	token := clientToken
	var lastOfPrevPage *remote.ChangeLogEntry
	for {
		cursor := token
		page, err := p.session.ContentChanges(ctx, token, p.pageSize)
		if err != nil {
			return fmt.Errorf("fetch change log page: %w", err)
		}

		entries := page.Entries
		if lastOfPrevPage != nil && len(entries) > 0 &&
			isBoundaryDuplicate(lastOfPrevPage, &entries[0]) {
			// the first entry of a new page may repeat the last entry of
			// the previous one; drop it exactly once per boundary
			entries = entries[1:]
		}

		for i := range entries {
			entry := entries[i]
			p.queue.AddEvent(&ContentChangeEvent{
				Kind:     entry.Kind,
				ObjectID: entry.ObjectID,
			})
		}

		if n := len(page.Entries); n > 0 {
			lastOfPrevPage = &page.Entries[n-1]
		}

		if page.LatestToken != "" {
			token = page.LatestToken
			// crash-safe resumption: the token is persisted before the
			// next page is fetched; entries are at worst redelivered
			if err := p.store.SetChangeLogToken(token); err != nil {
				return err
			}
		}

		if token == serverToken {
			return nil
		}
		if !page.HasMore && token == cursor {
			// the log ended without the cursor advancing; looping would
			// refetch the same page forever. Keep the token and let the
			// next cycle retry.
			slog.Warn("change log ended before the advertised token",
				"at", token, "server", serverToken)
			return nil
		}
	}
}

// CommitBaseline persists the token captured before the first-sync crawl.
// Called once the crawl-based resync completes.
func (p *ChangeLogPoller) CommitBaseline() error {
	p.baselineMu.Lock()
	baseline := p.baseline
	p.baseline = ""
	p.baselineMu.Unlock()

	if baseline == "" {
		return nil
	}
	slog.Info("change log baseline stored", "token", baseline)
	return p.store.SetChangeLogToken(baseline)
}

// isBoundaryDuplicate reports whether two adjacent page-boundary entries
// describe the same Created or Deleted change of the same object.
func isBoundaryDuplicate(a, b *remote.ChangeLogEntry) bool {
	if a.Kind != b.Kind || a.ObjectID != b.ObjectID {
		return false
	}
	return a.Kind == remote.ChangeLogCreated || a.Kind == remote.ChangeLogDeleted
}
