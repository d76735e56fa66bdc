package sync

import (
	"context"
	"log/slog"

	"github.com/opendms/docsync/internal/events"
	"github.com/opendms/docsync/internal/store"
	"github.com/opendms/docsync/internal/watcher"
)

// localProducer turns debounced filesystem changes into tagged object
// events on the queue.
type localProducer struct {
	queue   *events.Queue
	store   *store.Store
	ignore  *IgnoreList
	dataDir string
}

func (p *localProducer) run(ctx context.Context, changes <-chan watcher.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			p.produce(ch)
		}
	}
}

func (p *localProducer) produce(ch watcher.Change) {
	rel := relFromAbs(p.dataDir, ch.Path)
	if rel == "" || p.ignore.ShouldIgnore(rel) {
		return
	}

	local := &events.LocalRef{AbsPath: ch.Path}
	oe := events.ObjectEvent{Local: local}

	isDir := ch.IsDir
	switch ch.Kind {
	case watcher.Created:
		oe.LocalChange = events.ChangeCreated
		local.Exists = true
		local.StableID = watcher.PeekStableID(ch.Path)
	case watcher.Changed:
		if ch.IsDir {
			// directory mtime churn carries no syncable information
			return
		}
		oe.LocalChange = events.ChangeChanged
		local.Exists = true
		local.StableID = watcher.PeekStableID(ch.Path)
	case watcher.Deleted:
		oe.LocalChange = events.ChangeDeleted
		// the path is gone; the mapping decides whether it was a folder
		if mapped, err := p.store.ByLocalPath(rel); err == nil && mapped != nil {
			isDir = mapped.Kind == store.KindFolder
			local.StableID = mapped.StableID
		}
	default:
		slog.Debug("unhandled watcher change kind", "kind", ch.Kind, "path", rel)
		return
	}

	if isDir {
		p.queue.AddEvent(&events.FolderEvent{ObjectEvent: oe})
		return
	}

	switch ch.Kind {
	case watcher.Created:
		oe.LocalContentChange = events.ContentCreated
	case watcher.Changed:
		oe.LocalContentChange = events.ContentChanged
	case watcher.Deleted:
		oe.LocalContentChange = events.ContentDeleted
	}
	p.queue.AddEvent(&events.FileEvent{ObjectEvent: oe})
}
