package sync

import (
	"context"
	"log/slog"

	"github.com/opendms/docsync/internal/events"
	"github.com/opendms/docsync/internal/remote"
	"github.com/opendms/docsync/internal/store"
)

const transformerPriority = 200

// Transformer turns hydrated change-log entries into file and folder
// events carrying remote-side change types. The original entry is
// consumed; the typed event goes back on the queue.
type Transformer struct {
	store *store.Store
	queue *events.Queue
}

func NewTransformer(st *store.Store, queue *events.Queue) *Transformer {
	return &Transformer{store: st, queue: queue}
}

func (t *Transformer) Priority() int { return transformerPriority }

func (t *Transformer) Handle(ctx context.Context, ev events.Event) (bool, error) {
	change, ok := ev.(*ContentChangeEvent)
	if !ok {
		return false, nil
	}

	switch change.Kind {
	case remote.ChangeLogDeleted:
		return t.transformDeleted(change)
	case remote.ChangeLogCreated:
		return t.transformObject(change, events.ChangeCreated)
	case remote.ChangeLogUpdated:
		return t.transformObject(change, events.ChangeChanged)
	case remote.ChangeLogSecurity:
		// permission changes surface as a metadata-only update
		return t.transformObject(change, events.ChangeChanged)
	default:
		slog.Warn("unknown change log entry kind", "kind", change.Kind, "id", change.ObjectID)
		return true, nil
	}
}

func (t *Transformer) transformDeleted(change *ContentChangeEvent) (bool, error) {
	mapped, err := t.store.ByRemoteID(change.ObjectID)
	if err != nil {
		return true, err
	}
	if mapped == nil {
		// deletion of an object we never tracked is a no-op
		return true, nil
	}

	obj := events.ObjectEvent{
		Remote: &events.RemoteRef{
			ID:       mapped.RemoteID,
			Name:     mapped.Name,
			ParentID: mapped.ParentRemoteID,
		},
		RemoteChange: events.ChangeDeleted,
	}
	if mapped.Kind == store.KindFile {
		obj.RemoteContentChange = events.ContentDeleted
		t.queue.AddEvent(&events.FileEvent{ObjectEvent: obj})
	} else {
		t.queue.AddEvent(&events.FolderEvent{ObjectEvent: obj})
	}
	return true, nil
}

func (t *Transformer) transformObject(change *ContentChangeEvent, kind events.ChangeType) (bool, error) {
	o := change.Object
	if o == nil {
		slog.Warn("change entry reached transformer unhydrated", "id", change.ObjectID)
		return true, nil
	}

	if kind == events.ChangeChanged &&
		(change.Kind == remote.ChangeLogUpdated || change.Kind == remote.ChangeLogSecurity) {
		mapped, err := t.store.ByRemoteID(o.ID)
		if err != nil {
			return true, err
		}
		if mapped == nil {
			// an update or permission change on an object we never mapped
			// is a creation from this client's point of view
			kind = events.ChangeCreated
		}
	}

	obj := events.ObjectEvent{
		Remote: &events.RemoteRef{
			ID:          o.ID,
			Name:        o.Name,
			ParentID:    o.ParentID,
			ChangeToken: o.ChangeToken,
			Modified:    o.Modified,
			StreamID:    o.StreamID,
			HasContent:  o.HasContent(),
		},
		RemoteChange: kind,
	}

	if o.IsFolder() {
		t.queue.AddEvent(&events.FolderEvent{ObjectEvent: obj})
		return true, nil
	}

	// a security entry on a mapped document is metadata-only; one promoted
	// to a creation must bring the content along like any other creation
	if o.HasContent() && (change.Kind != remote.ChangeLogSecurity || kind == events.ChangeCreated) {
		switch kind {
		case events.ChangeCreated:
			obj.RemoteContentChange = events.ContentCreated
		case events.ChangeChanged:
			obj.RemoteContentChange = events.ContentChanged
		}
	}
	t.queue.AddEvent(&events.FileEvent{ObjectEvent: obj})
	return true, nil
}
