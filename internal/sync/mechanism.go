package sync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/opendms/docsync/internal/events"
	"github.com/opendms/docsync/internal/remote"
	"github.com/opendms/docsync/internal/store"
	"github.com/opendms/docsync/internal/transfer"
)

const mechanismPriority = 500

// Mechanism is the resolution stage of the chain: it classifies both
// sides of every file and folder event, looks up the matching matrix
// cell and executes it. A stale-token rejection from the repository
// triggers exactly one reclassification against fresh remote state.
type Mechanism struct {
	session    remote.Session
	store      *store.Store
	queue      *events.Queue
	classifier *classifier
	resolver   *resolver
	matrix     map[situationPair]solveFn
	xfer       *transfer.Manager
	status     *StatusRegistry
	dataDir    string

	// parked holds events for objects whose transfer is in flight, keyed
	// by remote id. Replayed when the matching result lands. Only touched
	// on the queue goroutine.
	parked map[string][]events.Event
}

func NewMechanism(session remote.Session, st *store.Store, queue *events.Queue, xfer *transfer.Manager, status *StatusRegistry, ignorer localIgnorer, dataDir string) *Mechanism {
	r := &resolver{
		session: session,
		store:   st,
		xfer:    xfer,
		status:  status,
		ignorer: ignorer,
		dataDir: dataDir,
	}
	return &Mechanism{
		session:    session,
		store:      st,
		queue:      queue,
		classifier: &classifier{store: st, dataDir: dataDir},
		resolver:   r,
		matrix:     newMatrix(r),
		xfer:       xfer,
		status:     status,
		dataDir:    dataDir,
		parked:     make(map[string][]events.Event),
	}
}

func (m *Mechanism) Priority() int { return mechanismPriority }

func (m *Mechanism) Handle(ctx context.Context, ev events.Event) (bool, error) {
	if tr, ok := ev.(*TransferResult); ok {
		// not consumed here; the applier still lands the result
		if tr.Result.Job != nil && tr.Result.Job.Object != nil {
			m.releaseParked(tr.Result.Job.Object.ID)
		}
		return false, nil
	}

	obj := objectEventOf(ev)
	if obj == nil {
		return false, nil
	}
	if err := obj.Validate(); err != nil {
		return true, err
	}
	_, isFolder := ev.(*events.FolderEvent)

	// an in-flight transfer owns the object until its result lands; park
	// the event and replay it behind the result
	if obj.Remote != nil && m.xfer.Active(obj.Remote.ID) {
		m.parked[obj.Remote.ID] = append(m.parked[obj.Remote.ID], ev)
		slog.Debug("event parked, transfer in flight", "id", obj.Remote.ID)
		return true, nil
	}

	if err := m.resolve(ctx, obj, isFolder, true); err != nil {
		if obj.Local != nil {
			m.status.SetError(relFromAbs(m.dataDir, obj.Local.AbsPath), err)
		}
		return true, err
	}
	return true, nil
}

// releaseParked re-enqueues events held back while the object's transfer
// ran. They dispatch after the result is applied, against fresh mapping
// state.
func (m *Mechanism) releaseParked(remoteID string) {
	waiting := m.parked[remoteID]
	if len(waiting) == 0 {
		return
	}
	delete(m.parked, remoteID)
	slog.Debug("replaying parked events", "id", remoteID, "count", len(waiting))
	for _, ev := range waiting {
		if obj := objectEventOf(ev); obj != nil {
			// drop the fetcher-derived side hydrated before the transfer;
			// it re-resolves against the freshly applied mapping
			switch {
			case obj.LocalChange == events.ChangeNone && obj.RemoteChange != events.ChangeNone:
				obj.Local = nil
			case obj.RemoteChange == events.ChangeNone && obj.LocalChange != events.ChangeNone:
				obj.Remote = nil
			}
		}
		m.queue.AddEvent(ev)
	}
}

func (m *Mechanism) resolve(ctx context.Context, obj *events.ObjectEvent, isFolder, retryOnConflict bool) error {
	local, err := m.classifier.Local(obj)
	if err != nil {
		return err
	}
	remoteSit, err := m.classifier.Remote(obj)
	if err != nil {
		return err
	}

	mapped, err := m.lookupMapping(obj)
	if err != nil {
		return err
	}

	logPath := ""
	if obj.Local != nil {
		logPath = relFromAbs(m.dataDir, obj.Local.AbsPath)
	}
	slog.Debug("resolving", "path", logPath, "local", local, "remote", remoteSit)

	op := &operation{event: obj, isFolder: isFolder, mapped: mapped}
	err = m.matrix[situationPair{local, remoteSit}](ctx, op)
	if err == nil {
		return nil
	}
	if !retryOnConflict || !errors.Is(err, remote.ErrTokenConflict) {
		return err
	}

	// the repository advanced underneath us: refresh once and re-run
	slog.Info("stale change token, reclassifying", "path", logPath)
	if refreshErr := m.refreshRemote(ctx, obj); refreshErr != nil {
		return refreshErr
	}
	return m.resolve(ctx, obj, isFolder, false)
}

// refreshRemote replaces the event's remote reference with live server
// state before the single conflict retry.
func (m *Mechanism) refreshRemote(ctx context.Context, obj *events.ObjectEvent) error {
	if obj.Remote == nil {
		return nil
	}
	live, err := m.session.ObjectByID(ctx, obj.Remote.ID)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			obj.RemoteChange = events.ChangeDeleted
			return nil
		}
		return err
	}
	obj.Remote = &events.RemoteRef{
		ID:          live.ID,
		Name:        live.Name,
		ParentID:    live.ParentID,
		ChangeToken: live.ChangeToken,
		Modified:    live.Modified,
		StreamID:    live.StreamID,
		HasContent:  live.HasContent(),
	}
	obj.RemoteChange = events.ChangeChanged
	return nil
}

func (m *Mechanism) lookupMapping(obj *events.ObjectEvent) (*store.MappedObject, error) {
	if obj.Remote != nil && obj.Remote.ID != "" {
		mapped, err := m.store.ByRemoteID(obj.Remote.ID)
		if err != nil || mapped != nil {
			return mapped, err
		}
	}
	if obj.Local == nil {
		return nil, nil
	}
	if obj.Local.StableID != "" {
		mapped, err := m.store.ByStableID(obj.Local.StableID)
		if err != nil || mapped != nil {
			return mapped, err
		}
	}
	return m.store.ByLocalPath(relFromAbs(m.dataDir, obj.Local.AbsPath))
}
