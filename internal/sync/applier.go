package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opendms/docsync/internal/events"
	"github.com/opendms/docsync/internal/store"
	"github.com/opendms/docsync/internal/watcher"
)

const applierPriority = 600

// Applier lands finished transfers in the mapping store. Transfer
// goroutines never touch the store themselves; their results come back
// through the queue and are applied here, on the queue goroutine.
type Applier struct {
	store   *store.Store
	status  *StatusRegistry
	dataDir string
}

func NewApplier(st *store.Store, status *StatusRegistry, dataDir string) *Applier {
	return &Applier{store: st, status: status, dataDir: dataDir}
}

func (a *Applier) Priority() int { return applierPriority }

func (a *Applier) Handle(ctx context.Context, ev events.Event) (bool, error) {
	tr, ok := ev.(*TransferResult)
	if !ok {
		return false, nil
	}
	res := tr.Result
	rel := relFromAbs(a.dataDir, res.Job.LocalPath)

	if res.Err != nil {
		if errors.Is(res.Err, context.Canceled) {
			// shutdown or superseded transfer, not a failure of the path
			a.status.SetCompleted(rel)
			return true, nil
		}
		a.status.SetError(rel, res.Err)
		return true, nil
	}

	proposed := res.Job.Proposed
	if proposed == nil {
		a.status.SetCompleted(rel)
		return true, nil
	}

	if proposed.StableID == "" {
		id, err := watcher.StableID(res.Job.LocalPath)
		if err != nil {
			// filesystem without xattr support; identity lives only in
			// the store for this object
			slog.Warn("cannot persist stable id", "path", rel, "error", err)
			id = uuid.NewString()
		}
		proposed.StableID = id
	} else if res.Job.Direction == store.TransferDownload {
		// downloaded file is brand new on disk; stamp the identity it
		// already holds in the mapping
		if err := watcher.SetStableID(res.Job.LocalPath, proposed.StableID); err != nil {
			slog.Debug("cannot stamp stable id", "path", rel, "error", err)
		}
	}
	if res.Token != "" {
		proposed.ChangeToken = res.Token
	}
	if res.Checksum != "" {
		proposed.Checksum = res.Checksum
	}
	proposed.LocalModified = time.Now()

	if err := a.store.Save(proposed); err != nil {
		return true, err
	}
	a.status.SetCompleted(rel)
	slog.Debug("transfer applied",
		"path", rel,
		"dir", res.Job.Direction,
		"bytes", res.Size)
	return true, nil
}
