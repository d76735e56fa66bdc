package sync

import (
	"context"
	"errors"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/opendms/docsync/internal/events"
	"github.com/opendms/docsync/internal/remote"
)

const (
	accumulatorPriority = 100
	hydrationCacheSize  = 256
)

// Accumulator hydrates bare change-log entries with the full remote object
// before any later handler sees them. Entries whose object vanished or is
// no longer visible are dropped here; anything else that fails hydration
// aborts the chain so a full resync is scheduled.
type Accumulator struct {
	session remote.Session
	cache   *lru.Cache[string, *remote.Object]
}

func NewAccumulator(session remote.Session) *Accumulator {
	cache, err := lru.New[string, *remote.Object](hydrationCacheSize)
	if err != nil {
		panic(err)
	}
	return &Accumulator{session: session, cache: cache}
}

func (a *Accumulator) Priority() int { return accumulatorPriority }

func (a *Accumulator) Handle(ctx context.Context, ev events.Event) (bool, error) {
	change, ok := ev.(*ContentChangeEvent)
	if !ok {
		return false, nil
	}

	switch change.Kind {
	case remote.ChangeLogDeleted:
		// nothing to hydrate, the object is gone
		a.cache.Remove(change.ObjectID)
		return false, nil
	case remote.ChangeLogCreated:
		// created entries repeat at page boundaries and in bursts; a
		// cached hit is safe because the object cannot predate itself
		if obj, hit := a.cache.Get(change.ObjectID); hit {
			change.Object = obj
			return false, nil
		}
	}

	obj, err := a.session.ObjectByID(ctx, change.ObjectID)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) || errors.Is(err, remote.ErrPermissionDenied) {
			slog.Debug("change entry dropped, object not visible",
				"id", change.ObjectID, "kind", change.Kind, "reason", err)
			return true, nil
		}
		return true, err
	}

	a.cache.Add(change.ObjectID, obj)
	change.Object = obj
	return false, nil
}
