package sync

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/opendms/docsync/internal/events"
	"github.com/opendms/docsync/internal/store"
	"github.com/opendms/docsync/internal/utils"
)

// Situation is the classification assigned independently to the local and
// remote side of one logical object for one sync event.
type Situation int

const (
	NoChange Situation = iota
	Added
	Changed
	Renamed
	Moved
	Removed

	situationCount = 6
)

func (s Situation) String() string {
	switch s {
	case NoChange:
		return "NoChange"
	case Added:
		return "Added"
	case Changed:
		return "Changed"
	case Renamed:
		return "Renamed"
	case Moved:
		return "Moved"
	case Removed:
		return "Removed"
	default:
		return fmt.Sprintf("Situation(%d)", int(s))
	}
}

// classifier turns an event plus stored metadata into a situation pair.
// Both sides are classified independently from the same inputs.
type classifier struct {
	store   *store.Store
	dataDir string
}

// Local classifies the local side. An explicit change tag wins; an
// untagged event re-checks actual filesystem existence against the stored
// mapping.
func (c *classifier) Local(ev *events.ObjectEvent) (Situation, error) {
	switch ev.LocalChange {
	case events.ChangeCreated:
		return Added, nil
	case events.ChangeChanged:
		return Changed, nil
	case events.ChangeMoved:
		return Moved, nil
	case events.ChangeDeleted:
		return Removed, nil
	}

	// LocalChange is None: the change was inferred rather than tagged.
	if ev.Local == nil {
		return NoChange, nil
	}

	mapped, err := c.mappingForLocal(ev.Local)
	if err != nil {
		return NoChange, err
	}

	_, statErr := os.Stat(ev.Local.AbsPath)
	exists := statErr == nil

	switch {
	case !exists && mapped != nil:
		return Removed, nil
	case !exists && mapped == nil:
		return NoChange, nil
	case exists && mapped == nil:
		return Added, nil
	default:
		// found and mapped with no explicit tag: no change unless the
		// content checksum disagrees with the last verified one
		if mapped.Kind == store.KindFile && mapped.Checksum != "" {
			sum, hashErr := utils.FileHash(ev.Local.AbsPath)
			if hashErr != nil {
				return NoChange, fmt.Errorf("hash %q: %w", ev.Local.AbsPath, hashErr)
			}
			if sum != mapped.Checksum {
				return Changed, nil
			}
		}
		return NoChange, nil
	}
}

func (c *classifier) mappingForLocal(ref *events.LocalRef) (*store.MappedObject, error) {
	if ref.StableID != "" {
		mapped, err := c.store.ByStableID(ref.StableID)
		if err != nil || mapped != nil {
			return mapped, err
		}
	}
	return c.store.ByLocalPath(relFromAbs(c.dataDir, ref.AbsPath))
}

// Remote classifies the remote side. A redelivered Created for an
// already-applied change collapses to NoChange.
func (c *classifier) Remote(ev *events.ObjectEvent) (Situation, error) {
	switch ev.RemoteChange {
	case events.ChangeCreated:
		if ev.Remote == nil {
			return Added, nil
		}
		mapped, err := c.store.ByRemoteID(ev.Remote.ID)
		if err != nil {
			return NoChange, err
		}
		if mapped != nil &&
			mapped.ChangeToken == ev.Remote.ChangeToken &&
			mapped.Name == ev.Remote.Name &&
			mapped.RemoteModified.Equal(ev.Remote.Modified) {
			return NoChange, nil
		}
		return Added, nil

	case events.ChangeDeleted:
		return Removed, nil

	case events.ChangeMoved:
		return Moved, nil

	case events.ChangeChanged:
		if ev.Remote == nil {
			return Changed, nil
		}
		mapped, err := c.store.ByRemoteID(ev.Remote.ID)
		if err != nil {
			return NoChange, err
		}
		if mapped == nil {
			// a change for an object we never synced is a creation we missed
			return Added, nil
		}
		if mapped.ParentRemoteID != ev.Remote.ParentID && mapped.Name == ev.Remote.Name {
			return Moved, nil
		}
		if mapped.Name != ev.Remote.Name {
			return Renamed, nil
		}
		return Changed, nil
	}

	if ev.RemoteChange != events.ChangeNone {
		slog.Debug("unclassifiable remote change", "change", ev.RemoteChange)
	}
	return NoChange, nil
}
