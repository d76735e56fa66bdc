package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opendms/docsync/internal/events"
	"github.com/opendms/docsync/internal/store"
	"github.com/opendms/docsync/internal/watcher"
)

const (
	localFetcherPriority  = 300
	remoteFetcherPriority = 310
)

// objectEventOf unwraps the shared object payload of file and folder
// events. Returns nil for every other event type.
func objectEventOf(ev events.Event) *events.ObjectEvent {
	switch e := ev.(type) {
	case *events.FileEvent:
		return &e.ObjectEvent
	case *events.FolderEvent:
		return &e.ObjectEvent
	}
	return nil
}

// LocalFetcher resolves the local counterpart of remotely produced
// events: the filesystem path the object maps to, whether it exists,
// and its stable id if it does.
type LocalFetcher struct {
	store   *store.Store
	dataDir string
}

func NewLocalFetcher(st *store.Store, dataDir string) *LocalFetcher {
	return &LocalFetcher{store: st, dataDir: dataDir}
}

func (f *LocalFetcher) Priority() int { return localFetcherPriority }

func (f *LocalFetcher) Handle(ctx context.Context, ev events.Event) (bool, error) {
	obj := objectEventOf(ev)
	if obj == nil || obj.Local != nil || obj.Remote == nil {
		return false, nil
	}

	relPath, err := f.resolveRelPath(obj.Remote)
	if err != nil {
		return true, err
	}

	abs := absFromRel(f.dataDir, relPath)
	local := &events.LocalRef{AbsPath: abs}
	if _, err := os.Stat(abs); err == nil {
		local.Exists = true
		local.StableID = watcher.PeekStableID(abs)
	}
	obj.Local = local
	return false, nil
}

// resolveRelPath places a remote object in the local tree: through its
// own mapping when one exists, otherwise under its mapped parent.
func (f *LocalFetcher) resolveRelPath(ref *events.RemoteRef) (string, error) {
	mapped, err := f.store.ByRemoteID(ref.ID)
	if err != nil {
		return "", err
	}
	if mapped != nil {
		return f.store.LocalPathOf(mapped)
	}

	parent, err := f.store.ByRemoteID(ref.ParentID)
	if err != nil {
		return "", err
	}
	if parent == nil {
		// entries arrive parent-first; an unmapped parent means the log
		// position is inconsistent and only a resync recovers
		return "", fmt.Errorf("remote parent %s of %q is not mapped", ref.ParentID, ref.Name)
	}
	parentPath, err := f.store.LocalPathOf(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(parentPath, ref.Name), nil
}

// RemoteFetcher resolves the remote counterpart of locally produced
// events from the mapping store. Unmapped paths pass through untouched;
// they classify as additions downstream.
type RemoteFetcher struct {
	store   *store.Store
	dataDir string
}

func NewRemoteFetcher(st *store.Store, dataDir string) *RemoteFetcher {
	return &RemoteFetcher{store: st, dataDir: dataDir}
}

func (f *RemoteFetcher) Priority() int { return remoteFetcherPriority }

func (f *RemoteFetcher) Handle(ctx context.Context, ev events.Event) (bool, error) {
	obj := objectEventOf(ev)
	if obj == nil || obj.Remote != nil || obj.Local == nil {
		return false, nil
	}

	mapped, err := f.lookup(obj.Local)
	if err != nil {
		return true, err
	}
	if mapped == nil || mapped.IsRoot() {
		return false, nil
	}

	obj.Remote = &events.RemoteRef{
		ID:          mapped.RemoteID,
		Name:        mapped.Name,
		ParentID:    mapped.ParentRemoteID,
		ChangeToken: mapped.ChangeToken,
		Modified:    mapped.RemoteModified,
		HasContent:  mapped.Kind == store.KindFile,
	}
	return false, nil
}

func (f *RemoteFetcher) lookup(ref *events.LocalRef) (*store.MappedObject, error) {
	if ref.StableID != "" {
		mapped, err := f.store.ByStableID(ref.StableID)
		if err != nil || mapped != nil {
			return mapped, err
		}
	}
	return f.store.ByLocalPath(relFromAbs(f.dataDir, ref.AbsPath))
}
