package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opendms/docsync/internal/events"
	"github.com/opendms/docsync/internal/remote"
	"github.com/opendms/docsync/internal/store"
	"github.com/opendms/docsync/internal/transfer"
	"github.com/opendms/docsync/internal/utils"
	"github.com/opendms/docsync/internal/watcher"
)

// localIgnorer suppresses the watcher echo of a filesystem write the
// resolver itself performs.
type localIgnorer interface {
	IgnoreOnce(path string)
}

// operation is one classified event ready for resolution.
type operation struct {
	event    *events.ObjectEvent
	isFolder bool
	// mapped is the existing mapping of the object, nil when untracked.
	mapped *store.MappedObject
}

// solveFn resolves one situation pair.
type solveFn func(ctx context.Context, op *operation) error

// resolver owns every side effect a resolution can have: local filesystem
// writes, remote repository calls, mapping-store updates and content
// transfer scheduling.
type resolver struct {
	session remote.Session
	store   *store.Store
	xfer    *transfer.Manager
	status  *StatusRegistry
	ignorer localIgnorer
	dataDir string
}

func (r *resolver) rel(op *operation) string {
	return relFromAbs(r.dataDir, op.event.Local.AbsPath)
}

func (r *resolver) ignoreLocal(path string) {
	if r.ignorer != nil {
		r.ignorer.IgnoreOnce(path)
	}
}

// remoteObjectFromRef rebuilds the transferable object from the event
// payload.
func remoteObjectFromRef(ref *events.RemoteRef, isFolder bool) *remote.Object {
	kind := remote.KindDocument
	if isFolder {
		kind = remote.KindFolder
	}
	return &remote.Object{
		ID:          ref.ID,
		Name:        ref.Name,
		ParentID:    ref.ParentID,
		Kind:        kind,
		ChangeToken: ref.ChangeToken,
		Modified:    ref.Modified,
		StreamID:    ref.StreamID,
	}
}

func (r *resolver) mappingFromRef(ref *events.RemoteRef, stableID string, kind store.ObjectKind, checksum string) *store.MappedObject {
	return &store.MappedObject{
		StableID:       stableID,
		RemoteID:       ref.ID,
		ParentRemoteID: ref.ParentID,
		Name:           ref.Name,
		Kind:           kind,
		ChangeToken:    ref.ChangeToken,
		LocalModified:  time.Now(),
		RemoteModified: ref.Modified,
		Checksum:       checksum,
	}
}

// deleteMappingTree removes a mapping and every mapped descendant.
func (r *resolver) deleteMappingTree(m *store.MappedObject) error {
	children, err := r.store.ChildrenOf(m)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := r.deleteMappingTree(child); err != nil {
			return err
		}
	}
	return r.store.Delete(m.StableID)
}

// parentMappingOf resolves the mapped parent folder of a local path.
func (r *resolver) parentMappingOf(rel string) (*store.MappedObject, error) {
	parentRel := filepath.ToSlash(filepath.Dir(rel))
	if parentRel == "." {
		parentRel = ""
	}
	parent, err := r.store.ByLocalPath(parentRel)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fmt.Errorf("parent folder %q is not mapped", parentRel)
	}
	return parent, nil
}

func (r *resolver) beginDownload(ctx context.Context, op *operation, proposed *store.MappedObject) error {
	rel := r.rel(op)
	r.status.SetSyncing(rel)
	job := &transfer.Job{
		Direction: store.TransferDownload,
		Object:    remoteObjectFromRef(op.event.Remote, false),
		LocalPath: op.event.Local.AbsPath,
		Proposed:  proposed,
	}
	r.ignoreLocal(op.event.Local.AbsPath)
	err := r.xfer.Begin(ctx, job)
	if errors.Is(err, transfer.ErrAlreadyActive) {
		slog.Debug("download already in progress", "path", rel)
		return nil
	}
	return err
}

func (r *resolver) beginUpload(ctx context.Context, op *operation, obj *remote.Object, proposed *store.MappedObject) error {
	rel := r.rel(op)
	r.status.SetSyncing(rel)
	job := &transfer.Job{
		Direction: store.TransferUpload,
		Object:    obj,
		LocalPath: op.event.Local.AbsPath,
		Proposed:  proposed,
	}
	err := r.xfer.Begin(ctx, job)
	if errors.Is(err, transfer.ErrAlreadyActive) {
		slog.Debug("upload already in progress", "path", rel)
		return nil
	}
	return err
}

// ---- solvers ----

func (r *resolver) solveNothing(ctx context.Context, op *operation) error {
	return nil
}

// solveDropMapping handles an object confirmed gone on both sides.
func (r *resolver) solveDropMapping(ctx context.Context, op *operation) error {
	if op.mapped == nil {
		return nil
	}
	return r.deleteMappingTree(op.mapped)
}

// solveRemoteToLocal materializes a remote object locally: folders are
// created in place, document content is scheduled for download, and
// content-less documents become empty files.
func (r *resolver) solveRemoteToLocal(ctx context.Context, op *operation) error {
	ref := op.event.Remote
	abs := op.event.Local.AbsPath

	if op.isFolder {
		r.ignoreLocal(abs)
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return err
		}
		stableID, err := watcher.StableID(abs)
		if err != nil {
			return err
		}
		return r.store.Save(r.mappingFromRef(ref, stableID, store.KindFolder, ""))
	}

	if ref.HasContent && op.event.RemoteContentChange != events.ContentNone {
		return r.beginDownload(ctx, op, r.mappingFromRef(ref, "", store.KindFile, ""))
	}

	// metadata-only document update, or a document with no content stream
	if !op.event.Local.Exists {
		r.ignoreLocal(abs)
		if err := utils.EnsureParent(abs); err != nil {
			return err
		}
		if err := os.WriteFile(abs, nil, 0o644); err != nil {
			return err
		}
	}
	stableID, err := watcher.StableID(abs)
	if err != nil {
		return err
	}
	checksum := ""
	if op.mapped != nil {
		checksum = op.mapped.Checksum
	}
	return r.store.Save(r.mappingFromRef(ref, stableID, store.KindFile, checksum))
}

// solveRemoteMetaToLocal applies a remote rename or move to the local tree.
func (r *resolver) solveRemoteMetaToLocal(ctx context.Context, op *operation) error {
	if op.mapped == nil {
		// never tracked: nothing to rename, treat as fresh materialization
		return r.solveRemoteToLocal(ctx, op)
	}
	ref := op.event.Remote

	parent, err := r.store.ByRemoteID(ref.ParentID)
	if err != nil {
		return err
	}
	if parent == nil {
		return fmt.Errorf("remote parent %s is not mapped", ref.ParentID)
	}
	parentPath, err := r.store.LocalPathOf(parent)
	if err != nil {
		return err
	}
	newAbs := absFromRel(r.dataDir, filepath.ToSlash(filepath.Join(parentPath, ref.Name)))

	oldAbs := op.event.Local.AbsPath
	if oldAbs != newAbs && op.event.Local.Exists {
		r.ignoreLocal(oldAbs)
		r.ignoreLocal(newAbs)
		if err := utils.EnsureParent(newAbs); err != nil {
			return err
		}
		if err := os.Rename(oldAbs, newAbs); err != nil {
			return err
		}
	}

	op.mapped.Name = ref.Name
	op.mapped.ParentRemoteID = ref.ParentID
	op.mapped.ChangeToken = ref.ChangeToken
	op.mapped.RemoteModified = ref.Modified
	return r.store.Save(op.mapped)
}

// solveRemoteDelete removes the local object and drops the mapping.
func (r *resolver) solveRemoteDelete(ctx context.Context, op *operation) error {
	abs := op.event.Local.AbsPath
	if op.event.Local.Exists {
		r.ignoreLocal(abs)
		if err := os.RemoveAll(abs); err != nil {
			return err
		}
	}
	if op.mapped == nil {
		return nil
	}
	return r.deleteMappingTree(op.mapped)
}

// solveLocalToRemote creates the remote counterpart of a locally added
// object and, for documents, schedules the content upload.
func (r *resolver) solveLocalToRemote(ctx context.Context, op *operation) error {
	rel := r.rel(op)
	abs := op.event.Local.AbsPath
	name := filepath.Base(abs)

	parent, err := r.parentMappingOf(rel)
	if err != nil {
		return err
	}

	if op.isFolder {
		obj, err := r.session.CreateFolder(ctx, parent.RemoteID, name)
		if err != nil {
			return err
		}
		stableID, err := watcher.StableID(abs)
		if err != nil {
			return err
		}
		return r.store.Save(&store.MappedObject{
			StableID:       stableID,
			RemoteID:       obj.ID,
			ParentRemoteID: obj.ParentID,
			Name:           obj.Name,
			Kind:           store.KindFolder,
			ChangeToken:    obj.ChangeToken,
			LocalModified:  time.Now(),
			RemoteModified: obj.Modified,
		})
	}

	obj, err := r.session.CreateDocument(ctx, parent.RemoteID, name)
	if err != nil {
		return err
	}
	stableID, err := watcher.StableID(abs)
	if err != nil {
		return err
	}
	proposed := &store.MappedObject{
		StableID:       stableID,
		RemoteID:       obj.ID,
		ParentRemoteID: obj.ParentID,
		Name:           obj.Name,
		Kind:           store.KindFile,
		ChangeToken:    obj.ChangeToken,
		LocalModified:  time.Now(),
		RemoteModified: obj.Modified,
	}
	return r.beginUpload(ctx, op, obj, proposed)
}

// solveLocalContentToRemote uploads locally changed document content.
func (r *resolver) solveLocalContentToRemote(ctx context.Context, op *operation) error {
	if op.isFolder {
		return nil
	}
	if op.mapped == nil {
		return r.solveLocalToRemote(ctx, op)
	}
	proposed := *op.mapped
	proposed.LocalModified = time.Now()
	return r.beginUpload(ctx, op, remoteObjectFromRef(op.event.Remote, false), &proposed)
}

// solveLocalMetaToRemote pushes a local rename or move to the repository.
func (r *resolver) solveLocalMetaToRemote(ctx context.Context, op *operation) error {
	if op.mapped == nil {
		return r.solveLocalToRemote(ctx, op)
	}
	_, err := r.applyLocalMetaToRemote(ctx, op)
	return err
}

// applyLocalMetaToRemote issues the remote rename and/or move the local
// path implies and persists the updated mapping.
func (r *resolver) applyLocalMetaToRemote(ctx context.Context, op *operation) (*store.MappedObject, error) {
	rel := r.rel(op)
	abs := op.event.Local.AbsPath
	newName := filepath.Base(abs)

	parent, err := r.parentMappingOf(rel)
	if err != nil {
		return nil, err
	}

	mapped := op.mapped
	token := mapped.ChangeToken

	if newName != mapped.Name {
		obj, err := r.session.Rename(ctx, mapped.RemoteID, token, newName)
		if err != nil {
			return nil, err
		}
		mapped.Name = obj.Name
		token = obj.ChangeToken
		mapped.RemoteModified = obj.Modified
	}
	if parent.RemoteID != mapped.ParentRemoteID {
		obj, err := r.session.Move(ctx, mapped.RemoteID, token, parent.RemoteID)
		if err != nil {
			return nil, err
		}
		mapped.ParentRemoteID = obj.ParentID
		token = obj.ChangeToken
		mapped.RemoteModified = obj.Modified
	}

	mapped.ChangeToken = token
	mapped.LocalModified = time.Now()
	if err := r.store.Save(mapped); err != nil {
		return nil, err
	}
	return mapped, nil
}

// solveLocalDeleteToRemote propagates a local deletion to the repository.
func (r *resolver) solveLocalDeleteToRemote(ctx context.Context, op *operation) error {
	if op.mapped == nil {
		return nil
	}
	err := r.session.Delete(ctx, op.mapped.RemoteID, op.mapped.ChangeToken)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return err
	}
	return r.deleteMappingTree(op.mapped)
}

// solveBothAdded handles independent appearance on both sides under the
// same name. Folders merge into one mapping; documents with identical
// content merge too; anything else keeps both versions via a conflict
// copy.
func (r *resolver) solveBothAdded(ctx context.Context, op *operation) error {
	ref := op.event.Remote
	abs := op.event.Local.AbsPath

	if !op.event.Local.Exists {
		return r.solveRemoteToLocal(ctx, op)
	}

	if op.isFolder {
		stableID, err := watcher.StableID(abs)
		if err != nil {
			return err
		}
		return r.store.Save(r.mappingFromRef(ref, stableID, store.KindFolder, ""))
	}

	localSum, err := utils.FileHash(abs)
	if err != nil {
		return err
	}
	if ref.HasContent {
		info, err := r.session.ContentInfo(ctx, ref.StreamID)
		if err == nil && info.Hash != "" && info.Hash == localSum {
			// same bytes on both sides, only the mapping was missing
			stableID, idErr := watcher.StableID(abs)
			if idErr != nil {
				return idErr
			}
			return r.store.Save(r.mappingFromRef(ref, stableID, store.KindFile, localSum))
		}
	}
	return r.solveConflictCopy(ctx, op)
}

// solveConflictCopy keeps both versions of a document whose content
// diverged: the local version is renamed to a dated conflict copy and
// uploaded as a new document, the remote version is downloaded into the
// original name.
func (r *resolver) solveConflictCopy(ctx context.Context, op *operation) error {
	if op.isFolder {
		return r.solveBothAdded(ctx, op)
	}
	if !op.event.Local.Exists {
		return r.solveRemoteToLocal(ctx, op)
	}

	abs := op.event.Local.AbsPath
	rel := r.rel(op)
	dir := filepath.Dir(abs)
	name := filepath.Base(abs)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	conflictName := fmt.Sprintf("%s (conflicted copy %s)%s", base, time.Now().Format("2006-01-02"), ext)
	conflictAbs := filepath.Join(dir, conflictName)

	r.ignoreLocal(abs)
	r.ignoreLocal(conflictAbs)
	if err := os.Rename(abs, conflictAbs); err != nil {
		return err
	}
	slog.Warn("content conflict, keeping both versions", "path", rel, "copy", conflictName)

	parent, err := r.parentMappingOf(rel)
	if err != nil {
		return err
	}
	conflictDoc, err := r.session.CreateDocument(ctx, parent.RemoteID, conflictName)
	if err != nil {
		return err
	}
	conflictStableID, err := watcher.StableID(conflictAbs)
	if err != nil {
		return err
	}
	conflictOp := &operation{
		event: &events.ObjectEvent{
			Local:  &events.LocalRef{AbsPath: conflictAbs, Exists: true, StableID: conflictStableID},
			Remote: op.event.Remote,
		},
	}
	if err := r.beginUpload(ctx, conflictOp, conflictDoc, &store.MappedObject{
		StableID:       conflictStableID,
		RemoteID:       conflictDoc.ID,
		ParentRemoteID: conflictDoc.ParentID,
		Name:           conflictDoc.Name,
		Kind:           store.KindFile,
		ChangeToken:    conflictDoc.ChangeToken,
		LocalModified:  time.Now(),
	}); err != nil {
		return err
	}

	if op.event.Remote.HasContent {
		proposed := r.mappingFromRef(op.event.Remote, "", store.KindFile, "")
		if op.mapped != nil {
			proposed.StableID = op.mapped.StableID
		}
		return r.beginDownload(ctx, op, proposed)
	}
	return nil
}

// solveMergeLocalContentRemoteMeta merges a local content change with a
// remote rename or move: the rename lands locally first, then the content
// uploads from the new path.
func (r *resolver) solveMergeLocalContentRemoteMeta(ctx context.Context, op *operation) error {
	if err := r.solveRemoteMetaToLocal(ctx, op); err != nil {
		return err
	}
	if op.isFolder || op.mapped == nil {
		return nil
	}

	newRel, err := r.store.LocalPathOf(op.mapped)
	if err != nil {
		return err
	}
	moved := *op.event
	moved.Local = &events.LocalRef{
		AbsPath:  absFromRel(r.dataDir, newRel),
		Exists:   true,
		StableID: op.mapped.StableID,
	}
	moved.Remote = &events.RemoteRef{
		ID:          op.mapped.RemoteID,
		Name:        op.mapped.Name,
		ParentID:    op.mapped.ParentRemoteID,
		ChangeToken: op.mapped.ChangeToken,
		Modified:    op.mapped.RemoteModified,
		StreamID:    op.event.Remote.StreamID,
		HasContent:  true,
	}
	return r.solveLocalContentToRemote(ctx, &operation{event: &moved, mapped: op.mapped})
}

// solveMergeRemoteContentLocalMeta merges a remote content change with a
// local rename or move: the rename goes to the repository first, then the
// new content downloads into the renamed path.
func (r *resolver) solveMergeRemoteContentLocalMeta(ctx context.Context, op *operation) error {
	if op.mapped == nil {
		return r.solveBothAdded(ctx, op)
	}
	mapped, err := r.applyLocalMetaToRemote(ctx, op)
	if err != nil {
		return err
	}
	if op.isFolder || !op.event.Remote.HasContent {
		return nil
	}

	proposed := *mapped
	download := *op.event
	download.Remote = &events.RemoteRef{
		ID:          mapped.RemoteID,
		Name:        mapped.Name,
		ParentID:    mapped.ParentRemoteID,
		ChangeToken: mapped.ChangeToken,
		Modified:    op.event.Remote.Modified,
		StreamID:    op.event.Remote.StreamID,
		HasContent:  true,
	}
	return r.beginDownload(ctx, &operation{event: &download, mapped: mapped}, &proposed)
}

// solveLastWriterWins resolves competing metadata changes by modification
// time; on a tie the repository side wins.
func (r *resolver) solveLastWriterWins(ctx context.Context, op *operation) error {
	localWins := false
	if info, err := os.Stat(op.event.Local.AbsPath); err == nil {
		localWins = info.ModTime().After(op.event.Remote.Modified)
	}
	if localWins {
		return r.solveLocalMetaToRemote(ctx, op)
	}
	return r.solveRemoteMetaToLocal(ctx, op)
}

// solveApplyBothMeta applies a local rename and a remote move (or the
// reverse): the dimensions do not overlap, so both sides land.
func (r *resolver) solveApplyBothMeta(ctx context.Context, op *operation) error {
	if op.mapped == nil {
		return r.solveBothAdded(ctx, op)
	}
	if _, err := r.applyLocalMetaToRemote(ctx, op); err != nil {
		return err
	}
	return r.solveRemoteMetaToLocal(ctx, op)
}

// solveRecreateRemote handles a remote removal racing a local edit: the
// local side wins, the object is recreated in the repository.
func (r *resolver) solveRecreateRemote(ctx context.Context, op *operation) error {
	if op.mapped != nil {
		if err := r.deleteMappingTree(op.mapped); err != nil {
			return err
		}
		op.mapped = nil
	}
	if !op.event.Local.Exists {
		return nil
	}
	fresh := *op.event
	fresh.Remote = nil
	return r.solveLocalToRemote(ctx, &operation{event: &fresh, isFolder: op.isFolder})
}

// solveRestoreLocal handles a local removal racing a remote change: the
// repository wins, the object comes back locally.
func (r *resolver) solveRestoreLocal(ctx context.Context, op *operation) error {
	ref := op.event.Remote
	if op.isFolder {
		return r.solveRemoteToLocal(ctx, op)
	}
	if ref.HasContent {
		proposed := r.mappingFromRef(ref, "", store.KindFile, "")
		return r.beginDownload(ctx, op, proposed)
	}
	return r.solveRemoteToLocal(ctx, op)
}
