package sync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/opendms/docsync/internal/remote"
)

// fakeRepo is an in-memory document repository with a change log and
// token-checked writes. Tests drive the whole handler chain against it.
type fakeRepo struct {
	mu       sync.Mutex
	seq      int
	objects  map[string]*remote.Object
	contents map[string][]byte
	log      []remote.ChangeLogEntry
	caps     remote.Capabilities

	deletes int
	renames int
	moves   int
}

func newFakeRepo() *fakeRepo {
	f := &fakeRepo{
		objects:  make(map[string]*remote.Object),
		contents: make(map[string][]byte),
		caps:     remote.Capabilities{Changes: true},
	}
	f.objects["root"] = &remote.Object{
		ID:          "root",
		Kind:        remote.KindFolder,
		ChangeToken: f.nextToken(),
	}
	return f
}

func (f *fakeRepo) nextToken() string {
	f.seq++
	return fmt.Sprintf("t%d", f.seq)
}

func (f *fakeRepo) touch(obj *remote.Object) { obj.Modified = time.Now() }

func (f *fakeRepo) nextID() string {
	f.seq++
	return fmt.Sprintf("obj%d", f.seq)
}

func (f *fakeRepo) logChange(kind remote.ChangeKind, id string) {
	f.log = append(f.log, remote.ChangeLogEntry{Kind: kind, ObjectID: id})
}

func (f *fakeRepo) latestToken() string { return strconv.Itoa(len(f.log)) }

// addDoc seeds a document with content, bypassing token checks.
func (f *fakeRepo) addDoc(parentID, name string, content []byte) *remote.Object {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID()
	obj := &remote.Object{
		ID:          id,
		Name:        name,
		ParentID:    parentID,
		Kind:        remote.KindDocument,
		ChangeToken: f.nextToken(),
	}
	f.touch(obj)
	f.objects[id] = obj
	f.setContentLocked(obj, content)
	f.logChange(remote.ChangeLogCreated, id)
	return f.snapshotLocked(obj)
}

func (f *fakeRepo) addFolder(parentID, name string) *remote.Object {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID()
	obj := &remote.Object{
		ID:          id,
		Name:        name,
		ParentID:    parentID,
		Kind:        remote.KindFolder,
		ChangeToken: f.nextToken(),
	}
	f.touch(obj)
	f.objects[id] = obj
	f.logChange(remote.ChangeLogCreated, id)
	return f.snapshotLocked(obj)
}

// updateDoc replaces a document's content, bypassing token checks.
func (f *fakeRepo) updateDoc(id string, content []byte) *remote.Object {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj := f.objects[id]
	f.setContentLocked(obj, content)
	obj.ChangeToken = f.nextToken()
	f.touch(obj)
	f.logChange(remote.ChangeLogUpdated, id)
	return f.snapshotLocked(obj)
}

func (f *fakeRepo) setContentLocked(obj *remote.Object, content []byte) {
	f.contents[obj.ID] = append([]byte(nil), content...)
	length := int64(len(content))
	sum := sha256.Sum256(content)
	obj.StreamID = "s:" + obj.ID
	obj.ContentLength = &length
	obj.ContentHash = hex.EncodeToString(sum[:])
}

func (f *fakeRepo) snapshotLocked(obj *remote.Object) *remote.Object {
	cp := *obj
	if obj.ContentLength != nil {
		l := *obj.ContentLength
		cp.ContentLength = &l
	}
	return &cp
}

func (f *fakeRepo) content(id string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.contents[id]...)
}

func (f *fakeRepo) byName(parentID, name string) *remote.Object {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, obj := range f.objects {
		if obj.ParentID == parentID && obj.Name == name {
			return f.snapshotLocked(obj)
		}
	}
	return nil
}

// --- remote.Session ---

func (f *fakeRepo) RepositoryInfo(ctx context.Context) (*remote.RepositoryInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &remote.RepositoryInfo{
		ID:                "repo",
		Name:              "fake",
		RootFolderID:      "root",
		LatestChangeToken: f.latestToken(),
		Capabilities:      f.caps,
	}, nil
}

func (f *fakeRepo) ObjectByID(ctx context.Context, id string) (*remote.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[id]
	if !ok {
		return nil, remote.ErrNotFound
	}
	return f.snapshotLocked(obj), nil
}

func (f *fakeRepo) Children(ctx context.Context, folderID string, skip, limit int) ([]*remote.Object, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kids []*remote.Object
	for _, obj := range f.objects {
		if obj.ParentID == folderID {
			kids = append(kids, f.snapshotLocked(obj))
		}
	}
	sort.Slice(kids, func(i, j int) bool { return kids[i].Name < kids[j].Name })
	if skip >= len(kids) {
		return nil, false, nil
	}
	end := skip + limit
	if limit <= 0 || end > len(kids) {
		end = len(kids)
	}
	return kids[skip:end], end < len(kids), nil
}

func (f *fakeRepo) Descendants(ctx context.Context, folderID string, depth int) (*remote.ObjectTree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	root, ok := f.objects[folderID]
	if !ok {
		return nil, remote.ErrNotFound
	}
	var build func(o *remote.Object) *remote.ObjectTree
	build = func(o *remote.Object) *remote.ObjectTree {
		node := &remote.ObjectTree{Object: f.snapshotLocked(o)}
		var kids []*remote.Object
		for _, child := range f.objects {
			if child.ParentID == o.ID {
				kids = append(kids, child)
			}
		}
		sort.Slice(kids, func(i, j int) bool { return kids[i].Name < kids[j].Name })
		for _, child := range kids {
			node.Children = append(node.Children, build(child))
		}
		return node
	}
	return build(root), nil
}

func (f *fakeRepo) ContentChanges(ctx context.Context, sinceToken string, maxItems int) (*remote.ChangeLogPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	since, err := strconv.Atoi(sinceToken)
	if err != nil || since < 0 || since > len(f.log) {
		return nil, remote.ErrTokenConflict
	}
	end := since + maxItems
	if maxItems <= 0 || end > len(f.log) {
		end = len(f.log)
	}
	entries := append([]remote.ChangeLogEntry(nil), f.log[since:end]...)
	return &remote.ChangeLogPage{
		Entries:     entries,
		HasMore:     end < len(f.log),
		LatestToken: strconv.Itoa(end),
	}, nil
}

func (f *fakeRepo) ContentInfo(ctx context.Context, streamID string) (*remote.ContentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, obj := range f.objects {
		if obj.StreamID == streamID {
			length := int64(len(f.contents[id]))
			sum := sha256.Sum256(f.contents[id])
			return &remote.ContentInfo{Length: &length, Hash: hex.EncodeToString(sum[:])}, nil
		}
	}
	return nil, remote.ErrNotFound
}

func (f *fakeRepo) ReadContent(ctx context.Context, streamID string, offset, length int64) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, obj := range f.objects {
		if obj.StreamID != streamID {
			continue
		}
		data := f.contents[id]
		if offset > int64(len(data)) {
			offset = int64(len(data))
		}
		end := int64(len(data))
		if length >= 0 && offset+length < end {
			end = offset + length
		}
		return io.NopCloser(bytes.NewReader(data[offset:end])), nil
	}
	return nil, remote.ErrNotFound
}

func (f *fakeRepo) WriteContent(ctx context.Context, objectID, changeToken string, r io.Reader, mode remote.WriteMode) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[objectID]
	if !ok {
		return "", remote.ErrNotFound
	}
	if obj.ChangeToken != changeToken {
		return "", remote.ErrTokenConflict
	}
	if mode == remote.WriteOverwrite {
		f.setContentLocked(obj, data)
	} else {
		f.setContentLocked(obj, append(f.contents[objectID], data...))
	}
	obj.ChangeToken = f.nextToken()
	f.touch(obj)
	f.logChange(remote.ChangeLogUpdated, objectID)
	return obj.ChangeToken, nil
}

func (f *fakeRepo) DeleteContent(ctx context.Context, objectID, changeToken string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[objectID]
	if !ok {
		return "", remote.ErrNotFound
	}
	if obj.ChangeToken != changeToken {
		return "", remote.ErrTokenConflict
	}
	delete(f.contents, objectID)
	obj.StreamID = ""
	obj.ContentLength = nil
	obj.ContentHash = ""
	obj.ChangeToken = f.nextToken()
	return obj.ChangeToken, nil
}

func (f *fakeRepo) CreateFolder(ctx context.Context, parentID, name string) (*remote.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID()
	obj := &remote.Object{
		ID:          id,
		Name:        name,
		ParentID:    parentID,
		Kind:        remote.KindFolder,
		ChangeToken: f.nextToken(),
	}
	f.touch(obj)
	f.objects[id] = obj
	f.logChange(remote.ChangeLogCreated, id)
	return f.snapshotLocked(obj), nil
}

func (f *fakeRepo) CreateDocument(ctx context.Context, parentID, name string) (*remote.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID()
	obj := &remote.Object{
		ID:          id,
		Name:        name,
		ParentID:    parentID,
		Kind:        remote.KindDocument,
		ChangeToken: f.nextToken(),
	}
	f.touch(obj)
	f.objects[id] = obj
	f.logChange(remote.ChangeLogCreated, id)
	return f.snapshotLocked(obj), nil
}

func (f *fakeRepo) Rename(ctx context.Context, objectID, changeToken, newName string) (*remote.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[objectID]
	if !ok {
		return nil, remote.ErrNotFound
	}
	if obj.ChangeToken != changeToken {
		return nil, remote.ErrTokenConflict
	}
	f.renames++
	obj.Name = newName
	obj.ChangeToken = f.nextToken()
	f.touch(obj)
	f.logChange(remote.ChangeLogUpdated, objectID)
	return f.snapshotLocked(obj), nil
}

func (f *fakeRepo) Move(ctx context.Context, objectID, changeToken, newParentID string) (*remote.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[objectID]
	if !ok {
		return nil, remote.ErrNotFound
	}
	if obj.ChangeToken != changeToken {
		return nil, remote.ErrTokenConflict
	}
	f.moves++
	obj.ParentID = newParentID
	obj.ChangeToken = f.nextToken()
	f.touch(obj)
	f.logChange(remote.ChangeLogUpdated, objectID)
	return f.snapshotLocked(obj), nil
}

func (f *fakeRepo) Delete(ctx context.Context, objectID, changeToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[objectID]
	if !ok {
		return remote.ErrNotFound
	}
	if obj.ChangeToken != changeToken {
		return remote.ErrTokenConflict
	}
	f.deletes++
	delete(f.objects, objectID)
	delete(f.contents, objectID)
	f.logChange(remote.ChangeLogDeleted, objectID)
	return nil
}

var _ remote.Session = (*fakeRepo)(nil)
