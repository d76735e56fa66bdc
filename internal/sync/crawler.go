package sync

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"

	"github.com/opendms/docsync/internal/events"
	"github.com/opendms/docsync/internal/remote"
	"github.com/opendms/docsync/internal/store"
	"github.com/opendms/docsync/internal/watcher"
)

const crawlerPriority = 900

// Crawler reconciles tree state without a change log: it diffs the remote
// tree, the local tree, and the mapping store, and enqueues one object
// event per path that appears anywhere. It runs last in the chain and
// consumes CrawlRequest and FullSyncRequest events.
//
// Crawl deltas never classify as moves: an object found at a new path
// surfaces as an addition there and a removal at the old one.
type Crawler struct {
	session  remote.Session
	store    *store.Store
	queue    *events.Queue
	status   *StatusRegistry
	dataDir  string
	ignore   *IgnoreList
	pageSize int

	// OnFullSync runs after a crawl-based resync finishes. The poller uses
	// it to commit its captured baseline token.
	OnFullSync func()
}

func NewCrawler(session remote.Session, st *store.Store, queue *events.Queue, status *StatusRegistry, dataDir string, ignore *IgnoreList, pageSize int) *Crawler {
	return &Crawler{
		session:  session,
		store:    st,
		queue:    queue,
		status:   status,
		dataDir:  dataDir,
		ignore:   ignore,
		pageSize: pageSize,
	}
}

func (c *Crawler) Priority() int { return crawlerPriority }

func (c *Crawler) Handle(ctx context.Context, ev events.Event) (bool, error) {
	switch e := ev.(type) {
	case *events.FullSyncRequest:
		slog.Info("starting full resync", "reason", e.Reason)
		if err := c.fullCrawl(ctx); err != nil {
			// not converted into another full-sync request: the next poll
			// cycle retries, so a failing crawl cannot spin the queue
			slog.Error("full resync failed", "error", err)
			return true, nil
		}
		if c.OnFullSync != nil {
			c.OnFullSync()
		}
		return true, nil

	case *CrawlRequest:
		children, err := c.crawlFolder(ctx, e.RemoteFolderID, e.LocalRel)
		if err != nil {
			slog.Error("folder crawl failed", "path", e.LocalRel, "error", err)
			return true, nil
		}
		for _, child := range children {
			c.queue.AddEvent(&CrawlRequest{LocalRel: child.rel, RemoteFolderID: child.remoteID})
		}
		return true, nil
	}
	return false, nil
}

// fullCrawl diffs the whole tree. With descendants support one round trip
// fetches the remote side; otherwise the tree is paged folder by folder.
func (c *Crawler) fullCrawl(ctx context.Context) error {
	info, err := c.session.RepositoryInfo(ctx)
	if err != nil {
		return err
	}
	rootID := c.store.RootRemoteID()
	if rootID == "" {
		rootID = info.RootFolderID
	}

	if info.Capabilities.Descendants {
		if err := c.crawlDescendants(ctx, rootID); err != nil {
			slog.Warn("descendants crawl failed, paging instead", "error", err)
		} else {
			return nil
		}
	}

	worklist := []crawlChild{{rel: "", remoteID: rootID}}
	for len(worklist) > 0 {
		next := worklist[0]
		worklist = worklist[1:]
		children, err := c.crawlFolder(ctx, next.remoteID, next.rel)
		if err != nil {
			return err
		}
		worklist = append(worklist, children...)
	}
	return nil
}

// crawlDescendants fetches the three tree views in parallel and diffs them
// by relative path.
func (c *Crawler) crawlDescendants(ctx context.Context, rootID string) error {
	var (
		remoteByPath map[string]*remote.Object
		localByPath  map[string]bool
		mappedByPath map[string]*store.MappedObject
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tree, err := c.session.Descendants(gctx, rootID, remote.DepthUnlimited)
		if err != nil {
			return err
		}
		remoteByPath = make(map[string]*remote.Object)
		flattenTree(tree, "", remoteByPath)
		return nil
	})
	g.Go(func() (err error) {
		localByPath, err = c.scanLocal()
		return err
	})
	g.Go(func() (err error) {
		mappedByPath, err = c.mappedPaths()
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	paths := mapset.NewThreadUnsafeSet[string]()
	for p := range remoteByPath {
		paths.Add(p)
	}
	for p := range localByPath {
		paths.Add(p)
	}
	for p := range mappedByPath {
		paths.Add(p)
	}

	sorted := paths.ToSlice()
	sort.Strings(sorted)
	for _, p := range sorted {
		if c.ignore.ShouldIgnore(p) {
			continue
		}
		isDir, localExists := localByPath[p]
		c.emit(p, remoteByPath[p], mappedByPath[p], localExists, isDir)
	}
	return nil
}

type crawlChild struct {
	rel      string
	remoteID string
}

// crawlFolder diffs one folder's immediate children and returns the
// matched subfolders for the caller to descend into. An empty folderID
// means the folder has no remote counterpart yet.
func (c *Crawler) crawlFolder(ctx context.Context, folderID, localRel string) ([]crawlChild, error) {
	remoteChildren := make(map[string]*remote.Object)
	if folderID != "" {
		skip := 0
		for {
			page, hasMore, err := c.session.Children(ctx, folderID, skip, c.pageSize)
			if err != nil {
				return nil, err
			}
			for _, o := range page {
				remoteChildren[o.Name] = o
			}
			if !hasMore || len(page) == 0 {
				break
			}
			skip += len(page)
		}
	}

	localChildren := make(map[string]bool)
	entries, err := os.ReadDir(absFromRel(c.dataDir, localRel))
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, e := range entries {
		localChildren[e.Name()] = e.IsDir()
	}

	mappedChildren := make(map[string]*store.MappedObject)
	if folderID != "" {
		parent, err := c.store.ByRemoteID(folderID)
		if err != nil {
			return nil, err
		}
		if parent != nil {
			kids, err := c.store.ChildrenOf(parent)
			if err != nil {
				return nil, err
			}
			for _, k := range kids {
				mappedChildren[k.Name] = k
			}
		}
	}

	names := mapset.NewThreadUnsafeSet[string]()
	for n := range remoteChildren {
		names.Add(n)
	}
	for n := range localChildren {
		names.Add(n)
	}
	for n := range mappedChildren {
		names.Add(n)
	}
	sorted := names.ToSlice()
	sort.Strings(sorted)

	var folders []crawlChild
	for _, name := range sorted {
		rel := path.Join(localRel, name)
		if c.ignore.ShouldIgnore(rel) {
			continue
		}
		obj := remoteChildren[name]
		mapped := mappedChildren[name]
		isDir, localExists := localChildren[name]
		c.emit(rel, obj, mapped, localExists, isDir)

		if (obj != nil && obj.IsFolder()) || (localExists && isDir) {
			child := crawlChild{rel: rel}
			if obj != nil {
				child.remoteID = obj.ID
			}
			folders = append(folders, child)
		}
	}
	return folders, nil
}

// emit enqueues one object event describing the current state of a path
// on both sides. Remote-side change tags are derived from the mapping;
// the local side is left untagged for the classifier to infer.
func (c *Crawler) emit(rel string, obj *remote.Object, mapped *store.MappedObject, localExists, localIsDir bool) {
	if obj == nil && mapped == nil && !localExists {
		return
	}
	if c.status.IsSyncing(rel) {
		// the chain already owns this path through a scheduled transfer;
		// scheduling it again from the crawl would double-resolve it
		return
	}

	abs := absFromRel(c.dataDir, rel)
	oe := events.ObjectEvent{
		Local: &events.LocalRef{AbsPath: abs, Exists: localExists},
	}
	if localExists {
		oe.Local.StableID = watcher.PeekStableID(abs)
	}

	var isFolder bool
	switch {
	case obj != nil:
		isFolder = obj.IsFolder()
	case localExists:
		isFolder = localIsDir
	default:
		isFolder = mapped.Kind == store.KindFolder
	}

	switch {
	case obj != nil:
		oe.Remote = &events.RemoteRef{
			ID:          obj.ID,
			Name:        obj.Name,
			ParentID:    obj.ParentID,
			ChangeToken: obj.ChangeToken,
			Modified:    obj.Modified,
			StreamID:    obj.StreamID,
			HasContent:  obj.HasContent(),
		}
		if mapped == nil {
			oe.RemoteChange = events.ChangeCreated
			if obj.HasContent() {
				oe.RemoteContentChange = events.ContentCreated
			}
		} else if mapped.ChangeToken != obj.ChangeToken {
			oe.RemoteChange = events.ChangeChanged
			if obj.HasContent() {
				oe.RemoteContentChange = events.ContentChanged
			}
		}
	case mapped != nil:
		oe.Remote = &events.RemoteRef{
			ID:       mapped.RemoteID,
			Name:     mapped.Name,
			ParentID: mapped.ParentRemoteID,
		}
		oe.RemoteChange = events.ChangeDeleted
		if mapped.Kind == store.KindFile {
			oe.RemoteContentChange = events.ContentDeleted
		}
	}

	if isFolder {
		c.queue.AddEvent(&events.FolderEvent{ObjectEvent: oe})
	} else {
		c.queue.AddEvent(&events.FileEvent{ObjectEvent: oe})
	}
}

// flattenTree indexes a remote subtree by slash-relative path. The root
// node itself is not indexed.
func flattenTree(t *remote.ObjectTree, prefix string, out map[string]*remote.Object) {
	if t == nil {
		return
	}
	for _, child := range t.Children {
		if child.Object == nil {
			continue
		}
		p := path.Join(prefix, child.Object.Name)
		out[p] = child.Object
		flattenTree(child, p, out)
	}
}

func (c *Crawler) scanLocal() (map[string]bool, error) {
	out := make(map[string]bool)
	err := filepath.WalkDir(c.dataDir, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := relFromAbs(c.dataDir, abs)
		if rel == "" {
			return nil
		}
		if c.ignore.ShouldIgnore(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		out[rel] = d.IsDir()
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return out, nil
}

func (c *Crawler) mappedPaths() (map[string]*store.MappedObject, error) {
	tree, err := c.store.Tree()
	if err != nil {
		return nil, err
	}
	out := make(map[string]*store.MappedObject)
	var walk func(node *store.MappedTree, prefix string)
	walk = func(node *store.MappedTree, prefix string) {
		for _, child := range node.Children {
			p := path.Join(prefix, child.Object.Name)
			out[p] = child.Object
			walk(child, p)
		}
	}
	if tree != nil {
		walk(tree, "")
	}
	return out, nil
}
