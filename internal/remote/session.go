package remote

import (
	"context"
	"io"
)

// DepthUnlimited requests the full subtree from Descendants.
const DepthUnlimited = -1

// Session is the capability surface the sync core requires from a remote
// document repository. The core never talks to a concrete protocol binding
// directly; HTTPSession below is one implementation.
//
// Every mutating call takes the previously-known change token of the target
// object so the server can reject the write on conflicting concurrent
// modification (optimistic concurrency, not a lock). A stale token yields
// ErrTokenConflict.
type Session interface {
	// RepositoryInfo returns repository metadata including the server's
	// current change-log token and capability flags.
	RepositoryInfo(ctx context.Context) (*RepositoryInfo, error)

	// ObjectByID fetches one object. ErrNotFound / ErrPermissionDenied when
	// it is gone or access is denied.
	ObjectByID(ctx context.Context, id string) (*Object, error)

	// Children lists one page of a folder's immediate children.
	Children(ctx context.Context, folderID string, skip, limit int) ([]*Object, bool, error)

	// Descendants fetches a subtree up to depth levels deep;
	// DepthUnlimited means the whole subtree.
	Descendants(ctx context.Context, folderID string, depth int) (*ObjectTree, error)

	// ContentChanges returns one page of the change log starting after
	// sinceToken, at most maxItems entries, plus the page's own latest
	// token and a has-more flag.
	ContentChanges(ctx context.Context, sinceToken string, maxItems int) (*ChangeLogPage, error)

	// ContentInfo describes a content stream without reading it.
	ContentInfo(ctx context.Context, streamID string) (*ContentInfo, error)

	// ReadContent opens a ranged read of a content stream. length < 0 reads
	// to the end of the stream.
	ReadContent(ctx context.Context, streamID string, offset, length int64) (io.ReadCloser, error)

	// WriteContent submits bytes to a document's content stream and returns
	// the object's new change token.
	WriteContent(ctx context.Context, objectID, changeToken string, r io.Reader, mode WriteMode) (string, error)

	// DeleteContent removes a document's content stream, leaving the
	// document in place. Used to restart a partial chunked upload.
	DeleteContent(ctx context.Context, objectID, changeToken string) (string, error)

	CreateFolder(ctx context.Context, parentID, name string) (*Object, error)
	CreateDocument(ctx context.Context, parentID, name string) (*Object, error)
	Rename(ctx context.Context, objectID, changeToken, newName string) (*Object, error)
	Move(ctx context.Context, objectID, changeToken, newParentID string) (*Object, error)
	Delete(ctx context.Context, objectID, changeToken string) error
}
