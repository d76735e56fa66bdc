package remote

import (
	"time"
)

// ObjectKind distinguishes documents from folders.
type ObjectKind string

const (
	KindDocument ObjectKind = "document"
	KindFolder   ObjectKind = "folder"
)

// Object is one repository object as reported by the server. ChangeToken is
// the opaque, monotonically-advancing version marker used both for
// change-log paging and for optimistic-concurrency writes.
type Object struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	ParentID    string     `json:"parentId"`
	Kind        ObjectKind `json:"kind"`
	ChangeToken string     `json:"changeToken"`
	Modified    time.Time  `json:"modified"`

	// Content stream fields. Documents only; StreamID is empty for a
	// document without content.
	StreamID      string `json:"streamId,omitempty"`
	ContentLength *int64 `json:"contentLength,omitempty"`
	ContentHash   string `json:"contentHash,omitempty"`
}

// IsFolder reports whether the object is a folder.
func (o *Object) IsFolder() bool { return o.Kind == KindFolder }

// HasContent reports whether the document carries a content stream.
func (o *Object) HasContent() bool { return o.Kind == KindDocument && o.StreamID != "" }

// ChangeKind is the type of one change-log entry.
type ChangeKind string

const (
	ChangeLogCreated  ChangeKind = "created"
	ChangeLogUpdated  ChangeKind = "updated"
	ChangeLogDeleted  ChangeKind = "deleted"
	ChangeLogSecurity ChangeKind = "security"
)

// ChangeLogEntry is one entry of the repository change log.
type ChangeLogEntry struct {
	Kind     ChangeKind `json:"kind"`
	ObjectID string     `json:"objectId"`
	Time     time.Time  `json:"time"`
}

// ChangeLogPage is one bounded page of the change log. LatestToken is the
// token of the last entry in this page, to be used as the cursor for the
// next page.
type ChangeLogPage struct {
	Entries     []ChangeLogEntry `json:"entries"`
	HasMore     bool             `json:"hasMore"`
	LatestToken string           `json:"latestToken"`
}

// ObjectTree is a recursive remote subtree as returned by Descendants.
type ObjectTree struct {
	Object   *Object       `json:"object"`
	Children []*ObjectTree `json:"children,omitempty"`
}

// Walk visits every node of the tree depth-first.
func (t *ObjectTree) Walk(fn func(*Object)) {
	if t == nil || t.Object == nil {
		return
	}
	fn(t.Object)
	for _, c := range t.Children {
		c.Walk(fn)
	}
}

// Capabilities are the repository capability flags the client cares about.
type Capabilities struct {
	Changes     bool `json:"changes"`
	Descendants bool `json:"descendants"`
	MultiFiling bool `json:"multiFiling"`
	PWC         bool `json:"pwc"`
}

// RepositoryInfo describes the repository and its current change-log state.
type RepositoryInfo struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	RootFolderID      string       `json:"rootFolderId"`
	LatestChangeToken string       `json:"latestChangeToken"`
	Capabilities      Capabilities `json:"capabilities"`
}

// ContentInfo describes a content stream. Length is nil when the server
// does not report it.
type ContentInfo struct {
	Length *int64 `json:"length"`
	Hash   string `json:"hash,omitempty"`
}

// WriteMode selects how WriteContent applies the submitted bytes.
type WriteMode int

const (
	// WriteOverwrite replaces the whole content stream.
	WriteOverwrite WriteMode = iota
	// WriteAppend appends the bytes to the existing stream. Used by the
	// chunked uploader.
	WriteAppend
)
