package events

import (
	"errors"
	"time"
)

// ErrNoObject marks an event that references neither a local nor a remote
// object. Such an event is a defect and must never reach classification.
var ErrNoObject = errors.New("event has neither local nor remote object")

// ChangeType describes a metadata-level change on one side of an object.
type ChangeType int

const (
	ChangeNone ChangeType = iota
	ChangeCreated
	ChangeChanged
	ChangeDeleted
	ChangeMoved
)

func (c ChangeType) String() string {
	switch c {
	case ChangeNone:
		return "None"
	case ChangeCreated:
		return "Created"
	case ChangeChanged:
		return "Changed"
	case ChangeDeleted:
		return "Deleted"
	case ChangeMoved:
		return "Moved"
	default:
		return "Unknown"
	}
}

// ContentChangeType describes a content-stream change, tracked separately
// from metadata because content and metadata can change independently.
type ContentChangeType int

const (
	ContentNone ContentChangeType = iota
	ContentCreated
	ContentChanged
	ContentDeleted
)

func (c ContentChangeType) String() string {
	switch c {
	case ContentNone:
		return "None"
	case ContentCreated:
		return "Created"
	case ContentChanged:
		return "Changed"
	case ContentDeleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// LocalRef points at a local filesystem object. StableID is the UUID stored
// as an extended attribute; local identity survives renames.
type LocalRef struct {
	AbsPath  string
	Exists   bool
	StableID string
}

// RemoteRef points at a remote repository object.
type RemoteRef struct {
	ID          string
	Name        string
	ParentID    string
	ChangeToken string
	Modified    time.Time
	// StreamID identifies the content stream. Documents only.
	StreamID   string
	HasContent bool
}

// Event is anything that can travel through the sync queue.
type Event interface {
	EventType() string
}

// ObjectEvent carries the local/remote references and per-side change tags
// for one logical object. At least one of Local/Remote must be set before
// classification runs.
type ObjectEvent struct {
	Local               *LocalRef
	Remote              *RemoteRef
	LocalChange         ChangeType
	RemoteChange        ChangeType
	LocalContentChange  ContentChangeType
	RemoteContentChange ContentChangeType
}

// Validate rejects events that reference no object at all.
func (e *ObjectEvent) Validate() error {
	if e.Local == nil && e.Remote == nil {
		return ErrNoObject
	}
	return nil
}

// FileEvent is an ObjectEvent for a document.
type FileEvent struct {
	ObjectEvent
}

func (e *FileEvent) EventType() string { return "file" }

// FolderEvent is an ObjectEvent for a folder.
type FolderEvent struct {
	ObjectEvent
}

func (e *FolderEvent) EventType() string { return "folder" }

// FullSyncRequest asks for a crawl-based resync of the whole tree. Enqueued
// by handlers that detect a state they cannot repair incrementally, and by
// the queue itself when a handler fails unexpectedly.
type FullSyncRequest struct {
	Reason string
}

func (e *FullSyncRequest) EventType() string { return "fullsync" }
