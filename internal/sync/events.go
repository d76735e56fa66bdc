package sync

import (
	"github.com/opendms/docsync/internal/events"
	"github.com/opendms/docsync/internal/remote"
	"github.com/opendms/docsync/internal/transfer"
)

// ContentChangeEvent is a raw change-log entry on the queue. The
// accumulator hydrates Object (Deleted entries carry no fetchable object);
// the transformer then turns it into a typed FileEvent/FolderEvent.
type ContentChangeEvent struct {
	Kind     remote.ChangeKind
	ObjectID string
	Object   *remote.Object
}

func (e *ContentChangeEvent) EventType() string { return "content-change" }

// CrawlRequest asks the crawler to diff one folder pair. The shallow
// crawler re-enqueues one CrawlRequest per matched subfolder.
type CrawlRequest struct {
	// LocalRel is the data-dir-relative path of the local folder.
	LocalRel string
	// RemoteFolderID is the remote counterpart.
	RemoteFolderID string
}

func (e *CrawlRequest) EventType() string { return "crawl" }

// TransferResult reports a finished off-queue content transmission so the
// metadata-store update happens on the queue goroutine.
type TransferResult struct {
	Result *transfer.Result
}

func (e *TransferResult) EventType() string { return "transfer-result" }

var (
	_ events.Event = (*ContentChangeEvent)(nil)
	_ events.Event = (*CrawlRequest)(nil)
	_ events.Event = (*TransferResult)(nil)
)
