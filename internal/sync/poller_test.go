package sync

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendms/docsync/internal/events"
	"github.com/opendms/docsync/internal/remote"
	"github.com/opendms/docsync/internal/store"
)

func newSyncTestStore(t *testing.T) *store.Store {
	t.Helper()
	st := store.NewStore(filepath.Join(t.TempDir(), "metadata.db"))
	require.NoError(t, st.Open())
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// captureQueue returns a queue whose only handler records every event.
func captureQueue() (*events.Queue, *[]events.Event) {
	q := events.NewQueue()
	captured := &[]events.Event{}
	q.Register(&events.HandlerFunc{
		Prio: 1,
		Fn: func(ctx context.Context, ev events.Event) (bool, error) {
			*captured = append(*captured, ev)
			return true, nil
		},
	})
	return q, captured
}

type countingSession struct {
	*fakeRepo
	calls int
}

func (c *countingSession) ContentChanges(ctx context.Context, sinceToken string, maxItems int) (*remote.ChangeLogPage, error) {
	c.calls++
	return c.fakeRepo.ContentChanges(ctx, sinceToken, maxItems)
}

// scriptedSession serves a fixed sequence of change-log pages.
type scriptedSession struct {
	*fakeRepo
	t      *testing.T
	latest string
	pages  []*remote.ChangeLogPage
	fail   error
	calls  int
}

func (s *scriptedSession) RepositoryInfo(ctx context.Context) (*remote.RepositoryInfo, error) {
	return &remote.RepositoryInfo{
		ID:                "repo",
		RootFolderID:      "root",
		LatestChangeToken: s.latest,
		Capabilities:      remote.Capabilities{Changes: true},
	}, nil
}

func (s *scriptedSession) ContentChanges(ctx context.Context, sinceToken string, maxItems int) (*remote.ChangeLogPage, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	require.Less(s.t, s.calls, len(s.pages), "more pages requested than scripted")
	page := s.pages[s.calls]
	s.calls++
	return page, nil
}

func (s *scriptedSession) withT(t *testing.T) *scriptedSession { s.t = t; return s }

func TestPollFirstSyncRequestsFullCrawl(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	repo.addDoc("root", "a.txt", []byte("hello"))

	st := newSyncTestStore(t)
	q, captured := captureQueue()
	p := NewChangeLogPoller(repo, st, q, 10)

	require.NoError(t, p.Poll(ctx))
	q.Drain(ctx)

	require.Len(t, *captured, 1)
	full, ok := (*captured)[0].(*events.FullSyncRequest)
	require.True(t, ok, "expected a full sync request, got %T", (*captured)[0])
	assert.NotEmpty(t, full.Reason)

	// the baseline token is persisted only once the crawl reports back
	token, err := st.ChangeLogToken()
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, p.CommitBaseline())
	token, err = st.ChangeLogToken()
	require.NoError(t, err)
	assert.Equal(t, repo.latestToken(), token)
}

func TestPollUpToDateFetchesNothing(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	repo.addDoc("root", "a.txt", []byte("hello"))
	session := &countingSession{fakeRepo: repo}

	st := newSyncTestStore(t)
	require.NoError(t, st.SetChangeLogToken(repo.latestToken()))

	q, captured := captureQueue()
	p := NewChangeLogPoller(session, st, q, 10)

	require.NoError(t, p.Poll(ctx))
	q.Drain(ctx)

	assert.Zero(t, session.calls)
	assert.Empty(t, *captured)
}

func TestPollPagesAndPersistsToken(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	a := repo.addDoc("root", "a.txt", []byte("aaa"))
	b := repo.addDoc("root", "b.txt", []byte("bbb"))
	repo.addFolder("root", "docs")
	repo.updateDoc(a.ID, []byte("aaa2"))
	repo.updateDoc(b.ID, []byte("bbb2"))

	st := newSyncTestStore(t)
	require.NoError(t, st.SetChangeLogToken("0"))

	q, captured := captureQueue()
	p := NewChangeLogPoller(repo, st, q, 2)

	require.NoError(t, p.Poll(ctx))
	q.Drain(ctx)

	require.Len(t, *captured, 5)
	for i, ev := range *captured {
		change, ok := ev.(*ContentChangeEvent)
		require.True(t, ok, "event %d is %T", i, ev)
		assert.Equal(t, repo.log[i].Kind, change.Kind)
		assert.Equal(t, repo.log[i].ObjectID, change.ObjectID)
	}

	token, err := st.ChangeLogToken()
	require.NoError(t, err)
	assert.Equal(t, repo.latestToken(), token)
}

func TestPollDropsPageBoundaryDuplicateOnce(t *testing.T) {
	ctx := context.Background()
	session := (&scriptedSession{
		latest: "4",
		pages: []*remote.ChangeLogPage{
			{
				Entries: []remote.ChangeLogEntry{
					{Kind: remote.ChangeLogCreated, ObjectID: "A"},
					{Kind: remote.ChangeLogCreated, ObjectID: "B"},
				},
				HasMore:     true,
				LatestToken: "2",
			},
			{
				Entries: []remote.ChangeLogEntry{
					{Kind: remote.ChangeLogCreated, ObjectID: "B"},
					{Kind: remote.ChangeLogUpdated, ObjectID: "C"},
				},
				HasMore:     false,
				LatestToken: "4",
			},
		},
	}).withT(t)

	st := newSyncTestStore(t)
	require.NoError(t, st.SetChangeLogToken("0"))

	q, captured := captureQueue()
	p := NewChangeLogPoller(session, st, q, 2)

	require.NoError(t, p.Poll(ctx))
	q.Drain(ctx)

	require.Len(t, *captured, 3)
	ids := []string{}
	for _, ev := range *captured {
		ids = append(ids, ev.(*ContentChangeEvent).ObjectID)
	}
	assert.Equal(t, []string{"A", "B", "C"}, ids)

	token, err := st.ChangeLogToken()
	require.NoError(t, err)
	assert.Equal(t, "4", token)
}

func TestPollKeepsRepeatedUpdateEntries(t *testing.T) {
	ctx := context.Background()
	session := (&scriptedSession{
		latest: "3",
		pages: []*remote.ChangeLogPage{
			{
				Entries: []remote.ChangeLogEntry{
					{Kind: remote.ChangeLogUpdated, ObjectID: "A"},
					{Kind: remote.ChangeLogUpdated, ObjectID: "B"},
				},
				HasMore:     true,
				LatestToken: "2",
			},
			{
				Entries: []remote.ChangeLogEntry{
					{Kind: remote.ChangeLogUpdated, ObjectID: "B"},
				},
				HasMore:     false,
				LatestToken: "3",
			},
		},
	}).withT(t)

	st := newSyncTestStore(t)
	require.NoError(t, st.SetChangeLogToken("0"))

	q, captured := captureQueue()
	p := NewChangeLogPoller(session, st, q, 2)

	require.NoError(t, p.Poll(ctx))
	q.Drain(ctx)

	// two updates of the same object across a page boundary are distinct
	// changes, not a redelivery
	assert.Len(t, *captured, 3)
}

func TestPollStalledCursorTerminates(t *testing.T) {
	ctx := context.Background()
	// the server reports the end of the log without advancing the cursor
	// and without reaching its own advertised latest token
	session := (&scriptedSession{
		latest: "9",
		pages: []*remote.ChangeLogPage{
			{
				Entries: []remote.ChangeLogEntry{
					{Kind: remote.ChangeLogUpdated, ObjectID: "A"},
				},
				HasMore:     false,
				LatestToken: "3",
			},
		},
	}).withT(t)

	st := newSyncTestStore(t)
	require.NoError(t, st.SetChangeLogToken("3"))

	q, captured := captureQueue()
	p := NewChangeLogPoller(session, st, q, 10)

	require.NoError(t, p.Poll(ctx))
	q.Drain(ctx)

	assert.Equal(t, 1, session.calls, "the identical page must not be refetched")
	assert.Len(t, *captured, 1)
	token, err := st.ChangeLogToken()
	require.NoError(t, err)
	assert.Equal(t, "3", token)
}

func TestPollErrorLeavesTokenUntouched(t *testing.T) {
	ctx := context.Background()
	session := (&scriptedSession{
		latest: "9",
		fail:   fmt.Errorf("connection reset"),
	}).withT(t)

	st := newSyncTestStore(t)
	require.NoError(t, st.SetChangeLogToken("3"))

	q, captured := captureQueue()
	p := NewChangeLogPoller(session, st, q, 10)

	require.Error(t, p.Poll(ctx))
	q.Drain(ctx)

	assert.Empty(t, *captured)
	token, err := st.ChangeLogToken()
	require.NoError(t, err)
	assert.Equal(t, "3", token)
}

func TestPollerRejectsTinyPageSize(t *testing.T) {
	require.Panics(t, func() {
		NewChangeLogPoller(newFakeRepo(), nil, nil, 1)
	})
}
