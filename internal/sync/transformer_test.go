package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendms/docsync/internal/events"
	"github.com/opendms/docsync/internal/remote"
	"github.com/opendms/docsync/internal/store"
)

func TestTransformDeletedUnmappedIsDropped(t *testing.T) {
	st := newSyncTestStore(t)
	require.NoError(t, st.EnsureRoot("root"))
	q, captured := captureQueue()
	tr := NewTransformer(st, q)

	consumed, err := tr.Handle(context.Background(), &ContentChangeEvent{
		Kind:     remote.ChangeLogDeleted,
		ObjectID: "never-seen",
	})
	require.NoError(t, err)
	assert.True(t, consumed)
	q.Drain(context.Background())
	assert.Empty(t, *captured)
}

func TestTransformDeletedMappedEmitsTypedEvent(t *testing.T) {
	st := newSyncTestStore(t)
	require.NoError(t, st.EnsureRoot("root"))
	require.NoError(t, st.Save(&store.MappedObject{
		StableID:       "sid-a",
		RemoteID:       "r-a",
		ParentRemoteID: "root",
		Name:           "a.txt",
		Kind:           store.KindFile,
	}))

	q, captured := captureQueue()
	tr := NewTransformer(st, q)

	consumed, err := tr.Handle(context.Background(), &ContentChangeEvent{
		Kind:     remote.ChangeLogDeleted,
		ObjectID: "r-a",
	})
	require.NoError(t, err)
	assert.True(t, consumed)
	q.Drain(context.Background())

	require.Len(t, *captured, 1)
	fileEv, ok := (*captured)[0].(*events.FileEvent)
	require.True(t, ok)
	assert.Equal(t, "r-a", fileEv.Remote.ID)
	assert.Equal(t, events.ChangeDeleted, fileEv.RemoteChange)
	assert.Equal(t, events.ContentDeleted, fileEv.RemoteContentChange)
}

func TestTransformSecurityEntryCarriesNoContentChange(t *testing.T) {
	st := newSyncTestStore(t)
	require.NoError(t, st.EnsureRoot("root"))
	require.NoError(t, st.Save(&store.MappedObject{
		StableID:       "sid-a",
		RemoteID:       "r-a",
		ParentRemoteID: "root",
		Name:           "a.txt",
		Kind:           store.KindFile,
	}))

	q, captured := captureQueue()
	tr := NewTransformer(st, q)

	length := int64(3)
	consumed, err := tr.Handle(context.Background(), &ContentChangeEvent{
		Kind:     remote.ChangeLogSecurity,
		ObjectID: "r-a",
		Object: &remote.Object{
			ID:            "r-a",
			Name:          "a.txt",
			ParentID:      "root",
			Kind:          remote.KindDocument,
			ChangeToken:   "t2",
			StreamID:      "s:r-a",
			ContentLength: &length,
		},
	})
	require.NoError(t, err)
	assert.True(t, consumed)
	q.Drain(context.Background())

	require.Len(t, *captured, 1)
	fileEv := (*captured)[0].(*events.FileEvent)
	assert.Equal(t, events.ChangeChanged, fileEv.RemoteChange)
	assert.Equal(t, events.ContentNone, fileEv.RemoteContentChange,
		"a permission change must not retransfer content")
}

func TestTransformSecurityEntryOfUnmappedObjectBecomesCreation(t *testing.T) {
	st := newSyncTestStore(t)
	require.NoError(t, st.EnsureRoot("root"))

	q, captured := captureQueue()
	tr := NewTransformer(st, q)

	length := int64(3)
	consumed, err := tr.Handle(context.Background(), &ContentChangeEvent{
		Kind:     remote.ChangeLogSecurity,
		ObjectID: "r-granted",
		Object: &remote.Object{
			ID:            "r-granted",
			Name:          "granted.txt",
			ParentID:      "root",
			Kind:          remote.KindDocument,
			ChangeToken:   "t4",
			StreamID:      "s:r-granted",
			ContentLength: &length,
		},
	})
	require.NoError(t, err)
	assert.True(t, consumed)
	q.Drain(context.Background())

	require.Len(t, *captured, 1)
	fileEv := (*captured)[0].(*events.FileEvent)
	assert.Equal(t, events.ChangeCreated, fileEv.RemoteChange)
	assert.Equal(t, events.ContentCreated, fileEv.RemoteContentChange,
		"a document becoming visible must bring its content along")
}

func TestTransformUpdateOfUnmappedObjectBecomesCreation(t *testing.T) {
	st := newSyncTestStore(t)
	require.NoError(t, st.EnsureRoot("root"))

	q, captured := captureQueue()
	tr := NewTransformer(st, q)

	consumed, err := tr.Handle(context.Background(), &ContentChangeEvent{
		Kind:     remote.ChangeLogUpdated,
		ObjectID: "r-new",
		Object: &remote.Object{
			ID:          "r-new",
			Name:        "new.txt",
			ParentID:    "root",
			Kind:        remote.KindDocument,
			ChangeToken: "t1",
			StreamID:    "s:r-new",
		},
	})
	require.NoError(t, err)
	assert.True(t, consumed)
	q.Drain(context.Background())

	require.Len(t, *captured, 1)
	fileEv := (*captured)[0].(*events.FileEvent)
	assert.Equal(t, events.ChangeCreated, fileEv.RemoteChange)
	assert.Equal(t, events.ContentCreated, fileEv.RemoteContentChange)
}

func TestTransformFolderUpdateEmitsFolderEvent(t *testing.T) {
	st := newSyncTestStore(t)
	require.NoError(t, st.EnsureRoot("root"))

	q, captured := captureQueue()
	tr := NewTransformer(st, q)

	consumed, err := tr.Handle(context.Background(), &ContentChangeEvent{
		Kind:     remote.ChangeLogCreated,
		ObjectID: "r-folder",
		Object: &remote.Object{
			ID:          "r-folder",
			Name:        "docs",
			ParentID:    "root",
			Kind:        remote.KindFolder,
			ChangeToken: "t1",
		},
	})
	require.NoError(t, err)
	assert.True(t, consumed)
	q.Drain(context.Background())

	require.Len(t, *captured, 1)
	_, ok := (*captured)[0].(*events.FolderEvent)
	assert.True(t, ok)
}
