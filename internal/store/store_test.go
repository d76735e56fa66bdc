package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), "metadata.db"))
	require.NoError(t, s.Open())
	require.NoError(t, s.EnsureRoot("root-remote"))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnsureRootAnchorsPathLookups(t *testing.T) {
	s := newTestStore(t)

	assert.Equal(t, "root-remote", s.RootRemoteID())

	root, err := s.ByLocalPath("")
	require.NoError(t, err)
	require.NotNil(t, root)
	assert.True(t, root.IsRoot())
	assert.Equal(t, "root-remote", root.RemoteID)
}

func TestSaveAndLookup(t *testing.T) {
	s := newTestStore(t)

	folder := &MappedObject{
		StableID:       "sid-docs",
		RemoteID:       "rid-docs",
		ParentRemoteID: "root-remote",
		Name:           "docs",
		Kind:           KindFolder,
		ChangeToken:    "t1",
	}
	file := &MappedObject{
		StableID:       "sid-a",
		RemoteID:       "rid-a",
		ParentRemoteID: "rid-docs",
		Name:           "a.txt",
		Kind:           KindFile,
		ChangeToken:    "t2",
		Checksum:       "abc",
		LocalModified:  time.Now(),
		RemoteModified: time.Now().Add(-time.Minute),
	}
	require.NoError(t, s.Save(folder))
	require.NoError(t, s.Save(file))

	byRemote, err := s.ByRemoteID("rid-a")
	require.NoError(t, err)
	require.NotNil(t, byRemote)
	assert.Equal(t, "a.txt", byRemote.Name)
	assert.Equal(t, KindFile, byRemote.Kind)
	assert.Equal(t, "abc", byRemote.Checksum)

	byStable, err := s.ByStableID("sid-a")
	require.NoError(t, err)
	require.NotNil(t, byStable)
	assert.Equal(t, "rid-a", byStable.RemoteID)

	byPath, err := s.ByLocalPath("docs/a.txt")
	require.NoError(t, err)
	require.NotNil(t, byPath)
	assert.Equal(t, "sid-a", byPath.StableID)

	rel, err := s.LocalPathOf(byPath)
	require.NoError(t, err)
	assert.Equal(t, "docs/a.txt", rel)

	remotePath, err := s.RemotePathOf(byPath)
	require.NoError(t, err)
	assert.Equal(t, "/docs/a.txt", remotePath)
}

func TestLookupMissingReturnsNilNil(t *testing.T) {
	s := newTestStore(t)

	obj, err := s.ByRemoteID("nope")
	assert.NoError(t, err)
	assert.Nil(t, obj)

	obj, err = s.ByLocalPath("no/such/path")
	assert.NoError(t, err)
	assert.Nil(t, obj)
}

func TestSaveIsUpsert(t *testing.T) {
	s := newTestStore(t)

	obj := &MappedObject{
		StableID:       "sid",
		RemoteID:       "rid",
		ParentRemoteID: "root-remote",
		Name:           "f.txt",
		Kind:           KindFile,
		ChangeToken:    "t1",
	}
	require.NoError(t, s.Save(obj))

	obj.ChangeToken = "t2"
	obj.Checksum = "sum"
	require.NoError(t, s.Save(obj))

	got, err := s.ByStableID("sid")
	require.NoError(t, err)
	assert.Equal(t, "t2", got.ChangeToken)
	assert.Equal(t, "sum", got.Checksum)
}

func TestChildrenOfOrdersByName(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, s.Save(&MappedObject{
			StableID:       "sid-" + name,
			RemoteID:       "rid-" + name,
			ParentRemoteID: "root-remote",
			Name:           name,
			Kind:           KindFile,
		}))
	}

	root, err := s.ByStableID("root")
	require.NoError(t, err)
	children, err := s.ChildrenOf(root)
	require.NoError(t, err)
	require.Len(t, children, 3)
	assert.Equal(t, "alpha", children[0].Name)
	assert.Equal(t, "mid", children[1].Name)
	assert.Equal(t, "zeta", children[2].Name)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save(&MappedObject{
		StableID:       "sid",
		RemoteID:       "rid",
		ParentRemoteID: "root-remote",
		Name:           "gone.txt",
		Kind:           KindFile,
	}))
	require.NoError(t, s.Delete("sid"))

	obj, err := s.ByStableID("sid")
	assert.NoError(t, err)
	assert.Nil(t, obj)
}

func TestTree(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save(&MappedObject{
		StableID: "sid-d", RemoteID: "rid-d", ParentRemoteID: "root-remote",
		Name: "docs", Kind: KindFolder,
	}))
	require.NoError(t, s.Save(&MappedObject{
		StableID: "sid-f", RemoteID: "rid-f", ParentRemoteID: "rid-d",
		Name: "f.txt", Kind: KindFile,
	}))

	tree, err := s.Tree()
	require.NoError(t, err)
	require.NotNil(t, tree)
	require.Len(t, tree.Children, 1)
	assert.Equal(t, "docs", tree.Children[0].Object.Name)
	require.Len(t, tree.Children[0].Children, 1)
	assert.Equal(t, "f.txt", tree.Children[0].Children[0].Object.Name)
}

func TestChangeLogToken(t *testing.T) {
	s := newTestStore(t)

	token, err := s.ChangeLogToken()
	require.NoError(t, err)
	assert.Empty(t, token, "fresh store must have no token")

	require.NoError(t, s.SetChangeLogToken("tok-5"))
	token, err = s.ChangeLogToken()
	require.NoError(t, err)
	assert.Equal(t, "tok-5", token)

	require.NoError(t, s.SetChangeLogToken("tok-6"))
	token, err = s.ChangeLogToken()
	require.NoError(t, err)
	assert.Equal(t, "tok-6", token)
}

func TestTransferCheckpoints(t *testing.T) {
	s := newTestStore(t)

	total := int64(1024)
	rec := &TransferRecord{
		RemoteID:    "rid",
		LocalPath:   "/data/f.bin",
		Direction:   TransferDownload,
		ChangeToken: "t1",
		Checksum:    "partial",
		BytesDone:   512,
		TotalBytes:  &total,
	}
	require.NoError(t, s.SaveTransfer(rec))

	got, err := s.TransferFor("rid")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(512), got.BytesDone)
	assert.Equal(t, TransferDownload, got.Direction)
	require.NotNil(t, got.TotalBytes)
	assert.Equal(t, int64(1024), *got.TotalBytes)

	require.NoError(t, s.DeleteTransfer("rid"))
	got, err = s.TransferFor("rid")
	require.NoError(t, err)
	assert.Nil(t, got)
}
