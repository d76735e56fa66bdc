package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendms/docsync/internal/config"
)

func TestSyncNowWaitsForContentTransfers(t *testing.T) {
	repo := newFakeRepo()
	content := []byte("body that must be on disk before the command returns")
	doc := repo.addDoc("root", "report.txt", content)

	cfg := &config.Config{
		DataDir:           t.TempDir(),
		ServerURL:         "http://repo.example",
		RepositoryID:      "repo",
		Username:          "u",
		Password:          "p",
		ChangeLogPageSize: 100,
	}
	eng, err := NewEngine(cfg, repo)
	require.NoError(t, err)
	defer eng.Stop()

	require.NoError(t, eng.SyncNow(context.Background()))

	// the transfer has been applied by the time SyncNow returns, not
	// merely scheduled
	data, err := os.ReadFile(filepath.Join(cfg.DataDir, "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, data)

	mapped, err := eng.store.ByRemoteID(doc.ID)
	require.NoError(t, err)
	require.NotNil(t, mapped)
	assert.Equal(t, sha256Hex(content), mapped.Checksum)
}
