package watcher

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pkg/xattr"
)

// StableIDAttr is the extended attribute holding the stable local
// identifier. Identity of a local object survives renames because the
// attribute moves with the inode.
const StableIDAttr = "user.docsync.id"

// StableID returns the UUID stored in the path's extended attribute,
// creating and persisting a fresh one when none exists. On filesystems
// without xattr support a fresh id is still returned; identity then
// lives only in the mapping store.
func StableID(path string) (string, error) {
	data, err := xattr.Get(path, StableIDAttr)
	if err == nil && len(data) > 0 {
		if id, parseErr := uuid.ParseBytes(data); parseErr == nil {
			return id.String(), nil
		}
		// corrupt attribute, reassign below
	}

	id := uuid.NewString()
	if err := xattr.Set(path, StableIDAttr, []byte(id)); err != nil {
		slog.Debug("stable id not persisted", "path", path, "error", err)
	}
	return id, nil
}

// PeekStableID returns the stored id without assigning one; "" when absent.
func PeekStableID(path string) string {
	data, err := xattr.Get(path, StableIDAttr)
	if err != nil || len(data) == 0 {
		return ""
	}
	id, err := uuid.ParseBytes(data)
	if err != nil {
		return ""
	}
	return id.String()
}

// SetStableID forces a specific id onto a path. Used when materializing a
// remote object locally so the mapping and the attribute agree.
func SetStableID(path, id string) error {
	if err := xattr.Set(path, StableIDAttr, []byte(id)); err != nil {
		return fmt.Errorf("set stable id on %q: %w", path, err)
	}
	return nil
}
