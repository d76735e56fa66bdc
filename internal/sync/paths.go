package sync

import (
	"path/filepath"
	"strings"
)

// relFromAbs converts an absolute path under dataDir to the slash-separated
// data-dir-relative form the store indexes by.
func relFromAbs(dataDir, abs string) string {
	rel, err := filepath.Rel(dataDir, abs)
	if err != nil {
		return ""
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return ""
	}
	return strings.TrimPrefix(rel, "./")
}

// absFromRel converts a data-dir-relative path back to an absolute one.
func absFromRel(dataDir, rel string) string {
	return filepath.Join(dataDir, filepath.FromSlash(rel))
}
