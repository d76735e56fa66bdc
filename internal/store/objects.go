package store

import (
	"database/sql"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

const rootStableID = "root"

// ObjectKind distinguishes file and folder mappings.
type ObjectKind string

const (
	KindFile   ObjectKind = "file"
	KindFolder ObjectKind = "folder"
)

// MappedObject is the persisted record linking a local filesystem object to
// its remote repository counterpart. Created when an object is first
// successfully synchronized in either direction, updated on every
// successful resolution, deleted when the object is confirmed gone on both
// sides.
type MappedObject struct {
	StableID       string
	RemoteID       string
	ParentRemoteID string
	Name           string
	Kind           ObjectKind
	ChangeToken    string
	LocalModified  time.Time
	RemoteModified time.Time
	// Checksum is the last verified content checksum. Files only.
	Checksum string
}

// IsRoot reports whether this is the anchor row for the data dir.
func (m *MappedObject) IsRoot() bool { return m.StableID == rootStableID }

type mappedRow struct {
	StableID       string `db:"stable_id"`
	RemoteID       string `db:"remote_id"`
	ParentRemoteID string `db:"parent_remote_id"`
	Name           string `db:"name"`
	Kind           string `db:"kind"`
	ChangeToken    string `db:"change_token"`
	LocalModified  string `db:"local_modified"`
	RemoteModified string `db:"remote_modified"`
	Checksum       string `db:"checksum"`
}

func (r *mappedRow) toObject() (*MappedObject, error) {
	localMod, err := parseStoredTime(r.LocalModified)
	if err != nil {
		return nil, fmt.Errorf("parse local_modified for %s: %w", r.StableID, err)
	}
	remoteMod, err := parseStoredTime(r.RemoteModified)
	if err != nil {
		return nil, fmt.Errorf("parse remote_modified for %s: %w", r.StableID, err)
	}
	return &MappedObject{
		StableID:       r.StableID,
		RemoteID:       r.RemoteID,
		ParentRemoteID: r.ParentRemoteID,
		Name:           r.Name,
		Kind:           ObjectKind(r.Kind),
		ChangeToken:    r.ChangeToken,
		LocalModified:  localMod,
		RemoteModified: remoteMod,
		Checksum:       r.Checksum,
	}, nil
}

func parseStoredTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func formatStoredTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

// Save inserts or updates a mapping.
func (s *Store) Save(obj *MappedObject) error {
	if obj == nil {
		return fmt.Errorf("cannot save nil mapping")
	}

	row := mappedRow{
		StableID:       obj.StableID,
		RemoteID:       obj.RemoteID,
		ParentRemoteID: obj.ParentRemoteID,
		Name:           obj.Name,
		Kind:           string(obj.Kind),
		ChangeToken:    obj.ChangeToken,
		LocalModified:  formatStoredTime(obj.LocalModified),
		RemoteModified: formatStoredTime(obj.RemoteModified),
		Checksum:       obj.Checksum,
	}

	query := `INSERT OR REPLACE INTO mapped_objects
	          (stable_id, remote_id, parent_remote_id, name, kind, change_token, local_modified, remote_modified, checksum)
	          VALUES (:stable_id, :remote_id, :parent_remote_id, :name, :kind, :change_token, :local_modified, :remote_modified, :checksum)`
	if _, err := s.db.NamedExec(query, row); err != nil {
		return fmt.Errorf("save mapping %s: %w", obj.StableID, err)
	}
	return nil
}

// Delete removes a mapping by stable id.
func (s *Store) Delete(stableID string) error {
	if _, err := s.db.Exec("DELETE FROM mapped_objects WHERE stable_id = ?", stableID); err != nil {
		return fmt.Errorf("delete mapping %s: %w", stableID, err)
	}
	return nil
}

func (s *Store) getOne(query string, arg string) (*MappedObject, error) {
	var row mappedRow
	err := s.db.Get(&row, query, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query mapping: %w", err)
	}
	return row.toObject()
}

// ByStableID looks a mapping up by its stable local identifier. Returns
// (nil, nil) when no mapping exists.
func (s *Store) ByStableID(stableID string) (*MappedObject, error) {
	return s.getOne("SELECT * FROM mapped_objects WHERE stable_id = ?", stableID)
}

// ByRemoteID looks a mapping up by remote object id. Returns (nil, nil)
// when no mapping exists.
func (s *Store) ByRemoteID(remoteID string) (*MappedObject, error) {
	return s.getOne("SELECT * FROM mapped_objects WHERE remote_id = ?", remoteID)
}

// ByLocalPath resolves a data-dir-relative path ("a/b/c.txt") to a mapping
// by descending the (parent, name) index from the root. Returns (nil, nil)
// when any segment is unmapped.
func (s *Store) ByLocalPath(relPath string) (*MappedObject, error) {
	relPath = strings.Trim(path.Clean(relPath), "/")
	current, err := s.ByStableID(rootStableID)
	if err != nil || current == nil {
		return current, err
	}
	if relPath == "" || relPath == "." {
		return current, nil
	}

	for _, segment := range strings.Split(relPath, "/") {
		var row mappedRow
		err := s.db.Get(&row,
			"SELECT * FROM mapped_objects WHERE parent_remote_id = ? AND name = ?",
			current.RemoteID, segment)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("resolve path %q: %w", relPath, err)
		}
		current, err = row.toObject()
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

// LocalPathOf returns the data-dir-relative path of a mapping by walking
// the parent chain up to the root.
func (s *Store) LocalPathOf(obj *MappedObject) (string, error) {
	if obj.IsRoot() {
		return "", nil
	}

	segments := []string{obj.Name}
	parentID := obj.ParentRemoteID
	for parentID != "" && parentID != s.rootID {
		parent, err := s.ByRemoteID(parentID)
		if err != nil {
			return "", err
		}
		if parent == nil {
			return "", fmt.Errorf("%w: broken parent chain at %s", ErrNotMapped, parentID)
		}
		if parent.IsRoot() {
			break
		}
		segments = append([]string{parent.Name}, segments...)
		parentID = parent.ParentRemoteID
	}
	return path.Join(segments...), nil
}

// RemotePathOf returns the repository path of a mapping. Local and remote
// trees share names, so this is the local path rooted at the remote folder.
func (s *Store) RemotePathOf(obj *MappedObject) (string, error) {
	rel, err := s.LocalPathOf(obj)
	if err != nil {
		return "", err
	}
	return "/" + rel, nil
}

// ChildrenOf lists the mapped children of a folder, ordered by name.
func (s *Store) ChildrenOf(obj *MappedObject) ([]*MappedObject, error) {
	var rows []mappedRow
	err := s.db.Select(&rows,
		"SELECT * FROM mapped_objects WHERE parent_remote_id = ? ORDER BY name",
		obj.RemoteID)
	if err != nil {
		return nil, fmt.Errorf("children of %s: %w", obj.RemoteID, err)
	}

	children := make([]*MappedObject, 0, len(rows))
	for i := range rows {
		child, err := rows[i].toObject()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// All returns every mapping keyed by remote id, root included.
func (s *Store) All() (map[string]*MappedObject, error) {
	var rows []mappedRow
	if err := s.db.Select(&rows, "SELECT * FROM mapped_objects"); err != nil {
		return nil, fmt.Errorf("load mappings: %w", err)
	}

	objects := make(map[string]*MappedObject, len(rows))
	for i := range rows {
		obj, err := rows[i].toObject()
		if err != nil {
			return nil, err
		}
		objects[obj.RemoteID] = obj
	}
	return objects, nil
}

// MappedTree is a parent-linked view of the stored mapping tree.
type MappedTree struct {
	Object   *MappedObject
	Children []*MappedTree
}

// Tree reconstructs the full stored tree (ordered, parent-linked) for the
// crawler. Orphan rows whose parent chain is broken are skipped.
func (s *Store) Tree() (*MappedTree, error) {
	objects, err := s.All()
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*MappedTree, len(objects))
	for _, obj := range objects {
		nodes[obj.RemoteID] = &MappedTree{Object: obj}
	}

	var root *MappedTree
	for _, node := range nodes {
		if node.Object.IsRoot() {
			root = node
			continue
		}
		if parent, ok := nodes[node.Object.ParentRemoteID]; ok {
			parent.Children = append(parent.Children, node)
		}
	}
	if root == nil {
		return nil, fmt.Errorf("%w: no root mapping", ErrNotMapped)
	}

	var sortChildren func(*MappedTree)
	sortChildren = func(n *MappedTree) {
		sort.Slice(n.Children, func(i, j int) bool {
			return n.Children[i].Object.Name < n.Children[j].Object.Name
		})
		for _, c := range n.Children {
			sortChildren(c)
		}
	}
	sortChildren(root)
	return root, nil
}
