package locksmith

import (
	"fmt"
	"maps"
	"slices"
)

// FileNode identifies the physical storage of a table. It changes when, and
// only when, the table's storage is reallocated (a rewrite).
type FileNode uint32

// Snapshot is the catalog state of the inspected schema at one point in time.
//
// FileNodes is kept beside Objects rather than on Table so that object
// equality stays purely logical.
type Snapshot struct {
	Objects   map[ObjectKey]Object
	FileNodes map[string]FileNode
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Objects:   make(map[ObjectKey]Object),
		FileNodes: make(map[string]FileNode),
	}
}

// Add records an object, replacing any object with the same key.
func (s *Snapshot) Add(o Object) {
	s.Objects[o.Key()] = o
}

// Get returns the object stored under key.
func (s *Snapshot) Get(key ObjectKey) (Object, bool) {
	o, ok := s.Objects[key]
	return o, ok
}

// HasTable reports whether the snapshot contains the named table.
func (s *Snapshot) HasTable(name string) bool {
	_, ok := s.Objects[ObjectKey{Kind: KindTable, Table: name}]
	return ok
}

// Sorted returns all objects ordered by key.
func (s *Snapshot) Sorted() []Object {
	out := slices.Collect(maps.Values(s.Objects))
	SortObjects(out)

	return out
}

// Validate checks that every column and index belongs to a table in the
// snapshot, and that every table has a file node entry.
func (s *Snapshot) Validate() error {
	for key := range s.Objects {
		if key.Kind == KindTable {
			if _, ok := s.FileNodes[key.Table]; !ok {
				return fmt.Errorf("%w: table %q has no file node", ErrInconsistentSnapshot, key.Table)
			}

			continue
		}

		if !s.HasTable(key.Table) {
			return fmt.Errorf("%w: %s references unknown table", ErrInconsistentSnapshot, key)
		}
	}

	return nil
}

// Equal reports whether both snapshots hold the same objects and file nodes.
func (s *Snapshot) Equal(other *Snapshot) bool {
	return maps.Equal(s.Objects, other.Objects) && maps.Equal(s.FileNodes, other.FileNodes)
}
