// Package diff compares two catalog snapshots.
package diff

import (
	"slices"

	"github.com/orf/locksmith"
)

// Compare returns the objects added and removed between before and after,
// each sorted by key.
//
// An object whose key exists on both sides with different fields is a
// modification and is reported as the before version removed and the after
// version added. Objects equal on both sides appear in neither list.
func Compare(before, after *locksmith.Snapshot) (added, removed []locksmith.Object) {
	for key, a := range after.Objects {
		b, ok := before.Objects[key]
		if !ok {
			added = append(added, a)
			continue
		}

		if b != a {
			removed = append(removed, b)
			added = append(added, a)
		}
	}

	for key, b := range before.Objects {
		if _, ok := after.Objects[key]; !ok {
			removed = append(removed, b)
		}
	}

	locksmith.SortObjects(added)
	locksmith.SortObjects(removed)

	return added, removed
}

// Rewrites returns the tables whose file node differs between before and
// after, sorted by name. Tables missing from either side are never reported.
func Rewrites(before, after *locksmith.Snapshot) []string {
	var rewrites []string

	for table, node := range after.FileNodes {
		previous, ok := before.FileNodes[table]
		if ok && previous != node {
			rewrites = append(rewrites, table)
		}
	}

	slices.Sort(rewrites)

	return rewrites
}
