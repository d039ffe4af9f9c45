// Package testdata bundles the baseline schema and the annotated query cases
// used by the integration tests.
package testdata

import (
	"embed"
	"io/fs"
	"path"
	"slices"
)

// Schema creates customers and orders, with an index on orders.price.
//
//go:embed schema.sql
var Schema []byte

//go:embed queries/*.sql
var Queries embed.FS

// QueryFiles returns the paths of the bundled query cases, sorted.
func QueryFiles() ([]string, error) {
	entries, err := fs.ReadDir(Queries, "queries")
	if err != nil {
		return nil, err
	}

	var files []string

	for _, entry := range entries {
		if !entry.IsDir() && path.Ext(entry.Name()) == ".sql" {
			files = append(files, path.Join("queries", entry.Name()))
		}
	}

	slices.Sort(files)

	return files, nil
}

// ReadQuery reads one bundled query case.
func ReadQuery(name string) ([]byte, error) {
	return fs.ReadFile(Queries, name)
}
