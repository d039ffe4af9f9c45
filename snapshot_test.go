package locksmith

import (
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestSnapshotValidate(t *testing.T) {
	s := NewSnapshot()
	s.Add(Table{Name: "customers"})
	s.Add(Column{Table: "customers", Name: "id", DataType: "integer"})
	s.FileNodes["customers"] = 16385

	assert.NoError(t, s.Validate())

	s.Add(Index{Table: "orders", Name: "orders_pkey"})
	assert.IsError(t, s.Validate(), ErrInconsistentSnapshot)
}

func TestSnapshotValidateRequiresFileNode(t *testing.T) {
	s := NewSnapshot()
	s.Add(Table{Name: "customers"})

	assert.IsError(t, s.Validate(), ErrInconsistentSnapshot)
}

func TestSnapshotEqual(t *testing.T) {
	build := func(node FileNode) *Snapshot {
		s := NewSnapshot()
		s.Add(Table{Name: "customers"})
		s.Add(Column{Table: "customers", Name: "id", DataType: "integer"})
		s.FileNodes["customers"] = node

		return s
	}

	assert.True(t, build(1).Equal(build(1)))
	assert.False(t, build(1).Equal(build(2)))

	other := build(1)
	other.Add(Column{Table: "customers", Name: "id", DataType: "bigint"})
	assert.False(t, build(1).Equal(other))
}
