package locksmith

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
)

// ObjectKind identifies the variant of a catalog Object.
type ObjectKind int

const (
	KindTable ObjectKind = iota + 1
	KindColumn
	KindIndex
)

// String returns the lower-case name used in rendered output.
func (k ObjectKind) String() string {
	switch k {
	case KindTable:
		return "table"
	case KindColumn:
		return "column"
	case KindIndex:
		return "index"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseObjectKind parses the name produced by ObjectKind.String.
func ParseObjectKind(s string) (ObjectKind, error) {
	switch s {
	case "table":
		return KindTable, nil
	case "column":
		return KindColumn, nil
	case "index":
		return KindIndex, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownObjectKind, s)
	}
}

// ObjectKey is the identity of a catalog object. Two objects with the same
// key but different remaining fields are two versions of one object.
type ObjectKey struct {
	Kind  ObjectKind
	Table string
	// Name is empty for tables.
	Name string
}

func (k ObjectKey) String() string {
	if k.Kind == KindTable {
		return fmt.Sprintf("%s %s", k.Kind, k.Table)
	}

	return fmt.Sprintf("%s %s.%s", k.Kind, k.Table, k.Name)
}

// Compare orders keys by table, then kind, then name.
func (k ObjectKey) Compare(other ObjectKey) int {
	return cmp.Or(
		cmp.Compare(k.Table, other.Table),
		cmp.Compare(k.Kind, other.Kind),
		cmp.Compare(k.Name, other.Name),
	)
}

// Object is a catalog object: exactly one of Table, Column or Index.
//
// Objects are comparable with ==, which compares every field; the Differ
// relies on this for detecting modifications.
type Object interface {
	Kind() ObjectKind
	Key() ObjectKey
	catalogObject()
}

// Table is a user table in the inspected schema.
type Table struct {
	Name string
}

func (Table) Kind() ObjectKind { return KindTable }
func (t Table) Key() ObjectKey { return ObjectKey{Kind: KindTable, Table: t.Name} }
func (t Table) String() string { return t.Name }
func (Table) catalogObject() {}

// Column is a column of a user table. DataType is the normalized type name
// including modifiers, e.g. "integer" or "character varying(255)".
type Column struct {
	Table    string
	Name     string
	DataType string
}

func (Column) Kind() ObjectKind { return KindColumn }
func (c Column) Key() ObjectKey { return ObjectKey{Kind: KindColumn, Table: c.Table, Name: c.Name} }
func (c Column) String() string { return fmt.Sprintf("%s.%s %s", c.Table, c.Name, c.DataType) }
func (Column) catalogObject() {}

// Index is an index on a user table. Definition is the engine's canonical
// CREATE INDEX statement for it.
type Index struct {
	Table      string
	Name       string
	Definition string
}

func (Index) Kind() ObjectKind { return KindIndex }
func (i Index) Key() ObjectKey { return ObjectKey{Kind: KindIndex, Table: i.Table, Name: i.Name} }
func (i Index) String() string { return fmt.Sprintf("%s.%s", i.Table, i.Name) }
func (Index) catalogObject() {}

// SortObjects sorts objects by key, in place.
func SortObjects(objects []Object) {
	slices.SortFunc(objects, func(a, b Object) int {
		return a.Key().Compare(b.Key())
	})
}

// ObjectRecord is the flat serialized form of an Object.
type ObjectRecord struct {
	Kind       string `json:"kind" yaml:"kind"`
	Table      string `json:"table" yaml:"table"`
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	DataType   string `json:"data_type,omitempty" yaml:"data_type,omitempty"`
	Definition string `json:"definition,omitempty" yaml:"definition,omitempty"`
}

// RecordOf converts an Object into its serialized form.
func RecordOf(o Object) ObjectRecord {
	switch v := o.(type) {
	case Table:
		return ObjectRecord{Kind: v.Kind().String(), Table: v.Name}
	case Column:
		return ObjectRecord{Kind: v.Kind().String(), Table: v.Table, Name: v.Name, DataType: v.DataType}
	case Index:
		return ObjectRecord{Kind: v.Kind().String(), Table: v.Table, Name: v.Name, Definition: v.Definition}
	default:
		panic(fmt.Sprintf("locksmith: unexpected object type %T", o))
	}
}

// Object converts the record back into an Object.
func (r ObjectRecord) Object() (Object, error) {
	kind, err := ParseObjectKind(r.Kind)
	if err != nil {
		return nil, err
	}

	if r.Table == "" {
		return nil, fmt.Errorf("%w: %s without table", ErrInvalidObject, kind)
	}

	switch kind {
	case KindTable:
		return Table{Name: r.Table}, nil
	case KindColumn:
		if r.Name == "" {
			return nil, fmt.Errorf("%w: column without name", ErrInvalidObject)
		}

		return Column{Table: r.Table, Name: r.Name, DataType: r.DataType}, nil
	case KindIndex:
		if r.Name == "" {
			return nil, fmt.Errorf("%w: index without name", ErrInvalidObject)
		}

		return Index{Table: r.Table, Name: r.Name, Definition: r.Definition}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownObjectKind, kind)
}

// Objects is a list of objects that serializes as a list of ObjectRecord.
type Objects []Object

func (o Objects) Records() []ObjectRecord {
	records := make([]ObjectRecord, 0, len(o))
	for _, obj := range o {
		records = append(records, RecordOf(obj))
	}

	return records
}

func (o Objects) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Records())
}

func (o *Objects) UnmarshalJSON(data []byte) error {
	var records []ObjectRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}

	out := make(Objects, 0, len(records))
	for _, r := range records {
		obj, err := r.Object()
		if err != nil {
			return err
		}

		out = append(out, obj)
	}

	*o = out

	return nil
}

func (o Objects) MarshalYAML() (any, error) {
	return o.Records(), nil
}

func (o *Objects) UnmarshalYAML(unmarshal func(any) error) error {
	var records []ObjectRecord
	if err := unmarshal(&records); err != nil {
		return err
	}

	out := make(Objects, 0, len(records))
	for _, r := range records {
		obj, err := r.Object()
		if err != nil {
			return err
		}

		out = append(out, obj)
	}

	*o = out

	return nil
}
