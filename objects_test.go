package locksmith

import (
	"encoding/json"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/goccy/go-yaml"
)

func TestObjectKeys(t *testing.T) {
	column := Column{Table: "customers", Name: "id", DataType: "integer"}
	retyped := Column{Table: "customers", Name: "id", DataType: "bigint"}

	assert.Equal(t, column.Key(), retyped.Key())
	assert.NotEqual(t, Object(column), Object(retyped))

	// A column and an index may share a name.
	assert.NotEqual(t, column.Key(), Index{Table: "customers", Name: "id"}.Key())

	assert.Equal(t, "table customers", Table{Name: "customers"}.Key().String())
	assert.Equal(t, "column customers.id", column.Key().String())
}

func TestSortObjects(t *testing.T) {
	objects := []Object{
		Index{Table: "orders", Name: "orders_pkey"},
		Column{Table: "customers", Name: "name"},
		Table{Name: "orders"},
		Column{Table: "customers", Name: "id"},
		Table{Name: "customers"},
	}

	SortObjects(objects)

	assert.Equal(t, []Object{
		Table{Name: "customers"},
		Column{Table: "customers", Name: "id"},
		Column{Table: "customers", Name: "name"},
		Table{Name: "orders"},
		Index{Table: "orders", Name: "orders_pkey"},
	}, objects)
}

func TestObjectRecords(t *testing.T) {
	objects := Objects{
		Table{Name: "orders"},
		Column{Table: "orders", Name: "price", DataType: "numeric"},
		Index{Table: "orders", Name: "orders_price_idx", Definition: "CREATE INDEX orders_price_idx ON public.orders USING btree (price)"},
	}

	data, err := json.Marshal(objects)
	assert.NoError(t, err)
	assert.Equal(t, `[{"kind":"table","table":"orders"},`+
		`{"kind":"column","table":"orders","name":"price","data_type":"numeric"},`+
		`{"kind":"index","table":"orders","name":"orders_price_idx","definition":"CREATE INDEX orders_price_idx ON public.orders USING btree (price)"}]`,
		string(data))

	var decoded Objects
	assert.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, objects, decoded)

	yamlData, err := yaml.Marshal(objects)
	assert.NoError(t, err)

	var fromYAML Objects
	assert.NoError(t, yaml.Unmarshal(yamlData, &fromYAML))
	assert.Equal(t, objects, fromYAML)
}

func TestObjectRecordValidation(t *testing.T) {
	_, err := ObjectRecord{Kind: "sequence", Table: "orders_id_seq"}.Object()
	assert.IsError(t, err, ErrUnknownObjectKind)

	_, err = ObjectRecord{Kind: "column", Table: "orders"}.Object()
	assert.IsError(t, err, ErrInvalidObject)

	_, err = ObjectRecord{Kind: "table"}.Object()
	assert.IsError(t, err, ErrInvalidObject)
}
