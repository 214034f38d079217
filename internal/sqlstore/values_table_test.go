package sqlstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

// fixture creates a class, a schema and n entities each with one attribute
// bound to the schema.
type fixture struct {
	b        *Backend
	schema   *types.Schema
	class    *types.EntityClass
	entities []*types.Entity
	attrs    []*types.Attribute
}

func newFixture(t *testing.T, n int, schema *types.Schema) *fixture {
	t.Helper()
	b := newTestBackend(t)
	f := &fixture{b: b, schema: schema}

	_, err := table(t, b, types.SchemasTable).Set("", schema)
	require.NoError(t, err)
	f.class = &types.EntityClass{Title: "Thing"}
	_, err = table(t, b, types.ClassesTable).Set("", f.class)
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		e := &types.Entity{ClassID: f.class.ClassID}
		_, err := table(t, b, types.EntitiesTable).Set("", e)
		require.NoError(t, err)
		a := &types.Attribute{EntityID: e.EntityID, Code: schema.Name}
		a.BindSchema(schema)
		_, err = table(t, b, types.AttributesTable).Set("", a)
		require.NoError(t, err)
		f.entities = append(f.entities, e)
		f.attrs = append(f.attrs, a)
	}
	return f
}

func (f *fixture) value(i int, v any, ts time.Time) *types.Value {
	return &types.Value{
		AttributeID: f.attrs[i].AttributeID,
		EntityID:    f.entities[i].EntityID,
		Code:        f.schema.Name,
		UniqueScope: f.schema.UniqueScope,
		Value:       v,
		Timestamp:   ts,
	}
}

func TestValuesTableUniqueScopes(t *testing.T) {
	tests := []struct {
		name    string
		scope   types.UniqueScope
		second  int // entity index of the second write
		wantErr error
	}{
		{name: "no scope allows duplicates", scope: types.UniqueNone, second: 1},
		{name: "global scope rejects across entities", scope: types.UniqueGlobal, second: 1, wantErr: types.ErrNotUnique},
		{name: "entity scope allows other entities", scope: types.UniqueEntity, second: 1},
		{name: "entity scope rejects within one entity", scope: types.UniqueEntity, second: 0, wantErr: types.ErrNotUnique},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 2, &types.Schema{Name: "ssn", FieldType: types.FieldString, UniqueScope: tt.scope})
			vals := table(t, f.b, types.ValuesTable)

			_, err := vals.Set("", f.value(0, "123-45-6789", time.Now()))
			require.NoError(t, err)
			_, err = vals.Set("", f.value(tt.second, "123-45-6789", time.Now()))
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValuesTableNullsNeverClash(t *testing.T) {
	f := newFixture(t, 2, &types.Schema{Name: "ssn", FieldType: types.FieldString, UniqueScope: types.UniqueGlobal})
	vals := table(t, f.b, types.ValuesTable)
	_, err := vals.Set("", f.value(0, nil, time.Now()))
	require.NoError(t, err)
	_, err = vals.Set("", f.value(1, nil, time.Now()))
	assert.NoError(t, err)
}

func TestValuesTableOrderingAndWindow(t *testing.T) {
	f := newFixture(t, 1, &types.Schema{Name: "temp", FieldType: types.FieldFloat, IsTimeSeries: true})
	vals := table(t, f.b, types.ValuesTable).(types.BatchTable)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []any{
		f.value(0, 1.0, base),
		f.value(0, 3.0, base.Add(2*time.Hour)),
		f.value(0, 2.0, base.Add(time.Hour)),
	}
	ids, err := vals.SetMany(rows)
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	all, err := vals.Fetch(types.Filter{"attribute_id": f.attrs[0].AttributeID})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 3.0, all[0].(*types.Value).Value, "newest first")
	assert.Equal(t, 1.0, all[2].(*types.Value).Value)

	window, err := vals.Fetch(types.Filter{
		"attribute_id": f.attrs[0].AttributeID,
		"from":         base.Add(30 * time.Minute),
		"to":           base.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, 2.0, window[0].(*types.Value).Value)

	latest, err := vals.Fetch(types.Filter{"attribute_id": f.attrs[0].AttributeID, "limit": 1})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.True(t, latest[0].(*types.Value).Timestamp.Equal(base.Add(2*time.Hour)))

	byValue, err := vals.Fetch(types.Filter{"code": "temp", "value": 2})
	require.NoError(t, err)
	assert.Len(t, byValue, 1, "integer filter matches stored JSON number")
}

func TestValuesTableSetManyIsAtomic(t *testing.T) {
	f := newFixture(t, 1, &types.Schema{Name: "code", FieldType: types.FieldString, UniqueScope: types.UniqueGlobal, IsTimeSeries: true})
	vals := table(t, f.b, types.ValuesTable).(types.BatchTable)

	_, err := vals.SetMany([]any{
		f.value(0, "a", time.Now()),
		f.value(0, "a", time.Now()),
	})
	require.ErrorIs(t, err, types.ErrNotUnique)

	all, err := vals.Fetch(types.Filter{"attribute_id": f.attrs[0].AttributeID})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestValuesCascadeWithAttribute(t *testing.T) {
	f := newFixture(t, 1, &types.Schema{Name: "note", FieldType: types.FieldString})
	vals := table(t, f.b, types.ValuesTable)
	_, err := vals.Set("", f.value(0, "hello", time.Now()))
	require.NoError(t, err)

	require.NoError(t, table(t, f.b, types.EntitiesTable).Delete(f.entities[0].EntityID))

	all, err := vals.Fetch(types.Filter{"code": "note"})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAttributesTable(t *testing.T) {
	f := newFixture(t, 2, &types.Schema{Name: "manager", FieldType: types.FieldUUID})
	attrs := table(t, f.b, types.AttributesTable)

	t.Run("relation without destination", func(t *testing.T) {
		a := &types.Attribute{EntityID: f.entities[0].EntityID, Code: "boss", SchemaID: f.schema.SchemaID, IsRelation: true}
		_, err := attrs.Set("", a)
		assert.ErrorIs(t, err, types.ErrMissingDestination)
	})

	t.Run("duplicate live code conflicts", func(t *testing.T) {
		a := &types.Attribute{EntityID: f.entities[0].EntityID, Code: "manager", SchemaID: f.schema.SchemaID}
		_, err := attrs.Set("", a)
		assert.ErrorIs(t, err, types.ErrConflict)
	})

	t.Run("tombstone frees the code", func(t *testing.T) {
		old := f.attrs[0]
		old.Deleted = true
		_, err := attrs.Set(old.AttributeID, old)
		require.NoError(t, err)

		a := &types.Attribute{EntityID: f.entities[0].EntityID, Code: "manager", SchemaID: f.schema.SchemaID,
			IsRelation: true, DestinationID: f.entities[1].EntityID}
		_, err = attrs.Set("", a)
		require.NoError(t, err)

		incoming, err := attrs.Fetch(types.Filter{"destination_id": f.entities[1].EntityID, "deleted": false})
		require.NoError(t, err)
		require.Len(t, incoming, 1)
		assert.Equal(t, a.AttributeID, incoming[0].(*types.Attribute).AttributeID)
	})
}
