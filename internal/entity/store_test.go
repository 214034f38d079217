package entity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/eavl/internal/schema"
	"github.com/mesh-intelligence/eavl/internal/sqlstore"
	"github.com/mesh-intelligence/eavl/pkg/types"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// staticSource serves effective schema sets from a map.
type staticSource map[string][]*types.Schema

func (s staticSource) EffectiveSchemas(classID string) ([]*types.Schema, error) {
	return s[classID], nil
}

type fixture struct {
	store    *Store
	registry *schema.Registry
	backend  *sqlstore.Backend
	source   staticSource
	classID  string
}

func newFixture(t *testing.T, schemas ...*types.Schema) *fixture {
	t.Helper()
	b := sqlstore.NewBackend()
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	t.Cleanup(func() { _ = b.Detach() })

	reg, err := schema.New(b)
	require.NoError(t, err)

	f := &fixture{registry: reg, backend: b, source: staticSource{}}
	f.classID = f.addClass(t, "person", schemas...)

	f.store, err = New(b, reg, f.source, WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	return f
}

func (f *fixture) addClass(t *testing.T, title string, schemas ...*types.Schema) string {
	t.Helper()
	classes, err := f.backend.GetTable(types.ClassesTable)
	require.NoError(t, err)
	classID, err := classes.Set("", &types.EntityClass{Title: title})
	require.NoError(t, err)

	saved := make([]*types.Schema, 0, len(schemas))
	for _, s := range schemas {
		if s.SchemaID == "" {
			s, err = f.registry.Save(s)
			require.NoError(t, err)
		}
		saved = append(saved, s)
	}
	f.source[classID] = saved
	return classID
}

func (f *fixture) create(t *testing.T, title string) *types.Entity {
	t.Helper()
	e, err := f.store.CreateEntity(context.Background(), f.classID, title)
	require.NoError(t, err)
	return e
}

func (f *fixture) valueCount(t *testing.T, entityID string) int {
	t.Helper()
	values, err := f.backend.GetTable(types.ValuesTable)
	require.NoError(t, err)
	rows, err := values.Fetch(types.Filter{"entity_id": entityID})
	require.NoError(t, err)
	return len(rows)
}

func TestCreateEntity(t *testing.T) {
	f := newFixture(t,
		&types.Schema{Name: "nickname", FieldType: types.FieldString, Default: "anon"},
		&types.Schema{Name: "age", FieldType: types.FieldInteger},
		&types.Schema{Name: "manager", FieldType: types.FieldUUID, IsRelation: true},
	)
	ctx := context.Background()

	e := f.create(t, "alice")
	assert.NotEmpty(t, e.EntityID)

	attrs, err := f.store.Attributes(e.EntityID)
	require.NoError(t, err)
	codes := make([]string, len(attrs))
	for i, a := range attrs {
		codes[i] = a.Code
	}
	assert.Equal(t, []string{"age", "nickname"}, codes, "relation attributes wait for a link")

	doc, err := f.store.GetData(ctx, e.EntityID, types.DefaultDataOptions())
	require.NoError(t, err)
	assert.Equal(t, "person", doc.Type)
	assert.Equal(t, e.EntityID, doc.UUID)
	assert.Equal(t, "anon", doc.Attributes["nickname"])
	assert.Nil(t, doc.Attributes["age"])

	_, err = f.store.CreateEntity(ctx, "no-such-class", "bob")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRenameAndList(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "a")
	b := f.create(t, "b")
	f.create(t, "c")

	renamed, err := f.store.Rename(b.EntityID, "bee")
	require.NoError(t, err)
	assert.Equal(t, "bee", renamed.Title)

	page, err := f.store.ListEntities(f.classID, "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, a.EntityID, page[0].EntityID)

	rest, err := f.store.ListEntities(f.classID, page[1].EntityID, 0)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	_, err = f.store.GetByUUID("missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestAddAndRemoveAttribute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, "alice")

	color, err := f.registry.Save(&types.Schema{Name: "color", FieldType: types.FieldString, Default: "red"})
	require.NoError(t, err)
	rel, err := f.registry.Save(&types.Schema{Name: "friend", FieldType: types.FieldUUID, IsRelation: true})
	require.NoError(t, err)

	a, err := f.store.AddAttribute(ctx, e.EntityID, color.SchemaID, "")
	require.NoError(t, err)
	assert.Equal(t, "color", a.Code)

	_, err = f.store.AddAttribute(ctx, e.EntityID, color.SchemaID, "")
	assert.ErrorIs(t, err, types.ErrConflict, "one live attribute per code")

	_, err = f.store.AddAttribute(ctx, e.EntityID, rel.SchemaID, "")
	assert.ErrorIs(t, err, types.ErrMissingDestination)

	require.NoError(t, f.store.RemoveAttribute(ctx, e.EntityID, "color"))
	_, err = f.store.Attribute(e.EntityID, "color")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, 1, f.valueCount(t, e.EntityID), "tombstoned values are kept")

	_, err = f.store.AddAttribute(ctx, e.EntityID, color.SchemaID, "")
	require.NoError(t, err, "the code is free again once tombstoned")

	n, err := f.store.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.valueCount(t, e.EntityID), "only the live attribute's default remains")
}

func TestRebindAttribute(t *testing.T) {
	f := newFixture(t, &types.Schema{Name: "code", FieldType: types.FieldString})
	ctx := context.Background()

	good := f.create(t, "good")
	bad := f.create(t, "bad")
	_, err := f.store.SetData(ctx, good.EntityID, map[string]any{"code": "42"}, true)
	require.NoError(t, err)
	_, err = f.store.SetData(ctx, bad.EntityID, map[string]any{"code": "forty-two"}, true)
	require.NoError(t, err)

	v11, err := f.registry.Save(&types.Schema{Name: "code", FieldType: types.FieldInteger})
	require.NoError(t, err)

	convert := func(value any, from, to types.FieldType) (any, error) {
		s, _ := value.(string)
		if s == "42" {
			return 42, nil
		}
		return nil, types.ErrInvalidData
	}

	for _, e := range []*types.Entity{good, bad} {
		a, err := f.store.Attribute(e.EntityID, "code")
		require.NoError(t, err)
		failures, err := f.store.RebindAttribute(ctx, a.AttributeID, v11, convert)
		require.NoError(t, err)
		if e == bad {
			require.Len(t, failures, 1)
			assert.ErrorIs(t, failures[0], types.ErrMigration)
		} else {
			assert.Empty(t, failures)
		}
	}

	a, err := f.store.Attribute(good.EntityID, "code")
	require.NoError(t, err)
	assert.Equal(t, v11.SchemaID, a.SchemaID)

	doc, err := f.store.GetData(ctx, good.EntityID, types.DefaultDataOptions())
	require.NoError(t, err)
	assert.EqualValues(t, 42, doc.Attributes["code"])

	doc, err = f.store.GetData(ctx, bad.EntityID, types.DefaultDataOptions())
	require.NoError(t, err)
	assert.Nil(t, doc.Attributes["code"])
}

func TestRebindAttributeRelationChange(t *testing.T) {
	f := newFixture(t, &types.Schema{Name: "owner", FieldType: types.FieldUUID})
	ctx := context.Background()
	keep := func(value any, from, to types.FieldType) (any, error) { return value, nil }

	target := f.create(t, "target")
	holder := f.create(t, "holder")
	stray := f.create(t, "stray")
	_, err := f.store.SetData(ctx, holder.EntityID, map[string]any{"owner": target.EntityID}, true)
	require.NoError(t, err)
	_, err = f.store.SetData(ctx, stray.EntityID, map[string]any{"owner": "0190c5f4-0000-7000-8000-000000000000"}, true)
	require.NoError(t, err)

	relation, err := f.registry.Save(&types.Schema{Name: "owner", FieldType: types.FieldUUID, IsRelation: true})
	require.NoError(t, err)

	a, err := f.store.Attribute(holder.EntityID, "owner")
	require.NoError(t, err)
	failures, err := f.store.RebindAttribute(ctx, a.AttributeID, relation, keep)
	require.NoError(t, err)
	assert.Empty(t, failures)

	a, err = f.store.Attribute(holder.EntityID, "owner")
	require.NoError(t, err)
	assert.True(t, a.IsRelation)
	assert.Equal(t, target.EntityID, a.DestinationID, "the stored value becomes the destination")

	out, err := f.store.GetOutgoingLinks(holder.EntityID)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, target.EntityID, out[0].DestinationID)

	doc, err := f.store.GetData(ctx, holder.EntityID, types.DefaultDataOptions())
	require.NoError(t, err)
	assert.Equal(t, target.EntityID, doc.Attributes["owner"])
	errs, err := f.store.SetData(ctx, holder.EntityID, doc.Attributes, true)
	require.NoError(t, err)
	assert.Empty(t, errs, "the rebound document writes back unchanged")

	a, err = f.store.Attribute(stray.EntityID, "owner")
	require.NoError(t, err)
	failures, err = f.store.RebindAttribute(ctx, a.AttributeID, relation, keep)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], types.ErrMigration)
	assert.ErrorIs(t, failures[0], types.ErrMissingDestination)
	_, err = f.store.Attribute(stray.EntityID, "owner")
	assert.ErrorIs(t, err, types.ErrNotFound, "a relation without a destination is removed")

	plain, err := f.registry.Save(&types.Schema{Name: "owner", FieldType: types.FieldUUID})
	require.NoError(t, err)
	a, err = f.store.Attribute(holder.EntityID, "owner")
	require.NoError(t, err)
	failures, err = f.store.RebindAttribute(ctx, a.AttributeID, plain, keep)
	require.NoError(t, err)
	assert.Empty(t, failures)

	a, err = f.store.Attribute(holder.EntityID, "owner")
	require.NoError(t, err)
	assert.False(t, a.IsRelation)
	assert.Empty(t, a.DestinationID)
	in, err := f.store.GetIncomingLinks(target.EntityID)
	require.NoError(t, err)
	assert.Empty(t, in)
}
