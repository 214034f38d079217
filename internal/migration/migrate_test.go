package migration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/eavl/internal/entity"
	"github.com/mesh-intelligence/eavl/internal/schema"
	"github.com/mesh-intelligence/eavl/internal/sqlstore"
	"github.com/mesh-intelligence/eavl/internal/worker"
	"github.com/mesh-intelligence/eavl/pkg/types"
)

type staticSource map[string][]*types.Schema

func (s staticSource) EffectiveSchemas(classID string) ([]*types.Schema, error) {
	return s[classID], nil
}

type env struct {
	backend  *sqlstore.Backend
	registry *schema.Registry
	store    *entity.Store
	source   staticSource
	classID  string
}

func newEnv(t *testing.T, schemas ...*types.Schema) *env {
	t.Helper()
	b := sqlstore.NewBackend()
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	t.Cleanup(func() { _ = b.Detach() })
	reg, err := schema.New(b)
	require.NoError(t, err)

	classes, err := b.GetTable(types.ClassesTable)
	require.NoError(t, err)
	classID, err := classes.Set("", &types.EntityClass{Title: "item"})
	require.NoError(t, err)

	saved := make([]*types.Schema, len(schemas))
	for i, s := range schemas {
		saved[i], err = reg.Save(s)
		require.NoError(t, err)
	}
	src := staticSource{classID: saved}
	store, err := entity.New(b, reg, src)
	require.NoError(t, err)
	return &env{backend: b, registry: reg, store: store, source: src, classID: classID}
}

func (e *env) entities(t *testing.T, n int) []*types.Entity {
	t.Helper()
	out := make([]*types.Entity, n)
	for i := range out {
		var err error
		out[i], err = e.store.CreateEntity(context.Background(), e.classID, "item")
		require.NoError(t, err)
	}
	return out
}

func TestMigrateConvertsUpdatedSchema(t *testing.T) {
	en := newEnv(t, &types.Schema{Name: "code", FieldType: types.FieldString})
	ctx := context.Background()
	ents := en.entities(t, 2)
	_, err := en.store.SetData(ctx, ents[0].EntityID, map[string]any{"code": "42"}, true)
	require.NoError(t, err)
	_, err = en.store.SetData(ctx, ents[1].EntityID, map[string]any{"code": "n/a"}, true)
	require.NoError(t, err)

	v10 := en.source[en.classID][0]
	v11 := v10.Copy()
	v11.FieldType = types.FieldInteger
	v11, err = en.registry.Clone(v11)
	require.NoError(t, err)
	assert.Equal(t, "1.1", v11.Version)

	target := []*types.Schema{v11}
	diff := Compare([]*types.Schema{v10}, target)
	require.Equal(t, []string{"code"}, diff.Updated)

	engine, err := New(en.backend, en.store)
	require.NoError(t, err)
	report, err := engine.Migrate(ctx, en.classID, diff, target)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Entities)
	require.Len(t, report.Errors, 1, "the unconvertible value is reported")
	assert.ErrorIs(t, report.Errors[0], types.ErrMigration)

	a, err := en.store.Attribute(ents[0].EntityID, "code")
	require.NoError(t, err)
	assert.Equal(t, v11.SchemaID, a.SchemaID)
	doc, err := en.store.GetData(ctx, ents[0].EntityID, types.DefaultDataOptions())
	require.NoError(t, err)
	assert.EqualValues(t, 42, doc.Attributes["code"])

	doc, err = en.store.GetData(ctx, ents[1].EntityID, types.DefaultDataOptions())
	require.NoError(t, err)
	assert.Nil(t, doc.Attributes["code"])

	old, err := en.registry.Resolve("code", "1.0")
	require.NoError(t, err)
	assert.Equal(t, types.FieldString, old.FieldType, "the old version is untouched")

	_, err = engine.Pending(en.classID)
	assert.ErrorIs(t, err, types.ErrNotFound, "a finished run leaves no checkpoint")

	again, err := engine.Migrate(ctx, en.classID, diff, target)
	require.NoError(t, err)
	assert.Empty(t, again.Errors, "a second run changes nothing")
}

func TestMigrateAddsAndRemoves(t *testing.T) {
	en := newEnv(t,
		&types.Schema{Name: "old", FieldType: types.FieldString},
		&types.Schema{Name: "kept", FieldType: types.FieldString},
	)
	ctx := context.Background()
	ents := en.entities(t, 5)

	color, err := en.registry.Save(&types.Schema{Name: "color", FieldType: types.FieldString, Default: "blue"})
	require.NoError(t, err)
	link, err := en.registry.Save(&types.Schema{Name: "owner", FieldType: types.FieldUUID, IsRelation: true})
	require.NoError(t, err)
	prev := en.source[en.classID]
	target := []*types.Schema{prev[1], color, link}

	pool, err := worker.New("migration-test", 3, nil)
	require.NoError(t, err)
	t.Cleanup(pool.Release)

	engine, err := New(en.backend, en.store, WithPool(pool), WithBatchSize(2))
	require.NoError(t, err)
	report, err := engine.Migrate(ctx, en.classID, Compare(prev, target), target)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Entities)
	assert.Equal(t, Diff{Added: []string{"color", "owner"}, Removed: []string{"old"}}, report.Diff)

	for _, e := range ents {
		attrs, err := en.store.Attributes(e.EntityID)
		require.NoError(t, err)
		codes := make([]string, len(attrs))
		for i, a := range attrs {
			codes[i] = a.Code
		}
		assert.Equal(t, []string{"color", "kept"}, codes, "relations wait for a link")

		doc, err := en.store.GetData(ctx, e.EntityID, types.DefaultDataOptions())
		require.NoError(t, err)
		assert.Equal(t, "blue", doc.Attributes["color"])
	}

	_, err = engine.Migrate(ctx, en.classID, Diff{Updated: []string{"missing"}}, target)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

// cancelAfterFirstBatch cancels the run once the first batch is listed.
type cancelAfterFirstBatch struct {
	Entities
	cancel context.CancelFunc
	calls  int
}

func (c *cancelAfterFirstBatch) ListEntities(classID, after string, limit int) ([]*types.Entity, error) {
	c.calls++
	if c.calls == 1 {
		defer c.cancel()
	}
	return c.Entities.ListEntities(classID, after, limit)
}

func TestResumeAfterInterruption(t *testing.T) {
	en := newEnv(t, &types.Schema{Name: "kept", FieldType: types.FieldString})
	ents := en.entities(t, 3)
	color, err := en.registry.Save(&types.Schema{Name: "color", FieldType: types.FieldString, Default: "red"})
	require.NoError(t, err)
	target := append([]*types.Schema{color}, en.source[en.classID]...)
	diff := Compare(en.source[en.classID], target)

	ctx, cancel := context.WithCancel(context.Background())
	interrupting := &cancelAfterFirstBatch{Entities: en.store, cancel: cancel}
	engine, err := New(en.backend, interrupting, WithBatchSize(1))
	require.NoError(t, err)

	report, err := engine.Migrate(ctx, en.classID, diff, target)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Entities)

	cp, err := engine.Pending(en.classID)
	require.NoError(t, err)
	assert.Equal(t, ents[0].EntityID, cp.LastEntityID)
	assert.Equal(t, []string{"color"}, cp.Added)

	_, err = en.store.Attribute(ents[1].EntityID, "color")
	assert.ErrorIs(t, err, types.ErrNotFound, "later entities are untouched")

	report, err = engine.Resume(context.Background(), en.classID, target)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Entities)
	for _, e := range ents {
		_, err := en.store.Attribute(e.EntityID, "color")
		assert.NoError(t, err)
	}

	_, err = engine.Resume(context.Background(), en.classID, target)
	assert.ErrorIs(t, err, types.ErrNotFound)
}
