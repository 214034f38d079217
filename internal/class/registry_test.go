package class

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/eavl/internal/migration"
	"github.com/mesh-intelligence/eavl/internal/schema"
	"github.com/mesh-intelligence/eavl/internal/sqlstore"
	"github.com/mesh-intelligence/eavl/internal/worker"
	"github.com/mesh-intelligence/eavl/pkg/types"
)

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *schema.Registry) {
	t.Helper()
	b := sqlstore.NewBackend()
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	t.Cleanup(func() { _ = b.Detach() })
	schemas, err := schema.New(b)
	require.NoError(t, err)
	r, err := New(b, schemas, opts...)
	require.NoError(t, err)
	return r, schemas
}

func save(t *testing.T, schemas *schema.Registry, s *types.Schema) *types.Schema {
	t.Helper()
	out, err := schemas.Save(s)
	require.NoError(t, err)
	return out
}

func names(set []*types.Schema) []string {
	out := make([]string, len(set))
	for i, s := range set {
		out[i] = s.Name + "@" + s.Version
	}
	return out
}

func TestClassTree(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	root, err := r.CreateClass("asset", "", "")
	require.NoError(t, err)
	device, err := r.CreateClass("device", "hardware", root.ClassID)
	require.NoError(t, err)
	phone, err := r.CreateClass("phone", "", device.ClassID)
	require.NoError(t, err)
	assert.Equal(t, []string{root.ClassID, device.ClassID, phone.ClassID}, phone.Lineage())

	_, err = r.CreateClass("phone", "", "")
	assert.ErrorIs(t, err, types.ErrConflict, "titles are unique")
	_, err = r.CreateClass("orphan", "", "missing")
	assert.ErrorIs(t, err, types.ErrInvalidParent)

	kids, err := r.Children(root.ClassID)
	require.NoError(t, err)
	require.Len(t, kids, 1)
	assert.Equal(t, device.ClassID, kids[0].ClassID)

	sub, err := r.Subtree(device.ClassID)
	require.NoError(t, err)
	assert.Len(t, sub, 2)

	found, err := r.Lookup("phone")
	require.NoError(t, err)
	assert.Equal(t, phone.ClassID, found.ClassID)
	found, err = r.Lookup(phone.ClassID)
	require.NoError(t, err)
	assert.Equal(t, "phone", found.Title)
	_, err = r.Lookup("tablet")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = r.Reparent(ctx, device.ClassID, phone.ClassID)
	assert.ErrorIs(t, err, types.ErrInvalidParent, "a class cannot move under its own subtree")

	_, err = r.Reparent(ctx, phone.ClassID, "")
	require.NoError(t, err)
	moved, err := r.GetClass(phone.ClassID)
	require.NoError(t, err)
	assert.Equal(t, []string{phone.ClassID}, moved.Lineage())

	updated, err := r.Update(device.ClassID, "gadget", "renamed")
	require.NoError(t, err)
	assert.Equal(t, "gadget", updated.Title)

	assert.ErrorIs(t, r.DeleteClass(root.ClassID), types.ErrConflict, "root still has a child")
	_, err = r.Entities().CreateEntity(ctx, device.ClassID, "widget")
	require.NoError(t, err)
	assert.ErrorIs(t, r.DeleteClass(device.ClassID), types.ErrConflict, "device still has an entity")

	require.NoError(t, r.DeleteClass(phone.ClassID))
	_, err = r.GetClass(phone.ClassID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	all, err := r.ListClasses()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestEffectiveSchemasFold(t *testing.T) {
	r, schemas := newTestRegistry(t)
	ctx := context.Background()

	label := save(t, schemas, &types.Schema{Name: "label", FieldType: types.FieldString})
	serial := save(t, schemas, &types.Schema{Name: "serial", FieldType: types.FieldString})
	label2 := save(t, schemas, &types.Schema{Name: "label", FieldType: types.FieldString,
		Validators: []types.Validator{{Type: types.ValidatorLength, Params: map[string]any{"max": 10}}}})
	imei := save(t, schemas, &types.Schema{Name: "imei", FieldType: types.FieldString})

	root, err := r.CreateClass("asset", "", "")
	require.NoError(t, err)
	child, err := r.CreateClass("phone", "", root.ClassID)
	require.NoError(t, err)

	_, err = r.SetSchemas(ctx, root.ClassID, []string{label.SchemaID, serial.SchemaID})
	require.NoError(t, err)
	_, err = r.SetSchemas(ctx, child.ClassID, []string{label2.SchemaID, imei.SchemaID})
	require.NoError(t, err)

	set, err := r.EffectiveSchemas(child.ClassID)
	require.NoError(t, err)
	assert.Equal(t, []string{"imei@1.0", "label@1.1", "serial@1.0"}, names(set), "the closest binding wins")

	set, err = r.EffectiveSchemas(root.ClassID)
	require.NoError(t, err)
	assert.Equal(t, []string{"label@1.0", "serial@1.0"}, names(set))

	direct, err := r.DirectSchemas(child.ClassID)
	require.NoError(t, err)
	assert.Equal(t, []string{"imei@1.0", "label@1.1"}, names(direct))

	_, err = r.SetSchemas(ctx, root.ClassID, []string{label.SchemaID, label2.SchemaID})
	assert.ErrorIs(t, err, types.ErrConflict)

	diff, err := r.DiffSchemas(child.ClassID, []string{imei.SchemaID})
	require.NoError(t, err)
	assert.Equal(t, migration.Diff{Updated: []string{"label"}}, diff, "dropping the override falls back to the inherited version")

	linked, err := schemas.IsReferenced(label.SchemaID)
	require.NoError(t, err)
	assert.True(t, linked)
}

func TestSavingSchemaSetMigratesSubtree(t *testing.T) {
	pool, err := worker.New("class-test", 2, nil)
	require.NoError(t, err)
	t.Cleanup(pool.Release)
	r, schemas := newTestRegistry(t, WithPool(pool), WithBatchSize(2))
	ctx := context.Background()
	store := r.Entities()

	code := save(t, schemas, &types.Schema{Name: "code", FieldType: types.FieldString})
	root, err := r.CreateClass("asset", "", "")
	require.NoError(t, err)
	child, err := r.CreateClass("phone", "", root.ClassID)
	require.NoError(t, err)
	_, err = r.SetSchemas(ctx, root.ClassID, []string{code.SchemaID})
	require.NoError(t, err)

	var phones []*types.Entity
	for _, title := range []string{"a", "b", "c"} {
		e, err := store.CreateEntity(ctx, child.ClassID, title)
		require.NoError(t, err)
		_, err = store.SetData(ctx, e.EntityID, map[string]any{"code": "42"}, true)
		require.NoError(t, err)
		phones = append(phones, e)
	}

	// Saving an in-use schema yields a new version; binding it migrates
	// the descendants too.
	edited := code.Copy()
	edited.FieldType = types.FieldInteger
	v11, err := schemas.Save(edited)
	require.NoError(t, err)
	assert.Equal(t, "1.1", v11.Version)
	assert.NotEqual(t, code.SchemaID, v11.SchemaID)

	reports, err := r.Attach(ctx, root.ClassID, v11.SchemaID)
	require.NoError(t, err)
	require.Len(t, reports, 2, "the class and its descendant both changed")
	assert.Equal(t, 0, reports[0].Entities, "no entities of the root class")
	assert.Equal(t, 3, reports[1].Entities)

	for _, e := range phones {
		doc, err := store.GetData(ctx, e.EntityID, types.DefaultDataOptions())
		require.NoError(t, err)
		assert.EqualValues(t, 42, doc.Attributes["code"])
	}

	tag := save(t, schemas, &types.Schema{Name: "tag", FieldType: types.FieldString, Default: "new"})
	_, err = r.Attach(ctx, child.ClassID, tag.SchemaID)
	require.NoError(t, err)
	doc, err := store.GetData(ctx, phones[0].EntityID, types.DefaultDataOptions())
	require.NoError(t, err)
	assert.Equal(t, "new", doc.Attributes["tag"])

	_, err = r.Detach(ctx, child.ClassID, "tag")
	require.NoError(t, err)
	_, err = store.Attribute(phones[0].EntityID, "tag")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = r.Detach(ctx, child.ClassID, "code")
	assert.ErrorIs(t, err, types.ErrNotFound, "inherited schemas are detached from the ancestor")

	purged, err := r.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, purged)

	_, err = r.Pending(child.ClassID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = r.Resume(ctx, child.ClassID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	report, err := r.Migrate(ctx, child.ClassID, migration.Diff{Updated: []string{"code"}})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Entities)
	assert.Empty(t, report.Errors, "re-running an applied migration changes nothing")
}

func TestReparentMigrates(t *testing.T) {
	r, schemas := newTestRegistry(t)
	ctx := context.Background()

	color := save(t, schemas, &types.Schema{Name: "color", FieldType: types.FieldString, Default: "grey"})
	weight := save(t, schemas, &types.Schema{Name: "weight", FieldType: types.FieldFloat})
	painted, err := r.CreateClass("painted", "", "")
	require.NoError(t, err)
	heavy, err := r.CreateClass("heavy", "", "")
	require.NoError(t, err)
	_, err = r.SetSchemas(ctx, painted.ClassID, []string{color.SchemaID})
	require.NoError(t, err)
	_, err = r.SetSchemas(ctx, heavy.ClassID, []string{weight.SchemaID})
	require.NoError(t, err)

	box, err := r.CreateClass("box", "", painted.ClassID)
	require.NoError(t, err)
	e, err := r.Entities().CreateEntity(ctx, box.ClassID, "crate")
	require.NoError(t, err)

	reports, err := r.Reparent(ctx, box.ClassID, heavy.ClassID)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, migration.Diff{Added: []string{"weight"}, Removed: []string{"color"}}, reports[0].Diff)

	attrs, err := r.Entities().Attributes(e.EntityID)
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, "weight", attrs[0].Code)
}

func TestInterruptedMigrationBlocksSchemaChanges(t *testing.T) {
	r, schemas := newTestRegistry(t)
	ctx := context.Background()
	store := r.Entities()

	x := save(t, schemas, &types.Schema{Name: "x", FieldType: types.FieldString, Default: "x"})
	y := save(t, schemas, &types.Schema{Name: "y", FieldType: types.FieldString, Default: "y"})
	c, err := r.CreateClass("widget", "", "")
	require.NoError(t, err)
	other, err := r.CreateClass("gadget", "", "")
	require.NoError(t, err)
	e, err := store.CreateEntity(ctx, c.ClassID, "w1")
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = r.SetSchemas(cancelled, c.ClassID, []string{x.SchemaID})
	require.ErrorIs(t, err, context.Canceled)
	cp, err := r.Pending(c.ClassID)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, cp.Added)

	codes := func() []string {
		attrs, err := store.Attributes(e.EntityID)
		require.NoError(t, err)
		out := make([]string, len(attrs))
		for i, a := range attrs {
			out[i] = a.Code
		}
		return out
	}

	tests := []struct {
		name   string
		change func() error
	}{
		{"set schemas", func() error {
			_, err := r.SetSchemas(ctx, c.ClassID, []string{x.SchemaID, y.SchemaID})
			return err
		}},
		{"attach", func() error {
			_, err := r.Attach(ctx, c.ClassID, y.SchemaID)
			return err
		}},
		{"reparent", func() error {
			_, err := r.Reparent(ctx, c.ClassID, other.ClassID)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.change(), types.ErrConflict)
			direct, err := r.DirectSchemas(c.ClassID)
			require.NoError(t, err)
			assert.Equal(t, []string{"x@" + x.Version}, names(direct))
			got, err := r.GetClass(c.ClassID)
			require.NoError(t, err)
			assert.Empty(t, got.ParentID)
			_, err = r.Pending(c.ClassID)
			assert.NoError(t, err, "the checkpoint survives")
		})
	}

	report, err := r.Resume(ctx, c.ClassID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Entities)
	assert.Equal(t, []string{"x"}, codes())

	_, err = r.SetSchemas(ctx, c.ClassID, []string{x.SchemaID, y.SchemaID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x", "y"}, codes())
}
