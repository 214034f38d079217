package entity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

func relationFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixture(t,
		&types.Schema{Name: "name", FieldType: types.FieldString},
		&types.Schema{Name: "manager", FieldType: types.FieldUUID, IsRelation: true},
		&types.Schema{Name: "peer", FieldType: types.FieldUUID, IsRelation: true},
	)
}

func entityIDs(es []*types.Entity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.EntityID
	}
	return out
}

func TestLinkAndUnlink(t *testing.T) {
	f := relationFixture(t)
	ctx := context.Background()
	alice := f.create(t, "alice")
	bob := f.create(t, "bob")
	carol := f.create(t, "carol")

	a, err := f.store.Link(ctx, alice.EntityID, "manager", bob.EntityID)
	require.NoError(t, err)
	assert.True(t, a.IsRelation)

	out, err := f.store.GetOutgoingLinks(alice.EntityID)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, types.Link{AttributeID: a.AttributeID, Code: "manager", SourceID: alice.EntityID, DestinationID: bob.EntityID}, out[0])

	_, err = f.store.Link(ctx, alice.EntityID, "manager", carol.EntityID)
	require.NoError(t, err, "relinking moves the destination")
	in, err := f.store.GetIncomingLinks(carol.EntityID)
	require.NoError(t, err)
	assert.Len(t, in, 1)
	in, err = f.store.GetIncomingLinks(bob.EntityID)
	require.NoError(t, err)
	assert.Empty(t, in)

	_, err = f.store.Link(ctx, alice.EntityID, "name", bob.EntityID)
	assert.ErrorIs(t, err, types.ErrConflict)
	_, err = f.store.Link(ctx, alice.EntityID, "mentor", bob.EntityID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = f.store.Link(ctx, alice.EntityID, "peer", "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, f.store.Unlink(ctx, alice.EntityID, "manager"))
	out, err = f.store.GetOutgoingLinks(alice.EntityID)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.ErrorIs(t, f.store.Unlink(ctx, alice.EntityID, "manager"), types.ErrNotFound)
}

func TestHasDirectLinkTo(t *testing.T) {
	f := relationFixture(t)
	ctx := context.Background()
	alice := f.create(t, "alice")
	bob := f.create(t, "bob")
	carol := f.create(t, "carol")
	_, err := f.store.Link(ctx, alice.EntityID, "manager", bob.EntityID)
	require.NoError(t, err)
	_, err = f.store.Link(ctx, bob.EntityID, "manager", carol.EntityID)
	require.NoError(t, err)

	tests := []struct {
		name           string
		source, target string
		code           string
		want           bool
	}{
		{"any code", alice.EntityID, bob.EntityID, "", true},
		{"matching code", alice.EntityID, bob.EntityID, "manager", true},
		{"other code", alice.EntityID, bob.EntityID, "peer", false},
		{"reverse direction", bob.EntityID, alice.EntityID, "", false},
		{"transitive only", alice.EntityID, carol.EntityID, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.store.HasDirectLinkTo(tt.source, tt.target, tt.code)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	require.NoError(t, f.store.Unlink(ctx, alice.EntityID, "manager"))
	got, err := f.store.HasDirectLinkTo(alice.EntityID, bob.EntityID, "manager")
	require.NoError(t, err)
	assert.False(t, got)
}

func TestSearch(t *testing.T) {
	f := relationFixture(t)
	ctx := context.Background()
	alice := f.create(t, "alice")
	bob := f.create(t, "bob")
	carol := f.create(t, "carol")
	other := f.addClass(t, "robot", f.source[f.classID]...)
	robot, err := f.store.CreateEntity(ctx, other, "r2")
	require.NoError(t, err)

	for _, e := range []*types.Entity{alice, carol, robot} {
		_, err := f.store.SetData(ctx, e.EntityID, map[string]any{"name": "shared"}, true)
		require.NoError(t, err)
		_, err = f.store.Link(ctx, e.EntityID, "manager", bob.EntityID)
		require.NoError(t, err)
	}
	_, err = f.store.Link(ctx, bob.EntityID, "peer", alice.EntityID)
	require.NoError(t, err)

	found, err := f.store.SearchByAttribute(f.classID, "name", "shared")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{alice.EntityID, carol.EntityID}, entityIDs(found))

	found, err = f.store.SearchByAttribute("", "name", "shared")
	require.NoError(t, err)
	assert.Len(t, found, 3, "an empty class searches every class")

	found, err = f.store.SearchByAttribute(f.classID, "manager", bob.EntityID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{alice.EntityID, carol.EntityID}, entityIDs(found))

	found, err = f.store.SearchRelatedTo(f.classID, bob.EntityID, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{alice.EntityID, carol.EntityID}, entityIDs(found))

	found, err = f.store.SearchRelatedTo("", alice.EntityID, "manager")
	require.NoError(t, err)
	assert.Empty(t, found)
	found, err = f.store.SearchRelatedTo("", alice.EntityID, "peer")
	require.NoError(t, err)
	assert.Equal(t, []string{bob.EntityID}, entityIDs(found))

	require.NoError(t, f.store.RemoveAttribute(ctx, carol.EntityID, "name"))
	found, err = f.store.SearchByAttribute(f.classID, "name", "shared")
	require.NoError(t, err)
	assert.Equal(t, []string{alice.EntityID}, entityIDs(found), "tombstoned attributes are not searched")
}

func TestDestroyEntity(t *testing.T) {
	f := relationFixture(t)
	ctx := context.Background()
	owner := f.create(t, "owner")
	boss := f.create(t, "boss")

	link, err := f.store.Link(ctx, owner.EntityID, "manager", boss.EntityID)
	require.NoError(t, err)

	err = f.store.DestroyEntity(ctx, boss.EntityID, false)
	assert.ErrorIs(t, err, types.ErrHasIncomingLinks)
	_, err = f.store.GetByUUID(boss.EntityID)
	require.NoError(t, err, "a blocked destroy changes nothing")

	require.NoError(t, f.store.DestroyEntity(ctx, boss.EntityID, true))
	_, err = f.store.GetByUUID(boss.EntityID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	attrs, err := f.backend.GetTable(types.AttributesTable)
	require.NoError(t, err)
	row, err := attrs.Get(link.AttributeID)
	require.NoError(t, err)
	manager := row.(*types.Attribute)
	assert.True(t, manager.Deleted)
	assert.Empty(t, manager.DestinationID)

	_, err = f.store.GetByUUID(owner.EntityID)
	assert.NoError(t, err, "the owner survives")
	assert.NoError(t, f.store.DestroyEntity(ctx, boss.EntityID, true), "destroying a gone entity is a no-op")
}

func TestDestroyCascadesOverCycles(t *testing.T) {
	f := relationFixture(t)
	ctx := context.Background()
	a := f.create(t, "a")
	b := f.create(t, "b")
	c := f.create(t, "c")
	bystander := f.create(t, "bystander")

	for _, l := range [][3]string{
		{a.EntityID, "peer", b.EntityID},
		{b.EntityID, "peer", c.EntityID},
		{c.EntityID, "peer", a.EntityID},
		{a.EntityID, "manager", a.EntityID},
		{bystander.EntityID, "manager", c.EntityID},
	} {
		_, err := f.store.Link(ctx, l[0], l[1], l[2])
		require.NoError(t, err)
	}

	require.NoError(t, f.store.DestroyEntity(ctx, a.EntityID, true))
	for _, e := range []*types.Entity{a, b, c} {
		_, err := f.store.GetByUUID(e.EntityID)
		assert.ErrorIs(t, err, types.ErrNotFound, e.Title)
	}
	_, err := f.store.GetByUUID(bystander.EntityID)
	require.NoError(t, err)
	out, err := f.store.GetOutgoingLinks(bystander.EntityID)
	require.NoError(t, err)
	assert.Empty(t, out)
}
