package entity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

func TestGlobalUniqueness(t *testing.T) {
	f := newFixture(t, &types.Schema{Name: "ssn", FieldType: types.FieldString, UniqueScope: types.UniqueGlobal})
	ctx := context.Background()
	first := f.create(t, "first")
	second := f.create(t, "second")

	errs, err := f.store.SetData(ctx, first.EntityID, map[string]any{"ssn": "123-45-6789"}, true)
	require.NoError(t, err)
	assert.Empty(t, errs)

	_, err = f.store.SetData(ctx, second.EntityID, map[string]any{"ssn": "123-45-6789"}, true)
	assert.ErrorIs(t, err, types.ErrNotUnique)

	err = f.store.SetValue(ctx, second.EntityID, "ssn", "123-45-6789", time.Time{})
	assert.ErrorIs(t, err, types.ErrNotUnique)

	_, err = f.store.SetData(ctx, first.EntityID, map[string]any{"ssn": "123-45-6789"}, true)
	assert.NoError(t, err, "rewriting an entity's own value is not a clash")

	require.NoError(t, f.store.SetValue(ctx, second.EntityID, "ssn", "987-65-4321", time.Time{}))
}

func TestEntityUniqueness(t *testing.T) {
	f := newFixture(t, &types.Schema{Name: "badge", FieldType: types.FieldString,
		IsTimeSeries: true, UniqueScope: types.UniqueEntity})
	ctx := context.Background()
	a := f.create(t, "a")
	b := f.create(t, "b")

	require.NoError(t, f.store.SetValue(ctx, a.EntityID, "badge", "B-1", testNow.Add(-2*time.Hour)))
	err := f.store.SetValue(ctx, a.EntityID, "badge", "B-1", testNow.Add(-time.Hour))
	assert.ErrorIs(t, err, types.ErrNotUnique)
	assert.NoError(t, f.store.SetValue(ctx, b.EntityID, "badge", "B-1", testNow.Add(-time.Hour)),
		"entity scope allows the same value on another entity")
}

func TestSetDataCollectsEveryError(t *testing.T) {
	f := newFixture(t,
		&types.Schema{Name: "age", FieldType: types.FieldInteger,
			Validators: []types.Validator{{Type: types.ValidatorRange, Params: map[string]any{"min": 0, "max": 150}}}},
		&types.Schema{Name: "zip", FieldType: types.FieldString,
			Validators: []types.Validator{{Type: types.ValidatorRegexp, Params: map[string]any{"pattern": "^[0-9]{5}$"}}}},
		&types.Schema{Name: "email", FieldType: types.FieldEmail},
	)
	ctx := context.Background()
	e := f.create(t, "alice")
	before := f.valueCount(t, e.EntityID)

	errs, err := f.store.SetData(ctx, e.EntityID, map[string]any{
		"age":     200,
		"zip":     "abc",
		"email":   "bob@example.com",
		"unknown": 1,
	}, true)
	require.NoError(t, err)
	byField := errs.ByField()
	assert.Contains(t, byField, "age")
	assert.Contains(t, byField, "zip")
	assert.Contains(t, byField, "unknown")
	assert.NotContains(t, byField, "email")
	assert.ErrorIs(t, errs, types.ErrValidation)
	assert.Equal(t, before, f.valueCount(t, e.EntityID), "nothing is written when validation fails")

	checked, err := f.store.Validate(ctx, e.EntityID, map[string]any{"age": "old"})
	require.NoError(t, err)
	assert.Len(t, checked, 1)

	errs, err = f.store.SetData(ctx, e.EntityID, map[string]any{"age": 200}, false)
	require.NoError(t, err)
	assert.Empty(t, errs, "validation can be skipped")

	_, err = f.store.SetData(ctx, "missing", map[string]any{"age": 1}, true)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestTimeSeries(t *testing.T) {
	f := newFixture(t, &types.Schema{Name: "temp", FieldType: types.FieldFloat, IsTimeSeries: true})
	ctx := context.Background()
	e := f.create(t, "sensor")

	t1 := testNow.Add(-3 * time.Hour)
	t2 := testNow.Add(-2 * time.Hour)
	t3 := testNow.Add(-time.Hour)
	for i, ts := range []time.Time{t2, t1, t3} {
		require.NoError(t, f.store.SetValue(ctx, e.EntityID, "temp", 20.5+float64(i), ts))
		assert.Equal(t, i+1, f.valueCount(t, e.EntityID), "every write appends")
	}

	err := f.store.SetValue(ctx, e.EntityID, "temp", 30.0, testNow.Add(time.Minute))
	assert.ErrorIs(t, err, types.ErrFutureTimestamp)

	doc, err := f.store.GetData(ctx, e.EntityID, types.DefaultDataOptions())
	require.NoError(t, err)
	last, ok := doc.Attributes["temp"].(types.TimedValue)
	require.True(t, ok)
	assert.Equal(t, 22.5, last.Value)
	assert.True(t, last.Timestamp.Equal(t3))

	doc, err = f.store.GetData(ctx, e.EntityID, types.DataOptions{})
	require.NoError(t, err)
	series := doc.Attributes["temp"].([]types.TimedValue)
	require.Len(t, series, 3)
	assert.True(t, series[0].Timestamp.Equal(t3), "newest first")
	assert.True(t, series[2].Timestamp.Equal(t1))

	doc, err = f.store.GetData(ctx, e.EntityID, types.DataOptions{From: t2, To: t2})
	require.NoError(t, err)
	assert.Len(t, doc.Attributes["temp"], 1)

	bulk := []types.TimedValue{
		{Value: 10.0, Timestamp: testNow.Add(-4 * time.Hour)},
		{Value: 11.0, Timestamp: testNow.Add(time.Hour)},
		{Value: 12.0, Timestamp: testNow.Add(-5 * time.Hour)},
	}
	require.NoError(t, f.store.SetValue(ctx, e.EntityID, "temp", bulk, time.Time{}))
	assert.Equal(t, 5, f.valueCount(t, e.EntityID), "future bulk entries are dropped")

	errs, err := f.store.SetData(ctx, e.EntityID, map[string]any{
		"temp": map[string]any{"value": 1.0, "timestamp": testNow.Add(time.Hour).Format(time.RFC3339Nano)},
	}, true)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "temp", errs[0].Field)
}

func TestGetSetDataIsIdempotent(t *testing.T) {
	f := newFixture(t,
		&types.Schema{Name: "name", FieldType: types.FieldString},
		&types.Schema{Name: "tags", FieldType: types.FieldString, IsMultiple: true},
		&types.Schema{Name: "ssn", FieldType: types.FieldString, UniqueScope: types.UniqueGlobal},
		&types.Schema{Name: "weight", FieldType: types.FieldFloat, IsTimeSeries: true, UniqueScope: types.UniqueEntity},
		&types.Schema{Name: "boss", FieldType: types.FieldUUID, IsRelation: true},
	)
	ctx := context.Background()
	boss := f.create(t, "boss")
	e := f.create(t, "alice")

	_, err := f.store.Link(ctx, e.EntityID, "boss", boss.EntityID)
	require.NoError(t, err)
	errs, err := f.store.SetData(ctx, e.EntityID, map[string]any{
		"name": "Alice",
		"tags": []any{"a", "b"},
		"ssn":  "111",
		"weight": []any{
			map[string]any{"value": 60.0, "timestamp": testNow.Add(-48 * time.Hour).Format(time.RFC3339Nano)},
			map[string]any{"value": 61.0, "timestamp": testNow.Add(-24 * time.Hour).Format(time.RFC3339Nano)},
		},
	}, true)
	require.NoError(t, err)
	require.Empty(t, errs)

	for _, opts := range []types.DataOptions{{}, types.DefaultDataOptions()} {
		before := f.valueCount(t, e.EntityID)
		doc, err := f.store.GetData(ctx, e.EntityID, opts)
		require.NoError(t, err)
		assert.Equal(t, boss.EntityID, doc.Attributes["boss"])

		errs, err := f.store.SetData(ctx, e.EntityID, doc.Attributes, true)
		require.NoError(t, err)
		assert.Empty(t, errs)
		assert.Equal(t, before, f.valueCount(t, e.EntityID))

		again, err := f.store.GetData(ctx, e.EntityID, opts)
		require.NoError(t, err)
		assert.Equal(t, doc, again)
	}
}

func TestTimedEntries(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name    string
		in      any
		want    []types.TimedValue
		bulk    bool
		wantErr bool
	}{
		{"plain value", 5, []types.TimedValue{{Value: 5}}, false, false},
		{"timed value", types.TimedValue{Value: 1, Timestamp: ts}, []types.TimedValue{{Value: 1, Timestamp: ts}}, false, false},
		{"map with timestamp", map[string]any{"value": "x", "timestamp": ts.Format(time.RFC3339Nano)},
			[]types.TimedValue{{Value: "x", Timestamp: ts}}, false, false},
		{"map without timestamp", map[string]any{"value": "x"}, []types.TimedValue{{Value: "x"}}, false, false},
		{"plain object", map[string]any{"street": "x"}, []types.TimedValue{{Value: map[string]any{"street": "x"}}}, false, false},
		{"bulk", []any{map[string]any{"value": 1}, types.TimedValue{Value: 2, Timestamp: ts}},
			[]types.TimedValue{{Value: 1}, {Value: 2, Timestamp: ts}}, true, false},
		{"plain list", []any{"a", "b"}, []types.TimedValue{{Value: []any{"a", "b"}}}, false, false},
		{"empty list", []any{}, nil, true, false},
		{"bad timestamp", map[string]any{"value": 1, "timestamp": "yesterday"}, nil, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, bulk, err := timedEntries(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrInvalidData)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.bulk, bulk)
		})
	}
}

func TestMultipleValuesIgnoreLastOnly(t *testing.T) {
	f := newFixture(t, &types.Schema{Name: "tags", FieldType: types.FieldString, IsMultiple: true})
	ctx := context.Background()
	e := f.create(t, "tagged")

	errs, err := f.store.SetData(ctx, e.EntityID, map[string]any{"tags": []any{"a", "b"}}, true)
	require.NoError(t, err)
	require.Empty(t, errs)

	for _, lastOnly := range []bool{true, false} {
		doc, err := f.store.GetData(ctx, e.EntityID, types.DataOptions{LastOnly: lastOnly})
		require.NoError(t, err)
		assert.Equal(t, []any{"a", "b"}, doc.Attributes["tags"], "lastOnly=%v", lastOnly)
	}
}
