package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

func sch(name, version string) *types.Schema {
	return &types.Schema{Name: name, Version: version}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		prev []*types.Schema
		next []*types.Schema
		want Diff
	}{
		{"same", []*types.Schema{sch("a", "1.0")}, []*types.Schema{sch("a", "1.0")}, Diff{}},
		{"both empty", nil, nil, Diff{}},
		{"added", nil, []*types.Schema{sch("b", "1.0"), sch("a", "1.0")}, Diff{Added: []string{"a", "b"}}},
		{"removed", []*types.Schema{sch("a", "1.0")}, nil, Diff{Removed: []string{"a"}}},
		{"updated", []*types.Schema{sch("a", "1.0")}, []*types.Schema{sch("a", "1.1")}, Diff{Updated: []string{"a"}}},
		{"mixed",
			[]*types.Schema{sch("keep", "1.0"), sch("gone", "1.0"), sch("bump", "1.0")},
			[]*types.Schema{sch("keep", "1.0"), sch("new", "2.0"), sch("bump", "2.0")},
			Diff{Added: []string{"new"}, Removed: []string{"gone"}, Updated: []string{"bump"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compare(tt.prev, tt.next)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Empty(), got.Empty())
		})
	}
}
