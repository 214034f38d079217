package migration

import (
	"sort"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

// Diff is the difference between two schema sets, by schema name.
type Diff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Updated []string `json:"updated"`
}

// Empty reports whether the sets are the same.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Updated) == 0
}

// Compare diffs two schema sets by name: Added holds names only in next,
// Removed names only in prev, Updated names in both whose version differs.
// Each list is sorted.
func Compare(prev, next []*types.Schema) Diff {
	before := byName(prev)
	after := byName(next)
	var d Diff
	for name, s := range after {
		old, ok := before[name]
		switch {
		case !ok:
			d.Added = append(d.Added, name)
		case old.Version != s.Version:
			d.Updated = append(d.Updated, name)
		}
	}
	for name := range before {
		if _, ok := after[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Updated)
	return d
}

func byName(set []*types.Schema) map[string]*types.Schema {
	m := make(map[string]*types.Schema, len(set))
	for _, s := range set {
		m[s.Name] = s
	}
	return m
}
