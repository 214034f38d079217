package schema

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

// parseVersion accepts "major.minor" as well as full semantic versions.
func parseVersion(v string) (*semver.Version, error) {
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return nil, errors.Wrapf(types.ErrInvalidVersion, "%q: %v", v, err)
	}
	return parsed, nil
}

// sortByVersion orders schemas oldest to newest. Rows with unparsable
// versions sort first, by creation time.
func sortByVersion(schemas []*types.Schema) {
	sort.SliceStable(schemas, func(i, j int) bool {
		vi, erri := semver.NewVersion(schemas[i].Version)
		vj, errj := semver.NewVersion(schemas[j].Version)
		switch {
		case erri != nil && errj != nil:
			return schemas[i].CreatedAt.Before(schemas[j].CreatedAt)
		case erri != nil:
			return true
		case errj != nil:
			return false
		}
		return vi.LessThan(vj)
	})
}

// latest returns the highest version, or nil for an empty list.
func latest(schemas []*types.Schema) *types.Schema {
	if len(schemas) == 0 {
		return nil
	}
	sorted := append([]*types.Schema(nil), schemas...)
	sortByVersion(sorted)
	return sorted[len(sorted)-1]
}

// nextVersion returns major.(minor+1) of base, bumping the minor further
// while the candidate is already taken by a row of the same major.
func nextVersion(base string, taken []string) (string, error) {
	v, err := parseVersion(base)
	if err != nil {
		return "", err
	}
	used := make(map[uint64]bool, len(taken))
	for _, t := range taken {
		tv, err := semver.NewVersion(t)
		if err != nil || tv.Major() != v.Major() {
			continue
		}
		used[tv.Minor()] = true
	}
	minor := v.Minor() + 1
	for used[minor] {
		minor++
	}
	return fmt.Sprintf("%d.%d", v.Major(), minor), nil
}
