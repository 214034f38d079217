package class

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/eavl/internal/migration"
	"github.com/mesh-intelligence/eavl/pkg/types"
)

// DirectSchemas returns the schemas bound to the class itself, by name.
func (r *Registry) DirectSchemas(classID string) ([]*types.Schema, error) {
	if _, err := r.GetClass(classID); err != nil {
		return nil, err
	}
	links, err := r.fetchLinks(types.Filter{"class_id": classID})
	if err != nil {
		return nil, err
	}
	out := make([]*types.Schema, 0, len(links))
	for _, l := range links {
		s, err := r.schemas.Get(l.SchemaID)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sortByName(out)
	return out, nil
}

// EffectiveSchemas folds the schema sets of a class's ancestors from the
// root down to the class itself; a schema bound closer to the class replaces
// an inherited schema with the same name. The result is sorted by name.
func (r *Registry) EffectiveSchemas(classID string) ([]*types.Schema, error) {
	c, err := r.GetClass(classID)
	if err != nil {
		return nil, err
	}
	lineage := c.Lineage()
	depth := make(map[string]int, len(lineage))
	for i, id := range lineage {
		depth[id] = i
	}
	links, err := r.fetchLinks(types.Filter{"class_ids": lineage})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(links, func(i, j int) bool {
		return depth[links[i].ClassID] < depth[links[j].ClassID]
	})

	byName := make(map[string]*types.Schema)
	for _, l := range links {
		s, err := r.schemas.Get(l.SchemaID)
		if err != nil {
			return nil, err
		}
		byName[s.Name] = s
	}
	out := make([]*types.Schema, 0, len(byName))
	for _, s := range byName {
		out = append(out, s)
	}
	sortByName(out)
	return out, nil
}

// DiffSchemas reports how the class's effective schema set would change if
// its own schema set became schemaIDs.
func (r *Registry) DiffSchemas(classID string, schemaIDs []string) (migration.Diff, error) {
	c, err := r.GetClass(classID)
	if err != nil {
		return migration.Diff{}, err
	}
	next, err := r.resolveSet(schemaIDs)
	if err != nil {
		return migration.Diff{}, err
	}
	prev, err := r.EffectiveSchemas(classID)
	if err != nil {
		return migration.Diff{}, err
	}
	inherited := make(map[string]*types.Schema)
	if c.ParentID != "" {
		parentSet, err := r.EffectiveSchemas(c.ParentID)
		if err != nil {
			return migration.Diff{}, err
		}
		for _, s := range parentSet {
			inherited[s.Name] = s
		}
	}
	for _, s := range next {
		inherited[s.Name] = s
	}
	folded := make([]*types.Schema, 0, len(inherited))
	for _, s := range inherited {
		folded = append(folded, s)
	}
	return migration.Compare(prev, folded), nil
}

// SetSchemas saves the class's own schema set and migrates the entities of
// the class and every descendant whose effective set changed. Each diff is
// taken against the persisted sets. Two schemas with the same name fail
// with ErrConflict.
func (r *Registry) SetSchemas(ctx context.Context, classID string, schemaIDs []string) ([]*migration.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.GetClass(classID)
	if err != nil {
		return nil, err
	}
	next, err := r.resolveSet(schemaIDs)
	if err != nil {
		return nil, err
	}
	return r.reshape(ctx, c, func() error { return r.replaceLinks(classID, next) })
}

// Attach binds a schema to a class, replacing a directly bound schema with
// the same name (a version change), and migrates.
func (r *Registry) Attach(ctx context.Context, classID, schemaID string) ([]*migration.Report, error) {
	add, err := r.schemas.Get(schemaID)
	if err != nil {
		return nil, err
	}
	current, err := r.DirectSchemas(classID)
	if err != nil {
		return nil, err
	}
	ids := []string{add.SchemaID}
	for _, s := range current {
		if s.Name != add.Name {
			ids = append(ids, s.SchemaID)
		}
	}
	return r.SetSchemas(ctx, classID, ids)
}

// Detach unbinds the schema called name from a class and migrates. Names
// the class only inherits fail with ErrNotFound.
func (r *Registry) Detach(ctx context.Context, classID, name string) ([]*migration.Report, error) {
	current, err := r.DirectSchemas(classID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(current))
	found := false
	for _, s := range current {
		if s.Name == name {
			found = true
			continue
		}
		ids = append(ids, s.SchemaID)
	}
	if !found {
		return nil, errors.Wrapf(types.ErrNotFound, "schema %s is not bound to class %s", name, classID)
	}
	return r.SetSchemas(ctx, classID, ids)
}

// Migrate applies diff to the entities of a class, using the class's
// current effective set as the target.
func (r *Registry) Migrate(ctx context.Context, classID string, diff migration.Diff) (*migration.Report, error) {
	target, err := r.EffectiveSchemas(classID)
	if err != nil {
		return nil, err
	}
	return r.migrator.Migrate(ctx, classID, diff, target)
}

// Pending returns the checkpoint of an interrupted migration of a class, or
// ErrNotFound.
func (r *Registry) Pending(classID string) (*types.MigrationCheckpoint, error) {
	return r.migrator.Pending(classID)
}

// Resume continues an interrupted migration of a class.
func (r *Registry) Resume(ctx context.Context, classID string) (*migration.Report, error) {
	target, err := r.EffectiveSchemas(classID)
	if err != nil {
		return nil, err
	}
	return r.migrator.Resume(ctx, classID, target)
}

// reshape records the effective sets of c's subtree, applies change, and
// migrates every class of the subtree whose effective set differs. No change
// is applied while a class of the subtree has an interrupted migration. The
// caller holds r.mu.
func (r *Registry) reshape(ctx context.Context, c *types.EntityClass, change func() error) ([]*migration.Report, error) {
	before, err := r.subtreeSets(c.ClassID)
	if err != nil {
		return nil, err
	}
	for _, cls := range before.order {
		if err := r.migrator.Settled(cls); err != nil {
			return nil, err
		}
	}
	if err := change(); err != nil {
		return nil, err
	}
	after, err := r.subtreeSets(c.ClassID)
	if err != nil {
		return nil, err
	}

	var reports []*migration.Report
	for _, cls := range after.order {
		diff := migration.Compare(before.sets[cls], after.sets[cls])
		if diff.Empty() {
			continue
		}
		r.log.Info("class schema set changed",
			zap.String("class", cls),
			zap.Strings("added", diff.Added),
			zap.Strings("removed", diff.Removed),
			zap.Strings("updated", diff.Updated))
		report, err := r.migrator.Migrate(ctx, cls, diff, after.sets[cls])
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			return reports, errors.Wrapf(err, "migrating class %s", cls)
		}
	}
	return reports, nil
}

type subtreeSets struct {
	order []string
	sets  map[string][]*types.Schema
}

func (r *Registry) subtreeSets(classID string) (subtreeSets, error) {
	classes, err := r.Subtree(classID)
	if err != nil {
		return subtreeSets{}, err
	}
	out := subtreeSets{sets: make(map[string][]*types.Schema, len(classes))}
	for _, c := range classes {
		set, err := r.EffectiveSchemas(c.ClassID)
		if err != nil {
			return subtreeSets{}, err
		}
		out.order = append(out.order, c.ClassID)
		out.sets[c.ClassID] = set
	}
	return out, nil
}

// replaceLinks makes the class's direct bindings equal to next.
func (r *Registry) replaceLinks(classID string, next []*types.Schema) error {
	links, err := r.fetchLinks(types.Filter{"class_id": classID})
	if err != nil {
		return err
	}
	keep := make(map[string]bool, len(next))
	for _, s := range next {
		keep[s.SchemaID] = true
	}
	for _, l := range links {
		if keep[l.SchemaID] {
			continue
		}
		if err := r.links.Delete(l.LinkID); err != nil && !errors.Is(err, types.ErrNotFound) {
			return err
		}
	}
	for _, s := range next {
		if _, err := r.links.Set("", &types.ClassSchema{ClassID: classID, SchemaID: s.SchemaID}); err != nil {
			return err
		}
	}
	return nil
}

// resolveSet loads schemaIDs and rejects duplicate names.
func (r *Registry) resolveSet(schemaIDs []string) ([]*types.Schema, error) {
	out := make([]*types.Schema, 0, len(schemaIDs))
	names := make(map[string]string, len(schemaIDs))
	for _, id := range schemaIDs {
		s, err := r.schemas.Get(id)
		if err != nil {
			return nil, err
		}
		if prev, ok := names[s.Name]; ok {
			if prev == s.SchemaID {
				continue
			}
			return nil, errors.Wrapf(types.ErrConflict, "schema %s is listed twice", s.Name)
		}
		names[s.Name] = s.SchemaID
		out = append(out, s)
	}
	return out, nil
}

func (r *Registry) fetchLinks(filter types.Filter) ([]*types.ClassSchema, error) {
	rows, err := r.links.Fetch(filter)
	if err != nil {
		return nil, err
	}
	out := make([]*types.ClassSchema, len(rows))
	for i, row := range rows {
		out[i] = row.(*types.ClassSchema)
	}
	return out, nil
}

func sortByName(set []*types.Schema) {
	sort.Slice(set, func(i, j int) bool { return set[i].Name < set[j].Name })
}
