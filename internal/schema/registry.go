// Package schema implements the schema registry: versioned field
// definitions, copy-on-write saves for schemas already in use, default
// values, and value validation through OpenAPI schemas built from the field
// type and validator list.
package schema

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

// cloneAttempts bounds retries when a concurrent writer takes the computed
// next version first.
const cloneAttempts = 3

// Registry stores versioned schemas in the schemas table.
type Registry struct {
	schemas    types.Table
	links      types.Table
	attributes types.Table
	resolver   Resolver
	log        *zap.Logger

	// locks serializes save and clone per schema name.
	locks sync.Map
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithResolver sets the resolver used for remote references.
func WithResolver(res Resolver) Option {
	return func(r *Registry) { r.resolver = res }
}

// New creates a registry over attached storage.
func New(storage types.Storage, opts ...Option) (*Registry, error) {
	r := &Registry{log: zap.NewNop()}
	var err error
	if r.schemas, err = storage.GetTable(types.SchemasTable); err != nil {
		return nil, err
	}
	if r.links, err = storage.GetTable(types.ClassSchemasTable); err != nil {
		return nil, err
	}
	if r.attributes, err = storage.GetTable(types.AttributesTable); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Registry) lock(name string) func() {
	m, _ := r.locks.LoadOrStore(name, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Get returns the schema with the given ID.
func (r *Registry) Get(id string) (*types.Schema, error) {
	row, err := r.schemas.Get(id)
	if err != nil {
		return nil, err
	}
	return row.(*types.Schema), nil
}

// Resolve returns name at version, or the latest version when version is
// empty. Returns ErrNotFound when absent.
func (r *Registry) Resolve(name, version string) (*types.Schema, error) {
	filter := types.Filter{"name": name}
	if version != "" {
		filter["version"] = version
	}
	found, err := r.fetch(filter)
	if err != nil {
		return nil, err
	}
	if s := latest(found); s != nil {
		return s, nil
	}
	if version == "" {
		return nil, errors.Wrapf(types.ErrNotFound, "schema %s", name)
	}
	return nil, errors.Wrapf(types.ErrNotFound, "schema %s version %s", name, version)
}

// List returns every schema, or every version of name, ordered by name and
// then version.
func (r *Registry) List(name string) ([]*types.Schema, error) {
	filter := types.Filter{}
	if name != "" {
		filter["name"] = name
	}
	found, err := r.fetch(filter)
	if err != nil {
		return nil, err
	}
	byName := make(map[string][]*types.Schema)
	var names []string
	for _, s := range found {
		if _, ok := byName[s.Name]; !ok {
			names = append(names, s.Name)
		}
		byName[s.Name] = append(byName[s.Name], s)
	}
	out := make([]*types.Schema, 0, len(found))
	for _, n := range names {
		versions := byName[n]
		sortByVersion(versions)
		out = append(out, versions...)
	}
	return out, nil
}

// Versions returns the versions of name, oldest first.
func (r *Registry) Versions(name string) ([]*types.Schema, error) {
	found, err := r.List(name)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, errors.Wrapf(types.ErrNotFound, "schema %s", name)
	}
	return found, nil
}

// IsReferenced reports whether any entity class lists the schema or any
// attribute, live or tombstoned, is bound to it.
func (r *Registry) IsReferenced(id string) (bool, error) {
	links, err := r.links.Fetch(types.Filter{"schema_id": id, "limit": 1})
	if err != nil {
		return false, err
	}
	if len(links) > 0 {
		return true, nil
	}
	attrs, err := r.attributes.Fetch(types.Filter{"schema_id": id, "limit": 1})
	if err != nil {
		return false, err
	}
	return len(attrs) > 0, nil
}

// Save persists s and returns the stored row. A new schema without a version
// becomes 1.0, or the next minor version when the name already exists. An
// existing schema that is referenced is never changed: the edit is saved as
// a clone under the next version and the original row stays as it was.
func (r *Registry) Save(s *types.Schema) (*types.Schema, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	unlock := r.lock(s.Name)
	defer unlock()

	if s.SchemaID == "" {
		out := s.Copy()
		if out.Version == "" {
			existing, err := r.fetch(types.Filter{"name": s.Name})
			if err != nil {
				return nil, err
			}
			if newest := latest(existing); newest != nil {
				if out.Version, err = nextVersion(newest.Version, versionsOf(existing)); err != nil {
					return nil, err
				}
			} else {
				out.Version = types.DefaultVersion
			}
		} else if _, err := parseVersion(out.Version); err != nil {
			return nil, err
		}
		if _, err := r.schemas.Set("", out); err != nil {
			return nil, err
		}
		return out, nil
	}

	stored, err := r.Get(s.SchemaID)
	if err != nil {
		return nil, err
	}
	inUse, err := r.IsReferenced(stored.SchemaID)
	if err != nil {
		return nil, err
	}
	if inUse {
		r.log.Info("schema in use, saving as new version",
			zap.String("schema", s.Name),
			zap.String("version", stored.Version),
		)
		return r.clone(s, stored.Version)
	}
	out := s.Copy()
	if out.Version == "" {
		out.Version = stored.Version
	}
	if _, err := parseVersion(out.Version); err != nil {
		return nil, err
	}
	out.CreatedAt = stored.CreatedAt
	if _, err := r.schemas.Set(out.SchemaID, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Clone stores a copy of s under the next free minor version of its major
// and returns it. s itself is not modified.
func (r *Registry) Clone(s *types.Schema) (*types.Schema, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	unlock := r.lock(s.Name)
	defer unlock()

	base := s.Version
	if base == "" {
		base = types.DefaultVersion
	}
	return r.clone(s, base)
}

// clone must run under the name lock.
func (r *Registry) clone(s *types.Schema, base string) (*types.Schema, error) {
	var lastErr error
	for attempt := 0; attempt < cloneAttempts; attempt++ {
		existing, err := r.fetch(types.Filter{"name": s.Name})
		if err != nil {
			return nil, err
		}
		out := s.Copy()
		out.SchemaID = ""
		out.CreatedAt = time.Time{}
		if out.Version, err = nextVersion(base, versionsOf(existing)); err != nil {
			return nil, err
		}
		if _, err := r.schemas.Set("", out); err != nil {
			if errors.Is(err, types.ErrConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}
		r.log.Debug("schema cloned",
			zap.String("schema", out.Name),
			zap.String("from", base),
			zap.String("to", out.Version),
		)
		return out, nil
	}
	return nil, lastErr
}

// Delete removes a schema. Schemas listed by a class or bound to attributes
// fail with ErrConflict.
func (r *Registry) Delete(id string) error {
	stored, err := r.Get(id)
	if err != nil {
		return err
	}
	unlock := r.lock(stored.Name)
	defer unlock()

	inUse, err := r.IsReferenced(id)
	if err != nil {
		return err
	}
	if inUse {
		return errors.WithHint(
			errors.Wrapf(types.ErrConflict, "schema %s version %s is referenced", stored.Name, stored.Version),
			"detach it from every class and purge tombstoned attributes first")
	}
	return r.schemas.Delete(id)
}

// Defaults returns a private copy of the schema's default value, or nil.
func (r *Registry) Defaults(s *types.Schema) any {
	if !s.HasDefault() {
		return nil
	}
	b, err := json.Marshal(s.Default)
	if err != nil {
		return s.Default
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return s.Default
	}
	return out
}

func (r *Registry) fetch(filter types.Filter) ([]*types.Schema, error) {
	rows, err := r.schemas.Fetch(filter)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Schema, len(rows))
	for i, row := range rows {
		out[i] = row.(*types.Schema)
	}
	return out, nil
}

func versionsOf(schemas []*types.Schema) []string {
	out := make([]string, len(schemas))
	for i, s := range schemas {
		out[i] = s.Version
	}
	return out
}
