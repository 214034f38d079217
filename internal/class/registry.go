// Package class manages the entity class tree and each class's schema set.
// It is the composition root of the engine: it owns the entity store (to
// which it supplies inherited schema sets) and the migration engine it runs
// whenever a class's schema set is saved.
package class

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/eavl/internal/entity"
	"github.com/mesh-intelligence/eavl/internal/migration"
	"github.com/mesh-intelligence/eavl/internal/schema"
	"github.com/mesh-intelligence/eavl/internal/worker"
	"github.com/mesh-intelligence/eavl/pkg/types"
)

// Registry reads and writes entity classes and their schema bindings.
type Registry struct {
	classes  types.Table
	links    types.Table
	entities types.Table
	schemas  *schema.Registry
	store    *entity.Store
	migrator *migration.Engine
	log      *zap.Logger

	// mu serializes schema-set and tree changes so every diff is computed
	// against the persisted state.
	mu sync.Mutex
}

type options struct {
	log        *zap.Logger
	pool       *worker.Pool
	batch      int
	entityOpts []entity.Option
}

// Option configures a Registry.
type Option func(*options)

// WithLogger sets the logger of the registry, its entity store and its
// migration engine.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithPool runs migrations on pool.
func WithPool(p *worker.Pool) Option {
	return func(o *options) { o.pool = p }
}

// WithBatchSize sets the migration checkpoint interval.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batch = n }
}

// WithEntityOptions passes options to the entity store.
func WithEntityOptions(opts ...entity.Option) Option {
	return func(o *options) { o.entityOpts = append(o.entityOpts, opts...) }
}

// New wires a registry, its entity store and its migration engine over an
// attached storage.
func New(storage types.Storage, schemas *schema.Registry, opts ...Option) (*Registry, error) {
	o := options{log: zap.NewNop(), batch: migration.DefaultBatchSize}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Registry{schemas: schemas, log: o.log}
	var err error
	if r.classes, err = storage.GetTable(types.ClassesTable); err != nil {
		return nil, err
	}
	if r.links, err = storage.GetTable(types.ClassSchemasTable); err != nil {
		return nil, err
	}
	if r.entities, err = storage.GetTable(types.EntitiesTable); err != nil {
		return nil, err
	}

	entityOpts := append([]entity.Option{entity.WithLogger(o.log.Named("entity"))}, o.entityOpts...)
	if r.store, err = entity.New(storage, schemas, r, entityOpts...); err != nil {
		return nil, err
	}
	migrationOpts := []migration.Option{
		migration.WithLogger(o.log.Named("migration")),
		migration.WithBatchSize(o.batch),
	}
	if o.pool != nil {
		migrationOpts = append(migrationOpts, migration.WithPool(o.pool))
	}
	if r.migrator, err = migration.New(storage, r.store, migrationOpts...); err != nil {
		return nil, err
	}
	return r, nil
}

// Entities returns the entity store bound to this registry.
func (r *Registry) Entities() *entity.Store {
	return r.store
}

// CreateClass adds a class under parentID, or a root class when parentID is
// empty. Titles are unique.
func (r *Registry) CreateClass(title, description, parentID string) (*types.EntityClass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &types.EntityClass{Title: strings.TrimSpace(title), Description: description, ParentID: parentID}
	if _, err := r.classes.Set("", c); err != nil {
		return nil, err
	}
	r.log.Info("class created", zap.String("class", c.ClassID), zap.String("title", c.Title))
	return c, nil
}

// GetClass returns a class by ID or ErrNotFound.
func (r *Registry) GetClass(id string) (*types.EntityClass, error) {
	row, err := r.classes.Get(id)
	if err != nil {
		return nil, err
	}
	return row.(*types.EntityClass), nil
}

// Lookup returns the class with the given ID or, failing that, title.
func (r *Registry) Lookup(idOrTitle string) (*types.EntityClass, error) {
	c, err := r.GetClass(idOrTitle)
	if err == nil || !errors.Is(err, types.ErrNotFound) {
		return c, err
	}
	found, err := r.fetch(types.Filter{"title": idOrTitle})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, errors.Wrapf(types.ErrNotFound, "class %s", idOrTitle)
	}
	return found[0], nil
}

// ListClasses returns every class in tree order.
func (r *Registry) ListClasses() ([]*types.EntityClass, error) {
	return r.fetch(types.Filter{})
}

// Children returns the direct children of a class.
func (r *Registry) Children(id string) ([]*types.EntityClass, error) {
	if _, err := r.GetClass(id); err != nil {
		return nil, err
	}
	return r.fetch(types.Filter{"parent_id": id})
}

// Subtree returns a class and all its descendants in tree order.
func (r *Registry) Subtree(id string) ([]*types.EntityClass, error) {
	c, err := r.GetClass(id)
	if err != nil {
		return nil, err
	}
	return r.fetch(types.Filter{"path_prefix": c.Path})
}

// Update changes a class's title and description.
func (r *Registry) Update(id, title, description string) (*types.EntityClass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.GetClass(id)
	if err != nil {
		return nil, err
	}
	if title != "" {
		c.Title = strings.TrimSpace(title)
	}
	c.Description = description
	if _, err := r.classes.Set(c.ClassID, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Reparent moves a class (and its subtree) under parentID, or to the root
// when parentID is empty. A parent inside the subtree fails with
// ErrInvalidParent. The inherited schema sets of the moved subtree change,
// so its entities are migrated.
func (r *Registry) Reparent(ctx context.Context, id, parentID string) ([]*migration.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.GetClass(id)
	if err != nil {
		return nil, err
	}
	return r.reshape(ctx, c, func() error {
		c.ParentID = parentID
		_, err := r.classes.Set(c.ClassID, c)
		return err
	})
}

// DeleteClass removes a class and its schema bindings. A class that still
// has child classes or entities fails with ErrConflict.
func (r *Registry) DeleteClass(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.GetClass(id); err != nil {
		return err
	}
	children, err := r.fetch(types.Filter{"parent_id": id, "limit": 1})
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return errors.WithHint(errors.Wrapf(types.ErrConflict, "class %s has child classes", id),
			"move or delete the child classes first")
	}
	ents, err := r.entities.Fetch(types.Filter{"class_id": id, "limit": 1})
	if err != nil {
		return err
	}
	if len(ents) > 0 {
		return errors.WithHint(errors.Wrapf(types.ErrConflict, "class %s has entities", id),
			"destroy the entities first")
	}
	if err := r.classes.Delete(id); err != nil {
		return err
	}
	r.log.Info("class deleted", zap.String("class", id))
	return nil
}

// Purge hard-deletes every tombstoned attribute and its values.
func (r *Registry) Purge(ctx context.Context) (int, error) {
	return r.store.Purge(ctx)
}

func (r *Registry) fetch(filter types.Filter) ([]*types.EntityClass, error) {
	rows, err := r.classes.Fetch(filter)
	if err != nil {
		return nil, err
	}
	out := make([]*types.EntityClass, len(rows))
	for i, row := range rows {
		out[i] = row.(*types.EntityClass)
	}
	return out, nil
}
