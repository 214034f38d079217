// Package eavl is the public entry point of the engine. Open attaches a
// storage backend and wires the schema registry, class registry, entity
// store, migration engine and graph engine behind a single Engine value.
//
// Example:
//
//	eng, err := eavl.Open(types.Config{Backend: types.BackendSQLite, DataDir: dir})
//	if err != nil {
//		return err
//	}
//	defer eng.Close()
//
//	class, _ := eng.CreateClass("person", "", "")
//	e, _ := eng.CreateEntity(ctx, class.ClassID, "Ada")
package eavl

import (
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/eavl/internal/class"
	"github.com/mesh-intelligence/eavl/internal/entity"
	"github.com/mesh-intelligence/eavl/internal/graph"
	"github.com/mesh-intelligence/eavl/internal/logging"
	"github.com/mesh-intelligence/eavl/internal/migration"
	"github.com/mesh-intelligence/eavl/internal/schema"
	"github.com/mesh-intelligence/eavl/internal/sqlstore"
	"github.com/mesh-intelligence/eavl/internal/worker"
	"github.com/mesh-intelligence/eavl/pkg/types"
)

// Version is the engine release.
const Version = "0.1.0"

// Graph, migration and traversal types shared with callers.
type (
	Node           = graph.Node
	SubtreeOptions = graph.SubtreeOptions
	PathOptions    = graph.PathOptions
	PathMode       = graph.PathMode
	Path           = graph.Path
	Diff           = migration.Diff
	Report         = migration.Report
)

// Path modes.
const (
	PathFirst = graph.PathFirst
	PathAll   = graph.PathAll
)

// Engine is an attached EAVL engine. It is safe for concurrent use.
type Engine struct {
	backend  *sqlstore.Backend
	schemas  *schema.Registry
	classes  *class.Registry
	entities *entity.Store
	graph    *graph.Engine
	pool     *worker.Pool
	log      *zap.Logger
	owned    *logging.Logger
}

type options struct {
	log   *zap.Logger
	clock func() time.Time
}

// Option configures Open.
type Option func(*options)

// WithLogger makes the engine log to l instead of a logger built from the
// configured level and format.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithClock replaces time.Now for entity timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// Open validates cfg, attaches the backend and builds the engine.
func Open(cfg types.Config, opts ...Option) (*Engine, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{log: o.log}
	if e.log == nil {
		l, err := logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return nil, err
		}
		e.owned = l
		e.log = l.Logger
	}

	e.backend = sqlstore.NewBackend(sqlstore.WithLogger(e.log))
	if err := e.backend.Attach(cfg); err != nil {
		e.syncLog()
		return nil, err
	}
	if err := e.wire(cfg, o); err != nil {
		_ = e.Close()
		return nil, err
	}
	e.log.Debug("engine opened", zap.String("backend", cfg.Backend), zap.String("version", Version))
	return e, nil
}

func (e *Engine) wire(cfg types.Config, o options) error {
	var err error
	resolver := schema.NewRefResolver(cfg.RefTimeout, cfg.RefRate, e.log)
	e.schemas, err = schema.New(e.backend, schema.WithLogger(e.log), schema.WithResolver(resolver))
	if err != nil {
		return err
	}
	e.pool, err = worker.New("migration", cfg.MigrationWorkers, e.log)
	if err != nil {
		return err
	}
	entityOpts := []entity.Option{entity.WithLogger(e.log)}
	if o.clock != nil {
		entityOpts = append(entityOpts, entity.WithClock(o.clock))
	}
	e.classes, err = class.New(e.backend, e.schemas,
		class.WithLogger(e.log),
		class.WithPool(e.pool),
		class.WithBatchSize(cfg.MigrationBatch),
		class.WithEntityOptions(entityOpts...),
	)
	if err != nil {
		return err
	}
	e.entities = e.classes.Entities()
	e.graph = graph.New(e.entities, graph.WithLogger(e.log))
	return nil
}

// Close releases the migration pool and detaches the backend. It is safe to
// call more than once.
func (e *Engine) Close() error {
	if e.pool != nil {
		e.pool.Release()
		e.pool = nil
	}
	err := e.backend.Detach()
	e.syncLog()
	return err
}

func (e *Engine) syncLog() {
	if e.owned != nil {
		e.owned.Sync()
	}
}

// Logger returns the engine logger.
func (e *Engine) Logger() *zap.Logger { return e.log }

// classID accepts a class ID or title. An empty reference stays empty so
// search helpers can span every class.
func (e *Engine) classID(ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	c, err := e.classes.Lookup(ref)
	if err != nil {
		return "", err
	}
	return c.ClassID, nil
}

func (e *Engine) classIDs(refs []string) ([]string, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	out := make([]string, len(refs))
	for i, ref := range refs {
		id, err := e.classID(ref)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

// Schemas

// SaveSchema stores s. Saving a schema that a class uses stores a new
// version instead of changing the existing row.
func (e *Engine) SaveSchema(s *types.Schema) (*types.Schema, error) {
	return e.schemas.Save(s)
}

// CloneSchema stores a copy of s under the next minor version.
func (e *Engine) CloneSchema(s *types.Schema) (*types.Schema, error) {
	return e.schemas.Clone(s)
}

// GetSchema returns the schema with the given ID.
func (e *Engine) GetSchema(id string) (*types.Schema, error) {
	return e.schemas.Get(id)
}

// ResolveSchema returns name at version, or its latest version.
func (e *Engine) ResolveSchema(name, version string) (*types.Schema, error) {
	return e.schemas.Resolve(name, version)
}

// ListSchemas returns every schema, or every version of name.
func (e *Engine) ListSchemas(name string) ([]*types.Schema, error) {
	return e.schemas.List(name)
}

// DeleteSchema removes an unreferenced schema.
func (e *Engine) DeleteSchema(id string) error {
	return e.schemas.Delete(id)
}

// ValidateValue checks value against s and returns every violation.
func (e *Engine) ValidateValue(ctx context.Context, s *types.Schema, value any) (types.ValidationErrors, error) {
	return e.schemas.Validate(ctx, s, value)
}

// LoadSchemas saves the schema documents of a YAML catalog.
func (e *Engine) LoadSchemas(r io.Reader) ([]*types.Schema, error) {
	return e.schemas.Load(r)
}

// Classes

// CreateClass adds a class under parent (ID or title; empty for a root).
func (e *Engine) CreateClass(title, description, parent string) (*types.EntityClass, error) {
	parentID, err := e.classID(parent)
	if err != nil {
		return nil, err
	}
	return e.classes.CreateClass(title, description, parentID)
}

// GetClass looks a class up by ID or title.
func (e *Engine) GetClass(ref string) (*types.EntityClass, error) {
	return e.classes.Lookup(ref)
}

// ListClasses returns every class ordered by path.
func (e *Engine) ListClasses() ([]*types.EntityClass, error) {
	return e.classes.ListClasses()
}

// Children returns the direct subclasses of ref.
func (e *Engine) Children(ref string) ([]*types.EntityClass, error) {
	id, err := e.requireClass(ref)
	if err != nil {
		return nil, err
	}
	return e.classes.Children(id)
}

// UpdateClass changes the title and description of ref.
func (e *Engine) UpdateClass(ref, title, description string) (*types.EntityClass, error) {
	id, err := e.requireClass(ref)
	if err != nil {
		return nil, err
	}
	return e.classes.Update(id, title, description)
}

// MoveClass reparents ref under parent (empty for a root) and migrates the
// moved subtree.
func (e *Engine) MoveClass(ctx context.Context, ref, parent string) ([]*Report, error) {
	id, err := e.requireClass(ref)
	if err != nil {
		return nil, err
	}
	parentID, err := e.classID(parent)
	if err != nil {
		return nil, err
	}
	return e.classes.Reparent(ctx, id, parentID)
}

// DeleteClass removes a class without children or entities.
func (e *Engine) DeleteClass(ref string) error {
	id, err := e.requireClass(ref)
	if err != nil {
		return err
	}
	return e.classes.DeleteClass(id)
}

// DirectSchemas returns the schemas bound to ref itself.
func (e *Engine) DirectSchemas(ref string) ([]*types.Schema, error) {
	id, err := e.requireClass(ref)
	if err != nil {
		return nil, err
	}
	return e.classes.DirectSchemas(id)
}

// EffectiveSchemas returns the schemas entities of ref carry, inherited
// bindings included.
func (e *Engine) EffectiveSchemas(ref string) ([]*types.Schema, error) {
	id, err := e.requireClass(ref)
	if err != nil {
		return nil, err
	}
	return e.classes.EffectiveSchemas(id)
}

// DiffSchemas compares the persisted schema set of ref with schemaIDs.
func (e *Engine) DiffSchemas(ref string, schemaIDs []string) (Diff, error) {
	id, err := e.requireClass(ref)
	if err != nil {
		return Diff{}, err
	}
	return e.classes.DiffSchemas(id, schemaIDs)
}

// SaveClassSchemas replaces the direct schema set of ref and migrates every
// class whose effective set changed.
func (e *Engine) SaveClassSchemas(ctx context.Context, ref string, schemaIDs []string) ([]*Report, error) {
	id, err := e.requireClass(ref)
	if err != nil {
		return nil, err
	}
	return e.classes.SetSchemas(ctx, id, schemaIDs)
}

// AttachSchema binds a schema to ref, replacing a direct binding of the
// same name.
func (e *Engine) AttachSchema(ctx context.Context, ref, schemaID string) ([]*Report, error) {
	id, err := e.requireClass(ref)
	if err != nil {
		return nil, err
	}
	return e.classes.Attach(ctx, id, schemaID)
}

// DetachSchema unbinds the schema called name from ref.
func (e *Engine) DetachSchema(ctx context.Context, ref, name string) ([]*Report, error) {
	id, err := e.requireClass(ref)
	if err != nil {
		return nil, err
	}
	return e.classes.Detach(ctx, id, name)
}

// Migrate applies diff to the entities of ref.
func (e *Engine) Migrate(ctx context.Context, ref string, diff Diff) (*Report, error) {
	id, err := e.requireClass(ref)
	if err != nil {
		return nil, err
	}
	return e.classes.Migrate(ctx, id, diff)
}

// PendingMigration returns the checkpoint of an interrupted migration of
// ref, or ErrNotFound.
func (e *Engine) PendingMigration(ref string) (*types.MigrationCheckpoint, error) {
	id, err := e.requireClass(ref)
	if err != nil {
		return nil, err
	}
	return e.classes.Pending(id)
}

// ResumeMigration continues an interrupted migration of ref.
func (e *Engine) ResumeMigration(ctx context.Context, ref string) (*Report, error) {
	id, err := e.requireClass(ref)
	if err != nil {
		return nil, err
	}
	return e.classes.Resume(ctx, id)
}

// Purge hard-deletes tombstoned attributes and their values.
func (e *Engine) Purge(ctx context.Context) (int, error) {
	return e.classes.Purge(ctx)
}

func (e *Engine) requireClass(ref string) (string, error) {
	if ref == "" {
		return "", errors.Wrap(types.ErrInvalidID, "class reference is empty")
	}
	return e.classID(ref)
}

// Entities

// CreateEntity creates an entity of class (ID or title) with one attribute
// per effective schema.
func (e *Engine) CreateEntity(ctx context.Context, class, title string) (*types.Entity, error) {
	id, err := e.requireClass(class)
	if err != nil {
		return nil, err
	}
	return e.entities.CreateEntity(ctx, id, title)
}

// GetByUUID returns the entity with the given ID.
func (e *Engine) GetByUUID(id string) (*types.Entity, error) {
	return e.entities.GetByUUID(id)
}

// RenameEntity changes the title of an entity.
func (e *Engine) RenameEntity(id, title string) (*types.Entity, error) {
	return e.entities.Rename(id, title)
}

// ListEntities pages through the entities of class in creation order,
// starting after the entity ID after.
func (e *Engine) ListEntities(class, after string, limit int) ([]*types.Entity, error) {
	id, err := e.requireClass(class)
	if err != nil {
		return nil, err
	}
	return e.entities.ListEntities(id, after, limit)
}

// Attributes returns the live attributes of an entity.
func (e *Engine) Attributes(entityID string) ([]*types.Attribute, error) {
	return e.entities.Attributes(entityID)
}

// AddAttribute binds schemaID to the entity under code.
func (e *Engine) AddAttribute(ctx context.Context, entityID, schemaID, code string) (*types.Attribute, error) {
	return e.entities.AddAttribute(ctx, entityID, schemaID, code)
}

// RemoveAttribute tombstones the attribute code of an entity.
func (e *Engine) RemoveAttribute(ctx context.Context, entityID, code string) error {
	return e.entities.RemoveAttribute(ctx, entityID, code)
}

// GetData assembles the document of an entity.
func (e *Engine) GetData(ctx context.Context, entityID string, opts types.DataOptions) (*types.Document, error) {
	return e.entities.GetData(ctx, entityID, opts)
}

// Validate checks attrs against the entity's schemas without writing.
func (e *Engine) Validate(ctx context.Context, entityID string, attrs map[string]any) (types.ValidationErrors, error) {
	return e.entities.Validate(ctx, entityID, attrs)
}

// SetData writes attrs to an entity. Field errors are returned as a list
// and nothing is written when it is not empty.
func (e *Engine) SetData(ctx context.Context, entityID string, attrs map[string]any, validate bool) (types.ValidationErrors, error) {
	return e.entities.SetData(ctx, entityID, attrs, validate)
}

// SetValue writes one attribute without validation. A zero at means now.
func (e *Engine) SetValue(ctx context.Context, entityID, code string, value any, at time.Time) error {
	return e.entities.SetValue(ctx, entityID, code, value, at)
}

// DestroyEntity deletes an entity. Without force, incoming links block the
// delete with ErrHasIncomingLinks.
func (e *Engine) DestroyEntity(ctx context.Context, id string, force bool) error {
	return e.entities.DestroyEntity(ctx, id, force)
}

// Links

// Link points the relation attribute code of sourceID at destID.
func (e *Engine) Link(ctx context.Context, sourceID, code, destID string) (*types.Attribute, error) {
	return e.entities.Link(ctx, sourceID, code, destID)
}

// Unlink clears the relation attribute code of sourceID.
func (e *Engine) Unlink(ctx context.Context, sourceID, code string) error {
	return e.entities.Unlink(ctx, sourceID, code)
}

// GetOutgoingLinks returns the live relations held by an entity.
func (e *Engine) GetOutgoingLinks(entityID string) ([]types.Link, error) {
	return e.entities.GetOutgoingLinks(entityID)
}

// GetIncomingLinks returns the live relations that point at an entity.
func (e *Engine) GetIncomingLinks(entityID string) ([]types.Link, error) {
	return e.entities.GetIncomingLinks(entityID)
}

// HasDirectLinkTo reports whether source links straight to target, through
// the attribute code when it is not empty.
func (e *Engine) HasDirectLinkTo(source, target, code string) (bool, error) {
	return e.entities.HasDirectLinkTo(source, target, code)
}

// Search

// SearchByAttribute returns the entities of class (empty for all) whose
// attribute code holds value.
func (e *Engine) SearchByAttribute(class, code string, value any) ([]*types.Entity, error) {
	id, err := e.classID(class)
	if err != nil {
		return nil, err
	}
	return e.entities.SearchByAttribute(id, code, value)
}

// SearchRelatedTo returns the entities of class (empty for all) linking to
// target, optionally only through the relation code via.
func (e *Engine) SearchRelatedTo(class, target, via string) ([]*types.Entity, error) {
	id, err := e.classID(class)
	if err != nil {
		return nil, err
	}
	return e.entities.SearchRelatedTo(id, target, via)
}

// Graph

// IsConnectedTo reports whether target is reachable from start within
// maxDepth links. A non-positive maxDepth uses the default.
func (e *Engine) IsConnectedTo(ctx context.Context, start, target string, maxDepth int) (bool, error) {
	return e.graph.IsConnectedTo(ctx, start, target, maxDepth)
}

// Subtree returns the nodes reachable from root. Entity types may be given
// as class IDs or titles.
func (e *Engine) Subtree(ctx context.Context, root string, opts SubtreeOptions) (map[string]*Node, error) {
	ids, err := e.classIDs(opts.EntityTypes)
	if err != nil {
		return nil, err
	}
	opts.EntityTypes = ids
	return e.graph.Subtree(ctx, root, opts)
}

// FindPath searches for paths from start to target. Allowed entity types
// may be given as class IDs or titles.
func (e *Engine) FindPath(ctx context.Context, start, target string, opts PathOptions) ([]Path, error) {
	ids, err := e.classIDs(opts.AllowedEntityTypes)
	if err != nil {
		return nil, err
	}
	opts.AllowedEntityTypes = ids
	return e.graph.FindPath(ctx, start, target, opts)
}

// Storage

// Export writes every table to dir as JSONL files.
func (e *Engine) Export(dir string) error {
	return e.backend.Export(dir)
}

// Import loads the JSONL files written by Export.
func (e *Engine) Import(dir string) error {
	return e.backend.Import(dir)
}
