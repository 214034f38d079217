// Package migration reconciles the attributes of existing entities with a
// changed class schema set. A run walks the class's entities in ID order,
// one batch at a time, and records a checkpoint after every batch so an
// interrupted run can resume where it stopped. Re-applying a run to an
// already migrated entity changes nothing.
package migration

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/eavl/internal/entity"
	"github.com/mesh-intelligence/eavl/internal/worker"
	"github.com/mesh-intelligence/eavl/pkg/types"
)

// DefaultBatchSize is the number of entities migrated between checkpoints.
const DefaultBatchSize = 100

// Entities is the part of the entity store a migration needs.
type Entities interface {
	ListEntities(classID, after string, limit int) ([]*types.Entity, error)
	Attribute(entityID, code string) (*types.Attribute, error)
	AddAttribute(ctx context.Context, entityID, schemaID, code string) (*types.Attribute, error)
	RebindAttribute(ctx context.Context, attributeID string, to *types.Schema, convert entity.Converter) ([]error, error)
	RemoveAttribute(ctx context.Context, entityID, code string) error
}

// Report summarizes a migration run.
type Report struct {
	ClassID  string  `json:"class_id"`
	Entities int     `json:"entities"`
	Diff     Diff    `json:"diff"`
	Errors   []error `json:"-"`
}

// Engine runs class migrations.
type Engine struct {
	entities    Entities
	checkpoints types.Table
	pool        *worker.Pool
	batch       int
	convert     entity.Converter
	log         *zap.Logger
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithPool migrates the entities of a batch concurrently on pool. Without
// a pool entities are migrated one after another.
func WithPool(p *worker.Pool) Option {
	return func(e *Engine) { e.pool = p }
}

// WithBatchSize sets the checkpoint interval.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batch = n
		}
	}
}

// New creates an engine over attached storage.
func New(storage types.Storage, entities Entities, opts ...Option) (*Engine, error) {
	checkpoints, err := storage.GetTable(types.CheckpointsTable)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		entities:    entities,
		checkpoints: checkpoints,
		batch:       DefaultBatchSize,
		convert:     ConvertValue,
		log:         zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Migrate applies diff to every entity of classID: added schemas become new
// attributes carrying their default, updated schemas rebind the attribute
// with the same code (converting stored values when the field type
// changes), and removed schemas tombstone their attribute. target is the
// class's new schema set; it supplies the schemas named by Added and
// Updated. Per-entity conversion failures are collected in the report and
// never stop the run. When ctx is cancelled the run stops after the current
// batch and its checkpoint is kept for Resume. A class with an interrupted
// migration fails with ErrConflict until that migration is resumed.
func (e *Engine) Migrate(ctx context.Context, classID string, diff Diff, target []*types.Schema) (*Report, error) {
	if err := e.Settled(classID); err != nil {
		return nil, err
	}
	cp := &types.MigrationCheckpoint{
		ClassID: classID,
		Added:   diff.Added,
		Removed: diff.Removed,
		Updated: diff.Updated,
	}
	if err := covers(cp, target); err != nil {
		return nil, err
	}
	if _, err := e.checkpoints.Set(classID, cp); err != nil {
		return nil, errors.Wrap(err, "recording migration checkpoint")
	}
	return e.run(ctx, cp, target)
}

// Pending returns the checkpoint of an interrupted migration of classID, or
// ErrNotFound.
func (e *Engine) Pending(classID string) (*types.MigrationCheckpoint, error) {
	row, err := e.checkpoints.Get(classID)
	if err != nil {
		return nil, err
	}
	return row.(*types.MigrationCheckpoint), nil
}

// Settled fails with ErrConflict when classID has an interrupted migration.
func (e *Engine) Settled(classID string) error {
	cp, err := e.Pending(classID)
	switch {
	case err == nil:
		return errors.WithHint(
			errors.Wrapf(types.ErrConflict, "class %s has an interrupted migration (after entity %q)", classID, cp.LastEntityID),
			"resume it first: eavl class migrate "+classID+" --resume")
	case errors.Is(err, types.ErrNotFound):
		return nil
	default:
		return err
	}
}

// Resume continues an interrupted migration of classID after the last
// entity its checkpoint records. It fails with ErrNotFound when nothing is
// pending.
func (e *Engine) Resume(ctx context.Context, classID string, target []*types.Schema) (*Report, error) {
	cp, err := e.Pending(classID)
	if err != nil {
		return nil, err
	}
	e.log.Info("resuming migration", zap.String("class", classID), zap.String("after", cp.LastEntityID))
	return e.run(ctx, cp, target)
}

func (e *Engine) run(ctx context.Context, cp *types.MigrationCheckpoint, target []*types.Schema) (*Report, error) {
	if err := covers(cp, target); err != nil {
		return nil, err
	}
	schemas := byName(target)

	report := &Report{
		ClassID: cp.ClassID,
		Diff:    Diff{Added: cp.Added, Removed: cp.Removed, Updated: cp.Updated},
	}
	start := e.now()
	e.log.Info("migration started",
		zap.String("class", cp.ClassID),
		zap.Strings("added", cp.Added),
		zap.Strings("removed", cp.Removed),
		zap.Strings("updated", cp.Updated),
	)

	for {
		if err := ctx.Err(); err != nil {
			e.log.Warn("migration interrupted",
				zap.String("class", cp.ClassID),
				zap.String("after", cp.LastEntityID),
				zap.Error(err))
			return report, err
		}
		batch, err := e.entities.ListEntities(cp.ClassID, cp.LastEntityID, e.batch)
		if err != nil {
			return report, err
		}
		if len(batch) == 0 {
			break
		}

		failures, err := e.migrateBatch(ctx, batch, cp, schemas)
		report.Errors = append(report.Errors, failures...)
		if err != nil {
			return report, err
		}
		report.Entities += len(batch)

		cp.LastEntityID = batch[len(batch)-1].EntityID
		if _, err := e.checkpoints.Set(cp.ClassID, cp); err != nil {
			return report, errors.Wrap(err, "recording migration checkpoint")
		}
		e.log.Debug("migration batch done",
			zap.String("class", cp.ClassID),
			zap.Int("entities", report.Entities),
			zap.String("last", cp.LastEntityID))
	}

	if err := e.checkpoints.Delete(cp.ClassID); err != nil && !errors.Is(err, types.ErrNotFound) {
		return report, err
	}
	e.log.Info("migration finished",
		zap.String("class", cp.ClassID),
		zap.Int("entities", report.Entities),
		zap.Int("errors", len(report.Errors)),
		zap.Duration("took", e.now().Sub(start)))
	return report, nil
}

// covers checks that target holds every schema the checkpoint adds or
// updates.
func covers(cp *types.MigrationCheckpoint, target []*types.Schema) error {
	schemas := byName(target)
	for _, names := range [][]string{cp.Added, cp.Updated} {
		for _, name := range names {
			if _, ok := schemas[name]; !ok {
				return errors.Wrapf(types.ErrNotFound, "schema %s is not in the target set", name)
			}
		}
	}
	return nil
}

// migrateBatch migrates every entity of a batch. The batch always runs to
// the end so the checkpoint stays exact; cancellation is honoured between
// batches.
func (e *Engine) migrateBatch(ctx context.Context, batch []*types.Entity, cp *types.MigrationCheckpoint, schemas map[string]*types.Schema) ([]error, error) {
	ctx = context.WithoutCancel(ctx)
	if e.pool == nil {
		var failures []error
		for _, ent := range batch {
			f, err := e.migrateEntity(ctx, ent.EntityID, cp, schemas)
			failures = append(failures, f...)
			if err != nil {
				return failures, err
			}
		}
		return failures, nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []error
		firstErr error
	)
	for _, ent := range batch {
		id := ent.EntityID
		wg.Add(1)
		err := e.pool.Submit(ctx, func(ctx context.Context) {
			defer wg.Done()
			f, err := e.migrateEntity(ctx, id, cp, schemas)
			mu.Lock()
			defer mu.Unlock()
			failures = append(failures, f...)
			if err != nil && firstErr == nil {
				firstErr = errors.Wrapf(err, "entity %s", id)
			}
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			break
		}
	}
	wg.Wait()
	return failures, firstErr
}

// migrateEntity applies the checkpoint's changes to one entity. Steps that
// are already in place are skipped.
func (e *Engine) migrateEntity(ctx context.Context, entityID string, cp *types.MigrationCheckpoint, schemas map[string]*types.Schema) ([]error, error) {
	for _, name := range cp.Added {
		sch := schemas[name]
		if sch.IsRelation {
			continue
		}
		if _, err := e.entities.Attribute(entityID, name); err == nil {
			continue
		} else if !errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
		if _, err := e.entities.AddAttribute(ctx, entityID, sch.SchemaID, name); err != nil {
			return nil, errors.Wrapf(err, "adding %s", name)
		}
	}

	var failures []error
	for _, name := range cp.Updated {
		a, err := e.entities.Attribute(entityID, name)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return failures, err
		}
		f, err := e.entities.RebindAttribute(ctx, a.AttributeID, schemas[name], e.convert)
		failures = append(failures, f...)
		if err != nil {
			return failures, errors.Wrapf(err, "rebinding %s", name)
		}
	}

	for _, name := range cp.Removed {
		err := e.entities.RemoveAttribute(ctx, entityID, name)
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			return failures, errors.Wrapf(err, "removing %s", name)
		}
	}
	return failures, nil
}
