// Package entity implements the entity store: entities, the attributes bound
// to them and their values, including time-series history, uniqueness
// policies, relation links and the destructive cascade.
package entity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

// Schemas is the part of the schema registry the store depends on.
type Schemas interface {
	Get(id string) (*types.Schema, error)
	Validate(ctx context.Context, s *types.Schema, value any) (types.ValidationErrors, error)
	Defaults(s *types.Schema) any
}

// SchemaSource yields the effective (inherited) schema set of a class, one
// schema per name.
type SchemaSource interface {
	EffectiveSchemas(classID string) ([]*types.Schema, error)
}

// Store reads and writes entities through the storage tables.
type Store struct {
	classes    types.Table
	entities   types.Table
	attributes types.Table
	values     types.BatchTable
	schemas    Schemas
	source     SchemaSource
	log        *zap.Logger
	now        func() time.Time

	// uniq serializes the check-then-insert of values that carry a unique
	// scope, keyed by the scope's lookup key.
	uniq keyedMutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock replaces the time source used for "now".
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store over attached storage.
func New(storage types.Storage, schemas Schemas, source SchemaSource, opts ...Option) (*Store, error) {
	s := &Store{
		schemas: schemas,
		source:  source,
		log:     zap.NewNop(),
		now:     time.Now,
	}
	var err error
	if s.classes, err = storage.GetTable(types.ClassesTable); err != nil {
		return nil, err
	}
	if s.entities, err = storage.GetTable(types.EntitiesTable); err != nil {
		return nil, err
	}
	if s.attributes, err = storage.GetTable(types.AttributesTable); err != nil {
		return nil, err
	}
	values, err := storage.GetTable(types.ValuesTable)
	if err != nil {
		return nil, err
	}
	batch, ok := values.(types.BatchTable)
	if !ok {
		return nil, errors.Newf("table %s does not support batch inserts", types.ValuesTable)
	}
	s.values = batch
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateEntity allocates an entity of classID and materializes one attribute
// per non-relation schema of the class's effective schema set, storing each
// schema's default value when it has one. Relation attributes are created by
// Link. A failure removes the partially created entity.
func (s *Store) CreateEntity(ctx context.Context, classID, title string) (*types.Entity, error) {
	class, err := s.class(classID)
	if err != nil {
		return nil, err
	}
	set, err := s.source.EffectiveSchemas(class.ClassID)
	if err != nil {
		return nil, err
	}

	e := &types.Entity{ClassID: class.ClassID, Title: title}
	if _, err := s.entities.Set("", e); err != nil {
		return nil, errors.Wrap(err, "creating entity")
	}
	for _, sch := range set {
		if sch.IsRelation {
			continue
		}
		if _, err := s.addAttribute(ctx, e.EntityID, sch, sch.Name); err != nil {
			if delErr := s.entities.Delete(e.EntityID); delErr != nil {
				s.log.Warn("rolling back entity", zap.String("entity", e.EntityID), zap.Error(delErr))
			}
			return nil, errors.Wrapf(err, "attribute %s", sch.Name)
		}
	}
	s.log.Debug("entity created",
		zap.String("entity", e.EntityID),
		zap.String("class", class.Title),
		zap.Int("attributes", len(set)),
	)
	return e, nil
}

// GetByUUID returns the entity with the given UUID or ErrNotFound.
func (s *Store) GetByUUID(id string) (*types.Entity, error) {
	row, err := s.entities.Get(id)
	if err != nil {
		return nil, err
	}
	return row.(*types.Entity), nil
}

// Rename changes an entity's title.
func (s *Store) Rename(id, title string) (*types.Entity, error) {
	e, err := s.GetByUUID(id)
	if err != nil {
		return nil, err
	}
	e.Title = title
	if _, err := s.entities.Set(e.EntityID, e); err != nil {
		return nil, err
	}
	return e, nil
}

// ListEntities returns up to limit entities of classID with IDs greater than
// after, in ID order. A zero limit returns every remaining entity.
func (s *Store) ListEntities(classID, after string, limit int) ([]*types.Entity, error) {
	filter := types.Filter{"after": after}
	if classID != "" {
		filter["class_id"] = classID
	}
	if limit > 0 {
		filter["limit"] = limit
	}
	return s.fetchEntities(filter)
}

// Attributes returns the live attributes of an entity ordered by code.
func (s *Store) Attributes(entityID string) ([]*types.Attribute, error) {
	if _, err := s.GetByUUID(entityID); err != nil {
		return nil, err
	}
	return s.fetchAttributes(types.Filter{"entity_id": entityID, "deleted": false})
}

// Attribute returns the live attribute code of an entity or ErrNotFound.
func (s *Store) Attribute(entityID, code string) (*types.Attribute, error) {
	attrs, err := s.fetchAttributes(types.Filter{"entity_id": entityID, "code": code, "deleted": false})
	if err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return nil, errors.Wrapf(types.ErrNotFound, "attribute %s on entity %s", code, entityID)
	}
	return attrs[0], nil
}

func (s *Store) class(id string) (*types.EntityClass, error) {
	row, err := s.classes.Get(id)
	if err != nil {
		return nil, err
	}
	return row.(*types.EntityClass), nil
}

func (s *Store) fetchEntities(filter types.Filter) ([]*types.Entity, error) {
	rows, err := s.entities.Fetch(filter)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Entity, len(rows))
	for i, row := range rows {
		out[i] = row.(*types.Entity)
	}
	return out, nil
}

func (s *Store) fetchAttributes(filter types.Filter) ([]*types.Attribute, error) {
	rows, err := s.attributes.Fetch(filter)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Attribute, len(rows))
	for i, row := range rows {
		out[i] = row.(*types.Attribute)
	}
	return out, nil
}

func (s *Store) fetchValues(filter types.Filter) ([]*types.Value, error) {
	rows, err := s.values.Fetch(filter)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Value, len(rows))
	for i, row := range rows {
		out[i] = row.(*types.Value)
	}
	return out, nil
}

// entitiesByID loads the entities with the given IDs, optionally restricted
// to one class, ordered by ID.
func (s *Store) entitiesByID(ids []string, classID string) ([]*types.Entity, error) {
	if len(ids) == 0 {
		return []*types.Entity{}, nil
	}
	filter := types.Filter{"ids": dedupe(ids)}
	if classID != "" {
		filter["class_id"] = classID
	}
	return s.fetchEntities(filter)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	locks sync.Map
}

func (k *keyedMutex) lock(key string) func() {
	m, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func uniqueKey(parts ...string) string {
	return strings.Join(parts, "\x00")
}
