package entity

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

// Converter converts a stored value to a new field type.
type Converter func(value any, from, to types.FieldType) (any, error)

// AddAttribute binds schemaID to an entity under code (the schema name when
// empty) and stores the schema default. Relation schemas need a destination
// and are attached with Link instead.
func (s *Store) AddAttribute(ctx context.Context, entityID, schemaID, code string) (*types.Attribute, error) {
	if _, err := s.GetByUUID(entityID); err != nil {
		return nil, err
	}
	sch, err := s.schemas.Get(schemaID)
	if err != nil {
		return nil, err
	}
	if sch.IsRelation {
		return nil, errors.WithHint(
			errors.Wrapf(types.ErrMissingDestination, "attribute %s", sch.Name),
			"use Link to attach relation attributes")
	}
	if code == "" {
		code = sch.Name
	}
	return s.addAttribute(ctx, entityID, sch, code)
}

// addAttribute creates the attribute and stores the default value, if any.
// An existing live attribute with the same code fails with ErrConflict.
func (s *Store) addAttribute(ctx context.Context, entityID string, sch *types.Schema, code string) (*types.Attribute, error) {
	a := &types.Attribute{EntityID: entityID, Code: code}
	a.BindSchema(sch)
	if _, err := s.attributes.Set("", a); err != nil {
		return nil, err
	}
	if def := s.schemas.Defaults(sch); def != nil {
		if err := s.writeValue(ctx, a, sch, def, s.now()); err != nil {
			return nil, errors.Wrap(err, "storing default value")
		}
	}
	return a, nil
}

// RebindAttribute binds a live attribute to another schema version. When the
// field type changes every stored value, including time-series history, is
// passed through convert; values that fail to convert, or that would break
// the new uniqueness scope, become null. Each such failure is returned as a
// *types.MigrationError and logged; none of them stops the rebind.
//
// An attribute that becomes a relation takes its current value as the
// destination. When that value is not the ID of an existing entity the
// attribute is tombstoned and the failure reported. An attribute that stops
// being a relation loses its destination.
func (s *Store) RebindAttribute(ctx context.Context, attributeID string, to *types.Schema, convert Converter) ([]error, error) {
	row, err := s.attributes.Get(attributeID)
	if err != nil {
		return nil, err
	}
	a := row.(*types.Attribute)
	if a.Deleted {
		return nil, errors.Wrapf(types.ErrNotFound, "attribute %s is removed", attributeID)
	}
	from, err := s.schemas.Get(a.SchemaID)
	if err != nil {
		return nil, err
	}
	if from.SchemaID == to.SchemaID {
		return nil, nil
	}

	var failures []error
	fail := func(cause error) {
		me := &types.MigrationError{EntityID: a.EntityID, Code: a.Code, From: from.FieldType, To: to.FieldType, Err: cause}
		s.log.Warn("migration value reset",
			zap.String("entity", a.EntityID),
			zap.String("code", a.Code),
			zap.Stringer("from", from.FieldType),
			zap.Stringer("to", to.FieldType),
			zap.Error(cause),
		)
		failures = append(failures, me)
	}

	var current any
	if !a.IsRelation {
		vals, err := s.fetchValues(types.Filter{"attribute_id": a.AttributeID, "order": "asc"})
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			changed := v.UniqueScope != to.UniqueScope
			if from.FieldType != to.FieldType && v.Value != nil {
				converted, err := convert(v.Value, from.FieldType, to.FieldType)
				if err != nil {
					fail(err)
					converted = nil
				}
				v.Value = converted
				changed = true
			}
			if !changed {
				continue
			}
			v.UniqueScope = to.UniqueScope
			if err := s.updateValue(v); err != nil {
				if !errors.Is(err, types.ErrNotUnique) {
					return failures, err
				}
				fail(err)
				v.Value = nil
				if err := s.updateValue(v); err != nil {
					return failures, err
				}
			}
		}
		if len(vals) > 0 {
			current = vals[len(vals)-1].Value
		}
	}

	switch {
	case to.IsRelation && !a.IsRelation:
		dest, err := s.liveDestination(current)
		if err != nil {
			return failures, err
		}
		if dest == "" {
			fail(errors.Wrapf(types.ErrMissingDestination, "value %v does not name an entity", current))
			a.Deleted = true
		}
		a.DestinationID = dest
	case !to.IsRelation:
		a.DestinationID = ""
	}

	a.BindSchema(to)
	if _, err := s.attributes.Set(a.AttributeID, a); err != nil {
		return failures, err
	}
	return failures, nil
}

// liveDestination returns value when it is the ID of an existing entity and
// "" otherwise.
func (s *Store) liveDestination(value any) (string, error) {
	id, ok := value.(string)
	if !ok || id == "" {
		return "", nil
	}
	if _, err := s.GetByUUID(id); err != nil {
		if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrInvalidID) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

// RemoveAttribute tombstones the live attribute code of an entity. Its
// values are kept.
func (s *Store) RemoveAttribute(ctx context.Context, entityID, code string) error {
	a, err := s.Attribute(entityID, code)
	if err != nil {
		return err
	}
	return s.tombstone(a)
}

func (s *Store) tombstone(a *types.Attribute) error {
	a.Deleted = true
	_, err := s.attributes.Set(a.AttributeID, a)
	return err
}

// Purge hard-deletes every tombstoned attribute together with its values and
// returns how many attributes were removed.
func (s *Store) Purge(ctx context.Context) (int, error) {
	dead, err := s.fetchAttributes(types.Filter{"deleted": true})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range dead {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := s.attributes.Delete(a.AttributeID); err != nil && !errors.Is(err, types.ErrNotFound) {
			return n, err
		}
		n++
	}
	s.log.Info("purged removed attributes", zap.Int("count", n))
	return n, nil
}
