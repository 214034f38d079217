package entity

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

// writeValue stores one value for a. Time-series attributes append a row at
// the given time; other attributes update their current row in place, or
// insert it when there is none.
func (s *Store) writeValue(ctx context.Context, a *types.Attribute, sch *types.Schema, value any, at time.Time) error {
	v := &types.Value{
		AttributeID: a.AttributeID,
		EntityID:    a.EntityID,
		Code:        a.Code,
		UniqueScope: sch.UniqueScope,
		Value:       value,
		Timestamp:   at.UTC(),
	}
	if !a.IsTimeSeries {
		current, err := s.fetchValues(types.Filter{"attribute_id": a.AttributeID, "limit": 1})
		if err != nil {
			return err
		}
		if len(current) > 0 {
			v.ValueID = current[0].ValueID
		}
	}
	return s.putValue(v)
}

// appendValues inserts time-series entries in one batch. Entries stamped
// in the future are dropped, null entries take the schema default and
// zero timestamps mean now. Returns the number of rows stored.
func (s *Store) appendValues(ctx context.Context, a *types.Attribute, sch *types.Schema, entries []types.TimedValue) (int, error) {
	now := s.now().UTC()
	rows := make([]any, 0, len(entries))
	for _, entry := range entries {
		ts := entry.Timestamp
		if ts.IsZero() {
			ts = now
		}
		if ts.After(now) {
			continue
		}
		value := entry.Value
		if value == nil {
			value = s.schemas.Defaults(sch)
		}
		v := &types.Value{
			AttributeID: a.AttributeID,
			EntityID:    a.EntityID,
			Code:        a.Code,
			UniqueScope: sch.UniqueScope,
			Value:       value,
			Timestamp:   ts.UTC(),
		}
		if err := s.checkUnique(v); err != nil {
			return 0, err
		}
		rows = append(rows, v)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if _, err := s.values.SetMany(rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// updateValue rewrites an existing value row.
func (s *Store) updateValue(v *types.Value) error {
	return s.putValue(v)
}

// putValue checks the value's unique scope and writes it while holding the
// scope's lock. The storage indexes enforce the same rule.
func (s *Store) putValue(v *types.Value) error {
	key, hasKey, err := types.ValueKey(v.Value)
	if err != nil {
		return err
	}
	if hasKey {
		switch v.UniqueScope {
		case types.UniqueGlobal:
			defer s.uniq.lock(uniqueKey("global", v.Code, key))()
		case types.UniqueEntity:
			defer s.uniq.lock(uniqueKey("entity", v.EntityID, v.Code, key))()
		}
	}
	if err := s.checkUnique(v); err != nil {
		return err
	}
	_, err = s.values.Set(v.ValueID, v)
	return err
}

// checkUnique fails with ErrNotUnique when another value row already holds
// v's payload within v's unique scope.
func (s *Store) checkUnique(v *types.Value) error {
	if v.UniqueScope == types.UniqueNone || v.Value == nil {
		return nil
	}
	filter := types.Filter{
		"code":         v.Code,
		"value":        v.Value,
		"unique_scope": v.UniqueScope,
		"exclude_id":   v.ValueID,
		"limit":        1,
	}
	if v.UniqueScope == types.UniqueEntity {
		filter["entity_id"] = v.EntityID
	}
	clash, err := s.fetchValues(filter)
	if err != nil {
		return err
	}
	if len(clash) > 0 {
		return errors.Wrapf(types.ErrNotUnique, "%s is not unique (%s scope)", v.Code, v.UniqueScope)
	}
	return nil
}
