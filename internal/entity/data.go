package entity

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

// GetData assembles the document of an entity. Only values stamped at or
// before now are visible. Time-series attributes return the newest entry as
// a types.TimedValue when opts.LastOnly is set, otherwise every entry in the
// [From, To] window newest first. Other attributes return their current
// value or nil; relation attributes return the destination UUID.
// Multi-valued attributes keep their list in a single row, so they always
// return that whole list and opts.LastOnly does not apply to them.
func (s *Store) GetData(ctx context.Context, entityID string, opts types.DataOptions) (*types.Document, error) {
	e, err := s.GetByUUID(entityID)
	if err != nil {
		return nil, err
	}
	class, err := s.class(e.ClassID)
	if err != nil {
		return nil, err
	}
	attrs, err := s.fetchAttributes(types.Filter{"entity_id": entityID, "deleted": false})
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	doc := &types.Document{Type: class.Title, UUID: e.EntityID, Attributes: make(map[string]any, len(attrs))}
	for _, a := range attrs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if a.IsRelation {
			if a.DestinationID == "" {
				doc.Attributes[a.Code] = nil
			} else {
				doc.Attributes[a.Code] = a.DestinationID
			}
			continue
		}

		filter := types.Filter{"attribute_id": a.AttributeID}
		if a.IsTimeSeries {
			filter["to"] = now
			if !opts.From.IsZero() {
				filter["from"] = opts.From
			}
			if !opts.To.IsZero() && opts.To.Before(now) {
				filter["to"] = opts.To
			}
		}
		if opts.LastOnly || !a.IsTimeSeries {
			filter["limit"] = 1
		}
		vals, err := s.fetchValues(filter)
		if err != nil {
			return nil, err
		}

		switch {
		case !a.IsTimeSeries:
			if len(vals) == 0 {
				doc.Attributes[a.Code] = nil
			} else {
				doc.Attributes[a.Code] = vals[0].Value
			}
		case opts.LastOnly:
			if len(vals) == 0 {
				doc.Attributes[a.Code] = nil
			} else {
				doc.Attributes[a.Code] = types.TimedValue{Value: vals[0].Value, Timestamp: vals[0].Timestamp}
			}
		default:
			series := make([]types.TimedValue, len(vals))
			for i, v := range vals {
				series[i] = types.TimedValue{Value: v.Value, Timestamp: v.Timestamp}
			}
			doc.Attributes[a.Code] = series
		}
	}
	return doc, nil
}

// write is one validated assignment of SetData.
type write struct {
	attr    *types.Attribute
	schema  *types.Schema
	value   any
	entries []types.TimedValue
}

// Validate checks a set of attribute assignments against the entity's
// attributes and their schemas without writing anything. Every problem is
// reported; the error is reserved for lookups and schema resolution.
func (s *Store) Validate(ctx context.Context, entityID string, attrs map[string]any) (types.ValidationErrors, error) {
	_, errs, err := s.plan(ctx, entityID, attrs, true)
	return errs, err
}

// SetData validates every assignment (unless validate is false), collects all
// field errors, and applies the assignments only when there are none.
// Uniqueness is checked for every assignment before the first write; a clash
// fails with ErrNotUnique and nothing is written.
func (s *Store) SetData(ctx context.Context, entityID string, attrs map[string]any, validate bool) (types.ValidationErrors, error) {
	plan, errs, err := s.plan(ctx, entityID, attrs, validate)
	if err != nil || len(errs) > 0 {
		return errs, err
	}

	now := s.now().UTC()
	for i := range plan {
		w := &plan[i]
		if w.attr.IsRelation {
			continue
		}
		if w.attr.IsTimeSeries {
			entries, err := s.unseen(w.attr, w.entries)
			if err != nil {
				return nil, err
			}
			w.entries = entries
			for _, entry := range w.entries {
				v := &types.Value{EntityID: w.attr.EntityID, Code: w.attr.Code, UniqueScope: w.schema.UniqueScope, Value: entry.Value}
				if err := s.checkUnique(v); err != nil {
					return nil, err
				}
			}
			continue
		}
		v := &types.Value{EntityID: w.attr.EntityID, Code: w.attr.Code, UniqueScope: w.schema.UniqueScope, Value: w.value}
		current, err := s.fetchValues(types.Filter{"attribute_id": w.attr.AttributeID, "limit": 1})
		if err != nil {
			return nil, err
		}
		if len(current) > 0 {
			v.ValueID = current[0].ValueID
		}
		if err := s.checkUnique(v); err != nil {
			return nil, err
		}
	}

	for _, w := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch {
		case w.attr.IsRelation:
			if err := s.relink(w.attr, w.value.(string)); err != nil {
				return nil, errors.Wrapf(err, "attribute %s", w.attr.Code)
			}
		case w.attr.IsTimeSeries:
			if _, err := s.appendValues(ctx, w.attr, w.schema, w.entries); err != nil {
				return nil, errors.Wrapf(err, "attribute %s", w.attr.Code)
			}
		default:
			if err := s.writeValue(ctx, w.attr, w.schema, w.value, now); err != nil {
				return nil, errors.Wrapf(err, "attribute %s", w.attr.Code)
			}
		}
	}
	return nil, nil
}

// SetValue writes one value without schema validation. For a time-series
// attribute the value is appended at the given time (now when zero); a time
// in the future fails with ErrFutureTimestamp. A list of types.TimedValue
// entries is a bulk append in which future entries are dropped. For a
// relation attribute value is the new destination UUID.
func (s *Store) SetValue(ctx context.Context, entityID, code string, value any, at time.Time) error {
	a, err := s.Attribute(entityID, code)
	if err != nil {
		return err
	}
	sch, err := s.schemas.Get(a.SchemaID)
	if err != nil {
		return err
	}
	if a.IsRelation {
		dest, ok := value.(string)
		if !ok || dest == "" {
			return errors.Wrapf(types.ErrMissingDestination, "attribute %s", code)
		}
		return s.relink(a, dest)
	}
	if !a.IsTimeSeries {
		return s.writeValue(ctx, a, sch, value, s.now())
	}

	entries, bulk, err := timedEntries(value)
	if err != nil {
		return errors.Wrapf(err, "attribute %s", code)
	}
	if bulk {
		_, err := s.appendValues(ctx, a, sch, entries)
		return err
	}
	ts := entries[0].Timestamp
	if at.IsZero() {
		at = ts
	}
	if at.IsZero() {
		at = s.now()
	}
	if at.After(s.now()) {
		return errors.Wrapf(types.ErrFutureTimestamp, "attribute %s at %s", code, at.Format(time.RFC3339Nano))
	}
	return s.writeValue(ctx, a, sch, entries[0].Value, at)
}

// plan resolves and, when validate is set, validates each assignment.
// Assignments are returned in code order.
func (s *Store) plan(ctx context.Context, entityID string, attrs map[string]any, validate bool) ([]write, types.ValidationErrors, error) {
	if _, err := s.GetByUUID(entityID); err != nil {
		return nil, nil, err
	}
	live, err := s.fetchAttributes(types.Filter{"entity_id": entityID, "deleted": false})
	if err != nil {
		return nil, nil, err
	}
	byCode := make(map[string]*types.Attribute, len(live))
	for _, a := range live {
		byCode[a.Code] = a
	}

	codes := make([]string, 0, len(attrs))
	for code := range attrs {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var (
		plan []write
		errs types.ValidationErrors
	)
	addErr := func(code, pointer, msg string) {
		field := code
		if pointer != "" {
			field += "/" + pointer
		}
		errs = append(errs, types.ValidationError{Field: field, Message: msg})
	}
	check := func(code string, sch *types.Schema, value any, prefix string) error {
		if !validate {
			return nil
		}
		found, err := s.schemas.Validate(ctx, sch, value)
		if err != nil {
			return errors.Wrapf(err, "attribute %s", code)
		}
		for _, ve := range found {
			addErr(code, joinField(prefix, ve.Field), ve.Message)
		}
		return nil
	}

	now := s.now()
	for _, code := range codes {
		raw := attrs[code]
		a, ok := byCode[code]
		if !ok {
			addErr(code, "", "unknown attribute")
			continue
		}
		sch, err := s.schemas.Get(a.SchemaID)
		if err != nil {
			return nil, nil, err
		}
		w := write{attr: a, schema: sch, value: raw}

		switch {
		case a.IsRelation:
			dest, ok := raw.(string)
			if !ok || dest == "" {
				addErr(code, "", "relation needs a destination UUID; use Unlink to remove it")
				continue
			}
			if err := check(code, sch, dest, ""); err != nil {
				return nil, nil, err
			}
			if _, err := s.GetByUUID(dest); err != nil {
				if !errors.Is(err, types.ErrNotFound) {
					return nil, nil, err
				}
				addErr(code, "", "destination entity not found")
				continue
			}
		case a.IsTimeSeries:
			entries, bulk, err := timedEntries(raw)
			if err != nil {
				addErr(code, "", err.Error())
				continue
			}
			w.entries = entries
			for i, entry := range entries {
				prefix := ""
				if bulk {
					prefix = strconv.Itoa(i)
				}
				if !bulk && entry.Timestamp.After(now) {
					addErr(code, prefix, types.ErrFutureTimestamp.Error())
					continue
				}
				if bulk && entry.Value == nil {
					continue
				}
				if err := check(code, sch, entry.Value, prefix); err != nil {
					return nil, nil, err
				}
			}
		default:
			if err := check(code, sch, raw, ""); err != nil {
				return nil, nil, err
			}
		}
		plan = append(plan, w)
	}
	return plan, errs, nil
}

// unseen drops entries whose timestamp and payload are already stored, so
// writing back a document read with GetData adds nothing.
func (s *Store) unseen(a *types.Attribute, entries []types.TimedValue) ([]types.TimedValue, error) {
	out := make([]types.TimedValue, 0, len(entries))
	for _, entry := range entries {
		if entry.Timestamp.IsZero() {
			out = append(out, entry)
			continue
		}
		stored, err := s.fetchValues(types.Filter{
			"attribute_id": a.AttributeID,
			"from":         entry.Timestamp,
			"to":           entry.Timestamp,
			"value":        entry.Value,
			"limit":        1,
		})
		if err != nil {
			return nil, err
		}
		if len(stored) == 0 {
			out = append(out, entry)
		}
	}
	return out, nil
}

func joinField(prefix, field string) string {
	switch {
	case prefix == "":
		return field
	case field == "":
		return prefix
	}
	return prefix + "/" + field
}
