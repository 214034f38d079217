package schema

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

// maxRefDepth bounds chains of remote schemas that reference further schemas.
const maxRefDepth = 4

// Validate checks value against s and returns every violation. Field paths
// in the result are JSON pointers into value without a leading slash ("" for
// the value itself, "2" for the third item). The returned error is non-nil
// only when the schema itself cannot be used: an unmapped field type or a
// remote reference that fails to resolve (ErrSchemaResolution).
func (r *Registry) Validate(ctx context.Context, s *types.Schema, value any) (types.ValidationErrors, error) {
	effective, err := r.dereference(ctx, s)
	if err != nil {
		return nil, err
	}
	normalized, err := normalize(value)
	if err != nil {
		return types.ValidationErrors{{Message: err.Error()}}, nil
	}
	return validateValue(effective, normalized)
}

// ValidationSchema returns the structural schema of s as an OpenAPI schema:
// the field type (an array of it when multiple) combined with every
// validator through allOf.
func (r *Registry) ValidationSchema(ctx context.Context, s *types.Schema) (*openapi3.Schema, error) {
	effective, err := r.dereference(ctx, s)
	if err != nil {
		return nil, err
	}
	base, err := structural(effective)
	if err != nil {
		return nil, err
	}
	if len(effective.Validators) == 0 {
		return base, nil
	}
	out := openapi3.NewAllOfSchema(base)
	for _, v := range effective.Validators {
		c, err := constraint(effective, v)
		if err != nil {
			return nil, err
		}
		out.AllOf = append(out.AllOf, c.NewRef())
	}
	out.Title = effective.Title
	return out, nil
}

// dereference folds remote references into a local definition. The fetched
// definition supplies the type; validators of both are kept.
func (r *Registry) dereference(ctx context.Context, s *types.Schema) (*types.Schema, error) {
	out := s.Copy()
	for depth := 0; out.Ref != ""; depth++ {
		if depth >= maxRefDepth {
			return nil, errors.Wrapf(types.ErrSchemaResolution, "reference chain from %q is deeper than %d", s.Ref, maxRefDepth)
		}
		if r.resolver == nil {
			return nil, errors.Wrapf(types.ErrSchemaResolution, "no resolver for %q", out.Ref)
		}
		remote, err := r.resolver.Resolve(ctx, out.Ref)
		if err != nil {
			return nil, err
		}
		out.FieldType = remote.FieldType
		out.IsMultiple = out.IsMultiple || remote.IsMultiple
		out.Validators = append(out.Validators, remote.Validators...)
		out.Ref = remote.Ref
	}
	return out, nil
}

// normalize converts a Go value to its JSON data model (float64 numbers,
// []any arrays, map[string]any objects) so it compares the way stored
// values do.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "value is not JSON-encodable")
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, errors.Wrap(err, "value is not JSON-encodable")
	}
	return out, nil
}

// structural builds the type-only schema: the field type, or an array of it.
func structural(s *types.Schema) (*openapi3.Schema, error) {
	item, err := typeSchema(s.FieldType)
	if err != nil {
		return nil, err
	}
	if !s.IsMultiple {
		return item, nil
	}
	return openapi3.NewArraySchema().WithItems(item).WithNullable(), nil
}

// constraint builds the schema for one validator. Value constraints apply to
// every item of a multiple schema; length applies to the item count.
func constraint(s *types.Schema, v types.Validator) (*openapi3.Schema, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	c := &openapi3.Schema{}
	if v.Type == types.ValidatorLength && s.IsMultiple {
		if lo, ok := types.AsFloat(v.Params["min"]); ok {
			c.WithMinItems(int64(lo))
		}
		if hi, ok := types.AsFloat(v.Params["max"]); ok {
			c.WithMaxItems(int64(hi))
		}
		return c, nil
	}
	switch v.Type {
	case types.ValidatorEqual:
		want, err := normalize(v.Params["value"])
		if err != nil {
			return nil, errors.Wrap(types.ErrInvalidValidator, err.Error())
		}
		c.Enum = []any{want}
	case types.ValidatorLength:
		if lo, ok := types.AsFloat(v.Params["min"]); ok {
			c.WithMinLength(int64(lo))
		}
		if hi, ok := types.AsFloat(v.Params["max"]); ok {
			c.WithMaxLength(int64(hi))
		}
	case types.ValidatorOneOf:
		choices, err := normalize(v.Params["choices"])
		if err != nil {
			return nil, errors.Wrap(types.ErrInvalidValidator, err.Error())
		}
		c.Enum = choices.([]any)
	case types.ValidatorRange:
		if lo, ok := types.AsFloat(v.Params["min"]); ok {
			c.WithMin(lo)
		}
		if hi, ok := types.AsFloat(v.Params["max"]); ok {
			c.WithMax(hi)
		}
	case types.ValidatorRegexp:
		c.WithPattern(v.Params["pattern"].(string))
	}
	if s.IsMultiple {
		return openapi3.NewArraySchema().WithItems(c), nil
	}
	return c, nil
}

// validateValue visits the structural schema and then each validator on its
// own, so one failing validator never hides another.
func validateValue(s *types.Schema, value any) (types.ValidationErrors, error) {
	base, err := structural(s)
	if err != nil {
		return nil, err
	}
	var out types.ValidationErrors
	if err := base.VisitJSON(value, openapi3.MultiErrors()); err != nil {
		out = append(out, flatten(err)...)
	}
	if len(out) > 0 || value == nil {
		return out, nil
	}
	for _, v := range s.Validators {
		c, err := constraint(s, v)
		if err != nil {
			return nil, err
		}
		if s.IsMultiple && v.Type != types.ValidatorLength {
			c = c.Items.Value
			for i, item := range value.([]any) {
				if item == nil {
					continue
				}
				if err := c.VisitJSON(item, openapi3.MultiErrors()); err != nil {
					for _, ve := range flatten(err) {
						ve.Field = joinPointer(strconv.Itoa(i), ve.Field)
						out = append(out, ve)
					}
				}
			}
			continue
		}
		if err := c.VisitJSON(value, openapi3.MultiErrors()); err != nil {
			out = append(out, flatten(err)...)
		}
	}
	return out, nil
}

// flatten turns openapi3 errors into field-addressed validation errors.
func flatten(err error) types.ValidationErrors {
	var me openapi3.MultiError
	if errors.As(err, &me) {
		var out types.ValidationErrors
		for _, e := range me {
			out = append(out, flatten(e)...)
		}
		return out
	}
	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		msg := se.Reason
		if msg == "" && se.Origin != nil {
			msg = se.Origin.Error()
		}
		if msg == "" {
			msg = se.Error()
		}
		return types.ValidationErrors{{Field: strings.Join(se.JSONPointer(), "/"), Message: msg}}
	}
	return types.ValidationErrors{{Message: err.Error()}}
}

func joinPointer(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}
