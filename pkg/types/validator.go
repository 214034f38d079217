package types

import (
	"regexp"

	"github.com/cockroachdb/errors"
)

// ValidatorType names a value constraint attached to a schema.
type ValidatorType string

// Validator types. Validators on one schema are combined with logical AND.
const (
	ValidatorEqual  ValidatorType = "equal"
	ValidatorLength ValidatorType = "length"
	ValidatorOneOf  ValidatorType = "one_of"
	ValidatorRange  ValidatorType = "range"
	ValidatorRegexp ValidatorType = "regexp"
)

// Validator is one {type, params} entry of a schema's ordered validator list.
//
//	equal   {value}
//	length  {min?, max?}
//	one_of  {choices}
//	range   {min?, max?}
//	regexp  {pattern}
type Validator struct {
	Type   ValidatorType  `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Validate checks that the params fit the validator type.
func (v Validator) Validate() error {
	switch v.Type {
	case ValidatorEqual:
		if _, ok := v.Params["value"]; !ok {
			return errors.Wrap(ErrInvalidValidator, "equal requires params.value")
		}
	case ValidatorLength, ValidatorRange:
		lo, hasLo := v.Params["min"]
		hi, hasHi := v.Params["max"]
		if !hasLo && !hasHi {
			return errors.Wrapf(ErrInvalidValidator, "%s requires params.min or params.max", v.Type)
		}
		if hasLo {
			if _, ok := AsFloat(lo); !ok {
				return errors.Wrapf(ErrInvalidValidator, "%s min must be numeric", v.Type)
			}
		}
		if hasHi {
			if _, ok := AsFloat(hi); !ok {
				return errors.Wrapf(ErrInvalidValidator, "%s max must be numeric", v.Type)
			}
		}
	case ValidatorOneOf:
		choices, ok := v.Params["choices"].([]any)
		if !ok || len(choices) == 0 {
			return errors.Wrap(ErrInvalidValidator, "one_of requires a non-empty params.choices list")
		}
	case ValidatorRegexp:
		pattern, ok := v.Params["pattern"].(string)
		if !ok {
			return errors.Wrap(ErrInvalidValidator, "regexp requires params.pattern")
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return errors.Wrapf(ErrInvalidValidator, "regexp pattern: %v", err)
		}
	default:
		return errors.Wrapf(ErrInvalidValidator, "unknown validator type %q", v.Type)
	}
	return nil
}

// Copy returns a copy with its own params map.
func (v Validator) Copy() Validator {
	cp := Validator{Type: v.Type}
	if v.Params != nil {
		cp.Params = make(map[string]any, len(v.Params))
		for k, p := range v.Params {
			cp.Params[k] = p
		}
	}
	return cp
}

// AsFloat converts any Go or JSON numeric value to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
