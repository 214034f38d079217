package migration

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

// ConvertValue casts a stored value to another field type. Integer, float,
// string and boolean targets are converted; a list target wraps a scalar;
// other targets keep the value as is. Values of multiple attributes are
// converted item by item. A value that cannot be cast returns an error
// wrapping ErrInvalidData.
func ConvertValue(value any, from, to types.FieldType) (any, error) {
	if value == nil || from == to {
		return value, nil
	}
	if items, ok := value.([]any); ok && to != types.FieldList && to != types.FieldRaw {
		out := make([]any, len(items))
		for i, item := range items {
			v, err := convertScalar(item, to)
			if err != nil {
				return nil, errors.Wrapf(err, "item %d", i)
			}
			out[i] = v
		}
		return out, nil
	}
	return convertScalar(value, to)
}

func convertScalar(value any, to types.FieldType) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch to {
	case types.FieldInteger:
		return toInteger(value)
	case types.FieldFloat:
		return toFloat(value)
	case types.FieldString:
		return toString(value)
	case types.FieldBoolean:
		return toBool(value)
	case types.FieldList:
		if _, ok := value.([]any); ok {
			return value, nil
		}
		return []any{value}, nil
	}
	return value, nil
}

func cannot(value any, to string) error {
	return errors.Wrapf(types.ErrInvalidData, "cannot convert %v (%T) to %s", value, value, to)
}

func toInteger(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, cannot(value, "integer")
		}
		return n, nil
	}
	if f, ok := types.AsFloat(value); ok {
		if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt64 {
			return nil, cannot(value, "integer")
		}
		return int64(f), nil
	}
	return nil, cannot(value, "integer")
}

func toFloat(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		if v {
			return 1.0, nil
		}
		return 0.0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, cannot(value, "float")
		}
		return f, nil
	}
	if f, ok := types.AsFloat(value); ok {
		return f, nil
	}
	return nil, cannot(value, "float")
}

func toString(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	}
	if f, ok := types.AsFloat(value); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, cannot(value, "string")
	}
	return string(b), nil
}

func toBool(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes":
			return true, nil
		}
		return false, nil
	}
	if f, ok := types.AsFloat(value); ok {
		return f != 0, nil
	}
	return nil, cannot(value, "boolean")
}
