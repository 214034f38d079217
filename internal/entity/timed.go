package entity

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

// timedEntries interprets a time-series input. A types.TimedValue, or a map
// holding "value" and optionally "timestamp", is one entry. A list whose
// elements are all timed entries is a bulk append; an empty list is a bulk
// append of nothing. Anything else is a single value stamped now.
func timedEntries(value any) ([]types.TimedValue, bool, error) {
	switch v := value.(type) {
	case types.TimedValue:
		return []types.TimedValue{v}, false, nil
	case *types.TimedValue:
		if v == nil {
			return []types.TimedValue{{}}, false, nil
		}
		return []types.TimedValue{*v}, false, nil
	case []types.TimedValue:
		return v, true, nil
	case map[string]any:
		if entry, ok, err := timedEntry(v); ok || err != nil {
			return []types.TimedValue{entry}, false, err
		}
	case []any:
		if len(v) == 0 {
			return nil, true, nil
		}
		entries := make([]types.TimedValue, 0, len(v))
		for _, item := range v {
			entry, ok, err := asTimed(item)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return []types.TimedValue{{Value: value}}, false, nil
			}
			entries = append(entries, entry)
		}
		return entries, true, nil
	}
	return []types.TimedValue{{Value: value}}, false, nil
}

func asTimed(item any) (types.TimedValue, bool, error) {
	switch v := item.(type) {
	case types.TimedValue:
		return v, true, nil
	case *types.TimedValue:
		if v == nil {
			return types.TimedValue{}, false, nil
		}
		return *v, true, nil
	case map[string]any:
		return timedEntry(v)
	}
	return types.TimedValue{}, false, nil
}

// timedEntry reads {"value": ..., "timestamp": ...}. Maps with other keys
// are plain values.
func timedEntry(m map[string]any) (types.TimedValue, bool, error) {
	value, ok := m["value"]
	if !ok {
		return types.TimedValue{}, false, nil
	}
	for k := range m {
		if k != "value" && k != "timestamp" {
			return types.TimedValue{}, false, nil
		}
	}
	entry := types.TimedValue{Value: value}
	switch ts := m["timestamp"].(type) {
	case nil:
	case time.Time:
		entry.Timestamp = ts
	case string:
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return entry, true, errors.Wrapf(types.ErrInvalidData, "timestamp %q: %v", ts, err)
		}
		entry.Timestamp = t
	default:
		return entry, true, errors.Wrapf(types.ErrInvalidData, "timestamp has type %T", ts)
	}
	return entry, true, nil
}
