package sqlstore

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

// timeLayout is fixed width so lexical order of stored timestamps equals
// chronological order. Times are always stored in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parsing stored time %q", s)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	return parseTime(ns.String)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// encodeJSON stores a payload as JSON text; nil stays SQL NULL.
func encodeJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, markAs(errors.Wrap(err, "encoding JSON column"), types.ErrInvalidData)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeJSON(ns sql.NullString) (any, error) {
	if !ns.Valid {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(ns.String), &v); err != nil {
		return nil, errors.Wrap(err, "decoding JSON column")
	}
	return v, nil
}

// generateID returns a UUID v7, falling back to v4.
func generateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// where accumulates SQL conditions and their arguments for Fetch.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) in(column string, values []string) {
	if len(values) == 0 {
		w.conds = append(w.conds, "1 = 0")
		return
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	w.conds = append(w.conds, column+" IN ("+marks+")")
	for _, v := range values {
		w.args = append(w.args, v)
	}
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// filterString reads an optional string filter key.
func filterString(filter types.Filter, key string) (string, bool, error) {
	v, ok := filter[key]
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, errors.Wrapf(types.ErrInvalidFilter, "%s must be a string", key)
	}
	return s, true, nil
}

func filterStrings(filter types.Filter, key string) ([]string, bool, error) {
	v, ok := filter[key]
	if !ok {
		return nil, false, nil
	}
	s, ok := v.([]string)
	if !ok {
		return nil, false, errors.Wrapf(types.ErrInvalidFilter, "%s must be a []string", key)
	}
	return s, true, nil
}

func filterBool(filter types.Filter, key string) (bool, bool, error) {
	v, ok := filter[key]
	if !ok {
		return false, false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, false, errors.Wrapf(types.ErrInvalidFilter, "%s must be a bool", key)
	}
	return b, true, nil
}

func filterTime(filter types.Filter, key string) (time.Time, bool, error) {
	v, ok := filter[key]
	if !ok {
		return time.Time{}, false, nil
	}
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, false, errors.Wrapf(types.ErrInvalidFilter, "%s must be a time.Time", key)
	}
	return t, !t.IsZero(), nil
}

// paging renders the LIMIT/OFFSET suffix from the "limit" and "offset" keys.
func (d dialect) paging(filter types.Filter) (string, []any, error) {
	var sb strings.Builder
	var args []any
	if v, ok := filter["limit"]; ok {
		n, ok := v.(int)
		if !ok || n < 0 {
			return "", nil, errors.Wrap(types.ErrInvalidFilter, "limit must be a non-negative int")
		}
		sb.WriteString(" LIMIT ?")
		args = append(args, n)
	}
	if v, ok := filter["offset"]; ok {
		n, ok := v.(int)
		if !ok || n < 0 {
			return "", nil, errors.Wrap(types.ErrInvalidFilter, "offset must be a non-negative int")
		}
		if len(args) == 0 && d.name == dialectSQLite {
			// SQLite requires LIMIT before OFFSET.
			sb.WriteString(" LIMIT -1")
		}
		sb.WriteString(" OFFSET ?")
		args = append(args, n)
	}
	return sb.String(), args, nil
}
