package sqlstore

import (
	"crypto/rand"
	"database/sql"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/oklog/ulid/v2"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

var _ types.BatchTable = (*valuesTable)(nil)

// valuesTable is the single physical value table. Value IDs are ULIDs minted
// from the value timestamp, so ordering by (ts, value_id) is stable even for
// values written within the same instant. Unique scopes are enforced by
// partial unique indexes on value_key.
type valuesTable struct {
	backend *Backend
}

const valueColumns = `value_id, attribute_id, entity_id, code, unique_scope, value, value_key, ts`

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

func newValueID(ts time.Time) string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(ts), ulidEntropy).String()
}

func (t *valuesTable) Get(id string) (any, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	row, err := t.backend.queryRow("SELECT "+valueColumns+" FROM attribute_values WHERE value_id = ?", id)
	if err != nil {
		return nil, err
	}
	v, err := scanValue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(types.ErrNotFound, "value %s", id)
	}
	return v, err
}

// Set inserts or updates a value row. A clash with a unique scope index
// fails with ErrNotUnique.
func (t *valuesTable) Set(id string, data any) (string, error) {
	v, ok := data.(*types.Value)
	if !ok {
		return "", types.ErrInvalidData
	}
	var out string
	err := t.backend.withTx(func(tx tx) error {
		var err error
		out, err = t.upsert(tx, id, v)
		return err
	})
	return out, err
}

// SetMany inserts rows in one transaction; any failure stores nothing.
func (t *valuesTable) SetMany(rows []any) ([]string, error) {
	ids := make([]string, 0, len(rows))
	err := t.backend.withTx(func(tx tx) error {
		for i, row := range rows {
			v, ok := row.(*types.Value)
			if !ok {
				return errors.Wrapf(types.ErrInvalidData, "row %d", i)
			}
			id, err := t.upsert(tx, "", v)
			if err != nil {
				return errors.Wrapf(err, "row %d", i)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (t *valuesTable) upsert(tx tx, id string, v *types.Value) (string, error) {
	if v.AttributeID == "" || v.EntityID == "" || v.Code == "" {
		return "", errors.Wrap(types.ErrInvalidData, "attribute_id, entity_id and code are required")
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now().UTC()
	}
	payload, err := encodeJSON(v.Value)
	if err != nil {
		return "", err
	}
	key, hasKey, err := types.ValueKey(v.Value)
	if err != nil {
		return "", err
	}
	valueKey := sql.NullString{String: key, Valid: hasKey}

	if id == "" {
		id = v.ValueID
	}
	var exists int
	err = tx.queryRow("SELECT 1 FROM attribute_values WHERE value_id = ?", id).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if id == "" {
			id = newValueID(v.Timestamp)
		}
		_, err = tx.exec("INSERT INTO attribute_values ("+valueColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			id, v.AttributeID, v.EntityID, v.Code, int(v.UniqueScope), payload, valueKey, formatTime(v.Timestamp))
	case err != nil:
		return "", errors.Wrap(err, "checking value existence")
	default:
		_, err = tx.exec(`UPDATE attribute_values SET attribute_id = ?, entity_id = ?, code = ?, unique_scope = ?,
			value = ?, value_key = ?, ts = ? WHERE value_id = ?`,
			v.AttributeID, v.EntityID, v.Code, int(v.UniqueScope), payload, valueKey, formatTime(v.Timestamp), id)
	}
	if err != nil {
		if errors.Is(err, types.ErrNotUnique) {
			return "", errors.Wrapf(err, "%s scope for %s", v.UniqueScope, v.Code)
		}
		return "", errors.Wrap(err, "writing value")
	}
	v.ValueID = id
	return id, nil
}

func (t *valuesTable) Delete(id string) error {
	if id == "" {
		return types.ErrInvalidID
	}
	res, err := t.backend.exec("DELETE FROM attribute_values WHERE value_id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(types.ErrNotFound, "value %s", id)
	}
	return nil
}

// Fetch supports "attribute_id", "attribute_ids", "entity_id", "code",
// "value" (matched by canonical key), "unique_scope", "exclude_id", and the
// inclusive time window "from"/"to". "order" is "desc" (default, newest
// first) or "asc".
func (t *valuesTable) Fetch(filter types.Filter) ([]any, error) {
	var w where
	for _, key := range []string{"attribute_id", "entity_id", "code"} {
		v, ok, err := filterString(filter, key)
		if err != nil {
			return nil, err
		}
		if ok {
			w.add(key+" = ?", v)
		}
	}
	if ids, ok, err := filterStrings(filter, "attribute_ids"); err != nil {
		return nil, err
	} else if ok {
		w.in("attribute_id", ids)
	}
	if exclude, ok, err := filterString(filter, "exclude_id"); err != nil {
		return nil, err
	} else if ok && exclude != "" {
		w.add("value_id != ?", exclude)
	}
	if raw, ok := filter["value"]; ok {
		key, hasKey, err := types.ValueKey(raw)
		if err != nil {
			return nil, markAs(err, types.ErrInvalidFilter)
		}
		if hasKey {
			w.add("value_key = ?", key)
		} else {
			w.add("value_key IS NULL")
		}
	}
	if raw, ok := filter["unique_scope"]; ok {
		scope, ok := raw.(types.UniqueScope)
		if !ok {
			return nil, errors.Wrap(types.ErrInvalidFilter, "unique_scope must be a types.UniqueScope")
		}
		w.add("unique_scope = ?", int(scope))
	}
	if from, ok, err := filterTime(filter, "from"); err != nil {
		return nil, err
	} else if ok {
		w.add("ts >= ?", formatTime(from))
	}
	if to, ok, err := filterTime(filter, "to"); err != nil {
		return nil, err
	} else if ok {
		w.add("ts <= ?", formatTime(to))
	}
	order := " ORDER BY ts DESC, value_id DESC"
	if o, ok, err := filterString(filter, "order"); err != nil {
		return nil, err
	} else if ok && o == "asc" {
		order = " ORDER BY ts, value_id"
	}
	page, pageArgs, err := t.backend.paging(filter)
	if err != nil {
		return nil, err
	}

	results := []any{}
	err = t.backend.query("SELECT "+valueColumns+" FROM attribute_values"+w.String()+order+page,
		append(w.args, pageArgs...), func(rows *sql.Rows) error {
			v, err := scanValue(rows)
			if err != nil {
				return err
			}
			results = append(results, v)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func scanValue(row rowScanner) (*types.Value, error) {
	var (
		v       types.Value
		scope   int
		payload sql.NullString
		key     sql.NullString
		ts      string
	)
	if err := row.Scan(&v.ValueID, &v.AttributeID, &v.EntityID, &v.Code, &scope, &payload, &key, &ts); err != nil {
		return nil, err
	}
	v.UniqueScope = types.UniqueScope(scope)
	var err error
	if v.Value, err = decodeJSON(payload); err != nil {
		return nil, err
	}
	v.Timestamp, err = parseTime(ts)
	return &v, err
}
