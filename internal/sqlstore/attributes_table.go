package sqlstore

import (
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

var _ types.Table = (*attributesTable)(nil)

// attributesTable is the single physical attribute table for every class.
// (entity_id, code) is unique among live rows; tombstones keep their values.
type attributesTable struct {
	backend *Backend
}

const attributeColumns = `attribute_id, entity_id, code, title, schema_id, is_multiple, is_relation,
	destination_id, is_time_series, deleted, created_at, updated_at`

func (t *attributesTable) Get(id string) (any, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	row, err := t.backend.queryRow("SELECT "+attributeColumns+" FROM attributes WHERE attribute_id = ?", id)
	if err != nil {
		return nil, err
	}
	a, err := scanAttribute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(types.ErrNotFound, "attribute %s", id)
	}
	return a, err
}

// Set creates or updates an attribute. A new live relation attribute must
// carry a destination; an existing one may have it cleared during teardown.
// A second live attribute with the same code on one entity fails with
// ErrConflict.
func (t *attributesTable) Set(id string, data any) (string, error) {
	a, ok := data.(*types.Attribute)
	if !ok {
		return "", types.ErrInvalidData
	}
	if a.EntityID == "" || a.Code == "" || a.SchemaID == "" {
		return "", errors.Wrap(types.ErrInvalidData, "entity_id, code and schema_id are required")
	}
	if id == "" {
		id = a.AttributeID
	}
	now := time.Now().UTC()

	err := t.backend.withTx(func(tx tx) error {
		var exists int
		err := tx.queryRow("SELECT 1 FROM attributes WHERE attribute_id = ?", id).Scan(&exists)
		switch {
		case errors.Is(err, sql.ErrNoRows) || id == "":
			if a.IsRelation && !a.Deleted && a.DestinationID == "" {
				return errors.Wrapf(types.ErrMissingDestination, "attribute %s", a.Code)
			}
			if id == "" {
				id = generateID()
			}
			if a.CreatedAt.IsZero() {
				a.CreatedAt = now
			}
			a.UpdatedAt = now
			_, err = tx.exec("INSERT INTO attributes ("+attributeColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
				id, a.EntityID, a.Code, a.Title, a.SchemaID, boolToInt(a.IsMultiple), boolToInt(a.IsRelation),
				nullString(a.DestinationID), boolToInt(a.IsTimeSeries), boolToInt(a.Deleted),
				formatTime(a.CreatedAt), formatTime(now))
		case err != nil:
			return errors.Wrap(err, "checking attribute existence")
		default:
			a.UpdatedAt = now
			_, err = tx.exec(`UPDATE attributes SET entity_id = ?, code = ?, title = ?, schema_id = ?, is_multiple = ?,
				is_relation = ?, destination_id = ?, is_time_series = ?, deleted = ?, updated_at = ?
				WHERE attribute_id = ?`,
				a.EntityID, a.Code, a.Title, a.SchemaID, boolToInt(a.IsMultiple), boolToInt(a.IsRelation),
				nullString(a.DestinationID), boolToInt(a.IsTimeSeries), boolToInt(a.Deleted), formatTime(now), id)
		}
		if errors.Is(err, types.ErrNotUnique) {
			return markAs(errors.Wrapf(err, "live attribute %s on entity %s", a.Code, a.EntityID), types.ErrConflict)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	a.AttributeID = id
	return id, nil
}

// Delete hard-deletes an attribute and, through the cascade, its values.
func (t *attributesTable) Delete(id string) error {
	if id == "" {
		return types.ErrInvalidID
	}
	res, err := t.backend.exec("DELETE FROM attributes WHERE attribute_id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(types.ErrNotFound, "attribute %s", id)
	}
	return nil
}

// Fetch supports "entity_id", "entity_ids", "code", "schema_id",
// "destination_id", "is_relation", "deleted" and "ids".
func (t *attributesTable) Fetch(filter types.Filter) ([]any, error) {
	var w where
	for _, key := range []string{"entity_id", "code", "schema_id", "destination_id"} {
		v, ok, err := filterString(filter, key)
		if err != nil {
			return nil, err
		}
		if ok {
			w.add(key+" = ?", v)
		}
	}
	if ids, ok, err := filterStrings(filter, "entity_ids"); err != nil {
		return nil, err
	} else if ok {
		w.in("entity_id", ids)
	}
	if ids, ok, err := filterStrings(filter, "ids"); err != nil {
		return nil, err
	} else if ok {
		w.in("attribute_id", ids)
	}
	for _, key := range []string{"is_relation", "deleted"} {
		v, ok, err := filterBool(filter, key)
		if err != nil {
			return nil, err
		}
		if ok {
			w.add(key+" = ?", boolToInt(v))
		}
	}
	page, pageArgs, err := t.backend.paging(filter)
	if err != nil {
		return nil, err
	}

	results := []any{}
	err = t.backend.query("SELECT "+attributeColumns+" FROM attributes"+w.String()+" ORDER BY entity_id, code, created_at"+page,
		append(w.args, pageArgs...), func(rows *sql.Rows) error {
			a, err := scanAttribute(rows)
			if err != nil {
				return err
			}
			results = append(results, a)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func scanAttribute(row rowScanner) (*types.Attribute, error) {
	var (
		a                                types.Attribute
		multiple, relation, series, tomb int
		destination                      sql.NullString
		createdAt, updatedAt             string
	)
	err := row.Scan(&a.AttributeID, &a.EntityID, &a.Code, &a.Title, &a.SchemaID, &multiple, &relation,
		&destination, &series, &tomb, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	a.IsMultiple = multiple != 0
	a.IsRelation = relation != 0
	a.IsTimeSeries = series != 0
	a.Deleted = tomb != 0
	a.DestinationID = destination.String
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	a.UpdatedAt, err = parseTime(updatedAt)
	return &a, err
}
