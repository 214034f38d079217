package sqlstore

import (
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

var _ types.Table = (*entitiesTable)(nil)

// entitiesTable stores entity identity rows. Attributes and values cascade
// on delete.
type entitiesTable struct {
	backend *Backend
}

const entityColumns = `entity_id, class_id, title, created_at, updated_at`

func (t *entitiesTable) Get(id string) (any, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	row, err := t.backend.queryRow("SELECT "+entityColumns+" FROM entities WHERE entity_id = ?", id)
	if err != nil {
		return nil, err
	}
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(types.ErrNotFound, "entity %s", id)
	}
	return e, err
}

func (t *entitiesTable) Set(id string, data any) (string, error) {
	e, ok := data.(*types.Entity)
	if !ok {
		return "", types.ErrInvalidData
	}
	if e.ClassID == "" {
		return "", errors.Wrap(types.ErrInvalidData, "entity class is required")
	}
	if id == "" {
		id = e.EntityID
	}
	if id == "" {
		id = generateID()
	}
	now := time.Now().UTC()
	e.UpdatedAt = now

	res, err := t.backend.exec("UPDATE entities SET class_id = ?, title = ?, updated_at = ? WHERE entity_id = ?",
		e.ClassID, e.Title, formatTime(now), id)
	if err != nil {
		return "", errors.Wrap(err, "updating entity")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		_, err = t.backend.exec("INSERT INTO entities ("+entityColumns+") VALUES (?, ?, ?, ?, ?)",
			id, e.ClassID, e.Title, formatTime(e.CreatedAt), formatTime(now))
		if err != nil {
			return "", errors.Wrap(err, "inserting entity")
		}
	}
	e.EntityID = id
	return id, nil
}

func (t *entitiesTable) Delete(id string) error {
	if id == "" {
		return types.ErrInvalidID
	}
	res, err := t.backend.exec("DELETE FROM entities WHERE entity_id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(types.ErrNotFound, "entity %s", id)
	}
	return nil
}

// Fetch supports "class_id", "class_ids", "ids", "title" and "after" (entity
// IDs strictly greater, for keyset paging). Results are ordered by ID.
func (t *entitiesTable) Fetch(filter types.Filter) ([]any, error) {
	var w where
	if classID, ok, err := filterString(filter, "class_id"); err != nil {
		return nil, err
	} else if ok {
		w.add("class_id = ?", classID)
	}
	if classIDs, ok, err := filterStrings(filter, "class_ids"); err != nil {
		return nil, err
	} else if ok {
		w.in("class_id", classIDs)
	}
	if ids, ok, err := filterStrings(filter, "ids"); err != nil {
		return nil, err
	} else if ok {
		w.in("entity_id", ids)
	}
	if title, ok, err := filterString(filter, "title"); err != nil {
		return nil, err
	} else if ok {
		w.add("title = ?", title)
	}
	if after, ok, err := filterString(filter, "after"); err != nil {
		return nil, err
	} else if ok && after != "" {
		w.add("entity_id > ?", after)
	}
	page, pageArgs, err := t.backend.paging(filter)
	if err != nil {
		return nil, err
	}

	results := []any{}
	err = t.backend.query("SELECT "+entityColumns+" FROM entities"+w.String()+" ORDER BY entity_id"+page,
		append(w.args, pageArgs...), func(rows *sql.Rows) error {
			e, err := scanEntity(rows)
			if err != nil {
				return err
			}
			results = append(results, e)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func scanEntity(row rowScanner) (*types.Entity, error) {
	var (
		e                    types.Entity
		createdAt, updatedAt string
	)
	if err := row.Scan(&e.EntityID, &e.ClassID, &e.Title, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	e.UpdatedAt, err = parseTime(updatedAt)
	return &e, err
}
