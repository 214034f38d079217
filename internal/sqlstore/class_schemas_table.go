package sqlstore

import (
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

var _ types.Table = (*classSchemasTable)(nil)

// classSchemasTable binds schema versions to entity classes. A schema with at
// least one row here is in use and immutable.
type classSchemasTable struct {
	backend *Backend
}

func (t *classSchemasTable) Get(id string) (any, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	row, err := t.backend.queryRow("SELECT link_id, class_id, schema_id, created_at FROM class_schemas WHERE link_id = ?", id)
	if err != nil {
		return nil, err
	}
	l, err := scanClassSchema(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(types.ErrNotFound, "class schema link %s", id)
	}
	return l, err
}

// Set inserts a binding. Bindings are immutable; binding the same schema to
// the same class twice returns the existing link ID.
func (t *classSchemasTable) Set(id string, data any) (string, error) {
	l, ok := data.(*types.ClassSchema)
	if !ok {
		return "", types.ErrInvalidData
	}
	if l.ClassID == "" || l.SchemaID == "" {
		return "", errors.Wrap(types.ErrInvalidData, "class_id and schema_id are required")
	}

	var existing string
	row, err := t.backend.queryRow("SELECT link_id FROM class_schemas WHERE class_id = ? AND schema_id = ?", l.ClassID, l.SchemaID)
	if err != nil {
		return "", err
	}
	err = row.Scan(&existing)
	if err == nil {
		l.LinkID = existing
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", errors.Wrap(err, "checking class schema link")
	}

	if id == "" {
		id = generateID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err = t.backend.exec("INSERT INTO class_schemas (link_id, class_id, schema_id, created_at) VALUES (?, ?, ?, ?)",
		id, l.ClassID, l.SchemaID, formatTime(l.CreatedAt))
	if err != nil {
		return "", errors.Wrap(err, "inserting class schema link")
	}
	l.LinkID = id
	return id, nil
}

func (t *classSchemasTable) Delete(id string) error {
	if id == "" {
		return types.ErrInvalidID
	}
	res, err := t.backend.exec("DELETE FROM class_schemas WHERE link_id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(types.ErrNotFound, "class schema link %s", id)
	}
	return nil
}

// Fetch supports "class_id", "schema_id" and "class_ids".
func (t *classSchemasTable) Fetch(filter types.Filter) ([]any, error) {
	var w where
	if classID, ok, err := filterString(filter, "class_id"); err != nil {
		return nil, err
	} else if ok {
		w.add("class_id = ?", classID)
	}
	if schemaID, ok, err := filterString(filter, "schema_id"); err != nil {
		return nil, err
	} else if ok {
		w.add("schema_id = ?", schemaID)
	}
	if ids, ok, err := filterStrings(filter, "class_ids"); err != nil {
		return nil, err
	} else if ok {
		w.in("class_id", ids)
	}
	page, pageArgs, err := t.backend.paging(filter)
	if err != nil {
		return nil, err
	}

	results := []any{}
	err = t.backend.query("SELECT link_id, class_id, schema_id, created_at FROM class_schemas"+w.String()+
		" ORDER BY created_at, link_id"+page, append(w.args, pageArgs...), func(rows *sql.Rows) error {
		l, err := scanClassSchema(rows)
		if err != nil {
			return err
		}
		results = append(results, l)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func scanClassSchema(row rowScanner) (*types.ClassSchema, error) {
	var (
		l         types.ClassSchema
		createdAt string
	)
	if err := row.Scan(&l.LinkID, &l.ClassID, &l.SchemaID, &createdAt); err != nil {
		return nil, err
	}
	var err error
	l.CreatedAt, err = parseTime(createdAt)
	return &l, err
}
