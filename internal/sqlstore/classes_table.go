package sqlstore

import (
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

var _ types.Table = (*classesTable)(nil)

// classesTable stores the entity class tree as an adjacency list with a
// cached ancestor path per row. Changing a parent rewrites the cached path
// of the whole subtree in one transaction.
type classesTable struct {
	backend *Backend
}

const classColumns = `class_id, parent_id, title, description, path, created_at, updated_at`

func (t *classesTable) Get(id string) (any, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	row, err := t.backend.queryRow("SELECT "+classColumns+" FROM entity_classes WHERE class_id = ?", id)
	if err != nil {
		return nil, err
	}
	c, err := scanClass(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(types.ErrNotFound, "class %s", id)
	}
	return c, err
}

// Set creates or updates a class. The cached path is derived here from the
// parent; a parent inside the class's own subtree fails with ErrInvalidParent.
func (t *classesTable) Set(id string, data any) (string, error) {
	c, ok := data.(*types.EntityClass)
	if !ok {
		return "", types.ErrInvalidData
	}
	if strings.TrimSpace(c.Title) == "" {
		return "", errors.Wrap(types.ErrInvalidName, "class title is required")
	}
	if id == "" {
		id = c.ClassID
	}
	if id == "" {
		id = generateID()
	}
	if c.ParentID == id {
		return "", errors.Wrap(types.ErrInvalidParent, "class cannot be its own parent")
	}
	now := time.Now().UTC()

	err := t.backend.withTx(func(tx tx) error {
		parentPath := ""
		if c.ParentID != "" {
			err := tx.queryRow("SELECT path FROM entity_classes WHERE class_id = ?", c.ParentID).Scan(&parentPath)
			if errors.Is(err, sql.ErrNoRows) {
				return errors.Wrapf(types.ErrInvalidParent, "parent %s not found", c.ParentID)
			}
			if err != nil {
				return errors.Wrap(err, "reading parent path")
			}
		}
		newPath := types.ClassPath(parentPath, id)

		var oldPath, createdAt string
		err := tx.queryRow("SELECT path, created_at FROM entity_classes WHERE class_id = ?", id).Scan(&oldPath, &createdAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if c.CreatedAt.IsZero() {
				c.CreatedAt = now
			}
			c.UpdatedAt = now
			_, err = tx.exec("INSERT INTO entity_classes ("+classColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
				id, nullString(c.ParentID), c.Title, c.Description, newPath,
				formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
			if err != nil {
				return errors.Wrap(err, "inserting class")
			}
		case err != nil:
			return errors.Wrap(err, "checking class existence")
		default:
			if strings.HasPrefix(parentPath, oldPath) && parentPath != "" {
				return errors.Wrapf(types.ErrInvalidParent, "parent %s is inside the subtree of %s", c.ParentID, id)
			}
			c.UpdatedAt = now
			if c.CreatedAt, err = parseTime(createdAt); err != nil {
				return err
			}
			_, err = tx.exec(`UPDATE entity_classes SET parent_id = ?, title = ?, description = ?, updated_at = ?
				WHERE class_id = ?`,
				nullString(c.ParentID), c.Title, c.Description, formatTime(now), id)
			if err != nil {
				return errors.Wrap(err, "updating class")
			}
			if newPath != oldPath {
				_, err = tx.exec(`UPDATE entity_classes SET path = CAST(? AS TEXT) || substr(path, CAST(? AS INTEGER))
					WHERE path LIKE ?`,
					newPath, len(oldPath)+1, oldPath+"%")
				if err != nil {
					return errors.Wrap(err, "rewriting subtree paths")
				}
			}
		}
		c.Path = newPath
		return nil
	})
	if err != nil {
		if errors.Is(err, types.ErrNotUnique) {
			return "", markAs(errors.Wrapf(err, "class title %q", c.Title), types.ErrConflict)
		}
		return "", err
	}
	c.ClassID = id
	return id, nil
}

// Delete removes a class. Classes with children or entities fail with
// ErrConflict.
func (t *classesTable) Delete(id string) error {
	if id == "" {
		return types.ErrInvalidID
	}
	res, err := t.backend.exec("DELETE FROM entity_classes WHERE class_id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(types.ErrNotFound, "class %s", id)
	}
	return nil
}

// Fetch supports "parent_id" (empty string selects roots), "title",
// "path_prefix" and "ids". Results are in tree order.
func (t *classesTable) Fetch(filter types.Filter) ([]any, error) {
	var w where
	if parent, ok, err := filterString(filter, "parent_id"); err != nil {
		return nil, err
	} else if ok {
		if parent == "" {
			w.add("parent_id IS NULL")
		} else {
			w.add("parent_id = ?", parent)
		}
	}
	if title, ok, err := filterString(filter, "title"); err != nil {
		return nil, err
	} else if ok {
		w.add("title = ?", title)
	}
	if prefix, ok, err := filterString(filter, "path_prefix"); err != nil {
		return nil, err
	} else if ok {
		w.add("path LIKE ?", prefix+"%")
	}
	if ids, ok, err := filterStrings(filter, "ids"); err != nil {
		return nil, err
	} else if ok {
		w.in("class_id", ids)
	}
	page, pageArgs, err := t.backend.paging(filter)
	if err != nil {
		return nil, err
	}

	results := []any{}
	err = t.backend.query("SELECT "+classColumns+" FROM entity_classes"+w.String()+" ORDER BY path"+page,
		append(w.args, pageArgs...), func(rows *sql.Rows) error {
			c, err := scanClass(rows)
			if err != nil {
				return err
			}
			results = append(results, c)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func scanClass(row rowScanner) (*types.EntityClass, error) {
	var (
		c                    types.EntityClass
		parent               sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&c.ClassID, &parent, &c.Title, &c.Description, &c.Path, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.ParentID = parent.String
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
