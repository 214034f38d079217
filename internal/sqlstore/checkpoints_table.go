package sqlstore

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

var _ types.Table = (*checkpointsTable)(nil)

// checkpointsTable keeps one in-flight migration record per class, keyed by
// class ID.
type checkpointsTable struct {
	backend *Backend
}

const checkpointColumns = `class_id, last_entity_id, added, removed, updated, started_at, updated_at`

func (t *checkpointsTable) Get(classID string) (any, error) {
	if classID == "" {
		return nil, types.ErrInvalidID
	}
	row, err := t.backend.queryRow("SELECT "+checkpointColumns+" FROM migration_checkpoints WHERE class_id = ?", classID)
	if err != nil {
		return nil, err
	}
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(types.ErrNotFound, "checkpoint for class %s", classID)
	}
	return cp, err
}

// Set upserts the checkpoint of a class.
func (t *checkpointsTable) Set(classID string, data any) (string, error) {
	cp, ok := data.(*types.MigrationCheckpoint)
	if !ok {
		return "", types.ErrInvalidData
	}
	if classID == "" {
		classID = cp.ClassID
	}
	if classID == "" {
		return "", types.ErrInvalidID
	}
	now := time.Now().UTC()
	if cp.StartedAt.IsZero() {
		cp.StartedAt = now
	}
	cp.UpdatedAt = now

	lists := make([]string, 3)
	for i, names := range [][]string{cp.Added, cp.Removed, cp.Updated} {
		if names == nil {
			names = []string{}
		}
		b, err := json.Marshal(names)
		if err != nil {
			return "", errors.Wrap(err, "encoding checkpoint names")
		}
		lists[i] = string(b)
	}

	_, err := t.backend.exec(`INSERT INTO migration_checkpoints (`+checkpointColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (class_id) DO UPDATE SET last_entity_id = excluded.last_entity_id, added = excluded.added,
		removed = excluded.removed, updated = excluded.updated, updated_at = excluded.updated_at`,
		classID, cp.LastEntityID, lists[0], lists[1], lists[2], formatTime(cp.StartedAt), formatTime(now))
	if err != nil {
		return "", errors.Wrap(err, "writing checkpoint")
	}
	cp.ClassID = classID
	return classID, nil
}

func (t *checkpointsTable) Delete(classID string) error {
	if classID == "" {
		return types.ErrInvalidID
	}
	res, err := t.backend.exec("DELETE FROM migration_checkpoints WHERE class_id = ?", classID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(types.ErrNotFound, "checkpoint for class %s", classID)
	}
	return nil
}

// Fetch returns every checkpoint; "class_id" narrows to one class.
func (t *checkpointsTable) Fetch(filter types.Filter) ([]any, error) {
	var w where
	if classID, ok, err := filterString(filter, "class_id"); err != nil {
		return nil, err
	} else if ok {
		w.add("class_id = ?", classID)
	}
	results := []any{}
	err := t.backend.query("SELECT "+checkpointColumns+" FROM migration_checkpoints"+w.String()+" ORDER BY started_at",
		w.args, func(rows *sql.Rows) error {
			cp, err := scanCheckpoint(rows)
			if err != nil {
				return err
			}
			results = append(results, cp)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func scanCheckpoint(row rowScanner) (*types.MigrationCheckpoint, error) {
	var (
		cp                      types.MigrationCheckpoint
		added, removed, updated string
		startedAt, updatedAt    string
	)
	if err := row.Scan(&cp.ClassID, &cp.LastEntityID, &added, &removed, &updated, &startedAt, &updatedAt); err != nil {
		return nil, err
	}
	for _, pair := range []struct {
		raw string
		dst *[]string
	}{{added, &cp.Added}, {removed, &cp.Removed}, {updated, &cp.Updated}} {
		if err := json.Unmarshal([]byte(pair.raw), pair.dst); err != nil {
			return nil, errors.Wrap(err, "decoding checkpoint names")
		}
	}
	var err error
	if cp.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	cp.UpdatedAt, err = parseTime(updatedAt)
	return &cp, err
}
