package sqlstore

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

// Compile-time interface check.
var _ types.Table = (*schemasTable)(nil)

// schemasTable stores versioned schema definitions. Rows are keyed by
// schema_id; (name, version) is unique.
type schemasTable struct {
	backend *Backend
}

const schemaColumns = `schema_id, name, title, description, version, field_type, is_multiple,
	is_time_series, is_relation, unique_scope, validators, default_value, ref, created_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Get retrieves a schema by ID.
func (t *schemasTable) Get(id string) (any, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	row, err := t.backend.queryRow("SELECT "+schemaColumns+" FROM schemas WHERE schema_id = ?", id)
	if err != nil {
		return nil, err
	}
	s, err := scanSchema(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(types.ErrNotFound, "schema %s", id)
	}
	return s, err
}

// Set creates or updates a schema row. The (name, version) pair must stay
// unique; a clash is reported as ErrConflict.
func (t *schemasTable) Set(id string, data any) (string, error) {
	s, ok := data.(*types.Schema)
	if !ok {
		return "", types.ErrInvalidData
	}
	if s.Version == "" {
		s.Version = types.DefaultVersion
	}
	if s.Title == "" {
		s.Title = s.Name
	}
	if err := s.Validate(); err != nil {
		return "", err
	}
	if id == "" {
		id = s.SchemaID
	}
	if id == "" {
		id = generateID()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	validators, err := json.Marshal(s.Validators)
	if err != nil {
		return "", markAs(errors.Wrap(err, "encoding validators"), types.ErrInvalidData)
	}
	if s.Validators == nil {
		validators = []byte("[]")
	}
	def, err := encodeJSON(s.Default)
	if err != nil {
		return "", err
	}

	err = t.backend.withTx(func(tx tx) error {
		var clash string
		err := tx.queryRow("SELECT schema_id FROM schemas WHERE name = ? AND version = ? AND schema_id != ?",
			s.Name, s.Version, id).Scan(&clash)
		if err == nil {
			return errors.Wrapf(types.ErrConflict, "schema %s version %s already exists", s.Name, s.Version)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return errors.Wrap(err, "checking schema identity")
		}

		var exists int
		err = tx.queryRow("SELECT 1 FROM schemas WHERE schema_id = ?", id).Scan(&exists)
		switch {
		case err == nil:
			_, err = tx.exec(`UPDATE schemas SET name = ?, title = ?, description = ?, version = ?, field_type = ?,
				is_multiple = ?, is_time_series = ?, is_relation = ?, unique_scope = ?, validators = ?,
				default_value = ?, ref = ? WHERE schema_id = ?`,
				s.Name, s.Title, s.Description, s.Version, int(s.FieldType),
				boolToInt(s.IsMultiple), boolToInt(s.IsTimeSeries), boolToInt(s.IsRelation), int(s.UniqueScope),
				string(validators), def, s.Ref, id)
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.exec(`INSERT INTO schemas (`+schemaColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				id, s.Name, s.Title, s.Description, s.Version, int(s.FieldType),
				boolToInt(s.IsMultiple), boolToInt(s.IsTimeSeries), boolToInt(s.IsRelation), int(s.UniqueScope),
				string(validators), def, s.Ref, formatTime(s.CreatedAt))
		}
		if errors.Is(err, types.ErrNotUnique) {
			return markAs(err, types.ErrConflict)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	s.SchemaID = id
	return id, nil
}

// Delete removes a schema. Rows still referenced by classes or attributes
// fail with ErrConflict.
func (t *schemasTable) Delete(id string) error {
	if id == "" {
		return types.ErrInvalidID
	}
	res, err := t.backend.exec("DELETE FROM schemas WHERE schema_id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(types.ErrNotFound, "schema %s", id)
	}
	return nil
}

// Fetch supports "name", "version" and "ids" filters.
func (t *schemasTable) Fetch(filter types.Filter) ([]any, error) {
	var w where
	if name, ok, err := filterString(filter, "name"); err != nil {
		return nil, err
	} else if ok {
		w.add("name = ?", name)
	}
	if version, ok, err := filterString(filter, "version"); err != nil {
		return nil, err
	} else if ok {
		w.add("version = ?", version)
	}
	if ids, ok, err := filterStrings(filter, "ids"); err != nil {
		return nil, err
	} else if ok {
		w.in("schema_id", ids)
	}
	page, pageArgs, err := t.backend.paging(filter)
	if err != nil {
		return nil, err
	}

	results := []any{}
	err = t.backend.query("SELECT "+schemaColumns+" FROM schemas"+w.String()+" ORDER BY name, created_at"+page,
		append(w.args, pageArgs...), func(rows *sql.Rows) error {
			s, err := scanSchema(rows)
			if err != nil {
				return err
			}
			results = append(results, s)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func scanSchema(row rowScanner) (*types.Schema, error) {
	var (
		s                      types.Schema
		fieldType, uniqueScope int
		multiple, series, rel  int
		validators, createdAt  string
		def                    sql.NullString
	)
	err := row.Scan(&s.SchemaID, &s.Name, &s.Title, &s.Description, &s.Version, &fieldType, &multiple,
		&series, &rel, &uniqueScope, &validators, &def, &s.Ref, &createdAt)
	if err != nil {
		return nil, err
	}
	if s.FieldType, err = types.FieldTypeFromCode(fieldType); err != nil {
		return nil, err
	}
	s.IsMultiple = multiple != 0
	s.IsTimeSeries = series != 0
	s.IsRelation = rel != 0
	s.UniqueScope = types.UniqueScope(uniqueScope)
	if err := json.Unmarshal([]byte(validators), &s.Validators); err != nil {
		return nil, errors.Wrap(err, "decoding validators")
	}
	if s.Default, err = decodeJSON(def); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &s, nil
}
