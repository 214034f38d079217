package sqlstore

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

// Export writes every standard table to <dir>/<table>.jsonl, one row per
// line. Each file is replaced atomically.
func (b *Backend) Export(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating export directory")
	}
	for _, name := range types.StandardTableNames {
		table, err := b.GetTable(name)
		if err != nil {
			return err
		}
		rows, err := table.Fetch(types.Filter{})
		if err != nil {
			return errors.Wrapf(err, "fetching %s", name)
		}
		if name == types.ClassesTable {
			rows = parentsFirst(rows)
		}
		records := make([]json.RawMessage, 0, len(rows))
		for _, row := range rows {
			rec, err := json.Marshal(row)
			if err != nil {
				return errors.Wrapf(err, "encoding %s row", name)
			}
			records = append(records, rec)
		}
		if err := writeJSONL(filepath.Join(dir, name+".jsonl"), records); err != nil {
			return err
		}
		b.log.Debug("exported table", zap.String("table", name), zap.Int("rows", len(records)))
	}
	return nil
}

// Import loads <dir>/<table>.jsonl files written by Export, preserving IDs.
// Missing files are skipped. Rows are upserted, so importing twice is safe.
func (b *Backend) Import(dir string) error {
	for _, name := range types.StandardTableNames {
		path := filepath.Join(dir, name+".jsonl")
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		records, err := readJSONL(path)
		if err != nil {
			return err
		}
		table, err := b.GetTable(name)
		if err != nil {
			return err
		}
		for i, rec := range records {
			row, id := newRow(name)
			if err := json.Unmarshal(rec, row); err != nil {
				return errors.Wrapf(err, "%s line %d", name, i+1)
			}
			if _, err := table.Set(id(), row); err != nil {
				return errors.Wrapf(err, "importing %s line %d", name, i+1)
			}
		}
		b.log.Debug("imported table", zap.String("table", name), zap.Int("rows", len(records)))
	}
	return nil
}

// newRow returns an empty row for a table and a func reading its ID once
// decoded.
func newRow(table string) (any, func() string) {
	switch table {
	case types.SchemasTable:
		r := &types.Schema{}
		return r, func() string { return r.SchemaID }
	case types.ClassesTable:
		r := &types.EntityClass{}
		return r, func() string { return r.ClassID }
	case types.ClassSchemasTable:
		r := &types.ClassSchema{}
		return r, func() string { return r.LinkID }
	case types.EntitiesTable:
		r := &types.Entity{}
		return r, func() string { return r.EntityID }
	case types.AttributesTable:
		r := &types.Attribute{}
		return r, func() string { return r.AttributeID }
	case types.ValuesTable:
		r := &types.Value{}
		return r, func() string { return r.ValueID }
	default:
		r := &types.MigrationCheckpoint{}
		return r, func() string { return r.ClassID }
	}
}

// parentsFirst orders classes by path depth so a parent is always imported
// before its children.
func parentsFirst(rows []any) []any {
	out := make([]any, 0, len(rows))
	for depth := 1; len(out) < len(rows) && depth <= len(rows); depth++ {
		for _, row := range rows {
			if c := row.(*types.EntityClass); len(c.Lineage()) == depth {
				out = append(out, row)
			}
		}
	}
	return out
}

// readJSONL reads a JSONL file and returns each non-empty line as a
// json.RawMessage. Malformed lines are an error.
func readJSONL(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		if !json.Valid(raw) {
			return nil, errors.Wrapf(types.ErrInvalidData, "%s line %d is not valid JSON", path, line)
		}
		cp := make([]byte, len(raw))
		copy(cp, raw)
		records = append(records, json.RawMessage(cp))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "scanning %s", path)
	}
	return records, nil
}

// writeJSONL atomically writes records to a JSONL file using the temp-file,
// fsync, rename pattern.
func writeJSONL(path string, records []json.RawMessage) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".jsonl-*.tmp")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	tmpName := tmp.Name()
	fail := func(err error, msg string) error {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, msg)
	}

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			return fail(err, "writing record")
		}
		if err := w.WriteByte('\n'); err != nil {
			return fail(err, "writing newline")
		}
	}
	if err := w.Flush(); err != nil {
		return fail(err, "flushing buffer")
	}
	if err := tmp.Sync(); err != nil {
		return fail(err, "syncing temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "closing temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "renaming temp file")
	}
	return nil
}
