// Package sqlstore implements the generic typed-row store behind the
// Storage and Table interfaces. One physical table exists per concept
// (schemas, classes, entities, attributes, values), never one per entity
// class. SQLite (modernc) and PostgreSQL (pgx) share the same DDL and
// queries; the dialect handles placeholders and constraint errors.
package sqlstore

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

// DBFileName is the SQLite database file created inside Config.DataDir.
const DBFileName = "eavl.db"

// Backend implements types.Storage over database/sql.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
	dialect  dialect
	log      *zap.Logger
	tables   map[string]types.Table
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger used for attach, detach and schema registration.
func WithLogger(l *zap.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.log = l
		}
	}
}

// NewBackend creates a new backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		tables: make(map[string]types.Table),
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// GetTable returns a Table interface for the specified table name.
// Returns ErrTableNotFound if the table name is not recognized.
// Returns ErrDetached if the backend is not attached.
func (b *Backend) GetTable(name string) (types.Table, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrDetached
	}
	table, ok := b.tables[name]
	if !ok {
		return nil, errors.Wrapf(types.ErrTableNotFound, "%q", name)
	}
	return table, nil
}

// Attach validates the configuration, registers the storage schema and
// opens the connection pool. For SQLite the DataDir is created if needed.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}
	d, err := dialectFor(config.Backend)
	if err != nil {
		return err
	}

	dsn := config.DSN
	if d.name == dialectSQLite {
		if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
			return errors.Wrap(err, "creating data directory")
		}
		dsn = sqliteDSN(filepath.Join(config.DataDir, DBFileName))
	}

	if err := registerSchema(d, dsn, b.log); err != nil {
		return err
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	if d.name == dialectSQLite {
		// A single connection serializes writers and keeps pragmas in force.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return errors.Wrap(err, "connecting to database")
	}

	b.db = db
	b.dialect = d
	b.config = config
	b.tables = map[string]types.Table{
		types.SchemasTable:      &schemasTable{backend: b},
		types.ClassesTable:      &classesTable{backend: b},
		types.ClassSchemasTable: &classSchemasTable{backend: b},
		types.EntitiesTable:     &entitiesTable{backend: b},
		types.AttributesTable:   &attributesTable{backend: b},
		types.ValuesTable:       &valuesTable{backend: b},
		types.CheckpointsTable:  &checkpointsTable{backend: b},
	}
	b.attached = true
	b.log.Info("backend attached", zap.String("backend", config.Backend), zap.String("data_dir", config.DataDir))
	return nil
}

// Detach closes the database connection and releases resources.
// Idempotent: calling Detach on an already-detached backend is a no-op.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	b.attached = false
	b.tables = make(map[string]types.Table)
	err := b.db.Close()
	b.db = nil
	b.log.Info("backend detached")
	return err
}

func sqliteDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// conn returns the live handle or ErrDetached.
func (b *Backend) conn() (*sql.DB, dialect, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, dialect{}, types.ErrDetached
	}
	return b.db, b.dialect, nil
}

// exec runs a statement outside a transaction.
func (b *Backend) exec(query string, args ...any) (sql.Result, error) {
	db, d, err := b.conn()
	if err != nil {
		return nil, err
	}
	res, err := db.Exec(d.rebind(query), args...)
	return res, d.translate(err)
}

// queryRow runs a single-row query.
func (b *Backend) queryRow(query string, args ...any) (*sql.Row, error) {
	db, d, err := b.conn()
	if err != nil {
		return nil, err
	}
	return db.QueryRow(d.rebind(query), args...), nil
}

// query runs a multi-row query and hands every row to scan. Rows are fully
// drained and closed before query returns.
func (b *Backend) query(query string, args []any, scan func(*sql.Rows) error) error {
	db, d, err := b.conn()
	if err != nil {
		return err
	}
	rows, err := db.Query(d.rebind(query), args...)
	if err != nil {
		return errors.Wrap(err, "querying")
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// tx is a transaction with dialect-aware Exec.
type tx struct {
	*sql.Tx
	d dialect
}

func (t tx) exec(query string, args ...any) (sql.Result, error) {
	res, err := t.Exec(t.d.rebind(query), args...)
	return res, t.d.translate(err)
}

func (t tx) queryRow(query string, args ...any) *sql.Row {
	return t.QueryRow(t.d.rebind(query), args...)
}

// withTx runs fn in a transaction, committing on success.
func (b *Backend) withTx(fn func(tx) error) error {
	db, d, err := b.conn()
	if err != nil {
		return err
	}
	sqlTx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer sqlTx.Rollback()

	if err := fn(tx{Tx: sqlTx, d: d}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return d.translate(errors.Wrap(err, "committing transaction"))
	}
	return nil
}

// paging renders LIMIT/OFFSET for the attached dialect.
func (b *Backend) paging(filter types.Filter) (string, []any, error) {
	_, d, err := b.conn()
	if err != nil {
		return "", nil, err
	}
	return d.paging(filter)
}
