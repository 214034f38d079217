package sqlstore

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mesh-intelligence/eavl/pkg/types"
)

const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "postgres"
)

// dialect captures the differences between the supported SQL engines:
// driver name, placeholder style and constraint error codes.
type dialect struct {
	name   string
	driver string
}

var (
	sqliteDialect   = dialect{name: dialectSQLite, driver: "sqlite"}
	postgresDialect = dialect{name: dialectPostgres, driver: "pgx"}
)

func dialectFor(backend string) (dialect, error) {
	switch backend {
	case types.BackendSQLite:
		return sqliteDialect, nil
	case types.BackendPostgres:
		return postgresDialect, nil
	}
	return dialect{}, errors.Wrapf(types.ErrBackendUnknown, "%q", backend)
}

// rebind rewrites '?' placeholders to the dialect's style. Queries in this
// package never contain literal question marks.
func (d dialect) rebind(query string) string {
	if d.name != dialectPostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// markAs returns an error that matches sentinel under errors.Is while
// keeping err attached as a secondary cause for diagnostics.
func markAs(err, sentinel error) error {
	return errors.WithSecondaryError(errors.Wrap(sentinel, err.Error()), err)
}

// translate maps driver constraint failures onto the engine taxonomy.
// Unique violations become ErrNotUnique and foreign-key violations become
// ErrConflict; the driver error is kept as a secondary cause.
func (d dialect) translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return markAs(err, types.ErrNotUnique)
		case "23503":
			return markAs(err, types.ErrConflict)
		}
		return err
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return markAs(err, types.ErrNotUnique)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return markAs(err, types.ErrConflict)
		}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return markAs(err, types.ErrNotUnique)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return markAs(err, types.ErrConflict)
	}
	return err
}
