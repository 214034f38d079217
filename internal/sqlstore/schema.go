package sqlstore

import (
	"database/sql"
	"embed"

	"github.com/cockroachdb/errors"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// Storage DDL lives in versioned migration files shared by both dialects.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// registerSchema applies pending DDL migrations. It runs once per Attach on a
// dedicated connection, which the migrate driver closes when done, and is a
// no-op when the schema is current.
func registerSchema(d dialect, dsn string, log *zap.Logger) error {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return errors.Wrap(err, "opening migration connection")
	}

	var driver database.Driver
	switch d.name {
	case dialectPostgres:
		driver, err = pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	default:
		driver, err = sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	}
	if err != nil {
		db.Close()
		return errors.Wrap(err, "creating migration driver")
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		driver.Close()
		return errors.Wrap(err, "reading embedded migrations")
	}

	m, err := migrate.NewWithInstance("iofs", src, d.name, driver)
	if err != nil {
		src.Close()
		driver.Close()
		return errors.Wrap(err, "creating migration instance")
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			log.Warn("closing migration source", zap.Error(srcErr))
		}
		if dbErr != nil {
			log.Warn("closing migration database", zap.Error(dbErr))
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Debug("storage schema up to date", zap.String("dialect", d.name))
			return nil
		}
		return errors.Wrap(err, "applying storage migrations")
	}

	version, _, _ := m.Version()
	log.Info("storage schema registered", zap.String("dialect", d.name), zap.Uint("version", version))
	return nil
}
