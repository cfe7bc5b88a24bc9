package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrations embed.FS

// Migrate applies the embedded schema for driver. It opens its own
// connection because closing the migrator closes the underlying database.
func Migrate(driver, dsn string) error {
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return err
	}

	var instance migratedb.Driver
	switch driver {
	case DriverSQLite:
		instance, err = sqlite.WithInstance(conn, &sqlite.Config{})
	case DriverPostgres:
		instance, err = postgres.WithInstance(conn, &postgres.Config{})
	default:
		err = fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		conn.Close()
		return err
	}

	src, err := iofs.New(migrations, "migrations/"+driver)
	if err != nil {
		instance.Close()
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, instance)
	if err != nil {
		src.Close()
		instance.Close()
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", driver, err)
	}

	return nil
}
