package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type DBConn struct {
	conn   *sql.DB
	driver string
}

// NewDatabaseConnection opens and pings a database for one of the
// supported drivers.
func NewDatabaseConnection(driver, dsn string) (*DBConn, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		// a single writer avoids SQLITE_BUSY on concurrent saves
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return &DBConn{conn: db, driver: driver}, nil
}

func (db *DBConn) Driver() string {
	return db.driver
}

func (db *DBConn) Ping() error {
	return db.conn.Ping()
}

func (db *DBConn) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// rebind rewrites ? placeholders into the $n form postgres expects.
func (db *DBConn) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
