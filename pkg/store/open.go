// Package store reads the Mahara database: remote account mappings and
// plugin configuration values.
package store

import (
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Drivers accepted by Open, keyed by the names used in config. Mahara's own
// dbtype values are accepted as aliases.
var driverAliases = map[string]string{
	"mysql":    "mysql",
	"mysqli":   "mysql",
	"pgx":      "pgx",
	"postgres": "pgx",
	"sqlite3":  "sqlite3",
	"sqlite":   "sqlite3",
}

// DriverName maps a configured driver name to a registered database/sql driver.
func DriverName(name string) (string, error) {
	driver, ok := driverAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("unsupported database driver %q", name)
	}
	return driver, nil
}

// Open connects to the Mahara database and verifies the connection.
func Open(driver, dsn string) (*sqlx.DB, error) {
	name, err := DriverName(driver)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Connect(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}
	return db, nil
}

// table applies the Mahara dbprefix to a table name.
func table(prefix, name string) string {
	return prefix + name
}
