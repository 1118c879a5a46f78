// Package store defines the durable persistence interface used to back
// the merge pipeline's commit log and to snapshot in-flight agents across
// daemon restarts. The default backend is SQLite; PostgreSQL is available
// for production deployments via internal/store/postgres.
package store

import (
	"errors"

	"github.com/karan-zipline/murmur/internal/store/sqlite"
)

// OpenOptions configures how to open the store (driver and location).
type OpenOptions struct {
	Driver string // "sqlite" (default) or "postgres"
	Home   string // for sqlite: directory containing protected/db.sqlite
	DSN    string // for postgres: connection string, or for sqlite an explicit file: DSN
}

// Open opens the default SQLite store at home/protected/db.sqlite.
func Open(home string) (Store, error) {
	return OpenWithOptions(OpenOptions{Driver: "sqlite", Home: home})
}

// OpenWithOptions opens a store based on driver and options. Driver "" or
// "sqlite" uses Home (or DSN directly). For driver "postgres", the caller
// must use postgres.Open(dsn) from internal/store/postgres to avoid an
// import cycle (postgres imports this package for the Store interface).
func OpenWithOptions(opts OpenOptions) (Store, error) {
	switch opts.Driver {
	case "", "sqlite":
		if opts.Home == "" && opts.DSN != "" {
			return sqlite.OpenDSN(opts.DSN)
		}
		return sqlite.Open(opts.Home)
	case "postgres":
		return nil, errors.New("for postgres use postgres.Open(dsn) from github.com/karan-zipline/murmur/internal/store/postgres")
	default:
		return nil, errors.New("unknown store driver " + opts.Driver)
	}
}

// EnsureSchema opens the default store at home, running migrations, then
// closes it. Used by `murmur doctor` to bootstrap the database file.
func EnsureSchema(home string) error {
	s, err := Open(home)
	if err != nil {
		return err
	}
	return s.Close()
}
