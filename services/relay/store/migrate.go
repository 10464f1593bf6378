package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies database migrations from the given directory.
// dir example: file://migrations. An empty dsn falls back to the same
// environment resolution the Store uses. Running against an already
// current schema is not an error.
func Migrate(dir string, dsn string) error {
	if dir == "" {
		dir = "file://migrations"
	}
	if dsn == "" {
		dsn = DSNFromEnv()
	}

	m, err := migrate.New(dir, dsn)
	if err != nil {
		return fmt.Errorf("initializing migrations: %w", err)
	}
	defer func() {
		_, _ = m.Close()
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}
