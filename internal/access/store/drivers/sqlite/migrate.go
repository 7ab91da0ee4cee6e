package sqlite

import (
	"database/sql"
	"embed"
	"errors"

	"github.com/masatokaneko/ledgerlink/internal/access/store/drivers/sqlite/auditmigrations"
	"github.com/masatokaneko/ledgerlink/internal/access/store/drivers/sqlite/cachemigrations"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ApplyMigrations applies any pending cache-schema migrations. The migration
// files are embedded and compiled into the binary.
func (s *CacheStore) ApplyMigrations() error {
	return applyMigrations(s.db, cachemigrations.Migrations)
}

// ApplyMigrations applies any pending audit-schema migrations.
func (s *AuditStore) ApplyMigrations() error {
	return applyMigrations(s.db, auditmigrations.Migrations)
}

func applyMigrations(db *sql.DB, fs embed.FS) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}

	source, err := iofs.New(fs, ".")
	if err != nil {
		return err
	}

	instance, err := migrate.NewWithInstance("iofs", source, "", driver)
	if err != nil {
		return err
	}

	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
