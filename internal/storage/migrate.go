package storage

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies every pending up migration found in migrationsPath.
func Migrate(DbURL, migrationsPath string, log *slog.Logger) error {
	const op = "storage.Migrate"

	migrator, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), DbURL)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		srcErr, dbErr := migrator.Close()
		if err := errors.Join(srcErr, dbErr); err != nil {
			log.Warn("failed to close migrator", slog.Any("error", err))
		}
	}()

	err = migrator.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info("no migrations to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	version, _, err := migrator.Version()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Info("migrations applied", slog.Uint64("version", uint64(version)))

	return nil
}
