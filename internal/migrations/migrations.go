// Package migrations embeds the schema for each supported SQL driver and runs
// it through golang-migrate.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const versionTimeFormat = "20060102150405"

//go:embed postgres/*.sql mysql/*.sql
var files embed.FS

func New(driver, dsn string) (*migrate.Migrate, error) {
	src, err := iofs.New(files, driver)
	if err != nil {
		return nil, fmt.Errorf("open %s migrations: %w", driver, err)
	}
	url, err := DatabaseURL(driver, dsn)
	if err != nil {
		return nil, err
	}
	return migrate.NewWithSourceInstance("iofs", src, url)
}

// DatabaseURL converts a driver DSN into the URL form golang-migrate expects.
func DatabaseURL(driver, dsn string) (string, error) {
	switch driver {
	case "postgres":
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			return dsn, nil
		}
		return "", errors.New("postgres DATABASE_DSN must be a postgres:// URL to run migrations")
	case "mysql":
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.MultiStatements = true
		return "mysql://" + cfg.FormatDSN(), nil
	}
	return "", fmt.Errorf("driver %q has no migrations", driver)
}

func Up(driver, dsn string, log *slog.Logger) error {
	m, err := New(driver, dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info("no change in migration", "driver", driver)
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	version, _, _ := m.Version()
	log.Info("migrated up", "driver", driver, "version", version)
	return nil
}

// Down reverts the given number of migrations.
func Down(driver, dsn string, steps int, log *slog.Logger) error {
	m, err := New(driver, dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	log.Info("migrated down", "driver", driver, "steps", steps)
	return nil
}

// Create writes an empty up/down pair into dir/driver, named by timestamp.
func Create(dir, driver, name string, now time.Time) (string, string, error) {
	version := now.Format(versionTimeFormat)
	base := filepath.Join(dir, driver)
	up := filepath.Join(base, fmt.Sprintf("%s_%s.up.sql", version, name))
	down := filepath.Join(base, fmt.Sprintf("%s_%s.down.sql", version, name))

	if err := os.WriteFile(up, []byte{}, 0o644); err != nil {
		return "", "", err
	}
	if err := os.WriteFile(down, []byte{}, 0o644); err != nil {
		return "", "", err
	}
	return up, down, nil
}
