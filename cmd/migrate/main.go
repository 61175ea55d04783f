package main

import (
	"database/sql"
	"errors"
	"log/slog"
	"os"

	"closet-api/internal/config"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	cfg, err := config.FromEnv()
	if err != nil {
		fatal("invalid configuration", "err", err)
	}
	if err := cfg.Require("JOB_DB_DSN"); err != nil {
		fatal("invalid configuration", "err", err)
	}

	db, err := sql.Open("mysql", cfg.JobDBDSN)
	if err != nil {
		fatal("failed to open job db", "err", err)
	}
	defer db.Close()

	driver, err := mysql.WithInstance(db, &mysql.Config{})
	if err != nil {
		fatal("failed to create migration driver", "err", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+cfg.MigrationsPath, "mysql", driver)
	if err != nil {
		fatal("failed to create migration", "err", err)
	}

	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}
	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Steps(-1)
	default:
		fatal("unknown migration direction", "direction", direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fatal("migration failed", "direction", direction, "err", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		fatal("failed to read migration version", "err", err)
	}
	slog.Info("migration completed", "direction", direction, "version", version, "dirty", dirty)
}

func fatal(msg string, attrs ...any) {
	slog.Error(msg, attrs...)
	os.Exit(1)
}
