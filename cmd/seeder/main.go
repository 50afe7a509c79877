// cmd/seeder/main.go
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/dispatch-engine/internal/config"
	"github.com/unclebandit/dispatch-engine/internal/db"
	"github.com/unclebandit/dispatch-engine/internal/logging"
)

var (
	migrationsDir = flag.String("migrations", "migrations", "directory of schema migrations")
	seedDir       = flag.String("seed", "seed", "directory of seed data")
	skipSeed      = flag.Bool("skip-seed", false, "apply migrations only")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logging.Configure(cfg.LogLevel)

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DB)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	defer conn.Close()

	dirs := []string{*migrationsDir}
	if !*skipSeed {
		dirs = append(dirs, *seedDir)
	}
	for _, dir := range dirs {
		if err := applyDir(ctx, conn, dir); err != nil {
			logrus.WithError(err).Fatal("Seeding failed")
		}
	}

	logrus.Info("Database seeding completed successfully!")
}

// applyDir runs every .sql file in dir in lexical order. Files are expected
// to be idempotent.
func applyDir(ctx context.Context, conn *sql.DB, dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute %s: %w", file, err)
		}
		logrus.WithField("file", file).Info("Applied")
	}
	return nil
}
