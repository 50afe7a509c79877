// internal/db/db.go
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/dispatch-engine/internal/config"
)

// Open connects to Postgres and pings it, retrying a few times while the
// database container comes up.
func Open(ctx context.Context, cfg config.DBConfig) (*sql.DB, error) {
	logrus.WithFields(logrus.Fields{
		"host": cfg.Host,
		"name": cfg.Name,
		"user": cfg.User,
	}).Info("Connecting to database")

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(50)
	db.SetConnMaxLifetime(time.Hour)

	retryTicker := time.NewTicker(2 * time.Second)
	defer retryTicker.Stop()

	var pingErr error
	for range 5 {
		if pingErr = db.PingContext(ctx); pingErr == nil {
			break
		}
		logrus.WithError(pingErr).Warn("Database ping failed, retrying")
		select {
		case <-retryTicker.C:
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		}
	}
	if pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", pingErr)
	}

	logrus.Info("✅ Connected to database")
	return db, nil
}
