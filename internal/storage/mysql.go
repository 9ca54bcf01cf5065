// Package storage opens the optional persistence boundary: a MySQL pool
// and a Redis client handed to the business consumer at construction
// time. The substrate itself keeps no durable state.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// MySQLConfig tunes the connection pool.
type MySQLConfig struct {
	// DSN is the go-sql-driver data source name,
	// e.g. "user:pass@tcp(127.0.0.1:3306)/app?parseTime=true".
	DSN string

	// Pool knobs. Zero values select the defaults below.
	MaxOpenConns    int           // default 100
	MaxIdleConns    int           // default 5
	ConnMaxLifetime time.Duration // default 8s
	ConnMaxIdleTime time.Duration // default 8s
	ConnectTimeout  time.Duration // default 8s
}

// OpenMySQL opens and pings a pool. The returned handle is safe for
// concurrent use and owned by the caller.
func OpenMySQL(ctx context.Context, cfg MySQLConfig, logger *zap.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 100
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 8 * time.Second
	}
	idleTime := cfg.ConnMaxIdleTime
	if idleTime <= 0 {
		idleTime = 8 * time.Second
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 8 * time.Second
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)
	db.SetConnMaxIdleTime(idleTime)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	logger.Info("connected to mysql")
	return db, nil
}
