// Package database provides the relational store of the LCT core.
// PostgreSQL is reached through a pgx pool bridged into gorm; SQLite serves
// single-node deployments and tests.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/turtacn/lct/internal/config"
	"github.com/turtacn/lct/pkg/errors"
	"github.com/turtacn/lct/pkg/logger"
)

// Connection owns the gorm handle and, for PostgreSQL, the underlying pgx pool.
type Connection struct {
	db     *gorm.DB
	pool   *pgxpool.Pool
	driver string
	logger logger.Logger
}

// Open connects according to cfg and verifies the connection with a ping.
func Open(ctx context.Context, cfg *config.DatabaseConfig, log logger.Logger) (*Connection, error) {
	if cfg == nil {
		return nil, errors.ErrInvalidArgument("database config is required")
	}
	log = log.WithComponent("Database")
	gormCfg := &gorm.Config{Logger: gormlogger.Discard}

	conn := &Connection{driver: cfg.Driver, logger: log}
	switch cfg.Driver {
	case "sqlite":
		if cfg.SQLitePath == "" {
			return nil, errors.ErrInvalidArgument("database.sqlite_path is required for sqlite")
		}
		db, err := gorm.Open(sqlite.Open(cfg.SQLitePath), gormCfg)
		if err != nil {
			return nil, errors.ErrPersistence("open sqlite", err)
		}
		// SQLite serialises writers; a single connection avoids "database is locked".
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.ErrPersistence("open sqlite", err)
		}
		sqlDB.SetMaxOpenConns(1)
		conn.db = db

	case "postgres":
		log.Info(ctx, "Initializing PostgreSQL connection pool",
			logger.String("host", cfg.Host),
			logger.Int("port", cfg.Port),
			logger.String("database", cfg.Database),
			logger.Int("max_conns", cfg.MaxConns),
		)
		poolConfig, err := pgxpool.ParseConfig(cfg.GetDSN())
		if err != nil {
			return nil, errors.ErrPersistence("parse database dsn", err)
		}
		if cfg.MaxConns > 0 {
			poolConfig.MaxConns = int32(cfg.MaxConns)
		}
		if cfg.MinConns > 0 {
			poolConfig.MinConns = int32(cfg.MinConns)
		}
		if cfg.MaxConnLifetime > 0 {
			poolConfig.MaxConnLifetime = time.Duration(cfg.MaxConnLifetime) * time.Minute
		}
		if cfg.MaxConnIdleTime > 0 {
			poolConfig.MaxConnIdleTime = time.Duration(cfg.MaxConnIdleTime) * time.Minute
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, errors.ErrPersistence("create database pool", err)
		}
		db, err := gorm.Open(postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(pool)}), gormCfg)
		if err != nil {
			pool.Close()
			return nil, errors.ErrPersistence("open postgres", err)
		}
		conn.db, conn.pool = db, pool

	default:
		return nil, errors.ErrInvalidArgument(fmt.Sprintf("unknown database driver %q", cfg.Driver))
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	log.Info(ctx, "Database connection established", logger.String("driver", cfg.Driver))
	return conn, nil
}

// FromGorm wraps an existing handle, e.g. one opened by a test container.
func FromGorm(db *gorm.DB, log logger.Logger) *Connection {
	return &Connection{db: db, driver: db.Dialector.Name(), logger: log.WithComponent("Database")}
}

// DB returns the gorm handle for repositories.
func (c *Connection) DB() *gorm.DB {
	return c.db
}

// Driver returns the dialect name.
func (c *Connection) Driver() string {
	return c.driver
}

// Migrate creates or updates the tables of every repository in this package.
func (c *Connection) Migrate(ctx context.Context) error {
	if err := c.db.WithContext(ctx).AutoMigrate(
		&identityRow{},
		&keyChainRow{},
		&keyVersionRow{},
		&witnessRow{},
	); err != nil {
		return errors.ErrPersistence("migrate", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (c *Connection) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return errors.ErrPersistence("ping", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		c.logger.Error(ctx, "Database ping failed", err)
		return errors.ErrPersistence("ping", err)
	}
	if latency := time.Since(start); latency > 100*time.Millisecond {
		c.logger.Warn(ctx, "High database latency detected", logger.Duration("latency", latency))
	}
	return nil
}

// Close releases the connection and, if present, the pgx pool.
func (c *Connection) Close() {
	if sqlDB, err := c.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if c.pool != nil {
		c.pool.Close()
	}
	c.logger.Info(context.Background(), "Database connection closed")
}
