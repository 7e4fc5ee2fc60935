package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Executor is the query surface shared by *sqlx.DB and *sqlx.Tx.
type Executor interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

type DB interface {
	Executor
	PingContext(ctx context.Context) error
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	Close() error

	// Conn returns the open transaction carried by ctx, or the pool itself.
	Conn(ctx context.Context) Executor
	// WithTx runs fn inside a transaction. Nested calls join the outer transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type DatabaseInstance struct {
	*sqlx.DB
	logger *zap.Logger
}

func NewDatabaseInstance(db *sqlx.DB, logger *zap.Logger) DB {
	return &DatabaseInstance{
		DB:     db,
		logger: logger,
	}
}

// PoolConfig holds connection pool limits.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to postgres and applies the pool limits.
func Open(ctx context.Context, dsn string, pool PoolConfig, logger *zap.Logger) (DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	logger.Info("Connected to postgres")
	return NewDatabaseInstance(db, logger), nil
}

// Unwrap returns the pool behind db. Migrations need the concrete *sqlx.DB.
func Unwrap(db DB) (*sqlx.DB, error) {
	instance, ok := db.(*DatabaseInstance)
	if !ok {
		return nil, fmt.Errorf("unsupported database implementation %T", db)
	}
	return instance.DB, nil
}
