// Package pg opens the shared Postgres pool and classifies driver errors.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// SQLSTATE codes the services distinguish.
const (
	CodeInsufficientPrivilege = "42501"
	CodeUniqueViolation       = "23505"
	CodeForeignKeyViolation   = "23503"
	CodeCheckViolation        = "23514"
	CodeNotNullViolation      = "23502"
	CodeInvalidTextRepr       = "22P02"
	CodeQueryCanceled         = "57014"
	CodeAdminShutdown         = "57P01"
	CodeCannotConnectNow      = "57P03"
)

// PoolOptions tunes database/sql pooling.
type PoolOptions struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// DefaultPool is used when Open receives a zero PoolOptions.
var DefaultPool = PoolOptions{
	MaxOpen:     50,
	MaxIdle:     25,
	MaxLifetime: 15 * time.Minute,
	MaxIdleTime: 5 * time.Minute,
}

// Open returns a pooled handle using the pgx driver and verifies connectivity.
func Open(ctx context.Context, dsn string, opts PoolOptions) (*sql.DB, error) {
	if opts == (PoolOptions{}) {
		opts = DefaultPool
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(opts.MaxOpen)
	db.SetMaxIdleConns(opts.MaxIdle)
	db.SetConnMaxLifetime(opts.MaxLifetime)
	db.SetConnMaxIdleTime(opts.MaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// PgError unwraps a server-side error.
func PgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// Code returns the SQLSTATE of err, or "" when err did not come from the server.
func Code(err error) string {
	if pgErr, ok := PgError(err); ok {
		return pgErr.Code
	}
	return ""
}

// Unavailable reports whether err means the database could not answer: timeouts,
// cancellations, dropped connections and server shutdown.
func Unavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return true
	}
	switch Code(err) {
	case CodeQueryCanceled, CodeAdminShutdown, CodeCannotConnectNow:
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
