package database

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

var (
	// ErrTimedOut is returned when no connection became available before the
	// acquire deadline.
	ErrTimedOut = errors.New("database: timed out waiting for a connection")
	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("database: pool closed")
)

// ExternalError wraps a failure reported by the driver or the server.
type ExternalError struct {
	Err error
}

func (e *ExternalError) Error() string { return "database: " + e.Err.Error() }

func (e *ExternalError) Unwrap() error { return e.Err }

// Manager creates, checks and destroys pooled connections of type C.
type Manager[C any] interface {
	Connect(ctx context.Context) (C, error)
	IsValid(ctx context.Context, conn C) error
	// HasBroken must not block.
	HasBroken(conn C) bool
	TimedOut() error
	Close(conn C)
}

// Connection is one Postgres session with its statements prepared.
type Connection struct {
	conn    *pgx.Conn
	Queries *Queries

	broken     atomic.Bool
	terminated <-chan struct{}
}

// PID is the backend process id serving this connection.
func (c *Connection) PID() uint32 { return c.conn.PgConn().PID() }

// MarkBroken flags the connection so the pool destroys it on release.
func (c *Connection) MarkBroken() { c.broken.Store(true) }

// Query runs a prepared statement and returns its rows. The caller must
// close the rows.
func (c *Connection) Query(ctx context.Context, sd *pgconn.StatementDescription, args ...any) (pgx.Rows, error) {
	var eqb pgx.ExtendedQueryBuilder
	if err := eqb.Build(c.conn.TypeMap(), sd, args); err != nil {
		return nil, fmt.Errorf("%s: %w", sd.Name, err)
	}
	rr := c.conn.PgConn().ExecPrepared(ctx, sd.Name, eqb.ParamValues, eqb.ParamFormats, eqb.ResultFormats)
	return pgx.RowsFromResultReader(c.conn.TypeMap(), rr), nil
}

// Exec runs a prepared statement that returns no rows.
func (c *Connection) Exec(ctx context.Context, sd *pgconn.StatementDescription, args ...any) (pgconn.CommandTag, error) {
	var eqb pgx.ExtendedQueryBuilder
	if err := eqb.Build(c.conn.TypeMap(), sd, args); err != nil {
		return pgconn.CommandTag{}, fmt.Errorf("%s: %w", sd.Name, err)
	}
	rr := c.conn.PgConn().ExecPrepared(ctx, sd.Name, eqb.ParamValues, eqb.ParamFormats, eqb.ResultFormats)
	return rr.Close()
}

// Tx runs fn inside a transaction on this connection. The transaction is
// rolled back when fn fails.
func (c *Connection) Tx(ctx context.Context, fn func() error) error {
	pg := c.conn.PgConn()
	if _, err := pg.Exec(ctx, "BEGIN").ReadAll(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if _, rbErr := pg.Exec(ctx, "ROLLBACK").ReadAll(); rbErr != nil {
			c.MarkBroken()
		}
		return err
	}
	_, err := pg.Exec(ctx, "COMMIT").ReadAll()
	return err
}

// TLSMode selects transport security for new connections.
type TLSMode string

const (
	// TLSFromDSN keeps whatever sslmode the connection string asks for.
	TLSFromDSN TLSMode = ""
	TLSDisable TLSMode = "disable"
	// TLSVerify requires TLS and verifies the server certificate and host name.
	TLSVerify TLSMode = "verify"
)

// PostgresManager implements Manager for Postgres.
type PostgresManager struct {
	config *pgx.ConnConfig
	log    *zap.Logger
}

// ParseConnConfig parses a Postgres URL or keyword/value DSN and applies mode.
func ParseConnConfig(dsn string, mode TLSMode) (*pgx.ConnConfig, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	switch mode {
	case TLSFromDSN:
	case TLSDisable:
		cfg.TLSConfig = nil
		cfg.Fallbacks = nil
	case TLSVerify:
		cfg.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
		cfg.Fallbacks = nil
	default:
		return nil, fmt.Errorf("unknown tls mode %q", mode)
	}
	return cfg, nil
}

func NewManager(cfg *pgx.ConnConfig, l *zap.Logger) *PostgresManager {
	if l == nil {
		l = zap.NewNop()
	}
	return &PostgresManager{config: cfg, log: l.Named("db")}
}

// Connect dials, completes the startup handshake and prepares every
// statement. A connection that fails preparation is closed.
func (m *PostgresManager) Connect(ctx context.Context) (*Connection, error) {
	start := time.Now()
	conn, err := pgx.ConnectConfig(ctx, m.config)
	if err != nil {
		return nil, &ExternalError{Err: err}
	}
	queries, err := PrepareQueries(ctx, conn.PgConn())
	if err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
		return nil, &ExternalError{Err: err}
	}
	m.log.Debug("connection ready",
		zap.Uint32("pid", conn.PgConn().PID()),
		zap.Int("statements", len(catalogue)),
		zap.Duration("took", time.Since(start)))
	return &Connection{
		conn:       conn,
		Queries:    queries,
		terminated: conn.PgConn().CleanupDone(),
	}, nil
}

// IsValid issues an empty simple query.
func (m *PostgresManager) IsValid(ctx context.Context, c *Connection) error {
	if err := c.conn.PgConn().Exec(ctx, "").Close(); err != nil {
		return &ExternalError{Err: err}
	}
	return nil
}

func (m *PostgresManager) HasBroken(c *Connection) bool {
	if c.broken.Load() {
		return true
	}
	select {
	case <-c.terminated:
		c.broken.Store(true)
		return true
	default:
	}
	// a busy connection was abandoned mid-result and cannot be reused
	if c.conn.IsClosed() || c.conn.PgConn().IsBusy() {
		c.broken.Store(true)
		return true
	}
	return false
}

func (m *PostgresManager) TimedOut() error { return ErrTimedOut }

func (m *PostgresManager) Close(c *Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.conn.Close(ctx); err != nil {
		m.log.Debug("close connection", zap.Uint32("pid", c.PID()), zap.Error(err))
	}
}
