package circuitbreaker

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
)

// DatabaseWrapper guards *sql.DB round trips with a circuit breaker.
type DatabaseWrapper struct {
	db     *sql.DB
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewDatabaseWrapper wraps db with the Postgres breaker defaults.
func NewDatabaseWrapper(db *sql.DB, logger *zap.Logger) *DatabaseWrapper {
	return &DatabaseWrapper{
		db:     db,
		cb:     New("postgresql", DefaultDatabaseConfig(), logger),
		logger: logger,
	}
}

// DB exposes the underlying handle for callers that need direct access
// (sqlx binding, health checks).
func (dw *DatabaseWrapper) DB() *sql.DB { return dw.db }

// PingContext wraps db.PingContext.
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	var err error
	cbErr := dw.cb.Execute(ctx, func() error {
		err = dw.db.PingContext(ctx)
		return err
	})
	recordRequest("postgresql", dw.cb.State(), cbErr == nil && err == nil)
	if cbErr != nil {
		return cbErr
	}
	return err
}

// QueryContext wraps db.QueryContext.
func (dw *DatabaseWrapper) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	var err error
	cbErr := dw.cb.Execute(ctx, func() error {
		rows, err = dw.db.QueryContext(ctx, query, args...)
		return err
	})
	recordRequest("postgresql", dw.cb.State(), cbErr == nil && err == nil)
	if cbErr != nil {
		return nil, cbErr
	}
	return rows, err
}

// QueryRowContext wraps db.QueryRowContext. Row errors surface on Scan; the
// breaker only observes admission failures here.
func (dw *DatabaseWrapper) QueryRowContext(ctx context.Context, query string, args ...interface{}) (*sql.Row, error) {
	var row *sql.Row
	cbErr := dw.cb.Execute(ctx, func() error {
		row = dw.db.QueryRowContext(ctx, query, args...)
		return nil
	})
	recordRequest("postgresql", dw.cb.State(), cbErr == nil)
	if cbErr != nil {
		return nil, cbErr
	}
	return row, nil
}

// ExecContext wraps db.ExecContext.
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	var err error
	cbErr := dw.cb.Execute(ctx, func() error {
		result, err = dw.db.ExecContext(ctx, query, args...)
		return err
	})
	recordRequest("postgresql", dw.cb.State(), cbErr == nil && err == nil)
	if cbErr != nil {
		return nil, cbErr
	}
	return result, err
}

// BeginTx wraps db.BeginTx. The returned transaction runs unguarded; the
// breaker has already admitted the work.
func (dw *DatabaseWrapper) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	var tx *sql.Tx
	var err error
	cbErr := dw.cb.Execute(ctx, func() error {
		tx, err = dw.db.BeginTx(ctx, opts)
		return err
	})
	recordRequest("postgresql", dw.cb.State(), cbErr == nil && err == nil)
	if cbErr != nil {
		return nil, cbErr
	}
	return tx, err
}

// IsOpen reports whether the breaker currently rejects requests.
func (dw *DatabaseWrapper) IsOpen() bool {
	return dw.cb.State() == StateOpen
}
