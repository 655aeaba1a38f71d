// Package sqlstore implements store.Store on postgres and mysql through sqlx.
// Queries are written with ? placeholders and rebound per driver.
package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"julianmorley.ca/con-plar/megamart/pkg/store"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

type Store struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

var _ store.Store = (*Store)(nil)

func Open(ctx context.Context, driver, dsn string, lockTimeout time.Duration) (*Store, error) {
	if driver != DriverPostgres && driver != DriverMySQL {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return New(db, lockTimeout), nil
}

func New(db *sqlx.DB, lockTimeout time.Duration) *Store {
	return &Store{db: db, lockTimeout: lockTimeout}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}
	t := &tx{tx: sqlTx}
	defer func() {
		if r := recover(); r != nil {
			_ = sqlTx.Rollback()
			panic(r)
		} else if err != nil {
			_ = sqlTx.Rollback()
			runHooks(t.rollbackHooks)
		}
	}()

	if err = s.setLockTimeout(ctx, sqlTx); err != nil {
		return err
	}
	if err = fn(ctx, t); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return classify("commit", err)
	}
	runHooks(t.hooks)
	return nil
}

// setLockTimeout bounds how long a row lock wait may block.
func (s *Store) setLockTimeout(ctx context.Context, sqlTx *sqlx.Tx) error {
	if s.lockTimeout <= 0 {
		return nil
	}
	var stmt string
	switch sqlTx.DriverName() {
	case DriverPostgres:
		stmt = fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
	case DriverMySQL:
		secs := int(s.lockTimeout.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		stmt = fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", secs)
	default:
		return nil
	}
	_, err := sqlTx.ExecContext(ctx, stmt)
	return classify("set lock timeout", err)
}

// insertID runs an INSERT and returns the generated id.
func insertID(ctx context.Context, e sqlx.ExtContext, query string, args ...interface{}) (int64, error) {
	if e.DriverName() == DriverPostgres {
		var id int64
		err := e.QueryRowxContext(ctx, e.Rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := e.ExecContext(ctx, e.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// expectOne turns a zero-row UPDATE into ErrConflict.
func expectOne(op string, res interface{ RowsAffected() (int64, error) }, err error) error {
	if err != nil {
		return classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if n != 1 {
		return fmt.Errorf("%s: %w", op, store.ErrConflict)
	}
	return nil
}
