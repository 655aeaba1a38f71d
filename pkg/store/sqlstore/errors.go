package sqlstore

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"julianmorley.ca/con-plar/megamart/pkg/store"
)

var (
	errLockTimeout = errors.New("lock wait timeout")
	errDeadlock    = errors.New("deadlock detected")
)

// classify maps driver errors onto the store error kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40P01":
			return store.Transient(op, fmt.Errorf("%w: %v", errDeadlock, pqErr))
		case "55P03", "57014":
			return store.Transient(op, fmt.Errorf("%w: %v", errLockTimeout, pqErr))
		case "40001":
			return store.Transient(op, pqErr)
		case "23505":
			return fmt.Errorf("%s: %w: %v", op, store.ErrConflict, pqErr)
		}
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1213:
			return store.Transient(op, fmt.Errorf("%w: %v", errDeadlock, myErr))
		case 1205:
			return store.Transient(op, fmt.Errorf("%w: %v", errLockTimeout, myErr))
		case 1062:
			return fmt.Errorf("%s: %w: %v", op, store.ErrConflict, myErr)
		}
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return store.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
