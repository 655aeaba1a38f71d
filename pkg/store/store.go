// Package store defines the storage capabilities the order engine relies on.
// Implementations live in sqlstore (postgres, mysql) and memstore.
package store

import (
	"context"
	"time"

	"julianmorley.ca/con-plar/megamart/pkg/models"
)

// Tx is a unit of work. Lock methods take an exclusive row lock that is held
// until the transaction ends and return the row as read under that lock.
// Callers must lock products in ascending id order.
type Tx interface {
	LockAccountCart(ctx context.Context, accountID int64) ([]models.CartLine, error)
	DeleteAccountCartLines(ctx context.Context, accountID int64, productIDs []int64) error

	LockProduct(ctx context.Context, productID int64) (models.Product, error)
	DecrementStock(ctx context.Context, productID int64, quantity int) error

	LockPromo(ctx context.Context, code string) (models.PromoCode, error)
	IncrementPromoUsage(ctx context.Context, code string) error

	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderLines(ctx context.Context, lines []models.OrderLine) error

	// AfterCommit registers fn to run once the transaction has committed.
	// It never runs on rollback.
	AfterCommit(fn func())
	// AfterRollback registers fn to run once the transaction has been
	// rolled back, including a failed commit.
	AfterRollback(fn func())
}

type Transactor interface {
	// Transact runs fn in a transaction, committing when it returns nil and
	// rolling back otherwise. Lock waits, deadlocks and lost connections are
	// reported as ErrTransient.
	Transact(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Catalog interface {
	CreateProduct(ctx context.Context, product *models.Product) error
	GetProduct(ctx context.Context, id int64) (models.Product, error)
	GetProducts(ctx context.Context, ids []int64) (map[int64]models.Product, error)
	SetStock(ctx context.Context, id int64, quantity int) error
}

type Promos interface {
	CreatePromo(ctx context.Context, promo *models.PromoCode) error
	GetPromo(ctx context.Context, code string) (models.PromoCode, error)
}

type Accounts interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id int64) (models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (models.Account, error)
}

type Carts interface {
	AccountCartLines(ctx context.Context, accountID int64) ([]models.CartLine, error)
	// AddAccountCartLines sums quantities into existing lines.
	AddAccountCartLines(ctx context.Context, accountID int64, lines []models.CartLine) error
	// SetAccountCartLine overwrites a quantity; zero removes the line.
	SetAccountCartLine(ctx context.Context, accountID, productID int64, quantity int) error
}

type Orders interface {
	GetOrder(ctx context.Context, id int64) (models.Order, []models.OrderLine, error)
	SetPaymentReference(ctx context.Context, orderID int64, reference string) error
	// TransitionOrder moves a Pending order to status and reports whether a
	// row changed. Terminal orders are left untouched.
	TransitionOrder(ctx context.Context, orderID int64, status models.OrderStatus) (bool, error)
	ListPendingWithoutPayment(ctx context.Context, createdBefore time.Time, limit int) ([]models.Order, error)
}

type Store interface {
	Transactor
	Catalog
	Promos
	Accounts
	Carts
	Orders

	Ping(ctx context.Context) error
	Close() error
}
