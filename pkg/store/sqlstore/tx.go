package sqlstore

import (
	"context"

	"github.com/jmoiron/sqlx"

	"julianmorley.ca/con-plar/megamart/pkg/models"
)

type tx struct {
	tx            *sqlx.Tx
	hooks         []func()
	rollbackHooks []func()
}

func (t *tx) AfterCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}

func (t *tx) AfterRollback(fn func()) {
	t.rollbackHooks = append(t.rollbackHooks, fn)
}

func runHooks(hooks []func()) {
	for _, hook := range hooks {
		hook()
	}
}

var lockAccountCartQuery = "SELECT product_id, quantity FROM cart_lines WHERE account_id = ? ORDER BY product_id FOR UPDATE"

func (t *tx) LockAccountCart(ctx context.Context, accountID int64) ([]models.CartLine, error) {
	var lines []models.CartLine
	err := t.tx.SelectContext(ctx, &lines, t.tx.Rebind(lockAccountCartQuery), accountID)
	return lines, classify("lock account cart", err)
}

var deleteAccountCartLinesQuery = "DELETE FROM cart_lines WHERE account_id = ? AND product_id IN (?)"

func (t *tx) DeleteAccountCartLines(ctx context.Context, accountID int64, productIDs []int64) error {
	if len(productIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(deleteAccountCartLinesQuery, accountID, productIDs)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, t.tx.Rebind(query), args...)
	return classify("delete account cart lines", err)
}

var lockProductQuery = "SELECT id, sku, name, price, stock_quantity FROM products WHERE id = ? FOR UPDATE"

func (t *tx) LockProduct(ctx context.Context, productID int64) (models.Product, error) {
	var p models.Product
	err := t.tx.GetContext(ctx, &p, t.tx.Rebind(lockProductQuery), productID)
	return p, classify("lock product", err)
}

var decrementStockQuery = "UPDATE products SET stock_quantity = stock_quantity - ? WHERE id = ? AND stock_quantity >= ?"

func (t *tx) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(decrementStockQuery), quantity, productID, quantity)
	return expectOne("decrement stock", res, err)
}

var lockPromoQuery = "SELECT code, discount_type, value, expires_at, is_active, max_uses, times_used FROM promo_codes WHERE code = ? FOR UPDATE"

func (t *tx) LockPromo(ctx context.Context, code string) (models.PromoCode, error) {
	var p models.PromoCode
	err := t.tx.GetContext(ctx, &p, t.tx.Rebind(lockPromoQuery), code)
	return p, classify("lock promo", err)
}

var incrementPromoUsageQuery = "UPDATE promo_codes SET times_used = times_used + 1 WHERE code = ? AND times_used < max_uses"

func (t *tx) IncrementPromoUsage(ctx context.Context, code string) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(incrementPromoUsageQuery), code)
	return expectOne("increment promo usage", res, err)
}

var createOrderQuery = `INSERT INTO orders (owner, status, total_amount, discount_amount, final_amount, promo_code,
	shipping_address, payment_idempotency_key, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (t *tx) CreateOrder(ctx context.Context, order *models.Order) error {
	id, err := insertID(ctx, t.tx, createOrderQuery,
		order.Owner, order.Status, order.TotalAmount, order.DiscountAmount, order.FinalAmount,
		order.PromoCode, order.ShippingAddress, order.PaymentIdempotencyKey, order.CreatedAt)
	if err != nil {
		return classify("create order", err)
	}
	order.ID = id
	return nil
}

var createOrderLinesQuery = "INSERT INTO order_lines (order_id, product_id, quantity, unit_price) VALUES (:order_id, :product_id, :quantity, :unit_price)"

func (t *tx) CreateOrderLines(ctx context.Context, lines []models.OrderLine) error {
	if len(lines) == 0 {
		return nil
	}
	_, err := t.tx.NamedExecContext(ctx, createOrderLinesQuery, lines)
	return classify("create order lines", err)
}
