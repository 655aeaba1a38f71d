package sqlstore

import (
	"context"
	"errors"
	"time"

	"julianmorley.ca/con-plar/megamart/pkg/models"
	"julianmorley.ca/con-plar/megamart/pkg/store"
)

var orderColumns = `id, owner, status, total_amount, discount_amount, final_amount, promo_code, shipping_address,
	payment_reference, payment_idempotency_key, created_at`

var getOrderQuery = "SELECT " + orderColumns + " FROM orders WHERE id = ?"

var getOrderLinesQuery = "SELECT order_id, product_id, quantity, unit_price FROM order_lines WHERE order_id = ? ORDER BY product_id"

func (s *Store) GetOrder(ctx context.Context, id int64) (models.Order, []models.OrderLine, error) {
	var order models.Order
	if err := s.db.GetContext(ctx, &order, s.db.Rebind(getOrderQuery), id); err != nil {
		return models.Order{}, nil, classify("get order", err)
	}
	var lines []models.OrderLine
	if err := s.db.SelectContext(ctx, &lines, s.db.Rebind(getOrderLinesQuery), id); err != nil {
		return models.Order{}, nil, classify("get order lines", err)
	}
	return order, lines, nil
}

var setPaymentReferenceQuery = "UPDATE orders SET payment_reference = ? WHERE id = ?"

func (s *Store) SetPaymentReference(ctx context.Context, orderID int64, reference string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(setPaymentReferenceQuery), reference, orderID)
	return classify("set payment reference", err)
}

var transitionOrderQuery = "UPDATE orders SET status = ? WHERE id = ? AND status = ?"

func (s *Store) TransitionOrder(ctx context.Context, orderID int64, status models.OrderStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(transitionOrderQuery), status, orderID, models.StatusPending)
	err = expectOne("transition order", res, err)
	if errors.Is(err, store.ErrConflict) {
		return false, nil
	}
	return err == nil, err
}

var listPendingWithoutPaymentQuery = "SELECT " + orderColumns + ` FROM orders
	WHERE status = ? AND payment_reference IS NULL AND created_at < ? ORDER BY id LIMIT ?`

func (s *Store) ListPendingWithoutPayment(ctx context.Context, createdBefore time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, s.db.Rebind(listPendingWithoutPaymentQuery), models.StatusPending, createdBefore, limit)
	return orders, classify("list pending orders", err)
}
