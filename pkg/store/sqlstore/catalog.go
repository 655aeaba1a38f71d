package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"julianmorley.ca/con-plar/megamart/pkg/models"
	"julianmorley.ca/con-plar/megamart/pkg/store"
)

var createProductQuery = "INSERT INTO products (sku, name, price, stock_quantity) VALUES (?, ?, ?, ?)"

func (s *Store) CreateProduct(ctx context.Context, product *models.Product) error {
	id, err := insertID(ctx, s.db, createProductQuery, product.SKU, product.Name, product.Price, product.StockQuantity)
	if err != nil {
		return classify("create product", err)
	}
	product.ID = id
	return nil
}

var getProductQuery = "SELECT id, sku, name, price, stock_quantity FROM products WHERE id = ?"

func (s *Store) GetProduct(ctx context.Context, id int64) (models.Product, error) {
	var p models.Product
	err := s.db.GetContext(ctx, &p, s.db.Rebind(getProductQuery), id)
	return p, classify("get product", err)
}

var getProductsQuery = "SELECT id, sku, name, price, stock_quantity FROM products WHERE id IN (?)"

func (s *Store) GetProducts(ctx context.Context, ids []int64) (map[int64]models.Product, error) {
	out := make(map[int64]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(getProductsQuery, ids)
	if err != nil {
		return nil, err
	}
	var products []models.Product
	if err := s.db.SelectContext(ctx, &products, s.db.Rebind(query), args...); err != nil {
		return nil, classify("get products", err)
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

var setStockQuery = "UPDATE products SET stock_quantity = ? WHERE id = ?"

func (s *Store) SetStock(ctx context.Context, id int64, quantity int) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(setStockQuery), quantity, id)
	err = expectOne("set stock", res, err)
	if !errors.Is(err, store.ErrConflict) {
		return err
	}
	// mysql reports zero affected rows when the value did not change
	if _, err := s.GetProduct(ctx, id); err != nil {
		return fmt.Errorf("product %d: %w", id, err)
	}
	return nil
}

var createPromoQuery = `INSERT INTO promo_codes (code, discount_type, value, expires_at, is_active, max_uses, times_used)
	VALUES (:code, :discount_type, :value, :expires_at, :is_active, :max_uses, :times_used)`

func (s *Store) CreatePromo(ctx context.Context, promo *models.PromoCode) error {
	_, err := s.db.NamedExecContext(ctx, createPromoQuery, promo)
	return classify("create promo", err)
}

var getPromoQuery = "SELECT code, discount_type, value, expires_at, is_active, max_uses, times_used FROM promo_codes WHERE code = ?"

func (s *Store) GetPromo(ctx context.Context, code string) (models.PromoCode, error) {
	var p models.PromoCode
	err := s.db.GetContext(ctx, &p, s.db.Rebind(getPromoQuery), code)
	return p, classify("get promo", err)
}
