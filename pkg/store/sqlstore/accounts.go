package sqlstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"julianmorley.ca/con-plar/megamart/pkg/models"
	"julianmorley.ca/con-plar/megamart/pkg/store"
)

var createAccountQuery = "INSERT INTO accounts (email, password_hash, name, address, created_at) VALUES (?, ?, ?, ?, ?)"

func (s *Store) CreateAccount(ctx context.Context, account *models.Account) error {
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	id, err := insertID(ctx, s.db, createAccountQuery, account.Email, account.PasswordHash, account.Name, account.Address, account.CreatedAt)
	if err != nil {
		return classify("create account", err)
	}
	account.ID = id
	return nil
}

var getAccountQuery = "SELECT id, email, password_hash, name, address, created_at FROM accounts WHERE id = ?"

func (s *Store) GetAccount(ctx context.Context, id int64) (models.Account, error) {
	var a models.Account
	err := s.db.GetContext(ctx, &a, s.db.Rebind(getAccountQuery), id)
	return a, classify("get account", err)
}

var getAccountByEmailQuery = "SELECT id, email, password_hash, name, address, created_at FROM accounts WHERE email = ?"

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (models.Account, error) {
	var a models.Account
	err := s.db.GetContext(ctx, &a, s.db.Rebind(getAccountByEmailQuery), strings.ToLower(strings.TrimSpace(email)))
	return a, classify("get account by email", err)
}

var accountCartLinesQuery = "SELECT product_id, quantity FROM cart_lines WHERE account_id = ? ORDER BY product_id"

func (s *Store) AccountCartLines(ctx context.Context, accountID int64) ([]models.CartLine, error) {
	var lines []models.CartLine
	err := s.db.SelectContext(ctx, &lines, s.db.Rebind(accountCartLinesQuery), accountID)
	return lines, classify("account cart lines", err)
}

var addCartLineQuery = map[string]string{
	DriverPostgres: `INSERT INTO cart_lines (account_id, product_id, quantity) VALUES (?, ?, ?)
		ON CONFLICT (account_id, product_id) DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity`,
	DriverMySQL: `INSERT INTO cart_lines (account_id, product_id, quantity) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE quantity = quantity + VALUES(quantity)`,
}

func (s *Store) AddAccountCartLines(ctx context.Context, accountID int64, lines []models.CartLine) error {
	if len(lines) == 0 {
		return nil
	}
	sorted := append([]models.CartLine(nil), lines...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	query := s.db.Rebind(addCartLineQuery[s.db.DriverName()])
	return s.Transact(ctx, func(ctx context.Context, t store.Tx) error {
		sqlTx := t.(*tx).tx
		for _, l := range sorted {
			if l.Quantity < 1 {
				return fmt.Errorf("cart line for product %d: quantity must be positive", l.ProductID)
			}
			if _, err := sqlTx.ExecContext(ctx, query, accountID, l.ProductID, l.Quantity); err != nil {
				return classify("add cart line", err)
			}
		}
		return nil
	})
}

var setCartLineQuery = map[string]string{
	DriverPostgres: `INSERT INTO cart_lines (account_id, product_id, quantity) VALUES (?, ?, ?)
		ON CONFLICT (account_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
	DriverMySQL: `INSERT INTO cart_lines (account_id, product_id, quantity) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE quantity = VALUES(quantity)`,
}

var deleteCartLineQuery = "DELETE FROM cart_lines WHERE account_id = ? AND product_id = ?"

func (s *Store) SetAccountCartLine(ctx context.Context, accountID, productID int64, quantity int) error {
	if quantity <= 0 {
		_, err := s.db.ExecContext(ctx, s.db.Rebind(deleteCartLineQuery), accountID, productID)
		return classify("delete cart line", err)
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(setCartLineQuery[s.db.DriverName()]), accountID, productID, quantity)
	return classify("set cart line", err)
}
