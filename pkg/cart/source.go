// Package cart unifies anonymous session carts and signed-in account carts
// behind Source, and merges the former into the latter on login.
package cart

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"julianmorley.ca/con-plar/megamart/pkg/models"
	"julianmorley.ca/con-plar/megamart/pkg/redis"
	"julianmorley.ca/con-plar/megamart/pkg/store"
)

// Source is where a checkout reads the buyer's lines and clears the ones it
// bought. Both calls happen inside the checkout transaction.
type Source interface {
	Owner() models.Owner
	// Lines returns the cart sorted by product id.
	Lines(ctx context.Context, tx store.Tx) ([]models.CartLine, error)
	// Clear removes the purchased lines once tx commits. A rolled back tx
	// leaves the cart as Lines found it.
	Clear(ctx context.Context, tx store.Tx, productIDs []int64) error
}

// AccountCart reads persisted cart rows under the account's cart lock, so
// the lines deleted are exactly the lines priced.
type AccountCart struct {
	accountID int64
}

func NewAccountCart(accountID int64) *AccountCart {
	return &AccountCart{accountID: accountID}
}

func (a *AccountCart) Owner() models.Owner {
	return models.AccountOwner(a.accountID)
}

func (a *AccountCart) Lines(ctx context.Context, tx store.Tx) ([]models.CartLine, error) {
	return tx.LockAccountCart(ctx, a.accountID)
}

func (a *AccountCart) Clear(ctx context.Context, tx store.Tx, productIDs []int64) error {
	return tx.DeleteAccountCartLines(ctx, a.accountID, productIDs)
}

// ErrCheckoutInProgress is returned when another checkout already holds the
// session's cart.
var ErrCheckoutInProgress = errors.New("a checkout is already in progress for this cart")

// claimHold bounds how long a crashed checkout can keep a session cart.
const claimHold = 5 * time.Minute

// SessionCart lives in Redis, outside the database transaction. Lines claims
// the whole cart so no other checkout can price it. Rollback puts every line
// back; commit puts back only what was not purchased.
type SessionCart struct {
	sessionID string
	carts     *redis.Carts
	logger    *slog.Logger

	claimed   bool
	purchased []int64
}

func NewSessionCart(sessionID string, carts *redis.Carts, logger *slog.Logger) *SessionCart {
	return &SessionCart{sessionID: sessionID, carts: carts, logger: logger}
}

func (s *SessionCart) Owner() models.Owner {
	return models.SessionOwner(s.sessionID)
}

func (s *SessionCart) Lines(ctx context.Context, tx store.Tx) ([]models.CartLine, error) {
	lines, err := s.carts.Claim(ctx, s.sessionID, claimHold)
	if errors.Is(err, redis.ErrClaimed) {
		return nil, ErrCheckoutInProgress
	}
	if err != nil {
		return nil, err
	}
	if lines == nil {
		return nil, nil
	}
	s.claimed, s.purchased = true, nil

	hookCtx := context.WithoutCancel(ctx)
	tx.AfterRollback(func() {
		s.release(hookCtx, "restore session cart after failed checkout")
	})
	tx.AfterCommit(func() {
		s.release(hookCtx, "settle session cart after checkout", s.purchased...)
	})
	return lines, nil
}

func (s *SessionCart) Clear(_ context.Context, _ store.Tx, productIDs []int64) error {
	if !s.claimed {
		return nil
	}
	s.purchased = append(s.purchased, productIDs...)
	return nil
}

func (s *SessionCart) release(ctx context.Context, msg string, purchased ...int64) {
	s.claimed = false
	if err := s.carts.Release(ctx, s.sessionID, purchased...); err != nil {
		s.logger.Error("failed to "+msg,
			slog.String("session_id", s.sessionID),
			slog.Any("error", err))
	}
}
