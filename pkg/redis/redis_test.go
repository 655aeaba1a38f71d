package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"julianmorley.ca/con-plar/megamart/pkg/models"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestCartsAddSumsAndSetsTTL(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestClient(t)
	carts := NewCarts(client, time.Hour)

	qty, err := carts.Add(ctx, "s1", 7, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, qty)

	qty, err = carts.Add(ctx, "s1", 7, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, qty)

	_, err = carts.Add(ctx, "s1", 2, 1)
	require.NoError(t, err)

	lines, err := carts.Lines(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []models.CartLine{{ProductID: 2, Quantity: 1}, {ProductID: 7, Quantity: 5}}, lines)
	assert.Equal(t, time.Hour, mr.TTL("cart:s1"))
}

func TestCartsSetAndRemove(t *testing.T) {
	ctx := context.Background()
	_, client := newTestClient(t)
	carts := NewCarts(client, time.Hour)

	require.NoError(t, carts.Set(ctx, "s1", 1, 4))
	require.NoError(t, carts.Set(ctx, "s1", 2, 1))
	qty, err := carts.Quantity(ctx, "s1", 1)
	require.NoError(t, err)
	assert.Equal(t, 4, qty)

	require.NoError(t, carts.Set(ctx, "s1", 1, 0))
	qty, err = carts.Quantity(ctx, "s1", 1)
	require.NoError(t, err)
	assert.Zero(t, qty)

	require.NoError(t, carts.Remove(ctx, "s1", 2))
	lines, err := carts.Lines(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestCartsLinesSkipsGarbage(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestClient(t)
	carts := NewCarts(client, time.Hour)

	mr.HSet("cart:s1", "3", "2")
	mr.HSet("cart:s1", "abc", "1")
	mr.HSet("cart:s1", "4", "zero")

	lines, err := carts.Lines(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []models.CartLine{{ProductID: 3, Quantity: 2}}, lines)

	require.NoError(t, carts.Clear(ctx, "s1"))
	assert.False(t, mr.Exists("cart:s1"))
}

func TestCartsClaimAndRelease(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestClient(t)
	carts := NewCarts(client, time.Hour)

	lines, err := carts.Claim(ctx, "s1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, lines)

	_, err = carts.Add(ctx, "s1", 3, 2)
	require.NoError(t, err)
	_, err = carts.Add(ctx, "s1", 5, 1)
	require.NoError(t, err)

	lines, err = carts.Claim(ctx, "s1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []models.CartLine{{ProductID: 3, Quantity: 2}, {ProductID: 5, Quantity: 1}}, lines)
	assert.False(t, mr.Exists("cart:s1"))
	assert.True(t, mr.Exists("cart-checkout:s1"))
	assert.Equal(t, time.Minute, mr.TTL("cart-checkout:s1"))

	_, err = carts.Claim(ctx, "s1", time.Minute)
	assert.ErrorIs(t, err, ErrClaimed)

	// Lines added while claimed are kept and summed with what comes back.
	_, err = carts.Add(ctx, "s1", 5, 4)
	require.NoError(t, err)

	require.NoError(t, carts.Release(ctx, "s1", 3))
	assert.False(t, mr.Exists("cart-checkout:s1"))
	lines, err = carts.Lines(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []models.CartLine{{ProductID: 5, Quantity: 5}}, lines)
	assert.Equal(t, time.Hour, mr.TTL("cart:s1"))

	require.NoError(t, carts.Release(ctx, "s1"))
}

func TestSessionsBindResolveUnbind(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestClient(t)
	sessions := NewSessions(client, 24*time.Hour)

	_, ok, err := sessions.AccountID(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, sessions.Bind(ctx, "s1", 42))
	id, ok, err := sessions.AccountID(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, 24*time.Hour, mr.TTL("session:s1"))

	require.NoError(t, sessions.Unbind(ctx, "s1"))
	_, ok, err = sessions.AccountID(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}
