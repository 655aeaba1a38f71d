package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"julianmorley.ca/con-plar/megamart/pkg/models"
)

// Carts keeps anonymous session carts as hashes: cart:{sid} maps a product id
// to its quantity. Every write refreshes the TTL.
type Carts struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCarts(client *redis.Client, ttl time.Duration) *Carts {
	return &Carts{client: client, ttl: ttl}
}

func cartKey(sessionID string) string {
	return "cart:" + sessionID
}

func claimKey(sessionID string) string {
	return "cart-checkout:" + sessionID
}

func productField(productID int64) string {
	return strconv.FormatInt(productID, 10)
}

// Lines returns the session's lines sorted by product id. Fields that do not
// parse are skipped.
func (c *Carts) Lines(ctx context.Context, sessionID string) ([]models.CartLine, error) {
	raw, err := c.client.HGetAll(ctx, cartKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read session cart: %w", err)
	}
	return parseLines(raw), nil
}

func parseLines(raw map[string]string) []models.CartLine {
	lines := make([]models.CartLine, 0, len(raw))
	for field, value := range raw {
		productID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		qty, err := strconv.Atoi(value)
		if err != nil || qty < 1 {
			continue
		}
		lines = append(lines, models.CartLine{ProductID: productID, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines
}

// Quantity returns the current quantity of a product, zero when absent.
func (c *Carts) Quantity(ctx context.Context, sessionID string, productID int64) (int, error) {
	qty, err := c.client.HGet(ctx, cartKey(sessionID), productField(productID)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read session cart line: %w", err)
	}
	return qty, nil
}

// Add sums quantity into the line and returns the new quantity.
func (c *Carts) Add(ctx context.Context, sessionID string, productID int64, quantity int) (int, error) {
	key := cartKey(sessionID)
	pipe := c.client.TxPipeline()
	incr := pipe.HIncrBy(ctx, key, productField(productID), int64(quantity))
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("add to session cart: %w", err)
	}
	return int(incr.Val()), nil
}

// Set overwrites the line's quantity. Zero or less removes it.
func (c *Carts) Set(ctx context.Context, sessionID string, productID int64, quantity int) error {
	if quantity <= 0 {
		return c.Remove(ctx, sessionID, productID)
	}
	key := cartKey(sessionID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, productField(productID), quantity)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update session cart: %w", err)
	}
	return nil
}

func (c *Carts) Remove(ctx context.Context, sessionID string, productIDs ...int64) error {
	if len(productIDs) == 0 {
		return nil
	}
	fields := make([]string, len(productIDs))
	for i, id := range productIDs {
		fields[i] = productField(id)
	}
	if err := c.client.HDel(ctx, cartKey(sessionID), fields...).Err(); err != nil {
		return fmt.Errorf("remove from session cart: %w", err)
	}
	return nil
}

func (c *Carts) Clear(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, cartKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear session cart: %w", err)
	}
	return nil
}

// ErrClaimed is returned by Claim while another checkout holds the cart.
var ErrClaimed = errors.New("session cart is already claimed")

// claimScript moves cart:{sid} to cart-checkout:{sid} in one step. It returns
// -1 when a claim is already held and 0 when there is no cart.
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	return -1
end
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('RENAME', KEYS[1], KEYS[2])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
return 1
`)

// releaseScript drops the purchased fields (ARGV[2..]) from the claim and sums
// what is left back into the live cart, which may have gained lines meanwhile.
var releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then
	return 0
end
for i = 2, #ARGV do
	redis.call('HDEL', KEYS[2], ARGV[i])
end
local held = redis.call('HGETALL', KEYS[2])
local restored = 0
for i = 1, #held, 2 do
	local qty = tonumber(held[i + 1])
	if qty and qty >= 1 and qty == math.floor(qty) then
		redis.call('HINCRBY', KEYS[1], held[i], qty)
		restored = restored + 1
	end
end
redis.call('DEL', KEYS[2])
if restored > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return 1
`)

// Claim takes the whole session cart for one checkout and returns its lines,
// or nil when there is no cart to claim. The cart reads as empty until
// Release. The claim expires after hold so a
// crashed checkout cannot pin the session forever.
func (c *Carts) Claim(ctx context.Context, sessionID string, hold time.Duration) ([]models.CartLine, error) {
	keys := []string{cartKey(sessionID), claimKey(sessionID)}
	status, err := claimScript.Run(ctx, c.client, keys, hold.Milliseconds()).Int()
	if err != nil {
		return nil, fmt.Errorf("claim session cart: %w", err)
	}
	switch status {
	case -1:
		return nil, ErrClaimed
	case 0:
		return nil, nil
	}

	raw, err := c.client.HGetAll(ctx, claimKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read claimed session cart: %w", err)
	}
	return parseLines(raw), nil
}

// Release ends a claim. Lines other than purchased go back into the cart.
// Releasing without a held claim is a no-op.
func (c *Carts) Release(ctx context.Context, sessionID string, purchased ...int64) error {
	keys := []string{cartKey(sessionID), claimKey(sessionID)}
	args := make([]any, 0, len(purchased)+1)
	args = append(args, c.ttl.Milliseconds())
	for _, id := range purchased {
		args = append(args, productField(id))
	}
	if err := releaseScript.Run(ctx, c.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("release session cart: %w", err)
	}
	return nil
}
