package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/decrement_stock.lua
var decrementStockScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

const (
	// FlatStockField holds the stock of products sold without variants
	FlatStockField = "_total"

	// availabilityField holds the mirrored in-stock flag. The underscore keeps
	// it apart from variant keys.
	availabilityField = "_in_stock"
)

var (
	// ErrStockNotTracked is returned when the product or variant has no mirrored stock
	ErrStockNotTracked = errors.New("stock not tracked")

	// ErrInsufficientStock is returned when the mirror refuses to go negative
	ErrInsufficientStock = errors.New("insufficient stock")
)

type Client struct {
	rdb             *redis.Client
	decrementScript *redis.Script
	releaseScript   *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an already configured go-redis client
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:             rdb,
		decrementScript: redis.NewScript(decrementStockScript),
		releaseScript:   redis.NewScript(releaseLockScript),
	}
}

// Ping checks Redis connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(productID int64) string {
	return fmt.Sprintf("stock:%d", productID)
}

// InitStock replaces the mirrored stock of a product. Pass FlatStockField as
// the only key for products without variants.
func (c *Client) InitStock(ctx context.Context, productID int64, fields map[string]int) error {
	key := stockKey(productID)

	available := 0
	values := make([]interface{}, 0, len(fields)*2+2)
	for field, qty := range fields {
		values = append(values, field, qty)
		if qty > 0 {
			available = 1
		}
	}
	values = append(values, availabilityField, available)

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, values...)

	_, err := pipe.Exec(ctx)
	return err
}

// DecrementStock atomically takes quantity from one field of the mirror and
// recomputes the in_stock flag
func (c *Client) DecrementStock(ctx context.Context, productID int64, field string, quantity int) (int, bool, error) {
	key := stockKey(productID)

	result, err := c.decrementScript.Run(ctx, c.rdb, []string{key}, field, quantity, availabilityField).Result()
	if err != nil {
		return 0, false, fmt.Errorf("decrement stock script failed: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return 0, false, fmt.Errorf("unexpected script result type")
	}
	remaining, _ := values[0].(int64)
	available, _ := values[1].(int64)

	switch remaining {
	case -1:
		return 0, false, fmt.Errorf("product %d field %q: %w", productID, field, ErrStockNotTracked)
	case -2:
		return 0, false, fmt.Errorf("product %d field %q: available=%d, requested=%d: %w",
			productID, field, available, quantity, ErrInsufficientStock)
	}

	return int(remaining), available == 1, nil
}

// GetStock retrieves the mirrored counters and availability flag
func (c *Client) GetStock(ctx context.Context, productID int64) (map[string]int, bool, error) {
	result, err := c.rdb.HGetAll(ctx, stockKey(productID)).Result()
	if err != nil {
		return nil, false, err
	}

	if len(result) == 0 {
		return nil, false, fmt.Errorf("product %d: %w", productID, ErrStockNotTracked)
	}

	fields := make(map[string]int, len(result))
	inStock := false
	for field, raw := range result {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, false, fmt.Errorf("invalid stock value %q for %s: %w", raw, field, err)
		}
		if field == availabilityField {
			inStock = n == 1
			continue
		}
		fields[field] = n
	}

	return fields, inStock, nil
}

// AcquireLock acquires a distributed lock and returns the token needed to release it
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseLock releases a distributed lock if it is still held with token
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	return c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Err()
}
