package cache

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	redis "github.com/redis/go-redis/v9"

	"kasirinaja/ledger/internal/domain"
)

const saleKeyPrefix = "ledger:sale:"

type RedisSaleCache struct {
	client *redis.Client
}

func NewRedisSaleCache(addr string, password string, db int) *RedisSaleCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisSaleCache{client: client}
}

func saleKey(reference string) string {
	return saleKeyPrefix + reference
}

func (c *RedisSaleCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSaleCache) Close() error {
	return c.client.Close()
}

func (c *RedisSaleCache) Get(ctx context.Context, reference string) (*domain.CommittedSale, bool, error) {
	val, err := c.client.Get(ctx, saleKey(reference)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var sale domain.CommittedSale
	if err := json.Unmarshal(val, &sale); err != nil {
		return nil, false, err
	}
	return &sale, true, nil
}

func (c *RedisSaleCache) Set(ctx context.Context, sale *domain.CommittedSale, ttl time.Duration) error {
	if sale == nil || sale.Reference == "" {
		return nil
	}
	payload, err := json.Marshal(sale)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, saleKey(sale.Reference), payload, ttl).Err()
}

func (c *RedisSaleCache) Delete(ctx context.Context, reference string) error {
	return c.client.Del(ctx, saleKey(reference)).Err()
}
