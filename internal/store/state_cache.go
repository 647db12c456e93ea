package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type StateCache struct{ rdb *redis.Client }

func NewStateCache(rdb *redis.Client) *StateCache { return &StateCache{rdb: rdb} }

func key(id string) string { return "camera:settings:" + id }

func (c *StateCache) Set(ctx context.Context, id string, valuesJSON []byte) error {
	return c.rdb.Set(ctx, key(id), valuesJSON, 24*time.Hour).Err()
}

func (c *StateCache) Get(ctx context.Context, id string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return b, err
}
