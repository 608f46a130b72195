package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// CSSCache 缓存编译产物，CSS 导出端点直接吃缓存，保存时整页失效。
type CSSCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCSSCache(rdb *redis.Client) *CSSCache {
	return &CSSCache{rdb: rdb, ttl: 24 * time.Hour}
}

func (c *CSSCache) Get(ctx context.Context, pageKey, mode string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, cssKey(pageKey, mode)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *CSSCache) Set(ctx context.Context, pageKey, mode, css string) error {
	return c.rdb.Set(ctx, cssKey(pageKey, mode), css, c.ttl).Err()
}

// Invalidate 清掉一个页面两种模式的缓存。
func (c *CSSCache) Invalidate(ctx context.Context, pageKey string) error {
	return c.rdb.Del(ctx, cssKey(pageKey, "preview"), cssKey(pageKey, "published")).Err()
}
