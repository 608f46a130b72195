package cache

import (
	"context"

	redis "github.com/redis/go-redis/v9"
)

// RedisPrefs 是按会话命名空间的偏好散列（布局方向、分栏比例）。
// 实现 editor.PrefStore 的契约：取不到就报 miss，不报错——
// 偏好丢了重新用默认值，不值得让会话失败。
type RedisPrefs struct {
	rdb     *redis.Client
	session string
}

func NewRedisPrefs(rdb *redis.Client, session string) *RedisPrefs {
	return &RedisPrefs{rdb: rdb, session: session}
}

func (p *RedisPrefs) Get(name string) (string, bool) {
	v, err := p.rdb.HGet(context.Background(), prefsKey(p.session), name).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

func (p *RedisPrefs) Set(name, value string) {
	_ = p.rdb.HSet(context.Background(), prefsKey(p.session), name, value).Err()
}
