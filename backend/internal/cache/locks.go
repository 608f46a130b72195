package cache

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultStaleness 超过这个时长没有心跳的通道视为死通道，
// 清理后不再参与锁主判定。
const DefaultStaleness = time.Hour

// Channel 是一条活着的编辑通道。
type Channel struct {
	ID       string
	User     string
	LastSeen time.Time
}

// LockRegistry 用 redis 维护每个页面的编辑通道队列：
// rpush 注册、lrem+lpush 抢锁、队头的活通道就是锁主。
// 多实例共享同一份队列，锁判定天然一致。
type LockRegistry struct {
	rdb       *redis.Client
	staleness time.Duration
}

func NewLockRegistry(rdb *redis.Client) *LockRegistry {
	return &LockRegistry{rdb: rdb, staleness: DefaultStaleness}
}

// WithStaleness 调整陈旧阈值，测试用。
func (r *LockRegistry) WithStaleness(d time.Duration) *LockRegistry {
	r.staleness = d
	return r
}

// Register 把通道排到页面队列尾部。重复注册只刷新心跳。
func (r *LockRegistry) Register(ctx context.Context, pageKey, channelID, user string) error {
	_, err := r.rdb.LPos(ctx, channelsKey(pageKey), channelID, redis.LPosArgs{}).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	tx := r.rdb.TxPipeline()
	if err == redis.Nil {
		tx.RPush(ctx, channelsKey(pageKey), channelID)
	}
	tx.HSet(ctx, seenKey(pageKey), channelID, time.Now().Unix())
	tx.HSet(ctx, usersKey(pageKey), channelID, user)
	_, err = tx.Exec(ctx)
	return err
}

// Heartbeat 刷新通道的存活时间戳。
func (r *LockRegistry) Heartbeat(ctx context.Context, pageKey, channelID string) error {
	return r.rdb.HSet(ctx, seenKey(pageKey), channelID, time.Now().Unix()).Err()
}

// Remove 把通道整个摘掉（断连或主动离开）。
func (r *LockRegistry) Remove(ctx context.Context, pageKey, channelID string) error {
	tx := r.rdb.TxPipeline()
	tx.LRem(ctx, channelsKey(pageKey), 0, channelID)
	tx.HDel(ctx, seenKey(pageKey), channelID)
	tx.HDel(ctx, usersKey(pageKey), channelID)
	_, err := tx.Exec(ctx)
	return err
}

// Claim 抢锁：先清掉陈旧通道，再把申请者挪到队头。
func (r *LockRegistry) Claim(ctx context.Context, pageKey, channelID string) error {
	if _, err := r.pruneStale(ctx, pageKey); err != nil {
		return err
	}
	tx := r.rdb.TxPipeline()
	tx.LRem(ctx, channelsKey(pageKey), 0, channelID)
	tx.LPush(ctx, channelsKey(pageKey), channelID)
	tx.HSet(ctx, seenKey(pageKey), channelID, time.Now().Unix())
	_, err := tx.Exec(ctx)
	return err
}

// Owner 返回当前锁主（队头的活通道）。没有任何活通道时 ID 为空串。
func (r *LockRegistry) Owner(ctx context.Context, pageKey string) (Channel, error) {
	chans, err := r.Channels(ctx, pageKey)
	if err != nil || len(chans) == 0 {
		return Channel{}, err
	}
	return chans[0], nil
}

// Channels 按队列顺序返回活通道，顺带把陈旧的剔除。
func (r *LockRegistry) Channels(ctx context.Context, pageKey string) ([]Channel, error) {
	return r.pruneStale(ctx, pageKey)
}

func (r *LockRegistry) pruneStale(ctx context.Context, pageKey string) ([]Channel, error) {
	ids, err := r.rdb.LRange(ctx, channelsKey(pageKey), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	seen, err := r.rdb.HGetAll(ctx, seenKey(pageKey)).Result()
	if err != nil {
		return nil, err
	}
	users, err := r.rdb.HGetAll(ctx, usersKey(pageKey)).Result()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-r.staleness).Unix()
	var alive []Channel
	var dead []string
	for _, id := range ids {
		ts, _ := strconv.ParseInt(seen[id], 10, 64)
		if ts < cutoff {
			dead = append(dead, id)
			continue
		}
		alive = append(alive, Channel{ID: id, User: users[id], LastSeen: time.Unix(ts, 0)})
	}
	if len(dead) > 0 {
		tx := r.rdb.TxPipeline()
		for _, id := range dead {
			tx.LRem(ctx, channelsKey(pageKey), 0, id)
			tx.HDel(ctx, seenKey(pageKey), id)
			tx.HDel(ctx, usersKey(pageKey), id)
		}
		if _, err := tx.Exec(ctx); err != nil {
			return nil, err
		}
	}
	return alive, nil
}
