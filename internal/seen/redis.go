package seen

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisSeenKey = "trivia:seen_signatures"

// RedisLog keeps the window as a capped redis list, newest at the head.
type RedisLog struct {
	rdb    *redis.Client
	key    string
	window int
}

func NewRedisLog(rdb *redis.Client) *RedisLog {
	return &RedisLog{rdb: rdb, key: redisSeenKey, window: Window}
}

func (l *RedisLog) Has(ctx context.Context, sig string) (bool, error) {
	_, err := l.rdb.LPos(ctx, l.key, sig, redis.LPosArgs{}).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup signature: %w", err)
	}
	return true, nil
}

func (l *RedisLog) Mark(ctx context.Context, sig string) error {
	ok, err := l.Has(ctx, sig)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	pipe := l.rdb.TxPipeline()
	pipe.LPush(ctx, l.key, sig)
	pipe.LTrim(ctx, l.key, 0, int64(l.window-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store signature: %w", err)
	}
	return nil
}
