package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blues/pes/internal/logger"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker 基于 SET NX PX 的跨实例互斥锁
type RedisLocker struct {
	client      redis.UniversalClient
	prefix      string
	ttl         time.Duration
	waitTimeout time.Duration
	retryEvery  time.Duration
}

// NewRedisLocker 创建 Redis 互斥锁
func NewRedisLocker(client redis.UniversalClient, ttl, waitTimeout time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{
		client:      client,
		prefix:      "pes:lock:",
		ttl:         ttl,
		waitTimeout: waitTimeout,
		retryEvery:  50 * time.Millisecond,
	}
}

// Lock 轮询获取锁直到超时
func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if r.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.waitTimeout)
		defer cancel()
	}

	redisKey := r.prefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(r.retryEvery)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("redis setnx %s: %w", redisKey, err)
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					// 释放不受调用方 ctx 取消影响
					releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					if err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil {
						logger.Warn("Failed to release lock %s: %v", redisKey, err)
					}
				})
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}
}
