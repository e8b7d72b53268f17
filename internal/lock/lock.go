package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"loyalty-engine/pkg/logger"
)

// Locker 基于redis计数器的尽力而为互斥锁
// 非线性一致：TTL到期后锁可能被新的持有者抢占，调用方的操作必须自身幂等
type Locker struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb}
}

// Acquire 尝试获取锁，不阻塞
// 计数器自增后恰好为1则获取成功，并在首次成功时设置TTL
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count != 1 {
		return false, nil
	}
	if err := l.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		logger.Warn("设置锁TTL失败: ", err)
	}
	return true, nil
}

// Release 释放锁
func (l *Locker) Release(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, key).Err()
}

// Extend 延长锁的TTL
func (l *Locker) Extend(ctx context.Context, key string, ttl time.Duration) error {
	return l.rdb.Expire(ctx, key, ttl).Err()
}

// WaitAcquire 轮询获取锁直到成功或上下文取消
func (l *Locker) WaitAcquire(ctx context.Context, key string, ttl, poll time.Duration) (bool, error) {
	for {
		ok, err := l.Acquire(ctx, key, ttl)
		if err != nil || ok {
			return ok, err
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(poll):
		}
	}
}
