package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "loyalty-engine/pkg/errors"
)

// 检查点过期时间略大于一天，留出安全余量
const DefaultTTL = 25 * time.Hour

// Store 每个(链, 扫描范围)保存最后扫描完成的区块号
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, ttl: DefaultTTL}
}

// LastBlock 读取检查点，不存在时第二个返回值为false
func (s *Store) LastBlock(ctx context.Context, chainID uint64, scope string) (int64, bool, error) {
	val, err := s.rdb.Get(ctx, key(chainID, scope)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperrors.New(apperrors.ErrCheckpoint, "读取检查点失败", err)
	}

	block, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, apperrors.New(apperrors.ErrCheckpoint, "检查点格式错误: "+val, err)
	}
	return block, true, nil
}

// SetLastBlock 推进检查点，只允许单调不减
func (s *Store) SetLastBlock(ctx context.Context, chainID uint64, scope string, block int64) error {
	current, ok, err := s.LastBlock(ctx, chainID, scope)
	if err != nil {
		return err
	}
	if ok && block < current {
		return nil
	}

	if err := s.rdb.Set(ctx, key(chainID, scope), strconv.FormatInt(block, 10), s.ttl).Err(); err != nil {
		return apperrors.New(apperrors.ErrCheckpoint, "写入检查点失败", err)
	}
	return nil
}

func key(chainID uint64, scope string) string {
	return fmt.Sprintf("checkpoint:%d:%s", chainID, scope)
}
