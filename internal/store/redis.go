package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "cartsentry:store:"

// RedisStore 是基于 Redis 的键值存储实现。
//
// 所有键带上统一前缀，避免和其它子系统（去重、限流）共用的 Redis 实例冲突。
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore 从已有的 redis.Client 创建存储实例。
func NewRedisStore(rdb *redis.Client) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("redis client is nil")
	}
	return &RedisStore{rdb: rdb}, nil
}

// Get 返回键对应的值。
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Put 写入键值。Redis 的 SET 本身是原子的。
func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, redisKeyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete 删除键。
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, redisKeyPrefix+key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Keys 返回所有以 prefix 开头的键（去掉内部前缀后返回）。
//
// 使用 SCAN 而不是 KEYS，避免阻塞共享实例。
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	pattern := redisKeyPrefix + prefix + "*"
	var keys []string
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(redisKeyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}
