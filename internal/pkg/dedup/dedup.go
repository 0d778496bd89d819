// Package dedup 基于 Redis SETNX 实现提醒去重窗口。
//
// 同一个 dedupeKey 在窗口期内只会放行一次，
// 避免连续的轮询周期对同一触发条件重复推送通知。
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "cartsentry:dedup:alert:"

// Deduplicator 提醒去重器。
type Deduplicator struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewDeduplicator 创建去重器。ttl <= 0 时默认为 6 小时。
func NewDeduplicator(rdb *redis.Client, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Deduplicator{rdb: rdb, ttl: ttl}
}

// Seen 报告 dedupeKey 是否已在窗口内出现过。
// 首次出现时原子地登记并返回 false。去重器为 nil 时永远放行。
func (d *Deduplicator) Seen(ctx context.Context, dedupeKey string) (bool, error) {
	if d == nil || d.rdb == nil || dedupeKey == "" {
		return false, nil
	}
	key := keyPrefix + hashKey(dedupeKey)
	ok, err := d.rdb.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return !ok, nil
}

// Forget 从窗口中移除 dedupeKey，下次出现将重新放行。
func (d *Deduplicator) Forget(ctx context.Context, dedupeKey string) error {
	if d == nil || d.rdb == nil || dedupeKey == "" {
		return nil
	}
	if err := d.rdb.Del(ctx, keyPrefix+hashKey(dedupeKey)).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

func hashKey(k string) string {
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:])
}
