// Package cache 实现带 TTL 的响应缓存。
//
// 缓存条目以 {data, timestamp} 信封形式写入底层键值存储；
// 读取时超过 TTL 的条目按未命中处理并被顺手删除（惰性淘汰，无后台清扫）。
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cartsentry/internal/pkg/metrics"
	"cartsentry/internal/store"
)

// DefaultTTL 缓存条目的默认有效期。
const DefaultTTL = 24 * time.Hour

// 各功能的缓存键命名空间。命名空间 + 实体 ID 唯一确定一个缓存对象，
// 跨功能的键冲突是正确性 bug。
const (
	NSPricePrediction = "price_prediction"
	NSDealEvaluation  = "deal_evaluation"
	NSPatternAnalysis = "shopping_pattern_analysis"
	NSBudgetPlan      = "budget_plan"
	NSRecommendations = "recommendations"
)

// Key 拼接功能命名空间与实体 ID 得到缓存键。
func Key(namespace, id string) string {
	if id == "" {
		return namespace
	}
	return namespace + "_" + id
}

// envelope 是写入存储的缓存信封。
type envelope struct {
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Cache 在键值存储之上提供带 TTL 的读写。
type Cache struct {
	store  store.Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time // 可注入，测试用
}

// New 创建缓存实例。ttl <= 0 时使用 DefaultTTL。
func New(st store.Store, logger *slog.Logger, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:  st,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// SetNowFunc 覆盖时间源，仅用于测试。
func (c *Cache) SetNowFunc(now func() time.Time) {
	c.now = now
}

// Get 读取键对应的缓存值并反序列化到 dest。
//
// 返回值 (hit, err)：
//   - 条目存在且未过期: (true, nil)
//   - 条目不存在或已过期（过期条目被删除）: (false, nil)
//   - 条目损坏（按未命中处理，条目被删除）: (false, err)
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.store.Get(ctx, key)
	if err == store.ErrNotFound {
		metrics.CacheMissesTotal.WithLabelValues(namespaceOf(key)).Inc()
		return false, nil
	}
	if err != nil {
		metrics.CacheMissesTotal.WithLabelValues(namespaceOf(key)).Inc()
		return false, fmt.Errorf("cache read: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// 损坏条目等同未命中，删除后返回
		_ = c.store.Delete(ctx, key)
		metrics.CacheMissesTotal.WithLabelValues(namespaceOf(key)).Inc()
		return false, fmt.Errorf("cache entry corrupt: %w", err)
	}

	if c.now().Sub(env.Timestamp) >= c.ttl {
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("evict expired cache entry failed",
				slog.String("key", key),
				slog.String("error", err.Error()))
		}
		metrics.CacheExpiredTotal.Inc()
		metrics.CacheMissesTotal.WithLabelValues(namespaceOf(key)).Inc()
		return false, nil
	}

	if err := json.Unmarshal(env.Data, dest); err != nil {
		_ = c.store.Delete(ctx, key)
		metrics.CacheMissesTotal.WithLabelValues(namespaceOf(key)).Inc()
		return false, fmt.Errorf("cache payload decode: %w", err)
	}

	metrics.CacheHitsTotal.WithLabelValues(namespaceOf(key)).Inc()
	return true, nil
}

// Has 报告键是否有未过期的缓存条目（不反序列化负载）。
func (c *Cache) Has(ctx context.Context, key string) bool {
	var raw json.RawMessage
	hit, err := c.Get(ctx, key, &raw)
	return err == nil && hit
}

// Put 序列化 value 并以当前时间为 storedAt 覆盖写入。
//
// 序列化失败时丢弃本次写入并返回错误；调用方不得假定 Put 一定持久化成功。
func (c *Cache) Put(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache payload encode: %w", err)
	}
	raw, err := json.Marshal(envelope{Data: data, Timestamp: c.now()})
	if err != nil {
		return fmt.Errorf("cache envelope encode: %w", err)
	}
	if err := c.store.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}

// Clear 无条件删除所有缓存条目。
//
// 依赖存储的条目级原子性，与并发的 Get/Put 交错时不会出现半写状态。
func (c *Cache) Clear(ctx context.Context) error {
	keys, err := c.store.Keys(ctx, "")
	if err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	for _, key := range keys {
		if err := c.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("cache clear %s: %w", key, err)
		}
	}
	c.logger.Info("cache cleared", slog.Int("entries", len(keys)))
	return nil
}

// 指标标签只允许取已知命名空间，任意键不能直接进标签，否则基数无上界。
var knownNamespaces = []string{
	NSPricePrediction,
	NSDealEvaluation,
	NSPatternAnalysis,
	NSBudgetPlan,
	NSRecommendations,
}

// namespaceOf 从缓存键还原功能命名空间，用作指标标签。
// 固定键与 "<namespace>_<id>" 形式的键都映射到命名空间本身，未知键归入 "other"。
func namespaceOf(key string) string {
	for _, ns := range knownNamespaces {
		if key == ns || strings.HasPrefix(key, ns+"_") {
			return ns
		}
	}
	return "other"
}
