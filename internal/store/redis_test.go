package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		if err := rdb.Close(); err != nil {
			t.Fatalf("close redis: %v", err)
		}
	})

	rs, err := NewRedisStore(rdb)
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	return rs
}

func TestRedisStore_PutGetDelete(t *testing.T) {
	rs := newTestRedisStore(t)
	ctx := context.Background()

	if _, err := rs.Get(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := rs.Put(ctx, "price_prediction_x", []byte(`{"direction":"down"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := rs.Get(ctx, "price_prediction_x")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"direction":"down"}` {
		t.Fatalf("unexpected value: %s", got)
	}

	if err := rs.Delete(ctx, "price_prediction_x"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := rs.Get(ctx, "price_prediction_x"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestRedisStore_KeysPrefix(t *testing.T) {
	rs := newTestRedisStore(t)
	ctx := context.Background()

	for _, key := range []string{"deal_evaluation_1", "deal_evaluation_2", "shopping_pattern_analysis"} {
		if err := rs.Put(ctx, key, []byte("x")); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	keys, err := rs.Keys(ctx, "deal_evaluation_")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d: %v", len(keys), keys)
	}
	for _, k := range keys {
		if k != "deal_evaluation_1" && k != "deal_evaluation_2" {
			t.Fatalf("unexpected key %q", k)
		}
	}
}
