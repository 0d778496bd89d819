package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"cartsentry/internal/cache"
	"cartsentry/internal/entitlement"
	"cartsentry/internal/intel"
	"cartsentry/internal/model"
	"cartsentry/internal/store"

	"github.com/google/uuid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeIntel 脚本化的智能分析实现，记录调用并允许按调用注入失败。
type fakeIntel struct {
	mu         sync.Mutex
	batchCalls int
	batchErrOn int // 第 N 次批量调用返回错误（1 起，0 表示不失败）
	dealCalls  []uuid.UUID
	dealErrFor uuid.UUID // 该促销的评估失败
	patternErr error
	calls      int
}

func (f *fakeIntel) BatchPredictPrices(ctx context.Context, products []model.TrackedProduct) (map[uuid.UUID]intel.PricePrediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.batchCalls++
	if f.batchErrOn > 0 && f.batchCalls == f.batchErrOn {
		return nil, &intel.ParseError{Detail: "batch_predict result", Err: errors.New("not json")}
	}
	out := make(map[uuid.UUID]intel.PricePrediction, len(products))
	for _, p := range products {
		out[p.ID] = intel.PricePrediction{Direction: "stable"}
	}
	return out, nil
}

func (f *fakeIntel) AnalyzePattern(ctx context.Context, purchases []model.PurchaseRecord, inventory []model.InventoryItem) (*intel.PatternAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.patternErr != nil {
		return nil, f.patternErr
	}
	return &intel.PatternAnalysis{Insights: []string{"buy in bulk"}}, nil
}

func (f *fakeIntel) EvaluateDeal(ctx context.Context, deal model.DealRecord) (*intel.DealEvaluation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.dealCalls = append(f.dealCalls, deal.ID)
	if deal.ID == f.dealErrFor {
		return nil, &intel.RemoteError{Status: 500, Body: "boom"}
	}
	return &intel.DealEvaluation{Score: 7, IsWorthIt: true}, nil
}

func (f *fakeIntel) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// staticProducts 固定的商品列表源。
type staticProducts []model.TrackedProduct

func (s staticProducts) Products() []model.TrackedProduct {
	return append([]model.TrackedProduct(nil), s...)
}

func product(name string) model.TrackedProduct {
	return model.TrackedProduct{ID: uuid.New(), Name: name, IsActive: true}
}

func deal(title string) model.DealRecord {
	return model.DealRecord{ID: uuid.New(), Title: title, IsActive: true}
}

func newTestScheduler(t *testing.T, fi *fakeIntel, products staticProducts, snapshots *MemorySnapshots, tier string) (*Scheduler, *cache.Cache) {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	c := cache.New(fs, testLogger(), cache.DefaultTTL)
	if snapshots == nil {
		snapshots = NewMemorySnapshots()
	}
	s := New(c, fi, products, snapshots, entitlement.NewStatic(tier), testLogger(), DefaultRunAtHour, DefaultRunAtMinute)
	t.Cleanup(s.Stop)
	return s, c
}

func TestScheduler_SkipsWithoutPremium(t *testing.T) {
	fi := &fakeIntel{}
	products := staticProducts{product("a"), product("b")}
	s, c := newTestScheduler(t, fi, products, nil, "free")
	ctx := context.Background()

	if ran := s.RunNow(ctx); !ran {
		t.Fatalf("expected trigger to be accepted")
	}
	if got := fi.totalCalls(); got != 0 {
		t.Fatalf("expected zero intelligence calls without premium, got %d", got)
	}
	for _, p := range products {
		if c.Has(ctx, cache.Key(cache.NSPricePrediction, p.ID.String())) {
			t.Fatalf("cache should be untouched without premium")
		}
	}
}

func TestScheduler_RunRefreshesAllCaches(t *testing.T) {
	fi := &fakeIntel{}
	products := staticProducts{product("a"), product("b")}
	snapshots := NewMemorySnapshots()
	d := deal("blender sale")
	snapshots.AddDeal(d)
	snapshots.SetPurchases([]model.PurchaseRecord{{ID: uuid.New(), ProductName: "milk"}})

	s, c := newTestScheduler(t, fi, products, snapshots, "premium")
	ctx := context.Background()

	if ran := s.RunNow(ctx); !ran {
		t.Fatalf("expected run to proceed")
	}

	for _, p := range products {
		if !c.Has(ctx, cache.Key(cache.NSPricePrediction, p.ID.String())) {
			t.Fatalf("expected prediction cached for %s", p.Name)
		}
	}
	if !c.Has(ctx, cache.Key(cache.NSDealEvaluation, d.ID.String())) {
		t.Fatalf("expected deal evaluation cached")
	}
	if !c.Has(ctx, cache.NSPatternAnalysis) {
		t.Fatalf("expected pattern analysis cached")
	}
}

func TestScheduler_SkipsFreshPredictions(t *testing.T) {
	fi := &fakeIntel{}
	fresh := product("fresh")
	stale := product("stale")
	s, c := newTestScheduler(t, fi, staticProducts{fresh, stale}, nil, "premium")
	ctx := context.Background()

	if err := c.Put(ctx, cache.Key(cache.NSPricePrediction, fresh.ID.String()), intel.PricePrediction{Direction: "stable"}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	s.RunNow(ctx)

	fi.mu.Lock()
	batchCalls := fi.batchCalls
	fi.mu.Unlock()
	if batchCalls != 1 {
		t.Fatalf("expected exactly 1 batch call for the stale product, got %d", batchCalls)
	}
	if !c.Has(ctx, cache.Key(cache.NSPricePrediction, stale.ID.String())) {
		t.Fatalf("expected stale product refreshed")
	}
}

func TestScheduler_ChunkFailureDoesNotBlockOthers(t *testing.T) {
	// 12 个商品分两批，第一批失败，第二批仍应被缓存
	fi := &fakeIntel{batchErrOn: 1}
	var products staticProducts
	for i := 0; i < intel.BatchSize+2; i++ {
		products = append(products, product("p"))
	}
	s, c := newTestScheduler(t, fi, products, nil, "premium")
	ctx := context.Background()

	s.RunNow(ctx)

	cachedFirstChunk := 0
	for _, p := range products[:intel.BatchSize] {
		if c.Has(ctx, cache.Key(cache.NSPricePrediction, p.ID.String())) {
			cachedFirstChunk++
		}
	}
	if cachedFirstChunk != 0 {
		t.Fatalf("failed chunk should cache nothing, got %d", cachedFirstChunk)
	}
	for _, p := range products[intel.BatchSize:] {
		if !c.Has(ctx, cache.Key(cache.NSPricePrediction, p.ID.String())) {
			t.Fatalf("second chunk should still be cached")
		}
	}
}

func TestScheduler_DealFailureDoesNotBlockOthers(t *testing.T) {
	bad := deal("bad")
	good := deal("good")
	fi := &fakeIntel{dealErrFor: bad.ID}
	snapshots := NewMemorySnapshots()
	snapshots.SetDeals([]model.DealRecord{bad, good})

	s, c := newTestScheduler(t, fi, staticProducts{}, snapshots, "premium")
	ctx := context.Background()

	s.RunNow(ctx)

	if c.Has(ctx, cache.Key(cache.NSDealEvaluation, bad.ID.String())) {
		t.Fatalf("failed deal should not be cached")
	}
	if !c.Has(ctx, cache.Key(cache.NSDealEvaluation, good.ID.String())) {
		t.Fatalf("other deal should still be cached")
	}
}

func TestScheduler_InactiveDealSkipped(t *testing.T) {
	inactive := deal("expired")
	inactive.IsActive = false
	fi := &fakeIntel{}
	snapshots := NewMemorySnapshots()
	snapshots.SetDeals([]model.DealRecord{inactive})

	s, c := newTestScheduler(t, fi, staticProducts{}, snapshots, "premium")
	ctx := context.Background()

	s.RunNow(ctx)

	if c.Has(ctx, cache.Key(cache.NSDealEvaluation, inactive.ID.String())) {
		t.Fatalf("inactive deal should not be evaluated")
	}
	fi.mu.Lock()
	dealCalls := len(fi.dealCalls)
	fi.mu.Unlock()
	if dealCalls != 0 {
		t.Fatalf("expected no deal evaluations, got %d", dealCalls)
	}
}

func TestScheduler_BusyTriggerSkipped(t *testing.T) {
	fi := &fakeIntel{}
	s, _ := newTestScheduler(t, fi, staticProducts{}, nil, "premium")

	// 模拟作业运行中
	if !s.running.CompareAndSwap(false, true) {
		t.Fatalf("precondition: scheduler should be idle")
	}
	defer s.running.Store(false)

	if ran := s.RunNow(context.Background()); ran {
		t.Fatalf("expected trigger to be skipped while running")
	}
	if got := fi.totalCalls(); got != 0 {
		t.Fatalf("skipped trigger must not call intelligence, got %d", got)
	}
}

func TestNextRunTime(t *testing.T) {
	loc := time.UTC

	// 当天 03:00 之前 → 当天 03:00
	now := time.Date(2026, 5, 10, 1, 30, 0, 0, loc)
	want := time.Date(2026, 5, 10, 3, 0, 0, 0, loc)
	if got := nextRunTime(now, 3, 0); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}

	// 当天 03:00 之后 → 次日 03:00
	now = time.Date(2026, 5, 10, 9, 0, 0, 0, loc)
	want = time.Date(2026, 5, 11, 3, 0, 0, 0, loc)
	if got := nextRunTime(now, 3, 0); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}

	// 恰好 03:00 → 严格晚于 now，取次日
	now = time.Date(2026, 5, 10, 3, 0, 0, 0, loc)
	want = time.Date(2026, 5, 11, 3, 0, 0, 0, loc)
	if got := nextRunTime(now, 3, 0); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestNextRunTime_KeepsWallClockAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// 2026-03-08 凌晨 2 点美东进入夏令时，次日 03:00 的墙钟时刻不能漂成 04:00
	now := time.Date(2026, 3, 7, 10, 0, 0, 0, loc)
	got := nextRunTime(now, 3, 0)
	if got.Hour() != 3 || got.Day() != 8 {
		t.Fatalf("expected Mar 8 03:00 local, got %s", got)
	}

	// 2026-11-01 凌晨 2 点退出夏令时，同样保持 03:00
	now = time.Date(2026, 10, 31, 10, 0, 0, 0, loc)
	got = nextRunTime(now, 3, 0)
	if got.Hour() != 3 || got.Day() != 1 || got.Month() != time.November {
		t.Fatalf("expected Nov 1 03:00 local, got %s", got)
	}
}
