package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"cartsentry/internal/entitlement"
	"cartsentry/internal/model"
	"cartsentry/internal/notify"
	"cartsentry/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// funcSource 让测试用闭包脚本化报价。
type funcSource func(ctx context.Context, product model.TrackedProduct) ([]model.PricePoint, error)

func (f funcSource) Quotes(ctx context.Context, product model.TrackedProduct) ([]model.PricePoint, error) {
	return f(ctx, product)
}

// recordingGateway 记录投递过的提醒。
type recordingGateway struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (g *recordingGateway) Deliver(ctx context.Context, alert notify.Alert) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.alerts = append(g.alerts, alert)
	return nil
}

func (g *recordingGateway) delivered() []notify.Alert {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]notify.Alert(nil), g.alerts...)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func quote(retailer, price string) model.PricePoint {
	return model.PricePoint{
		RetailerID: retailer,
		Price:      dec(price),
		InStock:    true,
		ObservedAt: time.Now(),
	}
}

func newTestTracker(t *testing.T, source QuoteSource, gateway notify.Gateway, tier string) *Tracker {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	cfg := Config{InterProductDelay: -1}
	return New(cfg, source, gateway, entitlement.NewStatic(tier), fs, testLogger())
}

func fixedQuotes(points ...model.PricePoint) funcSource {
	return func(ctx context.Context, product model.TrackedProduct) ([]model.PricePoint, error) {
		return points, nil
	}
}

func TestTracker_TrackDeduplicatesByID(t *testing.T) {
	trk := newTestTracker(t, fixedQuotes(), nil, "free")
	ctx := context.Background()

	id := uuid.New()
	first, err := trk.Track(ctx, model.TrackedProduct{ID: id, Name: "espresso machine"})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	second, err := trk.Track(ctx, model.TrackedProduct{ID: id, Name: "different name"})
	if err != nil {
		t.Fatalf("track duplicate: %v", err)
	}
	if second.Name != first.Name {
		t.Fatalf("duplicate track should return existing record, got %q", second.Name)
	}
	if got := len(trk.Products()); got != 1 {
		t.Fatalf("expected exactly 1 tracked product, got %d", got)
	}
}

func TestTracker_TargetMetAlert(t *testing.T) {
	gw := &recordingGateway{}
	trk := newTestTracker(t, fixedQuotes(quote("amazon", "49.99")), gw, "free")
	ctx := context.Background()

	target := dec("50")
	p, err := trk.Track(ctx, model.TrackedProduct{Name: "headphones", TargetPrice: &target})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if err := trk.CheckNow(ctx, p.ID); err != nil {
		t.Fatalf("check now: %v", err)
	}

	alerts := trk.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("expected exactly 1 alert, got %d", len(alerts))
	}
	if alerts[0].Kind != model.AlertTargetMet {
		t.Fatalf("expected target_met, got %s", alerts[0].Kind)
	}
	if alerts[0].ProductID != p.ID {
		t.Fatalf("alert points at wrong product")
	}
	if got := gw.delivered(); len(got) != 1 {
		t.Fatalf("expected 1 delivered alert, got %d", len(got))
	}
}

func TestTracker_SignificantDropAlert(t *testing.T) {
	quotes := []model.PricePoint{quote("amazon", "100")}
	var mu sync.Mutex
	source := funcSource(func(ctx context.Context, product model.TrackedProduct) ([]model.PricePoint, error) {
		mu.Lock()
		defer mu.Unlock()
		return quotes, nil
	})

	trk := newTestTracker(t, source, nil, "free")
	ctx := context.Background()

	p, err := trk.Track(ctx, model.TrackedProduct{Name: "monitor"})
	if err != nil {
		t.Fatalf("track: %v", err)
	}

	// 首次观测无先前基准，不触发
	if err := trk.CheckNow(ctx, p.ID); err != nil {
		t.Fatalf("first check: %v", err)
	}
	if got := len(trk.Alerts()); got != 0 {
		t.Fatalf("expected no alert on first observation, got %d", got)
	}

	// 100 -> 85 跌 15%，超过 10% 阈值
	mu.Lock()
	quotes = []model.PricePoint{quote("walmart", "85")}
	mu.Unlock()
	if err := trk.CheckNow(ctx, p.ID); err != nil {
		t.Fatalf("second check: %v", err)
	}

	alerts := trk.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("expected exactly 1 alert, got %d", len(alerts))
	}
	if alerts[0].Kind != model.AlertSignificantDrop {
		t.Fatalf("expected significant_drop, got %s", alerts[0].Kind)
	}
}

func TestTracker_DropBelowThresholdNoAlert(t *testing.T) {
	quotes := []model.PricePoint{quote("amazon", "100")}
	var mu sync.Mutex
	source := funcSource(func(ctx context.Context, product model.TrackedProduct) ([]model.PricePoint, error) {
		mu.Lock()
		defer mu.Unlock()
		return quotes, nil
	})

	trk := newTestTracker(t, source, nil, "free")
	ctx := context.Background()

	p, err := trk.Track(ctx, model.TrackedProduct{Name: "keyboard"})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if err := trk.CheckNow(ctx, p.ID); err != nil {
		t.Fatalf("first check: %v", err)
	}

	// 100 -> 95 只跌 5%，不触发
	mu.Lock()
	quotes = []model.PricePoint{quote("amazon", "95")}
	mu.Unlock()
	if err := trk.CheckNow(ctx, p.ID); err != nil {
		t.Fatalf("second check: %v", err)
	}
	if got := len(trk.Alerts()); got != 0 {
		t.Fatalf("expected no alerts below threshold, got %d", got)
	}
}

func TestTracker_TargetAndDropCanFireTogether(t *testing.T) {
	quotes := []model.PricePoint{quote("amazon", "100")}
	var mu sync.Mutex
	source := funcSource(func(ctx context.Context, product model.TrackedProduct) ([]model.PricePoint, error) {
		mu.Lock()
		defer mu.Unlock()
		return quotes, nil
	})

	trk := newTestTracker(t, source, nil, "free")
	ctx := context.Background()

	target := dec("90")
	p, err := trk.Track(ctx, model.TrackedProduct{Name: "vacuum", TargetPrice: &target})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if err := trk.CheckNow(ctx, p.ID); err != nil {
		t.Fatalf("first check: %v", err)
	}

	mu.Lock()
	quotes = []model.PricePoint{quote("target", "85")}
	mu.Unlock()
	if err := trk.CheckNow(ctx, p.ID); err != nil {
		t.Fatalf("second check: %v", err)
	}

	kinds := map[model.AlertKind]int{}
	for _, a := range trk.Alerts() {
		kinds[a.Kind]++
	}
	if kinds[model.AlertTargetMet] != 1 || kinds[model.AlertSignificantDrop] != 1 {
		t.Fatalf("expected both alert kinds once, got %v", kinds)
	}
}

func TestTracker_ShippingCountsTowardTotal(t *testing.T) {
	shipping := dec("5")
	q := quote("bestbuy", "48")
	q.ShippingCost = &shipping // 总价 53，超过目标 50

	trk := newTestTracker(t, fixedQuotes(q), nil, "free")
	ctx := context.Background()

	target := dec("50")
	p, err := trk.Track(ctx, model.TrackedProduct{Name: "router", TargetPrice: &target})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if err := trk.CheckNow(ctx, p.ID); err != nil {
		t.Fatalf("check: %v", err)
	}
	if got := len(trk.Alerts()); got != 0 {
		t.Fatalf("expected no alert when shipping pushes total over target, got %d", got)
	}
}

func TestTracker_CycleIsolatesPerProductFailure(t *testing.T) {
	source := funcSource(func(ctx context.Context, product model.TrackedProduct) ([]model.PricePoint, error) {
		if product.Name == "flaky" {
			return nil, errors.New("retailer unreachable")
		}
		return []model.PricePoint{quote("amazon", "20")}, nil
	})

	trk := newTestTracker(t, source, nil, "free")
	ctx := context.Background()

	bad, err := trk.Track(ctx, model.TrackedProduct{Name: "flaky"})
	if err != nil {
		t.Fatalf("track bad: %v", err)
	}
	good, err := trk.Track(ctx, model.TrackedProduct{Name: "solid"})
	if err != nil {
		t.Fatalf("track good: %v", err)
	}

	trk.runCycle(ctx)

	gotGood, _ := trk.Product(good.ID)
	if len(gotGood.PriceHistory) != 1 {
		t.Fatalf("expected healthy product checked, history=%d", len(gotGood.PriceHistory))
	}
	gotBad, _ := trk.Product(bad.ID)
	if len(gotBad.PriceHistory) != 0 {
		t.Fatalf("expected failed product untouched, history=%d", len(gotBad.PriceHistory))
	}
}

func TestTracker_PausedProductSkipped(t *testing.T) {
	trk := newTestTracker(t, fixedQuotes(quote("amazon", "10")), nil, "free")
	ctx := context.Background()

	p, err := trk.Track(ctx, model.TrackedProduct{Name: "lamp"})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if err := trk.SetActive(ctx, p.ID, false); err != nil {
		t.Fatalf("pause: %v", err)
	}

	trk.runCycle(ctx)

	got, _ := trk.Product(p.ID)
	if len(got.PriceHistory) != 0 {
		t.Fatalf("paused product should not be checked, history=%d", len(got.PriceHistory))
	}
}

func TestTracker_TrendClassification(t *testing.T) {
	low := []model.PricePoint{
		quote("a", "10"), quote("b", "10"), quote("c", "10"), quote("d", "10"),
	}
	high := []model.PricePoint{
		quote("a", "20"), quote("b", "20"), quote("c", "20"), quote("d", "20"),
	}

	if got := classifyTrend(append(append([]model.PricePoint{}, low...), high...)); got != model.TrendIncreasing {
		t.Fatalf("expected increasing, got %s", got)
	}
	if got := classifyTrend(append(append([]model.PricePoint{}, high...), low...)); got != model.TrendDecreasing {
		t.Fatalf("expected decreasing, got %s", got)
	}
	if got := classifyTrend([]model.PricePoint{quote("a", "10")}); got != model.TrendStable {
		t.Fatalf("expected stable for single observation, got %s", got)
	}
	if got := classifyTrend(nil); got != model.TrendStable {
		t.Fatalf("expected stable for empty history, got %s", got)
	}
	// ±5% 以内算平稳
	flat := []model.PricePoint{quote("a", "100"), quote("b", "103")}
	if got := classifyTrend(flat); got != model.TrendStable {
		t.Fatalf("expected stable within 5%%, got %s", got)
	}
}

func TestTracker_TrendUsesLastTenObservations(t *testing.T) {
	// 前面的历史高价被窗口裁掉，只看最近 10 个
	var history []model.PricePoint
	for i := 0; i < 5; i++ {
		history = append(history, quote("old", "500"))
	}
	for i := 0; i < 5; i++ {
		history = append(history, quote("a", "10"))
	}
	for i := 0; i < 5; i++ {
		history = append(history, quote("b", "20"))
	}
	if got := classifyTrend(history); got != model.TrendIncreasing {
		t.Fatalf("expected increasing on last 10, got %s", got)
	}
}

func TestTracker_AlertReadLifecycle(t *testing.T) {
	trk := newTestTracker(t, fixedQuotes(quote("amazon", "40")), nil, "free")
	ctx := context.Background()

	target := dec("50")
	p, err := trk.Track(ctx, model.TrackedProduct{Name: "charger", TargetPrice: &target})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if err := trk.CheckNow(ctx, p.ID); err != nil {
		t.Fatalf("check: %v", err)
	}

	alerts := trk.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}

	// 未读时 clear 不动任何东西
	if removed := trk.ClearReadAlerts(ctx); removed != 0 {
		t.Fatalf("expected 0 removed, got %d", removed)
	}

	if err := trk.MarkAlertRead(ctx, alerts[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if removed := trk.ClearReadAlerts(ctx); removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if got := len(trk.Alerts()); got != 0 {
		t.Fatalf("expected empty alert list, got %d", got)
	}
}

func TestTracker_PersistAndReload(t *testing.T) {
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()
	cfg := Config{InterProductDelay: -1}

	trk := New(cfg, fixedQuotes(quote("amazon", "25")), nil, entitlement.NewStatic("free"), fs, testLogger())
	p, err := trk.Track(ctx, model.TrackedProduct{Name: "toaster"})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if err := trk.CheckNow(ctx, p.ID); err != nil {
		t.Fatalf("check: %v", err)
	}

	// 新实例从同一存储恢复
	restored := New(cfg, fixedQuotes(), nil, entitlement.NewStatic("free"), fs, testLogger())
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	got, ok := restored.Product(p.ID)
	if !ok {
		t.Fatalf("expected product restored")
	}
	if got.Name != "toaster" || len(got.PriceHistory) != 1 {
		t.Fatalf("unexpected restored product: %+v", got)
	}
}

func TestTracker_IntervalByEntitlement(t *testing.T) {
	free := newTestTracker(t, fixedQuotes(), nil, "free")
	if got := free.Interval(context.Background()); got != 60*time.Minute {
		t.Fatalf("expected 60m free interval, got %s", got)
	}
	premium := newTestTracker(t, fixedQuotes(), nil, "premium")
	if got := premium.Interval(context.Background()); got != 15*time.Minute {
		t.Fatalf("expected 15m premium interval, got %s", got)
	}
}

func TestTracker_StartRejectsSecondLoop(t *testing.T) {
	trk := newTestTracker(t, fixedQuotes(), nil, "free")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := trk.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer trk.Stop()

	if err := trk.Start(ctx); err == nil {
		t.Fatalf("expected second start to fail")
	}
}

func TestTracker_UntrackMissing(t *testing.T) {
	trk := newTestTracker(t, fixedQuotes(), nil, "free")
	if err := trk.Untrack(context.Background(), uuid.New()); err == nil {
		t.Fatalf("expected error for unknown product")
	}
}
