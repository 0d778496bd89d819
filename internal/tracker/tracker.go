// Package tracker 实现价格监控循环。
//
// 监控循环周期性地为每个活跃商品拉取零售商报价，追加价格历史，
// 并从本周期的最低总价派生提醒（达到目标价 / 显著降价）。
// 已知限制：轮询间隔在循环启动时按订阅状态确定一次，
// 订阅变化需要重启循环才会生效。
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cartsentry/internal/entitlement"
	"cartsentry/internal/model"
	"cartsentry/internal/notify"
	"cartsentry/internal/pkg/metrics"
	"cartsentry/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// 落盘键。监控商品与提醒各自持久化为一个 JSON 数组。
const (
	keyTrackedProducts = "tracked_products"
	keyPriceAlerts     = "price_alerts"
)

// 派生显著降价时的百分比阈值默认值。
const DefaultDropThresholdPct = 10.0

// Config 监控循环配置。
type Config struct {
	FreeInterval      time.Duration // 免费档轮询间隔（默认 60m）
	PremiumInterval   time.Duration // 高级档轮询间隔（默认 15m）
	InterProductDelay time.Duration // 相邻商品间的固定延迟（限速用，默认 500ms）
	DropThresholdPct  float64       // 显著降价阈值（百分比，默认 10）
}

func (c *Config) applyDefaults() {
	if c.FreeInterval <= 0 {
		c.FreeInterval = 60 * time.Minute
	}
	if c.PremiumInterval <= 0 {
		c.PremiumInterval = 15 * time.Minute
	}
	if c.InterProductDelay < 0 {
		c.InterProductDelay = 0
	} else if c.InterProductDelay == 0 {
		c.InterProductDelay = 500 * time.Millisecond
	}
	if c.DropThresholdPct <= 0 {
		c.DropThresholdPct = DefaultDropThresholdPct
	}
}

// Event 是发布给订阅方的状态变更通知。
type Event struct {
	Kind      string    // product_added / product_removed / product_updated / alert_created
	ProductID uuid.UUID `json:"product_id"`
}

// Tracker 价格监控服务。
//
// products 与 alerts 由内部互斥锁保护；所有网络调用（报价拉取、提醒投递、
// 落盘）都发生在锁外。
type Tracker struct {
	cfg     Config
	source  QuoteSource
	gateway notify.Gateway
	ent     entitlement.Source
	store   store.Store
	logger  *slog.Logger

	mu       sync.Mutex
	products map[uuid.UUID]*model.TrackedProduct
	order    []uuid.UUID // 插入顺序，用于稳定列出
	alerts   []model.PriceAlert

	polling atomic.Bool // 全局循环状态: Idle / Polling
	cancel  context.CancelFunc
	done    chan struct{}

	updates chan Event
	now     func() time.Time
}

// New 创建监控服务。
func New(cfg Config, source QuoteSource, gateway notify.Gateway, ent entitlement.Source, st store.Store, logger *slog.Logger) *Tracker {
	cfg.applyDefaults()
	return &Tracker{
		cfg:      cfg,
		source:   source,
		gateway:  gateway,
		ent:      ent,
		store:    st,
		logger:   logger,
		products: make(map[uuid.UUID]*model.TrackedProduct),
		updates:  make(chan Event, 64),
		now:      time.Now,
	}
}

// SetNowFunc 覆盖时间源，仅用于测试。
func (t *Tracker) SetNowFunc(now func() time.Time) {
	t.now = now
}

// Updates 返回状态变更事件通道。
//
// 事件以非阻塞方式发布，消费不及时会丢事件；订阅方应把它当作
// "有变化，去拉最新状态" 的信号而不是完整事件流。
func (t *Tracker) Updates() <-chan Event {
	return t.updates
}

func (t *Tracker) publish(ev Event) {
	select {
	case t.updates <- ev:
	default:
	}
}

// Load 从存储恢复监控商品与提醒。首次启动（无数据）不报错。
func (t *Tracker) Load(ctx context.Context) error {
	raw, err := t.store.Get(ctx, keyTrackedProducts)
	if err != nil && err != store.ErrNotFound {
		return fmt.Errorf("load tracked products: %w", err)
	}
	if err == nil {
		var products []model.TrackedProduct
		if jsonErr := json.Unmarshal(raw, &products); jsonErr != nil {
			t.logger.Warn("tracked products corrupt, starting empty",
				slog.String("error", jsonErr.Error()))
		} else {
			t.mu.Lock()
			for i := range products {
				p := products[i]
				if _, exists := t.products[p.ID]; exists {
					continue
				}
				t.products[p.ID] = &p
				t.order = append(t.order, p.ID)
			}
			metrics.TrackedProductsGauge.Set(float64(len(t.products)))
			t.mu.Unlock()
		}
	}

	raw, err = t.store.Get(ctx, keyPriceAlerts)
	if err != nil && err != store.ErrNotFound {
		return fmt.Errorf("load alerts: %w", err)
	}
	if err == nil {
		var alerts []model.PriceAlert
		if jsonErr := json.Unmarshal(raw, &alerts); jsonErr != nil {
			t.logger.Warn("alerts corrupt, starting empty",
				slog.String("error", jsonErr.Error()))
		} else {
			t.mu.Lock()
			t.alerts = alerts
			t.mu.Unlock()
		}
	}
	return nil
}

// Track 开始监控一个商品。
//
// 同一个商品 ID 已在监控时是 no-op，返回已存在的记录。
func (t *Tracker) Track(ctx context.Context, p model.TrackedProduct) (model.TrackedProduct, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.AddedAt.IsZero() {
		p.AddedAt = t.now()
	}
	p.IsActive = true
	p.PriceHistory = nil
	p.LastCheckedAt = nil

	t.mu.Lock()
	if existing, ok := t.products[p.ID]; ok {
		snapshot := cloneProduct(existing)
		t.mu.Unlock()
		t.logger.Debug("product already tracked", slog.String("product_id", p.ID.String()))
		return snapshot, nil
	}
	stored := p
	t.products[p.ID] = &stored
	t.order = append(t.order, p.ID)
	metrics.TrackedProductsGauge.Set(float64(len(t.products)))
	t.mu.Unlock()

	t.persistProducts(ctx)
	t.publish(Event{Kind: "product_added", ProductID: p.ID})
	t.logger.Info("product tracking started",
		slog.String("product_id", p.ID.String()),
		slog.String("name", p.Name))
	return p, nil
}

// Untrack 停止监控并删除商品。
func (t *Tracker) Untrack(ctx context.Context, id uuid.UUID) error {
	t.mu.Lock()
	if _, ok := t.products[id]; !ok {
		t.mu.Unlock()
		return fmt.Errorf("product %s is not tracked", id)
	}
	delete(t.products, id)
	for i, oid := range t.order {
		if oid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	metrics.TrackedProductsGauge.Set(float64(len(t.products)))
	t.mu.Unlock()

	t.persistProducts(ctx)
	t.publish(Event{Kind: "product_removed", ProductID: id})
	t.logger.Info("product tracking stopped", slog.String("product_id", id.String()))
	return nil
}

// SetActive 切换商品的 Active/Paused 状态。
func (t *Tracker) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	t.mu.Lock()
	p, ok := t.products[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("product %s is not tracked", id)
	}
	p.IsActive = active
	t.mu.Unlock()

	t.persistProducts(ctx)
	t.publish(Event{Kind: "product_updated", ProductID: id})
	return nil
}

// Products 返回所有监控商品的副本，按加入顺序排列。
func (t *Tracker) Products() []model.TrackedProduct {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.TrackedProduct, 0, len(t.order))
	for _, id := range t.order {
		if p, ok := t.products[id]; ok {
			out = append(out, cloneProduct(p))
		}
	}
	return out
}

// Product 返回单个监控商品的副本。
func (t *Tracker) Product(id uuid.UUID) (model.TrackedProduct, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.products[id]
	if !ok {
		return model.TrackedProduct{}, false
	}
	return cloneProduct(p), true
}

// Alerts 返回全部提醒的副本，新的在前。
func (t *Tracker) Alerts() []model.PriceAlert {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.PriceAlert, len(t.alerts))
	copy(out, t.alerts)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// MarkAlertRead 标记提醒为已读。
func (t *Tracker) MarkAlertRead(ctx context.Context, id uuid.UUID) error {
	t.mu.Lock()
	found := false
	for i := range t.alerts {
		if t.alerts[i].ID == id {
			t.alerts[i].IsRead = true
			found = true
			break
		}
	}
	t.mu.Unlock()
	if !found {
		return fmt.Errorf("alert %s not found", id)
	}
	t.persistAlerts(ctx)
	return nil
}

// ClearReadAlerts 删除所有已读提醒，返回删除数量。
func (t *Tracker) ClearReadAlerts(ctx context.Context) int {
	t.mu.Lock()
	kept := t.alerts[:0]
	removed := 0
	for _, a := range t.alerts {
		if a.IsRead {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	t.alerts = kept
	t.mu.Unlock()

	if removed > 0 {
		t.persistAlerts(ctx)
	}
	return removed
}

// Interval 返回当前订阅状态对应的轮询间隔。
func (t *Tracker) Interval(ctx context.Context) time.Duration {
	if t.ent != nil && t.ent.Premium(ctx) {
		return t.cfg.PremiumInterval
	}
	return t.cfg.FreeInterval
}

// Start 启动轮询循环。循环已在运行时返回错误。
//
// 间隔在这里按订阅状态确定一次，循环运行期间不再调整。
func (t *Tracker) Start(ctx context.Context) error {
	if !t.polling.CompareAndSwap(false, true) {
		return fmt.Errorf("tracking loop already running")
	}

	interval := t.Interval(ctx)
	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	t.logger.Info("tracking loop started",
		slog.String("interval", interval.String()))

	go func() {
		defer close(t.done)
		defer t.polling.Store(false)

		// 首个周期立即执行
		t.runCycle(loopCtx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				t.logger.Info("tracking loop stopped")
				return
			case <-ticker.C:
				t.runCycle(loopCtx)
			}
		}
	}()
	return nil
}

// Stop 停止轮询循环并等待退出。
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
		<-t.done
	}
}

// CheckNow 对单个商品立即执行一次查价（用户手动触发）。
func (t *Tracker) CheckNow(ctx context.Context, id uuid.UUID) error {
	t.mu.Lock()
	p, ok := t.products[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("product %s is not tracked", id)
	}
	snapshot := cloneProduct(p)
	t.mu.Unlock()

	return t.checkProduct(ctx, snapshot)
}

// runCycle 执行一个轮询周期。
//
// 单个商品的失败只影响它自己；周期本身永不向上抛错。
func (t *Tracker) runCycle(ctx context.Context) {
	t.mu.Lock()
	snapshots := make([]model.TrackedProduct, 0, len(t.order))
	for _, id := range t.order {
		if p, ok := t.products[id]; ok && p.IsActive {
			snapshots = append(snapshots, cloneProduct(p))
		}
	}
	t.mu.Unlock()

	if len(snapshots) == 0 {
		t.logger.Debug("no active tracked products, cycle skipped")
		return
	}

	t.logger.Info("price check cycle started", slog.Int("products", len(snapshots)))
	for i, snapshot := range snapshots {
		if ctx.Err() != nil {
			return
		}
		if err := t.checkProduct(ctx, snapshot); err != nil {
			metrics.TrackerQuoteFailuresTotal.Inc()
			t.logger.Warn("price check failed for product",
				slog.String("product_id", snapshot.ID.String()),
				slog.String("error", err.Error()))
		}
		// 商品之间固定延迟，避免打爆报价源
		if i < len(snapshots)-1 && t.cfg.InterProductDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(t.cfg.InterProductDelay):
			}
		}
	}
	metrics.TrackerCyclesTotal.Inc()
}

// checkProduct 为单个商品拉取报价、追加历史并派生提醒。
func (t *Tracker) checkProduct(ctx context.Context, snapshot model.TrackedProduct) error {
	quotes, err := t.source.Quotes(ctx, snapshot)
	if err != nil {
		return fmt.Errorf("fetch quotes: %w", err)
	}
	if len(quotes) == 0 {
		return nil
	}

	now := t.now()

	t.mu.Lock()
	p, ok := t.products[snapshot.ID]
	if !ok {
		// 拉取报价期间商品被移除
		t.mu.Unlock()
		return nil
	}

	var prior *model.PricePoint
	if n := len(p.PriceHistory); n > 0 {
		last := p.PriceHistory[n-1]
		prior = &last
	}

	p.PriceHistory = append(p.PriceHistory, quotes...)
	lowest := lowestTotal(quotes)
	newAlerts := t.deriveAlerts(p, prior, lowest, now)
	p.LastCheckedAt = &now
	t.alerts = append(t.alerts, newAlerts...)
	t.mu.Unlock()

	t.persistProducts(ctx)
	if len(newAlerts) > 0 {
		t.persistAlerts(ctx)
	}
	t.publish(Event{Kind: "product_updated", ProductID: snapshot.ID})

	for _, alert := range newAlerts {
		metrics.AlertsEmittedTotal.WithLabelValues(string(alert.Kind)).Inc()
		t.publish(Event{Kind: "alert_created", ProductID: alert.ProductID})
		t.deliver(ctx, alert, p.Name)
	}
	return nil
}

// deriveAlerts 按固定顺序评估触发条件，两类提醒可独立同时触发。
// 调用方必须持有 t.mu。
func (t *Tracker) deriveAlerts(p *model.TrackedProduct, prior *model.PricePoint, lowest model.PricePoint, now time.Time) []model.PriceAlert {
	var alerts []model.PriceAlert
	lowTotal := lowest.TotalPrice()

	// 达到目标价
	if p.TargetPrice != nil && lowTotal.LessThanOrEqual(*p.TargetPrice) {
		alerts = append(alerts, model.PriceAlert{
			ID:         uuid.New(),
			Kind:       model.AlertTargetMet,
			ProductID:  p.ID,
			Triggering: lowest,
			Message: fmt.Sprintf("%s hit your target: %s at %s (target %s)",
				p.Name, lowTotal.StringFixed(2), lowest.RetailerID, p.TargetPrice.StringFixed(2)),
			CreatedAt: now,
		})
	}

	// 显著降价：只和紧邻的上一个观测比较，不做滑动平均。
	// 单一零售商的噪声报价可能导致偶发误触发，这是刻意保留的行为。
	if prior != nil {
		priorTotal := prior.TotalPrice()
		if priorTotal.IsPositive() && lowTotal.LessThan(priorTotal) {
			dropPct := priorTotal.Sub(lowTotal).
				Div(priorTotal).
				Mul(decimal.NewFromInt(100))
			if dropPct.GreaterThanOrEqual(decimal.NewFromFloat(t.cfg.DropThresholdPct)) {
				alerts = append(alerts, model.PriceAlert{
					ID:         uuid.New(),
					Kind:       model.AlertSignificantDrop,
					ProductID:  p.ID,
					Triggering: lowest,
					Message: fmt.Sprintf("%s dropped %s%%: %s -> %s at %s",
						p.Name, dropPct.StringFixed(1), priorTotal.StringFixed(2),
						lowTotal.StringFixed(2), lowest.RetailerID),
					CreatedAt: now,
				})
			}
		}
	}
	return alerts
}

// deliver 把提醒交给网关。投递失败只记日志，不影响循环。
func (t *Tracker) deliver(ctx context.Context, alert model.PriceAlert, productName string) {
	if t.gateway == nil {
		return
	}
	title := "Price alert: " + productName
	if alert.Kind == model.AlertTargetMet {
		title = "Target price met: " + productName
	}
	err := t.gateway.Deliver(ctx, notify.Alert{
		Kind:      string(alert.Kind),
		Title:     title,
		Body:      alert.Message,
		DedupeKey: fmt.Sprintf("%s:%s:%s", alert.Kind, alert.ProductID, alert.Triggering.TotalPrice().StringFixed(2)),
		Payload: map[string]any{
			"alert_id":   alert.ID.String(),
			"product_id": alert.ProductID.String(),
			"retailer":   alert.Triggering.RetailerID,
			"price":      alert.Triggering.TotalPrice().StringFixed(2),
		},
	})
	if err != nil {
		t.logger.Warn("alert delivery failed",
			slog.String("alert_id", alert.ID.String()),
			slog.String("error", err.Error()))
	}
}

// Trend 对商品的最近观测做趋势分类。
//
// 取最近不超过 10 个观测，按位置对半切分，比较两半总价均值：
// 涨幅 ≥5% 为 Increasing，跌幅 ≥5% 为 Decreasing，其余为 Stable。
// 观测少于 2 个时按定义返回 Stable。
func (t *Tracker) Trend(id uuid.UUID) (model.Trend, error) {
	t.mu.Lock()
	p, ok := t.products[id]
	if !ok {
		t.mu.Unlock()
		return model.TrendStable, fmt.Errorf("product %s is not tracked", id)
	}
	history := make([]model.PricePoint, len(p.PriceHistory))
	copy(history, p.PriceHistory)
	t.mu.Unlock()

	return classifyTrend(history), nil
}

func classifyTrend(history []model.PricePoint) model.Trend {
	if len(history) > 10 {
		history = history[len(history)-10:]
	}
	if len(history) < 2 {
		return model.TrendStable
	}

	mid := len(history) / 2
	firstMean := meanTotal(history[:mid])
	secondMean := meanTotal(history[mid:])
	if !firstMean.IsPositive() {
		return model.TrendStable
	}

	change := secondMean.Sub(firstMean).Div(firstMean)
	switch {
	case change.GreaterThanOrEqual(decimal.NewFromFloat(0.05)):
		return model.TrendIncreasing
	case change.LessThanOrEqual(decimal.NewFromFloat(-0.05)):
		return model.TrendDecreasing
	default:
		return model.TrendStable
	}
}

func meanTotal(points []model.PricePoint) decimal.Decimal {
	sum := decimal.Zero
	for _, pt := range points {
		sum = sum.Add(pt.TotalPrice())
	}
	return sum.Div(decimal.NewFromInt(int64(len(points))))
}

// lowestTotal 返回本周期总价最低的报价。
func lowestTotal(quotes []model.PricePoint) model.PricePoint {
	lowest := quotes[0]
	for _, q := range quotes[1:] {
		if q.TotalPrice().LessThan(lowest.TotalPrice()) {
			lowest = q
		}
	}
	return lowest
}

// persistProducts 把监控商品落盘。失败只记日志，不阻断调用方。
func (t *Tracker) persistProducts(ctx context.Context) {
	t.mu.Lock()
	out := make([]model.TrackedProduct, 0, len(t.order))
	for _, id := range t.order {
		if p, ok := t.products[id]; ok {
			out = append(out, cloneProduct(p))
		}
	}
	t.mu.Unlock()

	data, err := json.Marshal(out)
	if err != nil {
		t.logger.Error("marshal tracked products failed", slog.String("error", err.Error()))
		return
	}
	if err := t.store.Put(ctx, keyTrackedProducts, data); err != nil {
		t.logger.Error("persist tracked products failed", slog.String("error", err.Error()))
	}
}

func (t *Tracker) persistAlerts(ctx context.Context) {
	t.mu.Lock()
	out := make([]model.PriceAlert, len(t.alerts))
	copy(out, t.alerts)
	t.mu.Unlock()

	data, err := json.Marshal(out)
	if err != nil {
		t.logger.Error("marshal alerts failed", slog.String("error", err.Error()))
		return
	}
	if err := t.store.Put(ctx, keyPriceAlerts, data); err != nil {
		t.logger.Error("persist alerts failed", slog.String("error", err.Error()))
	}
}

func cloneProduct(p *model.TrackedProduct) model.TrackedProduct {
	out := *p
	out.PriceHistory = make([]model.PricePoint, len(p.PriceHistory))
	copy(out.PriceHistory, p.PriceHistory)
	if p.TargetPrice != nil {
		target := *p.TargetPrice
		out.TargetPrice = &target
	}
	if p.LastCheckedAt != nil {
		ts := *p.LastCheckedAt
		out.LastCheckedAt = &ts
	}
	return out
}
