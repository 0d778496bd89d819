// Package batch 实现每日定时的批量刷新作业。
//
// 调度器在每天固定的本地时刻唤醒一次（也可手动触发），
// 在持有高级订阅的前提下批量刷新缓存中的 AI 分析结果。
// 作业失败不会取消后续排期：无论结果如何都会重新武装到下一天。
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cartsentry/internal/cache"
	"cartsentry/internal/entitlement"
	"cartsentry/internal/intel"
	"cartsentry/internal/model"
	"cartsentry/internal/pkg/metrics"
	"cartsentry/internal/pkg/queue"

	"github.com/google/uuid"
)

// DefaultRunAtHour 默认的每日执行时刻（本地时间 03:00）。
const (
	DefaultRunAtHour   = 3
	DefaultRunAtMinute = 0
)

// State 调度器状态。
type State string

const (
	StateIdle      State = "idle"
	StateScheduled State = "scheduled"
	StateRunning   State = "running"
)

// Intelligence 是批处理作业需要的智能分析能力子集。
type Intelligence interface {
	BatchPredictPrices(ctx context.Context, products []model.TrackedProduct) (map[uuid.UUID]intel.PricePrediction, error)
	AnalyzePattern(ctx context.Context, purchases []model.PurchaseRecord, inventory []model.InventoryItem) (*intel.PatternAnalysis, error)
	EvaluateDeal(ctx context.Context, deal model.DealRecord) (*intel.DealEvaluation, error)
}

// ProductSource 提供当前的监控商品列表。
type ProductSource interface {
	Products() []model.TrackedProduct
}

// SnapshotSource 提供促销/购买/库存快照。
// 这些数据的生命周期归（范围外的）列表管理层所有。
type SnapshotSource interface {
	ActiveDeals(ctx context.Context) []model.DealRecord
	Purchases(ctx context.Context) []model.PurchaseRecord
	Inventory(ctx context.Context) []model.InventoryItem
}

// Scheduler 批处理调度器。
//
// 状态机: Idle → Scheduled(nextFire) → Running → Idle。
// 定时触发与手动触发不允许并发执行：作业运行中收到的触发直接丢弃（不排队）。
type Scheduler struct {
	cache     *cache.Cache
	intel     Intelligence
	products  ProductSource
	snapshots SnapshotSource
	ent       entitlement.Source
	jobs      *queue.Queue
	logger    *slog.Logger

	runAtHour   int
	runAtMinute int

	running atomic.Bool
	state   atomic.Value // State

	mu       sync.Mutex
	nextFire time.Time

	cancel context.CancelFunc
	done   chan struct{}
	now    func() time.Time
}

// New 创建调度器。hour/minute 越界时回退为默认的 03:00。
func New(c *cache.Cache, ic Intelligence, products ProductSource, snapshots SnapshotSource, ent entitlement.Source, logger *slog.Logger, hour, minute int) *Scheduler {
	if hour < 0 || hour > 23 {
		hour = DefaultRunAtHour
	}
	if minute < 0 || minute > 59 {
		minute = DefaultRunAtMinute
	}
	s := &Scheduler{
		cache:       c,
		intel:       ic,
		products:    products,
		snapshots:   snapshots,
		ent:         ent,
		jobs:        queue.New(logger, 3, 8),
		logger:      logger,
		runAtHour:   hour,
		runAtMinute: minute,
		now:         time.Now,
	}
	s.state.Store(StateIdle)
	// worker 池独立于调度循环启动，手动触发不依赖 Start
	s.jobs.Start(context.Background())
	return s
}

// SetNowFunc 覆盖时间源，仅用于测试。
func (s *Scheduler) SetNowFunc(now func() time.Time) {
	s.now = now
}

// State 返回当前调度器状态。
func (s *Scheduler) State() State {
	return s.state.Load().(State)
}

// NextFire 返回下一次定时触发的时刻（未启动时为零值）。
func (s *Scheduler) NextFire() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextFire
}

// Start 启动调度循环：计算严格晚于当前时刻的下一个执行时间点，
// 武装一次性定时器；触发后执行作业并无条件重新武装到下一天。
func (s *Scheduler) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		for {
			next := nextRunTime(s.now(), s.runAtHour, s.runAtMinute)
			s.mu.Lock()
			s.nextFire = next
			s.mu.Unlock()
			s.state.Store(StateScheduled)

			s.logger.Info("batch job scheduled",
				slog.Time("next_fire", next))

			timer := time.NewTimer(next.Sub(s.now()))
			select {
			case <-loopCtx.Done():
				timer.Stop()
				s.state.Store(StateIdle)
				s.logger.Info("batch scheduler stopped")
				return
			case <-timer.C:
				s.RunNow(loopCtx)
			}
		}
	}()
}

// Stop 停止调度循环并等待退出。
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.jobs.Shutdown()
}

// RunNow 立即执行一次批处理作业（同步）。
//
// 作业已在运行时是 no-op（跳过而非排队），返回 false。
// 订阅门槛在进入 Running 后检查，订阅变化无需重新排期即可在下次触发生效。
func (s *Scheduler) RunNow(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info("batch job already running, trigger skipped")
		metrics.BatchRunsTotal.WithLabelValues("skipped_busy").Inc()
		return false
	}
	prev := s.State()
	s.state.Store(StateRunning)
	defer func() {
		s.state.Store(prev)
		s.running.Store(false)
	}()

	if !s.ent.Premium(ctx) {
		s.logger.Info("batch job skipped: premium entitlement required")
		metrics.BatchRunsTotal.WithLabelValues("skipped_entitlement").Inc()
		return true
	}

	s.logger.Info("batch job started")
	start := s.now()

	// 三个子任务彼此独立，经 worker 队列执行：
	// 单个子任务的失败或 panic 不影响其它子任务。
	var wg sync.WaitGroup
	for _, sub := range []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"refresh_predictions", s.refreshPredictions},
		{"refresh_pattern_analysis", s.refreshPatternAnalysis},
		{"refresh_deal_evaluations", s.refreshDealEvaluations},
	} {
		sub := sub
		wg.Add(1)
		// 子任务绑定触发方的 ctx，而不是 worker 的生命周期 ctx
		job := func(context.Context) error {
			defer wg.Done()
			if err := sub.fn(ctx); err != nil {
				metrics.BatchSubtaskFailuresTotal.WithLabelValues(sub.name).Inc()
				return fmt.Errorf("%s: %w", sub.name, err)
			}
			return nil
		}
		if err := s.jobs.EnqueueBlocking(ctx, job); err != nil {
			wg.Done()
			s.logger.Warn("enqueue batch subtask failed",
				slog.String("subtask", sub.name),
				slog.String("error", err.Error()))
		}
	}
	wg.Wait()

	metrics.BatchRunsTotal.WithLabelValues("completed").Inc()
	s.logger.Info("batch job finished",
		slog.String("elapsed", s.now().Sub(start).String()))
	return true
}

// refreshPredictions 为缺少新鲜预测缓存的商品按 10 个一批请求价格预测。
//
// 单个批次的失败只丢掉该批次的结果；响应中未匹配到的商品本轮没有预测。
func (s *Scheduler) refreshPredictions(ctx context.Context) error {
	products := s.products.Products()
	var stale []model.TrackedProduct
	for _, p := range products {
		if !s.cache.Has(ctx, cache.Key(cache.NSPricePrediction, p.ID.String())) {
			stale = append(stale, p)
		}
	}
	if len(stale) == 0 {
		s.logger.Debug("all price predictions fresh")
		return nil
	}

	var lastErr error
	for start := 0; start < len(stale); start += intel.BatchSize {
		end := start + intel.BatchSize
		if end > len(stale) {
			end = len(stale)
		}
		chunk := stale[start:end]

		predictions, err := s.intel.BatchPredictPrices(ctx, chunk)
		if err != nil {
			lastErr = err
			s.logger.Warn("batch price prediction failed",
				slog.Int("chunk_size", len(chunk)),
				slog.String("error", err.Error()))
			continue
		}
		for productID, prediction := range predictions {
			key := cache.Key(cache.NSPricePrediction, productID.String())
			if err := s.cache.Put(ctx, key, prediction); err != nil {
				s.logger.Warn("cache prediction failed",
					slog.String("key", key),
					slog.String("error", err.Error()))
			}
		}
		s.logger.Info("price predictions refreshed",
			slog.Int("requested", len(chunk)),
			slog.Int("received", len(predictions)))
	}
	return lastErr
}

// refreshPatternAnalysis 基于当前购买/库存快照重算一份聚合消费模式分析。
func (s *Scheduler) refreshPatternAnalysis(ctx context.Context) error {
	purchases := s.snapshots.Purchases(ctx)
	inventory := s.snapshots.Inventory(ctx)

	analysis, err := s.intel.AnalyzePattern(ctx, purchases, inventory)
	if err != nil {
		return fmt.Errorf("analyze pattern: %w", err)
	}
	if err := s.cache.Put(ctx, cache.NSPatternAnalysis, analysis); err != nil {
		return fmt.Errorf("cache pattern analysis: %w", err)
	}
	s.logger.Info("shopping pattern analysis refreshed")
	return nil
}

// refreshDealEvaluations 逐条评估当前活跃的促销（串行，单条评估开销小且促销数量少）。
func (s *Scheduler) refreshDealEvaluations(ctx context.Context) error {
	deals := s.snapshots.ActiveDeals(ctx)
	var lastErr error
	evaluated := 0
	for _, deal := range deals {
		if !deal.IsActive {
			continue
		}
		evaluation, err := s.intel.EvaluateDeal(ctx, deal)
		if err != nil {
			lastErr = err
			s.logger.Warn("deal evaluation failed",
				slog.String("deal_id", deal.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		key := cache.Key(cache.NSDealEvaluation, deal.ID.String())
		if err := s.cache.Put(ctx, key, evaluation); err != nil {
			s.logger.Warn("cache deal evaluation failed",
				slog.String("key", key),
				slog.String("error", err.Error()))
			continue
		}
		evaluated++
	}
	if evaluated > 0 {
		s.logger.Info("deal evaluations refreshed", slog.Int("deals", evaluated))
	}
	return lastErr
}

// nextRunTime 计算严格晚于 now 的下一个 hour:minute 时刻。
// 顺延到次日时按日历日重算而不是加 24 小时，夏令时切换当天墙钟时刻不漂移。
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, hour, minute, 0, 0, now.Location())
	}
	return next
}
