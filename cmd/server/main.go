package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cartsentry/internal/api"
	"cartsentry/internal/batch"
	"cartsentry/internal/cache"
	"cartsentry/internal/config"
	"cartsentry/internal/entitlement"
	"cartsentry/internal/intel"
	"cartsentry/internal/notify"
	"cartsentry/internal/pkg/dedup"
	"cartsentry/internal/pkg/logger"
	"cartsentry/internal/store"
	"cartsentry/internal/tracker"

	"github.com/redis/go-redis/v9"
)

// main 是服务入口函数。
//
// 它负责：
// 1. 加载配置
// 2. 初始化日志与存储
// 3. 启动价格监控循环与每日批处理
// 4. 启动运维 API 服务器
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		appLogger.Error("redis connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// AI 分析结果缓存走 Redis，监控状态落盘到本地文件
	cacheStore, err := store.NewRedisStore(rdb)
	if err != nil {
		appLogger.Error("init cache store failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	fileStore, err := store.NewFileStore(cfg.Store.Dir)
	if err != nil {
		appLogger.Error("init file store failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	responseCache := cache.New(cacheStore, appLogger, cache.DefaultTTL)

	intelClient := intel.NewClient(intel.Config{
		APIKey:      cfg.Intelligence.APIKey,
		BaseURL:     cfg.Intelligence.BaseURL,
		Model:       cfg.Intelligence.Model,
		MaxTokens:   cfg.Intelligence.MaxTokens,
		Temperature: cfg.Intelligence.Temperature,
		Timeout:     cfg.Intelligence.Timeout,
	}, appLogger)

	ent := entitlement.NewStatic(cfg.Entitlement.Tier)

	deduper := dedup.NewDeduplicator(rdb, cfg.Tracking.DedupWindow)
	gateway := notify.WithDedup(notify.NewEmailGateway(&cfg.Email, appLogger), deduper, appLogger)

	trk := tracker.New(tracker.Config{
		FreeInterval:      cfg.Tracking.FreeInterval,
		PremiumInterval:   cfg.Tracking.PremiumInterval,
		InterProductDelay: cfg.Tracking.InterProductDelay,
		DropThresholdPct:  cfg.Tracking.DropThresholdPct,
	}, tracker.NewSimulatedSource(cfg.Tracking.QuoteSeed), gateway, ent, fileStore, appLogger)
	if err := trk.Load(ctx); err != nil {
		appLogger.Error("load tracked products failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := trk.Start(ctx); err != nil {
		appLogger.Error("start tracker failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	snapshots := batch.NewMemorySnapshots()
	sched := batch.New(responseCache, intelClient, trk, snapshots, ent, appLogger, cfg.Batch.RunAtHour, cfg.Batch.RunAtMinute)
	sched.Start(ctx)

	srv := api.NewServer(cfg, appLogger, rdb, trk, sched, responseCache, snapshots)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTPAddr,
		Handler: srv.Router(),
	}

	go func() {
		appLogger.Info("api server listening", slog.String("addr", cfg.App.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("server run failed", slog.String("error", err.Error()))
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	sched.Stop()
	trk.Stop()
	if err := rdb.Close(); err != nil {
		appLogger.Error("close redis failed", slog.String("error", err.Error()))
	}
}
