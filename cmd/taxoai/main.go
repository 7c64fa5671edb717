package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"taxoai/internal/analyzer"
	"taxoai/internal/api"
	"taxoai/internal/batch"
	"taxoai/internal/config"
	"taxoai/internal/database"
	"taxoai/internal/integrator"
	"taxoai/internal/logger"
	"taxoai/internal/metrics"
	"taxoai/internal/scheduler"
	"taxoai/internal/server"
	"taxoai/internal/server/handlers"
	"taxoai/internal/store"
	"taxoai/internal/task"
	"taxoai/internal/tasks"
	"taxoai/internal/usage"
)

func main() {
	// 加载配置
	cfg, err := config.Load(os.Getenv("TAXOAI_CONFIG_DIR"))
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	zapLogger, err := logger.New(logger.Config{
		Service:    cfg.App.Name,
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		OutputPath: cfg.Logger.OutputPath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	zapLogger.Info("application starting",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("env", cfg.App.Env),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化数据库连接
	dbs, err := database.New(database.Config{DatabaseConfig: cfg.Database, Logger: zapLogger})
	if err != nil {
		zapLogger.Fatal("failed to initialize databases", zap.Error(err))
	}

	st, err := openStores(ctx, cfg, dbs, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to open stores", zap.Error(err))
	}

	if cfg.Storage.SeedFile != "" {
		n, err := store.LoadSeedFile(ctx, st.products, cfg.Storage.SeedFile)
		if err != nil {
			zapLogger.Fatal("failed to load seed file", zap.String("path", cfg.Storage.SeedFile), zap.Error(err))
		}
		zapLogger.Info("seed products loaded", zap.Int("count", n))
	}

	// 指标
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// 组件装配
	client := api.NewClient(api.Config{
		BaseURL:   cfg.API.BaseURL,
		APIKey:    cfg.API.Key,
		Timeout:   cfg.API.TimeoutDuration,
		UserAgent: cfg.API.UserAgent,
		Logger:    zapLogger.Named("api"),
		Metrics:   m,
	})

	tracker := usage.NewTracker(usage.Config{
		Client:        client,
		Options:       st.kv,
		Transients:    st.kv,
		FreeTierLimit: cfg.Usage.FreeTierLimit,
		CacheTTL:      cfg.Usage.CacheTTLDuration,
		Logger:        zapLogger.Named("usage"),
		Metrics:       m,
	})
	validateAPIKey(ctx, client, tracker, zapLogger)

	seoTarget, err := integrator.ParseSEOTarget(cfg.Settings.SEOPlugin)
	if err != nil {
		zapLogger.Fatal("invalid SEO target", zap.Error(err))
	}

	productAnalyzer := analyzer.New(analyzer.Config{
		Products:   st.products,
		Client:     client,
		Usage:      tracker,
		SEO:        integrator.NewSEOIntegrator(st.products, seoTarget, zapLogger.Named("seo")),
		Category:   integrator.NewCategoryMapper(st.products, cfg.Settings.AutoMapCategories, zapLogger.Named("category")),
		Attributes: integrator.NewAttributeMapper(st.products, zapLogger.Named("attributes")),
		Settings: analyzer.Settings{
			Language:            cfg.Settings.Language,
			ConfidenceThreshold: cfg.Settings.ConfidenceThreshold,
			AnalyzeImages:       cfg.Settings.AnalyzeImages,
			SEO: integrator.SEOSettings{
				UpdateTitle:       cfg.Settings.UpdateTitle,
				UpdateDescription: cfg.Settings.UpdateDescription,
			},
		},
		Logger:  zapLogger.Named("analyzer"),
		Metrics: m,
	})

	orchestrator := batch.NewOrchestrator(batch.Config{
		Products:         st.products,
		Transients:       st.kv,
		Client:           client,
		Results:          productAnalyzer,
		ApplyIntegrators: cfg.Batch.ApplyIntegrators,
		JobMapTTL:        cfg.Batch.JobMapTTLDuration,
		Logger:           zapLogger.Named("batch"),
		Metrics:          m,
	})

	// 定时任务
	taskRegistry := task.NewRegistry()
	if err := taskRegistry.Register(tasks.NewTransientSweepTask(st.kv, cfg.Scheduler.SweepSchedule, zapLogger)); err != nil {
		zapLogger.Fatal("failed to register tasks", zap.Error(err))
	}

	location, err := cfg.GetLocation()
	if err != nil {
		zapLogger.Warn("failed to load location, using UTC", zap.Error(err))
		location = time.UTC
	}

	defaultTimeout, err := cfg.GetDefaultTimeout()
	if err != nil {
		zapLogger.Warn("failed to parse default timeout, using 5m", zap.Error(err))
		defaultTimeout = 5 * time.Minute
	}

	sched := scheduler.NewScheduler(scheduler.Config{
		Logger:         zapLogger,
		Registry:       taskRegistry,
		DefaultTimeout: defaultTimeout,
		Location:       location,
	})

	if cfg.Scheduler.Enabled {
		if err := sched.Start(); err != nil {
			zapLogger.Fatal("failed to start scheduler", zap.Error(err))
		}
		zapLogger.Info("scheduler started successfully",
			zap.Int("task_count", sched.GetTaskCount()),
		)
	}

	// HTTP 服务器
	srv := server.NewServer(&cfg.Server, server.Dependencies{
		Handlers: handlers.Dependencies{
			Analyzer:    productAnalyzer,
			Products:    st.products,
			Writer:      st.products,
			Taxonomies:  client,
			Batches:     orchestrator,
			Usage:       tracker,
			AutoAnalyze: cfg.Settings.AutoAnalyze,
			Ping:        dbs.Ping,
			TaskResults: sched.LastResults,
			Logger:      zapLogger.Named("http"),
		},
		Gatherer: registry,
	})
	if err := srv.Start(); err != nil {
		zapLogger.Fatal("failed to start HTTP server", zap.Error(err))
	}

	// 等待中断信号
	<-ctx.Done()
	zapLogger.Info("received signal, shutting down...")

	// 优雅关闭
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		zapLogger.Error("error stopping HTTP server", zap.Error(err))
	}

	if cfg.Scheduler.Enabled {
		if err := sched.Stop(shutdownCtx); err != nil {
			zapLogger.Error("error stopping scheduler", zap.Error(err))
		}
	}

	// 关闭数据库连接
	if err := dbs.Close(); err != nil {
		zapLogger.Error("error closing databases", zap.Error(err))
	}

	zapLogger.Info("application stopped")
}

// validateAPIKey 启动时用一次用量请求验证 API key，失败只记录日志
func validateAPIKey(ctx context.Context, client *api.Client, tracker *usage.Tracker, logger *zap.Logger) {
	if !client.HasAPIKey() {
		logger.Warn("TaxoAI API key is not configured, analysis is disabled")
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	snapshot, err := tracker.GetUsage(checkCtx, true)
	if err != nil {
		logger.Warn("TaxoAI API key validation failed", zap.Error(err))
		return
	}
	logger.Info("TaxoAI API key validated",
		zap.String("tier", snapshot.EffectiveTier()),
		zap.Int64("used", int64(snapshot.ProductsUsedThisMonth)),
		zap.Int64("limit", int64(snapshot.ProductsLimit)),
	)
}
