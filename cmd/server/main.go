package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/vowsuite/notify/internal/api"
	"github.com/vowsuite/notify/internal/bus"
	"github.com/vowsuite/notify/internal/config"
	"github.com/vowsuite/notify/internal/db"
	"github.com/vowsuite/notify/internal/domain"
	"github.com/vowsuite/notify/internal/metrics"
	"github.com/vowsuite/notify/internal/prefs"
	"github.com/vowsuite/notify/internal/queue"
	"github.com/vowsuite/notify/internal/ratelimiter"
	"github.com/vowsuite/notify/internal/repository"
	"github.com/vowsuite/notify/internal/rules"
	"github.com/vowsuite/notify/internal/sender"
	"github.com/vowsuite/notify/internal/service"
	"github.com/vowsuite/notify/internal/template"
	"github.com/vowsuite/notify/internal/worker"
	"github.com/vowsuite/notify/internal/ws"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- bus ----
	b, err := bus.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer b.Close() //nolint:errcheck

	// ---- repositories ----
	notificationRepo := repository.NewPgNotificationRepository(pool)
	deliveryRepo := repository.NewPgDeliveryRepository(pool)
	prefRepo := repository.NewPgPreferenceRepository(pool)
	ruleRepo := repository.NewPgRuleRepository(pool)
	templateRepo := repository.NewPgTemplateRepository(pool)
	contactRepo := repository.NewPgContactRepository(pool)

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	lanes := queue.New()
	limiters := ratelimiter.New(cfg.RateLimit)
	prefCache := prefs.NewCache(prefRepo, logger)

	engine := rules.NewEngine(ruleRepo, deliveryRepo, prefCache, logger)
	if err := engine.Reload(ctx); err != nil {
		logger.Fatal("failed to load routing rules", zap.Error(err))
	}

	templates := template.NewEngine(logger)
	if err := templates.Reload(ctx, templateRepo); err != nil {
		logger.Fatal("failed to load templates", zap.Error(err))
	}

	svc := service.NewNotificationService(
		notificationRepo, deliveryRepo, prefRepo, prefCache, engine,
		lanes, b, m.QueueAlarms.Inc, logger,
	)

	// ---- realtime hub ----
	hub := ws.NewHub(b,
		func(n int) { m.ConnectedClients.Set(float64(n)) },
		func(n int) { m.ActiveRooms.Set(float64(n)) },
		logger,
	)
	wsHandler := ws.NewHandler(hub, cfg.JWTSecret, cfg.HandshakeTimeout, logger)
	bridge := ws.NewBridge(b, hub, logger)

	// ---- senders and workers ----
	senders := worker.Senders{
		Realtime: sender.NewRealtimeSender(b, logger),
		Push:     sender.NewPushSender(cfg.PushProviderURL, cfg.ProviderTimeout, contactRepo, cfg.RetryBackoff, cfg.MaxRetries, logger),
		Email:    sender.NewEmailSender(cfg.EmailProviderURL, cfg.ProviderTimeout, cfg.RetryBackoff, cfg.MaxRetries, logger),
		SMS:      sender.NewSMSSender(cfg.SMSProviderURL, cfg.ProviderTimeout, cfg.RetryBackoff, cfg.MaxRetries, logger),
	}

	onChannel, onFinal := m.WorkerHooks()
	dispatcher := worker.NewDispatcher(
		notificationRepo, deliveryRepo, contactRepo, prefCache, templates,
		limiters, senders, worker.Hooks{OnChannel: onChannel, OnFinal: onFinal}, logger,
	)

	// Context for all background goroutines; cancelled on shutdown signal.
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()

	workerPool := worker.NewPool(lanes, dispatcher, cfg.LaneWorkers,
		func(priority domain.Priority, depth int) {
			m.LaneDepth.WithLabelValues(string(priority)).Set(float64(depth))
		}, logger)
	workerPool.Start(bgCtx)

	scheduler := worker.NewScheduler(notificationRepo, lanes, cfg.SchedulerInterval, m.QueueAlarms.Inc, logger)
	go scheduler.Run(bgCtx)

	go hub.Run(bgCtx)
	go bridge.Run(bgCtx)

	// Control-plane subscriptions: preference invalidations and rule reloads
	// published by any process in the fleet.
	go b.Subscribe(bgCtx, func(subject string, payload []byte) {
		switch subject {
		case bus.SubjectPrefs:
			var userID string
			if err := json.Unmarshal(payload, &userID); err == nil {
				prefCache.Invalidate(userID)
			}
		case bus.SubjectRules:
			if err := engine.Reload(bgCtx); err != nil {
				logger.Error("rules reload from bus failed", zap.Error(err))
			}
			if err := templates.Reload(bgCtx, templateRepo); err != nil {
				logger.Error("template reload from bus failed", zap.Error(err))
			}
		}
	}, bus.SubjectPrefs, bus.SubjectRules)

	// ---- HTTP server ----
	router := api.NewRouter(svc, lanes, prefCache, wsHandler, reg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests and socket handshakes.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Signal workers, scheduler, hub and bus subscribers to stop.
	cancelBg()

	// 3. Wait for in-flight workers to finish their current notification.
	workerPool.Wait()

	logger.Info("server stopped cleanly")
}
