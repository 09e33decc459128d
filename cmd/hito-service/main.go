package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"recruitment-hitos/contracts/mq"
	"recruitment-hitos/internal/calendar"
	"recruitment-hitos/internal/config"
	"recruitment-hitos/internal/handler"
	"recruitment-hitos/internal/httpserver"
	"recruitment-hitos/internal/milestone"
	"recruitment-hitos/internal/mqhandler"
	"recruitment-hitos/internal/repository"
	"recruitment-hitos/internal/scheduler"
	pkgconfig "recruitment-hitos/pkg/config"
	"recruitment-hitos/pkg/db"
	"recruitment-hitos/pkg/logger"
	pkgmq "recruitment-hitos/pkg/mq"
	"recruitment-hitos/pkg/outbox"
	pkgredis "recruitment-hitos/pkg/redis"
	"recruitment-hitos/pkg/util"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const dedupTTL = 24 * time.Hour

func main() {
	env := pflag.String("env", pkgconfig.GetConfigEnv(), "config environment (base.yaml + <env>.yaml)")
	configDir := pflag.String("config-dir", "config", "directory holding base.yaml, <env>.yaml and secrets.env")
	pflag.Parse()

	cfg, err := config.Load(*env, *configDir)
	if err != nil {
		// logger 依赖配置，这里只能直接退出
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg.Log.Level)
	defer log.Sync()

	loc := cfg.BusinessLocation()
	log.Info("Starting hito-service...",
		zap.String("env", *env),
		zap.String("store", cfg.Milestone.Store),
		zap.String("location", loc.String()),
		zap.String("calendar_url", cfg.Calendar.URL),
	)

	// Redis（可选）
	var rdb *goredis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = pkgredis.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Warn("Redis unavailable, continuing without shared cache and dedup", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	// Calendar
	layers := []calendar.Cache{calendar.NewMemoryCache(cfg.Calendar.StaleRetention)}
	if rdb != nil {
		layers = append(layers, calendar.NewRedisCache(rdb, cfg.Calendar.StaleRetention, log))
	}
	source := calendar.NewHTTPSource(cfg.Calendar.URL, cfg.Calendar.Timeout, log)
	provider := calendar.NewProvider(source, calendar.NewTiered(layers...), cfg.Calendar.CacheTTL, log)
	calc := milestone.NewDueDateCalculator(provider)

	// Store
	var (
		store     milestone.Store
		seeder    milestone.TemplateWriter
		registrar mqhandler.ProcessRegistrar
		pool      *pgxpool.Pool
	)
	switch cfg.Milestone.Store {
	case "memory":
		mem := milestone.NewMemoryStore()
		store, seeder = mem, mem
		// 无招聘库可读，流程由 process.created 消息登记
		registrar = mem
		log.Warn("Using in-memory milestone store; data is lost on restart")
	default:
		log.Info("Initializing database connection...")
		pool, err = db.NewConnection(cfg.DB, log)
		if err != nil {
			log.Fatal("Failed to init DB", zap.Error(err))
		}
		defer pool.Close()
		repo := repository.NewMilestoneRepository(pool, log)
		store, seeder = repo, repo
		log.Info("Database connection established successfully")
	}

	if cfg.Milestone.CatalogFile != "" {
		if err := seedCatalog(context.Background(), seeder, cfg.Milestone.CatalogFile, log); err != nil {
			log.Fatal("Failed to seed milestone catalog", zap.Error(err))
		}
	}

	engine := milestone.NewEngine(store, calc, loc, log)
	dashboard := milestone.NewDashboard(store, loc, log)

	// MQ
	var (
		publisher *pkgmq.Publisher
		consumers []*pkgmq.Consumer
		checkers  []httpserver.ConnectionChecker
	)
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	var adminHandler *handler.AdminHandler
	if cfg.MQ.URL != "" {
		publisher, err = pkgmq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Fatal("Failed to init MQ publisher", zap.Error(err))
		}
		defer publisher.Close()
		checkers = append(checkers, publisher)

		if pool != nil {
			outboxRepo := outbox.NewRepository(pool)
			dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log).
				WithInterval(cfg.Outbox.Interval).
				WithBatchSize(cfg.Outbox.BatchSize).
				WithMaxRetries(cfg.Outbox.MaxRetries)
			go dispatcher.Start(rootCtx)
			adminHandler = handler.NewAdminHandler(outbox.NewReplayService(outboxRepo, publisher, log), log)
		}

		deduper := util.NewDeduper(rdb, dedupTTL, log)
		var retries *util.RetryCounter
		if rdb != nil {
			retries = util.NewRetryCounter(rdb, dedupTTL)
		}
		bindings := []struct {
			pkgmq.Binding
			handle pkgmq.MessageHandler
		}{
			{pkgmq.Binding{Queue: pkgmq.QueueProcessCreated, RoutingKey: mq.RoutingKeyProcessCreated}, mqhandler.NewProcessCreatedHandler(engine, registrar, deduper, log).Handle},
			{pkgmq.Binding{Queue: pkgmq.QueueProcessEvent, RoutingKey: mq.RoutingKeyProcessEvent}, mqhandler.NewProcessEventHandler(engine, deduper, log).Handle},
		}
		for _, b := range bindings {
			log.Info("Initializing MQ consumer...",
				zap.String("queue", b.Queue),
				zap.String("routing_key", b.RoutingKey),
			)
			consumer, err := pkgmq.NewConsumer(cfg.MQ.URL, b.Binding, log)
			if err != nil {
				log.Fatal("Failed to init consumer", zap.String("queue", b.Queue), zap.Error(err))
			}
			defer consumer.Close()
			consumer.SetHandler(b.handle)
			if retries != nil {
				consumer.SetRetryBudget(retries, cfg.MQ.MaxRetries)
			}

			go func() {
				if err := consumer.StartConsuming(); err != nil {
					log.Fatal("Consumer failed", zap.String("queue", b.Queue), zap.Error(err))
				}
			}()
			consumers = append(consumers, consumer)
			checkers = append(checkers, consumer)
		}
	} else {
		log.Warn("MQ disabled: no consumers, no outbox dispatch, no alert digest")
	}

	// Scheduler
	sched := scheduler.New(loc, log)
	sched.Add(scheduler.Job{
		Name:    "calendar_warmup",
		Spec:    cfg.Scheduler.WarmupCron,
		Timeout: 2 * cfg.Calendar.Timeout,
		Run:     scheduler.CalendarWarmup(provider, time.Now, loc, log),
	})
	if cfg.Scheduler.DigestEnabled && publisher != nil {
		sched.Add(scheduler.Job{
			Name:    "alert_digest",
			Spec:    cfg.Scheduler.DigestCron,
			Timeout: time.Minute,
			Run:     scheduler.AlertDigest(dashboard, publisher, time.Now, log),
		})
	}
	if err := sched.Start(); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// HTTP Server
	deps := httpserver.Deps{
		Milestones: handler.NewMilestoneHandler(engine, log),
		Dashboard:  handler.NewDashboardHandler(dashboard, log),
		Admin:      adminHandler,
		JWTSecret:  cfg.JWT.Secret,
		Consumers:  checkers,
		Logger:     log,
	}
	if pool != nil {
		deps.DB = pool
	}
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: httpserver.NewRouter(deps),
	}

	go func() {
		log.Info("HTTP server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("hito-service is fully initialized and running",
		zap.String("http_port", cfg.Server.Port),
		zap.Int("consumers", len(consumers)),
	)

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down hito-service gracefully...")

	for _, c := range consumers {
		c.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	sched.Stop(shutdownCtx)
	cancelRoot()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	log.Info("hito-service shutdown complete")
}

// seedCatalog upserts every service type of the catalog file.
func seedCatalog(ctx context.Context, w milestone.TemplateWriter, path string, log *zap.Logger) error {
	catalog, err := milestone.LoadCatalogFile(path)
	if err != nil {
		return err
	}
	for serviceType, templates := range catalog {
		if err := w.UpsertTemplates(ctx, serviceType, templates); err != nil {
			return err
		}
		log.Info("Milestone catalog seeded",
			zap.String("service_type", serviceType),
			zap.Int("templates", len(templates)),
		)
	}
	return nil
}
