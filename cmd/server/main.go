package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"booking-service/config"
	"booking-service/internal/api"
	"booking-service/internal/broker"
	"booking-service/internal/notify"
	"booking-service/internal/provider"
	"booking-service/internal/redisclient"
	"booking-service/internal/service"
	"booking-service/internal/store"
	"booking-service/internal/util"
	"booking-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel, cfg.Server.LogFile); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting booking service", zap.String("env", cfg.Server.Env))

	if cfg.Observ.TracingEnabled {
		tp, err := util.InitTracer("booking-service", cfg.Observ.JaegerEndpoint, cfg.Server.Env)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(); err != nil {
			logger.Fatal("Failed to apply schema", zap.Error(err))
		}
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	paymentProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayments)
	defer paymentProducer.Close()
	eventPublisher := broker.NewEventPublisher(paymentProducer)

	sender, closeSender := newSender(cfg)
	defer closeSender()
	dispatcher := notify.NewDispatcher(sender)

	stripeProvider := provider.NewStripeProvider(cfg.Stripe.SecretKey)

	inventory := service.NewInventoryAdjuster(db, redisClient)
	if err := inventory.SyncStockMirror(context.Background()); err != nil {
		logger.Warn("Failed to sync stock to Redis", zap.Error(err))
	}

	engine := service.NewSettlementEngine(
		db,
		service.NewEntityUpdater(db, db),
		inventory,
		db,
		eventPublisher,
	)

	reconcileCfg := service.ReconcilerConfig{
		AdminEmails: cfg.Notify.AdminEmails,
		Concurrency: cfg.Reconcile.Concurrency,
		BatchSize:   cfg.Reconcile.BatchSize,
		LockTTL:     cfg.Reconcile.LockTTL,
	}
	reconciler := service.NewReconciler(db, stripeProvider, engine, dispatcher, redisClient, eventPublisher, reconcileCfg)
	sweeper := service.NewOrphanSweeper(db, engine, dispatcher, redisClient, eventPublisher, reconcileCfg, cfg.Reconcile.SweepGrace)

	scheduler := worker.NewScheduler(cfg.Reconcile.TickTimeout)
	scheduler.Register(worker.JobReconcile, cfg.Reconcile.Interval, func(ctx context.Context) (interface{}, error) {
		return reconciler.Reconcile(ctx)
	})
	scheduler.Register(worker.JobSweep, cfg.Reconcile.SweepInterval, func(ctx context.Context) (interface{}, error) {
		return sweeper.Sweep(ctx)
	})
	scheduler.Start(context.Background())

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(scheduler, db, map[string]api.Pinger{
		"postgres": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	scheduler.Stop()
	dispatcher.Wait()

	logger.Info("Server exited")
}

// newSender picks the notification transport named by NOTIFY_TRANSPORT
func newSender(cfg *config.Config) (notify.Sender, func()) {
	switch cfg.Notify.Transport {
	case "sendgrid":
		return notify.NewSendGridSender(
			cfg.Notify.SendGridAPIKey,
			cfg.Notify.FromEmail,
			cfg.Notify.FromName,
			cfg.Notify.Templates,
		), func() {}
	case "kafka":
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotification)
		return notify.NewKafkaSender(broker.NewEventPublisher(producer)), func() { producer.Close() }
	default:
		return notify.NewLogSender(), func() {}
	}
}
