package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/venuetap/venuetap/internal/audit"
	"github.com/venuetap/venuetap/internal/config"
	"github.com/venuetap/venuetap/internal/database"
	"github.com/venuetap/venuetap/internal/groupbooking"
	"github.com/venuetap/venuetap/internal/notification"
	"github.com/venuetap/venuetap/internal/scheduler"
	"github.com/venuetap/venuetap/pkg/logger"
)

func main() {
	// Load environment variables from .env file if present
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	log.Info("starting venuetap booking core")

	db, err := database.NewPostgresDB(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	var notifier notification.Notifier = notification.NopNotifier{}
	var kafkaNotifier *notification.KafkaNotifier
	if cfg.Kafka.Enabled {
		kafkaNotifier = notification.NewKafkaNotifier(log, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		notifier = kafkaNotifier
	}

	auditSvc, err := audit.NewService(db, log, cfg.Audit.MaxPageSize)
	if err != nil {
		log.Fatal("failed to initialize audit service", zap.Error(err))
	}

	// A broken chain means the trail was tampered with or corrupted; refuse
	// to start on top of it.
	ok, err := auditSvc.VerifyIntegrity(context.Background())
	if err != nil {
		log.Fatal("failed to verify audit chain", zap.Error(err))
	}
	if !ok {
		log.Fatal("audit chain integrity check failed")
	}

	groupSvc, err := groupbooking.NewService(log, db, auditSvc, notifier, cfg.GroupBooking.CountdownWindow)
	if err != nil {
		log.Fatal("failed to initialize group booking service", zap.Error(err))
	}

	sched, err := scheduler.New(log, db, groupSvc, auditSvc, notifier, scheduler.Config{
		LateArrivalInterval:  cfg.Scheduler.LateArrivalInterval,
		LateArrivalThreshold: cfg.Scheduler.LateArrivalThreshold,
		MaxLatePrompts:       cfg.Scheduler.MaxLatePrompts,
		GroupExpiryInterval:  cfg.Scheduler.GroupExpiryInterval,
	})
	if err != nil {
		log.Fatal("failed to initialize scheduler", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	metricsSrv := &http.Server{Addr: ":9090", Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", zap.Error(err))
		}
	}()

	log.Info("venuetap booking core running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown error", zap.Error(err))
	}
	if kafkaNotifier != nil {
		if err := kafkaNotifier.Close(); err != nil {
			log.Error("failed to close notifier", zap.Error(err))
		}
	}

	log.Info("shutdown complete")
}
