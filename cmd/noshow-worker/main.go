package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
	"github.com/hackgods/hospital-appointment-scheduling/internal/config"
	"github.com/hackgods/hospital-appointment-scheduling/internal/db"
	"github.com/hackgods/hospital-appointment-scheduling/internal/events"
	"github.com/hackgods/hospital-appointment-scheduling/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config load error: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		os.Stderr.WriteString("logger init error: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log = log.Named("noshow-worker")
	log.Info("starting",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("grace", cfg.NoShowGrace))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.Location)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to postgres")

	// Transitions here only touch rows already booked, so no booking lock.
	var opts []appointment.Option
	if cfg.RabbitMQURL != "" {
		publisher, err := events.NewAMQPPublisher(cfg.RabbitMQURL, cfg.EventsExchange, log)
		if err != nil {
			log.Fatal("rabbitmq connection error", zap.Error(err))
		}
		defer func() { _ = publisher.Close() }()
		opts = append(opts, appointment.WithPublisher(publisher))
	}

	store := appointment.NewPgStore(pgPool)
	svc := appointment.NewService(store, store, cfg, log, opts...)

	runOnce(rootCtx, log, svc, cfg.NoShowGrace)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping")
			return
		case <-ticker.C:
			runOnce(rootCtx, log, svc, cfg.NoShowGrace)
		}
	}
}

func runOnce(ctx context.Context, log *zap.Logger, svc *appointment.Service, grace time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	marked, err := svc.MarkOverdueNoShows(runCtx, grace)
	if err != nil {
		log.Error("no-show run failed", zap.Error(err))
		return
	}
	log.Info("no-show run complete", zap.Int("marked", marked), zap.Duration("took", time.Since(start)))
}
