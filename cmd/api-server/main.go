package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-appointment-scheduling/internal/api"
	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
	"github.com/hackgods/hospital-appointment-scheduling/internal/config"
	"github.com/hackgods/hospital-appointment-scheduling/internal/db"
	"github.com/hackgods/hospital-appointment-scheduling/internal/events"
	"github.com/hackgods/hospital-appointment-scheduling/internal/logger"
	redisclient "github.com/hackgods/hospital-appointment-scheduling/internal/redis"
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

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("timezone", cfg.Location.String()))

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

	if cfg.AutoMigrate {
		applied, err := db.NewMigrator(pgPool, log).Up(rootCtx)
		if err != nil {
			log.Fatal("schema migration failed", zap.Error(err))
		}
		log.Info("schema up to date", zap.Int("applied", applied))
	}

	opts := []appointment.Option{}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = redisclient.NewRedisClient(rootCtx, cfg)
		if err != nil {
			log.Fatal("redis connection error", zap.Error(err))
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn("error closing redis", zap.Error(err))
			}
		}()
		opts = append(opts, appointment.WithLocker(redisclient.NewRedisLocker(rdb, cfg.LockTTL)))
		log.Info("connected to redis", zap.Duration("lock_ttl", cfg.LockTTL))
	} else {
		log.Warn("redis not configured, booking lock disabled")
	}

	if cfg.RabbitMQURL != "" {
		publisher, err := events.NewAMQPPublisher(cfg.RabbitMQURL, cfg.EventsExchange, log)
		if err != nil {
			log.Fatal("rabbitmq connection error", zap.Error(err))
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Warn("error closing rabbitmq", zap.Error(err))
			}
		}()
		opts = append(opts, appointment.WithPublisher(publisher))
	}

	store := appointment.NewPgStore(pgPool)
	svc := appointment.NewService(store, store, cfg, log, opts...)

	router := api.NewRouter(api.RouterConfig{
		Service:        svc,
		PgPool:         pgPool,
		Redis:          rdb,
		Logger:         log,
		Location:       cfg.Location,
		RequestTimeout: cfg.RequestTimeout,
		RateLimitRPS:   cfg.RateLimitRPS,
		Env:            cfg.Env,
		Version:        cfg.Version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
