package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Service        Scheduler
	PgPool         *pgxpool.Pool
	Redis          *redis.Client
	Logger         *zap.Logger
	Location       *time.Location
	RequestTimeout time.Duration
	RateLimitRPS   int
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	h := &handlers{
		svc:      cfg.Service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
		loc:      loc,
	}

	r := chi.NewRouter()

	r.Use(CorrelationMiddleware)
	r.Use(LoggingMiddleware(log))
	if cfg.RateLimitRPS > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimitRPS, time.Second))
	}

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/v1", func(r chi.Router) {
		r.Use(TimeoutMiddleware(cfg.RequestTimeout))

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.bookAppointment)
			r.Get("/", h.listAppointments)
			r.Get("/{id}", h.getAppointment)
			r.Put("/{id}/reschedule", h.rescheduleAppointment)
			r.Put("/{id}/cancel", h.cancelAppointment)
			r.Put("/{id}/complete", h.transition(cfg.Service.Complete))
			r.Put("/{id}/no-show", h.transition(cfg.Service.MarkNoShow))
		})

		r.Get("/doctors/{id}/availability", h.doctorAvailability)
	})

	return r
}
