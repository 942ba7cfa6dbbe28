// Package app assembles the booking service from configuration: stores, slot adapters,
// booking logic, HTTP surface and the outbox publisher.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/dentbook/libs/config"
	"github.com/md-rashed-zaman/dentbook/libs/httpx"
	"github.com/md-rashed-zaman/dentbook/libs/kafkax"
	"github.com/md-rashed-zaman/dentbook/libs/runtime"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/scheduling"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxBodyBytes = 1 << 20

type App struct {
	Handler   http.Handler
	Publisher *outbox.Publisher
	Slots     *scheduling.Service
	Bookings  *booking.Service

	closers []func() error
}

// New wires the service on top of stores. The caller keeps ownership of stores; Close releases
// only what New opened.
func New(cfg *config.Config, logger *slog.Logger, stores *Stores) (*App, error) {
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	slotInterval, err := cfg.PositiveInt("SLOT_INTERVAL_MINUTES", scheduling.DefaultSlotInterval)
	if err != nil {
		return nil, err
	}
	systems := map[string]scheduling.SystemConfig{}
	if err := cfg.UnmarshalKey("management_systems", &systems); err != nil {
		return nil, err
	}
	registry, closeRegistry, err := scheduling.BuildRegistry(scheduling.NewLocalAdapter(stores.Appointments, slotInterval), systems)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeRegistry)
	logger.Info("availability adapters registered", "systems", registry.Names(), "slot_interval_minutes", slotInterval)

	a.Slots, err = scheduling.NewService(stores.Clinics, registry, logger)
	if err != nil {
		return nil, fmt.Errorf("slot service: %w", err)
	}
	a.Bookings = booking.NewService(stores.Bookings, a.Slots, logger)

	brokers := kafkax.SplitBrokers(cfg.String("KAFKA_BROKERS", ""))
	checks := []runtime.ReadyCheck{}
	if stores.Ready.Check != nil {
		checks = append(checks, stores.Ready)
	}
	if len(brokers) > 0 {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.NewBookingHandler(a.Slots, a.Bookings, stores.Bookings, logger).Register(mux)

	limiter, err := a.rateLimiter(cfg, logger)
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Seconds("REQUEST_TIMEOUT_SECONDS", 15*time.Second)
	if err != nil {
		return nil, err
	}
	h := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.PublicCORS(cfg.List("CORS_ALLOWED_ORIGINS"))),
		limiter,
		httpx.WithBodyLimit(maxBodyBytes),
		httpx.WithTimeout(timeout),
	)
	a.Handler = otelhttp.NewHandler(h, "booking-service")

	var writer outbox.Writer
	if len(brokers) > 0 {
		writer = outbox.NewKafkaWriter(brokers)
	}
	pollEvery, err := cfg.Seconds("OUTBOX_POLL_SECONDS", 2*time.Second)
	if err != nil {
		return nil, err
	}
	batchSize, err := cfg.PositiveInt("OUTBOX_BATCH_SIZE", 50)
	if err != nil {
		return nil, err
	}
	a.Publisher = outbox.NewPublisher(stores.Outbox, writer, logger, outbox.PublisherConfig{
		PollEvery: pollEvery,
		BatchSize: batchSize,
	})

	ok = true
	return a, nil
}

// rateLimiter uses a shared Redis window when REDIS_ADDR is set and a per-process limiter otherwise.
func (a *App) rateLimiter(cfg *config.Config, logger *slog.Logger) (httpx.Middleware, error) {
	perMinute, err := cfg.PositiveInt("RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		return nil, err
	}
	addr := cfg.String("REDIS_ADDR", "")
	if addr == "" {
		return httpx.NewRateLimiter(perMinute, httpx.ClientIP).Middleware(), nil
	}
	redisDB, err := cfg.Int("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.String("REDIS_PASSWORD", ""),
		DB:       redisDB,
	})
	a.closers = append(a.closers, rdb.Close)
	limiter := httpx.NewRedisRateLimiter(rdb, perMinute, time.Minute, "dentbook:ratelimit:", httpx.ClientIP)
	return limiter.Middleware(logger, cfg.Bool("RATE_LIMIT_FAIL_OPEN", true)), nil
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
