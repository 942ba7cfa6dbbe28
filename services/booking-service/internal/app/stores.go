package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/md-rashed-zaman/dentbook/libs/config"
	"github.com/md-rashed-zaman/dentbook/libs/db"
	"github.com/md-rashed-zaman/dentbook/libs/mongox"
	"github.com/md-rashed-zaman/dentbook/libs/runtime"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/docstore"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/scheduling"
	"github.com/md-rashed-zaman/dentbook/services/booking-service/internal/storage"
)

const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Stores is the persistence backend chosen by STORAGE_BACKEND. Every field is served by the same
// backend.
type Stores struct {
	Backend      string
	Clinics      scheduling.ClinicStore
	Appointments scheduling.AppointmentSource
	Bookings     booking.Store
	Outbox       outbox.Source
	Ready        runtime.ReadyCheck
	close        func(context.Context) error
}

func (s *Stores) Close(ctx context.Context) error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close(ctx)
}

// Backend returns the normalized STORAGE_BACKEND value.
func Backend(cfg *config.Config) (string, error) {
	switch b := strings.ToLower(strings.TrimSpace(cfg.String("STORAGE_BACKEND", BackendPostgres))); b {
	case BackendPostgres, "postgresql", "pg":
		return BackendPostgres, nil
	case BackendMongo, "mongodb":
		return BackendMongo, nil
	default:
		return "", fmt.Errorf("STORAGE_BACKEND must be postgres or mongo (got %q)", b)
	}
}

// OpenPostgres connects to DATABASE_URL.
func OpenPostgres(ctx context.Context, cfg *config.Config) (*db.Pool, error) {
	url, err := cfg.RequiredString("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	maxConns, err := cfg.PositiveInt("DB_MAX_CONNS", 10)
	if err != nil {
		return nil, err
	}
	pool, err := db.Open(ctx, url, db.Options{MaxConns: int32(maxConns)})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return pool, nil
}

// OpenMongo connects to MONGO_URI and selects MONGO_DATABASE.
func OpenMongo(ctx context.Context, cfg *config.Config) (*mongox.Client, error) {
	uri, err := cfg.RequiredString("MONGO_URI")
	if err != nil {
		return nil, err
	}
	client, err := mongox.Open(ctx, uri, cfg.String("MONGO_DATABASE", "dentbook"))
	if err != nil {
		return nil, fmt.Errorf("open mongo: %w", err)
	}
	return client, nil
}

func OpenStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error) {
	backend, err := Backend(cfg)
	if err != nil {
		return nil, err
	}

	if backend == BackendMongo {
		client, err := OpenMongo(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store := docstore.New(client, logger)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Close(context.Background())
			return nil, err
		}
		return &Stores{
			Backend:      backend,
			Clinics:      store,
			Appointments: store,
			Bookings:     store,
			Outbox:       store,
			Ready:        runtime.ReadyCheck{Name: "mongo", Check: mongox.ReadyCheck(client)},
			close:        client.Close,
		}, nil
	}

	pool, err := OpenPostgres(ctx, cfg)
	if err != nil {
		return nil, err
	}
	outboxRepo := outbox.NewRepository(pool)
	repo := storage.NewBookingRepository(pool, storage.NewClinicRepository(pool), outboxRepo)
	return &Stores{
		Backend:      backend,
		Clinics:      repo,
		Appointments: repo,
		Bookings:     repo,
		Outbox:       outboxRepo,
		Ready:        runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		close: func(context.Context) error {
			pool.Close()
			return nil
		},
	}, nil
}
