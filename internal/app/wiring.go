// Package app assembles the booking service from configuration for the binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
	"github.com/hackgods/vet-appointment-scheduling/internal/config"
	"github.com/hackgods/vet-appointment-scheduling/internal/db"
	"github.com/hackgods/vet-appointment-scheduling/internal/lock"
	redisclient "github.com/hackgods/vet-appointment-scheduling/internal/redis"
)

// Deps holds the live connections behind a Service. Close releases them.
type Deps struct {
	Service *appointment.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Memory  *appointment.MemoryStore
}

func (d *Deps) Close(logger zerolog.Logger) {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}
	if d.PgPool != nil {
		d.PgPool.Close()
	}
}

// Build connects to the configured backends and wires the booking service.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Deps, error) {
	deps := &Deps{}
	var store appointment.Store

	if cfg.StoreBackend == config.BackendPostgres || cfg.LockBackend == config.BackendPostgres {
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres connection error: %w", err)
		}
		deps.PgPool = pool
		logger.Info().Msg("connected to Postgres")

		if err := db.Migrate(ctx, pool); err != nil {
			deps.Close(logger)
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	if cfg.StoreBackend == config.BackendPostgres {
		store = appointment.NewPgRepository(deps.PgPool)
	} else {
		deps.Memory = appointment.NewMemoryStore()
		store = deps.Memory
	}

	if cfg.UsesRedis() {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			deps.Close(logger)
			return nil, fmt.Errorf("redis connection error: %w", err)
		}
		deps.Redis = rdb
		logger.Info().Msg("connected to Redis")
	}

	var locker appointment.Locker
	switch cfg.LockBackend {
	case config.BackendRedis:
		locker = redisclient.NewScheduleLocker(deps.Redis, cfg.LockTTL, cfg.LockWait)
	case config.BackendPostgres:
		locker = lock.NewAdvisoryLocker(deps.PgPool, cfg.LockWait)
	default:
		locker = lock.NewKeyedLocker(cfg.LockWait)
	}

	opts := []appointment.Option{
		appointment.WithClock(appointment.SystemClock{Location: cfg.ClinicLocation}),
		appointment.WithPricing(appointment.PricingPolicy{HouseCallSurcharge: appointment.Money(cfg.HouseCallSurcharge)}),
		appointment.WithLogger(logger),
	}
	if deps.Redis != nil && cfg.CatalogCacheTTL > 0 && cfg.StoreBackend == config.BackendPostgres {
		cached := redisclient.NewCachedCatalog(appointment.NewScheduleCatalog(store), deps.Redis, cfg.CatalogCacheTTL, logger)
		opts = append(opts, appointment.WithCatalog(cached))
	}

	deps.Service = appointment.NewService(store, locker, opts...)
	return deps, nil
}
