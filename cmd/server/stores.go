package main

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"backjob/internal/config"
	"backjob/internal/controller/handlers"
	"backjob/internal/store"
	"backjob/internal/store/gormdb"
	"backjob/internal/store/memory"
	"backjob/internal/store/postgres"
	"backjob/internal/store/redis"
)

// durableBackend is what the server needs from a job table beyond store.Durable.
type durableBackend interface {
	store.Durable
	EnsureTable(ctx context.Context) error
	CountActive(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

type storeSet struct {
	cache       store.KeyValueStore
	cacheName   string
	redisClient *goredis.Client

	durable     durableBackend
	durableName string
}

// openStores connects the cache and durable store enabled in cfg.
func openStores(ctx context.Context, cfg *config.Config) (*storeSet, error) {
	b := &storeSet{}

	if cfg.UseCache {
		switch cfg.CacheDriver {
		case config.CacheRedis:
			b.redisClient = goredis.NewClient(&goredis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			b.cache = redis.New(b.redisClient, redis.WithTTL(cfg.CacheTTL))
		case config.CacheMemory:
			b.cache = memory.New()
		default:
			return nil, fmt.Errorf("unknown cache driver %q", cfg.CacheDriver)
		}
		b.cacheName = cfg.CacheDriver
	}

	if cfg.UseDB {
		durable, err := openDurable(ctx, cfg)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.durable = durable
		b.durableName = cfg.DurableDriver
	}

	return b, nil
}

func openDurable(ctx context.Context, cfg *config.Config) (durableBackend, error) {
	switch cfg.DurableDriver {
	case config.DriverPostgres:
		pg, err := postgres.New(ctx, cfg.DatabaseURL, cfg.TableName)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case config.DriverGormPostgres, config.DriverGormSQLite:
		driver := gormdb.DriverPostgres
		if cfg.DurableDriver == config.DriverGormSQLite {
			driver = gormdb.DriverSQLite
		}
		gs, err := gormdb.Open(driver, cfg.DatabaseURL, cfg.TableName)
		if err != nil {
			return nil, err
		}
		return gs, nil
	}
	return nil, fmt.Errorf("unknown durable driver %q", cfg.DurableDriver)
}

// checks returns the readiness checks for the enabled stores.
func (b *storeSet) checks() map[string]handlers.Pinger {
	checks := make(map[string]handlers.Pinger)
	if b.redisClient != nil {
		checks["cache"] = b.cache.(*redis.Cache)
	}
	if b.durable != nil {
		checks["database"] = b.durable
	}
	return checks
}

// Close releases every open connection.
func (b *storeSet) Close() error {
	var errs []error
	if b.redisClient != nil {
		errs = append(errs, b.redisClient.Close())
	}
	if b.durable != nil {
		errs = append(errs, b.durable.Close())
	}
	return errors.Join(errs...)
}
