package core

import (
	"context"
	"fmt"

	"housingcore/internal/blob"
	"housingcore/internal/config"
	"housingcore/internal/infra/persistence/blobrepo"
	"housingcore/internal/infra/persistence/breaker"
	"housingcore/internal/infra/persistence/memory"
	"housingcore/internal/infra/persistence/postgres"
	"housingcore/internal/infra/persistence/redis"
	"housingcore/internal/infra/persistence/sqlite"
	"housingcore/pkg/domain"
)

// CloseFunc releases the resources held by an opened repository.
type CloseFunc func() error

func noClose() error { return nil }

// OpenRepository selects a backend from cfg. The returned CloseFunc is never
// nil.
//
//	memory    in-process maps (tests, ephemeral runs)
//	sqlite    embedded file at cfg.SQLitePath
//	postgres  server at cfg.PostgresDSN
//	redis     one key per bucket under cfg.Redis.Prefix
//	blob      snapshot generations on the fs, s3 or memory blob store
func OpenRepository(ctx context.Context, cfg config.Storage) (domain.Repository, CloseFunc, error) {
	repo, closeFn, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Breaker {
		repo = breaker.New(repo, breaker.Settings{Name: "housing-" + cfg.Driver})
	}
	return repo, closeFn, nil
}

func openBackend(ctx context.Context, cfg config.Storage) (domain.Repository, CloseFunc, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.NewRepository(), noClose, nil
	case config.DriverSQLite, "":
		repo, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	case config.DriverPostgres:
		repo, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	case config.DriverRedis:
		repo, err := redis.Open(ctx, redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	case config.DriverBlob:
		store, err := blob.Open(ctx, cfg.Blob)
		if err != nil {
			return nil, nil, err
		}
		return blobrepo.New(store, blobrepo.Options{Prefix: cfg.Blob.Prefix, Keep: cfg.Blob.Keep}), noClose, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}
