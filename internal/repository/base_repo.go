package repository

import (
	"context"

	"github.com/mbeoliero/kit/log"
	"github.com/redis/go-redis/v9"

	"github.com/mbeoliero/ecommunity/internal/config"
	"github.com/mbeoliero/ecommunity/pkg/constant"
)

// Repositories holds all repositories. Without redis every field is nil and callers run uncached.
type Repositories struct {
	Redis    *redis.Client
	URLCache *URLCacheRepo
}

// NewRepositories creates all repositories
func NewRepositories(ctx context.Context, cfg *config.Config) (*Repositories, error) {
	if !cfg.Redis.Enabled {
		log.CtxInfo(ctx, "redis disabled, signed urls will not be cached")
		return &Repositories{}, nil
	}

	constant.InitRedisKeyPrefix(cfg.Redis.KeyPrefix)
	rdb := initRedis(cfg)

	repos := &Repositories{
		Redis:    rdb,
		URLCache: NewURLCacheRepo(rdb, cfg.Storage.Bucket),
	}

	if err := repos.CheckConnection(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return repos, nil
}

// initRedis initializes Redis connection
func initRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// Close closes all connections
func (r *Repositories) Close() error {
	if r.Redis == nil {
		return nil
	}
	return r.Redis.Close()
}

// CheckConnection checks if the redis connection is alive
func (r *Repositories) CheckConnection(ctx context.Context) error {
	if r.Redis == nil {
		return nil
	}
	if err := r.Redis.Ping(ctx).Err(); err != nil {
		log.CtxError(ctx, "redis ping failed: %v", err)
		return err
	}
	return nil
}
