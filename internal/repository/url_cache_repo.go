package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mbeoliero/ecommunity/pkg/constant"
)

// URLCacheRepo caches signed attachment urls by storage path
type URLCacheRepo struct {
	rdb    *redis.Client
	bucket string
}

// NewURLCacheRepo creates a new URLCacheRepo
func NewURLCacheRepo(rdb *redis.Client, bucket string) *URLCacheRepo {
	return &URLCacheRepo{rdb: rdb, bucket: bucket}
}

func (r *URLCacheRepo) key(path string) string {
	return fmt.Sprintf(constant.RedisKeySignedURL(), r.bucket, path)
}

// Get returns the cached url for path, ok is false on a miss
func (r *URLCacheRepo) Get(ctx context.Context, path string) (string, bool, error) {
	url, err := r.rdb.Get(ctx, r.key(path)).Result()
	if err == nil {
		return url, true, nil
	}
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	return "", false, err
}

// Set caches url for ttl; ttl must be shorter than the url's own expiry
func (r *URLCacheRepo) Set(ctx context.Context, path, url string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.rdb.Set(ctx, r.key(path), url, ttl).Err()
}

// Delete drops the cached url for path
func (r *URLCacheRepo) Delete(ctx context.Context, path string) error {
	return r.rdb.Del(ctx, r.key(path)).Err()
}
