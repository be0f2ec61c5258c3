// Package kv はキー/値ストアの実装（redis とメモリ）。
// カート・トークン失効・商品一覧キャッシュをここに置く。
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storefront/internal/metrics"

	"github.com/redis/go-redis/v9"
)

const (
	revokedPrefix  = "revoked:"
	catalogPrefix  = "catalog:"
	catalogVersion = "catalog:version"
)

// NewRedisClient は接続して ping まで確認する。
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return rdb, nil
}

// ---- cart ----

type RedisCartStore struct {
	rdb *redis.Client
}

func NewRedisCartStore(rdb *redis.Client) *RedisCartStore {
	return &RedisCartStore{rdb: rdb}
}

func (s *RedisCartStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *RedisCartStore) Save(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, data, ttl).Err()
}

func (s *RedisCartStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// ---- revocation ----

type RedisRevocationStore struct {
	rdb *redis.Client
}

func NewRedisRevocationStore(rdb *redis.Client) *RedisRevocationStore {
	return &RedisRevocationStore{rdb: rdb}
}

// until を過ぎたら自然に消える
func (s *RedisRevocationStore) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, revokedPrefix+tokenID, "1", ttl).Err()
}

func (s *RedisRevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, revokedPrefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ---- catalog cache ----

// RedisCatalogCache はキーにバージョンを含め、Invalidate でバージョンを上げる。
// 古いキーは TTL で消える。
type RedisCatalogCache struct {
	rdb *redis.Client
}

func NewRedisCatalogCache(rdb *redis.Client) *RedisCatalogCache {
	return &RedisCatalogCache{rdb: rdb}
}

func (c *RedisCatalogCache) version(ctx context.Context) (int64, error) {
	v, err := c.rdb.Get(ctx, catalogVersion).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func versionedKey(version int64, key string) string {
	return fmt.Sprintf("%sv%d:%s", catalogPrefix, version, key)
}

// バージョンが読めなければ -1（Set は何もしない）
func (c *RedisCatalogCache) Get(ctx context.Context, key string, dest any) (int64, bool) {
	v, err := c.version(ctx)
	if err != nil {
		metrics.CacheMisses.WithLabelValues("redis").Inc()
		return -1, false
	}
	val, err := c.rdb.Get(ctx, versionedKey(v, key)).Bytes()
	if err != nil {
		metrics.CacheMisses.WithLabelValues("redis").Inc()
		return v, false
	}
	if err := json.Unmarshal(val, dest); err != nil {
		metrics.CacheMisses.WithLabelValues("redis").Inc()
		return v, false
	}
	metrics.CacheHits.WithLabelValues("redis").Inc()
	return v, true
}

// Set は読み出し時点のバージョンのキーに書く。古いバージョンなら誰にも読まれず TTL で消える。
func (c *RedisCatalogCache) Set(ctx context.Context, key string, version int64, value any, ttl time.Duration) error {
	if version < 0 {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, versionedKey(version, key), data, ttl).Err()
}

func (c *RedisCatalogCache) Invalidate(ctx context.Context) error {
	return c.rdb.Incr(ctx, catalogVersion).Err()
}
