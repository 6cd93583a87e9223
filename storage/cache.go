package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache hält Lookup-Ergebnisse. Invalidate verwirft alle Einträge auf einmal.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Invalidate(ctx context.Context) error
}

// NopCache cached nichts.
type NopCache struct{}

func (NopCache) Get(context.Context, string, any) (bool, error) { return false, nil }
func (NopCache) Set(context.Context, string, any) error         { return nil }
func (NopCache) Invalidate(context.Context) error               { return nil }

// RedisCache legt Einträge unter einem Generationszähler ab. Invalidate erhöht die
// Generation, alte Schlüssel laufen über die TTL aus.
type RedisCache struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

// NewRedisCache erstellt einen Redis-Cache und prüft die Verbindung.
func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCache{client: client, namespace: "ixcheck", ttl: ttl}, nil
}

func (c *RedisCache) genKey() string {
	return c.namespace + ":gen"
}

func (c *RedisCache) key(ctx context.Context, key string) (string, error) {
	gen, err := c.client.Get(ctx, c.genKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	return fmt.Sprintf("%s:%d:%s", c.namespace, gen, key), nil
}

// Get liest einen Eintrag; false, wenn er fehlt.
func (c *RedisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	k, err := c.key(ctx, key)
	if err != nil {
		return false, err
	}
	raw, err := c.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set schreibt einen Eintrag mit der konfigurierten TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value any) error {
	k, err := c.key(ctx, key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, k, raw, c.ttl).Err()
}

// Invalidate startet eine neue Generation.
func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, c.genKey()).Err()
}

// Close schließt die Verbindung.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
