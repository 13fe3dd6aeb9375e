package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/harborgrid-justin/black-cross-sub000/internal/config"
	"github.com/harborgrid-justin/black-cross-sub000/internal/domain/models"
	"github.com/harborgrid-justin/black-cross-sub000/pkg/logger"
)

// Cache key prefixes
const (
	KeyFingerprintPrefix = "fingerprint:"
	KeyJobPrefix         = "job:"
	KeyLockPrefix        = "lock:"
)

// RedisCache backs the fingerprint index, the shared job mirror and the
// rescore lock
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	owner     string
	logger    *logger.Logger
}

// NewRedis creates a new Redis client
func NewRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*RedisCache, error) {
	log = log.WithComponent("redis")
	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("connecting to Redis")

	opts := &redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	log.Info().Msg("connected to Redis successfully")

	return NewRedisWithClient(client, cfg.KeyPrefix, log), nil
}

// NewRedisWithClient wraps an existing client
func NewRedisWithClient(client *redis.Client, keyPrefix string, log *logger.Logger) *RedisCache {
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
		owner:     uuid.NewString(),
		logger:    log,
	}
}

// Ping checks the Redis connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	c.logger.Info().Msg("closing Redis connection")
	return c.client.Close()
}

// key prepends the namespace prefix to a key
func (c *RedisCache) key(k string) string {
	return c.keyPrefix + k
}

// Register adds recordID to the set of records carrying fingerprint
func (c *RedisCache) Register(ctx context.Context, fingerprint, recordID string) error {
	err := c.client.SAdd(ctx, c.key(KeyFingerprintPrefix+fingerprint), recordID).Err()
	return models.NewTransient("register fingerprint", err)
}

// Lookup returns the sorted ids of records carrying fingerprint
func (c *RedisCache) Lookup(ctx context.Context, fingerprint string) ([]string, error) {
	ids, err := c.client.SMembers(ctx, c.key(KeyFingerprintPrefix+fingerprint)).Result()
	if err != nil {
		return nil, models.NewTransient("lookup fingerprint", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveJob mirrors a job snapshot so other instances can answer status queries
func (c *RedisCache) SaveJob(ctx context.Context, job *models.Job, ttl time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return c.client.Set(ctx, c.key(KeyJobPrefix+job.ID.String()), data, ttl).Err()
}

// LoadJob returns models.ErrNotFound when no instance mirrored the job
func (c *RedisCache) LoadJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	data, err := c.client.Get(ctx, c.key(KeyJobPrefix+id.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, models.NewTransient("load job", err)
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// AcquireLock attempts to acquire a distributed lock
func (c *RedisCache) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, c.key(KeyLockPrefix+lockKey), c.owner, ttl).Result()
}

// releaseScript deletes the lock only if this instance still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// ReleaseLock releases a lock held by this instance
func (c *RedisCache) ReleaseLock(ctx context.Context, lockKey string) error {
	return releaseScript.Run(ctx, c.client, []string{c.key(KeyLockPrefix + lockKey)}, c.owner).Err()
}
