package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"newsmesh/internal/textutil"
)

// BloomConfig configures the RedisBloom connection and filter key.
type BloomConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
	// Capacity and ErrorRate seed BF.RESERVE when the key does not exist.
	Capacity  int
	ErrorRate float64
}

// Bloom is a RedisBloom-backed probabilistic filter over normalized URL+title
// hashes, used as an exact-duplicate fast path before vector search.
type Bloom struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	log    zerolog.Logger
}

// NewBloom connects to Redis, verifies connectivity, and reserves the filter
// if it does not exist yet. BF.RESERVE failure is non-fatal: BF.ADD can
// auto-create the filter depending on RedisBloom settings.
func NewBloom(cfg BloomConfig, logger zerolog.Logger) (*Bloom, error) {
	if cfg.Capacity == 0 {
		cfg.Capacity = 100000
	}
	if cfg.ErrorRate == 0 {
		cfg.ErrorRate = 0.001
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}

	b := &Bloom{
		client: client,
		key:    cfg.Key,
		ttl:    cfg.TTL,
		log:    logger.With().Str("component", "bloom").Logger(),
	}

	exists, err := client.Exists(ctx, cfg.Key).Result()
	if err == nil && exists == 0 {
		if err := client.Do(ctx, "BF.RESERVE", cfg.Key, fmt.Sprintf("%f", cfg.ErrorRate), cfg.Capacity).Err(); err != nil {
			b.log.Warn().Err(err).Msg("BF.RESERVE failed, relying on BF.ADD auto-create")
		}
	}
	return b, nil
}

// Exists checks whether the hash was probably seen within the TTL window.
func (b *Bloom) Exists(ctx context.Context, hash string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := b.client.Do(ctx, "BF.EXISTS", b.key, hash).Result()
	if err != nil {
		return false, err
	}

	switch v := res.(type) {
	case int64:
		return v == 1, nil
	case string:
		return v == "1", nil
	default:
		return false, fmt.Errorf("unexpected BF.EXISTS response type %T", res)
	}
}

// Add inserts the hash and refreshes the key TTL, giving the filter sliding
// window behavior.
func (b *Bloom) Add(ctx context.Context, hash string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := b.client.Do(ctx, "BF.ADD", b.key, hash).Err(); err != nil {
		return err
	}
	return b.client.Expire(ctx, b.key, b.ttl).Err()
}

// Close closes the underlying Redis client.
func (b *Bloom) Close() error {
	return b.client.Close()
}

// IdentityHash computes the dedup fast-path hash:
// sha256(normalizedURL + "|" + normalizedTitle).
func IdentityHash(url, title string) string {
	combined := textutil.NormalizeURL(url) + "|" + textutil.NormalizeTitle(title)
	sum := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(sum[:])
}
