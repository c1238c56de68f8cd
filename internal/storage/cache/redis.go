// Package cache persists products in Redis for offline-capable, cache-first
// single-product lookups.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/storefront-catalog/internal/domain/product"
)

// Options configures the Redis connection and cache behavior.
type Options struct {
	Addr     string
	Username string
	Password string
	DB       int

	// TTL of cached products; zero means no expiry.
	TTL time.Duration

	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

const (
	filterCapacity = 1_000_000
	filterFPR      = 0.001
)

// Redis is a product cache store keyed by the normalized "<field>/<value>"
// identity key. A bloom filter over known keys short-circuits definite misses
// without a network round trip; it turns on once Prime has walked the existing
// key space.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	lg     *zap.Logger

	mu     sync.RWMutex
	filter *bloom.BloomFilter
	primed bool
}

// New creates a Redis-backed cache store.
func New(opts Options, lg *zap.Logger) *Redis {
	if lg == nil {
		lg = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})
	return &Redis{
		client: client,
		ttl:    opts.TTL,
		lg:     lg,
		filter: bloom.NewWithEstimates(filterCapacity, filterFPR),
	}
}

// Ping verifies the Redis connection; used by the readiness probe.
func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *Redis) Close() error {
	return s.client.Close()
}

// Prime walks the existing key space into the bloom filter and enables the
// negative-lookup shortcut. Safe to skip: without priming every Get goes to
// Redis.
func (s *Redis) Prime(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, "", 1000).Iterator()

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for iter.Next(ctx) {
		s.filter.AddString(iter.Val())
		n++
	}
	if err := iter.Err(); err != nil {
		return errors.Wrap(err, "scan cache keys")
	}
	s.primed = true
	s.lg.Info("cache key filter primed", zap.Int("keys", n))
	return nil
}

// Get returns the cached product for the key, or (nil, nil) on a miss.
func (s *Redis) Get(ctx context.Context, key string) (*product.Product, error) {
	s.mu.RLock()
	skip := s.primed && !s.filter.TestString(key)
	s.mu.RUnlock()
	if skip {
		return nil, nil
	}

	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cache get %q", key)
	}

	p, err := product.FromBytes(val)
	if err != nil {
		// A corrupt entry behaves like a miss; the retrieval path repairs it.
		s.lg.Warn("dropping corrupt cache entry", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	return p, nil
}

// Set stores the product under the key. Callers treat failures as best
// effort.
func (s *Redis) Set(ctx context.Context, key string, p *product.Product) error {
	if err := s.client.Set(ctx, key, p.ToBytes(), s.ttl).Err(); err != nil {
		return errors.Wrapf(err, "cache set %q", key)
	}
	s.mu.Lock()
	s.filter.AddString(key)
	s.mu.Unlock()
	return nil
}
