// Command cache-warm preloads the product cache from a gzip-compressed
// NDJSON export of the search index, one product document per line. Warming
// the cache before rollout keeps the first wave of traffic off the search
// cluster.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-catalog/internal/domain/product"
	"github.com/xenking/storefront-catalog/internal/storage/cache"
)

const (
	progressEvery = 10_000
	maxLineBytes  = 4 << 20
)

func main() {
	var (
		feedPath  string
		redisAddr string
		ttl       time.Duration
		workers   int
	)

	flag.StringVar(&feedPath, "feed", "", "path to gzip-compressed NDJSON product feed")
	flag.StringVar(&redisAddr, "redis-addr", "127.0.0.1:6379", "Redis address (or REDIS_URL env)")
	flag.DurationVar(&ttl, "ttl", 24*time.Hour, "cached product TTL")
	flag.IntVar(&workers, "workers", runtime.GOMAXPROCS(0), "concurrent cache writers")
	flag.Parse()

	if v := os.Getenv("REDIS_URL"); v != "" && redisAddr == "127.0.0.1:6379" {
		redisAddr = v
	}
	if feedPath == "" {
		slog.Error("feed path is required: set --feed")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, feedPath, redisAddr, ttl, workers); err != nil {
		slog.Error("cache warm failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("cache warm completed successfully")
}

func run(ctx context.Context, feedPath, redisAddr string, ttl time.Duration, workers int) error {
	store := cache.New(cache.Options{Addr: redisAddr, TTL: ttl}, zap.NewNop())
	defer func() { _ = store.Close() }()

	if err := store.Ping(ctx); err != nil {
		return errors.Wrap(err, "ping redis")
	}

	f, err := os.Open(feedPath)
	if err != nil {
		return errors.Wrapf(err, "open %s", feedPath)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", feedPath)
	}
	defer func() { _ = gz.Close() }()

	var written, skipped atomic.Uint64
	lines := make(chan []byte, workers*4)

	g, ctx := errgroup.WithContext(ctx)
	for range workers {
		g.Go(warmWorker(ctx, store, lines, &written, &skipped))
	}

	g.Go(func() error {
		defer close(lines)

		scanner := bufio.NewScanner(gz)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return errors.Wrapf(scanner.Err(), "scan %s", feedPath)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("feed processed",
		slog.Uint64("written", written.Load()),
		slog.Uint64("skipped", skipped.Load()),
	)
	return nil
}

func warmWorker(
	ctx context.Context,
	store *cache.Redis,
	lines <-chan []byte,
	written, skipped *atomic.Uint64,
) func() error {
	return func() error {
		for line := range lines {
			p, err := product.FromBytes(line)
			if err != nil || p.SKU == "" {
				// Malformed feed lines are counted but never fatal.
				skipped.Add(1)
				continue
			}

			if err := store.Set(ctx, product.CacheKey("sku", p.SKU), p); err != nil {
				return errors.Wrapf(err, "cache product %s", p.SKU)
			}

			if n := written.Add(1); n%progressEvery == 0 {
				slog.Info("warm progress", slog.Uint64("written", n))
			}
		}
		return nil
	}
}
