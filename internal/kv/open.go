package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// ErrUnknownBackend is returned by Open for an unrecognized backend name.
var ErrUnknownBackend = errors.New("kv: unknown backend")

// Options selects and configures a backend.
type Options struct {
	Backend     string
	RedisURL    string // redis backend, or read-through cache for postgres/sqlite
	RedisPrefix string
	DatabaseURL string // postgres
	SQLitePath  string // sqlite
	CacheTTL    time.Duration
}

// Open connects the configured backend. The returned close function releases
// every connection Open made and is safe to call once.
func Open(ctx context.Context, opts Options) (Store, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var rdb *redis.Client
	if opts.RedisURL != "" {
		ropts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(ropts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		closers = append(closers, func() { rdb.Close() })
	}

	var primary Store
	switch opts.Backend {
	case "", BackendMemory:
		primary = NewMemoryStore()
	case BackendRedis:
		if rdb == nil {
			return nil, nil, errors.New("kv: redis backend requires a redis url")
		}
		slog.Info("kv backend", "backend", BackendRedis)
		return NewRedisStore(rdb, opts.RedisPrefix), closeAll, nil
	case BackendPostgres:
		pool, err := pgxpool.New(ctx, opts.DatabaseURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		pg := NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			closeAll()
			return nil, nil, err
		}
		primary = pg
	case BackendSQLite:
		lite, err := OpenSQLite(opts.SQLitePath)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { lite.Close() })
		primary = lite
	default:
		closeAll()
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}

	backend := opts.Backend
	if backend == "" {
		backend = BackendMemory
	}
	if rdb != nil && backend != BackendMemory {
		ttl := opts.CacheTTL
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		slog.Info("kv backend", "backend", backend, "cache", "redis", "ttl", ttl)
		return NewCachedStore(primary, rdb, ttl), closeAll, nil
	}

	slog.Info("kv backend", "backend", backend)
	return primary, closeAll, nil
}
