package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/vagrid/internal/config"
)

// MemoryParams is a process-local ParamStore.
type MemoryParams struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryParams creates an empty in-memory store.
func NewMemoryParams() *MemoryParams {
	return &MemoryParams{data: make(map[string]string)}
}

func (m *MemoryParams) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryParams) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryParams) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// RedisParams stores parameters in redis under a key prefix. Every write also
// lands in an in-memory cache, which serves reads while redis is unreachable.
// Writes made while redis is down are replayed once a ping succeeds again;
// pings are retried at most once per ReconnectInterval.
type RedisParams struct {
	client    redis.Cmdable
	prefix    string
	logger    logrus.FieldLogger
	cache     *MemoryParams
	available atomic.Bool

	mu       sync.Mutex
	pending  map[string]struct{} // keys changed while redis was down
	lastPing time.Time
	now      func() time.Time
}

// ReconnectInterval is the minimum gap between pings while redis is down.
const ReconnectInterval = 30 * time.Second

// NewRedisParams connects to redis. An unreachable server is logged and the
// store starts in cache-only mode until a ping succeeds.
func NewRedisParams(cfg config.RedisConfig, logger logrus.FieldLogger) *RedisParams {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 2 * time.Second,
		MaxRetries:  1,
	})
	return NewRedisParamsWithClient(client, cfg.KeyPrefix, logger)
}

// NewRedisParamsWithClient wraps an existing client.
func NewRedisParamsWithClient(client redis.Cmdable, prefix string, logger logrus.FieldLogger) *RedisParams {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &RedisParams{
		client:  client,
		prefix:  prefix,
		logger:  logger.WithField("component", "redis-params"),
		cache:   NewMemoryParams(),
		pending: make(map[string]struct{}),
		now:     time.Now,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Ping(ctx); err != nil {
		r.logger.WithError(err).Warn("redis unavailable at startup, using in-memory cache")
	}
	return r
}

// Ping checks the connection and updates availability. A successful ping
// first replays the writes made while redis was down.
func (r *RedisParams) Ping(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pingLocked(ctx)
}

func (r *RedisParams) pingLocked(ctx context.Context) error {
	r.lastPing = r.now()
	if r.client == nil {
		r.available.Store(false)
		return errors.New("no redis client")
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		r.available.Store(false)
		return err
	}
	if err := r.replayLocked(ctx); err != nil {
		r.available.Store(false)
		return fmt.Errorf("replay cached writes: %w", err)
	}
	if !r.available.Swap(true) {
		r.logger.Info("redis connected")
	}
	return nil
}

func (r *RedisParams) replayLocked(ctx context.Context) error {
	if len(r.pending) == 0 {
		return nil
	}
	keys := make([]string, 0, len(r.pending))
	for k := range r.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := r.cache.Get(ctx, k)
		switch {
		case err == nil:
			err = r.client.Set(ctx, r.key(k), v, 0).Err()
		case errors.Is(err, ErrNotFound):
			err = r.client.Del(ctx, r.key(k)).Err()
		}
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		delete(r.pending, k)
	}
	r.logger.WithField("keys", len(keys)).Info("cached parameters written back to redis")
	return nil
}

// online reports whether redis can be used, pinging it again if it has been
// down for at least ReconnectInterval.
func (r *RedisParams) online(ctx context.Context) bool {
	if r.available.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.available.Load() {
		return true
	}
	if r.client == nil || r.now().Sub(r.lastPing) < ReconnectInterval {
		return false
	}
	if err := r.pingLocked(ctx); err != nil {
		r.logger.WithError(err).Debug("redis still unavailable")
		return false
	}
	return true
}

// markDown switches to cache-only mode and remembers key for replay.
func (r *RedisParams) markDown(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key != "" {
		r.pending[key] = struct{}{}
	}
	if r.available.Swap(false) {
		r.lastPing = r.now()
	}
}

// Available reports whether the last redis call succeeded.
func (r *RedisParams) Available() bool { return r.available.Load() }

func (r *RedisParams) key(k string) string {
	if r.prefix == "" || strings.HasPrefix(k, r.prefix) {
		return k
	}
	return r.prefix + k
}

func (r *RedisParams) Get(ctx context.Context, key string) (string, error) {
	if r.online(ctx) {
		v, err := r.client.Get(ctx, r.key(key)).Result()
		switch {
		case err == nil:
			_ = r.cache.Set(ctx, key, v)
			return v, nil
		case errors.Is(err, redis.Nil):
			return "", ErrNotFound
		default:
			r.logger.WithError(err).Warn("redis read failed, using in-memory cache")
			r.markDown("")
		}
	}
	return r.cache.Get(ctx, key)
}

func (r *RedisParams) Set(ctx context.Context, key, value string) error {
	_ = r.cache.Set(ctx, key, value)
	if !r.online(ctx) {
		r.markDown(key)
		return nil
	}
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		r.markDown(key)
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisParams) Delete(ctx context.Context, key string) error {
	_ = r.cache.Delete(ctx, key)
	if !r.online(ctx) {
		r.markDown(key)
		return nil
	}
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		r.markDown(key)
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Close releases the redis connection pool.
func (r *RedisParams) Close() error {
	if c, ok := r.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
