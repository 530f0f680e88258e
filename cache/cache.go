// Package cache fronts the Redis key-value store used as the hot mirror of
// presence state and friend lists.  The authoritative copies live in the
// status service's database; the cache serves read-mostly workloads and is
// written through on every status update.
//
// Keys used by the core:
//
//	user:status:{userId}  — hash with fields status, session_token, last_updated
//	user:friends:{userId} — sorted set of friend ids keyed by ordinal
package cache

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/lumichat/gateserver/logger"
)

// Manager wraps a go-redis client.  go-redis maintains its own connection
// pool internally, so unlike the database driver there is no manager-level
// serialisation; the mutex below only guards initialise/close transitions.
type Manager struct {
	mu          sync.Mutex
	client      *redis.Client
	initialized bool
	log         *logger.Logger
}

// NewManager creates an uninitialised Manager.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{log: log}
}

// Initialize connects the pool to host:port.  Idempotent: a second call on
// an initialised manager is a no-op.
func (m *Manager) Initialize(ctx context.Context, host string, port, poolSize int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		m.log.Warn("cache: already initialized")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		PoolSize: poolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("cache: connect %s:%d: %w", host, port, err)
	}

	m.client = client
	m.initialized = true
	m.log.Infof("cache: connected to %s:%d with pool size %d", host, port, poolSize)
	return nil
}

// Close tears down the pool.  Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	m.initialized = false
}

// IsConnected reports whether the pool is up and answering PING.
func (m *Manager) IsConnected(ctx context.Context) bool {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil {
		return false
	}
	return client.Ping(ctx).Err() == nil
}

func (m *Manager) conn() (*redis.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil, fmt.Errorf("cache: not initialized")
	}
	return m.client, nil
}

// ─── String operations ──────────────────────────────────────────────────────

// Set stores value under key.
func (m *Manager) Set(ctx context.Context, key, value string) error {
	c, err := m.conn()
	if err != nil {
		return err
	}
	return c.Set(ctx, key, value, 0).Err()
}

// Get returns the value under key; redis.Nil maps to ok=false.
func (m *Manager) Get(ctx context.Context, key string) (string, bool, error) {
	c, err := m.conn()
	if err != nil {
		return "", false, err
	}
	v, err := c.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Incr increments the integer under key and returns the new value.
func (m *Manager) Incr(ctx context.Context, key string) (int64, error) {
	c, err := m.conn()
	if err != nil {
		return 0, err
	}
	return c.Incr(ctx, key).Result()
}

// Del removes key.
func (m *Manager) Del(ctx context.Context, key string) error {
	c, err := m.conn()
	if err != nil {
		return err
	}
	return c.Del(ctx, key).Err()
}

// ─── Hash operations ────────────────────────────────────────────────────────

// HSet stores field=value in the hash at key.
func (m *Manager) HSet(ctx context.Context, key string, fields map[string]string) error {
	c, err := m.conn()
	if err != nil {
		return err
	}
	args := make([]interface{}, 0, len(fields)*2)
	for f, v := range fields {
		args = append(args, f, v)
	}
	return c.HSet(ctx, key, args...).Err()
}

// HGet returns one field of the hash at key; redis.Nil maps to ok=false.
func (m *Manager) HGet(ctx context.Context, key, field string) (string, bool, error) {
	c, err := m.conn()
	if err != nil {
		return "", false, err
	}
	v, err := c.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// HDel removes fields from the hash at key.
func (m *Manager) HDel(ctx context.Context, key string, fields ...string) error {
	c, err := m.conn()
	if err != nil {
		return err
	}
	return c.HDel(ctx, key, fields...).Err()
}

// HGetAll returns every field of the hash at key.
func (m *Manager) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	c, err := m.conn()
	if err != nil {
		return nil, err
	}
	return c.HGetAll(ctx, key).Result()
}

// ─── Sorted-set operations ──────────────────────────────────────────────────

// ZAdd stores member at score in the sorted set at key.
func (m *Manager) ZAdd(ctx context.Context, key string, score float64, member string) error {
	c, err := m.conn()
	if err != nil {
		return err
	}
	return c.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// ZRange returns members of the sorted set at key in [start, stop].
func (m *Manager) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	c, err := m.conn()
	if err != nil {
		return nil, err
	}
	return c.ZRange(ctx, key, start, stop).Result()
}

// ─── Pub/sub ────────────────────────────────────────────────────────────────

// Publish sends payload on channel.
func (m *Manager) Publish(ctx context.Context, channel, payload string) error {
	c, err := m.conn()
	if err != nil {
		return err
	}
	return c.Publish(ctx, channel, payload).Err()
}

// Subscribe returns a subscription on the given channels.  The caller owns
// the returned PubSub and must Close it.
func (m *Manager) Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	c, err := m.conn()
	if err != nil {
		return nil, err
	}
	return c.Subscribe(ctx, channels...), nil
}
