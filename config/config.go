// Package config provides configuration management for the gateway and the
// status service.  It supports JSON-based loading with safe defaults tuned
// for a single-gateway deployment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Instance identifies one replica of a backing service (MySQL or the status
// service) that will be registered with the load balancer at startup.
type Instance struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Weight int    `json:"weight"`
}

// Config holds all tunable parameters for the gateway.
// The struct is loaded once at startup and then shared across goroutines as
// a read-only value, making it inherently thread-safe after initialization.
type Config struct {
	// HeartbeatIntervalSec is the interval H between server-generated
	// heartbeat frames.  A session with no inbound activity for 3*H is
	// declared dead.
	HeartbeatIntervalSec int `json:"heartbeat_interval_sec"`

	// SessionExpirySec is the registry sweep threshold: sessions whose last
	// activity is older than this are removed by the periodic sweep.
	SessionExpirySec int `json:"session_expiry_sec"`

	// SweepIntervalSec is how often the registry sweep runs.
	SweepIntervalSec int `json:"sweep_interval_sec"`

	// RateLimitWindowSec and RateLimitMax define the fixed-window rate
	// limiter applied per remote address on the HTTP surface.
	RateLimitWindowSec int `json:"rate_limit_window_sec"`
	RateLimitMax       int `json:"rate_limit_max"`

	// SendQueueLimit bounds the per-session outbound queue.  When the queue
	// is full the oldest frame is dropped and the session is counted as a
	// slow peer.
	SendQueueLimit int `json:"send_queue_limit"`

	// Database holds the MySQL replicas registered under the "mysql"
	// service name, plus the shared credentials.
	Database struct {
		Instances []Instance `json:"instances"`
		User      string     `json:"user"`
		Password  string     `json:"password"`
		Name      string     `json:"name"`
	} `json:"database"`

	// DatabaseTimeout is the connect/read/write timeout for MySQL.
	DatabaseTimeout time.Duration `json:"-"`

	// DatabaseTimeoutSec is the JSON-facing form of DatabaseTimeout.
	DatabaseTimeoutSec int `json:"database_timeout_sec"`

	// Redis is the cache endpoint and connection pool size.
	Redis struct {
		Host     string `json:"host"`
		Port     int    `json:"port"`
		PoolSize int    `json:"pool_size"`
	} `json:"redis"`

	// Status holds the status-service replicas registered under the
	// "status" service name and the stub pool size.
	Status struct {
		Instances []Instance `json:"instances"`
		PoolSize  int        `json:"pool_size"`
	} `json:"status"`

	// HealthCheckIntervalSec is how often the health checker probes every
	// registered instance.
	HealthCheckIntervalSec int `json:"health_check_interval_sec"`

	// SearchLimit bounds the row count returned by user search.
	SearchLimit int `json:"search_limit"`

	// HistoryLimit bounds the row count returned by chat history.
	HistoryLimit int `json:"history_limit"`
}

// Load reads a JSON file at filename and deserialises it into a Config.
// Zero-value fields are backfilled from Default so a partial file is enough
// to override just the interesting knobs.
func Load(filename string) (*Config, error) {
	f, err := os.Open(filename) // #nosec G304 – filename is caller-provided config path
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", filename, err)
	}
	defer f.Close()

	cfg := Default()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields() // catch typos in config files early
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", filename, err)
	}
	cfg.normalize()
	return cfg, nil
}

// Default returns a *Config pre-filled with sensible defaults: one local
// MySQL replica, one local Redis, one local status replica, and the
// heartbeat/rate-limit constants of the protocol.
// Each call returns a fresh independent copy; callers may mutate it freely
// before handing it to other components.
func Default() *Config {
	cfg := &Config{
		HeartbeatIntervalSec:   30,
		SessionExpirySec:       90,
		SweepIntervalSec:       60,
		RateLimitWindowSec:     60,
		RateLimitMax:           10,
		SendQueueLimit:         256,
		DatabaseTimeoutSec:     10,
		HealthCheckIntervalSec: 30,
		SearchLimit:            20,
		HistoryLimit:           50,
	}
	cfg.Database.Instances = []Instance{{Host: "127.0.0.1", Port: 3307, Weight: 1}}
	cfg.Database.User = "im_user"
	cfg.Database.Password = "password"
	cfg.Database.Name = "im_database"
	cfg.Redis.Host = "127.0.0.1"
	cfg.Redis.Port = 6379
	cfg.Redis.PoolSize = 8
	cfg.Status.Instances = []Instance{{Host: "127.0.0.1", Port: 50051, Weight: 1}}
	cfg.Status.PoolSize = 4
	cfg.normalize()
	return cfg
}

// HeartbeatInterval returns the heartbeat interval as a time.Duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSec) * time.Second
}

func (c *Config) normalize() {
	if c.DatabaseTimeoutSec <= 0 {
		c.DatabaseTimeoutSec = 10
	}
	c.DatabaseTimeout = time.Duration(c.DatabaseTimeoutSec) * time.Second
	if c.SendQueueLimit <= 0 {
		c.SendQueueLimit = 256
	}
	if c.HeartbeatIntervalSec <= 0 {
		c.HeartbeatIntervalSec = 30
	}
}
