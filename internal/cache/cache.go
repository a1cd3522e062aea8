// Package cache implements an optional Redis-backed mirror of
// NetworkDiscovery's in-memory cache. In-process state remains the source
// of truth — this package only ever mirrors, it never backs a read.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/dronefleet/fleetctl/internal/domain"
	"github.com/dronefleet/fleetctl/pkg/logger"
)

// Config carries connection and timeout settings for the Redis client.
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

const keyPrefix = "fleetctl:discovery:"

// Mirror is a Redis-backed implementation of internal/discovery.Mirror. A
// failed write only logs a warning — discovery.NetworkDiscovery never
// depends on this succeeding, it simply loses the optional external
// visibility for that cycle.
type Mirror struct {
	client *redis.Client
	logger *logger.Logger
}

// New dials Redis and verifies reachability with a single Ping.
func New(cfg Config, log *logger.Logger) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("cache: connect to redis: %w", err)
	}

	return &Mirror{client: client, logger: log}, nil
}

// MirrorDetected implements discovery.Mirror: one string key per IP holding
// the drone as JSON, each written with ttl, so an external dashboard can
// watch the discovery cache without querying the process directly.
func (m *Mirror) MirrorDetected(ctx context.Context, drones map[string]domain.DetectedDrone, ttl time.Duration) {
	pipe := m.client.Pipeline()
	for ip, d := range drones {
		payload, err := json.Marshal(d)
		if err != nil {
			m.logger.WithError(err).Warn("cache: failed to marshal detected drone")
			continue
		}
		key := keyPrefix + ip
		pipe.Set(ctx, key, payload, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.WithError(err).Warn("cache: failed to mirror discovery snapshot")
	}
}

// Get reads back one mirrored entry, for diagnostics/testsupport only —
// the live process never reads through this path.
func (m *Mirror) Get(ctx context.Context, ip string) (domain.DetectedDrone, bool) {
	raw, err := m.client.Get(ctx, keyPrefix+ip).Result()
	if err != nil {
		return domain.DetectedDrone{}, false
	}
	var d domain.DetectedDrone
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return domain.DetectedDrone{}, false
	}
	return d, true
}

func (m *Mirror) Close() error {
	return m.client.Close()
}
