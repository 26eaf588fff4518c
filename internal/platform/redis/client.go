// Package redis connects the geolocation cache and reports pool health.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"gatekeeper/internal/platform/config"
)

var (
	poolHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_redis_pool_hits_total",
		Help: "Number of times a connection was found in the pool",
	})
	poolMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_redis_pool_misses_total",
		Help: "Number of times a connection was not found in the pool",
	})
	poolTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_redis_pool_timeouts_total",
		Help: "Number of times a connection was not obtained due to timeout",
	})
	poolTotalConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gatekeeper_redis_pool_total_conns",
		Help: "Number of total connections in the pool",
	})
	poolIdleConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gatekeeper_redis_pool_idle_conns",
		Help: "Number of idle connections in the pool",
	})
)

// Client wraps the go-redis client with health checking.
type Client struct {
	*redis.Client
	lastStats *redis.PoolStats
}

// New connects and pings. It returns nil, nil when cfg.URL is empty.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := Options(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{Client: client}, nil
}

// Options parses the URL and applies the pool overrides that are set.
func Options(cfg config.RedisConfig) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

// Health pings the server; it is registered as the "redis" readiness check.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// ReportPoolStats records pool statistics every interval until ctx ends.
func (c *Client) ReportPoolStats(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.recordPoolStats()
		}
	}
}

func (c *Client) recordPoolStats() {
	stats := c.PoolStats()
	poolTotalConns.Set(float64(stats.TotalConns))
	poolIdleConns.Set(float64(stats.IdleConns))

	var last redis.PoolStats
	if c.lastStats != nil {
		last = *c.lastStats
	}
	addDelta(poolHits, stats.Hits, last.Hits)
	addDelta(poolMisses, stats.Misses, last.Misses)
	addDelta(poolTimeouts, stats.Timeouts, last.Timeouts)
	c.lastStats = stats
}

// addDelta adds the growth of a cumulative pool counter.
func addDelta(c prometheus.Counter, now, before uint32) {
	if now > before {
		c.Add(float64(now - before))
	}
}
