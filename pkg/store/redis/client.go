// Package redis connects to the redis deployment that carries the book event mirror.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bookflow/bookflow/pkg/config"
)

var ErrNotConfigured = errors.New("redis is not configured")

const dialTimeout = 5 * time.Second

type Client struct {
	rdb redis.UniversalClient
}

// NewClient connects and pings once. A single address in cluster mode still
// gets a cluster client; it discovers the other shards itself.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	opts := &redis.UniversalOptions{
		Addrs:       cfg.Addresses,
		Password:    cfg.Password,
		PoolSize:    cfg.PoolSize,
		DialTimeout: dialTimeout,
	}
	var rdb redis.UniversalClient
	if cfg.ClusterMode {
		rdb = redis.NewClusterClient(opts.Cluster())
	} else {
		opts.Addrs = cfg.Addresses[:1]
		opts.DB = cfg.DB
		rdb = redis.NewClient(opts.Simple())
	}

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %v: %w", cfg.Addresses, err)
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) Client() redis.UniversalClient {
	return c.rdb
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
