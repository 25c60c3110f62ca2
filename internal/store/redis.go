package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions sizes the client shared by the event queue and the rate limiter.
type RedisOptions struct {
	Addr     string
	PoolSize int
	// Timeout bounds dials and single reads/writes. Blocking pops extend
	// their own read deadline past it.
	Timeout time.Duration
}

const (
	defaultRedisPoolSize = 20
	defaultRedisTimeout  = 500 * time.Millisecond
)

func (o RedisOptions) client() *redis.Options {
	pool := o.PoolSize
	if pool <= 0 {
		pool = defaultRedisPoolSize
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}
	return &redis.Options{
		Addr:         o.Addr,
		PoolSize:     pool,
		MinIdleConns: pool / 4,
		PoolTimeout:  2 * timeout,
		DialTimeout:  2 * timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
}

// Redis holds the shared client.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds the client. The pool dials lazily, so a missing server
// surfaces on first use and through Healthy.
func NewRedis(o RedisOptions) *Redis {
	return &Redis{Client: redis.NewClient(o.client())}
}

// Healthy pings the server.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
