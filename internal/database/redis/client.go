// Package redis caches the current job per network, recent genesis
// verification reports, hash rate samples and counters.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("redis: key not found")

// Client wraps Redis operations
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewClient creates a new Redis client
func NewClient(cfg *Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key layout.
func currentJobKey(network string) string { return "job:current:" + network }
func jobKey(jobID string) string { return "job:" + jobID }
func reportKey(network string) string { return "genesis:report:" + network }
func hashrateKey(network string) string { return "hashrate:" + network }
func cacheKey(key string) string { return "cache:" + key }
func counterKey(network, name string) string { return "counter:" + network + ":" + name }

func (c *Client) setJSON(ctx context.Context, key string, v any, expiration time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, data, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, key string, dest any) error {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// Job management

// SetCurrentJob stores the job currently being searched on a network
func (c *Client) SetCurrentJob(ctx context.Context, network string, job any) error {
	return c.setJSON(ctx, currentJobKey(network), job, 0)
}

// GetCurrentJob retrieves the job currently being searched on a network
func (c *Client) GetCurrentJob(ctx context.Context, network string, dest any) error {
	return c.getJSON(ctx, currentJobKey(network), dest)
}

// SetJobTemplate stores a job template with expiration
func (c *Client) SetJobTemplate(ctx context.Context, jobID string, job any, expiration time.Duration) error {
	return c.setJSON(ctx, jobKey(jobID), job, expiration)
}

// GetJobTemplate retrieves a job template
func (c *Client) GetJobTemplate(ctx context.Context, jobID string, dest any) error {
	return c.getJSON(ctx, jobKey(jobID), dest)
}

// Genesis verification

// SetVerificationReport caches the latest verification report of a network
func (c *Client) SetVerificationReport(ctx context.Context, network string, report any, expiration time.Duration) error {
	return c.setJSON(ctx, reportKey(network), report, expiration)
}

// GetVerificationReport retrieves the cached verification report of a network
func (c *Client) GetVerificationReport(ctx context.Context, network string, dest any) error {
	return c.getJSON(ctx, reportKey(network), dest)
}

// Statistics and counters

// IncrementCounter increments a per-network counter with expiration
func (c *Client) IncrementCounter(ctx context.Context, network, name string, expiration time.Duration) (int64, error) {
	key := counterKey(network, name)
	pipe := c.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiration)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	return incrCmd.Val(), nil
}

// GetCounter retrieves a per-network counter value
func (c *Client) GetCounter(ctx context.Context, network, name string) (int64, error) {
	val, err := c.rdb.Get(ctx, counterKey(network, name)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get counter: %w", err)
	}
	return val, nil
}

// SetHashrate appends a hash rate sample for a network and drops samples
// older than window.
func (c *Client) SetHashrate(ctx context.Context, network string, hashrate float64, window time.Duration) error {
	key := hashrateKey(network)
	now := time.Now()

	// Members must be unique, so the sample carries its timestamp.
	member := &redis.Z{
		Score:  float64(now.Unix()),
		Member: fmt.Sprintf("%d:%s", now.UnixNano(), strconv.FormatFloat(hashrate, 'f', -1, 64)),
	}

	pipe := c.rdb.Pipeline()
	pipe.ZAdd(ctx, key, *member)
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(now.Add(-window).Unix(), 10))
	pipe.Expire(ctx, key, window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set hashrate: %w", err)
	}

	return nil
}

// GetAverageHashrate averages the samples recorded for a network within window
func (c *Client) GetAverageHashrate(ctx context.Context, network string, window time.Duration) (float64, error) {
	values, err := c.rdb.ZRangeByScore(ctx, hashrateKey(network), &redis.ZRangeBy{
		Min: strconv.FormatInt(time.Now().Add(-window).Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get hashrate values: %w", err)
	}

	return averageSamples(values), nil
}

// averageSamples parses "<nanos>:<rate>" members, skipping malformed ones.
func averageSamples(values []string) float64 {
	var total float64
	var n int
	for _, val := range values {
		_, rate, ok := cutSample(val)
		if !ok {
			continue
		}
		total += rate
		n++
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

func cutSample(member string) (int64, float64, bool) {
	tsPart, ratePart, ok := strings.Cut(member, ":")
	if !ok {
		return 0, 0, false
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	rate, err := strconv.ParseFloat(ratePart, 64)
	if err != nil {
		return 0, 0, false
	}
	return ts, rate, true
}

// Caching

// SetCache stores data in cache with expiration
func (c *Client) SetCache(ctx context.Context, key string, data any, expiration time.Duration) error {
	return c.setJSON(ctx, cacheKey(key), data, expiration)
}

// GetCache retrieves data from cache
func (c *Client) GetCache(ctx context.Context, key string, dest any) error {
	return c.getJSON(ctx, cacheKey(key), dest)
}

// DeleteCache removes data from cache
func (c *Client) DeleteCache(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, cacheKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache: %w", err)
	}
	return nil
}
