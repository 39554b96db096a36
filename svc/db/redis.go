package db

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"net"
	"os"
	"time"

	"bitbin/cfg"
	"bitbin/pkg/domain"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const contentKeyPrefix = "content:"

var rateLimitScript = redis.NewScript(`
	local current = redis.call("GET", KEYS[1])
	if current == false then
		current = 0
	else
		current = tonumber(current)
	end
	if current >= tonumber(ARGV[2]) then
		return current + 1
	end
	local new_val = redis.call("INCR", KEYS[1])
	if new_val == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return new_val
`)

// Redis is the shared second-tier metadata cache and rate-limit counter store.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
}

func NewRedis(url string, c *cfg.Cfg) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond
	if c.RedisTLS {
		tlsConfig, err := buildRedisTLSConfig(opt.Addr)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build Redis TLS config")
		}
		opt.TLSConfig = tlsConfig
	}
	if c.RedisUsername != "" {
		opt.Username = c.RedisUsername
	}
	if c.RedisPassword.Value() != "" {
		opt.Password = c.RedisPassword.Value()
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return NewRedisWithClient(client, c.RedisTimeout), nil
}

func NewRedisWithClient(client *redis.Client, timeout time.Duration) *Redis {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Redis{client: client, timeout: timeout}
}

func buildRedisTLSConfig(addr string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	serverName := os.Getenv("REDIS_HOSTNAME")
	if serverName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, errors.Wrap(err, "redis address")
		}
		serverName = host
	}
	tlsConfig.ServerName = serverName
	if certPath := os.Getenv("REDIS_TLS_CA_CERT"); certPath != "" {
		caCert, err := os.ReadFile(certPath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read Redis CA cert")
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to append Redis CA cert to pool")
		}
		tlsConfig.RootCAs = certPool
	} else {
		systemPool, err := x509.SystemCertPool()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load system cert pool")
		}
		tlsConfig.RootCAs = systemPool
	}
	return tlsConfig, nil
}

// CacheInfo stores c's metadata (never the payload) under content:<key>.
func (r *Redis) CacheInfo(ctx context.Context, c *domain.Content, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := json.Marshal(c.Info())
	if err != nil {
		return errors.Wrap(err, "marshal content info")
	}
	return errors.Wrap(r.client.Set(ctx, contentKeyPrefix+c.Key, data, ttl).Err(), "set content info")
}

// GetInfo returns nil, nil on a cache miss.
func (r *Redis) GetInfo(ctx context.Context, key string) (*domain.Content, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := r.client.Get(ctx, contentKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get content info")
	}
	var c domain.Content
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "unmarshal content info")
	}
	return &c, nil
}
func (r *Redis) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Del(ctx, contentKeyPrefix+key).Err(); err != nil {
		return errors.Wrap(err, "delete content info")
	}
	return nil
}

// RateLimit counts one request against the fixed window for key and
// returns the usage including it. A result above limit means the request
// was rejected and not counted.
func (r *Redis) RateLimit(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	usage, err := rateLimitScript.Run(ctx, r.client, []string{key}, int(window.Milliseconds()), limit).Int()
	if err != nil {
		return 0, errors.Wrap(err, "rate limit lua")
	}
	return usage, nil
}
func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
