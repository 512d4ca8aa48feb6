package config

import (
	"context"
	"crypto/tls"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient instantiates the client for the seat-lock store and the
// rate limiter buckets.  Address resolution, in order of precedence:
// REDIS_HOST + REDIS_PORT, then REDIS_ADDR, then the local default.
// REDIS_PASSWORD, REDIS_DB and REDIS_TLS tune the connection.  The client
// is pinged with a short timeout; nil is returned when Redis cannot be
// reached so the caller decides whether that is fatal.
func NewRedisClient() *redis.Client {
	addr := envStr("REDIS_ADDR", "localhost:6379")
	if host := os.Getenv("REDIS_HOST"); host != "" {
		addr = host + ":" + envStr("REDIS_PORT", "6379")
	}

	opts := &redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       envInt("REDIS_DB", 0),
	}
	if envBool("REDIS_TLS", false) {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil
	}
	return client
}
