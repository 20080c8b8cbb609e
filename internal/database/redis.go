package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-groupexam/internal/config"
)

// Answer saves sit on the request path, so Redis calls fail fast and the
// controller reports the store as unavailable instead of hanging the client.
const (
	redisDialTimeout  = 3 * time.Second
	redisIOTimeout    = 2 * time.Second
	redisPoolSize     = 8
	redisMinIdleConns = 1
)

// NewRedisClient connects the client backing the state store and the monitor
// feed and checks it with a ping.
func NewRedisClient(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*redis.Client, error) {
	opt, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info().
		Str("addr", opt.Addr).
		Int("db", opt.DB).
		Int("pool_size", opt.PoolSize).
		Dur("state_ttl", cfg.StateTTL).
		Msg("Redis connected")

	return rdb, nil
}

func redisOptions(cfg *config.Config) (*redis.Options, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opt.DialTimeout = redisDialTimeout
	opt.ReadTimeout = redisIOTimeout
	opt.WriteTimeout = redisIOTimeout
	opt.PoolSize = redisPoolSize
	opt.MinIdleConns = redisMinIdleConns
	return opt, nil
}
