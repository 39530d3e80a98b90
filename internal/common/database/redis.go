package database

import (
	"time"

	"payment-orchestrator/internal/common/config"

	"github.com/redis/go-redis/v9"
)

// NewRedis creates a Redis client for the local-state store.
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})
	return rdb, nil
}
