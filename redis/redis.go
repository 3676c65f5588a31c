package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const connectTimeout = 2 * time.Second

type RedisConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Password  string `json:"password"`
	Namespace string `json:"namespace"`
}

type RedisSentinelConfig struct {
	SentinelHost     string `json:"sentinel_host"`
	SentinelPort     int    `json:"sentinel_port"`
	Password         string `json:"password"`
	MasterName       string `json:"master_name"`
	SentinelUsername string `json:"sentinel_username"`
	Namespace        string `json:"namespace"`
}

// NewRedisClient connects to a single Redis instance and pings it.
func NewRedisClient(config *RedisConfig) (*redis.Client, error) {
	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	slog.Info("Connecting to Redis", "address", addr)

	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    config.Password,
		DialTimeout: connectTimeout,
	})
	if err := ping(client); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisSentinelClient connects to the master named in config through a
// Sentinel.
func NewRedisSentinelClient(config *RedisSentinelConfig) (*redis.Client, error) {
	if config.MasterName == "" {
		return nil, fmt.Errorf("redis sentinel master name is required")
	}
	addr := fmt.Sprintf("%s:%d", config.SentinelHost, config.SentinelPort)
	slog.Info("Connecting to Redis through Sentinel", "address", addr, "master", config.MasterName)

	client := redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:       config.MasterName,
		SentinelAddrs:    []string{addr},
		SentinelUsername: config.SentinelUsername,
		SentinelPassword: config.Password,
		Password:         config.Password,
		DialTimeout:      connectTimeout,
	})
	if err := ping(client); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis through Sentinel: %w", err)
	}
	return client, nil
}

func ping(client *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return err
	}
	return nil
}
