package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Config 用于初始化 Redis
type Config struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// NewClient 建立连接并 Ping 一次，失败时关闭客户端
func NewClient(ctx context.Context, c Config) (*redis.Client, error) {
	if c.Addr == "" {
		return nil, errors.New("redis addr is empty")
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 3 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        c.Addr,
		Password:    c.Password,
		DB:          c.DB,
		PoolSize:    c.PoolSize,
		DialTimeout: c.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, c.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis %s", c.Addr)
	}
	return rdb, nil
}
