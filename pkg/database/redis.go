package database

import (
	"context"
	"safechat-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接
func InitRedis(addr, password string, db int) {
	RDB = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 测试连接
	ctx := context.Background()
	if err := RDB.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", err)
	}

	log.Info("Redis client connected successfully")
}

// CloseRedis 在进程退出时关闭 Redis 连接。
func CloseRedis() {
	if RDB != nil {
		_ = RDB.Close()
	}
}
