package router

import (
	"net"
	"strconv"

	"github.com/gofiber/storage/redis"

	"github.com/rockidapp/rockid-server/internal/pkg/cache"
	"github.com/rockidapp/rockid-server/internal/pkg/env"
)

// newLimiterStorage builds a Redis-backed store for the rate limiter so
// counters survive restarts and are shared across instances. Uses database 1,
// the cache itself runs on database 0.
func newLimiterStorage() *redis.Storage {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")

	if cacheClient := cache.GetClient(); cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}
