//go:build integration

package containers

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/go-redis/redis/v8"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

var (
	redisOnce sync.Once
	redisURL  string
	redisErr  error
)

// RedisClient returns a client on a shared redis container, flushed before
// the test runs.
func RedisClient(t *testing.T) *redis.Client {
	t.Helper()
	skipWithoutDocker(t)

	redisOnce.Do(func() {
		ctx := context.Background()
		container, err := tcredis.Run(ctx, "redis:7-alpine")
		if err != nil {
			redisErr = err
			return
		}
		redisURL, redisErr = container.ConnectionString(ctx)
	})
	if redisErr != nil {
		t.Fatalf("start redis container: %v", redisErr)
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Fatalf("ping redis: %v", err)
	}
	if err := client.FlushAll(ctx).Err(); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func skipWithoutDocker(t *testing.T) {
	t.Helper()
	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		t.Skip("SKIP_DOCKER_TESTS is set")
	}
}
