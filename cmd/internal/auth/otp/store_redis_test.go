package otp

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"fintrack/cmd/identity/ids"
)

func TestRedisStore_Conformance(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("FINTRACK_REDIS_ADDR"))
	if addr == "" {
		t.Skip("integration test skipped: FINTRACK_REDIS_ADDR not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("integration test skipped: redis unreachable: %v", err)
	}

	runStoreConformance(t, func(t *testing.T) Store {
		id, err := ids.NewULID(time.Now())
		require.NoError(t, err)
		prefix := "fintrack:test:" + id + ":"
		t.Cleanup(func() {
			keys, _ := rdb.Keys(context.Background(), prefix+"*").Result()
			if len(keys) > 0 {
				_ = rdb.Del(context.Background(), keys...).Err()
			}
		})
		s, err := NewRedisStore(rdb, WithKeyPrefix(prefix))
		require.NoError(t, err)
		return s
	})
}
