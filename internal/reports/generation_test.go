package reports

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"lexledger/internal/cache"
	"lexledger/internal/log"
)

func engineOn(t *testing.T, srv *miniredis.Miniredis) (*Engine, *cache.RedisCache) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	rc := cache.NewRedisCacheWithClient(client, "reports", time.Minute)
	return &Engine{
		cache:       rc,
		logger:      log.New(log.DefaultConfig()),
		generations: make(map[int64]uint64),
	}, rc
}

func TestInvalidationOnAnotherInstanceDropsInFlightResult(t *testing.T) {
	srv := miniredis.RunT(t)
	a, store := engineOn(t, srv)
	b, _ := engineOn(t, srv)
	ctx := context.Background()

	// b invalidates while a is still loading the old state.
	stale, err := cached(ctx, a, 7, "monthly", "y=2024", func() (int, error) {
		b.Invalidate(7)
		return 100, nil
	})
	if err != nil || stale != 100 {
		t.Fatalf("cached = %d, %v", stale, err)
	}
	if store.Size() != 0 {
		t.Fatalf("stale result was cached: %d keys", store.Size())
	}

	loads := 0
	load := func() (int, error) {
		loads++
		return 200, nil
	}
	for i := 0; i < 2; i++ {
		got, err := cached(ctx, a, 7, "monthly", "y=2024", load)
		if err != nil || got != 200 {
			t.Fatalf("cached = %d, %v", got, err)
		}
	}
	if loads != 1 {
		t.Errorf("loads = %d, want 1 (second read served from cache)", loads)
	}

	// Invalidation on b is observed by a.
	b.Invalidate(7)
	if _, err := cached(ctx, a, 7, "monthly", "y=2024", load); err != nil {
		t.Fatal(err)
	}
	if loads != 2 {
		t.Errorf("loads = %d after remote invalidation, want 2", loads)
	}
}

func TestUnreadableGenerationSkipsCache(t *testing.T) {
	srv := miniredis.RunT(t)
	a, _ := engineOn(t, srv)
	srv.Close()

	loads := 0
	for i := 0; i < 2; i++ {
		got, err := cached(context.Background(), a, 7, "cases", "5", func() (int, error) {
			loads++
			return 1, nil
		})
		if err != nil || got != 1 {
			t.Fatalf("cached = %d, %v", got, err)
		}
	}
	if loads != 2 {
		t.Errorf("loads = %d, want 2", loads)
	}
}
