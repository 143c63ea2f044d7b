package insurance

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T, ttl time.Duration) (*VerificationCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewVerificationCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), ttl), mr
}

func TestCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	v := &Verification{
		ID: "ver-1", PracticeID: "prac-1", PolicyID: "pol-1", PatientID: "pat-1",
		Status: VerificationActive, CopayCents: 2500,
		CheckedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		ExpiresAt: time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC),
		Source:    SourcePayer,
	}
	if err := cache.Set(ctx, v); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := cache.Get(ctx, "pol-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected cache hit")
	}
	if got.ID != "ver-1" || got.CopayCents != 2500 {
		t.Fatalf("unexpected cached verification: %+v", got)
	}
}

func TestCacheMiss(t *testing.T) {
	cache, _ := newTestCache(t, time.Hour)

	got, err := cache.Get(context.Background(), "pol-unknown")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected miss, got %+v", got)
	}
}

func TestCacheAppliesTTL(t *testing.T) {
	cache, mr := newTestCache(t, time.Hour)

	v := &Verification{ID: "ver-1", PolicyID: "pol-1", Status: VerificationActive}
	if err := cache.Set(context.Background(), v); err != nil {
		t.Fatalf("set: %v", err)
	}

	if ttl := mr.TTL("insurance:verify:pol-1"); ttl != time.Hour {
		t.Fatalf("ttl = %v, want 1h", ttl)
	}

	// Past the TTL the entry is gone.
	mr.FastForward(2 * time.Hour)
	got, err := cache.Get(context.Background(), "pol-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatal("expected entry to expire")
	}
}

func TestCacheInvalidate(t *testing.T) {
	cache, mr := newTestCache(t, time.Hour)

	v := &Verification{ID: "ver-1", PolicyID: "pol-1", Status: VerificationActive}
	if err := cache.Set(context.Background(), v); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := cache.Invalidate(context.Background(), "pol-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if mr.Exists("insurance:verify:pol-1") {
		t.Fatal("expected key removed")
	}
}

func TestCacheNilSafe(t *testing.T) {
	var cache *VerificationCache

	if _, err := cache.Get(context.Background(), "pol-1"); err != nil {
		t.Fatalf("nil cache get: %v", err)
	}
	if err := cache.Set(context.Background(), &Verification{PolicyID: "pol-1"}); err != nil {
		t.Fatalf("nil cache set: %v", err)
	}
	if err := cache.Invalidate(context.Background(), "pol-1"); err != nil {
		t.Fatalf("nil cache invalidate: %v", err)
	}
}
