package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestRateLimitRepo(t *testing.T) *RateLimitRepository {
	t.Helper()

	server := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRateLimitRepository(client, SlidingWindowConfig{
		KeyPrefix: "identity:rate_limit",
		TTL:       time.Minute,
	})
}

func TestRateLimitRecordAndCount(t *testing.T) {
	repo := newTestRateLimitRepo(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		if err := repo.RecordAttempt(ctx, "login:1.2.3.4", now.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("RecordAttempt: %v", err)
		}
	}

	count, err := repo.CountAttempts(ctx, "login:1.2.3.4", time.Minute, now.Add(5*time.Second))
	if err != nil {
		t.Fatalf("CountAttempts: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 attempts, got %d", count)
	}

	// A different identifier keeps its own window.
	count, err = repo.CountAttempts(ctx, "login:5.6.7.8", time.Minute, now)
	if err != nil {
		t.Fatalf("CountAttempts: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty window, got %d", count)
	}
}

func TestRateLimitTrimWindow(t *testing.T) {
	repo := newTestRateLimitRepo(t)
	ctx := context.Background()
	now := time.Now()

	if err := repo.RecordAttempt(ctx, "reset:acct-1", now.Add(-2*time.Minute)); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if err := repo.RecordAttempt(ctx, "reset:acct-1", now); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}

	if err := repo.TrimWindow(ctx, "reset:acct-1", time.Minute, now); err != nil {
		t.Fatalf("TrimWindow: %v", err)
	}

	count, err := repo.CountAttempts(ctx, "reset:acct-1", time.Hour, now)
	if err != nil {
		t.Fatalf("CountAttempts: %v", err)
	}
	if count != 1 {
		t.Errorf("expected stale attempt trimmed, got %d", count)
	}
}

func TestRateLimitOldestAttempt(t *testing.T) {
	repo := newTestRateLimitRepo(t)
	ctx := context.Background()
	now := time.Now()

	_, found, err := repo.OldestAttempt(ctx, "login:empty", time.Minute, now)
	if err != nil {
		t.Fatalf("OldestAttempt: %v", err)
	}
	if found {
		t.Error("expected no attempt in empty window")
	}

	first := now.Add(-30 * time.Second)
	if err := repo.RecordAttempt(ctx, "login:acct-1", first); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if err := repo.RecordAttempt(ctx, "login:acct-1", now); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}

	oldest, found, err := repo.OldestAttempt(ctx, "login:acct-1", time.Minute, now)
	if err != nil {
		t.Fatalf("OldestAttempt: %v", err)
	}
	if !found {
		t.Fatal("expected an attempt inside the window")
	}
	if !oldest.Equal(time.Unix(0, first.UnixNano())) {
		t.Errorf("unexpected oldest attempt: %v", oldest)
	}
}
