package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestInMemoryStore_CheckAndAdd(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	window := 1 * time.Minute

	tests := []struct {
		name        string
		setup       func(s *InMemoryStore)
		key         string
		limit       int
		wantAllowed bool
		wantCount   int
	}{
		{
			name:        "first request from a new key is allowed",
			setup:       func(s *InMemoryStore) {},
			key:         "10.0.0.1",
			limit:       5,
			wantAllowed: true,
			wantCount:   1,
		},
		{
			name: "request below the limit is allowed",
			setup: func(s *InMemoryStore) {
				for i := 0; i < 3; i++ {
					s.CheckAndAdd(ctx, "10.0.0.1", now.Add(time.Duration(i)*time.Second), now.Add(-window), 5)
				}
			},
			key:         "10.0.0.1",
			limit:       5,
			wantAllowed: true,
			wantCount:   4,
		},
		{
			name: "request at the limit is denied",
			setup: func(s *InMemoryStore) {
				for i := 0; i < 5; i++ {
					s.CheckAndAdd(ctx, "10.0.0.1", now.Add(time.Duration(i)*time.Second), now.Add(-window), 5)
				}
			},
			key:         "10.0.0.1",
			limit:       5,
			wantAllowed: false,
			wantCount:   5,
		},
		{
			name: "other keys are not affected by a saturated key",
			setup: func(s *InMemoryStore) {
				for i := 0; i < 5; i++ {
					s.CheckAndAdd(ctx, "10.0.0.1", now.Add(time.Duration(i)*time.Second), now.Add(-window), 5)
				}
			},
			key:         "10.0.0.2",
			limit:       5,
			wantAllowed: true,
			wantCount:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewInMemoryStore(InMemoryStoreConfig{MaxKeys: 100})
			tt.setup(store)

			allowed, count, err := store.CheckAndAdd(ctx, tt.key, now.Add(10*time.Second), now.Add(10*time.Second).Add(-window), tt.limit)
			if err != nil {
				t.Fatalf("CheckAndAdd() error = %v", err)
			}
			if allowed != tt.wantAllowed {
				t.Errorf("CheckAndAdd() allowed = %v, want %v", allowed, tt.wantAllowed)
			}
			if count != tt.wantCount {
				t.Errorf("CheckAndAdd() count = %d, want %d", count, tt.wantCount)
			}
		})
	}
}

func TestInMemoryStore_DeniedRequestConsumesNoSlot(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(InMemoryStoreConfig{MaxKeys: 100})
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	window := 1 * time.Minute
	limit := 2

	for i := 0; i < limit; i++ {
		now := base.Add(time.Duration(i) * time.Second)
		allowed, _, err := store.CheckAndAdd(ctx, "key", now, now.Add(-window), limit)
		if err != nil || !allowed {
			t.Fatalf("request %d: allowed=%v err=%v, want admitted", i, allowed, err)
		}
	}

	// Hammer the saturated key. None of these may be recorded.
	for i := 0; i < 10; i++ {
		now := base.Add(10 * time.Second)
		allowed, count, err := store.CheckAndAdd(ctx, "key", now, now.Add(-window), limit)
		if err != nil {
			t.Fatalf("CheckAndAdd() error = %v", err)
		}
		if allowed {
			t.Fatalf("denied request %d was admitted", i)
		}
		if count != limit {
			t.Fatalf("count = %d after denied request, want %d (denied requests must not consume slots)", count, limit)
		}
	}

	// Once the first admitted timestamp ages out, one slot frees up exactly
	// when it would have if the denied burst never happened.
	now := base.Add(window + time.Second)
	allowed, _, err := store.CheckAndAdd(ctx, "key", now, now.Add(-window), limit)
	if err != nil {
		t.Fatalf("CheckAndAdd() error = %v", err)
	}
	if !allowed {
		t.Error("request after the oldest slot expired should be admitted")
	}
}

func TestInMemoryStore_WindowBoundaryIsExclusive(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(InMemoryStoreConfig{MaxKeys: 100})
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	window := 60 * time.Second
	limit := 1

	allowed, _, err := store.CheckAndAdd(ctx, "key", base, base.Add(-window), limit)
	if err != nil || !allowed {
		t.Fatalf("seed request: allowed=%v err=%v", allowed, err)
	}

	// Exactly window later the cutoff equals the recorded timestamp. The
	// recorded entry is expired (exclusive boundary), so the request passes.
	now := base.Add(window)
	allowed, count, err := store.CheckAndAdd(ctx, "key", now, now.Add(-window), limit)
	if err != nil {
		t.Fatalf("CheckAndAdd() error = %v", err)
	}
	if !allowed {
		t.Error("timestamp exactly at cutoff must be treated as expired")
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 (expired entry trimmed before counting)", count)
	}
}

func TestInMemoryStore_SlidingWindow(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(InMemoryStoreConfig{MaxKeys: 100})
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	window := 60 * time.Second
	limit := 3

	// Admit the full budget at t=0s, 10s, 20s.
	for i := 0; i < limit; i++ {
		now := base.Add(time.Duration(i*10) * time.Second)
		allowed, _, err := store.CheckAndAdd(ctx, "key", now, now.Add(-window), limit)
		if err != nil || !allowed {
			t.Fatalf("request %d: allowed=%v err=%v", i, allowed, err)
		}
	}

	// At t=59s all three are still in the window.
	now := base.Add(59 * time.Second)
	allowed, _, _ := store.CheckAndAdd(ctx, "key", now, now.Add(-window), limit)
	if allowed {
		t.Error("request at t=59s should be denied, all slots occupied")
	}

	// At t=61s the t=0s entry has aged out: the window slides, it does not
	// reset on a fixed boundary.
	now = base.Add(61 * time.Second)
	allowed, _, _ = store.CheckAndAdd(ctx, "key", now, now.Add(-window), limit)
	if !allowed {
		t.Error("request at t=61s should be admitted after the oldest entry aged out")
	}
}

func TestInMemoryStore_ConcurrentAdmissionsNeverExceedLimit(t *testing.T) {
	ctx := context.Background()
	const limit = 5
	const workers = 50

	// Repeat to give any race a chance to manifest.
	for run := 0; run < 20; run++ {
		store := NewInMemoryStore(InMemoryStoreConfig{MaxKeys: 100})
		now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		cutoff := now.Add(-time.Minute)

		var wg sync.WaitGroup
		var mu sync.Mutex
		admitted := 0

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				allowed, _, err := store.CheckAndAdd(ctx, "key", now, cutoff, limit)
				if err != nil {
					t.Errorf("CheckAndAdd() error = %v", err)
					return
				}
				if allowed {
					mu.Lock()
					admitted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if admitted != limit {
			t.Fatalf("run %d: admitted %d of %d concurrent requests, want exactly %d", run, admitted, workers, limit)
		}
	}
}

func TestInMemoryStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(InMemoryStoreConfig{MaxKeys: 100})
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	window := time.Minute

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("10.0.0.%d", i)
		if _, _, err := store.CheckAndAdd(ctx, key, base, base.Add(-window), 5); err != nil {
			t.Fatalf("CheckAndAdd() error = %v", err)
		}
	}
	// One key stays active past the others.
	active := base.Add(2 * time.Minute)
	if _, _, err := store.CheckAndAdd(ctx, "10.0.0.0", active, active.Add(-window), 5); err != nil {
		t.Fatalf("CheckAndAdd() error = %v", err)
	}

	removed, err := store.Cleanup(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if removed != 9 {
		t.Errorf("Cleanup() removed = %d, want 9", removed)
	}

	count, err := store.KeyCount(ctx)
	if err != nil {
		t.Fatalf("KeyCount() error = %v", err)
	}
	if count != 1 {
		t.Errorf("KeyCount() = %d, want 1", count)
	}
}

func TestInMemoryStore_EvictionBoundsKeyCount(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(InMemoryStoreConfig{MaxKeys: 32})
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("192.0.2.%d", i)
		now := base.Add(time.Duration(i) * time.Millisecond)
		if _, _, err := store.CheckAndAdd(ctx, key, now, now.Add(-time.Minute), 5); err != nil {
			t.Fatalf("CheckAndAdd() error = %v", err)
		}
	}

	count, err := store.KeyCount(ctx)
	if err != nil {
		t.Fatalf("KeyCount() error = %v", err)
	}
	if count > 32 {
		t.Errorf("KeyCount() = %d, want at most 32 after eviction", count)
	}
}

func TestInMemoryStore_CanceledContext(t *testing.T) {
	store := NewInMemoryStore(InMemoryStoreConfig{MaxKeys: 100})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	now := time.Now()
	if _, _, err := store.CheckAndAdd(ctx, "key", now, now.Add(-time.Minute), 5); err == nil {
		t.Error("CheckAndAdd() with canceled context should return an error")
	}
	if _, err := store.Cleanup(ctx, now); err == nil {
		t.Error("Cleanup() with canceled context should return an error")
	}
}
