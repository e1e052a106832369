package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func openTestStore(t *testing.T) (*Store, *clock) {
	t.Helper()
	tmp := t.TempDir()
	c := &clock{t: time.Date(2024, 11, 7, 12, 0, 0, 0, time.UTC)}
	store, err := Open(filepath.Join(tmp, "cache.db"), filepath.Join(tmp, "cache.lock"), WithClock(c.now))
	if err != nil {
		t.Fatalf("Open cache failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, c
}

func TestCacheFreshThenStale(t *testing.T) {
	ctx := context.Background()
	store, c := openTestStore(t)

	entry := Entry{Command: "position", Key: "k1", Value: []byte(`{"health":"12.34"}`), TTL: time.Minute}
	if err := store.Set(ctx, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	res, err := store.Get(ctx, "k1", 5*time.Minute)
	if err != nil {
		t.Fatalf("Get fresh failed: %v", err)
	}
	if !res.Hit || res.Stale || string(res.Value) != `{"health":"12.34"}` {
		t.Fatalf("expected fresh hit, got %+v", res)
	}

	c.advance(90 * time.Second)
	res, err = store.Get(ctx, "k1", 5*time.Minute)
	if err != nil {
		t.Fatalf("Get stale failed: %v", err)
	}
	if !res.Hit || !res.Stale || res.TooStale {
		t.Fatalf("expected stale within budget, got %+v", res)
	}
	if res.Age != 90*time.Second {
		t.Fatalf("unexpected age %s", res.Age)
	}

	c.advance(10 * time.Minute)
	res, err = store.Get(ctx, "k1", 5*time.Minute)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !res.TooStale {
		t.Fatalf("expected too stale, got %+v", res)
	}

	res, err = store.Get(ctx, "k1", -1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !res.Stale || res.TooStale {
		t.Fatalf("negative max stale must keep stale entries usable, got %+v", res)
	}
}

func TestCacheMiss(t *testing.T) {
	store, _ := openTestStore(t)
	res, err := store.Get(context.Background(), "absent", time.Minute)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if res.Hit {
		t.Fatalf("expected miss, got %+v", res)
	}
}

func TestCacheStatsPruneAndClear(t *testing.T) {
	ctx := context.Background()
	store, c := openTestStore(t)

	writes := []Entry{
		{Command: "position", Key: "p1", Value: []byte("aaaa"), TTL: time.Minute},
		{Command: "position", Key: "p2", Value: []byte("bb"), TTL: time.Hour},
		{Command: "revenue epochs", Key: "r1", Value: []byte("cccccc"), TTL: 10 * time.Minute},
	}
	for _, entry := range writes {
		if err := store.Set(ctx, entry); err != nil {
			t.Fatalf("Set %s failed: %v", entry.Key, err)
		}
	}
	c.advance(2 * time.Minute)

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	want := []CommandStats{
		{Command: "position", Entries: 2, Expired: 1, Bytes: 6},
		{Command: "revenue epochs", Entries: 1, Expired: 0, Bytes: 6},
	}
	if len(stats) != len(want) {
		t.Fatalf("unexpected stats %+v", stats)
	}
	for i := range want {
		if stats[i] != want[i] {
			t.Fatalf("stats[%d] = %+v, want %+v", i, stats[i], want[i])
		}
	}

	removed, err := store.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one pruned entry, got %d", removed)
	}

	removed, err = store.Clear(ctx, "revenue epochs")
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one cleared entry, got %d", removed)
	}
	if res, _ := store.Get(ctx, "p2", time.Minute); !res.Hit {
		t.Fatal("clearing one command must keep the others")
	}

	removed, err = store.Clear(ctx, "")
	if err != nil {
		t.Fatalf("Clear all failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected the last entry cleared, got %d", removed)
	}
}

func TestCacheConcurrentOpenAndSet(t *testing.T) {
	tmp := t.TempDir()
	dbPath := filepath.Join(tmp, "cache.db")
	lockPath := filepath.Join(tmp, "cache.lock")

	const workers = 8
	const iterations = 20

	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			ctx := context.Background()

			store, err := Open(dbPath, lockPath)
			if err != nil {
				errCh <- fmt.Errorf("worker %d open: %w", workerID, err)
				return
			}
			defer store.Close()

			for i := 0; i < iterations; i++ {
				key := fmt.Sprintf("worker-%d-band-%d", workerID, i)
				if err := store.Set(ctx, Entry{Command: "bands", Key: key, Value: []byte(`{"ok":true}`), TTL: time.Minute}); err != nil {
					errCh <- fmt.Errorf("worker %d set iter %d: %w", workerID, i, err)
					return
				}
				res, err := store.Get(ctx, key, time.Minute)
				if err != nil {
					errCh <- fmt.Errorf("worker %d get iter %d: %w", workerID, i, err)
					return
				}
				if !res.Hit {
					errCh <- fmt.Errorf("worker %d get iter %d: expected hit", workerID, i)
					return
				}
			}
		}(worker)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
}
