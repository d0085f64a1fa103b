package core

import (
	"context"
	"errors"
	"testing"
)

type fakeDurable struct {
	processed map[string]bool
	err       error
	queries   int
}

func (f *fakeDurable) IsProcessed(ctx context.Context, key string) (bool, error) {
	f.queries++
	if f.err != nil {
		return false, f.err
	}
	return f.processed[key], nil
}

func (f *fakeDurable) MarkProcessed(ctx context.Context, keys []string) error {
	for _, k := range keys {
		f.processed[k] = true
	}
	return nil
}

func TestIdempotencyMemoryTier(t *testing.T) {
	db := &fakeDurable{processed: map[string]bool{}}
	c := NewIdempotencyChecker(8, db)
	ctx := context.Background()

	if seen, _ := c.Seen(ctx, "k1"); seen {
		t.Error("fresh key reported seen")
	}
	c.Mark("k1")
	db.queries = 0
	if seen, _ := c.Seen(ctx, "k1"); !seen {
		t.Error("marked key not seen")
	}
	if db.queries != 0 {
		t.Errorf("memory hit still queried the durable tier %d times", db.queries)
	}
}

func TestIdempotencyDurableFallback(t *testing.T) {
	db := &fakeDurable{processed: map[string]bool{"old": true}}
	c := NewIdempotencyChecker(8, db)
	ctx := context.Background()

	seen, err := c.Seen(ctx, "old")
	if err != nil || !seen {
		t.Fatalf("got seen=%v err=%v, want true/nil", seen, err)
	}
	// The durable answer is now cached.
	db.queries = 0
	if seen, _ := c.Seen(ctx, "old"); !seen || db.queries != 0 {
		t.Errorf("durable hit not cached: seen=%v queries=%d", seen, db.queries)
	}
}

func TestIdempotencyEviction(t *testing.T) {
	c := NewIdempotencyChecker(2, nil)
	ctx := context.Background()
	c.Mark("a")
	c.Mark("b")
	c.Mark("c") // evicts a
	if seen, _ := c.Seen(ctx, "a"); seen {
		t.Error("evicted key still seen")
	}
	if seen, _ := c.Seen(ctx, "c"); !seen {
		t.Error("recent key lost")
	}
}

func TestIdempotencyForget(t *testing.T) {
	c := NewIdempotencyChecker(8, nil)
	ctx := context.Background()
	c.Mark("a")
	c.Forget([]string{"a"})
	if seen, _ := c.Seen(ctx, "a"); seen {
		t.Error("forgotten key still seen")
	}
}

func TestIdempotencyDurableError(t *testing.T) {
	db := &fakeDurable{processed: map[string]bool{}, err: errors.New("db down")}
	c := NewIdempotencyChecker(8, db)
	if _, err := c.Seen(context.Background(), "k"); err == nil {
		t.Error("durable error swallowed")
	}
}
