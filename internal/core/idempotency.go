package core

import (
	"container/list"
	"context"
)

// DurableChecker is the persistent tier of idempotency checking. It only
// sees keys of finalized, persisted events.
type DurableChecker interface {
	IsProcessed(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, keys []string) error
}

// IdempotencyChecker is a two-tier dedup guard: a bounded in-memory LRU in
// front of the durable store. The memory tier answers for recently seen
// events without a round trip; the durable tier catches replays that arrive
// after a restart, when the LRU is cold.
type IdempotencyChecker struct {
	capacity int
	order    *list.List
	entries  map[string]*list.Element
	durable  DurableChecker
}

func NewIdempotencyChecker(capacity int, durable DurableChecker) *IdempotencyChecker {
	if capacity <= 0 {
		capacity = 4096
	}
	return &IdempotencyChecker{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		durable:  durable,
	}
}

// Seen reports whether the key has already been processed.
func (c *IdempotencyChecker) Seen(ctx context.Context, key string) (bool, error) {
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		return true, nil
	}
	if c.durable == nil {
		return false, nil
	}
	processed, err := c.durable.IsProcessed(ctx, key)
	if err != nil {
		return false, err
	}
	if processed {
		c.remember(key)
	}
	return processed, nil
}

// Mark records the key in the memory tier. The durable tier is written by
// the persistence worker once the event is finalized.
func (c *IdempotencyChecker) Mark(key string) {
	c.remember(key)
}

// Forget drops keys from the memory tier, used when a reorg retracts their
// events. Retracted events never reached the durable tier.
func (c *IdempotencyChecker) Forget(keys []string) {
	for _, key := range keys {
		if el, ok := c.entries[key]; ok {
			c.order.Remove(el)
			delete(c.entries, key)
		}
	}
}

func (c *IdempotencyChecker) remember(key string) {
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(key)
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(string))
	}
}
