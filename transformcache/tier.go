package transformcache

import (
	"container/list"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type entry[K comparable, V any] struct {
	key            K
	value          V
	insertedAt     time.Time
	lastAccessedAt time.Time
}

// tier is one bounded sub-cache: a map for lookups and an intrusive LRU
// list for eviction order. A zero ttl disables time expiry. Expiry is
// checked lazily on read and counts as a miss, independent of capacity
// eviction.
type tier[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[K]*list.Element
	order    *list.List // front = most recently used
	now      func() time.Time

	hits      *xsync.Counter
	misses    *xsync.Counter
	evictions *xsync.Counter
}

func newTier[K comparable, V any](capacity int, ttl time.Duration, now func() time.Time, hits, misses, evictions *xsync.Counter) *tier[K, V] {
	return &tier[K, V]{
		capacity:  capacity,
		ttl:       ttl,
		items:     make(map[K]*list.Element, capacity),
		order:     list.New(),
		now:       now,
		hits:      hits,
		misses:    misses,
		evictions: evictions,
	}
}

func (t *tier[K, V]) get(key K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.items[key]
	if !ok {
		t.misses.Inc()
		var zero V
		return zero, false
	}
	ent := el.Value.(*entry[K, V])
	if t.ttl > 0 && t.now().Sub(ent.insertedAt) > t.ttl {
		// expired: lazy purge, treated as a miss
		delete(t.items, key)
		t.order.Remove(el)
		t.misses.Inc()
		var zero V
		return zero, false
	}
	ent.lastAccessedAt = t.now()
	t.order.MoveToFront(el)
	t.hits.Inc()
	return ent.value, true
}

func (t *tier[K, V]) set(key K, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if el, ok := t.items[key]; ok {
		ent := el.Value.(*entry[K, V])
		ent.value = value
		ent.insertedAt = now
		ent.lastAccessedAt = now
		t.order.MoveToFront(el)
		return
	}
	t.items[key] = t.order.PushFront(&entry[K, V]{
		key:            key,
		value:          value,
		insertedAt:     now,
		lastAccessedAt: now,
	})
	for t.order.Len() > t.capacity {
		back := t.order.Back()
		if back == nil {
			break
		}
		victim := back.Value.(*entry[K, V])
		delete(t.items, victim.key)
		t.order.Remove(back)
		t.evictions.Inc()
	}
}

func (t *tier[K, V]) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}
