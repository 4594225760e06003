// Package cache holds planned routes and built flow fields for a bounded
// time. Entries older than the TTL are purged on access or by Sweep, and
// every entry can be evicted by the regions it touches.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/gravitas-games/flowfield/internal/grid"
)

// DefaultTTL is how long an entry stays valid.
const DefaultTTL = 15 * time.Minute

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// Options configures a cache.
type Options struct {
	TTL        time.Duration
	MaxEntries int64
	Clock      Clock
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = 100_000
	}
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	return o
}

type entry[V any] struct {
	value   V
	created time.Time
	regions []grid.RegionID
}

// store pairs a ristretto cache with a region index. Reads go straight to
// ristretto; the index is only touched on writes and evictions.
type store[V any] struct {
	ttl   time.Duration
	clock Clock
	data  *ristretto.Cache[string, *entry[V]]

	mu       sync.Mutex
	keys     map[string][]grid.RegionID
	byRegion map[grid.RegionID]map[string]struct{}
}

func newStore[V any](opts Options) (*store[V], error) {
	opts = opts.withDefaults()
	data, err := ristretto.NewCache(&ristretto.Config[string, *entry[V]]{
		NumCounters: opts.MaxEntries * 10,
		MaxCost:     opts.MaxEntries,
		BufferItems: 64,
		// cost counts entries, not bytes
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return &store[V]{
		ttl:      opts.TTL,
		clock:    opts.Clock,
		data:     data,
		keys:     make(map[string][]grid.RegionID),
		byRegion: make(map[grid.RegionID]map[string]struct{}),
	}, nil
}

func (s *store[V]) get(key string) (V, bool) {
	var zero V
	e, ok := s.data.Get(key)
	if !ok {
		return zero, false
	}
	if s.expired(e) {
		s.expire(key, e)
		return zero, false
	}
	return e.value, true
}

// expire removes key if it still holds stale. A fresher entry written
// since stale was read is kept.
func (s *store[V]) expire(key string, stale *entry[V]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.data.Get(key); ok && cur != stale {
		return false
	}
	s.remove(key)
	return true
}

func (s *store[V]) expired(e *entry[V]) bool {
	return s.clock.Now().Sub(e.created) > s.ttl
}

func (s *store[V]) put(key string, value V, regions []grid.RegionID) bool {
	e := &entry[V]{value: value, created: s.clock.Now(), regions: regions}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.remove(key)
	if !s.data.SetWithTTL(key, e, 1, s.ttl) {
		return false
	}
	s.data.Wait()

	s.keys[key] = regions
	for _, id := range regions {
		set, ok := s.byRegion[id]
		if !ok {
			set = make(map[string]struct{})
			s.byRegion[id] = set
		}
		set[key] = struct{}{}
	}
	return true
}

// remove drops a key from ristretto and the index. Callers hold s.mu.
func (s *store[V]) remove(key string) {
	s.data.Del(key)
	regions, ok := s.keys[key]
	if !ok {
		return
	}
	delete(s.keys, key)
	for _, id := range regions {
		if set, ok := s.byRegion[id]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(s.byRegion, id)
			}
		}
	}
}

func (s *store[V]) evictRegions(ids []grid.RegionID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, id := range ids {
		for key := range s.byRegion[id] {
			s.remove(key)
			n++
		}
	}
	return n
}

// removeIf drops every live entry matching pred.
func (s *store[V]) removeIf(pred func(V) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.keys {
		e, ok := s.data.Get(key)
		if !ok {
			s.remove(key)
			continue
		}
		if pred(e.value) {
			s.remove(key)
			n++
		}
	}
	return n
}

// sweep drops expired entries and index entries ristretto already evicted.
func (s *store[V]) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.keys {
		e, ok := s.data.Get(key)
		if !ok || s.expired(e) {
			s.remove(key)
			n++
		}
	}
	return n
}

func (s *store[V]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

func (s *store[V]) close() {
	s.data.Close()
}
