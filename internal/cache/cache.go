package cache

import (
	"container/list"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrValueTooLarge indicates a value individually larger than the cache's
// total capacity. Such values are rejected rather than evicting everything.
var ErrValueTooLarge = errors.New("cache: value exceeds total capacity")

// entry is one cached value with its bookkeeping
type entry struct {
	key            string
	value          []byte
	sizeBytes      int64
	createdAt      time.Time
	expiresAt      time.Time
	lastAccessedAt time.Time
	accessCount    int64
}

// Store is a bounded, size-accounted key/value store with TTL expiry and
// strict least-recently-accessed eviction. Values are byte slices, so size
// accounting is exact by construction. Safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	entries    map[string]*list.Element // value: *entry
	order      *list.List               // front = most recently accessed
	totalBytes int64
	maxBytes   int64
	logger     *slog.Logger

	hits      int64
	misses    int64
	evictions int64

	now       func() time.Time
	stopSweep chan struct{}
	sweepOnce sync.Once
}

// NewStore creates a cache with the given total size budget in bytes and
// starts a periodic sweep that reclaims expired entries. Close stops the
// sweep.
func NewStore(maxBytes int64, sweepInterval time.Duration, logger *slog.Logger) *Store {
	s := &Store{
		entries:   make(map[string]*list.Element),
		order:     list.New(),
		maxBytes:  maxBytes,
		logger:    logger,
		now:       time.Now,
		stopSweep: make(chan struct{}),
	}
	if sweepInterval > 0 {
		go s.sweepLoop(sweepInterval)
	}
	return s
}

// Set stores value under key with the given TTL. When the insertion would
// exceed capacity, entries are evicted strictly in least-recently-accessed
// order until the new entry fits.
func (s *Store) Set(key string, value []byte, ttl time.Duration) error {
	size := int64(len(key) + len(value))
	if size > s.maxBytes {
		return fmt.Errorf("%w: %d bytes > %d", ErrValueTooLarge, size, s.maxBytes)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	// Replace an existing entry in place
	if el, ok := s.entries[key]; ok {
		old := el.Value.(*entry)
		s.totalBytes -= old.sizeBytes
		s.order.Remove(el)
		delete(s.entries, key)
		_ = old
	}

	for s.totalBytes+size > s.maxBytes {
		if !s.evictOldestLocked() {
			break
		}
	}

	e := &entry{
		key:            key,
		value:          value,
		sizeBytes:      size,
		createdAt:      now,
		expiresAt:      now.Add(ttl),
		lastAccessedAt: now,
	}
	s.entries[key] = s.order.PushFront(e)
	s.totalBytes += size
	return nil
}

// Get returns the value for key, or absent. Expired entries are removed
// lazily here; a read refreshes recency and the access count.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		s.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if s.now().After(e.expiresAt) {
		s.removeLocked(el)
		s.misses++
		return nil, false
	}
	e.lastAccessedAt = s.now()
	e.accessCount++
	s.order.MoveToFront(el)
	s.hits++
	return e.value, true
}

// Len returns the number of live entries (including not-yet-swept expired ones)
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// SizeBytes returns the current accounted size
func (s *Store) SizeBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalBytes
}

// Stats returns cumulative hit/miss/eviction counters
func (s *Store) Stats() (hits, misses, evictions int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits, s.misses, s.evictions
}

// Close stops the periodic sweep
func (s *Store) Close() {
	s.sweepOnce.Do(func() { close(s.stopSweep) })
}

func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopSweep:
			return
		}
	}
}

// sweep reclaims all expired entries
func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for el := s.order.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*entry).expiresAt) {
			s.removeLocked(el)
			removed++
		}
		el = prev
	}
	if removed > 0 {
		s.logger.Debug("Cache sweep reclaimed expired entries", "removed", removed)
	}
}

// evictOldestLocked removes the least-recently-accessed entry. Returns
// false when the cache is already empty. Caller holds the lock.
func (s *Store) evictOldestLocked() bool {
	el := s.order.Back()
	if el == nil {
		return false
	}
	e := el.Value.(*entry)
	s.removeLocked(el)
	s.evictions++
	s.logger.Debug("Cache evicted entry", "key", e.key, "size_bytes", e.sizeBytes)
	return true
}

func (s *Store) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	s.order.Remove(el)
	delete(s.entries, e.key)
	s.totalBytes -= e.sizeBytes
}
