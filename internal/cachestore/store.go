package cachestore

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"mangafeed/pkg/metrics"
)

// ComputeFn produces the value for a cache key. It must honor ctx
// cancellation; the store never retries a failed computation on its own.
type ComputeFn func(ctx context.Context) (any, error)

// Store is a key-addressed memo cache with single-flight semantics:
// concurrent Get calls for the same key share exactly one computation,
// and a resolved value is served to every later caller until the key is
// explicitly cleared. There is no TTL — invalidation is always explicit,
// done by whichever component knows the data went stale.
//
// A failed computation is not retained: its error reaches every caller
// that was waiting on it, and the next Get starts fresh.
//
// Construct one Store at process start and inject it into every component
// that needs it; the key space (see keys.go) is shared process-wide.
type Store struct {
	log   *zap.SugaredLogger
	group singleflight.Group

	mu      sync.Mutex
	values  map[string]any
	gen     map[string]uint64 // bumped by Clear; guards late stores from cleared flights
	pending map[string]int
}

func New(log *zap.SugaredLogger) *Store {
	return &Store{
		log:     log,
		values:  make(map[string]any),
		gen:     make(map[string]uint64),
		pending: make(map[string]int),
	}
}

// Get returns the cached value for key, or runs compute to produce it.
// All concurrent callers of the same key observe one underlying compute.
func (s *Store) Get(ctx context.Context, key string, compute ComputeFn) (any, error) {
	s.mu.Lock()
	if v, ok := s.values[key]; ok {
		s.mu.Unlock()
		metrics.CacheOps.WithLabelValues("hit").Inc()
		return v, nil
	}
	gen := s.gen[key]
	s.pending[key]++
	s.mu.Unlock()

	metrics.CacheOps.WithLabelValues("miss").Inc()

	v, err, _ := s.group.Do(key, func() (any, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		// A Clear issued while we were computing bumps the generation;
		// in that case the result belongs to a dead entry and is dropped.
		if s.gen[key] == gen {
			s.values[key] = v
		}
		s.mu.Unlock()
		return v, nil
	})

	s.mu.Lock()
	s.pending[key]--
	if s.pending[key] <= 0 {
		delete(s.pending, key)
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warnw("cache compute failed", "key", key, "err", err)
		return nil, err
	}
	return v, nil
}

// Has reports whether an entry (resolved or still in flight) exists for key.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		return true
	}
	return s.pending[key] > 0
}

// Clear removes the entry for key, including one still pending. Callers
// already waiting on the pending computation still receive its result;
// the result itself is discarded, so the next Get recomputes.
func (s *Store) Clear(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.gen[key]++
	s.mu.Unlock()

	s.group.Forget(key)
	metrics.CacheOps.WithLabelValues("clear").Inc()
}

// ClearPrefix clears every entry whose key starts with prefix.
func (s *Store) ClearPrefix(prefix string) {
	s.mu.Lock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	for k := range s.pending {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	s.mu.Unlock()

	for _, k := range keys {
		s.Clear(k)
	}
}

// Len returns the number of resolved entries, for diagnostics.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}
