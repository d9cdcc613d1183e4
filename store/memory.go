package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is a single-process Store used in tests and local development.
// Expiry is enforced lazily on access, which is enough for the short-lived
// keys this layer creates.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]memEntry
	hashes map[string]map[string]string
	lists  map[string][]string
	now    func() time.Time
}

type memEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]memEntry),
		hashes: make(map[string]map[string]string),
		lists:  make(map[string][]string),
		now:    time.Now,
	}
}

// SetClock overrides the time source, for expiry tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

func (s *MemoryStore) getLocked(key string) (memEntry, bool) {
	e, ok := s.values[key]
	if !ok {
		return memEntry{}, false
	}
	if e.expired(s.now()) {
		delete(s.values, key)
		return memEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if e, ok := s.getLocked(key); ok {
		n, _ = strconv.ParseInt(e.value, 10, 64)
	}
	n++
	e := s.values[key]
	e.value = strconv.FormatInt(n, 10)
	s.values[key] = e
	return n, nil
}

func (s *MemoryStore) IncrWindow(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	e, ok := s.getLocked(key)
	if ok {
		n, _ = strconv.ParseInt(e.value, 10, 64)
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	if e.expiresAt.IsZero() {
		e.expiresAt = now.Add(window)
	}
	s.values[key] = e
	return n, e.expiresAt.Sub(now), nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.getLocked(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.values[key] = e
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.getLocked(key); ok {
		return false, nil
	}
	e := memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.values[key] = e
	return true, nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.getLocked(key)
	return ok, nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.values, key)
		delete(s.hashes, key)
		delete(s.lists, key)
	}
	return nil
}

func (s *MemoryStore) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.hashes[key]
	if h == nil {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	n, _ := strconv.ParseInt(h[field], 10, 64)
	n += delta
	h[field] = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.hashes[key]))
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) HSet(_ context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.hashes[key]
	if h == nil {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (s *MemoryStore) HDel(_ context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.hashes[key]
	for _, f := range fields {
		delete(h, f)
	}
	return nil
}

func (s *MemoryStore) PushCapped(_ context.Context, key, value string, max int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append([]string{value}, s.lists[key]...)
	if int64(len(list)) > max {
		list = list[:max]
	}
	s.lists[key] = list
	return nil
}

func (s *MemoryStore) Range(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	n := int64(len(list))
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (s *MemoryStore) Trim(_ context.Context, key string, max int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	if int64(len(list)) > max {
		s.lists[key] = list[:max]
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }
