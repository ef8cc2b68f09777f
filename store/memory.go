package store

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by MemoryKV operations after Close.
var ErrClosed = errors.New("store: closed")

// MemoryKV is a keyed in-memory store with optional TTL expiry. It
// backs ephemeral state where SQLite durability is not needed, and
// stands in for the relational store in tests.
type MemoryKV struct {
	mu     sync.RWMutex
	data   map[string]*kvEntry
	closed atomic.Bool

	cleanupTicker *time.Ticker
	done          chan struct{}
}

type kvEntry struct {
	value   []byte
	expires time.Time // Zero means no expiry
}

// NewMemoryKV creates a new in-memory keyed store.
func NewMemoryKV() *MemoryKV {
	s := &MemoryKV{
		data:          make(map[string]*kvEntry),
		cleanupTicker: time.NewTicker(time.Second),
		done:          make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// cleanupLoop removes expired entries periodically.
func (s *MemoryKV) cleanupLoop() {
	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanupExpired()
		case <-s.done:
			return
		}
	}
}

// cleanupExpired removes entries that have expired.
func (s *MemoryKV) cleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, e := range s.data {
		if !e.expires.IsZero() && now.After(e.expires) {
			delete(s.data, key)
		}
	}
}

// Set stores a value without expiry.
func (s *MemoryKV) Set(key string, value []byte) error {
	return s.SetTTL(key, value, 0)
}

// SetTTL stores a value that expires after ttl. A zero ttl means no
// expiry.
func (s *MemoryKV) SetTTL(key string, value []byte, ttl time.Duration) error {
	if s.closed.Load() {
		return ErrClosed
	}

	e := &kvEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.data[key] = e
	s.mu.Unlock()
	return nil
}

// Get retrieves a value by key. Returns ErrNotFound for missing or
// expired keys.
func (s *MemoryKV) Get(key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		return nil, ErrNotFound
	}

	// Return a copy to prevent mutation
	return append([]byte(nil), e.value...), nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *MemoryKV) Delete(key string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

// Keys returns the live keys matching the given prefix. An empty
// prefix matches everything.
func (s *MemoryKV) Keys(prefix string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var keys []string
	for key, e := range s.data {
		if !e.expires.IsZero() && now.After(e.expires) {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Len reports the number of live keys.
func (s *MemoryKV) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	n := 0
	for _, e := range s.data {
		if !e.expires.IsZero() && now.After(e.expires) {
			continue
		}
		n++
	}
	return n
}

// Close stops the cleanup loop and rejects further operations.
func (s *MemoryKV) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cleanupTicker.Stop()
	close(s.done)

	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
	return nil
}
