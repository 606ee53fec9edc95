// Package memory implements the backend contract over a single-process map.
//
// All read-modify-write operations run under one mutex, so Incr, GetSet and
// Pop are atomic without CAS machinery. Expired entries are hidden on read and
// physically collected by a janitor goroutine owned by Close.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/polycache/polycache/backend"
)

type item struct {
	val []byte
	exp time.Time // zero => no expiry
}

func (it item) expired(now time.Time) bool {
	return !it.exp.IsZero() && !it.exp.After(now)
}

// Store is an in-memory backend adapter.
type Store struct {
	mu    sync.RWMutex
	items map[string]item

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

var (
	_ backend.Store     = (*Store)(nil)
	_ backend.GetSetter = (*Store)(nil)
	_ backend.Popper    = (*Store)(nil)
)

// Config tunes the adapter.
type Config struct {
	// CleanupInterval is how often the janitor sweeps expired entries.
	// 0 => 1m. Expiry itself never depends on the sweep; reads hide expired
	// entries regardless.
	CleanupInterval time.Duration
}

// New builds a Store and starts its janitor.
func New(cfg Config) *Store {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}

	s := &Store{
		items:  make(map[string]item),
		ticker: time.NewTicker(interval),
		stopCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.ticker.C:
				s.sweep(time.Now())
			case <-s.stopCh:
				return
			}
		}
	}()
	return s
}

func (s *Store) sweep(now time.Time) {
	s.mu.Lock()
	for k, it := range s.items {
		if it.expired(now) {
			delete(s.items, k)
		}
	}
	s.mu.Unlock()
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func expiry(ttlSeconds int64, now time.Time) time.Time {
	if ttlSeconds <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(ttlSeconds) * time.Second)
}

func (s *Store) Set(_ context.Context, key string, val []byte, ttlSeconds int64) (bool, error) {
	now := time.Now()
	s.mu.Lock()
	s.items[key] = item{val: cloneBytes(val), exp: expiry(ttlSeconds, now)}
	s.mu.Unlock()
	return true, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	now := time.Now()
	s.mu.RLock()
	it, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || it.expired(now) {
		return nil, false, nil
	}
	return cloneBytes(it.val), true, nil
}

func (s *Store) SetMulti(_ context.Context, entries []backend.Entry) (bool, error) {
	now := time.Now()
	s.mu.Lock()
	for _, e := range entries {
		s.items[e.Key] = item{val: cloneBytes(e.Val), exp: expiry(e.TTLSeconds, now)}
	}
	s.mu.Unlock()
	return true, nil
}

func (s *Store) GetMulti(_ context.Context, keys []string) (map[string][]byte, error) {
	now := time.Now()
	out := make(map[string][]byte, len(keys))
	s.mu.RLock()
	for _, k := range keys {
		if it, ok := s.items[k]; ok && !it.expired(now) {
			out[k] = cloneBytes(it.val)
		}
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *Store) Incr(_ context.Context, key string, delta float64) (float64, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if !ok || it.expired(now) {
		s.items[key] = item{val: []byte(formatFloat(delta))}
		return delta, nil
	}
	cur, err := strconv.ParseFloat(string(it.val), 64)
	if err != nil {
		return 0, &backend.NotNumericError{Key: key, Err: err}
	}
	next := cur + delta
	// keep the remaining TTL untouched
	s.items[key] = item{val: []byte(formatFloat(next)), exp: it.exp}
	return next, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (s *Store) Keys(_ context.Context) ([]string, error) {
	now := time.Now()
	s.mu.RLock()
	out := make([]string, 0, len(s.items))
	for k, it := range s.items {
		if !it.expired(now) {
			out = append(out, k)
		}
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

func (s *Store) Has(_ context.Context, key string) (bool, error) {
	now := time.Now()
	s.mu.RLock()
	it, ok := s.items[key]
	s.mu.RUnlock()
	return ok && !it.expired(now), nil
}

func (s *Store) Del(_ context.Context, key string) (bool, error) {
	now := time.Now()
	s.mu.Lock()
	it, ok := s.items[key]
	delete(s.items, key)
	s.mu.Unlock()
	return ok && !it.expired(now), nil
}

func (s *Store) Expire(_ context.Context, key string, ttlSeconds int64) (bool, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if !ok || it.expired(now) {
		return false, nil
	}
	it.exp = expiry(ttlSeconds, now)
	s.items[key] = it
	return true, nil
}

func (s *Store) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	now := time.Now()
	s.mu.RLock()
	it, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || it.expired(now) {
		return 0, false, nil
	}
	if it.exp.IsZero() {
		return 0, true, nil
	}
	return it.exp.Sub(now), true, nil
}

// GetSet swaps val in and returns the previous value, atomically under the
// store lock.
func (s *Store) GetSet(_ context.Context, key string, val []byte, ttlSeconds int64) ([]byte, bool, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.items[key]
	s.items[key] = item{val: cloneBytes(val), exp: expiry(ttlSeconds, now)}
	if !ok || old.expired(now) {
		return nil, false, nil
	}
	return cloneBytes(old.val), true, nil
}

// Pop removes key and returns what it held, atomically under the store lock.
func (s *Store) Pop(_ context.Context, key string) ([]byte, bool, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.items[key]
	delete(s.items, key)
	if !ok || old.expired(now) {
		return nil, false, nil
	}
	return cloneBytes(old.val), true, nil
}

// Close stops the janitor. The map itself needs no teardown; entries simply
// become unreachable with the Store.
func (s *Store) Close(_ context.Context) error {
	s.once.Do(func() {
		close(s.stopCh)
		s.ticker.Stop()
		s.wg.Wait()
	})
	return nil
}
