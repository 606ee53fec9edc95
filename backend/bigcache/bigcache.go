// Package bigcache implements the backend contract over allegro/bigcache.
//
// BigCache evicts only by a global LifeWindow, so per-entry TTLs live in the
// wire envelope and reads hide entries past their deadline. LifeWindow is the
// hard upper bound on entry lifetime: it must outlast the longest TTL callers
// intend to set. The cache has no compare-and-swap, so the adapter serializes
// every write through one mutex; Incr, Expire, GetSet and Pop therefore
// observe a stable entry between their read and their write-back. The mutex
// covers this process only, which matches the reach of the store itself.
package bigcache

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/polycache/polycache/backend"
	"github.com/polycache/polycache/internal/wire"
)

// Store is a bigcache backend adapter.
type Store struct {
	c *bc.BigCache

	// mu serializes every write, plain or read-modify-write, so Incr, Expire,
	// GetSet and Pop cannot have a concurrent Set or Del land between their
	// read and their write-back. Plain reads go straight to the cache, which
	// synchronizes itself per shard.
	mu   sync.Mutex
	once sync.Once
}

var (
	_ backend.Store     = (*Store)(nil)
	_ backend.GetSetter = (*Store)(nil)
	_ backend.Popper    = (*Store)(nil)
)

// Config tunes the adapter.
type Config struct {
	LifeWindow         time.Duration // global entry lifetime; 0 = 24h
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

// New builds a Store around a fresh cache.
func New(cfg Config) (*Store, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = 24 * time.Hour
	}
	conf := bc.DefaultConfig(life)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	return &Store{c: c}, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// getLive reads and decodes an entry, healing damaged or expired ones.
// BigCache's Get copies out of its ring buffer, so the decoded slice is ours
// to hand to callers.
func (s *Store) getLive(key string, now time.Time) (val []byte, exp int64, ok bool, err error) {
	b, err := s.c.Get(key)
	if err == bc.ErrEntryNotFound {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	val, exp, derr := wire.Decode(b)
	if derr != nil {
		_ = s.c.Delete(key)
		return nil, 0, false, nil
	}
	if wire.Expired(exp, now) {
		_ = s.c.Delete(key)
		return nil, 0, false, nil
	}
	return val, exp, true, nil
}

// Set reports false instead of an error when the cache declines the write;
// bigcache only refuses entries too large for a shard to admit.
func (s *Store) Set(_ context.Context, key string, val []byte, ttlSeconds int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(key, val, ttlSeconds, time.Now()), nil
}

// put writes one envelope and reports whether the cache admitted it.
// Callers hold mu.
func (s *Store) put(key string, val []byte, ttlSeconds int64, now time.Time) bool {
	return s.c.Set(key, wire.Encode(val, wire.Deadline(ttlSeconds, now))) == nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, _, ok, err := s.getLive(key, time.Now())
	return val, ok, err
}

func (s *Store) SetMulti(_ context.Context, entries []backend.Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	ok := true
	for _, e := range entries {
		ok = s.put(e.Key, e.Val, e.TTLSeconds, now) && ok
	}
	return ok, nil
}

func (s *Store) GetMulti(_ context.Context, keys []string) (map[string][]byte, error) {
	now := time.Now()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		val, _, ok, err := s.getLive(k, now)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = val
		}
	}
	return out, nil
}

// Incr is atomic within this process: the adapter mutex serializes it against
// every other write. The decoded deadline is written back verbatim, so the
// remaining TTL is untouched.
func (s *Store) Incr(_ context.Context, key string, delta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	val, exp, ok, err := s.getLive(key, now)
	if err != nil {
		return 0, err
	}
	if !ok {
		if err := s.c.Set(key, wire.Encode([]byte(formatFloat(delta)), 0)); err != nil {
			return 0, err
		}
		return delta, nil
	}
	cur, perr := strconv.ParseFloat(string(val), 64)
	if perr != nil {
		return 0, &backend.NotNumericError{Key: key, Err: perr}
	}
	next := cur + delta
	if err := s.c.Set(key, wire.Encode([]byte(formatFloat(next)), exp)); err != nil {
		return 0, err
	}
	return next, nil
}

// Keys walks the iterator, skipping entries past their envelope deadline.
func (s *Store) Keys(_ context.Context) ([]string, error) {
	now := time.Now()
	var out []string
	it := s.c.Iterator()
	for it.SetNext() {
		info, err := it.Value()
		if err != nil {
			continue // evicted mid-iteration
		}
		_, exp, derr := wire.Decode(info.Value())
		if derr != nil || wire.Expired(exp, now) {
			continue
		}
		out = append(out, info.Key())
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

// Del reports whether a live entry was removed; reading first lets the
// envelope decide liveness and heals dead bytes as a side effect.
func (s *Store) Del(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, _, ok, err := s.getLive(key, time.Now())
	if err != nil || !ok {
		return false, err
	}
	if err := s.c.Delete(key); err != nil && err != bc.ErrEntryNotFound {
		return false, err
	}
	return true, nil
}

// Expire rewrites only the envelope deadline. ttlSeconds <= 0 makes the
// entry immortal up to the global LifeWindow.
func (s *Store) Expire(_ context.Context, key string, ttlSeconds int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	val, _, ok, err := s.getLive(key, now)
	if err != nil || !ok {
		return false, err
	}
	if err := s.c.Set(key, wire.Encode(val, wire.Deadline(ttlSeconds, now))); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	now := time.Now()
	_, exp, ok, err := s.getLive(key, now)
	if err != nil || !ok {
		return 0, false, err
	}
	if exp == 0 {
		return 0, true, nil
	}
	return time.Duration(exp-now.UnixMilli()) * time.Millisecond, true, nil
}

// GetSet swaps val in and returns the previous value, atomically under the
// adapter mutex.
func (s *Store) GetSet(_ context.Context, key string, val []byte, ttlSeconds int64) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	prev, _, had, err := s.getLive(key, now)
	if err != nil {
		return nil, false, err
	}
	if err := s.c.Set(key, wire.Encode(val, wire.Deadline(ttlSeconds, now))); err != nil {
		return nil, false, err
	}
	return prev, had, nil
}

// Pop removes key and returns what it held, atomically under the adapter
// mutex.
func (s *Store) Pop(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, _, had, err := s.getLive(key, time.Now())
	if err != nil || !had {
		return nil, false, err
	}
	if err := s.c.Delete(key); err != nil && err != bc.ErrEntryNotFound {
		return nil, false, err
	}
	return prev, true, nil
}

// Close releases the cache. Safe to call more than once.
func (s *Store) Close(context.Context) error {
	var err error
	s.once.Do(func() { err = s.c.Close() })
	return err
}
