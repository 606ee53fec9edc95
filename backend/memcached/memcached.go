// Package memcached implements the backend contract over the memcached
// protocol.
//
// The protocol offers no negative/float increment, no TTL-preserving update,
// and no key enumeration short of a privileged stats scan. Every value is
// therefore stored inside a wire envelope carrying its absolute expiry, so
// remaining TTLs can be recomputed without trusting the protocol's relative
// bookkeeping, and Incr/Expire run bounded compare-and-swap retry loops over
// the client's CAS tokens. Keys is the stats cachedump scan, documented
// best-effort.
package memcached

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/polycache/polycache/backend"
	"github.com/polycache/polycache/internal/wire"
)

const (
	casAttempts   = 5
	casRetryDelay = 10 * time.Millisecond

	// Relative expirations above 30 days are read by the server as absolute
	// epoch seconds; longer TTLs must be sent as epoch directly.
	maxRelativeTTL = 30 * 24 * 60 * 60
)

var (
	ErrNilClient = errors.New("memcached backend: nil client")
	// ErrNoAddrs means the adapter was built around an external client without
	// server addresses; the key scan needs its own stats connections.
	ErrNoAddrs = errors.New("memcached backend: key scan requires server addresses")
)

// Store is a memcached backend adapter.
type Store struct {
	mc          *memcache.Client
	addrs       []string
	closeClient bool
}

var _ backend.Store = (*Store)(nil)

// Config wires an externally managed client. Addrs is only needed for Keys;
// every other operation goes through Client.
type Config struct {
	Client      *memcache.Client
	Addrs       []string
	CloseClient bool // set true only if this adapter exclusively owns the client
}

// New builds a Store around an existing client.
func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Store{mc: cfg.Client, addrs: cfg.Addrs, closeClient: cfg.CloseClient}, nil
}

// Dial connects to the given "host:port" servers, verifies they answer, and
// returns an owning Store.
func Dial(addrs ...string) (*Store, error) {
	mc := memcache.New(addrs...)
	if err := mc.Ping(); err != nil {
		return nil, err
	}
	return &Store{mc: mc, addrs: addrs, closeClient: true}, nil
}

func expiration(ttlSeconds int64, now time.Time) int32 {
	switch {
	case ttlSeconds <= 0:
		return 0
	case ttlSeconds > maxRelativeTTL:
		return int32(now.Unix() + ttlSeconds)
	default:
		return int32(ttlSeconds)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// The client library is context-unaware; per-operation deadlines belong to
// its Timeout field. ctx is honored only by the Keys scan, which owns its
// connections.

func (s *Store) Set(_ context.Context, key string, val []byte, ttlSeconds int64) (bool, error) {
	now := time.Now()
	err := s.mc.Set(&memcache.Item{
		Key:        key,
		Value:      wire.Encode(val, wire.Deadline(ttlSeconds, now)),
		Expiration: expiration(ttlSeconds, now),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	it, err := s.mc.Get(key)
	if err == memcache.ErrCacheMiss {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	val, exp, derr := wire.Decode(it.Value)
	if derr != nil {
		_ = s.mc.Delete(key) // self-heal foreign or damaged bytes
		return nil, false, nil
	}
	if wire.Expired(exp, time.Now()) {
		_ = s.mc.Delete(key)
		return nil, false, nil
	}
	return val, true, nil
}

// SetMulti loops Set; the protocol has no multi-set command.
func (s *Store) SetMulti(ctx context.Context, entries []backend.Entry) (bool, error) {
	for _, e := range entries {
		if _, err := s.Set(ctx, e.Key, e.Val, e.TTLSeconds); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (s *Store) GetMulti(_ context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	items, err := s.mc.GetMulti(keys)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	out := make(map[string][]byte, len(items))
	for k, it := range items {
		val, exp, derr := wire.Decode(it.Value)
		if derr != nil || wire.Expired(exp, now) {
			_ = s.mc.Delete(k)
			continue
		}
		out[k] = val
	}
	return out, nil
}

// Incr implements float/negative increment with a CAS retry loop:
// read the entry with its CAS token, create it when absent (first write
// wins), otherwise add delta and CAS-write the result with the deadline
// rebased from the remaining TTL. Contention retries up to casAttempts with
// casRetryDelay between attempts and then fails loudly.
func (s *Store) Incr(_ context.Context, key string, delta float64) (float64, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(casRetryDelay)
		}

		it, err := s.mc.Get(key)
		if err == memcache.ErrCacheMiss {
			// A racing creator surfaces as ErrNotStored; go around again and
			// pick its value up.
			b := wire.Encode([]byte(formatFloat(delta)), 0)
			err = s.mc.Add(&memcache.Item{Key: key, Value: b})
			if err == nil {
				return delta, nil
			}
			if err == memcache.ErrNotStored {
				continue
			}
			return 0, err
		}
		if err != nil {
			return 0, err
		}

		now := time.Now()
		val, exp, derr := wire.Decode(it.Value)
		if derr != nil {
			// damaged entry; heal it and recreate on the next attempt
			_ = s.mc.Delete(key)
			continue
		}
		if wire.Expired(exp, now) {
			_ = s.mc.Delete(key)
			continue
		}

		cur, perr := strconv.ParseFloat(string(val), 64)
		if perr != nil {
			return 0, &backend.NotNumericError{Key: key, Err: perr}
		}

		next := cur + delta
		ttl := wire.Remaining(exp, now)
		it.Value = wire.Encode([]byte(formatFloat(next)), wire.Deadline(ttl, now))
		it.Expiration = expiration(ttl, now)
		switch err := s.mc.CompareAndSwap(it); err {
		case nil:
			return next, nil
		case memcache.ErrCASConflict, memcache.ErrNotStored, memcache.ErrCacheMiss:
			continue
		default:
			return 0, err
		}
	}
	return 0, &backend.CASExhaustedError{Op: "increment", Key: key, Attempts: casAttempts}
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *Store) Del(_ context.Context, key string) (bool, error) {
	err := s.mc.Delete(key)
	if err == memcache.ErrCacheMiss {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Expire rewrites only the envelope deadline (and the server-side expiration)
// with the same CAS retry loop as Incr. ttlSeconds <= 0 makes the entry
// immortal.
func (s *Store) Expire(_ context.Context, key string, ttlSeconds int64) (bool, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(casRetryDelay)
		}

		it, err := s.mc.Get(key)
		if err == memcache.ErrCacheMiss {
			return false, nil
		}
		if err != nil {
			return false, err
		}

		now := time.Now()
		val, exp, derr := wire.Decode(it.Value)
		if derr != nil {
			_ = s.mc.Delete(key)
			return false, nil
		}
		if wire.Expired(exp, now) {
			_ = s.mc.Delete(key)
			return false, nil
		}

		it.Value = wire.Encode(val, wire.Deadline(ttlSeconds, now))
		it.Expiration = expiration(ttlSeconds, now)
		switch err := s.mc.CompareAndSwap(it); err {
		case nil:
			return true, nil
		case memcache.ErrCASConflict, memcache.ErrNotStored:
			continue
		case memcache.ErrCacheMiss:
			return false, nil // deleted under us
		default:
			return false, err
		}
	}
	return false, &backend.CASExhaustedError{Op: "expire", Key: key, Attempts: casAttempts}
}

func (s *Store) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	it, err := s.mc.Get(key)
	if err == memcache.ErrCacheMiss {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	_, exp, derr := wire.Decode(it.Value)
	if derr != nil {
		_ = s.mc.Delete(key)
		return 0, false, nil
	}
	now := time.Now()
	if wire.Expired(exp, now) {
		_ = s.mc.Delete(key)
		return 0, false, nil
	}
	if exp == 0 {
		return 0, true, nil
	}
	return time.Duration(exp-now.UnixMilli()) * time.Millisecond, true, nil
}

// Close releases client connections when this adapter owns the client. Older
// gomemcache versions predate Client.Close; the assertion keeps the adapter
// building against them.
func (s *Store) Close(context.Context) error {
	if !s.closeClient {
		return nil
	}
	if c, ok := any(s.mc).(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
