// Package redis implements the backend contract over a Redis server.
//
// Redis carries native primitives for everything the contract needs, so the
// adapter is direct: INCRBYFLOAT gives float/negative increments without CAS,
// GetSet and Pop are transactional pipelines (native capabilities), PTTL gives
// millisecond TTL introspection. Values are stored as the raw bytes handed in;
// numeric payloads must be decimal text for INCRBYFLOAT to accept them.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/polycache/polycache/backend"
)

var ErrNilClient = errors.New("redis backend: nil client")

// Store is a Redis backend adapter.
type Store struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var (
	_ backend.Store     = (*Store)(nil)
	_ backend.GetSetter = (*Store)(nil)
	_ backend.Popper    = (*Store)(nil)
)

// Config wires an externally managed client.
type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this adapter exclusively owns the client
}

// New builds a Store around an existing client.
func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Store{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

// Dial connects to addr ("host:port" or a redis:// URL), verifies the server
// answers, and returns an owning Store.
func Dial(ctx context.Context, addr string) (*Store, error) {
	var opt *goredis.Options
	if strings.Contains(addr, "://") {
		var err error
		opt, err = goredis.ParseURL(addr)
		if err != nil {
			return nil, err
		}
	} else {
		opt = &goredis.Options{Addr: addr}
	}

	rdb := goredis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Store{rdb: rdb, closeClient: true}, nil
}

func ttlDur(ttlSeconds int64) time.Duration {
	if ttlSeconds <= 0 {
		return 0 // no expiry
	}
	return time.Duration(ttlSeconds) * time.Second
}

func (s *Store) Set(ctx context.Context, key string, val []byte, ttlSeconds int64) (bool, error) {
	if err := s.rdb.Set(ctx, key, val, ttlDur(ttlSeconds)).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// SetMulti pipelines one SET per entry inside a transaction. A single MSET
// cannot carry per-entry TTLs, which the contract requires.
func (s *Store) SetMulti(ctx context.Context, entries []backend.Entry) (bool, error) {
	if len(entries) == 0 {
		return true, nil
	}
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		for _, e := range entries {
			p.Set(ctx, e.Key, e.Val, ttlDur(e.TTLSeconds))
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(keys))
	for i, v := range vals {
		switch vv := v.(type) {
		case nil:
			// absent; omitted from the result
		case string:
			out[keys[i]] = []byte(vv)
		case []byte:
			out[keys[i]] = vv
		default:
			return nil, fmt.Errorf("redis mget %q: unexpected reply type %T", keys[i], v)
		}
	}
	return out, nil
}

// Incr delegates to INCRBYFLOAT: atomic server-side, accepts negative and
// fractional deltas, creates absent keys holding delta without expiry, and
// preserves an existing entry's TTL.
func (s *Store) Incr(ctx context.Context, key string, delta float64) (float64, error) {
	res, err := s.rdb.IncrByFloat(ctx, key, delta).Result()
	if err != nil {
		if strings.Contains(err.Error(), "not a valid float") {
			return 0, &backend.NotNumericError{Key: key, Err: err}
		}
		return 0, err
	}
	return res, nil
}

// Keys walks the whole keyspace with SCAN. The cursor-based scan is safe for
// the server but only weakly consistent: keys written or removed mid-scan may
// or may not appear.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var out []string
	it := s.rdb.Scan(ctx, 0, "*", 0).Iterator()
	for it.Next(ctx) {
		out = append(out, it.Val())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Del(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Del(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Expire with ttlSeconds <= 0 issues PERSIST, not "EXPIRE 0": the latter
// would delete the key instead of making it immortal.
func (s *Store) Expire(ctx context.Context, key string, ttlSeconds int64) (bool, error) {
	if ttlSeconds <= 0 {
		persisted, err := s.rdb.Persist(ctx, key).Result()
		if err != nil {
			return false, err
		}
		if persisted {
			return true, nil
		}
		// PERSIST is false both for absent keys and for keys that already had
		// no expiry; the contract wants existence.
		n, err := s.rdb.Exists(ctx, key).Result()
		if err != nil {
			return false, err
		}
		return n > 0, nil
	}
	return s.rdb.Expire(ctx, key, ttlDur(ttlSeconds)).Result()
}

// TTL translates PTTL's tri-state reply: -2 = absent, -1 = exists without
// expiry (reported as 0), otherwise the millisecond remainder.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	d, err := s.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, false, err
	}
	switch d {
	case -2:
		return 0, false, nil
	case -1:
		return 0, true, nil
	default:
		return d, true, nil
	}
}

// GetSet runs GET then SET inside one MULTI/EXEC, returning the pre-swap
// value atomically.
func (s *Store) GetSet(ctx context.Context, key string, val []byte, ttlSeconds int64) ([]byte, bool, error) {
	var getCmd *goredis.StringCmd
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		getCmd = p.Get(ctx, key)
		p.Set(ctx, key, val, ttlDur(ttlSeconds))
		return nil
	})
	if err != nil && err != goredis.Nil {
		return nil, false, err
	}

	old, err := getCmd.Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return old, true, nil
}

// Pop runs GET then DEL inside one MULTI/EXEC, returning the pre-delete value
// atomically.
func (s *Store) Pop(ctx context.Context, key string) ([]byte, bool, error) {
	var getCmd *goredis.StringCmd
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		getCmd = p.Get(ctx, key)
		p.Del(ctx, key)
		return nil
	})
	if err != nil && err != goredis.Nil {
		return nil, false, err
	}

	old, err := getCmd.Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return old, true, nil
}

// Close releases the underlying client only when this adapter owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (s *Store) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
