package polycache

import (
	"context"
	"fmt"
	"time"

	"github.com/polycache/polycache/backend"
	c "github.com/polycache/polycache/codec"
	ikeys "github.com/polycache/polycache/internal/keys"
)

type service struct {
	ns        string
	store     backend.Store
	codec     c.Codec
	log       Logger
	hooks     Hooks
	defTTL    time.Duration
	ownsStore bool
}

var _ Cache = (*service)(nil)

func newService(opts Options, ownsStore bool) (*service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("polycache: store is required")
	}
	if !ikeys.ValidNamespace(opts.Namespace) {
		return nil, fmt.Errorf("polycache: namespace is required and must not contain %q", ikeys.Sep)
	}

	s := &service{
		ns:        opts.Namespace,
		store:     opts.Store,
		defTTL:    opts.DefaultTTL,
		ownsStore: ownsStore,
	}

	// defaults
	s.codec = coalesce[c.Codec](opts.Codec, c.JSON{})
	s.log = coalesce[Logger](opts.Logger, NopLogger{})
	s.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})

	return s, nil
}

func (s *service) storageKey(userKey string) string {
	// isolate by namespace
	return ikeys.Join(s.ns, userKey)
}

// ttlSeconds resolves a Timeout into the whole-second TTL backends consume.
// Unset timeouts take the service default.
func (s *service) ttlSeconds(t Timeout, now time.Time) int64 {
	if t.IsZero() {
		t = ExpireIn(s.defTTL) // defTTL <= 0 => no expiry
	}
	return t.seconds(now)
}

// decodeOrHeal turns stored bytes back into a value. Undecodable bytes are
// deleted and reported as a miss so one bad entry cannot wedge its key.
func (s *service) decodeOrHeal(ctx context.Context, storageKey string, raw []byte) (any, bool, error) {
	v, err := s.codec.Decode(raw)
	if err != nil {
		_, _ = s.store.Del(ctx, storageKey) // self-heal corrupt
		s.log.Warn("dropped undecodable entry", Fields{"key": storageKey, "err": err})
		s.hooks.SelfHeal(storageKey, "decode_error")
		return nil, false, nil
	}
	return v, true, nil
}

// decodePrev decodes a value already displaced from its slot (swapped out or
// deleted). There is nothing left to heal, so failures just drop the prior
// value.
func (s *service) decodePrev(storageKey string, raw []byte) (any, bool) {
	v, err := s.codec.Decode(raw)
	if err != nil {
		s.log.Warn("dropped undecodable previous value", Fields{"key": storageKey, "err": err})
		return nil, false
	}
	return v, true
}

func (s *service) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	return s.store.Has(ctx, s.storageKey(key))
}

func (s *service) Get(ctx context.Context, key string) (any, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	k := s.storageKey(key)
	raw, ok, err := s.store.Get(ctx, k)
	if err != nil || !ok {
		return nil, false, err
	}
	return s.decodeOrHeal(ctx, k, raw)
}

func (s *service) Set(ctx context.Context, key string, value any, t Timeout) error {
	if key == "" {
		return ErrEmptyKey
	}
	payload, err := s.codec.Encode(value)
	if err != nil {
		return err
	}
	k := s.storageKey(key)
	ok, err := s.store.Set(ctx, k, payload, s.ttlSeconds(t, time.Now()))
	if err != nil {
		return err
	}
	if !ok {
		s.log.Debug("set rejected by store (pressure)", Fields{"key": key})
		s.hooks.SetRejected(k)
	}
	return nil
}

func (s *service) Delete(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	return s.store.Del(ctx, s.storageKey(key))
}

// Keys lists this namespace's keys with the prefix stripped. Guarantees are
// the backend's: memory and bigcache enumerate exactly, redis scans, and
// memcached's stats dump is best-effort.
func (s *service) Keys(ctx context.Context) ([]string, error) {
	all, err := s.store.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for _, full := range all {
		if k, ok := ikeys.Match(full, s.ns); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *service) GetMulti(ctx context.Context, keys []string) (map[string]any, error) {
	out := make(map[string]any, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	storage := make([]string, len(keys))
	for i, k := range keys {
		if k == "" {
			return nil, fmt.Errorf("key %d: %w", i, ErrEmptyKey)
		}
		storage[i] = s.storageKey(k)
	}
	hits, err := s.store.GetMulti(ctx, storage)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		raw, ok := hits[storage[i]]
		if !ok {
			continue
		}
		if v, ok, _ := s.decodeOrHeal(ctx, storage[i], raw); ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *service) SetMulti(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now()
	batch := make([]backend.Entry, 0, len(entries))
	for i, e := range entries {
		if e.Key == "" {
			return fmt.Errorf("entry %d: %w", i, ErrEmptyKey)
		}
		payload, err := s.codec.Encode(e.Val)
		if err != nil {
			return fmt.Errorf("entry %d (%q): %w", i, e.Key, err)
		}
		batch = append(batch, backend.Entry{
			Key:        s.storageKey(e.Key),
			Val:        payload,
			TTLSeconds: s.ttlSeconds(e.Timeout, now),
		})
	}
	ok, err := s.store.SetMulti(ctx, batch)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Debug("bulk set not fully admitted", Fields{"namespace": s.ns, "count": len(entries)})
	}
	return nil
}

// DeleteMulti removes keys one by one, reporting how many held live entries.
// The first backend error stops the walk; the count covers what was removed
// up to that point.
func (s *service) DeleteMulti(ctx context.Context, keys []string) (int, error) {
	removed := 0
	for i, k := range keys {
		if k == "" {
			return removed, fmt.Errorf("key %d: %w", i, ErrEmptyKey)
		}
		ok, err := s.store.Del(ctx, s.storageKey(k))
		if err != nil {
			return removed, fmt.Errorf("delete %q: %w", k, err)
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// Increment delegates to the backend, which guarantees its own atomicity
// (mutex in-process, CAS loop on memcached, INCRBYFLOAT on redis). Values
// are decimal text, so a counter written by Set("5") increments cleanly.
func (s *service) Increment(ctx context.Context, key string, delta float64) (float64, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}
	return s.store.Incr(ctx, s.storageKey(key), delta)
}

func (s *service) GetSet(ctx context.Context, key string, value any, t Timeout) (any, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	payload, err := s.codec.Encode(value)
	if err != nil {
		return nil, false, err
	}
	k := s.storageKey(key)
	ttl := s.ttlSeconds(t, time.Now())

	if gs, ok := s.store.(backend.GetSetter); ok {
		raw, had, err := gs.GetSet(ctx, k, payload, ttl)
		if err != nil || !had {
			return nil, false, err
		}
		v, ok := s.decodePrev(k, raw)
		return v, ok, nil
	}

	// no native swap; read then write, not atomic across the two steps
	s.log.Debug("getset composed from get+set", Fields{"key": key})
	s.hooks.ComposedFallback("getset", k)
	prev, had, err := s.store.Get(ctx, k)
	if err != nil {
		return nil, false, err
	}
	ok, err := s.store.Set(ctx, k, payload, ttl)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		s.log.Debug("set rejected by store (pressure)", Fields{"key": key})
		s.hooks.SetRejected(k)
	}
	if !had {
		return nil, false, nil
	}
	v, ok := s.decodePrev(k, prev)
	return v, ok, nil
}

func (s *service) GetDelete(ctx context.Context, key string) (any, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	k := s.storageKey(key)

	if p, ok := s.store.(backend.Popper); ok {
		raw, had, err := p.Pop(ctx, k)
		if err != nil || !had {
			return nil, false, err
		}
		v, ok := s.decodePrev(k, raw)
		return v, ok, nil
	}

	// no native pop; read then delete, not atomic across the two steps
	s.log.Debug("getdelete composed from get+del", Fields{"key": key})
	s.hooks.ComposedFallback("getdelete", k)
	raw, had, err := s.store.Get(ctx, k)
	if err != nil || !had {
		return nil, false, err
	}
	if _, err := s.store.Del(ctx, k); err != nil {
		return nil, false, err
	}
	v, ok := s.decodePrev(k, raw)
	return v, ok, nil
}

func (s *service) SetTimeout(ctx context.Context, key string, t Timeout) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	return s.store.Expire(ctx, s.storageKey(key), s.ttlSeconds(t, time.Now()))
}

func (s *service) GetTimeout(ctx context.Context, key string) (time.Duration, bool, error) {
	if key == "" {
		return 0, false, ErrEmptyKey
	}
	return s.store.TTL(ctx, s.storageKey(key))
}

func (s *service) RemoveTimeout(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	return s.store.Expire(ctx, s.storageKey(key), 0)
}

// Close releases the store when this service owns it. Dummy services share a
// process-wide store and never own it.
func (s *service) Close(ctx context.Context) error {
	if !s.ownsStore {
		return nil
	}
	return s.store.Close(ctx)
}
