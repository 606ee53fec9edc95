package polycache

import (
	"context"
	"time"

	"github.com/polycache/polycache/backend"
	c "github.com/polycache/polycache/codec"
)

// Cache is the high-level, backend-agnostic cache API. One Cache owns one
// namespace; instances with different namespaces can share a store without
// seeing each other's entries. Values are dynamically typed and round-trip
// through the configured Codec.
type Cache interface {
	// Single
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (v any, ok bool, err error)
	Set(ctx context.Context, key string, value any, t Timeout) error
	Delete(ctx context.Context, key string) (bool, error)

	// Bulk (per-entry timeouts; order-agnostic results)
	Keys(ctx context.Context) ([]string, error)
	GetMulti(ctx context.Context, keys []string) (map[string]any, error)
	SetMulti(ctx context.Context, entries []Entry) error
	DeleteMulti(ctx context.Context, keys []string) (removed int, err error)

	// Numeric (decimal-text storage; works across backends)
	Increment(ctx context.Context, key string, delta float64) (float64, error)

	// Optional capabilities; composed from get+set / get+del when the
	// backend lacks them, at the cost of atomicity
	GetSet(ctx context.Context, key string, value any, t Timeout) (prev any, ok bool, err error)
	GetDelete(ctx context.Context, key string) (v any, ok bool, err error)

	// Expiry management
	SetTimeout(ctx context.Context, key string, t Timeout) (bool, error)
	GetTimeout(ctx context.Context, key string) (time.Duration, bool, error)
	RemoveTimeout(ctx context.Context, key string) (bool, error)

	Close(ctx context.Context) error
}

// Entry is one key/value pair for SetMulti. A zero Timeout resolves to the
// service default, same as Set.
type Entry struct {
	Key     string
	Val     any
	Timeout Timeout
}

// Options tune the service.
// Only Namespace and Store are required; others have sensible defaults.
type Options struct {
	// Required
	Namespace string // logical namespace to avoid collisions. e.g. "user", "profile", "order"
	Store     backend.Store

	Codec      c.Codec       // if nil, codec.JSON{}
	Logger     Logger        // if nil, NopLogger is used
	Hooks      Hooks         // if nil, NopHooks is used
	DefaultTTL time.Duration // applied when an op's Timeout is unset; 0 => no expiry
}

// New builds a Cache that owns opts.Store: closing the Cache closes the
// store. Conflicting owners should hold the store behind their own lifecycle
// and pass adapter-level ownership flags instead.
func New(opts Options) (Cache, error) {
	return newService(opts, true)
}
