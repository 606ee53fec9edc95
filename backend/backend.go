// Package backend defines the storage contract satisfied by every cache
// backend adapter.
//
// Adapters MUST be byte-for-byte transparent: Get must return exactly the same
// []byte that was previously passed to Set for a key (no prepended/appended
// metadata leaking out, no re-encoding, no mutation). Adapters that frame
// values internally (self-tracked expiry envelopes) MUST fully reverse the
// framing before returning bytes.
//
// TTLs are whole seconds; ttlSeconds <= 0 always means "no expiry". Numeric
// payloads are decimal text (what a JSON encoder produces for numbers); that
// convention is what makes Incr interoperable across backends, including
// Redis INCRBYFLOAT.
//
// GetSet and Pop are optional capabilities, not part of Store: a backend
// implements them only when it can honor their atomicity natively. Callers
// discover them by type assertion and otherwise compose the same observable
// behavior from Get+Set / Get+Del, losing atomicity for that backend.
package backend

import (
	"context"
	"fmt"
	"time"
)

// Entry is the unit of a batch write. TTLSeconds <= 0 stores without expiry.
type Entry struct {
	Key        string
	Val        []byte
	TTLSeconds int64
}

// Store is the capability contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Set stores val under key. Returns ok=false (with nil error) when the
	// store refused the write under pressure; that is an admission decision,
	// not a failure.
	Set(ctx context.Context, key string, val []byte, ttlSeconds int64) (ok bool, err error)

	// Get returns (val, true, nil) on hit and (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// SetMulti stores every entry, each with its own TTL.
	SetMulti(ctx context.Context, entries []Entry) (ok bool, err error)

	// GetMulti returns the present keys only; absent keys are simply omitted.
	GetMulti(ctx context.Context, keys []string) (map[string][]byte, error)

	// Incr atomically adds delta to the numeric value stored at key and
	// returns the result. An absent key is created holding delta, without
	// expiry; an existing entry keeps its remaining TTL. A non-numeric stored
	// value fails with *NotNumericError.
	Incr(ctx context.Context, key string, delta float64) (float64, error)

	// Keys lists stored keys. Consistency is backend-specific; see each
	// adapter for how reliable the listing is.
	Keys(ctx context.Context) ([]string, error)

	// Has reports whether key holds an unexpired entry.
	Has(ctx context.Context, key string) (bool, error)

	// Del removes key, reporting whether an entry existed.
	Del(ctx context.Context, key string) (bool, error)

	// Expire rewrites key's TTL. ttlSeconds <= 0 removes the expiry (the
	// entry becomes immortal); it never deletes. Returns false when key does
	// not exist.
	Expire(ctx context.Context, key string, ttlSeconds int64) (bool, error)

	// TTL returns the remaining lifetime of key. (0, true, nil) means the key
	// exists without expiry; (0, false, nil) means it does not exist.
	TTL(ctx context.Context, key string) (time.Duration, bool, error)

	// Close releases adapter resources.
	Close(ctx context.Context) error
}

// GetSetter is the optional atomic swap capability: store val and return the
// previous value in one step.
type GetSetter interface {
	GetSet(ctx context.Context, key string, val []byte, ttlSeconds int64) (old []byte, existed bool, err error)
}

// Popper is the optional atomic read-and-delete capability.
type Popper interface {
	Pop(ctx context.Context, key string) (old []byte, existed bool, err error)
}

// NotNumericError reports an Incr against a key whose stored value is not
// decimal numeric text.
type NotNumericError struct {
	Key string
	Err error // underlying parse/server error, may be nil
}

func (e *NotNumericError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("increment %q: stored value is not numeric: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("increment %q: stored value is not numeric", e.Key)
}

func (e *NotNumericError) Unwrap() error { return e.Err }

// CASExhaustedError reports a compare-and-swap retry loop that gave up after
// its attempt budget. Exhaustion is a loud failure, never a silent fallback
// to a non-atomic write.
type CASExhaustedError struct {
	Op       string // "increment" or "expire"
	Key      string
	Attempts int
}

func (e *CASExhaustedError) Error() string {
	return fmt.Sprintf("failed to %s %q: cas contention after %d attempts", e.Op, e.Key, e.Attempts)
}
