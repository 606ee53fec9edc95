package polycache

import "time"

type timeoutKind uint8

const (
	timeoutUnset timeoutKind = iota
	timeoutIn
	timeoutAt
	timeoutNever
)

// Timeout says when a cache entry expires. The zero value is "unset" and
// resolves to the service's default timeout.
//
// Stores count whole seconds; fractional durations round up so an entry never
// expires before the instant it was promised.
type Timeout struct {
	kind timeoutKind
	d    time.Duration
	at   time.Time
}

// NoExpiry keeps the entry until it is deleted or evicted.
var NoExpiry = Timeout{kind: timeoutNever}

// ExpireIn expires the entry d after the write. d <= 0 means no expiry.
func ExpireIn(d time.Duration) Timeout {
	if d <= 0 {
		return NoExpiry
	}
	return Timeout{kind: timeoutIn, d: d}
}

// ExpireAt expires the entry at the wall-clock instant t. Instants at or
// before the write clamp to one second, the shortest expiry stores accept,
// rather than silently becoming immortal.
func ExpireAt(t time.Time) Timeout {
	return Timeout{kind: timeoutAt, at: t}
}

// IsZero reports whether t is the unset Timeout.
func (t Timeout) IsZero() bool { return t.kind == timeoutUnset }

// seconds converts t into the whole-second TTL backends consume; 0 = no
// expiry. The service substitutes its default before calling this on an
// unset Timeout.
func (t Timeout) seconds(now time.Time) int64 {
	switch t.kind {
	case timeoutIn:
		return ceilSeconds(t.d)
	case timeoutAt:
		left := t.at.Sub(now)
		if left <= 0 {
			return 1
		}
		return ceilSeconds(left)
	default:
		return 0
	}
}

func ceilSeconds(d time.Duration) int64 {
	s := int64(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}
