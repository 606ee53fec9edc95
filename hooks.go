package polycache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// An entry was deleted by the cache on read.
	// reason ∈ {"decode_error"}
	SelfHeal(storageKey, reason string)

	// Store returned ok=false on Set (backpressure/admission).
	SetRejected(storageKey string)

	// A capability the backend lacks was synthesized from separate reads and
	// writes, so the operation was not atomic.
	// op ∈ {"getset", "getdelete"}
	ComposedFallback(op, storageKey string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)         {}
func (NopHooks) SetRejected(string)              {}
func (NopHooks) ComposedFallback(string, string) {}
