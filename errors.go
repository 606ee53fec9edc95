package polycache

import "errors"

// ErrEmptyKey is returned by every operation handed an empty key, before any
// backend I/O happens. Batch operations report the offending position too.
var ErrEmptyKey = errors.New("polycache: empty key")
