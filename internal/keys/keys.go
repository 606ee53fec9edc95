// Package keys shapes the namespaced key form shared by the cache facade.
//
// Keys travel to the backend as "<ns>::<key>". The separator is reserved:
// namespaces must not contain it (the facade rejects them), while raw keys may
// (Match cuts the prefix, it does not split on the separator, so such keys
// still round-trip through keys()).
package keys

import "strings"

// Sep separates the namespace from the raw key.
const Sep = "::"

// Join returns the namespaced storage form of key.
func Join(ns, key string) string {
	return ns + Sep + key
}

// Match reports whether full belongs to ns and, if so, returns the raw key.
func Match(full, ns string) (string, bool) {
	return strings.CutPrefix(full, ns+Sep)
}

// ValidNamespace reports whether ns can be used without breaking keys()
// round-tripping.
func ValidNamespace(ns string) bool {
	return ns != "" && !strings.Contains(ns, Sep)
}
