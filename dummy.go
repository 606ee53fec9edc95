package polycache

import (
	"fmt"
	"sync"

	"github.com/polycache/polycache/backend/memory"
)

var (
	sharedOnce  sync.Once
	sharedStore *memory.Store
)

// sharedMemory lazily builds the one store every Dummy in the process
// attaches to.
func sharedMemory() *memory.Store {
	sharedOnce.Do(func() {
		sharedStore = memory.New(memory.Config{})
	})
	return sharedStore
}

// Dummy returns a Cache bound to a single process-wide in-memory store: all
// Dummy instances read and write the same data (namespaces still partition
// it). Meant for tests and for running with caching effectively "off"
// without stubbing call sites. Closing a Dummy never closes the shared
// store.
func Dummy(opts Options) (Cache, error) {
	if opts.Store != nil {
		return nil, fmt.Errorf("polycache: Dummy brings its own store; Options.Store must be nil")
	}
	opts.Store = sharedMemory()
	return newService(opts, false)
}
