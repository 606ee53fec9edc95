// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/polycache/polycache"
//	"github.com/polycache/polycache/backend/redis"
//	"github.com/polycache/polycache/hooks/async"
//	"github.com/polycache/polycache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery: 10, // sample logs: ~every 10th self-heal
//	    FallbackEvery: 1,  // log every composed fallback
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cache, _ := polycache.New(polycache.Options{
//	    Namespace: "app:prod:user",
//	    Store:     store,
//	    Hooks:     hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"

	"github.com/polycache/polycache"
)

type Hooks struct {
	inner polycache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ polycache.Hooks = (*Hooks)(nil)

func New(inner polycache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) SelfHeal(k, r string)          { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) SetRejected(k string)          { h.try(func() { h.inner.SetRejected(k) }) }
func (h *Hooks) ComposedFallback(op, k string) { h.try(func() { h.inner.ComposedFallback(op, k) }) }
