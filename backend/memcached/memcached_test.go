package memcached

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/polycache/polycache/backend"
)

// ==============================
// Unit tests (no server)
// ==============================

func TestNewRejectsNilClient(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNilClient) {
		t.Fatalf("expected ErrNilClient, got %v", err)
	}
}

func TestKeysRequiresAddrs(t *testing.T) {
	s, err := New(Config{Client: memcache.New("127.0.0.1:11211")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Keys(context.Background()); !errors.Is(err, ErrNoAddrs) {
		t.Fatalf("expected ErrNoAddrs, got %v", err)
	}
}

func TestExpirationEncoding(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cases := []struct {
		ttl  int64
		want int32
	}{
		{0, 0},
		{-1, 0},
		{60, 60},
		{maxRelativeTTL, maxRelativeTTL},
		// beyond 30 days the server reads the field as absolute epoch seconds
		{maxRelativeTTL + 1, int32(now.Unix() + maxRelativeTTL + 1)},
	}
	for _, tc := range cases {
		if got := expiration(tc.ttl, now); got != tc.want {
			t.Fatalf("expiration(%d) = %d, want %d", tc.ttl, got, tc.want)
		}
	}
}

func TestFormatFloatIsDecimalText(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{5, "5"},
		{-2, "-2"},
		{3.5, "3.5"},
		{0, "0"},
	}
	for _, tc := range cases {
		if got := formatFloat(tc.in); got != tc.want {
			t.Fatalf("formatFloat(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func cannedRW(response string) *bufio.ReadWriter {
	return bufio.NewReadWriter(
		bufio.NewReader(strings.NewReader(response)),
		bufio.NewWriter(io.Discard),
	)
}

func TestListSlabsParsesStatsItems(t *testing.T) {
	resp := "STAT items:1:number 2\r\n" +
		"STAT items:1:age 12\r\n" +
		"STAT items:5:number 1\r\n" +
		"END\r\n"
	got, err := listSlabs(cannedRW(resp))
	if err != nil {
		t.Fatalf("listSlabs: %v", err)
	}
	if !reflect.DeepEqual(got, []int{1, 5}) {
		t.Fatalf("slabs = %v, want [1 5]", got)
	}
}

func TestListSlabsEmpty(t *testing.T) {
	got, err := listSlabs(cannedRW("END\r\n"))
	if err != nil || len(got) != 0 {
		t.Fatalf("empty stats: got=%v err=%v", got, err)
	}
}

func TestDumpSlabParsesItems(t *testing.T) {
	resp := "ITEM pc:a [9 b; 0 s]\r\n" +
		"ITEM pc:b [12 b; 1735689600 s]\r\n" +
		"END\r\n"
	got, err := dumpSlab(cannedRW(resp), 1)
	if err != nil {
		t.Fatalf("dumpSlab: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"pc:a", "pc:b"}) {
		t.Fatalf("keys = %v", got)
	}
}

func TestScanSurfacesServerRefusal(t *testing.T) {
	if _, err := dumpSlab(cannedRW("CLIENT_ERROR stats cachedump not allowed\r\n"), 1); err == nil {
		t.Fatalf("expected error when server refuses cachedump")
	}
}

// ==============================
// Integration tests (live server)
// ==============================

func newLiveStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("MEMCACHED_ADDR")
	if addr == "" {
		addr = "localhost:11211"
	}
	s, err := Dial(addr)
	if err != nil {
		t.Skipf("memcached not available, skipping: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

// testKey isolates tests sharing one server.
func testKey(t *testing.T, suffix string) string {
	t.Helper()
	return fmt.Sprintf("pc:%s:%s:%d", t.Name(), suffix, time.Now().UnixNano())
}

func TestLiveSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newLiveStore(t)
	key := testKey(t, "rt")
	defer s.Del(ctx, key)

	if _, ok, err := s.Get(ctx, key); err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
	if ok, err := s.Set(ctx, key, []byte("v"), 0); err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	got, ok, err := s.Get(ctx, key)
	if err != nil || !ok || string(got) != "v" {
		t.Fatalf("Get: got=%q ok=%v err=%v", got, ok, err)
	}
}

func TestLiveEnvelopeTTLExpires(t *testing.T) {
	ctx := context.Background()
	s := newLiveStore(t)
	key := testKey(t, "ttl")
	defer s.Del(ctx, key)

	_, _ = s.Set(ctx, key, []byte("v"), 1)
	if _, ok, _ := s.Get(ctx, key); !ok {
		t.Fatalf("entry should be live before expiry")
	}
	time.Sleep(1100 * time.Millisecond)
	// The envelope deadline hides the entry even if the server's own
	// one-second-granular expiry has not fired yet.
	if _, ok, _ := s.Get(ctx, key); ok {
		t.Fatalf("entry should have expired")
	}
}

func TestLiveIncr(t *testing.T) {
	ctx := context.Background()
	s := newLiveStore(t)

	t.Run("creates_then_adds", func(t *testing.T) {
		key := testKey(t, "n")
		defer s.Del(ctx, key)

		if got, err := s.Incr(ctx, key, 5); err != nil || got != 5 {
			t.Fatalf("Incr create: got=%v err=%v", got, err)
		}
		if got, err := s.Incr(ctx, key, -2); err != nil || got != 3 {
			t.Fatalf("Incr -2: got=%v err=%v", got, err)
		}
		if got, err := s.Incr(ctx, key, 0.5); err != nil || got != 3.5 {
			t.Fatalf("Incr 0.5: got=%v err=%v", got, err)
		}
		// created without expiry
		if d, ok, _ := s.TTL(ctx, key); !ok || d != 0 {
			t.Fatalf("created entry should have no expiry, d=%v ok=%v", d, ok)
		}
	})

	t.Run("non_numeric", func(t *testing.T) {
		key := testKey(t, "s")
		defer s.Del(ctx, key)

		_, _ = s.Set(ctx, key, []byte(`"text"`), 0)
		_, err := s.Incr(ctx, key, 1)
		var nn *backend.NotNumericError
		if !errors.As(err, &nn) || nn.Key != key {
			t.Fatalf("expected NotNumericError, got %v", err)
		}
	})

	t.Run("preserves_ttl", func(t *testing.T) {
		key := testKey(t, "t")
		defer s.Del(ctx, key)

		_, _ = s.Set(ctx, key, []byte("10"), 60)
		if _, err := s.Incr(ctx, key, 1); err != nil {
			t.Fatalf("Incr: %v", err)
		}
		d, ok, _ := s.TTL(ctx, key)
		// the rebased deadline rounds to whole seconds
		if !ok || d <= 0 || d > 61*time.Second {
			t.Fatalf("Incr should keep remaining ttl, d=%v ok=%v", d, ok)
		}
	})
}

func TestLiveIncrConcurrent(t *testing.T) {
	ctx := context.Background()
	s := newLiveStore(t)
	key := testKey(t, "ctr")
	defer s.Del(ctx, key)

	const workers = 4
	const perWorker = 25

	var wg sync.WaitGroup
	var applied atomic.Int64
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				for {
					_, err := s.Incr(ctx, key, 1)
					if err == nil {
						applied.Add(1)
						break
					}
					var ce *backend.CASExhaustedError
					if errors.As(err, &ce) {
						continue // contended; retry the way a caller would
					}
					t.Errorf("Incr: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get after increments: ok=%v err=%v", ok, err)
	}
	got, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	if int64(got) != applied.Load() {
		t.Fatalf("counter = %v, want %d (no lost updates)", got, applied.Load())
	}
}

func TestLiveExpireTransitions(t *testing.T) {
	ctx := context.Background()
	s := newLiveStore(t)
	key := testKey(t, "exp")
	defer s.Del(ctx, key)

	if ok, _ := s.Expire(ctx, testKey(t, "absent"), 10); ok {
		t.Fatalf("Expire on absent key should be false")
	}

	_, _ = s.Set(ctx, key, []byte("v"), 0)
	if ok, err := s.Expire(ctx, key, 60); err != nil || !ok {
		t.Fatalf("Expire: ok=%v err=%v", ok, err)
	}
	if d, ok, _ := s.TTL(ctx, key); !ok || d <= 0 || d > time.Minute {
		t.Fatalf("ttl after Expire: d=%v ok=%v", d, ok)
	}

	// ttl 0 removes the expiry
	if ok, err := s.Expire(ctx, key, 0); err != nil || !ok {
		t.Fatalf("Expire(0): ok=%v err=%v", ok, err)
	}
	if d, ok, _ := s.TTL(ctx, key); !ok || d != 0 {
		t.Fatalf("expected immortal entry after Expire(0), d=%v ok=%v", d, ok)
	}
}

func TestLiveExpireShortensLifetime(t *testing.T) {
	ctx := context.Background()
	s := newLiveStore(t)
	key := testKey(t, "short")
	defer s.Del(ctx, key)

	_, _ = s.Set(ctx, key, []byte("v"), 0)
	if ok, _ := s.Expire(ctx, key, 1); !ok {
		t.Fatalf("Expire(1) should succeed")
	}
	time.Sleep(1100 * time.Millisecond)
	if _, ok, _ := s.Get(ctx, key); ok {
		t.Fatalf("entry should have expired after shortened ttl")
	}
}

func TestLiveGetMulti(t *testing.T) {
	ctx := context.Background()
	s := newLiveStore(t)
	ka, kb := testKey(t, "a"), testKey(t, "b")
	defer s.Del(ctx, ka)
	defer s.Del(ctx, kb)

	ok, err := s.SetMulti(ctx, []backend.Entry{
		{Key: ka, Val: []byte("1")},
		{Key: kb, Val: []byte("2"), TTLSeconds: 60},
	})
	if err != nil || !ok {
		t.Fatalf("SetMulti: ok=%v err=%v", ok, err)
	}

	got, err := s.GetMulti(ctx, []string{ka, kb, testKey(t, "missing")})
	if err != nil {
		t.Fatalf("GetMulti: %v", err)
	}
	if len(got) != 2 || string(got[ka]) != "1" || string(got[kb]) != "2" {
		t.Fatalf("GetMulti: got=%v", got)
	}
}

func TestLiveCorruptEntrySelfHeals(t *testing.T) {
	ctx := context.Background()
	s := newLiveStore(t)
	key := testKey(t, "bad")
	defer s.Del(ctx, key)

	// foreign bytes written around the adapter
	if err := s.mc.Set(&memcache.Item{Key: key, Value: []byte("not-wire-format")}); err != nil {
		t.Fatalf("raw set: %v", err)
	}
	if _, ok, err := s.Get(ctx, key); err != nil || ok {
		t.Fatalf("Get on corrupt should miss, ok=%v err=%v", ok, err)
	}
	if _, err := s.mc.Get(key); err != memcache.ErrCacheMiss {
		t.Fatalf("corrupt entry was not deleted by self-heal: %v", err)
	}
}

func TestLiveKeysBestEffortScan(t *testing.T) {
	ctx := context.Background()
	s := newLiveStore(t)
	key := testKey(t, "scan")
	_, _ = s.Set(ctx, key, []byte("v"), 0)
	defer s.Del(ctx, key)

	ks, err := s.Keys(ctx)
	if err != nil {
		t.Skipf("server refused cachedump scan: %v", err)
	}
	// Dump visibility lags writes and caps per slab; the fresh key is not
	// guaranteed to appear. The scan must at least complete cleanly.
	t.Logf("scan returned %d keys", len(ks))
}
