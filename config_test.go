package polycache

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.yaml")
	doc := "type: memcached\nendpoint: \"cache1:11211, cache2:11211\"\nns: app\ndef_timeout: 30\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := Config{Type: "memcached", Endpoint: "cache1:11211, cache2:11211", Namespace: "app", DefTimeout: 30}
	if *cfg != want {
		t.Fatalf("LoadConfig = %+v, want %+v", *cfg, want)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for a missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(bad, []byte("::not yaml"), 0o600)
	if _, err := LoadConfig(bad); err == nil {
		t.Fatalf("expected error for unparseable yaml")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	cfg := Config{Endpoint: "file:11211", DefTimeout: 10}

	t.Setenv("POLYCACHE_ENDPOINT", "env:6379")
	t.Setenv("POLYCACHE_DEF_TIMEOUT", "120")
	cfg.FromEnv()
	if cfg.Endpoint != "env:6379" || cfg.DefTimeout != 120 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}

	// junk in the environment never clobbers a working value
	t.Setenv("POLYCACHE_DEF_TIMEOUT", "soon")
	cfg.FromEnv()
	if cfg.DefTimeout != 120 {
		t.Fatalf("unparseable timeout should be ignored, got %d", cfg.DefTimeout)
	}
}

func TestOpenDefaultsToMemory(t *testing.T) {
	ctx := context.Background()
	cc, err := Open(ctx, Config{Namespace: "cfg-mem"}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cc.Close(ctx)

	if err := cc.Set(ctx, "k", "v", NoExpiry); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok, _ := cc.Get(ctx, "k"); !ok || v != "v" {
		t.Fatalf("round trip through Open store failed: v=%v ok=%v", v, ok)
	}

	// each Open gets a private store, never the shared Dummy one
	other, err := Open(ctx, Config{Type: "memory", Namespace: "cfg-mem"}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer other.Close(ctx)
	if _, ok, _ := other.Get(ctx, "k"); ok {
		t.Fatalf("separate Opens must not share data")
	}
}

func TestOpenRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cc, err := Open(ctx, Config{Type: "redis", Endpoint: mr.Addr(), Namespace: "cfg-redis", DefTimeout: 60}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cc.Close(ctx)

	if err := cc.Set(ctx, "k", float64(1), Timeout{}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok, _ := cc.Get(ctx, "k"); !ok || v != float64(1) {
		t.Fatalf("redis round trip: v=%v ok=%v", v, ok)
	}
	if d, ok, _ := cc.GetTimeout(ctx, "k"); !ok || d <= 0 {
		t.Fatalf("def_timeout not applied through Open: d=%v ok=%v", d, ok)
	}
}

func TestOpenRejectsBadConfigs(t *testing.T) {
	ctx := context.Background()

	if _, err := Open(ctx, Config{Type: "tape", Namespace: "x"}, nil); err == nil || !strings.Contains(err.Error(), "unknown cache type") {
		t.Fatalf("expected unknown type error, got %v", err)
	}
	if _, err := Open(ctx, Config{Type: "memcached", Namespace: "x"}, nil); err == nil {
		t.Fatalf("memcached without endpoint should error")
	}
	if _, err := Open(ctx, Config{Type: "redis", Namespace: "x"}, nil); err == nil {
		t.Fatalf("redis without endpoint should error")
	}
	// store validation failures close the freshly opened store
	if _, err := Open(ctx, Config{Type: "memory"}, nil); err == nil {
		t.Fatalf("missing namespace should error")
	}
}

func TestSplitAddrs(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"host:11211", []string{"host:11211"}},
		{"a:11211, b:11211", []string{"a:11211", "b:11211"}},
		{"a:11211,,b:11211, ", []string{"a:11211", "b:11211"}},
	}
	for _, tc := range cases {
		if got := splitAddrs(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("splitAddrs(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
