package polycache

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polycache/polycache/backend"
	"github.com/polycache/polycache/backend/memcached"
	"github.com/polycache/polycache/backend/memory"
	"github.com/polycache/polycache/backend/redis"
)

// Config selects and parameterizes a backend. Type defaults to "memory";
// Namespace is always required.
type Config struct {
	Type       string `yaml:"type" json:"type"`               // "memory" (default), "memcached", "redis"
	Endpoint   string `yaml:"endpoint" json:"endpoint"`       // host:port or URL; required for memcached/redis
	Namespace  string `yaml:"ns" json:"ns"`                   // facade namespace
	DefTimeout int64  `yaml:"def_timeout" json:"def_timeout"` // seconds; 0 = no default expiry
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// FromEnv applies environment overrides: POLYCACHE_ENDPOINT and
// POLYCACHE_DEF_TIMEOUT (seconds). Unparseable values are ignored so a bad
// variable cannot take down a boot that has a valid file config.
func (c *Config) FromEnv() {
	if v := os.Getenv("POLYCACHE_ENDPOINT"); v != "" {
		c.Endpoint = v
	}
	if v := os.Getenv("POLYCACHE_DEF_TIMEOUT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.DefTimeout = n
		}
	}
}

// Open dials the configured backend and returns a ready Cache that owns the
// resulting store. An empty or "memory" type builds a fresh private store;
// Open never hands out the shared Dummy store.
func Open(ctx context.Context, cfg Config, logger Logger) (Cache, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc, err := New(Options{
		Namespace:  cfg.Namespace,
		Store:      store,
		Logger:     logger,
		DefaultTTL: time.Duration(cfg.DefTimeout) * time.Second,
	})
	if err != nil {
		_ = store.Close(ctx)
		return nil, err
	}
	return svc, nil
}

func openStore(ctx context.Context, cfg Config) (backend.Store, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(memory.Config{}), nil
	case "memcached":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("polycache: memcached requires an endpoint")
		}
		return memcached.Dial(splitAddrs(cfg.Endpoint)...)
	case "redis":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("polycache: redis requires an endpoint")
		}
		return redis.Dial(ctx, cfg.Endpoint)
	default:
		return nil, fmt.Errorf("polycache: unknown cache type %q", cfg.Type)
	}
}

// splitAddrs turns "host1:11211, host2:11211" into a server list; memcached
// shards across all of them.
func splitAddrs(endpoint string) []string {
	parts := strings.Split(endpoint, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
