package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/colthorp/vitals-cli-go/internal/core"
	"github.com/colthorp/vitals-cli-go/internal/observe"
)

// KeyedCache stores JSON values under composite keys on a Backend.
//
// Writes to the same key are serialized; when two writers race, the last
// one to acquire the key wins.
type KeyedCache struct {
	backend Backend
	enabled bool
	logger  *slog.Logger

	keyLocks sync.Map // string -> *sync.Mutex

	lookups metric.Int64Counter
	writes  metric.Int64Counter
}

// NewKeyedCache creates a cache over backend. When enabled is false every
// lookup misses, but Set still writes.
func NewKeyedCache(backend Backend, enabled bool, logger *slog.Logger, mp metric.MeterProvider) *KeyedCache {
	if logger == nil {
		logger = core.DiscardLogger()
	}
	meter := observe.Meter(mp)
	return &KeyedCache{
		backend: backend,
		enabled: enabled,
		logger:  logger,
		lookups: observe.Counter(meter, "cache.lookups", "Cache lookups by outcome", "{lookup}"),
		writes:  observe.Counter(meter, "cache.writes", "Cache writes by result", "{write}"),
	}
}

// Get decodes the value stored under key into dst and reports whether it
// was found.
func (c *KeyedCache) Get(ctx context.Context, key Key, dst any) bool {
	return c.Lookup(ctx, key, dst) == OutcomeHit
}

// Lookup is Get with the reason for a miss.
func (c *KeyedCache) Lookup(ctx context.Context, key Key, dst any) Outcome {
	outcome := c.lookup(ctx, key, dst)
	c.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome.String())))
	return outcome
}

func (c *KeyedCache) lookup(ctx context.Context, key Key, dst any) Outcome {
	if !c.enabled {
		return OutcomeDisabled
	}
	if err := key.Validate(); err != nil {
		c.logger.Warn("cache lookup with invalid key", "key", key.String(), "error", err)
		return OutcomeAbsent
	}

	data, ok := c.backend.Read(ctx, key)
	if !ok {
		c.logger.Debug("cache miss", "key", key.String())
		return OutcomeAbsent
	}

	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		c.logger.Warn("cache entry holds null; treating as absent",
			"key", key.String(), "location", c.backend.Location(key))
		return OutcomeCorrupt
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.Warn("cache entry could not be decoded; treating as absent",
			"key", key.String(), "location", c.backend.Location(key), "error", err)
		return OutcomeCorrupt
	}

	c.logger.Debug("cache hit", "key", key.String())
	return OutcomeHit
}

// Set stores value under key, overwriting any previous entry. The entry
// is durable when Set returns nil.
func (c *KeyedCache) Set(ctx context.Context, key Key, value any) error {
	if err := key.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}

	mu := c.keyLock(key)
	mu.Lock()
	defer mu.Unlock()

	if err := c.backend.Write(ctx, key, data); err != nil {
		c.writes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "error")))
		return fmt.Errorf("%w: write %s: %w", ErrStorage, c.backend.Location(key), err)
	}

	c.writes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))
	c.logger.Debug("cache write", "key", key.String(), "bytes", len(data))
	return nil
}

// Enabled reports whether lookups consult the backend.
func (c *KeyedCache) Enabled() bool {
	return c.enabled
}

func (c *KeyedCache) keyLock(key Key) *sync.Mutex {
	mu, _ := c.keyLocks.LoadOrStore(key.String(), &sync.Mutex{})
	return mu.(*sync.Mutex)
}
