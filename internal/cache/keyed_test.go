package cache

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestKeyValidate(t *testing.T) {
	tests := []struct {
		name    string
		key     Key
		wantErr bool
	}{
		{"two segments", Key{"patients", "list"}, false},
		{"single segment", Key{"patients"}, false},
		{"empty key", Key{}, true},
		{"empty segment", Key{"vitals", ""}, true},
		{"separator in segment", Key{"vitals/101"}, true},
		{"dot segment", Key{"vitals", "."}, true},
		{"dotdot segment", Key{"..", "etc"}, true},
		{"nul", Key{"a\x00b"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Panics(t, func() { MustKey("bad/key") })
	assert.Equal(t, "vitals/101", MustKey("vitals", "101").String())
}

type sample struct {
	Name   string             `json:"name"`
	Values []float64          `json:"values"`
	Nested map[string]any     `json:"nested"`
	Pairs  map[string]float64 `json:"pairs"`
}

func TestKeyedCacheRoundTrip(t *testing.T) {
	backends := map[string]Backend{
		"memory":     NewMemoryBackend(),
		"filesystem": NewFilesystemBackend(t.TempDir()),
	}

	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			c := NewKeyedCache(backend, true, nil, nil)
			ctx := context.Background()

			in := sample{
				Name:   "systolic",
				Values: []float64{120, 118.5},
				Nested: map[string]any{"units": "mmHg", "ok": true},
				Pairs:  map[string]float64{"a": 1},
			}
			require.NoError(t, c.Set(ctx, MustKey("samples", "one"), in))

			var out sample
			require.True(t, c.Get(ctx, MustKey("samples", "one"), &out))
			assert.Equal(t, in, out)

			var ids []int
			require.NoError(t, c.Set(ctx, MustKey("patients", "list"), []int{101, 102, 101}))
			require.True(t, c.Get(ctx, MustKey("patients", "list"), &ids))
			assert.Equal(t, []int{101, 102, 101}, ids)
		})
	}
}

func TestKeyedCacheMiss(t *testing.T) {
	c := NewKeyedCache(NewMemoryBackend(), true, nil, nil)

	var out []int
	assert.Equal(t, OutcomeAbsent, c.Lookup(context.Background(), MustKey("patients", "list"), &out))
	assert.False(t, c.Get(context.Background(), MustKey("patients", "list"), &out))
}

func TestKeyedCacheDisabled(t *testing.T) {
	backend := NewMemoryBackend()
	c := NewKeyedCache(backend, false, nil, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, MustKey("patients", "list"), []int{1}))
	assert.Equal(t, 1, backend.Writes(), "disabled cache still writes")

	var out []int
	assert.Equal(t, OutcomeDisabled, c.Lookup(ctx, MustKey("patients", "list"), &out))
	assert.False(t, c.Get(ctx, MustKey("patients", "list"), &out))
	assert.Nil(t, out)
}

func TestKeyedCacheCorruptCountedSeparately(t *testing.T) {
	backend := NewMemoryBackend()
	backend.Seed(MustKey("vitals", "1"), []byte(`{not json`))

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	c := NewKeyedCache(backend, true, nil, mp)
	ctx := context.Background()

	var out []int
	assert.Equal(t, OutcomeCorrupt, c.Lookup(ctx, MustKey("vitals", "1"), &out))
	assert.Equal(t, OutcomeAbsent, c.Lookup(ctx, MustKey("vitals", "2"), &out))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	byOutcome := lookupsByOutcome(t, rm)
	assert.Equal(t, int64(1), byOutcome["corrupt"])
	assert.Equal(t, int64(1), byOutcome["absent"])

	// Re-population replaces the corrupt payload.
	require.NoError(t, c.Set(ctx, MustKey("vitals", "1"), []int{7}))
	assert.True(t, c.Get(ctx, MustKey("vitals", "1"), &out))
	assert.Equal(t, []int{7}, out)
}

func TestKeyedCacheNullIsCorrupt(t *testing.T) {
	backend := NewMemoryBackend()
	backend.Seed(MustKey("vitals", "1"), []byte("null\n"))
	c := NewKeyedCache(backend, true, nil, nil)

	var out []int
	assert.Equal(t, OutcomeCorrupt, c.Lookup(context.Background(), MustKey("vitals", "1"), &out))
	assert.False(t, c.Get(context.Background(), MustKey("vitals", "1"), &out))
	assert.Nil(t, out)
}

func TestKeyedCacheSetErrors(t *testing.T) {
	backend := NewMemoryBackend()
	backend.WriteErr = errors.New("disk full")
	c := NewKeyedCache(backend, true, nil, nil)

	err := c.Set(context.Background(), MustKey("patients", "list"), []int{1})
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorContains(t, err, "disk full")

	err = c.Set(context.Background(), Key{"bad/segment"}, []int{1})
	assert.ErrorIs(t, err, ErrInvalidKey)

	err = c.Set(context.Background(), MustKey("x"), func() {})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrStorage)
}

func TestKeyedCacheConcurrentSameKey(t *testing.T) {
	c := NewKeyedCache(NewFilesystemBackend(t.TempDir()), true, nil, nil)
	ctx := context.Background()
	key := MustKey("vitals", "101")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, c.Set(ctx, key, []int{n, n}))
		}(i)
	}
	wg.Wait()

	var out []int
	require.True(t, c.Get(ctx, key, &out), "serialized writes never leave a torn entry")
	require.Len(t, out, 2)
	assert.Equal(t, out[0], out[1])
}

func lookupsByOutcome(t *testing.T, rm metricdata.ResourceMetrics) map[string]int64 {
	t.Helper()
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "cache.lookups" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(attribute.Key("outcome"))
				out[v.AsString()] += dp.Value
			}
		}
	}
	return out
}
