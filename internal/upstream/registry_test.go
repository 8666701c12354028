package upstream

import (
	"fmt"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	endpoint, err := url.Parse(raw)
	require.NoError(t, err)
	return endpoint
}

func TestRegistry_AddPreservesOrder(t *testing.T) {
	registry := NewRegistry()

	registry.Add(mustParse(t, "http://127.0.0.1:3001"))
	registry.Add(mustParse(t, "http://127.0.0.1:3002"))
	registry.Add(mustParse(t, "http://127.0.0.1:3003"))

	snapshot := registry.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, "http://127.0.0.1:3001", snapshot[0].Endpoint().String())
	assert.Equal(t, "http://127.0.0.1:3002", snapshot[1].Endpoint().String())
	assert.Equal(t, "http://127.0.0.1:3003", snapshot[2].Endpoint().String())
}

func TestRegistry_NewTargetStartsHealthy(t *testing.T) {
	registry := NewRegistry()

	target := registry.Add(mustParse(t, "http://127.0.0.1:3001"))

	assert.True(t, target.Healthy())
}

func TestRegistry_AddURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{
			name: "valid http URL",
			raw:  "http://127.0.0.1:3001",
		},
		{
			name: "valid https URL",
			raw:  "https://backend.internal:8443",
		},
		{
			name:    "missing scheme",
			raw:     "127.0.0.1:3001",
			wantErr: true,
		},
		{
			name:    "missing host",
			raw:     "http://",
			wantErr: true,
		},
		{
			name:    "garbage",
			raw:     "://not-a-url",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry()
			target, err := registry.AddURL(tt.raw)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, target)
				assert.Equal(t, 0, registry.Len())
				return
			}

			require.NoError(t, err)
			require.NotNil(t, target)
			assert.Equal(t, tt.raw, target.Endpoint().String())
			assert.Equal(t, 1, registry.Len())
		})
	}
}

func TestRegistry_SnapshotIsCopy(t *testing.T) {
	registry := NewRegistry()
	registry.Add(mustParse(t, "http://127.0.0.1:3001"))

	snapshot := registry.Snapshot()
	registry.Add(mustParse(t, "http://127.0.0.1:3002"))

	assert.Len(t, snapshot, 1, "earlier snapshot must not grow")
	assert.Equal(t, 2, registry.Len())
}

func TestRegistry_ConcurrentAddAndSnapshot(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			registry.Add(mustParse(t, fmt.Sprintf("http://127.0.0.1:%d", 3000+n)))
		}(i)
		go func() {
			defer wg.Done()
			for _, target := range registry.Snapshot() {
				_ = target.Healthy()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 10, registry.Len())
}

func TestTarget_SetHealthy(t *testing.T) {
	target := NewTarget(mustParse(t, "http://127.0.0.1:3001"))

	require.True(t, target.Healthy())

	target.SetHealthy(false)
	assert.False(t, target.Healthy())

	target.SetHealthy(true)
	assert.True(t, target.Healthy())
}
