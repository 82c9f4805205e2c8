package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()

	m, err := NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, mr
}

func TestManager_SetGet(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "key-1", "value-1", time.Minute))

	val, err := m.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "value-1", val)
}

func TestManager_GetMiss(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_ZeroTTLUsesDefault(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "key-1", "value-1", 0))

	ttl := mr.TTL("key-1")
	assert.Equal(t, 5*time.Minute, ttl)
}

func TestManager_Expiry(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "key-1", "value-1", time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := m.Get(ctx, "key-1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_JSONRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	type snapshot struct {
		Role   string   `json:"role"`
		Tables []string `json:"tables"`
	}

	in := snapshot{Role: "engineer", Tables: []string{"kpi_yield_data", "core_process_heats"}}
	require.NoError(t, m.SetJSON(ctx, "authz:abc", in, time.Minute))

	var out snapshot
	require.NoError(t, m.GetJSON(ctx, "authz:abc", &out))
	assert.Equal(t, in, out)
}

func TestManager_GetJSONMalformed(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "bad", "{not json", time.Minute))

	var out map[string]any
	err := m.GetJSON(ctx, "bad", &out)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrCacheMiss))
}

func TestManager_Delete(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "key-1", "value-1", time.Minute))
	require.NoError(t, m.Delete(ctx, "key-1"))

	_, err := m.Get(ctx, "key-1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err := m.Get(context.Background(), "key-1")
	assert.EqualError(t, err, "cache manager is closed")
	assert.Error(t, m.Set(context.Background(), "key-1", "v", 0))
	assert.Error(t, m.Delete(context.Background(), "key-1"))
}

func TestNewManager_ConnectFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.MaxRetries = 0

	_, err := NewManager(cfg, zap.NewNop())
	assert.Error(t, err)
}
