package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_GetCachesByKey(t *testing.T) {
	p := NewPool()
	key := Key{Origin: "https://api.anthropic.com"}

	c1, err := p.Get(key)
	require.NoError(t, err)
	c2, err := p.Get(key)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
}

func TestPool_DistinctKeysGetDistinctClients(t *testing.T) {
	p := NewPool()
	c1, err := p.Get(Key{Origin: "https://a.example.com"})
	require.NoError(t, err)
	c2, err := p.Get(Key{Origin: "https://b.example.com"})
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
}

func TestPool_MarkUnhealthyForcesRebuild(t *testing.T) {
	p := NewPool()
	key := Key{Origin: "https://api.anthropic.com"}

	c1, err := p.Get(key)
	require.NoError(t, err)

	p.MarkUnhealthy(key, "tls handshake failure")

	c2, err := p.Get(key)
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
}

func TestKey_FallbackDisablesHTTP2(t *testing.T) {
	key := Key{Origin: "https://api.anthropic.com", HTTP2Enabled: true}
	fb := key.Fallback()
	assert.False(t, fb.HTTP2Enabled)
	assert.NotEqual(t, key, fb)
}
