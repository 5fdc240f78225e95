package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_AppendPreservesOrder(t *testing.T) {
	c := New("sess1")
	c.Append(Entry{ProviderID: "p1", Reason: RetryFailed, AttemptNumber: 1})
	c.Append(Entry{ProviderID: "p1", Reason: RequestSuccess, AttemptNumber: 2})

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, RetryFailed, entries[0].Reason)
	assert.Equal(t, RequestSuccess, entries[1].Reason)
}

func TestChain_Terminal(t *testing.T) {
	c := New("sess1")
	_, ok := c.Terminal()
	assert.False(t, ok)

	c.Append(Entry{Reason: SystemErrorReason})
	c.Append(Entry{Reason: RequestSuccess})

	terminal, ok := c.Terminal()
	require.True(t, ok)
	assert.Equal(t, RequestSuccess, terminal.Reason)
}

func TestChain_StampsTimestampWhenUnset(t *testing.T) {
	c := New("sess1")
	c.Append(Entry{Reason: RequestSuccess})
	entries := c.Entries()
	assert.False(t, entries[0].Timestamp.IsZero())
}
