package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndLookupRoundTrip(t *testing.T) {
	c := NewChallengeStore()
	entry, err := c.Generate(10)
	require.NoError(t, err)
	assert.Len(t, entry.Nonce, 32) // 16 bytes hex-encoded

	got, ok := c.Lookup(entry.Nonce)
	assert.True(t, ok)
	assert.Equal(t, uint(10), got.Difficulty)
}

func TestConsumeRemovesEntry(t *testing.T) {
	c := NewChallengeStore()
	entry, err := c.Generate(5)
	require.NoError(t, err)

	c.Consume(entry.Nonce)
	_, ok := c.Lookup(entry.Nonce)
	assert.False(t, ok)
}

func TestExpiredEntryIsNotFound(t *testing.T) {
	c := NewChallengeStore()
	entry, err := c.Generate(5)
	require.NoError(t, err)

	c.mu.Lock()
	stale := c.entries[entry.Nonce]
	stale.CreatedAt = time.Now().Add(-400 * time.Second)
	c.entries[entry.Nonce] = stale
	c.mu.Unlock()

	_, ok := c.Lookup(entry.Nonce)
	assert.False(t, ok)
}

func TestCleanupExpiredDropsOnlyStaleEntries(t *testing.T) {
	c := NewChallengeStore()
	fresh, err := c.Generate(5)
	require.NoError(t, err)
	stale, err := c.Generate(5)
	require.NoError(t, err)

	c.mu.Lock()
	e := c.entries[stale.Nonce]
	e.CreatedAt = time.Now().Add(-400 * time.Second)
	c.entries[stale.Nonce] = e
	c.mu.Unlock()

	c.CleanupExpired()

	_, freshOK := c.Lookup(fresh.Nonce)
	_, staleOK := c.Lookup(stale.Nonce)
	assert.True(t, freshOK)
	assert.False(t, staleOK)
}
