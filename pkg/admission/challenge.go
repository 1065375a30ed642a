package admission

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/meshfed/gatewayd/pkg/types"
)

// ChallengeStore generates and validates proof-of-work challenges,
// generalized from pkg/manager.TokenManager's join-token TTL map into a
// nonce → difficulty TTL map with the 300s rule checked in Lookup (via
// ChallengeEntry.Expired).
type ChallengeStore struct {
	mu      sync.Mutex
	entries map[string]types.ChallengeEntry
}

// NewChallengeStore returns an empty ChallengeStore.
func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{entries: make(map[string]types.ChallengeEntry)}
}

// Generate creates a fresh 16-byte hex nonce at difficulty and records it.
func (c *ChallengeStore) Generate(difficulty uint) (types.ChallengeEntry, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return types.ChallengeEntry{}, fmt.Errorf("admission: generate challenge: %w", err)
	}
	entry := types.ChallengeEntry{Nonce: hex.EncodeToString(raw), Difficulty: difficulty, CreatedAt: time.Now()}

	c.mu.Lock()
	c.entries[entry.Nonce] = entry
	c.mu.Unlock()
	return entry, nil
}

// Lookup returns the entry for nonce if present and not expired.
func (c *ChallengeStore) Lookup(nonce string) (types.ChallengeEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[nonce]
	if !ok || entry.Expired(time.Now()) {
		return types.ChallengeEntry{}, false
	}
	return entry, true
}

// Consume removes nonce so it cannot be replayed.
func (c *ChallengeStore) Consume(nonce string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, nonce)
}

// CleanupExpired drops every entry past its 300s validity window.
func (c *ChallengeStore) CleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for nonce, entry := range c.entries {
		if entry.Expired(now) {
			delete(c.entries, nonce)
		}
	}
}
