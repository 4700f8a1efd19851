package dependability

import (
	"sync"
	"time"
)

// RevocationList is a thread-safe set of revoked token IDs. Each entry is
// kept until the token's own expiry, after which the token is rejected as
// expired anyway and Cleanup may drop it.
type RevocationList struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

// NewRevocationList creates an empty revocation list
func NewRevocationList() *RevocationList {
	return &RevocationList{entries: make(map[string]time.Time)}
}

// Revoke adds tokenID; expiresAt is the token's natural expiry
func (r *RevocationList) Revoke(tokenID string, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[tokenID] = expiresAt
}

// IsRevoked reports whether tokenID was revoked
func (r *RevocationList) IsRevoked(tokenID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[tokenID]
	return ok
}

// Cleanup drops entries whose token expired at or before now and returns how
// many were removed.
func (r *RevocationList) Cleanup(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, expiresAt := range r.entries {
		if !now.Before(expiresAt) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of revoked tokens still tracked
func (r *RevocationList) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
