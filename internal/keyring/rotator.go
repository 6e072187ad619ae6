// Package keyring owns the credential pool for one provider endpoint and
// hands out keys round-robin to the request executors.
//
// The rotator is deliberately independent of any network concern: it only
// tracks an index. The executors draw one key per attempt and call Reset
// after a fully successful call so the next independent operation starts
// from the first key again instead of whichever key happened to succeed
// mid-retry.
package keyring

import (
	"sync"
	"sync/atomic"
)

// Rotator issues credentials round-robin from an ordered pool.
//
// The cursor is an atomic counter so the rotator stays correct when shared
// across concurrent pipelines; the key list itself is replaced wholesale
// under a lock when the user edits keys.
type Rotator struct {
	mu   sync.RWMutex
	keys []string

	// cursor is the index of the last key served; -1 means fresh.
	cursor atomic.Int64
}

// New creates a rotator over the given ordered key pool.
func New(keys []string) *Rotator {
	r := &Rotator{}
	r.SetKeys(keys)
	return r
}

// Keys returns a copy of the current ordered pool.
func (r *Rotator) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the current pool size.
func (r *Rotator) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}

// SetKeys replaces the pool wholesale and rewinds the cursor.
func (r *Rotator) SetKeys(keys []string) {
	r.mu.Lock()
	r.keys = make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			r.keys = append(r.keys, k)
		}
	}
	r.mu.Unlock()
	r.Reset()
}

// Next advances the cursor and returns the key at (cursor+1) mod len.
// Returns ("", false) when the pool is empty. Called once per attempt;
// after the pool is exhausted the rotation wraps and reuses keys.
func (r *Rotator) Next() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.keys)
	if n == 0 {
		return "", false
	}
	idx := r.cursor.Add(1)
	// The counter grows monotonically; the modulo is always taken against
	// the current pool length so edits cannot index out of range.
	return r.keys[int(idx%int64(n)+int64(n))%n], true
}

// Reset rewinds the rotation so the next call to Next serves index 0.
// Invoked exactly once after any fully successful upstream call.
func (r *Rotator) Reset() {
	r.cursor.Store(-1)
}
