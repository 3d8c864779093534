package enclavesrv

import (
	"sync"
	"time"
)

// NonceLedger is the authoritative replay barrier for sign calls (spec
// §4.3 "Nonce ledger semantics"). Insertion and membership test are atomic
// relative to any other call on the same instance; entries are pruned
// lazily by Prune, which Signer.Sign calls at the start of every sign call,
// rather than on a timer, bounding memory by the peak in-flight sign rate
// times the ticket TTL.
type NonceLedger struct {
	mu      sync.Mutex
	expires map[string]time.Time
}

// NewNonceLedger creates an empty ledger.
func NewNonceLedger() *NonceLedger {
	return &NonceLedger{expires: make(map[string]time.Time)}
}

// Prune drops every entry whose recorded expiry is in the past. Callers run
// this once per sign call, before any other nonce check (spec §4.3 step 1).
func (l *NonceLedger) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for n, exp := range l.expires {
		if !exp.After(now) {
			delete(l.expires, n)
		}
	}
}

// CheckAndInsert reports whether nonce has already been seen. If not, it is
// inserted with the given expiry so a later replay of the same nonce is
// rejected.
func (l *NonceLedger) CheckAndInsert(nonce string, expiresAt time.Time) (replay bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, seen := l.expires[nonce]; seen {
		return true
	}
	l.expires[nonce] = expiresAt
	return false
}

// Len reports the number of live entries, for tests and diagnostics.
func (l *NonceLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.expires)
}
