package reflection

import "sync"

// DefaultMaxAttempts bounds judge-driven continuations per task generation.
const DefaultMaxAttempts = 3

// AttemptKey identifies one task of one session.
type AttemptKey struct {
	SessionID  string
	Generation int
}

// Ledger counts reflection attempts per task.
type Ledger struct {
	mu     sync.Mutex
	counts map[AttemptKey]int
	max    int
}

// NewLedger creates a ledger capped at max attempts.
func NewLedger(max int) *Ledger {
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	return &Ledger{
		counts: make(map[AttemptKey]int),
		max:    max,
	}
}

// Max returns the attempt cap.
func (l *Ledger) Max() int {
	return l.max
}

// Get returns the attempt count for key, 0 if unknown.
func (l *Ledger) Get(key AttemptKey) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[key]
}

// Increment bumps the count for key and returns the new value.
func (l *Ledger) Increment(key AttemptKey) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[key]++
	return l.counts[key]
}

// Clear forgets key.
func (l *Ledger) Clear(key AttemptKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counts, key)
}

// ClearSession forgets every generation of a session.
func (l *Ledger) ClearSession(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.counts {
		if key.SessionID == sessionID {
			delete(l.counts, key)
		}
	}
}

// Reached reports whether key has used up its attempts.
func (l *Ledger) Reached(key AttemptKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[key] >= l.max
}

// Len returns the number of tracked keys.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counts)
}
