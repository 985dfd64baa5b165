package reflection

import (
	"sort"
	"sync"
)

// SessionKind is the cached classification of a session. It only moves
// forward: Unknown to User or Judge, never back.
type SessionKind int

const (
	KindUnknown SessionKind = iota
	KindUser
	KindJudge
)

// String implements fmt.Stringer.
func (k SessionKind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindJudge:
		return "judge"
	default:
		return "unknown"
	}
}

type sessionRecord struct {
	kind       SessionKind
	aborted    bool
	generation int
	settled    bool
}

// ReflectionState holds the controller's guard sets and per-session records.
// Handlers run on separate goroutines, so every access goes through mu.
type ReflectionState struct {
	mu       sync.Mutex
	sessions map[string]*sessionRecord
	inFlight map[string]struct{}
	ledger   *Ledger
}

// NewReflectionState creates empty state with an attempt ledger capped at maxAttempts.
func NewReflectionState(maxAttempts int) *ReflectionState {
	return &ReflectionState{
		sessions: make(map[string]*sessionRecord),
		inFlight: make(map[string]struct{}),
		ledger:   NewLedger(maxAttempts),
	}
}

// Ledger returns the attempt ledger.
func (s *ReflectionState) Ledger() *Ledger {
	return s.ledger
}

func (s *ReflectionState) record(sessionID string) *sessionRecord {
	rec, ok := s.sessions[sessionID]
	if !ok {
		rec = &sessionRecord{}
		s.sessions[sessionID] = rec
	}
	return rec
}

func (s *ReflectionState) markKind(sessionID string, kind SessionKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(sessionID)
	if rec.kind != KindUnknown {
		return rec.kind == kind
	}
	rec.kind = kind
	return true
}

// MarkJudge records a session created for judging.
func (s *ReflectionState) MarkJudge(sessionID string) {
	s.markKind(sessionID, KindJudge)
}

// MarkUser records a session as a reflectable user session.
func (s *ReflectionState) MarkUser(sessionID string) {
	s.markKind(sessionID, KindUser)
}

// Kind returns the cached classification.
func (s *ReflectionState) Kind(sessionID string) SessionKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.sessions[sessionID]; ok {
		return rec.kind
	}
	return KindUnknown
}

// IsKnownJudge reports whether the session is tagged as a judge.
func (s *ReflectionState) IsKnownJudge(sessionID string) bool {
	return s.Kind(sessionID) == KindJudge
}

// ReleaseJudge drops the record of a judge session once it has been cleaned
// up on the host. Records of other kinds are left alone.
func (s *ReflectionState) ReleaseJudge(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.sessions[sessionID]; ok && rec.kind == KindJudge {
		delete(s.sessions, sessionID)
	}
}

// MarkAborted tags the session as cancelled. The tag is never cleared.
func (s *ReflectionState) MarkAborted(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(sessionID).aborted = true
}

// IsAborted reports the sticky aborted tag.
func (s *ReflectionState) IsAborted(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	return ok && rec.aborted
}

// TryBegin claims the session for a reflection pass. It returns false when a
// pass is already running for it.
func (s *ReflectionState) TryBegin(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[sessionID]; busy {
		return false
	}
	s.inFlight[sessionID] = struct{}{}
	return true
}

// End releases the claim taken by TryBegin.
func (s *ReflectionState) End(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, sessionID)
}

// InFlight reports whether a pass is running for the session.
func (s *ReflectionState) InFlight(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[sessionID]
	return ok
}

// ObserveGeneration records the session's current task generation. When it
// advanced, the session's attempts and settlement are reset and true is returned.
func (s *ReflectionState) ObserveGeneration(sessionID string, generation int) bool {
	s.mu.Lock()
	rec := s.record(sessionID)
	if generation <= rec.generation {
		s.mu.Unlock()
		return false
	}
	rec.generation = generation
	rec.settled = false
	s.mu.Unlock()

	s.ledger.ClearSession(sessionID)
	return true
}

// MarkSettled closes the given generation for further reflection.
func (s *ReflectionState) MarkSettled(sessionID string, generation int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(sessionID)
	if generation < rec.generation {
		return
	}
	rec.generation = generation
	rec.settled = true
}

// IsSettled reports whether the given generation was closed. Generations older
// than the latest observed one are always closed.
func (s *ReflectionState) IsSettled(sessionID string, generation int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	return generation < rec.generation || (rec.settled && rec.generation == generation)
}

// SessionSnapshot is a read-only view of one session record.
type SessionSnapshot struct {
	SessionID  string `json:"session_id"`
	Kind       string `json:"kind"`
	Aborted    bool   `json:"aborted"`
	Generation int    `json:"generation"`
	Settled    bool   `json:"settled"`
	Attempts   int    `json:"attempts"`
	InFlight   bool   `json:"in_flight"`
}

// StateSnapshot is a read-only view of the whole state.
type StateSnapshot struct {
	InFlight      int               `json:"in_flight"`
	KnownJudges   int               `json:"known_judges"`
	Aborted       int               `json:"aborted"`
	LedgerEntries int               `json:"ledger_entries"`
	MaxAttempts   int               `json:"max_attempts"`
	Sessions      []SessionSnapshot `json:"sessions"`
}

// Snapshot copies the state for reporting.
func (s *ReflectionState) Snapshot() StateSnapshot {
	s.mu.Lock()
	snap := StateSnapshot{
		InFlight:    len(s.inFlight),
		MaxAttempts: s.ledger.Max(),
		Sessions:    make([]SessionSnapshot, 0, len(s.sessions)),
	}
	for id, rec := range s.sessions {
		if rec.kind == KindJudge {
			snap.KnownJudges++
		}
		if rec.aborted {
			snap.Aborted++
		}
		_, busy := s.inFlight[id]
		snap.Sessions = append(snap.Sessions, SessionSnapshot{
			SessionID:  id,
			Kind:       rec.kind.String(),
			Aborted:    rec.aborted,
			Generation: rec.generation,
			Settled:    rec.settled,
			InFlight:   busy,
		})
	}
	s.mu.Unlock()

	snap.LedgerEntries = s.ledger.Len()
	for i := range snap.Sessions {
		ss := &snap.Sessions[i]
		ss.Attempts = s.ledger.Get(AttemptKey{SessionID: ss.SessionID, Generation: ss.Generation})
	}
	sort.Slice(snap.Sessions, func(i, j int) bool {
		return snap.Sessions[i].SessionID < snap.Sessions[j].SessionID
	})
	return snap
}
