package reflection

import (
	"sync"
	"testing"
)

func TestSessionKindIsMonotone(t *testing.T) {
	t.Parallel()

	s := NewReflectionState(3)
	s.MarkUser("s1")
	s.MarkJudge("s1")
	if got := s.Kind("s1"); got != KindUser {
		t.Fatalf("expected kind to stay user, got %s", got)
	}

	s.MarkJudge("j1")
	s.MarkUser("j1")
	if !s.IsKnownJudge("j1") {
		t.Fatal("expected judge tag to stick")
	}

	s.ReleaseJudge("s1")
	if s.Kind("s1") != KindUser {
		t.Fatal("ReleaseJudge must not touch user sessions")
	}
	s.ReleaseJudge("j1")
	if s.Kind("j1") != KindUnknown {
		t.Fatal("expected judge record to be dropped")
	}
}

func TestTryBeginIsExclusive(t *testing.T) {
	t.Parallel()

	s := NewReflectionState(3)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryBegin("s1") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}

	s.End("s1")
	if !s.TryBegin("s1") {
		t.Fatal("expected session to be claimable after End")
	}
}

func TestObserveGenerationResetsAttempts(t *testing.T) {
	t.Parallel()

	s := NewReflectionState(3)
	s.ObserveGeneration("s1", 1)
	s.Ledger().Increment(AttemptKey{SessionID: "s1", Generation: 1})
	s.MarkSettled("s1", 1)

	if s.ObserveGeneration("s1", 1) {
		t.Fatal("same generation must not reset")
	}
	if !s.IsSettled("s1", 1) {
		t.Fatal("expected generation 1 settled")
	}

	if !s.ObserveGeneration("s1", 2) {
		t.Fatal("expected generation advance")
	}
	if s.IsSettled("s1", 2) {
		t.Fatal("expected settlement to reset")
	}
	if !s.IsSettled("s1", 1) {
		t.Fatal("superseded generation must stay settled")
	}
	if s.Ledger().Len() != 0 {
		t.Fatalf("expected attempts cleared, %d left", s.Ledger().Len())
	}

	s.MarkSettled("s1", 1)
	if s.IsSettled("s1", 2) {
		t.Fatal("stale generation must not settle the current one")
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	s := NewReflectionState(4)
	s.MarkUser("b")
	s.ObserveGeneration("b", 2)
	s.Ledger().Increment(AttemptKey{SessionID: "b", Generation: 2})
	s.MarkJudge("a")
	s.MarkAborted("c")
	s.TryBegin("b")

	snap := s.Snapshot()
	if snap.MaxAttempts != 4 || snap.KnownJudges != 1 || snap.Aborted != 1 || snap.InFlight != 1 || snap.LedgerEntries != 1 {
		t.Fatalf("unexpected snapshot counters: %+v", snap)
	}
	if len(snap.Sessions) != 3 || snap.Sessions[0].SessionID != "a" || snap.Sessions[2].SessionID != "c" {
		t.Fatalf("expected sessions sorted by id: %+v", snap.Sessions)
	}
	b := snap.Sessions[1]
	if b.Kind != "user" || b.Generation != 2 || b.Attempts != 1 || !b.InFlight {
		t.Fatalf("unexpected session snapshot: %+v", b)
	}
}
