// internal/poll/orchestrator_test.go
package poll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/user/lifeline/internal/dialogue"
	"github.com/user/lifeline/internal/types"
)

// fakeBackend implements every collaborator contract with settable results.
type fakeBackend struct {
	mu sync.Mutex

	guidance    types.Guidance
	guidanceErr error
	guideCalls  int

	caseSnap *types.CaseSnapshot
	caseErr  error

	assignments []*types.Assignment
	assignErr   error

	location *types.Coordinate
	locErr    error

	unread      []types.PeerMessage
	unreadErr   error
	unreadCalls int

	sent []types.SendRequest
}

func (f *fakeBackend) FetchGuidance(_ context.Context, _ int64) (types.Guidance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guideCalls++
	return f.guidance, f.guidanceErr
}

func (f *fakeBackend) FetchCase(_ context.Context, _ types.CaseID) (*types.CaseSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caseSnap, f.caseErr
}

func (f *fakeBackend) FetchAssignmentsForCase(_ context.Context, _ types.CaseID) ([]*types.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assignments, f.assignErr
}

func (f *fakeBackend) FetchAssignment(_ context.Context, id types.AssignmentID) (*types.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.assignments {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, errors.New("assignment not found")
}

func (f *fakeBackend) FetchLatestLocation(_ context.Context, _ types.UserID) (*types.Coordinate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.location, f.locErr
}

func (f *fakeBackend) FetchUnread(_ context.Context, _ types.AssignmentID, _ types.Role) ([]types.PeerMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreadCalls++
	return f.unread, f.unreadErr
}

func (f *fakeBackend) Send(_ context.Context, req types.SendRequest) (types.SendAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	return types.SendAck{MessageID: "m1"}, nil
}

func (f *fakeBackend) set(fn func(*fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func newFixture() (*dialogue.Session, *fakeBackend, *Orchestrator) {
	backend := &fakeBackend{}
	session := dialogue.NewSession(dialogue.Config{CaseID: 42, Role: types.RoleCaller}, backend)
	orch := New(session, backend, backend, backend, backend, backend, DefaultIntervals())
	return session, backend, orch
}

func active(id types.AssignmentID) *types.Assignment {
	return &types.Assignment{ID: id, CaseID: 42, HelperUserID: 99, AssignedAt: time.Now()}
}

func completed(id types.AssignmentID) *types.Assignment {
	done := time.Now()
	a := active(id)
	a.CompletedAt = &done
	return a
}

func TestGuideCyclePollsUntilReady(t *testing.T) {
	session, backend, orch := newFixture()
	ctx := context.Background()

	backend.set(func(f *fakeBackend) { f.guidance = types.Guidance{Ready: false} })
	orch.guideCycle(ctx)
	if session.GuidanceReceived() {
		t.Fatal("not-ready guidance must not activate the session")
	}
	if session.GuidanceAttempts() != 1 {
		t.Errorf("attempts = %d, want 1", session.GuidanceAttempts())
	}

	backend.set(func(f *fakeBackend) { f.guidanceErr = errors.New("timeout") })
	orch.guideCycle(ctx)
	if session.GuidanceAttempts() != 2 {
		t.Errorf("attempts = %d, want 2", session.GuidanceAttempts())
	}

	backend.set(func(f *fakeBackend) {
		f.guidanceErr = nil
		f.guidance = types.Guidance{Text: "stay calm", Ready: true}
	})
	orch.guideCycle(ctx)
	if !session.GuidanceReceived() {
		t.Fatal("ready guidance must activate the session")
	}
	if len(session.Entries()) != 2 {
		t.Errorf("expected guidance + root question, got %d entries", len(session.Entries()))
	}

	// Once received, the cycle stops fetching.
	calls := backend.guideCalls
	orch.guideCycle(ctx)
	if backend.guideCalls != calls {
		t.Error("guide cycle must become a no-op after guidance is received")
	}
}

func TestAssignmentCycleAppliesAndClears(t *testing.T) {
	session, backend, orch := newFixture()
	ctx := context.Background()

	backend.set(func(f *fakeBackend) {
		f.assignments = []*types.Assignment{completed(1), active(7)}
		f.location = &types.Coordinate{Lat: 37.77, Lng: -122.42}
		f.caseSnap = &types.CaseSnapshot{ID: 42, Status: "assigned", Urgency: "high"}
	})
	orch.assignmentCycle(ctx)

	snap := session.Snapshot()
	if snap.Assignment == nil || snap.Assignment.ID != 7 {
		t.Fatal("active assignment should be applied")
	}
	if snap.HelperLocation == nil || snap.HelperLocation.Lat != 37.77 {
		t.Fatal("helper location should be applied")
	}
	if snap.Case == nil || snap.Case.Urgency != "high" {
		t.Fatal("case snapshot should be refreshed by the assignment cycle")
	}

	// Backend subsequently reports only completed assignments.
	backend.set(func(f *fakeBackend) {
		f.assignments = []*types.Assignment{completed(1), completed(7)}
	})
	orch.assignmentCycle(ctx)

	snap = session.Snapshot()
	if snap.Assignment != nil || snap.HelperLocation != nil {
		t.Error("assignment and helper location must clear on the next cycle")
	}
}

func TestAssignmentCycleKeepsPreviousOnFailure(t *testing.T) {
	session, backend, orch := newFixture()
	ctx := context.Background()

	backend.set(func(f *fakeBackend) {
		f.assignments = []*types.Assignment{active(7)}
		f.location = &types.Coordinate{Lat: 1, Lng: 2}
		f.caseSnap = &types.CaseSnapshot{ID: 42, Status: "assigned"}
	})
	orch.assignmentCycle(ctx)

	backend.set(func(f *fakeBackend) {
		f.assignErr = errors.New("connection reset")
		f.locErr = errors.New("connection reset")
		f.caseErr = errors.New("connection reset")
	})
	orch.assignmentCycle(ctx)

	snap := session.Snapshot()
	if snap.Assignment == nil || snap.HelperLocation == nil || snap.Case == nil {
		t.Error("fetch failures must retain previous snapshot state")
	}
}

func TestMessagesCycleRequiresActiveAssignment(t *testing.T) {
	session, backend, orch := newFixture()
	ctx := context.Background()
	session.ApplyGuidance("guide")

	backend.set(func(f *fakeBackend) {
		f.unread = []types.PeerMessage{{ID: "m1", Text: "hello", Timestamp: time.Now()}}
	})
	orch.messagesCycle(ctx)
	if backend.unreadCalls != 0 {
		t.Fatal("messages cycle must not fetch without an active assignment")
	}

	session.ApplyAssignment(active(7))
	before := len(session.Entries())
	orch.messagesCycle(ctx)
	if backend.unreadCalls != 1 {
		t.Fatal("messages cycle should fetch once an assignment is active")
	}
	if len(session.Entries()) != before+1 {
		t.Errorf("expected 1 merged peer entry, got %d", len(session.Entries())-before)
	}

	// Replayed delivery of the same message is idempotent.
	orch.messagesCycle(ctx)
	if len(session.Entries()) != before+1 {
		t.Error("replayed unread messages must not duplicate entries")
	}
}

func TestFailureIsolationAcrossTasks(t *testing.T) {
	session, backend, orch := newFixture()
	ctx := context.Background()

	backend.set(func(f *fakeBackend) {
		f.guidanceErr = errors.New("boom")
		f.assignErr = errors.New("boom")
		f.caseErr = errors.New("boom")
		f.unreadErr = errors.New("boom")
	})

	// Every cycle absorbs its own failure.
	orch.guideCycle(ctx)
	orch.assignmentCycle(ctx)
	orch.messagesCycle(ctx)
	orch.caseCycle(ctx)

	if session.State() != dialogue.StateInitializing {
		t.Error("failed polls must leave session state untouched")
	}

	// Guidance still succeeds later even though other tasks keep failing.
	backend.set(func(f *fakeBackend) {
		f.guidanceErr = nil
		f.guidance = types.Guidance{Text: "guide", Ready: true}
	})
	orch.guideCycle(ctx)
	if !session.GuidanceReceived() {
		t.Error("one task's failures must not stop another task")
	}
}

func TestOrchestratorRunsOnSchedule(t *testing.T) {
	backend := &fakeBackend{}
	backend.set(func(f *fakeBackend) {
		f.guidance = types.Guidance{Text: "stay calm", Ready: true}
		f.caseSnap = &types.CaseSnapshot{ID: 42}
	})
	session := dialogue.NewSession(dialogue.Config{CaseID: 42, Role: types.RoleCaller}, backend)
	orch := New(session, backend, backend, backend, backend, backend, Intervals{
		Guide:      50 * time.Millisecond,
		Assignment: 50 * time.Millisecond,
		Messages:   50 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := orch.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer orch.Stop()

	// Wait up to 2.5 seconds for the guidance task to fire.
	deadline := time.After(2500 * time.Millisecond)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			t.Fatal("guidance was not applied within 2.5s")
		case <-ticker.C:
			if session.GuidanceReceived() {
				return
			}
		}
	}
}
