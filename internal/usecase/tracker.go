package usecase

import (
	"context"
	"sync"
)

// sessionTracker remembers the in-flight attempt of every session so a new
// attempt can cancel the one it replaces. latest outlives the attempt and is
// the order in which attempts of a session began.
type sessionTracker struct {
	mu       sync.Mutex
	inflight map[string]trackedAttempt
	latest   map[string]string
}

type trackedAttempt struct {
	id     string
	cancel context.CancelCauseFunc
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{
		inflight: make(map[string]trackedAttempt),
		latest:   make(map[string]string),
	}
}

// begin registers attemptID as the current attempt of session, cancelling the
// previous one with ErrSuperseded. Attempts without a session are not tracked.
// The returned func must be called once the attempt has finished.
func (t *sessionTracker) begin(ctx context.Context, session, attemptID string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	if session == "" {
		return ctx, func() { cancel(nil) }
	}

	t.mu.Lock()
	if previous, ok := t.inflight[session]; ok {
		previous.cancel(ErrSuperseded)
	}
	t.inflight[session] = trackedAttempt{id: attemptID, cancel: cancel}
	t.latest[session] = attemptID
	t.mu.Unlock()

	return ctx, func() {
		t.mu.Lock()
		if current, ok := t.inflight[session]; ok && current.id == attemptID {
			delete(t.inflight, session)
		}
		t.mu.Unlock()
		cancel(nil)
	}
}

// latestOf returns the most recently begun attempt of session.
func (t *sessionTracker) latestOf(session string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.latest[session]
	return id, ok
}
