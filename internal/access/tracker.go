package access

import (
	"sync"
	"time"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/model"
)

// Optimistic is a local transition recorded right after a confirmed transaction,
// before the ledger's read path shows its effect. If the transaction is later
// found to have reverted, the entry is dropped on reconciliation; until then the
// local state may be wrong.
type Optimistic struct {
	State      State             // Enrolled or Completed
	TicketID   string            // Ticket minted by enroll
	Credential *model.Credential // Credential minted by issuance
	Digest     string            // Transaction that caused the transition
	At         time.Time
}

// Tracker holds optimistic transitions per (course, learner).
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]Optimistic
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]Optimistic)}
}

func trackerKey(courseID, learner string) string {
	return courseID + "|" + learner
}

// Record stores an optimistic transition, replacing any earlier one.
func (t *Tracker) Record(courseID, learner string, o Optimistic) {
	t.mu.Lock()
	t.entries[trackerKey(courseID, learner)] = o
	t.mu.Unlock()
}

// Get returns the pending transition, if any.
func (t *Tracker) Get(courseID, learner string) (Optimistic, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o, ok := t.entries[trackerKey(courseID, learner)]
	return o, ok
}

// Forget drops the pending transition, after it is confirmed or found reverted.
func (t *Tracker) Forget(courseID, learner string) {
	t.mu.Lock()
	delete(t.entries, trackerKey(courseID, learner))
	t.mu.Unlock()
}

// reached reports whether an authoritative state already covers the optimistic one.
func reached(authoritative, optimistic State) bool {
	switch optimistic {
	case Completed:
		return authoritative == Completed
	case Enrolled:
		return authoritative == Enrolled || authoritative == Completed
	}
	return true
}

// apply overlays a pending transition onto an authoritative snapshot.
func (t *Tracker) apply(snap *Snapshot) {
	o, ok := t.Get(snap.CourseID, snap.Learner)
	if !ok {
		return
	}
	if reached(snap.State, o.State) {
		t.Forget(snap.CourseID, snap.Learner)
		return
	}
	snap.State = o.State
	snap.Optimistic = true
	switch o.State {
	case Completed:
		snap.Credential = o.Credential
		snap.Ticket = nil
	case Enrolled:
		snap.Ticket = &model.Ticket{ID: o.TicketID, Owner: snap.Learner, CourseID: snap.CourseID}
	}
}
