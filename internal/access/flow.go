package access

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/blob"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/ledger"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/model"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/quiz"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/wallet"
)

// Flow drives one learner through one course. Quiz answers and the last
// graded result live only here and are never persisted.
type Flow struct {
	mu       sync.Mutex
	svc      *Service
	session  wallet.Session
	courseID string

	snap     *Snapshot
	testing  bool
	answers  []int
	last     *quiz.Result
	redirect string
}

// Issued describes a credential issuance that the ledger accepted.
type Issued struct {
	Digest       string `json:"digest"`
	CredentialID string `json:"credentialId,omitempty"`
	Score        int    `json:"score"`
	Redirect     string `json:"redirect"`
}

// Enrollment describes an enroll transaction that the ledger accepted.
type Enrollment struct {
	Digest   string `json:"digest"`
	TicketID string `json:"ticketId,omitempty"`
	Price    uint64 `json:"price"`
}

// NewFlow starts a flow for the session's learner on courseID.
func NewFlow(svc *Service, session wallet.Session, courseID string) *Flow {
	return &Flow{svc: svc, session: session, courseID: courseID}
}

func (f *Flow) learner() string {
	addr, _ := f.session.Address()
	return addr
}

// Refresh re-resolves the snapshot and returns the current view.
// Leaving Enrolled (revert or completion) also ends any quiz in progress.
func (f *Flow) Refresh(ctx context.Context) (*View, error) {
	snap, err := f.svc.Resolve(ctx, f.courseID, f.learner())
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = snap
	if snap.State != Enrolled {
		f.testing = false
	}
	return f.viewLocked(), nil
}

// State returns the state of the last resolved snapshot, with the quiz sub-state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateLocked()
}

func (f *Flow) stateLocked() State {
	if f.snap == nil {
		return NoAccess
	}
	if f.testing && f.snap.State == Enrolled {
		return Testing
	}
	return f.snap.State
}

func (f *Flow) ensure(ctx context.Context) error {
	f.mu.Lock()
	loaded := f.snap != nil
	f.mu.Unlock()
	if loaded {
		return nil
	}
	_, err := f.Refresh(ctx)
	return err
}

// Enroll pays the course price and records an optimistic Enrolled transition.
func (f *Flow) Enroll(ctx context.Context) (*Enrollment, error) {
	if err := f.ensure(ctx); err != nil {
		return nil, err
	}
	learner, ok := f.session.Address()
	if !ok {
		return nil, wallet.ErrDisconnected
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if st := f.stateLocked(); st != NoAccess {
		return nil, &TransitionError{From: st, Action: ActionEnroll}
	}
	if f.snap.Degraded {
		return nil, ErrAccessUnknown
	}

	course := f.snap.Course
	res, err := f.session.SignAndExecute(ctx, f.svc.contract.Enroll(course.ID, course.Price))
	if err != nil {
		return nil, err
	}
	ticketID, _ := res.CreatedOfType(f.svc.contract.StructType(ledger.StructTicket))

	f.svc.tracker.Record(f.courseID, learner, Optimistic{
		State:    Enrolled,
		TicketID: ticketID,
		Digest:   res.Digest,
		At:       time.Now().UTC(),
	})
	f.svc.tracker.apply(f.snap)
	f.svc.scheduleReconcile(f.courseID, learner, res.Digest)

	slog.Info("enrolled in course", "course_id", f.courseID, "learner", learner, "digest", res.Digest)
	return &Enrollment{Digest: res.Digest, TicketID: ticketID, Price: course.Price}, nil
}

// BeginQuiz enters Testing. Answers from an unfinished attempt are kept;
// a graded attempt starts over blank.
func (f *Flow) BeginQuiz(ctx context.Context) (*View, error) {
	if err := f.ensure(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch st := f.stateLocked(); st {
	case Testing:
		return f.viewLocked(), nil
	case Enrolled:
	default:
		return nil, &TransitionError{From: st, Action: ActionTakeQuiz}
	}
	n := len(f.snap.Payload.Questions)
	if len(f.answers) != n || f.last != nil {
		f.answers = quiz.Blank(n)
	}
	f.testing = true
	f.last = nil
	return f.viewLocked(), nil
}

// Select records option for question q. Both are zero-based; quiz.Unanswered clears.
func (f *Flow) Select(q, option int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st := f.stateLocked(); st != Testing {
		return &TransitionError{From: st, Action: ActionSubmitQuiz}
	}
	if q < 0 || q >= len(f.answers) {
		return fmt.Errorf("question %d out of range", q)
	}
	if option != quiz.Unanswered && (option < 0 || option >= model.OptionsPerQuestion) {
		return fmt.Errorf("option %d out of range", option)
	}
	f.answers[q] = option
	return nil
}

// Submit grades the attempt. A nil answers slice grades the selections made so
// far. Any unanswered question keeps the flow in Testing and returns
// quiz.ErrUnanswered. Otherwise the flow returns to Enrolled with the result
// recorded: a pass offers issuance, a failure offers a retake.
func (f *Flow) Submit(ctx context.Context, answers []int) (quiz.Result, error) {
	if err := f.ensure(ctx); err != nil {
		return quiz.Result{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if st := f.stateLocked(); st != Testing {
		return quiz.Result{}, &TransitionError{From: st, Action: ActionSubmitQuiz}
	}
	if answers != nil {
		f.answers = append([]int(nil), answers...)
	}

	r, err := quiz.Grade(f.snap.Payload.Questions, f.answers)
	if err != nil {
		f.observeQuiz("incomplete")
		return quiz.Result{}, err
	}
	f.testing = false
	f.last = &r
	if r.Passed(f.snap.Payload.EffectivePassingScore()) {
		f.observeQuiz("passed")
	} else {
		f.observeQuiz("failed")
	}
	return r, nil
}

func (f *Flow) observeQuiz(outcome string) {
	if f.svc.m != nil {
		f.svc.m.QuizGradedTotal.WithLabelValues(outcome).Inc()
	}
}

// Retake clears every answer and re-enters Testing. Ticket and credential are untouched.
func (f *Flow) Retake(ctx context.Context) (*View, error) {
	if err := f.ensure(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if st := f.stateLocked(); st != Enrolled && st != Testing {
		return nil, &TransitionError{From: st, Action: ActionRetake}
	}
	f.answers = quiz.Blank(len(f.snap.Payload.Questions))
	f.last = nil
	f.testing = true
	return f.viewLocked(), nil
}

// IssueCredential consumes the ticket and mints a credential under name after a
// passing attempt. On success the flow moves to Completed optimistically and a
// background reconciliation re-reads the ledger. On failure nothing changes and
// the ledger's message is returned as is.
func (f *Flow) IssueCredential(ctx context.Context, name string) (*Issued, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	learner, ok := f.session.Address()
	if !ok {
		return nil, wallet.ErrDisconnected
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.stateLocked()
	if st != Enrolled || f.last == nil || f.snap.Ticket == nil {
		return nil, &TransitionError{From: st, Action: ActionIssueCredential}
	}
	score := f.last.Score
	if !f.last.Passed(f.snap.Payload.EffectivePassingScore()) {
		return nil, fmt.Errorf("%w: score %d is below the passing score %d", ErrNotPassed, score, f.snap.Payload.EffectivePassingScore())
	}

	res, err := f.session.SignAndExecute(ctx, f.svc.contract.IssueCertificate(f.snap.Ticket.ID, name, score))
	if err != nil {
		return nil, err
	}
	credID, _ := res.CreatedOfType(f.svc.contract.StructType(ledger.StructCertificate))
	cred := &model.Credential{
		ID:          credID,
		CourseID:    f.courseID,
		Student:     learner,
		StudentName: name,
		Score:       score,
		CompletedAt: time.Now().UTC(),
	}
	f.svc.tracker.Record(f.courseID, learner, Optimistic{
		State:      Completed,
		Credential: cred,
		Digest:     res.Digest,
		At:         cred.CompletedAt,
	})
	f.svc.tracker.apply(f.snap)
	f.last = nil
	f.answers = nil
	f.redirect = CredentialsPath
	f.svc.scheduleReconcile(f.courseID, learner, res.Digest)

	slog.Info("credential issued", "course_id", f.courseID, "learner", learner, "score", score, "digest", res.Digest)
	return &Issued{Digest: res.Digest, CredentialID: credID, Score: score, Redirect: CredentialsPath}, nil
}

// View returns the current view without re-reading the ledger, or nil before
// the first resolve.
func (f *Flow) View() *View {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snap == nil {
		return nil
	}
	return f.viewLocked()
}

// CanFetchVideo reports whether the last resolved state allows video playback.
func (f *Flow) CanFetchVideo() bool {
	return f.State().CanFetchVideo()
}

// Video opens module index's video after re-checking access. Without access
// it returns ErrNoAccess and the blob store is not contacted.
func (f *Flow) Video(ctx context.Context, index int) (io.ReadCloser, error) {
	if _, err := f.Refresh(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	allowed := f.stateLocked().CanFetchVideo()
	modules := f.snap.Payload.Modules
	f.mu.Unlock()
	if !allowed {
		return nil, ErrNoAccess
	}
	if index < 0 || index >= len(modules) {
		return nil, fmt.Errorf("module %d: %w", index, blob.ErrNotFound)
	}
	return f.svc.blobs.Download(ctx, modules[index].VideoBlobID)
}

// viewLocked builds the learner view. Called with f.mu held.
func (f *Flow) viewLocked() *View {
	s := f.snap
	st := f.stateLocked()
	v := &View{
		CourseID:     s.CourseID,
		Learner:      s.Learner,
		State:        st,
		Optimistic:   s.Optimistic,
		Degraded:     s.Degraded,
		Course:       s.Course,
		PassingScore: s.Payload.EffectivePassingScore(),
		Credential:   s.Credential,
		Redirect:     f.redirect,
	}
	if s.Payload != nil {
		p := s.Payload.Public()
		v.Payload = &p
	}
	if s.Ticket != nil {
		v.TicketID = s.Ticket.ID
	}
	if st == Testing {
		v.Answers = append([]int(nil), f.answers...)
	}
	if f.last != nil {
		r := *f.last
		v.LastResult = &r
	}

	switch st {
	case NoAccess:
		if !s.Degraded && s.Learner != "" {
			v.Actions = []Action{ActionEnroll}
		}
	case Enrolled:
		v.Actions = []Action{ActionWatch}
		switch {
		case f.last == nil:
			v.Actions = append(v.Actions, ActionTakeQuiz)
		case f.last.Passed(v.PassingScore):
			v.Actions = append(v.Actions, ActionIssueCredential)
		default:
			v.Actions = append(v.Actions, ActionRetake)
		}
	case Testing:
		v.Actions = []Action{ActionWatch, ActionSubmitQuiz, ActionRetake}
	case Completed:
		v.Actions = []Action{ActionWatch, ActionViewCredentials}
	}
	if v.Actions == nil {
		v.Actions = []Action{}
	}
	return v
}

// Flows keeps one Flow per course for the acting session.
type Flows struct {
	mu      sync.Mutex
	svc     *Service
	session wallet.Session
	flows   map[string]*Flow
}

// NewFlows creates a registry bound to session.
func NewFlows(svc *Service, session wallet.Session) *Flows {
	return &Flows{svc: svc, session: session, flows: make(map[string]*Flow)}
}

// For returns the flow for courseID, creating it on first use.
func (r *Flows) For(courseID string) *Flow {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flows[courseID]
	if !ok {
		f = NewFlow(r.svc, r.session, courseID)
		r.flows[courseID] = f
	}
	return f
}

// Service returns the underlying access service.
func (r *Flows) Service() *Service { return r.svc }

// Session returns the acting wallet session.
func (r *Flows) Session() wallet.Session { return r.session }

// IsTransition reports whether err is a state-machine rejection.
func IsTransition(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
