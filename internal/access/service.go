package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/blob"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/ledger"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/model"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/schema"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/telemetry"
)

// TxLookup finds executed transactions. ledger.Ledger implements it.
type TxLookup interface {
	Transaction(ctx context.Context, digest string) (*ledger.TxResult, error)
}

// Config wires a Service.
type Config struct {
	Reader         ledger.Reader
	Transactions   TxLookup // Optional; enables revert detection on reconciliation
	Blobs          blob.Store
	Contract       ledger.Contract
	Validator      *schema.Validator
	ReconcileDelay time.Duration // Wait before re-reading after an optimistic transition
	Metrics        *metrics.Metrics
}

// Service resolves access snapshots and reconciles optimistic transitions.
type Service struct {
	reader   ledger.Reader
	txs      TxLookup
	blobs    blob.Store
	contract ledger.Contract
	v        *schema.Validator
	delay    time.Duration
	tracker  *Tracker
	m        *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a Service. Close stops pending reconciliations.
func NewService(cfg Config) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		reader:   cfg.Reader,
		txs:      cfg.Transactions,
		blobs:    cfg.Blobs,
		contract: cfg.Contract,
		v:        cfg.Validator,
		delay:    cfg.ReconcileDelay,
		tracker:  NewTracker(),
		m:        cfg.Metrics,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Tracker exposes the optimistic transitions held by the service.
func (s *Service) Tracker() *Tracker { return s.tracker }

// Close cancels pending reconciliations and waits for them to exit.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// Resolve returns the access snapshot for learner on courseID, with any
// pending optimistic transition applied. An empty learner always resolves to
// NoAccess. Failure to read the course or its payload is an error; failure to
// read ownership degrades to NoAccess.
func (s *Service) Resolve(ctx context.Context, courseID, learner string) (*Snapshot, error) {
	snap, err := s.resolveLedger(ctx, courseID, learner)
	if err != nil {
		return nil, err
	}
	s.tracker.apply(snap)
	if s.m != nil {
		s.m.AccessResolveTotal.WithLabelValues(string(snap.State)).Inc()
	}
	return snap, nil
}

func (s *Service) resolveLedger(ctx context.Context, courseID, learner string) (*Snapshot, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "access.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("course.id", courseID))

	var (
		course             model.Course
		payload            *model.ContentPayload
		ticket             *model.Ticket
		cred               *model.Credential
		ticketErr, credErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		course, payload, err = s.loadCourse(gctx, courseID)
		return err
	})
	if learner != "" {
		g.Go(func() error {
			ticket, ticketErr = s.findTicket(gctx, courseID, learner)
			return nil
		})
		g.Go(func() error {
			cred, credErr = s.findCredential(gctx, courseID, learner)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	snap := &Snapshot{
		CourseID: courseID,
		Learner:  learner,
		Course:   course,
		Payload:  payload,
		State:    NoAccess,
	}
	switch {
	case cred != nil:
		snap.State = Completed
		snap.Credential = cred
		snap.Ticket = ticket
	case ticketErr != nil || credErr != nil:
		slog.Warn("access check failed, treating as no access",
			"course_id", courseID, "learner", learner,
			"ticket_error", errString(ticketErr), "credential_error", errString(credErr))
		snap.Degraded = true
	case ticket != nil:
		snap.State = Enrolled
		snap.Ticket = ticket
	}
	span.SetAttributes(attribute.String("access.state", string(snap.State)))
	return snap, nil
}

func (s *Service) loadCourse(ctx context.Context, courseID string) (model.Course, *model.ContentPayload, error) {
	obj, err := s.reader.GetObject(ctx, courseID)
	if err != nil {
		return model.Course{}, nil, fmt.Errorf("get course %s: %w", courseID, err)
	}
	if want := s.contract.StructType(ledger.StructCourse); obj.Type != "" && obj.Type != want {
		return model.Course{}, nil, fmt.Errorf("object %s is %s, not a course: %w", courseID, obj.Type, ledger.ErrNotFound)
	}
	course, err := ledger.DecodeCourse(obj)
	if err != nil {
		return model.Course{}, nil, err
	}
	raw, err := blob.ReadAll(ctx, s.blobs, course.CourseDataBlobID)
	if err != nil {
		return model.Course{}, nil, fmt.Errorf("download course content %s: %w", course.CourseDataBlobID, err)
	}
	payload, err := s.v.DecodePayload(raw)
	if err != nil {
		return model.Course{}, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return course, payload, nil
}

func (s *Service) findTicket(ctx context.Context, courseID, learner string) (*model.Ticket, error) {
	objs, err := s.reader.ListOwned(ctx, learner, s.contract.StructType(ledger.StructTicket))
	if err != nil {
		return nil, err
	}
	for i := range objs {
		t := ledger.DecodeTicket(&objs[i])
		if t.CourseID == courseID {
			return &t, nil
		}
	}
	return nil, nil
}

func (s *Service) findCredential(ctx context.Context, courseID, learner string) (*model.Credential, error) {
	objs, err := s.reader.ListOwned(ctx, learner, s.contract.StructType(ledger.StructCertificate))
	if err != nil {
		return nil, err
	}
	for i := range objs {
		c, err := ledger.DecodeCredential(&objs[i])
		if err != nil {
			return nil, err
		}
		if c.CourseID == courseID {
			return &c, nil
		}
	}
	return nil, nil
}

// Credentials lists every credential owned by learner.
func (s *Service) Credentials(ctx context.Context, learner string) ([]model.Credential, error) {
	objs, err := s.reader.ListOwned(ctx, learner, s.contract.StructType(ledger.StructCertificate))
	if err != nil {
		return nil, err
	}
	out := make([]model.Credential, 0, len(objs))
	for i := range objs {
		c, err := ledger.DecodeCredential(&objs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// scheduleReconcile re-reads ownership after the configured delay. A confirmed
// transition drops the optimistic entry; a transaction the ledger reports as
// failed or unknown drops it too, reverting the local state.
func (s *Service) scheduleReconcile(courseID, learner, digest string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reconcile(courseID, learner, digest)
	}()
}

func (s *Service) reconcile(courseID, learner, digest string) {
	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		defer t.Stop()
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
		}
	}

	o, ok := s.tracker.Get(courseID, learner)
	if !ok || o.Digest != digest {
		return
	}

	snap, err := s.resolveLedger(s.ctx, courseID, learner)
	if err != nil {
		slog.Warn("access reconciliation read failed", "course_id", courseID, "digest", digest, "error", err)
		return
	}
	if !snap.Degraded && reached(snap.State, o.State) {
		s.tracker.Forget(courseID, learner)
		slog.Debug("optimistic access confirmed", "course_id", courseID, "state", o.State)
		return
	}
	if s.txs == nil {
		return
	}
	if _, err := s.txs.Transaction(s.ctx, digest); err != nil {
		var txErr *ledger.TxError
		if errors.Is(err, ledger.ErrNotFound) || errors.As(err, &txErr) {
			s.tracker.Forget(courseID, learner)
			slog.Warn("optimistic access reverted", "course_id", courseID, "digest", digest, "error", err)
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
