package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/blob"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/event"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/ledger"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/model"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/receipts"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/schema"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/telemetry"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/wallet"
)

// Step numbers the pipeline stages in execution order.
type Step int

const (
	StepThumbnail Step = iota + 1
	StepMaterials
	StepModules
	StepPayload
	StepProfile
	StepCourse
	StepFinish
)

func (s Step) String() string {
	switch s {
	case StepThumbnail:
		return "thumbnail"
	case StepMaterials:
		return "materials"
	case StepModules:
		return "modules"
	case StepPayload:
		return "payload"
	case StepProfile:
		return "profile"
	case StepCourse:
		return "course"
	case StepFinish:
		return "finish"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Progress is reported before each unit of work.
type Progress struct {
	RunID  string `json:"runId"`
	Step   Step   `json:"step"`
	Detail string `json:"detail"`
}

// StepError is a failure inside one step. Its message is the cause's message
// unchanged, so ledger rejections reach the user verbatim.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string { return e.Err.Error() }
func (e *StepError) Unwrap() error { return e.Err }

// Result is a completed run.
type Result struct {
	RunID            string   `json:"runId"`
	Digest           string   `json:"digest"`
	CourseID         string   `json:"courseId,omitempty"`
	ProfileID        string   `json:"profileId"`
	ProfileCreated   bool     `json:"profileCreated"`
	ThumbnailBlobID  string   `json:"thumbnailBlobId"`
	VideoBlobIDs     []string `json:"videoBlobIds"`
	CourseDataBlobID string   `json:"courseDataBlobId"`
}

// Config wires a Pipeline.
type Config struct {
	Blobs      blob.Store
	Reader     ledger.Reader
	Session    wallet.Session
	Contract   ledger.Contract
	Validator  *schema.Validator
	Receipts   *receipts.Log
	Events     event.Publisher
	Waiter     ledger.TxWaiter // Defaults to Reader when it implements TxWaiter
	IndexDelay time.Duration   // Pause before re-reading a new profile when there is no Waiter
	Metrics    *metrics.Metrics
}

// Pipeline publishes courses. Runs are independent; each run is sequential.
type Pipeline struct {
	blobs    blob.Store
	session  wallet.Session
	contract ledger.Contract
	v        *schema.Validator
	receipts *receipts.Log
	events   event.Publisher
	profiles *Profiles
	m        *metrics.Metrics
	now      func() time.Time
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	waiter := cfg.Waiter
	if waiter == nil {
		waiter, _ = cfg.Reader.(ledger.TxWaiter)
	}
	events := cfg.Events
	if events == nil {
		events = event.NewNoop()
	}
	return &Pipeline{
		blobs:    cfg.Blobs,
		session:  cfg.Session,
		contract: cfg.Contract,
		v:        cfg.Validator,
		receipts: cfg.Receipts,
		events:   events,
		profiles: NewProfiles(cfg.Reader, cfg.Session, cfg.Contract, cfg.Blobs, waiter, cfg.IndexDelay),
		m:        cfg.Metrics,
		now:      time.Now,
	}
}

// Profiles returns the profile manager sharing this pipeline's collaborators.
func (p *Pipeline) Profiles() *Profiles { return p.profiles }

type run struct {
	p       *Pipeline
	id      string
	form    *Form
	observe func(Progress)
	address string
	price   uint64

	thumbnailID string
	materials   []model.Material
	modules     []model.Module
	dataID      string
	profileID   string
	created     bool
	res         *ledger.TxResult
	courseID    string
}

// Run validates form and executes every step in order. Any failure stops the
// run; blobs already uploaded stay orphaned. On success form is reset; on
// failure it is left untouched. observe may be nil.
func (p *Pipeline) Run(ctx context.Context, form *Form, observe func(Progress)) (*Result, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}
	price, _ := model.ParsePrice(form.Price)
	addr, ok := p.session.Address()
	if !ok {
		return nil, wallet.ErrDisconnected
	}
	if observe == nil {
		observe = func(Progress) {}
	}

	r := &run{p: p, id: ulid.Make().String(), form: form, observe: observe, address: addr, price: price}
	ctx, span := telemetry.Tracer().Start(ctx, "publish.Run")
	defer span.End()
	span.SetAttributes(attribute.String("publish.run_id", r.id))

	steps := []struct {
		step Step
		fn   func(context.Context) error
	}{
		{StepThumbnail, r.uploadThumbnail},
		{StepMaterials, r.uploadMaterials},
		{StepModules, r.uploadModules},
		{StepPayload, r.uploadPayload},
		{StepProfile, r.resolveProfile},
		{StepCourse, r.createCourse},
		{StepFinish, r.finish},
	}
	for _, s := range steps {
		if err := r.step(ctx, s.step, s.fn); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("publish failed", "run_id", r.id, "step", s.step.String(), "error", err)
			return nil, &StepError{Step: s.step, Err: err}
		}
	}

	videos := make([]string, len(r.modules))
	for i, m := range r.modules {
		videos[i] = m.VideoBlobID
	}
	return &Result{
		RunID:            r.id,
		Digest:           r.res.Digest,
		CourseID:         r.courseID,
		ProfileID:        r.profileID,
		ProfileCreated:   r.created,
		ThumbnailBlobID:  r.thumbnailID,
		VideoBlobIDs:     videos,
		CourseDataBlobID: r.dataID,
	}, nil
}

func (r *run) step(ctx context.Context, s Step, fn func(context.Context) error) error {
	ctx, span := telemetry.Tracer().Start(ctx, "publish."+s.String())
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	r.p.m.ObserveStep(s.String(), err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *run) report(s Step, format string, args ...any) {
	r.observe(Progress{RunID: r.id, Step: s, Detail: fmt.Sprintf(format, args...)})
}

func (r *run) upload(ctx context.Context, f *File) (string, error) {
	return r.p.blobs.Upload(ctx, f.Data, f.ContentType)
}

func (r *run) uploadThumbnail(ctx context.Context) error {
	r.report(StepThumbnail, "uploading thumbnail")
	id, err := r.upload(ctx, r.form.Thumbnail)
	if err != nil {
		return fmt.Errorf("upload thumbnail: %w", err)
	}
	r.thumbnailID = id
	return nil
}

func (r *run) uploadMaterialList(ctx context.Context, s Step, in []MaterialInput) ([]model.Material, error) {
	var out []model.Material
	for _, m := range in {
		if m.File == nil {
			continue
		}
		name := materialName(m)
		r.report(s, "uploading material %s", name)
		id, err := r.upload(ctx, m.File)
		if err != nil {
			return nil, fmt.Errorf("upload material %s: %w", name, err)
		}
		out = append(out, model.Material{Name: name, Kind: materialKind(m), BlobID: id})
	}
	return out, nil
}

func (r *run) uploadMaterials(ctx context.Context) error {
	ms, err := r.uploadMaterialList(ctx, StepMaterials, r.form.Materials)
	r.materials = ms
	return err
}

func (r *run) uploadModules(ctx context.Context) error {
	total := len(r.form.Modules)
	for i, in := range r.form.Modules {
		r.report(StepModules, "uploading video %d/%d", i+1, total)
		videoID, err := r.upload(ctx, in.Video)
		if err != nil {
			return fmt.Errorf("upload video for module %d: %w", i+1, err)
		}
		ms, err := r.uploadMaterialList(ctx, StepModules, in.Materials)
		if err != nil {
			return fmt.Errorf("module %d: %w", i+1, err)
		}
		r.modules = append(r.modules, model.Module{
			Title:       in.Title,
			Description: in.Description,
			VideoBlobID: videoID,
			Materials:   ms,
		})
	}
	return nil
}

func (r *run) uploadPayload(ctx context.Context) error {
	r.report(StepPayload, "uploading course content")
	payload := &model.ContentPayload{
		Modules:            r.modules,
		Materials:          r.materials,
		Questions:          r.form.Questions,
		PassingScore:       r.form.PassingScore,
		InstructorName:     r.form.InstructorName,
		InstructorAbout:    r.form.About,
		InstructorContacts: r.form.Contacts,
	}
	if err := r.p.v.ValidatePayload(payload); err != nil {
		return fmt.Errorf("course content: %w", err)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	id, err := r.p.blobs.Upload(ctx, raw, "application/json")
	if err != nil {
		return fmt.Errorf("upload course content: %w", err)
	}
	r.dataID = id
	return nil
}

func (r *run) resolveProfile(ctx context.Context) error {
	r.report(StepProfile, "looking up instructor profile")
	prof, err := r.p.profiles.lookup(ctx, r.address)
	if err == nil {
		r.profileID = prof.ID
		return nil
	}
	if !errors.Is(err, ErrProfileNotFound) {
		return err
	}

	r.report(StepProfile, "creating instructor profile")
	res, err := r.p.profiles.Create(ctx, ProfileInput{About: r.form.About, Contacts: r.form.Contacts})
	if err != nil {
		return err
	}
	r.profileID = res.ProfileID
	r.created = true
	return nil
}

func (r *run) createCourse(ctx context.Context) error {
	r.report(StepCourse, "creating course")
	f := r.form
	call := r.p.contract.CreateCourse(r.profileID, f.Title, f.Description, r.price, r.thumbnailID, r.dataID)
	res, err := r.p.session.SignAndExecute(ctx, call)

	var txErr *ledger.TxError
	switch {
	case err == nil:
		r.res = res
		r.recordReceipt(ctx, res.Digest)
	case errors.As(err, &txErr) && txErr.Digest != "":
		r.recordReceipt(ctx, txErr.Digest)
		return err
	default:
		return err
	}

	if id, ok := res.CreatedOfType(r.p.contract.StructType(ledger.StructCourse)); ok {
		r.courseID = id
		if r.p.receipts != nil {
			if err := r.p.receipts.SetCourseID(ctx, res.Digest, id); err != nil {
				slog.Warn("failed to record course id on receipt", "digest", res.Digest, "error", err)
			}
		}
	}
	return nil
}

// recordReceipt writes the local receipt as soon as a digest exists. The log is
// advisory, so a write failure is logged and the run continues.
func (r *run) recordReceipt(ctx context.Context, digest string) {
	if r.p.receipts == nil {
		return
	}
	videos := make([]string, len(r.modules))
	for i, m := range r.modules {
		videos[i] = m.VideoBlobID
	}
	rec := model.Receipt{
		Digest:           digest,
		Title:            r.form.Title,
		Description:      r.form.Description,
		Price:            r.price,
		VideoBlobIDs:     videos,
		ThumbnailBlobID:  r.thumbnailID,
		CourseDataBlobID: r.dataID,
		CreatedAt:        r.p.now().UTC(),
	}
	if err := r.p.receipts.Add(ctx, rec); err != nil {
		slog.Warn("failed to record course receipt", "digest", digest, "error", err)
		return
	}
	if err := r.p.events.PublishReceiptRecorded(ctx, rec); err != nil {
		slog.Warn("failed to publish receipt event", "digest", digest, "error", err)
	}
}

func (r *run) finish(ctx context.Context) error {
	r.report(StepFinish, "course published")
	f := r.form
	ev := event.CoursePublished{
		Digest:           r.res.Digest,
		CourseID:         r.courseID,
		Instructor:       r.address,
		Title:            f.Title,
		Price:            r.price,
		CourseDataBlobID: r.dataID,
	}
	if err := r.p.events.PublishCoursePublished(ctx, ev); err != nil {
		slog.Warn("failed to publish course event", "digest", r.res.Digest, "error", err)
	}
	slog.Info("course published", "run_id", r.id, "digest", r.res.Digest, "course_id", r.courseID, "title", f.Title)
	f.Reset()
	return nil
}
