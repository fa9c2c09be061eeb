package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/ledger"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/model"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/publish"
)

// courseSummary is one course in the catalog.
type courseSummary struct {
	model.Course
	PriceSui     string    `json:"priceSui"`
	ThumbnailURL string    `json:"thumbnailUrl"`
	PublishedAt  time.Time `json:"publishedAt,omitempty"`
}

type courseDetail struct {
	model.Course
	PriceSui     string                `json:"priceSui"`
	ThumbnailURL string                `json:"thumbnailUrl"`
	Payload      *model.ContentPayload `json:"payload"` // Correct answers hidden
	PassingScore int                   `json:"passingScore"`
}

func (m *Mux) summarize(c model.Course) courseSummary {
	return courseSummary{Course: c, PriceSui: model.FormatPrice(c.Price), ThumbnailURL: m.Blobs.URL(c.ThumbnailBlobID)}
}

// handleListCourses lists recently created courses from CourseCreated events.
// Courses whose object can no longer be read are skipped.
func (m *Mux) handleListCourses(w http.ResponseWriter, r *http.Request) {
	limit := DefaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			m.fail(w, r, &publish.ValidationError{Field: "limit", Message: "limit must be a positive integer"})
			return
		}
		limit = min(n, MaxListLimit)
	}

	events, err := m.Ledger.QueryEvents(r.Context(), m.Contract.StructType(ledger.EventCourseCreated), limit)
	if err != nil {
		m.fail(w, r, err)
		return
	}

	seen := make(map[string]bool, len(events))
	out := make([]courseSummary, 0, len(events))
	for _, ev := range events {
		id := ledger.FieldString(ev.Fields, "course_id")
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		obj, err := m.Ledger.GetObject(r.Context(), id)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				slog.Warn("course from event not found", "course_id", id, "digest", ev.TxDigest)
				continue
			}
			m.fail(w, r, err)
			return
		}
		c, err := ledger.DecodeCourse(obj)
		if err != nil {
			slog.Warn("skipping undecodable course", "course_id", id, "error", err)
			continue
		}
		s := m.summarize(c)
		s.PublishedAt = ev.Timestamp
		out = append(out, s)
	}
	m.writeSuccess(w, http.StatusOK, out)
}

// handleGetCourse returns a course with its public content payload.
func (m *Mux) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("course.id", id))

	snap, err := m.Flows.Service().Resolve(r.Context(), id, "")
	if err != nil {
		m.fail(w, r, err)
		return
	}
	pub := snap.Payload.Public()
	m.writeSuccess(w, http.StatusOK, courseDetail{
		Course:       snap.Course,
		PriceSui:     model.FormatPrice(snap.Course.Price),
		ThumbnailURL: m.Blobs.URL(snap.Course.ThumbnailBlobID),
		Payload:      &pub,
		PassingScore: snap.Payload.EffectivePassingScore(),
	})
}

// handlePublish runs the publish pipeline over a multipart course form.
func (m *Mux) handlePublish(w http.ResponseWriter, r *http.Request) {
	form, err := m.parseMultipart(w, r)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	defer form.RemoveAll()

	f, err := m.publishForm(form)
	if err != nil {
		m.fail(w, r, err)
		return
	}

	res, err := m.Pipeline.Run(r.Context(), f, func(p publish.Progress) {
		slog.Debug("publish progress", "run_id", p.RunID, "step", p.Step.String(), "detail", p.Detail,
			"correlation_id", correlationID(r))
	})
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusCreated, res)
}
