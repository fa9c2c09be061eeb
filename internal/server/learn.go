package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/access"
	errordefs "github.com/RegistryAccord/registryaccord-academy-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/event"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/model"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/quiz"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/wallet"
)

type enrollResponse struct {
	Enrollment *access.Enrollment `json:"enrollment"`
	Access     *access.View       `json:"access,omitempty"`
}

type quizRequest struct {
	Answers []int `json:"answers"`
}

type quizResponse struct {
	Result       quiz.Result  `json:"result"`
	Passed       bool         `json:"passed"`
	PassingScore int          `json:"passingScore"`
	Access       *access.View `json:"access"`
}

type credentialRequest struct {
	Name    string `json:"name"`
	Answers []int  `json:"answers,omitempty"` // Graded first when present
}

type credentialResponse struct {
	Credential *access.Issued `json:"credential"`
	Access     *access.View   `json:"access,omitempty"`
}

func (m *Mux) flow(r *http.Request) *access.Flow {
	id := r.PathValue("id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("course.id", id))
	return m.Flows.For(id)
}

// handleAccess resolves the learner's state on a course.
func (m *Mux) handleAccess(w http.ResponseWriter, r *http.Request) {
	v, err := m.flow(r).Refresh(r.Context())
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, v)
}

// handleWatchAccess streams the learner view as server-sent events, one event
// per change, until the client goes away.
func (m *Mux) handleWatchAccess(w http.ResponseWriter, r *http.Request) {
	f := m.flow(r)
	if _, err := f.Refresh(r.Context()); err != nil {
		m.fail(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		m.fail(w, r, errordefs.New(errordefs.ACD_INTERNAL, "streaming unsupported", ""))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	watcher := access.Watch(r.Context(), m.WatchInterval, f.Refresh, func(v *access.View) {
		data, err := json.Marshal(v)
		if err != nil {
			slog.Error("failed to encode access view", "error", err)
			return
		}
		fmt.Fprintf(w, "event: access\ndata: %s\n\n", data)
		flusher.Flush()
	})
	<-watcher.Done()
}

// handleEnroll pays for the course and reports the optimistic view.
func (m *Mux) handleEnroll(w http.ResponseWriter, r *http.Request) {
	f := m.flow(r)
	en, err := f.Enroll(r.Context())
	if err != nil {
		m.fail(w, r, err)
		return
	}
	learner, _ := m.Flows.Session().Address()
	ev := event.Enrolled{
		Digest:   en.Digest,
		CourseID: r.PathValue("id"),
		Learner:  learner,
		TicketID: en.TicketID,
		Price:    en.Price,
	}
	if err := m.Events.PublishEnrolled(r.Context(), ev); err != nil {
		slog.Warn("failed to publish enrollment event", "digest", en.Digest, "error", err)
	}
	m.writeSuccess(w, http.StatusCreated, enrollResponse{Enrollment: en, Access: f.View()})
}

// handleVideo streams a module video. Access is re-checked on every request.
func (m *Mux) handleVideo(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n < 0 {
		m.fail(w, r, errordefs.New(errordefs.ACD_BAD_REQUEST, "module index must be a non-negative integer", ""))
		return
	}
	rc, err := m.flow(r).Video(r.Context(), n)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Cache-Control", "private, no-store")
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("video stream interrupted", "course_id", r.PathValue("id"), "module", n, "error", err)
	}
}

// grade enters the quiz if needed and grades answers. A nil slice grades the
// selections already made.
func grade(r *http.Request, f *access.Flow, answers []int) (quiz.Result, error) {
	v, err := f.BeginQuiz(r.Context())
	if err != nil {
		return quiz.Result{}, err
	}
	if answers != nil {
		if n := len(v.Payload.Questions); len(answers) != n {
			return quiz.Result{}, errordefs.New(errordefs.ACD_VALIDATION,
				fmt.Sprintf("expected %d answers, got %d", n, len(answers)), "")
		}
		for i, a := range answers {
			if a < quiz.Unanswered || a >= model.OptionsPerQuestion {
				return quiz.Result{}, errordefs.NewWithDetails(errordefs.ACD_VALIDATION,
					fmt.Sprintf("answer %d for question %d is out of range", a, i+1), "",
					map[string]string{"field": fmt.Sprintf("answers[%d]", i)})
			}
		}
	}
	return f.Submit(r.Context(), answers)
}

// handleSubmitQuiz grades a full set of answers. Grading makes no ledger call.
func (m *Mux) handleSubmitQuiz(w http.ResponseWriter, r *http.Request) {
	var req quizRequest
	if err := decodeJSON(r, &req); err != nil {
		m.fail(w, r, err)
		return
	}
	f := m.flow(r)
	res, err := grade(r, f, req.Answers)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	v := f.View()
	m.writeSuccess(w, http.StatusOK, quizResponse{
		Result:       res,
		Passed:       res.Passed(v.PassingScore),
		PassingScore: v.PassingScore,
		Access:       v,
	})
}

// handleRetake clears the previous attempt.
func (m *Mux) handleRetake(w http.ResponseWriter, r *http.Request) {
	v, err := m.flow(r).Retake(r.Context())
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, v)
}

// handleIssueCredential mints the completion credential after a passing
// attempt, grading the supplied answers first when present.
func (m *Mux) handleIssueCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := decodeJSON(r, &req); err != nil {
		m.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		m.fail(w, r, access.ErrNameRequired)
		return
	}
	f := m.flow(r)
	if req.Answers != nil {
		res, err := grade(r, f, req.Answers)
		if err != nil {
			m.fail(w, r, err)
			return
		}
		if threshold := f.View().PassingScore; !res.Passed(threshold) {
			m.fail(w, r, errordefs.NewWithDetails(errordefs.ACD_QUIZ_FAILED,
				fmt.Sprintf("score %d is below the passing score %d", res.Score, threshold), "",
				map[string]int{"score": res.Score, "passingScore": threshold}))
			return
		}
	}

	issued, err := f.IssueCredential(r.Context(), req.Name)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	learner, _ := m.Flows.Session().Address()
	ev := event.CredentialIssued{
		Digest:       issued.Digest,
		CourseID:     r.PathValue("id"),
		Learner:      learner,
		CredentialID: issued.CredentialID,
		Score:        issued.Score,
	}
	if err := m.Events.PublishCredentialIssued(r.Context(), ev); err != nil {
		slog.Warn("failed to publish credential event", "digest", issued.Digest, "error", err)
	}
	w.Header().Set("Location", issued.Redirect)
	m.writeSuccess(w, http.StatusCreated, credentialResponse{Credential: issued, Access: f.View()})
}

// handleCredentials lists the acting learner's credentials.
func (m *Mux) handleCredentials(w http.ResponseWriter, r *http.Request) {
	learner, ok := m.Flows.Session().Address()
	if !ok {
		m.fail(w, r, wallet.ErrDisconnected)
		return
	}
	creds, err := m.Flows.Service().Credentials(r.Context(), learner)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, creds)
}
