// Package conformance provides an end-to-end harness that drives the academy
// API over HTTP. An instructor service and a learner service, each acting for
// its own wallet, share one in-memory ledger and blob store.
package conformance

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/access"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/blob"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/event"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/ledger"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/model"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/publish"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/receipts"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/schema"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/server"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/storage"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/wallet"
)

// CorrectAnswers is the answer key of every course the harness publishes.
var CorrectAnswers = []int{0, 1, 2, 3, 0}

// Config holds configuration for the conformance harness.
type Config struct {
	// LearnerFunds is credited to the learner wallet, in MIST
	LearnerFunds uint64

	// PassingScore is written into every published course
	PassingScore int
}

// DefaultConfig returns the configuration the scenarios are written against.
func DefaultConfig() Config {
	return Config{LearnerFunds: 10 * model.MistPerSui, PassingScore: 70}
}

// trackingStore counts downloads per blob id.
type trackingStore struct {
	blob.Store
	mu        sync.Mutex
	downloads map[string]int
}

func (s *trackingStore) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	s.mu.Lock()
	s.downloads[id]++
	s.mu.Unlock()
	return s.Store.Download(ctx, id)
}

func (s *trackingStore) count(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloads[id]
}

// Harness runs the instructor and learner services.
type Harness struct {
	cfg        Config
	Ledger     *ledger.Memory
	Instructor *httptest.Server
	Learner    *httptest.Server

	blobs    *trackingStore
	services []*access.Service
	learner  string
}

func seedKey(b byte) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(bytes.Repeat([]byte{b}, ed25519.SeedSize))
}

// NewHarness creates both services over fresh in-memory collaborators.
func NewHarness(cfg Config) (*Harness, error) {
	v, err := schema.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize schema validator: %w", err)
	}
	contract := ledger.NewContract("0xacademy", "academy", "0x6")
	mem := ledger.NewMemory(contract)
	blobs := &trackingStore{Store: blob.NewMemory(), downloads: make(map[string]int)}
	h := &Harness{cfg: cfg, Ledger: mem, blobs: blobs}

	instructor := wallet.NewKeypair(seedKey(1), mem)
	learner := wallet.NewKeypair(seedKey(2), mem)
	h.learner, _ = learner.Address()
	mem.Fund(h.learner, cfg.LearnerFunds)

	h.Instructor = httptest.NewServer(h.api(contract, v, instructor))
	h.Learner = httptest.NewServer(h.api(contract, v, learner))
	return h, nil
}

func (h *Harness) api(contract ledger.Contract, v *schema.Validator, session wallet.Session) http.Handler {
	kv := storage.NewMemory()
	log := receipts.NewLog(kv, v, nil)
	svc := access.NewService(access.Config{
		Reader:       h.Ledger,
		Transactions: h.Ledger,
		Blobs:        h.blobs,
		Contract:     contract,
		Validator:    v,
	})
	h.services = append(h.services, svc)
	pub := event.NewNoop()
	return server.NewMux(server.Deps{
		Ledger:   h.Ledger,
		Contract: contract,
		Blobs:    h.blobs,
		Flows:    access.NewFlows(svc, session),
		Pipeline: publish.New(publish.Config{
			Blobs:     h.blobs,
			Reader:    h.Ledger,
			Session:   session,
			Contract:  contract,
			Validator: v,
			Receipts:  log,
			Events:    pub,
		}),
		Receipts:         log,
		KV:               kv,
		Events:           pub,
		AllowedMimeTypes: []string{"image/", "video/", "application/pdf"},
	})
}

// Close shuts down both servers and stops background reconciliation.
func (h *Harness) Close() {
	h.Instructor.Close()
	h.Learner.Close()
	for _, s := range h.services {
		s.Close()
	}
}

// Envelope is the response body of every JSON endpoint.
type Envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Call sends a request and decodes the envelope. body is JSON-encoded unless nil.
func Call(t *testing.T, srv *httptest.Server, method, path string, body any) (int, Envelope) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return do(t, req)
}

func do(t *testing.T, req *http.Request) (int, Envelope) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	var env Envelope
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 && bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("%s %s: invalid body %q: %v", req.Method, req.URL.Path, raw, err)
		}
	}
	return resp.StatusCode, env
}

// Decode unmarshals the envelope data into v.
func Decode(t *testing.T, env Envelope, v any) {
	t.Helper()
	if env.Error != nil {
		t.Fatalf("unexpected error %s: %s", env.Error.Code, env.Error.Message)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("invalid data %s: %v", env.Data, err)
	}
}

func writeFile(mw *multipart.Writer, field, name, contentType string, data []byte) error {
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, name))
	hdr.Set("Content-Type", contentType)
	w, err := mw.CreatePart(hdr)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Publish creates a one-module course from the instructor service.
func (h *Harness) Publish(t *testing.T, title, price string) publish.Result {
	t.Helper()
	questions := make([]model.Question, len(CorrectAnswers))
	for i, a := range CorrectAnswers {
		questions[i] = model.Question{Text: fmt.Sprintf("Question %d", i+1), Options: [4]string{"a", "b", "c", "d"}, CorrectAnswer: a}
	}
	qs, _ := json.Marshal(questions)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"title", title},
		{"description", title + " description"},
		{"price", price},
		{"instructorName", "Grace"},
		{"about", "Instructor"},
		{"contacts", "grace@example.com"},
		{"passingScore", fmt.Sprint(h.cfg.PassingScore)},
		{"modules", `[{"title":"Lesson 1","description":"first"}]`},
		{"questions", string(qs)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			t.Fatal(err)
		}
	}
	if err := writeFile(mw, "thumbnail", "thumb.png", "image/png", []byte("thumb "+title)); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(mw, "modules[0].video", "lesson.mp4", "video/mp4", []byte("video "+title)); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req, err := http.NewRequest(http.MethodPost, h.Instructor.URL+"/v1/courses", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	status, env := do(t, req)
	if status != http.StatusCreated {
		t.Fatalf("publish %q: status %d: %+v", title, status, env.Error)
	}
	var res publish.Result
	Decode(t, env, &res)
	return res
}

// VideoFetches reports how often blob id was downloaded.
func (h *Harness) VideoFetches(id string) int {
	return h.blobs.count(id)
}

// LearnerAddress returns the learner wallet address.
func (h *Harness) LearnerAddress() string {
	return h.learner
}
