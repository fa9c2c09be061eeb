package event

import (
	"context"
	"sync"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/model"
)

// Recorder is an in-process Publisher that keeps every envelope, for tests and
// the conformance harness.
type Recorder struct {
	mu     sync.Mutex
	events []Envelope
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) add(eventType string, payload any) error {
	r.mu.Lock()
	r.events = append(r.events, newEnvelope(eventType, payload))
	r.mu.Unlock()
	return nil
}

// Events returns the recorded envelopes in publish order.
func (r *Recorder) Events() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.events...)
}

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *Recorder) PublishCoursePublished(_ context.Context, e CoursePublished) error {
	return r.add(TypeCoursePublished, e)
}

func (r *Recorder) PublishReceiptRecorded(_ context.Context, rc model.Receipt) error {
	return r.add(TypeReceiptRecorded, rc)
}

func (r *Recorder) PublishEnrolled(_ context.Context, e Enrolled) error {
	return r.add(TypeEnrolled, e)
}

func (r *Recorder) PublishCredentialIssued(_ context.Context, e CredentialIssued) error {
	return r.add(TypeCredentialIssued, e)
}

func (r *Recorder) Close() error { return nil }
