// Package event provides NATS JetStream publishing for academy domain events.
// It streams course, enrollment, credential and receipt events for audit trails
// and downstream consumers. Publishing is best effort: callers log failures and
// never fail a workflow because an event could not be sent.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/model"
)

// Event types, also used as NATS subjects.
const (
	TypeCoursePublished  = "academy.courses.published"
	TypeReceiptRecorded  = "academy.courses.receipt_recorded"
	TypeEnrolled         = "academy.learning.enrolled"
	TypeCredentialIssued = "academy.learning.credential_issued"
)

// envelopeVersion is the event schema version.
const envelopeVersion = "1.0.0"

// CoursePublished is emitted when the publish pipeline's create-course call confirms.
type CoursePublished struct {
	Digest           string `json:"digest"`
	CourseID         string `json:"courseId,omitempty"`
	Instructor       string `json:"instructor"`
	Title            string `json:"title"`
	Price            uint64 `json:"price"`
	CourseDataBlobID string `json:"courseDataBlobId"`
}

// Enrolled is emitted when an enroll call confirms.
type Enrolled struct {
	Digest   string `json:"digest"`
	CourseID string `json:"courseId"`
	Learner  string `json:"learner"`
	TicketID string `json:"ticketId,omitempty"`
	Price    uint64 `json:"price"`
}

// CredentialIssued is emitted when an issue-credential call confirms.
type CredentialIssued struct {
	Digest       string `json:"digest"`
	CourseID     string `json:"courseId"`
	Learner      string `json:"learner"`
	CredentialID string `json:"credentialId,omitempty"`
	Score        int    `json:"score"`
}

// Publisher defines the event publishing operations of the academy service.
type Publisher interface {
	PublishCoursePublished(ctx context.Context, e CoursePublished) error
	PublishReceiptRecorded(ctx context.Context, r model.Receipt) error
	PublishEnrolled(ctx context.Context, e Enrolled) error
	PublishCredentialIssued(ctx context.Context, e CredentialIssued) error

	// Close closes the publisher connection
	Close() error
}

// Envelope is the standard wrapper for every published event.
type Envelope struct {
	Type          string    `json:"type"`          // Event type identifier
	Version       string    `json:"version"`       // Event schema version
	OccurredAt    time.Time `json:"occurredAt"`    // When the event occurred
	CorrelationID string    `json:"correlationId"` // Correlation ID for tracing
	Payload       any       `json:"payload"`       // Event-specific data
}

func newEnvelope(eventType string, payload any) Envelope {
	return Envelope{
		Type:          eventType,
		Version:       envelopeVersion,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: uuid.New().String(),
		Payload:       payload,
	}
}

// noop is used when NATS is not configured or unreachable.
type noop struct{}

// NewNoop returns a Publisher that drops every event.
func NewNoop() Publisher { return noop{} }

func (noop) PublishCoursePublished(context.Context, CoursePublished) error   { return nil }
func (noop) PublishReceiptRecorded(context.Context, model.Receipt) error     { return nil }
func (noop) PublishEnrolled(context.Context, Enrolled) error                 { return nil }
func (noop) PublishCredentialIssued(context.Context, CredentialIssued) error { return nil }
func (noop) Close() error                                                    { return nil }

// natsPub is the NATS JetStream implementation of Publisher.
type natsPub struct {
	nc *nats.Conn
	js nats.JetStreamContext
	m  *metrics.Metrics

	// Transaction digests published recently, per event type
	dedup map[string]time.Time
	mutex sync.Mutex
}

// NewPublisher connects to url and returns a JetStream publisher.
// An empty url, a failed connection or failed stream setup yields a no-op publisher.
func NewPublisher(url string, m *metrics.Metrics) Publisher {
	if url == "" {
		return noop{}
	}

	nc, err := nats.Connect(url, nats.Name("academyd"))
	if err != nil {
		slog.Warn("NATS connect failed, using noop publisher", "error", err)
		return noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		slog.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return noop{}
	}

	if err := initStreams(js); err != nil {
		slog.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return noop{}
	}

	return &natsPub{nc: nc, js: js, m: m, dedup: make(map[string]time.Time)}
}

// initStreams creates the ACADEMY_COURSES and ACADEMY_LEARNING streams.
func initStreams(js nats.JetStreamContext) error {
	streams := []nats.StreamConfig{
		{Name: "ACADEMY_COURSES", Subjects: []string{"academy.courses.*"}},
		{Name: "ACADEMY_LEARNING", Subjects: []string{"academy.learning.*"}},
	}
	for _, cfg := range streams {
		cfg.Retention = nats.LimitsPolicy
		cfg.MaxAge = 7 * 24 * time.Hour
		cfg.Discard = nats.DiscardOld
		cfg.Storage = nats.FileStorage
		if _, err := js.AddStream(&cfg); err != nil {
			return fmt.Errorf("failed to create %s stream: %w", cfg.Name, err)
		}
	}
	return nil
}

// Close closes the NATS connection.
func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// seen reports whether key was published in the last two minutes and records it otherwise.
func (p *natsPub) seen(key string) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := time.Now()
	cutoff := now.Add(-5 * time.Minute)
	for k, t := range p.dedup {
		if t.Before(cutoff) {
			delete(p.dedup, k)
		}
	}
	if last, ok := p.dedup[key]; ok && now.Sub(last) < 2*time.Minute {
		return true
	}
	p.dedup[key] = now
	return false
}

func (p *natsPub) forget(key string) {
	p.mutex.Lock()
	delete(p.dedup, key)
	p.mutex.Unlock()
}

// publish wraps payload in an envelope and sends it, skipping repeats of digest.
func (p *natsPub) publish(ctx context.Context, eventType, digest string, payload any) error {
	key := eventType + ":" + digest
	if p.seen(key) {
		return nil
	}

	start := time.Now()
	b, err := json.Marshal(newEnvelope(eventType, payload))
	if err == nil {
		_, err = p.js.Publish(eventType, b, nats.Context(ctx), nats.MsgId(key))
	}
	p.m.ObserveEvent(eventType, err, time.Since(start))
	if err != nil {
		p.forget(key)
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

func (p *natsPub) PublishCoursePublished(ctx context.Context, e CoursePublished) error {
	return p.publish(ctx, TypeCoursePublished, e.Digest, e)
}

func (p *natsPub) PublishReceiptRecorded(ctx context.Context, r model.Receipt) error {
	return p.publish(ctx, TypeReceiptRecorded, r.Digest, r)
}

func (p *natsPub) PublishEnrolled(ctx context.Context, e Enrolled) error {
	return p.publish(ctx, TypeEnrolled, e.Digest, e)
}

func (p *natsPub) PublishCredentialIssued(ctx context.Context, e CredentialIssued) error {
	return p.publish(ctx, TypeCredentialIssued, e.Digest, e)
}
