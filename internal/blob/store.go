// Package blob provides content-addressed blob storage for course media and payloads.
// Backends: a Walrus-style HTTP publisher/aggregator, S3-compatible storage, and memory.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/metrics"
)

// ErrNotFound is returned when a blob id cannot be resolved.
var ErrNotFound = errors.New("blob not found")

// Store is the blob store collaborator.
type Store interface {
	// Upload stores data and returns its blob id. Identical bytes yield the same id.
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
	// Download opens the blob for reading. Callers must close the reader.
	Download(ctx context.Context, id string) (io.ReadCloser, error)
	// URL returns the address at which the blob can be fetched directly.
	URL(id string) string
}

// StatusError reports a non-success HTTP status from a blob endpoint.
type StatusError struct {
	Op     string // upload or download
	Status int    // HTTP status code
	Body   string // Truncated response body
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("blob %s failed: status %d: %s", e.Op, e.Status, e.Body)
	}
	return fmt.Sprintf("blob %s failed: status %d", e.Op, e.Status)
}

// ContentID derives the content address used by the S3 and memory backends:
// unpadded base64url of the SHA-256 digest.
func ContentID(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ReadAll downloads a blob fully into memory.
func ReadAll(ctx context.Context, s Store, id string) ([]byte, error) {
	rc, err := s.Download(ctx, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

type instrumented struct {
	next    Store
	backend string
	m       *metrics.Metrics
}

// Instrument wraps a store so each upload and download is counted and timed.
func Instrument(s Store, backend string, m *metrics.Metrics) Store {
	if m == nil {
		return s
	}
	return &instrumented{next: s, backend: backend, m: m}
}

func (i *instrumented) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	start := time.Now()
	id, err := i.next.Upload(ctx, data, contentType)
	i.m.ObserveBlob(i.backend, "upload", err, time.Since(start))
	if err == nil {
		i.m.BlobBytes.WithLabelValues(i.backend).Add(float64(len(data)))
	}
	return id, err
}

func (i *instrumented) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := i.next.Download(ctx, id)
	i.m.ObserveBlob(i.backend, "download", err, time.Since(start))
	return rc, err
}

func (i *instrumented) URL(id string) string { return i.next.URL(id) }
