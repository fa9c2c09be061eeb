// Package receipts keeps the local log of course-creation transactions.
// The log is advisory: it lets an instructor recover the digest and blob ids of a
// course they created, and is never consulted for access control or listings.
package receipts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/model"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/schema"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/storage"
)

// StorageKey is the fixed key the whole log is stored under.
const StorageKey = "academy.created_courses"

var (
	// ErrNotFound is returned by Get and SetCourseID for an unknown digest.
	ErrNotFound = errors.New("receipt not found")
	// ErrInvalidDocument is returned by Import for a malformed document.
	ErrInvalidDocument = errors.New("invalid receipt document")
)

// Log is the receipt log over an injected storage backend.
// Every mutation loads the stored array, modifies it and writes it back while
// holding mu, so mutations are atomic within one process. Across processes
// sharing a backend the last writer wins.
type Log struct {
	mu        sync.Mutex
	kv        storage.KV
	validator *schema.Validator // Optional; checks imported documents
	m         *metrics.Metrics  // Optional
}

// NewLog creates a log over kv.
func NewLog(kv storage.KV, validator *schema.Validator, m *metrics.Metrics) *Log {
	return &Log{kv: kv, validator: validator, m: m}
}

// load reads the stored array. A missing key is an empty log.
func (l *Log) load(ctx context.Context) ([]model.Receipt, error) {
	raw, err := l.kv.Get(ctx, StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load receipts: %w", err)
	}
	var out []model.Receipt
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode receipts: %w", err)
	}
	return out, nil
}

func (l *Log) save(ctx context.Context, list []model.Receipt) error {
	if list == nil {
		list = []model.Receipt{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode receipts: %w", err)
	}
	if err := l.kv.Put(ctx, StorageKey, raw); err != nil {
		return fmt.Errorf("save receipts: %w", err)
	}
	return nil
}

// mutate runs fn over the stored list under the lock and saves the result when fn reports a change.
func (l *Log) mutate(ctx context.Context, op string, fn func([]model.Receipt) ([]model.Receipt, bool, error)) (err error) {
	defer func() { l.m.ObserveReceipt(op, err) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	list, err := l.load(ctx)
	if err != nil {
		return err
	}
	next, changed, err := fn(list)
	if err != nil || !changed {
		return err
	}
	return l.save(ctx, next)
}

func indexOf(list []model.Receipt, digest string) int {
	for i := range list {
		if list[i].Digest == digest {
			return i
		}
	}
	return -1
}

// Add inserts r at the front. A record with the same digest is replaced in place.
func (l *Log) Add(ctx context.Context, r model.Receipt) error {
	if r.Digest == "" {
		return fmt.Errorf("receipt digest is required")
	}
	return l.mutate(ctx, "add", func(list []model.Receipt) ([]model.Receipt, bool, error) {
		if i := indexOf(list, r.Digest); i >= 0 {
			list[i] = r
			return list, true, nil
		}
		return append([]model.Receipt{r}, list...), true, nil
	})
}

// Remove deletes the record for digest. An unknown digest is a no-op.
func (l *Log) Remove(ctx context.Context, digest string) error {
	return l.mutate(ctx, "remove", func(list []model.Receipt) ([]model.Receipt, bool, error) {
		i := indexOf(list, digest)
		if i < 0 {
			return list, false, nil
		}
		return append(list[:i], list[i+1:]...), true, nil
	})
}

// Clear removes every record.
func (l *Log) Clear(ctx context.Context) error {
	return l.mutate(ctx, "clear", func([]model.Receipt) ([]model.Receipt, bool, error) {
		return nil, true, nil
	})
}

// SetCourseID records the resolved course object id for digest.
func (l *Log) SetCourseID(ctx context.Context, digest, courseID string) error {
	return l.mutate(ctx, "set_course_id", func(list []model.Receipt) ([]model.Receipt, bool, error) {
		i := indexOf(list, digest)
		if i < 0 {
			return nil, false, ErrNotFound
		}
		if list[i].CourseID == courseID {
			return list, false, nil
		}
		list[i].CourseID = courseID
		return list, true, nil
	})
}

// List returns a snapshot copy of every record, newest first.
func (l *Log) List(ctx context.Context) ([]model.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	list, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return []model.Receipt{}, nil
	}
	return list, nil
}

// Get returns the record for digest.
func (l *Log) Get(ctx context.Context, digest string) (model.Receipt, error) {
	list, err := l.List(ctx)
	if err != nil {
		return model.Receipt{}, err
	}
	if i := indexOf(list, digest); i >= 0 {
		return list[i], nil
	}
	return model.Receipt{}, ErrNotFound
}

// Export renders the whole log as one indented JSON array.
func (l *Log) Export(ctx context.Context) ([]byte, error) {
	list, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(list, "", "  ")
	l.m.ObserveReceipt("export", err)
	return out, err
}

// Import appends records from an exported document, skipping digests already
// present (and repeats within the document). It returns the number imported.
func (l *Log) Import(ctx context.Context, doc []byte) (int, error) {
	if l.validator != nil {
		if _, err := l.validator.ValidateBytes(schema.KindReceiptLog, doc); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
	}
	var incoming []model.Receipt
	if err := json.Unmarshal(doc, &incoming); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	imported := 0
	err := l.mutate(ctx, "import", func(list []model.Receipt) ([]model.Receipt, bool, error) {
		for _, r := range incoming {
			if r.Digest == "" || indexOf(list, r.Digest) >= 0 {
				continue
			}
			list = append(list, r)
			imported++
		}
		return list, imported > 0, nil
	})
	if err != nil {
		return 0, err
	}
	return imported, nil
}
