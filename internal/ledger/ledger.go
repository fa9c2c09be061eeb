// Package ledger is the read/write boundary to the course program on the ledger.
// Reads fetch objects and events; writes submit one entry-point call per transaction,
// signed by a caller-supplied function so the key never enters this package.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an object id does not resolve.
var ErrNotFound = errors.New("ledger object not found")

// Object is a ledger object with its decoded Move fields.
type Object struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Owner   string         `json:"owner"` // Owning address, or "shared"/"immutable"
	Version string         `json:"version"`
	Fields  map[string]any `json:"fields"`
}

// Event is a historical event emitted by a transaction.
type Event struct {
	Type      string         `json:"type"`
	Sender    string         `json:"sender"`
	TxDigest  string         `json:"txDigest"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields"`
}

// Call describes one entry-point invocation.
// Args are positional in JSON-RPC form: object ids and strings as strings,
// u64 as decimal strings, u8 as numbers. When Payment is non-zero the submitter
// appends a coin worth exactly Payment as the final argument.
type Call struct {
	Package  string `json:"package"`
	Module   string `json:"module"`
	Function string `json:"function"`
	Args     []any  `json:"args"`
	Payment  uint64 `json:"payment,omitempty"`
}

// ObjectRef is an object created or mutated by a transaction.
type ObjectRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// TxResult is a confirmed transaction.
type TxResult struct {
	Digest  string      `json:"digest"`
	Created []ObjectRef `json:"created,omitempty"`
	Events  []Event     `json:"events,omitempty"`
}

// CreatedOfType returns the first created object whose type equals t.
func (r *TxResult) CreatedOfType(t string) (string, bool) {
	if r == nil {
		return "", false
	}
	for _, o := range r.Created {
		if o.Type == t {
			return o.ID, true
		}
	}
	return "", false
}

// TxError reports a transaction the ledger executed and rejected.
// Message is the ledger's own text and is surfaced to users unchanged.
type TxError struct {
	Digest  string
	Message string
}

func (e *TxError) Error() string { return e.Message }

// SignFunc signs raw transaction bytes and returns the serialized signature.
type SignFunc func(txBytes []byte) (string, error)

// Reader is the read-only side of the ledger.
type Reader interface {
	// GetObject fetches an object's current fields, or ErrNotFound.
	GetObject(ctx context.Context, id string) (*Object, error)
	// ListOwned lists objects of structType owned by owner.
	ListOwned(ctx context.Context, owner, structType string) ([]Object, error)
	// QueryEvents returns up to limit events of eventType, newest first.
	QueryEvents(ctx context.Context, eventType string, limit int) ([]Event, error)
}

// Submitter executes signed transactions.
type Submitter interface {
	Submit(ctx context.Context, sender string, call Call, sign SignFunc) (*TxResult, error)
}

// Ledger is the full collaborator used by the service.
type Ledger interface {
	Reader
	Submitter
	// Balance returns the owner's total balance in the smallest currency unit.
	Balance(ctx context.Context, owner string) (uint64, error)
	// Transaction looks up an executed transaction by digest.
	Transaction(ctx context.Context, digest string) (*TxResult, error)
}

// TxWaiter is implemented by ledgers that can signal when a transaction's
// effects are visible to readers. Callers fall back to a fixed delay otherwise.
type TxWaiter interface {
	WaitIndexed(ctx context.Context, digest string) error
}
