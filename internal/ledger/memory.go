package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process ledger that runs the course program's entry points
// against a map of objects. It is used in development mode and tests.
type Memory struct {
	mu       sync.RWMutex
	contract Contract
	objects  map[string]*Object
	events   []Event // Oldest first
	balances map[string]uint64
	txs      map[string]*TxResult
	seq      int
	failures map[string]string // Function name -> abort message for the next call
	calls    []Call            // Every submitted call in order
	now      func() time.Time
}

// NewMemory creates an empty ledger for contract.
func NewMemory(contract Contract) *Memory {
	return &Memory{
		contract: contract,
		objects:  make(map[string]*Object),
		balances: make(map[string]uint64),
		txs:      make(map[string]*TxResult),
		failures: make(map[string]string),
		now:      time.Now,
	}
}

// Fund credits amount to address.
func (m *Memory) Fund(address string, amount uint64) {
	m.mu.Lock()
	m.balances[address] += amount
	m.mu.Unlock()
}

// FailNext makes the next call to fn abort with message.
func (m *Memory) FailNext(fn, message string) {
	m.mu.Lock()
	m.failures[fn] = message
	m.mu.Unlock()
}

// Calls returns every submitted call in order, including aborted ones.
func (m *Memory) Calls() []Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Call(nil), m.calls...)
}

// Put stores an object directly, bypassing the entry points.
func (m *Memory) Put(o Object) {
	m.mu.Lock()
	cp := o
	cp.Fields = copyFields(o.Fields)
	m.objects[o.ID] = &cp
	m.mu.Unlock()
}

// Delete removes an object directly.
func (m *Memory) Delete(id string) {
	m.mu.Lock()
	delete(m.objects, id)
	m.mu.Unlock()
}

// GetObject implements Reader.
func (m *Memory) GetObject(ctx context.Context, id string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	cp.Fields = copyFields(o.Fields)
	return &cp, nil
}

// ListOwned implements Reader. Results are ordered by object id.
func (m *Memory) ListOwned(ctx context.Context, owner, structType string) ([]Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Object
	for _, o := range m.objects {
		if o.Owner == owner && o.Type == structType {
			cp := *o
			cp.Fields = copyFields(o.Fields)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// QueryEvents implements Reader.
func (m *Memory) QueryEvents(ctx context.Context, eventType string, limit int) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].Type != eventType {
			continue
		}
		out = append(out, m.events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Balance implements Ledger.
func (m *Memory) Balance(ctx context.Context, owner string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[owner], nil
}

// Transaction implements Ledger.
func (m *Memory) Transaction(ctx context.Context, digest string) (*TxResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[digest]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

// WaitIndexed implements TxWaiter. Effects are visible as soon as Submit returns.
func (m *Memory) WaitIndexed(ctx context.Context, digest string) error {
	return ctx.Err()
}

// Submit implements Submitter.
func (m *Memory) Submit(ctx context.Context, sender string, call Call, sign SignFunc) (*TxResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txBytes, err := json.Marshal(struct {
		Sender string `json:"sender"`
		Call   Call   `json:"call"`
	}{sender, call})
	if err != nil {
		return nil, err
	}
	sig, err := sign(txBytes)
	if err != nil {
		return nil, err
	}
	if sig == "" {
		return nil, fmt.Errorf("missing signature")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, call)
	m.seq++
	digest := m.digest(txBytes)

	if msg, ok := m.failures[call.Function]; ok {
		delete(m.failures, call.Function)
		return nil, &TxError{Digest: digest, Message: msg}
	}

	tx := &TxResult{Digest: digest}
	if err := m.apply(sender, call, tx); err != nil {
		return nil, &TxError{Digest: digest, Message: err.Error()}
	}
	m.txs[digest] = tx
	cp := *tx
	return &cp, nil
}

// apply runs one entry point. Called with m.mu held.
func (m *Memory) apply(sender string, call Call, tx *TxResult) error {
	c := m.contract
	switch call.Function {
	case FnEnroll:
		courseID, err := argString(call.Args, 0)
		if err != nil {
			return err
		}
		course, ok := m.objects[courseID]
		if !ok || course.Type != c.StructType(StructCourse) {
			return fmt.Errorf("MoveAbort: course %s does not exist", courseID)
		}
		price, _ := FieldUint(course.Fields, "price")
		if call.Payment != price {
			return fmt.Errorf("MoveAbort: payment %d does not match price %d", call.Payment, price)
		}
		if m.balances[sender] < price {
			return fmt.Errorf("InsufficientCoinBalance")
		}
		m.balances[sender] -= price
		m.balances[FieldString(course.Fields, "instructor")] += price
		m.mint(tx, sender, StructTicket, map[string]any{"course_id": courseID})

	case FnIssueCertificate:
		ticketID, err := argString(call.Args, 0)
		if err != nil {
			return err
		}
		name, err := argString(call.Args, 1)
		if err != nil {
			return err
		}
		score, err := argUint(call.Args, 2)
		if err != nil {
			return err
		}
		ticket, ok := m.objects[ticketID]
		if !ok || ticket.Type != c.StructType(StructTicket) || ticket.Owner != sender {
			return fmt.Errorf("MoveAbort: sender does not hold ticket %s", ticketID)
		}
		if score > 100 {
			return fmt.Errorf("MoveAbort: score %d out of range", score)
		}
		courseID := FieldString(ticket.Fields, "course_id")
		for _, o := range m.objects {
			if o.Type == c.StructType(StructCertificate) && o.Owner == sender && FieldString(o.Fields, "course_id") == courseID {
				return fmt.Errorf("MoveAbort: certificate already issued for course %s", courseID)
			}
		}
		delete(m.objects, ticketID)
		m.mint(tx, sender, StructCertificate, map[string]any{
			"course_id":    courseID,
			"student":      sender,
			"student_name": name,
			"score":        float64(score),
			"completed_at": strconv.FormatInt(m.now().UnixMilli(), 10),
		})

	case FnCreateProfile:
		avatar, _ := argString(call.Args, 0)
		about, _ := argString(call.Args, 1)
		contacts, _ := argString(call.Args, 2)
		for _, o := range m.objects {
			if o.Type == c.StructType(StructProfile) && o.Owner == sender {
				return fmt.Errorf("MoveAbort: profile already exists for %s", sender)
			}
		}
		m.mint(tx, sender, StructProfile, map[string]any{
			"owner":          sender,
			"avatar_blob_id": avatar,
			"about":          about,
			"contacts":       contacts,
		})

	case FnUpdateProfile:
		profileID, err := argString(call.Args, 0)
		if err != nil {
			return err
		}
		profile, ok := m.objects[profileID]
		if !ok || profile.Type != c.StructType(StructProfile) || profile.Owner != sender {
			return fmt.Errorf("MoveAbort: sender does not own profile %s", profileID)
		}
		avatar, _ := argString(call.Args, 1)
		about, _ := argString(call.Args, 2)
		contacts, _ := argString(call.Args, 3)
		profile.Fields["avatar_blob_id"] = avatar
		profile.Fields["about"] = about
		profile.Fields["contacts"] = contacts

	case FnCreateCourse:
		profileID, err := argString(call.Args, 0)
		if err != nil {
			return err
		}
		profile, ok := m.objects[profileID]
		if !ok || profile.Type != c.StructType(StructProfile) || profile.Owner != sender {
			return fmt.Errorf("MoveAbort: sender does not own profile %s", profileID)
		}
		title, _ := argString(call.Args, 1)
		description, _ := argString(call.Args, 2)
		price, err := argUint(call.Args, 3)
		if err != nil {
			return err
		}
		thumb, _ := argString(call.Args, 4)
		data, _ := argString(call.Args, 5)
		id := m.mint(tx, "shared", StructCourse, map[string]any{
			"instructor":          sender,
			"profile_id":          profileID,
			"title":               title,
			"description":         description,
			"price":               strconv.FormatUint(price, 10),
			"thumbnail_blob_id":   thumb,
			"course_data_blob_id": data,
		})
		ev := Event{
			Type:      c.StructType(EventCourseCreated),
			Sender:    sender,
			TxDigest:  tx.Digest,
			Timestamp: m.now().UTC(),
			Fields: map[string]any{
				"course_id":  id,
				"instructor": sender,
				"title":      title,
				"price":      strconv.FormatUint(price, 10),
			},
		}
		m.events = append(m.events, ev)
		tx.Events = append(tx.Events, ev)

	default:
		return fmt.Errorf("function %s not found in module %s", call.Function, c.Module)
	}
	return nil
}

func (m *Memory) mint(tx *TxResult, owner, structName string, fields map[string]any) string {
	m.seq++
	sum := sha256.Sum256([]byte(fmt.Sprintf("object-%d", m.seq)))
	id := "0x" + hex.EncodeToString(sum[:])
	t := m.contract.StructType(structName)
	m.objects[id] = &Object{ID: id, Type: t, Owner: owner, Version: "1", Fields: fields}
	tx.Created = append(tx.Created, ObjectRef{ID: id, Type: t})
	return id
}

func (m *Memory) digest(txBytes []byte) string {
	sum := sha256.Sum256(append([]byte(strconv.Itoa(m.seq)), txBytes...))
	return hex.EncodeToString(sum[:])
}

func argString(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	switch v := args[i].(type) {
	case string:
		return v, nil
	default:
		return fmt.Sprint(v), nil
	}
}

func argUint(args []any, i int) (uint64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	n, err := toUint(args[i])
	if err != nil {
		return 0, fmt.Errorf("argument %d: %w", i, err)
	}
	return n, nil
}

func copyFields(f map[string]any) map[string]any {
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
