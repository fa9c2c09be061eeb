package access

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/blob"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/ledger"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/model"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/quiz"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/schema"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/wallet"
)

const coursePrice = 1_000_000_000

var correctAnswers = []int{0, 1, 2, 3, 0}

// countingStore counts downloads so tests can assert the store was not contacted.
type countingStore struct {
	blob.Store
	downloads atomic.Int32
}

func (c *countingStore) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	c.downloads.Add(1)
	return c.Store.Download(ctx, id)
}

// laggingReader hides certificates from ListOwned or fails ownership reads.
type laggingReader struct {
	*ledger.Memory
	certType  string
	hideCerts atomic.Bool
	failOwned atomic.Bool
}

func (r *laggingReader) ListOwned(ctx context.Context, owner, structType string) ([]ledger.Object, error) {
	if r.failOwned.Load() {
		return nil, errors.New("rpc unavailable")
	}
	if r.hideCerts.Load() && structType == r.certType {
		return nil, nil
	}
	return r.Memory.ListOwned(ctx, owner, structType)
}

type fixture struct {
	contract ledger.Contract
	ledger   *ledger.Memory
	reader   *laggingReader
	blobs    *blob.Memory
	counting *countingStore
	svc      *Service
	learner  *wallet.Keypair
	courseID string
	videoID  string
}

func key(b byte) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(bytes.Repeat([]byte{b}, ed25519.SeedSize))
}

func newFixture(t *testing.T, txs TxLookup) *fixture {
	t.Helper()
	ctx := context.Background()

	c := ledger.NewContract("0xpkg", "academy", "0x6")
	mem := ledger.NewMemory(c)
	blobs := blob.NewMemory()
	v, err := schema.NewValidator()
	require.NoError(t, err)

	videoID, err := blobs.Upload(ctx, []byte("video-bytes"), "video/mp4")
	require.NoError(t, err)

	questions := make([]model.Question, len(correctAnswers))
	for i, a := range correctAnswers {
		questions[i] = model.Question{Text: "q", Options: [4]string{"a", "b", "c", "d"}, CorrectAnswer: a}
	}
	payload, err := json.Marshal(model.ContentPayload{
		Modules:   []model.Module{{Title: "Intro", Description: "d", VideoBlobID: videoID}},
		Questions: questions,
	})
	require.NoError(t, err)
	dataID, err := blobs.Upload(ctx, payload, "application/json")
	require.NoError(t, err)

	instructor := wallet.NewKeypair(key(1), mem)
	res, err := instructor.SignAndExecute(ctx, c.CreateProfile("", "about", "contacts"))
	require.NoError(t, err)
	profileID, _ := res.CreatedOfType(c.StructType(ledger.StructProfile))
	res, err = instructor.SignAndExecute(ctx, c.CreateCourse(profileID, "Go", "Learn Go", coursePrice, "", dataID))
	require.NoError(t, err)
	courseID, _ := res.CreatedOfType(c.StructType(ledger.StructCourse))

	learner := wallet.NewKeypair(key(2), mem)
	addr, _ := learner.Address()
	mem.Fund(addr, 5*coursePrice)

	reader := &laggingReader{Memory: mem, certType: c.StructType(ledger.StructCertificate)}
	counting := &countingStore{Store: blobs}
	if txs == nil {
		txs = mem
	}
	svc := NewService(Config{
		Reader:       reader,
		Transactions: txs,
		Blobs:        counting,
		Contract:     c,
		Validator:    v,
	})
	t.Cleanup(svc.Close)

	return &fixture{
		contract: c, ledger: mem, reader: reader, blobs: blobs, counting: counting,
		svc: svc, learner: learner, courseID: courseID, videoID: videoID,
	}
}

func (fx *fixture) flow() *Flow {
	return NewFlow(fx.svc, fx.learner, fx.courseID)
}

func (fx *fixture) address() string {
	addr, _ := fx.learner.Address()
	return addr
}

func TestNoAccessBlocksVideoWithoutContactingStore(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	f := fx.flow()

	v, err := f.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, NoAccess, v.State)
	assert.Equal(t, []Action{ActionEnroll}, v.Actions)
	assert.Equal(t, model.DefaultPassingScore, v.PassingScore)
	for _, q := range v.Payload.Questions {
		assert.Equal(t, -1, q.CorrectAnswer, "answers are hidden from the learner")
	}

	before := fx.counting.downloads.Load()
	_, err = f.Video(ctx, 0)
	assert.ErrorIs(t, err, ErrNoAccess)
	assert.Equal(t, before, fx.counting.downloads.Load(), "no blob fetch without access")
	assert.False(t, f.CanFetchVideo())
}

func TestEnrollGrantsVideo(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	f := fx.flow()

	e, err := f.Enroll(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, e.TicketID)
	assert.Equal(t, uint64(coursePrice), e.Price)
	assert.Equal(t, Enrolled, f.State())

	calls := fx.ledger.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, ledger.FnEnroll, last.Function)
	assert.Equal(t, uint64(coursePrice), last.Payment)

	v, err := f.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, Enrolled, v.State)
	assert.Equal(t, e.TicketID, v.TicketID)
	assert.Equal(t, []Action{ActionWatch, ActionTakeQuiz}, v.Actions)

	rc, err := f.Video(ctx, 0)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "video-bytes", string(data))

	_, err = f.Enroll(ctx)
	assert.True(t, IsTransition(err), "cannot enroll twice")
}

func TestEnrollRejectedKeepsNoAccess(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	f := fx.flow()

	fx.ledger.FailNext(ledger.FnEnroll, "InsufficientCoinBalance")
	_, err := f.Enroll(ctx)
	require.Error(t, err)
	assert.Equal(t, "InsufficientCoinBalance", err.Error())
	assert.Equal(t, NoAccess, f.State())
}

func TestFailRetakePassIssue(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	f := fx.flow()
	_, err := f.Enroll(ctx)
	require.NoError(t, err)

	v, err := f.BeginQuiz(ctx)
	require.NoError(t, err)
	assert.Equal(t, Testing, v.State)
	assert.Equal(t, quiz.Blank(5), v.Answers)

	// 3 of 5 correct fails against the default threshold.
	r, err := f.Submit(ctx, []int{0, 1, 2, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, 60, r.Score)
	v, err = f.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, Enrolled, v.State)
	assert.Equal(t, []Action{ActionWatch, ActionRetake}, v.Actions)

	_, err = f.IssueCredential(ctx, "Ada")
	assert.Error(t, err, "failed attempt cannot issue")

	v, err = f.Retake(ctx)
	require.NoError(t, err)
	assert.Equal(t, Testing, v.State)
	assert.Equal(t, quiz.Blank(5), v.Answers, "retake clears every answer")

	for q, a := range []int{0, 1, 2, 3, 1} {
		require.NoError(t, f.Select(q, a))
	}
	r, err = f.Submit(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 80, r.Score)
	v, err = f.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Action{ActionWatch, ActionIssueCredential}, v.Actions)

	issued, err := f.IssueCredential(ctx, "  Ada Lovelace ")
	require.NoError(t, err)
	assert.Equal(t, 80, issued.Score)
	assert.Equal(t, CredentialsPath, issued.Redirect)
	assert.Equal(t, Completed, f.State())

	calls := fx.ledger.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, ledger.FnIssueCertificate, last.Function)
	assert.Equal(t, "Ada Lovelace", last.Args[1])
	assert.Equal(t, 80, last.Args[2])

	creds, err := fx.svc.Credentials(ctx, fx.address())
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, fx.courseID, creds[0].CourseID)
	assert.Equal(t, 80, creds[0].Score)

	v, err = f.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, Completed, v.State)
	assert.Empty(t, v.TicketID, "ticket consumed")
	assert.Equal(t, []Action{ActionWatch, ActionViewCredentials}, v.Actions)

	rc, err := f.Video(ctx, 0)
	require.NoError(t, err, "completed learners keep video access")
	rc.Close()
}

func TestSubmitWithUnansweredStaysTesting(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	f := fx.flow()
	_, err := f.Enroll(ctx)
	require.NoError(t, err)
	_, err = f.BeginQuiz(ctx)
	require.NoError(t, err)

	require.NoError(t, f.Select(0, 0))
	_, err = f.Submit(ctx, nil)
	assert.ErrorIs(t, err, quiz.ErrUnanswered)
	assert.Equal(t, Testing, f.State())

	assert.Error(t, f.Select(9, 0))
	assert.Error(t, f.Select(0, 4))
}

func TestIssueRejectionLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	f := fx.flow()
	_, err := f.Enroll(ctx)
	require.NoError(t, err)
	_, err = f.BeginQuiz(ctx)
	require.NoError(t, err)
	_, err = f.Submit(ctx, correctAnswers)
	require.NoError(t, err)

	_, err = f.IssueCredential(ctx, "")
	assert.ErrorIs(t, err, ErrNameRequired)

	fx.ledger.FailNext(ledger.FnIssueCertificate, "MoveAbort in 0xpkg::academy::issue_certificate: 3")
	_, err = f.IssueCredential(ctx, "Ada")
	require.Error(t, err)
	assert.Equal(t, "MoveAbort in 0xpkg::academy::issue_certificate: 3", err.Error())
	assert.Equal(t, Enrolled, f.State())

	issued, err := f.IssueCredential(ctx, "Ada")
	require.NoError(t, err, "passing result survives a rejected issuance")
	assert.Equal(t, 100, issued.Score)
}

func TestOwnershipReadFailureDegradesToNoAccess(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	f := fx.flow()
	_, err := f.Enroll(ctx)
	require.NoError(t, err)
	_, err = f.Refresh(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, pending := fx.svc.Tracker().Get(fx.courseID, fx.address())
		return !pending
	}, time.Second, 10*time.Millisecond)

	fx.reader.failOwned.Store(true)
	v, err := f.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, NoAccess, v.State)
	assert.True(t, v.Degraded)
	assert.Empty(t, v.Actions, "enroll is not offered when ownership is unknown")

	_, err = f.Video(ctx, 0)
	assert.ErrorIs(t, err, ErrNoAccess)
	_, err = f.Enroll(ctx)
	assert.ErrorIs(t, err, ErrAccessUnknown)
}

func TestCourseReadFailureIsAnError(t *testing.T) {
	fx := newFixture(t, nil)
	f := NewFlow(fx.svc, fx.learner, "0xmissing")
	_, err := f.Refresh(context.Background())
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestOptimisticCompletionHeldUntilVisible(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	f := fx.flow()
	_, err := f.Enroll(ctx)
	require.NoError(t, err)
	_, err = f.BeginQuiz(ctx)
	require.NoError(t, err)
	_, err = f.Submit(ctx, correctAnswers)
	require.NoError(t, err)

	fx.reader.hideCerts.Store(true)
	_, err = f.IssueCredential(ctx, "Ada")
	require.NoError(t, err)

	v, err := f.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, Completed, v.State)
	assert.True(t, v.Optimistic, "indexer lag is covered by the local transition")
	require.NotNil(t, v.Credential)
	assert.Equal(t, "Ada", v.Credential.StudentName)

	fx.reader.hideCerts.Store(false)
	v, err = f.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, Completed, v.State)
	assert.False(t, v.Optimistic)
}

// unknownTxs reports every transaction as missing.
type unknownTxs struct{}

func (unknownTxs) Transaction(context.Context, string) (*ledger.TxResult, error) {
	return nil, ledger.ErrNotFound
}

func TestReconcileRevertsUnknownTransaction(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, unknownTxs{})
	f := fx.flow()
	_, err := f.Enroll(ctx)
	require.NoError(t, err)
	_, err = f.BeginQuiz(ctx)
	require.NoError(t, err)
	_, err = f.Submit(ctx, correctAnswers)
	require.NoError(t, err)

	fx.reader.hideCerts.Store(true)
	_, err = f.IssueCredential(ctx, "Ada")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, pending := fx.svc.Tracker().Get(fx.courseID, fx.address())
		return !pending
	}, time.Second, 10*time.Millisecond)

	v, err := f.Refresh(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, Completed, v.State, "reverted transition is dropped")
}

func TestDisconnectedSession(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	f := NewFlow(fx.svc, wallet.Disconnected{}, fx.courseID)

	v, err := f.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, NoAccess, v.State)
	assert.Empty(t, v.Actions)

	_, err = f.Enroll(ctx)
	assert.ErrorIs(t, err, wallet.ErrDisconnected)
}

func TestFlowsReusesFlowPerCourse(t *testing.T) {
	fx := newFixture(t, nil)
	r := NewFlows(fx.svc, fx.learner)
	assert.Same(t, r.For(fx.courseID), r.For(fx.courseID))
	assert.NotSame(t, r.For(fx.courseID), r.For("0xother"))
}

func TestWatchDeliversChangesUntilStopped(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
		seen  []State
	)
	states := []State{NoAccess, NoAccess, Enrolled, Enrolled, Completed}
	refresh := func(context.Context) (*View, error) {
		mu.Lock()
		defer mu.Unlock()
		i := calls
		if i >= len(states) {
			i = len(states) - 1
		}
		calls++
		if calls == 2 {
			return nil, errors.New("transient")
		}
		return &View{State: states[i]}, nil
	}

	w := Watch(context.Background(), 5*time.Millisecond, refresh, func(v *View) {
		mu.Lock()
		seen = append(seen, v.State)
		mu.Unlock()
	})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 5*time.Millisecond)
	w.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{NoAccess, Enrolled, Completed}, seen)

	select {
	case <-w.Done():
	default:
		t.Fatal("watch loop still running after Stop")
	}
}
