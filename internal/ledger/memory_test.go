package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okSign([]byte) (string, error) { return "sig", nil }

func TestMemoryCourseLifecycle(t *testing.T) {
	ctx := context.Background()
	c := NewContract("0xpkg", "academy", "0x6")
	m := NewMemory(c)

	const instructor, learner = "0xinstructor", "0xlearner"

	res, err := m.Submit(ctx, instructor, c.CreateProfile("", "about", "contacts"), okSign)
	require.NoError(t, err)
	profileID, ok := res.CreatedOfType(c.StructType(StructProfile))
	require.True(t, ok)

	_, err = m.Submit(ctx, instructor, c.CreateProfile("", "again", "again"), okSign)
	var txErr *TxError
	require.True(t, errors.As(err, &txErr), "second profile must be rejected")

	res, err = m.Submit(ctx, instructor, c.CreateCourse(profileID, "Go", "Learn", 500, "thumb", "data"), okSign)
	require.NoError(t, err)
	courseID, ok := res.CreatedOfType(c.StructType(StructCourse))
	require.True(t, ok)
	require.Len(t, res.Events, 1)

	events, err := m.QueryEvents(ctx, c.StructType(EventCourseCreated), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, courseID, FieldString(events[0].Fields, "course_id"))

	_, err = m.Submit(ctx, learner, c.Enroll(courseID, 500), okSign)
	require.Error(t, err, "unfunded learner cannot enroll")

	m.Fund(learner, 800)
	_, err = m.Submit(ctx, learner, c.Enroll(courseID, 400), okSign)
	require.Error(t, err, "payment must equal price")

	res, err = m.Submit(ctx, learner, c.Enroll(courseID, 500), okSign)
	require.NoError(t, err)
	ticketID, ok := res.CreatedOfType(c.StructType(StructTicket))
	require.True(t, ok)

	bal, _ := m.Balance(ctx, learner)
	assert.Equal(t, uint64(300), bal)
	bal, _ = m.Balance(ctx, instructor)
	assert.Equal(t, uint64(500), bal)

	res, err = m.Submit(ctx, learner, c.IssueCertificate(ticketID, "Ada", 80), okSign)
	require.NoError(t, err)

	_, err = m.GetObject(ctx, ticketID)
	assert.ErrorIs(t, err, ErrNotFound, "ticket is consumed by issuance")

	certs, err := m.ListOwned(ctx, learner, c.StructType(StructCertificate))
	require.NoError(t, err)
	require.Len(t, certs, 1)
	cred, err := DecodeCredential(&certs[0])
	require.NoError(t, err)
	assert.Equal(t, courseID, cred.CourseID)
	assert.Equal(t, "Ada", cred.StudentName)
	assert.Equal(t, 80, cred.Score)
	assert.False(t, cred.CompletedAt.IsZero())

	tx, err := m.Transaction(ctx, res.Digest)
	require.NoError(t, err)
	assert.Equal(t, res.Digest, tx.Digest)
}

func TestMemoryUpdateProfile(t *testing.T) {
	ctx := context.Background()
	c := NewContract("0xpkg", "", "")
	m := NewMemory(c)

	res, err := m.Submit(ctx, "0xa", c.CreateProfile("", "old", "old"), okSign)
	require.NoError(t, err)
	id, _ := res.CreatedOfType(c.StructType(StructProfile))

	_, err = m.Submit(ctx, "0xb", c.UpdateProfile(id, "", "x", "y"), okSign)
	assert.Error(t, err, "only the owner may update")

	_, err = m.Submit(ctx, "0xa", c.UpdateProfile(id, "avatar", "new", "mail"), okSign)
	require.NoError(t, err)

	o, err := m.GetObject(ctx, id)
	require.NoError(t, err)
	p := DecodeProfile(o)
	assert.Equal(t, "avatar", p.AvatarBlobID)
	assert.Equal(t, "new", p.About)
	assert.Equal(t, "0xa", p.Owner)
}

func TestMemoryFailNext(t *testing.T) {
	ctx := context.Background()
	c := NewContract("0xpkg", "", "")
	m := NewMemory(c)

	m.FailNext(FnCreateProfile, "MoveAbort: paused")
	_, err := m.Submit(ctx, "0xa", c.CreateProfile("", "a", "b"), okSign)
	require.Error(t, err)
	assert.Equal(t, "MoveAbort: paused", err.Error())

	_, err = m.Submit(ctx, "0xa", c.CreateProfile("", "a", "b"), okSign)
	assert.NoError(t, err)
	assert.Len(t, m.Calls(), 2)
}

func TestMemorySignFailureStopsSubmit(t *testing.T) {
	c := NewContract("0xpkg", "", "")
	m := NewMemory(c)
	boom := errors.New("locked")

	_, err := m.Submit(context.Background(), "0xa", c.CreateProfile("", "a", "b"), func([]byte) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, m.Calls())
}
