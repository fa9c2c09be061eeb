package receipts

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/model"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/schema"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/storage"
)

func newTestLog(t *testing.T) (*Log, storage.KV) {
	t.Helper()
	v, err := schema.NewValidator()
	require.NoError(t, err)
	kv := storage.NewMemory()
	return NewLog(kv, v, nil), kv
}

func receipt(digest, title string, price uint64) model.Receipt {
	return model.Receipt{
		Digest:       digest,
		Title:        title,
		Price:        price,
		VideoBlobIDs: []string{"v-" + digest},
		CreatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func digests(list []model.Receipt) []string {
	out := make([]string, len(list))
	for i, r := range list {
		out[i] = r.Digest
	}
	return out
}

func TestAddInsertsAtFrontAndReplacesInPlace(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t)

	require.NoError(t, l.Add(ctx, receipt("a", "A", 1)))
	require.NoError(t, l.Add(ctx, receipt("b", "B", 2)))
	require.NoError(t, l.Add(ctx, receipt("c", "C", 3)))

	list, err := l.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, digests(list))

	require.NoError(t, l.Add(ctx, receipt("b", "B2", 20)))
	list, err = l.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, digests(list), "duplicate digest keeps its position")
	assert.Equal(t, "B2", list[1].Title)
	assert.Equal(t, uint64(20), list[1].Price)
}

func TestRemoveMissingDigestIsNoop(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t)

	assert.NoError(t, l.Remove(ctx, "nope"), "removing from an empty log")

	require.NoError(t, l.Add(ctx, receipt("a", "A", 1)))
	assert.NoError(t, l.Remove(ctx, "nope"))

	list, _ := l.List(ctx)
	assert.Equal(t, []string{"a"}, digests(list))

	require.NoError(t, l.Remove(ctx, "a"))
	list, _ = l.List(ctx)
	assert.Empty(t, list)
}

func TestClearAndPersistenceLayout(t *testing.T) {
	ctx := context.Background()
	l, kv := newTestLog(t)

	require.NoError(t, l.Add(ctx, receipt("a", "A", 1)))
	raw, err := kv.Get(ctx, StorageKey)
	require.NoError(t, err)
	var stored []map[string]any
	require.NoError(t, json.Unmarshal(raw, &stored), "log is one JSON array under a fixed key")
	assert.Len(t, stored, 1)

	require.NoError(t, l.Clear(ctx))
	raw, err = kv.Get(ctx, StorageKey)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))
}

func TestListReturnsSnapshot(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t)
	require.NoError(t, l.Add(ctx, receipt("a", "A", 1)))

	list, _ := l.List(ctx)
	list[0].Title = "mutated"

	again, _ := l.List(ctx)
	assert.Equal(t, "A", again[0].Title)
}

func TestSetCourseID(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t)
	require.NoError(t, l.Add(ctx, receipt("a", "A", 1)))

	require.NoError(t, l.SetCourseID(ctx, "a", "0xcourse"))
	r, err := l.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "0xcourse", r.CourseID)

	assert.ErrorIs(t, l.SetCourseID(ctx, "missing", "0x1"), ErrNotFound)
}

func TestExportTwoCourses(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t)
	require.NoError(t, l.Add(ctx, receipt("d1", "First", 1_000_000_000)))
	require.NoError(t, l.Add(ctx, receipt("d2", "Second", 2_500_000_000)))

	doc, err := l.Export(ctx)
	require.NoError(t, err)

	var out []model.Receipt
	require.NoError(t, json.Unmarshal(doc, &out))
	require.Len(t, out, 2)
	assert.NotEqual(t, out[0].Digest, out[1].Digest)
	byDigest := map[string]model.Receipt{out[0].Digest: out[0], out[1].Digest: out[1]}
	assert.Equal(t, "First", byDigest["d1"].Title)
	assert.Equal(t, uint64(1_000_000_000), byDigest["d1"].Price)
	assert.Equal(t, "Second", byDigest["d2"].Title)
	assert.Equal(t, uint64(2_500_000_000), byDigest["d2"].Price)
}

func TestImportSkipsExistingDigests(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t)
	require.NoError(t, l.Add(ctx, receipt("a", "Local A", 1)))

	doc, err := json.Marshal([]model.Receipt{
		receipt("a", "Imported A", 9),
		receipt("b", "B", 2),
		receipt("b", "B again", 3),
	})
	require.NoError(t, err)

	n, err := l.Import(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, _ := l.List(ctx)
	assert.Equal(t, []string{"a", "b"}, digests(list))
	assert.Equal(t, "Local A", list[0].Title)
	assert.Equal(t, "B", list[1].Title)

	_, err = l.Import(ctx, []byte(`{"not":"an array"}`))
	assert.Error(t, err)
}

func TestConcurrentAddsAreNotLost(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = l.Add(ctx, receipt(fmt.Sprintf("d%02d", i), "T", uint64(i)))
		}(i)
	}
	wg.Wait()

	list, err := l.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 20)
}
