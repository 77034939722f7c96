package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/hostnet/internal/clock"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(DefaultOptions(":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestFileBackendSurvivesReopen(t *testing.T) {
	path := t.TempDir() + "/state.db"

	store, err := NewSQLiteStore(DefaultOptions(path))
	require.NoError(t, err)
	require.NoError(t, store.CreateBucket("test"))
	require.NoError(t, store.Set("test", "k", []byte("v")))
	require.NoError(t, store.Close())

	store2, err := NewSQLiteStore(DefaultOptions(path))
	require.NoError(t, err)
	defer store2.Close()

	v, err := store2.Get("test", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
	assert.ErrorIs(t, store2.CreateBucket("test"), ErrBucketExists)
}

func TestBucketOperations(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateBucket("test"))
	assert.ErrorIs(t, store.CreateBucket("test"), ErrBucketExists)
	assert.NoError(t, EnsureBucket(store, "test"))
	assert.NoError(t, EnsureBucket(store, "other"))
	require.NoError(t, store.Set("other", "k", []byte("v")))
}

func TestKeyValueOperations(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateBucket("test"))

	assert.ErrorIs(t, store.Set("missing", "k", nil), ErrBucketMissing)

	require.NoError(t, store.Set("test", "b", []byte("2")))
	require.NoError(t, store.Set("test", "a", []byte("1")))
	require.NoError(t, store.Set("test", "a", []byte("3")))

	v, err := store.Get("test", "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), v)

	keys, err := store.ListKeys("test")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	all, err := store.List("test")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.Delete("test", "a"))
	_, err = store.Get("test", "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete("test", "a"), ErrNotFound)
}

func TestJSONHelpers(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateBucket("test"))

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, store.SetJSON("test", "p", payload{Name: "eth0", Count: 2}))

	var got payload
	require.NoError(t, store.GetJSON("test", "p", &got))
	assert.Equal(t, payload{Name: "eth0", Count: 2}, got)
}

func TestClosedStore(t *testing.T) {
	store, err := NewSQLiteStore(DefaultOptions(":memory:"))
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err = store.Get("test", "k")
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestCheckpointBucket(t *testing.T) {
	store := newTestStore(t)
	b, err := NewCheckpointBucket(store)
	require.NoError(t, err)

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := &CheckpointRecord{
		ID:        "c1",
		Plugin:    "netlink",
		CreatedAt: created,
		Timeout:   time.Minute,
		Snapshot:  []byte(`{"interfaces":[]}`),
	}
	require.NoError(t, b.Set(rec))

	got, err := b.Get("netlink")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)
	assert.JSONEq(t, `{"interfaces":[]}`, string(got.Snapshot))
	assert.Equal(t, created.Add(time.Minute), got.Deadline())

	require.NoError(t, b.Delete("netlink"))
	require.NoError(t, b.Delete("netlink"))
	_, err = b.Get("netlink")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, b.Set(&CheckpointRecord{ID: "x"}))
}

func TestHistoryBucketPrunes(t *testing.T) {
	store := newTestStore(t)
	h, err := NewHistoryBucket(store, 2)
	require.NoError(t, err)

	mc := clock.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	for _, id := range []string{"a", "b", "c"} {
		mc.Advance(time.Minute)
		require.NoError(t, h.Add(&ApplyRecord{ID: id, Time: mc.Now(), Result: "success"}))
	}

	records, err := h.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].ID)
	assert.Equal(t, "b", records[1].ID)
}
