package checkpoint

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/hostnet/internal/clock"
	"grimm.is/hostnet/internal/errkind"
	"grimm.is/hostnet/internal/schema"
	"grimm.is/hostnet/internal/state"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type recorder struct {
	mu       sync.Mutex
	restored []*schema.Document
	err      error
}

func (r *recorder) restore(_ context.Context, doc *schema.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restored = append(r.restored, doc)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.restored)
}

func snapshot(name string) *schema.Document {
	return &schema.Document{Interfaces: []schema.InterfaceDoc{{
		Name:  name,
		Type:  schema.TypeEthernet,
		State: schema.StateUp,
	}}}
}

func newBucket(t *testing.T) *state.CheckpointBucket {
	t.Helper()
	store, err := state.NewSQLiteStore(state.DefaultOptions(":memory:"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	b, err := state.NewCheckpointBucket(store)
	require.NoError(t, err)
	return b
}

func TestCreateCommit(t *testing.T) {
	rec := &recorder{}
	clk := clock.NewMockClock(epoch)
	m := NewManager("fake", rec.restore, WithClock(clk))

	id, err := m.Create(context.Background(), time.Minute, snapshot("eth1"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	active := m.Active()
	require.NotNil(t, active)
	assert.Equal(t, id, active.ID)
	assert.Equal(t, epoch.Add(time.Minute), active.Deadline())
	assert.Equal(t, 1, clk.Pending())

	require.NoError(t, m.Commit(id))
	assert.Nil(t, m.Active())
	assert.Equal(t, 0, clk.Pending(), "commit stops the rollback timer")

	clk.Advance(2 * time.Minute)
	assert.Equal(t, 0, rec.count())
}

func TestCreateConflict(t *testing.T) {
	m := NewManager("fake", (&recorder{}).restore, WithClock(clock.NewMockClock(epoch)))

	_, err := m.Create(context.Background(), 0, snapshot("eth1"))
	require.NoError(t, err)

	_, err = m.Create(context.Background(), 0, snapshot("eth1"))
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Conflict))
}

func TestRollbackRestoresSnapshot(t *testing.T) {
	rec := &recorder{}
	m := NewManager("fake", rec.restore, WithClock(clock.NewMockClock(epoch)))

	snap := snapshot("eth1")
	id, err := m.Create(context.Background(), time.Minute, snap)
	require.NoError(t, err)

	// The manager holds its own copy.
	snap.Interfaces[0].Name = "changed"

	require.NoError(t, m.Rollback(context.Background(), ""))
	require.Equal(t, 1, rec.count())
	assert.Equal(t, "eth1", rec.restored[0].Interfaces[0].Name)
	assert.Nil(t, m.Active())

	err = m.Rollback(context.Background(), id)
	assert.True(t, errkind.Is(err, errkind.Value), "nothing left to roll back")
}

func TestRollbackFailureClosesCheckpoint(t *testing.T) {
	rec := &recorder{err: errors.New("link vanished")}
	m := NewManager("fake", rec.restore, WithClock(clock.NewMockClock(epoch)))

	_, err := m.Create(context.Background(), 0, snapshot("eth1"))
	require.NoError(t, err)

	err = m.Rollback(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "link vanished")
	assert.Nil(t, m.Active())
}

func TestWrongIDRejected(t *testing.T) {
	m := NewManager("fake", (&recorder{}).restore, WithClock(clock.NewMockClock(epoch)))

	assert.True(t, errkind.Is(m.Commit(""), errkind.Value))

	_, err := m.Create(context.Background(), 0, snapshot("eth1"))
	require.NoError(t, err)
	assert.True(t, errkind.Is(m.Commit("not-the-id"), errkind.Value))
	assert.NotNil(t, m.Active())
}

func TestTimeoutRollsBack(t *testing.T) {
	rec := &recorder{}
	clk := clock.NewMockClock(epoch)

	var expired []string
	m := NewManager("fake", rec.restore, WithClock(clk), WithExpireHook(func(id string, err error) {
		assert.NoError(t, err)
		expired = append(expired, id)
	}))

	id, err := m.Create(context.Background(), 60*time.Second, snapshot("eth1"))
	require.NoError(t, err)

	clk.Advance(59 * time.Second)
	assert.Equal(t, 0, rec.count())
	assert.NotNil(t, m.Active())

	clk.Advance(time.Second)
	assert.Equal(t, 1, rec.count())
	assert.Nil(t, m.Active())
	assert.Equal(t, []string{id}, expired)

	assert.True(t, errkind.Is(m.Commit(id), errkind.Value), "expired checkpoint cannot be committed")
}

func TestZeroTimeoutNeverExpires(t *testing.T) {
	rec := &recorder{}
	clk := clock.NewMockClock(epoch)
	m := NewManager("fake", rec.restore, WithClock(clk))

	_, err := m.Create(context.Background(), 0, snapshot("eth1"))
	require.NoError(t, err)
	assert.Equal(t, 0, clk.Pending())

	clk.Advance(24 * time.Hour)
	assert.NotNil(t, m.Active())
}

func TestJournal(t *testing.T) {
	bucket := newBucket(t)
	m := NewManager("fake", (&recorder{}).restore, WithClock(clock.NewMockClock(epoch)), WithStore(bucket))

	id, err := m.Create(context.Background(), time.Minute, snapshot("eth1"))
	require.NoError(t, err)

	rec, err := bucket.Get("fake")
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, time.Minute, rec.Timeout)

	require.NoError(t, m.Commit(id))
	_, err = bucket.Get("fake")
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestRecoverRearmsRemainingTimeout(t *testing.T) {
	bucket := newBucket(t)
	clk := clock.NewMockClock(epoch)

	first := NewManager("fake", (&recorder{}).restore, WithClock(clk), WithStore(bucket))
	id, err := first.Create(context.Background(), time.Minute, snapshot("eth1"))
	require.NoError(t, err)

	// A restarted daemon finds the journal 20s later.
	clk.Advance(20 * time.Second)
	rec := &recorder{}
	second := NewManager("fake", rec.restore, WithClock(clk), WithStore(bucket))
	require.NoError(t, second.Recover(context.Background()))

	active := second.Active()
	require.NotNil(t, active)
	assert.Equal(t, id, active.ID)
	assert.Equal(t, "eth1", active.Snapshot.Interfaces[0].Name)

	clk.Advance(39 * time.Second)
	assert.Equal(t, 0, rec.count())
	clk.Advance(time.Second)
	assert.GreaterOrEqual(t, rec.count(), 1)
	assert.Nil(t, second.Active())
}

func TestRecoverPastDeadlineRollsBack(t *testing.T) {
	bucket := newBucket(t)
	clk := clock.NewMockClock(epoch)

	first := NewManager("fake", (&recorder{}).restore, WithClock(clk), WithStore(bucket))
	_, err := first.Create(context.Background(), time.Minute, snapshot("eth1"))
	require.NoError(t, err)

	later := clock.NewMockClock(epoch.Add(time.Hour))
	rec := &recorder{}
	second := NewManager("fake", rec.restore, WithClock(later), WithStore(bucket))
	require.NoError(t, second.Recover(context.Background()))

	assert.Equal(t, 1, rec.count())
	assert.Nil(t, second.Active())
	_, err = bucket.Get("fake")
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestRecoverWithoutJournal(t *testing.T) {
	m := NewManager("fake", (&recorder{}).restore, WithStore(newBucket(t)))
	require.NoError(t, m.Recover(context.Background()))
	assert.Nil(t, m.Active())

	bare := NewManager("fake", (&recorder{}).restore)
	require.NoError(t, bare.Recover(context.Background()))
}
