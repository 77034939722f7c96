package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockInterface(t *testing.T) {
	var _ Clock = RealClock{}
	var _ Clock = &MockClock{}
}

func TestRealClock_Now(t *testing.T) {
	before := time.Now()
	result := RealClock{}.Now()
	after := time.Now()

	assert.False(t, result.Before(before))
	assert.False(t, result.After(after))
}

func TestRealClock_AfterFunc(t *testing.T) {
	fired := make(chan struct{})
	RealClock{}.AfterFunc(time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("real timer never fired")
	}
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	mock := NewMockClock(start)

	mock.Advance(time.Hour)
	assert.Equal(t, start.Add(time.Hour), mock.Now())
	assert.Equal(t, 2*time.Hour, mock.Since(start.Add(-time.Hour)))
}

func TestMockClock_TimersFireInDeadlineOrder(t *testing.T) {
	mock := NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	var order []string
	mock.AfterFunc(30*time.Second, func() { order = append(order, "late") })
	mock.AfterFunc(10*time.Second, func() { order = append(order, "early") })
	require.Equal(t, 2, mock.Pending())

	mock.Advance(5 * time.Second)
	assert.Empty(t, order)

	mock.Advance(time.Minute)
	assert.Equal(t, []string{"early", "late"}, order)
	assert.Equal(t, 0, mock.Pending())
}

func TestMockClock_Stop(t *testing.T) {
	mock := NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	fired := false
	tm := mock.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())

	mock.Set(mock.Now().Add(time.Hour))
	assert.False(t, fired)
}

func TestSince(t *testing.T) {
	result := Since(time.Now().Add(-time.Hour))
	assert.InDelta(t, float64(time.Hour), float64(result), float64(time.Second))
}
