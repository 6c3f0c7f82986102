package clock

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, c *Clock) Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for clock event")
		return Event{}
	}
}

// tick advances the fake clock one second once the tick loop is waiting.
func tick(fc *clockwork.FakeClock) {
	fc.BlockUntil(1)
	fc.Advance(time.Second)
}

func assertNoEvent(t *testing.T, c *Clock) {
	t.Helper()
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected clock event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStartEmitsInitialTick(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c := New(fc)

	require.NoError(t, c.Start(30))

	ev := recvEvent(t, c)
	assert.Equal(t, 30, ev.Seconds)
	assert.False(t, ev.Expired)
	assert.Equal(t, StateRunning, c.State())
	assert.True(t, c.Running())
}

func TestCountdownToExpiry(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c := New(fc)

	require.NoError(t, c.Start(2))
	assert.Equal(t, 2, recvEvent(t, c).Seconds)

	tick(fc)
	assert.Equal(t, 1, recvEvent(t, c).Seconds)

	tick(fc)
	assert.Equal(t, 0, recvEvent(t, c).Seconds)

	ev := recvEvent(t, c)
	assert.True(t, ev.Expired)

	// Exactly one expiry event, then the clock settles back to idle.
	assertNoEvent(t, c)
	assert.Equal(t, StateIdle, c.State())
	assert.False(t, c.Running())
}

func TestStartWhileRunning(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c := New(fc)

	require.NoError(t, c.Start(10))
	assert.ErrorIs(t, c.Start(10), ErrNotIdle)
}

func TestResetRequiresRunning(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c := New(fc)

	assert.ErrorIs(t, c.Reset(30), ErrNotRunning)
}

func TestResetRestoresFullCountdown(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c := New(fc)

	require.NoError(t, c.Start(5))
	assert.Equal(t, 5, recvEvent(t, c).Seconds)

	tick(fc)
	assert.Equal(t, 4, recvEvent(t, c).Seconds)

	require.NoError(t, c.Reset(5))
	assert.Equal(t, 5, recvEvent(t, c).Seconds)

	// The countdown runs from the reset value, not the old one.
	for want := 4; want >= 1; want-- {
		tick(fc)
		assert.Equal(t, want, recvEvent(t, c).Seconds)
	}

	tick(fc)
	assert.Equal(t, 0, recvEvent(t, c).Seconds)
	assert.True(t, recvEvent(t, c).Expired)
}

func TestStopSuppressesExpiry(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c := New(fc)

	require.NoError(t, c.Start(1))
	assert.Equal(t, 1, recvEvent(t, c).Seconds)

	c.Stop()
	assert.Equal(t, StateIdle, c.State())

	fc.Advance(5 * time.Second)
	assertNoEvent(t, c)
}

func TestStopThenStartAgain(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c := New(fc)

	require.NoError(t, c.Start(10))
	assert.Equal(t, 10, recvEvent(t, c).Seconds)
	c.Stop()

	require.NoError(t, c.Start(3))
	assert.Equal(t, 3, recvEvent(t, c).Seconds)
	assert.True(t, c.Running())
}

func TestStopOnIdleClockIsSafe(t *testing.T) {
	fc := clockwork.NewFakeClock()
	c := New(fc)

	c.Stop()
	c.Stop()
	assert.Equal(t, StateIdle, c.State())
}
