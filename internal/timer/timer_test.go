package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArmFiresOnce(t *testing.T) {
	var fired atomic.Int32
	c := New(func() { fired.Add(1) })

	c.Arm(10 * time.Millisecond)
	assert.True(t, c.Armed())
	assert.False(t, c.Deadline().IsZero())

	require.Eventually(t, func() bool { return fired.Load() == 1 },
		time.Second, time.Millisecond)

	// Auto-disarmed after delivery, no second firing.
	assert.False(t, c.Armed())
	assert.True(t, c.Deadline().IsZero())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestCancelPreventsFiring(t *testing.T) {
	var fired atomic.Int32
	c := New(func() { fired.Add(1) })

	c.Arm(20 * time.Millisecond)
	c.Cancel()
	assert.False(t, c.Armed())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestCancelIdempotent(t *testing.T) {
	c := New(func() {})
	assert.NotPanics(t, func() {
		c.Cancel()
		c.Cancel()
	})
	c.Arm(10 * time.Millisecond)
	c.Cancel()
	assert.NotPanics(t, func() { c.Cancel() })
}

func TestDoubleArmPanics(t *testing.T) {
	c := New(func() {})
	c.Arm(time.Minute)
	defer c.Cancel()
	assert.Panics(t, func() { c.Arm(time.Minute) })
}

func TestRearmAfterFire(t *testing.T) {
	var fired atomic.Int32
	c := New(func() { fired.Add(1) })

	c.Arm(5 * time.Millisecond)
	require.Eventually(t, func() bool { return fired.Load() == 1 },
		time.Second, time.Millisecond)

	assert.NotPanics(t, func() { c.Arm(5 * time.Millisecond) })
	require.Eventually(t, func() bool { return fired.Load() == 2 },
		time.Second, time.Millisecond)
}

func TestRearmAfterCancel(t *testing.T) {
	var fired atomic.Int32
	c := New(func() { fired.Add(1) })

	c.Arm(time.Minute)
	c.Cancel()
	c.Arm(5 * time.Millisecond)
	require.Eventually(t, func() bool { return fired.Load() == 1 },
		time.Second, time.Millisecond)
}

func TestDeadlineTracksArm(t *testing.T) {
	c := New(func() {})
	before := time.Now()
	c.Arm(time.Minute)
	defer c.Cancel()

	d := c.Deadline()
	assert.True(t, d.After(before.Add(59*time.Second)))
	assert.True(t, d.Before(before.Add(61*time.Second)))
}
