package dbus

import (
	"testing"

	godbus "github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"

	"breakd/internal/reminder"
)

// Signal routing is plain bookkeeping and does not need a session bus.

func testNotifier(shown uint32) *Notifier {
	return &Notifier{shown: shown}
}

func signal(name string, body ...interface{}) *godbus.Signal {
	return &godbus.Signal{Name: name, Body: body}
}

func TestActionForwardedForCurrentNotification(t *testing.T) {
	n := testNotifier(42)
	var got string
	n.OnAction(func(a string) { got = a })

	n.handleSignal(signal(sigActionInvoked, uint32(42), reminder.ActionPostpone))
	assert.Equal(t, reminder.ActionPostpone, got)
}

func TestActionForForeignNotificationIgnored(t *testing.T) {
	n := testNotifier(42)
	called := false
	n.OnAction(func(string) { called = true })

	// Another application's notification id.
	n.handleSignal(signal(sigActionInvoked, uint32(7), reminder.ActionSkip))
	assert.False(t, called)
}

func TestUserDismissForwardedWithReason(t *testing.T) {
	n := testNotifier(42)
	var got reminder.CloseReason
	n.OnClosed(func(r reminder.CloseReason) { got = r })

	n.handleSignal(signal(sigNotificationClosed, uint32(42), uint32(2)))
	assert.Equal(t, reminder.CloseDismissed, got)

	// The close consumed the id; a duplicate signal is dropped.
	got = 0
	n.handleSignal(signal(sigNotificationClosed, uint32(42), uint32(2)))
	assert.Equal(t, reminder.CloseReason(0), got)
}

func TestCloseAfterHideNotForwarded(t *testing.T) {
	n := testNotifier(42)
	called := false
	n.OnClosed(func(reminder.CloseReason) { called = true })

	// Hide zeroes the tracked id before CloseNotification round-trips, so
	// the echoed reason-3 close no longer matches anything of ours.
	n.shown = 0
	n.handleSignal(signal(sigNotificationClosed, uint32(42), uint32(3)))
	assert.False(t, called)
}

func TestMalformedSignalIgnored(t *testing.T) {
	n := testNotifier(42)
	called := false
	n.OnAction(func(string) { called = true })
	n.OnClosed(func(reminder.CloseReason) { called = true })

	n.handleSignal(signal(sigActionInvoked, uint32(42)))
	n.handleSignal(signal(sigNotificationClosed))
	n.handleSignal(signal("org.freedesktop.DBus.NameAcquired", "x"))
	assert.False(t, called)
}

func TestHideWhileHiddenIsNoOp(t *testing.T) {
	n := testNotifier(0)
	// Returns before any bus traffic; must not error or panic.
	assert.NoError(t, n.Hide())
}
