// Package dbus implements the alert surface as a persistent desktop
// notification on org.freedesktop.Notifications.
package dbus

import (
	"context"
	"fmt"
	"log"
	"sync"

	godbus "github.com/godbus/dbus/v5"

	"breakd/internal/reminder"
)

const (
	busName    = "org.freedesktop.Notifications"
	objectPath = "/org/freedesktop/Notifications"

	sigActionInvoked      = busName + ".ActionInvoked"
	sigNotificationClosed = busName + ".NotificationClosed"
)

// Notifier shows a single critical, non-expiring notification offering the
// postpone and skip actions. Close reasons from the notification server
// distinguish a user dismissal (2) from our own CloseNotification call (3),
// which is what lets the controller ignore closes it initiated itself.
type Notifier struct {
	conn    *godbus.Conn
	obj     godbus.BusObject
	appName string
	summary string
	body    string

	mu       sync.Mutex
	shown    uint32 // current notification id, 0 when hidden
	onAction func(string)
	onClosed func(reminder.CloseReason)

	signals chan *godbus.Signal
}

// New connects to the session bus and verifies a notification server is
// actually reachable. Initialization failure is fatal to the caller.
func New(appName, summary, body string) (*Notifier, error) {
	conn, err := godbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	obj := conn.Object(busName, objectPath)

	// GetServerInformation doubles as a liveness probe for the server.
	var name, vendor, version, specVersion string
	call := obj.Call(busName+".GetServerInformation", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("no notification server on session bus: %w", call.Err)
	}
	if err := call.Store(&name, &vendor, &version, &specVersion); err != nil {
		return nil, fmt.Errorf("unexpected GetServerInformation reply: %w", err)
	}
	log.Printf("Notification server: %s (%s %s, spec %s)", name, vendor, version, specVersion)

	if err := conn.AddMatchSignal(
		godbus.WithMatchObjectPath(objectPath),
		godbus.WithMatchInterface(busName),
	); err != nil {
		return nil, fmt.Errorf("failed to subscribe to notification signals: %w", err)
	}

	n := &Notifier{
		conn:    conn,
		obj:     obj,
		appName: appName,
		summary: summary,
		body:    body,
		signals: make(chan *godbus.Signal, 16),
	}
	conn.Signal(n.signals)
	return n, nil
}

func (n *Notifier) OnAction(fn func(action string)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onAction = fn
}

func (n *Notifier) OnClosed(fn func(reason reminder.CloseReason)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onClosed = fn
}

// Show raises the alert. No-op while already shown.
func (n *Notifier) Show() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.shown != 0 {
		return nil
	}

	actions := []string{
		reminder.ActionPostpone, "Postpone",
		reminder.ActionSkip, "Skip",
	}
	hints := map[string]godbus.Variant{
		"urgency":  godbus.MakeVariant(byte(2)), // critical: stays up until acted on
		"resident": godbus.MakeVariant(true),    // actions should not auto-close it
	}

	var id uint32
	call := n.obj.Call(busName+".Notify", 0,
		n.appName, uint32(0), "", n.summary, n.body, actions, hints, int32(0))
	if call.Err != nil {
		return fmt.Errorf("Notify call failed: %w", call.Err)
	}
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("unexpected Notify reply: %w", err)
	}
	n.shown = id
	return nil
}

// Hide closes the alert via CloseNotification. The server reports that
// close with reason 3, which we swallow here: by the time the signal
// arrives the notification is no longer ours. No-op while hidden.
func (n *Notifier) Hide() error {
	n.mu.Lock()
	id := n.shown
	n.shown = 0
	n.mu.Unlock()
	if id == 0 {
		return nil
	}

	if call := n.obj.Call(busName+".CloseNotification", 0, id); call.Err != nil {
		return fmt.Errorf("CloseNotification call failed: %w", call.Err)
	}
	return nil
}

// Start dispatches bus signals until ctx is cancelled. Handlers run on this
// goroutine; they only post events and never block.
func (n *Notifier) Start(ctx context.Context) {
	log.Println("Notification signal dispatcher running.")
	for {
		select {
		case <-ctx.Done():
			log.Println("Notification signal dispatcher stopping.")
			return
		case sig, ok := <-n.signals:
			if !ok {
				return
			}
			n.handleSignal(sig)
		}
	}
}

func (n *Notifier) handleSignal(sig *godbus.Signal) {
	switch sig.Name {
	case sigActionInvoked:
		if len(sig.Body) != 2 {
			return
		}
		id, _ := sig.Body[0].(uint32)
		action, _ := sig.Body[1].(string)

		n.mu.Lock()
		fn := n.onAction
		mine := id != 0 && id == n.shown
		n.mu.Unlock()
		if mine && fn != nil {
			fn(action)
		}

	case sigNotificationClosed:
		if len(sig.Body) != 2 {
			return
		}
		id, _ := sig.Body[0].(uint32)
		reason, _ := sig.Body[1].(uint32)

		n.mu.Lock()
		mine := id != 0 && id == n.shown
		if mine {
			n.shown = 0
		}
		fn := n.onClosed
		n.mu.Unlock()
		// Closes for ids we no longer track are our own CloseNotification
		// echoes or stale; the surface contract says not to surface them.
		if mine && fn != nil {
			fn(reminder.CloseReason(reason))
		}
	}
}

// Close hides any remaining alert and releases the bus connection.
func (n *Notifier) Close() error {
	if err := n.Hide(); err != nil {
		log.Printf("Warning: failed to close notification on shutdown: %v", err)
	}
	n.conn.RemoveSignal(n.signals)
	return n.conn.Close()
}
