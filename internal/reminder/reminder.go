// Package reminder implements the reminder cycle controller: the state
// machine driving one countdown timer, the idle monitor and the alert
// surface through Working -> Alerting -> AwaitingActivity cycles.
package reminder

import (
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"breakd/internal/event"
	"breakd/internal/timer"
)

// Durations are the three intervals of a reminder cycle, fixed at startup.
type Durations struct {
	Work     time.Duration // active use before an alert is raised
	Break    time.Duration // continuous idle required to satisfy a break
	Postpone time.Duration // delay before re-alerting after postpone/dismiss
}

// CloseReason mirrors the org.freedesktop.Notifications close reason codes.
type CloseReason uint32

const (
	CloseExpired   CloseReason = 1 // notification timed out on the server
	CloseDismissed CloseReason = 2 // user dismissed the notification
	CloseRequested CloseReason = 3 // closed via CloseNotification (our own Hide)
	CloseUndefined CloseReason = 4
)

// Alert action keys.
const (
	ActionPostpone = "postpone"
	ActionSkip     = "skip"
)

// IdleMonitor reports user idle/active transitions. The idle watch is
// persistent and fires once per idle episode; the active watch is one-shot
// and must be re-registered to observe another idle-to-active transition.
// The monitor is authoritative; the controller never second-guesses it.
type IdleMonitor interface {
	AddIdleWatch(threshold time.Duration, fn func())
	AddUserActiveWatch(fn func())
}

// AlertSurface is the persistent break alert. Show and Hide are idempotent.
// Action and close notifications arrive through the registered handlers;
// the surface must report CloseDismissed only for closes the user initiated
// directly, never for closes caused by Hide.
type AlertSurface interface {
	Show() error
	Hide() error
	OnAction(fn func(action string))
	OnClosed(fn func(reason CloseReason))
}

// countdown is what the controller needs from timer.Countdown; tests
// substitute a recording fake.
type countdown interface {
	Arm(d time.Duration)
	Cancel()
	Armed() bool
	Deadline() time.Time
}

type evKind int

const (
	evTimerExpired evKind = iota
	evIdleStart
	evIdleEnd
	evAction
	evClosed
)

func (k evKind) String() string {
	switch k {
	case evTimerExpired:
		return "timer-expired"
	case evIdleStart:
		return "idle-start"
	case evIdleEnd:
		return "idle-end"
	case evAction:
		return "action"
	case evClosed:
		return "closed"
	}
	return "unknown"
}

// ev is one tagged input to the state machine. Exactly one is dispatched at
// a time, so handlers never observe a half-applied transition.
type ev struct {
	kind   evKind
	action string      // evAction only
	reason CloseReason // evClosed only
}

// Controller owns the reminder cycle state. All mutation happens on the run
// goroutine; external inputs (timer expiry, watches, alert signals, IPC
// commands) are posted to the event queue.
type Controller struct {
	durations Durations
	idle      IdleMonitor
	surface   AlertSurface
	countdown countdown
	debug     bool

	events  chan ev
	updates chan<- interface{} // event.StatusUpdate and event.Record

	state     event.CycleState
	completed int
	postponed int
	skipped   int

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	exit     func(int) // os.Exit; replaced in handler-fault tests
}

func New(d Durations, idle IdleMonitor, surface AlertSurface, updates chan<- interface{}, debugLog bool) *Controller {
	c := &Controller{
		durations: d,
		idle:      idle,
		surface:   surface,
		debug:     debugLog,
		events:    make(chan ev, 16),
		updates:   updates,
		state:     event.StateWorking,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		exit:      os.Exit,
	}
	c.countdown = timer.New(func() { c.post(ev{kind: evTimerExpired}) })
	return c
}

// Start registers the persistent idle watch and the alert surface handlers,
// arms the countdown for the work interval and launches the run loop.
func (c *Controller) Start() {
	c.surface.OnAction(func(action string) { c.post(ev{kind: evAction, action: action}) })
	c.surface.OnClosed(func(reason CloseReason) { c.post(ev{kind: evClosed, reason: reason}) })
	c.idle.AddIdleWatch(c.durations.Break, func() { c.post(ev{kind: evIdleStart}) })

	log.Printf("Reminder cycle starting: work=%s break=%s postpone=%s",
		c.durations.Work, c.durations.Break, c.durations.Postpone)
	c.countdown.Arm(c.durations.Work)
	c.publishStatus()

	go c.run()
}

// Stop shuts the run loop down and hides the alert surface. Safe to call
// more than once; blocks until cleanup has run.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.quit) })
	<-c.done
}

// Postpone injects the postpone action, as if chosen on the alert. No-op
// outside Alerting.
func (c *Controller) Postpone() {
	c.post(ev{kind: evAction, action: ActionPostpone})
}

// Skip injects the skip action. No-op outside Alerting.
func (c *Controller) Skip() {
	c.post(ev{kind: evAction, action: ActionSkip})
}

// post delivers an input to the run loop. Blocks rather than drops if the
// queue is momentarily full; during shutdown the input is discarded.
func (c *Controller) post(e ev) {
	select {
	case c.events <- e:
	case <-c.quit:
		if c.debug {
			log.Printf("Debug: dropping %s event during shutdown", e.kind)
		}
	}
}

func (c *Controller) run() {
	defer close(c.done)

	for {
		select {
		case <-c.quit:
			c.countdown.Cancel()
			if err := c.surface.Hide(); err != nil {
				log.Printf("Error hiding alert during shutdown: %v", err)
			}
			log.Println("Reminder cycle stopped.")
			return
		case e := <-c.events:
			c.dispatch(e)
		}
	}
}

// dispatch is the fatal-on-fault boundary around the transition function. A
// reminder daemon that silently stops reminding is worse than one that
// crashes and gets restarted, so any handler fault ends the process.
func (c *Controller) dispatch(e ev) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("FATAL: panic handling %s event in state %s: %v\n%s",
				e.kind, c.state, r, debug.Stack())
			c.exit(1)
		}
	}()

	if err := c.handle(e); err != nil {
		log.Printf("FATAL: error handling %s event in state %s: %v", e.kind, c.state, err)
		c.exit(1)
	}
}

// handle applies one transition from the state table. It must leave the
// controller in a consistent state before returning.
func (c *Controller) handle(e ev) error {
	switch e.kind {
	case evTimerExpired:
		if c.state != event.StateWorking {
			// The countdown is only ever armed while Working.
			return fmt.Errorf("countdown expired in state %s", c.state)
		}
		log.Println("Work interval over, raising break alert")
		if err := c.surface.Show(); err != nil {
			return fmt.Errorf("failed to show alert: %w", err)
		}
		c.state = event.StateAlerting
		c.record(event.RecordAlertShown, 0, "")
		c.publishStatus()

	case evIdleStart:
		if c.state != event.StateAlerting {
			// The idle watch is persistent and fires once per idle episode
			// regardless of state; only an active alert cares.
			if c.debug {
				log.Printf("Debug: idle started in state %s, ignoring", c.state)
			}
			return nil
		}
		log.Println("Idle threshold reached, break satisfied")
		if err := c.surface.Hide(); err != nil {
			return fmt.Errorf("failed to hide alert: %w", err)
		}
		c.countdown.Cancel() // already disarmed; guard only
		c.idle.AddUserActiveWatch(func() { c.post(ev{kind: evIdleEnd}) })
		c.state = event.StateAwaitingActivity
		c.completed++
		c.record(event.RecordBreakTaken, c.durations.Break.Seconds(), "")
		c.publishStatus()

	case evIdleEnd:
		if c.state != event.StateAwaitingActivity {
			log.Printf("Warning: active watch fired in state %s, ignoring", c.state)
			return nil
		}
		log.Println("Activity resumed, starting next work interval")
		c.countdown.Arm(c.durations.Work)
		c.state = event.StateWorking
		c.publishStatus()

	case evAction:
		if c.state != event.StateAlerting {
			log.Printf("Action %q received in state %s, ignoring", e.action, c.state)
			return nil
		}
		switch e.action {
		case ActionPostpone:
			log.Printf("Alert postponed for %s", c.durations.Postpone)
			if err := c.surface.Hide(); err != nil {
				return fmt.Errorf("failed to hide alert: %w", err)
			}
			c.countdown.Arm(c.durations.Postpone)
			c.postponed++
			c.record(event.RecordPostponed, 0, "action")
		case ActionSkip:
			log.Println("Break skipped")
			if err := c.surface.Hide(); err != nil {
				return fmt.Errorf("failed to hide alert: %w", err)
			}
			c.countdown.Arm(c.durations.Work)
			c.skipped++
			c.record(event.RecordSkipped, 0, "")
		default:
			log.Printf("Warning: unknown alert action %q, ignoring", e.action)
			return nil
		}
		c.state = event.StateWorking
		c.publishStatus()

	case evClosed:
		// Only a direct user dismissal while the alert is up postpones the
		// cycle. Closes we requested ourselves (CloseRequested) and closes
		// arriving after the idle watch already won the race are discarded.
		if c.state != event.StateAlerting || e.reason != CloseDismissed {
			if c.debug {
				log.Printf("Debug: ignoring close (reason %d) in state %s", e.reason, c.state)
			}
			return nil
		}
		log.Printf("Alert dismissed, re-alerting in %s", c.durations.Postpone)
		c.countdown.Arm(c.durations.Postpone)
		c.state = event.StateWorking
		c.postponed++
		c.record(event.RecordDismissed, 0, "dismiss")
		c.publishStatus()

	default:
		return fmt.Errorf("unknown event kind %d", e.kind)
	}
	return nil
}

func (c *Controller) record(t event.RecordType, value float64, notes string) {
	c.publish(event.Record{
		Timestamp: time.Now(),
		Type:      t,
		Value:     value,
		Notes:     notes,
	})
}

func (c *Controller) publishStatus() {
	c.publish(event.StatusUpdate{
		State:     c.state,
		NextAlert: c.countdown.Deadline(),
		Completed: c.completed,
		Postponed: c.postponed,
		Skipped:   c.skipped,
	})
}

func (c *Controller) publish(update interface{}) {
	if c.updates == nil {
		return
	}
	select {
	case c.updates <- update:
	case <-c.quit:
	case <-time.After(100 * time.Millisecond):
		log.Println("Warning: timeout publishing controller update")
	}
}
