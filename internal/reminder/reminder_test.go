package reminder

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakd/internal/event"
)

// --- Fakes ---

type fakeCountdown struct {
	mu       sync.Mutex
	armed    bool
	arms     []time.Duration
	cancels  int
	deadline time.Time
}

func (f *fakeCountdown) Arm(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.armed {
		panic("fake countdown: already armed")
	}
	f.armed = true
	f.arms = append(f.arms, d)
	f.deadline = time.Now().Add(d)
}

func (f *fakeCountdown) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	f.armed = false
	f.deadline = time.Time{}
}

func (f *fakeCountdown) Armed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armed
}

func (f *fakeCountdown) Deadline() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deadline
}

// disarm simulates expiry delivery: the real countdown disarms itself
// before invoking its fire function.
func (f *fakeCountdown) disarm() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = false
	f.deadline = time.Time{}
}

func (f *fakeCountdown) armHistory() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.arms...)
}

type fakeSurface struct {
	mu       sync.Mutex
	shown    bool
	shows    int
	hides    int
	showErr  error
	onAction func(string)
	onClosed func(CloseReason)
}

func (f *fakeSurface) Show() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.showErr != nil {
		return f.showErr
	}
	if !f.shown {
		f.shown = true
		f.shows++
	}
	return nil
}

func (f *fakeSurface) Hide() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shown {
		f.shown = false
		f.hides++
	}
	return nil
}

func (f *fakeSurface) OnAction(fn func(string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onAction = fn
}

func (f *fakeSurface) OnClosed(fn func(CloseReason)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onClosed = fn
}

func (f *fakeSurface) isShown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shown
}

func (f *fakeSurface) action(name string) {
	f.mu.Lock()
	fn := f.onAction
	f.mu.Unlock()
	fn(name)
}

func (f *fakeSurface) close(reason CloseReason) {
	f.mu.Lock()
	fn := f.onClosed
	f.mu.Unlock()
	fn(reason)
}

type fakeIdle struct {
	mu        sync.Mutex
	threshold time.Duration
	idleFn    func()
	activeFns []func()
}

func (f *fakeIdle) AddIdleWatch(threshold time.Duration, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threshold = threshold
	f.idleFn = fn
}

func (f *fakeIdle) AddUserActiveWatch(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activeFns = append(f.activeFns, fn)
}

func (f *fakeIdle) fireIdle() {
	f.mu.Lock()
	fn := f.idleFn
	f.mu.Unlock()
	fn()
}

// fireActive consumes and fires the oldest active watch, per the one-shot
// contract of the idle monitor.
func (f *fakeIdle) fireActive() {
	f.mu.Lock()
	fn := f.activeFns[0]
	f.activeFns = f.activeFns[1:]
	f.mu.Unlock()
	fn()
}

func (f *fakeIdle) activeWatchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.activeFns)
}

// --- Helpers ---

var testDurations = Durations{
	Work:     25 * time.Minute,
	Break:    5 * time.Minute,
	Postpone: 10 * time.Minute,
}

type fixture struct {
	c       *Controller
	cd      *fakeCountdown
	idle    *fakeIdle
	surface *fakeSurface
	updates chan interface{}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		cd:      &fakeCountdown{},
		idle:    &fakeIdle{},
		surface: &fakeSurface{},
		updates: make(chan interface{}, 64),
	}
	f.c = New(testDurations, f.idle, f.surface, f.updates, false)
	f.c.countdown = f.cd
	f.c.Start()
	t.Cleanup(f.c.Stop)
	return f
}

// expire simulates countdown expiry the way the real timer delivers it:
// disarm first, then fire.
func (f *fixture) expire() {
	f.cd.disarm()
	f.c.post(ev{kind: evTimerExpired})
}

// awaitState reads controller updates until a status update with the wanted
// state arrives, skipping history records.
func awaitState(t *testing.T, updates <-chan interface{}, want event.CycleState) event.StatusUpdate {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-updates:
			if s, ok := u.(event.StatusUpdate); ok && s.State == want {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

// --- Tests ---

func TestStartArmsWorkInterval(t *testing.T) {
	f := newFixture(t)

	s := awaitState(t, f.updates, event.StateWorking)
	assert.Equal(t, []time.Duration{testDurations.Work}, f.cd.armHistory())
	assert.False(t, s.NextAlert.IsZero())
	assert.Equal(t, testDurations.Break, f.idle.threshold)
	assert.False(t, f.surface.isShown())
}

func TestExpiryRaisesAlert(t *testing.T) {
	f := newFixture(t)
	awaitState(t, f.updates, event.StateWorking)

	f.expire()
	s := awaitState(t, f.updates, event.StateAlerting)

	assert.True(t, f.surface.isShown())
	assert.False(t, f.cd.Armed())
	assert.True(t, s.NextAlert.IsZero())
}

func TestIdleSatisfiesBreak(t *testing.T) {
	f := newFixture(t)
	awaitState(t, f.updates, event.StateWorking)
	f.expire()
	awaitState(t, f.updates, event.StateAlerting)

	f.idle.fireIdle()
	s := awaitState(t, f.updates, event.StateAwaitingActivity)

	assert.False(t, f.surface.isShown())
	assert.False(t, f.cd.Armed())
	assert.Equal(t, 1, f.idle.activeWatchCount())
	assert.Equal(t, 1, s.Completed)
}

func TestActivityRestartsWorkInterval(t *testing.T) {
	f := newFixture(t)
	awaitState(t, f.updates, event.StateWorking)
	f.expire()
	awaitState(t, f.updates, event.StateAlerting)
	f.idle.fireIdle()
	awaitState(t, f.updates, event.StateAwaitingActivity)

	f.idle.fireActive()
	awaitState(t, f.updates, event.StateWorking)

	history := f.cd.armHistory()
	require.Len(t, history, 2)
	assert.Equal(t, testDurations.Work, history[1])
	assert.True(t, f.cd.Armed())
}

func TestUserDismissPostpones(t *testing.T) {
	f := newFixture(t)
	awaitState(t, f.updates, event.StateWorking)
	f.expire()
	awaitState(t, f.updates, event.StateAlerting)

	f.surface.close(CloseDismissed)
	s := awaitState(t, f.updates, event.StateWorking)

	history := f.cd.armHistory()
	require.Len(t, history, 2)
	assert.Equal(t, testDurations.Postpone, history[1])
	assert.Equal(t, 1, s.Postponed)
}

func TestSelfInitiatedCloseIgnored(t *testing.T) {
	f := newFixture(t)
	awaitState(t, f.updates, event.StateWorking)
	f.expire()
	awaitState(t, f.updates, event.StateAlerting)

	// A close we requested ourselves must not count as a dismissal.
	f.surface.close(CloseRequested)
	f.surface.close(CloseExpired)

	// Still Alerting: the idle watch must drive the next transition.
	f.idle.fireIdle()
	awaitState(t, f.updates, event.StateAwaitingActivity)
	assert.Equal(t, []time.Duration{testDurations.Work}, f.cd.armHistory())
}

func TestPostponeAction(t *testing.T) {
	f := newFixture(t)
	awaitState(t, f.updates, event.StateWorking)
	f.expire()
	awaitState(t, f.updates, event.StateAlerting)

	f.surface.action(ActionPostpone)
	s := awaitState(t, f.updates, event.StateWorking)

	assert.False(t, f.surface.isShown())
	history := f.cd.armHistory()
	require.Len(t, history, 2)
	assert.Equal(t, testDurations.Postpone, history[1])
	assert.Equal(t, 1, s.Postponed)
}

func TestSkipAction(t *testing.T) {
	f := newFixture(t)
	awaitState(t, f.updates, event.StateWorking)
	f.expire()
	awaitState(t, f.updates, event.StateAlerting)

	f.surface.action(ActionSkip)
	s := awaitState(t, f.updates, event.StateWorking)

	assert.False(t, f.surface.isShown())
	history := f.cd.armHistory()
	require.Len(t, history, 2)
	assert.Equal(t, testDurations.Work, history[1])
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 0, s.Postponed)
}

func TestActionOutsideAlertingIgnored(t *testing.T) {
	f := newFixture(t)
	awaitState(t, f.updates, event.StateWorking)

	// IPC-injected actions are meaningless while Working.
	f.c.Postpone()
	f.c.Skip()

	// Cycle is intact: expiry still raises the alert, and nothing re-armed
	// the countdown in between.
	f.expire()
	awaitState(t, f.updates, event.StateAlerting)
	assert.Equal(t, []time.Duration{testDurations.Work}, f.cd.armHistory())
}

func TestIdleWinsOverRacingDismiss(t *testing.T) {
	f := newFixture(t)
	awaitState(t, f.updates, event.StateWorking)
	f.expire()
	awaitState(t, f.updates, event.StateAlerting)

	// Idle is detected first; a dismissal of the same alert arrives late.
	f.idle.fireIdle()
	f.surface.close(CloseDismissed)
	awaitState(t, f.updates, event.StateAwaitingActivity)

	// The stale dismissal armed nothing; only activity restarts the cycle.
	f.idle.fireActive()
	awaitState(t, f.updates, event.StateWorking)
	history := f.cd.armHistory()
	require.Len(t, history, 2)
	assert.Equal(t, testDurations.Work, history[1])
}

func TestIdleOutsideAlertingIgnored(t *testing.T) {
	f := newFixture(t)
	awaitState(t, f.updates, event.StateWorking)

	// Persistent watch fires during Working; no transition.
	f.idle.fireIdle()
	f.expire()
	awaitState(t, f.updates, event.StateAlerting)
	assert.Equal(t, 0, f.idle.activeWatchCount())
}

func TestStopHidesAlert(t *testing.T) {
	f := newFixture(t)
	awaitState(t, f.updates, event.StateWorking)
	f.expire()
	awaitState(t, f.updates, event.StateAlerting)
	require.True(t, f.surface.isShown())

	f.c.Stop()
	assert.False(t, f.surface.isShown())
}

func TestHandlerFaultIsFatal(t *testing.T) {
	f := &fixture{
		cd:      &fakeCountdown{},
		idle:    &fakeIdle{},
		surface: &fakeSurface{showErr: errors.New("display gone")},
		updates: make(chan interface{}, 64),
	}
	f.c = New(testDurations, f.idle, f.surface, f.updates, false)
	f.c.countdown = f.cd

	exitCode := make(chan int, 1)
	f.c.exit = func(code int) { exitCode <- code }

	f.c.Start()
	t.Cleanup(f.c.Stop)
	awaitState(t, f.updates, event.StateWorking)

	f.expire()
	select {
	case code := <-exitCode:
		assert.Equal(t, 1, code)
	case <-time.After(2 * time.Second):
		t.Fatal("handler fault did not terminate the process")
	}
}

func TestDoubleArmIsFatal(t *testing.T) {
	f := &fixture{
		cd:      &fakeCountdown{},
		idle:    &fakeIdle{},
		surface: &fakeSurface{},
		updates: make(chan interface{}, 64),
	}
	f.c = New(testDurations, f.idle, f.surface, f.updates, false)
	f.c.countdown = f.cd

	exitCode := make(chan int, 1)
	f.c.exit = func(code int) { exitCode <- code }

	f.c.Start()
	t.Cleanup(f.c.Stop)
	awaitState(t, f.updates, event.StateWorking)

	// Expiry delivered without the countdown disarming first models a
	// broken timer. The postpone that follows tries to arm the countdown
	// while it still holds a pending expiry; that second arm must be
	// rejected as a defect and take the process down.
	f.c.post(ev{kind: evTimerExpired})
	awaitState(t, f.updates, event.StateAlerting)
	f.surface.action(ActionPostpone)

	select {
	case code := <-exitCode:
		assert.Equal(t, 1, code)
	case <-time.After(2 * time.Second):
		t.Fatal("expected fatal exit")
	}
}

// End-to-end with the real countdown and sub-second durations.
func TestEndToEndBreakCycle(t *testing.T) {
	updates := make(chan interface{}, 64)
	idle := &fakeIdle{}
	surface := &fakeSurface{}
	d := Durations{
		Work:     30 * time.Millisecond,
		Break:    30 * time.Millisecond,
		Postpone: 30 * time.Millisecond,
	}
	c := New(d, idle, surface, updates, false)
	c.Start()
	t.Cleanup(c.Stop)

	awaitState(t, updates, event.StateWorking)
	awaitState(t, updates, event.StateAlerting)
	require.True(t, surface.isShown())

	idle.fireIdle()
	awaitState(t, updates, event.StateAwaitingActivity)
	assert.False(t, surface.isShown())

	idle.fireActive()
	s := awaitState(t, updates, event.StateWorking)
	assert.False(t, s.NextAlert.IsZero())

	// And the cycle repeats.
	awaitState(t, updates, event.StateAlerting)
}

func TestEndToEndDismissCycle(t *testing.T) {
	updates := make(chan interface{}, 64)
	idle := &fakeIdle{}
	surface := &fakeSurface{}
	d := Durations{
		Work:     30 * time.Millisecond,
		Break:    time.Minute, // idle never reached in this test
		Postpone: 40 * time.Millisecond,
	}
	c := New(d, idle, surface, updates, false)
	c.Start()
	t.Cleanup(c.Stop)

	awaitState(t, updates, event.StateWorking)
	awaitState(t, updates, event.StateAlerting)

	armedAt := time.Now()
	surface.close(CloseDismissed)
	s := awaitState(t, updates, event.StateWorking)

	// Re-armed with the postpone interval, not the work interval.
	remaining := s.NextAlert.Sub(armedAt)
	assert.Less(t, remaining, 10*d.Postpone)

	awaitState(t, updates, event.StateAlerting)
	assert.Equal(t, 1, s.Postponed)
}
