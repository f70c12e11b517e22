// Package x11 implements the idle monitor over the MIT-SCREEN-SAVER X11
// extension. Idle time is sampled by polling; the sampling period bounds
// how precisely watch thresholds are honored.
package x11

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/BurntSushi/xgb/screensaver"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
)

type idleWatch struct {
	threshold time.Duration
	fn        func()
	fired     bool // reset when the idle episode ends
}

// Monitor polls the X server for the time since the last user input and
// drives idle and active watches. Idle watches are persistent and fire once
// per idle episode; active watches are one-shot and consumed when the user
// resumes activity.
type Monitor struct {
	X    *xgbutil.XUtil
	poll time.Duration

	mu          sync.Mutex
	idleWatches []*idleWatch
	activeFns   []func()
	lastIdle    time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMonitor connects to the X server and initializes the screensaver
// extension. Both must succeed; idle measurement is not optional for the
// reminder cycle.
func NewMonitor(poll time.Duration) (*Monitor, error) {
	X, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	if err := screensaver.Init(X.Conn()); err != nil {
		return nil, fmt.Errorf("MIT-SCREEN-SAVER extension unavailable: %w", err)
	}

	if poll < time.Second {
		poll = time.Second
	}

	return &Monitor{
		X:        X,
		poll:     poll,
		stopChan: make(chan struct{}),
	}, nil
}

// AddIdleWatch registers a persistent watch that fires each time the user
// has been continuously idle for at least threshold.
func (m *Monitor) AddIdleWatch(threshold time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idleWatches = append(m.idleWatches, &idleWatch{threshold: threshold, fn: fn})
}

// AddUserActiveWatch registers a one-shot watch that fires the next time
// the user resumes activity; the registration is consumed on firing.
func (m *Monitor) AddUserActiveWatch(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeFns = append(m.activeFns, fn)
}

func (m *Monitor) queryIdle() (time.Duration, error) {
	reply, err := screensaver.QueryInfo(m.X.Conn(), xproto.Drawable(m.X.RootWin())).Reply()
	if err != nil {
		return 0, fmt.Errorf("screensaver QueryInfo failed: %w", err)
	}
	return time.Duration(reply.MsSinceUserInput) * time.Millisecond, nil
}

// Start polls until ctx is cancelled or Stop is called. Watch callbacks run
// on the polling goroutine and must not block.
func (m *Monitor) Start(ctx context.Context) error {
	log.Printf("Starting X11 idle monitor (poll interval: %s)", m.poll)
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("X11 idle monitor stopping due to context cancellation.")
			return ctx.Err()
		case <-m.stopChan:
			log.Println("X11 idle monitor stopping.")
			return nil
		case <-ticker.C:
			idle, err := m.queryIdle()
			if err != nil {
				// Transient X hiccups happen around VT switches; keep the
				// last sample and retry next tick.
				log.Printf("Warning: idle query failed: %v", err)
				continue
			}
			m.step(idle)
		}
	}
}

// step advances the watch bookkeeping for one sample.
func (m *Monitor) step(idle time.Duration) {
	m.mu.Lock()

	var fire []func()

	// The idle counter resetting means user input arrived: the current
	// idle episode, if any, is over.
	if idle < m.lastIdle {
		fire = append(fire, m.activeFns...)
		m.activeFns = nil
		for _, w := range m.idleWatches {
			w.fired = false
		}
	}

	for _, w := range m.idleWatches {
		if !w.fired && idle >= w.threshold {
			w.fired = true
			fire = append(fire, w.fn)
		}
	}

	m.lastIdle = idle
	m.mu.Unlock()

	for _, fn := range fire {
		fn()
	}
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}
