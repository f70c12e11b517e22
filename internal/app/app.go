package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"breakd/internal/config"
	"breakd/internal/event"
	"breakd/internal/idle/x11"
	"breakd/internal/ipc"
	notifydbus "breakd/internal/notify/dbus"
	"breakd/internal/reminder"
	"breakd/internal/storage"

	sqlitestore "breakd/internal/storage/sqlite"
)

type App struct {
	cfg        *config.Config
	storage    storage.Storage
	monitor    *x11.Monitor
	notifier   *notifydbus.Notifier
	controller *reminder.Controller

	socketPath string
	listener   *net.UnixListener

	// Controller publishes status updates and history records here.
	updateChan chan interface{}

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// Last status published by the controller, for the status command.
	currentStatus event.StatusUpdate
	statusMutex   sync.RWMutex
}

// NewApp initializes every collaborator the reminder cycle depends on. The
// notifier and the idle monitor must both come up before the controller is
// constructed; failure of either is fatal here, not deferred.
func NewApp(cfg *config.Config) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		cfg:        cfg,
		updateChan: make(chan interface{}, 100),
		socketPath: ipc.SocketPath,
		ctx:        ctx,
		cancel:     cancel,
	}

	a.storage = sqlitestore.NewSQLiteStore(cfg.DatabasePath)
	if err := a.storage.Init(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	notifier, err := notifydbus.New("Break Reminder", "Break Time",
		"Step away from the keyboard for a while.")
	if err != nil {
		a.storage.Close()
		cancel()
		return nil, fmt.Errorf("failed to initialize notifier: %w", err)
	}
	a.notifier = notifier

	monitor, err := x11.NewMonitor(cfg.IdlePollInterval())
	if err != nil {
		a.notifier.Close()
		a.storage.Close()
		cancel()
		return nil, fmt.Errorf("failed to initialize idle monitor: %w", err)
	}
	a.monitor = monitor

	a.controller = reminder.New(reminder.Durations{
		Work:     cfg.WorkDuration(),
		Break:    cfg.BreakDuration(),
		Postpone: cfg.PostponeDuration(),
	}, a.monitor, a.notifier, a.updateChan, cfg.Debug)

	return a, nil
}

// setupSocket checks for an existing socket and creates the listener.
func (a *App) setupSocket() error {
	if _, err := os.Stat(a.socketPath); err == nil {
		conn, err := net.DialTimeout("unix", a.socketPath, 1*time.Second)
		if err == nil {
			conn.Close()
			return fmt.Errorf("socket %s already active, another instance might be running", a.socketPath)
		}
		log.Printf("Stale socket file found at %s, removing.", a.socketPath)
		if err := os.Remove(a.socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket file %s: %w", a.socketPath, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("error checking socket file %s: %w", a.socketPath, err)
	}

	addr, err := net.ResolveUnixAddr("unix", a.socketPath)
	if err != nil {
		return fmt.Errorf("failed to resolve unix addr %s: %w", a.socketPath, err)
	}

	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", a.socketPath, err)
	}

	a.listener = listener
	log.Printf("Listening for commands on %s", a.socketPath)
	return nil
}

// listenForCommands accepts connections and handles them.
func (a *App) listenForCommands() {
	defer a.wg.Done()
	defer log.Println("Socket command listener stopped.")

	for {
		conn, err := a.listener.AcceptUnix()
		if err != nil {
			select {
			case <-a.ctx.Done():
				return // expected on shutdown
			default:
				log.Printf("Failed to accept connection: %v", err)
				if ne, ok := err.(net.Error); ok && !ne.Temporary() {
					log.Println("Non-temporary accept error, stopping listener.")
					return
				}
				time.Sleep(100 * time.Millisecond)
			}
			continue
		}
		a.wg.Add(1)
		go a.handleConnection(conn)
	}
}

// handleConnection reads one command, processes it, and sends the response.
func (a *App) handleConnection(conn *net.UnixConn) {
	defer conn.Close()
	defer a.wg.Done()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var cmd ipc.Command
	if err := decoder.Decode(&cmd); err != nil {
		if err != io.EOF {
			log.Printf("Failed to decode command: %v", err)
		}
		_ = encoder.Encode(ipc.Response{Success: false, Message: "Failed to decode command: " + err.Error()})
		return
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	log.Printf("Received command: %s", cmd.Name)
	response := a.processCommand(cmd)

	if err := encoder.Encode(response); err != nil {
		log.Printf("Failed to send response: %v", err)
	}
}

// processCommand routes the command to the correct handler.
func (a *App) processCommand(cmd ipc.Command) ipc.Response {
	switch cmd.Name {
	case ipc.CmdPing:
		return ipc.Response{Success: true, Message: "pong"}

	case ipc.CmdStatus:
		a.statusMutex.RLock()
		status := a.currentStatus
		a.statusMutex.RUnlock()

		var nextSecs float64
		if !status.NextAlert.IsZero() {
			if remaining := time.Until(status.NextAlert); remaining > 0 {
				nextSecs = remaining.Seconds()
			}
		}
		return ipc.Response{Success: true, Data: ipc.StatusData{
			State:         string(status.State),
			NextAlertSecs: nextSecs,
			Completed:     status.Completed,
			Postponed:     status.Postponed,
			Skipped:       status.Skipped,
		}}

	case ipc.CmdPostpone:
		a.controller.Postpone()
		return ipc.Response{Success: true, Message: "Postpone requested"}

	case ipc.CmdSkip:
		a.controller.Skip()
		return ipc.Response{Success: true, Message: "Skip requested"}

	case ipc.CmdHistory:
		var args ipc.HistoryArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Invalid args for %s: %v", cmd.Name, err)}
		}
		since := 24 * time.Hour
		if args.Since != "" {
			d, err := time.ParseDuration(args.Since)
			if err != nil {
				return ipc.Response{Success: false, Message: fmt.Sprintf("Invalid duration format '%s': %v", args.Since, err)}
			}
			since = d
		}
		var types []event.RecordType
		for _, t := range args.Types {
			types = append(types, event.RecordType(t))
		}

		records, err := a.storage.GetRecords(a.ctx, time.Now().Add(-since), time.Now(), types...)
		if err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Failed to read history: %v", err)}
		}
		entries := make([]ipc.HistoryEntry, 0, len(records))
		for _, r := range records {
			entries = append(entries, ipc.HistoryEntry{
				Timestamp: r.Timestamp.Format(time.RFC3339),
				Type:      string(r.Type),
				Value:     r.Value,
				Notes:     r.Notes,
			})
		}
		return ipc.Response{Success: true, Data: entries}

	default:
		return ipc.Response{Success: false, Message: fmt.Sprintf("Unknown command: %s", cmd.Name)}
	}
}

// mapToStruct converts the decoded args map back into a typed struct.
func mapToStruct(input interface{}, output interface{}) error {
	if input == nil {
		return nil
	}
	jsonBytes, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to marshal args map: %w", err)
	}
	if err := json.Unmarshal(jsonBytes, output); err != nil {
		return fmt.Errorf("failed to unmarshal args into struct: %w", err)
	}
	return nil
}

func (a *App) Run() error {
	defer a.cleanup()

	log.Println("Starting break reminder daemon...")
	log.Printf("Intervals: work=%s break=%s postpone=%s",
		a.cfg.WorkDuration(), a.cfg.BreakDuration(), a.cfg.PostponeDuration())

	if err := a.setupSocket(); err != nil {
		return err
	}

	a.handleSignals()

	// Update consumer first so the controller never blocks publishing.
	a.wg.Add(1)
	go a.processUpdates()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.notifier.Start(a.ctx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		err := a.monitor.Start(a.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Idle monitor error: %v", err)
		}
	}()

	a.controller.Start()

	a.wg.Add(1)
	go a.listenForCommands()

	if _, err := a.storage.SaveRecord(a.ctx, event.Record{Timestamp: time.Now(), Type: event.RecordAppStart}); err != nil {
		log.Printf("Warning: Failed to save start record: %v", err)
	}

	log.Println("Break reminder daemon running. Send commands via breakd-cli or socket.")
	<-a.ctx.Done()

	log.Println("Shutdown signal received, waiting for components...")

	// Close the listener before waiting so accept() returns.
	if a.listener != nil {
		if err := a.listener.Close(); err != nil {
			log.Printf("Error closing socket listener: %v", err)
		}
	}

	// Stop the controller first: its teardown hides the alert.
	a.controller.Stop()

	waitChan := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waitChan)
	}()

	select {
	case <-waitChan:
		log.Println("All application goroutines finished.")
	case <-time.After(5 * time.Second):
		log.Println("Warning: Timeout waiting for application goroutines to stop.")
	}

	return nil
}

// processUpdates consumes controller output: history records are persisted,
// status updates cached for the status command.
func (a *App) processUpdates() {
	defer a.wg.Done()
	defer log.Println("Update processor stopped.")

	for {
		select {
		case <-a.ctx.Done():
			return
		case update := <-a.updateChan:
			switch u := update.(type) {
			case event.StatusUpdate:
				if a.cfg.Debug {
					log.Printf("Debug: cycle state %s (completed=%d postponed=%d skipped=%d)",
						u.State, u.Completed, u.Postponed, u.Skipped)
				}
				a.statusMutex.Lock()
				a.currentStatus = u
				a.statusMutex.Unlock()

			case event.Record:
				if _, err := a.storage.SaveRecord(a.ctx, u); err != nil {
					log.Printf("Error saving record (Type: %s): %v", u.Type, err)
				}

			default:
				log.Printf("Unknown update type from controller: %T", u)
			}
		}
	}
}

func (a *App) handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v. Initiating shutdown...", sig)
		a.cancel()
	}()
}

func (a *App) cleanup() {
	log.Println("Running cleanup...")

	saveCtx, saveCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer saveCancel()
	if _, err := a.storage.SaveRecord(saveCtx, event.Record{Timestamp: time.Now(), Type: event.RecordAppStop}); err != nil {
		log.Printf("Warning: Failed to save stop record: %v", err)
	}

	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			log.Printf("Error closing notifier: %v", err)
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			log.Printf("Error closing storage: %v", err)
		}
	}

	if _, err := os.Stat(a.socketPath); err == nil {
		log.Printf("Removing socket file: %s", a.socketPath)
		if err := os.Remove(a.socketPath); err != nil {
			log.Printf("Warning: Failed to remove socket file %s: %v", a.socketPath, err)
		}
	}

	log.Println("Cleanup finished.")
}
