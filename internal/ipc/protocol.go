package ipc

const SocketPath = "/tmp/breakd.sock"

// Command is sent over the socket to the daemon.
type Command struct {
	Name string      `json:"name"`
	Args interface{} `json:"args,omitempty"`
}

// Response is sent back over the socket.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

const (
	CmdPing     = "ping"
	CmdStatus   = "status"
	CmdPostpone = "postpone" // valid while an alert is showing
	CmdSkip     = "skip"     // valid while an alert is showing
	CmdHistory  = "history"
)

// StatusData reports the reminder cycle state for the status command.
type StatusData struct {
	State         string  `json:"state"` // Working, Alerting, AwaitingActivity
	NextAlertSecs float64 `json:"next_alert_secs"`
	Completed     int     `json:"completed"`
	Postponed     int     `json:"postponed"`
	Skipped       int     `json:"skipped"`
}

type HistoryArgs struct {
	Since string   `json:"since,omitempty"` // duration, e.g. "24h"; default one day
	Types []string `json:"types,omitempty"`
}

// HistoryEntry is one row of the history response.
type HistoryEntry struct {
	Timestamp string  `json:"timestamp"`
	Type      string  `json:"type"`
	Value     float64 `json:"value,omitempty"`
	Notes     string  `json:"notes,omitempty"`
}
