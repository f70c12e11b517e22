package event

import "time"

type RecordType string

const (
	RecordAppStart   RecordType = "app_start"
	RecordAppStop    RecordType = "app_stop"
	RecordAlertShown RecordType = "alert_shown"
	RecordBreakTaken RecordType = "break_taken"
	RecordPostponed  RecordType = "postponed"
	RecordSkipped    RecordType = "skipped"
	RecordDismissed  RecordType = "dismissed"
)

// Record is one history row stored in the database.
type Record struct {
	ID        int64      `db:"id"`
	Timestamp time.Time  `db:"timestamp"`
	Type      RecordType `db:"type"`
	Value     float64    `db:"value"` // Generic value (e.g., observed idle seconds)
	Notes     string     `db:"notes"` // e.g., "action" vs "dismiss" for postponed
}

// CycleState is the reminder cycle's discrete state.
type CycleState string

const (
	StateWorking          CycleState = "Working"
	StateAlerting         CycleState = "Alerting"
	StateAwaitingActivity CycleState = "AwaitingActivity"
)

// StatusUpdate is published by the controller after every transition.
type StatusUpdate struct {
	State     CycleState
	NextAlert time.Time // zero when no countdown is pending
	Completed int       // breaks taken this run
	Postponed int
	Skipped   int
}
