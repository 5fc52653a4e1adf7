// Package task defines the persistent task model and its flat-file store.
package task

import (
	"time"
)

// Schedule string layouts as persisted in the task file.
const (
	LayoutDateTime  = "2006-01-02 15:04:05" // delayed tasks
	LayoutTimeOfDay = "15:04:05"            // daily tasks
	LayoutDate      = "2006-01-02"          // last fired date
)

type Mode string

const (
	ModeImmediate Mode = "immediate"
	ModeDelayed   Mode = "delayed"
	ModeDaily     Mode = "daily"
)

// ParseMode recognizes the three delivery modes; anything else is rejected.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeImmediate, ModeDelayed, ModeDaily:
		return Mode(s), true
	}
	return "", false
}

type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
)

// Task is one unit of scheduled work.
//
// ScheduledAt is nil for immediate tasks, a full LayoutDateTime timestamp
// for delayed tasks and a LayoutTimeOfDay value for daily tasks. It is a
// pointer so absence round-trips as null, never as "".
//
// LastFiredDate (LayoutDate) is the de-duplication key that keeps a daily
// task from firing twice within one calendar day; absent otherwise.
type Task struct {
	ID            int64   `json:"id"`
	Message       string  `json:"message"`
	ChannelID     string  `json:"channel_id"`
	Mode          Mode    `json:"schedule_type"`
	ScheduledAt   *string `json:"schedule_time"`
	Status        Status  `json:"status"`
	LastFiredDate string  `json:"last_fired_date,omitempty"`
}

// Schedule returns the scheduled-at string, or "" when absent.
func (t Task) Schedule() string {
	if t.ScheduledAt == nil {
		return ""
	}
	return *t.ScheduledAt
}

// DelayedAt parses the full timestamp of a delayed task.
func (t Task) DelayedAt() (time.Time, error) {
	return time.ParseInLocation(LayoutDateTime, t.Schedule(), time.Local)
}

// DailyAt parses the time-of-day of a daily task.
func (t Task) DailyAt() (time.Time, error) {
	return time.Parse(LayoutTimeOfDay, t.Schedule())
}
