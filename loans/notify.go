package loans

import (
	"context"
	"time"
)

const (
	EventBorrowed    = "loans.borrowed"
	EventReturned    = "loans.returned"
	EventDeactivated = "students.deactivated"
	EventRemoved     = "students.removed"
)

// Event describes a committed state change.
type Event struct {
	Type      string    `json:"type"`
	StudentID uint      `json:"studentId"`
	DeviceID  uint      `json:"deviceId,omitempty"`
	LoanID    uint      `json:"loanId,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier is told about every committed change. It runs after the
// transaction, so a failure here cannot undo the change.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}
