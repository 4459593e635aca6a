package models

import (
	"fmt"
	"time"
)

// Session identifies the caller of every operation.
type Session struct {
	UserID      string
	DisplayName string
	DeviceInfo  map[string]string
}

// Window is a closed time range.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DefaultWindow returns [now - past, now + future].
func DefaultWindow(now time.Time, past, future time.Duration) Window {
	return Window{Start: now.Add(-past), End: now.Add(future)}
}

// SyncError is one per-event failure collected during a reconciliation pass.
type SyncError struct {
	EventID string `json:"eventId,omitempty"`
	Title   string `json:"title,omitempty"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

func (e SyncError) String() string {
	if e.EventID == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s %s (%s): %s", e.Stage, e.EventID, e.Title, e.Message)
}

// SyncReport is the outcome of one reconciliation pass.
type SyncReport struct {
	Added             int         `json:"added"`
	Updated           int         `json:"updated"`
	Errors            []SyncError `json:"errors"`
	LastSyncTimestamp time.Time   `json:"lastSyncTimestamp"`
	Window            Window      `json:"window"`
}

// AddError records a per-event failure.
func (r *SyncReport) AddError(stage string, e *Event, err error) {
	se := SyncError{Stage: stage, Message: err.Error()}
	if e != nil {
		se.EventID = e.ID
		se.Title = e.Title
	}
	r.Errors = append(r.Errors, se)
}
