// Package local defines the device calendar provider the core reads and writes.
package local

import (
	"context"
	"time"

	"calshare/internal/models"
)

// Permission is the result of a permission request.
type Permission int

const (
	Denied Permission = iota
	Granted
)

// Calendar is one calendar on the device.
type Calendar struct {
	ID         string
	Name       string
	IsPrimary  bool
	IsWritable bool
}

// Fields are the event fields a device calendar stores.
type Fields struct {
	Title     string
	StartTime time.Time
	EndTime   time.Time
	Location  string
	Notes     string
}

// Event is an entry read back from the device calendar.
type Event struct {
	Ref          string
	CalendarID   string
	LastModified time.Time
	Fields
}

// Provider is the device calendar surface. Implementations return errors
// classified with apperr (PermissionDenied, NotFound, Transport).
type Provider interface {
	RequestPermission(ctx context.Context) (Permission, error)
	ListCalendars(ctx context.Context) ([]Calendar, error)
	ListEvents(ctx context.Context, calendarIDs []string, start, end time.Time) ([]Event, error)
	CreateEvent(ctx context.Context, calendarID string, f Fields) (string, error)
	UpdateEvent(ctx context.Context, ref string, f Fields) error
	DeleteEvent(ctx context.Context, ref string) error
}

// FieldsOf extracts the device fields of a canonical event.
func FieldsOf(e *models.Event) Fields {
	return Fields{
		Title:     e.Title,
		StartTime: e.StartTime,
		EndTime:   e.EndTime,
		Location:  e.Location,
		Notes:     e.Notes,
	}
}

// Equal compares fields at second precision; device calendars drop sub-second parts.
func (f Fields) Equal(o Fields) bool {
	return f.Title == o.Title &&
		f.Location == o.Location &&
		f.Notes == o.Notes &&
		f.StartTime.Truncate(time.Second).Equal(o.StartTime.Truncate(time.Second)) &&
		f.EndTime.Truncate(time.Second).Equal(o.EndTime.Truncate(time.Second))
}

// Apply copies the fields onto a canonical event.
func (f Fields) Apply(e *models.Event) {
	e.Title = f.Title
	e.StartTime = f.StartTime
	e.EndTime = f.EndTime
	e.Location = f.Location
	e.Notes = f.Notes
}

// DefaultCalendar picks the primary writable calendar, else the first writable one.
func DefaultCalendar(cals []Calendar) (Calendar, bool) {
	var fallback *Calendar
	for i := range cals {
		if !cals[i].IsWritable {
			continue
		}
		if cals[i].IsPrimary {
			return cals[i], true
		}
		if fallback == nil {
			fallback = &cals[i]
		}
	}
	if fallback == nil {
		return Calendar{}, false
	}
	return *fallback, true
}

// WritableIDs returns the ids of every writable calendar.
func WritableIDs(cals []Calendar) []string {
	var ids []string
	for _, c := range cals {
		if c.IsWritable {
			ids = append(ids, c.ID)
		}
	}
	return ids
}
