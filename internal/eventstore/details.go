package eventstore

import (
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"calshare/internal/apperr"
	"calshare/internal/models"
)

const (
	maxTitleLen = 100
	maxNotesLen = 1000
)

// Details are the caller-supplied fields of a new event.
type Details struct {
	Title     string
	StartTime time.Time
	EndTime   time.Time
	Location  string
	Notes     string
	Attendees []models.Attendee
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Title     *string
	StartTime *time.Time
	EndTime   *time.Time
	Location  *string
	Notes     *string
	Attendees *[]models.Attendee
}

// IsEmpty reports whether p changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.StartTime == nil && p.EndTime == nil &&
		p.Location == nil && p.Notes == nil && p.Attendees == nil
}

// merge returns a copy of cur with the patch applied. Only the fields listed
// here are mutable; id, ownerId, createdAt and localRef always come from cur.
func merge(cur *models.Event, p Patch) *models.Event {
	next := cur.Clone()
	if p.Title != nil {
		next.Title = strings.TrimSpace(*p.Title)
	}
	if p.StartTime != nil {
		next.StartTime = models.Stamp(*p.StartTime)
	}
	if p.EndTime != nil {
		next.EndTime = models.Stamp(*p.EndTime)
	}
	if p.Location != nil {
		next.Location = *p.Location
	}
	if p.Notes != nil {
		next.Notes = *p.Notes
	}
	if p.Attendees != nil {
		next.Attendees = normalizeAttendees(*p.Attendees)
	}
	return next
}

func normalizeAttendees(in []models.Attendee) []models.Attendee {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.Attendee, len(in))
	for i, a := range in {
		a.Email = strings.TrimSpace(a.Email)
		a.PhoneNumber = strings.TrimSpace(a.PhoneNumber)
		if a.Status == "" {
			a.Status = models.StatusPending
		}
		out[i] = a
	}
	return out
}

// validate checks e before any store sees it.
func validate(op string, e *models.Event) error {
	switch n := utf8.RuneCountInString(e.Title); {
	case n == 0:
		return apperr.Validation(op, "title is required")
	case n > maxTitleLen:
		return apperr.Validation(op, "title must be at most %d characters, got %d", maxTitleLen, n)
	}
	if e.StartTime.IsZero() || e.EndTime.IsZero() {
		return apperr.Validation(op, "start and end time are required")
	}
	if e.EndTime.Before(e.StartTime) {
		return apperr.Validation(op, "end time %s is before start time %s",
			e.EndTime.Format(time.RFC3339), e.StartTime.Format(time.RFC3339))
	}
	if n := utf8.RuneCountInString(e.Notes); n > maxNotesLen {
		return apperr.Validation(op, "notes must be at most %d characters, got %d", maxNotesLen, n)
	}
	for i, a := range e.Attendees {
		if a.Email != "" && !validEmail(a.Email) {
			return apperr.Validation(op, "attendee %d has a malformed email %q", i+1, a.Email)
		}
		if !a.Status.Valid() {
			return apperr.Validation(op, "attendee %d has an unknown status %q", i+1, a.Status)
		}
	}
	return nil
}

// validEmail accepts a bare addr-spec; display-name forms are rejected.
func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
