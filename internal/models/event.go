package models

import (
	"fmt"
	"strings"
	"time"
)

// AttendeeStatus is an attendee's RSVP.
type AttendeeStatus string

const (
	StatusPending       AttendeeStatus = "pending"
	StatusGoing         AttendeeStatus = "going"
	StatusInterested    AttendeeStatus = "interested"
	StatusNotInterested AttendeeStatus = "not_interested"
)

// ParseStatus accepts the canonical names plus the "accepted" and "declined" aliases.
func ParseStatus(s string) (AttendeeStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pending":
		return StatusPending, nil
	case "going", "accepted":
		return StatusGoing, nil
	case "interested":
		return StatusInterested, nil
	case "not_interested", "declined":
		return StatusNotInterested, nil
	}
	return "", fmt.Errorf("unknown attendee status %q", s)
}

// Valid reports whether s is one of the canonical statuses.
func (s AttendeeStatus) Valid() bool {
	switch s {
	case StatusPending, StatusGoing, StatusInterested, StatusNotInterested:
		return true
	}
	return false
}

// Attendee is one invited person. Any of the contact fields may be empty.
type Attendee struct {
	Name        string         `json:"name,omitempty" bson:"name,omitempty"`
	Email       string         `json:"email,omitempty" bson:"email,omitempty"`
	PhoneNumber string         `json:"phoneNumber,omitempty" bson:"phoneNumber,omitempty"`
	Status      AttendeeStatus `json:"status" bson:"status"`
}

// Event is the canonical calendar event shared by the local provider and the remote store.
// This is an internal representation, independent of any specific calendar provider.
type Event struct {
	ID            string     `json:"id" bson:"_id"`
	OwnerID       string     `json:"ownerId" bson:"ownerId"`
	OrganizerName string     `json:"organizerName,omitempty" bson:"organizerName,omitempty"`
	Title         string     `json:"title" bson:"title"`
	StartTime     time.Time  `json:"startTime" bson:"startTime"`
	EndTime       time.Time  `json:"endTime" bson:"endTime"`
	Location      string     `json:"location,omitempty" bson:"location,omitempty"`
	Notes         string     `json:"notes,omitempty" bson:"notes,omitempty"`
	Attendees     []Attendee `json:"attendees,omitempty" bson:"attendees,omitempty"`
	LocalRef      string     `json:"localRef,omitempty" bson:"localRef,omitempty"` // empty until first sync
	CreatedAt     time.Time  `json:"createdAt" bson:"createdAt"`
	LastModified  time.Time  `json:"lastModified" bson:"lastModified"`
}

// Clone returns a deep copy.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	if e.Attendees != nil {
		c.Attendees = append([]Attendee(nil), e.Attendees...)
	}
	return &c
}

// Overlaps reports whether the event intersects [start, end].
func (e *Event) Overlaps(start, end time.Time) bool {
	return !e.StartTime.After(end) && !e.EndTime.Before(start)
}

// Summary returns the display fields carried in share snapshots.
func (e *Event) Summary() EventSummary {
	return EventSummary{
		ID:        e.ID,
		Title:     e.Title,
		StartTime: e.StartTime,
		EndTime:   e.EndTime,
		Location:  e.Location,
	}
}

// EventSummary is a denormalized view of an event.
type EventSummary struct {
	ID        string    `json:"id" bson:"id"`
	Title     string    `json:"title" bson:"title"`
	StartTime time.Time `json:"startTime" bson:"startTime"`
	EndTime   time.Time `json:"endTime" bson:"endTime"`
	Location  string    `json:"location,omitempty" bson:"location,omitempty"`
}

// Summaries maps events to their summaries.
func Summaries(events []*Event) []EventSummary {
	out := make([]EventSummary, 0, len(events))
	for _, e := range events {
		out = append(out, e.Summary())
	}
	return out
}

// Stamp truncates t to the millisecond precision the document stores keep.
func Stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
