package eventstore

import (
	"errors"
	"strings"
	"testing"
	"time"

	"calshare/internal/apperr"
	"calshare/internal/models"
)

func TestValidate(t *testing.T) {
	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	ok := func() *models.Event {
		return &models.Event{Title: "Standup", StartTime: start, EndTime: start.Add(30 * time.Minute)}
	}

	tests := []struct {
		name   string
		mutate func(e *models.Event)
		valid  bool
	}{
		{"ok", func(e *models.Event) {}, true},
		{"zero length", func(e *models.Event) { e.EndTime = e.StartTime }, true},
		{"missing title", func(e *models.Event) { e.Title = "" }, false},
		{"title at limit", func(e *models.Event) { e.Title = strings.Repeat("é", 100) }, true},
		{"title too long", func(e *models.Event) { e.Title = strings.Repeat("a", 101) }, false},
		{"missing start", func(e *models.Event) { e.StartTime = time.Time{} }, false},
		{"end before start", func(e *models.Event) { e.EndTime = e.StartTime.Add(-time.Minute) }, false},
		{"notes too long", func(e *models.Event) { e.Notes = strings.Repeat("n", 1001) }, false},
		{"good email", func(e *models.Event) {
			e.Attendees = []models.Attendee{{Email: "ann@example.com", Status: models.StatusPending}}
		}, true},
		{"bad email", func(e *models.Event) {
			e.Attendees = []models.Attendee{{Email: "ann@", Status: models.StatusPending}}
		}, false},
		{"display name email", func(e *models.Event) {
			e.Attendees = []models.Attendee{{Email: "Ann <ann@example.com>", Status: models.StatusPending}}
		}, false},
		{"bad status", func(e *models.Event) {
			e.Attendees = []models.Attendee{{PhoneNumber: "5550100", Status: "maybe"}}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := ok()
			tt.mutate(e)
			err := validate("test", e)
			if tt.valid && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.valid && !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestMergeOnlyTouchesPatchedFields(t *testing.T) {
	created := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	cur := &models.Event{
		ID: "ev-1", OwnerID: "u1", LocalRef: "ref-1", CreatedAt: created,
		Title: "Standup", Location: "Room 1", Notes: "daily",
		StartTime: created, EndTime: created.Add(time.Hour),
		Attendees: []models.Attendee{{PhoneNumber: "5550100", Status: models.StatusGoing}},
	}
	title := "  Retro  "
	var none []models.Attendee

	next := merge(cur, Patch{Title: &title, Attendees: &none})

	if next.Title != "Retro" || next.Attendees != nil {
		t.Fatalf("patch not applied: %+v", next)
	}
	if next.ID != "ev-1" || next.OwnerID != "u1" || next.LocalRef != "ref-1" || !next.CreatedAt.Equal(created) {
		t.Fatalf("immutable field changed: %+v", next)
	}
	if next.Location != "Room 1" || next.Notes != "daily" {
		t.Fatalf("unpatched field changed: %+v", next)
	}
	if cur.Title != "Standup" || len(cur.Attendees) != 1 {
		t.Fatal("merge mutated its input")
	}
	if !(Patch{}).IsEmpty() || (Patch{Title: &title}).IsEmpty() {
		t.Fatal("IsEmpty")
	}
}

func TestNormalizeAttendeesDefaultsStatus(t *testing.T) {
	got := normalizeAttendees([]models.Attendee{{PhoneNumber: " 555-0100 "}})
	if got[0].Status != models.StatusPending || got[0].PhoneNumber != "555-0100" {
		t.Fatalf("got %+v", got[0])
	}
}

func TestRemovedAttendees(t *testing.T) {
	before := []models.Attendee{{PhoneNumber: "555-0100"}, {PhoneNumber: "555-0199"}, {Email: "x@example.com"}}
	after := []models.Attendee{{PhoneNumber: "5550100"}}
	got := removedAttendees(before, after)
	if len(got) != 1 || got[0].PhoneNumber != "555-0199" {
		t.Fatalf("got %+v", got)
	}
}
