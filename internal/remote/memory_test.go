package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"calshare/internal/apperr"
	"calshare/internal/models"
)

var base = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func event(id, owner string, startOffset, length time.Duration) *models.Event {
	return &models.Event{
		ID:           id,
		OwnerID:      owner,
		Title:        id,
		StartTime:    base.Add(startOffset),
		EndTime:      base.Add(startOffset + length),
		LastModified: base,
	}
}

func TestQueryEventsByWindow(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, e := range []*models.Event{
		event("early", "u1", -48*time.Hour, time.Hour),
		event("today", "u1", 0, time.Hour),
		event("twin", "u1", 0, time.Hour), // same interval as "today"
		event("later", "u1", 72*time.Hour, time.Hour),
		event("other", "u2", 0, time.Hour),
	} {
		if err := m.CreateEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := m.QueryEvents(ctx, "u1", base.Add(-time.Hour), base.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "today" || got[1].ID != "twin" {
		t.Fatalf("unexpected events: %+v", got)
	}

	if err := m.DeleteEvent(ctx, "today"); err != nil {
		t.Fatal(err)
	}
	got, _ = m.QueryEvents(ctx, "u1", base.Add(-time.Hour), base.Add(24*time.Hour))
	if len(got) != 1 || got[0].ID != "twin" {
		t.Fatalf("twin lost with its bucket: %+v", got)
	}
}

func TestReplaceEventCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	e := event("e1", "u1", 0, time.Hour)
	if err := m.CreateEvent(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := m.CreateEvent(ctx, e); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("duplicate create: %v", err)
	}

	moved := e.Clone()
	moved.StartTime = base.Add(48 * time.Hour)
	moved.EndTime = moved.StartTime.Add(time.Hour)
	moved.LastModified = base.Add(time.Minute)
	if err := m.ReplaceEvent(ctx, moved, base); err != nil {
		t.Fatal(err)
	}
	if err := m.ReplaceEvent(ctx, moved, base); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("stale replace accepted: %v", err)
	}

	got, _ := m.QueryEvents(ctx, "u1", base.Add(47*time.Hour), base.Add(50*time.Hour))
	if len(got) != 1 {
		t.Fatalf("index not moved: %+v", got)
	}
	got, _ = m.QueryEvents(ctx, "u1", base, base.Add(time.Hour))
	if len(got) != 0 {
		t.Fatalf("old interval still indexed: %+v", got)
	}

	if err := m.ReplaceEvent(ctx, event("ghost", "u1", 0, time.Hour), base); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	l := &models.InvitationList{RecipientKey: "5550100", Invitations: []models.InvitationRecord{{EventID: "e1"}}}
	if err := m.PutInvitations(ctx, l); err != nil {
		t.Fatal(err)
	}
	got, _ := m.GetInvitations(ctx, "5550100")
	got.Invitations[0].Title = "mutated"
	again, _ := m.GetInvitations(ctx, "5550100")
	if again.Invitations[0].Title != "" {
		t.Fatal("store shares memory with callers")
	}

	if err := m.DeleteInvitations(ctx, "5550100"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.GetInvitations(ctx, "5550100"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestZeroLengthEventIsIndexed(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	point := event("deadline", "u1", time.Hour, 0)
	if err := m.CreateEvent(ctx, point); err != nil {
		t.Fatal(err)
	}
	got, err := m.QueryEvents(ctx, "u1", base, base.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "deadline" {
		t.Fatalf("got %+v", got)
	}

	moved := point.Clone()
	moved.StartTime = base.Add(3 * time.Hour)
	moved.EndTime = moved.StartTime
	moved.LastModified = base.Add(time.Minute)
	if err := m.ReplaceEvent(ctx, moved, point.LastModified); err != nil {
		t.Fatal(err)
	}
	if got, _ := m.QueryEvents(ctx, "u1", base, base.Add(2*time.Hour)); len(got) != 0 {
		t.Fatalf("stale index entry: %+v", got)
	}
	if got, _ := m.QueryEvents(ctx, "u1", base.Add(3*time.Hour), base.Add(4*time.Hour)); len(got) != 1 {
		t.Fatalf("moved event not found: %+v", got)
	}
}
