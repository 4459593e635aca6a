package invitation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"calshare/internal/apperr"
	"calshare/internal/models"
	"calshare/internal/remote"
)

var now = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

func newRouter(store remote.Invitations) *Router {
	return NewRouter(slog.New(slog.NewTextHandler(io.Discard, nil)), store, func() time.Time { return now })
}

func standup() *models.Event {
	return &models.Event{
		ID:            "ev-1",
		OwnerID:       "u-owner",
		OrganizerName: "Olga",
		Title:         "Standup",
		StartTime:     now,
		EndTime:       now.Add(30 * time.Minute),
		Attendees: []models.Attendee{
			{Name: "Ann", PhoneNumber: "+1 (818) 481-0612"},
			{Name: "Ben", PhoneNumber: "555-0100"},
			{Name: "Cy", Email: "cy@example.com"},
		},
	}
}

func TestFanOutOneRecordPerPhoneAttendee(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemory()
	r := newRouter(store)
	e := standup()

	if err := r.FanOut(ctx, e); err != nil {
		t.Fatal(err)
	}
	// A second fan out must not append duplicates.
	if err := r.FanOut(ctx, e); err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{"8184810612", "5550100"} {
		list, err := store.GetInvitations(ctx, key)
		if err != nil {
			t.Fatalf("%s: %v", key, err)
		}
		if len(list.Invitations) != 1 {
			t.Fatalf("%s has %d invitations", key, len(list.Invitations))
		}
		rec := list.Invitations[0]
		if rec.Status != models.StatusPending || rec.Title != "Standup" || rec.OrganizerName != "Olga" {
			t.Fatalf("unexpected record %+v", rec)
		}
	}
	if _, err := store.GetInvitations(ctx, "cy@example.com"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatal("email-only attendee received an invitation")
	}
}

func TestNormalizedPhonesShareOneContainer(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemory()
	r := newRouter(store)

	for i, phone := range []string{"+1 (818) 481-0612", "818-481-0612", "8184810612"} {
		e := standup()
		e.ID = []string{"a", "b", "c"}[i]
		e.Attendees = []models.Attendee{{PhoneNumber: phone}}
		if err := r.FanOut(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	recs, err := r.List(ctx, "(818) 481 0612")
	if err != nil || len(recs) != 3 {
		t.Fatalf("List = %d records, %v", len(recs), err)
	}
}

func TestPropagateUpdateRefreshesAndAdds(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemory()
	r := newRouter(store)
	e := standup()
	_ = r.FanOut(ctx, e)
	if _, err := r.UpdateStatus(ctx, "5550100", e.ID, models.StatusGoing); err != nil {
		t.Fatal(err)
	}

	now = now.Add(time.Hour)
	defer func() { now = now.Add(-time.Hour) }()

	e.Title = "Standup (moved)"
	e.Attendees = append(e.Attendees, models.Attendee{Name: "Dee", PhoneNumber: "555-0199"})
	if err := r.PropagateUpdate(ctx, e); err != nil {
		t.Fatal(err)
	}

	recs, _ := r.List(ctx, "5550100")
	if len(recs) != 1 || recs[0].Title != "Standup (moved)" || recs[0].Status != models.StatusGoing {
		t.Fatalf("snapshot not refreshed or status lost: %+v", recs)
	}
	if !recs[0].UpdatedAt.Equal(now) {
		t.Fatalf("updatedAt not bumped: %v", recs[0].UpdatedAt)
	}
	added, _ := r.List(ctx, "5550199")
	if len(added) != 1 || added[0].Status != models.StatusPending {
		t.Fatalf("new attendee not invited: %+v", added)
	}
}

func TestRetractDeletesEmptyContainers(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemory()
	r := newRouter(store)

	e := standup()
	other := standup()
	other.ID = "ev-2"
	other.Attendees = other.Attendees[:1]
	_ = r.FanOut(ctx, e)
	_ = r.FanOut(ctx, other)

	if err := r.Retract(ctx, e.ID, e.Attendees); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetInvitations(ctx, "5550100"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("empty container left behind: %v", err)
	}
	recs, _ := r.List(ctx, "8184810612")
	if len(recs) != 1 || recs[0].EventID != "ev-2" {
		t.Fatalf("unrelated invitation removed: %+v", recs)
	}
}

func TestUpdateStatusFreeTransitions(t *testing.T) {
	ctx := context.Background()
	r := newRouter(remote.NewMemory())
	e := standup()
	_ = r.FanOut(ctx, e)

	for _, s := range []models.AttendeeStatus{
		models.StatusNotInterested, models.StatusGoing, models.StatusPending,
		models.StatusInterested, models.StatusNotInterested,
	} {
		rec, err := r.UpdateStatus(ctx, "5550100", e.ID, s)
		if err != nil || rec.Status != s {
			t.Fatalf("transition to %s: %+v, %v", s, rec, err)
		}
	}

	if _, err := r.UpdateStatus(ctx, "5550100", e.ID, "maybe"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := r.UpdateStatus(ctx, "5550100", "missing", models.StatusGoing); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := r.UpdateStatus(ctx, "5559999", e.ID, models.StatusGoing); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type flakyInvitations struct {
	remote.Invitations
	failKey string
}

func (f flakyInvitations) PutInvitations(ctx context.Context, l *models.InvitationList) error {
	if l.RecipientKey == f.failKey {
		return apperr.Transport("test", errors.New("connection reset"))
	}
	return f.Invitations.PutInvitations(ctx, l)
}

func TestFanOutContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemory()
	r := newRouter(flakyInvitations{Invitations: mem, failKey: "8184810612"})

	err := r.FanOut(ctx, standup())
	if !errors.Is(err, apperr.ErrTransport) {
		t.Fatalf("expected joined transport error, got %v", err)
	}
	if _, err := mem.GetInvitations(ctx, "5550100"); err != nil {
		t.Fatalf("second recipient skipped after first failed: %v", err)
	}
}
