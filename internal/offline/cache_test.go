package offline

import (
	"errors"
	"io/fs"
	"testing"
	"time"

	"calshare/internal/models"
)

func ev(id string, start time.Time) *models.Event {
	return &models.Event{ID: id, Title: id, StartTime: start, EndTime: start.Add(time.Hour)}
}

func TestStoreAndLoadBucket(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	if MonthKey(now) != "2026-10" {
		t.Fatalf("MonthKey = %s", MonthKey(now))
	}

	if err := c.Store("2026-10", []*models.Event{ev("a", now)}, now); err != nil {
		t.Fatal(err)
	}
	snap, err := c.Load("2026-10")
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Events) != 1 || snap.Events[0].ID != "a" || !snap.SavedAt.Equal(now) {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if _, err := c.Load("1999-01"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not exist, got %v", err)
	}
}

func TestEventsAcrossBuckets(t *testing.T) {
	c, _ := New(t.TempDir())
	sep := time.Date(2026, 9, 20, 9, 0, 0, 0, time.UTC)
	oct := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	old := ev("shared", sep)
	old.Title = "stale"
	_ = c.Store("2026-09", []*models.Event{old, ev("sep-only", sep)}, sep)
	_ = c.Store("2026-10", []*models.Event{ev("shared", sep), ev("oct", oct)}, oct)

	got, savedAt, err := c.Events(models.Window{Start: sep.Add(-time.Hour), End: oct.Add(time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events", len(got))
	}
	for _, e := range got {
		if e.ID == "shared" && e.Title == "stale" {
			t.Fatal("older bucket won over newer one")
		}
	}
	if !savedAt.Equal(oct) {
		t.Fatalf("savedAt = %v", savedAt)
	}
}

func TestEventsNewestCopyWinsOutsideWindow(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	sep := time.Date(2026, 9, 20, 9, 0, 0, 0, time.UTC)
	oct := time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)
	_ = c.Store("2026-09", []*models.Event{ev("moved", sep)}, sep)
	_ = c.Store("2026-10", []*models.Event{ev("moved", oct)}, oct)

	got, _, err := c.Events(models.Window{Start: sep.Add(-time.Hour), End: sep.Add(2 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("stale copy returned: %+v", got)
	}
}

func TestPendingQueue(t *testing.T) {
	c, _ := New(t.TempDir())
	now := time.Now()

	if q, err := c.Pending(); err != nil || len(q) != 0 {
		t.Fatalf("fresh queue = %v, %v", q, err)
	}
	_ = c.Enqueue(ev("a", now))
	_ = c.Enqueue(ev("b", now))
	updated := ev("a", now)
	updated.Title = "renamed"
	_ = c.Enqueue(updated)

	q, _ := c.Pending()
	if len(q) != 2 || q[0].Title != "renamed" {
		t.Fatalf("unexpected queue %+v", q)
	}

	if ok, err := c.Dequeue("a"); !ok || err != nil {
		t.Fatalf("Dequeue = %v, %v", ok, err)
	}
	if ok, _ := c.Dequeue("a"); ok {
		t.Fatal("dequeued twice")
	}
	q, _ = c.Pending()
	if len(q) != 1 || q[0].ID != "b" {
		t.Fatalf("unexpected queue %+v", q)
	}
}

func TestReportState(t *testing.T) {
	c, _ := New(t.TempDir())
	if _, err := c.LastReport(); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not exist, got %v", err)
	}
	r := &models.SyncReport{Added: 2, LastSyncTimestamp: time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)}
	if err := c.SaveReport(r); err != nil {
		t.Fatal(err)
	}
	got, err := c.LastReport()
	if err != nil || got.Added != 2 || !got.LastSyncTimestamp.Equal(r.LastSyncTimestamp) {
		t.Fatalf("got %+v, %v", got, err)
	}
}
