package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"calshare/internal/apperr"
	"calshare/internal/local"
	"calshare/internal/models"
	"calshare/internal/offline"
	"calshare/internal/remote"
)

var (
	t0   = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	sess = models.Session{UserID: "u-olga", DisplayName: "Olga"}
	win  = models.Window{Start: t0.Add(-24 * time.Hour), End: t0.Add(30 * 24 * time.Hour)}
)

type fixture struct {
	now    time.Time
	device *local.Memory
	remote *remote.Memory
	cache  *offline.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: t0, remote: remote.NewMemory()}
	f.device = local.NewMemory(func() time.Time { return f.now })
	cache, err := offline.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	f.cache = cache
	return f
}

func (f *fixture) syncer(provider local.Provider, events remote.Events, opts Options) *Syncer {
	if provider == nil {
		provider = f.device
	}
	if events == nil {
		events = f.remote
	}
	if opts.Cache == nil {
		opts.Cache = f.cache
	}
	opts.Clock = func() time.Time { return f.now }
	return NewSyncer(slog.New(slog.NewTextHandler(io.Discard, nil)), provider, events, opts)
}

// localEntry creates a device entry last touched at lm.
func (f *fixture) localEntry(t *testing.T, title string, lm time.Time) string {
	t.Helper()
	saved := f.now
	f.now = lm
	defer func() { f.now = saved }()
	start := t0.Add(24 * time.Hour)
	ref, err := f.device.CreateEvent(context.Background(), "primary", local.Fields{Title: title, StartTime: start, EndTime: start.Add(time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	return ref
}

func (f *fixture) remoteEvent(t *testing.T, id, title, ref string, lm time.Time) *models.Event {
	t.Helper()
	start := t0.Add(24 * time.Hour)
	e := &models.Event{
		ID: id, OwnerID: sess.UserID, Title: title, LocalRef: ref,
		StartTime: start, EndTime: start.Add(time.Hour),
		CreatedAt: lm, LastModified: lm,
	}
	if err := f.remote.CreateEvent(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	return e
}

func TestDefaultTiePolicyIsLocalWins(t *testing.T) {
	if DefaultTiePolicy != LocalWinsTies {
		t.Fatal("default tie policy must be local wins")
	}
	if p, _ := ParseTiePolicy(""); p != LocalWinsTies {
		t.Fatal("empty policy must parse to local wins")
	}
	if _, err := ParseTiePolicy("coin"); err == nil {
		t.Fatal("expected error")
	}
}

func TestConflictResolution(t *testing.T) {
	t1 := t0.Add(-2 * time.Hour)
	t2 := t0.Add(-time.Hour)

	tests := []struct {
		name        string
		localLM     time.Time
		remoteLM    time.Time
		ties        TiePolicy
		wantLocal   string
		wantRemote  string
		wantUpdated int
	}{
		{"remote newer", t1, t2, LocalWinsTies, "remote", "remote", 1},
		{"local newer", t2, t1, LocalWinsTies, "local", "local", 1},
		{"tie local wins", t2, t2, LocalWinsTies, "local", "remote", 0},
		{"tie remote wins", t2, t2, RemoteWinsTies, "remote", "remote", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			ref := f.localEntry(t, "local", tt.localLM)
			f.remoteEvent(t, "ev-1", "remote", ref, tt.remoteLM)

			report := f.syncer(nil, nil, Options{Ties: tt.ties}).Run(ctx, sess, win)

			if len(report.Errors) != 0 {
				t.Fatalf("errors: %v", report.Errors)
			}
			if report.Updated != tt.wantUpdated || report.Added != 0 {
				t.Fatalf("added=%d updated=%d", report.Added, report.Updated)
			}
			entry, _ := f.device.Get(ref)
			if entry.Title != tt.wantLocal {
				t.Fatalf("local title = %q, want %q", entry.Title, tt.wantLocal)
			}
			stored, _ := f.remote.GetEvent(ctx, "ev-1")
			if stored.Title != tt.wantRemote {
				t.Fatalf("remote title = %q, want %q", stored.Title, tt.wantRemote)
			}

			// A second pass has nothing left to do.
			again := f.syncer(nil, nil, Options{Ties: tt.ties}).Run(ctx, sess, win)
			if again.Added != 0 || again.Updated != 0 || len(again.Errors) != 0 {
				t.Fatalf("second pass not idle: %+v", again)
			}
		})
	}
}

func TestLocalNewerPushCarriesTimestamp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	localLM := t0.Add(-time.Minute)
	ref := f.localEntry(t, "Edited on phone", localLM)
	f.remoteEvent(t, "ev-1", "Original", ref, t0.Add(-time.Hour))

	f.syncer(nil, nil, Options{}).Run(ctx, sess, win)

	stored, _ := f.remote.GetEvent(ctx, "ev-1")
	if !stored.LastModified.Equal(localLM) || stored.LocalRef != ref {
		t.Fatalf("stored = %+v", stored)
	}
}

type failingCreate struct {
	local.Provider
	title string
}

func (p failingCreate) CreateEvent(ctx context.Context, calendarID string, f local.Fields) (string, error) {
	if f.Title == p.title {
		return "", apperr.Transport("local.CreateEvent", errors.New("device busy"))
	}
	return p.Provider.CreateEvent(ctx, calendarID, f)
}

func TestPartialFailureIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lm := t0.Add(-time.Hour)
	f.remoteEvent(t, "a", "Alpha", "", lm)
	f.remoteEvent(t, "b", "Broken", "", lm)
	f.remoteEvent(t, "c", "Gamma", "", lm)

	report := f.syncer(failingCreate{Provider: f.device, title: "Broken"}, nil, Options{}).Run(ctx, sess, win)

	if report.Added != 2 || len(report.Errors) != 1 {
		t.Fatalf("added=%d errors=%v", report.Added, report.Errors)
	}
	if report.Errors[0].EventID != "b" || report.Errors[0].Stage != StageRemoteOnly {
		t.Fatalf("error = %+v", report.Errors[0])
	}
	for _, id := range []string{"a", "c"} {
		e, _ := f.remote.GetEvent(ctx, id)
		if _, ok := f.device.Get(e.LocalRef); !ok {
			t.Fatalf("%s has no device entry", id)
		}
	}
	if f.device.Len() != 2 {
		t.Fatalf("device has %d entries", f.device.Len())
	}
}

type failingReplace struct {
	remote.Events
}

func (failingReplace) ReplaceEvent(ctx context.Context, e *models.Event, ifLastModified time.Time) error {
	return apperr.Transport("remote.ReplaceEvent", errors.New("timeout"))
}

func TestRefWriteBackFailureRemovesDeviceEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remoteEvent(t, "a", "Alpha", "", t0.Add(-time.Hour))

	report := f.syncer(nil, failingReplace{f.remote}, Options{}).Run(ctx, sess, win)

	if report.Added != 0 || len(report.Errors) != 1 {
		t.Fatalf("report = %+v", report)
	}
	if f.device.Len() != 0 {
		t.Fatal("orphaned device entry left behind")
	}
}

func TestLocalOnlyCreatesRemote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lm := t0.Add(-time.Hour)
	ref := f.localEntry(t, "Dentist", lm)

	report := f.syncer(nil, nil, Options{}).Run(ctx, sess, win)
	if report.Added != 1 || len(report.Errors) != 0 {
		t.Fatalf("report = %+v", report)
	}
	got, _ := f.remote.QueryEvents(ctx, sess.UserID, win.Start, win.End)
	if len(got) != 1 || got[0].LocalRef != ref || got[0].Title != "Dentist" || !got[0].LastModified.Equal(lm) {
		t.Fatalf("remote = %+v", got)
	}
	if got[0].OwnerID != sess.UserID || got[0].OrganizerName != "Olga" {
		t.Fatalf("owner not set: %+v", got[0])
	}

	again := f.syncer(nil, nil, Options{}).Run(ctx, sess, win)
	if again.Added != 0 || again.Updated != 0 {
		t.Fatalf("second pass duplicated: %+v", again)
	}
}

func TestPermissionDeniedEndsPass(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remoteEvent(t, "a", "Alpha", "", t0)
	f.device.SetPermission(local.Denied)

	report := f.syncer(nil, nil, Options{}).Run(ctx, sess, win)

	if report.Added != 0 || report.Updated != 0 || len(report.Errors) != 1 {
		t.Fatalf("report = %+v", report)
	}
	if report.Errors[0].Stage != StagePermission {
		t.Fatalf("stage = %s", report.Errors[0].Stage)
	}
	if _, err := f.cache.LastReport(); err == nil {
		t.Fatal("aborted pass overwrote the last good state")
	}
}

func TestPendingQueueDrained(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lm := t0.Add(-time.Hour)
	ref := f.localEntry(t, "Offline save", lm)
	start := t0.Add(24 * time.Hour)
	queued := &models.Event{
		ID: "ev-q", OwnerID: sess.UserID, Title: "Offline save", LocalRef: ref,
		StartTime: start, EndTime: start.Add(time.Hour), CreatedAt: lm, LastModified: lm,
	}
	if err := f.cache.Enqueue(queued); err != nil {
		t.Fatal(err)
	}

	report := f.syncer(nil, nil, Options{}).Run(ctx, sess, win)

	if report.Added != 1 || report.Updated != 0 || len(report.Errors) != 0 {
		t.Fatalf("report = %+v", report)
	}
	if _, err := f.remote.GetEvent(ctx, "ev-q"); err != nil {
		t.Fatal(err)
	}
	if q, _ := f.cache.Pending(); len(q) != 0 {
		t.Fatalf("queue = %+v", q)
	}
	if got, _ := f.remote.QueryEvents(ctx, sess.UserID, win.Start, win.End); len(got) != 1 {
		t.Fatalf("queued event duplicated: %d remote events", len(got))
	}
}

type rejectCreate struct {
	remote.Events
	id string
}

func (r rejectCreate) CreateEvent(ctx context.Context, e *models.Event) error {
	if e.ID == r.id {
		return apperr.Validation("remote.CreateEvent", "rejected %q", e.ID)
	}
	return r.Events.CreateEvent(ctx, e)
}

func TestFailedQueuedUploadIsNotPushedAgain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lm := t0.Add(-time.Hour)
	ref := f.localEntry(t, "Offline save", lm)
	start := t0.Add(24 * time.Hour)
	queued := &models.Event{
		ID: "ev-q", OwnerID: sess.UserID, Title: "Offline save", LocalRef: ref,
		StartTime: start, EndTime: start.Add(time.Hour), CreatedAt: lm, LastModified: lm,
	}
	if err := f.cache.Enqueue(queued); err != nil {
		t.Fatal(err)
	}

	report := f.syncer(nil, rejectCreate{Events: f.remote, id: "ev-q"}, Options{}).Run(ctx, sess, win)
	if report.Added != 0 || len(report.Errors) != 1 || report.Errors[0].Stage != StagePending {
		t.Fatalf("report = %+v", report)
	}
	if got, _ := f.remote.QueryEvents(ctx, sess.UserID, win.Start, win.End); len(got) != 0 {
		t.Fatalf("device entry pushed while still queued: %d remote events", len(got))
	}

	report = f.syncer(nil, nil, Options{}).Run(ctx, sess, win)
	if report.Added != 1 || len(report.Errors) != 0 {
		t.Fatalf("report = %+v", report)
	}
	got, _ := f.remote.QueryEvents(ctx, sess.UserID, win.Start, win.End)
	if len(got) != 1 || got[0].ID != "ev-q" {
		t.Fatalf("remote = %+v", got)
	}
}

func TestPassWritesCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remoteEvent(t, "a", "Alpha", "", t0.Add(-time.Hour))
	f.localEntry(t, "Beta", t0.Add(-time.Hour))

	report := f.syncer(nil, nil, Options{}).Run(ctx, sess, win)

	last, err := f.cache.LastReport()
	if err != nil || last.Added != report.Added || !last.LastSyncTimestamp.Equal(t0) {
		t.Fatalf("last report = %+v, %v", last, err)
	}
	cached, savedAt, err := f.cache.Events(win)
	if err != nil || len(cached) != 2 || !savedAt.Equal(t0) {
		t.Fatalf("cached %d events at %v: %v", len(cached), savedAt, err)
	}
	for _, e := range cached {
		if e.LocalRef == "" {
			t.Fatalf("cached event %s has no localRef", e.Title)
		}
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.remoteEvent(t, "a", "Alpha", "", t0.Add(-time.Hour))
	f.localEntry(t, "Beta", t0.Add(-time.Hour))

	report := f.syncer(nil, nil, Options{DryRun: true}).Run(ctx, sess, win)

	if report.Added != 2 {
		t.Fatalf("planned added = %d", report.Added)
	}
	if f.device.Len() != 1 {
		t.Fatal("dry run wrote to the device")
	}
	if got, _ := f.remote.QueryEvents(ctx, sess.UserID, win.Start, win.End); len(got) != 1 {
		t.Fatal("dry run wrote to the remote store")
	}
	if _, err := f.cache.LastReport(); err == nil {
		t.Fatal("dry run wrote the cache")
	}
}

func TestValidateSchedule(t *testing.T) {
	if err := ValidateSchedule("*/15 * * * *"); err != nil {
		t.Fatal(err)
	}
	if err := ValidateSchedule("every quarter hour"); err == nil {
		t.Fatal("expected error")
	}
}
