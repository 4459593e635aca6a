package icloud

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"calshare/internal/apperr"
	"calshare/internal/local"

	"github.com/emersion/go-webdav/caldav"
)

func newTestClient(t *testing.T, endpoint string) *CalDAVClient {
	t.Helper()
	c, err := NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), endpoint, "user", "secret", "Home")
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestICalRoundTrip(t *testing.T) {
	c := newTestClient(t, "")
	stamp := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	c.clock = func() time.Time { return stamp }

	start := time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)
	f := local.Fields{
		Title:     "Standup",
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
		Location:  "Room 4",
		Notes:     "bring notes",
	}
	obj := caldav.CalendarObject{Path: "/cal/home/abc.ics", Data: c.toICal("abc", f)}

	got, err := fromObject(obj, "/cal/home/")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Fields.Equal(f) {
		t.Fatalf("fields changed: %+v", got.Fields)
	}
	if got.Ref != obj.Path || !got.LastModified.Equal(stamp) {
		t.Fatalf("unexpected ref/modified: %+v", got)
	}
}

func TestFromObjectRejectsEmpty(t *testing.T) {
	if _, err := fromObject(caldav.CalendarObject{Path: "/x.ics"}, "/"); err == nil {
		t.Fatal("expected error for empty object")
	}
}

func TestTransportClassifiesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, p, ok := r.BasicAuth(); !ok || u != "user" || p != "secret" {
			t.Errorf("missing basic auth")
		}
		switch r.URL.Path {
		case "/missing.ics":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	tr := &customTransport{Username: "user", Password: "secret", Transport: http.DefaultTransport}
	client := &http.Client{Transport: tr}

	_, err := client.Get(srv.URL + "/principal/")
	if !errors.Is(classify("test", err), apperr.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	_, err = client.Get(srv.URL + "/missing.ics")
	if !errors.Is(classify("test", err), apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSupportsEvents(t *testing.T) {
	if !supportsEvents(caldav.Calendar{}) {
		t.Error("calendar without component set should be accepted")
	}
	if supportsEvents(caldav.Calendar{SupportedComponentSet: []string{"VTODO"}}) {
		t.Error("task list accepted as event calendar")
	}
}
