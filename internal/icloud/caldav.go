package icloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"calshare/internal/apperr"
	"calshare/internal/local"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
)

const (
	// DefaultEndpoint is the iCloud CalDAV root.
	DefaultEndpoint = "https://caldav.icloud.com/"
)

var (
	errUnauthorized = errors.New("caldav: unauthorized")
	errGone         = errors.New("caldav: resource not found")
)

// customTransport handles adding Basic Auth and custom headers to requests,
// and turns auth and not-found statuses into errors the client can classify.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "calshare/1.0")

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		resp.Body.Close()
		return nil, errUnauthorized
	case http.StatusNotFound, http.StatusGone:
		resp.Body.Close()
		return nil, errGone
	}
	return resp, nil
}

// CalDAVClient is a device calendar backed by a CalDAV server (iCloud by default).
type CalDAVClient struct {
	caldavClient *caldav.Client
	webdavClient *webdav.Client
	logger       *slog.Logger
	endpoint     string
	primaryName  string
	clock        func() time.Time
}

// NewClient creates a CalDAVClient. Discovery happens lazily in ListCalendars,
// so construction never touches the network. primaryName marks the calendar
// used for new events.
func NewClient(logger *slog.Logger, endpoint, username, password, primaryName string) (*CalDAVClient, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	transport := &customTransport{
		Username:  username,
		Password:  password,
		Transport: http.DefaultTransport,
	}
	httpClient := &http.Client{Transport: transport}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	webdavClient, err := webdav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}

	return &CalDAVClient{
		caldavClient: caldavClient,
		webdavClient: webdavClient,
		logger:       logger,
		endpoint:     endpoint,
		primaryName:  primaryName,
		clock:        time.Now,
	}, nil
}

var _ local.Provider = (*CalDAVClient)(nil)

// RequestPermission probes the principal; a 401/403 means the app-specific password was revoked.
func (c *CalDAVClient) RequestPermission(ctx context.Context) (local.Permission, error) {
	if _, err := c.caldavClient.FindCurrentUserPrincipal(ctx); err != nil {
		if errors.Is(err, errUnauthorized) {
			return local.Denied, nil
		}
		return local.Denied, classify("caldav.RequestPermission", err)
	}
	return local.Granted, nil
}

// ListCalendars discovers the user's event calendars.
func (c *CalDAVClient) ListCalendars(ctx context.Context) ([]local.Calendar, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, classify("caldav.ListCalendars", fmt.Errorf("failed to find principal path: %w", err))
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return nil, classify("caldav.ListCalendars", fmt.Errorf("failed to find calendar home set: %w", err))
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return nil, classify("caldav.ListCalendars", fmt.Errorf("failed to find calendars: %w", err))
	}

	var out []local.Calendar
	for _, cal := range calendars {
		if !supportsEvents(cal) {
			continue
		}
		out = append(out, local.Calendar{
			ID:         cal.Path,
			Name:       cal.Name,
			IsPrimary:  cal.Name == c.primaryName,
			IsWritable: true,
		})
	}
	c.logger.Debug("Discovered CalDAV calendars", "count", len(out))
	return out, nil
}

// ListEvents runs a calendar-query REPORT with a VEVENT time-range filter on every calendar.
func (c *CalDAVClient) ListEvents(ctx context.Context, calendarIDs []string, start, end time.Time) ([]local.Event, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{Name: ical.CompEvent, AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name:  ical.CompCalendar,
			Comps: []caldav.CompFilter{{Name: ical.CompEvent, Start: start, End: end}},
		},
	}

	var out []local.Event
	for _, calPath := range calendarIDs {
		objects, err := c.caldavClient.QueryCalendar(ctx, calPath, query)
		if err != nil {
			return nil, classify("caldav.ListEvents", fmt.Errorf("failed to query calendar %s: %w", calPath, err))
		}
		for _, obj := range objects {
			ev, err := fromObject(obj, calPath)
			if err != nil {
				c.logger.Warn("Skipping unreadable calendar object", "path", obj.Path, "error", err)
				continue
			}
			out = append(out, ev)
		}
	}
	return out, nil
}

// CreateEvent writes a new VEVENT object and returns its path as the local ref.
func (c *CalDAVClient) CreateEvent(ctx context.Context, calendarID string, f local.Fields) (string, error) {
	uid := GenerateUID()
	eventPath := path.Join(calendarID, uid+".ics")
	if _, err := c.caldavClient.PutCalendarObject(ctx, eventPath, c.toICal(uid, f)); err != nil {
		return "", classify("caldav.CreateEvent", fmt.Errorf("failed to create event on CalDAV server: %w", err))
	}
	c.logger.Debug("Created CalDAV event", "path", eventPath, "title", f.Title)
	return eventPath, nil
}

// UpdateEvent rewrites the object at ref, keeping its UID.
func (c *CalDAVClient) UpdateEvent(ctx context.Context, ref string, f local.Fields) error {
	obj, err := c.caldavClient.GetCalendarObject(ctx, ref)
	if err != nil {
		return classify("caldav.UpdateEvent", fmt.Errorf("failed to load %s: %w", ref, err))
	}
	uid := ""
	if events := obj.Data.Events(); len(events) > 0 {
		uid, _ = events[0].Props.Text(ical.PropUID)
	}
	if uid == "" {
		uid = strings.TrimSuffix(path.Base(ref), ".ics")
	}
	if _, err := c.caldavClient.PutCalendarObject(ctx, ref, c.toICal(uid, f)); err != nil {
		return classify("caldav.UpdateEvent", fmt.Errorf("failed to update %s: %w", ref, err))
	}
	return nil
}

// DeleteEvent removes the object at ref.
func (c *CalDAVClient) DeleteEvent(ctx context.Context, ref string) error {
	if err := c.webdavClient.RemoveAll(ctx, ref); err != nil {
		return classify("caldav.DeleteEvent", fmt.Errorf("failed to delete %s: %w", ref, err))
	}
	return nil
}

// toICal converts device fields to a VCALENDAR holding one VEVENT.
func (c *CalDAVClient) toICal(uid string, f local.Fields) *ical.Calendar {
	now := c.clock().UTC()
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, f.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, now)
	ve.Props.SetDateTime(ical.PropLastModified, now)
	ve.Props.SetDateTime(ical.PropDateTimeStart, f.StartTime.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, f.EndTime.UTC())

	if f.Notes != "" {
		ve.Props.SetText(ical.PropDescription, f.Notes)
	}
	if f.Location != "" {
		ve.Props.SetText(ical.PropLocation, f.Location)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//calshare//EN")
	cal.Children = append(cal.Children, ve)
	return cal
}

// fromObject reads the first VEVENT of a calendar object.
func fromObject(obj caldav.CalendarObject, calPath string) (local.Event, error) {
	if obj.Data == nil {
		return local.Event{}, errors.New("empty calendar data")
	}
	events := obj.Data.Events()
	if len(events) == 0 {
		return local.Event{}, errors.New("no VEVENT component")
	}
	ve := events[0]

	start, err := ve.DateTimeStart(time.UTC)
	if err != nil {
		return local.Event{}, fmt.Errorf("bad DTSTART: %w", err)
	}
	end, err := ve.DateTimeEnd(time.UTC)
	if err != nil {
		return local.Event{}, fmt.Errorf("bad DTEND: %w", err)
	}
	summary, _ := ve.Props.Text(ical.PropSummary)
	location, _ := ve.Props.Text(ical.PropLocation)
	notes, _ := ve.Props.Text(ical.PropDescription)

	modified := obj.ModTime
	if p := ve.Props.Get(ical.PropLastModified); p != nil {
		if t, err := p.DateTime(time.UTC); err == nil {
			modified = t
		}
	}

	return local.Event{
		Ref:          obj.Path,
		CalendarID:   calPath,
		LastModified: modified.UTC(),
		Fields: local.Fields{
			Title:     summary,
			StartTime: start,
			EndTime:   end,
			Location:  location,
			Notes:     notes,
		},
	}, nil
}

func supportsEvents(cal caldav.Calendar) bool {
	if len(cal.SupportedComponentSet) == 0 {
		return true
	}
	for _, comp := range cal.SupportedComponentSet {
		if comp == ical.CompEvent {
			return true
		}
	}
	return false
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, errUnauthorized):
		return apperr.PermissionDenied(op, err)
	case errors.Is(err, errGone):
		return &apperr.Error{Kind: apperr.ErrNotFound, Op: op, Err: err}
	default:
		return apperr.Transport(op, err)
	}
}

// GenerateUID creates a new unique identifier for an event.
func GenerateUID() string {
	return uuid.New().String()
}
