package local

import (
	"context"
	"sort"
	"sync"
	"time"

	"calshare/internal/apperr"

	"github.com/google/uuid"
)

// Memory is an in-process device calendar.
type Memory struct {
	mu         sync.Mutex
	clock      func() time.Time
	permission Permission
	calendars  []Calendar
	events     map[string]*Event
}

// NewMemory creates a device calendar with one primary writable calendar named "Calendar".
func NewMemory(clock func() time.Time) *Memory {
	if clock == nil {
		clock = time.Now
	}
	return &Memory{
		clock:      clock,
		permission: Granted,
		calendars:  []Calendar{{ID: "primary", Name: "Calendar", IsPrimary: true, IsWritable: true}},
		events:     make(map[string]*Event),
	}
}

// SetPermission simulates the user granting or revoking calendar access.
func (m *Memory) SetPermission(p Permission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permission = p
}

// AddCalendar registers another device calendar.
func (m *Memory) AddCalendar(c Calendar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calendars = append(m.calendars, c)
}

// Get returns a copy of the entry for ref.
func (m *Memory) Get(ref string) (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[ref]
	if !ok {
		return Event{}, false
	}
	return *e, true
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *Memory) RequestPermission(ctx context.Context) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permission, nil
}

func (m *Memory) ListCalendars(ctx context.Context) ([]Calendar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("local.ListCalendars"); err != nil {
		return nil, err
	}
	return append([]Calendar(nil), m.calendars...), nil
}

func (m *Memory) ListEvents(ctx context.Context, calendarIDs []string, start, end time.Time) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("local.ListEvents"); err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(calendarIDs))
	for _, id := range calendarIDs {
		want[id] = true
	}
	var out []Event
	for _, e := range m.events {
		if !want[e.CalendarID] || e.StartTime.After(end) || e.EndTime.Before(start) {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *Memory) CreateEvent(ctx context.Context, calendarID string, f Fields) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("local.CreateEvent"); err != nil {
		return "", err
	}
	if !m.writable(calendarID) {
		return "", apperr.NotFound("local.CreateEvent", "writable calendar", calendarID)
	}
	ref := uuid.NewString()
	m.events[ref] = &Event{Ref: ref, CalendarID: calendarID, LastModified: m.clock().UTC(), Fields: f}
	return ref, nil
}

func (m *Memory) UpdateEvent(ctx context.Context, ref string, f Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("local.UpdateEvent"); err != nil {
		return err
	}
	e, ok := m.events[ref]
	if !ok {
		return apperr.NotFound("local.UpdateEvent", "local event", ref)
	}
	e.Fields = f
	e.LastModified = m.clock().UTC()
	return nil
}

func (m *Memory) DeleteEvent(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("local.DeleteEvent"); err != nil {
		return err
	}
	if _, ok := m.events[ref]; !ok {
		return apperr.NotFound("local.DeleteEvent", "local event", ref)
	}
	delete(m.events, ref)
	return nil
}

func (m *Memory) check(op string) error {
	if m.permission != Granted {
		return apperr.PermissionDenied(op, nil)
	}
	return nil
}

func (m *Memory) writable(calendarID string) bool {
	for _, c := range m.calendars {
		if c.ID == calendarID {
			return c.IsWritable
		}
	}
	return false
}
