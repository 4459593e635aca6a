package local

import (
	"context"
	"time"
)

type timeoutProvider struct {
	next    Provider
	timeout time.Duration
}

// WithTimeout bounds every call to p by d. A non-positive d returns p unchanged.
func WithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		return p
	}
	return &timeoutProvider{next: p, timeout: d}
}

func (t *timeoutProvider) RequestPermission(ctx context.Context) (Permission, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.RequestPermission(ctx)
}

func (t *timeoutProvider) ListCalendars(ctx context.Context) ([]Calendar, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.ListCalendars(ctx)
}

func (t *timeoutProvider) ListEvents(ctx context.Context, calendarIDs []string, start, end time.Time) ([]Event, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.ListEvents(ctx, calendarIDs, start, end)
}

func (t *timeoutProvider) CreateEvent(ctx context.Context, calendarID string, f Fields) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.CreateEvent(ctx, calendarID, f)
}

func (t *timeoutProvider) UpdateEvent(ctx context.Context, ref string, f Fields) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.UpdateEvent(ctx, ref, f)
}

func (t *timeoutProvider) DeleteEvent(ctx context.Context, ref string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.DeleteEvent(ctx, ref)
}
