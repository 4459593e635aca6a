// Package eventstore is the single entry point for creating, editing and
// deleting events. Every write goes to the device calendar first and then to
// the remote store, and triggers the matching invitation side effects.
package eventstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"calshare/internal/apperr"
	"calshare/internal/keylock"
	"calshare/internal/local"
	"calshare/internal/models"
	"calshare/internal/recipient"
	"calshare/internal/remote"

	"github.com/google/uuid"
)

// Inviter receives the invitation side effects of event writes.
type Inviter interface {
	FanOut(ctx context.Context, e *models.Event) error
	PropagateUpdate(ctx context.Context, e *models.Event) error
	Retract(ctx context.Context, eventID string, attendees []models.Attendee) error
}

// Cache is the offline cache surface the store uses: the pending queue for
// remote writes that failed, and the snapshots for read fallback.
type Cache interface {
	Enqueue(e *models.Event) error
	Pending() ([]*models.Event, error)
	Dequeue(id string) (bool, error)
	Events(w models.Window) ([]*models.Event, time.Time, error)
}

// Result is a completed write plus any secondary failures it tolerated.
type Result struct {
	Event    *models.Event
	Warnings []error
}

func (r *Result) warn(err error) {
	r.Warnings = append(r.Warnings, err)
}

// Listing is the answer to List.
type Listing struct {
	Events    []*models.Event
	FromCache bool
	CachedAt  time.Time
}

// Store implements event CRUD over a local provider and the remote store.
type Store struct {
	logger  *slog.Logger
	local   local.Provider
	remote  remote.Events
	inviter Inviter
	cache   Cache
	clock   func() time.Time
	locks   *keylock.Locker
}

// New creates a Store. cache may be nil, in which case failed remote writes
// are only reported and List has no fallback.
func New(logger *slog.Logger, provider local.Provider, events remote.Events, inviter Inviter, cache Cache, clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		logger:  logger,
		local:   provider,
		remote:  events,
		inviter: inviter,
		cache:   cache,
		clock:   clock,
		locks:   keylock.New(),
	}
}

// Save validates d, writes it to the device calendar and then to the remote
// store. A remote failure keeps the local entry and queues the event for the
// next sync.
func (s *Store) Save(ctx context.Context, sess models.Session, d Details) (*Result, error) {
	const op = "eventstore.Save"
	if sess.UserID == "" {
		return nil, apperr.Validation(op, "session has no user id")
	}

	now := models.Stamp(s.clock())
	e := &models.Event{
		ID:            uuid.NewString(),
		OwnerID:       sess.UserID,
		OrganizerName: sess.DisplayName,
		Title:         strings.TrimSpace(d.Title),
		StartTime:     models.Stamp(d.StartTime),
		EndTime:       models.Stamp(d.EndTime),
		Location:      d.Location,
		Notes:         d.Notes,
		Attendees:     normalizeAttendees(d.Attendees),
		CreatedAt:     now,
		LastModified:  now,
	}
	if err := validate(op, e); err != nil {
		return nil, err
	}

	ref, err := s.createLocal(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("failed to save event to device calendar: %w", err)
	}
	e.LocalRef = ref

	res := &Result{Event: e}
	if err := s.remote.CreateEvent(ctx, e); err != nil {
		s.logger.Warn("Remote save failed, queueing event.", "eventID", e.ID, "error", err)
		res.warn(fmt.Errorf("event saved on this device only, will retry on next sync: %w", err))
		if err := s.enqueue(e); err != nil {
			res.warn(err)
		}
	}
	if err := s.inviter.FanOut(ctx, e); err != nil {
		res.warn(fmt.Errorf("failed to send some invitations: %w", err))
	}

	s.logger.Info("Event saved.", "eventID", e.ID, "title", e.Title, "localRef", ref, "warnings", len(res.Warnings))
	return res, nil
}

// Update applies p to event id. The remote write is a compare-and-swap on
// the lastModified read at the start; a concurrent writer yields ErrConflict.
func (s *Store) Update(ctx context.Context, sess models.Session, id string, p Patch) (*Result, error) {
	const op = "eventstore.Update"
	unlock := s.locks.Lock(id)
	defer unlock()

	cur, pending, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if sess.UserID != "" && cur.OwnerID != sess.UserID {
		return nil, apperr.PermissionDenied(op, fmt.Errorf("event %q belongs to another user", id))
	}

	next := merge(cur, p)
	if err := validate(op, next); err != nil {
		return nil, err
	}
	next.LastModified = s.bump(cur.LastModified)

	res := &Result{Event: next}
	if err := s.writeLocal(ctx, next, res); err != nil {
		return nil, fmt.Errorf("failed to update device calendar: %w", err)
	}

	if pending {
		if err := s.enqueue(next); err != nil {
			return nil, err
		}
		res.warn(fmt.Errorf("event %q is not in the remote store yet, update queued for next sync", id))
	} else if err := s.remote.ReplaceEvent(ctx, next, cur.LastModified); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			s.revertLocal(ctx, cur, next)
		}
		return nil, fmt.Errorf("failed to update remote event: %w", err)
	}

	if err := s.inviter.PropagateUpdate(ctx, next); err != nil {
		res.warn(fmt.Errorf("failed to update some invitations: %w", err))
	}
	if removed := removedAttendees(cur.Attendees, next.Attendees); len(removed) > 0 {
		if err := s.inviter.Retract(ctx, id, removed); err != nil {
			res.warn(fmt.Errorf("failed to withdraw some invitations: %w", err))
		}
	}

	s.logger.Info("Event updated.", "eventID", id, "warnings", len(res.Warnings))
	return res, nil
}

// Delete removes event id everywhere. The device entry is deleted best
// effort; only the remote delete is fatal.
func (s *Store) Delete(ctx context.Context, sess models.Session, id string) (*Result, error) {
	const op = "eventstore.Delete"
	unlock := s.locks.Lock(id)
	defer unlock()

	cur, pending, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if sess.UserID != "" && cur.OwnerID != sess.UserID {
		return nil, apperr.PermissionDenied(op, fmt.Errorf("event %q belongs to another user", id))
	}

	res := &Result{Event: cur}
	if cur.LocalRef != "" {
		if err := s.local.DeleteEvent(ctx, cur.LocalRef); err != nil {
			s.logger.Warn("Failed to delete device calendar entry.", "eventID", id, "localRef", cur.LocalRef, "error", err)
			if !errors.Is(err, apperr.ErrNotFound) {
				res.warn(fmt.Errorf("failed to delete device calendar entry: %w", err))
			}
		}
	}

	if !pending {
		if err := s.remote.DeleteEvent(ctx, id); err != nil {
			return nil, fmt.Errorf("failed to delete remote event: %w", err)
		}
	}
	if s.cache != nil {
		if _, err := s.cache.Dequeue(id); err != nil {
			res.warn(fmt.Errorf("failed to clear pending entry: %w", err))
		}
	}

	if err := s.inviter.Retract(ctx, id, cur.Attendees); err != nil {
		res.warn(fmt.Errorf("failed to withdraw some invitations: %w", err))
	}

	s.logger.Info("Event deleted.", "eventID", id, "warnings", len(res.Warnings))
	return res, nil
}

// Get returns event id from the remote store, or from the pending queue if
// it has not reached the remote store yet.
func (s *Store) Get(ctx context.Context, id string) (*models.Event, error) {
	e, _, err := s.load(ctx, "eventstore.Get", id)
	return e, err
}

// List returns the session user's events in w. When the remote store cannot
// be reached it falls back to the offline cache and marks the result.
func (s *Store) List(ctx context.Context, sess models.Session, w models.Window) (*Listing, error) {
	events, err := s.remote.QueryEvents(ctx, sess.UserID, w.Start, w.End)
	if err == nil {
		return &Listing{Events: s.withPending(sess.UserID, w, events)}, nil
	}
	if s.cache == nil || !(errors.Is(err, apperr.ErrTransport) || errors.Is(err, apperr.ErrPermissionDenied)) {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	s.logger.Warn("Remote store unavailable, reading offline cache.", "error", err)
	cached, savedAt, cerr := s.cache.Events(w)
	if cerr != nil {
		return nil, errors.Join(fmt.Errorf("failed to list events: %w", err), fmt.Errorf("failed to read offline cache: %w", cerr))
	}
	var own []*models.Event
	for _, e := range cached {
		if e.OwnerID == sess.UserID {
			own = append(own, e)
		}
	}
	return &Listing{Events: s.withPending(sess.UserID, w, own), FromCache: true, CachedAt: savedAt}, nil
}

// load reads id remotely and falls back to the pending queue on NotFound.
// pending reports that the event exists only in the queue.
func (s *Store) load(ctx context.Context, op, id string) (*models.Event, bool, error) {
	e, err := s.remote.GetEvent(ctx, id)
	if err == nil {
		return e, false, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to load event: %w", err)
	}
	if q := s.pending(id); q != nil {
		return q, true, nil
	}
	return nil, false, apperr.NotFound(op, "event", id)
}

func (s *Store) pending(id string) *models.Event {
	if s.cache == nil {
		return nil
	}
	q, err := s.cache.Pending()
	if err != nil {
		s.logger.Warn("Failed to read pending queue.", "error", err)
		return nil
	}
	for _, e := range q {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (s *Store) withPending(owner string, w models.Window, events []*models.Event) []*models.Event {
	if s.cache == nil {
		return events
	}
	q, err := s.cache.Pending()
	if err != nil || len(q) == 0 {
		return events
	}
	seen := make(map[string]bool, len(events))
	for _, e := range events {
		seen[e.ID] = true
	}
	for _, e := range q {
		if e.OwnerID == owner && !seen[e.ID] && e.Overlaps(w.Start, w.End) {
			events = append(events, e)
		}
	}
	return events
}

func (s *Store) enqueue(e *models.Event) error {
	if s.cache == nil {
		return errors.New("no offline cache configured, event will not be retried")
	}
	if err := s.cache.Enqueue(e); err != nil {
		return fmt.Errorf("failed to queue event for next sync: %w", err)
	}
	return nil
}

func (s *Store) createLocal(ctx context.Context, e *models.Event) (string, error) {
	cals, err := s.local.ListCalendars(ctx)
	if err != nil {
		return "", err
	}
	cal, ok := local.DefaultCalendar(cals)
	if !ok {
		return "", apperr.NotFound("eventstore.createLocal", "writable calendar", "default")
	}
	return s.local.CreateEvent(ctx, cal.ID, local.FieldsOf(e))
}

// writeLocal pushes e's fields to its device entry, recreating the entry
// when it has gone missing. A new ref is stored on e and reported as a warning.
func (s *Store) writeLocal(ctx context.Context, e *models.Event, res *Result) error {
	if e.LocalRef != "" {
		err := s.local.UpdateEvent(ctx, e.LocalRef, local.FieldsOf(e))
		if err == nil {
			return nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		s.logger.Info("Device calendar entry missing, recreating.", "eventID", e.ID, "localRef", e.LocalRef)
	}
	ref, err := s.createLocal(ctx, e)
	if err != nil {
		return err
	}
	res.warn(fmt.Errorf("device calendar entry for %q was recreated as %q", e.ID, ref))
	e.LocalRef = ref
	return nil
}

// revertLocal undoes the device write of a losing update so the next sync
// pass finds the device entry equal to the remote winner. A recreated entry
// is removed since the winner does not reference it.
func (s *Store) revertLocal(ctx context.Context, cur, next *models.Event) {
	if next.LocalRef != cur.LocalRef {
		if err := s.local.DeleteEvent(ctx, next.LocalRef); err != nil {
			s.logger.Warn("Failed to remove recreated device entry after conflict.", "eventID", next.ID, "localRef", next.LocalRef, "error", err)
		}
		return
	}
	winner, err := s.remote.GetEvent(ctx, next.ID)
	if err != nil {
		s.logger.Warn("Failed to read conflicting remote event.", "eventID", next.ID, "error", err)
		return
	}
	if err := s.local.UpdateEvent(ctx, next.LocalRef, local.FieldsOf(winner)); err != nil {
		s.logger.Warn("Failed to restore device entry after conflict.", "eventID", next.ID, "localRef", next.LocalRef, "error", err)
		return
	}
	s.logger.Info("Device entry restored to the remote version after conflict.", "eventID", next.ID)
}

// bump returns a fresh lastModified that is strictly after prev.
func (s *Store) bump(prev time.Time) time.Time {
	now := models.Stamp(s.clock())
	if !now.After(prev) {
		now = prev.Add(time.Millisecond)
	}
	return now
}

// removedAttendees returns the attendees of before whose phone key is absent from after.
func removedAttendees(before, after []models.Attendee) []models.Attendee {
	keep := make(map[string]bool, len(after))
	for _, a := range after {
		if k := recipient.Phone(a.PhoneNumber); k != "" {
			keep[k] = true
		}
	}
	var out []models.Attendee
	for _, a := range before {
		if k := recipient.Phone(a.PhoneNumber); k != "" && !keep[k] {
			out = append(out, a)
		}
	}
	return out
}
