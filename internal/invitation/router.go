// Package invitation fans events out to per-recipient invitation lists and
// keeps those lists in step with edits and deletions.
package invitation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"calshare/internal/apperr"
	"calshare/internal/keylock"
	"calshare/internal/models"
	"calshare/internal/recipient"
	"calshare/internal/remote"
)

// Router owns the invitation lists in the remote store.
type Router struct {
	store  remote.Invitations
	logger *slog.Logger
	locks  *keylock.Locker
	clock  func() time.Time
}

// NewRouter creates a Router. A nil clock uses time.Now.
func NewRouter(logger *slog.Logger, store remote.Invitations, clock func() time.Time) *Router {
	if clock == nil {
		clock = time.Now
	}
	return &Router{store: store, logger: logger, locks: keylock.New(), clock: clock}
}

// FanOut upserts a pending invitation for every attendee with a phone number.
// Attendees without one have no addressable recipient and are skipped.
// Failures for one recipient do not stop the others; they are joined in the result.
func (r *Router) FanOut(ctx context.Context, e *models.Event) error {
	var errs []error
	for _, key := range r.recipients(e) {
		if err := r.upsert(ctx, key, e, false); err != nil {
			errs = append(errs, fmt.Errorf("fan out to %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// PropagateUpdate refreshes the snapshot of every existing invitation for e
// and fans out to attendees added since the last save.
func (r *Router) PropagateUpdate(ctx context.Context, e *models.Event) error {
	var errs []error
	for _, key := range r.recipients(e) {
		if err := r.upsert(ctx, key, e, true); err != nil {
			errs = append(errs, fmt.Errorf("propagate to %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Retract removes eventID from the list of every attendee with a phone
// number, deleting lists that become empty.
func (r *Router) Retract(ctx context.Context, eventID string, attendees []models.Attendee) error {
	var errs []error
	for _, key := range phoneKeys(attendees) {
		if err := r.remove(ctx, key, eventID); err != nil {
			errs = append(errs, fmt.Errorf("retract from %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// UpdateStatus records a recipient's RSVP. Any status may follow any other.
// Only the invitation record changes; the canonical event is left alone.
func (r *Router) UpdateStatus(ctx context.Context, recipientKey, eventID string, status models.AttendeeStatus) (*models.InvitationRecord, error) {
	const op = "invitation.UpdateStatus"
	if !status.Valid() {
		return nil, apperr.Validation(op, "unknown status %q", status)
	}
	key := recipient.Key(recipientKey)
	if key == "" {
		return nil, apperr.Validation(op, "recipient %q has no usable key", recipientKey)
	}

	unlock := r.locks.Lock(key)
	defer unlock()

	list, err := r.store.GetInvitations(ctx, key)
	if err != nil {
		return nil, err
	}
	i := list.Find(eventID)
	if i < 0 {
		return nil, apperr.NotFound(op, "invitation", key+"/"+eventID)
	}
	list.Invitations[i].Status = status
	list.Invitations[i].UpdatedAt = models.Stamp(r.clock())
	if err := r.store.PutInvitations(ctx, list); err != nil {
		return nil, err
	}
	r.logger.Info("Invitation status updated.", "recipient", key, "eventID", eventID, "status", status)
	rec := list.Invitations[i]
	return &rec, nil
}

// List returns every invitation addressed to a phone number, key or email.
func (r *Router) List(ctx context.Context, who string) ([]models.InvitationRecord, error) {
	key := recipient.Key(who)
	if key == "" {
		return nil, apperr.Validation("invitation.List", "recipient %q has no usable key", who)
	}
	list, err := r.store.GetInvitations(ctx, key)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return list.Invitations, nil
}

// upsert inserts or refreshes the (key, e.ID) record. An existing record
// keeps its RSVP; refresh only controls whether updatedAt is bumped on it.
func (r *Router) upsert(ctx context.Context, key string, e *models.Event, refresh bool) error {
	unlock := r.locks.Lock(key)
	defer unlock()

	list, err := r.store.GetInvitations(ctx, key)
	if errors.Is(err, apperr.ErrNotFound) {
		list = &models.InvitationList{RecipientKey: key}
	} else if err != nil {
		return err
	}

	now := models.Stamp(r.clock())
	if i := list.Find(e.ID); i >= 0 {
		rec := &list.Invitations[i]
		rec.SetSnapshot(e)
		if refresh {
			rec.UpdatedAt = now
		}
	} else {
		rec := models.InvitationRecord{Status: models.StatusPending, CreatedAt: now, UpdatedAt: now}
		rec.SetSnapshot(e)
		list.Invitations = append(list.Invitations, rec)
		r.logger.Debug("Invitation created.", "recipient", key, "eventID", e.ID)
	}
	return r.store.PutInvitations(ctx, list)
}

func (r *Router) remove(ctx context.Context, key, eventID string) error {
	unlock := r.locks.Lock(key)
	defer unlock()

	list, err := r.store.GetInvitations(ctx, key)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !list.Remove(eventID) {
		return nil
	}
	if len(list.Invitations) == 0 {
		return r.store.DeleteInvitations(ctx, key)
	}
	return r.store.PutInvitations(ctx, list)
}

func (r *Router) recipients(e *models.Event) []string {
	keys := phoneKeys(e.Attendees)
	if skipped := len(e.Attendees) - countPhones(e.Attendees); skipped > 0 {
		r.logger.Debug("Attendees without a phone number skipped.", "eventID", e.ID, "count", skipped)
	}
	return keys
}

// phoneKeys returns the distinct phone keys of attendees, in order.
func phoneKeys(attendees []models.Attendee) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, a := range attendees {
		key := recipient.Phone(a.PhoneNumber)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys
}

func countPhones(attendees []models.Attendee) int {
	n := 0
	for _, a := range attendees {
		if recipient.Phone(a.PhoneNumber) != "" {
			n++
		}
	}
	return n
}
