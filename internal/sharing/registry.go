// Package sharing manages calendar sharing grants between users.
//
// A grant document is keyed by the recipient's phone key and holds one entry
// per sharer. Entries move freely between active, accepted and rejected;
// sharing again refreshes the snapshot instead of adding a second entry.
package sharing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"calshare/internal/apperr"
	"calshare/internal/keylock"
	"calshare/internal/local"
	"calshare/internal/messaging"
	"calshare/internal/models"
	"calshare/internal/recipient"
	"calshare/internal/remote"
)

// Store is the part of the remote store the registry needs.
type Store interface {
	remote.Shares
	remote.Users
}

// Options tune status checks and bulk operations.
type Options struct {
	// MaxAttempts bounds transport attempts per status check. Default 3.
	MaxAttempts int
	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration
	// Concurrency bounds CheckAll. Default 4.
	Concurrency int
}

func (o *Options) normalize() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
}

// ShareResult is the outcome of Share.
type ShareResult struct {
	RecipientKey string
	Entry        models.ShareEntry
	Created      bool
	InviteSent   bool
	Warnings     []error
}

// AcceptResult is the outcome of Accept. Import failures never undo the acceptance.
type AcceptResult struct {
	Entry        models.ShareEntry
	Imported     int
	ImportErrors []error
}

// Registry implements share, accept, reject, unshare and status checks.
type Registry struct {
	logger   *slog.Logger
	store    Store
	gateway  messaging.Gateway
	provider local.Provider
	clock    func() time.Time
	opts     Options
	locks    *keylock.Locker
}

// NewRegistry creates a Registry. provider receives accepted snapshots and
// may be nil, in which case Accept only records the transition.
func NewRegistry(logger *slog.Logger, store Store, gateway messaging.Gateway, provider local.Provider, clock func() time.Time, opts Options) *Registry {
	if clock == nil {
		clock = time.Now
	}
	opts.normalize()
	return &Registry{
		logger:   logger,
		store:    store,
		gateway:  gateway,
		provider: provider,
		clock:    clock,
		opts:     opts,
		locks:    keylock.New(),
	}
}

// Share offers the session user's snapshot to recipientPhone. An unknown
// recipient gets one invite message per entry.
func (r *Registry) Share(ctx context.Context, sess models.Session, recipientPhone string, snapshot []models.EventSummary, deviceInfo map[string]string) (*ShareResult, error) {
	const op = "sharing.Share"
	if sess.UserID == "" {
		return nil, apperr.Validation(op, "session has no user id")
	}
	key := recipient.Phone(recipientPhone)
	if key == "" {
		return nil, apperr.Validation(op, "recipient phone %q has no digits", recipientPhone)
	}

	unlock := r.locks.Lock(key)
	defer unlock()

	grant, err := r.store.GetShares(ctx, key)
	if errors.Is(err, apperr.ErrNotFound) {
		grant = &models.ShareGrant{RecipientKey: key}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load sharing grant: %w", err)
	}

	now := models.Stamp(r.clock())
	res := &ShareResult{RecipientKey: key}
	i := grant.Find(sess.UserID)
	if i < 0 {
		grant.Entries = append(grant.Entries, models.ShareEntry{
			SharerID: sess.UserID,
			Status:   models.ShareActive,
			SharedAt: now,
		})
		i = len(grant.Entries) - 1
		res.Created = true
	}
	entry := &grant.Entries[i]
	entry.SharerName = sess.DisplayName
	entry.LastUpdated = now
	entry.EventsSnapshot = append([]models.EventSummary{}, snapshot...)
	entry.DeviceInfo = deviceInfo
	if entry.Status == models.ShareRejected {
		entry.Status = models.ShareActive
	}

	if entry.InviteSentAt.IsZero() {
		registered, err := r.registered(ctx, key)
		switch {
		case err != nil:
			res.Warnings = append(res.Warnings, fmt.Errorf("failed to look up recipient, invite not sent: %w", err))
		case !registered:
			if err := r.gateway.Send(ctx, recipientPhone, inviteText(sess)); err != nil {
				r.logger.Warn("Failed to send share invite.", "recipient", key, "error", err)
				res.Warnings = append(res.Warnings, fmt.Errorf("failed to send invite: %w", err))
			} else {
				entry.InviteSentAt = now
				res.InviteSent = true
			}
		}
	}

	if err := r.store.PutShares(ctx, grant); err != nil {
		return nil, fmt.Errorf("failed to save sharing grant: %w", err)
	}
	res.Entry = *entry

	r.logger.Info("Calendar shared.", "sharer", sess.UserID, "recipient", key, "created", res.Created,
		"events", len(snapshot), "inviteSent", res.InviteSent)
	return res, nil
}

// Accept marks sharerID's entry for recipientKey accepted and imports its
// snapshot into the device calendar. Accepting twice does not import twice.
// The phone behind recipientKey must be registered to the session user.
func (r *Registry) Accept(ctx context.Context, sess models.Session, recipientKey, sharerID string) (*AcceptResult, error) {
	prev, entry, err := r.transition(ctx, "sharing.Accept", sess, recipientKey, sharerID, models.ShareAccepted)
	if err != nil {
		return nil, err
	}
	res := &AcceptResult{Entry: *entry}
	if prev == models.ShareAccepted || r.provider == nil {
		return res, nil
	}

	res.Imported, res.ImportErrors = r.importSnapshot(ctx, entry)
	r.logger.Info("Share accepted.", "recipient", recipientKey, "sharer", sharerID,
		"imported", res.Imported, "failed", len(res.ImportErrors))
	return res, nil
}

// Reject marks sharerID's entry for recipientKey rejected.
func (r *Registry) Reject(ctx context.Context, sess models.Session, recipientKey, sharerID string) (*models.ShareEntry, error) {
	_, entry, err := r.transition(ctx, "sharing.Reject", sess, recipientKey, sharerID, models.ShareRejected)
	if err != nil {
		return nil, err
	}
	r.logger.Info("Share rejected.", "recipient", recipientKey, "sharer", sharerID)
	return entry, nil
}

// Unshare deletes sharerID's entry for recipientPhone and the grant document
// with it when no entries remain.
func (r *Registry) Unshare(ctx context.Context, sharerID, recipientPhone string) error {
	const op = "sharing.Unshare"
	key := recipient.Phone(recipientPhone)
	if key == "" {
		return apperr.Validation(op, "recipient phone %q has no digits", recipientPhone)
	}

	unlock := r.locks.Lock(key)
	defer unlock()

	grant, err := r.store.GetShares(ctx, key)
	if err != nil {
		return err
	}
	if !grant.Remove(sharerID) {
		return apperr.NotFound(op, "share entry", key+"/"+sharerID)
	}
	if len(grant.Entries) == 0 {
		err = r.store.DeleteShares(ctx, key)
	} else {
		err = r.store.PutShares(ctx, grant)
	}
	if err != nil {
		return fmt.Errorf("failed to save sharing grant: %w", err)
	}
	r.logger.Info("Share revoked.", "sharer", sharerID, "recipient", key, "remaining", len(grant.Entries))
	return nil
}

// Incoming lists the grants offered to phone.
func (r *Registry) Incoming(ctx context.Context, phone string) ([]models.ShareEntry, error) {
	key := recipient.Phone(phone)
	if key == "" {
		return nil, apperr.Validation("sharing.Incoming", "phone %q has no digits", phone)
	}
	grant, err := r.store.GetShares(ctx, key)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return grant.Entries, nil
}

// Register records the session user as reachable at phone, so later shares
// to that number do not send an invite message.
func (r *Registry) Register(ctx context.Context, sess models.Session, phone, email string) (*models.User, error) {
	const op = "sharing.Register"
	if sess.UserID == "" {
		return nil, apperr.Validation(op, "session has no user id")
	}
	key := recipient.Phone(phone)
	if key == "" {
		return nil, apperr.Validation(op, "phone %q has no digits", phone)
	}
	existing, err := r.store.GetUser(ctx, key)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if err == nil && existing.ID != sess.UserID {
		return nil, apperr.PermissionDenied(op, fmt.Errorf("phone %s is registered to another user", key))
	}
	u := &models.User{
		PhoneKey:     key,
		ID:           sess.UserID,
		DisplayName:  sess.DisplayName,
		Email:        recipient.Email(email),
		RegisteredAt: models.Stamp(r.clock()),
	}
	if err := r.store.PutUser(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to register user: %w", err)
	}
	r.logger.Info("User registered.", "userID", u.ID, "phoneKey", key)
	return u, nil
}

func (r *Registry) transition(ctx context.Context, op string, sess models.Session, recipientKey, sharerID string, to models.ShareStatus) (models.ShareStatus, *models.ShareEntry, error) {
	key := recipient.Phone(recipientKey)
	if key == "" {
		return "", nil, apperr.Validation(op, "recipient %q has no digits", recipientKey)
	}
	if err := r.owns(ctx, op, sess, key); err != nil {
		return "", nil, err
	}

	unlock := r.locks.Lock(key)
	defer unlock()

	grant, err := r.store.GetShares(ctx, key)
	if err != nil {
		return "", nil, err
	}
	i := grant.Find(sharerID)
	if i < 0 {
		return "", nil, apperr.NotFound(op, "share entry", key+"/"+sharerID)
	}
	entry := &grant.Entries[i]
	prev := entry.Status
	entry.Status = to
	entry.LastUpdated = models.Stamp(r.clock())
	if err := r.store.PutShares(ctx, grant); err != nil {
		return "", nil, fmt.Errorf("failed to save sharing grant: %w", err)
	}
	out := *entry
	return prev, &out, nil
}

func (r *Registry) importSnapshot(ctx context.Context, entry *models.ShareEntry) (int, []error) {
	if len(entry.EventsSnapshot) == 0 {
		return 0, nil
	}
	cals, err := r.provider.ListCalendars(ctx)
	if err != nil {
		return 0, []error{fmt.Errorf("failed to list device calendars: %w", err)}
	}
	cal, ok := local.DefaultCalendar(cals)
	if !ok {
		return 0, []error{apperr.NotFound("sharing.Accept", "writable calendar", "default")}
	}

	from := entry.SharerName
	if from == "" {
		from = entry.SharerID
	}
	imported := 0
	var errs []error
	for _, s := range entry.EventsSnapshot {
		_, err := r.provider.CreateEvent(ctx, cal.ID, local.Fields{
			Title:     s.Title,
			StartTime: s.StartTime,
			EndTime:   s.EndTime,
			Location:  s.Location,
			Notes:     "Shared by " + from,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to import %q: %w", s.Title, err))
			continue
		}
		imported++
	}
	return imported, errs
}

// owns checks that the phone key is registered to the session user.
func (r *Registry) owns(ctx context.Context, op string, sess models.Session, key string) error {
	if sess.UserID == "" {
		return apperr.Validation(op, "session has no user id")
	}
	u, err := r.store.GetUser(ctx, key)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.PermissionDenied(op, fmt.Errorf("phone %s is not registered; run user register first", key))
	}
	if err != nil {
		return err
	}
	if u.ID != sess.UserID {
		return apperr.PermissionDenied(op, fmt.Errorf("phone %s is registered to another user", key))
	}
	return nil
}

func (r *Registry) registered(ctx context.Context, key string) (bool, error) {
	_, err := r.store.GetUser(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func inviteText(sess models.Session) string {
	name := sess.DisplayName
	if name == "" {
		name = "Someone"
	}
	return fmt.Sprintf("%s shared their calendar with you. Install calshare to see it.", name)
}
