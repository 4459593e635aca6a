package remote

import (
	"context"
	"time"

	"calshare/internal/models"
)

type timeoutStore struct {
	next    Store
	timeout time.Duration
}

// WithTimeout bounds every call to s by d. A non-positive d returns s unchanged.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return &timeoutStore{next: s, timeout: d}
}

func (t *timeoutStore) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, t.timeout)
}

func (t *timeoutStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return t.next.GetEvent(ctx, id)
}

func (t *timeoutStore) CreateEvent(ctx context.Context, e *models.Event) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return t.next.CreateEvent(ctx, e)
}

func (t *timeoutStore) ReplaceEvent(ctx context.Context, e *models.Event, ifLastModified time.Time) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return t.next.ReplaceEvent(ctx, e, ifLastModified)
}

func (t *timeoutStore) DeleteEvent(ctx context.Context, id string) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return t.next.DeleteEvent(ctx, id)
}

func (t *timeoutStore) QueryEvents(ctx context.Context, ownerID string, start, end time.Time) ([]*models.Event, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return t.next.QueryEvents(ctx, ownerID, start, end)
}

func (t *timeoutStore) GetInvitations(ctx context.Context, recipientKey string) (*models.InvitationList, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return t.next.GetInvitations(ctx, recipientKey)
}

func (t *timeoutStore) PutInvitations(ctx context.Context, l *models.InvitationList) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return t.next.PutInvitations(ctx, l)
}

func (t *timeoutStore) DeleteInvitations(ctx context.Context, recipientKey string) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return t.next.DeleteInvitations(ctx, recipientKey)
}

func (t *timeoutStore) GetShares(ctx context.Context, recipientKey string) (*models.ShareGrant, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return t.next.GetShares(ctx, recipientKey)
}

func (t *timeoutStore) PutShares(ctx context.Context, g *models.ShareGrant) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return t.next.PutShares(ctx, g)
}

func (t *timeoutStore) DeleteShares(ctx context.Context, recipientKey string) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return t.next.DeleteShares(ctx, recipientKey)
}

func (t *timeoutStore) GetUser(ctx context.Context, phoneKey string) (*models.User, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return t.next.GetUser(ctx, phoneKey)
}

func (t *timeoutStore) PutUser(ctx context.Context, u *models.User) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()
	return t.next.PutUser(ctx, u)
}

func (t *timeoutStore) Close(ctx context.Context) error {
	return t.next.Close(ctx)
}
