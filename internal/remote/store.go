// Package remote is the shared, multi-user document store holding canonical
// events, invitation lists, sharing grants and registered users.
package remote

import (
	"context"
	"time"

	"calshare/internal/models"
)

// Events is the canonical event collection.
type Events interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	// CreateEvent fails with apperr.ErrConflict if the id already exists.
	CreateEvent(ctx context.Context, e *models.Event) error
	// ReplaceEvent overwrites e.ID only while its stored LastModified equals
	// ifLastModified, and fails with apperr.ErrConflict otherwise.
	ReplaceEvent(ctx context.Context, e *models.Event, ifLastModified time.Time) error
	DeleteEvent(ctx context.Context, id string) error
	// QueryEvents returns ownerID's events overlapping [start, end], ordered by start.
	QueryEvents(ctx context.Context, ownerID string, start, end time.Time) ([]*models.Event, error)
}

// Invitations holds one list document per recipient key.
type Invitations interface {
	GetInvitations(ctx context.Context, recipientKey string) (*models.InvitationList, error)
	PutInvitations(ctx context.Context, l *models.InvitationList) error
	DeleteInvitations(ctx context.Context, recipientKey string) error
}

// Shares holds one grant document per recipient key.
type Shares interface {
	GetShares(ctx context.Context, recipientKey string) (*models.ShareGrant, error)
	PutShares(ctx context.Context, g *models.ShareGrant) error
	DeleteShares(ctx context.Context, recipientKey string) error
}

// Users is the registry of accounts, keyed by normalized phone.
type Users interface {
	GetUser(ctx context.Context, phoneKey string) (*models.User, error)
	PutUser(ctx context.Context, u *models.User) error
}

// Store is the whole remote document store.
type Store interface {
	Events
	Invitations
	Shares
	Users
	Close(ctx context.Context) error
}
