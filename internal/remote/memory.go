package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"calshare/internal/apperr"
	"calshare/internal/models"

	"github.com/rdleal/intervalst/interval"
)

type span struct{ start, end int64 }

// bucket holds the ids of every event sharing one exact interval, so the
// search tree never sees the same interval twice.
type bucket map[string]struct{}

// Memory is an in-process document store. Each owner's events are indexed
// by an interval search tree for window queries.
type Memory struct {
	mu          sync.RWMutex
	events      map[string]*models.Event
	trees       map[string]*interval.SearchTree[bucket, time.Time]
	buckets     map[string]map[span]bucket
	invitations map[string]*models.InvitationList
	shares      map[string]*models.ShareGrant
	users       map[string]*models.User
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		events:      make(map[string]*models.Event),
		trees:       make(map[string]*interval.SearchTree[bucket, time.Time]),
		buckets:     make(map[string]map[span]bucket),
		invitations: make(map[string]*models.InvitationList),
		shares:      make(map[string]*models.ShareGrant),
		users:       make(map[string]*models.User),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	if !ok {
		return nil, apperr.NotFound("remote.GetEvent", "event", id)
	}
	return e.Clone(), nil
}

func (m *Memory) CreateEvent(ctx context.Context, e *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[e.ID]; ok {
		return apperr.Conflict("remote.CreateEvent", e.ID)
	}
	c := e.Clone()
	if err := m.index(c); err != nil {
		return fmt.Errorf("failed to index event %s: %w", c.ID, err)
	}
	m.events[c.ID] = c
	return nil
}

func (m *Memory) ReplaceEvent(ctx context.Context, e *models.Event, ifLastModified time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.events[e.ID]
	if !ok {
		return apperr.NotFound("remote.ReplaceEvent", "event", e.ID)
	}
	if !cur.LastModified.Equal(ifLastModified) {
		return apperr.Conflict("remote.ReplaceEvent", e.ID)
	}
	m.unindex(cur)
	c := e.Clone()
	if err := m.index(c); err != nil {
		_ = m.index(cur)
		return fmt.Errorf("failed to index event %s: %w", c.ID, err)
	}
	m.events[c.ID] = c
	return nil
}

func (m *Memory) DeleteEvent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.events[id]
	if !ok {
		return apperr.NotFound("remote.DeleteEvent", "event", id)
	}
	m.unindex(cur)
	delete(m.events, id)
	return nil
}

func (m *Memory) QueryEvents(ctx context.Context, ownerID string, start, end time.Time) ([]*models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tree, ok := m.trees[ownerID]
	if !ok {
		return nil, nil
	}
	hits, _ := tree.AllIntersections(start, end)
	var out []*models.Event
	for _, b := range hits {
		for id := range b {
			out = append(out, m.events[id].Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

func (m *Memory) index(e *models.Event) error {
	tree, ok := m.trees[e.OwnerID]
	if !ok {
		// Zero-length events are valid, so point intervals must be accepted.
		tree = interval.NewSearchTreeWithOptions[bucket](func(x, y time.Time) int { return x.Compare(y) }, interval.TreeWithIntervalPoint())
		m.trees[e.OwnerID] = tree
		m.buckets[e.OwnerID] = make(map[span]bucket)
	}
	start, end := bounds(e)
	key := span{start.UnixNano(), end.UnixNano()}
	if b, ok := m.buckets[e.OwnerID][key]; ok {
		b[e.ID] = struct{}{}
		return nil
	}
	b := bucket{e.ID: {}}
	if err := tree.Insert(start, end, b); err != nil {
		return err
	}
	m.buckets[e.OwnerID][key] = b
	return nil
}

func (m *Memory) unindex(e *models.Event) {
	tree, ok := m.trees[e.OwnerID]
	if !ok {
		return
	}
	start, end := bounds(e)
	key := span{start.UnixNano(), end.UnixNano()}
	b, ok := m.buckets[e.OwnerID][key]
	if !ok {
		return
	}
	delete(b, e.ID)
	if len(b) == 0 {
		delete(m.buckets[e.OwnerID], key)
		_ = tree.Delete(start, end)
	}
}

// bounds guards the index against inverted ranges coming from device data.
func bounds(e *models.Event) (time.Time, time.Time) {
	if e.EndTime.Before(e.StartTime) {
		return e.StartTime, e.StartTime
	}
	return e.StartTime, e.EndTime
}

func (m *Memory) GetInvitations(ctx context.Context, recipientKey string) (*models.InvitationList, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.invitations[recipientKey]
	if !ok {
		return nil, apperr.NotFound("remote.GetInvitations", "invitation list", recipientKey)
	}
	return l.Clone(), nil
}

func (m *Memory) PutInvitations(ctx context.Context, l *models.InvitationList) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invitations[l.RecipientKey] = l.Clone()
	return nil
}

func (m *Memory) DeleteInvitations(ctx context.Context, recipientKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invitations[recipientKey]; !ok {
		return apperr.NotFound("remote.DeleteInvitations", "invitation list", recipientKey)
	}
	delete(m.invitations, recipientKey)
	return nil
}

func (m *Memory) GetShares(ctx context.Context, recipientKey string) (*models.ShareGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.shares[recipientKey]
	if !ok {
		return nil, apperr.NotFound("remote.GetShares", "sharing grant", recipientKey)
	}
	return g.Clone(), nil
}

func (m *Memory) PutShares(ctx context.Context, g *models.ShareGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shares[g.RecipientKey] = g.Clone()
	return nil
}

func (m *Memory) DeleteShares(ctx context.Context, recipientKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shares[recipientKey]; !ok {
		return apperr.NotFound("remote.DeleteShares", "sharing grant", recipientKey)
	}
	delete(m.shares, recipientKey)
	return nil
}

func (m *Memory) GetUser(ctx context.Context, phoneKey string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[phoneKey]
	if !ok {
		return nil, apperr.NotFound("remote.GetUser", "user", phoneKey)
	}
	c := *u
	return &c, nil
}

func (m *Memory) PutUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *u
	m.users[u.PhoneKey] = &c
	return nil
}

// Close is a no-op.
func (m *Memory) Close(ctx context.Context) error { return nil }
