package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calshare/internal/apperr"
	"calshare/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	eventsCollection      = "events"
	invitationsCollection = "invitations"
	sharesCollection      = "shares"
	usersCollection       = "users"
)

// Mongo is the MongoDB-backed remote store.
type Mongo struct {
	client      *mongo.Client
	events      *mongo.Collection
	invitations *mongo.Collection
	shares      *mongo.Collection
	users       *mongo.Collection
}

// DialMongo connects to uri, selects database and ensures the window-query index.
func DialMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, apperr.Transport("remote.DialMongo", err)
	}

	db := client.Database(database)
	m := &Mongo{
		client:      client,
		events:      db.Collection(eventsCollection),
		invitations: db.Collection(invitationsCollection),
		shares:      db.Collection(sharesCollection),
		users:       db.Collection(usersCollection),
	}

	_, err = m.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "startTime", Value: 1}, {Key: "endTime", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create events index: %w", err)
	}
	return m, nil
}

var _ Store = (*Mongo)(nil)

func (m *Mongo) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var e models.Event
	if err := m.events.FindOne(ctx, bson.M{"_id": id}).Decode(&e); err != nil {
		return nil, mongoErr("remote.GetEvent", "event", id, err)
	}
	return &e, nil
}

func (m *Mongo) CreateEvent(ctx context.Context, e *models.Event) error {
	if _, err := m.events.InsertOne(ctx, e); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.Conflict("remote.CreateEvent", e.ID)
		}
		return apperr.Transport("remote.CreateEvent", err)
	}
	return nil
}

func (m *Mongo) ReplaceEvent(ctx context.Context, e *models.Event, ifLastModified time.Time) error {
	res, err := m.events.ReplaceOne(ctx, bson.M{"_id": e.ID, "lastModified": ifLastModified}, e)
	if err != nil {
		return apperr.Transport("remote.ReplaceEvent", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	// Nothing matched: either the event is gone or someone else wrote first.
	n, err := m.events.CountDocuments(ctx, bson.M{"_id": e.ID})
	if err != nil {
		return apperr.Transport("remote.ReplaceEvent", err)
	}
	if n == 0 {
		return apperr.NotFound("remote.ReplaceEvent", "event", e.ID)
	}
	return apperr.Conflict("remote.ReplaceEvent", e.ID)
}

func (m *Mongo) DeleteEvent(ctx context.Context, id string) error {
	return deleteOne(ctx, m.events, "remote.DeleteEvent", "event", id)
}

func (m *Mongo) QueryEvents(ctx context.Context, ownerID string, start, end time.Time) ([]*models.Event, error) {
	filter := bson.M{
		"ownerId":   ownerID,
		"startTime": bson.M{"$lte": end},
		"endTime":   bson.M{"$gte": start},
	}
	cur, err := m.events.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "startTime", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, apperr.Transport("remote.QueryEvents", err)
	}
	var out []*models.Event
	if err := cur.All(ctx, &out); err != nil {
		return nil, apperr.Transport("remote.QueryEvents", err)
	}
	return out, nil
}

func (m *Mongo) GetInvitations(ctx context.Context, recipientKey string) (*models.InvitationList, error) {
	var l models.InvitationList
	if err := m.invitations.FindOne(ctx, bson.M{"_id": recipientKey}).Decode(&l); err != nil {
		return nil, mongoErr("remote.GetInvitations", "invitation list", recipientKey, err)
	}
	return &l, nil
}

func (m *Mongo) PutInvitations(ctx context.Context, l *models.InvitationList) error {
	return upsert(ctx, m.invitations, "remote.PutInvitations", l.RecipientKey, l)
}

func (m *Mongo) DeleteInvitations(ctx context.Context, recipientKey string) error {
	return deleteOne(ctx, m.invitations, "remote.DeleteInvitations", "invitation list", recipientKey)
}

func (m *Mongo) GetShares(ctx context.Context, recipientKey string) (*models.ShareGrant, error) {
	var g models.ShareGrant
	if err := m.shares.FindOne(ctx, bson.M{"_id": recipientKey}).Decode(&g); err != nil {
		return nil, mongoErr("remote.GetShares", "sharing grant", recipientKey, err)
	}
	return &g, nil
}

func (m *Mongo) PutShares(ctx context.Context, g *models.ShareGrant) error {
	return upsert(ctx, m.shares, "remote.PutShares", g.RecipientKey, g)
}

func (m *Mongo) DeleteShares(ctx context.Context, recipientKey string) error {
	return deleteOne(ctx, m.shares, "remote.DeleteShares", "sharing grant", recipientKey)
}

func (m *Mongo) GetUser(ctx context.Context, phoneKey string) (*models.User, error) {
	var u models.User
	if err := m.users.FindOne(ctx, bson.M{"_id": phoneKey}).Decode(&u); err != nil {
		return nil, mongoErr("remote.GetUser", "user", phoneKey, err)
	}
	return &u, nil
}

func (m *Mongo) PutUser(ctx context.Context, u *models.User) error {
	return upsert(ctx, m.users, "remote.PutUser", u.PhoneKey, u)
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func upsert(ctx context.Context, coll *mongo.Collection, op, id string, doc any) error {
	_, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return apperr.Transport(op, err)
	}
	return nil
}

func deleteOne(ctx context.Context, coll *mongo.Collection, op, what, id string) error {
	res, err := coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return apperr.Transport(op, err)
	}
	if res.DeletedCount == 0 {
		return apperr.NotFound(op, what, id)
	}
	return nil
}

func mongoErr(op, what, id string, err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperr.NotFound(op, what, id)
	}
	return apperr.Transport(op, err)
}
