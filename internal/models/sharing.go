package models

import "time"

// ShareStatus is the lifecycle state of a sharing grant.
type ShareStatus string

const (
	ShareActive   ShareStatus = "active"
	ShareAccepted ShareStatus = "accepted"
	ShareRejected ShareStatus = "rejected"
)

// ShareEntry is one sharer's grant to a recipient.
type ShareEntry struct {
	SharerID       string            `json:"sharerId" bson:"sharerId"`
	SharerName     string            `json:"sharerName,omitempty" bson:"sharerName,omitempty"`
	Status         ShareStatus       `json:"status" bson:"status"`
	SharedAt       time.Time         `json:"sharedAt" bson:"sharedAt"`
	LastUpdated    time.Time         `json:"lastUpdated" bson:"lastUpdated"`
	EventsSnapshot []EventSummary    `json:"eventsSnapshot" bson:"eventsSnapshot"`
	DeviceInfo     map[string]string `json:"deviceInfo,omitempty" bson:"deviceInfo,omitempty"`
	InviteSentAt   time.Time         `json:"inviteSentAt,omitempty" bson:"inviteSentAt,omitempty"`
}

// ShareGrant holds every grant addressed to one recipient key.
// It is never stored empty.
type ShareGrant struct {
	RecipientKey string       `json:"recipientKey" bson:"_id"`
	Entries      []ShareEntry `json:"entries" bson:"entries"`
}

// Find returns the index of sharerID's entry, or -1.
func (g *ShareGrant) Find(sharerID string) int {
	for i := range g.Entries {
		if g.Entries[i].SharerID == sharerID {
			return i
		}
	}
	return -1
}

// Remove drops sharerID's entry and reports whether one existed.
func (g *ShareGrant) Remove(sharerID string) bool {
	i := g.Find(sharerID)
	if i < 0 {
		return false
	}
	g.Entries = append(g.Entries[:i], g.Entries[i+1:]...)
	return true
}

// Clone returns a deep copy.
func (g *ShareGrant) Clone() *ShareGrant {
	if g == nil {
		return nil
	}
	c := *g
	c.Entries = make([]ShareEntry, len(g.Entries))
	for i, e := range g.Entries {
		e.EventsSnapshot = append([]EventSummary(nil), e.EventsSnapshot...)
		if e.DeviceInfo != nil {
			info := make(map[string]string, len(e.DeviceInfo))
			for k, v := range e.DeviceInfo {
				info[k] = v
			}
			e.DeviceInfo = info
		}
		c.Entries[i] = e
	}
	return &c
}

// User is a registered account, keyed by its normalized phone.
type User struct {
	PhoneKey     string    `json:"phoneKey" bson:"_id"`
	ID           string    `json:"id" bson:"userId"`
	DisplayName  string    `json:"displayName,omitempty" bson:"displayName,omitempty"`
	Email        string    `json:"email,omitempty" bson:"email,omitempty"`
	RegisteredAt time.Time `json:"registeredAt" bson:"registeredAt"`
}
