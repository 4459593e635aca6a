package models

import "time"

// InvitationRecord is one invitation addressed to a recipient key.
type InvitationRecord struct {
	EventID       string         `json:"eventId" bson:"eventId"`
	Title         string         `json:"title" bson:"title"`
	StartTime     time.Time      `json:"startTime" bson:"startTime"`
	EndTime       time.Time      `json:"endTime" bson:"endTime"`
	Location      string         `json:"location,omitempty" bson:"location,omitempty"`
	OrganizerID   string         `json:"organizerId" bson:"organizerId"`
	OrganizerName string         `json:"organizerName,omitempty" bson:"organizerName,omitempty"`
	Status        AttendeeStatus `json:"status" bson:"status"`
	CreatedAt     time.Time      `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt" bson:"updatedAt"`
}

// SetSnapshot copies the event's display fields into the record.
func (r *InvitationRecord) SetSnapshot(e *Event) {
	r.EventID = e.ID
	r.Title = e.Title
	r.StartTime = e.StartTime
	r.EndTime = e.EndTime
	r.Location = e.Location
	r.OrganizerID = e.OwnerID
	r.OrganizerName = e.OrganizerName
}

// InvitationList holds every invitation received by one recipient key.
// It is never stored empty.
type InvitationList struct {
	RecipientKey string             `json:"recipientKey" bson:"_id"`
	Invitations  []InvitationRecord `json:"invitations" bson:"invitations"`
}

// Find returns the index of the record for eventID, or -1.
func (l *InvitationList) Find(eventID string) int {
	for i := range l.Invitations {
		if l.Invitations[i].EventID == eventID {
			return i
		}
	}
	return -1
}

// Remove drops the record for eventID and reports whether one existed.
func (l *InvitationList) Remove(eventID string) bool {
	i := l.Find(eventID)
	if i < 0 {
		return false
	}
	l.Invitations = append(l.Invitations[:i], l.Invitations[i+1:]...)
	return true
}

// Clone returns a deep copy.
func (l *InvitationList) Clone() *InvitationList {
	if l == nil {
		return nil
	}
	c := *l
	c.Invitations = append([]InvitationRecord(nil), l.Invitations...)
	return &c
}
