package models

import "time"

// ContactStatus is the state of a contact relationship.
type ContactStatus string

const (
	ContactPending ContactStatus = "PENDING"
	ContactActive  ContactStatus = "ACTIVE"
	ContactReject  ContactStatus = "REJECT"
	ContactCancel  ContactStatus = "CANCEL"
)

// ContactRelationship is the single row kept for an unordered pair of users.
// Requester and recipient reflect the direction of the latest request.
type ContactRelationship struct {
	ID          uint          `gorm:"primaryKey" json:"id"`
	RequesterID uint          `gorm:"not null;index" json:"requester_id"`
	RecipientID uint          `gorm:"not null;index" json:"recipient_id"`
	PairKey     string        `gorm:"size:64;uniqueIndex;not null" json:"-"`
	Status      ContactStatus `gorm:"size:16;not null;default:'PENDING';index" json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`

	Requester *User `gorm:"foreignKey:RequesterID" json:"requester,omitempty"`
	Recipient *User `gorm:"foreignKey:RecipientID" json:"recipient,omitempty"`
}

// Involves reports whether userID is either side of the relationship.
func (r *ContactRelationship) Involves(userID uint) bool {
	return r.RequesterID == userID || r.RecipientID == userID
}

// Counterpart returns the other side of the relationship as seen by userID.
func (r *ContactRelationship) Counterpart(userID uint) uint {
	if r.RequesterID == userID {
		return r.RecipientID
	}
	return r.RequesterID
}
