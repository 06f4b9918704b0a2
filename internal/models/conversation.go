package models

import (
	"fmt"
	"time"
)

// MemberRole is a member's standing inside a conversation.
type MemberRole string

const (
	RoleMember MemberRole = "MEMBER"
	RoleAdmin  MemberRole = "ADMIN"
	RoleOwner  MemberRole = "OWNER"
)

// CanManage reports whether the role may manage other members.
func (r MemberRole) CanManage() bool {
	return r == RoleAdmin || r == RoleOwner
}

// MessageSummary is the denormalized last message stored on a conversation row.
type MessageSummary struct {
	MessageID uint        `json:"message_id"`
	SenderID  uint        `json:"sender_id"`
	Content   string      `gorm:"type:text" json:"content"`
	Type      MessageType `gorm:"size:16" json:"type"`
	SentAt    *time.Time  `json:"sent_at"`
}

// SummaryOf builds the last message summary for msg.
func SummaryOf(msg *Message) MessageSummary {
	sentAt := msg.CreatedAt
	content := msg.Content
	if msg.IsRevoked {
		content = ""
	}
	return MessageSummary{
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Content:   content,
		Type:      msg.Type,
		SentAt:    &sentAt,
	}
}

// Conversation is a direct (exactly two members) or group conversation.
type Conversation struct {
	ID        uint    `gorm:"primaryKey" json:"id"`
	IsGroup   bool    `gorm:"not null;default:false;index" json:"is_group"`
	Name      string  `gorm:"size:255;index" json:"name"`
	Avatar    string  `gorm:"size:512" json:"avatar"`
	CreatedBy uint    `gorm:"index" json:"created_by"`
	DirectKey *string `gorm:"size:64;uniqueIndex" json:"-"`

	LastMessage MessageSummary `gorm:"embedded;embeddedPrefix:last_message_" json:"last_message"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Members []ConversationMember `gorm:"foreignKey:ConversationID" json:"members"`
}

// ConversationMember is one membership row. Row ids give the member order.
type ConversationMember struct {
	ID             uint       `gorm:"primaryKey" json:"-"`
	ConversationID uint       `gorm:"not null;uniqueIndex:idx_conversation_member" json:"conversation_id"`
	UserID         uint       `gorm:"not null;uniqueIndex:idx_conversation_member;index" json:"user_id"`
	Role           MemberRole `gorm:"size:16;not null;default:'MEMBER'" json:"role"`
	JoinedAt       time.Time  `gorm:"autoCreateTime" json:"joined_at"`
	User           *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// PairKey is the order-independent key of the pair (a, b). It backs the
// uniqueness of direct conversations and contact relationships.
func PairKey(a, b uint) string {
	lo, hi := OrderedPair(a, b)
	return fmt.Sprintf("%d:%d", lo, hi)
}

// OrderedPair returns a and b in ascending order.
func OrderedPair(a, b uint) (uint, uint) {
	if a > b {
		return b, a
	}
	return a, b
}

// Member returns the membership row of userID, or nil.
func (c *Conversation) Member(userID uint) *ConversationMember {
	for i := range c.Members {
		if c.Members[i].UserID == userID {
			return &c.Members[i]
		}
	}
	return nil
}

// IsMember reports whether userID is currently a member.
func (c *Conversation) IsMember(userID uint) bool {
	return c.Member(userID) != nil
}

// MemberIDs returns member user ids in membership order.
func (c *Conversation) MemberIDs() []uint {
	ids := make([]uint, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// HasManager reports whether any member other than except is ADMIN or OWNER.
func (c *Conversation) HasManager(except uint) bool {
	for _, m := range c.Members {
		if m.UserID != except && m.Role.CanManage() {
			return true
		}
	}
	return false
}
