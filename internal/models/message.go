package models

import (
	"time"
	"unicode/utf8"
)

// MessageType classifies message content.
type MessageType string

const (
	MessageTypeText     MessageType = "TEXT"
	MessageTypeImage    MessageType = "IMAGE"
	MessageTypeVideo    MessageType = "VIDEO"
	MessageTypeFile     MessageType = "FILE"
	MessageTypeAudio    MessageType = "AUDIO"
	MessageTypeLocation MessageType = "LOCATION"
	MessageTypeContact  MessageType = "CONTACT"
	MessageTypeSticker  MessageType = "STICKER"
	MessageTypeReact    MessageType = "REACT"
	MessageTypeCall     MessageType = "CALL"
)

// MaxMessageContentLen is the maximum content length in characters.
const MaxMessageContentLen = 10000

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeFile, MessageTypeAudio,
		MessageTypeLocation, MessageTypeContact, MessageTypeSticker, MessageTypeReact, MessageTypeCall:
		return true
	}
	return false
}

// RequiresContent reports whether the type is meaningless without content.
func (t MessageType) RequiresContent() bool {
	return t == MessageTypeLocation || t == MessageTypeContact
}

// Message is an immutable chat message apart from its tombstones and reactions.
type Message struct {
	ID             uint        `gorm:"primaryKey" json:"id"`
	ConversationID uint        `gorm:"not null;index" json:"conversation_id"`
	SenderID       uint        `gorm:"not null;index" json:"sender_id"`
	Content        string      `gorm:"type:text" json:"content"`
	Type           MessageType `gorm:"size:16;not null" json:"type"`
	IsRevoked      bool        `gorm:"not null;default:false" json:"is_revoked"`
	ForwardFromID  *uint       `gorm:"index" json:"forward_from_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`

	Files     []MessageFile     `gorm:"foreignKey:MessageID" json:"files"`
	Reactions []MessageReaction `gorm:"foreignKey:MessageID" json:"reactions"`
	Deletions []MessageDeletion `gorm:"foreignKey:MessageID" json:"-"`
}

// MessageFile is an attachment reference. Bytes live in object storage.
type MessageFile struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	MessageID uint   `gorm:"not null;index" json:"-"`
	FileName  string `gorm:"size:255;not null" json:"file_name"`
	URL       string `gorm:"size:2048;not null" json:"url"`
}

// MessageReaction holds the single reaction of a user on a message.
type MessageReaction struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	MessageID uint      `gorm:"not null;uniqueIndex:idx_message_reaction" json:"-"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_message_reaction" json:"user_id"`
	Emoji     string    `gorm:"size:32;not null" json:"emoji"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageDeletion records that a user deleted a message for themselves.
type MessageDeletion struct {
	MessageID uint      `gorm:"primaryKey;autoIncrement:false"`
	UserID    uint      `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time
}

// DeletedFor returns the ids of users that deleted the message for themselves.
func (m *Message) DeletedFor() []uint {
	ids := make([]uint, 0, len(m.Deletions))
	for _, d := range m.Deletions {
		ids = append(ids, d.UserID)
	}
	return ids
}

// IsDeletedFor reports whether userID deleted the message for themselves.
func (m *Message) IsDeletedFor(userID uint) bool {
	for _, d := range m.Deletions {
		if d.UserID == userID {
			return true
		}
	}
	return false
}

// ReactionBy returns the reaction of userID, or nil.
func (m *Message) ReactionBy(userID uint) *MessageReaction {
	for i := range m.Reactions {
		if m.Reactions[i].UserID == userID {
			return &m.Reactions[i]
		}
	}
	return nil
}

// Redact blanks content and attachments of a revoked message in place.
func (m *Message) Redact() {
	if !m.IsRevoked {
		return
	}
	m.Content = ""
	m.Files = []MessageFile{}
}

// ContentLength returns the content length in characters.
func ContentLength(content string) int {
	return utf8.RuneCountInString(content)
}
