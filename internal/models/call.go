package models

import (
	"slices"
	"time"
)

// CallState is the state of a conversation's call. Sessions are kept in memory only.
type CallState string

const (
	CallIdle      CallState = "IDLE"
	CallRinging   CallState = "RINGING"
	CallAccepted  CallState = "ACCEPTED"
	CallEnded     CallState = "ENDED"
	CallRejected  CallState = "REJECTED"
	CallCancelled CallState = "CANCELLED"
)

// Active reports whether the state holds the conversation's call slot.
func (s CallState) Active() bool {
	return s == CallRinging || s == CallAccepted
}

// CallType is the media kind of a call.
type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

// CallSession is a call in a conversation.
type CallSession struct {
	ConversationID uint       `json:"conversation_id"`
	IsGroup        bool       `json:"is_group"`
	InitiatorID    uint       `json:"initiator_id"`
	CallType       CallType   `json:"call_type"`
	State          CallState  `json:"state"`
	Participants   []uint     `json:"participants"`
	Members        []uint     `json:"members"`
	Rejected       []uint     `json:"rejected,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// Clone returns a deep copy that can leave the owner's lock.
func (c *CallSession) Clone() *CallSession {
	out := *c
	out.Participants = slices.Clone(c.Participants)
	out.Members = slices.Clone(c.Members)
	out.Rejected = slices.Clone(c.Rejected)
	if c.AcceptedAt != nil {
		t := *c.AcceptedAt
		out.AcceptedAt = &t
	}
	if c.EndedAt != nil {
		t := *c.EndedAt
		out.EndedAt = &t
	}
	return &out
}

// IsMember reports whether userID belonged to the conversation when the call started.
func (c *CallSession) IsMember(userID uint) bool {
	return slices.Contains(c.Members, userID)
}

// IsParticipant reports whether userID has joined the call.
func (c *CallSession) IsParticipant(userID uint) bool {
	return slices.Contains(c.Participants, userID)
}

// Duration returns how long the call was connected.
func (c *CallSession) Duration() time.Duration {
	if c.AcceptedAt == nil || c.EndedAt == nil {
		return 0
	}
	return c.EndedAt.Sub(*c.AcceptedAt)
}
