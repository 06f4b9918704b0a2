package models

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "", ErrorCode(nil))
	assert.Equal(t, CodeNotFound, ErrorCode(NewNotFoundError("Conversation", 4)))
	assert.Equal(t, CodeConflict, ErrorCode(fmt.Errorf("wrapped: %w", NewConflictError("busy"))))
	assert.Equal(t, CodeInternal, ErrorCode(errors.New("boom")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NewNotFoundError("User", 1), http.StatusNotFound},
		{NewForbiddenError("no"), http.StatusForbidden},
		{NewConflictError("no"), http.StatusConflict},
		{NewValidationError("no"), http.StatusBadRequest},
		{NewUnauthorizedError("no"), http.StatusUnauthorized},
		{NewRateLimitError("slow down"), http.StatusTooManyRequests},
		{NewInternalError(errors.New("db down")), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), ErrorCode(tt.err))
	}
}

func TestAppErrorMessage(t *testing.T) {
	assert.Equal(t, "Conversation with ID 7 not found", NewNotFoundError("Conversation", 7).Error())

	cause := errors.New("connection reset")
	err := NewInternalError(cause)
	assert.Equal(t, "Internal server error: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestPairKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, "3:9", PairKey(9, 3))
	assert.Equal(t, PairKey(3, 9), PairKey(9, 3))
}

func TestUserLastName(t *testing.T) {
	assert.Equal(t, "Lovelace", (&User{Username: "ada", DisplayName: "Ada  King Lovelace "}).LastName())
	assert.Equal(t, "grace", (&User{Username: "grace"}).LastName())
}

func TestConversationMembership(t *testing.T) {
	conv := &Conversation{Members: []ConversationMember{
		{UserID: 1, Role: RoleAdmin},
		{UserID: 2, Role: RoleMember},
		{UserID: 3, Role: RoleMember},
	}}

	assert.True(t, conv.IsMember(2))
	assert.False(t, conv.IsMember(4))
	assert.Equal(t, []uint{1, 2, 3}, conv.MemberIDs())
	assert.True(t, conv.HasManager(2))
	assert.False(t, conv.HasManager(1))
}

func TestMessageRedact(t *testing.T) {
	msg := &Message{Content: "secret", Files: []MessageFile{{FileName: "a.png", URL: "/a.png"}}}
	msg.Redact()
	assert.Equal(t, "secret", msg.Content)

	msg.IsRevoked = true
	msg.Redact()
	assert.Empty(t, msg.Content)
	assert.Empty(t, msg.Files)
}

func TestMessageTypeValid(t *testing.T) {
	assert.True(t, MessageTypeText.Valid())
	assert.True(t, MessageTypeCall.Valid())
	assert.False(t, MessageType("POLL").Valid())
	assert.True(t, MessageTypeFile.Valid())
	assert.True(t, MessageTypeLocation.RequiresContent())
	assert.False(t, MessageTypeImage.RequiresContent())
}

func TestContentLengthCountsCharacters(t *testing.T) {
	assert.Equal(t, 2, ContentLength("héllo"[:3]))
	assert.Equal(t, 5, ContentLength("héllo"))
}

func TestCallSessionClone(t *testing.T) {
	accepted := time.Now()
	call := &CallSession{Participants: []uint{1}, Members: []uint{1, 2}, AcceptedAt: &accepted}

	clone := call.Clone()
	clone.Participants = append(clone.Participants, 2)
	*clone.AcceptedAt = accepted.Add(time.Hour)

	assert.Equal(t, []uint{1}, call.Participants)
	assert.Equal(t, accepted, *call.AcceptedAt)
	assert.True(t, clone.IsParticipant(2))
	assert.False(t, call.IsParticipant(2))
}
