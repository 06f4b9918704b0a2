package server

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"huddle/internal/models"
	"huddle/internal/service"
)

// Inbound event names.
const (
	inLogin                = "login"
	inJoin                 = "join"
	inSendMessage          = "sendMessage"
	inRevokeMessage        = "revokeMessage"
	inDeleteMessage        = "deleteMessage"
	inReactToMessage       = "reactToMessage"
	inUnReactToMessage     = "unReactToMessage"
	inForwardMessage       = "forwardMessage"
	inTyping               = "typing"
	inStopTyping           = "stopTyping"
	inCreateGroup          = "createGroup"
	inAddMembers           = "addMembers"
	inRemoveMember         = "removeMember"
	inDissolveGroup        = "dissolveGroup"
	inRenameGroup          = "renameGroup"
	inSetMemberRole        = "setMemberRole"
	inCall                 = "call"
	inAcceptCall           = "acceptCall"
	inRejectCall           = "rejectCall"
	inEndCall              = "endCall"
	inCancelCall           = "cancelCall"
	inSDP                  = "sdp"
	inICECandidate         = "iceCandidate"
	inSendRequestContact   = "sendRequestContact"
	inAcceptRequestContact = "acceptRequestContact"
	inRejectRequestContact = "rejectRequestContact"
	inCancelRequestContact = "cancelRequestContact"
	inUnfriend             = "unfriend"
)

type loginEvent struct {
	UserID uint `json:"userId" validate:"required"`
}

// conversationEvent carries only a conversation id: join, typing, stopTyping,
// dissolveGroup and the call transitions.
type conversationEvent struct {
	ConversationID uint `json:"conversationId" validate:"required"`
}

type fileUpload struct {
	FileName string `json:"fileName" validate:"required,max=255"`
	URL      string `json:"url" validate:"required_without=Data,max=2048"`
	Data     string `json:"data" validate:"required_without=URL"`
}

type sendMessageEvent struct {
	ConversationID uint         `json:"conversationId" validate:"required"`
	Content        string       `json:"content"`
	Type           string       `json:"type" validate:"omitempty,oneof=TEXT IMAGE VIDEO FILE AUDIO LOCATION CONTACT STICKER REACT"`
	Files          []fileUpload `json:"files" validate:"max=10,dive"`
	ForwardFrom    *uint        `json:"forwardFrom" validate:"omitempty,gt=0"`
}

type messageEvent struct {
	MessageID uint `json:"messageId" validate:"required"`
}

type reactEvent struct {
	MessageID uint   `json:"messageId" validate:"required"`
	Emoji     string `json:"emoji" validate:"required"`
}

type forwardEvent struct {
	MessageID       uint   `json:"messageId" validate:"required"`
	ConversationIDs []uint `json:"conversationIds" validate:"required,min=1,max=20,dive,required"`
}

type createGroupEvent struct {
	MemberIDs []uint `json:"memberIds" validate:"required,min=1,dive,required"`
	Name      string `json:"name" validate:"max=255"`
	Avatar    string `json:"avatar" validate:"max=512"`
}

type addMembersEvent struct {
	ConversationID uint   `json:"conversationId" validate:"required"`
	UserIDs        []uint `json:"userIds" validate:"required,min=1,dive,required"`
}

type removeMemberEvent struct {
	ConversationID uint `json:"conversationId" validate:"required"`
	UserID         uint `json:"userId" validate:"required"`
}

type renameGroupEvent struct {
	ConversationID uint   `json:"conversationId" validate:"required"`
	Name           string `json:"name" validate:"required,max=255"`
}

type setMemberRoleEvent struct {
	ConversationID uint   `json:"conversationId" validate:"required"`
	UserID         uint   `json:"userId" validate:"required"`
	Role           string `json:"role" validate:"required,oneof=MEMBER ADMIN"`
}

type callEvent struct {
	ConversationID uint   `json:"conversationId" validate:"required"`
	CallType       string `json:"callType" validate:"omitempty,oneof=audio video"`
}

// signalEvent carries an SDP offer/answer or ICE candidate. Payload is relayed
// without inspection.
type signalEvent struct {
	To             uint            `json:"to" validate:"required"`
	ConversationID uint            `json:"conversationId"`
	Payload        json.RawMessage `json:"payload" validate:"required"`
}

type contactUserEvent struct {
	UserID uint `json:"userId" validate:"required"`
}

type contactRequestEvent struct {
	RequestID uint `json:"requestId" validate:"required"`
}

// fileInputs decodes attachments. Data may be plain base64 or a data URL.
func (e *sendMessageEvent) fileInputs() ([]service.FileInput, error) {
	out := make([]service.FileInput, 0, len(e.Files))
	for _, f := range e.Files {
		in := service.FileInput{FileName: f.FileName, URL: f.URL}
		if f.Data != "" {
			raw := f.Data
			if strings.HasPrefix(raw, "data:") {
				_, after, ok := strings.Cut(raw, ",")
				if !ok {
					return nil, models.NewValidationError("Invalid file data for " + f.FileName)
				}
				raw = after
			}
			data, err := base64.StdEncoding.DecodeString(raw)
			if err != nil {
				return nil, models.NewValidationError("Invalid file data for " + f.FileName)
			}
			in.Data = data
			in.URL = ""
		}
		out = append(out, in)
	}
	return out, nil
}
