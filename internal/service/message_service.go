package service

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"huddle/internal/featureflags"
	"huddle/internal/models"
	"huddle/internal/observability"
	"huddle/internal/repository"
	"huddle/internal/storage"
)

const (
	DefaultMessagePageSize = 50
	MaxMessagePageSize     = 100
	maxEmojiLen            = 32
)

// MessageHook runs after a message change is committed, while the
// conversation lock is still held. Room delivery happens here so rooms see
// changes in commit order.
type MessageHook func(msg *models.Message)

// FileInput is one attachment. Data is uploaded when set; otherwise URL is stored as is.
type FileInput struct {
	FileName string
	URL      string
	Data     []byte
}

// CreateMessageInput holds the fields of a new message.
type CreateMessageInput struct {
	ConversationID uint
	SenderID       uint
	Content        string
	Type           models.MessageType
	Files          []FileInput
	ForwardFromID  *uint
}

// ForwardResult is the outcome of forwarding to one target conversation.
type ForwardResult struct {
	ConversationID uint            `json:"conversationId"`
	Message        *models.Message `json:"message,omitempty"`
	Err            error           `json:"-"`
}

// MessageService is the message ledger.
type MessageService struct {
	msgRepo  repository.MessageRepository
	convs    *ConversationService
	uploader storage.FileUploader
	flags    *featureflags.Set
	locks    *KeyedMutex
}

// NewMessageService returns a new MessageService. uploader and flags may be nil.
func NewMessageService(
	msgRepo repository.MessageRepository,
	convs *ConversationService,
	uploader storage.FileUploader,
	flags *featureflags.Set,
	locks *KeyedMutex,
) *MessageService {
	if locks == nil {
		locks = NewKeyedMutex()
	}
	return &MessageService{
		msgRepo:  msgRepo,
		convs:    convs,
		uploader: uploader,
		flags:    flags,
		locks:    locks,
	}
}

// Create validates, uploads attachments and persists a message sent by a member.
func (s *MessageService) Create(ctx context.Context, in CreateMessageInput, hook MessageHook) (*models.Message, error) {
	if in.Type == "" {
		in.Type = models.MessageTypeText
	}
	if err := validateMessageInput(in); err != nil {
		return nil, err
	}

	conv, err := s.convs.Get(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsMember(in.SenderID) {
		return nil, models.NewForbiddenError("You are not a member of this conversation")
	}

	files, err := s.storeFiles(ctx, in.Files)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Type:           in.Type,
		ForwardFromID:  in.ForwardFromID,
		Files:          files,
	}
	return s.persist(ctx, msg, true, hook)
}

func validateMessageInput(in CreateMessageInput) error {
	if in.ConversationID == 0 {
		return models.NewValidationError("Conversation is required")
	}
	if !in.Type.Valid() {
		return models.NewValidationError("Unknown message type " + string(in.Type))
	}
	if in.Type == models.MessageTypeCall {
		return models.NewValidationError("Call messages are recorded by the server")
	}
	if models.ContentLength(in.Content) > models.MaxMessageContentLen {
		return models.NewValidationError("Message content is too long")
	}
	empty := strings.TrimSpace(in.Content) == ""
	if empty && len(in.Files) == 0 {
		return models.NewValidationError("Message content cannot be empty")
	}
	if empty && in.Type.RequiresContent() {
		return models.NewValidationError(string(in.Type) + " messages require content")
	}
	for _, f := range in.Files {
		if strings.TrimSpace(f.FileName) == "" {
			return models.NewValidationError("File name is required")
		}
		if f.URL == "" && len(f.Data) == 0 {
			return models.NewValidationError("File " + f.FileName + " has no content")
		}
	}
	return nil
}

func (s *MessageService) storeFiles(ctx context.Context, in []FileInput) ([]models.MessageFile, error) {
	files := make([]models.MessageFile, 0, len(in))
	for _, f := range in {
		url := f.URL
		if len(f.Data) > 0 {
			if s.uploader == nil {
				return nil, models.NewValidationError("File uploads are not available")
			}
			uploaded, err := s.uploader.UploadFile(ctx, f.FileName, f.Data)
			if err != nil {
				return nil, err
			}
			url = uploaded
		}
		files = append(files, models.MessageFile{FileName: f.FileName, URL: url})
	}
	return files, nil
}

// persist writes msg and the conversation summary under the conversation lock.
func (s *MessageService) persist(ctx context.Context, msg *models.Message, requireMember bool, hook MessageHook) (*models.Message, error) {
	unlock := s.locks.Lock(convLockKey(msg.ConversationID))
	defer unlock()

	if requireMember {
		ok, err := s.convs.IsMember(ctx, msg.ConversationID, msg.SenderID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, models.NewForbiddenError("You are not a member of this conversation")
		}
	}

	if err := s.msgRepo.Create(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.convs.SetLastMessage(ctx, msg.ConversationID, msg); err != nil {
		return nil, err
	}
	created, err := s.msgRepo.GetByID(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	observability.MessagesCreated.WithLabelValues(string(created.Type)).Inc()

	if hook != nil {
		hook(created)
	}
	return created, nil
}

// lockMessage takes the conversation lock then the message lock of msgID and
// re-reads the message under them.
func (s *MessageService) lockMessage(ctx context.Context, msgID uint) (*models.Message, func(), error) {
	msg, err := s.msgRepo.GetByID(ctx, msgID)
	if err != nil {
		return nil, nil, err
	}
	unlockConv := s.locks.Lock(convLockKey(msg.ConversationID))
	unlockMsg := s.locks.Lock(messageLockKey(msgID))
	unlock := func() {
		unlockMsg()
		unlockConv()
	}

	msg, err = s.msgRepo.GetByID(ctx, msgID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return msg, unlock, nil
}

func (s *MessageService) requireMember(ctx context.Context, convID, userID uint) error {
	ok, err := s.convs.IsMember(ctx, convID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewForbiddenError("You are not a member of this conversation")
	}
	return nil
}

// RevokeForAll hides a message's content from everyone. Only the sender may
// revoke; revoking twice is a no-op and skips the hook.
func (s *MessageService) RevokeForAll(ctx context.Context, msgID, actorID uint, hook MessageHook) (*models.Message, error) {
	msg, unlock, err := s.lockMessage(ctx, msgID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if msg.SenderID != actorID {
		return nil, models.NewForbiddenError("Only the sender can revoke this message")
	}
	if msg.IsRevoked {
		msg.Redact()
		return msg, nil
	}

	if err := s.msgRepo.MarkRevoked(ctx, msgID); err != nil {
		return nil, err
	}
	revoked, err := s.msgRepo.GetByID(ctx, msgID)
	if err != nil {
		return nil, err
	}

	conv, err := s.convs.Get(ctx, revoked.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.LastMessage.MessageID == revoked.ID {
		if err := s.convs.SetLastMessage(ctx, conv.ID, revoked); err != nil {
			return nil, err
		}
	}

	revoked.Redact()
	if hook != nil {
		hook(revoked)
	}
	return revoked, nil
}

// DeleteForSelf hides a message from actorID only.
func (s *MessageService) DeleteForSelf(ctx context.Context, msgID, actorID uint) (*models.Message, error) {
	msg, unlock, err := s.lockMessage(ctx, msgID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.requireMember(ctx, msg.ConversationID, actorID); err != nil {
		return nil, err
	}
	if msg.IsDeletedFor(actorID) {
		return msg, nil
	}
	if err := s.msgRepo.AddDeletion(ctx, msgID, actorID); err != nil {
		return nil, err
	}
	return s.msgRepo.GetByID(ctx, msgID)
}

// React sets actorID's reaction, replacing any previous one.
func (s *MessageService) React(ctx context.Context, msgID, actorID uint, emoji string, hook MessageHook) (*models.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, models.NewValidationError("Emoji is required")
	}
	if utf8.RuneCountInString(emoji) > maxEmojiLen {
		return nil, models.NewValidationError("Emoji is too long")
	}

	msg, unlock, err := s.lockMessage(ctx, msgID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.requireMember(ctx, msg.ConversationID, actorID); err != nil {
		return nil, err
	}
	if msg.IsRevoked {
		return nil, models.NewConflictError("Cannot react to a revoked message")
	}

	if err := s.msgRepo.UpsertReaction(ctx, &models.MessageReaction{MessageID: msgID, UserID: actorID, Emoji: emoji}); err != nil {
		return nil, err
	}
	updated, err := s.msgRepo.GetByID(ctx, msgID)
	if err != nil {
		return nil, err
	}
	if hook != nil {
		hook(updated)
	}
	return updated, nil
}

// Unreact removes actorID's reaction. Removing nothing is a no-op and skips the hook.
func (s *MessageService) Unreact(ctx context.Context, msgID, actorID uint, hook MessageHook) (*models.Message, error) {
	msg, unlock, err := s.lockMessage(ctx, msgID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.requireMember(ctx, msg.ConversationID, actorID); err != nil {
		return nil, err
	}

	removed, err := s.msgRepo.DeleteReaction(ctx, msgID, actorID)
	if err != nil {
		return nil, err
	}
	if !removed {
		msg.Redact()
		return msg, nil
	}
	updated, err := s.msgRepo.GetByID(ctx, msgID)
	if err != nil {
		return nil, err
	}
	updated.Redact()
	if hook != nil {
		hook(updated)
	}
	return updated, nil
}

// Forward copies a message into each target conversation. Targets succeed or
// fail independently; only failures reaching the original return an error.
func (s *MessageService) Forward(ctx context.Context, originalID uint, targetConvIDs []uint, actorID uint, hook MessageHook) ([]ForwardResult, error) {
	targets := dedupIDs(targetConvIDs)
	if len(targets) == 0 {
		return nil, models.NewValidationError("No target conversations")
	}

	original, err := s.msgRepo.GetByID(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, original.ConversationID, actorID); err != nil {
		return nil, err
	}
	if original.IsDeletedFor(actorID) {
		return nil, models.NewForbiddenError("Message is not visible to you")
	}
	if original.IsRevoked {
		return nil, models.NewConflictError("Cannot forward a revoked message")
	}

	files := make([]FileInput, 0, len(original.Files))
	for _, f := range original.Files {
		files = append(files, FileInput{FileName: f.FileName, URL: f.URL})
	}

	results := make([]ForwardResult, 0, len(targets))
	for _, convID := range targets {
		msg, err := s.Create(ctx, CreateMessageInput{
			ConversationID: convID,
			SenderID:       actorID,
			Content:        original.Content,
			Type:           original.Type,
			Files:          files,
			ForwardFromID:  &original.ID,
		}, hook)
		results = append(results, ForwardResult{ConversationID: convID, Message: msg, Err: err})
	}
	return results, nil
}

// List returns a page of messages as viewerID sees them, newest first.
func (s *MessageService) List(ctx context.Context, convID, viewerID uint, limit int, beforeID uint) ([]models.Message, error) {
	if _, err := s.convs.GetForMember(ctx, convID, viewerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMessagePageSize
	}
	if limit > MaxMessagePageSize {
		limit = MaxMessagePageSize
	}

	msgs, err := s.msgRepo.ListByConversation(ctx, convID, viewerID, limit, beforeID)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].Redact()
	}
	return msgs, nil
}

// Get returns one message as viewerID sees it.
func (s *MessageService) Get(ctx context.Context, msgID, viewerID uint) (*models.Message, error) {
	msg, err := s.msgRepo.GetByID(ctx, msgID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, msg.ConversationID, viewerID); err != nil {
		return nil, err
	}
	if msg.IsDeletedFor(viewerID) {
		return nil, models.NewNotFoundError("Message", msgID)
	}
	msg.Redact()
	return msg, nil
}

type callRecord struct {
	CallType        models.CallType  `json:"call_type"`
	State           models.CallState `json:"state"`
	Participants    []uint           `json:"participants"`
	DurationSeconds int64            `json:"duration_seconds"`
}

// CreateCallRecord stores a CALL message for a finished call when the
// call_history flag is on for the initiator. It returns nil, nil when off.
func (s *MessageService) CreateCallRecord(ctx context.Context, call *models.CallSession, hook MessageHook) (*models.Message, error) {
	if !s.flags.On(featureflags.CallHistory, call.InitiatorID) {
		return nil, nil
	}

	content, err := json.Marshal(callRecord{
		CallType:        call.CallType,
		State:           call.State,
		Participants:    call.Participants,
		DurationSeconds: int64(call.Duration().Seconds()),
	})
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	msg := &models.Message{
		ConversationID: call.ConversationID,
		SenderID:       call.InitiatorID,
		Content:        string(content),
		Type:           models.MessageTypeCall,
	}
	return s.persist(ctx, msg, false, hook)
}
