package repository

import (
	"context"
	"errors"
	"time"

	"huddle/internal/models"
	"huddle/internal/observability"

	"gorm.io/gorm"
)

// ConversationRepository defines persistence operations for conversations and their members
type ConversationRepository interface {
	Create(ctx context.Context, conv *models.Conversation) error
	GetByID(ctx context.Context, id uint) (*models.Conversation, error)
	FindDirect(ctx context.Context, userA, userB uint) (*models.Conversation, error)
	FindGroupsByName(ctx context.Context, name string) ([]models.Conversation, error)
	ListForUser(ctx context.Context, userID uint) ([]models.Conversation, error)
	ConversationIDsForUser(ctx context.Context, userID uint) ([]uint, error)
	IsMember(ctx context.Context, convID, userID uint) (bool, error)
	AddMembers(ctx context.Context, members []models.ConversationMember) error
	RemoveMember(ctx context.Context, convID, userID uint) error
	UpdateRole(ctx context.Context, convID, userID uint, role models.MemberRole) error
	UpdateName(ctx context.Context, convID uint, name string) error
	SetLastMessage(ctx context.Context, convID uint, summary models.MessageSummary) error
	Delete(ctx context.Context, convID uint) error
}

type conversationRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db, log: observability.NewRepoLogger("conversations")}
}

func orderedMembers(db *gorm.DB) *gorm.DB {
	return db.Order("conversation_members.id ASC")
}

func (r *conversationRepository) withMembers(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Members", orderedMembers).
		Preload("Members.User")
}

func (r *conversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	if err := r.db.WithContext(ctx).Create(conv).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return models.NewInternalError(err)
	}
	return nil
}

func (r *conversationRepository) GetByID(ctx context.Context, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := r.withMembers(ctx).First(&conv, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Conversation", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &conv, nil
}

// FindDirect returns the direct conversation of the pair, or nil when none exists.
func (r *conversationRepository) FindDirect(ctx context.Context, userA, userB uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.withMembers(ctx).
		Where("direct_key = ?", models.PairKey(userA, userB)).
		First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &conv, nil
}

func (r *conversationRepository) FindGroupsByName(ctx context.Context, name string) ([]models.Conversation, error) {
	var convs []models.Conversation
	if err := r.db.WithContext(ctx).
		Preload("Members", orderedMembers).
		Where("is_group = ? AND name = ?", true, name).
		Find(&convs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return convs, nil
}

// ListForUser returns the user's conversations, most recently active first.
func (r *conversationRepository) ListForUser(ctx context.Context, userID uint) ([]models.Conversation, error) {
	memberOf := r.db.Model(&models.ConversationMember{}).Select("conversation_id").Where("user_id = ?", userID)

	var convs []models.Conversation
	if err := r.withMembers(ctx).
		Where("id IN (?)", memberOf).
		Order("updated_at DESC").
		Order("id DESC").
		Find(&convs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return convs, nil
}

func (r *conversationRepository) ConversationIDsForUser(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).
		Model(&models.ConversationMember{}).
		Where("user_id = ?", userID).
		Order("conversation_id ASC").
		Pluck("conversation_id", &ids).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}

func (r *conversationRepository) IsMember(ctx context.Context, convID, userID uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Count(&count).Error; err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

func (r *conversationRepository) AddMembers(ctx context.Context, members []models.ConversationMember) error {
	if len(members) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&members).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", members[0].ConversationID).
			Update("updated_at", time.Now()).Error
	})
	if err != nil {
		r.log.LogError(ctx, err, "add_members")
		return models.NewInternalError(err)
	}
	return nil
}

func (r *conversationRepository) RemoveMember(ctx context.Context, convID, userID uint) error {
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Delete(&models.ConversationMember{}).Error; err != nil {
		r.log.LogError(ctx, err, "remove_member")
		return models.NewInternalError(err)
	}
	return nil
}

func (r *conversationRepository) UpdateRole(ctx context.Context, convID, userID uint, role models.MemberRole) error {
	if err := r.db.WithContext(ctx).
		Model(&models.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Update("role", role).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *conversationRepository) UpdateName(ctx context.Context, convID uint, name string) error {
	if err := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", convID).
		Update("name", name).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *conversationRepository) SetLastMessage(ctx context.Context, convID uint, summary models.MessageSummary) error {
	if err := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", convID).
		Updates(map[string]interface{}{
			"last_message_message_id": summary.MessageID,
			"last_message_sender_id":  summary.SenderID,
			"last_message_content":    summary.Content,
			"last_message_type":       summary.Type,
			"last_message_sent_at":    summary.SentAt,
			"updated_at":              time.Now(),
		}).Error; err != nil {
		r.log.LogError(ctx, err, "set_last_message")
		return models.NewInternalError(err)
	}
	return nil
}

// Delete removes the conversation with its members, messages and message children.
func (r *conversationRepository) Delete(ctx context.Context, convID uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		messageIDs := tx.Model(&models.Message{}).Select("id").Where("conversation_id = ?", convID)

		for _, child := range []interface{}{&models.MessageReaction{}, &models.MessageFile{}, &models.MessageDeletion{}} {
			if err := tx.Where("message_id IN (?)", messageIDs).Delete(child).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("conversation_id = ?", convID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", convID).Delete(&models.ConversationMember{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Conversation{}, convID).Error
	})
	if err != nil {
		r.log.LogError(ctx, err, "delete")
		return models.NewInternalError(err)
	}
	return nil
}
