package repository

import (
	"context"
	"errors"

	"huddle/internal/models"
	"huddle/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRepository defines persistence operations for messages, reactions and tombstones
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id uint) (*models.Message, error)
	ListByConversation(ctx context.Context, convID, viewerID uint, limit int, beforeID uint) ([]models.Message, error)
	MarkRevoked(ctx context.Context, id uint) error
	AddDeletion(ctx context.Context, messageID, userID uint) error
	UpsertReaction(ctx context.Context, reaction *models.MessageReaction) error
	DeleteReaction(ctx context.Context, messageID, userID uint) (bool, error)
}

type messageRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db, log: observability.NewRepoLogger("messages")}
}

func byID(db *gorm.DB) *gorm.DB {
	return db.Order("id ASC")
}

// Create inserts the message together with its file rows.
func (r *messageRepository) Create(ctx context.Context, msg *models.Message) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return models.NewInternalError(err)
	}
	return nil
}

func (r *messageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	if err := r.db.WithContext(ctx).
		Preload("Files", byID).
		Preload("Reactions", byID).
		Preload("Deletions").
		First(&msg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Message", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &msg, nil
}

// ListByConversation returns up to limit messages older than beforeID (0 for
// the newest), newest first, excluding messages the viewer deleted for themselves.
func (r *messageRepository) ListByConversation(ctx context.Context, convID, viewerID uint, limit int, beforeID uint) ([]models.Message, error) {
	q := r.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Where("NOT EXISTS (SELECT 1 FROM message_deletions md WHERE md.message_id = messages.id AND md.user_id = ?)", viewerID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var msgs []models.Message
	if err := q.
		Preload("Files", byID).
		Preload("Reactions", byID).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return msgs, nil
}

func (r *messageRepository) MarkRevoked(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", id).
		Update("is_revoked", true).Error; err != nil {
		r.log.LogError(ctx, err, "revoke")
		return models.NewInternalError(err)
	}
	return nil
}

// AddDeletion records a delete-for-self; repeating it is a no-op.
func (r *messageRepository) AddDeletion(ctx context.Context, messageID, userID uint) error {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.MessageDeletion{MessageID: messageID, UserID: userID}).Error; err != nil {
		r.log.LogError(ctx, err, "add_deletion")
		return models.NewInternalError(err)
	}
	return nil
}

// UpsertReaction stores the user's reaction, replacing any earlier emoji.
func (r *messageRepository) UpsertReaction(ctx context.Context, reaction *models.MessageReaction) error {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"emoji", "updated_at"}),
		}).
		Create(reaction).Error; err != nil {
		r.log.LogError(ctx, err, "upsert_reaction")
		return models.NewInternalError(err)
	}
	return nil
}

// DeleteReaction removes the user's reaction and reports whether one existed.
func (r *messageRepository) DeleteReaction(ctx context.Context, messageID, userID uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ?", messageID, userID).
		Delete(&models.MessageReaction{})
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "delete_reaction")
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected > 0, nil
}
