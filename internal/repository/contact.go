package repository

import (
	"context"
	"errors"
	"time"

	"huddle/internal/models"
	"huddle/internal/observability"

	"gorm.io/gorm"
)

// ContactRepository defines the interface for contact relationship data operations
type ContactRepository interface {
	Create(ctx context.Context, rel *models.ContactRelationship) error
	GetByID(ctx context.Context, id uint) (*models.ContactRelationship, error)
	GetBetween(ctx context.Context, userA, userB uint) (*models.ContactRelationship, error)
	Update(ctx context.Context, rel *models.ContactRelationship) error
	Delete(ctx context.Context, id uint) error
	ListContacts(ctx context.Context, userID uint) ([]models.User, error)
	ListSentPending(ctx context.Context, userID uint) ([]models.ContactRelationship, error)
	ListReceivedPending(ctx context.Context, userID uint) ([]models.ContactRelationship, error)
}

type contactRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewContactRepository creates a new contact repository
func NewContactRepository(db *gorm.DB) ContactRepository {
	return &contactRepository{db: db, log: observability.NewRepoLogger("contact_relationships")}
}

func (r *contactRepository) Create(ctx context.Context, rel *models.ContactRelationship) error {
	rel.PairKey = models.PairKey(rel.RequesterID, rel.RecipientID)
	if err := r.db.WithContext(ctx).Omit("Requester", "Recipient").Create(rel).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return models.NewInternalError(err)
	}
	return nil
}

func (r *contactRepository) GetByID(ctx context.Context, id uint) (*models.ContactRelationship, error) {
	var rel models.ContactRelationship
	if err := r.db.WithContext(ctx).Preload("Requester").Preload("Recipient").First(&rel, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("ContactRequest", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &rel, nil
}

// GetBetween returns the relationship row of the pair in either direction, or nil.
func (r *contactRepository) GetBetween(ctx context.Context, userA, userB uint) (*models.ContactRelationship, error) {
	var rel models.ContactRelationship
	if err := r.db.WithContext(ctx).
		Where("pair_key = ?", models.PairKey(userA, userB)).
		Preload("Requester").
		Preload("Recipient").
		First(&rel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &rel, nil
}

// Update persists direction and status of an existing row.
func (r *contactRepository) Update(ctx context.Context, rel *models.ContactRelationship) error {
	rel.UpdatedAt = time.Now()
	if err := r.db.WithContext(ctx).
		Model(&models.ContactRelationship{}).
		Where("id = ?", rel.ID).
		Updates(map[string]interface{}{
			"requester_id": rel.RequesterID,
			"recipient_id": rel.RecipientID,
			"status":       rel.Status,
			"updated_at":   rel.UpdatedAt,
		}).Error; err != nil {
		r.log.LogError(ctx, err, "update")
		return models.NewInternalError(err)
	}
	return nil
}

func (r *contactRepository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&models.ContactRelationship{}, id).Error; err != nil {
		r.log.LogError(ctx, err, "delete")
		return models.NewInternalError(err)
	}
	return nil
}

// ListContacts returns the counterpart users of every ACTIVE relationship of userID.
func (r *contactRepository) ListContacts(ctx context.Context, userID uint) ([]models.User, error) {
	var users []models.User
	if err := r.db.WithContext(ctx).
		Table("users").
		Joins("JOIN contact_relationships cr ON (users.id = cr.requester_id OR users.id = cr.recipient_id)").
		Where("cr.status = ? AND (cr.requester_id = ? OR cr.recipient_id = ?) AND users.id <> ?",
			models.ContactActive, userID, userID, userID).
		Order("users.username ASC").
		Find(&users).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return users, nil
}

func (r *contactRepository) ListSentPending(ctx context.Context, userID uint) ([]models.ContactRelationship, error) {
	var rels []models.ContactRelationship
	if err := r.db.WithContext(ctx).
		Where("requester_id = ? AND status = ?", userID, models.ContactPending).
		Preload("Recipient").
		Order("id DESC").
		Find(&rels).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return rels, nil
}

func (r *contactRepository) ListReceivedPending(ctx context.Context, userID uint) ([]models.ContactRelationship, error) {
	var rels []models.ContactRelationship
	if err := r.db.WithContext(ctx).
		Where("recipient_id = ? AND status = ?", userID, models.ContactPending).
		Preload("Requester").
		Order("id DESC").
		Find(&rels).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return rels, nil
}
