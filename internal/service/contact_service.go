package service

import (
	"context"

	"huddle/internal/models"
	"huddle/internal/repository"
)

// Contact status as seen by one side of a pair.
const (
	ContactViewNone            = "none"
	ContactViewPendingSent     = "pending_sent"
	ContactViewPendingReceived = "pending_received"
	ContactViewActive          = "active"
	ContactViewReject          = "reject"
	ContactViewCancel          = "cancel"
)

// ContactService runs the contact request state machine.
type ContactService struct {
	contactRepo repository.ContactRepository
	userRepo    repository.UserRepository
	convs       *ConversationService
	locks       *KeyedMutex
}

// NewContactService returns a new ContactService.
func NewContactService(
	contactRepo repository.ContactRepository,
	userRepo repository.UserRepository,
	convs *ConversationService,
	locks *KeyedMutex,
) *ContactService {
	if locks == nil {
		locks = NewKeyedMutex()
	}
	return &ContactService{
		contactRepo: contactRepo,
		userRepo:    userRepo,
		convs:       convs,
		locks:       locks,
	}
}

// Request sends a contact request. A previous non-active row for the pair is
// reset to PENDING in the new direction.
func (s *ContactService) Request(ctx context.Context, requesterID, recipientID uint) (*models.ContactRelationship, error) {
	if requesterID == recipientID {
		return nil, models.NewValidationError("Cannot send a contact request to yourself")
	}
	if _, err := s.userRepo.GetByID(ctx, recipientID); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(contactLockKey(requesterID, recipientID))
	defer unlock()

	existing, err := s.contactRepo.GetBetween(ctx, requesterID, recipientID)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		rel := &models.ContactRelationship{
			RequesterID: requesterID,
			RecipientID: recipientID,
			Status:      models.ContactPending,
		}
		if err := s.contactRepo.Create(ctx, rel); err != nil {
			return nil, err
		}
		return s.contactRepo.GetByID(ctx, rel.ID)
	}

	if existing.Status == models.ContactActive {
		return nil, models.NewConflictError("You are already contacts")
	}
	existing.RequesterID = requesterID
	existing.RecipientID = recipientID
	existing.Status = models.ContactPending
	if err := s.contactRepo.Update(ctx, existing); err != nil {
		return nil, err
	}
	return s.contactRepo.GetByID(ctx, existing.ID)
}

// Accept makes the pair contacts and ensures their direct conversation exists.
func (s *ContactService) Accept(ctx context.Context, requestID, actorID uint) (*models.ContactRelationship, *models.Conversation, error) {
	rel, unlock, err := s.lockRequest(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	if rel.RecipientID != actorID {
		return nil, nil, models.NewForbiddenError("Only the recipient can accept this request")
	}
	if rel.Status == models.ContactActive {
		return nil, nil, models.NewConflictError("Contact request was already accepted")
	}

	conv, err := s.convs.CreateDirect(ctx, rel.RequesterID, rel.RecipientID)
	if err != nil {
		return nil, nil, err
	}

	rel.Status = models.ContactActive
	if err := s.contactRepo.Update(ctx, rel); err != nil {
		return nil, nil, err
	}
	updated, err := s.contactRepo.GetByID(ctx, rel.ID)
	if err != nil {
		return nil, nil, err
	}
	return updated, conv, nil
}

// Reject declines a pending request. Only the recipient may reject.
func (s *ContactService) Reject(ctx context.Context, requestID, actorID uint) (*models.ContactRelationship, error) {
	return s.closePending(ctx, requestID, actorID, models.ContactReject)
}

// Cancel withdraws a pending request. Only the requester may cancel.
func (s *ContactService) Cancel(ctx context.Context, requestID, actorID uint) (*models.ContactRelationship, error) {
	return s.closePending(ctx, requestID, actorID, models.ContactCancel)
}

func (s *ContactService) closePending(ctx context.Context, requestID, actorID uint, to models.ContactStatus) (*models.ContactRelationship, error) {
	rel, unlock, err := s.lockRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	switch to {
	case models.ContactReject:
		if rel.RecipientID != actorID {
			return nil, models.NewForbiddenError("Only the recipient can reject this request")
		}
	case models.ContactCancel:
		if rel.RequesterID != actorID {
			return nil, models.NewForbiddenError("Only the requester can cancel this request")
		}
	}
	if rel.Status != models.ContactPending {
		return nil, models.NewConflictError("Contact request is not pending")
	}

	rel.Status = to
	if err := s.contactRepo.Update(ctx, rel); err != nil {
		return nil, err
	}
	return s.contactRepo.GetByID(ctx, rel.ID)
}

// Unfriend deletes an active relationship. The direct conversation is kept.
// It returns the relationship as it was before deletion.
func (s *ContactService) Unfriend(ctx context.Context, actorID, otherID uint) (*models.ContactRelationship, error) {
	if actorID == otherID {
		return nil, models.NewValidationError("Cannot unfriend yourself")
	}

	unlock := s.locks.Lock(contactLockKey(actorID, otherID))
	defer unlock()

	rel, err := s.contactRepo.GetBetween(ctx, actorID, otherID)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, models.NewNotFoundError("Contact", otherID)
	}
	if rel.Status != models.ContactActive {
		return nil, models.NewConflictError("You are not contacts")
	}
	if err := s.contactRepo.Delete(ctx, rel.ID); err != nil {
		return nil, err
	}
	return rel, nil
}

// lockRequest takes the pair lock of a request and re-reads the row under it.
func (s *ContactService) lockRequest(ctx context.Context, requestID uint) (*models.ContactRelationship, func(), error) {
	rel, err := s.contactRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	unlock := s.locks.Lock(contactLockKey(rel.RequesterID, rel.RecipientID))
	rel, err = s.contactRepo.GetByID(ctx, requestID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return rel, unlock, nil
}

// ListContacts returns the users with an active relationship to userID.
func (s *ContactService) ListContacts(ctx context.Context, userID uint) ([]models.User, error) {
	return s.contactRepo.ListContacts(ctx, userID)
}

// ListSentPending returns pending requests sent by userID.
func (s *ContactService) ListSentPending(ctx context.Context, userID uint) ([]models.ContactRelationship, error) {
	return s.contactRepo.ListSentPending(ctx, userID)
}

// ListReceivedPending returns pending requests addressed to userID.
func (s *ContactService) ListReceivedPending(ctx context.Context, userID uint) ([]models.ContactRelationship, error) {
	return s.contactRepo.ListReceivedPending(ctx, userID)
}

// StatusBetween describes the relationship from viewerID's side.
func (s *ContactService) StatusBetween(ctx context.Context, viewerID, otherID uint) (string, *models.ContactRelationship, error) {
	if viewerID == otherID {
		return ContactViewNone, nil, nil
	}
	rel, err := s.contactRepo.GetBetween(ctx, viewerID, otherID)
	if err != nil {
		return "", nil, err
	}
	if rel == nil {
		return ContactViewNone, nil, nil
	}

	switch rel.Status {
	case models.ContactPending:
		if rel.RequesterID == viewerID {
			return ContactViewPendingSent, rel, nil
		}
		return ContactViewPendingReceived, rel, nil
	case models.ContactActive:
		return ContactViewActive, rel, nil
	case models.ContactReject:
		return ContactViewReject, rel, nil
	case models.ContactCancel:
		return ContactViewCancel, rel, nil
	}
	return ContactViewNone, rel, nil
}
