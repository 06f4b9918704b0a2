package service

import (
	"context"
	"slices"
	"strings"

	"huddle/internal/models"
	"huddle/internal/repository"
)

const maxConversationNameLen = 255

// ConversationService owns conversation membership and the last-message summary.
type ConversationService struct {
	convRepo repository.ConversationRepository
	userRepo repository.UserRepository
	rooms    RoomSync
	locks    *KeyedMutex
}

// CreateGroupInput holds the fields of a new group conversation.
type CreateGroupInput struct {
	CreatorID uint
	MemberIDs []uint
	Name      string
	Avatar    string
}

// NewConversationService returns a new ConversationService. rooms may be nil.
func NewConversationService(
	convRepo repository.ConversationRepository,
	userRepo repository.UserRepository,
	rooms RoomSync,
	locks *KeyedMutex,
) *ConversationService {
	if rooms == nil {
		rooms = noopRoomSync{}
	}
	if locks == nil {
		locks = NewKeyedMutex()
	}
	return &ConversationService{
		convRepo: convRepo,
		userRepo: userRepo,
		rooms:    rooms,
		locks:    locks,
	}
}

// CreateDirect returns the direct conversation of a and b, creating it on first use.
func (s *ConversationService) CreateDirect(ctx context.Context, a, b uint) (*models.Conversation, error) {
	if a == 0 || b == 0 {
		return nil, models.NewValidationError("Both users are required")
	}
	if a == b {
		return nil, models.NewValidationError("Cannot start a conversation with yourself")
	}
	for _, id := range []uint{a, b} {
		if _, err := s.userRepo.GetByID(ctx, id); err != nil {
			return nil, err
		}
	}

	unlock := s.locks.Lock(directLockKey(a, b))
	defer unlock()

	conv, created, err := s.findOrCreateDirect(ctx, a, b)
	if err != nil {
		return nil, err
	}
	if created {
		s.rooms.JoinUser(ctx, a, conv.ID)
		s.rooms.JoinUser(ctx, b, conv.ID)
	}
	return conv, nil
}

func (s *ConversationService) findOrCreateDirect(ctx context.Context, a, b uint) (*models.Conversation, bool, error) {
	existing, err := s.convRepo.FindDirect(ctx, a, b)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	key := models.PairKey(a, b)
	conv := &models.Conversation{
		CreatedBy: a,
		DirectKey: &key,
		Members: []models.ConversationMember{
			{UserID: a, Role: models.RoleMember},
			{UserID: b, Role: models.RoleMember},
		},
	}
	if err := s.convRepo.Create(ctx, conv); err != nil {
		// Another instance may have won the unique direct key.
		if existing, findErr := s.convRepo.FindDirect(ctx, a, b); findErr == nil && existing != nil {
			return existing, false, nil
		}
		return nil, false, err
	}

	created, err := s.convRepo.GetByID(ctx, conv.ID)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// CreateGroup creates a group conversation. With two or fewer distinct users it
// returns their direct conversation instead.
func (s *ConversationService) CreateGroup(ctx context.Context, in CreateGroupInput) (*models.Conversation, error) {
	if in.CreatorID == 0 {
		return nil, models.NewValidationError("Creator is required")
	}

	ids := dedupIDs(append([]uint{in.CreatorID}, in.MemberIDs...))
	if len(ids) < 2 {
		return nil, models.NewValidationError("A group needs at least one other member")
	}

	users, err := s.resolveUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(ids) == 2 {
		return s.CreateDirect(ctx, ids[0], ids[1])
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		lastNames := make([]string, 0, len(users))
		for i := range users {
			if n := strings.TrimSpace(users[i].LastName()); n != "" {
				lastNames = append(lastNames, n)
			}
		}
		name = strings.Join(lastNames, ", ")
	}
	if name == "" {
		return nil, models.NewValidationError("Group name is required")
	}
	if len([]rune(name)) > maxConversationNameLen {
		return nil, models.NewValidationError("Group name is too long")
	}

	unlock := s.locks.Lock(groupNameLockKey(name))
	defer unlock()
	return s.createGroupLocked(ctx, in, ids, name)
}

func (s *ConversationService) createGroupLocked(ctx context.Context, in CreateGroupInput, ids []uint, name string) (*models.Conversation, error) {
	sameName, err := s.convRepo.FindGroupsByName(ctx, name)
	if err != nil {
		return nil, err
	}
	for i := range sameName {
		if sameMemberSet(sameName[i].MemberIDs(), ids) {
			return nil, models.NewConflictError("A group with this name and these members already exists")
		}
	}

	members := make([]models.ConversationMember, 0, len(ids))
	for _, id := range ids {
		role := models.RoleMember
		if id == in.CreatorID {
			role = models.RoleAdmin
		}
		members = append(members, models.ConversationMember{UserID: id, Role: role})
	}

	conv := &models.Conversation{
		IsGroup:   true,
		Name:      name,
		Avatar:    in.Avatar,
		CreatedBy: in.CreatorID,
		Members:   members,
	}
	if err := s.convRepo.Create(ctx, conv); err != nil {
		return nil, err
	}

	// Lock order is group name, then conversation.
	unlockConv := s.locks.Lock(convLockKey(conv.ID))
	defer unlockConv()
	for _, id := range ids {
		s.rooms.JoinUser(ctx, id, conv.ID)
	}
	return s.convRepo.GetByID(ctx, conv.ID)
}

// AddMembers appends users to a group. It returns the updated conversation and the added ids.
func (s *ConversationService) AddMembers(ctx context.Context, convID, requesterID uint, userIDs []uint) (*models.Conversation, []uint, error) {
	ids := dedupIDs(userIDs)
	if len(ids) == 0 {
		return nil, nil, models.NewValidationError("No users to add")
	}

	unlock := s.locks.Lock(convLockKey(convID))
	defer unlock()

	conv, err := s.addMembersLocked(ctx, convID, requesterID, ids)
	if err != nil {
		return nil, nil, err
	}
	return conv, ids, nil
}

func (s *ConversationService) addMembersLocked(ctx context.Context, convID, requesterID uint, ids []uint) (*models.Conversation, error) {
	conv, err := s.convRepo.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.IsMember(requesterID) {
		return nil, models.NewForbiddenError("You are not a member of this conversation")
	}
	if !conv.IsGroup {
		return nil, models.NewValidationError("Members cannot be added to a direct conversation")
	}
	for _, id := range ids {
		if conv.IsMember(id) {
			return nil, models.NewConflictError("User is already a member of this conversation")
		}
	}
	if _, err := s.resolveUsers(ctx, ids); err != nil {
		return nil, err
	}

	rows := make([]models.ConversationMember, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, models.ConversationMember{ConversationID: convID, UserID: id, Role: models.RoleMember})
	}
	if err := s.convRepo.AddMembers(ctx, rows); err != nil {
		return nil, err
	}
	for _, id := range ids {
		s.rooms.JoinUser(ctx, id, convID)
	}
	return s.convRepo.GetByID(ctx, convID)
}

// RemoveMember removes targetID from a group. Members may always remove themselves.
func (s *ConversationService) RemoveMember(ctx context.Context, convID, requesterID, targetID uint) (*models.Conversation, error) {
	unlock := s.locks.Lock(convLockKey(convID))
	defer unlock()
	return s.removeMemberLocked(ctx, convID, requesterID, targetID)
}

func (s *ConversationService) removeMemberLocked(ctx context.Context, convID, requesterID, targetID uint) (*models.Conversation, error) {
	conv, err := s.convRepo.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.IsGroup {
		return nil, models.NewValidationError("Members cannot be removed from a direct conversation")
	}
	requester := conv.Member(requesterID)
	if requester == nil {
		return nil, models.NewForbiddenError("You are not a member of this conversation")
	}
	target := conv.Member(targetID)
	if target == nil {
		return nil, models.NewNotFoundError("ConversationMember", targetID)
	}
	if requesterID != targetID {
		if !requester.Role.CanManage() {
			return nil, models.NewForbiddenError("Only admins can remove other members")
		}
		if target.Role == models.RoleOwner {
			return nil, models.NewForbiddenError("The owner cannot be removed")
		}
	}
	if len(conv.Members) == 1 {
		return nil, models.NewConflictError("Cannot remove the last member; dissolve the group instead")
	}

	if err := s.convRepo.RemoveMember(ctx, convID, targetID); err != nil {
		return nil, err
	}
	s.rooms.LeaveUser(ctx, targetID, convID)

	if target.Role.CanManage() && !conv.HasManager(targetID) {
		for _, m := range conv.Members {
			if m.UserID == targetID {
				continue
			}
			if err := s.convRepo.UpdateRole(ctx, convID, m.UserID, models.RoleAdmin); err != nil {
				return nil, err
			}
			break
		}
	}
	return s.convRepo.GetByID(ctx, convID)
}

// Dissolve deletes a group with its members and messages. It returns the
// conversation as it was before deletion.
func (s *ConversationService) Dissolve(ctx context.Context, convID, requesterID uint) (*models.Conversation, error) {
	unlock := s.locks.Lock(convLockKey(convID))
	defer unlock()
	return s.dissolveLocked(ctx, convID, requesterID)
}

func (s *ConversationService) dissolveLocked(ctx context.Context, convID, requesterID uint) (*models.Conversation, error) {
	conv, err := s.convRepo.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.IsGroup {
		return nil, models.NewValidationError("Direct conversations cannot be dissolved")
	}
	if err := requireManager(conv, requesterID); err != nil {
		return nil, err
	}
	if err := s.convRepo.Delete(ctx, convID); err != nil {
		return nil, err
	}
	s.rooms.CloseRoom(ctx, convID)
	return conv, nil
}

// Rename changes a group's name.
func (s *ConversationService) Rename(ctx context.Context, convID, requesterID uint, name string) (*models.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, models.NewValidationError("Group name is required")
	}
	if len([]rune(name)) > maxConversationNameLen {
		return nil, models.NewValidationError("Group name is too long")
	}

	unlock := s.locks.Lock(convLockKey(convID))
	defer unlock()

	conv, err := s.convRepo.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.IsGroup {
		return nil, models.NewValidationError("Direct conversations have no name")
	}
	if err := requireManager(conv, requesterID); err != nil {
		return nil, err
	}
	if err := s.convRepo.UpdateName(ctx, convID, name); err != nil {
		return nil, err
	}
	return s.convRepo.GetByID(ctx, convID)
}

// SetRole promotes a member to ADMIN or demotes an admin to MEMBER.
func (s *ConversationService) SetRole(ctx context.Context, convID, requesterID, targetID uint, role models.MemberRole) (*models.Conversation, error) {
	if role != models.RoleMember && role != models.RoleAdmin {
		return nil, models.NewValidationError("Role must be MEMBER or ADMIN")
	}

	unlock := s.locks.Lock(convLockKey(convID))
	defer unlock()

	conv, err := s.convRepo.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.IsGroup {
		return nil, models.NewValidationError("Direct conversations have no roles")
	}
	if err := requireManager(conv, requesterID); err != nil {
		return nil, err
	}
	target := conv.Member(targetID)
	if target == nil {
		return nil, models.NewNotFoundError("ConversationMember", targetID)
	}
	if target.Role == models.RoleOwner {
		return nil, models.NewForbiddenError("The owner's role cannot be changed")
	}
	if target.Role == role {
		return conv, nil
	}
	if role == models.RoleMember && !conv.HasManager(targetID) {
		return nil, models.NewConflictError("A group needs at least one admin")
	}

	if err := s.convRepo.UpdateRole(ctx, convID, targetID, role); err != nil {
		return nil, err
	}
	return s.convRepo.GetByID(ctx, convID)
}

// SetLastMessage overwrites the conversation's last-message summary.
// Callers hold the conversation lock.
func (s *ConversationService) SetLastMessage(ctx context.Context, convID uint, msg *models.Message) error {
	return s.convRepo.SetLastMessage(ctx, convID, models.SummaryOf(msg))
}

// Get returns a conversation with its members.
func (s *ConversationService) Get(ctx context.Context, convID uint) (*models.Conversation, error) {
	return s.convRepo.GetByID(ctx, convID)
}

// GetForMember returns a conversation userID belongs to.
func (s *ConversationService) GetForMember(ctx context.Context, convID, userID uint) (*models.Conversation, error) {
	conv, err := s.convRepo.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.IsMember(userID) {
		return nil, models.NewForbiddenError("You are not a member of this conversation")
	}
	return conv, nil
}

// ListForUser returns the user's conversations, most recently active first.
func (s *ConversationService) ListForUser(ctx context.Context, userID uint) ([]models.Conversation, error) {
	return s.convRepo.ListForUser(ctx, userID)
}

// ConversationIDsForUser returns the ids of every conversation the user belongs to.
func (s *ConversationService) ConversationIDsForUser(ctx context.Context, userID uint) ([]uint, error) {
	return s.convRepo.ConversationIDsForUser(ctx, userID)
}

// IsMember reports whether userID currently belongs to convID.
func (s *ConversationService) IsMember(ctx context.Context, convID, userID uint) (bool, error) {
	return s.convRepo.IsMember(ctx, convID, userID)
}

// resolveUsers loads ids in order and fails with NotFound on the first unknown id.
func (s *ConversationService) resolveUsers(ctx context.Context, ids []uint) ([]models.User, error) {
	users, err := s.userRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(users) == len(ids) {
		return users, nil
	}
	found := make(map[uint]struct{}, len(users))
	for _, u := range users {
		found[u.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return nil, models.NewNotFoundError("User", id)
		}
	}
	return users, nil
}

func requireManager(conv *models.Conversation, userID uint) error {
	m := conv.Member(userID)
	if m == nil {
		return models.NewForbiddenError("You are not a member of this conversation")
	}
	if !m.Role.CanManage() {
		return models.NewForbiddenError("Only admins can manage this group")
	}
	return nil
}

// dedupIDs drops zeros and repeats, keeping first occurrences in order.
func dedupIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sameMemberSet(a, b []uint) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}
