package service

import (
	"context"
	"errors"
	"testing"

	"huddle/internal/models"
	"huddle/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type convRepoStub struct {
	repository.ConversationRepository
	findDirectFn func(context.Context, uint, uint) (*models.Conversation, error)
	createFn     func(context.Context, *models.Conversation) error
}

func (s *convRepoStub) FindDirect(ctx context.Context, a, b uint) (*models.Conversation, error) {
	return s.findDirectFn(ctx, a, b)
}

func (s *convRepoStub) Create(ctx context.Context, conv *models.Conversation) error {
	return s.createFn(ctx, conv)
}

type userRepoStub struct {
	repository.UserRepository
	getByIDFn func(context.Context, uint) (*models.User, error)
}

func (s *userRepoStub) GetByID(ctx context.Context, id uint) (*models.User, error) {
	return s.getByIDFn(ctx, id)
}

func TestConversationService_CreateDirect_StoreErrorMutatesNothing(t *testing.T) {
	created := false
	repo := &convRepoStub{
		findDirectFn: func(context.Context, uint, uint) (*models.Conversation, error) {
			return nil, models.NewInternalError(errors.New("db down"))
		},
		createFn: func(context.Context, *models.Conversation) error {
			created = true
			return nil
		},
	}
	users := &userRepoStub{getByIDFn: func(_ context.Context, id uint) (*models.User, error) {
		return &models.User{ID: id}, nil
	}}
	rooms := &roomSyncRecorder{}

	svc := NewConversationService(repo, users, rooms, nil)
	_, err := svc.CreateDirect(context.Background(), 1, 2)

	assert.Equal(t, models.CodeInternal, codeOf(err))
	assert.False(t, created)
	assert.Empty(t, rooms.joins)
}

func TestConversationService_CreateDirect(t *testing.T) {
	f := newFixture(t, "Ada Lovelace", "Grace Hopper", "Linus Torvalds")
	ctx := context.Background()

	t.Run("idempotent in either order", func(t *testing.T) {
		first, err := f.convs.CreateDirect(ctx, f.id(0), f.id(1))
		require.NoError(t, err)
		second, err := f.convs.CreateDirect(ctx, f.id(1), f.id(0))
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.False(t, first.IsGroup)
		for _, m := range first.Members {
			assert.Equal(t, models.RoleMember, m.Role)
		}
		// rooms are joined on creation only
		assert.Len(t, f.rooms.joins, 2)
	})

	t.Run("self is invalid", func(t *testing.T) {
		_, err := f.convs.CreateDirect(ctx, f.id(0), f.id(0))
		assert.Equal(t, models.CodeValidation, codeOf(err))
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := f.convs.CreateDirect(ctx, f.id(0), 999)
		assert.Equal(t, models.CodeNotFound, codeOf(err))
	})
}

func TestConversationService_CreateGroup(t *testing.T) {
	f := newFixture(t, "Ada Lovelace", "Grace Hopper", "Linus Torvalds", "Ken Thompson")
	ctx := context.Background()

	t.Run("default name and roles", func(t *testing.T) {
		conv, err := f.convs.CreateGroup(ctx, CreateGroupInput{
			CreatorID: f.id(0),
			MemberIDs: []uint{f.id(1), f.id(2), f.id(1)},
		})
		require.NoError(t, err)

		assert.True(t, conv.IsGroup)
		assert.Equal(t, "Lovelace, Hopper, Torvalds", conv.Name)
		assert.Equal(t, []uint{f.id(0), f.id(1), f.id(2)}, conv.MemberIDs())
		assert.Equal(t, models.RoleAdmin, conv.Member(f.id(0)).Role)
		assert.Equal(t, models.RoleMember, conv.Member(f.id(1)).Role)
	})

	t.Run("same name and members conflicts", func(t *testing.T) {
		members := []uint{f.id(1), f.id(2), f.id(3)}
		_, err := f.convs.CreateGroup(ctx, CreateGroupInput{CreatorID: f.id(0), MemberIDs: members, Name: "Trip"})
		require.NoError(t, err)

		_, err = f.convs.CreateGroup(ctx, CreateGroupInput{CreatorID: f.id(1), MemberIDs: []uint{f.id(0), f.id(2), f.id(3)}, Name: "Trip"})
		assert.Equal(t, models.CodeConflict, codeOf(err))

		other, err := f.convs.CreateGroup(ctx, CreateGroupInput{CreatorID: f.id(0), MemberIDs: members, Name: "Trip 2"})
		require.NoError(t, err)
		assert.Equal(t, "Trip 2", other.Name)

		subset, err := f.convs.CreateGroup(ctx, CreateGroupInput{CreatorID: f.id(0), MemberIDs: members[:2], Name: "Trip"})
		require.NoError(t, err)
		assert.Len(t, subset.Members, 3)
	})

	t.Run("two users fall back to direct", func(t *testing.T) {
		conv, err := f.convs.CreateGroup(ctx, CreateGroupInput{CreatorID: f.id(2), MemberIDs: []uint{f.id(3)}, Name: "ignored"})
		require.NoError(t, err)
		direct, err := f.convs.CreateDirect(ctx, f.id(3), f.id(2))
		require.NoError(t, err)

		assert.False(t, conv.IsGroup)
		assert.Equal(t, direct.ID, conv.ID)
	})

	t.Run("unknown member", func(t *testing.T) {
		_, err := f.convs.CreateGroup(ctx, CreateGroupInput{CreatorID: f.id(0), MemberIDs: []uint{f.id(1), 999}})
		assert.Equal(t, models.CodeNotFound, codeOf(err))
	})

	t.Run("alone is invalid", func(t *testing.T) {
		_, err := f.convs.CreateGroup(ctx, CreateGroupInput{CreatorID: f.id(0)})
		assert.Equal(t, models.CodeValidation, codeOf(err))
	})
}

func TestConversationService_AddMembers(t *testing.T) {
	f := newFixture(t, "A One", "B Two", "C Three", "D Four")
	ctx := context.Background()
	group := f.group(t, "Team", 0, 1, 2)

	_, _, err := f.convs.AddMembers(ctx, group.ID, f.id(3), []uint{f.id(3)})
	assert.Equal(t, models.CodeForbidden, codeOf(err))

	_, _, err = f.convs.AddMembers(ctx, group.ID, f.id(1), []uint{f.id(2)})
	assert.Equal(t, models.CodeConflict, codeOf(err))

	_, _, err = f.convs.AddMembers(ctx, group.ID, f.id(1), nil)
	assert.Equal(t, models.CodeValidation, codeOf(err))

	direct, err := f.convs.CreateDirect(ctx, f.id(0), f.id(1))
	require.NoError(t, err)
	_, _, err = f.convs.AddMembers(ctx, direct.ID, f.id(0), []uint{f.id(3)})
	assert.Equal(t, models.CodeValidation, codeOf(err))

	_, _, err = f.convs.AddMembers(ctx, 999, f.id(0), []uint{f.id(3)})
	assert.Equal(t, models.CodeNotFound, codeOf(err))

	conv, added, err := f.convs.AddMembers(ctx, group.ID, f.id(1), []uint{f.id(3)})
	require.NoError(t, err)
	assert.Equal(t, []uint{f.id(3)}, added)
	assert.True(t, conv.IsMember(f.id(3)))
	assert.Equal(t, models.RoleMember, conv.Member(f.id(3)).Role)
	assert.Contains(t, f.rooms.joins, roomKey(f.id(3), group.ID))
}

func TestConversationService_RemoveMember(t *testing.T) {
	f := newFixture(t, "A One", "B Two", "C Three")
	ctx := context.Background()
	group := f.group(t, "Team", 0, 1, 2)

	t.Run("members cannot remove others", func(t *testing.T) {
		_, err := f.convs.RemoveMember(ctx, group.ID, f.id(1), f.id(2))
		assert.Equal(t, models.CodeForbidden, codeOf(err))
	})

	t.Run("admin leaving promotes earliest member", func(t *testing.T) {
		conv, err := f.convs.RemoveMember(ctx, group.ID, f.id(0), f.id(0))
		require.NoError(t, err)
		assert.False(t, conv.IsMember(f.id(0)))
		assert.Equal(t, models.RoleAdmin, conv.Member(f.id(1)).Role)
		assert.Equal(t, models.RoleMember, conv.Member(f.id(2)).Role)
		assert.Contains(t, f.rooms.leaves, roomKey(f.id(0), group.ID))
	})

	t.Run("last member conflicts", func(t *testing.T) {
		_, err := f.convs.RemoveMember(ctx, group.ID, f.id(1), f.id(2))
		require.NoError(t, err)

		_, err = f.convs.RemoveMember(ctx, group.ID, f.id(1), f.id(1))
		assert.Equal(t, models.CodeConflict, codeOf(err))

		conv, err := f.convs.Get(ctx, group.ID)
		require.NoError(t, err)
		assert.Equal(t, []uint{f.id(1)}, conv.MemberIDs())
	})
}

func TestConversationService_Dissolve(t *testing.T) {
	f := newFixture(t, "A One", "B Two", "C Three")
	ctx := context.Background()
	group := f.group(t, "Team", 0, 1, 2)
	msg := f.send(t, group.ID, 1, "hello")

	_, err := f.convs.Dissolve(ctx, group.ID, f.id(1))
	assert.Equal(t, models.CodeForbidden, codeOf(err))

	before, err := f.convs.Dissolve(ctx, group.ID, f.id(0))
	require.NoError(t, err)
	assert.Len(t, before.Members, 3)
	assert.Equal(t, []uint{group.ID}, f.rooms.closed)

	_, err = f.convs.Get(ctx, group.ID)
	assert.Equal(t, models.CodeNotFound, codeOf(err))
	_, err = f.messages.Get(ctx, msg.ID, f.id(1))
	assert.Equal(t, models.CodeNotFound, codeOf(err))
}

func TestConversationService_RenameAndRoles(t *testing.T) {
	f := newFixture(t, "A One", "B Two", "C Three")
	ctx := context.Background()
	group := f.group(t, "Team", 0, 1, 2)

	_, err := f.convs.Rename(ctx, group.ID, f.id(1), "New")
	assert.Equal(t, models.CodeForbidden, codeOf(err))
	_, err = f.convs.Rename(ctx, group.ID, f.id(0), "   ")
	assert.Equal(t, models.CodeValidation, codeOf(err))

	conv, err := f.convs.Rename(ctx, group.ID, f.id(0), " Renamed ")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", conv.Name)

	_, err = f.convs.SetRole(ctx, group.ID, f.id(0), f.id(1), models.RoleOwner)
	assert.Equal(t, models.CodeValidation, codeOf(err))

	_, err = f.convs.SetRole(ctx, group.ID, f.id(0), f.id(0), models.RoleMember)
	assert.Equal(t, models.CodeConflict, codeOf(err))

	conv, err = f.convs.SetRole(ctx, group.ID, f.id(0), f.id(1), models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, conv.Member(f.id(1)).Role)

	conv, err = f.convs.SetRole(ctx, group.ID, f.id(1), f.id(0), models.RoleMember)
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, conv.Member(f.id(0)).Role)
}

func TestConversationService_Reads(t *testing.T) {
	f := newFixture(t, "A One", "B Two", "C Three", "D Four")
	ctx := context.Background()
	group := f.group(t, "Team", 0, 1, 2)
	direct, err := f.convs.CreateDirect(ctx, f.id(0), f.id(3))
	require.NoError(t, err)

	_, err = f.convs.GetForMember(ctx, group.ID, f.id(3))
	assert.Equal(t, models.CodeForbidden, codeOf(err))

	ids, err := f.convs.ConversationIDsForUser(ctx, f.id(0))
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{group.ID, direct.ID}, ids)

	f.send(t, group.ID, 1, "latest")
	list, err := f.convs.ListForUser(ctx, f.id(0))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, group.ID, list[0].ID)
	assert.Equal(t, "latest", list[0].LastMessage.Content)
}
