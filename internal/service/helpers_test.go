package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"huddle/internal/database"
	"huddle/internal/featureflags"
	"huddle/internal/models"
	"huddle/internal/repository"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type roomSyncRecorder struct {
	mu     sync.Mutex
	joins  []string
	leaves []string
	closed []uint
}

func (r *roomSyncRecorder) JoinUser(_ context.Context, userID, convID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joins = append(r.joins, roomKey(userID, convID))
}

func (r *roomSyncRecorder) LeaveUser(_ context.Context, userID, convID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaves = append(r.leaves, roomKey(userID, convID))
}

func (r *roomSyncRecorder) CloseRoom(_ context.Context, convID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, convID)
}

type uploaderStub struct {
	uploaded []string
	err      error
}

func (u *uploaderStub) UploadFile(_ context.Context, fileName string, _ []byte) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.uploaded = append(u.uploaded, fileName)
	return "/uploads/" + fileName, nil
}

type fixture struct {
	db       *gorm.DB
	users    []models.User
	rooms    *roomSyncRecorder
	uploader *uploaderStub
	locks    *KeyedMutex
	convs    *ConversationService
	contacts *ContactService
	messages *MessageService
	calls    *CallService
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return db
}

// newFixture wires every service over one in-memory database and seeds users
// from display names.
func newFixture(t *testing.T, displayNames ...string) *fixture {
	t.Helper()
	db := setupTestDB(t)

	f := &fixture{
		db:       db,
		rooms:    &roomSyncRecorder{},
		uploader: &uploaderStub{},
		locks:    NewKeyedMutex(),
	}
	for i, name := range displayNames {
		u := models.User{Username: fmt.Sprintf("user%d", i+1), DisplayName: name}
		require.NoError(t, db.Create(&u).Error)
		f.users = append(f.users, u)
	}

	userRepo := repository.NewUserRepository(db)
	f.convs = NewConversationService(repository.NewConversationRepository(db), userRepo, f.rooms, f.locks)
	f.contacts = NewContactService(repository.NewContactRepository(db), userRepo, f.convs, f.locks)
	f.messages = NewMessageService(repository.NewMessageRepository(db), f.convs, f.uploader, featureflags.Parse("call_history=on"), f.locks)
	f.calls = NewCallService(f.convs)
	return f
}

func (f *fixture) id(i int) uint {
	return f.users[i].ID
}

func (f *fixture) group(t *testing.T, name string, creator int, others ...int) *models.Conversation {
	t.Helper()
	ids := make([]uint, 0, len(others))
	for _, o := range others {
		ids = append(ids, f.id(o))
	}
	conv, err := f.convs.CreateGroup(context.Background(), CreateGroupInput{CreatorID: f.id(creator), MemberIDs: ids, Name: name})
	require.NoError(t, err)
	return conv
}

func (f *fixture) send(t *testing.T, convID uint, sender int, content string) *models.Message {
	t.Helper()
	msg, err := f.messages.Create(context.Background(), CreateMessageInput{
		ConversationID: convID,
		SenderID:       f.id(sender),
		Content:        content,
		Type:           models.MessageTypeText,
	}, nil)
	require.NoError(t, err)
	return msg
}

func roomKey(userID, convID uint) string {
	return fmt.Sprintf("%d@%d", userID, convID)
}

func codeOf(err error) string {
	return models.ErrorCode(err)
}
