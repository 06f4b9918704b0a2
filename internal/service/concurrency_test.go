package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"huddle/internal/models"
	"huddle/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// race runs each fn in its own goroutine, released together, and waits for all.
func race(fns ...func()) {
	start := make(chan struct{})
	var wg sync.WaitGroup
	for _, fn := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			fn()
		}()
	}
	close(start)
	wg.Wait()
}

func TestConcurrent_AddMembersOverlap(t *testing.T) {
	f := newFixture(t, "Ann A", "Bob B", "Cy C", "Di D", "Ed E")
	ctx := context.Background()
	conv := f.group(t, "Trip", 0, 1, 2)

	var errA, errB error
	race(
		func() { _, _, errA = f.convs.AddMembers(ctx, conv.ID, f.id(0), []uint{f.id(3)}) },
		func() { _, _, errB = f.convs.AddMembers(ctx, conv.ID, f.id(0), []uint{f.id(3), f.id(4)}) },
	)

	if errA == nil {
		require.Error(t, errB)
		assert.Equal(t, models.CodeConflict, codeOf(errB))
	} else {
		require.NoError(t, errB)
		assert.Equal(t, models.CodeConflict, codeOf(errA))
	}

	stored, err := f.convs.Get(ctx, conv.ID)
	require.NoError(t, err)
	want := []uint{f.id(0), f.id(1), f.id(2), f.id(3)}
	if errB == nil {
		want = append(want, f.id(4))
	}
	assert.ElementsMatch(t, want, stored.MemberIDs())
}

func TestConcurrent_RejectAndCancel(t *testing.T) {
	f := newFixture(t, "Ann A", "Bob B")
	ctx := context.Background()
	rel, err := f.contacts.Request(ctx, f.id(0), f.id(1))
	require.NoError(t, err)

	var rejectErr, cancelErr error
	race(
		func() { _, rejectErr = f.contacts.Reject(ctx, rel.ID, f.id(1)) },
		func() { _, cancelErr = f.contacts.Cancel(ctx, rel.ID, f.id(0)) },
	)

	stored, err := repository.NewContactRepository(f.db).GetByID(ctx, rel.ID)
	require.NoError(t, err)
	if rejectErr == nil {
		assert.Equal(t, models.CodeConflict, codeOf(cancelErr))
		assert.Equal(t, models.ContactReject, stored.Status)
	} else {
		require.NoError(t, cancelErr)
		assert.Equal(t, models.CodeConflict, codeOf(rejectErr))
		assert.Equal(t, models.ContactCancel, stored.Status)
	}
}

// Accepting is allowed from any non-active status, so accept always lands and
// cancel only lands when it runs first.
func TestConcurrent_AcceptAndCancel(t *testing.T) {
	f := newFixture(t, "Ann A", "Bob B")
	ctx := context.Background()
	rel, err := f.contacts.Request(ctx, f.id(0), f.id(1))
	require.NoError(t, err)

	var acceptErr, cancelErr error
	var conv *models.Conversation
	race(
		func() { _, conv, acceptErr = f.contacts.Accept(ctx, rel.ID, f.id(1)) },
		func() { _, cancelErr = f.contacts.Cancel(ctx, rel.ID, f.id(0)) },
	)

	require.NoError(t, acceptErr)
	require.NotNil(t, conv)
	if cancelErr != nil {
		assert.Equal(t, models.CodeConflict, codeOf(cancelErr))
	}

	view, _, err := f.contacts.StatusBetween(ctx, f.id(0), f.id(1))
	require.NoError(t, err)
	assert.Equal(t, ContactViewActive, view)
}

func TestConcurrent_CreateDirectBothOrders(t *testing.T) {
	f := newFixture(t, "Ann A", "Bob B")
	ctx := context.Background()

	const n = 8
	ids := make([]uint, n)
	errs := make([]error, n)
	fns := make([]func(), 0, n)
	for i := 0; i < n; i++ {
		a, b := f.id(0), f.id(1)
		if i%2 == 1 {
			a, b = b, a
		}
		fns = append(fns, func() {
			conv, err := f.convs.CreateDirect(ctx, a, b)
			errs[i] = err
			if conv != nil {
				ids[i] = conv.ID
			}
		})
	}
	race(fns...)

	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	var count int64
	require.NoError(t, f.db.Model(&models.Conversation{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	f.rooms.mu.Lock()
	defer f.rooms.mu.Unlock()
	assert.ElementsMatch(t, []string{roomKey(f.id(0), ids[0]), roomKey(f.id(1), ids[0])}, f.rooms.joins)
}

// orderedRoomSync logs room operations in the order they are applied and can
// park the first join of one user until released.
type orderedRoomSync struct {
	mu  sync.Mutex
	ops []string

	parkUser uint
	parked   chan struct{}
	release  chan struct{}
	once     sync.Once
}

func (o *orderedRoomSync) JoinUser(_ context.Context, userID, convID uint) {
	if userID == o.parkUser {
		first := false
		o.once.Do(func() { first = true })
		if first {
			close(o.parked)
			<-o.release
		}
	}
	o.log("join", userID, convID)
}

func (o *orderedRoomSync) LeaveUser(_ context.Context, userID, convID uint) {
	o.log("leave", userID, convID)
}

func (o *orderedRoomSync) CloseRoom(_ context.Context, convID uint) {
	o.log("close", 0, convID)
}

func (o *orderedRoomSync) log(op string, userID, convID uint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops = append(o.ops, fmt.Sprintf("%s %s", op, roomKey(userID, convID)))
}

// joined replays the log and reports whether userID ends up in convID's room.
func (o *orderedRoomSync) joined(userID, convID uint) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	in := false
	for _, op := range o.ops {
		switch op {
		case "join " + roomKey(userID, convID):
			in = true
		case "leave " + roomKey(userID, convID), "close " + roomKey(0, convID):
			in = false
		}
	}
	return in
}

func TestConcurrent_RoomSyncFollowsCommitOrder(t *testing.T) {
	f := newFixture(t, "Ann A", "Bob B", "Cy C", "Di D")
	ctx := context.Background()

	rooms := &orderedRoomSync{parkUser: f.id(3), parked: make(chan struct{}), release: make(chan struct{})}
	convs := NewConversationService(repository.NewConversationRepository(f.db), repository.NewUserRepository(f.db), rooms, f.locks)

	conv, err := convs.CreateGroup(ctx, CreateGroupInput{CreatorID: f.id(0), MemberIDs: []uint{f.id(1), f.id(2)}, Name: "Trip"})
	require.NoError(t, err)

	addDone := make(chan error, 1)
	go func() {
		_, _, err := convs.AddMembers(ctx, conv.ID, f.id(0), []uint{f.id(3)})
		addDone <- err
	}()
	<-rooms.parked

	removeDone := make(chan error, 1)
	go func() {
		_, err := convs.RemoveMember(ctx, conv.ID, f.id(0), f.id(3))
		removeDone <- err
	}()

	// The removal waits for the add, room join included.
	assert.Never(t, func() bool { return len(removeDone) > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	close(rooms.release)
	require.NoError(t, <-addDone)
	require.NoError(t, <-removeDone)

	member, err := convs.IsMember(ctx, conv.ID, f.id(3))
	require.NoError(t, err)
	assert.False(t, member)
	assert.Equal(t, member, rooms.joined(f.id(3), conv.ID))

	rooms.mu.Lock()
	defer rooms.mu.Unlock()
	assert.Equal(t, []string{"join " + roomKey(f.id(3), conv.ID), "leave " + roomKey(f.id(3), conv.ID)}, rooms.ops[len(rooms.ops)-2:])
}

func TestConcurrent_RoomsFollowMembershipUnderChurn(t *testing.T) {
	f := newFixture(t, "Ann A", "Bob B", "Cy C", "Di D")
	ctx := context.Background()

	rooms := &orderedRoomSync{}
	convs := NewConversationService(repository.NewConversationRepository(f.db), repository.NewUserRepository(f.db), rooms, f.locks)
	conv, err := convs.CreateGroup(ctx, CreateGroupInput{CreatorID: f.id(0), MemberIDs: []uint{f.id(1), f.id(2)}, Name: "Trip"})
	require.NoError(t, err)

	fns := make([]func(), 0, 20)
	for i := 0; i < 10; i++ {
		fns = append(fns,
			func() { _, _, _ = convs.AddMembers(ctx, conv.ID, f.id(0), []uint{f.id(3)}) },
			func() { _, _ = convs.RemoveMember(ctx, conv.ID, f.id(0), f.id(3)) },
		)
	}
	race(fns...)

	member, err := convs.IsMember(ctx, conv.ID, f.id(3))
	require.NoError(t, err)
	assert.Equal(t, member, rooms.joined(f.id(3), conv.ID))
}
