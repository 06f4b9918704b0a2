package service

import "context"

// RoomSync keeps live sessions' room membership in line with persisted
// conversation membership. Calls return after local sessions are updated.
type RoomSync interface {
	JoinUser(ctx context.Context, userID, convID uint)
	LeaveUser(ctx context.Context, userID, convID uint)
	CloseRoom(ctx context.Context, convID uint)
}

type noopRoomSync struct{}

func (noopRoomSync) JoinUser(context.Context, uint, uint)  {}
func (noopRoomSync) LeaveUser(context.Context, uint, uint) {}
func (noopRoomSync) CloseRoom(context.Context, uint)       {}
