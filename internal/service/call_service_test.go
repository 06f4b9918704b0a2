package service

import (
	"context"
	"sync"
	"testing"

	"huddle/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callLog struct {
	mu    sync.Mutex
	calls []*models.CallSession
}

func (l *callLog) record(_ context.Context, call *models.CallSession) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) states() []models.CallState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.CallState, 0, len(l.calls))
	for _, c := range l.calls {
		out = append(out, c.State)
	}
	return out
}

func newCallFixture(t *testing.T, names ...string) (*fixture, *callLog) {
	t.Helper()
	f := newFixture(t, names...)
	log := &callLog{}
	f.calls.SetRecorder(log.record)
	return f, log
}

func TestCallService_DirectLifecycle(t *testing.T) {
	f, log := newCallFixture(t, "A One", "B Two", "C Three")
	ctx := context.Background()
	direct, err := f.convs.CreateDirect(ctx, f.id(0), f.id(1))
	require.NoError(t, err)

	_, err = f.calls.Accept(ctx, direct.ID, f.id(1))
	assert.Equal(t, models.CodeConflict, codeOf(err), "no call to accept")

	_, err = f.calls.Initiate(ctx, direct.ID, f.id(2), models.CallAudio)
	assert.Equal(t, models.CodeForbidden, codeOf(err))
	_, err = f.calls.Initiate(ctx, direct.ID, f.id(0), "hologram")
	assert.Equal(t, models.CodeValidation, codeOf(err))

	call, err := f.calls.Initiate(ctx, direct.ID, f.id(0), models.CallVideo)
	require.NoError(t, err)
	assert.Equal(t, models.CallRinging, call.State)
	assert.Equal(t, []uint{f.id(0)}, call.Participants)

	_, err = f.calls.Initiate(ctx, direct.ID, f.id(1), models.CallAudio)
	assert.Equal(t, models.CodeConflict, codeOf(err))

	_, err = f.calls.Accept(ctx, direct.ID, f.id(0))
	assert.Equal(t, models.CodeConflict, codeOf(err), "initiator cannot accept")
	_, err = f.calls.End(ctx, direct.ID, f.id(0))
	assert.Equal(t, models.CodeConflict, codeOf(err), "ringing call cannot end")

	call, err = f.calls.Accept(ctx, direct.ID, f.id(1))
	require.NoError(t, err)
	assert.Equal(t, models.CallAccepted, call.State)
	require.NotNil(t, call.AcceptedAt)

	_, err = f.calls.Cancel(ctx, direct.ID, f.id(0))
	assert.Equal(t, models.CodeConflict, codeOf(err))

	call, err = f.calls.End(ctx, direct.ID, f.id(1))
	require.NoError(t, err)
	assert.Equal(t, models.CallEnded, call.State)
	assert.Nil(t, f.calls.ActiveCall(direct.ID))
	assert.Equal(t, []models.CallState{models.CallEnded}, log.states())

	_, err = f.calls.Initiate(ctx, direct.ID, f.id(1), models.CallAudio)
	assert.NoError(t, err, "slot is free again")
}

func TestCallService_RejectAndCancel(t *testing.T) {
	f, log := newCallFixture(t, "A One", "B Two")
	ctx := context.Background()
	direct, err := f.convs.CreateDirect(ctx, f.id(0), f.id(1))
	require.NoError(t, err)

	_, err = f.calls.Initiate(ctx, direct.ID, f.id(0), models.CallAudio)
	require.NoError(t, err)
	_, err = f.calls.Cancel(ctx, direct.ID, f.id(1))
	assert.Equal(t, models.CodeForbidden, codeOf(err))
	_, err = f.calls.Reject(ctx, direct.ID, f.id(0))
	assert.Equal(t, models.CodeConflict, codeOf(err))

	call, err := f.calls.Reject(ctx, direct.ID, f.id(1))
	require.NoError(t, err)
	assert.Equal(t, models.CallRejected, call.State)

	_, err = f.calls.Initiate(ctx, direct.ID, f.id(1), models.CallAudio)
	require.NoError(t, err)
	call, err = f.calls.Cancel(ctx, direct.ID, f.id(1))
	require.NoError(t, err)
	assert.Equal(t, models.CallCancelled, call.State)

	assert.Equal(t, []models.CallState{models.CallRejected, models.CallCancelled}, log.states())
}

func TestCallService_UserInOneCall(t *testing.T) {
	f, _ := newCallFixture(t, "A One", "B Two", "C Three")
	ctx := context.Background()
	ab, err := f.convs.CreateDirect(ctx, f.id(0), f.id(1))
	require.NoError(t, err)
	ac, err := f.convs.CreateDirect(ctx, f.id(0), f.id(2))
	require.NoError(t, err)
	bc, err := f.convs.CreateDirect(ctx, f.id(1), f.id(2))
	require.NoError(t, err)

	_, err = f.calls.Initiate(ctx, ab.ID, f.id(0), models.CallAudio)
	require.NoError(t, err)
	_, err = f.calls.Initiate(ctx, ac.ID, f.id(0), models.CallAudio)
	assert.Equal(t, models.CodeConflict, codeOf(err))

	_, err = f.calls.Initiate(ctx, bc.ID, f.id(2), models.CallAudio)
	require.NoError(t, err)
	_, err = f.calls.Accept(ctx, ab.ID, f.id(1))
	require.NoError(t, err)
	_, err = f.calls.Accept(ctx, bc.ID, f.id(1))
	assert.Equal(t, models.CodeConflict, codeOf(err))
}

func TestCallService_GroupPartialRejectAndLeave(t *testing.T) {
	f, log := newCallFixture(t, "A One", "B Two", "C Three", "D Four")
	ctx := context.Background()
	group := f.group(t, "Crew", 0, 1, 2, 3)

	_, err := f.calls.Initiate(ctx, group.ID, f.id(0), models.CallAudio)
	require.NoError(t, err)

	call, err := f.calls.Reject(ctx, group.ID, f.id(1))
	require.NoError(t, err)
	assert.Equal(t, models.CallRinging, call.State)
	assert.Equal(t, []uint{f.id(1)}, call.Rejected)

	call, err = f.calls.Accept(ctx, group.ID, f.id(2))
	require.NoError(t, err)
	assert.Equal(t, models.CallAccepted, call.State)

	// late joiner
	call, err = f.calls.Accept(ctx, group.ID, f.id(3))
	require.NoError(t, err)
	assert.Len(t, call.Participants, 3)

	call, err = f.calls.End(ctx, group.ID, f.id(0))
	require.NoError(t, err)
	assert.Equal(t, models.CallAccepted, call.State)
	assert.ElementsMatch(t, []uint{f.id(2), f.id(3)}, call.Participants)
	assert.Empty(t, log.states())

	_, err = f.calls.End(ctx, group.ID, f.id(0))
	assert.Equal(t, models.CodeForbidden, codeOf(err))

	call, err = f.calls.End(ctx, group.ID, f.id(3))
	require.NoError(t, err)
	assert.Equal(t, models.CallEnded, call.State)
	assert.Equal(t, []models.CallState{models.CallEnded}, log.states())
}

func TestCallService_GroupEveryoneRejects(t *testing.T) {
	f, _ := newCallFixture(t, "A One", "B Two", "C Three")
	ctx := context.Background()
	group := f.group(t, "Crew", 0, 1, 2)

	_, err := f.calls.Initiate(ctx, group.ID, f.id(0), models.CallVideo)
	require.NoError(t, err)
	_, err = f.calls.Reject(ctx, group.ID, f.id(1))
	require.NoError(t, err)
	call, err := f.calls.Reject(ctx, group.ID, f.id(2))
	require.NoError(t, err)
	assert.Equal(t, models.CallRejected, call.State)
	assert.Nil(t, f.calls.ActiveCall(group.ID))
}

func TestCallService_RelaySignal(t *testing.T) {
	f, _ := newCallFixture(t, "A One", "B Two", "C Three")
	ctx := context.Background()
	direct, err := f.convs.CreateDirect(ctx, f.id(0), f.id(1))
	require.NoError(t, err)

	_, err = f.calls.RelaySignal(ctx, f.id(0), f.id(1), 0)
	assert.Equal(t, models.CodeConflict, codeOf(err))

	_, err = f.calls.Initiate(ctx, direct.ID, f.id(0), models.CallAudio)
	require.NoError(t, err)

	convID, err := f.calls.RelaySignal(ctx, f.id(1), f.id(0), 0)
	require.NoError(t, err)
	assert.Equal(t, direct.ID, convID)

	convID, err = f.calls.RelaySignal(ctx, f.id(0), f.id(1), direct.ID)
	require.NoError(t, err)
	assert.Equal(t, direct.ID, convID)

	_, err = f.calls.RelaySignal(ctx, f.id(0), f.id(2), 0)
	assert.Equal(t, models.CodeConflict, codeOf(err))
	_, err = f.calls.RelaySignal(ctx, f.id(0), f.id(0), 0)
	assert.Equal(t, models.CodeValidation, codeOf(err))
}

func TestCallService_HandleDisconnect(t *testing.T) {
	f, log := newCallFixture(t, "A One", "B Two", "C Three")
	ctx := context.Background()
	ab, err := f.convs.CreateDirect(ctx, f.id(0), f.id(1))
	require.NoError(t, err)

	assert.Nil(t, f.calls.HandleDisconnect(ctx, f.id(2)))

	_, err = f.calls.Initiate(ctx, ab.ID, f.id(0), models.CallAudio)
	require.NoError(t, err)
	call := f.calls.HandleDisconnect(ctx, f.id(0))
	require.NotNil(t, call)
	assert.Equal(t, models.CallCancelled, call.State)

	_, err = f.calls.Initiate(ctx, ab.ID, f.id(0), models.CallAudio)
	require.NoError(t, err)
	call = f.calls.HandleDisconnect(ctx, f.id(1))
	require.NotNil(t, call)
	assert.Equal(t, models.CallRejected, call.State)

	_, err = f.calls.Initiate(ctx, ab.ID, f.id(0), models.CallAudio)
	require.NoError(t, err)
	_, err = f.calls.Accept(ctx, ab.ID, f.id(1))
	require.NoError(t, err)
	call = f.calls.HandleDisconnect(ctx, f.id(1))
	require.NotNil(t, call)
	assert.Equal(t, models.CallEnded, call.State)

	assert.Equal(t, []models.CallState{models.CallCancelled, models.CallRejected, models.CallEnded}, log.states())
}
