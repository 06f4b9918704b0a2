package service

import (
	"context"
	"slices"
	"sync"
	"time"

	"huddle/internal/models"
	"huddle/internal/observability"
)

// CallRecorder receives calls that reached a terminal state. It runs outside
// the relay's lock.
type CallRecorder func(ctx context.Context, call *models.CallSession)

// CallService relays call signaling and keeps each conversation's call state
// in memory. A conversation has at most one ringing or accepted call, and a
// user takes part in at most one call.
type CallService struct {
	convs *ConversationService

	mu        sync.Mutex
	calls     map[uint]*models.CallSession
	userCalls map[uint]uint
	recorder  CallRecorder
	now       func() time.Time
}

// NewCallService returns a new CallService.
func NewCallService(convs *ConversationService) *CallService {
	return &CallService{
		convs:     convs,
		calls:     make(map[uint]*models.CallSession),
		userCalls: make(map[uint]uint),
		now:       time.Now,
	}
}

// SetRecorder installs the terminal-state callback.
func (s *CallService) SetRecorder(r CallRecorder) {
	s.mu.Lock()
	s.recorder = r
	s.mu.Unlock()
}

// Initiate starts ringing the other members of convID.
func (s *CallService) Initiate(ctx context.Context, convID, callerID uint, callType models.CallType) (*models.CallSession, error) {
	if callType == "" {
		callType = models.CallAudio
	}
	if callType != models.CallAudio && callType != models.CallVideo {
		return nil, models.NewValidationError("Call type must be audio or video")
	}

	conv, err := s.convs.Get(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.IsMember(callerID) {
		return nil, models.NewForbiddenError("You are not a member of this conversation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.calls[convID]; busy {
		return nil, models.NewConflictError("A call is already in progress in this conversation")
	}
	if _, busy := s.userCalls[callerID]; busy {
		return nil, models.NewConflictError("You are already in another call")
	}

	call := &models.CallSession{
		ConversationID: convID,
		IsGroup:        conv.IsGroup,
		InitiatorID:    callerID,
		CallType:       callType,
		State:          models.CallRinging,
		Participants:   []uint{callerID},
		Members:        conv.MemberIDs(),
		StartedAt:      s.now(),
	}
	s.calls[convID] = call
	s.userCalls[callerID] = convID
	observability.ActiveCalls.Set(float64(len(s.calls)))
	return call.Clone(), nil
}

// Accept joins userID to the call. Group calls accept late joiners.
func (s *CallService) Accept(_ context.Context, convID, userID uint) (*models.CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, err := s.memberCall(convID, userID)
	if err != nil {
		return nil, err
	}
	if call.IsParticipant(userID) {
		return nil, models.NewConflictError("You are already in this call")
	}
	if call.State != models.CallRinging && !(call.IsGroup && call.State == models.CallAccepted) {
		return nil, models.NewConflictError("Call is not ringing")
	}
	if other, busy := s.userCalls[userID]; busy && other != convID {
		return nil, models.NewConflictError("You are already in another call")
	}

	call.Participants = append(call.Participants, userID)
	call.Rejected = slices.DeleteFunc(call.Rejected, func(id uint) bool { return id == userID })
	s.userCalls[userID] = convID
	if call.State == models.CallRinging {
		now := s.now()
		call.State = models.CallAccepted
		call.AcceptedAt = &now
	}
	return call.Clone(), nil
}

// Reject declines a ringing call. In a group only the rejecting member drops
// out of the ring; the call ends as REJECTED once every callee has rejected.
func (s *CallService) Reject(ctx context.Context, convID, userID uint) (*models.CallSession, error) {
	s.mu.Lock()

	call, err := s.memberCall(convID, userID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if call.IsParticipant(userID) {
		s.mu.Unlock()
		return nil, models.NewConflictError("You are already in this call")
	}
	if call.State != models.CallRinging && !call.IsGroup {
		s.mu.Unlock()
		return nil, models.NewConflictError("Call is not ringing")
	}

	if !call.IsGroup {
		return s.finishAndRecord(ctx, call, models.CallRejected)
	}

	if !slices.Contains(call.Rejected, userID) {
		call.Rejected = append(call.Rejected, userID)
	}
	if call.State == models.CallRinging && s.everyCalleeRejected(call) {
		return s.finishAndRecord(ctx, call, models.CallRejected)
	}
	out := call.Clone()
	s.mu.Unlock()
	return out, nil
}

// Cancel stops a ringing call. Only the initiator may cancel.
func (s *CallService) Cancel(ctx context.Context, convID, userID uint) (*models.CallSession, error) {
	s.mu.Lock()

	call, err := s.memberCall(convID, userID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if call.InitiatorID != userID {
		s.mu.Unlock()
		return nil, models.NewForbiddenError("Only the caller can cancel this call")
	}
	if call.State != models.CallRinging {
		s.mu.Unlock()
		return nil, models.NewConflictError("Call is not ringing")
	}
	return s.finishAndRecord(ctx, call, models.CallCancelled)
}

// End hangs up. In a group the call continues while two participants remain.
func (s *CallService) End(ctx context.Context, convID, userID uint) (*models.CallSession, error) {
	s.mu.Lock()

	call, err := s.memberCall(convID, userID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if !call.IsParticipant(userID) {
		s.mu.Unlock()
		return nil, models.NewForbiddenError("You are not in this call")
	}
	if call.State != models.CallAccepted {
		s.mu.Unlock()
		return nil, models.NewConflictError("Call has not been accepted")
	}
	return s.leaveAndRecord(ctx, call, userID)
}

// RelaySignal checks that fromID and toID share a ringing or accepted call and
// returns its conversation id. convID 0 looks the call up through either user.
func (s *CallService) RelaySignal(_ context.Context, fromID, toID, convID uint) (uint, error) {
	if fromID == toID {
		return 0, models.NewValidationError("Cannot signal yourself")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := []uint{convID}
	if convID == 0 {
		candidates = candidates[:0]
		if c, ok := s.userCalls[fromID]; ok {
			candidates = append(candidates, c)
		}
		if c, ok := s.userCalls[toID]; ok {
			candidates = append(candidates, c)
		}
	}

	for _, id := range candidates {
		call, ok := s.calls[id]
		if !ok || !call.State.Active() {
			continue
		}
		if !call.IsMember(fromID) || !call.IsMember(toID) {
			continue
		}
		if call.IsParticipant(fromID) || call.IsParticipant(toID) {
			return call.ConversationID, nil
		}
	}
	return 0, models.NewConflictError("No active call between these users")
}

// HandleDisconnect settles calls of a user whose last session closed. A ringing
// call is cancelled when the user placed it, or rejected when the user was the
// direct callee; an accepted call is left as if the user hung up.
func (s *CallService) HandleDisconnect(ctx context.Context, userID uint) *models.CallSession {
	s.mu.Lock()

	if convID, ok := s.userCalls[userID]; ok {
		call := s.calls[convID]
		switch {
		case call == nil:
			delete(s.userCalls, userID)
		case call.State == models.CallRinging && call.InitiatorID == userID:
			out, _ := s.finishAndRecord(ctx, call, models.CallCancelled)
			return out
		case call.State == models.CallAccepted:
			out, _ := s.leaveAndRecord(ctx, call, userID)
			return out
		}
		s.mu.Unlock()
		return nil
	}

	for _, call := range s.calls {
		if !call.IsGroup && call.State == models.CallRinging && call.IsMember(userID) && !call.IsParticipant(userID) {
			out, _ := s.finishAndRecord(ctx, call, models.CallRejected)
			return out
		}
	}
	s.mu.Unlock()
	return nil
}

// ActiveCall returns the ringing or accepted call of convID, or nil.
func (s *CallService) ActiveCall(convID uint) *models.CallSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if call, ok := s.calls[convID]; ok {
		return call.Clone()
	}
	return nil
}

// memberCall returns convID's call after checking userID was a member when it
// started. Callers hold s.mu.
func (s *CallService) memberCall(convID, userID uint) (*models.CallSession, error) {
	call, ok := s.calls[convID]
	if !ok {
		return nil, models.NewConflictError("There is no call in this conversation")
	}
	if !call.IsMember(userID) {
		return nil, models.NewForbiddenError("You are not a member of this conversation")
	}
	return call, nil
}

func (s *CallService) everyCalleeRejected(call *models.CallSession) bool {
	for _, id := range call.Members {
		if call.IsParticipant(id) {
			continue
		}
		if !slices.Contains(call.Rejected, id) {
			return false
		}
	}
	return true
}

// leaveAndRecord removes userID from an accepted call and ends it when fewer
// than two participants remain. Called with s.mu held; releases it.
func (s *CallService) leaveAndRecord(ctx context.Context, call *models.CallSession, userID uint) (*models.CallSession, error) {
	if !call.IsGroup || len(call.Participants) <= 2 {
		return s.finishAndRecord(ctx, call, models.CallEnded)
	}

	call.Participants = slices.DeleteFunc(call.Participants, func(id uint) bool { return id == userID })
	delete(s.userCalls, userID)
	out := call.Clone()
	s.mu.Unlock()
	return out, nil
}

// finishAndRecord moves call to a terminal state, frees its slot, releases
// s.mu and hands the call to the recorder.
func (s *CallService) finishAndRecord(ctx context.Context, call *models.CallSession, state models.CallState) (*models.CallSession, error) {
	now := s.now()
	call.State = state
	call.EndedAt = &now

	delete(s.calls, call.ConversationID)
	for _, id := range call.Participants {
		if s.userCalls[id] == call.ConversationID {
			delete(s.userCalls, id)
		}
	}
	observability.ActiveCalls.Set(float64(len(s.calls)))

	out := call.Clone()
	recorder := s.recorder
	s.mu.Unlock()

	if recorder != nil {
		recorder(ctx, out.Clone())
	}
	return out, nil
}
