package notifications

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"huddle/internal/observability"
)

const (
	// Max connections per user
	maxConnsPerUser = 12
	// Max total connections
	maxTotalConns = 10000

	busPublishTimeout = 2 * time.Second
)

var (
	ErrTooManyConnections     = errors.New("server connection limit reached")
	ErrTooManyUserConnections = errors.New("user connection limit reached")
)

// PersonalRoom is the room every session of a user joins at login.
func PersonalRoom(userID uint) string {
	return fmt.Sprintf("user:%d", userID)
}

// ConversationRoom is the room of a conversation's online members.
func ConversationRoom(convID uint) string {
	return fmt.Sprintf("conv:%d", convID)
}

// RoomCoordinator maps sessions to rooms and fans events out to them. With a
// Notifier it mirrors room traffic and membership changes to peer instances.
type RoomCoordinator struct {
	mu        sync.RWMutex
	clients   map[string]*Client
	rooms     map[string]map[string]struct{}
	connRooms map[string]map[string]struct{}
	perUser   map[uint]int

	bus *Notifier
	log *observability.WSLogger
}

// NewRoomCoordinator creates a coordinator. bus may be nil for a single instance.
func NewRoomCoordinator(bus *Notifier) *RoomCoordinator {
	return &RoomCoordinator{
		clients:   make(map[string]*Client),
		rooms:     make(map[string]map[string]struct{}),
		connRooms: make(map[string]map[string]struct{}),
		perUser:   make(map[uint]int),
		bus:       bus,
		log:       observability.NewWSLogger("rooms"),
	}
}

// Attach registers a session. It does not join any room.
func (r *RoomCoordinator) Attach(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c.ConnID]; ok {
		return nil
	}
	if len(r.clients) >= maxTotalConns {
		return ErrTooManyConnections
	}
	if r.perUser[c.UserID] >= maxConnsPerUser {
		return ErrTooManyUserConnections
	}

	r.clients[c.ConnID] = c
	r.connRooms[c.ConnID] = make(map[string]struct{})
	r.perUser[c.UserID]++
	observability.ActiveWebSockets.Inc()
	return nil
}

// Detach removes a session from every room and closes its send queue. It
// returns the session, or nil when connID is unknown.
func (r *RoomCoordinator) Detach(connID string) *Client {
	r.mu.Lock()
	c, ok := r.clients[connID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	for roomID := range r.connRooms[connID] {
		r.removeLocked(roomID, connID)
	}
	delete(r.connRooms, connID)
	delete(r.clients, connID)
	if r.perUser[c.UserID]--; r.perUser[c.UserID] <= 0 {
		delete(r.perUser, c.UserID)
	}
	r.mu.Unlock()

	observability.ActiveWebSockets.Dec()
	c.Close()
	return c
}

// JoinPersonalRoom joins connID to the personal room of userID.
func (r *RoomCoordinator) JoinPersonalRoom(userID uint, connID string) {
	r.join(PersonalRoom(userID), connID)
}

// JoinConversationRooms joins connID to each conversation room.
func (r *RoomCoordinator) JoinConversationRooms(connID string, convIDs []uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range convIDs {
		r.addLocked(ConversationRoom(id), connID)
	}
}

// JoinRoom joins connID to one conversation room.
func (r *RoomCoordinator) JoinRoom(connID string, convID uint) {
	r.join(ConversationRoom(convID), connID)
}

// LeaveRoom removes connID from one conversation room.
func (r *RoomCoordinator) LeaveRoom(connID string, convID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(ConversationRoom(convID), connID)
}

func (r *RoomCoordinator) join(roomID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(roomID, connID)
}

func (r *RoomCoordinator) addLocked(roomID, connID string) {
	rooms, ok := r.connRooms[connID]
	if !ok {
		return
	}
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	members[connID] = struct{}{}
	rooms[roomID] = struct{}{}
}

func (r *RoomCoordinator) removeLocked(roomID, connID string) {
	if members, ok := r.rooms[roomID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	if rooms, ok := r.connRooms[connID]; ok {
		delete(rooms, roomID)
	}
}

// RoomMembers returns the local sessions joined to roomID, sorted.
func (r *RoomCoordinator) RoomMembers(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.rooms[roomID]))
	for connID := range r.rooms[roomID] {
		out = append(out, connID)
	}
	slices.Sort(out)
	return out
}

// Client returns the local session with connID.
func (r *RoomCoordinator) Client(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

// Broadcast sends an event to every session in roomID on every instance.
func (r *RoomCoordinator) Broadcast(roomID, event string, payload any) {
	r.BroadcastExcept(roomID, "", event, payload)
}

// BroadcastExcept is Broadcast skipping the local session exceptConnID.
func (r *RoomCoordinator) BroadcastExcept(roomID, exceptConnID, event string, payload any) {
	msg, err := Encode(event, payload)
	if err != nil {
		r.log.LogError(context.Background(), 0, exceptConnID, err, event)
		return
	}
	r.deliverRoom(roomID, exceptConnID, msg)

	ctx, cancel := context.WithTimeout(context.Background(), busPublishTimeout)
	defer cancel()
	if err := r.bus.PublishRoom(ctx, roomID, msg); err != nil {
		r.busError(ctx, err, "publish_room")
	}
}

// BroadcastToUser sends an event to every session of userID.
func (r *RoomCoordinator) BroadcastToUser(userID uint, event string, payload any) {
	r.Broadcast(PersonalRoom(userID), event, payload)
}

// BroadcastAll sends an event to every logged-in session on every instance.
func (r *RoomCoordinator) BroadcastAll(event string, payload any) {
	msg, err := Encode(event, payload)
	if err != nil {
		r.log.LogError(context.Background(), 0, "", err, event)
		return
	}
	r.deliverAll(msg)

	ctx, cancel := context.WithTimeout(context.Background(), busPublishTimeout)
	defer cancel()
	if err := r.bus.PublishBroadcast(ctx, msg); err != nil {
		r.busError(ctx, err, "publish_broadcast")
	}
}

// SendTo sends an event to one local session and reports whether it was queued.
func (r *RoomCoordinator) SendTo(connID, event string, payload any) bool {
	c, ok := r.Client(connID)
	if !ok {
		return false
	}
	msg, err := Encode(event, payload)
	if err != nil {
		r.log.LogError(context.Background(), c.UserID, connID, err, event)
		return false
	}
	return c.TrySend(msg)
}

func (r *RoomCoordinator) deliverRoom(roomID, exceptConnID string, msg []byte) {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.rooms[roomID]))
	for connID := range r.rooms[roomID] {
		if connID == exceptConnID {
			continue
		}
		if c, ok := r.clients[connID]; ok {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range targets {
		c.TrySend(msg)
	}
}

func (r *RoomCoordinator) deliverAll(msg []byte) {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		if c.LoggedIn() {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range targets {
		c.TrySend(msg)
	}
}

// JoinUser joins every logged-in session of userID to the conversation room.
func (r *RoomCoordinator) JoinUser(ctx context.Context, userID, convID uint) {
	r.applyControl(RoomControl{Op: ControlJoin, UserID: userID, ConversationID: convID})
	r.publishControl(ctx, RoomControl{Op: ControlJoin, UserID: userID, ConversationID: convID})
}

// LeaveUser removes every session of userID from the conversation room.
func (r *RoomCoordinator) LeaveUser(ctx context.Context, userID, convID uint) {
	r.applyControl(RoomControl{Op: ControlLeave, UserID: userID, ConversationID: convID})
	r.publishControl(ctx, RoomControl{Op: ControlLeave, UserID: userID, ConversationID: convID})
}

// CloseRoom empties the conversation room.
func (r *RoomCoordinator) CloseRoom(ctx context.Context, convID uint) {
	r.applyControl(RoomControl{Op: ControlClose, ConversationID: convID})
	r.publishControl(ctx, RoomControl{Op: ControlClose, ConversationID: convID})
}

func (r *RoomCoordinator) applyControl(ctl RoomControl) {
	roomID := ConversationRoom(ctl.ConversationID)

	r.mu.Lock()
	defer r.mu.Unlock()

	switch ctl.Op {
	case ControlJoin:
		for connID := range r.rooms[PersonalRoom(ctl.UserID)] {
			r.addLocked(roomID, connID)
		}
	case ControlLeave:
		for connID := range r.rooms[PersonalRoom(ctl.UserID)] {
			r.removeLocked(roomID, connID)
		}
	case ControlClose:
		for connID := range r.rooms[roomID] {
			r.removeLocked(roomID, connID)
		}
	default:
		observability.Logger.Warn("unknown room control op", "op", ctl.Op)
	}
}

func (r *RoomCoordinator) publishControl(ctx context.Context, ctl RoomControl) {
	if err := r.bus.PublishControl(context.WithoutCancel(ctx), ctl); err != nil {
		r.busError(ctx, err, "publish_control")
	}
}

func (r *RoomCoordinator) busError(ctx context.Context, err error, op string) {
	observability.RedisErrors.WithLabelValues(op).Inc()
	r.log.LogError(ctx, 0, "", err, op)
}

// StartWiring subscribes to the bus so peer traffic reaches local sessions.
func (r *RoomCoordinator) StartWiring(ctx context.Context) error {
	return r.bus.Subscribe(ctx, BusHandlers{
		OnRoom: func(roomID string, payload []byte) {
			r.deliverRoom(roomID, "", payload)
		},
		OnBroadcast: r.deliverAll,
		OnControl:   r.applyControl,
	})
}

// Shutdown detaches every session. Each write pump sends a close frame as its
// queue closes.
func (r *RoomCoordinator) Shutdown(_ context.Context) error {
	r.mu.RLock()
	connIDs := make([]string, 0, len(r.clients))
	for connID := range r.clients {
		connIDs = append(connIDs, connID)
	}
	r.mu.RUnlock()

	for _, connID := range connIDs {
		r.Detach(connID)
	}
	r.log.LogLifecycle(context.Background(), "shutdown", map[string]interface{}{"sessions": len(connIDs)})
	return nil
}
