package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"

	"huddle/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	roomChannelPrefix = "rooms:"
	broadcastChannel  = "rooms:broadcast"
	controlChannel    = "rooms:control"
)

// Room control operations carried on the bus.
const (
	ControlJoin  = "join"
	ControlLeave = "leave"
	ControlClose = "close"
)

// RoomControl asks every instance to change its sessions' room membership.
type RoomControl struct {
	Op             string `json:"op"`
	UserID         uint   `json:"user_id,omitempty"`
	ConversationID uint   `json:"conversation_id"`
}

type busFrame struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Control *RoomControl    `json:"control,omitempty"`
}

// BusHandlers receive frames published by other instances.
type BusHandlers struct {
	OnRoom      func(roomID string, payload []byte)
	OnBroadcast func(payload []byte)
	OnControl   func(ctl RoomControl)
}

// Notifier publishes room traffic to Redis so peer instances can deliver it
// to their own sessions. A nil Redis client makes every call a no-op.
type Notifier struct {
	rdb        *redis.Client
	instanceID string
}

// NewNotifier creates a Notifier that tags frames with instanceID.
func NewNotifier(rdb *redis.Client, instanceID string) *Notifier {
	return &Notifier{rdb: rdb, instanceID: instanceID}
}

// InstanceID returns the origin tag of this instance.
func (n *Notifier) InstanceID() string {
	return n.instanceID
}

// PublishRoom sends an encoded event to roomID on every other instance.
func (n *Notifier) PublishRoom(ctx context.Context, roomID string, payload []byte) error {
	return n.publish(ctx, RoomChannel(roomID), busFrame{Room: roomID, Payload: payload})
}

// PublishBroadcast sends an encoded event to every session on every other instance.
func (n *Notifier) PublishBroadcast(ctx context.Context, payload []byte) error {
	return n.publish(ctx, broadcastChannel, busFrame{Payload: payload})
}

// PublishControl sends a membership change to every other instance.
func (n *Notifier) PublishControl(ctx context.Context, ctl RoomControl) error {
	return n.publish(ctx, controlChannel, busFrame{Control: &ctl})
}

func (n *Notifier) publish(ctx context.Context, channel string, frame busFrame) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	frame.Origin = n.instanceID
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal bus frame: %w", err)
	}
	if err := n.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return err
	}
	observability.BusMessages.WithLabelValues("out").Inc()
	return nil
}

// Subscribe listens on every room channel until ctx is done. It returns after
// the subscription is confirmed. Frames from this instance are ignored.
func (n *Notifier) Subscribe(ctx context.Context, h BusHandlers) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, roomChannelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe room bus: %w", err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				n.dispatch(msg.Payload, h)
			}
		}
	}()
	return nil
}

func (n *Notifier) dispatch(raw string, h BusHandlers) {
	defer func() {
		if r := recover(); r != nil {
			observability.Logger.Error("panic in room bus handler", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	var frame busFrame
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		observability.Logger.Warn("invalid room bus frame", "error", err)
		return
	}
	if frame.Origin == n.instanceID {
		return
	}
	observability.BusMessages.WithLabelValues("in").Inc()

	switch {
	case frame.Control != nil:
		if h.OnControl != nil {
			h.OnControl(*frame.Control)
		}
	case frame.Room == "":
		if h.OnBroadcast != nil {
			h.OnBroadcast(frame.Payload)
		}
	default:
		if h.OnRoom != nil {
			h.OnRoom(frame.Room, frame.Payload)
		}
	}
}

// RoomChannel derives the Redis channel name for a room.
func RoomChannel(roomID string) string {
	return roomChannelPrefix + strings.TrimSpace(roomID)
}
