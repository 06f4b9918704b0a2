package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"huddle/internal/middleware"
	"huddle/internal/models"
	"huddle/internal/notifications"
	"huddle/internal/observability"
	"huddle/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
)

const (
	sendMessageLimit  = 30
	sendMessageWindow = 10 * time.Second
	typingLimit       = 10
	typingWindow      = 10 * time.Second
)

type eventHandler func(ctx context.Context, c *notifications.Client, data json.RawMessage) error

// Dispatcher turns inbound websocket frames into domain calls and routes the
// resulting events to rooms. It is the hub every gateway session reports to.
type Dispatcher struct {
	rooms    *notifications.RoomCoordinator
	presence notifications.PresenceRegistry
	convs    *service.ConversationService
	contacts *service.ContactService
	messages *service.MessageService
	calls    *service.CallService
	redis    *redis.Client
	validate *validator.Validate
	log      *observability.WSLogger
	handlers map[string]eventHandler
}

// DispatcherDeps groups the collaborators of a Dispatcher.
type DispatcherDeps struct {
	Rooms    *notifications.RoomCoordinator
	Presence notifications.PresenceRegistry
	Convs    *service.ConversationService
	Contacts *service.ContactService
	Messages *service.MessageService
	Calls    *service.CallService
	// Redis backs per-user rate limits. Nil disables them outside development.
	Redis *redis.Client
}

// NewDispatcher builds a Dispatcher and installs it as the call recorder.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	d := &Dispatcher{
		rooms:    deps.Rooms,
		presence: deps.Presence,
		convs:    deps.Convs,
		contacts: deps.Contacts,
		messages: deps.Messages,
		calls:    deps.Calls,
		redis:    deps.Redis,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      observability.NewWSLogger("gateway"),
	}
	d.handlers = map[string]eventHandler{
		inLogin:                handle(d, d.login),
		inJoin:                 handle(d, d.join),
		inSendMessage:          handle(d, d.sendMessage),
		inRevokeMessage:        handle(d, d.revokeMessage),
		inDeleteMessage:        handle(d, d.deleteMessage),
		inReactToMessage:       handle(d, d.reactToMessage),
		inUnReactToMessage:     handle(d, d.unReactToMessage),
		inForwardMessage:       handle(d, d.forwardMessage),
		inTyping:               handle(d, d.typing),
		inStopTyping:           handle(d, d.stopTyping),
		inCreateGroup:          handle(d, d.createGroup),
		inAddMembers:           handle(d, d.addMembers),
		inRemoveMember:         handle(d, d.removeMember),
		inDissolveGroup:        handle(d, d.dissolveGroup),
		inRenameGroup:          handle(d, d.renameGroup),
		inSetMemberRole:        handle(d, d.setMemberRole),
		inCall:                 handle(d, d.call),
		inAcceptCall:           handle(d, d.callTransition(d.calls.Accept, notifications.EventAcceptCall)),
		inRejectCall:           handle(d, d.callTransition(d.calls.Reject, notifications.EventRejectCall)),
		inEndCall:              handle(d, d.callTransition(d.calls.End, notifications.EventEndCall)),
		inCancelCall:           handle(d, d.callTransition(d.calls.Cancel, notifications.EventCancelCall)),
		inSDP:                  handle(d, d.signal(notifications.EventSDP)),
		inICECandidate:         handle(d, d.signal(notifications.EventICECandidate)),
		inSendRequestContact:   handle(d, d.sendRequestContact),
		inAcceptRequestContact: handle(d, d.acceptRequestContact),
		inRejectRequestContact: handle(d, d.rejectRequestContact),
		inCancelRequestContact: handle(d, d.cancelRequestContact),
		inUnfriend:             handle(d, d.unfriend),
	}
	d.calls.SetRecorder(d.recordCall)
	return d
}

// Name identifies the gateway in logs and metrics.
func (d *Dispatcher) Name() string { return "gateway" }

// handle decodes and validates the payload into T before calling fn.
func handle[T any](d *Dispatcher, fn func(context.Context, *notifications.Client, *T) error) eventHandler {
	return func(ctx context.Context, c *notifications.Client, data json.RawMessage) error {
		var in T
		if len(data) == 0 || string(data) == "null" {
			data = json.RawMessage("{}")
		}
		if err := json.Unmarshal(data, &in); err != nil {
			return models.NewValidationError("Invalid payload")
		}
		if err := d.validate.Struct(&in); err != nil {
			return validationError(err)
		}
		return fn(ctx, c, &in)
	}
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return models.NewValidationError("Invalid payload")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
	}
	return models.NewValidationError(strings.Join(msgs, "; "))
}

// Dispatch handles one inbound frame from c. Failures are reported to c only.
func (d *Dispatcher) Dispatch(c *notifications.Client, raw []byte) {
	ctx := observability.WithConnID(observability.WithUserID(context.Background(), c.UserID), c.ConnID)

	var env notifications.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		observability.WebSocketEventsTotal.WithLabelValues("invalid").Inc()
		d.fail(ctx, c, "", models.NewValidationError("Malformed frame"))
		return
	}

	h, ok := d.handlers[env.Event]
	if !ok {
		observability.WebSocketEventsTotal.WithLabelValues("unknown").Inc()
		d.fail(ctx, c, env.Event, models.NewValidationError("Unknown event "+env.Event))
		return
	}
	observability.WebSocketEventsTotal.WithLabelValues(env.Event).Inc()

	ctx, span := observability.TraceWebSocketEvent(ctx, env.Event, c.UserID, c.ConnID)
	defer span.End()

	if env.Event != inLogin && !c.LoggedIn() {
		d.fail(ctx, c, env.Event, models.NewForbiddenError("Login required"))
		return
	}

	if err := h(ctx, c, env.Data); err != nil {
		observability.RecordError(span, err)
		d.fail(ctx, c, env.Event, err)
	}
}

type errorPayload struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (d *Dispatcher) fail(ctx context.Context, c *notifications.Client, event string, err error) {
	code := models.ErrorCode(err)
	observability.DomainErrors.WithLabelValues(code).Inc()

	message := err.Error()
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	if code == models.CodeInternal {
		d.log.LogError(ctx, c.UserID, c.ConnID, err, event)
	}

	out, encErr := notifications.Encode(notifications.EventError, errorPayload{Event: event, Code: code, Message: message})
	if encErr != nil {
		return
	}
	c.TrySend(out)
}

// UnregisterClient runs when a session's read pump exits.
func (d *Dispatcher) UnregisterClient(c *notifications.Client) {
	ctx := observability.WithConnID(observability.WithUserID(context.Background(), c.UserID), c.ConnID)

	d.rooms.Detach(c.ConnID)
	userID, offline := d.presence.Unregister(ctx, c.ConnID)
	d.log.LogDisconnect(ctx, c.UserID, c.ConnID, "closed")
	if offline {
		d.userWentOffline(ctx, userID)
	}
}

// HandleRemoteOffline settles state for a user whose sessions vanished with
// another instance.
func (d *Dispatcher) HandleRemoteOffline(userID uint) {
	d.userWentOffline(context.Background(), userID)
}

func (d *Dispatcher) userWentOffline(ctx context.Context, userID uint) {
	if call := d.calls.HandleDisconnect(ctx, userID); call != nil {
		d.routeCall(call, disconnectEvent(call), userID)
	}
	d.broadcastOnlineUsers(ctx)
}

func disconnectEvent(call *models.CallSession) string {
	switch call.State {
	case models.CallCancelled:
		return notifications.EventCancelCall
	case models.CallRejected:
		return notifications.EventRejectCall
	default:
		return notifications.EventEndCall
	}
}

// touch refreshes presence on inbound activity.
func (d *Dispatcher) touch(c *notifications.Client) {
	if c.LoggedIn() {
		d.presence.Touch(context.Background(), c.UserID)
	}
}

type onlineUsersPayload struct {
	UserIDs []uint `json:"userIds"`
}

func (d *Dispatcher) broadcastOnlineUsers(ctx context.Context) {
	d.rooms.BroadcastAll(notifications.EventGetOnlineUsers, onlineUsersPayload{UserIDs: d.presence.SnapshotOnlineUsers(ctx)})
}

// roomHook delivers a committed message change to its conversation room.
func (d *Dispatcher) roomHook(event string) service.MessageHook {
	return func(msg *models.Message) {
		d.rooms.Broadcast(notifications.ConversationRoom(msg.ConversationID), event, msg)
	}
}

// toUsers sends one event to the personal rooms of each distinct user.
func (d *Dispatcher) toUsers(event string, payload any, userIDs ...uint) {
	seen := make([]uint, 0, len(userIDs))
	for _, id := range userIDs {
		if id == 0 || slices.Contains(seen, id) {
			continue
		}
		seen = append(seen, id)
		d.rooms.BroadcastToUser(id, event, payload)
	}
}

func (d *Dispatcher) rateLimited(ctx context.Context, resource string, userID uint, limit int, window time.Duration) bool {
	allowed, err := middleware.CheckRateLimit(ctx, d.redis, resource, fmt.Sprintf("user:%d", userID), limit, window)
	if err != nil {
		observability.Logger.WarnContext(ctx, "rate limit check failed", "resource", resource, "error", err)
		return false
	}
	return !allowed
}

// Session

func (d *Dispatcher) login(ctx context.Context, c *notifications.Client, in *loginEvent) error {
	if in.UserID != c.UserID {
		return models.NewForbiddenError("Login does not match the authenticated user")
	}

	cameOnline := d.presence.Register(ctx, c.UserID, c.ConnID)
	d.rooms.JoinPersonalRoom(c.UserID, c.ConnID)

	convIDs, err := d.convs.ConversationIDsForUser(ctx, c.UserID)
	if err != nil {
		return err
	}
	d.rooms.JoinConversationRooms(c.ConnID, convIDs)

	// Membership may have shrunk between the query and the join.
	current, err := d.convs.ConversationIDsForUser(ctx, c.UserID)
	if err != nil {
		return err
	}
	for _, id := range convIDs {
		if !slices.Contains(current, id) {
			d.rooms.LeaveRoom(c.ConnID, id)
		}
	}

	c.MarkLoggedIn()
	d.log.LogConnect(ctx, c.UserID, c.ConnID)
	if cameOnline {
		d.broadcastOnlineUsers(ctx)
	} else {
		// Others already see this user; only the new session needs the snapshot.
		d.rooms.SendTo(c.ConnID, notifications.EventGetOnlineUsers, onlineUsersPayload{UserIDs: d.presence.SnapshotOnlineUsers(ctx)})
	}
	return nil
}

func (d *Dispatcher) join(ctx context.Context, c *notifications.Client, in *conversationEvent) error {
	if err := d.requireMember(ctx, in.ConversationID, c.UserID); err != nil {
		return err
	}
	d.rooms.JoinRoom(c.ConnID, in.ConversationID)
	return nil
}

func (d *Dispatcher) requireMember(ctx context.Context, convID, userID uint) error {
	ok, err := d.convs.IsMember(ctx, convID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewForbiddenError("You are not a member of this conversation")
	}
	return nil
}

// Messages

func (d *Dispatcher) sendMessage(ctx context.Context, c *notifications.Client, in *sendMessageEvent) error {
	if d.rateLimited(ctx, "send_message", c.UserID, sendMessageLimit, sendMessageWindow) {
		return models.NewRateLimitError("Too many messages, slow down")
	}

	files, err := in.fileInputs()
	if err != nil {
		return err
	}
	if in.ForwardFrom != nil {
		if _, err := d.messages.Get(ctx, *in.ForwardFrom, c.UserID); err != nil {
			return err
		}
	}

	_, err = d.messages.Create(ctx, service.CreateMessageInput{
		ConversationID: in.ConversationID,
		SenderID:       c.UserID,
		Content:        in.Content,
		Type:           models.MessageType(in.Type),
		Files:          files,
		ForwardFromID:  in.ForwardFrom,
	}, d.roomHook(notifications.EventNewMessage))
	return err
}

func (d *Dispatcher) revokeMessage(ctx context.Context, c *notifications.Client, in *messageEvent) error {
	_, err := d.messages.RevokeForAll(ctx, in.MessageID, c.UserID, d.roomHook(notifications.EventRevokeMessage))
	return err
}

type deletedPayload struct {
	MessageID      uint `json:"messageId"`
	ConversationID uint `json:"conversationId"`
}

func (d *Dispatcher) deleteMessage(ctx context.Context, c *notifications.Client, in *messageEvent) error {
	msg, err := d.messages.DeleteForSelf(ctx, in.MessageID, c.UserID)
	if err != nil {
		return err
	}
	d.rooms.SendTo(c.ConnID, notifications.EventDeleteMessage, deletedPayload{MessageID: msg.ID, ConversationID: msg.ConversationID})
	return nil
}

func (d *Dispatcher) reactToMessage(ctx context.Context, c *notifications.Client, in *reactEvent) error {
	_, err := d.messages.React(ctx, in.MessageID, c.UserID, in.Emoji, d.roomHook(notifications.EventReactToMessage))
	return err
}

func (d *Dispatcher) unReactToMessage(ctx context.Context, c *notifications.Client, in *messageEvent) error {
	_, err := d.messages.Unreact(ctx, in.MessageID, c.UserID, d.roomHook(notifications.EventUnReactToMessage))
	return err
}

type forwardTarget struct {
	ConversationID uint            `json:"conversationId"`
	Message        *models.Message `json:"message,omitempty"`
	Error          *errorPayload   `json:"error,omitempty"`
}

type forwardResultPayload struct {
	MessageID uint            `json:"messageId"`
	Results   []forwardTarget `json:"results"`
}

func (d *Dispatcher) forwardMessage(ctx context.Context, c *notifications.Client, in *forwardEvent) error {
	results, err := d.messages.Forward(ctx, in.MessageID, in.ConversationIDs, c.UserID, d.roomHook(notifications.EventNewMessage))
	if err != nil {
		return err
	}

	out := forwardResultPayload{MessageID: in.MessageID, Results: make([]forwardTarget, 0, len(results))}
	for _, r := range results {
		target := forwardTarget{ConversationID: r.ConversationID, Message: r.Message}
		if r.Err != nil {
			target.Message = nil
			target.Error = &errorPayload{Event: inForwardMessage, Code: models.ErrorCode(r.Err), Message: r.Err.Error()}
			var appErr *models.AppError
			if errors.As(r.Err, &appErr) {
				target.Error.Message = appErr.Message
			}
		}
		out.Results = append(out.Results, target)
	}
	d.rooms.SendTo(c.ConnID, notifications.EventForwardResult, out)
	return nil
}

type typingPayload struct {
	ConversationID uint `json:"conversationId"`
	UserID         uint `json:"userId"`
}

func (d *Dispatcher) typing(ctx context.Context, c *notifications.Client, in *conversationEvent) error {
	// Excess typing indicators are dropped without telling the client.
	if d.rateLimited(ctx, "typing", c.UserID, typingLimit, typingWindow) {
		return nil
	}
	return d.relayTyping(ctx, c, in.ConversationID, notifications.EventTyping)
}

func (d *Dispatcher) stopTyping(ctx context.Context, c *notifications.Client, in *conversationEvent) error {
	return d.relayTyping(ctx, c, in.ConversationID, notifications.EventStopTyping)
}

func (d *Dispatcher) relayTyping(ctx context.Context, c *notifications.Client, convID uint, event string) error {
	if err := d.requireMember(ctx, convID, c.UserID); err != nil {
		return err
	}
	d.rooms.BroadcastExcept(notifications.ConversationRoom(convID), c.ConnID, event,
		typingPayload{ConversationID: convID, UserID: c.UserID})
	return nil
}

// Conversations

type membersPayload struct {
	ConversationID uint                 `json:"conversationId"`
	UserIDs        []uint               `json:"userIds"`
	Conversation   *models.Conversation `json:"conversation"`
}

type removedPayload struct {
	ConversationID uint                 `json:"conversationId"`
	UserID         uint                 `json:"userId"`
	Conversation   *models.Conversation `json:"conversation"`
}

type dissolvedPayload struct {
	ConversationID uint `json:"conversationId"`
}

func (d *Dispatcher) createGroup(ctx context.Context, c *notifications.Client, in *createGroupEvent) error {
	conv, err := d.convs.CreateGroup(ctx, service.CreateGroupInput{
		CreatorID: c.UserID,
		MemberIDs: in.MemberIDs,
		Name:      in.Name,
		Avatar:    in.Avatar,
	})
	if err != nil {
		return err
	}
	d.rooms.Broadcast(notifications.ConversationRoom(conv.ID), notifications.EventNewConversation, conv)
	return nil
}

func (d *Dispatcher) addMembers(ctx context.Context, c *notifications.Client, in *addMembersEvent) error {
	conv, added, err := d.convs.AddMembers(ctx, in.ConversationID, c.UserID, in.UserIDs)
	if err != nil {
		return err
	}
	d.rooms.Broadcast(notifications.ConversationRoom(conv.ID), notifications.EventAddMembers,
		membersPayload{ConversationID: conv.ID, UserIDs: added, Conversation: conv})
	return nil
}

func (d *Dispatcher) removeMember(ctx context.Context, c *notifications.Client, in *removeMemberEvent) error {
	conv, err := d.convs.RemoveMember(ctx, in.ConversationID, c.UserID, in.UserID)
	if err != nil {
		return err
	}
	payload := removedPayload{ConversationID: conv.ID, UserID: in.UserID, Conversation: conv}
	d.rooms.Broadcast(notifications.ConversationRoom(conv.ID), notifications.EventRemoveMember, payload)
	d.rooms.BroadcastToUser(in.UserID, notifications.EventRemoveMember, payload)
	return nil
}

func (d *Dispatcher) dissolveGroup(ctx context.Context, c *notifications.Client, in *conversationEvent) error {
	conv, err := d.convs.Dissolve(ctx, in.ConversationID, c.UserID)
	if err != nil {
		return err
	}
	d.toUsers(notifications.EventDissolveGroup, dissolvedPayload{ConversationID: conv.ID}, conv.MemberIDs()...)
	return nil
}

func (d *Dispatcher) renameGroup(ctx context.Context, c *notifications.Client, in *renameGroupEvent) error {
	conv, err := d.convs.Rename(ctx, in.ConversationID, c.UserID, in.Name)
	if err != nil {
		return err
	}
	d.rooms.Broadcast(notifications.ConversationRoom(conv.ID), notifications.EventRenameGroup, conv)
	return nil
}

func (d *Dispatcher) setMemberRole(ctx context.Context, c *notifications.Client, in *setMemberRoleEvent) error {
	conv, err := d.convs.SetRole(ctx, in.ConversationID, c.UserID, in.UserID, models.MemberRole(in.Role))
	if err != nil {
		return err
	}
	d.rooms.Broadcast(notifications.ConversationRoom(conv.ID), notifications.EventSetMemberRole, conv)
	return nil
}

// Calls

type callPayload struct {
	ConversationID uint                `json:"conversationId"`
	UserID         uint                `json:"userId"`
	Call           *models.CallSession `json:"call"`
}

type signalPayload struct {
	From           uint            `json:"from"`
	ConversationID uint            `json:"conversationId"`
	Payload        json.RawMessage `json:"payload"`
}

// routeCall sends a call event to the conversation room for groups and to the
// personal rooms of every member for direct calls.
func (d *Dispatcher) routeCall(call *models.CallSession, event string, actorID uint) {
	payload := callPayload{ConversationID: call.ConversationID, UserID: actorID, Call: call}
	if call.IsGroup {
		d.rooms.Broadcast(notifications.ConversationRoom(call.ConversationID), event, payload)
		return
	}
	d.toUsers(event, payload, call.Members...)
}

func (d *Dispatcher) call(ctx context.Context, c *notifications.Client, in *callEvent) error {
	call, err := d.calls.Initiate(ctx, in.ConversationID, c.UserID, models.CallType(in.CallType))
	if err != nil {
		return err
	}
	d.routeCall(call, notifications.EventCall, c.UserID)
	return nil
}

type callOp func(ctx context.Context, convID, userID uint) (*models.CallSession, error)

func (d *Dispatcher) callTransition(op callOp, event string) func(context.Context, *notifications.Client, *conversationEvent) error {
	return func(ctx context.Context, c *notifications.Client, in *conversationEvent) error {
		call, err := op(ctx, in.ConversationID, c.UserID)
		if err != nil {
			return err
		}
		d.routeCall(call, event, c.UserID)
		return nil
	}
}

func (d *Dispatcher) signal(event string) func(context.Context, *notifications.Client, *signalEvent) error {
	return func(ctx context.Context, c *notifications.Client, in *signalEvent) error {
		convID, err := d.calls.RelaySignal(ctx, c.UserID, in.To, in.ConversationID)
		if err != nil {
			return err
		}
		d.rooms.BroadcastToUser(in.To, event, signalPayload{From: c.UserID, ConversationID: convID, Payload: in.Payload})
		return nil
	}
}

// recordCall stores finished calls as CALL messages and delivers them.
func (d *Dispatcher) recordCall(ctx context.Context, call *models.CallSession) {
	ctx = context.WithoutCancel(ctx)
	if _, err := d.messages.CreateCallRecord(ctx, call, d.roomHook(notifications.EventNewMessage)); err != nil {
		observability.Logger.ErrorContext(ctx, "failed to record call",
			"conversation_id", call.ConversationID, "state", call.State, "error", err)
	}
}

// Contacts

type unfriendPayload struct {
	UserID       uint                        `json:"userId"`
	Relationship *models.ContactRelationship `json:"relationship"`
}

type acceptPayload struct {
	Relationship *models.ContactRelationship `json:"relationship"`
	Conversation *models.Conversation        `json:"conversation"`
}

func (d *Dispatcher) sendRequestContact(ctx context.Context, c *notifications.Client, in *contactUserEvent) error {
	rel, err := d.contacts.Request(ctx, c.UserID, in.UserID)
	if err != nil {
		return err
	}
	d.toUsers(notifications.EventSendRequestContact, rel, rel.RecipientID, rel.RequesterID)
	return nil
}

func (d *Dispatcher) acceptRequestContact(ctx context.Context, c *notifications.Client, in *contactRequestEvent) error {
	rel, conv, err := d.contacts.Accept(ctx, in.RequestID, c.UserID)
	if err != nil {
		return err
	}
	d.toUsers(notifications.EventAcceptRequestContact, acceptPayload{Relationship: rel, Conversation: conv},
		rel.RequesterID, rel.RecipientID)
	d.rooms.Broadcast(notifications.ConversationRoom(conv.ID), notifications.EventNewConversation, conv)
	return nil
}

func (d *Dispatcher) rejectRequestContact(ctx context.Context, c *notifications.Client, in *contactRequestEvent) error {
	rel, err := d.contacts.Reject(ctx, in.RequestID, c.UserID)
	if err != nil {
		return err
	}
	d.toUsers(notifications.EventRejectRequestContact, rel, rel.RequesterID, rel.RecipientID)
	return nil
}

func (d *Dispatcher) cancelRequestContact(ctx context.Context, c *notifications.Client, in *contactRequestEvent) error {
	rel, err := d.contacts.Cancel(ctx, in.RequestID, c.UserID)
	if err != nil {
		return err
	}
	d.toUsers(notifications.EventCancelRequestContact, rel, rel.RecipientID, rel.RequesterID)
	return nil
}

func (d *Dispatcher) unfriend(ctx context.Context, c *notifications.Client, in *contactUserEvent) error {
	rel, err := d.contacts.Unfriend(ctx, c.UserID, in.UserID)
	if err != nil {
		return err
	}
	d.toUsers(notifications.EventUnfriend, unfriendPayload{UserID: c.UserID, Relationship: rel}, in.UserID, c.UserID)
	return nil
}
