package server

import (
	"context"

	"huddle/internal/models"
	"huddle/internal/notifications"
	"huddle/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

type connectedPayload struct {
	ConnID string `json:"connId"`
	UserID uint   `json:"userId"`
}

// WebSocketUpgradeRequired rejects plain HTTP requests to the gateway.
func WebSocketUpgradeRequired(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// WebSocketHandler runs one gateway session. The session must send a login
// event before anything else.
func (s *Server) WebSocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, ok := conn.Locals("userID").(uint)
		if !ok || userID == 0 {
			writeRejection(conn, models.NewUnauthorizedError("unauthorized"))
			return
		}

		client := notifications.NewClient(s.dispatcher, conn, uuid.NewString(), userID)
		ctx := observability.WithConnID(observability.WithUserID(context.Background(), userID), client.ConnID)
		if err := s.rooms.Attach(client); err != nil {
			observability.NewWSLogger(s.dispatcher.Name()).LogError(ctx, userID, client.ConnID, err, "attach")
			writeRejection(conn, models.NewRateLimitError(err.Error()))
			return
		}
		client.IncomingHandler = s.dispatcher.Dispatch
		client.OnActivity = s.dispatcher.touch

		if msg, err := notifications.Encode(notifications.EventConnected, connectedPayload{ConnID: client.ConnID, UserID: userID}); err == nil {
			client.TrySend(msg)
		}

		go client.WritePump()
		client.ReadPump()
	})
}

// writeRejection reports err on a connection that never became a session.
func writeRejection(conn *websocket.Conn, err *models.AppError) {
	if msg, encErr := notifications.Encode(notifications.EventError, errorPayload{Code: err.Code, Message: err.Message}); encErr == nil {
		_ = conn.WriteMessage(websocket.TextMessage, msg)
	}
	_ = conn.Close()
}
