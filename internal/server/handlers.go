package server

import (
	"huddle/internal/models"
	"huddle/internal/service"

	"github.com/gofiber/fiber/v2"
)

// ListConversations handles GET /api/conversations
// @Summary List the caller's conversations
// @Tags conversations
// @Produce json
// @Success 200 {array} models.Conversation
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /conversations [get]
func (s *Server) ListConversations(c *fiber.Ctx) error {
	userID, _ := currentUserID(c)
	convs, err := s.convService.ListForUser(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(convs)
}

// GetConversation handles GET /api/conversations/:id
// @Summary Get a conversation
// @Tags conversations
// @Produce json
// @Param id path int true "Conversation ID"
// @Success 200 {object} models.Conversation
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /conversations/{id} [get]
func (s *Server) GetConversation(c *fiber.Ctx) error {
	userID, _ := currentUserID(c)
	convID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	conv, err := s.convService.GetForMember(c.UserContext(), convID, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(conv)
}

// ListMessages handles GET /api/conversations/:id/messages?limit=&before=
// @Summary List messages
// @Tags conversations
// @Produce json
// @Param id path int true "Conversation ID"
// @Param limit query int false "Page size (max 100)" default(50)
// @Param before query int false "Only messages with a smaller ID"
// @Success 200 {array} models.Message
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /conversations/{id}/messages [get]
func (s *Server) ListMessages(c *fiber.Ctx) error {
	userID, _ := currentUserID(c)
	convID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	limit := c.QueryInt("limit", service.DefaultMessagePageSize)
	before := c.QueryInt("before", 0)
	if before < 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid before cursor"))
	}

	msgs, err := s.messageService.List(c.UserContext(), convID, userID, limit, uint(before))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(msgs)
}

// ListContacts handles GET /api/contacts
// @Summary List contacts
// @Tags contacts
// @Produce json
// @Success 200 {array} models.User
// @Security BearerAuth
// @Router /contacts [get]
func (s *Server) ListContacts(c *fiber.Ctx) error {
	userID, _ := currentUserID(c)
	users, err := s.contactService.ListContacts(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(users)
}

// ListSentRequests handles GET /api/contacts/pending/sent
func (s *Server) ListSentRequests(c *fiber.Ctx) error {
	userID, _ := currentUserID(c)
	rels, err := s.contactService.ListSentPending(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rels)
}

// ListReceivedRequests handles GET /api/contacts/pending/received
func (s *Server) ListReceivedRequests(c *fiber.Ctx) error {
	userID, _ := currentUserID(c)
	rels, err := s.contactService.ListReceivedPending(c.UserContext(), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rels)
}

type contactStatusResponse struct {
	Status       string                      `json:"status"`
	Relationship *models.ContactRelationship `json:"relationship,omitempty"`
}

// GetContactStatus handles GET /api/contacts/status/:userId
// @Summary Get the relationship with another user
// @Tags contacts
// @Produce json
// @Param userId path int true "Other user ID"
// @Success 200 {object} contactStatusResponse
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /contacts/status/{userId} [get]
func (s *Server) GetContactStatus(c *fiber.Ctx) error {
	userID, _ := currentUserID(c)
	otherID, err := parseID(c, "userId")
	if err != nil {
		return nil
	}
	status, rel, err := s.contactService.StatusBetween(c.UserContext(), userID, otherID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(contactStatusResponse{Status: status, Relationship: rel})
}

// GetOnlineUsers handles GET /api/users/online
func (s *Server) GetOnlineUsers(c *fiber.Ctx) error {
	return c.JSON(onlineUsersPayload{UserIDs: s.presence.SnapshotOnlineUsers(c.UserContext())})
}

// GetEventCatalog handles GET /protocol/events
func (s *Server) GetEventCatalog(c *fiber.Ctx) error {
	return c.JSON(s.events)
}
