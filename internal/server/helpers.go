// Package server exposes the chat core over a websocket gateway and a small
// set of HTTP read projections.
package server

import (
	"errors"
	"strings"
	"unicode"

	"huddle/internal/models"
	"huddle/internal/observability"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten means a helper already committed the response. Handlers
// return nil when they see it so the ErrorHandler leaves the body alone.
var errResponseWritten = errors.New("response already written")

// parseID extracts a route parameter as a positive uint, writing a 400 on failure.
func parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := c.ParamsInt(param)
	if err != nil || id <= 0 {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid "+humanizeParam(param)))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// humanizeParam converts a route param name into a label: "id" -> "ID",
// "userId" -> "user ID".
func humanizeParam(param string) string {
	if param == "id" {
		return "ID"
	}
	if strings.HasSuffix(param, "Id") {
		words := splitCamel(param[:len(param)-2])
		return strings.ToLower(strings.Join(words, " ")) + " ID"
	}
	return param
}

func splitCamel(s string) []string {
	var words []string
	start := 0
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			words = append(words, s[start:i])
			start = i
		}
	}
	return append(words, s[start:])
}

// currentUserID returns the id stored by the auth middleware.
func currentUserID(c *fiber.Ctx) (uint, bool) {
	id, ok := c.Locals("userID").(uint)
	return id, ok && id != 0
}

// respondError writes err with the status its code maps to.
func respondError(c *fiber.Ctx, err error) error {
	status := models.HTTPStatus(err)
	if status == fiber.StatusInternalServerError {
		observability.Logger.ErrorContext(c.UserContext(), "request failed",
			"path", c.Path(), "error", err)
	}
	return models.RespondWithError(c, status, err)
}
