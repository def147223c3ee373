package handler

import (
	"context"
	"net/http"

	bookredis "bookdesk/internal/redis"
	"bookdesk/internal/services"
	"bookdesk/internal/transport/httpdto"
	bookdesk_errors "bookdesk/pkg/errors"

	"github.com/gin-gonic/gin"
)

// PresenceReader reports the userStatus of a user.
type PresenceReader interface {
	GetPresence(ctx context.Context, userID string) (*bookredis.PresenceStatus, error)
}

type UserHandler struct {
	service  *services.UserService
	presence PresenceReader
}

func NewUserHandler(service *services.UserService, presence PresenceReader) *UserHandler {
	return &UserHandler{service: service, presence: presence}
}

func (h *UserHandler) Me(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	u, err := h.service.GetByID(c.Request.Context(), caller.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromUser(u)))
}

func (h *UserHandler) ListAdmins(c *gin.Context) {
	admins, err := h.service.ListAdmins(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromUsers(admins)))
}

// Presence is visible to the user themself and to admins.
func (h *UserHandler) Presence(c *gin.Context) {
	caller, ok := callerOf(c)
	if !ok {
		return
	}
	userID, err := parseUUID(c.Param("userID"))
	if err != nil {
		badRequest(c, "invalid user id")
		return
	}
	if userID != caller.UserID && !caller.Role.Privileged() {
		respondError(c, bookdesk_errors.Forbidden("presence of other users is restricted to admins"))
		return
	}
	if h.presence == nil {
		respondError(c, bookdesk_errors.New(bookdesk_errors.CodeServiceUnavailable, "presence is not available"))
		return
	}
	status, err := h.presence.GetPresence(c.Request.Context(), userID.String())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(status))
}
